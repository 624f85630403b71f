package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zoobzio/xwalk"
	"github.com/zoobzio/xwalk/internal/store"
)

func newAlertsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "Inspect and record hazard alerts",
	}
	cmd.AddCommand(newAlertsListCmd(a), newAlertsAddCmd(a))
	return cmd
}

func newAlertsListCmd(a *app) *cobra.Command {
	var (
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored alerts, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sink, err := store.Open(ctx, a.cfg.Store.Path, a.logger)
			if err != nil {
				return err
			}
			defer sink.Close()

			alerts, err := sink.List(ctx, limit)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(a.stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(alerts)
			}

			tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tCROSSWALK\tSOURCE\tLED\tOBJECTS\tIMAGE")
			for _, al := range alerts {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%d\t%s\n",
					al.Timestamp.Local().Format(time.DateTime),
					al.CrosswalkID, al.Source, al.LEDActivated,
					al.DetectedObjectsCount, al.ImageURL)
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			total, err := sink.Count(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "%d of %d alerts\n", len(alerts), total)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum number of alerts to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print alerts as JSON")
	return cmd
}

func newAlertsAddCmd(a *app) *cobra.Command {
	var (
		crosswalkID string
		imageURL    string
		description string
		distance    float64
		objects     int
		led         bool
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Record an alert manually",
		Long: `Stores an alert the way a field device or operator would report it.
Unlike engine alerts, nothing is assumed about LED activation or object
count unless given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sink, err := store.Open(ctx, a.cfg.Store.Path, a.logger)
			if err != nil {
				return err
			}
			defer sink.Close()

			alert := xwalk.Alert{
				CrosswalkID:          crosswalkID,
				ImageURL:             imageURL,
				Description:          description,
				DetectionDistance:    distance,
				DetectedObjectsCount: objects,
				LEDActivated:         led,
				IsHazard:             true,
				Source:               xwalk.SourceManual,
				Timestamp:            time.Now(),
			}
			if err := sink.Persist(ctx, alert); err != nil {
				return err
			}
			a.logger.Info("alert logged", zap.String("crosswalk_id", crosswalkID))
			fmt.Fprintln(a.stdout, "alert stored")
			return nil
		},
	}
	cmd.Flags().StringVar(&crosswalkID, "crosswalk", "", "crosswalk id (required)")
	cmd.Flags().StringVar(&imageURL, "image", "", "image URL")
	cmd.Flags().StringVar(&description, "description", "", "free-text description")
	cmd.Flags().Float64Var(&distance, "distance", 0, "detection distance in meters")
	cmd.Flags().IntVar(&objects, "objects", 1, "number of detected objects")
	cmd.Flags().BoolVar(&led, "led", false, "whether the crosswalk LED was activated")
	_ = cmd.MarkFlagRequired("crosswalk")
	return cmd
}
