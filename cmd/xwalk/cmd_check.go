package main

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// errCheckFailed keeps check's exit status non-zero without repeating the
// findings already printed.
var errCheckFailed = errors.New("preflight failed")

func newCheckCmd(a *app) *cobra.Command {
	var writeConfig string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Print the resolved configuration and verify the engine can be launched",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := yaml.Marshal(a.cfg)
			if err != nil {
				return fmt.Errorf("failed to marshal config: %w", err)
			}
			fmt.Fprintf(a.stdout, "%s\n", out)

			if writeConfig != "" {
				if err := a.cfg.Save(writeConfig); err != nil {
					return err
				}
				fmt.Fprintf(a.stdout, "config written to %s\n", writeConfig)
			}

			ok := true
			if path, err := exec.LookPath(a.cfg.Engine.Interpreter); err != nil {
				fmt.Fprintf(a.stdout, "interpreter: %s: not found (%v)\n", a.cfg.Engine.Interpreter, err)
				ok = false
			} else {
				fmt.Fprintf(a.stdout, "interpreter: %s\n", path)
			}

			if _, err := os.Stat(a.scriptPath()); err != nil {
				fmt.Fprintf(a.stdout, "script: %s: %v\n", a.cfg.Engine.Script, err)
				ok = false
			} else {
				fmt.Fprintf(a.stdout, "script: %s\n", a.cfg.Engine.Script)
			}

			if !ok {
				return errCheckFailed
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&writeConfig, "write-config", "", "also save the resolved configuration to this path")
	return cmd
}

// scriptPath resolves the engine script against the engine working directory.
func (a *app) scriptPath() string {
	if a.cfg.Engine.Dir == "" || filepath.IsAbs(a.cfg.Engine.Script) {
		return a.cfg.Engine.Script
	}
	return filepath.Join(a.cfg.Engine.Dir, a.cfg.Engine.Script)
}
