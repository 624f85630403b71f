package xwalk

import (
	"context"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Alert sources.
const (
	SourceEngine = "engine"
	SourceManual = "manual"
)

// Router defaults. They reproduce the fixed values the backend has always
// written for engine alerts.
const (
	DefaultCrosswalkID     = "65d8c3f2e4b0a1a2b3c4d5e6"
	DefaultDescription     = "Automatic AI Detection: Person and Car detected simultaneously."
	DefaultImageBase       = "output_images"
	DefaultImagePrefix     = "analyzed_"
	DefaultDetectedObjects = 2
)

// Alert is a persisted hazard record.
type Alert struct {
	Timestamp            time.Time `json:"timestamp"`
	ID                   string    `json:"id"`
	CrosswalkID          string    `json:"crosswalkId"`
	ImageURL             string    `json:"imageUrl"`
	Description          string    `json:"description"`
	Source               string    `json:"source"`
	DetectionDistance    float64   `json:"detectionDistance,omitempty"`
	DetectedObjectsCount int       `json:"detectedObjectsCount"`
	LEDActivated         bool      `json:"ledActivated"`
	IsHazard             bool      `json:"isHazard"`
}

// AlertSink stores alerts. Implementations must be safe for concurrent use;
// no ordering or deduplication is expected.
type AlertSink interface {
	Persist(ctx context.Context, a Alert) error
}

// RouterConfig holds the values stamped onto every engine alert.
type RouterConfig struct {
	CrosswalkID     string `yaml:"crosswalk_id"`
	Description     string `yaml:"description"`
	ImageBase       string `yaml:"image_base"`
	ImagePrefix     string `yaml:"image_prefix"`
	DetectedObjects int    `yaml:"detected_objects"`

	// BareImageNames drops ImagePrefix, so the URL ends in the engine's
	// file name exactly.
	BareImageNames bool `yaml:"bare_image_names"`
}

// DefaultRouterConfig returns the backend's historical alert values.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		CrosswalkID:     DefaultCrosswalkID,
		Description:     DefaultDescription,
		ImageBase:       DefaultImageBase,
		ImagePrefix:     DefaultImagePrefix,
		DetectedObjects: DefaultDetectedObjects,
	}
}

// Router turns decoded engine messages into persisted alerts.
type Router struct {
	sink   AlertSink
	clock  Clock
	logger *zap.Logger
	cfg    RouterConfig
}

// NewRouter returns a Router writing to sink. Empty fields of cfg take the
// Default values. A nil clock selects SystemClock and a nil logger discards
// diagnostics.
func NewRouter(sink AlertSink, cfg RouterConfig, clock Clock, logger *zap.Logger) *Router {
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.CrosswalkID == "" {
		cfg.CrosswalkID = DefaultCrosswalkID
	}
	if cfg.Description == "" {
		cfg.Description = DefaultDescription
	}
	if cfg.ImageBase == "" {
		cfg.ImageBase = DefaultImageBase
	}
	if cfg.ImagePrefix == "" {
		cfg.ImagePrefix = DefaultImagePrefix
	}
	if cfg.BareImageNames {
		cfg.ImagePrefix = ""
	}
	if cfg.DetectedObjects <= 0 {
		cfg.DetectedObjects = DefaultDetectedObjects
	}
	return &Router{sink: sink, cfg: cfg, clock: clock, logger: logger}
}

// Route handles one message. It returns the stored alert for a dangerous
// ANALYSIS_COMPLETE report and (nil, nil) for everything else.
// A sink failure is returned as a *PersistError; it is never swallowed here.
func (r *Router) Route(ctx context.Context, msg Message) (*Alert, error) {
	if msg.Kind != KindAnalysisComplete {
		return nil, nil
	}

	r.logger.Info("analysis complete",
		zap.String("file", msg.File),
		zap.Bool("dangerous", msg.IsDangerous))

	if !msg.IsDangerous {
		return nil, nil
	}

	alert := r.hazardAlert(msg.File)
	if err := r.sink.Persist(ctx, alert); err != nil {
		return nil, &PersistError{Alert: alert, Err: err}
	}

	r.logger.Info("hazard alert saved",
		zap.String("alert_id", alert.ID),
		zap.String("image_url", alert.ImageURL))
	return &alert, nil
}

func (r *Router) hazardAlert(file string) Alert {
	return Alert{
		ID:                   uuid.NewString(),
		CrosswalkID:          r.cfg.CrosswalkID,
		ImageURL:             imageURL(r.cfg.ImageBase, r.cfg.ImagePrefix+file),
		Description:          r.cfg.Description,
		IsHazard:             true,
		LEDActivated:         true,
		DetectedObjectsCount: r.cfg.DetectedObjects,
		Timestamp:            r.clock.Now(),
		Source:               SourceEngine,
	}
}

// imageURL joins base and name. A base that cannot be parsed as a URL is
// joined as a plain path.
func imageURL(base, name string) string {
	if base == "" {
		return name
	}
	joined, err := url.JoinPath(base, name)
	if err != nil {
		return base + "/" + name
	}
	return joined
}
