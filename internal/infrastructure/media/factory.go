package media

import (
	"fmt"
	"time"

	"confload/internal/core/ports"

	"go.uber.org/zap"
)

// Media policies selectable through configuration.
const (
	PolicySynthetic = "synthetic"
	PolicyNull      = "null"
)

// Config holds the media engine settings shared by the whole fleet.
type Config struct {
	Policy        string
	FrameInterval time.Duration
	VideoBitrate  int
}

// Factory builds one media engine per virtual user according to the
// configured policy.
type Factory struct {
	cfg    Config
	logger *zap.SugaredLogger
}

// NewFactory validates the policy up front so a typo fails the run
// before any user starts.
func NewFactory(cfg Config, logger *zap.SugaredLogger) (*Factory, error) {
	switch cfg.Policy {
	case PolicySynthetic, PolicyNull:
	default:
		return nil, fmt.Errorf("unknown media policy %q", cfg.Policy)
	}
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = 20 * time.Millisecond
	}
	return &Factory{cfg: cfg, logger: logger}, nil
}

// NewEngine implements ports.MediaEngineFactory.
func (f *Factory) NewEngine(nickname string) ports.MediaEngine {
	if f.cfg.Policy == PolicyNull {
		return NewNullEngine()
	}
	return NewSyntheticEngine(f.cfg, f.logger.With("nickname", nickname))
}
