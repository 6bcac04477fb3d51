package sink

import (
	"confload/internal/core/ports"

	"go.uber.org/zap"
)

// TeeSink fans every record out to several sinks. The file sink stays
// authoritative: a secondary sink's write failure is logged, not
// returned, so a flaky publisher never poisons the local record.
type TeeSink struct {
	primary   ports.StatsSink
	secondary []ports.StatsSink
	logger    *zap.SugaredLogger
}

func NewTeeSink(logger *zap.SugaredLogger, primary ports.StatsSink, secondary ...ports.StatsSink) *TeeSink {
	return &TeeSink{primary: primary, secondary: secondary, logger: logger}
}

func (s *TeeSink) Write(record interface{}) error {
	err := s.primary.Write(record)
	for _, sec := range s.secondary {
		if serr := sec.Write(record); serr != nil {
			s.logger.Warnw("secondary stats sink write failed", "error", serr)
		}
	}
	return err
}

// Close closes every sink; the first error wins.
func (s *TeeSink) Close() error {
	err := s.primary.Close()
	for _, sec := range s.secondary {
		if serr := sec.Close(); serr != nil {
			s.logger.Warnw("secondary stats sink close failed", "error", serr)
			if err == nil {
				err = serr
			}
		}
	}
	return err
}
