package media

import (
	"context"
	"sync/atomic"

	"confload/internal/core/domain"
	"confload/internal/core/ports"
)

// nullAnswerSDP is the static descriptor a null engine answers with:
// a session that declares no media at all.
const nullAnswerSDP = "v=0\r\no=- 0 0 IN IP4 0.0.0.0\r\ns=confload-null\r\nt=0 0\r\n"

// NullEngine accepts sessions without sending or receiving a single
// packet, for pure signaling load.
type NullEngine struct {
	active atomic.Bool
}

func NewNullEngine() *NullEngine {
	return &NullEngine{}
}

// Activate answers with an empty media description.
func (e *NullEngine) Activate(ctx context.Context, offer ports.SessionDescriptor) (ports.SessionDescriptor, error) {
	if !e.active.CompareAndSwap(false, true) {
		return ports.SessionDescriptor{}, domain.ErrAlreadyActive
	}
	return ports.SessionDescriptor{SessionID: offer.SessionID, SDP: nullAnswerSDP}, nil
}

func (e *NullEngine) Deactivate() error {
	e.active.Store(false)
	return nil
}

// Stats always reports zero counters.
func (e *NullEngine) Stats() domain.MediaCounters {
	return domain.MediaCounters{}
}
