package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"confload/internal/core/domain"
	"confload/internal/core/ports"

	"go.uber.org/zap"
)

func testLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

// fakeSignalingClient is a scriptable in-memory signaling session.
type fakeSignalingClient struct {
	mu sync.Mutex

	connectErr error
	joinErr    error
	acceptErr  error
	confErr    error

	connected      bool
	connectedAt    time.Time
	joined         bool
	joinedIdentity string
	usedCred       *domain.Credential
	confCreated    bool
	accepted       []ports.SessionDescriptor

	events    chan ports.SessionEvent
	closeOnce sync.Once
}

func newFakeSignaling() *fakeSignalingClient {
	return &fakeSignalingClient{events: make(chan ports.SessionEvent, 8)}
}

func (f *fakeSignalingClient) Connect(ctx context.Context, cred *domain.Credential) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	f.connectedAt = time.Now()
	f.usedCred = cred
	return nil
}

func (f *fakeSignalingClient) JoinRoom(ctx context.Context, identity string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.joinErr != nil {
		return f.joinErr
	}
	if !f.connected {
		return domain.ErrNotConnected
	}
	f.joined = true
	f.joinedIdentity = identity
	return nil
}

func (f *fakeSignalingClient) CreateConference(ctx context.Context, focus string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.confErr != nil {
		return f.confErr
	}
	f.confCreated = true
	return nil
}

func (f *fakeSignalingClient) Accept(ctx context.Context, answer ports.SessionDescriptor) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.acceptErr != nil {
		return f.acceptErr
	}
	f.accepted = append(f.accepted, answer)
	return nil
}

func (f *fakeSignalingClient) Events() <-chan ports.SessionEvent {
	return f.events
}

func (f *fakeSignalingClient) Disconnect() error {
	f.closeOnce.Do(func() { close(f.events) })
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	return nil
}

// invite pushes a session invitation event.
func (f *fakeSignalingClient) invite(sessionID string) {
	f.events <- ports.SessionEvent{
		Type:       ports.EventInvite,
		Descriptor: ports.SessionDescriptor{SessionID: sessionID, SDP: "v=0 offer"},
	}
}

func (f *fakeSignalingClient) teardown() {
	f.events <- ports.SessionEvent{Type: ports.EventTeardown}
}

func (f *fakeSignalingClient) sessionError(err error) {
	f.events <- ports.SessionEvent{Type: ports.EventError, Err: err}
}

// fakeMediaEngine counts activations and fabricates counters.
type fakeMediaEngine struct {
	activateErr error

	active      atomic.Bool
	activations atomic.Int64
	packetsSent atomic.Uint64
	bytesSent   atomic.Uint64
}

func (f *fakeMediaEngine) Activate(ctx context.Context, offer ports.SessionDescriptor) (ports.SessionDescriptor, error) {
	if f.activateErr != nil {
		return ports.SessionDescriptor{}, f.activateErr
	}
	f.active.Store(true)
	f.activations.Add(1)
	return ports.SessionDescriptor{SessionID: offer.SessionID, SDP: "v=0 answer"}, nil
}

func (f *fakeMediaEngine) Deactivate() error {
	f.active.Store(false)
	return nil
}

func (f *fakeMediaEngine) Stats() domain.MediaCounters {
	return domain.MediaCounters{
		PacketsSent: f.packetsSent.Load(),
		BytesSent:   f.bytesSent.Load(),
	}
}

type fakeMediaFactory struct {
	mu      sync.Mutex
	engines map[string]*fakeMediaEngine
}

func newFakeMediaFactory() *fakeMediaFactory {
	return &fakeMediaFactory{engines: make(map[string]*fakeMediaEngine)}
}

func (f *fakeMediaFactory) NewEngine(nickname string) ports.MediaEngine {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := &fakeMediaEngine{}
	f.engines[nickname] = e
	return e
}

// memorySink records every written record.
type memorySink struct {
	mu      sync.Mutex
	records []interface{}
	closed  bool
}

func (s *memorySink) Write(record interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("sink closed")
	}
	s.records = append(s.records, record)
	return nil
}

func (s *memorySink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *memorySink) Records() []interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]interface{}, len(s.records))
	copy(out, s.records)
	return out
}

func (s *memorySink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// fleetHarness bundles a fleet with its scripted collaborators.
type fleetHarness struct {
	orch      *FleetOrchestrator
	signaling map[string]*fakeSignalingClient
	media     *fakeMediaFactory
	collector *StatsCollector
	sink      *memorySink
}

func newFleetHarness(n int, host domain.HostInfo, withStats bool) (*fleetHarness, error) {
	return buildFleetHarness(n, host, withStats, false)
}

func buildFleetHarness(n int, host domain.HostInfo, withStats, abortOnPacingInterrupt bool) (*fleetHarness, error) {
	h := &fleetHarness{
		signaling: make(map[string]*fakeSignalingClient),
		media:     newFakeMediaFactory(),
	}

	factory := func(nickname string) ports.SignalingClient {
		c := newFakeSignaling()
		h.signaling[nickname] = c
		return c
	}

	if withStats {
		h.sink = &memorySink{}
		h.collector = NewStatsCollector(h.sink, nil, testLogger())
	}

	orch, err := NewFleetOrchestrator(
		host, factory, h.media, "loaduser", n, h.collector, abortOnPacingInterrupt, testLogger())
	if err != nil {
		return nil, err
	}
	h.orch = orch
	return h, nil
}

// waitForState polls until the user reaches the state or the deadline
// passes.
func waitForState(u *VirtualUser, want domain.UserState, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if u.State() == want {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return u.State() == want
}
