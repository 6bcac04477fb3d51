package services

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"confload/internal/core/domain"
	"confload/internal/core/ports"
	"confload/pkg/errors"

	"go.uber.org/zap"
)

// VirtualUser is one simulated client: it owns a session state machine
// and delegates signaling and media work to its collaborators. The
// orchestrator owns its lifecycle; after Start returns the user's
// signaling events and media activity proceed on their own.
type VirtualUser struct {
	nickname  string
	index     int
	host      domain.HostInfo
	signaling ports.SignalingClient
	media     ports.MediaEngine

	mu    sync.Mutex
	state domain.UserState

	// snapshot is the only cross-boundary shared write: published whole
	// so the stats collector never reads a half-updated record.
	snapshot atomic.Pointer[domain.UserStats]

	pumpWg   sync.WaitGroup
	stopOnce sync.Once

	logger *zap.SugaredLogger
}

// NewVirtualUser builds an idle user. The collaborators are owned by
// the user from here on.
func NewVirtualUser(
	nickname string,
	index int,
	host domain.HostInfo,
	signaling ports.SignalingClient,
	media ports.MediaEngine,
	logger *zap.SugaredLogger,
) *VirtualUser {
	u := &VirtualUser{
		nickname:  nickname,
		index:     index,
		host:      host,
		signaling: signaling,
		media:     media,
		state:     domain.StateIdle,
		logger:    logger.With("nickname", nickname),
	}
	u.publish(domain.StateIdle, "")
	return u
}

// Nickname returns the user's derived identity.
func (u *VirtualUser) Nickname() string {
	return u.nickname
}

// State returns the current lifecycle state.
func (u *VirtualUser) State() domain.UserState {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state
}

// Start drives Idle -> Connecting -> JoinedRoom on the calling flow.
// A nil credential logs in anonymously. On success the event pump is
// running and later invitations are handled asynchronously.
func (u *VirtualUser) Start(ctx context.Context, cred *domain.Credential) error {
	if !u.transition(domain.StateConnecting, "") {
		return errors.NewProtocolError("start rejected", domain.ErrUserTerminal).
			WithContext("nickname", u.nickname)
	}
	if cred != nil {
		u.logger.Infow("starting virtual user", "login", "credentialed", "username", cred.Username)
	} else {
		u.logger.Infow("starting virtual user", "login", "anonymous")
	}

	if err := u.signaling.Connect(ctx, cred); err != nil {
		u.fail("connect: " + err.Error())
		return errors.NewConnectionError("signaling connect failed", err).
			WithContext("nickname", u.nickname)
	}

	if err := u.signaling.JoinRoom(ctx, u.nickname); err != nil {
		u.fail("join room: " + err.Error())
		// Release the half-open session; the fleet start is aborting.
		if derr := u.signaling.Disconnect(); derr != nil {
			u.logger.Debugw("disconnect after failed join", "error", derr)
		}
		return errors.NewProtocolError("room join failed", err).
			WithContext("nickname", u.nickname)
	}

	u.transition(domain.StateJoinedRoom, "")

	u.pumpWg.Add(1)
	go u.pumpEvents(ctx)

	return nil
}

// CreateConference asks the signaling layer to provision the conference
// through the focus identity. Only the first successfully started user
// performs this.
func (u *VirtualUser) CreateConference(ctx context.Context, focus string) error {
	if err := u.signaling.CreateConference(ctx, focus); err != nil {
		return errors.NewProtocolError("conference creation failed", err).
			WithContext("nickname", u.nickname).
			WithContext("focus", focus)
	}
	u.logger.Infow("conference created", "focus", focus)
	return nil
}

// Stop moves the user to Stopped from any non-terminal state, tearing
// down the media session first and the signaling session second. Safe
// to call concurrently with in-flight signaling events; disconnecting
// closes the event stream, which unblocks the pump even mid-negotiation.
func (u *VirtualUser) Stop() error {
	var err error
	u.stopOnce.Do(func() {
		u.transition(domain.StateStopped, "")

		if mediaErr := u.media.Deactivate(); mediaErr != nil {
			u.logger.Warnw("media deactivate failed during stop", "error", mediaErr)
			err = errors.NewMediaError("media deactivate failed", mediaErr)
		}
		if sigErr := u.signaling.Disconnect(); sigErr != nil {
			u.logger.Warnw("signaling disconnect failed during stop", "error", sigErr)
			if err == nil {
				err = errors.NewProtocolError("signaling disconnect failed", sigErr)
			}
		}

		u.pumpWg.Wait()

		// An invitation that was mid-activation when the teardown above
		// ran completes only now; release whatever it acquired.
		if mediaErr := u.media.Deactivate(); mediaErr != nil {
			u.logger.Warnw("media deactivate failed after pump drain", "error", mediaErr)
		}
		u.logger.Info("virtual user stopped")
	})
	return err
}

// Snapshot implements ports.StatsProvider. The last published snapshot
// is overlaid with the engine's live counters; both sides are copies,
// so the collector never sees torn data.
func (u *VirtualUser) Snapshot() domain.UserStats {
	snap := u.snapshot.Load()
	if snap == nil {
		return domain.UserStats{Nickname: u.nickname, State: domain.StateIdle, UpdatedAt: time.Now()}
	}
	s := *snap
	s.Media = u.media.Stats()
	return s
}

// pumpEvents consumes the signaling event stream until it closes.
// Post-ramp-up failures are local: they park the user in Failed and
// never abort the fleet.
func (u *VirtualUser) pumpEvents(ctx context.Context) {
	defer u.pumpWg.Done()

	for ev := range u.signaling.Events() {
		switch ev.Type {
		case ports.EventInvite:
			u.handleInvite(ctx, ev.Descriptor)
		case ports.EventTeardown:
			u.handleTeardown()
		case ports.EventError:
			if ev.Err != nil {
				u.fail("session error: " + ev.Err.Error())
			}
		}
	}
}

func (u *VirtualUser) handleInvite(ctx context.Context, offer ports.SessionDescriptor) {
	if !u.transition(domain.StateNegotiating, "") {
		return
	}
	u.logger.Debugw("session invitation received", "session_id", offer.SessionID)

	answer, err := u.media.Activate(ctx, offer)
	if err != nil {
		u.fail("media activate: " + err.Error())
		return
	}
	if err := u.signaling.Accept(ctx, answer); err != nil {
		if derr := u.media.Deactivate(); derr != nil {
			u.logger.Warnw("media deactivate failed after rejected accept", "error", derr)
		}
		u.fail("session accept: " + err.Error())
		return
	}

	if !u.transition(domain.StateStreaming, "") {
		// Stop won the race mid-negotiation; the session it could not
		// see yet still has to be released.
		if derr := u.media.Deactivate(); derr != nil {
			u.logger.Warnw("media deactivate failed after stopped negotiation", "error", derr)
		}
		return
	}
	u.logger.Infow("streaming", "session_id", offer.SessionID)
}

func (u *VirtualUser) handleTeardown() {
	if err := u.media.Deactivate(); err != nil {
		u.logger.Warnw("media deactivate failed on teardown", "error", err)
	}
	// Back to the room, awaiting the next invitation.
	u.transition(domain.StateJoinedRoom, "")
	u.logger.Info("session torn down")
}

// transition moves to the target state unless the user is already
// terminal. Returns whether the transition happened.
func (u *VirtualUser) transition(to domain.UserState, reason string) bool {
	u.mu.Lock()
	if u.state.Terminal() {
		u.mu.Unlock()
		return false
	}
	from := u.state
	u.state = to
	u.mu.Unlock()

	u.publish(to, reason)
	if from != to {
		u.logger.Debugw("state transition", "from", from.String(), "to", to.String())
	}
	return true
}

func (u *VirtualUser) fail(reason string) {
	if u.transition(domain.StateFailed, reason) {
		u.logger.Warnw("virtual user failed", "reason", reason)
	}
}

// publish swaps in a fresh whole snapshot for concurrent readers.
func (u *VirtualUser) publish(state domain.UserState, reason string) {
	snap := &domain.UserStats{
		Nickname:      u.nickname,
		State:         state,
		Media:         u.media.Stats(),
		FailureReason: reason,
		UpdatedAt:     time.Now(),
	}
	u.snapshot.Store(snap)
}
