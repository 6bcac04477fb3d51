package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"confload/internal/core/domain"
	"confload/internal/core/ports"
	"confload/pkg/errors"
	"confload/pkg/tracing"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// SignalingClientFactory builds one signaling session per virtual user.
type SignalingClientFactory func(nickname string) ports.SignalingClient

// FleetOrchestrator owns a fixed, ordered fleet of virtual users and
// drives their paced start-up and shutdown as a single serialized
// start/stop protocol. The fleet lives for exactly one cycle.
type FleetOrchestrator struct {
	host         domain.HostInfo
	nicknameBase string
	users        []*VirtualUser
	collector    *StatsCollector // nil when stats are disabled

	// Interrupted pacing continues ramp-up by default; this flips the
	// policy to abort instead.
	abortOnPacingInterrupt bool

	lifecycleMu sync.Mutex
	started     bool
	stopped     bool

	logger *zap.SugaredLogger
}

// NewFleetOrchestrator deterministically builds exactly n users with
// nicknames "<base>_0" .. "<base>_(n-1)". The collector may be nil when
// stats are disabled; its sink must already be open otherwise.
func NewFleetOrchestrator(
	host domain.HostInfo,
	newSignaling SignalingClientFactory,
	mediaFactory ports.MediaEngineFactory,
	nicknameBase string,
	n int,
	collector *StatsCollector,
	abortOnPacingInterrupt bool,
	logger *zap.SugaredLogger,
) (*FleetOrchestrator, error) {
	if n < 1 {
		return nil, errors.NewConfigurationError(
			fmt.Sprintf("fleet needs at least 1 user, got %d", n))
	}

	users := make([]*VirtualUser, 0, n)
	for i := 0; i < n; i++ {
		nickname := fmt.Sprintf("%s_%d", nicknameBase, i)
		users = append(users, NewVirtualUser(
			nickname,
			i,
			host,
			newSignaling(nickname),
			mediaFactory.NewEngine(nickname),
			logger,
		))
	}

	logger.Infow("fleet created",
		"users", n,
		"nickname_base", nicknameBase,
		"room", host.RoomAddress,
	)

	return &FleetOrchestrator{
		host:                   host,
		nicknameBase:           nicknameBase,
		users:                  users,
		collector:              collector,
		abortOnPacingInterrupt: abortOnPacingInterrupt,
		logger:                 logger,
	}, nil
}

// Users exposes the fixed fleet for read-only inspection (status
// endpoint, tests). The slice is never mutated after construction.
func (o *FleetOrchestrator) Users() []*VirtualUser {
	return o.users
}

// Started reports whether ramp-up completed and the fleet is running.
func (o *FleetOrchestrator) Started() bool {
	o.lifecycleMu.Lock()
	defer o.lifecycleMu.Unlock()
	return o.started
}

// Start performs the paced, sequential ramp-up. Credentials, when
// supplied, are assigned positionally and must cover every user; nil
// credentials means anonymous login for all. A signaling failure while
// starting any user aborts the remaining ramp-up and is returned to
// the caller, which decides process termination once, at the top level.
// Calling Start on a fleet that is already started (or already spent)
// logs a warning and changes nothing.
func (o *FleetOrchestrator) Start(
	ctx context.Context,
	pacing time.Duration,
	credentials []domain.Credential,
	statsCfg StatsConfig,
) error {
	o.lifecycleMu.Lock()
	defer o.lifecycleMu.Unlock()

	if o.stopped {
		o.logger.Warn("fleet already spent, ignoring start")
		return nil
	}
	if o.started {
		o.logger.Warn("fleet already started")
		return nil
	}

	if pacing < time.Millisecond {
		pacing = time.Millisecond
	}
	if credentials != nil && len(credentials) < len(o.users) {
		// The collector's sink is already open; release it like any
		// other ramp-up failure.
		o.abortRampUp(0)
		return errors.NewConfigurationError(
			fmt.Sprintf("%d credentials for %d users; every user needs one",
				len(credentials), len(o.users)))
	}

	if credentials != nil {
		o.logger.Infow("starting fleet with credentialed login", "users", len(o.users), "pacing", pacing)
	} else {
		o.logger.Infow("starting fleet with anonymous login", "users", len(o.users), "pacing", pacing)
	}

	ctx, rampSpan := tracing.TraceRampUp(ctx, o.host.RoomAddress, len(o.users))
	defer rampSpan.End()

	// One token up front so the limiter enforces the gap between
	// consecutive users, not a delay before the first one.
	limiter := rate.NewLimiter(rate.Every(pacing), 1)
	limiter.Allow()

	for i, user := range o.users {
		var cred *domain.Credential
		if credentials != nil {
			cred = &credentials[i]
		}

		uctx, span := tracing.TraceUserStart(ctx, user.Nickname(), i)
		if err := user.Start(uctx, cred); err != nil {
			tracing.RecordError(uctx, err)
			span.End()
			o.logger.Errorw("ramp-up aborted: user failed to start",
				"nickname", user.Nickname(), "index", i, "error", err)
			o.abortRampUp(i)
			return err
		}

		// The first user provisions the conference before anyone else
		// joins it.
		if i == 0 && o.host.HasFocus() {
			if err := user.CreateConference(uctx, o.host.Focus); err != nil {
				tracing.RecordError(uctx, err)
				span.End()
				o.logger.Errorw("ramp-up aborted: conference creation failed", "error", err)
				o.abortRampUp(i + 1)
				return err
			}
		}

		if o.collector != nil {
			o.collector.Register(user)
		}
		span.End()

		if err := limiter.Wait(ctx); err != nil {
			if o.abortOnPacingInterrupt {
				o.logger.Warnw("pacing interrupted, aborting ramp-up", "error", err)
				o.abortRampUp(i + 1)
				return errors.Wrap(err, errors.KindConnection, "ramp-up pacing interrupted")
			}
			o.logger.Warnw("pacing interrupted, continuing ramp-up", "error", err)
		}
	}

	o.started = true
	o.logger.Info("fleet started")

	if o.collector != nil {
		o.collector.Start(statsCfg)
	}
	return nil
}

// abortRampUp releases whatever a failed ramp-up already acquired:
// the users started so far and the collector's sink. The process is
// about to exit with a fatal error either way.
func (o *FleetOrchestrator) abortRampUp(startedUsers int) {
	for i := 0; i < startedUsers && i < len(o.users); i++ {
		if err := o.users[i].Stop(); err != nil {
			o.logger.Warnw("user stop failed during ramp-up abort",
				"nickname", o.users[i].Nickname(), "error", err)
		}
	}
	if o.collector != nil {
		if err := o.collector.Stop(); err != nil {
			o.logger.Warnw("stats collector stop failed during ramp-up abort", "error", err)
		}
	}
	o.stopped = true
}

// Stop signals every user to stop, best-effort, then stops the stats
// collector and blocks until its schedule has drained and the sink is
// closed. Safe to call even if some users never reached streaming;
// a no-op with a warning when the fleet was never started.
func (o *FleetOrchestrator) Stop() error {
	o.lifecycleMu.Lock()
	defer o.lifecycleMu.Unlock()

	if !o.started {
		o.logger.Warn("fleet not started, nothing to stop")
		return nil
	}

	o.logger.Infow("stopping fleet", "users", len(o.users))
	for _, user := range o.users {
		if err := user.Stop(); err != nil {
			// Best-effort: one user's stop failure never blocks the rest.
			o.logger.Warnw("user stop failed", "nickname", user.Nickname(), "error", err)
		}
	}

	var err error
	if o.collector != nil {
		o.logger.Info("stopping stats collector and waiting for its schedule to drain")
		err = o.collector.Stop()
	}

	o.started = false
	o.stopped = true
	o.logger.Info("fleet stopped")
	return err
}
