package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"confload/internal/core/domain"
	harnesserr "confload/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testHost = domain.HostInfo{Domain: "srv.example.com", RoomAddress: "room"}

func TestNewFleetOrchestrator_BuildsIndexedNicknames(t *testing.T) {
	for _, n := range []int{1, 3, 10} {
		h, err := newFleetHarness(n, testHost, false)
		require.NoError(t, err)

		users := h.orch.Users()
		require.Len(t, users, n)
		for i, u := range users {
			assert.Equal(t, fmt.Sprintf("loaduser_%d", i), u.Nickname())
			assert.Equal(t, domain.StateIdle, u.State())
		}
	}
}

func TestNewFleetOrchestrator_RejectsZeroUsers(t *testing.T) {
	_, err := newFleetHarness(0, testHost, false)
	require.Error(t, err)
	assert.Equal(t, harnesserr.KindConfiguration, harnesserr.KindOf(err))
}

func TestStart_AnonymousFleetStartsAllUsers(t *testing.T) {
	h, err := newFleetHarness(3, testHost, false)
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, h.orch.Start(context.Background(), 100*time.Millisecond, nil, StatsConfig{}))
	elapsed := time.Since(start)

	// Pacing between 3 users plus the trailing wait.
	assert.GreaterOrEqual(t, elapsed, 200*time.Millisecond)
	assert.True(t, h.orch.Started())

	for _, u := range h.orch.Users() {
		assert.Equal(t, domain.StateJoinedRoom, u.State())
		assert.Nil(t, h.signaling[u.Nickname()].usedCred)
	}

	require.NoError(t, h.orch.Stop())
	for _, u := range h.orch.Users() {
		assert.Equal(t, domain.StateStopped, u.State())
	}
}

func TestStart_PacingKeepsUsersApart(t *testing.T) {
	h, err := newFleetHarness(3, testHost, false)
	require.NoError(t, err)

	pacing := 80 * time.Millisecond
	require.NoError(t, h.orch.Start(context.Background(), pacing, nil, StatsConfig{}))
	defer h.orch.Stop()

	users := h.orch.Users()
	for i := 0; i < len(users)-1; i++ {
		a := h.signaling[users[i].Nickname()].connectedAt
		b := h.signaling[users[i+1].Nickname()].connectedAt
		assert.GreaterOrEqual(t, b.Sub(a), pacing,
			"gap between user %d and %d below pacing", i, i+1)
	}
}

func TestStart_PositionalCredentialAssignment(t *testing.T) {
	h, err := newFleetHarness(3, testHost, false)
	require.NoError(t, err)

	creds := []domain.Credential{
		{Username: "u0", Password: "p0"},
		{Username: "u1", Password: "p1"},
		{Username: "u2", Password: "p2"},
	}
	require.NoError(t, h.orch.Start(context.Background(), time.Millisecond, creds, StatsConfig{}))
	defer h.orch.Stop()

	for i, u := range h.orch.Users() {
		used := h.signaling[u.Nickname()].usedCred
		require.NotNil(t, used)
		assert.Equal(t, fmt.Sprintf("u%d", i), used.Username)
	}
}

func TestStart_InsufficientCredentialsIsConfigurationError(t *testing.T) {
	h, err := newFleetHarness(2, testHost, false)
	require.NoError(t, err)

	creds := []domain.Credential{{Username: "only-one"}}
	err = h.orch.Start(context.Background(), time.Millisecond, creds, StatsConfig{})
	require.Error(t, err)
	assert.Equal(t, harnesserr.KindConfiguration, harnesserr.KindOf(err))

	// No user may have left idle.
	for _, u := range h.orch.Users() {
		assert.Equal(t, domain.StateIdle, u.State())
	}
	assert.False(t, h.orch.Started())
}

func TestStart_InsufficientCredentialsClosesSink(t *testing.T) {
	h, err := newFleetHarness(2, testHost, true)
	require.NoError(t, err)

	creds := []domain.Credential{{Username: "only-one"}}
	err = h.orch.Start(context.Background(), time.Millisecond, creds, StatsConfig{})
	require.Error(t, err)
	assert.True(t, h.sink.Closed(),
		"the already-open sink is released on a configuration failure")
}

func TestStart_PacingInterruptContinuesByDefault(t *testing.T) {
	h, err := newFleetHarness(3, testHost, false)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// The canceled context interrupts every pacing wait; the default
	// policy logs and keeps ramping up. An hour of pacing proves the
	// interrupted waits are skipped, not served.
	require.NoError(t, h.orch.Start(ctx, time.Hour, nil, StatsConfig{}))
	assert.True(t, h.orch.Started())
	for _, u := range h.orch.Users() {
		assert.Equal(t, domain.StateJoinedRoom, u.State())
	}

	require.NoError(t, h.orch.Stop())
}

func TestStart_PacingInterruptAbortsWhenConfigured(t *testing.T) {
	h, err := buildFleetHarness(3, testHost, false, true)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = h.orch.Start(ctx, time.Hour, nil, StatsConfig{})
	require.Error(t, err)
	assert.Equal(t, harnesserr.KindConnection, harnesserr.KindOf(err))
	assert.False(t, h.orch.Started())

	users := h.orch.Users()
	assert.Equal(t, domain.StateStopped, users[0].State(), "started user is released on abort")
	assert.Equal(t, domain.StateIdle, users[1].State())
	assert.Equal(t, domain.StateIdle, users[2].State())
}

func TestStart_SecondCallIsNoOp(t *testing.T) {
	h, err := newFleetHarness(2, testHost, false)
	require.NoError(t, err)

	require.NoError(t, h.orch.Start(context.Background(), time.Millisecond, nil, StatsConfig{}))
	defer h.orch.Stop()

	// The fakes would fail a duplicate join; the second start must not
	// even reach them.
	require.NoError(t, h.orch.Start(context.Background(), time.Millisecond, nil, StatsConfig{}))
	for _, u := range h.orch.Users() {
		assert.Equal(t, domain.StateJoinedRoom, u.State())
	}
}

func TestStart_AfterStopIsNoOp(t *testing.T) {
	h, err := newFleetHarness(2, testHost, false)
	require.NoError(t, err)

	require.NoError(t, h.orch.Start(context.Background(), time.Millisecond, nil, StatsConfig{}))
	require.NoError(t, h.orch.Stop())

	// A spent fleet refuses a restart without touching the users.
	require.NoError(t, h.orch.Start(context.Background(), time.Millisecond, nil, StatsConfig{}))
	assert.False(t, h.orch.Started())
	for _, u := range h.orch.Users() {
		assert.Equal(t, domain.StateStopped, u.State())
	}
}

func TestStop_BeforeStartIsNoOp(t *testing.T) {
	h, err := newFleetHarness(2, testHost, false)
	require.NoError(t, err)
	require.NoError(t, h.orch.Stop())
	for _, u := range h.orch.Users() {
		assert.Equal(t, domain.StateIdle, u.State())
	}
}

func TestStart_FirstUserCreatesConferenceWhenFocusKnown(t *testing.T) {
	host := testHost
	host.Focus = "focus@srv.example.com"
	h, err := newFleetHarness(3, host, false)
	require.NoError(t, err)

	require.NoError(t, h.orch.Start(context.Background(), time.Millisecond, nil, StatsConfig{}))
	defer h.orch.Stop()

	assert.True(t, h.signaling["loaduser_0"].confCreated)
	assert.False(t, h.signaling["loaduser_1"].confCreated)
	assert.False(t, h.signaling["loaduser_2"].confCreated)
}

func TestStart_RampUpFailureAbortsRemainingUsers(t *testing.T) {
	h, err := newFleetHarness(3, testHost, false)
	require.NoError(t, err)

	// Script the second user's connect to fail. The factory has already
	// produced all clients at construction time.
	h.signaling["loaduser_1"].connectErr = errors.New("server saturated")

	err = h.orch.Start(context.Background(), time.Millisecond, nil, StatsConfig{})
	require.Error(t, err)
	assert.Equal(t, harnesserr.KindConnection, harnesserr.KindOf(err))
	assert.True(t, harnesserr.IsFatalDuringRampUp(err))

	users := h.orch.Users()
	assert.Equal(t, domain.StateStopped, users[0].State(), "already-started user is released")
	assert.Equal(t, domain.StateFailed, users[1].State())
	assert.Equal(t, domain.StateIdle, users[2].State(), "ramp-up never reached the third user")
	assert.False(t, h.orch.Started())
}

func TestStart_WithStatsRegistersUsersAndStopDrainsCollector(t *testing.T) {
	h, err := newFleetHarness(3, testHost, true)
	require.NoError(t, err)

	statsCfg := StatsConfig{Summary: true, Overall: true, PollInterval: time.Second}
	require.NoError(t, h.orch.Start(context.Background(), time.Millisecond, nil, statsCfg))

	require.NoError(t, h.orch.Stop())
	assert.True(t, h.sink.Closed(), "stop must close the sink")

	// Overall record is written at stop even when no poll fired.
	recs := h.sink.Records()
	require.NotEmpty(t, recs)
	_, ok := recs[len(recs)-1].(overallRecord)
	assert.True(t, ok, "last record should be the overall summary")
}

func TestStop_UserFailureDoesNotBlockCollectorShutdown(t *testing.T) {
	h, err := newFleetHarness(2, testHost, true)
	require.NoError(t, err)

	require.NoError(t, h.orch.Start(context.Background(), time.Millisecond, nil,
		StatsConfig{Summary: true, PollInterval: time.Second}))

	// Park one user in Failed before stopping: teardown is best-effort.
	h.signaling["loaduser_0"].sessionError(errors.New("reset"))
	require.True(t, waitForState(h.orch.Users()[0], domain.StateFailed, time.Second))

	require.NoError(t, h.orch.Stop())
	assert.True(t, h.sink.Closed())
	assert.Equal(t, domain.StateStopped, h.orch.Users()[1].State())
}

func TestScenario_ThreeAnonymousUsersStreamAndStop(t *testing.T) {
	h, err := newFleetHarness(3, testHost, false)
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, h.orch.Start(context.Background(), 100*time.Millisecond, nil, StatsConfig{}))
	require.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)

	for _, u := range h.orch.Users() {
		h.signaling[u.Nickname()].invite("session-" + u.Nickname())
	}
	for _, u := range h.orch.Users() {
		require.True(t, waitForState(u, domain.StateStreaming, time.Second),
			"user %s never reached streaming", u.Nickname())
	}

	require.NoError(t, h.orch.Stop())
	for _, u := range h.orch.Users() {
		assert.Equal(t, domain.StateStopped, u.State())
	}
}
