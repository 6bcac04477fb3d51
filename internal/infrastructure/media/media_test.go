package media

import (
	"context"
	"strings"
	"testing"
	"time"

	"confload/internal/core/domain"
	"confload/internal/core/ports"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig() Config {
	return Config{
		Policy:        PolicySynthetic,
		FrameInterval: 10 * time.Millisecond,
		VideoBitrate:  256_000,
	}
}

// buildOffer negotiates the remote half of a session: a receive-only
// peer that would consume the engine's tracks.
func buildOffer(t *testing.T) (string, *webrtc.PeerConnection) {
	t.Helper()

	remote, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)
	t.Cleanup(func() { remote.Close() })

	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		_, err = remote.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		})
		require.NoError(t, err)
	}

	offer, err := remote.CreateOffer(nil)
	require.NoError(t, err)

	gathered := webrtc.GatheringCompletePromise(remote)
	require.NoError(t, remote.SetLocalDescription(offer))
	select {
	case <-gathered:
	case <-time.After(5 * time.Second):
		t.Fatal("ICE gathering never completed")
	}

	return remote.LocalDescription().SDP, remote
}

func TestFactory_PolicySelection(t *testing.T) {
	logger := zap.NewNop().Sugar()

	f, err := NewFactory(Config{Policy: PolicyNull}, logger)
	require.NoError(t, err)
	_, ok := f.NewEngine("loaduser_0").(*NullEngine)
	assert.True(t, ok)

	f, err = NewFactory(testConfig(), logger)
	require.NoError(t, err)
	_, ok = f.NewEngine("loaduser_0").(*SyntheticEngine)
	assert.True(t, ok)
}

func TestFactory_UnknownPolicy(t *testing.T) {
	_, err := NewFactory(Config{Policy: "hardware"}, zap.NewNop().Sugar())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hardware")
}

func TestNullEngine_Lifecycle(t *testing.T) {
	e := NewNullEngine()
	offer := ports.SessionDescriptor{SessionID: "s1", SDP: "v=0 offer"}

	answer, err := e.Activate(context.Background(), offer)
	require.NoError(t, err)
	assert.Equal(t, "s1", answer.SessionID)
	assert.True(t, strings.HasPrefix(answer.SDP, "v=0"))

	_, err = e.Activate(context.Background(), offer)
	assert.ErrorIs(t, err, domain.ErrAlreadyActive)

	require.NoError(t, e.Deactivate())
	assert.Equal(t, domain.MediaCounters{}, e.Stats())

	// Reusable after teardown.
	_, err = e.Activate(context.Background(), offer)
	require.NoError(t, err)
}

func TestSyntheticEngine_AnswersOffer(t *testing.T) {
	offerSDP, _ := buildOffer(t)
	e := NewSyntheticEngine(testConfig(), zap.NewNop().Sugar())
	defer e.Deactivate()

	answer, err := e.Activate(context.Background(), ports.SessionDescriptor{SessionID: "s1", SDP: offerSDP})
	require.NoError(t, err)
	assert.Equal(t, "s1", answer.SessionID)
	assert.True(t, strings.HasPrefix(answer.SDP, "v=0"))
	assert.Contains(t, answer.SDP, "VP8")
}

func TestSyntheticEngine_DoubleActivate(t *testing.T) {
	offerSDP, _ := buildOffer(t)
	e := NewSyntheticEngine(testConfig(), zap.NewNop().Sugar())
	defer e.Deactivate()

	_, err := e.Activate(context.Background(), ports.SessionDescriptor{SessionID: "s1", SDP: offerSDP})
	require.NoError(t, err)

	_, err = e.Activate(context.Background(), ports.SessionDescriptor{SessionID: "s2", SDP: offerSDP})
	assert.ErrorIs(t, err, domain.ErrAlreadyActive)
}

func TestSyntheticEngine_GarbageOffer(t *testing.T) {
	e := NewSyntheticEngine(testConfig(), zap.NewNop().Sugar())
	_, err := e.Activate(context.Background(), ports.SessionDescriptor{SessionID: "s1", SDP: "not sdp"})
	require.Error(t, err)
}

func TestSyntheticEngine_CountersAdvanceWhileActive(t *testing.T) {
	offerSDP, _ := buildOffer(t)
	e := NewSyntheticEngine(testConfig(), zap.NewNop().Sugar())
	defer e.Deactivate()

	_, err := e.Activate(context.Background(), ports.SessionDescriptor{SessionID: "s1", SDP: offerSDP})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		s := e.Stats()
		return s.PacketsSent > 0 && s.BytesSent > 0
	}, 3*time.Second, 20*time.Millisecond)
}

func TestSyntheticEngine_CountersSurviveDeactivate(t *testing.T) {
	offerSDP, _ := buildOffer(t)
	e := NewSyntheticEngine(testConfig(), zap.NewNop().Sugar())

	_, err := e.Activate(context.Background(), ports.SessionDescriptor{SessionID: "s1", SDP: offerSDP})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return e.Stats().PacketsSent > 0 }, 3*time.Second, 20*time.Millisecond)

	require.NoError(t, e.Deactivate())
	sent := e.Stats().PacketsSent
	assert.Greater(t, sent, uint64(0))

	// Idempotent deactivate, counters untouched.
	require.NoError(t, e.Deactivate())
	assert.Equal(t, sent, e.Stats().PacketsSent)
}

func TestSyntheticEngine_ReactivateAfterTeardown(t *testing.T) {
	offerSDP, _ := buildOffer(t)
	e := NewSyntheticEngine(testConfig(), zap.NewNop().Sugar())
	defer e.Deactivate()

	_, err := e.Activate(context.Background(), ports.SessionDescriptor{SessionID: "s1", SDP: offerSDP})
	require.NoError(t, err)
	require.NoError(t, e.Deactivate())

	offer2, _ := buildOffer(t)
	_, err = e.Activate(context.Background(), ports.SessionDescriptor{SessionID: "s2", SDP: offer2})
	require.NoError(t, err)
}

func TestSyntheticEngine_FrameSizeTracksBitrate(t *testing.T) {
	cfg := testConfig()
	cfg.VideoBitrate = 512_000
	cfg.FrameInterval = 20 * time.Millisecond
	e := NewSyntheticEngine(cfg, zap.NewNop().Sugar())

	// 512 kbit/s at 50 fps is 1280 bytes per frame.
	assert.Len(t, e.blankFrame(), 1280)

	cfg.VideoBitrate = 0
	e = NewSyntheticEngine(cfg, zap.NewNop().Sugar())
	assert.Len(t, e.blankFrame(), len(blankVP8Header))
}
