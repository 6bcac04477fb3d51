package media

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"confload/internal/core/domain"
	"confload/internal/core/ports"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	pionmedia "github.com/pion/webrtc/v3/pkg/media"
	"go.uber.org/zap"
)

// opusSilence is one opus frame of silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// blankVP8Header opens a minimal VP8 payload; the frame body is
// padding sized to approximate the configured bitrate.
var blankVP8Header = []byte{0x10, 0x02, 0x00, 0x9d, 0x01, 0x2a}

// SyntheticEngine answers session offers with a real peer connection
// that sends blank video frames and opus silence on a fixed cadence.
// The server sees plausible media load without any capture device.
type SyntheticEngine struct {
	cfg    Config
	logger *zap.SugaredLogger

	mu     sync.Mutex
	active bool
	pc     *webrtc.PeerConnection
	done   chan struct{}
	wg     sync.WaitGroup

	packetsSent     atomic.Uint64
	packetsReceived atomic.Uint64
	bytesSent       atomic.Uint64
	bytesReceived   atomic.Uint64
	lossBits        atomic.Uint64
}

func NewSyntheticEngine(cfg Config, logger *zap.SugaredLogger) *SyntheticEngine {
	return &SyntheticEngine{cfg: cfg, logger: logger}
}

// Activate builds a peer connection, answers the offer and starts the
// frame and RTCP pumps. The engine can be activated again after a
// Deactivate; each activation gets a fresh connection.
func (e *SyntheticEngine) Activate(ctx context.Context, offer ports.SessionDescriptor) (ports.SessionDescriptor, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active {
		return ports.SessionDescriptor{}, domain.ErrAlreadyActive
	}

	pc, err := e.createPeerConnection()
	if err != nil {
		return ports.SessionDescriptor{}, fmt.Errorf("create peer connection: %w", err)
	}

	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio", "confload-audio",
	)
	if err != nil {
		pc.Close()
		return ports.SessionDescriptor{}, err
	}
	video, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		"video", "confload-video",
	)
	if err != nil {
		pc.Close()
		return ports.SessionDescriptor{}, err
	}

	audioSender, err := pc.AddTrack(audio)
	if err != nil {
		pc.Close()
		return ports.SessionDescriptor{}, err
	}
	videoSender, err := pc.AddTrack(video)
	if err != nil {
		pc.Close()
		return ports.SessionDescriptor{}, err
	}

	pc.OnTrack(e.handleRemoteTrack)
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		e.logger.Debugw("peer connection state changed", "connection_state", state.String())
	})

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  offer.SDP,
	}); err != nil {
		pc.Close()
		return ports.SessionDescriptor{}, fmt.Errorf("apply remote offer: %w", err)
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		return ports.SessionDescriptor{}, fmt.Errorf("create answer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		pc.Close()
		return ports.SessionDescriptor{}, fmt.Errorf("apply local answer: %w", err)
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		pc.Close()
		return ports.SessionDescriptor{}, ctx.Err()
	}

	e.pc = pc
	e.done = make(chan struct{})
	e.active = true

	e.wg.Add(3)
	go e.sampleLoop(audio, video)
	go e.rtcpLoop(audioSender)
	go e.rtcpLoop(videoSender)

	return ports.SessionDescriptor{SessionID: offer.SessionID, SDP: pc.LocalDescription().SDP}, nil
}

// Deactivate closes the connection and waits for the pumps to exit.
// Counters survive deactivation so end-of-run stats keep the totals.
func (e *SyntheticEngine) Deactivate() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.active {
		return nil
	}

	close(e.done)
	err := e.pc.Close()
	e.wg.Wait()
	e.pc = nil
	e.active = false

	if err != nil {
		return fmt.Errorf("close peer connection: %w", err)
	}
	return nil
}

// Stats implements the counter snapshot side of ports.MediaEngine.
func (e *SyntheticEngine) Stats() domain.MediaCounters {
	return domain.MediaCounters{
		PacketsSent:     e.packetsSent.Load(),
		PacketsReceived: e.packetsReceived.Load(),
		BytesSent:       e.bytesSent.Load(),
		BytesReceived:   e.bytesReceived.Load(),
		PacketLoss:      math.Float64frombits(e.lossBits.Load()),
	}
}

func (e *SyntheticEngine) createPeerConnection() (*webrtc.PeerConnection, error) {
	engine := &webrtc.MediaEngine{}
	if err := engine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(engine),
		webrtc.WithSettingEngine(webrtc.SettingEngine{}),
	)
	return api.NewPeerConnection(webrtc.Configuration{
		SDPSemantics: webrtc.SDPSemanticsUnifiedPlanWithFallback,
	})
}

// blankFrame sizes the video payload so the stream approximates the
// configured bitrate at the configured frame cadence.
func (e *SyntheticEngine) blankFrame() []byte {
	size := len(blankVP8Header)
	if e.cfg.VideoBitrate > 0 {
		perFrame := int(float64(e.cfg.VideoBitrate) / 8 * e.cfg.FrameInterval.Seconds())
		if perFrame > size {
			size = perFrame
		}
	}
	frame := make([]byte, size)
	copy(frame, blankVP8Header)
	return frame
}

// sampleLoop feeds both tracks on the frame cadence until deactivation.
func (e *SyntheticEngine) sampleLoop(audio, video *webrtc.TrackLocalStaticSample) {
	defer e.wg.Done()

	frame := e.blankFrame()
	ticker := time.NewTicker(e.cfg.FrameInterval)
	defer ticker.Stop()

	done := e.done
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := video.WriteSample(pionmedia.Sample{Data: frame, Duration: e.cfg.FrameInterval}); err == nil {
				e.packetsSent.Add(1)
				e.bytesSent.Add(uint64(len(frame)))
			}
			if err := audio.WriteSample(pionmedia.Sample{Data: opusSilence, Duration: e.cfg.FrameInterval}); err == nil {
				e.packetsSent.Add(1)
				e.bytesSent.Add(uint64(len(opusSilence)))
			}
		}
	}
}

// rtcpLoop ingests receiver reports for the loss counter. Exits when
// the connection closes.
func (e *SyntheticEngine) rtcpLoop(sender *webrtc.RTPSender) {
	defer e.wg.Done()

	for {
		packets, _, err := sender.ReadRTCP()
		if err != nil {
			return
		}
		for _, packet := range packets {
			rr, ok := packet.(*rtcp.ReceiverReport)
			if !ok {
				continue
			}
			var totalLost uint64
			for _, report := range rr.Reports {
				totalLost += uint64(report.FractionLost)
			}
			if len(rr.Reports) > 0 {
				loss := float64(totalLost) / float64(len(rr.Reports)) / 255.0
				e.lossBits.Store(math.Float64bits(loss))
			}
		}
	}
}

// handleRemoteTrack counts inbound media from other participants.
func (e *SyntheticEngine) handleRemoteTrack(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	e.logger.Debugw("remote track", "kind", track.Kind().String(), "ssrc", track.SSRC())
	for {
		var pkt *rtp.Packet
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		e.packetsReceived.Add(1)
		e.bytesReceived.Add(uint64(pkt.MarshalSize()))
	}
}
