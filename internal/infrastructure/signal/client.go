package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"confload/internal/core/domain"
	"confload/internal/core/ports"
	"confload/pkg/retry"
	"confload/pkg/tracing"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Config holds the transport settings of one signaling session.
type Config struct {
	URL  string
	Room string

	DialTimeout  time.Duration
	PingInterval time.Duration
	PongTimeout  time.Duration
	WriteTimeout time.Duration

	// Non-empty TokenSecret switches credentialed logins to a signed
	// room token instead of plain credentials.
	TokenSecret string
	TokenTTL    time.Duration

	// Dial retry is off by default: a dead server during ramp-up should
	// fail the run fast, not mask itself behind backoff.
	DialRetry retry.Config
}

// Endpoint derives the websocket URL for a target domain.
func Endpoint(domain string) string {
	return "ws://" + domain + "/ws"
}

// SignalMessage is the JSON envelope of every frame on the session.
type SignalMessage struct {
	Type      string          `json:"type"`
	Nickname  string          `json:"nickname,omitempty"`
	Room      string          `json:"room,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// Message types the harness exchanges with the server.
const (
	msgLogin            = "login"
	msgLoggedIn         = "logged_in"
	msgJoinRoom         = "join_room"
	msgRoomJoined       = "room_joined"
	msgCreateConference = "create_conference"
	msgAck              = "ack"
	msgInvite           = "invite"
	msgAccept           = "accept"
	msgTeardown         = "teardown"
	msgError            = "error"
)

type loginPayload struct {
	ClientID  string `json:"client_id"`
	Username  string `json:"username,omitempty"`
	Password  string `json:"password,omitempty"`
	Token     string `json:"token,omitempty"`
	Anonymous bool   `json:"anonymous,omitempty"`
}

type acceptPayload struct {
	SDP string `json:"sdp"`
}

type conferencePayload struct {
	Focus string `json:"focus"`
}

// RawExtension is one protocol extension as it appears on the wire,
// before registry dispatch.
type RawExtension struct {
	Element   string          `json:"element"`
	Namespace string          `json:"namespace"`
	Body      json.RawMessage `json:"body"`
}

type invitePayload struct {
	SessionID  string         `json:"session_id"`
	Extensions []RawExtension `json:"extensions"`
}

// Client implements ports.SignalingClient over a websocket session.
// Connect and JoinRoom run synchronous request/response exchanges on
// the calling flow; after the room join a reader goroutine feeds the
// event channel and a ping loop keeps the session alive.
type Client struct {
	nickname string
	clientID string
	cfg      Config
	registry *ExtensionRegistry
	dialer   *websocket.Dialer

	conn    *websocket.Conn
	writeMu sync.Mutex

	events chan ports.SessionEvent
	acks   chan SignalMessage

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	eventOnce sync.Once

	logger *zap.SugaredLogger
}

// NewClient builds an unconnected session for one virtual user. The
// registry decides which protocol extensions the client understands.
func NewClient(nickname string, cfg Config, registry *ExtensionRegistry, logger *zap.SugaredLogger) *Client {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = 60 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if registry == nil {
		registry = DefaultRegistry()
	}
	return &Client{
		nickname: nickname,
		clientID: uuid.NewString(),
		cfg:      cfg,
		registry: registry,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.DialTimeout,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
		},
		events: make(chan ports.SessionEvent, 16),
		acks:   make(chan SignalMessage, 1),
		done:   make(chan struct{}),
		logger: logger.With("nickname", nickname),
	}
}

// Connect dials the server and performs the login exchange. A nil
// credential logs in anonymously; with a token secret configured a
// credentialed login sends a signed room token instead of the raw
// password.
func (c *Client) Connect(ctx context.Context, cred *domain.Credential) error {
	ctx, span := tracing.TraceSignaling(ctx, "connect", c.nickname)
	defer span.End()

	conn, err := retry.RetryWithResult(ctx, c.cfg.DialRetry, func() (*websocket.Conn, error) {
		conn, _, derr := c.dialer.DialContext(ctx, c.cfg.URL, nil)
		return conn, derr
	})
	if err != nil {
		err = fmt.Errorf("dial %s: %w", c.cfg.URL, err)
		tracing.RecordError(ctx, err)
		return err
	}
	c.conn = conn

	conn.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
		return nil
	})

	login := loginPayload{ClientID: c.clientID}
	switch {
	case cred == nil:
		login.Anonymous = true
	case c.cfg.TokenSecret != "":
		token, terr := MintRoomToken(c.cfg.TokenSecret, c.nickname, c.cfg.Room, c.cfg.TokenTTL)
		if terr != nil {
			conn.Close()
			return fmt.Errorf("mint room token: %w", terr)
		}
		login.Username = cred.Username
		login.Token = token
	default:
		login.Username = cred.Username
		login.Password = cred.Password
	}

	if err := c.request(msgLogin, "", login); err != nil {
		conn.Close()
		return err
	}

	resp, err := c.readReply(msgLoggedIn)
	if err != nil {
		conn.Close()
		err = fmt.Errorf("login: %w", err)
		tracing.RecordError(ctx, err)
		return err
	}
	c.logger.Debugw("logged in", "anonymous", login.Anonymous, "session", resp.SessionID)
	return nil
}

// JoinRoom joins the configured room and starts the event pump. From
// here on invitations arrive asynchronously on Events.
func (c *Client) JoinRoom(ctx context.Context, identity string) error {
	if c.conn == nil {
		return domain.ErrNotConnected
	}

	ctx, span := tracing.TraceSignaling(ctx, "join_room", c.nickname)
	defer span.End()

	msg := SignalMessage{Type: msgJoinRoom, Nickname: identity, Room: c.cfg.Room}
	if err := c.writeMessage(msg); err != nil {
		err = fmt.Errorf("join room: %w", err)
		tracing.RecordError(ctx, err)
		return err
	}
	if _, err := c.readReply(msgRoomJoined); err != nil {
		err = fmt.Errorf("join room %s: %w", c.cfg.Room, err)
		tracing.RecordError(ctx, err)
		return err
	}

	c.wg.Add(2)
	go c.readLoop()
	go c.pingLoop()

	c.logger.Infow("joined room", "room", c.cfg.Room)
	return nil
}

// CreateConference asks the focus to provision the conference. The
// reply is routed through the reader, so this must run after JoinRoom.
func (c *Client) CreateConference(ctx context.Context, focus string) error {
	if err := c.request(msgCreateConference, "", conferencePayload{Focus: focus}); err != nil {
		return fmt.Errorf("create conference: %w", err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return domain.ErrSessionClosed
	case <-time.After(c.cfg.DialTimeout):
		return fmt.Errorf("create conference: no reply within %s", c.cfg.DialTimeout)
	case resp := <-c.acks:
		if resp.Type == msgError {
			return fmt.Errorf("create conference rejected: %s", resp.Error)
		}
		return nil
	}
}

// Accept answers a session invitation with the local descriptor.
func (c *Client) Accept(ctx context.Context, answer ports.SessionDescriptor) error {
	if err := c.request(msgAccept, answer.SessionID, acceptPayload{SDP: answer.SDP}); err != nil {
		return fmt.Errorf("accept session %s: %w", answer.SessionID, err)
	}
	return nil
}

// Events streams invitations, teardowns and session errors. Closed
// when the session ends.
func (c *Client) Events() <-chan ports.SessionEvent {
	return c.events
}

// Disconnect closes the transport and waits for the pumps to exit.
// Idempotent; also closes the event channel so a consuming pump always
// terminates.
func (c *Client) Disconnect() error {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.conn != nil {
			deadline := time.Now().Add(c.cfg.WriteTimeout)
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			c.conn.Close()
		}
		c.wg.Wait()
		c.closeEvents()
		c.logger.Debug("signaling session closed")
	})
	return nil
}

func (c *Client) closeEvents() {
	c.eventOnce.Do(func() { close(c.events) })
}

// request marshals a payload into the envelope and writes it.
func (c *Client) request(msgType, sessionID string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	return c.writeMessage(SignalMessage{
		Type:      msgType,
		Nickname:  c.nickname,
		SessionID: sessionID,
		Payload:   body,
	})
}

func (c *Client) writeMessage(msg SignalMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return c.conn.WriteJSON(msg)
}

// readReply reads one frame on the calling flow, used for the
// synchronous login and join exchanges before the reader starts.
func (c *Client) readReply(want string) (SignalMessage, error) {
	var msg SignalMessage
	if err := c.conn.ReadJSON(&msg); err != nil {
		return msg, err
	}
	c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))

	switch msg.Type {
	case want:
		return msg, nil
	case msgError:
		return msg, fmt.Errorf("server rejected request: %s", msg.Error)
	default:
		return msg, fmt.Errorf("unexpected reply %q, want %q", msg.Type, want)
	}
}

// readLoop consumes server frames until the transport dies or the
// session is disconnected.
func (c *Client) readLoop() {
	defer c.wg.Done()

	for {
		var msg SignalMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			select {
			case <-c.done:
				// Local disconnect, not a session failure.
			default:
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					c.logger.Warnw("signaling transport failed", "error", err)
				}
				c.emit(ports.SessionEvent{Type: ports.EventError, Err: err})
			}
			c.closeEvents()
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
		c.dispatch(msg)
	}
}

func (c *Client) dispatch(msg SignalMessage) {
	switch msg.Type {
	case msgInvite:
		c.handleInvite(msg)
	case msgTeardown:
		c.emit(ports.SessionEvent{
			Type:       ports.EventTeardown,
			Descriptor: ports.SessionDescriptor{SessionID: msg.SessionID},
		})
	case msgAck, msgError:
		select {
		case c.acks <- msg:
		default:
			if msg.Type == msgError {
				c.emit(ports.SessionEvent{
					Type: ports.EventError,
					Err:  fmt.Errorf("session error: %s", msg.Error),
				})
			}
		}
	default:
		c.logger.Debugw("ignoring unknown message type", "type", msg.Type)
	}
}

// handleInvite resolves the invitation's SDP through the extension
// registry. Unknown extensions are skipped; an invite without a
// session description is a protocol error.
func (c *Client) handleInvite(msg SignalMessage) {
	var payload invitePayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		c.emit(ports.SessionEvent{Type: ports.EventError,
			Err: fmt.Errorf("invalid invite payload: %w", err)})
		return
	}

	sessionID := payload.SessionID
	if sessionID == "" {
		sessionID = msg.SessionID
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	var sdp string
	for _, raw := range payload.Extensions {
		parsed, err := c.registry.Parse(raw.Element, raw.Namespace, raw.Body)
		if err != nil {
			c.logger.Debugw("skipping extension",
				"element", raw.Element, "namespace", raw.Namespace, "error", err)
			continue
		}
		switch ext := parsed.(type) {
		case *SessionDescriptionExtension:
			sdp = ext.SDP
		case *TransferStatsExtension:
			c.logger.Debugw("server transfer stats",
				"session_id", sessionID,
				"bytes_sent", ext.BytesSent,
				"bytes_received", ext.BytesReceived,
			)
		}
	}

	if sdp == "" {
		c.emit(ports.SessionEvent{Type: ports.EventError,
			Err: fmt.Errorf("invite %s carries no session description", sessionID)})
		return
	}

	c.emit(ports.SessionEvent{
		Type:       ports.EventInvite,
		Descriptor: ports.SessionDescriptor{SessionID: sessionID, SDP: sdp},
	})
}

// emit never blocks the reader: if the consumer's buffer is full the
// event is dropped with a warning rather than stalling the transport.
func (c *Client) emit(ev ports.SessionEvent) {
	select {
	case c.events <- ev:
	default:
		c.logger.Warnw("event buffer full, dropping event", "type", ev.Type)
	}
}

func (c *Client) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.cfg.WriteTimeout)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.logger.Debugw("ping failed", "error", err)
				return
			}
		}
	}
}
