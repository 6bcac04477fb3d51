package ports

import (
	"context"

	"confload/internal/core/domain"
)

// SessionEventType tags asynchronous events coming from the signaling
// session after the room join.
type SessionEventType string

const (
	EventInvite   SessionEventType = "invite"
	EventTeardown SessionEventType = "teardown"
	EventError    SessionEventType = "error"
)

// SessionDescriptor carries the opaque session negotiation payload
// (an SDP blob for the websocket signaling implementation).
type SessionDescriptor struct {
	SessionID string
	SDP       string
}

// SessionEvent is one asynchronous notification from the signaling
// layer: a session invitation, a stream teardown, or a session error.
type SessionEvent struct {
	Type       SessionEventType
	Descriptor SessionDescriptor
	Err        error
}

// SignalingClient is the session signaling collaborator one virtual
// user owns. Implementations must close the Events channel when the
// session ends, whether by Disconnect or by a transport error, so the
// user's event pump always terminates.
type SignalingClient interface {
	// Connect opens the session. A nil credential means anonymous login.
	Connect(ctx context.Context, cred *domain.Credential) error

	// JoinRoom joins the target room under the given identity.
	JoinRoom(ctx context.Context, identity string) error

	// CreateConference asks the focus identity to provision the
	// conference. Only the first successfully started user calls this.
	CreateConference(ctx context.Context, focus string) error

	// Accept answers a session invitation with the local descriptor.
	Accept(ctx context.Context, answer SessionDescriptor) error

	// Events streams invitations, teardowns and session errors.
	Events() <-chan SessionEvent

	// Disconnect tears the session down and releases the transport.
	Disconnect() error
}
