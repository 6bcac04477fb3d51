package signal

import (
	"encoding/json"
	"fmt"
	"sync"

	"confload/internal/core/domain"
)

// ExtensionKey identifies one protocol extension by its envelope
// element name and namespace.
type ExtensionKey struct {
	Element   string
	Namespace string
}

// ExtensionParser turns a raw extension body into a typed value.
type ExtensionParser func(body json.RawMessage) (interface{}, error)

// ExtensionRegistry maps extension keys to parsers. It is populated
// once at startup and handed to each signaling client; there is no
// process-wide registration table.
type ExtensionRegistry struct {
	mu      sync.RWMutex
	parsers map[ExtensionKey]ExtensionParser
}

func NewExtensionRegistry() *ExtensionRegistry {
	return &ExtensionRegistry{parsers: make(map[ExtensionKey]ExtensionParser)}
}

// Register binds a parser to an element+namespace key. Later
// registrations for the same key replace earlier ones.
func (r *ExtensionRegistry) Register(element, namespace string, p ExtensionParser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.parsers[ExtensionKey{Element: element, Namespace: namespace}] = p
}

// Parse dispatches a raw body to the registered parser.
// domain.ErrUnknownProvider is returned when no parser covers the key,
// so callers can skip unknown extensions without treating them as
// protocol failures.
func (r *ExtensionRegistry) Parse(element, namespace string, body json.RawMessage) (interface{}, error) {
	r.mu.RLock()
	p, ok := r.parsers[ExtensionKey{Element: element, Namespace: namespace}]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", domain.ErrUnknownProvider, element, namespace)
	}
	return p(body)
}

// Known extension namespaces.
const (
	ElementSessionDescription = "session-description"
	NamespaceSession          = "urn:confload:session:1"
	ElementTransferStats      = "transfer-stats"
	NamespaceStats            = "urn:confload:stats:1"
)

// SessionDescriptionExtension carries the SDP blob of a session
// invitation.
type SessionDescriptionExtension struct {
	SDP string `json:"sdp"`
}

// TransferStatsExtension is the server's view of a session's transfer
// counters, attached to invitations on renegotiation.
type TransferStatsExtension struct {
	PacketsSent     uint64 `json:"packets_sent"`
	PacketsReceived uint64 `json:"packets_received"`
	BytesSent       uint64 `json:"bytes_sent"`
	BytesReceived   uint64 `json:"bytes_received"`
}

// DefaultRegistry returns a registry with the extensions the harness
// understands.
func DefaultRegistry() *ExtensionRegistry {
	r := NewExtensionRegistry()
	r.Register(ElementSessionDescription, NamespaceSession, func(body json.RawMessage) (interface{}, error) {
		var ext SessionDescriptionExtension
		if err := json.Unmarshal(body, &ext); err != nil {
			return nil, fmt.Errorf("invalid session-description body: %w", err)
		}
		return &ext, nil
	})
	r.Register(ElementTransferStats, NamespaceStats, func(body json.RawMessage) (interface{}, error) {
		var ext TransferStatsExtension
		if err := json.Unmarshal(body, &ext); err != nil {
			return nil, fmt.Errorf("invalid transfer-stats body: %w", err)
		}
		return &ext, nil
	})
	return r
}
