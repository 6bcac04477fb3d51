package domain

// UserState is the lifecycle state of one virtual user.
type UserState int32

const (
	StateIdle UserState = iota
	StateConnecting
	StateJoinedRoom
	StateNegotiating
	StateStreaming
	StateStopped
	StateFailed
)

func (s UserState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateJoinedRoom:
		return "joined_room"
	case StateNegotiating:
		return "negotiating"
	case StateStreaming:
		return "streaming"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition can leave this state.
func (s UserState) Terminal() bool {
	return s == StateStopped || s == StateFailed
}

// MarshalText lets states render as their names in JSON records.
func (s UserState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
