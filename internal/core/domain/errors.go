package domain

import "errors"

var (
	ErrSessionClosed   = errors.New("signaling session closed")
	ErrNotConnected    = errors.New("signaling session not connected")
	ErrAlreadyActive   = errors.New("media session already active")
	ErrUserTerminal    = errors.New("virtual user already in a terminal state")
	ErrUnknownProvider = errors.New("no parser registered for extension")
)
