package domain

// HostInfo describes the target server and room a fleet hammers on.
// Immutable after construction.
type HostInfo struct {
	Domain      string
	RoomAddress string
	Focus       string // focus identity provisioning the conference, optional
}

// HasFocus reports whether the conference has to be created through the
// focus identity before the remaining users join.
func (h HostInfo) HasFocus() bool {
	return h.Focus != ""
}

// Credential is an immutable username/password pair. Credentials are
// assigned to virtual users positionally.
type Credential struct {
	Username string
	Password string
}
