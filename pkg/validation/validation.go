package validation

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	// NicknameBaseRegex validates the base every virtual user nickname
	// is derived from. Indexes are appended as "_<n>", so the base
	// itself must not end with an underscore digit run.
	NicknameBaseRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]*$`)

	// RoomAddressRegex validates room/conference addresses
	RoomAddressRegex = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

	// DomainRegex validates host[:port] target domains
	DomainRegex = regexp.MustCompile(`^[a-zA-Z0-9.-]+(:[0-9]{1,5})?$`)
)

// ValidateNicknameBase validates a fleet nickname base
func ValidateNicknameBase(base string) error {
	base = strings.TrimSpace(base)
	if base == "" {
		return fmt.Errorf("nickname base is required")
	}
	if len(base) > 64 {
		return fmt.Errorf("nickname base is too long (max 64 characters)")
	}
	if !NicknameBaseRegex.MatchString(base) {
		return fmt.Errorf("nickname base may only contain letters, digits, '_' and '-', and must start with a letter")
	}
	return nil
}

// ValidateRoomAddress validates a room/conference address
func ValidateRoomAddress(room string) error {
	room = strings.TrimSpace(room)
	if room == "" {
		return fmt.Errorf("room address is required")
	}
	if len(room) > 128 {
		return fmt.Errorf("room address is too long (max 128 characters)")
	}
	if !RoomAddressRegex.MatchString(room) {
		return fmt.Errorf("room address contains invalid characters")
	}
	return nil
}

// ValidateDomain validates a target server domain (host or host:port)
func ValidateDomain(domain string) error {
	domain = strings.TrimSpace(domain)
	if domain == "" {
		return fmt.Errorf("target domain is required")
	}
	if len(domain) > 253 {
		return fmt.Errorf("target domain is too long (max 253 characters)")
	}
	if !DomainRegex.MatchString(domain) {
		return fmt.Errorf("target domain is not a valid host[:port]")
	}
	return nil
}
