package validation

import (
	"strings"
	"testing"
)

func TestValidateNicknameBase(t *testing.T) {
	tests := []struct {
		name    string
		base    string
		wantErr bool
	}{
		{"valid base", "loaduser", false},
		{"valid with underscore", "load_user", false},
		{"valid with dash", "load-user", false},
		{"valid with digits", "hammer2", false},
		{"empty", "", true},
		{"starts with digit", "2hammer", true},
		{"contains space", "load user", true},
		{"too long", strings.Repeat("a", 65), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateNicknameBase(tt.base)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateNicknameBase() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateRoomAddress(t *testing.T) {
	tests := []struct {
		name    string
		room    string
		wantErr bool
	}{
		{"valid room", "loadtest", false},
		{"valid with dots", "room.example", false},
		{"empty", "", true},
		{"contains slash", "room/1", true},
		{"too long", strings.Repeat("r", 129), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRoomAddress(tt.room)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateRoomAddress() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateDomain(t *testing.T) {
	tests := []struct {
		name    string
		domain  string
		wantErr bool
	}{
		{"host only", "conference.example.com", false},
		{"host with port", "localhost:8081", false},
		{"empty", "", true},
		{"bad port", "host:99999999", true},
		{"contains scheme", "wss://host", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDomain(tt.domain)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateDomain() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
