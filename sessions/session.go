package sessions

import (
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/jrsteele09/go-device-sessions/device"
)

// Session is one logged-in device of an account.
// Within an account, at most one Session exists per Fingerprint.
type Session struct {
	ID           string          `json:"id"`          // ULID, kept for audit trails
	Fingerprint  string          `json:"fingerprint"` // Device fingerprint, the dedup key
	Token        string          `json:"-"`           // Currently issued credential - never serialize
	CreatedAt    time.Time       `json:"created_at"`  // First login from this device
	LastActivity time.Time       `json:"last_activity"`
	Metadata     device.Metadata `json:"metadata"` // Connection metadata of the latest login
}

// NewSession returns a session for a device first seen at now.
func NewSession(fingerprint, token string, md device.Metadata, now time.Time) Session {
	return Session{
		ID:           ulid.Make().String(),
		Fingerprint:  fingerprint,
		Token:        token,
		CreatedAt:    now,
		LastActivity: now,
		Metadata:     md,
	}
}
