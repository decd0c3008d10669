package auth

import (
	"github.com/jrsteele09/go-device-sessions/accounts"
	"github.com/jrsteele09/go-device-sessions/device"
)

// Principal is what a successful Authenticate exposes to downstream authorization checks.
type Principal struct {
	AccountID   string        `json:"account_id"`
	Role        accounts.Role `json:"role"`
	Fingerprint string        `json:"fingerprint"`
}

func (p Principal) IsAdmin() bool {
	return p.Role == accounts.RoleAdmin
}

// RequireAdmin returns ErrForbidden unless the principal holds the admin role.
func (p Principal) RequireAdmin() error {
	if !p.IsAdmin() {
		return ErrForbidden
	}
	return nil
}

// RegisterRequest carries the inputs of Register.
type RegisterRequest struct {
	Identity string
	Password string
	Name     string
	Metadata device.Metadata
}

// LoginRequest carries the inputs of Login.
type LoginRequest struct {
	Identity string
	Password string
	Metadata device.Metadata
}

// LoginResult is returned by Register and Login.
type LoginResult struct {
	Account   accounts.Summary `json:"account"`
	Token     string           `json:"token"`
	ExpiresAt int64            `json:"expires_at"` // Unix seconds
	Refreshed bool             `json:"refreshed"`  // true when an existing device session was reused
}

// Device describes one active session in a device listing.
type Device struct {
	ID               string `json:"id"`
	Fingerprint      string `json:"fingerprint"`
	ClientDescriptor string `json:"client_descriptor"`
	NetworkAddress   string `json:"network_address"`
	CreatedAt        int64  `json:"created_at"`
	LastActivity     int64  `json:"last_activity"`
	Current          bool   `json:"current"` // the device the listing was requested from
}

// DeviceList is the result of ListDevices.
type DeviceList struct {
	Tier    accounts.Tier `json:"tier"`
	Ceiling int           `json:"max_devices"`
	Devices []Device      `json:"devices"`
}

// AccountDetail is the administrative view of one account and its devices.
type AccountDetail struct {
	Account accounts.Summary `json:"account"`
	Devices []Device         `json:"devices"`
}
