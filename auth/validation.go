package auth

import (
	"fmt"
	"strings"

	"github.com/jrsteele09/go-device-sessions/accounts"
)

const maxIdentityLength = 254

// Validator holds the input rules applied before the lifecycle operations touch storage.
type Validator struct{}

// NewValidator creates a new Validator instance
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateIdentity checks that an identity is a plausible e-mail address.
func (v *Validator) ValidateIdentity(identity string) error {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return fmt.Errorf("identity is required")
	}
	if len(identity) > maxIdentityLength {
		return fmt.Errorf("identity must be at most %d characters", maxIdentityLength)
	}

	local, domain, ok := strings.Cut(identity, "@")
	if !ok || local == "" || !strings.Contains(domain, ".") || strings.ContainsAny(identity, " \t\r\n") {
		return fmt.Errorf("invalid email format")
	}
	return nil
}

// ValidateRegistration validates the identity and the strength of the chosen password.
func (v *Validator) ValidateRegistration(identity, password string) error {
	if err := v.ValidateIdentity(identity); err != nil {
		return err
	}
	if password == "" {
		return fmt.Errorf("password is required")
	}
	return accounts.ValidatePasswordStrength(password)
}

// ValidateFingerprint checks a fingerprint supplied by a client, e.g. for device removal.
func (v *Validator) ValidateFingerprint(fingerprint string) error {
	if strings.TrimSpace(fingerprint) == "" {
		return fmt.Errorf("fingerprint is required")
	}
	return nil
}
