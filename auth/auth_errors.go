package auth

import (
	"errors"
	"fmt"

	"github.com/jrsteele09/go-device-sessions/accounts"
	"github.com/jrsteele09/go-device-sessions/sessions"
	"github.com/jrsteele09/go-device-sessions/token"
)

var (
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrAccountNotFound     = accounts.ErrNotFound
	ErrAccountExists       = errors.New("account already exists")
	ErrInvalidInput        = errors.New("invalid input")
	ErrDeviceLimitExceeded = errors.New("device limit exceeded")
	ErrStaleSession        = errors.New("stale session")
	ErrForbidden           = errors.New("forbidden")
	ErrUpgradeRequired     = fmt.Errorf("%w: upgraded account required", ErrForbidden)

	ErrTokenExpired   = token.ErrExpired
	ErrTokenMalformed = token.ErrMalformed
	ErrTokenInvalid   = token.ErrInvalid

	// ErrStorageUnavailable is the only transient kind; callers may retry.
	ErrStorageUnavailable = sessions.ErrStorageUnavailable
)

// DeviceLimitError rejects a login from a new device when the account is at its ceiling.
type DeviceLimitError struct {
	Ceiling          int
	UpgradeWouldHelp bool
}

func (e DeviceLimitError) Error() string {
	return fmt.Sprintf("%s: ceiling %d", ErrDeviceLimitExceeded.Error(), e.Ceiling)
}

func (e DeviceLimitError) Unwrap() error { return ErrDeviceLimitExceeded }

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrStorageUnavailable)
}
