package sessions

import (
	"context"
	"errors"
)

var (
	// ErrAccountNotFound is returned when the account owning a session sequence does not exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrStorageUnavailable is returned when persistence or locking fails. It is the only transient error.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// Repo persists the ordered session sequence of each account.
// Implementations return ErrAccountNotFound for unknown accounts; any other error
// is treated as a storage failure.
type Repo interface {
	// LoadSessions returns the session sequence of an account in insertion order
	LoadSessions(ctx context.Context, accountID string) ([]Session, error)

	// SaveSessions replaces the session sequence of an account
	SaveSessions(ctx context.Context, accountID string, sessions []Session) error

	// ListAccountIDs returns the IDs of every account that currently holds at least one session
	ListAccountIDs(ctx context.Context) ([]string, error)
}
