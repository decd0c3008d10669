package sessions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jrsteele09/go-device-sessions/device"
)

const defaultStorageTimeout = 3 * time.Second

// Store is the authoritative holder of account -> sessions.
//
// Every operation on an account runs under that account's lock, so a sequence of
// reads and writes made inside one Update is atomic with respect to any other
// operation on the same account.
type Store struct {
	repo    Repo
	locks   Locker
	timeout time.Duration
	nowFunc func() time.Time
}

type StoreOption func(*Store)

// WithLocker sets the per-account lock implementation (defaults to an in-process MemoryLocker).
func WithLocker(locker Locker) StoreOption {
	return func(s *Store) {
		s.locks = locker
	}
}

// WithStorageTimeout bounds every repository call.
func WithStorageTimeout(timeout time.Duration) StoreOption {
	return func(s *Store) {
		s.timeout = timeout
	}
}

// WithNowFunc sets the time source (primarily for testing).
func WithNowFunc(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.nowFunc = now
	}
}

func NewStore(repo Repo, options ...StoreOption) *Store {
	s := &Store{
		repo: repo,
	}

	for _, opt := range options {
		opt(s)
	}

	if s.locks == nil {
		s.locks = NewMemoryLocker()
	}
	if s.timeout <= 0 {
		s.timeout = defaultStorageTimeout
	}
	if s.nowFunc == nil {
		s.nowFunc = time.Now
	}
	return s
}

// Now returns the store's current time.
func (s *Store) Now() time.Time {
	return s.nowFunc()
}

// Update locks the account, loads its sessions and runs fn against them.
// Changes made by fn are saved when fn returns nil. Once the lock is held the
// operation runs to completion even if ctx is cancelled.
func (s *Store) Update(ctx context.Context, accountID string, fn func(tx *Tx) error) error {
	return s.run(ctx, accountID, true, fn)
}

// View locks the account and runs fn against a read-only snapshot of its sessions.
func (s *Store) View(ctx context.Context, accountID string, fn func(tx *Tx) error) error {
	return s.run(ctx, accountID, false, fn)
}

func (s *Store) run(ctx context.Context, accountID string, write bool, fn func(tx *Tx) error) error {
	return s.Exclusive(ctx, accountID, func(ctx context.Context) error {
		loaded, err := s.load(ctx, accountID)
		if err != nil {
			return err
		}

		tx := &Tx{
			ctx:       ctx,
			accountID: accountID,
			sessions:  loaded,
			now:       s.nowFunc(),
		}
		if err := fn(tx); err != nil {
			return err
		}
		if !write || !tx.dirty {
			return nil
		}
		return s.save(ctx, accountID, tx.sessions)
	})
}

// Exclusive runs fn while holding the account's lock without loading its sessions.
// fn receives a context that is not cancelled with ctx.
func (s *Store) Exclusive(ctx context.Context, accountID string, fn func(ctx context.Context) error) error {
	lockCtx, cancel := context.WithTimeout(ctx, s.timeout)
	unlock, err := s.locks.Lock(lockCtx, accountID)
	cancel()
	if err != nil {
		return fmt.Errorf("%w: lock account %s: %w", ErrStorageUnavailable, accountID, err)
	}
	defer unlock()

	return fn(context.WithoutCancel(ctx))
}

// StorageTimeout is the bound applied to each repository call.
func (s *Store) StorageTimeout() time.Duration {
	return s.timeout
}

func (s *Store) load(ctx context.Context, accountID string) ([]Session, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	loaded, err := s.repo.LoadSessions(ctx, accountID)
	if errors.Is(err, ErrAccountNotFound) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load sessions: %w", ErrStorageUnavailable, err)
	}
	return loaded, nil
}

func (s *Store) save(ctx context.Context, accountID string, sessions []Session) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err := s.repo.SaveSessions(ctx, accountID, sessions)
	if errors.Is(err, ErrAccountNotFound) {
		return ErrAccountNotFound
	}
	if err != nil {
		return fmt.Errorf("%w: save sessions: %w", ErrStorageUnavailable, err)
	}
	return nil
}

// AccountIDs lists the accounts that currently hold sessions.
func (s *Store) AccountIDs(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	ids, err := s.repo.ListAccountIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: list accounts: %w", ErrStorageUnavailable, err)
	}
	return ids, nil
}

// FindDevice returns the account's session for the fingerprint, if any.
func (s *Store) FindDevice(ctx context.Context, accountID, fingerprint string) (Session, bool, error) {
	var (
		found Session
		ok    bool
	)
	err := s.View(ctx, accountID, func(tx *Tx) error {
		found, ok = tx.FindDevice(fingerprint)
		return nil
	})
	return found, ok, err
}

// SessionCount returns the number of live sessions of the account.
func (s *Store) SessionCount(ctx context.Context, accountID string) (int, error) {
	var count int
	err := s.View(ctx, accountID, func(tx *Tx) error {
		count = tx.SessionCount()
		return nil
	})
	return count, err
}

// UpsertSession refreshes the session for the fingerprint in place, or appends a new one.
// It does not enforce the device ceiling.
func (s *Store) UpsertSession(ctx context.Context, accountID, fingerprint, token string, md device.Metadata) (Session, error) {
	var upserted Session
	err := s.Update(ctx, accountID, func(tx *Tx) error {
		upserted = tx.UpsertSession(fingerprint, token, md)
		return nil
	})
	return upserted, err
}

// RemoveSession removes the session for the fingerprint. Removing an absent fingerprint is a no-op.
func (s *Store) RemoveSession(ctx context.Context, accountID, fingerprint string) error {
	return s.Update(ctx, accountID, func(tx *Tx) error {
		tx.RemoveSession(fingerprint)
		return nil
	})
}

// RemoveAllSessions clears the account's session sequence.
func (s *Store) RemoveAllSessions(ctx context.Context, accountID string) error {
	return s.Update(ctx, accountID, func(tx *Tx) error {
		tx.RemoveAllSessions()
		return nil
	})
}

// TokenBelongsToActiveSession reports whether token is the current credential of one of the account's sessions.
func (s *Store) TokenBelongsToActiveSession(ctx context.Context, accountID, token string) (bool, error) {
	var ok bool
	err := s.View(ctx, accountID, func(tx *Tx) error {
		ok = tx.TokenBelongsToActiveSession(token)
		return nil
	})
	return ok, err
}

// Touch sets the last activity of the fingerprint's session to now.
func (s *Store) Touch(ctx context.Context, accountID, fingerprint string) error {
	return s.Update(ctx, accountID, func(tx *Tx) error {
		tx.Touch(fingerprint)
		return nil
	})
}

// RemoveInactive removes the account's sessions whose last activity is before cutoff.
func (s *Store) RemoveInactive(ctx context.Context, accountID string, cutoff time.Time) (int, error) {
	var removed int
	err := s.Update(ctx, accountID, func(tx *Tx) error {
		removed = tx.RemoveInactiveSince(cutoff)
		return nil
	})
	return removed, err
}

// Tx is the locked view of one account's sessions handed to Update and View.
// It must not be retained after the callback returns.
type Tx struct {
	ctx       context.Context
	accountID string
	sessions  []Session
	now       time.Time
	dirty     bool
}

// Context returns the context the surrounding operation runs under. It outlives request cancellation.
func (tx *Tx) Context() context.Context {
	return tx.ctx
}

// AccountID returns the account the view belongs to.
func (tx *Tx) AccountID() string {
	return tx.accountID
}

// Now returns the time the view was opened; all timestamps written through the view use it.
func (tx *Tx) Now() time.Time {
	return tx.now
}

func (tx *Tx) indexOf(fingerprint string) int {
	for i := range tx.sessions {
		if tx.sessions[i].Fingerprint == fingerprint {
			return i
		}
	}
	return -1
}

func (tx *Tx) FindDevice(fingerprint string) (Session, bool) {
	if i := tx.indexOf(fingerprint); i >= 0 {
		return tx.sessions[i], true
	}
	return Session{}, false
}

func (tx *Tx) SessionCount() int {
	return len(tx.sessions)
}

// Sessions returns a copy of the session sequence.
func (tx *Tx) Sessions() []Session {
	out := make([]Session, len(tx.sessions))
	copy(out, tx.sessions)
	return out
}

func (tx *Tx) UpsertSession(fingerprint, token string, md device.Metadata) Session {
	tx.dirty = true

	if i := tx.indexOf(fingerprint); i >= 0 {
		tx.sessions[i].Token = token
		tx.sessions[i].Metadata = md
		tx.sessions[i].LastActivity = tx.now
		return tx.sessions[i]
	}

	created := NewSession(fingerprint, token, md, tx.now)
	tx.sessions = append(tx.sessions, created)
	return created
}

// RemoveSession reports whether a session was removed.
func (tx *Tx) RemoveSession(fingerprint string) bool {
	i := tx.indexOf(fingerprint)
	if i < 0 {
		return false
	}
	tx.sessions = append(tx.sessions[:i:i], tx.sessions[i+1:]...)
	tx.dirty = true
	return true
}

// RemoveAllSessions reports how many sessions were removed.
func (tx *Tx) RemoveAllSessions() int {
	removed := len(tx.sessions)
	if removed > 0 {
		tx.sessions = nil
		tx.dirty = true
	}
	return removed
}

func (tx *Tx) TokenBelongsToActiveSession(token string) bool {
	if token == "" {
		return false
	}
	for i := range tx.sessions {
		if tx.sessions[i].Token == token {
			return true
		}
	}
	return false
}

// Touch reports whether a session for the fingerprint exists.
func (tx *Tx) Touch(fingerprint string) bool {
	i := tx.indexOf(fingerprint)
	if i < 0 {
		return false
	}
	tx.sessions[i].LastActivity = tx.now
	tx.dirty = true
	return true
}

// RemoveInactiveSince removes sessions whose last activity is strictly before cutoff.
func (tx *Tx) RemoveInactiveSince(cutoff time.Time) int {
	kept := tx.sessions[:0:0]
	for _, s := range tx.sessions {
		if s.LastActivity.Before(cutoff) {
			continue
		}
		kept = append(kept, s)
	}
	removed := len(tx.sessions) - len(kept)
	if removed > 0 {
		tx.sessions = kept
		tx.dirty = true
	}
	return removed
}
