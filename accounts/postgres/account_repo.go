package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jrsteele09/go-device-sessions/accounts"
	"github.com/jrsteele09/go-device-sessions/sessions"
)

const defaultSchema = "public"

var schemaNameRe = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

var _ accounts.Repo = (*AccountRepo)(nil)

// AccountRepo stores accounts and their ordered session sequences in Postgres.
type AccountRepo struct {
	pool     *pgxpool.Pool
	schema   string
	accounts string
	sessions string
}

type Option func(*AccountRepo)

// WithSchema places the tables in a schema other than public.
func WithSchema(schema string) Option {
	return func(r *AccountRepo) {
		r.schema = schema
	}
}

func NewAccountRepo(pool *pgxpool.Pool, options ...Option) (*AccountRepo, error) {
	r := &AccountRepo{
		pool:   pool,
		schema: defaultSchema,
	}
	for _, opt := range options {
		opt(r)
	}
	if !schemaNameRe.MatchString(r.schema) {
		return nil, fmt.Errorf("invalid schema name %q", r.schema)
	}

	r.accounts = pgx.Identifier{r.schema, "accounts"}.Sanitize()
	r.sessions = pgx.Identifier{r.schema, "account_sessions"}.Sanitize()
	return r, nil
}

// EnsureSchema creates the tables if they do not exist.
func (r *AccountRepo) EnsureSchema(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, fmt.Sprintf(schemaSQL, r.accounts, r.sessions))
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (r *AccountRepo) Create(ctx context.Context, account *accounts.Account) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO `+r.accounts+` (
				id, identity, name, password_hash, role, tier, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, account.ID, account.Identity, account.Name, account.PasswordHash,
			string(account.Role), string(account.Tier), account.CreatedAt, account.UpdatedAt)
		if isUniqueViolation(err) {
			return accounts.ErrIdentityTaken
		}
		if err != nil {
			return err
		}
		return r.insertSessions(ctx, tx, account.ID, account.Sessions)
	})
}

func (r *AccountRepo) GetByID(ctx context.Context, id string) (*accounts.Account, error) {
	return r.getAccount(ctx, "id", id)
}

func (r *AccountRepo) GetByIdentity(ctx context.Context, identity string) (*accounts.Account, error) {
	return r.getAccount(ctx, "identity", identity)
}

func (r *AccountRepo) getAccount(ctx context.Context, column, value string) (*accounts.Account, error) {
	var (
		account    accounts.Account
		role, tier string
	)

	err := r.pool.QueryRow(ctx, `
		SELECT id, identity, name, password_hash, role, tier, created_at, updated_at
		FROM `+r.accounts+`
		WHERE `+column+` = $1
	`, value).Scan(
		&account.ID,
		&account.Identity,
		&account.Name,
		&account.PasswordHash,
		&role,
		&tier,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, accounts.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	account.Role = accounts.Role(role)
	account.Tier = accounts.Tier(tier)

	account.Sessions, err = r.selectSessions(ctx, account.ID)
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *AccountRepo) SetTier(ctx context.Context, id string, tier accounts.Tier) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE `+r.accounts+`
		SET tier = $2, updated_at = now()
		WHERE id = $1
	`, id, string(tier))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return accounts.ErrNotFound
	}
	return nil
}

// Delete removes the account; its sessions go with it through the foreign key.
func (r *AccountRepo) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM `+r.accounts+` WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return accounts.ErrNotFound
	}
	return nil
}

func (r *AccountRepo) List(ctx context.Context) ([]*accounts.Account, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, identity, name, password_hash, role, tier, created_at, updated_at
		FROM `+r.accounts+`
		ORDER BY identity
	`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*accounts.Account, error) {
		var (
			account    accounts.Account
			role, tier string
		)
		err := row.Scan(
			&account.ID,
			&account.Identity,
			&account.Name,
			&account.PasswordHash,
			&role,
			&tier,
			&account.CreatedAt,
			&account.UpdatedAt,
		)
		account.Role = accounts.Role(role)
		account.Tier = accounts.Tier(tier)
		return &account, err
	})
}

func (r *AccountRepo) LoadSessions(ctx context.Context, accountID string) ([]sessions.Session, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM `+r.accounts+` WHERE id = $1)`, accountID).Scan(&exists)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, accounts.ErrNotFound
	}
	return r.selectSessions(ctx, accountID)
}

// SaveSessions replaces the sequence inside one transaction holding the account row lock.
func (r *AccountRepo) SaveSessions(ctx context.Context, accountID string, list []sessions.Session) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var id string
		err := tx.QueryRow(ctx, `SELECT id FROM `+r.accounts+` WHERE id = $1 FOR UPDATE`, accountID).Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			return accounts.ErrNotFound
		}
		if err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `DELETE FROM `+r.sessions+` WHERE account_id = $1`, accountID); err != nil {
			return err
		}
		return r.insertSessions(ctx, tx, accountID, list)
	})
}

func (r *AccountRepo) ListAccountIDs(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT account_id FROM `+r.sessions+` ORDER BY account_id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (r *AccountRepo) selectSessions(ctx context.Context, accountID string) ([]sessions.Session, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, fingerprint, token, created_at, last_activity, client_descriptor, network_address
		FROM `+r.sessions+`
		WHERE account_id = $1
		ORDER BY position
	`, accountID)
	if err != nil {
		return nil, err
	}

	list, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (sessions.Session, error) {
		var s sessions.Session
		err := row.Scan(
			&s.ID,
			&s.Fingerprint,
			&s.Token,
			&s.CreatedAt,
			&s.LastActivity,
			&s.Metadata.ClientDescriptor,
			&s.Metadata.NetworkAddress,
		)
		return s, err
	})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list, nil
}

func (r *AccountRepo) insertSessions(ctx context.Context, tx pgx.Tx, accountID string, list []sessions.Session) error {
	if len(list) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for i, s := range list {
		batch.Queue(`
			INSERT INTO `+r.sessions+` (
				account_id, position, id, fingerprint, token,
				created_at, last_activity, client_descriptor, network_address
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, accountID, i, s.ID, s.Fingerprint, s.Token,
			s.CreatedAt, s.LastActivity, s.Metadata.ClientDescriptor, s.Metadata.NetworkAddress)
	}

	return tx.SendBatch(ctx, batch).Close()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505" // unique_violation
}
