package postgres_test

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-device-sessions/accounts"
	"github.com/jrsteele09/go-device-sessions/accounts/postgres"
	"github.com/jrsteele09/go-device-sessions/device"
	"github.com/jrsteele09/go-device-sessions/sessions"
)

// Integration tests are opt-in and require DEVSESS_TEST_DATABASE_URL.

func TestAccountRepo_CreateAndGet(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	account := newTestAccount("alice@example.com")
	account.Sessions = []sessions.Session{newTestSession("fp-1", "token-1", time.Now())}
	require.NoError(t, repo.Create(ctx, account))

	byID, err := repo.GetByID(ctx, account.ID)
	require.NoError(t, err)
	require.Equal(t, account.Identity, byID.Identity)
	require.Equal(t, accounts.RoleStandard, byID.Role)
	require.Equal(t, accounts.TierBase, byID.Tier)
	require.Len(t, byID.Sessions, 1)
	require.Equal(t, "token-1", byID.Sessions[0].Token)

	byIdentity, err := repo.GetByIdentity(ctx, "alice@example.com")
	require.NoError(t, err)
	require.Equal(t, account.ID, byIdentity.ID)

	_, err = repo.GetByID(ctx, uuid.NewString())
	require.ErrorIs(t, err, accounts.ErrNotFound)
}

func TestAccountRepo_CreateDuplicateIdentity(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newTestAccount("bob@example.com")))
	err := repo.Create(ctx, newTestAccount("bob@example.com"))
	require.ErrorIs(t, err, accounts.ErrIdentityTaken)
}

func TestAccountRepo_SaveSessionsPreservesOrder(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	account := newTestAccount("carol@example.com")
	require.NoError(t, repo.Create(ctx, account))

	loaded, err := repo.LoadSessions(ctx, account.ID)
	require.NoError(t, err)
	require.Empty(t, loaded)

	now := time.Now().UTC().Truncate(time.Microsecond)
	list := []sessions.Session{
		newTestSession("fp-b", "token-b", now),
		newTestSession("fp-a", "token-a", now.Add(time.Second)),
	}
	require.NoError(t, repo.SaveSessions(ctx, account.ID, list))

	loaded, err = repo.LoadSessions(ctx, account.ID)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	require.Equal(t, "fp-b", loaded[0].Fingerprint)
	require.Equal(t, "fp-a", loaded[1].Fingerprint)
	require.True(t, loaded[1].LastActivity.Equal(now.Add(time.Second)))
	require.Equal(t, "agent/1.0", loaded[0].Metadata.ClientDescriptor)

	ids, err := repo.ListAccountIDs(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{account.ID}, ids)

	require.NoError(t, repo.SaveSessions(ctx, account.ID, nil))
	ids, err = repo.ListAccountIDs(ctx)
	require.NoError(t, err)
	require.Empty(t, ids)

	err = repo.SaveSessions(ctx, uuid.NewString(), list)
	require.ErrorIs(t, err, accounts.ErrNotFound)
	_, err = repo.LoadSessions(ctx, uuid.NewString())
	require.ErrorIs(t, err, accounts.ErrNotFound)
}

func TestAccountRepo_SetTierAndDelete(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	account := newTestAccount("dave@example.com")
	account.Sessions = []sessions.Session{newTestSession("fp-1", "token-1", time.Now())}
	require.NoError(t, repo.Create(ctx, account))

	require.NoError(t, repo.SetTier(ctx, account.ID, accounts.TierUpgraded))
	updated, err := repo.GetByID(ctx, account.ID)
	require.NoError(t, err)
	require.Equal(t, 2, updated.Ceiling())

	require.NoError(t, repo.Delete(ctx, account.ID))
	_, err = repo.LoadSessions(ctx, account.ID)
	require.ErrorIs(t, err, accounts.ErrNotFound)

	ids, err := repo.ListAccountIDs(ctx)
	require.NoError(t, err)
	require.Empty(t, ids)

	require.ErrorIs(t, repo.Delete(ctx, account.ID), accounts.ErrNotFound)
	require.ErrorIs(t, repo.SetTier(ctx, account.ID, accounts.TierBase), accounts.ErrNotFound)
}

func TestAccountRepo_List(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newTestAccount("zoe@example.com")))
	require.NoError(t, repo.Create(ctx, newTestAccount("erin@example.com")))

	list, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "erin@example.com", list[0].Identity)
	require.Equal(t, "zoe@example.com", list[1].Identity)
	require.Equal(t, accounts.TierBase, list[0].Tier)
}

func setupTestRepo(t *testing.T) *postgres.AccountRepo {
	t.Helper()

	dsn := strings.TrimSpace(os.Getenv("DEVSESS_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("integration test skipped: DEVSESS_TEST_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	pool, err := postgres.Open(ctx, postgres.PoolConfig{DSN: dsn, MaxConns: 4})
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	schema := "devsess_it_" + strings.ToLower(ulid.Make().String())
	_, err = pool.Exec(ctx, `CREATE SCHEMA `+pgx.Identifier{schema}.Sanitize())
	require.NoError(t, err)
	t.Cleanup(func() { dropSchema(pool, schema) })

	repo, err := postgres.NewAccountRepo(pool, postgres.WithSchema(schema))
	require.NoError(t, err)
	require.NoError(t, repo.EnsureSchema(ctx))
	return repo
}

func dropSchema(pool *pgxpool.Pool, schema string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, _ = pool.Exec(ctx, `DROP SCHEMA IF EXISTS `+pgx.Identifier{schema}.Sanitize()+` CASCADE`)
}

func newTestAccount(identity string) *accounts.Account {
	now := time.Now().UTC()
	return &accounts.Account{
		ID:           uuid.NewString(),
		Identity:     identity,
		PasswordHash: "hash",
		Role:         accounts.RoleStandard,
		Tier:         accounts.TierBase,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func newTestSession(fingerprint, token string, at time.Time) sessions.Session {
	return sessions.Session{
		ID:           ulid.Make().String(),
		Fingerprint:  fingerprint,
		Token:        token,
		CreatedAt:    at,
		LastActivity: at,
		Metadata:     device.Metadata{ClientDescriptor: "agent/1.0", NetworkAddress: "10.0.0.1"},
	}
}
