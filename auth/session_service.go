package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/jrsteele09/go-device-sessions/accounts"
	"github.com/jrsteele09/go-device-sessions/device"
	"github.com/jrsteele09/go-device-sessions/internal/metrics"
	"github.com/jrsteele09/go-device-sessions/sessions"
	"github.com/jrsteele09/go-device-sessions/token"
)

const defaultInactivityThreshold = 24 * time.Hour

// dummyPassword is hashed once at construction so logins for unknown identities
// spend the same hashing work as a wrong password.
const dummyPassword = "device-sessions-unknown-identity"

// Repos holds the repository dependencies of the SessionService
type Repos struct {
	Accounts accounts.Repo // Credential store, also persists each account's sessions
}

// SessionService owns the device-session lifecycle: registration, login with the
// per-account device ceiling, logout, device removal, the authentication gate and
// entitlement changes.
type SessionService struct {
	repos      Repos
	store      *sessions.Store
	issuer     *token.Issuer
	hasher     accounts.PasswordHasher
	dummyHash  string
	validator  *Validator
	admins     map[string]struct{}
	inactivity time.Duration
	nowTime    func() time.Time
	log        zerolog.Logger
	metrics    *metrics.Metrics
}

// SessionServiceOption defines a function type to modify the SessionService instance.
type SessionServiceOption func(*SessionService)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) SessionServiceOption {
	return func(ss *SessionService) {
		ss.nowTime = nowFunc
	}
}

// WithPasswordHasher replaces the default bcrypt hasher.
func WithPasswordHasher(hasher accounts.PasswordHasher) SessionServiceOption {
	return func(ss *SessionService) {
		ss.hasher = hasher
	}
}

// WithInactivityThreshold sets the age after which Login reaps an idle session of the
// account before counting. A non-positive threshold disables reaping on login.
func WithInactivityThreshold(threshold time.Duration) SessionServiceOption {
	return func(ss *SessionService) {
		ss.inactivity = threshold
	}
}

// WithAdminIdentities grants the admin role to accounts registered with these identities.
func WithAdminIdentities(identities ...string) SessionServiceOption {
	return func(ss *SessionService) {
		for _, identity := range identities {
			if identity = normalizeIdentity(identity); identity != "" {
				ss.admins[identity] = struct{}{}
			}
		}
	}
}

func WithLogger(log zerolog.Logger) SessionServiceOption {
	return func(ss *SessionService) {
		ss.log = log
	}
}

func WithMetrics(m *metrics.Metrics) SessionServiceOption {
	return func(ss *SessionService) {
		ss.metrics = m
	}
}

// NewSessionService initializes a new SessionService with required dependencies.
func NewSessionService(
	repos Repos,
	store *sessions.Store,
	issuer *token.Issuer,
	options ...SessionServiceOption,
) (*SessionService, error) {
	if repos.Accounts == nil {
		return nil, errors.New("[NewSessionService] Accounts repo is required")
	}
	if store == nil {
		return nil, errors.New("[NewSessionService] session store is required")
	}
	if issuer == nil {
		return nil, errors.New("[NewSessionService] token issuer is required")
	}

	ss := &SessionService{
		repos:      repos,
		store:      store,
		issuer:     issuer,
		hasher:     accounts.BcryptHasher{},
		validator:  NewValidator(),
		admins:     make(map[string]struct{}),
		inactivity: defaultInactivityThreshold,
		nowTime:    store.Now,
		log:        zerolog.Nop(),
	}

	for _, opt := range options {
		opt(ss)
	}

	dummyHash, err := ss.hasher.Hash(dummyPassword)
	if err != nil {
		return nil, errors.Wrap(err, "[NewSessionService] hash dummy password")
	}
	ss.dummyHash = dummyHash

	return ss, nil
}

// Register creates a base-tier account together with its first device session.
// Either both exist afterwards or neither does.
func (ss *SessionService) Register(ctx context.Context, req RegisterRequest) (*LoginResult, error) {
	identity := normalizeIdentity(req.Identity)
	if err := ss.validator.ValidateRegistration(identity, req.Password); err != nil {
		return nil, errors.Wrap(ErrInvalidInput, err.Error())
	}

	hash, err := ss.hasher.Hash(req.Password)
	if err != nil {
		return nil, errors.Wrap(err, "[Register] hash password")
	}

	role := accounts.RoleStandard
	if _, ok := ss.admins[identity]; ok {
		role = accounts.RoleAdmin
	}

	now := ss.nowTime()
	account := &accounts.Account{
		ID:           uuid.NewString(),
		Identity:     identity,
		Name:         strings.TrimSpace(req.Name),
		PasswordHash: hash,
		Role:         role,
		Tier:         accounts.TierBase,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	fingerprint := device.Fingerprint(req.Metadata)
	signed, expiresAt, err := ss.issuer.Issue(account.ID, string(account.Role), fingerprint)
	if err != nil {
		return nil, errors.Wrap(err, "[Register] issue token")
	}
	account.Sessions = []sessions.Session{sessions.NewSession(fingerprint, signed, req.Metadata, now)}

	if err := ss.createAccount(ctx, account); err != nil {
		ss.metrics.Login(metrics.LoginRegistrationRefused)
		if errors.Is(err, ErrAccountExists) {
			return nil, ErrAccountExists
		}
		return nil, errors.Wrap(err, "[Register] create account")
	}

	ss.log.Info().
		Str("account_id", account.ID).
		Str("fingerprint", fingerprint).
		Msg("account registered")
	ss.metrics.Login(metrics.LoginRegistered)

	return &LoginResult{
		Account:   account.Summary(),
		Token:     signed,
		ExpiresAt: expiresAt.Unix(),
	}, nil
}

// Login verifies the credentials and admits the device. A device that already holds a
// session is refreshed in place regardless of the ceiling; a new device is admitted only
// while the account is below its ceiling.
func (ss *SessionService) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	identity := normalizeIdentity(req.Identity)

	account, err := ss.getAccountByIdentity(ctx, identity)
	if errors.Is(err, ErrAccountNotFound) {
		ss.hasher.Compare(req.Password, ss.dummyHash)
		ss.log.Info().Str("reason", "unknown_identity").Msg("login rejected")
		ss.metrics.Login(metrics.LoginInvalidCredentials)
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		ss.metrics.Login(metrics.LoginStorageUnavailable)
		return nil, errors.Wrap(err, "[Login] lookup account")
	}

	if !ss.hasher.Compare(req.Password, account.PasswordHash) {
		ss.log.Info().Str("account_id", account.ID).Str("reason", "wrong_password").Msg("login rejected")
		ss.metrics.Login(metrics.LoginInvalidCredentials)
		return nil, ErrInvalidCredentials
	}

	fingerprint := device.Fingerprint(req.Metadata)

	var (
		result   LoginResult
		limitErr error
		reaped   int
	)
	err = ss.store.Update(ctx, account.ID, func(tx *sessions.Tx) error {
		// Re-read under the lock so a concurrent entitlement change is honoured.
		current, err := ss.getAccount(tx.Context(), account.ID)
		if err != nil {
			return err
		}

		if ss.inactivity > 0 {
			reaped = tx.RemoveInactiveSince(tx.Now().Add(-ss.inactivity))
		}

		_, known := tx.FindDevice(fingerprint)
		if !known {
			ceiling := current.Ceiling()
			if tx.SessionCount() >= ceiling {
				// Returning nil keeps any sessions reaped above.
				limitErr = DeviceLimitError{Ceiling: ceiling, UpgradeWouldHelp: ceiling < accounts.MaxCeiling}
				return nil
			}
		}

		signed, expiresAt, err := ss.issuer.Issue(current.ID, string(current.Role), fingerprint)
		if err != nil {
			return errors.Wrap(err, "issue token")
		}
		tx.UpsertSession(fingerprint, signed, req.Metadata)

		result = LoginResult{
			Account:   current.Summary(),
			Token:     signed,
			ExpiresAt: expiresAt.Unix(),
			Refreshed: known,
		}
		return nil
	})
	if err == nil {
		ss.metrics.Reaped(reaped)
	}

	switch {
	case errors.Is(err, ErrAccountNotFound):
		ss.log.Info().Str("account_id", account.ID).Str("reason", "account_deleted").Msg("login rejected")
		ss.metrics.Login(metrics.LoginInvalidCredentials)
		return nil, ErrInvalidCredentials
	case err != nil:
		ss.metrics.Login(metrics.LoginStorageUnavailable)
		return nil, errors.Wrap(err, "[Login] admit device")
	case limitErr != nil:
		ss.log.Info().
			Str("account_id", account.ID).
			Str("fingerprint", fingerprint).
			Str("reason", "device_limit").
			Msg("login rejected")
		ss.metrics.Login(metrics.LoginDeviceLimit)
		return nil, limitErr
	}

	outcome := metrics.LoginCreated
	if result.Refreshed {
		outcome = metrics.LoginRefreshed
	}
	ss.metrics.Login(outcome)
	ss.log.Debug().
		Str("account_id", account.ID).
		Str("fingerprint", fingerprint).
		Bool("refreshed", result.Refreshed).
		Int("reaped", reaped).
		Msg("login accepted")

	return &result, nil
}

// Logout removes the session of the device the request comes from.
func (ss *SessionService) Logout(ctx context.Context, principal Principal, md device.Metadata) error {
	fingerprint := device.Fingerprint(md)
	if fingerprint != principal.Fingerprint {
		ss.log.Debug().
			Str("account_id", principal.AccountID).
			Str("fingerprint", fingerprint).
			Str("token_fingerprint", principal.Fingerprint).
			Msg("logout from a device other than the one the token was issued to")
	}

	var removed bool
	err := ss.store.Update(ctx, principal.AccountID, func(tx *sessions.Tx) error {
		removed = tx.RemoveSession(fingerprint)
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "[Logout] remove session")
	}

	if removed {
		ss.metrics.Revoked("logout", 1)
	}
	return nil
}

// LogoutAll removes every session of the account and returns how many were removed.
func (ss *SessionService) LogoutAll(ctx context.Context, principal Principal) (int, error) {
	var removed int
	err := ss.store.Update(ctx, principal.AccountID, func(tx *sessions.Tx) error {
		removed = tx.RemoveAllSessions()
		return nil
	})
	if err != nil {
		return 0, errors.Wrap(err, "[LogoutAll] remove sessions")
	}

	ss.metrics.Revoked("logout_all", removed)
	ss.log.Info().Str("account_id", principal.AccountID).Int("removed", removed).Msg("logged out of all devices")
	return removed, nil
}

// RemoveDevice evicts one of the account's sessions by fingerprint. Removing a device
// that holds no session is not an error; the result reports whether one was removed.
func (ss *SessionService) RemoveDevice(ctx context.Context, principal Principal, fingerprint string) (bool, error) {
	fingerprint = strings.TrimSpace(fingerprint)
	if err := ss.validator.ValidateFingerprint(fingerprint); err != nil {
		return false, errors.Wrap(ErrInvalidInput, "[RemoveDevice] "+err.Error())
	}

	var removed bool
	err := ss.store.Update(ctx, principal.AccountID, func(tx *sessions.Tx) error {
		removed = tx.RemoveSession(fingerprint)
		return nil
	})
	if err != nil {
		return false, errors.Wrap(err, "[RemoveDevice] remove session")
	}

	if removed {
		ss.metrics.Revoked("device_removed", 1)
	}
	return removed, nil
}

// Authenticate is the request gate. The token must verify and must still be the
// credential of one of the account's live sessions; that session is then touched.
func (ss *SessionService) Authenticate(ctx context.Context, rawToken string) (Principal, error) {
	rawToken = strings.TrimSpace(rawToken)

	identity, err := ss.issuer.Verify(rawToken)
	if err != nil {
		ss.metrics.AuthRejected(rejectionReason(err))
		return Principal{}, err
	}
	role := accounts.Role(identity.Role)
	if !role.Valid() {
		ss.metrics.AuthRejected(rejectionReason(ErrTokenInvalid))
		return Principal{}, errors.Wrapf(ErrTokenInvalid, "[Authenticate] unknown role %q", identity.Role)
	}

	err = ss.store.Update(ctx, identity.AccountID, func(tx *sessions.Tx) error {
		if !tx.TokenBelongsToActiveSession(rawToken) {
			return ErrStaleSession
		}
		tx.Touch(identity.Fingerprint)
		return nil
	})
	switch {
	case errors.Is(err, ErrStaleSession), errors.Is(err, ErrAccountNotFound):
		ss.metrics.AuthRejected(rejectionReason(err))
		return Principal{}, err
	case err != nil:
		ss.metrics.AuthRejected(rejectionReason(err))
		return Principal{}, errors.Wrap(err, "[Authenticate] check session")
	}

	return Principal{
		AccountID:   identity.AccountID,
		Role:        role,
		Fingerprint: identity.Fingerprint,
	}, nil
}

// ChangeEntitlement moves the account between tiers. Sessions above a lowered ceiling
// are kept; the ceiling only applies when a new device is admitted.
func (ss *SessionService) ChangeEntitlement(ctx context.Context, accountID string, upgraded bool) (accounts.Summary, error) {
	tier := accounts.TierFor(upgraded)

	var summary accounts.Summary
	err := ss.store.Exclusive(ctx, accountID, func(ctx context.Context) error {
		if err := ss.setTier(ctx, accountID, tier); err != nil {
			return err
		}
		account, err := ss.getAccount(ctx, accountID)
		if err != nil {
			return err
		}
		summary = account.Summary()

		if count := len(account.Sessions); count > account.Ceiling() {
			ss.log.Warn().
				Str("account_id", accountID).
				Int("sessions", count).
				Int("ceiling", account.Ceiling()).
				Msg("sessions exceed the lowered ceiling and are kept until logout or reaping")
		}
		return nil
	})
	if errors.Is(err, ErrAccountNotFound) {
		return accounts.Summary{}, ErrAccountNotFound
	}
	if err != nil {
		return accounts.Summary{}, errors.Wrap(err, "[ChangeEntitlement] set tier")
	}

	ss.log.Info().Str("account_id", accountID).Str("tier", string(tier)).Msg("entitlement changed")
	return summary, nil
}

// ListDevices returns the account's active sessions, marking the one the caller uses.
func (ss *SessionService) ListDevices(ctx context.Context, principal Principal) (*DeviceList, error) {
	account, devices, err := ss.accountDevices(ctx, principal.AccountID, principal.Fingerprint)
	if errors.Is(err, ErrAccountNotFound) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "[ListDevices] load sessions")
	}
	return &DeviceList{Tier: account.Tier, Ceiling: account.Ceiling(), Devices: devices}, nil
}

// AccountDetail returns an account's summary with all of its active sessions.
func (ss *SessionService) AccountDetail(ctx context.Context, accountID string) (*AccountDetail, error) {
	account, devices, err := ss.accountDevices(ctx, accountID, "")
	if errors.Is(err, ErrAccountNotFound) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "[AccountDetail] load sessions")
	}
	return &AccountDetail{Account: account.Summary(), Devices: devices}, nil
}

// ListAccounts returns the summaries of all accounts ordered by identity.
func (ss *SessionService) ListAccounts(ctx context.Context) ([]accounts.Summary, error) {
	ctx, cancel := ss.storageContext(ctx)
	defer cancel()
	list, err := ss.repos.Accounts.List(ctx)
	if err != nil {
		return nil, errors.Wrap(storageError("list accounts", err), "[ListAccounts]")
	}
	summaries := make([]accounts.Summary, 0, len(list))
	for _, account := range list {
		summaries = append(summaries, account.Summary())
	}
	return summaries, nil
}

// accountDevices reads the account and its sessions under the account lock.
// A session whose fingerprint equals current is marked as the caller's device.
func (ss *SessionService) accountDevices(ctx context.Context, accountID, current string) (*accounts.Account, []Device, error) {
	var (
		account *accounts.Account
		devices []Device
	)
	err := ss.store.View(ctx, accountID, func(tx *sessions.Tx) error {
		var err error
		account, err = ss.getAccount(tx.Context(), accountID)
		if err != nil {
			return err
		}

		devices = make([]Device, 0, tx.SessionCount())
		for _, s := range tx.Sessions() {
			devices = append(devices, Device{
				ID:               s.ID,
				Fingerprint:      s.Fingerprint,
				ClientDescriptor: s.Metadata.ClientDescriptor,
				NetworkAddress:   s.Metadata.NetworkAddress,
				CreatedAt:        s.CreatedAt.Unix(),
				LastActivity:     s.LastActivity.Unix(),
				Current:          current != "" && s.Fingerprint == current,
			})
		}
		return nil
	})
	return account, devices, err
}

// DeleteAccount clears the account's sessions and then deletes it.
func (ss *SessionService) DeleteAccount(ctx context.Context, accountID string) error {
	var cleared int
	err := ss.store.Exclusive(ctx, accountID, func(ctx context.Context) error {
		existing, err := ss.loadSessions(ctx, accountID)
		if err != nil {
			return err
		}
		cleared = len(existing)
		if err := ss.saveSessions(ctx, accountID, nil); err != nil {
			return err
		}
		return ss.deleteAccount(ctx, accountID)
	})
	if errors.Is(err, ErrAccountNotFound) {
		return ErrAccountNotFound
	}
	if err != nil {
		return errors.Wrap(err, "[DeleteAccount] delete account")
	}

	ss.metrics.Revoked("account_deleted", cleared)
	ss.log.Info().Str("account_id", accountID).Int("sessions_cleared", cleared).Msg("account deleted")
	return nil
}

// Account returns the public view of an account.
func (ss *SessionService) Account(ctx context.Context, accountID string) (accounts.Summary, error) {
	account, err := ss.getAccount(context.WithoutCancel(ctx), accountID)
	if errors.Is(err, ErrAccountNotFound) {
		return accounts.Summary{}, ErrAccountNotFound
	}
	if err != nil {
		return accounts.Summary{}, errors.Wrap(err, "[Account] lookup account")
	}
	return account.Summary(), nil
}

// RequireUpgraded returns ErrUpgradeRequired unless the principal's account is on the upgraded tier.
func (ss *SessionService) RequireUpgraded(ctx context.Context, principal Principal) error {
	upgraded, err := ss.IsUpgraded(ctx, principal)
	if err != nil {
		return err
	}
	if !upgraded {
		return ErrUpgradeRequired
	}
	return nil
}

// IsUpgraded reports whether the principal's account is on the upgraded tier.
func (ss *SessionService) IsUpgraded(ctx context.Context, principal Principal) (bool, error) {
	summary, err := ss.Account(ctx, principal.AccountID)
	if err != nil {
		return false, err
	}
	return summary.Tier == accounts.TierUpgraded, nil
}

func (ss *SessionService) storageContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), ss.store.StorageTimeout())
}

// storageError keeps ErrAccountNotFound and classifies anything else as a storage failure.
func storageError(op string, err error) error {
	if err == nil || errors.Is(err, ErrAccountNotFound) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrStorageUnavailable, op, err)
}

func (ss *SessionService) getAccount(ctx context.Context, accountID string) (*accounts.Account, error) {
	ctx, cancel := ss.storageContext(ctx)
	defer cancel()
	account, err := ss.repos.Accounts.GetByID(ctx, accountID)
	return account, storageError("get account", err)
}

func (ss *SessionService) getAccountByIdentity(ctx context.Context, identity string) (*accounts.Account, error) {
	if identity == "" {
		return nil, ErrAccountNotFound
	}
	ctx, cancel := ss.storageContext(ctx)
	defer cancel()
	account, err := ss.repos.Accounts.GetByIdentity(ctx, identity)
	return account, storageError("get account by identity", err)
}

func (ss *SessionService) createAccount(ctx context.Context, account *accounts.Account) error {
	ctx, cancel := ss.storageContext(ctx)
	defer cancel()
	err := ss.repos.Accounts.Create(ctx, account)
	if errors.Is(err, accounts.ErrIdentityTaken) {
		return ErrAccountExists
	}
	return storageError("create account", err)
}

func (ss *SessionService) setTier(ctx context.Context, accountID string, tier accounts.Tier) error {
	ctx, cancel := ss.storageContext(ctx)
	defer cancel()
	return storageError("set tier", ss.repos.Accounts.SetTier(ctx, accountID, tier))
}

func (ss *SessionService) loadSessions(ctx context.Context, accountID string) ([]sessions.Session, error) {
	ctx, cancel := ss.storageContext(ctx)
	defer cancel()
	list, err := ss.repos.Accounts.LoadSessions(ctx, accountID)
	return list, storageError("load sessions", err)
}

func (ss *SessionService) saveSessions(ctx context.Context, accountID string, list []sessions.Session) error {
	ctx, cancel := ss.storageContext(ctx)
	defer cancel()
	return storageError("save sessions", ss.repos.Accounts.SaveSessions(ctx, accountID, list))
}

func (ss *SessionService) deleteAccount(ctx context.Context, accountID string) error {
	ctx, cancel := ss.storageContext(ctx)
	defer cancel()
	return storageError("delete account", ss.repos.Accounts.Delete(ctx, accountID))
}

func normalizeIdentity(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrTokenExpired):
		return "token_expired"
	case errors.Is(err, ErrTokenMalformed):
		return "token_malformed"
	case errors.Is(err, ErrTokenInvalid):
		return "token_invalid"
	case errors.Is(err, ErrStaleSession):
		return "stale_session"
	case errors.Is(err, ErrAccountNotFound):
		return "account_not_found"
	default:
		return "storage_unavailable"
	}
}
