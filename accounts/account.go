package accounts

import (
	"context"
	"errors"
	"time"

	"github.com/jrsteele09/go-device-sessions/sessions"
)

var (
	// ErrNotFound is returned when no account matches the lookup.
	ErrNotFound = sessions.ErrAccountNotFound

	// ErrIdentityTaken is returned when creating an account whose identity already exists.
	ErrIdentityTaken = errors.New("identity already registered")
)

// Role is the authorization role of an account
type Role string

const (
	RoleStandard Role = "standard"
	RoleAdmin    Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleStandard || r == RoleAdmin
}

// Tier is the entitlement tier of an account; it determines the device ceiling.
type Tier string

const (
	TierBase     Tier = "base"
	TierUpgraded Tier = "upgraded"
)

// TierFor maps the upgraded flag to a tier.
func TierFor(upgraded bool) Tier {
	if upgraded {
		return TierUpgraded
	}
	return TierBase
}

// Ceiling is the maximum number of concurrent device sessions the tier permits.
func (t Tier) Ceiling() int {
	if t == TierUpgraded {
		return 2
	}
	return 1
}

// MaxCeiling is the highest ceiling any tier grants.
const MaxCeiling = 2

type Account struct {
	ID           string             `json:"id"`
	Identity     string             `json:"identity"` // Login identity (normalised e-mail)
	Name         string             `json:"name,omitempty"`
	PasswordHash string             `json:"-"` // One-way hash of the secret - never serialize
	Role         Role               `json:"role"`
	Tier         Tier               `json:"tier"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
	Sessions     []sessions.Session `json:"sessions,omitempty"`
}

func (a *Account) Ceiling() int {
	return a.Tier.Ceiling()
}

func (a *Account) IsUpgraded() bool {
	return a.Tier == TierUpgraded
}

func (a *Account) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// Summary is the public view of an account returned by the lifecycle operations.
type Summary struct {
	ID       string `json:"id"`
	Identity string `json:"identity"`
	Name     string `json:"name,omitempty"`
	Role     Role   `json:"role"`
	Tier     Tier   `json:"tier"`
	Ceiling  int    `json:"max_devices"`
}

func (a *Account) Summary() Summary {
	return Summary{
		ID:       a.ID,
		Identity: a.Identity,
		Name:     a.Name,
		Role:     a.Role,
		Tier:     a.Tier,
		Ceiling:  a.Ceiling(),
	}
}

// Repo is the credential store. It also persists each account's session sequence.
// Deleting an account deletes its sessions with it.
type Repo interface {
	sessions.Repo

	Create(ctx context.Context, account *Account) error
	GetByID(ctx context.Context, id string) (*Account, error)
	GetByIdentity(ctx context.Context, identity string) (*Account, error)
	SetTier(ctx context.Context, id string, tier Tier) error
	Delete(ctx context.Context, id string) error
	// List returns every account ordered by identity, without sessions.
	List(ctx context.Context) ([]*Account, error)
}
