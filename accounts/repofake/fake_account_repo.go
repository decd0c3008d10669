package fakeaccountrepo

import (
	"context"
	"sort"
	"sync"

	"github.com/jrsteele09/go-device-sessions/accounts"
	"github.com/jrsteele09/go-device-sessions/sessions"
)

var _ accounts.Repo = (*FakeAccountRepo)(nil)

// FakeAccountRepo is an in-memory accounts.Repo. Values are copied on the way in and out.
type FakeAccountRepo struct {
	accounts   map[string]*accounts.Account
	identities map[string]string // identity to account id
	failWith   error
	lock       sync.RWMutex
}

func NewFakeAccountRepo() *FakeAccountRepo {
	return &FakeAccountRepo{
		accounts:   make(map[string]*accounts.Account),
		identities: make(map[string]string),
	}
}

// FailWith makes every subsequent call return err; nil restores normal behaviour.
func (ar *FakeAccountRepo) FailWith(err error) {
	ar.lock.Lock()
	defer ar.lock.Unlock()
	ar.failWith = err
}

func (ar *FakeAccountRepo) Create(_ context.Context, account *accounts.Account) error {
	ar.lock.Lock()
	defer ar.lock.Unlock()

	if ar.failWith != nil {
		return ar.failWith
	}
	if _, ok := ar.identities[account.Identity]; ok {
		return accounts.ErrIdentityTaken
	}
	ar.accounts[account.ID] = cloneAccount(account)
	ar.identities[account.Identity] = account.ID
	return nil
}

func (ar *FakeAccountRepo) GetByID(_ context.Context, id string) (*accounts.Account, error) {
	ar.lock.RLock()
	defer ar.lock.RUnlock()

	if ar.failWith != nil {
		return nil, ar.failWith
	}
	account, ok := ar.accounts[id]
	if !ok {
		return nil, accounts.ErrNotFound
	}
	return cloneAccount(account), nil
}

func (ar *FakeAccountRepo) GetByIdentity(_ context.Context, identity string) (*accounts.Account, error) {
	ar.lock.RLock()
	defer ar.lock.RUnlock()

	if ar.failWith != nil {
		return nil, ar.failWith
	}
	id, ok := ar.identities[identity]
	if !ok {
		return nil, accounts.ErrNotFound
	}
	return cloneAccount(ar.accounts[id]), nil
}

func (ar *FakeAccountRepo) SetTier(_ context.Context, id string, tier accounts.Tier) error {
	ar.lock.Lock()
	defer ar.lock.Unlock()

	if ar.failWith != nil {
		return ar.failWith
	}
	account, ok := ar.accounts[id]
	if !ok {
		return accounts.ErrNotFound
	}
	account.Tier = tier
	return nil
}

func (ar *FakeAccountRepo) Delete(_ context.Context, id string) error {
	ar.lock.Lock()
	defer ar.lock.Unlock()

	if ar.failWith != nil {
		return ar.failWith
	}
	account, ok := ar.accounts[id]
	if !ok {
		return accounts.ErrNotFound
	}
	delete(ar.identities, account.Identity)
	delete(ar.accounts, id)
	return nil
}

func (ar *FakeAccountRepo) List(_ context.Context) ([]*accounts.Account, error) {
	ar.lock.RLock()
	defer ar.lock.RUnlock()

	if ar.failWith != nil {
		return nil, ar.failWith
	}
	list := make([]*accounts.Account, 0, len(ar.accounts))
	for _, account := range ar.accounts {
		c := *account
		c.Sessions = nil
		list = append(list, &c)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Identity < list[j].Identity })
	return list, nil
}

func (ar *FakeAccountRepo) LoadSessions(_ context.Context, accountID string) ([]sessions.Session, error) {
	ar.lock.RLock()
	defer ar.lock.RUnlock()

	if ar.failWith != nil {
		return nil, ar.failWith
	}
	account, ok := ar.accounts[accountID]
	if !ok {
		return nil, accounts.ErrNotFound
	}
	return cloneSessions(account.Sessions), nil
}

func (ar *FakeAccountRepo) SaveSessions(_ context.Context, accountID string, list []sessions.Session) error {
	ar.lock.Lock()
	defer ar.lock.Unlock()

	if ar.failWith != nil {
		return ar.failWith
	}
	account, ok := ar.accounts[accountID]
	if !ok {
		return accounts.ErrNotFound
	}
	account.Sessions = cloneSessions(list)
	return nil
}

func (ar *FakeAccountRepo) ListAccountIDs(_ context.Context) ([]string, error) {
	ar.lock.RLock()
	defer ar.lock.RUnlock()

	if ar.failWith != nil {
		return nil, ar.failWith
	}
	ids := make([]string, 0, len(ar.accounts))
	for id, account := range ar.accounts {
		if len(account.Sessions) > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func cloneAccount(a *accounts.Account) *accounts.Account {
	c := *a
	c.Sessions = cloneSessions(a.Sessions)
	return &c
}

func cloneSessions(list []sessions.Session) []sessions.Session {
	if len(list) == 0 {
		return nil
	}
	out := make([]sessions.Session, len(list))
	copy(out, list)
	return out
}
