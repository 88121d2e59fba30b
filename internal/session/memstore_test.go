package session

import (
	"context"
	"sync"
	"time"

	"auth-service/internal/account"
)

// memStore is an in-memory account.Store with the same uniqueness and
// compare-and-swap guarantees the Postgres implementation gets from the
// database. A single mutex stands in for the store's atomicity.
type memStore struct {
	mu       sync.Mutex
	accounts map[string]*account.Account
	tokens   map[string]tokenRef
	seq      int64

	// createHook, when set, runs inside Create before insertion. Tests use it
	// to simulate losing a creation race.
	createHook func(*account.Account) error
}

type tokenRef struct {
	accountID string
	createdAt time.Time
	seq       int64
}

func newMemStore() *memStore {
	return &memStore{
		accounts: make(map[string]*account.Account),
		tokens:   make(map[string]tokenRef),
	}
}

func (m *memStore) Create(_ context.Context, acct *account.Account) error {
	if err := account.Validate(acct, account.PreSavePipeline()...); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.createHook != nil {
		hook := m.createHook
		m.createHook = nil
		if err := hook(acct); err != nil {
			return err
		}
	}

	for _, existing := range m.accounts {
		if existing.Email == acct.Email {
			return account.ErrDuplicateEmail
		}
		if acct.Username != "" && existing.Username == acct.Username {
			return account.ErrDuplicateUsername
		}
		if acct.GoogleID != "" && existing.GoogleID == acct.GoogleID {
			return account.ErrDuplicateGoogleID
		}
	}

	now := time.Now().UTC()
	acct.CreatedAt = now
	acct.UpdatedAt = now
	m.accounts[acct.ID] = clone(acct)
	return nil
}

func (m *memStore) FindByID(_ context.Context, id string) (*account.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.findLocked(func(a *account.Account) bool { return a.ID == id })
}

func (m *memStore) FindByEmail(_ context.Context, email string) (*account.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.findLocked(func(a *account.Account) bool { return a.Email == email })
}

func (m *memStore) FindByEmailOrUsername(_ context.Context, identifier string) (*account.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.findLocked(func(a *account.Account) bool {
		return a.Email == identifier || (a.Username != "" && a.Username == identifier)
	})
}

func (m *memStore) FindByGoogleID(_ context.Context, googleID string) (*account.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.findLocked(func(a *account.Account) bool {
		return a.GoogleID != "" && a.GoogleID == googleID
	})
}

func (m *memStore) UpdateFields(_ context.Context, id string, fields account.Fields) (*account.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	acct, ok := m.accounts[id]
	if !ok {
		return nil, account.ErrNotFound
	}

	if fields.Username != nil {
		for _, other := range m.accounts {
			if other.ID != id && *fields.Username != "" && other.Username == *fields.Username {
				return nil, account.ErrDuplicateUsername
			}
		}
		acct.Username = *fields.Username
	}
	if fields.FirstName != nil {
		acct.FirstName = *fields.FirstName
	}
	if fields.LastName != nil {
		acct.LastName = *fields.LastName
	}
	if fields.Avatar != nil {
		avatar := *fields.Avatar
		acct.Avatar = &avatar
	}
	if fields.PasswordHash != nil {
		acct.PasswordHash = *fields.PasswordHash
	}
	if fields.LastLogin != nil {
		lastLogin := fields.LastLogin.UTC()
		acct.LastLogin = &lastLogin
	}
	if fields.Active != nil {
		acct.Active = *fields.Active
	}
	if fields.EmailVerified != nil {
		acct.EmailVerified = *fields.EmailVerified
	}
	acct.UpdatedAt = time.Now().UTC()

	return clone(acct), nil
}

func (m *memStore) AppendRefreshToken(_ context.Context, id, tokenHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.accounts[id]; !ok {
		return account.ErrNotFound
	}

	m.appendLocked(id, tokenHash)
	return nil
}

func (m *memStore) RemoveRefreshToken(_ context.Context, id, tokenHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ref, ok := m.tokens[tokenHash]; ok && ref.accountID == id {
		delete(m.tokens, tokenHash)
	}
	return nil
}

func (m *memStore) RotateRefreshToken(_ context.Context, id, oldHash, newHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ref, ok := m.tokens[oldHash]
	if !ok || ref.accountID != id {
		return account.ErrNotFound
	}

	delete(m.tokens, oldHash)
	m.appendLocked(id, newHash)
	return nil
}

func (m *memStore) FindByRefreshToken(_ context.Context, tokenHash string) (*account.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ref, ok := m.tokens[tokenHash]
	if !ok || time.Since(ref.createdAt) > account.RefreshTokenRetention {
		return nil, account.ErrNotFound
	}

	acct, ok := m.accounts[ref.accountID]
	if !ok {
		return nil, account.ErrNotFound
	}
	return clone(acct), nil
}

func (m *memStore) PurgeRefreshTokens(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for hash, ref := range m.tokens {
		if ref.accountID == id {
			delete(m.tokens, hash)
		}
	}
	return nil
}

func (m *memStore) tokenCount(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, ref := range m.tokens {
		if ref.accountID == id {
			count++
		}
	}
	return count
}

func (m *memStore) appendLocked(id, tokenHash string) {
	m.seq++
	m.tokens[tokenHash] = tokenRef{accountID: id, createdAt: time.Now().UTC(), seq: m.seq}

	for {
		count := 0
		oldestHash := ""
		var oldestSeq int64
		for hash, ref := range m.tokens {
			if ref.accountID != id {
				continue
			}
			count++
			if oldestHash == "" || ref.seq < oldestSeq {
				oldestHash = hash
				oldestSeq = ref.seq
			}
		}
		if count <= account.MaxRefreshTokens {
			return
		}
		delete(m.tokens, oldestHash)
	}
}

func (m *memStore) findLocked(match func(*account.Account) bool) (*account.Account, error) {
	for _, acct := range m.accounts {
		if match(acct) {
			return clone(acct), nil
		}
	}
	return nil, account.ErrNotFound
}

func clone(acct *account.Account) *account.Account {
	copied := *acct
	if acct.Avatar != nil {
		avatar := *acct.Avatar
		copied.Avatar = &avatar
	}
	if acct.LastLogin != nil {
		lastLogin := *acct.LastLogin
		copied.LastLogin = &lastLogin
	}
	return &copied
}
