// Package memory keeps users, companies and grants in process memory. It
// backs local development and tests and honours the same uniqueness rules as
// the PostgreSQL schema.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/siarheistar/psc-accounting-app-sub002/internal/auth"
)

type grantKey struct {
	userID    string
	companyID string
}

// Store implements auth.UserStore, auth.TenantStore and auth.RevocationStore.
type Store struct {
	mu          sync.RWMutex
	users       map[string]auth.User // by id
	bySubject   map[string]string    // subject -> id
	companies   map[string]auth.Company
	grants      map[grantKey]auth.Grant
	revocations map[string]time.Time
}

var (
	_ auth.UserStore       = (*Store)(nil)
	_ auth.TenantStore     = (*Store)(nil)
	_ auth.RevocationStore = (*Store)(nil)
)

func New() *Store {
	return &Store{
		users:       make(map[string]auth.User),
		bySubject:   make(map[string]string),
		companies:   make(map[string]auth.Company),
		grants:      make(map[grantKey]auth.Grant),
		revocations: make(map[string]time.Time),
	}
}

func (s *Store) TouchActiveBySubject(ctx context.Context, subject string, at time.Time) (auth.User, error) {
	if err := ctx.Err(); err != nil {
		return auth.User{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.bySubject[subject]
	if !ok {
		return auth.User{}, auth.ErrNotFound
	}
	u := s.users[id]
	if !u.Active() {
		return auth.User{}, auth.ErrNotFound
	}
	u.LastLoginAt = at
	s.users[id] = u
	return u, nil
}

func (s *Store) InsertUser(ctx context.Context, u auth.User) (auth.User, error) {
	if err := ctx.Err(); err != nil {
		return auth.User{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bySubject[u.ExternalSubject]; ok {
		return auth.User{}, auth.ErrConflict
	}
	if _, ok := s.users[u.ID]; ok {
		return auth.User{}, auth.ErrConflict
	}
	s.users[u.ID] = u
	s.bySubject[u.ExternalSubject] = u.ID
	return u, nil
}

func (s *Store) FindActiveBySubject(ctx context.Context, subject string) (auth.User, error) {
	if err := ctx.Err(); err != nil {
		return auth.User{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.bySubject[subject]
	if !ok {
		return auth.User{}, auth.ErrNotFound
	}
	u := s.users[id]
	if !u.Active() {
		return auth.User{}, auth.ErrNotFound
	}
	return u, nil
}

func (s *Store) ActiveGrant(ctx context.Context, userID, companyID string) (auth.Grant, error) {
	if err := ctx.Err(); err != nil {
		return auth.Grant{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.grants[grantKey{userID, companyID}]
	if !ok || !g.Active() {
		return auth.Grant{}, auth.ErrNotFound
	}
	if u, ok := s.users[userID]; !ok || !u.Active() {
		return auth.Grant{}, auth.ErrNotFound
	}
	return cloneGrant(g), nil
}

func (s *Store) Company(ctx context.Context, companyID string) (auth.Company, error) {
	if err := ctx.Err(); err != nil {
		return auth.Company{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.companies[companyID]
	if !ok {
		return auth.Company{}, auth.ErrNotFound
	}
	return c, nil
}

func (s *Store) DemoCompany(ctx context.Context) (auth.Company, error) {
	if err := ctx.Err(); err != nil {
		return auth.Company{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.companies {
		if c.IsDemo && c.Active() {
			return c, nil
		}
	}
	return auth.Company{}, auth.ErrNotFound
}

func (s *Store) Memberships(ctx context.Context, userID string) ([]auth.Membership, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []auth.Membership
	for k, g := range s.grants {
		if k.userID != userID || !g.Active() {
			continue
		}
		c, ok := s.companies[k.companyID]
		if !ok || !c.Active() {
			continue
		}
		out = append(out, auth.Membership{Company: c, Grant: cloneGrant(g)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Company.Name != out[j].Company.Name {
			return out[i].Company.Name < out[j].Company.Name
		}
		return out[i].Company.ID < out[j].Company.ID
	})
	return out, nil
}

func (s *Store) Members(ctx context.Context, companyID string) ([]auth.Member, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []auth.Member
	for k, g := range s.grants {
		if k.companyID != companyID || !g.Active() {
			continue
		}
		u, ok := s.users[k.userID]
		if !ok || !u.Active() {
			continue
		}
		out = append(out, auth.Member{User: u, Grant: cloneGrant(g)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].User.ID < out[j].User.ID })
	return out, nil
}

func (s *Store) RevokedBefore(ctx context.Context, subject string) (time.Time, bool, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.revocations[subject]
	return t, ok, nil
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// PutCompany inserts or replaces a company. Only one active demo company is
// kept; flagging another one fails with auth.ErrConflict.
func (s *Store) PutCompany(c auth.Company) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.IsDemo {
		for id, other := range s.companies {
			if id != c.ID && other.IsDemo {
				return auth.ErrConflict
			}
		}
	}
	if c.Status == "" {
		c.Status = auth.StatusActive
	}
	s.companies[c.ID] = c
	return nil
}

// PutUser inserts or replaces a user.
func (s *Store) PutUser(u auth.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.bySubject[u.ExternalSubject]; ok && id != u.ID {
		return auth.ErrConflict
	}
	if u.Status == "" {
		u.Status = auth.StatusActive
	}
	s.users[u.ID] = u
	s.bySubject[u.ExternalSubject] = u.ID
	return nil
}

// PutGrant inserts or replaces the grant for (user, company). The user and
// company must exist.
func (s *Store) PutGrant(g auth.Grant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[g.UserID]; !ok {
		return auth.ErrNotFound
	}
	if _, ok := s.companies[g.CompanyID]; !ok {
		return auth.ErrNotFound
	}
	if g.Status == "" {
		g.Status = auth.StatusActive
	}
	s.grants[grantKey{g.UserID, g.CompanyID}] = cloneGrant(g)
	return nil
}

// Revoke invalidates credentials of subject issued at or before cutoff.
func (s *Store) Revoke(subject string, cutoff time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revocations[subject] = cutoff
}

// UserCount reports how many users are stored.
func (s *Store) UserCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}

func cloneGrant(g auth.Grant) auth.Grant {
	if g.Overrides != nil {
		o := make(map[string]bool, len(g.Overrides))
		for k, v := range g.Overrides {
			o[k] = v
		}
		g.Overrides = o
	}
	return g
}
