package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/siarheistar/psc-accounting-app-sub002/internal/ids"
)

// Directory maps external identities onto internal users, provisioning them on
// first sight.
type Directory struct {
	users       UserStore
	now         func() time.Time
	newID       func() string
	onProvision func(context.Context, User)
}

// DirectoryOption configures Directory.
type DirectoryOption func(*Directory)

// WithDirectoryClock overrides the clock used for created_at and last_login_at.
func WithDirectoryClock(now func() time.Time) DirectoryOption {
	return func(d *Directory) {
		if now != nil {
			d.now = now
		}
	}
}

// WithIDGenerator overrides the id source for new users.
func WithIDGenerator(fn func() string) DirectoryOption {
	return func(d *Directory) {
		if fn != nil {
			d.newID = fn
		}
	}
}

// WithProvisionHook is called after a user row is created by this directory.
func WithProvisionHook(fn func(context.Context, User)) DirectoryOption {
	return func(d *Directory) {
		d.onProvision = fn
	}
}

// NewDirectory constructs a Directory over the given store.
func NewDirectory(users UserStore, opts ...DirectoryOption) *Directory {
	d := &Directory{
		users: users,
		now:   time.Now,
		newID: ids.New,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// FindOrCreate returns the active user for the identity, creating it when the
// subject has never been seen. An existing user's profile is left as stored;
// only last_login_at moves. A concurrent first login for the same subject
// resolves to the row that won the insert.
func (d *Directory) FindOrCreate(ctx context.Context, id ExternalIdentity) (User, error) {
	subject := strings.TrimSpace(id.Subject)
	if subject == "" {
		return User{}, fmt.Errorf("%w: empty subject", ErrCredentialInvalid)
	}
	now := d.now().UTC()

	u, err := d.users.TouchActiveBySubject(ctx, subject, now)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return User{}, fmt.Errorf("touch user: %w", err)
	}

	created, err := d.users.InsertUser(ctx, User{
		ID:              d.newID(),
		ExternalSubject: subject,
		Email:           strings.TrimSpace(id.Email),
		DisplayName:     id.DisplayName,
		AvatarURL:       id.AvatarURL,
		Status:          StatusActive,
		CreatedAt:       now,
		LastLoginAt:     now,
	})
	if err == nil {
		if d.onProvision != nil {
			d.onProvision(ctx, created)
		}
		return created, nil
	}
	if !errors.Is(err, ErrConflict) {
		return User{}, fmt.Errorf("insert user: %w", err)
	}

	winner, err := d.users.FindActiveBySubject(ctx, subject)
	if errors.Is(err, ErrNotFound) {
		// the subject exists but is not active
		return User{}, ErrUserDisabled
	}
	if err != nil {
		return User{}, fmt.Errorf("reread user: %w", err)
	}
	return winner, nil
}
