package auth

import (
	"context"
	"time"
)

// UserStore persists internal users keyed by external subject.
type UserStore interface {
	// TouchActiveBySubject sets last_login_at on the active user with the given
	// subject and returns the stored row. ErrNotFound when no active user exists.
	TouchActiveBySubject(ctx context.Context, subject string, at time.Time) (User, error)
	// InsertUser creates the user. ErrConflict when the subject is already taken.
	InsertUser(ctx context.Context, u User) (User, error)
	// FindActiveBySubject reads the active user without writing.
	FindActiveBySubject(ctx context.Context, subject string) (User, error)
}

// TenantStore reads companies and access grants.
type TenantStore interface {
	// ActiveGrant returns the active grant for (user, company) or ErrNotFound.
	ActiveGrant(ctx context.Context, userID, companyID string) (Grant, error)
	// Company returns the company regardless of status, or ErrNotFound.
	Company(ctx context.Context, companyID string) (Company, error)
	// DemoCompany returns the active company flagged is_demo, or ErrNotFound.
	DemoCompany(ctx context.Context) (Company, error)
	// Memberships lists active grants of a user on active companies.
	Memberships(ctx context.Context, userID string) ([]Membership, error)
	// Members lists active grants on a company held by active users.
	Members(ctx context.Context, companyID string) ([]Member, error)
}

// RevocationStore answers whether credentials of a subject were invalidated.
type RevocationStore interface {
	// RevokedBefore returns the cut-off; credentials issued at or before it are
	// revoked. ok is false when the subject has no revocation on record.
	RevokedBefore(ctx context.Context, subject string) (cutoff time.Time, ok bool, err error)
}
