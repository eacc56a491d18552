package auth

import (
	"time"

	"github.com/siarheistar/psc-accounting-app-sub002/internal/rbac"
)

// StatusActive is the only status that lets a user, company or grant take part
// in a request.
const StatusActive = "active"

// ExternalIdentity is what the identity provider vouches for. It is never
// persisted as-is.
type ExternalIdentity struct {
	Subject     string
	Email       string
	DisplayName *string
	AvatarURL   *string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// User is the internal account mapped from an external subject.
type User struct {
	ID              string    `json:"id"`
	ExternalSubject string    `json:"external_subject"`
	Email           string    `json:"email"`
	DisplayName     *string   `json:"display_name"`
	AvatarURL       *string   `json:"avatar_url"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
	LastLoginAt     time.Time `json:"last_login_at"`
}

// Active reports whether the user may authenticate.
func (u User) Active() bool { return u.Status == StatusActive }

// Company is a tenant.
type Company struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	IsDemo    bool      `json:"is_demo"`
	CreatedAt time.Time `json:"created_at"`
}

// Active reports whether the company accepts requests.
func (c Company) Active() bool { return c.Status == StatusActive }

// Grant binds a user to a company with a role and sparse capability overrides.
type Grant struct {
	UserID    string          `json:"user_id"`
	CompanyID string          `json:"company_id"`
	Role      rbac.Role       `json:"role"`
	Overrides map[string]bool `json:"overrides,omitempty"`
	Status    string          `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
}

// Active reports whether the grant is usable.
func (g Grant) Active() bool { return g.Status == StatusActive }

// Membership pairs an active grant with its company.
type Membership struct {
	Company Company
	Grant   Grant
}

// Member pairs an active grant with the user holding it.
type Member struct {
	User  User
	Grant Grant
}
