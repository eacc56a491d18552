package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/siarheistar/psc-accounting-app-sub002/internal/auth"
	"github.com/siarheistar/psc-accounting-app-sub002/internal/rbac"
)

func decodeOverrides(raw []byte) (map[string]bool, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var out map[string]bool
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode permissions: %w", err)
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

func (s *Store) ActiveGrant(ctx context.Context, userID, companyID string) (auth.Grant, error) {
	if s.db == nil {
		return auth.Grant{}, errNoDB
	}
	var (
		g    auth.Grant
		role string
		raw  []byte
	)
	err := s.db.QueryRowContext(ctx, `
		select ca.user_id, ca.company_id, ca.role, ca.permissions, ca.status, ca.created_at
		from company_access ca
		join users u on u.id = ca.user_id
		where ca.user_id = $1 and ca.company_id = $2
		  and ca.status = 'active' and u.status = 'active'
	`, userID, companyID).Scan(&g.UserID, &g.CompanyID, &role, &raw, &g.Status, &g.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Grant{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.Grant{}, err
	}
	g.Role = rbac.Role(role)
	if g.Overrides, err = decodeOverrides(raw); err != nil {
		return auth.Grant{}, err
	}
	return g, nil
}

const companyColumns = `c.id, c.name, c.status, c.is_demo, c.created_at`

func scanCompany(row rowScanner) (auth.Company, error) {
	var c auth.Company
	if err := row.Scan(&c.ID, &c.Name, &c.Status, &c.IsDemo, &c.CreatedAt); err != nil {
		return auth.Company{}, err
	}
	return c, nil
}

func (s *Store) Company(ctx context.Context, companyID string) (auth.Company, error) {
	if s.db == nil {
		return auth.Company{}, errNoDB
	}
	c, err := scanCompany(s.db.QueryRowContext(ctx, `
		select `+companyColumns+`
		from companies c
		where c.id = $1
	`, companyID))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Company{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.Company{}, err
	}
	return c, nil
}

func (s *Store) DemoCompany(ctx context.Context) (auth.Company, error) {
	if s.db == nil {
		return auth.Company{}, errNoDB
	}
	c, err := scanCompany(s.db.QueryRowContext(ctx, `
		select `+companyColumns+`
		from companies c
		where c.is_demo and c.status = 'active'
		limit 1
	`))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Company{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.Company{}, err
	}
	return c, nil
}

func (s *Store) Memberships(ctx context.Context, userID string) ([]auth.Membership, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `
		select `+companyColumns+`, ca.role, ca.permissions, ca.status, ca.created_at
		from company_access ca
		join companies c on c.id = ca.company_id
		where ca.user_id = $1 and ca.status = 'active' and c.status = 'active'
		order by c.name, c.id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []auth.Membership
	for rows.Next() {
		var (
			m    auth.Membership
			role string
			raw  []byte
		)
		if err := rows.Scan(&m.Company.ID, &m.Company.Name, &m.Company.Status, &m.Company.IsDemo, &m.Company.CreatedAt,
			&role, &raw, &m.Grant.Status, &m.Grant.CreatedAt); err != nil {
			return nil, err
		}
		m.Grant.UserID = userID
		m.Grant.CompanyID = m.Company.ID
		m.Grant.Role = rbac.Role(role)
		if m.Grant.Overrides, err = decodeOverrides(raw); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) Members(ctx context.Context, companyID string) ([]auth.Member, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `
		select u.id, u.external_subject, u.email, u.display_name, u.avatar_url, u.status, u.created_at, u.last_login_at,
		       ca.role, ca.permissions, ca.status, ca.created_at
		from company_access ca
		join users u on u.id = ca.user_id
		where ca.company_id = $1 and ca.status = 'active' and u.status = 'active'
		order by u.id
	`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []auth.Member
	for rows.Next() {
		var (
			m       auth.Member
			display sql.NullString
			avatar  sql.NullString
			role    string
			raw     []byte
		)
		if err := rows.Scan(&m.User.ID, &m.User.ExternalSubject, &m.User.Email, &display, &avatar, &m.User.Status,
			&m.User.CreatedAt, &m.User.LastLoginAt, &role, &raw, &m.Grant.Status, &m.Grant.CreatedAt); err != nil {
			return nil, err
		}
		m.User.DisplayName = ptrFromNull(display)
		m.User.AvatarURL = ptrFromNull(avatar)
		m.Grant.UserID = m.User.ID
		m.Grant.CompanyID = companyID
		m.Grant.Role = rbac.Role(role)
		if m.Grant.Overrides, err = decodeOverrides(raw); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) RevokedBefore(ctx context.Context, subject string) (time.Time, bool, error) {
	if s.db == nil {
		return time.Time{}, false, errNoDB
	}
	var cutoff time.Time
	err := s.db.QueryRowContext(ctx, `
		select revoked_before from credential_revocations where subject = $1
	`, subject).Scan(&cutoff)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return cutoff, true, nil
}
