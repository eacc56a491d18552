package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/siarheistar/psc-accounting-app-sub002/internal/auth"
)

const userColumns = `id, external_subject, email, display_name, avatar_url, status, created_at, last_login_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (auth.User, error) {
	var (
		u       auth.User
		display sql.NullString
		avatar  sql.NullString
	)
	if err := row.Scan(&u.ID, &u.ExternalSubject, &u.Email, &display, &avatar, &u.Status, &u.CreatedAt, &u.LastLoginAt); err != nil {
		return auth.User{}, err
	}
	u.DisplayName = ptrFromNull(display)
	u.AvatarURL = ptrFromNull(avatar)
	return u, nil
}

// TouchActiveBySubject moves last_login_at in the same statement that finds the
// user, so a returning login costs one write and no separate read.
func (s *Store) TouchActiveBySubject(ctx context.Context, subject string, at time.Time) (auth.User, error) {
	if s.db == nil {
		return auth.User{}, errNoDB
	}
	u, err := scanUser(s.db.QueryRowContext(ctx, `
		update users
		set last_login_at = $2
		where external_subject = $1 and status = 'active'
		returning `+userColumns, subject, at))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.User{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.User{}, err
	}
	return u, nil
}

// InsertUser relies on the unique external_subject constraint; a lost race
// yields no row and is reported as auth.ErrConflict.
func (s *Store) InsertUser(ctx context.Context, u auth.User) (auth.User, error) {
	if s.db == nil {
		return auth.User{}, errNoDB
	}
	created, err := scanUser(s.db.QueryRowContext(ctx, `
		insert into users (id, external_subject, email, display_name, avatar_url, status, created_at, last_login_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
		on conflict (external_subject) do nothing
		returning `+userColumns,
		u.ID, u.ExternalSubject, u.Email, nullIfEmpty(u.DisplayName), nullIfEmpty(u.AvatarURL), u.Status, u.CreatedAt, u.LastLoginAt))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.User{}, auth.ErrConflict
	}
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return auth.User{}, auth.ErrConflict
		}
		return auth.User{}, err
	}
	return created, nil
}

func (s *Store) FindActiveBySubject(ctx context.Context, subject string) (auth.User, error) {
	if s.db == nil {
		return auth.User{}, errNoDB
	}
	u, err := scanUser(s.db.QueryRowContext(ctx, `
		select `+userColumns+`
		from users
		where external_subject = $1 and status = 'active'
	`, subject))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.User{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.User{}, err
	}
	return u, nil
}
