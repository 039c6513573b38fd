package sqlitestore

import (
	"context"
	"database/sql"
	"errors"

	"github.com/pricebook/pricebook/internal/rbac"
	"github.com/pricebook/pricebook/internal/users"
)

const profileColumns = `uid, email, display_name, role, email_verified, created_at`

// UserStore implements users.RepositoryPort.
type UserStore struct {
	db *sql.DB
}

// GetByUID loads a profile.
func (s *UserStore) GetByUID(ctx context.Context, uid string) (users.Profile, error) {
	p, err := scanProfile(s.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM users WHERE uid = ?`, uid))
	if errors.Is(err, sql.ErrNoRows) {
		return users.Profile{}, users.ErrNotFound
	}
	return p, err
}

// List returns profiles ordered by email.
func (s *UserStore) List(ctx context.Context) ([]users.Profile, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+profileColumns+` FROM users ORDER BY email`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []users.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Create inserts a profile.
func (s *UserStore) Create(ctx context.Context, p users.Profile) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO users (`+profileColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		p.UID, p.Email, p.DisplayName, string(p.Role), p.EmailVerified, toUnix(p.CreatedAt))
	if isUniqueViolation(err) {
		return users.ErrExists
	}
	return err
}

// UpdateRole assigns role to uid.
func (s *UserStore) UpdateRole(ctx context.Context, uid string, role rbac.Role) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET role = ? WHERE uid = ?`, string(role), uid)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return users.ErrNotFound
	}
	return nil
}

func scanProfile(row scanner) (users.Profile, error) {
	var (
		p         users.Profile
		role      string
		createdAt int64
	)
	if err := row.Scan(&p.UID, &p.Email, &p.DisplayName, &role, &p.EmailVerified, &createdAt); err != nil {
		return users.Profile{}, err
	}
	p.Role = rbac.Role(role)
	p.CreatedAt = fromUnix(createdAt)
	return p, nil
}
