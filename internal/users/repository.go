package users

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pricebook/pricebook/internal/platform/db"
	"github.com/pricebook/pricebook/internal/rbac"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const profileColumns = `uid, email, display_name, role, email_verified, created_at`

// GetByUID loads a profile.
func (r *Repository) GetByUID(ctx context.Context, uid string) (Profile, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+profileColumns+` FROM users WHERE uid = $1`, uid)
	p, err := scanProfile(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Profile{}, ErrNotFound
	}
	return p, err
}

// List returns all profiles ordered by email.
func (r *Repository) List(ctx context.Context) ([]Profile, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+profileColumns+` FROM users ORDER BY email`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Create inserts a profile.
func (r *Repository) Create(ctx context.Context, p Profile) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO users (uid, email, display_name, role, email_verified, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		p.UID, p.Email, p.DisplayName, string(p.Role), p.EmailVerified, p.CreatedAt)
	if db.IsUniqueViolation(err) {
		return ErrExists
	}
	return err
}

// UpdateRole changes a profile's role.
func (r *Repository) UpdateRole(ctx context.Context, uid string, role rbac.Role) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET role = $2 WHERE uid = $1`, uid, string(role))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanProfile(row pgx.Row) (Profile, error) {
	var (
		p    Profile
		role string
	)
	if err := row.Scan(&p.UID, &p.Email, &p.DisplayName, &role, &p.EmailVerified, &p.CreatedAt); err != nil {
		return Profile{}, err
	}
	p.Role = rbac.Role(role)
	return p, nil
}
