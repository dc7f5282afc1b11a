package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/carelink-io/carelink/internal/model"
	"github.com/carelink-io/carelink/internal/utils"
)

// PrincipalRepo persists identity records in the 'principals' table.
type PrincipalRepo struct{ DB *sql.DB }

func NewPrincipalRepo(db *sql.DB) *PrincipalRepo { return &PrincipalRepo{DB: db} }

// Create inserts a principal and returns its ID. The password is
// hashed here so no caller ever holds both the plaintext and the DB
// handle at the same time.
func (r *PrincipalRepo) Create(ctx context.Context, email, password, role string, cost int) (uint64, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	hash, err := utils.HashPassword(password, cost)
	if err != nil {
		return 0, err
	}
	res, err := r.DB.ExecContext(ctx,
		"INSERT INTO principals (email, password_hash, role) VALUES (?,?,?)",
		email, hash, role)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "1062") {
			return 0, ErrEmailExists
		}
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return uint64(id), nil
}

// GetByEmail fetches a principal by normalized email.
func (r *PrincipalRepo) GetByEmail(ctx context.Context, email string) (model.Principal, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	var p model.Principal
	err := r.DB.QueryRowContext(ctx,
		"SELECT id,email,password_hash,role,email_verified,is_active,created_at,updated_at FROM principals WHERE email=? LIMIT 1",
		email).Scan(&p.ID, &p.Email, &p.PasswordHash, &p.Role, &p.EmailVerified, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Principal{}, ErrNotFound
	}
	return p, err
}

// GetByID fetches a principal by id.
func (r *PrincipalRepo) GetByID(ctx context.Context, id uint64) (model.Principal, error) {
	var p model.Principal
	err := r.DB.QueryRowContext(ctx,
		"SELECT id,email,password_hash,role,email_verified,is_active,created_at,updated_at FROM principals WHERE id=? LIMIT 1",
		id).Scan(&p.ID, &p.Email, &p.PasswordHash, &p.Role, &p.EmailVerified, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Principal{}, ErrNotFound
	}
	return p, err
}

// UpdatePassword replaces the stored hash, e.g. after a password reset.
func (r *PrincipalRepo) UpdatePassword(ctx context.Context, id uint64, password string, cost int) error {
	hash, err := utils.HashPassword(password, cost)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx,
		"UPDATE principals SET password_hash=? WHERE id=?", hash, id)
	return err
}

// MarkEmailVerified records a completed email-verification flow.
// Verifying an already-verified principal is a no-op.
func (r *PrincipalRepo) MarkEmailVerified(ctx context.Context, id uint64) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE principals SET email_verified=1 WHERE id=?", id)
	return err
}
