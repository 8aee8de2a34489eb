package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/iliyamo/memory-gallery/internal/model"
)

// UserRepo persists users keyed by their login identifier.
type UserRepo struct{ DB *sql.DB }

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{DB: db} }

// NormalizeIdentifier trims the identifier and lower-cases email addresses.
// Phone numbers keep their characters as typed, apart from surrounding
// whitespace.
func NormalizeIdentifier(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if strings.Contains(identifier, "@") {
		return strings.ToLower(identifier)
	}
	return identifier
}

// Upsert returns the user for identifier, creating it on first sign-in.
func (r *UserRepo) Upsert(ctx context.Context, identifier string) (model.User, error) {
	identifier = NormalizeIdentifier(identifier)
	// LAST_INSERT_ID(id) makes the existing row's id available on duplicate.
	res, err := r.DB.ExecContext(ctx,
		"INSERT INTO users (identifier) VALUES (?) ON DUPLICATE KEY UPDATE id = LAST_INSERT_ID(id)",
		identifier)
	if err != nil {
		return model.User{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.User{}, err
	}
	return r.GetByID(ctx, uint64(id))
}

// GetByIdentifier fetches a user by normalized identifier.
func (r *UserRepo) GetByIdentifier(ctx context.Context, identifier string) (model.User, error) {
	var u model.User
	err := r.DB.QueryRowContext(ctx,
		"SELECT id, identifier, created_at FROM users WHERE identifier=? LIMIT 1",
		NormalizeIdentifier(identifier)).Scan(&u.ID, &u.Identifier, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, ErrNotFound
	}
	return u, err
}

// GetByID fetches a user by id.
func (r *UserRepo) GetByID(ctx context.Context, id uint64) (model.User, error) {
	var u model.User
	err := r.DB.QueryRowContext(ctx,
		"SELECT id, identifier, created_at FROM users WHERE id=? LIMIT 1",
		id).Scan(&u.ID, &u.Identifier, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, ErrNotFound
	}
	return u, err
}

// ProfileRepo reads the profiles table.
type ProfileRepo struct{ DB *sql.DB }

func NewProfileRepo(db *sql.DB) *ProfileRepo { return &ProfileRepo{DB: db} }

// GetByUserID returns the profile of a user, or ErrNotFound.
func (r *ProfileRepo) GetByUserID(ctx context.Context, userID uint64) (model.Profile, error) {
	var (
		p       model.Profile
		isAdmin sql.NullBool
	)
	err := r.DB.QueryRowContext(ctx,
		"SELECT user_id, is_admin FROM profiles WHERE user_id=? LIMIT 1",
		userID).Scan(&p.UserID, &isAdmin)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Profile{}, ErrNotFound
	}
	if err != nil {
		return model.Profile{}, err
	}
	if isAdmin.Valid {
		v := isAdmin.Bool
		p.IsAdmin = &v
	}
	return p, nil
}
