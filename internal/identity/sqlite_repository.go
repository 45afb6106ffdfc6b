package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// SQLiteRepository stores users in SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository builds a repository over an already-migrated SQLite handle.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts a new user.
func (r *SQLiteRepository) Create(ctx context.Context, user User) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		user.ID, user.Email, user.DisplayName, user.PasswordHash, user.Disabled, user.TokenVersion, user.CreatedAt.UnixMilli())
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return ErrEmailInUse
	}
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// FindByEmail fetches a user by normalised email.
func (r *SQLiteRepository) FindByEmail(ctx context.Context, email string) (User, error) {
	return scanSQLiteUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email))
}

// FindByID fetches a user by id.
func (r *SQLiteRepository) FindByID(ctx context.Context, id string) (User, error) {
	return scanSQLiteUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
}

// UpdateDisplayName stores a new display name.
func (r *SQLiteRepository) UpdateDisplayName(ctx context.Context, id, name string) (User, error) {
	return scanSQLiteUser(r.db.QueryRowContext(ctx,
		`UPDATE users SET display_name = ? WHERE id = ? RETURNING `+userColumns, name, id))
}

// UpdateTokenVersion stores the token version, invalidating older tokens.
func (r *SQLiteRepository) UpdateTokenVersion(ctx context.Context, id string, version int) error {
	return r.exec(ctx, `UPDATE users SET token_version = ? WHERE id = ?`, version, id)
}

// SetDisabled enables or disables an account.
func (r *SQLiteRepository) SetDisabled(ctx context.Context, id string, disabled bool) error {
	return r.exec(ctx, `UPDATE users SET disabled = ? WHERE id = ?`, disabled, id)
}

func (r *SQLiteRepository) exec(ctx context.Context, query string, arg any, id string) error {
	result, err := r.db.ExecContext(ctx, query, arg, id)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}

func scanSQLiteUser(row *sql.Row) (User, error) {
	var (
		user      User
		createdAt int64
	)
	err := row.Scan(&user.ID, &user.Email, &user.DisplayName, &user.PasswordHash, &user.Disabled, &user.TokenVersion, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("failed to scan user: %w", err)
	}
	user.CreatedAt = time.UnixMilli(createdAt).UTC()
	return user, nil
}
