package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/vegaexchange/vegad/internal/storage/relationaldb"
)

// UserRepository implements relationaldb.UserRepository.
type UserRepository struct {
	db     executor
	driver string
}

// NewUserRepository creates a user repository on the given executor, which
// may be a *sql.DB or a *sql.Tx.
func NewUserRepository(db executor, driver string) *UserRepository {
	return &UserRepository{db: db, driver: driver}
}

func (r *UserRepository) CreateUser(ctx context.Context, user *relationaldb.User) error {
	query := rebind(r.driver, `
		INSERT INTO users (id, username, email, password_hash, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`)

	_, err := r.db.ExecContext(ctx, query,
		user.ID, user.Username, user.Email, user.PasswordHash, user.Active, user.CreatedAt)
	if err != nil {
		if relationaldb.IsConstraintError(relationaldb.WrapError(err, "create_user")) {
			return relationaldb.NewConstraintError("create_user", "user already exists", err)
		}
		return relationaldb.NewQueryError("create_user", "failed to insert user", err)
	}
	return nil
}

func (r *UserRepository) GetUser(ctx context.Context, userID string) (*relationaldb.User, error) {
	query := rebind(r.driver, `
		SELECT id, username, email, password_hash, active, created_at
		FROM users WHERE id = ?`)

	return r.scanUser(r.db.QueryRowContext(ctx, query, userID))
}

func (r *UserRepository) GetUserByUsername(ctx context.Context, username string) (*relationaldb.User, error) {
	query := rebind(r.driver, `
		SELECT id, username, email, password_hash, active, created_at
		FROM users WHERE username = ?`)

	return r.scanUser(r.db.QueryRowContext(ctx, query, username))
}

func (r *UserRepository) scanUser(row *sql.Row) (*relationaldb.User, error) {
	var user relationaldb.User
	err := row.Scan(&user.ID, &user.Username, &user.Email,
		&user.PasswordHash, &user.Active, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, relationaldb.ErrUserNotFound
		}
		return nil, relationaldb.NewQueryError("get_user", "failed to scan user", err)
	}
	return &user, nil
}

func (r *UserRepository) UserExists(ctx context.Context, userID string) (bool, error) {
	query := rebind(r.driver, `SELECT 1 FROM users WHERE id = ?`)

	var one int
	err := r.db.QueryRowContext(ctx, query, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, relationaldb.NewQueryError("user_exists", "failed to query user", err)
	}
	return true, nil
}

func (r *UserRepository) CreateToken(ctx context.Context, token *relationaldb.AccessToken) error {
	query := rebind(r.driver, `
		INSERT INTO access_tokens (token, user_id, expires_at, created_at)
		VALUES (?, ?, ?, ?)`)

	_, err := r.db.ExecContext(ctx, query,
		token.Token, token.UserID, token.ExpiresAt, token.CreatedAt)
	if err != nil {
		return relationaldb.NewQueryError("create_token", "failed to insert token", err)
	}
	return nil
}

func (r *UserRepository) GetToken(ctx context.Context, token string) (*relationaldb.AccessToken, error) {
	query := rebind(r.driver, `
		SELECT token, user_id, expires_at, created_at
		FROM access_tokens WHERE token = ?`)

	var at relationaldb.AccessToken
	err := r.db.QueryRowContext(ctx, query, token).Scan(
		&at.Token, &at.UserID, &at.ExpiresAt, &at.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, relationaldb.ErrUserNotFound
		}
		return nil, relationaldb.NewQueryError("get_token", "failed to scan token", err)
	}
	return &at, nil
}

func (r *UserRepository) DeleteToken(ctx context.Context, token string) error {
	query := rebind(r.driver, `DELETE FROM access_tokens WHERE token = ?`)

	if _, err := r.db.ExecContext(ctx, query, token); err != nil {
		return relationaldb.NewQueryError("delete_token", "failed to delete token", err)
	}
	return nil
}

func (r *UserRepository) DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	query := rebind(r.driver, `DELETE FROM access_tokens WHERE expires_at < ?`)

	res, err := r.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, relationaldb.NewQueryError("delete_expired_tokens", "failed to delete tokens", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
