package stores

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/oarkflow/squealx"

	"github.com/oarkflow/bugtrack"
)

// SQLUserStore implements bugtrack.UserStore. Role tags are kept as a
// comma separated column.
type SQLUserStore struct {
	db *squealx.DB
}

func NewSQLUserStore(db *squealx.DB) *SQLUserStore {
	return &SQLUserStore{db: db}
}

const userColumns = `id, email, name, roles, developer_id, password_hash, reset_token, reset_sent_at`

func (s *SQLUserStore) SaveUser(ctx context.Context, u *bugtrack.User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	q := `INSERT OR REPLACE INTO users(` + userColumns + `) VALUES(:id, :email, :name, :roles, :developer_id, :password_hash, :reset_token, :reset_sent_at)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id":            u.ID,
		"email":         u.Email,
		"name":          u.Name,
		"roles":         strings.Join(u.Roles, ","),
		"developer_id":  u.DeveloperID,
		"password_hash": u.PasswordHash,
		"reset_token":   u.PasswordResetToken,
		"reset_sent_at": formatTime(u.PasswordResetSentAt),
	})
	if err != nil {
		return fmt.Errorf("save user %s: %w", u.ID, err)
	}
	return nil
}

func (s *SQLUserStore) GetUser(ctx context.Context, id string) (*bugtrack.User, error) {
	return s.queryOne(ctx, `id = :value`, id, "id "+id)
}

func (s *SQLUserStore) FindUserByEmail(ctx context.Context, email string) (*bugtrack.User, error) {
	if email == "" {
		return nil, fmt.Errorf("user with empty email: %w", bugtrack.ErrNotFound)
	}
	return s.queryOne(ctx, `email = :value`, email, "email "+email)
}

func (s *SQLUserStore) FindUserByResetToken(ctx context.Context, token string) (*bugtrack.User, error) {
	if token == "" {
		return nil, fmt.Errorf("user with empty reset token: %w", bugtrack.ErrNotFound)
	}
	return s.queryOne(ctx, `reset_token = :value`, token, "reset token")
}

func (s *SQLUserStore) queryOne(ctx context.Context, where, value, what string) (*bugtrack.User, error) {
	q := `SELECT ` + userColumns + ` FROM users WHERE ` + where + ` LIMIT 1`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"value": value})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if !r.Next() {
		if err := r.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("user with %s: %w", what, bugtrack.ErrNotFound)
	}
	var u bugtrack.User
	var roles string
	var sentAt interface{}
	if err := r.Scan(&u.ID, &u.Email, &u.Name, &roles, &u.DeveloperID, &u.PasswordHash, &u.PasswordResetToken, &sentAt); err != nil {
		return nil, err
	}
	u.Roles = splitTags(roles)
	u.PasswordResetSentAt = scanTime(sentAt)
	return &u, nil
}
