package stores

import (
	"context"

	"github.com/oarkflow/squealx"
)

// SQLRoleMembershipStore keeps the role tags granted to each user in the
// role_members table.
type SQLRoleMembershipStore struct {
	db *squealx.DB
}

func NewSQLRoleMembershipStore(db *squealx.DB) *SQLRoleMembershipStore {
	return &SQLRoleMembershipStore{db: db}
}

func (s *SQLRoleMembershipStore) AssignRole(ctx context.Context, userID, role string) error {
	q := `INSERT OR IGNORE INTO role_members(user_id, role) VALUES(:user_id, :role)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{"user_id": userID, "role": role})
	return err
}

func (s *SQLRoleMembershipStore) RevokeRole(ctx context.Context, userID, role string) error {
	q := `DELETE FROM role_members WHERE user_id = :user_id AND role = :role`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{"user_id": userID, "role": role})
	return err
}

func (s *SQLRoleMembershipStore) ListRoles(ctx context.Context, userID string) ([]string, error) {
	out := make([]string, 0)
	q := `SELECT role FROM role_members WHERE user_id = :user_id ORDER BY role`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"user_id": userID})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	for r.Next() {
		var role string
		if err := r.Scan(&role); err != nil {
			return nil, err
		}
		out = append(out, role)
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
