package stores

import (
	"context"

	"github.com/oarkflow/squealx"

	"github.com/oarkflow/bugtrack"
)

// SQLAuditStore persists audit entries in SQL
type SQLAuditStore struct {
	db *squealx.DB
}

func NewSQLAuditStore(db *squealx.DB) (*SQLAuditStore, error) {
	return &SQLAuditStore{db: db}, nil
}

func (s *SQLAuditStore) LogDecision(ctx context.Context, entry *bugtrack.AuditEntry) error {
	q := `INSERT INTO audit_log(id, timestamp, user_id, roles, action, entity, record_id, allowed, matched_by, reason) VALUES(:id, :timestamp, :user_id, :roles, :action, :entity, :record_id, :allowed, :matched_by, :reason)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id":         entry.ID,
		"timestamp":  formatTime(entry.Timestamp),
		"user_id":    entry.UserID,
		"roles":      entry.Roles,
		"action":     string(entry.Action),
		"entity":     string(entry.Entity),
		"record_id":  entry.RecordID,
		"allowed":    boolToInt(entry.Allowed),
		"matched_by": entry.MatchedBy,
		"reason":     entry.Reason,
	})
	return err
}

func (s *SQLAuditStore) GetAccessLog(ctx context.Context, filter bugtrack.AuditFilter) ([]*bugtrack.AuditEntry, error) {
	q := `SELECT id, timestamp, user_id, roles, action, entity, record_id, allowed, matched_by, reason FROM audit_log WHERE 1=1`
	params := map[string]any{}
	if filter.UserID != "" {
		q += " AND user_id = :user_id"
		params["user_id"] = filter.UserID
	}
	if filter.Entity != "" {
		q += " AND entity = :entity"
		params["entity"] = string(filter.Entity)
	}
	if filter.RecordID != "" {
		q += " AND record_id = :record_id"
		params["record_id"] = filter.RecordID
	}
	if filter.Action != "" {
		q += " AND action = :action"
		params["action"] = string(filter.Action)
	}
	if !filter.StartTime.IsZero() {
		q += " AND timestamp >= :start"
		params["start"] = formatTime(filter.StartTime)
	}
	if !filter.EndTime.IsZero() {
		q += " AND timestamp <= :end"
		params["end"] = formatTime(filter.EndTime)
	}
	q += " ORDER BY timestamp, id"
	if filter.Limit > 0 {
		q += " LIMIT :limit"
		params["limit"] = filter.Limit
	} else {
		q += " LIMIT 100"
	}
	r, err := s.db.NamedQueryContext(ctx, q, params)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*bugtrack.AuditEntry, 0)
	for r.Next() {
		var id, userID, roles, action, entity, recordID, matchedBy, reason string
		var timestampRaw interface{}
		var allowedInt int
		if err := r.Scan(&id, &timestampRaw, &userID, &roles, &action, &entity, &recordID, &allowedInt, &matchedBy, &reason); err != nil {
			return nil, err
		}
		out = append(out, &bugtrack.AuditEntry{
			ID:        id,
			Timestamp: scanTime(timestampRaw),
			UserID:    userID,
			Roles:     roles,
			Action:    bugtrack.Action(action),
			Entity:    bugtrack.EntityType(entity),
			RecordID:  recordID,
			Allowed:   allowedInt != 0,
			MatchedBy: matchedBy,
			Reason:    reason,
		})
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
