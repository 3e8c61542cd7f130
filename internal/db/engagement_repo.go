package db

import (
	"context"
	"time"

	"tasseo/internal/types"
)

// EngagementLogRepository reads and appends the engagement_log ledger. Rows
// are never updated or deleted.
type EngagementLogRepository struct {
	db DBTX
}

// NewEngagementLogRepository creates a new EngagementLogRepository backed by
// the given database connection (pool or transaction).
func NewEngagementLogRepository(db DBTX) *EngagementLogRepository {
	return &EngagementLogRepository{db: db}
}

// Append records a delivered message.
func (r *EngagementLogRepository) Append(ctx context.Context, entry types.EngagementLogEntry) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO engagement_log (recipient_id, message_type, sent_at)
		 VALUES ($1, $2, $3)`,
		entry.RecipientID,
		string(entry.MessageType),
		entry.SentAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to append engagement log entry", err)
	}
	return nil
}

// Exists reports whether recipientID already received messageType within
// [from, to).
func (r *EngagementLogRepository) Exists(ctx context.Context, recipientID string, messageType types.MessageType, from, to time.Time) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM engagement_log
		   WHERE recipient_id = $1 AND message_type = $2
		     AND sent_at >= $3 AND sent_at < $4
		 )`,
		recipientID,
		string(messageType),
		from,
		to,
	).Scan(&exists)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to check engagement log", err)
	}
	return exists, nil
}

// RecipientsLogged returns the set of recipients that received messageType
// within [from, to).
func (r *EngagementLogRepository) RecipientsLogged(ctx context.Context, messageType types.MessageType, from, to time.Time) (map[string]struct{}, error) {
	rows, err := r.db.Query(ctx,
		`SELECT DISTINCT recipient_id FROM engagement_log
		 WHERE message_type = $1 AND sent_at >= $2 AND sent_at < $3`,
		string(messageType),
		from,
		to,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query engagement log", err)
	}
	defer rows.Close()

	seen := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan engagement log recipient", err)
		}
		seen[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating engagement log", err)
	}
	return seen, nil
}
