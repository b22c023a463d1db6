package activity

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Writer appends activity log rows inside the caller's transaction so the
// log stays consistent with the mutation it records.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type Details map[string]any

func (w Writer) Append(ctx context.Context, tx *sql.Tx, groupID, userID, entityType, entityID, action string, details Details) error {
	now := w.Now
	if now == nil {
		now = time.Now
	}
	ts := now().UTC().Format(time.RFC3339)
	if details == nil {
		details = Details{}
	}
	data, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("marshal activity details: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO activity_logs(group_id,user_id,entity_type,entity_id,action,details_json,created_at) VALUES (?,?,?,?,?,?,?)`,
		groupID, userID, entityType, entityID, action, string(data), ts)
	return err
}
