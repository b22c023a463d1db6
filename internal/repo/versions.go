package repo

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"protokoll/internal/domain"
)

// AppendSnapshotTx records the pre-update state of a protocol. The ledger
// is write-once: no update or delete statements exist for this table.
func (r Repo) AppendSnapshotTx(ctx context.Context, tx *sql.Tx, v domain.Version) error {
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO protocol_versions(id,protocol_id,version,data_json,changed_by,changes_json,created_at) VALUES (?,?,?,?,?,?,?)`,
		v.ID, v.ProtocolID, v.Version, encodeMap(v.Data), v.ChangedBy, encodeMap(v.Changes), v.CreatedAt)
	return err
}

// ListVersions returns snapshots most recent first.
func (r Repo) ListVersions(ctx context.Context, protocolID string) ([]domain.Version, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,protocol_id,version,data_json,changed_by,changes_json,created_at FROM protocol_versions WHERE protocol_id=? ORDER BY version DESC`, protocolID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Version
	for rows.Next() {
		var v domain.Version
		var dataJSON, changesJSON string
		if err := rows.Scan(&v.ID, &v.ProtocolID, &v.Version, &dataJSON, &v.ChangedBy, &changesJSON, &v.CreatedAt); err != nil {
			return nil, err
		}
		v.Data = decodeMap(dataJSON)
		v.Changes = decodeMap(changesJSON)
		res = append(res, v)
	}
	return res, rows.Err()
}
