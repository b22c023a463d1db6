package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"protokoll/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// ProtocolFilters narrow ListProtocols. Zero values mean "no filter".
type ProtocolFilters struct {
	Status    string
	StartDate string
	EndDate   string
}

const protocolColumns = `id,group_id,template_id,meeting_date,title,data_json,status,locked_sections_json,version,created_by,updated_by,finalized_by,finalized_at,created_at,updated_at`

func scanProtocol(scan func(...any) error) (domain.Protocol, error) {
	var p domain.Protocol
	var dataJSON, lockedJSON string
	var templateID, updatedBy, finalizedBy, finalizedAt sql.NullString
	err := scan(&p.ID, &p.GroupID, &templateID, &p.MeetingDate, &p.Title, &dataJSON, &p.Status,
		&lockedJSON, &p.Version, &p.CreatedBy, &updatedBy, &finalizedBy, &finalizedAt, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.TemplateID = optionalFromNull(templateID)
	p.UpdatedBy = optionalFromNull(updatedBy)
	p.FinalizedBy = optionalFromNull(finalizedBy)
	p.FinalizedAt = optionalFromNull(finalizedAt)
	p.Data = decodeMap(dataJSON)
	p.LockedSections = decodeStrings(lockedJSON)
	return p, nil
}

func (r Repo) InsertProtocolTx(ctx context.Context, tx *sql.Tx, p domain.Protocol) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO protocols(`+protocolColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.GroupID, nullablePtr(p.TemplateID), p.MeetingDate, p.Title, encodeMap(p.Data), p.Status,
		encodeStrings(p.LockedSections), p.Version, p.CreatedBy, nullablePtr(p.UpdatedBy),
		nullablePtr(p.FinalizedBy), nullablePtr(p.FinalizedAt), p.CreatedAt, p.UpdatedAt)
	return err
}

func (r Repo) GetProtocol(ctx context.Context, id string) (domain.Protocol, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+protocolColumns+` FROM protocols WHERE id=?`, id)
	return scanProtocol(row.Scan)
}

func (r Repo) ListProtocols(ctx context.Context, groupID string, filters ProtocolFilters) ([]domain.Protocol, error) {
	clauses := []string{"group_id=?"}
	args := []any{groupID}
	if filters.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, filters.Status)
	}
	if filters.StartDate != "" {
		clauses = append(clauses, "meeting_date>=?")
		args = append(args, filters.StartDate)
	}
	if filters.EndDate != "" {
		clauses = append(clauses, "meeting_date<=?")
		args = append(args, filters.EndDate)
	}
	query := `SELECT ` + protocolColumns + ` FROM protocols WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY meeting_date DESC, created_at DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Protocol
	for rows.Next() {
		p, err := scanProtocol(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// UpdateProtocolTx overwrites all mutable protocol fields. Callers snapshot
// the prior state into protocol_versions first.
func (r Repo) UpdateProtocolTx(ctx context.Context, tx *sql.Tx, p domain.Protocol) error {
	res, err := tx.ExecContext(ctx, `UPDATE protocols SET title=?, data_json=?, status=?, locked_sections_json=?, version=?, updated_by=?, finalized_by=?, finalized_at=?, updated_at=? WHERE id=?`,
		p.Title, encodeMap(p.Data), p.Status, encodeStrings(p.LockedSections), p.Version,
		nullablePtr(p.UpdatedBy), nullablePtr(p.FinalizedBy), nullablePtr(p.FinalizedAt), p.UpdatedAt, p.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- JSON column helpers ---

func encodeMap(m map[string]any) string {
	if m == nil {
		return "{}"
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func decodeMap(raw string) map[string]any {
	m := map[string]any{}
	if raw == "" {
		return m
	}
	_ = json.Unmarshal([]byte(raw), &m)
	return m
}

func encodeStrings(s []string) string {
	if s == nil {
		s = []string{}
	}
	b, err := json.Marshal(s)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func decodeStrings(raw string) []string {
	s := []string{}
	if raw == "" {
		return s
	}
	_ = json.Unmarshal([]byte(raw), &s)
	return s
}

func nullablePtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func optionalFromNull(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
