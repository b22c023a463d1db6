package repo

import (
	"context"
	"database/sql"

	"protokoll/internal/domain"
)

const commentColumns = `id,protocol_id,section_id,user_id,comment,resolved,resolved_by,resolved_at,created_at`

func scanComment(scan func(...any) error) (domain.Comment, error) {
	var c domain.Comment
	var resolvedBy, resolvedAt sql.NullString
	err := scan(&c.ID, &c.ProtocolID, &c.SectionID, &c.UserID, &c.Comment, &c.Resolved, &resolvedBy, &resolvedAt, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	c.ResolvedBy = optionalFromNull(resolvedBy)
	c.ResolvedAt = optionalFromNull(resolvedAt)
	return c, nil
}

func (r Repo) InsertCommentTx(ctx context.Context, tx *sql.Tx, c domain.Comment) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO protocol_comments(`+commentColumns+`) VALUES (?,?,?,?,?,?,?,?,?)`,
		c.ID, c.ProtocolID, c.SectionID, c.UserID, c.Comment, c.Resolved, nullablePtr(c.ResolvedBy), nullablePtr(c.ResolvedAt), c.CreatedAt)
	return err
}

func (r Repo) GetComment(ctx context.Context, id string) (domain.Comment, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+commentColumns+` FROM protocol_comments WHERE id=?`, id)
	return scanComment(row.Scan)
}

func (r Repo) ResolveCommentTx(ctx context.Context, tx *sql.Tx, id, userID, resolvedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE protocol_comments SET resolved=1, resolved_by=?, resolved_at=? WHERE id=?`, userID, resolvedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListComments(ctx context.Context, protocolID string) ([]domain.Comment, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+commentColumns+` FROM protocol_comments WHERE protocol_id=? ORDER BY created_at DESC, id DESC`, protocolID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Comment
	for rows.Next() {
		c, err := scanComment(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}
