package repo

import (
	"context"
	"database/sql"

	"protokoll/internal/domain"
)

// Directory lookups for the collaborator entities the engine needs:
// groups, users and templates. Full CRUD for these lives elsewhere.

func (r Repo) GetGroup(ctx context.Context, id string) (domain.Group, error) {
	var g domain.Group
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,created_at FROM groups WHERE id=?`, id).
		Scan(&g.ID, &g.Name, &g.CreatedAt)
	if err == sql.ErrNoRows {
		return g, ErrNotFound
	}
	return g, err
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	var u domain.User
	err := r.DB.QueryRowContext(ctx, `SELECT id,group_id,name,email,password_hash,created_at FROM users WHERE id=?`, id).
		Scan(&u.ID, &u.GroupID, &u.Name, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	return u, err
}

func (r Repo) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	var u domain.User
	err := r.DB.QueryRowContext(ctx, `SELECT id,group_id,name,email,password_hash,created_at FROM users WHERE email=?`, email).
		Scan(&u.ID, &u.GroupID, &u.Name, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	return u, err
}

func (r Repo) GetTemplate(ctx context.Context, id string) (domain.Template, error) {
	var t domain.Template
	var groupID sql.NullString
	var structureJSON string
	err := r.DB.QueryRowContext(ctx, `SELECT id,group_id,name,structure_json,is_default,created_at FROM protocol_templates WHERE id=?`, id).
		Scan(&t.ID, &groupID, &t.Name, &structureJSON, &t.IsDefault, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.GroupID = optionalFromNull(groupID)
	t.Structure = decodeMap(structureJSON)
	return t, nil
}

// EnsureGroup inserts the group if missing. Used by seeding and tests.
func (r Repo) EnsureGroup(ctx context.Context, tx *sql.Tx, id, name, now string) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO groups(id,name,created_at) VALUES (?,?,?) ON CONFLICT(id) DO NOTHING`, id, name, now)
	return err
}

// EnsureUser inserts the user if missing. Used by seeding and tests.
func (r Repo) EnsureUser(ctx context.Context, tx *sql.Tx, u domain.User) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO users(id,group_id,name,email,password_hash,created_at) VALUES (?,?,?,?,?,?) ON CONFLICT(id) DO NOTHING`,
		u.ID, u.GroupID, u.Name, u.Email, u.PasswordHash, u.CreatedAt)
	return err
}

// EnsureTemplate inserts the template if missing. Used by seeding and tests.
func (r Repo) EnsureTemplate(ctx context.Context, tx *sql.Tx, t domain.Template) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO protocol_templates(id,group_id,name,structure_json,is_default,created_at) VALUES (?,?,?,?,?,?) ON CONFLICT(id) DO NOTHING`,
		t.ID, nullablePtr(t.GroupID), t.Name, encodeMap(t.Structure), t.IsDefault, t.CreatedAt)
	return err
}

func (r Repo) ListActivity(ctx context.Context, groupID string, limit int) ([]domain.ActivityLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,group_id,user_id,entity_type,entity_id,action,details_json,created_at FROM activity_logs WHERE group_id=? ORDER BY created_at DESC, id DESC LIMIT ?`, groupID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ActivityLog
	for rows.Next() {
		var a domain.ActivityLog
		var detailsJSON string
		if err := rows.Scan(&a.ID, &a.GroupID, &a.UserID, &a.EntityType, &a.EntityID, &a.Action, &detailsJSON, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Details = decodeMap(detailsJSON)
		res = append(res, a)
	}
	return res, rows.Err()
}
