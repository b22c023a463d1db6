package repo

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"protokoll/internal/domain"
)

// TaskFilters narrow ListTasks. Overdue selects tasks whose deadline has
// passed and that are neither done nor cancelled; DueOn selects tasks due
// on the reference date. Date defaults to today in UTC.
type TaskFilters struct {
	AssignedTo string
	Status     string
	Priority   string
	Overdue    bool
	DueOn      bool
	Date       string
}

const taskColumns = `id,protocol_id,group_id,title,description,assigned_to,deadline,priority,status,category,created_by,completed_at,completion_notes,created_at,updated_at`

func scanTask(scan func(...any) error) (domain.Task, error) {
	var t domain.Task
	var protocolID, assignedTo, deadline, completedAt sql.NullString
	err := scan(&t.ID, &protocolID, &t.GroupID, &t.Title, &t.Description, &assignedTo, &deadline,
		&t.Priority, &t.Status, &t.Category, &t.CreatedBy, &completedAt, &t.CompletionNotes, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.ProtocolID = optionalFromNull(protocolID)
	t.AssignedTo = optionalFromNull(assignedTo)
	t.Deadline = optionalFromNull(deadline)
	t.CompletedAt = optionalFromNull(completedAt)
	return t, nil
}

func (r Repo) InsertTask(ctx context.Context, t domain.Task) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO tasks(`+taskColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, nullablePtr(t.ProtocolID), t.GroupID, t.Title, t.Description, nullablePtr(t.AssignedTo),
		nullablePtr(t.Deadline), t.Priority, t.Status, t.Category, t.CreatedBy,
		nullablePtr(t.CompletedAt), t.CompletionNotes, t.CreatedAt, t.UpdatedAt)
	return err
}

func (r Repo) InsertTaskTx(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tasks(`+taskColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, nullablePtr(t.ProtocolID), t.GroupID, t.Title, t.Description, nullablePtr(t.AssignedTo),
		nullablePtr(t.Deadline), t.Priority, t.Status, t.Category, t.CreatedBy,
		nullablePtr(t.CompletedAt), t.CompletionNotes, t.CreatedAt, t.UpdatedAt)
	return err
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id)
	return scanTask(row.Scan)
}

func (r Repo) ListTasks(ctx context.Context, groupID string, filters TaskFilters) ([]domain.Task, error) {
	clauses := []string{"group_id=?"}
	args := []any{groupID}
	if filters.AssignedTo != "" {
		clauses = append(clauses, "assigned_to=?")
		args = append(args, filters.AssignedTo)
	}
	if filters.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, filters.Status)
	}
	if filters.Priority != "" {
		clauses = append(clauses, "priority=?")
		args = append(args, filters.Priority)
	}
	if filters.Overdue || filters.DueOn {
		date := filters.Date
		if date == "" {
			date = time.Now().UTC().Format("2006-01-02")
		}
		if filters.Overdue {
			clauses = append(clauses, "deadline<?", "status NOT IN ('done','cancelled')")
			args = append(args, date)
		}
		if filters.DueOn {
			clauses = append(clauses, "deadline=?")
			args = append(args, date)
		}
	}
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY deadline IS NULL, deadline ASC, created_at DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) UpdateTaskTx(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET title=?, description=?, assigned_to=?, deadline=?, priority=?, status=?, completed_at=?, completion_notes=?, updated_at=? WHERE id=?`,
		t.Title, t.Description, nullablePtr(t.AssignedTo), nullablePtr(t.Deadline), t.Priority, t.Status,
		nullablePtr(t.CompletedAt), t.CompletionNotes, t.UpdatedAt, t.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteTaskTx(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListTasksByProtocol(ctx context.Context, protocolID string) ([]domain.Task, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE protocol_id=? ORDER BY created_at`, protocolID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}
