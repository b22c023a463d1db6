package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"protokoll/internal/activity"
	"protokoll/internal/domain"
)

// TaskCreateOptions are parameters for creating a task directly, outside
// of protocol finalization.
type TaskCreateOptions struct {
	GroupID     string
	ActorID     string
	Title       string
	Description string
	ProtocolID  string
	AssignedTo  string
	Deadline    string
	Priority    string
	Category    string
}

func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	if opts.Title == "" {
		return domain.Task{}, requiredField("title")
	}
	if opts.Priority == "" {
		opts.Priority = e.defaultPriority()
	}
	now := e.now().UTC().Format(time.RFC3339)
	t := domain.Task{
		ID:          uuid.New().String(),
		GroupID:     opts.GroupID,
		Title:       opts.Title,
		Description: opts.Description,
		Priority:    opts.Priority,
		Status:      "open",
		Category:    opts.Category,
		CreatedBy:   opts.ActorID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if opts.ProtocolID != "" {
		t.ProtocolID = &opts.ProtocolID
	}
	if opts.AssignedTo != "" {
		t.AssignedTo = &opts.AssignedTo
	}
	if opts.Deadline != "" {
		t.Deadline = &opts.Deadline
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertTaskTx(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if err := e.Activity.Append(ctx, tx, t.GroupID, opts.ActorID, "task", t.ID, "created", activity.Details{"title": t.Title}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	e.emitGroup(t.GroupID, "task-created", map[string]any{"task": t})
	return t, nil
}

// TaskUpdateOptions encapsulates allowed task updates. Nil fields are
// left untouched.
type TaskUpdateOptions struct {
	ID           string
	ActorID      string
	ActorGroupID string
	Title        *string
	Description  *string
	AssignedTo   *string
	Deadline     *string
	Priority     *string
}

func (e Engine) UpdateTask(ctx context.Context, opts TaskUpdateOptions) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, opts.ID)
	if err != nil {
		return t, err
	}
	if t.GroupID != opts.ActorGroupID {
		return domain.Task{}, ErrAccessDenied
	}
	if opts.Title != nil {
		t.Title = *opts.Title
	}
	if opts.Description != nil {
		t.Description = *opts.Description
	}
	if opts.AssignedTo != nil {
		if *opts.AssignedTo == "" {
			t.AssignedTo = nil
		} else {
			t.AssignedTo = opts.AssignedTo
		}
	}
	if opts.Deadline != nil {
		if *opts.Deadline == "" {
			t.Deadline = nil
		} else {
			t.Deadline = opts.Deadline
		}
	}
	if opts.Priority != nil {
		t.Priority = *opts.Priority
	}
	t.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return t, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateTaskTx(ctx, tx, t); err != nil {
		return t, err
	}
	if err := e.Activity.Append(ctx, tx, t.GroupID, opts.ActorID, "task", t.ID, "updated", nil); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	e.emitGroup(t.GroupID, "task-updated", map[string]any{"task": t})
	return t, nil
}

// UpdateTaskStatus moves a task to a new status. Completing a task stamps
// completed_at and stores the optional completion notes.
func (e Engine) UpdateTaskStatus(ctx context.Context, id, actorID, actorGroupID, status, completionNotes string) (domain.Task, error) {
	if status == "" {
		return domain.Task{}, requiredField("status")
	}
	t, err := e.Repo.GetTask(ctx, id)
	if err != nil {
		return t, err
	}
	if t.GroupID != actorGroupID {
		return domain.Task{}, ErrAccessDenied
	}
	now := e.now().UTC().Format(time.RFC3339)
	t.Status = status
	if status == "done" {
		t.CompletedAt = &now
		if completionNotes != "" {
			t.CompletionNotes = completionNotes
		}
	}
	t.UpdatedAt = now
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return t, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateTaskTx(ctx, tx, t); err != nil {
		return t, err
	}
	if err := e.Activity.Append(ctx, tx, t.GroupID, actorID, "task", t.ID, "status_changed", activity.Details{"status": status}); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	e.emitGroup(t.GroupID, "task-status-updated", map[string]any{
		"taskId": t.ID,
		"status": t.Status,
	})
	return t, nil
}

func (e Engine) DeleteTask(ctx context.Context, id, actorID, actorGroupID string) error {
	t, err := e.Repo.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if t.GroupID != actorGroupID {
		return ErrAccessDenied
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteTaskTx(ctx, tx, id); err != nil {
		return err
	}
	if err := e.Activity.Append(ctx, tx, t.GroupID, actorID, "task", id, "deleted", nil); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.emitGroup(t.GroupID, "task-deleted", map[string]any{"taskId": id})
	return nil
}
