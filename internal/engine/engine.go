package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"protokoll/internal/activity"
	"protokoll/internal/domain"
	"protokoll/internal/repo"
)

// Broadcaster fans authoritative events out to the realtime rooms. Engine
// operations call it only after a successful commit.
type Broadcaster interface {
	ToProtocol(protocolID, event string, payload map[string]any)
	ToGroup(groupID, event string, payload map[string]any)
}

type Engine struct {
	DB        *sql.DB
	Repo      repo.Repo
	Activity  activity.Writer
	Broadcast Broadcaster
	Logger    *log.Logger
	Now       func() time.Time

	// Category and priority applied to tasks derived at finalization.
	// Empty values fall back to "protocol-task" and "medium".
	DerivedCategory string
	DefaultPriority string
}

func New(db *sql.DB, bc Broadcaster) Engine {
	return Engine{
		DB:        db,
		Repo:      repo.Repo{DB: db},
		Activity:  activity.Writer{DB: db},
		Broadcast: bc,
		Now:       time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) logger() *log.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return log.Default()
}

func (e Engine) derivedCategory() string {
	if e.DerivedCategory != "" {
		return e.DerivedCategory
	}
	return "protocol-task"
}

func (e Engine) defaultPriority() string {
	if e.DefaultPriority != "" {
		return e.DefaultPriority
	}
	return "medium"
}

func (e Engine) emitProtocol(id, event string, payload map[string]any) {
	if e.Broadcast != nil {
		e.Broadcast.ToProtocol(id, event, payload)
	}
}

func (e Engine) emitGroup(id, event string, payload map[string]any) {
	if e.Broadcast != nil {
		e.Broadcast.ToGroup(id, event, payload)
	}
}

// CreateProtocolOptions are parameters for creating a protocol.
type CreateProtocolOptions struct {
	GroupID     string
	ActorID     string
	MeetingDate string
	Title       string
	Data        map[string]any
	TemplateID  string
}

func (e Engine) CreateProtocol(ctx context.Context, opts CreateProtocolOptions) (domain.Protocol, error) {
	if opts.MeetingDate == "" {
		return domain.Protocol{}, requiredField("meeting_date")
	}
	if opts.Title == "" {
		return domain.Protocol{}, requiredField("title")
	}
	data := opts.Data
	if data == nil && opts.TemplateID != "" {
		tpl, err := e.Repo.GetTemplate(ctx, opts.TemplateID)
		if err == nil {
			data = tpl.Structure
		} else if !errors.Is(err, repo.ErrNotFound) {
			return domain.Protocol{}, err
		}
	}
	if data == nil {
		data = map[string]any{}
	}
	now := e.now().UTC().Format(time.RFC3339)
	p := domain.Protocol{
		ID:             uuid.New().String(),
		GroupID:        opts.GroupID,
		MeetingDate:    opts.MeetingDate,
		Title:          opts.Title,
		Data:           data,
		Status:         "draft",
		LockedSections: []string{},
		Version:        1,
		CreatedBy:      opts.ActorID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if opts.TemplateID != "" {
		p.TemplateID = &opts.TemplateID
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Protocol{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertProtocolTx(ctx, tx, p); err != nil {
		return domain.Protocol{}, fmt.Errorf("insert protocol: %w", err)
	}
	if err := e.Activity.Append(ctx, tx, p.GroupID, opts.ActorID, "protocol", p.ID, "created", activity.Details{
		"title":        p.Title,
		"meeting_date": p.MeetingDate,
	}); err != nil {
		return domain.Protocol{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Protocol{}, err
	}
	return p, nil
}

// UpdateProtocolOptions encapsulates a full-document update. Nil fields
// are left untouched.
type UpdateProtocolOptions struct {
	ID             string
	ActorID        string
	ActorGroupID   string
	Title          *string
	Data           map[string]any
	Status         *string
	LockedSections *[]string
}

// UpdateProtocol applies a full-document update: snapshot the prior state
// into the version ledger, bump the version by one and overwrite. The
// document level is last-writer-wins; concurrent updates are serialized
// by the store, not merged.
func (e Engine) UpdateProtocol(ctx context.Context, opts UpdateProtocolOptions) (domain.Protocol, error) {
	existing, err := e.Repo.GetProtocol(ctx, opts.ID)
	if err != nil {
		return domain.Protocol{}, err
	}
	if existing.GroupID != opts.ActorGroupID {
		return domain.Protocol{}, ErrAccessDenied
	}
	if existing.Status == "finalized" && (opts.Status == nil || *opts.Status != "finalized") {
		return domain.Protocol{}, ErrInvalidState
	}

	changes := map[string]any{}
	updated := existing
	if opts.Title != nil && *opts.Title != existing.Title {
		changes["title"] = map[string]any{"old": existing.Title, "new": *opts.Title}
	}
	if opts.Status != nil && *opts.Status != existing.Status {
		changes["status"] = map[string]any{"old": existing.Status, "new": *opts.Status}
	}
	if opts.Title != nil {
		updated.Title = *opts.Title
	}
	if opts.Data != nil {
		updated.Data = opts.Data
	}
	if opts.Status != nil {
		updated.Status = *opts.Status
	}
	if opts.LockedSections != nil {
		updated.LockedSections = *opts.LockedSections
	}
	updated.UpdatedBy = &opts.ActorID

	p, err := e.applyUpdate(ctx, existing, updated, opts.ActorID, changes)
	if err != nil {
		return domain.Protocol{}, err
	}
	e.emitProtocol(p.ID, "protocol-updated", map[string]any{
		"protocolId": p.ID,
		"protocol":   p,
		"updatedBy":  opts.ActorID,
	})
	return p, nil
}

// SectionUpdateOptions target a single key of the data mapping.
type SectionUpdateOptions struct {
	ProtocolID   string
	ActorID      string
	ActorGroupID string
	SectionID    string
	Content      any
}

// UpdateSection merges content into one section. The whole document is
// still read-modify-written; sections only narrow the blast radius.
func (e Engine) UpdateSection(ctx context.Context, opts SectionUpdateOptions) (domain.Protocol, error) {
	if opts.SectionID == "" {
		return domain.Protocol{}, requiredField("section_id")
	}
	if opts.Content == nil {
		return domain.Protocol{}, requiredField("content")
	}
	existing, err := e.Repo.GetProtocol(ctx, opts.ProtocolID)
	if err != nil {
		return domain.Protocol{}, err
	}
	if existing.GroupID != opts.ActorGroupID {
		return domain.Protocol{}, ErrAccessDenied
	}
	if existing.Status == "finalized" {
		return domain.Protocol{}, ErrInvalidState
	}
	for _, s := range existing.LockedSections {
		if s == opts.SectionID {
			return domain.Protocol{}, SectionLockedError{Section: s}
		}
	}

	updated := existing
	updated.Data = make(map[string]any, len(existing.Data)+1)
	for k, v := range existing.Data {
		updated.Data[k] = v
	}
	updated.Data[opts.SectionID] = opts.Content
	updated.UpdatedBy = &opts.ActorID

	p, err := e.applyUpdate(ctx, existing, updated, opts.ActorID, map[string]any{"section": opts.SectionID})
	if err != nil {
		return domain.Protocol{}, err
	}
	e.emitProtocol(p.ID, "section-updated", map[string]any{
		"protocolId": p.ID,
		"sectionId":  opts.SectionID,
		"content":    opts.Content,
		"updatedBy":  opts.ActorID,
	})
	return p, nil
}

// applyUpdate snapshots the pre-update state, increments the version and
// persists, all in one transaction.
func (e Engine) applyUpdate(ctx context.Context, existing, updated domain.Protocol, actorID string, changes map[string]any) (domain.Protocol, error) {
	now := e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Protocol{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.AppendSnapshotTx(ctx, tx, domain.Version{
		ProtocolID: existing.ID,
		Version:    existing.Version,
		Data:       existing.Data,
		ChangedBy:  actorID,
		Changes:    changes,
		CreatedAt:  now,
	}); err != nil {
		return domain.Protocol{}, fmt.Errorf("append snapshot: %w", err)
	}
	updated.Version = existing.Version + 1
	updated.UpdatedAt = now
	if err := e.Repo.UpdateProtocolTx(ctx, tx, updated); err != nil {
		return domain.Protocol{}, fmt.Errorf("update protocol: %w", err)
	}
	if err := e.Activity.Append(ctx, tx, updated.GroupID, actorID, "protocol", updated.ID, "updated", activity.Details(changes)); err != nil {
		return domain.Protocol{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Protocol{}, err
	}
	return updated, nil
}

// Finalize freezes the protocol and derives tasks from its todos payload.
// Task derivation is best effort: a failure there is logged and never
// fails the finalize itself.
func (e Engine) Finalize(ctx context.Context, id, actorID, actorGroupID string) (domain.Protocol, error) {
	existing, err := e.Repo.GetProtocol(ctx, id)
	if err != nil {
		return domain.Protocol{}, err
	}
	if existing.GroupID != actorGroupID {
		return domain.Protocol{}, ErrAccessDenied
	}
	if existing.Status == "finalized" {
		return domain.Protocol{}, ErrAlreadyFinalized
	}

	now := e.now().UTC().Format(time.RFC3339)
	updated := existing
	updated.Status = "finalized"
	updated.FinalizedBy = &actorID
	updated.FinalizedAt = &now
	updated.UpdatedAt = now

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Protocol{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateProtocolTx(ctx, tx, updated); err != nil {
		return domain.Protocol{}, fmt.Errorf("finalize protocol: %w", err)
	}
	if err := e.Activity.Append(ctx, tx, updated.GroupID, actorID, "protocol", id, "finalized", activity.Details{
		"finalized_at": now,
	}); err != nil {
		return domain.Protocol{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Protocol{}, err
	}

	for _, task := range e.deriveTasks(ctx, updated) {
		e.emitGroup(updated.GroupID, "task-created", map[string]any{"task": task})
	}
	return updated, nil
}

// AttendeeInput is one submitted attendance row. Nil capacities default
// to 100.
type AttendeeInput struct {
	UserID                   string
	Type                     string
	ArrivalTime              *string
	DepartureTime            *string
	CapacityTasks            *int
	CapacityResponsibilities *int
	Notes                    string
}

// UpdateAttendees bulk-upserts attendance keyed on (protocol, user). Rows
// for users missing from the submission are left untouched. Attendance is
// metadata, not content: no version bump.
func (e Engine) UpdateAttendees(ctx context.Context, protocolID, actorID, actorGroupID string, attendees []AttendeeInput) ([]domain.Attendee, error) {
	p, err := e.Repo.GetProtocol(ctx, protocolID)
	if err != nil {
		return nil, err
	}
	if p.GroupID != actorGroupID {
		return nil, repo.ErrNotFound
	}
	rows := make([]domain.Attendee, 0, len(attendees))
	for _, in := range attendees {
		if in.UserID == "" {
			return nil, requiredField("attendees[].user_id")
		}
		if in.Type == "" {
			return nil, requiredField("attendees[].type")
		}
		row := domain.Attendee{
			ProtocolID:               protocolID,
			UserID:                   in.UserID,
			AttendanceType:           in.Type,
			ArrivalTime:              in.ArrivalTime,
			DepartureTime:            in.DepartureTime,
			CapacityTasks:            100,
			CapacityResponsibilities: 100,
			Notes:                    in.Notes,
		}
		if in.CapacityTasks != nil {
			row.CapacityTasks = *in.CapacityTasks
		}
		if in.CapacityResponsibilities != nil {
			row.CapacityResponsibilities = *in.CapacityResponsibilities
		}
		rows = append(rows, row)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpsertAttendeesTx(ctx, tx, rows); err != nil {
		return nil, fmt.Errorf("upsert attendees: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return rows, nil
}

func (e Engine) AddComment(ctx context.Context, protocolID, actorID, actorGroupID, sectionID, text string) (domain.Comment, error) {
	if sectionID == "" {
		return domain.Comment{}, requiredField("section_id")
	}
	if text == "" {
		return domain.Comment{}, requiredField("comment")
	}
	p, err := e.Repo.GetProtocol(ctx, protocolID)
	if err != nil {
		return domain.Comment{}, err
	}
	if p.GroupID != actorGroupID {
		return domain.Comment{}, repo.ErrNotFound
	}
	c := domain.Comment{
		ID:         uuid.New().String(),
		ProtocolID: protocolID,
		SectionID:  sectionID,
		UserID:     actorID,
		Comment:    text,
		CreatedAt:  e.now().UTC().Format(time.RFC3339),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Comment{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertCommentTx(ctx, tx, c); err != nil {
		return domain.Comment{}, fmt.Errorf("insert comment: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Comment{}, err
	}
	e.emitProtocol(protocolID, "comment-added", map[string]any{
		"protocolId": protocolID,
		"comment":    c,
	})
	return c, nil
}

// ResolveComment marks a comment resolved. Resolving an already-resolved
// comment returns it unchanged: the operation is idempotent.
func (e Engine) ResolveComment(ctx context.Context, protocolID, commentID, actorID, actorGroupID string) (domain.Comment, error) {
	p, err := e.Repo.GetProtocol(ctx, protocolID)
	if err != nil {
		return domain.Comment{}, err
	}
	if p.GroupID != actorGroupID {
		return domain.Comment{}, repo.ErrNotFound
	}
	c, err := e.Repo.GetComment(ctx, commentID)
	if err != nil {
		return domain.Comment{}, err
	}
	if c.ProtocolID != protocolID {
		return domain.Comment{}, repo.ErrNotFound
	}
	if c.Resolved {
		return c, nil
	}
	now := e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Comment{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.ResolveCommentTx(ctx, tx, commentID, actorID, now); err != nil {
		return domain.Comment{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Comment{}, err
	}
	c.Resolved = true
	c.ResolvedBy = &actorID
	c.ResolvedAt = &now
	e.emitProtocol(protocolID, "comment-resolved", map[string]any{
		"protocolId": protocolID,
		"commentId":  commentID,
		"resolvedBy": actorID,
	})
	return c, nil
}

// ProtocolDetail is a protocol with its sub-entities attached.
type ProtocolDetail struct {
	Protocol  domain.Protocol
	Attendees []domain.Attendee
	Comments  []domain.Comment
}

// GetProtocolDetail loads a protocol with attendees and comments. Cross-
// group callers get ErrAccessDenied without seeing any document content.
func (e Engine) GetProtocolDetail(ctx context.Context, id, actorGroupID string) (ProtocolDetail, error) {
	p, err := e.Repo.GetProtocol(ctx, id)
	if err != nil {
		return ProtocolDetail{}, err
	}
	if p.GroupID != actorGroupID {
		return ProtocolDetail{}, ErrAccessDenied
	}
	attendees, err := e.Repo.ListAttendees(ctx, id)
	if err != nil {
		return ProtocolDetail{}, err
	}
	comments, err := e.Repo.ListComments(ctx, id)
	if err != nil {
		return ProtocolDetail{}, err
	}
	return ProtocolDetail{Protocol: p, Attendees: attendees, Comments: comments}, nil
}

// ListVersions returns the protocol's ledger, most recent first.
func (e Engine) ListVersions(ctx context.Context, protocolID, actorGroupID string) ([]domain.Version, error) {
	p, err := e.Repo.GetProtocol(ctx, protocolID)
	if err != nil {
		return nil, err
	}
	if p.GroupID != actorGroupID {
		return nil, repo.ErrNotFound
	}
	return e.Repo.ListVersions(ctx, protocolID)
}
