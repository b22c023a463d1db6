package engine

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"protokoll/internal/domain"
)

// deriveTasks turns the finalized protocol's data.todos payload into
// persisted tasks, one per entry with a non-empty title. The payload maps
// user identifiers to ordered todo lists. Entries without a usable title
// are skipped silently; insert failures are logged and do not abort the
// remaining entries.
func (e Engine) deriveTasks(ctx context.Context, p domain.Protocol) []domain.Task {
	todos, ok := p.Data["todos"].(map[string]any)
	if !ok {
		return nil
	}
	finalizer := p.CreatedBy
	if p.FinalizedBy != nil {
		finalizer = *p.FinalizedBy
	}
	now := e.now().UTC().Format(time.RFC3339)
	var created []domain.Task
	for userID, raw := range todos {
		entries, ok := raw.([]any)
		if !ok {
			continue
		}
		for _, entry := range entries {
			todo, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			title, _ := todo["title"].(string)
			if strings.TrimSpace(title) == "" {
				continue
			}
			assignee := userID
			task := domain.Task{
				ID:         uuid.New().String(),
				ProtocolID: &p.ID,
				GroupID:    p.GroupID,
				Title:      title,
				AssignedTo: &assignee,
				Priority:   e.defaultPriority(),
				Status:     "open",
				Category:   e.derivedCategory(),
				CreatedBy:  finalizer,
				CreatedAt:  now,
				UpdatedAt:  now,
			}
			if desc, ok := todo["description"].(string); ok {
				task.Description = desc
			}
			if deadline, ok := todo["deadline"].(string); ok && deadline != "" {
				task.Deadline = &deadline
			}
			if priority, ok := todo["priority"].(string); ok && priority != "" {
				task.Priority = priority
			}
			if err := e.Repo.InsertTask(ctx, task); err != nil {
				e.logger().Printf("derive task for protocol %s: %v", p.ID, err)
				continue
			}
			created = append(created, task)
		}
	}
	return created
}
