package server

import (
	"protokoll/internal/domain"
	"protokoll/internal/engine"
)

// Request payloads

type LoginRequest struct {
	Email    string `json:"email" format:"email"`
	Password string `json:"password"`
}

type CreateProtocolRequest struct {
	MeetingDate string         `json:"meeting_date" format:"date"`
	Title       string         `json:"title"`
	Data        map[string]any `json:"data,omitempty"`
	TemplateID  *string        `json:"template_id,omitempty"`
}

type UpdateProtocolRequest struct {
	Title          *string        `json:"title,omitempty"`
	Data           map[string]any `json:"data,omitempty"`
	Status         *string        `json:"status,omitempty" enum:"draft,active,finalized"`
	LockedSections *[]string      `json:"locked_sections,omitempty"`
}

type UpdateSectionRequest struct {
	Content any `json:"content"`
}

type AttendeeRequest struct {
	UserID                   string  `json:"user_id"`
	AttendanceType           string  `json:"attendance_type" enum:"present,online,absent"`
	ArrivalTime              *string `json:"arrival_time,omitempty"`
	DepartureTime            *string `json:"departure_time,omitempty"`
	CapacityTasks            *int    `json:"capacity_tasks,omitempty"`
	CapacityResponsibilities *int    `json:"capacity_responsibilities,omitempty"`
	Notes                    string  `json:"notes,omitempty"`
}

type UpdateAttendeesRequest struct {
	Attendees []AttendeeRequest `json:"attendees"`
}

type AddCommentRequest struct {
	SectionID string `json:"section_id"`
	Comment   string `json:"comment"`
}

type CreateTaskRequest struct {
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	ProtocolID  *string `json:"protocol_id,omitempty"`
	AssignedTo  *string `json:"assigned_to,omitempty"`
	Deadline    *string `json:"deadline,omitempty" format:"date"`
	Priority    string  `json:"priority,omitempty" enum:"low,medium,high,urgent"`
	Category    string  `json:"category,omitempty"`
}

type UpdateTaskRequest struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	AssignedTo  *string `json:"assigned_to,omitempty"`
	Deadline    *string `json:"deadline,omitempty" format:"date"`
	Priority    *string `json:"priority,omitempty" enum:"low,medium,high,urgent"`
}

type UpdateTaskStatusRequest struct {
	Status          string `json:"status" enum:"open,in_progress,done,cancelled"`
	CompletionNotes string `json:"completion_notes,omitempty"`
}

// Response payloads

type LoginResponse struct {
	Token string      `json:"token"`
	User  domain.User `json:"user"`
}

type ProtocolDetailResponse struct {
	Protocol  domain.Protocol   `json:"protocol"`
	Attendees []domain.Attendee `json:"attendees"`
	Comments  []domain.Comment  `json:"comments"`
}

func detailResponse(d engine.ProtocolDetail) ProtocolDetailResponse {
	resp := ProtocolDetailResponse{
		Protocol:  d.Protocol,
		Attendees: d.Attendees,
		Comments:  d.Comments,
	}
	if resp.Attendees == nil {
		resp.Attendees = []domain.Attendee{}
	}
	if resp.Comments == nil {
		resp.Comments = []domain.Comment{}
	}
	return resp
}

func attendeeInputs(reqs []AttendeeRequest) []engine.AttendeeInput {
	rows := make([]engine.AttendeeInput, 0, len(reqs))
	for _, r := range reqs {
		rows = append(rows, engine.AttendeeInput{
			UserID:                   r.UserID,
			Type:                     r.AttendanceType,
			ArrivalTime:              r.ArrivalTime,
			DepartureTime:            r.DepartureTime,
			CapacityTasks:            r.CapacityTasks,
			CapacityResponsibilities: r.CapacityResponsibilities,
			Notes:                    r.Notes,
		})
	}
	return rows
}

func nonNilProtocols(items []domain.Protocol) []domain.Protocol {
	if items == nil {
		return []domain.Protocol{}
	}
	return items
}

func nonNilVersions(items []domain.Version) []domain.Version {
	if items == nil {
		return []domain.Version{}
	}
	return items
}

func nonNilTasks(items []domain.Task) []domain.Task {
	if items == nil {
		return []domain.Task{}
	}
	return items
}

func nonNilAttendees(items []domain.Attendee) []domain.Attendee {
	if items == nil {
		return []domain.Attendee{}
	}
	return items
}

func nonNilActivity(items []domain.ActivityLog) []domain.ActivityLog {
	if items == nil {
		return []domain.ActivityLog{}
	}
	return items
}
