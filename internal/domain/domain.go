package domain

// Protocol is the collaboratively edited meeting document. Data maps
// section identifiers to section content; its shape comes from the
// template and is not enforced at this layer.
type Protocol struct {
	ID             string         `json:"id"`
	GroupID        string         `json:"group_id"`
	TemplateID     *string        `json:"template_id,omitempty"`
	MeetingDate    string         `json:"meeting_date" format:"date"`
	Title          string         `json:"title"`
	Data           map[string]any `json:"data"`
	Status         string         `json:"status" enum:"draft,active,finalized"`
	LockedSections []string       `json:"locked_sections"`
	Version        int            `json:"version"`
	CreatedBy      string         `json:"created_by"`
	UpdatedBy      *string        `json:"updated_by,omitempty"`
	FinalizedBy    *string        `json:"finalized_by,omitempty"`
	FinalizedAt    *string        `json:"finalized_at,omitempty" format:"date-time"`
	CreatedAt      string         `json:"created_at" format:"date-time"`
	UpdatedAt      string         `json:"updated_at" format:"date-time"`
}

// Version is an immutable snapshot of a protocol's data captured before
// an update overwrote it. The version number is the value the protocol
// held before that update.
type Version struct {
	ID         string         `json:"id"`
	ProtocolID string         `json:"protocol_id"`
	Version    int            `json:"version"`
	Data       map[string]any `json:"data"`
	ChangedBy  string         `json:"changed_by"`
	Changes    map[string]any `json:"changes"`
	CreatedAt  string         `json:"created_at" format:"date-time"`
}

type Attendee struct {
	ProtocolID               string  `json:"protocol_id"`
	UserID                   string  `json:"user_id"`
	AttendanceType           string  `json:"attendance_type" enum:"present,online,absent"`
	ArrivalTime              *string `json:"arrival_time,omitempty"`
	DepartureTime            *string `json:"departure_time,omitempty"`
	CapacityTasks            int     `json:"capacity_tasks"`
	CapacityResponsibilities int     `json:"capacity_responsibilities"`
	Notes                    string  `json:"notes,omitempty"`
}

type Comment struct {
	ID         string  `json:"id"`
	ProtocolID string  `json:"protocol_id"`
	SectionID  string  `json:"section_id"`
	UserID     string  `json:"user_id"`
	Comment    string  `json:"comment"`
	Resolved   bool    `json:"resolved"`
	ResolvedBy *string `json:"resolved_by,omitempty"`
	ResolvedAt *string `json:"resolved_at,omitempty" format:"date-time"`
	CreatedAt  string  `json:"created_at" format:"date-time"`
}

type Task struct {
	ID              string  `json:"id"`
	ProtocolID      *string `json:"protocol_id,omitempty"`
	GroupID         string  `json:"group_id"`
	Title           string  `json:"title"`
	Description     string  `json:"description,omitempty"`
	AssignedTo      *string `json:"assigned_to,omitempty"`
	Deadline        *string `json:"deadline,omitempty" format:"date"`
	Priority        string  `json:"priority" enum:"low,medium,high,urgent"`
	Status          string  `json:"status" enum:"open,in_progress,done,cancelled"`
	Category        string  `json:"category,omitempty"`
	CreatedBy       string  `json:"created_by"`
	CompletedAt     *string `json:"completed_at,omitempty" format:"date-time"`
	CompletionNotes string  `json:"completion_notes,omitempty"`
	CreatedAt       string  `json:"created_at" format:"date-time"`
	UpdatedAt       string  `json:"updated_at" format:"date-time"`
}

type Group struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type User struct {
	ID           string `json:"id"`
	GroupID      string `json:"group_id"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	PasswordHash string `json:"-"`
	CreatedAt    string `json:"created_at" format:"date-time"`
}

// Template seeds a new protocol's data when no initial data is given.
type Template struct {
	ID        string         `json:"id"`
	GroupID   *string        `json:"group_id,omitempty"`
	Name      string         `json:"name"`
	Structure map[string]any `json:"structure"`
	IsDefault bool           `json:"is_default"`
	CreatedAt string         `json:"created_at" format:"date-time"`
}

type ActivityLog struct {
	ID         int64          `json:"id"`
	GroupID    string         `json:"group_id"`
	UserID     string         `json:"user_id"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	Action     string         `json:"action"`
	Details    map[string]any `json:"details"`
	CreatedAt  string         `json:"created_at" format:"date-time"`
}
