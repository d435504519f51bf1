package domain

import "time"

type Frequency string

const (
	FrequencyDaily       Frequency = "daily"
	FrequencyWeekly      Frequency = "weekly"
	FrequencyMonthly     Frequency = "monthly"
	FrequencyQuarterly   Frequency = "quarterly"
	FrequencyYearly      Frequency = "yearly"
	FrequencyEvery3Years Frequency = "every_3_years"
)

// Valid reports whether f is a known frequency.
func (f Frequency) Valid() bool {
	switch f {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly, FrequencyQuarterly, FrequencyYearly, FrequencyEvery3Years:
		return true
	}
	return false
}

// AnchorRule pins a frequency to calendar positions. Which fields are
// required depends on the frequency.
type AnchorRule struct {
	DayOfWeek  *int `json:"day_of_week,omitempty" minimum:"0" maximum:"6"`
	DayOfMonth *int `json:"day_of_month,omitempty" minimum:"1" maximum:"31"`
	Month      *int `json:"month,omitempty" minimum:"1" maximum:"12"`
}

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusFailed     Status = "failed"
	StatusPassed     Status = "passed"
	StatusVoid       Status = "void"
)

// Statuses lists every instance status in lifecycle order.
var Statuses = []Status{StatusPending, StatusInProgress, StatusFailed, StatusPassed, StatusVoid}

type Role string

const (
	RoleOwner     Role = "owner"
	RoleAdmin     Role = "admin"
	RoleNurse     Role = "nurse"
	RoleInspector Role = "inspector"
)

func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleNurse, RoleInspector:
		return true
	}
	return false
}

// Privileged roles may void instances and manage templates.
func (r Role) Privileged() bool {
	return r == RoleOwner || r == RoleAdmin
}

type Location struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Timezone  string    `json:"timezone"`
	CreatedAt time.Time `json:"created_at"`
}

type Profile struct {
	ID          string    `json:"id"`
	Email       string    `json:"email,omitempty"`
	Name        string    `json:"name"`
	Role        Role      `json:"role" enum:"owner,admin,nurse,inspector"`
	Phone       string    `json:"phone,omitempty"`
	LocationIDs []string  `json:"location_ids"`
	CreatedAt   time.Time `json:"created_at"`
}

// PushCapable reports whether push messages can reach the profile.
func (p Profile) PushCapable() bool {
	return p.Phone != ""
}

type Template struct {
	ID                string     `json:"id"`
	LocationID        string     `json:"location_id"`
	Name              string     `json:"name"`
	Description       string     `json:"description,omitempty"`
	Frequency         Frequency  `json:"frequency" enum:"daily,weekly,monthly,quarterly,yearly,every_3_years"`
	Anchor            AnchorRule `json:"anchor"`
	AssigneeProfileID *string    `json:"assignee_profile_id,omitempty"`
	AssigneeEmail     *string    `json:"assignee_email,omitempty"`
	Active            bool       `json:"active"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

type Instance struct {
	ID                string     `json:"id"`
	TemplateID        string     `json:"template_id"`
	LocationID        string     `json:"location_id"`
	DueAt             time.Time  `json:"due_at"`
	AssigneeProfileID *string    `json:"assignee_profile_id,omitempty"`
	AssigneeEmail     *string    `json:"assignee_email,omitempty"`
	Status            Status     `json:"status" enum:"pending,in_progress,failed,passed,void"`
	Remarks           string     `json:"remarks,omitempty"`
	InspectedAt       *time.Time `json:"inspected_at,omitempty"`
	FailedAt          *time.Time `json:"failed_at,omitempty"`
	PassedAt          *time.Time `json:"passed_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Unassigned reports whether nobody, by profile or by email, owns the instance.
func (i Instance) Unassigned() bool {
	return (i.AssigneeProfileID == nil || *i.AssigneeProfileID == "") &&
		(i.AssigneeEmail == nil || *i.AssigneeEmail == "")
}

type Category string

const (
	CategoryOverdue        Category = "overdue"
	CategoryDueToday       Category = "due_today"
	CategoryUpcoming       Category = "upcoming"
	CategoryMonthlyWarning Category = "monthly_warning"
	CategoryEscalation     Category = "escalation"
	CategoryAssignment     Category = "assignment"
	CategoryReminder       Category = "reminder"
)

type NotificationStatus string

const (
	NotificationQueued NotificationStatus = "queued"
	NotificationSent   NotificationStatus = "sent"
	NotificationFailed NotificationStatus = "failed"
)

type Notification struct {
	ID             string             `json:"id"`
	Category       Category           `json:"category"`
	Destination    string             `json:"destination"`
	Subject        string             `json:"subject"`
	Payload        string             `json:"payload"`
	Status         NotificationStatus `json:"status" enum:"queued,sent,failed"`
	IdempotencyKey *string            `json:"idempotency_key,omitempty"`
	RequeuedFrom   *string            `json:"requeued_from,omitempty"`
	Error          *string            `json:"error,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
	SentAt         *time.Time         `json:"sent_at,omitempty"`
}

// NotificationPayload is the structured body stored with reminder-style notifications.
type NotificationPayload struct {
	InstanceID   string    `json:"instance_id,omitempty"`
	LocationID   string    `json:"location_id,omitempty"`
	LocationName string    `json:"location_name,omitempty"`
	TaskName     string    `json:"task_name,omitempty"`
	DueAt        time.Time `json:"due_at,omitempty"`
	Category     Category  `json:"category"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	LocationID string `json:"location_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload"`
}

// APIKey lets an integration call the API as a profile. Only the hash of
// the key is stored.
type APIKey struct {
	ID         string     `json:"id"`
	ProfileID  string     `json:"profile_id"`
	Name       string     `json:"name,omitempty"`
	KeyHash    string     `json:"-"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}
