package models

import "time"

// Issue is a single tracked ticket. Lookup references (status, priority,
// category, release, resolution, group) are row ids into their respective
// tables; zero means "not set" for the nullable ones.
type Issue struct {
	ID           int64
	ProjectID    int64
	StatusID     int64
	PriorityID   int64
	CategoryID   int64
	ReleaseID    int64
	ResolutionID int64
	GroupID      int64
	ReporterID   int64
	Summary      string
	Description  string

	// DuplicateOf points at the issue this one duplicates (0 = none).
	DuplicateOf int64

	Private bool

	// Customer metadata, populated only for projects with customer
	// integration enabled.
	CustomerID string
	ContactID  string

	EstimatedHours   float64
	PercentComplete  int
	TriggerReminders bool

	// RootMessageID threads all mail for this issue under one parent.
	RootMessageID string

	ExpectedResolution *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
	ClosedAt  *time.Time

	LastPublicActionAt     *time.Time
	LastPublicActionType   string
	LastInternalActionAt   *time.Time
	LastInternalActionType string
	FirstResponseAt        *time.Time
	LastResponseAt         *time.Time
}

// Status is a global issue status. IsClosed marks statuses that count as
// "closed" for lifecycle purposes: an issue in an open status must have no
// closed date and no resolution.
type Status struct {
	ID       int64
	Title    string
	IsClosed bool
}

// Category is a per-project issue category.
type Category struct {
	ID        int64
	ProjectID int64
	Title     string
}

// Priority is a per-project issue priority.
type Priority struct {
	ID        int64
	ProjectID int64
	Title     string
}

// Release is a per-project target release.
type Release struct {
	ID        int64
	ProjectID int64
	Title     string
}

// Resolution describes how a closed issue was resolved.
type Resolution struct {
	ID    int64
	Title string
}

// Assignment links an issue to an assigned user.
type Assignment struct {
	IssueID    int64
	UserID     int64
	AssignedAt time.Time
}

// Quarantine is the optional hold record of an issue. A Status greater than
// zero means the quarantine is active; a nil Expiration never expires.
type Quarantine struct {
	IssueID    int64
	Status     int
	Expiration *time.Time
}

// Note is an internal comment on an issue.
type Note struct {
	ID        int64
	IssueID   int64
	UserID    int64
	Title     string
	Body      string
	CreatedAt time.Time
}

// Email is a support email row associated with an issue. Synthetic rows are
// inserted when an issue is closed with "notify all" semantics.
type Email struct {
	ID        int64
	IssueID   int64
	AccountID int64
	MessageID string
	From      string
	Subject   string
	Body      string
	Closing   bool
	CreatedAt time.Time
}

// Attachment groups one or more uploaded files on an issue.
type Attachment struct {
	ID          int64
	IssueID     int64
	UserID      int64
	Description string
	CreatedAt   time.Time
}

// AttachmentFile is a single stored file belonging to an attachment.
type AttachmentFile struct {
	ID           int64
	AttachmentID int64
	Filename     string
	MimeType     string
	Content      []byte
}

// CustomFieldValue stores one custom field value for an issue.
type CustomFieldValue struct {
	IssueID int64
	FieldID int64
	Value   string
}

// Subscription subscribes either a user or a bare email address to an
// issue's notifications. Actions is a comma-separated action list.
type Subscription struct {
	ID      int64
	IssueID int64
	UserID  int64
	Email   string
	Actions string
}
