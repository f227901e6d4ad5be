package issue

import (
	"time"

	"github.com/trkdev/trk/internal/store"
)

// UpdateParams carries a validated issue update. Zero-valued id fields mean
// "clear"; the Has* flags gate the association and assignment reconciliation
// so callers that do not submit those lists leave them untouched.
type UpdateParams struct {
	Summary     string
	Description string

	CategoryID   int64
	PriorityID   int64
	StatusID     int64
	ReleaseID    int64
	ResolutionID int64
	GroupID      int64

	EstimatedHours     float64
	PercentComplete    int
	Private            bool
	ExpectedResolution *time.Time

	Associations    []int64
	HasAssociations bool

	Assignees    []int64
	HasAssignees bool

	// MoveToProjectID moves the issue to another project after the update.
	// Zero means no move.
	MoveToProjectID int64

	Notify bool
}

// CloseParams carries an issue close request. NotifyTo "all" records the
// close reason as a synthesized inbound email; anything else files it as an
// internal note.
type CloseParams struct {
	IssueID      int64
	Actor        int64
	Notify       bool
	ResolutionID int64
	StatusID     int64
	Reason       string
	NotifyTo     string
}

// AttachmentInput is one uploaded file on the form create path.
type AttachmentInput struct {
	Filename string
	MimeType string
	Content  []byte
}

// CreateParams carries a new issue from either construction path. A zero
// ReporterID defaults to the system user. SenderEmail is set on the email
// path and excluded from the new-issue broadcast.
type CreateParams struct {
	ProjectID   int64
	ReporterID  int64
	Summary     string
	Description string

	CategoryID     int64
	PriorityID     int64
	ReleaseID      int64
	GroupID        int64
	EstimatedHours float64
	Private        bool

	CustomerID string
	ContactID  string

	Assignees             []int64
	NotificationAddresses []string

	// Form path only. NotifySenders lists the senders of emails that were
	// converted into this issue; NotifyCustomer requests the confirmation
	// email to the customer contact.
	CustomFields   map[int64]string
	Attachments    []AttachmentInput
	NotifySenders  []string
	NotifyCustomer bool

	// Email path only.
	SenderEmail   string
	RootMessageID string
}

// BulkUpdateParams applies the same change set to several issues of one
// project. Zero-valued id fields are left unchanged.
type BulkUpdateParams struct {
	ProjectID int64
	IssueIDs  []int64

	Assignees    []int64
	HasAssignees bool

	StatusID   int64
	ReleaseID  int64
	PriorityID int64
	CategoryID int64

	Close             bool
	CloseStatusID     int64
	CloseResolutionID int64
	CloseReason       string
}

// DuplicateFields re-exports the store type so callers build propagation
// requests without importing the store package.
type DuplicateFields = store.DuplicateFields
