package models

import "time"

// EmailAccount is a per-project inbound mail account polled for support
// email. Administered via the admin CRUD surface.
type EmailAccount struct {
	ID                  int64
	ProjectID           int64
	Type                string // "imap" or "pop3"
	Hostname            string
	Port                int
	Folder              string
	Username            string
	Password            string
	OnlyNew             bool
	LeaveCopy           bool
	IssueAutoCreation   bool
	AutoCreationOptions string
	CreatedAt           time.Time
}

// LinkFilter rewrites matching text in issue bodies into links. Filters are
// scoped to a project (0 = all projects) and hidden from users below MinRole.
type LinkFilter struct {
	ID          int64
	ProjectID   int64
	Pattern     string
	Replacement string
	Description string
	MinRole     Role
	CreatedAt   time.Time
}
