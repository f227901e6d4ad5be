package models

import "time"

// SystemUserID is the reporter of record when no acting user is known,
// e.g. issues auto-created from inbound email.
const SystemUserID int64 = 1

// User is an account known to the tracker. CustomerID ties customer-role
// users to their customer account; GroupID is the user's team.
type User struct {
	ID         int64
	FullName   string
	Email      string
	CustomerID string
	GroupID    int64
	Active     bool
	CreatedAt  time.Time
}

// Group is a team of users; issues may be routed to a group.
type Group struct {
	ID        int64
	ProjectID int64
	Name      string
}
