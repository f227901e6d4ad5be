package models

import "time"

// Project is a tracked project. WorkflowBackend names the registered
// workflow backend customizing this project's lifecycle behavior; empty
// means no customization.
type Project struct {
	ID                  int64
	Name                string
	WorkflowBackend     string
	InitialStatusID     int64
	CustomerIntegration bool
	SegregateReporters  bool
	CreatedAt           time.Time
}

// Role is a project-scoped permission level. The ordering matters: role
// comparisons gate most operations.
type Role int

const (
	RoleViewer Role = iota + 1
	RoleReporter
	RoleCustomer
	RoleUser
	RoleDeveloper
	RoleManager
	RoleAdministrator
)

func (r Role) String() string {
	switch r {
	case RoleViewer:
		return "Viewer"
	case RoleReporter:
		return "Reporter"
	case RoleCustomer:
		return "Customer"
	case RoleUser:
		return "Standard User"
	case RoleDeveloper:
		return "Developer"
	case RoleManager:
		return "Manager"
	case RoleAdministrator:
		return "Administrator"
	default:
		return "Unknown"
	}
}
