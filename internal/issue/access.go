package issue

import (
	"context"

	"github.com/trkdev/trk/internal/models"
)

// CanAccess decides whether a user may see an issue. The verdict is cached
// per (issue, user) pair for the life of the request cache. A missing issue
// is readable: access control applies to issues, not to their absence.
func (m *Manager) CanAccess(ctx context.Context, c *Cache, issueID, userID int64) bool {
	if v, ok := c.accessVerdict(issueID, userID); ok {
		return v
	}
	allowed := m.checkAccess(ctx, c, issueID, userID)
	c.putAccess(issueID, userID, allowed)
	return allowed
}

func (m *Manager) checkAccess(ctx context.Context, c *Cache, issueID, userID int64) bool {
	issue, err := m.issue(ctx, c, issueID)
	if err != nil {
		return true
	}

	role, err := m.store.RoleByUser(ctx, issue.ProjectID, userID)
	if err != nil || role == 0 {
		return false
	}

	user, err := m.store.GetUser(ctx, userID)
	if err != nil {
		return false
	}

	// Customer users see only their own customer's issues.
	if role == models.RoleCustomer && user.CustomerID != issue.CustomerID {
		return false
	}

	if issue.Private {
		return m.canAccessPrivate(ctx, issue, user, role)
	}

	project, err := m.store.GetProject(ctx, issue.ProjectID)
	if err == nil && project.SegregateReporters && role == models.RoleReporter {
		return m.isParticipant(ctx, issue, userID)
	}

	return true
}

// canAccessPrivate gates private issues: managers and above, the reporter,
// assignees, members of the issue's group, and authorized repliers.
func (m *Manager) canAccessPrivate(ctx context.Context, issue *models.Issue, user *models.User, role models.Role) bool {
	if role > models.RoleDeveloper {
		return true
	}
	if issue.ReporterID == user.ID {
		return true
	}
	if assigned, err := m.store.IsAssigned(ctx, issue.ID, user.ID); err == nil && assigned {
		return true
	}
	if issue.GroupID != 0 && issue.GroupID == user.GroupID {
		return true
	}
	if replier, err := m.store.IsAuthorizedReplier(ctx, issue.ID, user.ID); err == nil && replier {
		return true
	}
	return false
}

// isParticipant reports whether the user reported the issue or is an
// authorized replier on it.
func (m *Manager) isParticipant(ctx context.Context, issue *models.Issue, userID int64) bool {
	if issue.ReporterID == userID {
		return true
	}
	replier, err := m.store.IsAuthorizedReplier(ctx, issue.ID, userID)
	return err == nil && replier
}
