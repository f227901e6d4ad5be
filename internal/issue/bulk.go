package issue

import (
	"context"
	"fmt"
	"strings"

	"github.com/trkdev/trk/internal/models"
)

// BulkUpdate applies one change set to many issues of a project. The actor
// must be a manager or above. Issues the actor cannot access, or that
// belong to a different project, are skipped silently.
func (m *Manager) BulkUpdate(ctx context.Context, c *Cache, actor int64, p BulkUpdateParams) Result {
	role, err := m.store.RoleByUser(ctx, p.ProjectID, actor)
	if err != nil || role < models.RoleManager {
		return Failure("bulk update requires a manager role")
	}

	for _, issueID := range p.IssueIDs {
		if !m.CanAccess(ctx, c, issueID, actor) {
			continue
		}
		if m.GetProjectID(ctx, c, issueID, false) != p.ProjectID {
			continue
		}
		m.bulkUpdateOne(ctx, c, actor, issueID, p)
	}
	return Success()
}

func (m *Manager) bulkUpdateOne(ctx context.Context, c *Cache, actor, issueID int64, p BulkUpdateParams) {
	before, err := m.issue(ctx, c, issueID)
	if err != nil {
		return
	}

	if p.HasAssignees {
		m.SetAssignees(ctx, c, issueID, actor, p.Assignees)
	}

	var parts []string
	if p.StatusID != 0 {
		if m.SetStatus(ctx, c, issueID, p.StatusID, false).Ok() {
			parts = append(parts, fmt.Sprintf("Status: %d -> %d", before.StatusID, p.StatusID))
		}
	}
	if p.ReleaseID != 0 {
		if m.SetRelease(ctx, c, issueID, p.ReleaseID).Ok() {
			parts = append(parts, fmt.Sprintf("Release: %d -> %d", before.ReleaseID, p.ReleaseID))
		}
	}
	if p.PriorityID != 0 {
		if m.SetPriority(ctx, c, issueID, p.PriorityID).Ok() {
			parts = append(parts, fmt.Sprintf("Priority: %d -> %d", before.PriorityID, p.PriorityID))
		}
	}
	if p.CategoryID != 0 {
		if m.SetCategory(ctx, c, issueID, p.CategoryID).Ok() {
			parts = append(parts, fmt.Sprintf("Category: %d -> %d", before.CategoryID, p.CategoryID))
		}
	}

	if len(parts) > 0 {
		m.addHistory(ctx, issueID, actor, models.HistoryIssueBulkUpdated,
			fmt.Sprintf("Issue updated (%s) by %s", strings.Join(parts, "; "), m.actorName(ctx, actor)))
	}

	if p.Close {
		m.Close(ctx, c, CloseParams{
			IssueID:      issueID,
			Actor:        actor,
			Notify:       false,
			ResolutionID: p.CloseResolutionID,
			StatusID:     p.CloseStatusID,
			Reason:       p.CloseReason,
		})
	}
}
