package issue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/trkdev/trk/internal/models"
)

// Update applies a full issue edit: association and assignment
// reconciliation, field persistence, a combined audit entry over the changed
// fields, duplicate propagation, workflow hooks, and an optional project
// move. Validation problems with submitted associations are collected into
// the returned field-error map and the offending entries dropped.
func (m *Manager) Update(ctx context.Context, c *Cache, issueID, actor int64, p UpdateParams) (Result, map[string]string) {
	fieldErrors := make(map[string]string)

	old, err := m.issue(ctx, c, issueID)
	if err != nil {
		return Failure(err.Error()), fieldErrors
	}

	pending := *old
	pending.Summary = p.Summary
	pending.Description = p.Description
	pending.CategoryID = p.CategoryID
	pending.PriorityID = p.PriorityID
	pending.StatusID = p.StatusID
	pending.ReleaseID = p.ReleaseID
	pending.ResolutionID = p.ResolutionID
	pending.GroupID = p.GroupID
	pending.EstimatedHours = p.EstimatedHours
	pending.PercentComplete = p.PercentComplete
	pending.Private = p.Private
	pending.ExpectedResolution = p.ExpectedResolution

	m.wf.PreIssueUpdate(ctx, old.ProjectID, &pending)

	if p.HasAssociations {
		m.reconcileAssociations(ctx, issueID, actor, p.Associations, fieldErrors)
	}

	var prevAssignees []int64
	var assignmentChanged bool
	if p.HasAssignees {
		prevAssignees, assignmentChanged = m.reconcileAssignees(ctx, old, actor, p.Assignees)
	}

	if err := m.store.UpdateIssue(ctx, &pending); err != nil {
		m.log.Error("update issue", zap.Int64("issue_id", issueID), zap.Error(err))
		return Failure(err.Error()), fieldErrors
	}
	c.Invalidate(issueID)

	changes := diffIssues(old, &pending)

	if len(changes) > 0 {
		m.addHistory(ctx, issueID, actor, models.HistoryIssueUpdated,
			fmt.Sprintf("Issue updated (%s) by %s", changeSummary(changes), m.actorName(ctx, actor)))
	}

	if old.GroupID != pending.GroupID {
		m.addHistory(ctx, issueID, actor, models.HistoryGroupChanged,
			fmt.Sprintf("Group changed (%d -> %d) by %s", old.GroupID, pending.GroupID, m.actorName(ctx, actor)))
	}

	// Status moved out of a closed state wipes the close bookkeeping.
	if old.StatusID != pending.StatusID &&
		m.statusClosed(ctx, old.StatusID) && !m.statusClosed(ctx, pending.StatusID) {
		if err := m.store.ClearClosed(ctx, issueID); err != nil {
			m.log.Error("clear closed", zap.Int64("issue_id", issueID), zap.Error(err))
		}
		c.Invalidate(issueID)
	}

	if old.PriorityID != pending.PriorityID {
		m.wf.OnPriorityChange(ctx, old.ProjectID, issueID, actor, old.PriorityID, pending.PriorityID)
	}

	m.propagateToDuplicates(ctx, c, issueID, actor, old, &pending, changes)

	if assignmentChanged {
		current, _ := m.store.AssignedUserIDs(ctx, issueID)
		m.wf.OnAssignmentChange(ctx, old.ProjectID, issueID, actor, prevAssignees, current)
	}

	m.wf.OnIssueUpdated(ctx, old.ProjectID, issueID, actor, old, changes)

	if p.Notify && len(changes) > 0 {
		m.notifier.NotifyIssueUpdated(ctx, issueID, actor, changeSummary(changes))
	}

	if p.MoveToProjectID != 0 && p.MoveToProjectID != old.ProjectID {
		if res := m.moveToProject(ctx, c, &pending, actor, p.MoveToProjectID); res.Failed() {
			fieldErrors["project"] = res.Reason()
		}
	}

	return Success(), fieldErrors
}

// reconcileAssociations brings the association set to the submitted list.
// Nonexistent issues are reported as a field error and dropped.
func (m *Manager) reconcileAssociations(ctx context.Context, issueID, actor int64, desired []int64, fieldErrors map[string]string) {
	var valid []int64
	var bad []string
	for _, id := range desired {
		exists, err := m.store.IssueExists(ctx, id)
		if err != nil {
			m.log.Error("check association", zap.Int64("issue_id", id), zap.Error(err))
			continue
		}
		if !exists {
			bad = append(bad, fmt.Sprintf("#%d", id))
			continue
		}
		valid = append(valid, id)
	}
	if len(bad) > 0 {
		fieldErrors["associations"] = "associated issues do not exist: " + strings.Join(bad, ", ")
	}

	current, err := m.store.Associations(ctx, issueID)
	if err != nil {
		m.log.Error("load associations", zap.Int64("issue_id", issueID), zap.Error(err))
		return
	}

	want := make(map[int64]bool, len(valid))
	for _, id := range valid {
		want[id] = true
	}
	have := make(map[int64]bool, len(current))
	for _, id := range current {
		have[id] = true
	}

	name := m.actorName(ctx, actor)
	for _, id := range current {
		if !want[id] {
			if err := m.store.DeleteAssociation(ctx, issueID, id); err != nil {
				m.log.Error("delete association", zap.Int64("issue_id", issueID), zap.Error(err))
				continue
			}
			m.addHistory(ctx, issueID, actor, models.HistoryIssueUnassociated,
				fmt.Sprintf("Issue association to issue #%d removed by %s", id, name))
		}
	}
	for _, id := range valid {
		if !have[id] {
			if err := m.store.AddAssociation(ctx, issueID, id); err != nil {
				m.log.Error("add association", zap.Int64("issue_id", issueID), zap.Error(err))
				continue
			}
			m.addHistory(ctx, issueID, actor, models.HistoryIssueAssociated,
				fmt.Sprintf("Issue associated to issue #%d by %s", id, name))
		}
	}
}

// reconcileAssignees applies the submitted assignee list as a set diff. It
// returns the pre-change assignee set and whether anything changed.
func (m *Manager) reconcileAssignees(ctx context.Context, issue *models.Issue, actor int64, desired []int64) ([]int64, bool) {
	current, err := m.store.AssignedUserIDs(ctx, issue.ID)
	if err != nil {
		m.log.Error("load assignees", zap.Int64("issue_id", issue.ID), zap.Error(err))
		return nil, false
	}
	if sameIDSet(current, desired) {
		return current, false
	}

	want := make(map[int64]bool, len(desired))
	for _, id := range desired {
		want[id] = true
	}
	have := make(map[int64]bool, len(current))
	for _, id := range current {
		have[id] = true
	}

	name := m.actorName(ctx, actor)
	var added []int64
	for _, uid := range current {
		if !want[uid] {
			if err := m.store.UnassignUser(ctx, issue.ID, uid); err != nil {
				m.log.Error("unassign user", zap.Int64("issue_id", issue.ID), zap.Int64("user_id", uid), zap.Error(err))
				continue
			}
			m.addHistory(ctx, issue.ID, actor, models.HistoryUserUnassociated,
				fmt.Sprintf("Issue assignment to %s removed by %s", m.actorName(ctx, uid), name))
		}
	}
	for _, uid := range desired {
		if !have[uid] {
			if err := m.store.AssignUser(ctx, issue.ID, uid); err != nil {
				m.log.Error("assign user", zap.Int64("issue_id", issue.ID), zap.Int64("user_id", uid), zap.Error(err))
				continue
			}
			m.subscribeUser(ctx, issue, uid)
			m.addHistory(ctx, issue.ID, actor, models.HistoryUserAssociated,
				fmt.Sprintf("Issue assigned to %s by %s", m.actorName(ctx, uid), name))
			added = append(added, uid)
		}
	}
	if len(added) > 0 {
		m.notifier.NotifyAssignment(ctx, issue.ID, added)
	}
	return current, true
}

// duplicatedFields are the field names whose changes propagate to duplicate
// issues.
var duplicatedFields = map[string]bool{
	"Category":   true,
	"Release":    true,
	"Priority":   true,
	"Resolution": true,
}

func (m *Manager) propagateToDuplicates(ctx context.Context, c *Cache, issueID, actor int64, old, pending *models.Issue, changes map[string]string) {
	relevant := false
	for field := range changes {
		if duplicatedFields[field] {
			relevant = true
			break
		}
	}
	if !relevant {
		return
	}

	res := m.UpdateDuplicates(ctx, c, issueID, actor, DuplicateFields{
		CategoryID:   pending.CategoryID,
		ReleaseID:    pending.ReleaseID,
		PriorityID:   pending.PriorityID,
		StatusID:     pending.StatusID,
		ResolutionID: pending.ResolutionID,
	})
	if res.Failed() {
		m.log.Error("propagate to duplicates", zap.Int64("issue_id", issueID), zap.String("reason", res.Reason()))
	}
}

// moveToProject transfers an issue to another project. The actor needs at
// least a developer role in the source project and at least a reporter role
// in the target. Category and priority are remapped by title, falling back
// to the target's first entry.
func (m *Manager) moveToProject(ctx context.Context, c *Cache, issue *models.Issue, actor, targetProjectID int64) Result {
	srcRole, err := m.store.RoleByUser(ctx, issue.ProjectID, actor)
	if err != nil || srcRole < models.RoleDeveloper {
		return Failure("insufficient role in source project")
	}
	dstRole, err := m.store.RoleByUser(ctx, targetProjectID, actor)
	if err != nil || dstRole < models.RoleReporter {
		return Failure("insufficient role in target project")
	}

	newCategoryID := m.remapCategory(ctx, issue.ProjectID, targetProjectID, issue.CategoryID)
	newPriorityID := m.remapPriority(ctx, issue.ProjectID, targetProjectID, issue.PriorityID)

	if err := m.store.SetIssueProject(ctx, issue.ID, targetProjectID); err != nil {
		return Failure(err.Error())
	}
	if err := m.store.RemapIssueClassification(ctx, issue.ID, newCategoryID, newPriorityID); err != nil {
		return Failure(err.Error())
	}
	c.Invalidate(issue.ID)

	m.addHistory(ctx, issue.ID, actor, models.HistoryIssueUpdated,
		fmt.Sprintf("Issue moved from project %d to project %d by %s",
			issue.ProjectID, targetProjectID, m.actorName(ctx, actor)))
	return Success()
}

// remapCategory maps a source category to the target project's category of
// the same title, or the target's first category when no title matches.
func (m *Manager) remapCategory(ctx context.Context, srcProjectID, dstProjectID, categoryID int64) int64 {
	dst, err := m.store.ListCategories(ctx, dstProjectID)
	if err != nil || len(dst) == 0 {
		return 0
	}
	src, err := m.store.ListCategories(ctx, srcProjectID)
	if err == nil {
		var title string
		for _, cat := range src {
			if cat.ID == categoryID {
				title = cat.Title
				break
			}
		}
		for _, cat := range dst {
			if cat.Title == title {
				return cat.ID
			}
		}
	}
	return dst[0].ID
}

func (m *Manager) remapPriority(ctx context.Context, srcProjectID, dstProjectID, priorityID int64) int64 {
	dst, err := m.store.ListPriorities(ctx, dstProjectID)
	if err != nil || len(dst) == 0 {
		return 0
	}
	src, err := m.store.ListPriorities(ctx, srcProjectID)
	if err == nil {
		var title string
		for _, pri := range src {
			if pri.ID == priorityID {
				title = pri.Title
				break
			}
		}
		for _, pri := range dst {
			if pri.Title == title {
				return pri.ID
			}
		}
	}
	return dst[0].ID
}

// diffIssues compares the audited fields and returns "old -> new"
// descriptions keyed by field name. Summary and description changes are
// recorded without values.
func diffIssues(old, updated *models.Issue) map[string]string {
	changes := make(map[string]string)

	idChange := func(field string, a, b int64) {
		if a != b {
			changes[field] = fmt.Sprintf("%d -> %d", a, b)
		}
	}
	idChange("Category", old.CategoryID, updated.CategoryID)
	idChange("Release", old.ReleaseID, updated.ReleaseID)
	idChange("Priority", old.PriorityID, updated.PriorityID)
	idChange("Status", old.StatusID, updated.StatusID)
	idChange("Resolution", old.ResolutionID, updated.ResolutionID)
	idChange("Group", old.GroupID, updated.GroupID)

	if old.EstimatedHours != updated.EstimatedHours {
		changes["Estimated Dev. Time"] = fmt.Sprintf("%v -> %v", old.EstimatedHours, updated.EstimatedHours)
	}
	if old.PercentComplete != updated.PercentComplete {
		changes["Percentage complete"] = fmt.Sprintf("%d -> %d", old.PercentComplete, updated.PercentComplete)
	}
	if old.Private != updated.Private {
		changes["Private"] = fmt.Sprintf("%v -> %v", old.Private, updated.Private)
	}
	if !equalTimePtr(old.ExpectedResolution, updated.ExpectedResolution) {
		changes["Expected Resolution Date"] = fmt.Sprintf("%s -> %s",
			formatDatePtr(old.ExpectedResolution), formatDatePtr(updated.ExpectedResolution))
	}
	if old.Summary != updated.Summary {
		changes["Summary"] = ""
	}
	if old.Description != updated.Description {
		changes["Description"] = ""
	}
	return changes
}

func formatDatePtr(t *time.Time) string {
	if t == nil {
		return "none"
	}
	return t.Format("2006-01-02")
}

// changeSummary renders the combined audit text for a change set, in stable
// field order. Valueless fields appear as the bare field name.
func changeSummary(changes map[string]string) string {
	order := []string{
		"Expected Resolution Date", "Category", "Release", "Priority", "Status",
		"Resolution", "Estimated Dev. Time", "Summary", "Description",
		"Percentage complete", "Private", "Group",
	}
	var parts []string
	for _, field := range order {
		v, ok := changes[field]
		if !ok {
			continue
		}
		if v == "" {
			parts = append(parts, field)
		} else {
			parts = append(parts, field+": "+v)
		}
	}
	return strings.Join(parts, "; ")
}
