// Package issue implements the issue lifecycle: creation, updates, status
// transitions, closing, duplicates, assignment, access control, and bulk
// changes. Every operation takes an explicit actor and a request-scoped
// Cache; lifecycle outcomes are reported as Result values.
package issue

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/trkdev/trk/internal/models"
	"github.com/trkdev/trk/internal/notify"
	"github.com/trkdev/trk/internal/store"
	"github.com/trkdev/trk/internal/workflow"
)

// Manager coordinates issue operations across the store, the workflow
// dispatcher, and the notifier.
type Manager struct {
	store    store.Store
	wf       *workflow.Dispatcher
	notifier notify.Notifier
	log      *zap.Logger
}

func NewManager(st store.Store, wf *workflow.Dispatcher, n notify.Notifier, log *zap.Logger) *Manager {
	return &Manager{store: st, wf: wf, notifier: n, log: log}
}

// issue loads an issue through the cache.
func (m *Manager) issue(ctx context.Context, c *Cache, id int64) (*models.Issue, error) {
	if i, ok := c.issue(id); ok {
		return i, nil
	}
	i, err := m.store.GetIssue(ctx, id)
	if err != nil {
		return nil, err
	}
	c.putIssue(i)
	return i, nil
}

// actorName resolves a user's display name for audit text, falling back to
// the numeric id.
func (m *Manager) actorName(ctx context.Context, userID int64) string {
	u, err := m.store.GetUser(ctx, userID)
	if err != nil || u.FullName == "" {
		return fmt.Sprintf("user %d", userID)
	}
	return u.FullName
}

func (m *Manager) addHistory(ctx context.Context, issueID, userID int64, typ models.HistoryType, message string) {
	if err := m.store.AddHistory(ctx, issueID, userID, typ, message); err != nil {
		m.log.Error("write history", zap.Int64("issue_id", issueID), zap.Error(err))
	}
}

// SetStatus moves an issue to a new status. The project's workflow backend
// may rewrite the target or veto the whole change; moving to the current
// status is a no-op with no history and no notification. Leaving a closed
// status clears the closed date and resolution.
func (m *Manager) SetStatus(ctx context.Context, c *Cache, issueID, statusID int64, notifySubscribers bool) Result {
	issue, err := m.issue(ctx, c, issueID)
	if err != nil {
		return Failure(err.Error())
	}

	if handled, ok := m.wf.PreStatusChange(ctx, issue.ProjectID, issueID, &statusID, &notifySubscribers); handled {
		if ok {
			return Success()
		}
		return Failure("status change rejected by workflow backend")
	}

	if issue.StatusID == statusID {
		return NoChange()
	}

	oldStatusID := issue.StatusID
	if err := m.store.SetIssueStatus(ctx, issueID, statusID); err != nil {
		m.log.Error("set issue status", zap.Int64("issue_id", issueID), zap.Error(err))
		return Failure(err.Error())
	}

	// Reopening: leaving a closed status clears the close bookkeeping.
	if m.statusClosed(ctx, oldStatusID) && !m.statusClosed(ctx, statusID) {
		if err := m.store.ClearClosed(ctx, issueID); err != nil {
			m.log.Error("clear closed", zap.Int64("issue_id", issueID), zap.Error(err))
		}
	}

	c.Invalidate(issueID)
	m.wf.OnStatusChange(ctx, issue.ProjectID, issueID, statusID)

	if notifySubscribers {
		m.notifier.NotifyStatusChange(ctx, issueID, oldStatusID, statusID)
	}
	return Success()
}

// statusClosed reports whether a status id marks issues closed. Unknown
// statuses read as open.
func (m *Manager) statusClosed(ctx context.Context, statusID int64) bool {
	if statusID == 0 {
		return false
	}
	st, err := m.store.GetStatus(ctx, statusID)
	if err != nil {
		return false
	}
	return st.IsClosed
}

// --- Single-field setters ---

func (m *Manager) SetRelease(ctx context.Context, c *Cache, issueID, releaseID int64) Result {
	issue, err := m.issue(ctx, c, issueID)
	if err != nil {
		return Failure(err.Error())
	}
	if issue.ReleaseID == releaseID {
		return NoChange()
	}
	if err := m.store.SetIssueRelease(ctx, issueID, releaseID); err != nil {
		return Failure(err.Error())
	}
	c.Invalidate(issueID)
	return Success()
}

func (m *Manager) SetPriority(ctx context.Context, c *Cache, issueID, priorityID int64) Result {
	issue, err := m.issue(ctx, c, issueID)
	if err != nil {
		return Failure(err.Error())
	}
	if issue.PriorityID == priorityID {
		return NoChange()
	}
	if err := m.store.SetIssuePriority(ctx, issueID, priorityID); err != nil {
		return Failure(err.Error())
	}
	c.Invalidate(issueID)
	return Success()
}

func (m *Manager) SetCategory(ctx context.Context, c *Cache, issueID, categoryID int64) Result {
	issue, err := m.issue(ctx, c, issueID)
	if err != nil {
		return Failure(err.Error())
	}
	if issue.CategoryID == categoryID {
		return NoChange()
	}
	if err := m.store.SetIssueCategory(ctx, issueID, categoryID); err != nil {
		return Failure(err.Error())
	}
	c.Invalidate(issueID)
	return Success()
}

// SetGroup changes the issue's responsible group and records its own audit
// entry, matching the separate treatment group changes get on update.
func (m *Manager) SetGroup(ctx context.Context, c *Cache, issueID, groupID, actor int64) Result {
	issue, err := m.issue(ctx, c, issueID)
	if err != nil {
		return Failure(err.Error())
	}
	if issue.GroupID == groupID {
		return NoChange()
	}
	if err := m.store.SetIssueGroup(ctx, issueID, groupID); err != nil {
		return Failure(err.Error())
	}
	c.Invalidate(issueID)
	m.addHistory(ctx, issueID, actor, models.HistoryGroupChanged,
		fmt.Sprintf("Group changed (%d -> %d) by %s", issue.GroupID, groupID, m.actorName(ctx, actor)))
	return Success()
}

func (m *Manager) SetExpectedResolutionDate(ctx context.Context, c *Cache, issueID int64, date *time.Time) Result {
	issue, err := m.issue(ctx, c, issueID)
	if err != nil {
		return Failure(err.Error())
	}
	if equalTimePtr(issue.ExpectedResolution, date) {
		return NoChange()
	}
	if err := m.store.SetExpectedResolution(ctx, issueID, date); err != nil {
		return Failure(err.Error())
	}
	c.Invalidate(issueID)
	return Success()
}

func equalTimePtr(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

// --- Duplicates ---

// MarkDuplicate records that issueID duplicates duplicateOfID. The target
// must exist; otherwise the operation fails without touching the issue.
func (m *Manager) MarkDuplicate(ctx context.Context, c *Cache, issueID, duplicateOfID, actor int64, comments string) Result {
	exists, err := m.store.IssueExists(ctx, duplicateOfID)
	if err != nil {
		return Failure(err.Error())
	}
	if !exists {
		return Failure(fmt.Sprintf("issue %d does not exist", duplicateOfID))
	}

	if err := m.store.SetDuplicateOf(ctx, issueID, duplicateOfID); err != nil {
		return Failure(err.Error())
	}
	c.Invalidate(issueID)

	if comments != "" {
		note := &models.Note{IssueID: issueID, UserID: actor, Title: "Issue duplicated", Body: comments}
		if err := m.store.AddNote(ctx, note); err != nil {
			m.log.Error("add duplicate note", zap.Int64("issue_id", issueID), zap.Error(err))
		} else if err := m.MarkAsUpdated(ctx, c, issueID, "note added", false); err != nil {
			m.log.Error("stamp last action", zap.Int64("issue_id", issueID), zap.Error(err))
		}
	}
	m.addHistory(ctx, issueID, actor, models.HistoryDuplicateAdded,
		fmt.Sprintf("Issue marked as duplicate of issue #%d by %s", duplicateOfID, m.actorName(ctx, actor)))
	return Success()
}

func (m *Manager) ClearDuplicate(ctx context.Context, c *Cache, issueID, actor int64) Result {
	if err := m.store.ClearDuplicateOf(ctx, issueID); err != nil {
		return Failure(err.Error())
	}
	c.Invalidate(issueID)
	m.addHistory(ctx, issueID, actor, models.HistoryDuplicateRemoved,
		"Duplicate flag was reset by "+m.actorName(ctx, actor))
	return Success()
}

// UpdateDuplicates pushes the submitted classification fields down to every
// issue marked as a duplicate of issueID.
func (m *Manager) UpdateDuplicates(ctx context.Context, c *Cache, issueID, actor int64, fields DuplicateFields) Result {
	ids, err := m.store.DuplicateIDs(ctx, issueID)
	if err != nil {
		return Failure(err.Error())
	}
	if len(ids) == 0 {
		return NoChange()
	}
	if err := m.store.ApplyToDuplicates(ctx, ids, fields); err != nil {
		return Failure(err.Error())
	}
	name := m.actorName(ctx, actor)
	for _, id := range ids {
		c.Invalidate(id)
		m.addHistory(ctx, id, actor, models.HistoryDuplicateUpdate,
			fmt.Sprintf("The details for issue #%d were updated by %s and the changes propagated to the duplicated issues", issueID, name))
	}
	return Success()
}

func (m *Manager) HasDuplicates(ctx context.Context, issueID int64) (bool, error) {
	ids, err := m.store.DuplicateIDs(ctx, issueID)
	if err != nil {
		return false, err
	}
	return len(ids) > 0, nil
}

func (m *Manager) DuplicateList(ctx context.Context, issueID int64) ([]int64, error) {
	return m.store.DuplicateIDs(ctx, issueID)
}

// --- Assignment ---

// SetAssignees reconciles the issue's assignee set to the given list.
// Submitting the current set is a no-op with no history or notifications.
func (m *Manager) SetAssignees(ctx context.Context, c *Cache, issueID, actor int64, assignees []int64) Result {
	issue, err := m.issue(ctx, c, issueID)
	if err != nil {
		return Failure(err.Error())
	}
	current, err := m.store.AssignedUserIDs(ctx, issueID)
	if err != nil {
		return Failure(err.Error())
	}
	if sameIDSet(current, assignees) {
		return NoChange()
	}

	m.wf.OnAssignmentChange(ctx, issue.ProjectID, issueID, actor, current, assignees)

	if err := m.store.UnassignAll(ctx, issueID); err != nil {
		return Failure(err.Error())
	}
	var names []string
	for _, uid := range assignees {
		if err := m.store.AssignUser(ctx, issueID, uid); err != nil {
			m.log.Error("assign user", zap.Int64("issue_id", issueID), zap.Int64("user_id", uid), zap.Error(err))
			continue
		}
		m.subscribeUser(ctx, issue, uid)
		names = append(names, m.actorName(ctx, uid))
	}
	c.Invalidate(issueID)

	typ := models.HistoryUserAssociated
	msg := fmt.Sprintf("Issue assigned to %s by %s", joinAnd(names), m.actorName(ctx, actor))
	if len(names) == 0 {
		typ = models.HistoryUserAllUnassociated
		msg = "Issue assignment was cleared by " + m.actorName(ctx, actor)
	}
	m.addHistory(ctx, issueID, actor, typ, msg)

	if len(assignees) > 0 {
		m.notifier.NotifyAssignment(ctx, issueID, assignees)
	}
	return Success()
}

// subscribeUser adds a user to the notification list with the backend's
// default action set.
func (m *Manager) subscribeUser(ctx context.Context, issue *models.Issue, userID int64) {
	actions := m.wf.NotificationActions(ctx, issue.ProjectID, issue.ID, "", false)
	sub := &models.Subscription{IssueID: issue.ID, UserID: userID, Actions: joinActions(actions)}
	if err := m.store.Subscribe(ctx, sub); err != nil {
		m.log.Error("subscribe user", zap.Int64("issue_id", issue.ID), zap.Int64("user_id", userID), zap.Error(err))
	}
	m.wf.OnSubscription(ctx, issue.ProjectID, issue.ID, userID, "", sub.Actions)
}

func (m *Manager) IsAssigned(ctx context.Context, issueID, userID int64) (bool, error) {
	return m.store.IsAssigned(ctx, issueID, userID)
}

func (m *Manager) AssignedUserIDs(ctx context.Context, issueID int64) ([]int64, error) {
	return m.store.AssignedUserIDs(ctx, issueID)
}

// --- Quarantine ---

// SetQuarantine upserts the issue's quarantine record. A zero status lifts
// the quarantine and records the removal.
func (m *Manager) SetQuarantine(ctx context.Context, c *Cache, issueID, actor int64, status int, expiration *time.Time) Result {
	q := &models.Quarantine{IssueID: issueID, Status: status, Expiration: expiration}
	if err := m.store.UpsertQuarantine(ctx, q); err != nil {
		return Failure(err.Error())
	}
	if status == 0 {
		m.addHistory(ctx, issueID, actor, models.HistoryQuarantineRemoved,
			"Issue quarantine status removed by "+m.actorName(ctx, actor))
	}
	return Success()
}

func (m *Manager) GetQuarantine(ctx context.Context, issueID int64) (*models.Quarantine, error) {
	return m.store.GetQuarantine(ctx, issueID)
}

func (m *Manager) QuarantinedIssues(ctx context.Context) ([]*models.Issue, error) {
	return m.store.ListQuarantinedIssues(ctx)
}

// --- Derived reads ---

func (m *Manager) Exists(ctx context.Context, issueID int64) (bool, error) {
	return m.store.IssueExists(ctx, issueID)
}

func (m *Manager) GetStatusID(ctx context.Context, c *Cache, issueID int64) int64 {
	issue, err := m.issue(ctx, c, issueID)
	if err != nil {
		return 0
	}
	return issue.StatusID
}

// GetProjectID returns the issue's project. With force set, the cached row
// is discarded first.
func (m *Manager) GetProjectID(ctx context.Context, c *Cache, issueID int64, force bool) int64 {
	if force {
		c.Invalidate(issueID)
	}
	issue, err := m.issue(ctx, c, issueID)
	if err != nil {
		return 0
	}
	return issue.ProjectID
}

// IsClosed reports whether the issue currently sits in a closed status. The
// closed date is bookkeeping; the status flag is the source of truth, so an
// issue moved into a closed status by a plain status change counts as closed.
func (m *Manager) IsClosed(ctx context.Context, c *Cache, issueID int64) bool {
	issue, err := m.issue(ctx, c, issueID)
	if err != nil {
		return false
	}
	return m.statusClosed(ctx, issue.StatusID)
}

func (m *Manager) IsPrivate(ctx context.Context, c *Cache, issueID int64) bool {
	issue, err := m.issue(ctx, c, issueID)
	if err != nil {
		return false
	}
	return issue.Private
}

func (m *Manager) RootMessageID(ctx context.Context, c *Cache, issueID int64) string {
	issue, err := m.issue(ctx, c, issueID)
	if err != nil {
		return ""
	}
	return issue.RootMessageID
}

func (m *Manager) IssueByRootMessageID(ctx context.Context, msgID string) (*models.Issue, error) {
	return m.store.GetIssueByRootMessageID(ctx, msgID)
}

// MarkAsUpdated stamps the issue's last-action columns. Public action types
// also update first/last staff response dates where applicable.
func (m *Manager) MarkAsUpdated(ctx context.Context, c *Cache, issueID int64, actionType string, public bool) error {
	if err := m.store.MarkIssueUpdated(ctx, issueID, actionType, public); err != nil {
		return err
	}
	c.Invalidate(issueID)
	return nil
}

// --- helpers ---

func sameIDSet(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[int64]bool, len(a))
	for _, id := range a {
		set[id] = true
	}
	for _, id := range b {
		if !set[id] {
			return false
		}
	}
	return true
}

func joinAnd(names []string) string {
	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0]
	}
	out := names[0]
	for _, n := range names[1 : len(names)-1] {
		out += ", " + n
	}
	return out + " and " + names[len(names)-1]
}

func joinActions(actions []string) string {
	out := ""
	for i, a := range actions {
		if i > 0 {
			out += ","
		}
		out += a
	}
	return out
}
