// Package workflow provides per-project lifecycle customization. A project
// may name a registered Backend; the Dispatcher resolves it once and routes
// every lifecycle event through it, falling back to documented defaults for
// projects with no backend bound.
package workflow

import (
	"context"

	"github.com/trkdev/trk/internal/models"
)

// Backend is the full capability set a project customization can implement.
// Implementations should embed NopBackend so that adding a hook here never
// breaks an existing backend.
type Backend interface {
	// OnNewIssue runs after an issue is created. hasTAM and hasRR report
	// whether auto-assignment happened via account managers or round robin.
	OnNewIssue(ctx context.Context, projectID, issueID int64, hasTAM, hasRR bool) error

	// OnIssueUpdated runs after a field update. changes maps field names to
	// "old -> new" descriptions.
	OnIssueUpdated(ctx context.Context, projectID, issueID, userID int64, old *models.Issue, changes map[string]string) error

	// PreIssueUpdate runs before an update is persisted and may mutate the
	// pending issue in place.
	PreIssueUpdate(ctx context.Context, projectID int64, pending *models.Issue) error

	// PreStatusChange runs before a status change. It may adjust the target
	// status or notify flag through the pointers, or short-circuit the whole
	// operation by returning handled=true, in which case ok becomes the
	// operation's outcome.
	PreStatusChange(ctx context.Context, projectID, issueID int64, statusID *int64, notify *bool) (handled, ok bool)

	// OnStatusChange runs after a status change is persisted.
	OnStatusChange(ctx context.Context, projectID, issueID, statusID int64) error

	// OnAssignment runs when an issue is assigned to a user.
	OnAssignment(ctx context.Context, projectID, issueID, userID int64) error

	// OnAssignmentChange runs after assignment reconciliation with the full
	// before and after assignee sets.
	OnAssignmentChange(ctx context.Context, projectID, issueID, userID int64, oldAssignees, newAssignees []int64) error

	// OnNewNote runs after an internal note is filed.
	OnNewNote(ctx context.Context, projectID, issueID, userID, noteID int64, closing bool) error

	// OnNewEmail runs after a support email is associated with an issue.
	OnNewEmail(ctx context.Context, projectID, issueID int64, email *models.Email, internal bool) error

	// OnBlockedEmail runs when an inbound email was rejected from an issue.
	OnBlockedEmail(ctx context.Context, projectID, issueID int64, email *models.Email, reason string) error

	// OnAttachment runs after files are attached to an issue.
	OnAttachment(ctx context.Context, projectID, issueID, userID int64) error

	// OnCustomFieldsUpdated runs after custom field values change.
	OnCustomFieldsUpdated(ctx context.Context, projectID, issueID int64) error

	// OnSubscription runs when a user or address is subscribed to an issue.
	OnSubscription(ctx context.Context, projectID, issueID, subscriberID int64, email, actions string) error

	// OnIssueClosed runs unconditionally after an issue is closed.
	OnIssueClosed(ctx context.Context, projectID, issueID int64, sendNotification bool, resolutionID, statusID int64, reason string) error

	// OnPriorityChange runs when an update changes the issue priority.
	OnPriorityChange(ctx context.Context, projectID, issueID, userID, oldPriorityID, newPriorityID int64) error

	// OnAuthorizedReplierAdded runs when an authorized replier is added.
	OnAuthorizedReplierAdded(ctx context.Context, projectID, issueID int64, email string) error

	// OnSCMCheckin runs when a source control checkin references an issue.
	OnSCMCheckin(ctx context.Context, projectID, issueID int64, module string, files []string, commitMsg string) error

	// LinkFilters returns extra link filters for the project, appended to
	// the stored ones. Nil means none.
	LinkFilters(ctx context.Context, projectID int64) []*models.LinkFilter

	// FormatIRCMessage rewrites an outgoing IRC notification.
	FormatIRCMessage(ctx context.Context, projectID, issueID int64, message string) string

	// AllowedStatuses restricts the statuses an issue may move to.
	// Nil means no restriction.
	AllowedStatuses(ctx context.Context, projectID, issueID int64) []int64

	// ShouldEmailAddress reports whether notifications may go to an address.
	ShouldEmailAddress(ctx context.Context, projectID int64, address string) bool

	// ShouldAttachFile reports whether an uploaded file may be attached.
	ShouldAttachFile(ctx context.Context, projectID, issueID, userID int64, filename string) bool

	// ShouldAutoAddToNotificationList reports whether issue participants are
	// subscribed automatically.
	ShouldAutoAddToNotificationList(ctx context.Context, projectID int64) bool

	// CanEmailIssue reports whether an address may email the issue at all.
	CanEmailIssue(ctx context.Context, projectID, issueID int64, address string) bool

	// AdditionalAddresses returns extra notification recipients for an event.
	AdditionalAddresses(ctx context.Context, projectID, issueID int64, event string) []string

	// NotificationActions returns the default subscription actions for a new
	// subscriber.
	NotificationActions(ctx context.Context, projectID, issueID int64, email string, isNew bool) []string
}

// NopBackend implements every Backend hook with its default behavior: no-ops
// for event hooks, permissive answers for predicates, and empty sets for
// list hooks. Real backends embed it and override what they need.
type NopBackend struct{}

var _ Backend = NopBackend{}

func (NopBackend) OnNewIssue(context.Context, int64, int64, bool, bool) error { return nil }

func (NopBackend) OnIssueUpdated(context.Context, int64, int64, int64, *models.Issue, map[string]string) error {
	return nil
}

func (NopBackend) PreIssueUpdate(context.Context, int64, *models.Issue) error { return nil }

func (NopBackend) PreStatusChange(context.Context, int64, int64, *int64, *bool) (bool, bool) {
	return false, true
}

func (NopBackend) OnStatusChange(context.Context, int64, int64, int64) error { return nil }

func (NopBackend) OnAssignment(context.Context, int64, int64, int64) error { return nil }

func (NopBackend) OnAssignmentChange(context.Context, int64, int64, int64, []int64, []int64) error {
	return nil
}

func (NopBackend) OnNewNote(context.Context, int64, int64, int64, int64, bool) error { return nil }

func (NopBackend) OnNewEmail(context.Context, int64, int64, *models.Email, bool) error { return nil }

func (NopBackend) OnBlockedEmail(context.Context, int64, int64, *models.Email, string) error {
	return nil
}

func (NopBackend) OnAttachment(context.Context, int64, int64, int64) error { return nil }

func (NopBackend) OnCustomFieldsUpdated(context.Context, int64, int64) error { return nil }

func (NopBackend) OnSubscription(context.Context, int64, int64, int64, string, string) error {
	return nil
}

func (NopBackend) OnIssueClosed(context.Context, int64, int64, bool, int64, int64, string) error {
	return nil
}

func (NopBackend) OnPriorityChange(context.Context, int64, int64, int64, int64, int64) error {
	return nil
}

func (NopBackend) OnAuthorizedReplierAdded(context.Context, int64, int64, string) error { return nil }

func (NopBackend) OnSCMCheckin(context.Context, int64, int64, string, []string, string) error {
	return nil
}

func (NopBackend) LinkFilters(context.Context, int64) []*models.LinkFilter { return nil }

func (NopBackend) FormatIRCMessage(_ context.Context, _, _ int64, message string) string {
	return message
}

func (NopBackend) AllowedStatuses(context.Context, int64, int64) []int64 { return nil }

func (NopBackend) ShouldEmailAddress(context.Context, int64, string) bool { return true }

func (NopBackend) ShouldAttachFile(context.Context, int64, int64, int64, string) bool { return true }

func (NopBackend) ShouldAutoAddToNotificationList(context.Context, int64) bool { return true }

func (NopBackend) CanEmailIssue(context.Context, int64, int64, string) bool { return true }

func (NopBackend) AdditionalAddresses(context.Context, int64, int64, string) []string { return nil }

func (NopBackend) NotificationActions(context.Context, int64, int64, string, bool) []string {
	return nil
}
