package workflow

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/trkdev/trk/internal/models"
)

// ProjectResolver is the slice of the store the dispatcher needs to read a
// project's backend binding.
type ProjectResolver interface {
	GetProject(ctx context.Context, id int64) (*models.Project, error)
}

// Dispatcher routes lifecycle events to the backend bound to each project.
// Backends are registered by name at configuration time; the binding for a
// project is resolved lazily from the project row and memoized for the
// process lifetime. A project with no backend (or an unknown name) takes
// the default path on every call. Hook errors are logged, never propagated.
type Dispatcher struct {
	projects ProjectResolver
	log      *zap.Logger

	mu       sync.Mutex
	registry map[string]Backend
	resolved map[int64]Backend // nil entry = resolved to none
}

func NewDispatcher(projects ProjectResolver, log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		projects: projects,
		log:      log,
		registry: make(map[string]Backend),
		resolved: make(map[int64]Backend),
	}
}

// Register makes a backend available under the given name. Projects bind to
// it through their workflow_backend column.
func (d *Dispatcher) Register(name string, b Backend) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.registry[name] = b
}

// backend returns the backend bound to the project, or nil when there is
// none. Resolution happens once per project.
func (d *Dispatcher) backend(ctx context.Context, projectID int64) Backend {
	d.mu.Lock()
	defer d.mu.Unlock()

	if b, ok := d.resolved[projectID]; ok {
		return b
	}

	var b Backend
	p, err := d.projects.GetProject(ctx, projectID)
	if err != nil {
		d.log.Warn("workflow backend resolution failed",
			zap.Int64("project_id", projectID), zap.Error(err))
		// Leave unresolved so a later call can retry.
		return nil
	}
	if p.WorkflowBackend != "" {
		var found bool
		if b, found = d.registry[p.WorkflowBackend]; !found {
			d.log.Warn("unknown workflow backend",
				zap.Int64("project_id", projectID), zap.String("backend", p.WorkflowBackend))
			b = nil
		}
	}
	d.resolved[projectID] = b
	return b
}

func (d *Dispatcher) hookErr(hook string, projectID, issueID int64, err error) {
	if err != nil {
		d.log.Error("workflow hook failed",
			zap.String("hook", hook),
			zap.Int64("project_id", projectID),
			zap.Int64("issue_id", issueID),
			zap.Error(err))
	}
}

func (d *Dispatcher) OnNewIssue(ctx context.Context, projectID, issueID int64, hasTAM, hasRR bool) {
	if b := d.backend(ctx, projectID); b != nil {
		d.hookErr("OnNewIssue", projectID, issueID, b.OnNewIssue(ctx, projectID, issueID, hasTAM, hasRR))
	}
}

func (d *Dispatcher) OnIssueUpdated(ctx context.Context, projectID, issueID, userID int64, old *models.Issue, changes map[string]string) {
	if b := d.backend(ctx, projectID); b != nil {
		d.hookErr("OnIssueUpdated", projectID, issueID, b.OnIssueUpdated(ctx, projectID, issueID, userID, old, changes))
	}
}

func (d *Dispatcher) PreIssueUpdate(ctx context.Context, projectID int64, pending *models.Issue) {
	if b := d.backend(ctx, projectID); b != nil {
		d.hookErr("PreIssueUpdate", projectID, pending.ID, b.PreIssueUpdate(ctx, projectID, pending))
	}
}

func (d *Dispatcher) PreStatusChange(ctx context.Context, projectID, issueID int64, statusID *int64, notify *bool) (handled, ok bool) {
	if b := d.backend(ctx, projectID); b != nil {
		return b.PreStatusChange(ctx, projectID, issueID, statusID, notify)
	}
	return false, true
}

func (d *Dispatcher) OnStatusChange(ctx context.Context, projectID, issueID, statusID int64) {
	if b := d.backend(ctx, projectID); b != nil {
		d.hookErr("OnStatusChange", projectID, issueID, b.OnStatusChange(ctx, projectID, issueID, statusID))
	}
}

func (d *Dispatcher) OnAssignment(ctx context.Context, projectID, issueID, userID int64) {
	if b := d.backend(ctx, projectID); b != nil {
		d.hookErr("OnAssignment", projectID, issueID, b.OnAssignment(ctx, projectID, issueID, userID))
	}
}

func (d *Dispatcher) OnAssignmentChange(ctx context.Context, projectID, issueID, userID int64, oldAssignees, newAssignees []int64) {
	if b := d.backend(ctx, projectID); b != nil {
		d.hookErr("OnAssignmentChange", projectID, issueID,
			b.OnAssignmentChange(ctx, projectID, issueID, userID, oldAssignees, newAssignees))
	}
}

func (d *Dispatcher) OnNewNote(ctx context.Context, projectID, issueID, userID, noteID int64, closing bool) {
	if b := d.backend(ctx, projectID); b != nil {
		d.hookErr("OnNewNote", projectID, issueID, b.OnNewNote(ctx, projectID, issueID, userID, noteID, closing))
	}
}

func (d *Dispatcher) OnNewEmail(ctx context.Context, projectID, issueID int64, email *models.Email, internal bool) {
	if b := d.backend(ctx, projectID); b != nil {
		d.hookErr("OnNewEmail", projectID, issueID, b.OnNewEmail(ctx, projectID, issueID, email, internal))
	}
}

func (d *Dispatcher) OnBlockedEmail(ctx context.Context, projectID, issueID int64, email *models.Email, reason string) {
	if b := d.backend(ctx, projectID); b != nil {
		d.hookErr("OnBlockedEmail", projectID, issueID, b.OnBlockedEmail(ctx, projectID, issueID, email, reason))
	}
}

func (d *Dispatcher) OnAttachment(ctx context.Context, projectID, issueID, userID int64) {
	if b := d.backend(ctx, projectID); b != nil {
		d.hookErr("OnAttachment", projectID, issueID, b.OnAttachment(ctx, projectID, issueID, userID))
	}
}

func (d *Dispatcher) OnCustomFieldsUpdated(ctx context.Context, projectID, issueID int64) {
	if b := d.backend(ctx, projectID); b != nil {
		d.hookErr("OnCustomFieldsUpdated", projectID, issueID, b.OnCustomFieldsUpdated(ctx, projectID, issueID))
	}
}

func (d *Dispatcher) OnSubscription(ctx context.Context, projectID, issueID, subscriberID int64, email, actions string) {
	if b := d.backend(ctx, projectID); b != nil {
		d.hookErr("OnSubscription", projectID, issueID,
			b.OnSubscription(ctx, projectID, issueID, subscriberID, email, actions))
	}
}

func (d *Dispatcher) OnIssueClosed(ctx context.Context, projectID, issueID int64, sendNotification bool, resolutionID, statusID int64, reason string) {
	if b := d.backend(ctx, projectID); b != nil {
		d.hookErr("OnIssueClosed", projectID, issueID,
			b.OnIssueClosed(ctx, projectID, issueID, sendNotification, resolutionID, statusID, reason))
	}
}

func (d *Dispatcher) OnPriorityChange(ctx context.Context, projectID, issueID, userID, oldPriorityID, newPriorityID int64) {
	if b := d.backend(ctx, projectID); b != nil {
		d.hookErr("OnPriorityChange", projectID, issueID,
			b.OnPriorityChange(ctx, projectID, issueID, userID, oldPriorityID, newPriorityID))
	}
}

func (d *Dispatcher) OnAuthorizedReplierAdded(ctx context.Context, projectID, issueID int64, email string) {
	if b := d.backend(ctx, projectID); b != nil {
		d.hookErr("OnAuthorizedReplierAdded", projectID, issueID,
			b.OnAuthorizedReplierAdded(ctx, projectID, issueID, email))
	}
}

func (d *Dispatcher) OnSCMCheckin(ctx context.Context, projectID, issueID int64, module string, files []string, commitMsg string) {
	if b := d.backend(ctx, projectID); b != nil {
		d.hookErr("OnSCMCheckin", projectID, issueID,
			b.OnSCMCheckin(ctx, projectID, issueID, module, files, commitMsg))
	}
}

func (d *Dispatcher) LinkFilters(ctx context.Context, projectID int64) []*models.LinkFilter {
	if b := d.backend(ctx, projectID); b != nil {
		return b.LinkFilters(ctx, projectID)
	}
	return nil
}

func (d *Dispatcher) FormatIRCMessage(ctx context.Context, projectID, issueID int64, message string) string {
	if b := d.backend(ctx, projectID); b != nil {
		return b.FormatIRCMessage(ctx, projectID, issueID, message)
	}
	return message
}

func (d *Dispatcher) AllowedStatuses(ctx context.Context, projectID, issueID int64) []int64 {
	if b := d.backend(ctx, projectID); b != nil {
		return b.AllowedStatuses(ctx, projectID, issueID)
	}
	return nil
}

func (d *Dispatcher) ShouldEmailAddress(ctx context.Context, projectID int64, address string) bool {
	if b := d.backend(ctx, projectID); b != nil {
		return b.ShouldEmailAddress(ctx, projectID, address)
	}
	return true
}

func (d *Dispatcher) ShouldAttachFile(ctx context.Context, projectID, issueID, userID int64, filename string) bool {
	if b := d.backend(ctx, projectID); b != nil {
		return b.ShouldAttachFile(ctx, projectID, issueID, userID, filename)
	}
	return true
}

func (d *Dispatcher) ShouldAutoAddToNotificationList(ctx context.Context, projectID int64) bool {
	if b := d.backend(ctx, projectID); b != nil {
		return b.ShouldAutoAddToNotificationList(ctx, projectID)
	}
	return true
}

func (d *Dispatcher) CanEmailIssue(ctx context.Context, projectID, issueID int64, address string) bool {
	if b := d.backend(ctx, projectID); b != nil {
		return b.CanEmailIssue(ctx, projectID, issueID, address)
	}
	return true
}

func (d *Dispatcher) AdditionalAddresses(ctx context.Context, projectID, issueID int64, event string) []string {
	if b := d.backend(ctx, projectID); b != nil {
		return b.AdditionalAddresses(ctx, projectID, issueID, event)
	}
	return nil
}

func (d *Dispatcher) NotificationActions(ctx context.Context, projectID, issueID int64, email string, isNew bool) []string {
	if b := d.backend(ctx, projectID); b != nil {
		return b.NotificationActions(ctx, projectID, issueID, email, isNew)
	}
	return nil
}
