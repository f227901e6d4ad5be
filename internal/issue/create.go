package issue

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/trkdev/trk/internal/models"
)

// CreateFromForm creates an issue from a submitted web form: the shared
// insertion path plus attachments and custom field values.
func (m *Manager) CreateFromForm(ctx context.Context, c *Cache, p CreateParams) (int64, Result) {
	issue, res := m.insertIssue(ctx, &p)
	if !res.Ok() {
		return 0, res
	}
	c.putIssue(issue)

	m.attachFiles(ctx, issue, &p)

	if len(p.CustomFields) > 0 {
		for fieldID, value := range p.CustomFields {
			if err := m.store.SetCustomFieldValue(ctx, issue.ID, fieldID, value); err != nil {
				m.log.Error("set custom field", zap.Int64("issue_id", issue.ID), zap.Int64("field_id", fieldID), zap.Error(err))
			}
		}
		m.wf.OnCustomFieldsUpdated(ctx, p.ProjectID, issue.ID)
	}

	if len(p.NotifySenders) > 0 {
		m.notifier.NotifyEmailConverted(ctx, issue.ID, p.NotifySenders)
	}
	if p.NotifyCustomer && issue.ContactID != "" {
		m.notifier.NotifyCustomerIssue(ctx, issue.ID, issue.ContactID)
	}

	m.finishCreate(ctx, issue, &p)
	return issue.ID, Success()
}

// CreateFromEmail creates an issue from an inbound support email. The
// sender's address is excluded from the new-issue broadcast so the reporter
// is not notified about their own message.
func (m *Manager) CreateFromEmail(ctx context.Context, c *Cache, p CreateParams) (int64, Result) {
	issue, res := m.insertIssue(ctx, &p)
	if !res.Ok() {
		return 0, res
	}
	c.putIssue(issue)
	m.finishCreate(ctx, issue, &p)
	return issue.ID, Success()
}

// attachFiles stores the uploaded files under a single attachment group per
// submission, skipping files the workflow backend rejects.
func (m *Manager) attachFiles(ctx context.Context, issue *models.Issue, p *CreateParams) {
	var accepted []AttachmentInput
	for _, att := range p.Attachments {
		if !m.wf.ShouldAttachFile(ctx, p.ProjectID, issue.ID, p.ReporterID, att.Filename) {
			m.log.Info("attachment rejected by workflow backend",
				zap.Int64("issue_id", issue.ID), zap.String("filename", att.Filename))
			continue
		}
		accepted = append(accepted, att)
	}
	if len(accepted) == 0 {
		return
	}

	group := &models.Attachment{IssueID: issue.ID, UserID: p.ReporterID, Description: "Files uploaded at issue creation time"}
	if err := m.store.AddAttachment(ctx, group); err != nil {
		m.log.Error("add attachment", zap.Int64("issue_id", issue.ID), zap.Error(err))
		return
	}
	for _, att := range accepted {
		file := &models.AttachmentFile{
			AttachmentID: group.ID,
			Filename:     att.Filename,
			MimeType:     att.MimeType,
			Content:      att.Content,
		}
		if err := m.store.AddAttachmentFile(ctx, file); err != nil {
			m.log.Error("add attachment file", zap.Int64("issue_id", issue.ID), zap.Error(err))
		}
	}
	m.wf.OnAttachment(ctx, p.ProjectID, issue.ID, p.ReporterID)
}

// insertIssue is the shared construction path: row insertion with defaults,
// the opening audit entry, subscriptions, and auto-assignment.
func (m *Manager) insertIssue(ctx context.Context, p *CreateParams) (*models.Issue, Result) {
	project, err := m.store.GetProject(ctx, p.ProjectID)
	if err != nil {
		return nil, Failure(err.Error())
	}

	reporterID := p.ReporterID
	if reporterID == 0 {
		reporterID = models.SystemUserID
	}

	rootMessageID := p.RootMessageID
	if rootMessageID == "" {
		rootMessageID = newMessageID()
	}

	issue := &models.Issue{
		ProjectID:      p.ProjectID,
		StatusID:       project.InitialStatusID,
		PriorityID:     p.PriorityID,
		CategoryID:     p.CategoryID,
		ReleaseID:      p.ReleaseID,
		GroupID:        p.GroupID,
		ReporterID:     reporterID,
		Summary:        p.Summary,
		Description:    p.Description,
		EstimatedHours: p.EstimatedHours,
		Private:        p.Private,
		RootMessageID:  rootMessageID,
	}
	if project.CustomerIntegration {
		issue.CustomerID = p.CustomerID
		issue.ContactID = p.ContactID
	}

	if err := m.store.InsertIssue(ctx, issue); err != nil {
		m.log.Error("insert issue", zap.Int64("project_id", p.ProjectID), zap.Error(err))
		return nil, Failure(err.Error())
	}

	m.addHistory(ctx, issue.ID, reporterID, models.HistoryIssueOpened,
		"Issue opened by "+m.actorName(ctx, reporterID))

	if reporterID != models.SystemUserID && m.wf.ShouldAutoAddToNotificationList(ctx, p.ProjectID) {
		m.subscribeUser(ctx, issue, reporterID)
	}
	for _, addr := range p.NotificationAddresses {
		if !m.wf.ShouldEmailAddress(ctx, p.ProjectID, addr) {
			continue
		}
		actions := m.wf.NotificationActions(ctx, p.ProjectID, issue.ID, addr, true)
		sub := &models.Subscription{IssueID: issue.ID, Email: addr, Actions: joinActions(actions)}
		if err := m.store.Subscribe(ctx, sub); err != nil {
			m.log.Error("subscribe address", zap.Int64("issue_id", issue.ID), zap.String("email", addr), zap.Error(err))
			continue
		}
		m.wf.OnSubscription(ctx, p.ProjectID, issue.ID, 0, addr, sub.Actions)
	}

	return issue, Success()
}

// finishCreate runs the assignment policy, the new-issue hook, and the
// broadcast shared by both construction paths.
func (m *Manager) finishCreate(ctx context.Context, issue *models.Issue, p *CreateParams) {
	hasTAM := m.assignAccountManagers(ctx, issue, p)

	for _, uid := range p.Assignees {
		if err := m.store.AssignUser(ctx, issue.ID, uid); err != nil {
			m.log.Error("assign user", zap.Int64("issue_id", issue.ID), zap.Int64("user_id", uid), zap.Error(err))
			continue
		}
		m.subscribeUser(ctx, issue, uid)
		m.addHistory(ctx, issue.ID, issue.ReporterID, models.HistoryUserAssociated,
			fmt.Sprintf("Issue assigned to %s by %s", m.actorName(ctx, uid), m.actorName(ctx, issue.ReporterID)))
	}
	if len(p.Assignees) > 0 {
		m.notifier.NotifyAssignment(ctx, issue.ID, p.Assignees)
	}

	// Round robin runs only when nothing else assigned anyone.
	hasRR := false
	if !hasTAM && len(p.Assignees) == 0 {
		hasRR = m.assignRoundRobin(ctx, issue)
	}

	m.wf.OnNewIssue(ctx, issue.ProjectID, issue.ID, hasTAM, hasRR)

	var exclude []string
	if p.SenderEmail != "" {
		exclude = []string{p.SenderEmail}
	}
	m.notifier.NotifyNewIssue(ctx, issue.ID, exclude)
}

// assignAccountManagers assigns the customer's technical account managers
// and reports whether any assignment happened.
func (m *Manager) assignAccountManagers(ctx context.Context, issue *models.Issue, p *CreateParams) bool {
	if issue.CustomerID == "" {
		return false
	}
	managers, err := m.store.AccountManagers(ctx, issue.ProjectID, issue.CustomerID)
	if err != nil {
		m.log.Error("load account managers", zap.Int64("issue_id", issue.ID), zap.Error(err))
		return false
	}
	assigned := false
	for _, mgr := range managers {
		if err := m.store.AssignUser(ctx, issue.ID, mgr.ID); err != nil {
			m.log.Error("assign account manager", zap.Int64("issue_id", issue.ID), zap.Int64("user_id", mgr.ID), zap.Error(err))
			continue
		}
		m.subscribeUser(ctx, issue, mgr.ID)
		m.addHistory(ctx, issue.ID, models.SystemUserID, models.HistoryIssueAutoAssigned,
			fmt.Sprintf("Issue auto-assigned to %s (TAM)", mgr.FullName))
		assigned = true
	}
	return assigned
}

// assignRoundRobin picks the next user from the project's rotation.
func (m *Manager) assignRoundRobin(ctx context.Context, issue *models.Issue) bool {
	uid, err := m.store.NextRoundRobinAssignee(ctx, issue.ProjectID)
	if err != nil {
		m.log.Error("round robin pick", zap.Int64("issue_id", issue.ID), zap.Error(err))
		return false
	}
	if uid == 0 {
		return false
	}
	if err := m.store.AssignUser(ctx, issue.ID, uid); err != nil {
		m.log.Error("assign round robin user", zap.Int64("issue_id", issue.ID), zap.Int64("user_id", uid), zap.Error(err))
		return false
	}
	m.subscribeUser(ctx, issue, uid)
	m.addHistory(ctx, issue.ID, models.SystemUserID, models.HistoryRRIssueAssigned,
		fmt.Sprintf("Issue auto-assigned to %s (RR)", m.actorName(ctx, uid)))
	m.notifier.NotifyAssignment(ctx, issue.ID, []int64{uid})
	return true
}
