package issue

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/trkdev/trk/internal/models"
)

// newMessageID generates a message id for synthesized email rows.
func newMessageID() string {
	entropy := ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
	return fmt.Sprintf("<%s@trk>", ulid.MustNew(ulid.Timestamp(time.Now()), entropy))
}

// Close closes an issue: it stamps the closed date and status (and the
// resolution when one is supplied), records the audit entry, files the close
// reason as either a synthesized closing email (NotifyTo "all") or an
// internal note, and fans out notifications. The IssueClosed workflow hook
// fires regardless of the notify flag.
func (m *Manager) Close(ctx context.Context, c *Cache, p CloseParams) Result {
	issue, err := m.issue(ctx, c, p.IssueID)
	if err != nil {
		return Failure(err.Error())
	}

	if err := m.store.CloseIssue(ctx, p.IssueID, p.StatusID, p.ResolutionID); err != nil {
		m.log.Error("close issue", zap.Int64("issue_id", p.IssueID), zap.Error(err))
		return Failure(err.Error())
	}
	c.Invalidate(p.IssueID)

	m.addHistory(ctx, p.IssueID, p.Actor, models.HistoryIssueClosed,
		fmt.Sprintf("Issue updated to status %d by %s", p.StatusID, m.actorName(ctx, p.Actor)))

	if p.NotifyTo == "all" {
		m.recordClosingEmail(ctx, issue, p)
	} else {
		note := &models.Note{
			IssueID: p.IssueID,
			UserID:  p.Actor,
			Title:   "Issue closed comments",
			Body:    p.Reason,
		}
		if err := m.store.AddNote(ctx, note); err != nil {
			m.log.Error("add closing note", zap.Int64("issue_id", p.IssueID), zap.Error(err))
		}
	}

	if p.Notify {
		project, err := m.store.GetProject(ctx, issue.ProjectID)
		if err == nil && project.CustomerIntegration && issue.ContactID != "" {
			m.notifier.NotifyCustomerContact(ctx, p.IssueID, issue.ContactID, p.Reason)
		}
		m.notifier.NotifyIssueClosed(ctx, p.IssueID, p.Reason)
	}

	m.wf.OnIssueClosed(ctx, issue.ProjectID, p.IssueID, p.Notify, p.ResolutionID, p.StatusID, p.Reason)
	return Success()
}

// recordClosingEmail files the close reason as a synthesized inbound email
// on the issue's thread, so "notify all" recipients see it as a reply.
func (m *Manager) recordClosingEmail(ctx context.Context, issue *models.Issue, p CloseParams) {
	from := ""
	if u, err := m.store.GetUser(ctx, p.Actor); err == nil {
		from = u.Email
	}
	email := &models.Email{
		IssueID:   p.IssueID,
		MessageID: newMessageID(),
		From:      from,
		Subject:   "Re: " + issue.Summary,
		Body:      p.Reason,
		Closing:   true,
	}
	if err := m.store.InsertEmail(ctx, email); err != nil {
		m.log.Error("record closing email", zap.Int64("issue_id", p.IssueID), zap.Error(err))
	}
}
