package workflow

import (
	"context"
	"strings"

	"github.com/trkdev/trk/internal/models"
)

// ReopenStore is the slice of the store the example backend needs.
type ReopenStore interface {
	GetIssue(ctx context.Context, id int64) (*models.Issue, error)
	GetStatus(ctx context.Context, id int64) (*models.Status, error)
	SetIssueStatus(ctx context.Context, issueID, statusID int64) error
	ClearClosed(ctx context.Context, issueID int64) error
	AddHistory(ctx context.Context, issueID, userID int64, typ models.HistoryType, message string) error
}

// ExampleBackend reopens a closed issue when new customer email arrives and
// keeps notifications away from malformed or internal addresses.
type ExampleBackend struct {
	NopBackend

	Store ReopenStore

	// ReopenStatusID is the status an issue moves to when email reopens it.
	ReopenStatusID int64

	// InternalDomains lists address domains that never receive notifications.
	InternalDomains []string
}

var _ Backend = (*ExampleBackend)(nil)

func (b *ExampleBackend) OnNewEmail(ctx context.Context, projectID, issueID int64, email *models.Email, internal bool) error {
	if internal {
		return nil
	}
	issue, err := b.Store.GetIssue(ctx, issueID)
	if err != nil {
		return err
	}
	// Closed-ness comes from the status flag, not the closed date: a plain
	// status change into a closed status never stamps the date. Unknown
	// statuses read as open.
	st, err := b.Store.GetStatus(ctx, issue.StatusID)
	if err != nil || !st.IsClosed {
		return nil
	}
	if err := b.Store.SetIssueStatus(ctx, issueID, b.ReopenStatusID); err != nil {
		return err
	}
	if err := b.Store.ClearClosed(ctx, issueID); err != nil {
		return err
	}
	return b.Store.AddHistory(ctx, issueID, models.SystemUserID,
		models.HistoryRemoteStatusChange, "Issue reopened by incoming email from "+email.From)
}

func (b *ExampleBackend) ShouldEmailAddress(_ context.Context, _ int64, address string) bool {
	address = strings.ToLower(strings.TrimSpace(address))
	at := strings.LastIndex(address, "@")
	if at <= 0 || at == len(address)-1 {
		return false
	}
	domain := address[at+1:]
	if !strings.Contains(domain, ".") {
		return false
	}
	for _, d := range b.InternalDomains {
		if domain == strings.ToLower(d) {
			return false
		}
	}
	return true
}

func (b *ExampleBackend) CanEmailIssue(ctx context.Context, projectID, issueID int64, address string) bool {
	return b.ShouldEmailAddress(ctx, projectID, address)
}
