package notify

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/trkdev/trk/internal/models"
)

type fakeStore struct {
	issue *models.Issue
	users map[int64]*models.User
	subs  []*models.Subscription

	queued []string // recipients, in order
}

func (f *fakeStore) GetIssue(context.Context, int64) (*models.Issue, error) {
	return f.issue, nil
}

func (f *fakeStore) GetUser(_ context.Context, id int64) (*models.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, fmt.Errorf("user not found: %d", id)
	}
	return u, nil
}

func (f *fakeStore) Subscribers(context.Context, int64) ([]*models.Subscription, error) {
	return f.subs, nil
}

func (f *fakeStore) EnqueueMail(_ context.Context, _ int64, recipient, _, _, _ string) error {
	f.queued = append(f.queued, recipient)
	return nil
}

type rejectFilter struct{ blocked string }

func (r rejectFilter) ShouldEmailAddress(_ context.Context, _ int64, addr string) bool {
	return addr != r.blocked
}

func TestMailNotifier_ResolvesAndFilters(t *testing.T) {
	fs := &fakeStore{
		issue: &models.Issue{ID: 5, ProjectID: 1},
		users: map[int64]*models.User{
			10: {ID: 10, Email: "dev@example.com"},
		},
		subs: []*models.Subscription{
			{IssueID: 5, UserID: 10},
			{IssueID: 5, Email: "watcher@example.com"},
			{IssueID: 5, Email: "blocked@example.com"},
			{IssueID: 5, Email: "reporter@example.com"},
		},
	}
	n := NewMailNotifier(fs, rejectFilter{blocked: "blocked@example.com"}, zap.NewNop())

	n.NotifyNewIssue(context.Background(), 5, []string{"Reporter@example.com"})

	assert.Equal(t, []string{"dev@example.com", "watcher@example.com"}, fs.queued)
}

func TestMailNotifier_HonorsActionList(t *testing.T) {
	fs := &fakeStore{
		issue: &models.Issue{ID: 5, ProjectID: 1},
		subs: []*models.Subscription{
			{IssueID: 5, Email: "all@example.com"},
			{IssueID: 5, Email: "closer@example.com", Actions: "closed"},
			{IssueID: 5, Email: "updates@example.com", Actions: "updated,closed"},
		},
	}
	n := NewMailNotifier(fs, rejectFilter{}, zap.NewNop())

	n.NotifyIssueUpdated(context.Background(), 5, 1, "changed")
	assert.Equal(t, []string{"all@example.com", "updates@example.com"}, fs.queued)

	fs.queued = nil
	n.NotifyIssueClosed(context.Background(), 5, "done")
	assert.Equal(t, []string{"all@example.com", "closer@example.com", "updates@example.com"}, fs.queued)
}

func TestMailNotifier_EmailConvertedMailsSenders(t *testing.T) {
	fs := &fakeStore{issue: &models.Issue{ID: 5, ProjectID: 1}}
	n := NewMailNotifier(fs, rejectFilter{blocked: "blocked@example.com"}, zap.NewNop())

	queued := n.NotifyEmailConverted(context.Background(), 5, []string{
		"sender@example.com",
		"SENDER@example.com", // duplicate after normalization
		"blocked@example.com",
		"",
	})

	assert.Equal(t, []string{"sender@example.com"}, queued)
	assert.Equal(t, []string{"sender@example.com"}, fs.queued)
}

func TestMailNotifier_CustomerIssueConfirmation(t *testing.T) {
	fs := &fakeStore{issue: &models.Issue{ID: 5, ProjectID: 1}}
	n := NewMailNotifier(fs, rejectFilter{}, zap.NewNop())

	n.NotifyCustomerIssue(context.Background(), 5, "C-42")

	assert.Equal(t, []string{"contact:C-42"}, fs.queued)
}

func TestMailNotifier_AssignmentMailsAssignees(t *testing.T) {
	fs := &fakeStore{
		issue: &models.Issue{ID: 5, ProjectID: 1},
		users: map[int64]*models.User{
			10: {ID: 10, Email: "a@example.com"},
			11: {ID: 11, Email: "b@example.com"},
		},
	}
	n := NewMailNotifier(fs, rejectFilter{}, zap.NewNop())

	n.NotifyAssignment(context.Background(), 5, []int64{10, 11, 99})

	// Unresolvable users are skipped, not fatal
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, fs.queued)
}
