package workflow

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/trkdev/trk/internal/models"
)

func fixedTime() time.Time {
	return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
}

type fakeProjects struct {
	projects map[int64]*models.Project
	calls    int
}

func (f *fakeProjects) GetProject(_ context.Context, id int64) (*models.Project, error) {
	f.calls++
	p, ok := f.projects[id]
	if !ok {
		return nil, fmt.Errorf("project not found: %d", id)
	}
	return p, nil
}

type spyBackend struct {
	NopBackend
	newIssueCalls int
	lastIssueID   int64
}

func (s *spyBackend) OnNewIssue(_ context.Context, _, issueID int64, _, _ bool) error {
	s.newIssueCalls++
	s.lastIssueID = issueID
	return nil
}

func (s *spyBackend) PreStatusChange(_ context.Context, _, _ int64, statusID *int64, notify *bool) (bool, bool) {
	*statusID = 99
	*notify = false
	return false, true
}

func newTestDispatcher(projects map[int64]*models.Project) (*Dispatcher, *fakeProjects) {
	fp := &fakeProjects{projects: projects}
	return NewDispatcher(fp, zap.NewNop()), fp
}

func TestDispatcher_UnboundProjectDefaults(t *testing.T) {
	d, _ := newTestDispatcher(map[int64]*models.Project{
		1: {ID: 1, Name: "plain"},
	})
	ctx := context.Background()

	// Event hooks are no-ops
	d.OnNewIssue(ctx, 1, 10, false, false)
	d.OnIssueClosed(ctx, 1, 10, true, 0, 5, "done")

	// Pre-change hook does not short-circuit and leaves its inputs alone
	statusID := int64(3)
	notify := true
	handled, ok := d.PreStatusChange(ctx, 1, 10, &statusID, &notify)
	assert.False(t, handled)
	assert.True(t, ok)
	assert.Equal(t, int64(3), statusID)
	assert.True(t, notify)

	// Predicates are permissive
	assert.True(t, d.ShouldEmailAddress(ctx, 1, "anyone@example.com"))
	assert.True(t, d.CanEmailIssue(ctx, 1, 10, "anyone@example.com"))
	assert.True(t, d.ShouldAttachFile(ctx, 1, 10, 2, "log.txt"))
	assert.True(t, d.ShouldAutoAddToNotificationList(ctx, 1))

	// List hooks are empty, pass-throughs are identity
	assert.Nil(t, d.AllowedStatuses(ctx, 1, 10))
	assert.Nil(t, d.LinkFilters(ctx, 1))
	assert.Nil(t, d.AdditionalAddresses(ctx, 1, 10, "closed"))
	assert.Equal(t, "msg", d.FormatIRCMessage(ctx, 1, 10, "msg"))
}

func TestDispatcher_RoutesToBoundBackend(t *testing.T) {
	d, _ := newTestDispatcher(map[int64]*models.Project{
		1: {ID: 1, Name: "custom", WorkflowBackend: "spy"},
	})
	spy := &spyBackend{}
	d.Register("spy", spy)
	ctx := context.Background()

	d.OnNewIssue(ctx, 1, 42, true, false)
	assert.Equal(t, 1, spy.newIssueCalls)
	assert.Equal(t, int64(42), spy.lastIssueID)

	statusID := int64(3)
	notify := true
	handled, ok := d.PreStatusChange(ctx, 1, 42, &statusID, &notify)
	assert.False(t, handled)
	assert.True(t, ok)
	assert.Equal(t, int64(99), statusID, "backend may rewrite the target status")
	assert.False(t, notify)
}

func TestDispatcher_MemoizesResolution(t *testing.T) {
	d, fp := newTestDispatcher(map[int64]*models.Project{
		1: {ID: 1, Name: "custom", WorkflowBackend: "spy"},
	})
	d.Register("spy", &spyBackend{})
	ctx := context.Background()

	d.OnNewIssue(ctx, 1, 1, false, false)
	d.OnNewIssue(ctx, 1, 2, false, false)
	d.OnNewIssue(ctx, 1, 3, false, false)

	assert.Equal(t, 1, fp.calls, "project row should be read once")
}

func TestDispatcher_UnknownBackendName(t *testing.T) {
	d, _ := newTestDispatcher(map[int64]*models.Project{
		1: {ID: 1, Name: "custom", WorkflowBackend: "missing"},
	})
	ctx := context.Background()

	// Unknown names degrade to the unbound defaults
	assert.True(t, d.ShouldEmailAddress(ctx, 1, "a@example.com"))
	handled, ok := d.PreStatusChange(ctx, 1, 1, new(int64), new(bool))
	assert.False(t, handled)
	assert.True(t, ok)
}

func TestExampleBackend_ShouldEmailAddress(t *testing.T) {
	b := &ExampleBackend{InternalDomains: []string{"corp.internal"}}
	ctx := context.Background()

	assert.True(t, b.ShouldEmailAddress(ctx, 1, "user@example.com"))
	assert.False(t, b.ShouldEmailAddress(ctx, 1, "not-an-address"))
	assert.False(t, b.ShouldEmailAddress(ctx, 1, "@example.com"))
	assert.False(t, b.ShouldEmailAddress(ctx, 1, "user@"))
	assert.False(t, b.ShouldEmailAddress(ctx, 1, "user@localhost"))
	assert.False(t, b.ShouldEmailAddress(ctx, 1, "user@CORP.INTERNAL"))
}

type fakeReopenStore struct {
	issue        *models.Issue
	statuses     map[int64]*models.Status
	statusSet    int64
	cleared      bool
	historyTypes []models.HistoryType
}

func (f *fakeReopenStore) GetIssue(context.Context, int64) (*models.Issue, error) {
	return f.issue, nil
}

func (f *fakeReopenStore) GetStatus(_ context.Context, id int64) (*models.Status, error) {
	st, ok := f.statuses[id]
	if !ok {
		return nil, fmt.Errorf("status not found: %d", id)
	}
	return st, nil
}

func (f *fakeReopenStore) SetIssueStatus(_ context.Context, _, statusID int64) error {
	f.statusSet = statusID
	return nil
}

func (f *fakeReopenStore) ClearClosed(context.Context, int64) error {
	f.cleared = true
	return nil
}

func (f *fakeReopenStore) AddHistory(_ context.Context, _, _ int64, typ models.HistoryType, _ string) error {
	f.historyTypes = append(f.historyTypes, typ)
	return nil
}

func TestExampleBackend_ReopensClosedIssueOnEmail(t *testing.T) {
	closedAt := fixedTime()
	fs := &fakeReopenStore{
		issue:    &models.Issue{ID: 7, StatusID: 5, ClosedAt: &closedAt},
		statuses: map[int64]*models.Status{5: {ID: 5, Title: "closed", IsClosed: true}},
	}
	b := &ExampleBackend{Store: fs, ReopenStatusID: 2}
	ctx := context.Background()

	err := b.OnNewEmail(ctx, 1, 7, &models.Email{From: "cust@example.com"}, false)
	require.NoError(t, err)
	assert.Equal(t, int64(2), fs.statusSet)
	assert.True(t, fs.cleared)
	require.Len(t, fs.historyTypes, 1)
	assert.Equal(t, models.HistoryRemoteStatusChange, fs.historyTypes[0])
}

func TestExampleBackend_ReopensWithoutClosedDate(t *testing.T) {
	// A plain status change into a closed status never stamps the closed
	// date; the status flag alone must trigger the reopen.
	fs := &fakeReopenStore{
		issue:    &models.Issue{ID: 7, StatusID: 5},
		statuses: map[int64]*models.Status{5: {ID: 5, Title: "closed", IsClosed: true}},
	}
	b := &ExampleBackend{Store: fs, ReopenStatusID: 2}

	err := b.OnNewEmail(context.Background(), 1, 7, &models.Email{From: "cust@example.com"}, false)
	require.NoError(t, err)
	assert.Equal(t, int64(2), fs.statusSet)
	assert.True(t, fs.cleared)
}

func TestExampleBackend_IgnoresInternalAndOpenIssues(t *testing.T) {
	closedStatuses := map[int64]*models.Status{5: {ID: 5, Title: "closed", IsClosed: true}}
	ctx := context.Background()

	// Internal email never reopens
	fs := &fakeReopenStore{issue: &models.Issue{ID: 7, StatusID: 5}, statuses: closedStatuses}
	b := &ExampleBackend{Store: fs, ReopenStatusID: 2}
	require.NoError(t, b.OnNewEmail(ctx, 1, 7, &models.Email{}, true))
	assert.False(t, fs.cleared)

	// Open issue stays untouched
	fs = &fakeReopenStore{
		issue:    &models.Issue{ID: 7, StatusID: 3},
		statuses: map[int64]*models.Status{3: {ID: 3, Title: "open"}},
	}
	b = &ExampleBackend{Store: fs, ReopenStatusID: 2}
	require.NoError(t, b.OnNewEmail(ctx, 1, 7, &models.Email{}, false))
	assert.False(t, fs.cleared)
	assert.Zero(t, fs.statusSet)
}
