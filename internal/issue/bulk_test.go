package issue

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trkdev/trk/internal/models"
)

func TestBulkUpdate_RequiresManager(t *testing.T) {
	f := newFixture(t)
	issue := f.newIssue(t)
	c := NewCache()

	res := f.m.BulkUpdate(context.Background(), c, f.dev.ID, BulkUpdateParams{
		ProjectID: f.project.ID,
		IssueIDs:  []int64{issue.ID},
		StatusID:  f.closedStatus,
	})
	assert.True(t, res.Failed())

	got, err := f.st.GetIssue(context.Background(), issue.ID)
	require.NoError(t, err)
	assert.Equal(t, f.openStatus, got.StatusID)
}

func TestBulkUpdate_AppliesAndRecordsHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	mgr := f.addUser(t, "Mgr", "bulkmgr@example.com", f.project.ID, models.RoleManager)
	a := f.newIssue(t)
	b := f.newIssue(t)
	c := NewCache()

	res := f.m.BulkUpdate(ctx, c, mgr.ID, BulkUpdateParams{
		ProjectID:  f.project.ID,
		IssueIDs:   []int64{a.ID, b.ID},
		PriorityID: 3,
	})
	require.True(t, res.Ok())

	for _, id := range []int64{a.ID, b.ID} {
		got, err := f.st.GetIssue(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, int64(3), got.PriorityID)
		assert.Len(t, f.historyOfType(t, id, models.HistoryIssueBulkUpdated), 1)
	}
}

func TestBulkUpdate_SkipsOtherProjects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	mgr := f.addUser(t, "Mgr", "crossmgr@example.com", f.project.ID, models.RoleManager)

	other := &models.Project{Name: "other", InitialStatusID: f.openStatus}
	require.NoError(t, f.st.CreateProject(ctx, other))
	require.NoError(t, f.st.SetRole(ctx, other.ID, mgr.ID, models.RoleManager))

	foreign := &models.Issue{ProjectID: other.ID, StatusID: f.openStatus, ReporterID: 1, Summary: "elsewhere"}
	require.NoError(t, f.st.InsertIssue(ctx, foreign))

	c := NewCache()
	res := f.m.BulkUpdate(ctx, c, mgr.ID, BulkUpdateParams{
		ProjectID:  f.project.ID,
		IssueIDs:   []int64{foreign.ID},
		PriorityID: 3,
	})
	require.True(t, res.Ok())

	got, err := f.st.GetIssue(ctx, foreign.ID)
	require.NoError(t, err)
	assert.Zero(t, got.PriorityID, "cross-project issues are skipped")
}

func TestBulkUpdate_SkipsMissingIssues(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	mgr := f.addUser(t, "Mgr", "missmgr@example.com", f.project.ID, models.RoleManager)
	issue := f.newIssue(t)

	c := NewCache()
	res := f.m.BulkUpdate(ctx, c, mgr.ID, BulkUpdateParams{
		ProjectID:  f.project.ID,
		IssueIDs:   []int64{9999, issue.ID},
		PriorityID: 2,
	})
	require.True(t, res.Ok(), "a missing id must not abort the batch")

	got, err := f.st.GetIssue(ctx, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.PriorityID)
}

func TestBulkUpdate_CloseAfterUpdate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	mgr := f.addUser(t, "Mgr", "closemgr@example.com", f.project.ID, models.RoleManager)
	issue := f.newIssue(t)
	c := NewCache()

	res := f.m.BulkUpdate(ctx, c, mgr.ID, BulkUpdateParams{
		ProjectID:     f.project.ID,
		IssueIDs:      []int64{issue.ID},
		Close:         true,
		CloseStatusID: f.closedStatus,
		CloseReason:   "batch cleanup",
	})
	require.True(t, res.Ok())

	got, err := f.st.GetIssue(ctx, issue.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.ClosedAt)
	assert.Equal(t, f.closedStatus, got.StatusID)
	assert.Len(t, f.historyOfType(t, issue.ID, models.HistoryIssueClosed), 1)
}
