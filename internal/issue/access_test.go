package issue

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trkdev/trk/internal/models"
)

func (f *fixture) addUser(t *testing.T, name, email string, projectID int64, role models.Role) *models.User {
	t.Helper()
	ctx := context.Background()
	u := &models.User{FullName: name, Email: email, Active: true}
	require.NoError(t, f.st.CreateUser(ctx, u))
	if role != 0 {
		require.NoError(t, f.st.SetRole(ctx, projectID, u.ID, role))
	}
	return u
}

func TestCanAccess_NoRoleDenied(t *testing.T) {
	f := newFixture(t)
	issue := f.newIssue(t)
	c := NewCache()

	outsider := f.addUser(t, "Outsider", "out@example.com", 0, 0)
	assert.False(t, f.m.CanAccess(context.Background(), c, issue.ID, outsider.ID))
}

func TestCanAccess_MemberAllowed(t *testing.T) {
	f := newFixture(t)
	issue := f.newIssue(t)
	c := NewCache()

	assert.True(t, f.m.CanAccess(context.Background(), c, issue.ID, f.dev.ID))
}

func TestCanAccess_MissingIssueAllowed(t *testing.T) {
	f := newFixture(t)
	c := NewCache()

	assert.True(t, f.m.CanAccess(context.Background(), c, 9999, f.dev.ID))
}

func TestCanAccess_CustomerMismatchDenied(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := NewCache()

	issue := &models.Issue{
		ProjectID:  f.project.ID,
		StatusID:   f.openStatus,
		ReporterID: models.SystemUserID,
		Summary:    "customer issue",
		CustomerID: "cust-1",
	}
	require.NoError(t, f.st.InsertIssue(ctx, issue))

	sameCust := &models.User{FullName: "Cust A", Email: "a@cust.com", CustomerID: "cust-1", Active: true}
	require.NoError(t, f.st.CreateUser(ctx, sameCust))
	require.NoError(t, f.st.SetRole(ctx, f.project.ID, sameCust.ID, models.RoleCustomer))

	otherCust := &models.User{FullName: "Cust B", Email: "b@cust.com", CustomerID: "cust-2", Active: true}
	require.NoError(t, f.st.CreateUser(ctx, otherCust))
	require.NoError(t, f.st.SetRole(ctx, f.project.ID, otherCust.ID, models.RoleCustomer))

	assert.True(t, f.m.CanAccess(ctx, c, issue.ID, sameCust.ID))
	assert.False(t, f.m.CanAccess(ctx, c, issue.ID, otherCust.ID))
}

func TestCanAccess_PrivateIssue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := NewCache()

	reporter := f.addUser(t, "Reporter", "rep@example.com", f.project.ID, models.RoleReporter)

	issue := &models.Issue{
		ProjectID:  f.project.ID,
		StatusID:   f.openStatus,
		ReporterID: reporter.ID,
		Summary:    "sensitive",
		Private:    true,
	}
	require.NoError(t, f.st.InsertIssue(ctx, issue))

	manager := f.addUser(t, "Mgr", "mgr@example.com", f.project.ID, models.RoleManager)
	assignee := f.addUser(t, "Assignee", "asg@example.com", f.project.ID, models.RoleDeveloper)
	require.NoError(t, f.st.AssignUser(ctx, issue.ID, assignee.ID))
	replier := f.addUser(t, "Replier", "rpl@example.com", f.project.ID, models.RoleUser)
	require.NoError(t, f.st.AddAuthorizedReplier(ctx, issue.ID, replier.ID))
	bystander := f.addUser(t, "Bystander", "by@example.com", f.project.ID, models.RoleDeveloper)

	assert.True(t, f.m.CanAccess(ctx, c, issue.ID, manager.ID), "managers see private issues")
	assert.True(t, f.m.CanAccess(ctx, c, issue.ID, reporter.ID), "the reporter sees their own")
	assert.True(t, f.m.CanAccess(ctx, c, issue.ID, assignee.ID), "assignees see it")
	assert.True(t, f.m.CanAccess(ctx, c, issue.ID, replier.ID), "authorized repliers see it")
	assert.False(t, f.m.CanAccess(ctx, c, issue.ID, bystander.ID), "an unrelated developer does not")
}

func TestCanAccess_PrivateIssueGroupMember(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := NewCache()

	issue := &models.Issue{
		ProjectID:  f.project.ID,
		StatusID:   f.openStatus,
		ReporterID: models.SystemUserID,
		Summary:    "group work",
		Private:    true,
		GroupID:    7,
	}
	require.NoError(t, f.st.InsertIssue(ctx, issue))

	member := &models.User{FullName: "Member", Email: "grp@example.com", GroupID: 7, Active: true}
	require.NoError(t, f.st.CreateUser(ctx, member))
	require.NoError(t, f.st.SetRole(ctx, f.project.ID, member.ID, models.RoleDeveloper))

	assert.True(t, f.m.CanAccess(ctx, c, issue.ID, member.ID))
}

func TestCanAccess_SegregatedReporters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := NewCache()

	p := &models.Project{Name: "segregated", InitialStatusID: f.openStatus, SegregateReporters: true}
	require.NoError(t, f.st.CreateProject(ctx, p))

	owner := f.addUser(t, "Owner", "own@example.com", p.ID, models.RoleReporter)
	other := f.addUser(t, "Other", "oth@example.com", p.ID, models.RoleReporter)
	dev := f.addUser(t, "SegDev", "segdev@example.com", p.ID, models.RoleDeveloper)

	issue := &models.Issue{ProjectID: p.ID, StatusID: f.openStatus, ReporterID: owner.ID, Summary: "mine"}
	require.NoError(t, f.st.InsertIssue(ctx, issue))

	assert.True(t, f.m.CanAccess(ctx, c, issue.ID, owner.ID), "reporters see their own issues")
	assert.False(t, f.m.CanAccess(ctx, c, issue.ID, other.ID), "reporters do not see others' issues")
	assert.True(t, f.m.CanAccess(ctx, c, issue.ID, dev.ID), "staff see everything")

	// An authorized replier regains access
	require.NoError(t, f.st.AddAuthorizedReplier(ctx, issue.ID, other.ID))
	c2 := NewCache()
	assert.True(t, f.m.CanAccess(ctx, c2, issue.ID, other.ID))
}

func TestCanAccess_VerdictCached(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := NewCache()
	issue := f.newIssue(t)

	outsider := f.addUser(t, "Late", "late@example.com", 0, 0)
	assert.False(t, f.m.CanAccess(ctx, c, issue.ID, outsider.ID))

	// Granting a role is invisible to the same cache...
	require.NoError(t, f.st.SetRole(ctx, f.project.ID, outsider.ID, models.RoleDeveloper))
	assert.False(t, f.m.CanAccess(ctx, c, issue.ID, outsider.ID))

	// ...but a fresh cache sees it
	assert.True(t, f.m.CanAccess(ctx, NewCache(), issue.ID, outsider.ID))
}
