package mcp

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/trkdev/trk/internal/issue"
	"github.com/trkdev/trk/internal/models"
	"github.com/trkdev/trk/internal/notify"
	"github.com/trkdev/trk/internal/store"
	"github.com/trkdev/trk/internal/workflow"
)

type mcpFixture struct {
	srv *Server
	st  *store.SQLiteStore

	project      *models.Project
	openStatus   int64
	closedStatus int64
	dev          *models.User
}

func setupServer(t *testing.T) *mcpFixture {
	t.Helper()
	ctx := context.Background()

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(ctx))
	t.Cleanup(func() { st.Close() })

	log := zap.NewNop()
	wf := workflow.NewDispatcher(st, log)
	m := issue.NewManager(st, wf, &notify.Spy{}, log)

	open := &models.Status{Title: "open"}
	require.NoError(t, st.CreateStatus(ctx, open))
	closed := &models.Status{Title: "closed", IsClosed: true}
	require.NoError(t, st.CreateStatus(ctx, closed))

	p := &models.Project{Name: "helpdesk", InitialStatusID: open.ID}
	require.NoError(t, st.CreateProject(ctx, p))

	system := &models.User{FullName: "System Account", Email: "system@trk.local", Active: true}
	require.NoError(t, st.CreateUser(ctx, system))
	require.Equal(t, models.SystemUserID, system.ID)

	dev := &models.User{FullName: "Dev One", Email: "dev@example.com", Active: true}
	require.NoError(t, st.CreateUser(ctx, dev))
	require.NoError(t, st.SetRole(ctx, p.ID, dev.ID, models.RoleDeveloper))

	return &mcpFixture{
		srv:          NewServer(st, m),
		st:           st,
		project:      p,
		openStatus:   open.ID,
		closedStatus: closed.ID,
		dev:          dev,
	}
}

// callToolReq builds a mcpgo.CallToolRequest with the given name and arguments.
func callToolReq(name string, args map[string]any) mcpgo.CallToolRequest {
	return mcpgo.CallToolRequest{
		Params: mcpgo.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

// resultText extracts the concatenated text from a CallToolResult.
func resultText(t *testing.T, result *mcpgo.CallToolResult) string {
	t.Helper()
	var b strings.Builder
	for _, c := range result.Content {
		tc, ok := c.(mcpgo.TextContent)
		if ok {
			b.WriteString(tc.Text)
		}
	}
	return b.String()
}

// resultJSON parses the text result as JSON into the provided target.
func resultJSON(t *testing.T, result *mcpgo.CallToolResult, target any) {
	t.Helper()
	text := resultText(t, result)
	err := json.Unmarshal([]byte(text), target)
	require.NoError(t, err, "failed to parse result JSON: %s", text)
}

func (f *mcpFixture) createIssue(t *testing.T, summary string) int64 {
	t.Helper()
	result, err := f.srv.handleCreateIssue(context.Background(), callToolReq("trk_create_issue", map[string]any{
		"project_id": strconv.FormatInt(f.project.ID, 10),
		"summary":    summary,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	var out struct {
		ID int64 `json:"id"`
	}
	resultJSON(t, result, &out)
	require.NotZero(t, out.ID)
	return out.ID
}

func TestRegistersAllTools(t *testing.T) {
	f := setupServer(t)
	require.NotNil(t, f.srv.MCPServer())
}

func TestListProjectsTool(t *testing.T) {
	f := setupServer(t)

	result, err := f.srv.handleListProjects(context.Background(), callToolReq("trk_list_projects", nil))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var projects []map[string]any
	resultJSON(t, result, &projects)
	require.Len(t, projects, 1)
	assert.Equal(t, "helpdesk", projects[0]["name"])
}

func TestCreateIssueTool(t *testing.T) {
	f := setupServer(t)
	id := f.createIssue(t, "mcp issue")

	got, err := f.st.GetIssue(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "mcp issue", got.Summary)
	assert.Equal(t, f.openStatus, got.StatusID)
}

func TestCreateIssueTool_MissingParams(t *testing.T) {
	f := setupServer(t)

	result, err := f.srv.handleCreateIssue(context.Background(), callToolReq("trk_create_issue", map[string]any{
		"summary": "orphan",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestListIssuesTool_Filters(t *testing.T) {
	f := setupServer(t)
	f.createIssue(t, "one")
	f.createIssue(t, "two")

	result, err := f.srv.handleListIssues(context.Background(), callToolReq("trk_list_issues", map[string]any{
		"project_id": strconv.FormatInt(f.project.ID, 10),
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var issues []map[string]any
	resultJSON(t, result, &issues)
	assert.Len(t, issues, 2)
}

func TestSetStatusTool(t *testing.T) {
	f := setupServer(t)
	id := f.createIssue(t, "to close")

	result, err := f.srv.handleSetStatus(context.Background(), callToolReq("trk_set_status", map[string]any{
		"issue_id":  strconv.FormatInt(id, 10),
		"status_id": strconv.FormatInt(f.closedStatus, 10),
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var out map[string]any
	resultJSON(t, result, &out)
	assert.Equal(t, "success", out["result"])

	// Setting the same status again is a no-change.
	result, err = f.srv.handleSetStatus(context.Background(), callToolReq("trk_set_status", map[string]any{
		"issue_id":  strconv.FormatInt(id, 10),
		"status_id": strconv.FormatInt(f.closedStatus, 10),
	}))
	require.NoError(t, err)
	resultJSON(t, result, &out)
	assert.Equal(t, "no change", out["result"])
}

func TestCloseIssueTool(t *testing.T) {
	f := setupServer(t)
	id := f.createIssue(t, "done deal")

	result, err := f.srv.handleCloseIssue(context.Background(), callToolReq("trk_close_issue", map[string]any{
		"issue_id":  strconv.FormatInt(id, 10),
		"status_id": strconv.FormatInt(f.closedStatus, 10),
		"reason":    "resolved via chat",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	got, err := f.st.GetIssue(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, got.ClosedAt)

	// Reason lands as an internal note when notify_to is not "all".
	notes, err := f.st.ListNotes(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Contains(t, notes[0].Body, "resolved via chat")
}

func TestAssignIssueTool(t *testing.T) {
	f := setupServer(t)
	id := f.createIssue(t, "needs hands")

	result, err := f.srv.handleAssignIssue(context.Background(), callToolReq("trk_assign_issue", map[string]any{
		"issue_id":  strconv.FormatInt(id, 10),
		"assignees": strconv.FormatInt(f.dev.ID, 10),
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	ids, err := f.st.AssignedUserIDs(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, []int64{f.dev.ID}, ids)
}

func TestQuarantinedIssuesTool(t *testing.T) {
	f := setupServer(t)
	f.createIssue(t, "clean")

	result, err := f.srv.handleQuarantinedIssues(context.Background(), callToolReq("trk_quarantined_issues", nil))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var issues []map[string]any
	resultJSON(t, result, &issues)
	assert.Empty(t, issues)
}
