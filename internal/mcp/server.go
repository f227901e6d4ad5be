// Package mcp exposes the tracker as MCP tools over stdio so that coding
// agents can query and manipulate issues natively.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/trkdev/trk/internal/issue"
	"github.com/trkdev/trk/internal/models"
	"github.com/trkdev/trk/internal/store"
)

// Server wraps the tracker data layer and exposes it as MCP tools.
type Server struct {
	store   store.Store
	manager *issue.Manager
}

// NewServer creates the MCP server wrapper.
func NewServer(s store.Store, m *issue.Manager) *Server {
	return &Server{store: s, manager: m}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("trk", "1.0.0", server.WithToolCapabilities(true))

	srv.AddTool(s.listProjectsTool())
	srv.AddTool(s.listIssuesTool())
	srv.AddTool(s.createIssueTool())
	srv.AddTool(s.setStatusTool())
	srv.AddTool(s.closeIssueTool())
	srv.AddTool(s.assignIssueTool())
	srv.AddTool(s.quarantinedIssuesTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

func parseID(s string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(s), 10, 64)
}

func issueOut(i *models.Issue) map[string]any {
	out := map[string]any{
		"id":          i.ID,
		"project_id":  i.ProjectID,
		"summary":     i.Summary,
		"description": i.Description,
		"status_id":   i.StatusID,
		"priority_id": i.PriorityID,
		"category_id": i.CategoryID,
		"reporter_id": i.ReporterID,
		"private":     i.Private,
		"created_at":  i.CreatedAt.Format(time.RFC3339),
	}
	if i.ClosedAt != nil {
		out["closed_at"] = i.ClosedAt.Format(time.RFC3339)
	}
	if i.DuplicateOf != 0 {
		out["duplicate_of"] = i.DuplicateOf
	}
	return out
}

func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// ---------------------------------------------------------------------------
// Tool definitions and handlers
// ---------------------------------------------------------------------------

// trk_list_projects
func (s *Server) listProjectsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("trk_list_projects",
		mcp.WithDescription("List all projects. Returns a JSON array with id, name, initial status, and workflow backend."),
	)
	return tool, s.handleListProjects
}

func (s *Server) handleListProjects(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projects, err := s.store.ListProjects(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list projects: %v", err)), nil
	}

	out := make([]map[string]any, len(projects))
	for i, p := range projects {
		out[i] = map[string]any{
			"id":                p.ID,
			"name":              p.Name,
			"initial_status_id": p.InitialStatusID,
			"workflow_backend":  p.WorkflowBackend,
		}
	}
	return marshalResult(out)
}

// trk_list_issues
func (s *Server) listIssuesTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("trk_list_issues",
		mcp.WithDescription("List issues, optionally filtered. Returns a JSON array of issues with id, summary, status, priority, and assignment info."),
		mcp.WithString("project_id", mcp.Description("Filter by project id")),
		mcp.WithString("status_id", mcp.Description("Filter by status id")),
		mcp.WithString("priority_id", mcp.Description("Filter by priority id")),
		mcp.WithString("assignee_id", mcp.Description("Filter by assigned user id")),
	)
	return tool, s.handleListIssues
}

func (s *Server) handleListIssues(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var filter store.IssueListFilter
	if v := request.GetString("project_id", ""); v != "" {
		filter.ProjectID, _ = parseID(v)
	}
	if v := request.GetString("status_id", ""); v != "" {
		filter.StatusID, _ = parseID(v)
	}
	if v := request.GetString("priority_id", ""); v != "" {
		filter.PriorityID, _ = parseID(v)
	}
	if v := request.GetString("assignee_id", ""); v != "" {
		filter.AssigneeID, _ = parseID(v)
	}

	issues, err := s.store.ListIssues(ctx, filter)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list issues: %v", err)), nil
	}

	out := make([]map[string]any, len(issues))
	for i, is := range issues {
		out[i] = issueOut(is)
	}
	return marshalResult(out)
}

// trk_create_issue
func (s *Server) createIssueTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("trk_create_issue",
		mcp.WithDescription("Create a new issue in a project. Assignment follows the project's rules: account managers first, then explicit assignees, then round robin. Returns the created issue id."),
		mcp.WithString("project_id", mcp.Required(), mcp.Description("Project id")),
		mcp.WithString("summary", mcp.Required(), mcp.Description("Issue summary")),
		mcp.WithString("description", mcp.Description("Issue description")),
		mcp.WithString("priority_id", mcp.Description("Priority id")),
		mcp.WithString("category_id", mcp.Description("Category id")),
		mcp.WithString("assignees", mcp.Description("Comma-separated user ids to assign")),
	)
	return tool, s.handleCreateIssue
}

func (s *Server) handleCreateIssue(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projectRef, err := request.RequireString("project_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: project_id"), nil
	}
	summary, err := request.RequireString("summary")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: summary"), nil
	}
	projectID, err := parseID(projectRef)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid project_id: %s", projectRef)), nil
	}

	params := issue.CreateParams{
		ProjectID:   projectID,
		ReporterID:  models.SystemUserID,
		Summary:     summary,
		Description: request.GetString("description", ""),
	}
	if v := request.GetString("priority_id", ""); v != "" {
		params.PriorityID, _ = parseID(v)
	}
	if v := request.GetString("category_id", ""); v != "" {
		params.CategoryID, _ = parseID(v)
	}
	for _, part := range strings.Split(request.GetString("assignees", ""), ",") {
		if part = strings.TrimSpace(part); part == "" {
			continue
		}
		id, err := parseID(part)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid assignee id: %s", part)), nil
		}
		params.Assignees = append(params.Assignees, id)
	}

	id, res := s.manager.CreateFromForm(ctx, issue.NewCache(), params)
	if res.Failed() {
		return mcp.NewToolResultError(fmt.Sprintf("failed to create issue: %s", res.Reason())), nil
	}
	return marshalResult(map[string]any{"id": id, "result": res.String()})
}

// trk_set_status
func (s *Server) setStatusTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("trk_set_status",
		mcp.WithDescription("Change an issue's status. Reports 'no change' when the issue already has the status. Reopening a closed issue clears its resolution."),
		mcp.WithString("issue_id", mcp.Required(), mcp.Description("Issue id")),
		mcp.WithString("status_id", mcp.Required(), mcp.Description("Target status id")),
		mcp.WithString("notify", mcp.Description("Set to 'true' to notify subscribers")),
	)
	return tool, s.handleSetStatus
}

func (s *Server) handleSetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	issueRef, err := request.RequireString("issue_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: issue_id"), nil
	}
	statusRef, err := request.RequireString("status_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: status_id"), nil
	}
	issueID, err := parseID(issueRef)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid issue_id: %s", issueRef)), nil
	}
	statusID, err := parseID(statusRef)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid status_id: %s", statusRef)), nil
	}
	notify := request.GetString("notify", "") == "true"

	res := s.manager.SetStatus(ctx, issue.NewCache(), issueID, statusID, notify)
	if res.Failed() {
		return mcp.NewToolResultError(res.Reason()), nil
	}
	return marshalResult(map[string]any{"result": res.String()})
}

// trk_close_issue
func (s *Server) closeIssueTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("trk_close_issue",
		mcp.WithDescription("Close an issue with a resolution and a reason. The reason is filed as an internal note unless notify_to is 'all', in which case it goes out as a closing email."),
		mcp.WithString("issue_id", mcp.Required(), mcp.Description("Issue id")),
		mcp.WithString("status_id", mcp.Required(), mcp.Description("Closed status id")),
		mcp.WithString("resolution_id", mcp.Description("Resolution id")),
		mcp.WithString("reason", mcp.Description("Closing comments")),
		mcp.WithString("notify_to", mcp.Description("'all' to email everyone, otherwise the reason stays internal")),
	)
	return tool, s.handleCloseIssue
}

func (s *Server) handleCloseIssue(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	issueRef, err := request.RequireString("issue_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: issue_id"), nil
	}
	statusRef, err := request.RequireString("status_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: status_id"), nil
	}
	issueID, err := parseID(issueRef)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid issue_id: %s", issueRef)), nil
	}
	statusID, err := parseID(statusRef)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid status_id: %s", statusRef)), nil
	}

	p := issue.CloseParams{
		IssueID:  issueID,
		Actor:    models.SystemUserID,
		StatusID: statusID,
		Reason:   request.GetString("reason", ""),
		NotifyTo: request.GetString("notify_to", ""),
	}
	if v := request.GetString("resolution_id", ""); v != "" {
		p.ResolutionID, _ = parseID(v)
	}

	res := s.manager.Close(ctx, issue.NewCache(), p)
	if res.Failed() {
		return mcp.NewToolResultError(res.Reason()), nil
	}
	return marshalResult(map[string]any{"result": res.String()})
}

// trk_assign_issue
func (s *Server) assignIssueTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("trk_assign_issue",
		mcp.WithDescription("Replace an issue's assignee list. Pass an empty list to clear all assignments."),
		mcp.WithString("issue_id", mcp.Required(), mcp.Description("Issue id")),
		mcp.WithString("assignees", mcp.Description("Comma-separated user ids; empty clears assignments")),
	)
	return tool, s.handleAssignIssue
}

func (s *Server) handleAssignIssue(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	issueRef, err := request.RequireString("issue_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: issue_id"), nil
	}
	issueID, err := parseID(issueRef)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid issue_id: %s", issueRef)), nil
	}

	var assignees []int64
	for _, part := range strings.Split(request.GetString("assignees", ""), ",") {
		if part = strings.TrimSpace(part); part == "" {
			continue
		}
		id, err := parseID(part)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid assignee id: %s", part)), nil
		}
		assignees = append(assignees, id)
	}

	res := s.manager.SetAssignees(ctx, issue.NewCache(), issueID, models.SystemUserID, assignees)
	if res.Failed() {
		return mcp.NewToolResultError(res.Reason()), nil
	}
	return marshalResult(map[string]any{"result": res.String()})
}

// trk_quarantined_issues
func (s *Server) quarantinedIssuesTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("trk_quarantined_issues",
		mcp.WithDescription("List issues currently held in quarantine, with their expiration times."),
	)
	return tool, s.handleQuarantinedIssues
}

func (s *Server) handleQuarantinedIssues(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	issues, err := s.manager.QuarantinedIssues(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list quarantined issues: %v", err)), nil
	}

	out := make([]map[string]any, len(issues))
	for i, is := range issues {
		out[i] = issueOut(is)
	}
	return marshalResult(out)
}
