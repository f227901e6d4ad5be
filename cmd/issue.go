package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/trkdev/trk/internal/issue"
	"github.com/trkdev/trk/internal/output"
	"github.com/trkdev/trk/internal/store"
)

var (
	issueProject     int64
	issueSummary     string
	issueDesc        string
	issuePriority    int64
	issueCategory    int64
	issueRelease     int64
	issueStatus      int64
	issueAssignees   []int64
	issueResolution  int64
	issueReason      string
	issueNotify      bool
	issueNotifyTo    string
	issueDuplicateOf int64
)

var issueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Manage issues",
	Long:  "Create, list, and work issues through their lifecycle.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueListRun()
	},
}

var issueAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create a new issue",
	Long:  "Create an issue. Assignment follows project rules: account managers, then explicit assignees, then round robin.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueAddRun()
	},
}

var issueListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List issues",
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueListRun()
	},
}

var issueShowCmd = &cobra.Command{
	Use:   "show <issue-id>",
	Short: "Show issue details",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueShowRun(args[0])
	},
}

var issueStatusCmd = &cobra.Command{
	Use:   "status <issue-id> <status-id>",
	Short: "Change an issue's status",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueStatusRun(args[0], args[1])
	},
}

var issueCloseCmd = &cobra.Command{
	Use:   "close <issue-id>",
	Short: "Close an issue",
	Long:  "Close an issue with a resolution. The reason stays an internal note unless --notify-to all sends it as a closing email.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueCloseRun(args[0])
	},
}

var issueAssignCmd = &cobra.Command{
	Use:   "assign <issue-id> [user-id...]",
	Short: "Replace an issue's assignees",
	Long:  "Replace the assignee list. With no user ids, clears all assignments.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueAssignRun(args[0], args[1:])
	},
}

var issueDuplicateCmd = &cobra.Command{
	Use:   "duplicate <issue-id>",
	Short: "Mark or clear an issue as a duplicate",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueDuplicateRun(args[0])
	},
}

var issueQuarantineCmd = &cobra.Command{
	Use:   "quarantined",
	Short: "List quarantined issues",
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueQuarantinedRun()
	},
}

func init() {
	issueCmd.PersistentFlags().Int64VarP(&issueProject, "project", "p", 0, "Project id")

	issueAddCmd.Flags().StringVarP(&issueSummary, "summary", "s", "", "Issue summary (required)")
	issueAddCmd.Flags().StringVar(&issueDesc, "description", "", "Issue description")
	issueAddCmd.Flags().Int64Var(&issuePriority, "priority", 0, "Priority id")
	issueAddCmd.Flags().Int64Var(&issueCategory, "category", 0, "Category id")
	issueAddCmd.Flags().Int64Var(&issueRelease, "release", 0, "Release id")
	issueAddCmd.Flags().Int64SliceVar(&issueAssignees, "assign", nil, "User ids to assign")
	_ = issueAddCmd.MarkFlagRequired("summary")

	issueListCmd.Flags().Int64Var(&issueStatus, "status", 0, "Filter by status id")
	issueListCmd.Flags().Int64Var(&issuePriority, "priority", 0, "Filter by priority id")

	issueStatusCmd.Flags().BoolVar(&issueNotify, "notify", false, "Notify subscribers")

	issueCloseCmd.Flags().Int64Var(&issueStatus, "status", 0, "Closed status id (required)")
	issueCloseCmd.Flags().Int64Var(&issueResolution, "resolution", 0, "Resolution id")
	issueCloseCmd.Flags().StringVar(&issueReason, "reason", "", "Closing comments")
	issueCloseCmd.Flags().StringVar(&issueNotifyTo, "notify-to", "", "'all' emails the reason to everyone")
	issueCloseCmd.Flags().BoolVar(&issueNotify, "notify", false, "Notify subscribers")
	_ = issueCloseCmd.MarkFlagRequired("status")

	issueDuplicateCmd.Flags().Int64Var(&issueDuplicateOf, "of", 0, "Issue this one duplicates (0 clears the mark)")
	issueDuplicateCmd.Flags().StringVar(&issueReason, "comments", "", "Optional note filed with the mark")

	issueCmd.AddCommand(issueAddCmd)
	issueCmd.AddCommand(issueListCmd)
	issueCmd.AddCommand(issueShowCmd)
	issueCmd.AddCommand(issueStatusCmd)
	issueCmd.AddCommand(issueCloseCmd)
	issueCmd.AddCommand(issueAssignCmd)
	issueCmd.AddCommand(issueDuplicateCmd)
	issueCmd.AddCommand(issueQuarantineCmd)
	rootCmd.AddCommand(issueCmd)
}

func parseIssueID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid issue id: %s", arg)
	}
	return id, nil
}

func issueAddRun() error {
	if issueProject == 0 {
		return fmt.Errorf("--project is required")
	}

	s, err := getStore()
	if err != nil {
		return err
	}
	mgr, _, _, err := buildManager(s)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would create issue %q in project %d", issueSummary, issueProject)
		return nil
	}

	ctx := context.Background()
	id, res := mgr.CreateFromForm(ctx, issue.NewCache(), issue.CreateParams{
		ProjectID:   issueProject,
		ReporterID:  actorID(),
		Summary:     issueSummary,
		Description: issueDesc,
		PriorityID:  issuePriority,
		CategoryID:  issueCategory,
		ReleaseID:   issueRelease,
		Assignees:   issueAssignees,
	})
	if res.Failed() {
		return fmt.Errorf("create issue: %s", res.Reason())
	}

	ui.Success("Created issue #%d", id)
	return nil
}

func issueListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}

	ctx := context.Background()
	issues, err := s.ListIssues(ctx, store.IssueListFilter{
		ProjectID:  issueProject,
		StatusID:   issueStatus,
		PriorityID: issuePriority,
	})
	if err != nil {
		return fmt.Errorf("list issues: %w", err)
	}

	if len(issues) == 0 {
		ui.Info("No issues found")
		return nil
	}

	table := ui.Table([]string{"ID", "Summary", "Status", "Priority", "Created"})
	for _, i := range issues {
		table.Append([]string{
			strconv.FormatInt(i.ID, 10),
			truncate(i.Summary, 60),
			statusTitle(ctx, s, i.StatusID),
			priorityLabel(ctx, s, i.ProjectID, i.PriorityID),
			i.CreatedAt.Format("2006-01-02"),
		})
	}
	return table.Render()
}

func issueShowRun(arg string) error {
	id, err := parseIssueID(arg)
	if err != nil {
		return err
	}
	s, err := getStore()
	if err != nil {
		return err
	}

	ctx := context.Background()
	i, err := s.GetIssue(ctx, id)
	if err != nil {
		return err
	}

	fmt.Fprintf(ui.Out, "%s #%d\n", output.Cyan(i.Summary), i.ID)
	fmt.Fprintf(ui.Out, "  Project:  %d\n", i.ProjectID)
	fmt.Fprintf(ui.Out, "  Status:   %s\n", statusTitle(ctx, s, i.StatusID))
	fmt.Fprintf(ui.Out, "  Priority: %s\n", priorityLabel(ctx, s, i.ProjectID, i.PriorityID))
	fmt.Fprintf(ui.Out, "  Reporter: %s\n", userName(ctx, s, i.ReporterID))
	fmt.Fprintf(ui.Out, "  Created:  %s\n", i.CreatedAt.Format(time.RFC822))
	if i.ClosedAt != nil {
		fmt.Fprintf(ui.Out, "  Closed:   %s\n", i.ClosedAt.Format(time.RFC822))
	}
	if i.DuplicateOf != 0 {
		fmt.Fprintf(ui.Out, "  Duplicate of: #%d\n", i.DuplicateOf)
	}

	ids, err := s.AssignedUserIDs(ctx, id)
	if err == nil && len(ids) > 0 {
		names := make([]string, len(ids))
		for n, uid := range ids {
			names[n] = userName(ctx, s, uid)
		}
		fmt.Fprintf(ui.Out, "  Assigned: %s\n", strings.Join(names, ", "))
	}

	if i.Description != "" {
		fmt.Fprintf(ui.Out, "\n%s\n", i.Description)
	}
	return nil
}

func issueStatusRun(idArg, statusArg string) error {
	id, err := parseIssueID(idArg)
	if err != nil {
		return err
	}
	statusID, err := strconv.ParseInt(statusArg, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid status id: %s", statusArg)
	}

	s, err := getStore()
	if err != nil {
		return err
	}
	mgr, _, _, err := buildManager(s)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would set issue #%d to status %d", id, statusID)
		return nil
	}

	res := mgr.SetStatus(context.Background(), issue.NewCache(), id, statusID, issueNotify)
	if res.Failed() {
		return fmt.Errorf("set status: %s", res.Reason())
	}
	if res.IsNoChange() {
		ui.Info("Issue #%d already has status %d", id, statusID)
		return nil
	}
	ui.Success("Issue #%d moved to status %d", id, statusID)
	return nil
}

func issueCloseRun(arg string) error {
	id, err := parseIssueID(arg)
	if err != nil {
		return err
	}
	s, err := getStore()
	if err != nil {
		return err
	}
	mgr, _, _, err := buildManager(s)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would close issue #%d with status %d", id, issueStatus)
		return nil
	}

	c := issue.NewCache()
	ctx := context.Background()
	if mgr.IsClosed(ctx, c, id) {
		ui.Warning("Issue #%d is already in a closed status", id)
	}

	res := mgr.Close(ctx, c, issue.CloseParams{
		IssueID:      id,
		Actor:        actorID(),
		Notify:       issueNotify,
		ResolutionID: issueResolution,
		StatusID:     issueStatus,
		Reason:       issueReason,
		NotifyTo:     issueNotifyTo,
	})
	if res.Failed() {
		return fmt.Errorf("close issue: %s", res.Reason())
	}
	ui.Success("Closed issue #%d", id)
	return nil
}

func issueAssignRun(arg string, userArgs []string) error {
	id, err := parseIssueID(arg)
	if err != nil {
		return err
	}
	var users []int64
	for _, ua := range userArgs {
		uid, err := strconv.ParseInt(ua, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid user id: %s", ua)
		}
		users = append(users, uid)
	}

	s, err := getStore()
	if err != nil {
		return err
	}
	mgr, _, _, err := buildManager(s)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would assign issue #%d to %v", id, users)
		return nil
	}

	res := mgr.SetAssignees(context.Background(), issue.NewCache(), id, actorID(), users)
	if res.Failed() {
		return fmt.Errorf("assign issue: %s", res.Reason())
	}
	if res.IsNoChange() {
		ui.Info("Assignments unchanged")
		return nil
	}
	if len(users) == 0 {
		ui.Success("Cleared assignments on issue #%d", id)
	} else {
		ui.Success("Assigned issue #%d", id)
	}
	return nil
}

func issueDuplicateRun(arg string) error {
	id, err := parseIssueID(arg)
	if err != nil {
		return err
	}
	s, err := getStore()
	if err != nil {
		return err
	}
	mgr, _, _, err := buildManager(s)
	if err != nil {
		return err
	}

	ctx := context.Background()
	if issueDuplicateOf == 0 {
		res := mgr.ClearDuplicate(ctx, issue.NewCache(), id, actorID())
		if res.Failed() {
			return fmt.Errorf("clear duplicate: %s", res.Reason())
		}
		ui.Success("Cleared duplicate mark on issue #%d", id)
		return nil
	}

	res := mgr.MarkDuplicate(ctx, issue.NewCache(), id, issueDuplicateOf, actorID(), issueReason)
	if res.Failed() {
		return fmt.Errorf("mark duplicate: %s", res.Reason())
	}
	ui.Success("Issue #%d marked as duplicate of #%d", id, issueDuplicateOf)
	return nil
}

func issueQuarantinedRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	mgr, _, _, err := buildManager(s)
	if err != nil {
		return err
	}

	ctx := context.Background()
	issues, err := mgr.QuarantinedIssues(ctx)
	if err != nil {
		return fmt.Errorf("list quarantined issues: %w", err)
	}
	if len(issues) == 0 {
		ui.Info("No quarantined issues")
		return nil
	}

	table := ui.Table([]string{"ID", "Summary", "Project"})
	for _, i := range issues {
		table.Append([]string{
			strconv.FormatInt(i.ID, 10),
			output.QuarantineColor(truncate(i.Summary, 60)),
			strconv.FormatInt(i.ProjectID, 10),
		})
	}
	return table.Render()
}

func statusTitle(ctx context.Context, s store.Store, id int64) string {
	st, err := s.GetStatus(ctx, id)
	if err != nil {
		return strconv.FormatInt(id, 10)
	}
	return output.StatusColor(st.Title, st.IsClosed)
}

// priorityLabel renders a priority colored by its rank within the project's
// list, most urgent first. Unknown priorities fall back to the bare id.
func priorityLabel(ctx context.Context, s store.Store, projectID, priorityID int64) string {
	priorities, err := s.ListPriorities(ctx, projectID)
	if err != nil {
		return strconv.FormatInt(priorityID, 10)
	}
	for n, pri := range priorities {
		if pri.ID == priorityID {
			return output.PriorityColor(int64(n+1), pri.Title)
		}
	}
	return strconv.FormatInt(priorityID, 10)
}

func userName(ctx context.Context, s store.Store, id int64) string {
	u, err := s.GetUser(ctx, id)
	if err != nil {
		return fmt.Sprintf("user %d", id)
	}
	return u.FullName
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
