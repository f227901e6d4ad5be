package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/trkdev/trk/internal/models"
	"github.com/trkdev/trk/internal/store"
)

var (
	projectInitialStatus int64
	projectWorkflow      string
	projectCustomer      bool
	projectSegregate     bool
	projectRole          string
	userFullName         string
	userEmail            string
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage projects",
	RunE: func(cmd *cobra.Command, args []string) error {
		return projectListRun()
	},
}

var projectAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Create a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return projectAddRun(args[0])
	},
}

var projectListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List projects",
	RunE: func(cmd *cobra.Command, args []string) error {
		return projectListRun()
	},
}

var projectWorkflowCmd = &cobra.Command{
	Use:   "workflow <project> <backend>",
	Short: "Bind a workflow backend to a project",
	Long:  "Bind a registered workflow backend by name; an empty name removes the binding.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return projectWorkflowRun(args[0], args[1])
	},
}

var projectMemberCmd = &cobra.Command{
	Use:   "member <project> <user-id>",
	Short: "Add or change a user's role in a project",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return projectMemberRun(args[0], args[1])
	},
}

var userAddCmd = &cobra.Command{
	Use:   "user-add",
	Short: "Create a user account",
	RunE: func(cmd *cobra.Command, args []string) error {
		return userAddRun()
	},
}

func init() {
	projectAddCmd.Flags().Int64Var(&projectInitialStatus, "initial-status", 0, "Status id new issues start in (required)")
	projectAddCmd.Flags().StringVar(&projectWorkflow, "workflow", "", "Workflow backend name")
	projectAddCmd.Flags().BoolVar(&projectCustomer, "customer-integration", false, "Enable customer integration")
	projectAddCmd.Flags().BoolVar(&projectSegregate, "segregate-reporters", false, "Reporters only see their own issues")
	_ = projectAddCmd.MarkFlagRequired("initial-status")

	projectMemberCmd.Flags().StringVar(&projectRole, "role", "user", "Role: viewer, reporter, customer, user, developer, manager, administrator")

	userAddCmd.Flags().StringVar(&userFullName, "name", "", "Full name (required)")
	userAddCmd.Flags().StringVar(&userEmail, "email", "", "Email address (required)")
	_ = userAddCmd.MarkFlagRequired("name")
	_ = userAddCmd.MarkFlagRequired("email")

	projectCmd.AddCommand(projectAddCmd)
	projectCmd.AddCommand(projectListCmd)
	projectCmd.AddCommand(projectWorkflowCmd)
	projectCmd.AddCommand(projectMemberCmd)
	rootCmd.AddCommand(projectCmd)
	rootCmd.AddCommand(userAddCmd)
}

// resolveProject accepts a project id or name.
func resolveProject(ctx context.Context, s store.Store, ref string) (*models.Project, error) {
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		return s.GetProject(ctx, id)
	}
	return s.GetProjectByName(ctx, ref)
}

func parseRole(name string) (models.Role, error) {
	switch name {
	case "viewer":
		return models.RoleViewer, nil
	case "reporter":
		return models.RoleReporter, nil
	case "customer":
		return models.RoleCustomer, nil
	case "user":
		return models.RoleUser, nil
	case "developer":
		return models.RoleDeveloper, nil
	case "manager":
		return models.RoleManager, nil
	case "administrator", "admin":
		return models.RoleAdministrator, nil
	}
	return 0, fmt.Errorf("unknown role: %s", name)
}

func projectAddRun(name string) error {
	s, err := getStore()
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would create project %q", name)
		return nil
	}

	p := &models.Project{
		Name:                name,
		WorkflowBackend:     projectWorkflow,
		InitialStatusID:     projectInitialStatus,
		CustomerIntegration: projectCustomer,
		SegregateReporters:  projectSegregate,
	}
	if err := s.CreateProject(context.Background(), p); err != nil {
		return fmt.Errorf("create project: %w", err)
	}

	ui.Success("Created project %s (id %d)", name, p.ID)
	return nil
}

func projectListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}

	projects, err := s.ListProjects(context.Background())
	if err != nil {
		return fmt.Errorf("list projects: %w", err)
	}
	if len(projects) == 0 {
		ui.Info("No projects found")
		return nil
	}

	table := ui.Table([]string{"ID", "Name", "Workflow", "Initial Status"})
	for _, p := range projects {
		wfName := p.WorkflowBackend
		if wfName == "" {
			wfName = "-"
		}
		table.Append([]string{
			strconv.FormatInt(p.ID, 10),
			p.Name,
			wfName,
			strconv.FormatInt(p.InitialStatusID, 10),
		})
	}
	return table.Render()
}

func projectWorkflowRun(ref, backend string) error {
	s, err := getStore()
	if err != nil {
		return err
	}

	ctx := context.Background()
	p, err := resolveProject(ctx, s, ref)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would bind workflow %q to project %s", backend, p.Name)
		return nil
	}

	if err := s.SetWorkflowBackend(ctx, p.ID, backend); err != nil {
		return fmt.Errorf("set workflow backend: %w", err)
	}
	if backend == "" {
		ui.Success("Removed workflow binding from %s", p.Name)
	} else {
		ui.Success("Bound workflow %q to %s", backend, p.Name)
	}
	return nil
}

func projectMemberRun(ref, userArg string) error {
	userID, err := strconv.ParseInt(userArg, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid user id: %s", userArg)
	}
	role, err := parseRole(projectRole)
	if err != nil {
		return err
	}

	s, err := getStore()
	if err != nil {
		return err
	}

	ctx := context.Background()
	p, err := resolveProject(ctx, s, ref)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would grant user %d role %s in %s", userID, role, p.Name)
		return nil
	}

	if err := s.SetRole(ctx, p.ID, userID, role); err != nil {
		return fmt.Errorf("set role: %w", err)
	}
	ui.Success("User %d is now %s in %s", userID, role, p.Name)
	return nil
}

func userAddRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would create user %q <%s>", userFullName, userEmail)
		return nil
	}

	u := &models.User{FullName: userFullName, Email: userEmail, Active: true}
	if err := s.CreateUser(context.Background(), u); err != nil {
		return fmt.Errorf("create user: %w", err)
	}

	ui.Success("Created user %s (id %d)", userFullName, u.ID)
	return nil
}
