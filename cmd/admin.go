package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/trkdev/trk/internal/models"
)

var (
	accountType       string
	accountHost       string
	accountPort       int
	accountFolder     string
	accountUser       string
	accountPassword   string
	accountAutoCreate bool

	filterPattern     string
	filterReplacement string
	filterDescription string
	filterMinRole     string
)

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Administer email accounts and link filters",
}

var accountCmd = &cobra.Command{
	Use:   "email-account",
	Short: "Manage inbound email accounts",
	RunE: func(cmd *cobra.Command, args []string) error {
		return accountListRun()
	},
}

var accountAddCmd = &cobra.Command{
	Use:   "add <project>",
	Short: "Add an email account to a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return accountAddRun(args[0])
	},
}

var accountListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List email accounts",
	RunE: func(cmd *cobra.Command, args []string) error {
		return accountListRun()
	},
}

var accountRemoveCmd = &cobra.Command{
	Use:     "remove <id>",
	Aliases: []string{"rm"},
	Short:   "Remove an email account",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return accountRemoveRun(args[0])
	},
}

var filterCmd = &cobra.Command{
	Use:   "link-filter",
	Short: "Manage link filters",
	RunE: func(cmd *cobra.Command, args []string) error {
		return filterListRun()
	},
}

var filterAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a link filter",
	Long:  "Add a link filter. --project 0 applies it to every project.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return filterAddRun()
	},
}

var filterListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List link filters",
	RunE: func(cmd *cobra.Command, args []string) error {
		return filterListRun()
	},
}

var filterRemoveCmd = &cobra.Command{
	Use:     "remove <id>",
	Aliases: []string{"rm"},
	Short:   "Remove a link filter",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return filterRemoveRun(args[0])
	},
}

func init() {
	accountAddCmd.Flags().StringVar(&accountType, "type", "imap", "Account type: imap or pop3")
	accountAddCmd.Flags().StringVar(&accountHost, "host", "", "Mail server hostname (required)")
	accountAddCmd.Flags().IntVar(&accountPort, "port", 993, "Mail server port")
	accountAddCmd.Flags().StringVar(&accountFolder, "folder", "INBOX", "IMAP folder")
	accountAddCmd.Flags().StringVar(&accountUser, "username", "", "Account username")
	accountAddCmd.Flags().StringVar(&accountPassword, "password", "", "Account password")
	accountAddCmd.Flags().BoolVar(&accountAutoCreate, "auto-create", false, "Create issues from unmatched mail")
	_ = accountAddCmd.MarkFlagRequired("host")

	filterAddCmd.Flags().Int64VarP(&issueProject, "project", "p", 0, "Project id (0 = all projects)")
	filterAddCmd.Flags().StringVar(&filterPattern, "pattern", "", "Regex pattern to match (required)")
	filterAddCmd.Flags().StringVar(&filterReplacement, "replacement", "", "Replacement markup (required)")
	filterAddCmd.Flags().StringVar(&filterDescription, "description", "", "Human readable description")
	filterAddCmd.Flags().StringVar(&filterMinRole, "min-role", "viewer", "Minimum role that sees the links")
	_ = filterAddCmd.MarkFlagRequired("pattern")
	_ = filterAddCmd.MarkFlagRequired("replacement")

	accountCmd.AddCommand(accountAddCmd)
	accountCmd.AddCommand(accountListCmd)
	accountCmd.AddCommand(accountRemoveCmd)
	filterCmd.AddCommand(filterAddCmd)
	filterCmd.AddCommand(filterListCmd)
	filterCmd.AddCommand(filterRemoveCmd)
	adminCmd.AddCommand(accountCmd)
	adminCmd.AddCommand(filterCmd)
	rootCmd.AddCommand(adminCmd)
}

func accountAddRun(ref string) error {
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
		ui.DryRunMsg("Would add %s account %s to %s", accountType, accountHost, p.Name)
		return nil
	}

	a := &models.EmailAccount{
		ProjectID:         p.ID,
		Type:              accountType,
		Hostname:          accountHost,
		Port:              accountPort,
		Folder:            accountFolder,
		Username:          accountUser,
		Password:          accountPassword,
		IssueAutoCreation: accountAutoCreate,
	}
	if err := s.CreateEmailAccount(ctx, a); err != nil {
		return fmt.Errorf("create email account: %w", err)
	}

	ui.Success("Added account %s for %s (id %d)", accountHost, p.Name, a.ID)
	return nil
}

func accountListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}

	accounts, err := s.ListEmailAccounts(context.Background())
	if err != nil {
		return fmt.Errorf("list email accounts: %w", err)
	}
	if len(accounts) == 0 {
		ui.Info("No email accounts configured")
		return nil
	}

	table := ui.Table([]string{"ID", "Project", "Type", "Host", "Username", "Auto-Create"})
	for _, a := range accounts {
		table.Append([]string{
			strconv.FormatInt(a.ID, 10),
			strconv.FormatInt(a.ProjectID, 10),
			a.Type,
			fmt.Sprintf("%s:%d", a.Hostname, a.Port),
			a.Username,
			strconv.FormatBool(a.IssueAutoCreation),
		})
	}
	return table.Render()
}

func accountRemoveRun(arg string) error {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid account id: %s", arg)
	}
	s, err := getStore()
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would remove email account %d", id)
		return nil
	}

	if err := s.DeleteEmailAccount(context.Background(), id); err != nil {
		return fmt.Errorf("delete email account: %w", err)
	}
	ui.Success("Removed email account %d", id)
	return nil
}

func filterAddRun() error {
	role, err := parseRole(filterMinRole)
	if err != nil {
		return err
	}
	s, err := getStore()
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would add link filter %q", filterPattern)
		return nil
	}

	f := &models.LinkFilter{
		ProjectID:   issueProject,
		Pattern:     filterPattern,
		Replacement: filterReplacement,
		Description: filterDescription,
		MinRole:     role,
	}
	if err := s.CreateLinkFilter(context.Background(), f); err != nil {
		return fmt.Errorf("create link filter: %w", err)
	}

	ui.Success("Added link filter %d", f.ID)
	return nil
}

func filterListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}

	filters, err := s.ListLinkFilters(context.Background())
	if err != nil {
		return fmt.Errorf("list link filters: %w", err)
	}
	if len(filters) == 0 {
		ui.Info("No link filters configured")
		return nil
	}

	table := ui.Table([]string{"ID", "Project", "Pattern", "Min Role", "Description"})
	for _, f := range filters {
		scope := strconv.FormatInt(f.ProjectID, 10)
		if f.ProjectID == 0 {
			scope = "all"
		}
		table.Append([]string{
			strconv.FormatInt(f.ID, 10),
			scope,
			f.Pattern,
			f.MinRole.String(),
			f.Description,
		})
	}
	return table.Render()
}

func filterRemoveRun(arg string) error {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid filter id: %s", arg)
	}
	s, err := getStore()
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would remove link filter %d", id)
		return nil
	}

	if err := s.DeleteLinkFilter(context.Background(), id); err != nil {
		return fmt.Errorf("delete link filter: %w", err)
	}
	ui.Success("Removed link filter %d", id)
	return nil
}
