package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/trkdev/trk/internal/issue"
	"github.com/trkdev/trk/internal/logging"
	"github.com/trkdev/trk/internal/notify"
	"github.com/trkdev/trk/internal/output"
	"github.com/trkdev/trk/internal/store"
	"github.com/trkdev/trk/internal/workflow"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	dataStore store.Store

	verbose bool
	dryRun  bool

	buildVersion string
	buildCommit  string
	buildDate    string
)

var rootCmd = &cobra.Command{
	Use:   "trk",
	Short: "trk - issue tracking and helpdesk server",
	Long: `trk tracks support issues across projects.
It manages the issue lifecycle, per-project workflow hooks, assignment
rules, and the notification lists that keep subscribers in the loop.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&dryRun, "dry-run", "n", false, "Show what would happen without making changes")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/trk/config.yaml)")

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "trk %s (commit %s, built %s)\n", buildVersion, buildCommit, buildDate)
	},
}

func initConfig() {
	// If --config is explicitly set, use that file
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}

		configDir := filepath.Join(home, ".config", "trk")
		viper.AddConfigPath(configDir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("TRK")
	viper.AutomaticEnv()

	// Defaults via viper.SetDefault()
	home, _ := os.UserHomeDir()
	defaultConfigDir := filepath.Join(home, ".config", "trk")

	viper.SetDefault("state_dir", defaultConfigDir)
	viper.SetDefault("db_path", filepath.Join(defaultConfigDir, "trk.db"))
	viper.SetDefault("listen", ":8787")
	viper.SetDefault("log_mode", "dev")
	viper.SetDefault("actor_id", 1)
	viper.SetDefault("workflow.reopen_status_id", 0)
	viper.SetDefault("workflow.internal_domains", []string{})

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose
	ui.DryRun = dryRun

	// The store opens lazily so config and version commands run without
	// touching the database.
}

// getStore returns the shared store, initializing it on first call.
func getStore() (store.Store, error) {
	if dataStore != nil {
		return dataStore, nil
	}

	dbPath := viper.GetString("db_path")
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := s.Migrate(rootCmd.Context()); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	dataStore = s
	return dataStore, nil
}

// getLogger builds the shared zap logger per configuration.
func getLogger() (*zap.Logger, error) {
	mode := viper.GetString("log_mode")
	if verbose {
		mode = "dev"
	}
	return logging.New(mode)
}

// buildManager wires the dispatcher, notifier, and issue manager on top of
// the store. Workflow backends available to projects are registered here.
func buildManager(s store.Store) (*issue.Manager, *workflow.Dispatcher, *zap.Logger, error) {
	log, err := getLogger()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("build logger: %w", err)
	}

	wf := workflow.NewDispatcher(s, log)
	wf.Register("example", &workflow.ExampleBackend{
		Store:           s,
		ReopenStatusID:  viper.GetInt64("workflow.reopen_status_id"),
		InternalDomains: viper.GetStringSlice("workflow.internal_domains"),
	})

	notifier := notify.NewMailNotifier(s, wf, log)
	return issue.NewManager(s, wf, notifier, log), wf, log, nil
}

// actorID is the user id commands act as, from config or TRK_ACTOR_ID.
func actorID() int64 {
	return viper.GetInt64("actor_id")
}
