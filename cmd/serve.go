package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/trkdev/trk/internal/api"
	"github.com/trkdev/trk/internal/daemon"
)

var serveDetach bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the trk API server",
	Long: `Start the HTTP server exposing the issue tracking API.
By default it listens on :8787 and runs in the foreground. Use --detach
to run it in the background; 'trk serve stop' shuts a detached server down.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if serveDetach {
			return serveDetachRun()
		}
		return serveRun(cmd.Context())
	},
}

var serveStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop a detached trk server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStopRun()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.AddCommand(serveStopCmd)

	serveCmd.Flags().BoolVarP(&serveDetach, "detach", "d", false, "Run the server in the background")
	serveCmd.Flags().String("listen", "", "Listen address (default :8787)")
	_ = viper.BindPFlag("listen", serveCmd.Flags().Lookup("listen"))
}

func pidFilePath() string {
	return filepath.Join(viper.GetString("state_dir"), "trk.pid")
}

func serveRun(ctx context.Context) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	mgr, wf, log, err := buildManager(s)
	if err != nil {
		return err
	}

	rec := daemon.New(pidFilePath())
	if pid, alive := rec.Alive(); alive {
		return fmt.Errorf("server already running (pid %d)", pid)
	}
	if err := rec.Capture(); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer func() { _ = rec.Clear() }()

	addr := viper.GetString("listen")
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.NewServer(s, mgr, wf, log).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, shutdownSignals()...)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// serveDetachRun re-executes trk serve in its own session and returns once
// the child is started.
func serveDetachRun() error {
	rec := daemon.New(pidFilePath())
	if pid, alive := rec.Alive(); alive {
		return fmt.Errorf("server already running (pid %d)", pid)
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}

	child := exec.Command(exe, "serve")
	child.Stdout = nil
	child.Stderr = nil
	setDaemonAttrs(child)

	if dryRun {
		ui.DryRunMsg("Would start %s serve in the background", exe)
		return nil
	}
	if err := child.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}

	ui.Success("Server started (pid %d)", child.Process.Pid)
	return nil
}

func serveStopRun() error {
	rec := daemon.New(pidFilePath())
	pid, alive := rec.Alive()
	if !alive {
		_ = rec.Clear()
		return fmt.Errorf("server is not running")
	}

	if dryRun {
		ui.DryRunMsg("Would stop server (pid %d)", pid)
		return nil
	}

	if err := rec.Signal(sigTERM()); err != nil {
		return fmt.Errorf("stop server: %w", err)
	}

	// Give it a moment, then force.
	for i := 0; i < 20; i++ {
		if _, still := rec.Alive(); !still {
			ui.Success("Server stopped (pid %d)", pid)
			return nil
		}
		time.Sleep(250 * time.Millisecond)
	}
	_ = rec.Signal(sigKILL())
	ui.Warning("Server killed after timeout (pid %d)", pid)
	return nil
}
