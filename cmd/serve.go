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

	"github.com/joescharf/revy/internal/api"
	"github.com/joescharf/revy/internal/daemon"
	"github.com/joescharf/revy/internal/webhook"
	"github.com/joescharf/revy/internal/worker"
)

// shutdownGrace bounds graceful HTTP shutdown and worker draining.
const shutdownGrace = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook and REST API server",
	Long: `Run the revy HTTP server in the foreground.

The server accepts GitHub webhooks on /webhook/github and the REST API on
/api/v1. Use 'revy serve start' to run it in the background.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveRun(cmd.Context())
	},
}

var serveStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the server in the background",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStartRun()
	},
}

var serveStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the background server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStopRun()
	},
}

var serveStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the background server is running",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStatusRun()
	},
}

func init() {
	serveCmd.AddCommand(serveStartCmd)
	serveCmd.AddCommand(serveStopCmd)
	serveCmd.AddCommand(serveStatusCmd)
	rootCmd.AddCommand(serveCmd)

	serveCmd.PersistentFlags().IntP("port", "p", 8000, "port to listen on")
	_ = viper.BindPFlag("server.port", serveCmd.PersistentFlags().Lookup("port"))
}

func pidFile() *daemon.PIDFile {
	return daemon.NewPIDFile(filepath.Join(viper.GetString("state_dir"), "revy-serve.pid"))
}

func serveLogPath() string {
	return filepath.Join(viper.GetString("state_dir"), "revy-serve.log")
}

func serveRun(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s, err := getStore()
	if err != nil {
		return err
	}
	svc, err := newReviewService(ctx)
	if err != nil {
		return err
	}

	pf := pidFile()
	if err := pf.Acquire(os.Getpid()); err != nil {
		return err
	}
	defer func() { _ = pf.Release(os.Getpid()) }()

	pool := worker.NewPool(viper.GetInt("worker.count"), viper.GetInt("worker.queue_size"), logger)
	pool.Start()

	secret := viper.GetString("server.webhook_secret")
	if secret == "" {
		logger.Warn("server.webhook_secret is empty, webhook signatures are not verified")
	}
	hooks := webhook.NewHandler(s, svc, pool, secret, logger)

	addr := fmt.Sprintf(":%d", viper.GetInt("server.port"))
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.NewServer(s, svc, hooks, logger).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, shutdownSignals()...)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", addr, "version", buildVersion)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			_ = pool.Shutdown(context.Background())
			return fmt.Errorf("listen %s: %w", addr, err)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	if err := pool.Shutdown(shutdownCtx); err != nil {
		logger.Warn("worker shutdown", "error", err)
	}
	return nil
}

func serveStartRun() error {
	pf := pidFile()
	if pid, running := pf.IsRunning(); running {
		return fmt.Errorf("server already running (PID %d)", pid)
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("find executable: %w", err)
	}
	args := []string{"serve", "--port", fmt.Sprintf("%d", viper.GetInt("server.port"))}
	if cfg := viper.ConfigFileUsed(); cfg != "" {
		args = append(args, "--config", cfg)
	}

	if dryRun {
		ui.DryRunMsg("Would run: %s %v (log: %s)", exe, args, serveLogPath())
		return nil
	}

	if err := os.MkdirAll(viper.GetString("state_dir"), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	logFile, err := os.OpenFile(serveLogPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()

	child := exec.Command(exe, args...)
	child.Stdout = logFile
	child.Stderr = logFile
	setDaemonAttrs(child)
	if err := child.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	if err := pf.WritePID(child.Process.Pid); err != nil {
		return err
	}
	_ = child.Process.Release()

	ui.Success("Server started (PID %d) on port %d", child.Process.Pid, viper.GetInt("server.port"))
	ui.Info("Logs: %s", serveLogPath())
	return nil
}

func serveStopRun() error {
	pid, err := pidFile().Stop(shutdownGrace)
	if errors.Is(err, daemon.ErrNotRunning) {
		return fmt.Errorf("server not running")
	}
	if err != nil {
		return err
	}
	ui.Success("Server stopped (PID %d)", pid)
	return nil
}

func serveStatusRun() error {
	pid, running := pidFile().IsRunning()
	if !running {
		ui.Info("Server not running")
		return nil
	}
	ui.Success("Server running (PID %d)", pid)
	ui.Info("Logs: %s", serveLogPath())
	return nil
}
