package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/marimax/cloudanchor/internal/config"
	"github.com/marimax/cloudanchor/internal/controlplane"
	"github.com/marimax/cloudanchor/internal/logging"
	"github.com/marimax/cloudanchor/internal/tui"
)

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Launch the interactive TUI",
	RunE:  runTUI,
}

var startDaemonFlag bool

func init() {
	tuiCmd.Flags().BoolVar(&startDaemonFlag, "start-daemon", true, "Start a background daemon when a shared backend is not reachable")
}

func runTUI(cmd *cobra.Command, args []string) error {
	var daemon *controlplane.Client
	if backendName != "local" {
		daemon = controlplane.NewClient(cfg.DaemonAPIAddr())

		// 1. Check if Daemon is running
		if startDaemonFlag && !isDaemonRunning(daemon) {
			fmt.Println("Daemon not running. Starting background service...")
			if err := startDaemon(daemon); err != nil {
				return fmt.Errorf("failed to start daemon: %w", err)
			}
		}
	}

	// The TUI owns the terminal.
	logPath := filepath.Join(config.Dir(), "tui.log")
	fileLog, err := logging.NewFile(cfg.Log.Level, cfg.Log.Development, logPath)
	if err != nil {
		return err
	}
	logging.Sync(logger)
	logger = fileLog
	logger.Info("TUI starting", "backend", backendName, "log", logPath)

	c, err := openComponents()
	if err != nil {
		return err
	}
	defer c.close()

	session := c.newSession(cfg.Simulated, nil)
	opts := tui.Options{
		Backend:       backendName,
		FrameInterval: cfg.Frame.GetFrameInterval(),
	}
	if daemon != nil {
		opts.Daemon = daemon
	}

	// 2. Launch TUI
	app := tui.New(cmd.Context(), session, opts)
	if err := app.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

func isDaemonRunning(daemon *controlplane.Client) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	health, err := daemon.Health(ctx)
	return err == nil && health.OK
}

func startDaemon(daemon *controlplane.Client) error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}

	// Start "cloudanchor daemon" in background with the same config
	cmd := exec.Command(exe, "daemon", "--config", configPath)
	// Detach process so it survives TUI exit
	configureDaemonProc(cmd)

	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return err
	}

	// Wait for it to become ready
	fmt.Print("   Waiting for daemon...")
	for i := 0; i < 20; i++ { // Wait up to 5 seconds
		if isDaemonRunning(daemon) {
			fmt.Println(" Done.")
			return nil
		}
		time.Sleep(250 * time.Millisecond)
		fmt.Print(".")
	}
	fmt.Println(" Timeout!")
	return fmt.Errorf("daemon started but API not reachable at %s", daemon.BaseURL())
}
