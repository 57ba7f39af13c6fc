package commands

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/olafkfreund/cconnect/internal/logger"
	"github.com/olafkfreund/cconnect/pkg/config"
	"github.com/olafkfreund/cconnect/pkg/daemon"
)

var (
	foreground  bool
	pidFile     string
	logFile     string
	withMetrics bool
	dumpPackets bool
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the cconnect daemon",
	Long: `Start the cconnect daemon with the specified configuration.

By default, the daemon runs in the background. Use --foreground to run in
the foreground for debugging or when managed by a process supervisor.

Use --config to specify a custom configuration file, or it will use the
default location at $XDG_CONFIG_HOME/cconnect/config.yaml.

Examples:
  # Start in background (default)
  cconnectd start

  # Start in foreground with packet dumping
  cconnectd start --foreground --dump-packets

  # Start with metrics regardless of the config file
  cconnectd start --metrics

  # Start with environment variable overrides
  CCONNECT_LOGGING_LEVEL=DEBUG cconnectd start --foreground`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().BoolVarP(&foreground, "foreground", "f", false, "Run in foreground (default: background/daemon mode)")
	startCmd.Flags().StringVar(&pidFile, "pid-file", "", "Path to PID file (default: $XDG_STATE_HOME/cconnect/cconnectd.pid)")
	startCmd.Flags().StringVar(&logFile, "log-file", "", "Path to log file for daemon mode (default: $XDG_STATE_HOME/cconnect/cconnectd.log)")
	startCmd.Flags().BoolVar(&withMetrics, "metrics", false, "Enable Prometheus metrics regardless of configuration")
	startCmd.Flags().BoolVar(&dumpPackets, "dump-packets", false, "Log every control packet sent and received")
}

func runStart(cmd *cobra.Command, args []string) error {
	if !foreground {
		return startDaemon()
	}

	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return err
	}
	if withMetrics {
		cfg.Metrics.Enabled = true
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("Log level", "level", cfg.Logging.Level, "format", cfg.Logging.Format)
	logger.Info("Configuration loaded", "source", getConfigSource(GetConfigFile()))
	if cfg.Metrics.Enabled {
		logger.Info("Metrics enabled")
	} else {
		logger.Info("Metrics collection disabled")
	}

	d := daemon.New(cfg, daemon.Options{
		ConfigPath:  GetConfigFile(),
		Version:     Version,
		DumpPackets: dumpPackets,
	})

	if pidFile != "" {
		if err := os.WriteFile(pidFile, []byte(fmt.Sprintf("%d", os.Getpid())), 0644); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		defer func() { _ = os.Remove(pidFile) }()
	}

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- d.Run(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Daemon is running. Press Ctrl+C to stop.")

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("Shutdown signal received, initiating graceful shutdown")
		cancel()

		if err := <-serverDone; err != nil {
			logger.Error("Daemon shutdown error", logger.KeyError, err)
			return err
		}
		logger.Info("Daemon stopped gracefully")

	case err := <-serverDone:
		signal.Stop(sigChan)
		if err != nil {
			logger.Error("Daemon error", logger.KeyError, err)
			return err
		}
		logger.Info("Daemon stopped")
	}

	return nil
}

// startDaemon re-executes this binary in the background, detached from the
// terminal, logging to a file.
func startDaemon() error {
	stateDir := GetDefaultStateDir()
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	pidPath := pidFile
	if pidPath == "" {
		pidPath = GetDefaultPidFile()
	}

	// Refuse to start a second instance.
	if _, err := os.Stat(pidPath); err == nil {
		pidData, err := os.ReadFile(pidPath)
		if err == nil {
			var pid int
			if _, err := fmt.Sscanf(string(pidData), "%d", &pid); err == nil {
				if process, err := os.FindProcess(pid); err == nil {
					if err := process.Signal(syscall.Signal(0)); err == nil {
						return fmt.Errorf("cconnectd is already running (PID %d)", pid)
					}
				}
			}
		}
		// Stale PID file, remove it
		_ = os.Remove(pidPath)
	}

	logPath := logFile
	if logPath == "" {
		logPath = GetDefaultLogFile()
	}

	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	daemonArgs := []string{"start", "--foreground", "--pid-file", pidPath}
	if GetConfigFile() != "" {
		daemonArgs = append(daemonArgs, "--config", GetConfigFile())
	}
	if withMetrics {
		daemonArgs = append(daemonArgs, "--metrics")
	}
	if dumpPackets {
		daemonArgs = append(daemonArgs, "--dump-packets")
	}

	cmd := exec.Command(executable, daemonArgs...)

	logFileHandle, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	cmd.Stdout = logFileHandle
	cmd.Stderr = logFileHandle

	// Detach from parent process
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}

	if err := cmd.Start(); err != nil {
		_ = logFileHandle.Close()
		return fmt.Errorf("failed to start daemon: %w", err)
	}
	_ = logFileHandle.Close()

	fmt.Printf("cconnectd started in background (PID %d)\n", cmd.Process.Pid)
	fmt.Printf("  PID file: %s\n", pidPath)
	fmt.Printf("  Log file: %s\n", logPath)

	return nil
}
