package daemon

import (
	"os/exec"
	"time"

	"github.com/olafkfreund/cconnect/internal/logger"
	"github.com/olafkfreund/cconnect/pkg/cerr"
)

// commandTimeout bounds a peer-triggered command. A runaway command must
// not pin the daemon.
const commandTimeout = 30 * time.Second

// commandRunner executes configured commands for the runcommand plugin.
// Only command lines from the configuration allow-list run; peers address
// them by key and never supply the command text.
type commandRunner struct {
	commands map[string]string
}

func (r *commandRunner) Commands() map[string]string {
	out := make(map[string]string, len(r.commands))
	for k, v := range r.commands {
		out[k] = v
	}
	return out
}

func (r *commandRunner) Run(key string) error {
	line, ok := r.commands[key]
	if !ok {
		return cerr.Newf(cerr.CodeInvalidArgument, "unknown command key %q", key)
	}

	logger.Info("running configured command", "command_key", key)
	cmd := exec.Command("sh", "-c", line)
	if err := cmd.Start(); err != nil {
		return cerr.Wrap(cerr.CodePluginError, "starting command", err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	go func() {
		select {
		case err := <-done:
			if err != nil {
				logger.Warn("configured command failed",
					"command_key", key, logger.KeyError, err)
			}
		case <-time.After(commandTimeout):
			logger.Warn("configured command timed out, killing", "command_key", key)
			cmd.Process.Kill() //nolint:errcheck
		}
	}()
	return nil
}
