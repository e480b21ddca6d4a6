package system

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/giok57/lazoooSplash/internal/logging"
)

// ErrCommandsDisabled is returned when remote commands are turned off.
var ErrCommandsDisabled = errors.New("remote commands are disabled")

// TrustedExecutor runs a command string sent by the remote authority.
// Implementations return the command's exit code.
type TrustedExecutor interface {
	ExecuteTrustedCommand(ctx context.Context, cmd string) (int, error)
}

// ShellExecutor runs commands through "<shell> -c".
type ShellExecutor struct {
	shell   string
	timeout time.Duration
	runner  Runner
	logger  *logging.Logger
}

// NewShellExecutor creates an executor. A zero timeout means none.
func NewShellExecutor(shell string, timeout time.Duration, runner Runner) *ShellExecutor {
	if shell == "" {
		shell = "/bin/sh"
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	return &ShellExecutor{
		shell:   shell,
		timeout: timeout,
		runner:  runner,
		logger:  logging.WithComponent("remote-command"),
	}
}

// ExecuteTrustedCommand implements TrustedExecutor.
func (e *ShellExecutor) ExecuteTrustedCommand(ctx context.Context, cmd string) (int, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	e.logger.Audit("remote_command", cmd, map[string]any{"shell": e.shell})
	start := time.Now()
	code, output, err := e.runner.Run(ctx, e.shell, "-c", cmd)
	if err != nil {
		e.logger.Error("remote command did not complete", "error", err, "duration", time.Since(start))
		return code, fmt.Errorf("run remote command: %w", err)
	}
	e.logger.Info("remote command exited", "exit_code", code, "duration", time.Since(start), "output", output)
	return code, nil
}

// DisabledExecutor refuses every command.
type DisabledExecutor struct{}

// ExecuteTrustedCommand implements TrustedExecutor.
func (DisabledExecutor) ExecuteTrustedCommand(_ context.Context, cmd string) (int, error) {
	logging.WithComponent("remote-command").Audit("remote_command_refused", cmd, nil)
	return -1, ErrCommandsDisabled
}
