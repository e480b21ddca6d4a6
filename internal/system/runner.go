package system

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"
)

// maxCapturedOutput bounds how much child output is kept for logging.
const maxCapturedOutput = 4096

// Runner starts a process and waits for it.
type Runner interface {
	// Run returns the exit code. err is non-nil only when the process
	// could not be started or was killed.
	Run(ctx context.Context, name string, args ...string) (code int, output string, err error)
}

// ExecRunner runs processes with os/exec. Every child is waited for.
type ExecRunner struct{}

// Run implements Runner.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) (int, string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	out := &cappedBuffer{limit: maxCapturedOutput}
	cmd.Stdout = out
	cmd.Stderr = out
	// Grandchildren may hold the output pipes after a kill.
	cmd.WaitDelay = 2 * time.Second

	err := cmd.Run()
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return 0, out.String(), nil
	case ctx.Err() != nil:
		return -1, out.String(), ctx.Err()
	case errors.As(err, &exitErr):
		return exitErr.ExitCode(), out.String(), nil
	default:
		return -1, out.String(), err
	}
}

type cappedBuffer struct {
	buf   bytes.Buffer
	limit int
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	if room := c.limit - c.buf.Len(); room > 0 {
		if len(p) > room {
			c.buf.Write(p[:room])
		} else {
			c.buf.Write(p)
		}
	}
	return len(p), nil
}

func (c *cappedBuffer) String() string {
	return c.buf.String()
}
