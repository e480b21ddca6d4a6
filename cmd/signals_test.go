//go:build unix

package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const signalHelperEnv = "LAZOOSPLASH_SIGNAL_HELPER"

// signalHelper mimics RunGateway's shutdown: teardown is slow enough for a
// second SIGTERM to land while it is pending.
func signalHelper() {
	ctx, cancel := context.WithCancel(context.Background())
	var once sync.Once
	teardown := func() { once.Do(func() { fmt.Println("teardown") }) }

	w := watchSignals(cancel, nil)
	w.OnRepeat(teardown)
	fmt.Println("ready")

	<-ctx.Done()
	fmt.Println("stopping")
	time.Sleep(time.Second)
	teardown()
	w.Stop()
	fmt.Println("exited")
	os.Exit(0)
}

func TestSignalWatcher_SecondTerminationDuringShutdown(t *testing.T) {
	if os.Getenv(signalHelperEnv) == "1" {
		signalHelper()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, os.Args[0], "-test.run=^TestSignalWatcher_SecondTerminationDuringShutdown$")
	cmd.Env = append(os.Environ(), signalHelperEnv+"=1")
	stdout, err := cmd.StdoutPipe()
	require.NoError(t, err)
	require.NoError(t, cmd.Start())

	var lines []string
	sc := bufio.NewScanner(stdout)
	for sc.Scan() {
		line := sc.Text()
		lines = append(lines, line)
		if line == "ready" || line == "stopping" {
			require.NoError(t, cmd.Process.Signal(syscall.SIGTERM))
		}
	}

	require.NoError(t, cmd.Wait(), "output: %v", lines)
	assert.Equal(t, []string{"ready", "stopping", "teardown", "exited"}, lines)
}

func TestSignalWatcher_ReloadOnHangup(t *testing.T) {
	reloaded := make(chan struct{}, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := watchSignals(cancel, func() { reloaded <- struct{}{} })
	defer w.Stop()

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGHUP))
	select {
	case <-reloaded:
	case <-time.After(5 * time.Second):
		t.Fatal("SIGHUP did not reload")
	}
	assert.NoError(t, ctx.Err(), "SIGHUP does not stop the gateway")
}
