//go:build linux

package procgroup

import (
	"os/exec"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, script string) *Group {
	t.Helper()
	g, err := Start(exec.Command("sh", "-c", script))
	require.NoError(t, err)
	return g
}

func exitSignal(t *testing.T, err error) syscall.Signal {
	t.Helper()
	var exitErr *exec.ExitError
	require.ErrorAs(t, err, &exitErr)
	status, ok := exitErr.Sys().(syscall.WaitStatus)
	require.True(t, ok)
	require.True(t, status.Signaled())
	return status.Signal()
}

func TestGroup_LeadsOwnGroup(t *testing.T) {
	g := run(t, "sleep 30")
	defer func() { _ = g.Stop(time.Second) }()

	pgid, err := syscall.Getpgid(g.Pid())
	require.NoError(t, err)
	assert.Equal(t, g.Pid(), pgid)
}

func TestGroup_StopTerminatesChildren(t *testing.T) {
	g := run(t, "sleep 30 & sleep 30")
	assert.Equal(t, syscall.SIGTERM, exitSignal(t, g.Stop(time.Second)))
	assert.Equal(t, syscall.SIGTERM, exitSignal(t, g.Wait()), "Wait repeats the exit error")
}

func TestGroup_StopEscalatesToKill(t *testing.T) {
	g := run(t, "trap '' TERM; while true; do sleep 0.05; done")
	time.Sleep(100 * time.Millisecond)

	began := time.Now()
	err := g.Stop(100 * time.Millisecond)
	assert.GreaterOrEqual(t, time.Since(began), 100*time.Millisecond)
	assert.Equal(t, syscall.SIGKILL, exitSignal(t, err))
}

func TestGroup_StopAfterExit(t *testing.T) {
	g := run(t, "exit 3")
	<-g.Done()

	var exitErr *exec.ExitError
	require.ErrorAs(t, g.Stop(time.Second), &exitErr)
	assert.Equal(t, 3, exitErr.ExitCode())
}

func TestStart_MissingBinary(t *testing.T) {
	_, err := Start(exec.Command("/nonexistent/tool"))
	assert.Error(t, err)
}
