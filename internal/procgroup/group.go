// Package procgroup runs external tools as the leader of their own process
// group, so stopping one also stops everything it spawned.
package procgroup

import (
	"errors"
	"fmt"
	"os/exec"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
)

// Group is a started command. Wait, Done and Stop may be used from any
// goroutine; the command is reaped exactly once.
type Group struct {
	cmd  *exec.Cmd
	done chan struct{}
	err  error
}

// Start launches cmd in a fresh process group.
func Start(cmd *exec.Cmd) (*Group, error) {
	detach(cmd)
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	g := &Group{cmd: cmd, done: make(chan struct{})}
	go func() {
		g.err = cmd.Wait()
		close(g.done)
	}()
	return g, nil
}

func (g *Group) Pid() int { return g.cmd.Process.Pid }

// Done is closed once the leader has been reaped.
func (g *Group) Done() <-chan struct{} { return g.done }

func (g *Group) Wait() error {
	<-g.done
	return g.err
}

// Stop asks the group to exit with SIGTERM and sends SIGKILL when the leader
// is still alive after grace. It returns the leader's exit error.
func (g *Group) Stop(grace time.Duration) error {
	for _, step := range []struct {
		sig  syscall.Signal
		wait time.Duration
	}{{syscall.SIGTERM, grace}, {syscall.SIGKILL, 0}} {
		select {
		case <-g.done:
			return g.err
		default:
		}
		if err := g.signal(step.sig); err != nil {
			log.Debug().Err(err).Str("module", "procgroup").Int("pid", g.Pid()).Str("signal", step.sig.String()).Msg("signal group")
		}
		if step.wait == 0 {
			break
		}
		select {
		case <-g.done:
			return g.err
		case <-time.After(step.wait):
			log.Warn().Str("module", "procgroup").Int("pid", g.Pid()).Dur("grace", grace).Msg("group ignored SIGTERM")
		}
	}
	return g.Wait()
}

func (g *Group) signal(sig syscall.Signal) error {
	err := signalGroup(g.cmd.Process, sig)
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%s: %w", sig, err)
	}
	return nil
}
