//go:build !unix

package procgroup

import (
	"os"
	"os/exec"
	"syscall"
)

func detach(*exec.Cmd) {}

// Without process groups only the leader can be stopped, and only by kill.
func signalGroup(p *os.Process, sig syscall.Signal) error {
	if sig != syscall.SIGKILL {
		return nil
	}
	return p.Kill()
}
