//go:build !windows

package runner

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// setProcessGroup puts the child in its own process group so kill
// signals reach the whole pipeline, not just the leader.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// signalGroup delivers sig to the child's process group, falling back
// to the process itself when the group is gone.
func signalGroup(pid int, sig unix.Signal) {
	if pid <= 0 {
		return
	}
	if err := unix.Kill(-pid, sig); err != nil {
		unix.Kill(pid, sig)
	}
}

func terminateProcess(pid int) { signalGroup(pid, unix.SIGTERM) }
func killProcess(pid int)      { signalGroup(pid, unix.SIGKILL) }
