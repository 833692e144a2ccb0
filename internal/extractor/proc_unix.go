//go:build !windows

package extractor

import (
	"os/exec"
	"syscall"
)

// setSysProcAttr puts the subprocess in its own process group so
// killProcessGroup can signal it and every descendant (e.g. a merge
// step's ffmpeg child) together.
func setSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killProcessGroup sends SIGKILL to the subprocess's whole process
// group. Falls back to killing just the process if the group lookup
// fails (e.g. it already exited).
func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	pgid, err := syscall.Getpgid(cmd.Process.Pid)
	if err != nil {
		return cmd.Process.Kill()
	}
	return syscall.Kill(-pgid, syscall.SIGKILL)
}
