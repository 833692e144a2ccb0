//go:build windows

package extractor

import (
	"os/exec"
	"syscall"
)

// setSysProcAttr hides the console window and puts the subprocess in a
// new process group, matching the teacher's proc_windows.go plus the
// group flag killProcessGroup needs.
func setSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		HideWindow:    true,
		CreationFlags: 0x08000000 | 0x00000200, // CREATE_NO_WINDOW | CREATE_NEW_PROCESS_GROUP
	}
}

// killProcessGroup kills the subprocess. Windows process-group signals
// are not as uniform as POSIX SIGKILL; a direct Process.Kill is what
// the teacher's code does and is sufficient since yt-dlp's ffmpeg child
// is itself killed when its stdin pipe (inherited from this process)
// closes.
func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
