//go:build !windows

package shellexec

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// posixAdapter launches children under "sh -c" in their own process
// group, grounded on the Setpgid pattern in the teacher's
// internal/sandbox/linux.go (golang.org/x/sys/unix usage).
type posixAdapter struct{}

func newPlatformAdapter() Adapter {
	return posixAdapter{}
}

func (posixAdapter) ShellConfig() (string, []string, error) {
	return "sh", []string{"-c"}, nil
}

func (posixAdapter) SetProcessGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

// KillProcessTree sends SIGKILL to the negative pid (the process group)
// first, falling back to the bare pid if the group kill fails. Already-dead
// processes (ESRCH) are treated as success so double-kill is harmless.
func (posixAdapter) KillProcessTree(pid int) error {
	if pid <= 0 {
		return nil
	}
	err := unix.Kill(-pid, unix.SIGKILL)
	if err == nil || err == unix.ESRCH {
		return nil
	}
	err = unix.Kill(pid, unix.SIGKILL)
	if err == nil || err == unix.ESRCH {
		return nil
	}
	return err
}
