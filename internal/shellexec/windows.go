//go:build windows

package shellexec

import (
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/ehrlich-b/streambash/internal/bgerrors"
)

// windowsAdapter prefers a user-configured POSIX-compatible shell (Git
// Bash and friends) over cmd.exe, since commands are composed as a single
// "sh -c"-style string.
type windowsAdapter struct{}

func newPlatformAdapter() Adapter {
	return windowsAdapter{}
}

// candidateShells are the well-known install locations for a POSIX shell
// on Windows, checked in order after the STREAMBASH_SHELL override.
func candidateShells() []string {
	programFiles := os.Getenv("ProgramFiles")
	programFilesX86 := os.Getenv("ProgramFiles(x86)")
	var out []string
	for _, base := range []string{programFiles, programFilesX86} {
		if base == "" {
			continue
		}
		out = append(out, filepath.Join(base, "Git", "bin", "bash.exe"))
		out = append(out, filepath.Join(base, "Git", "usr", "bin", "bash.exe"))
	}
	return out
}

func (windowsAdapter) ShellConfig() (string, []string, error) {
	if override := os.Getenv("STREAMBASH_SHELL"); override != "" {
		if _, err := os.Stat(override); err == nil {
			return override, []string{"-c"}, nil
		}
	}
	searched := candidateShells()
	for _, path := range searched {
		if _, err := os.Stat(path); err == nil {
			return path, []string{"-c"}, nil
		}
	}
	return "", nil, &bgerrors.ShellNotFoundError{Searched: searched}
}

func (windowsAdapter) SetProcessGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.CreationFlags = syscall.CREATE_NEW_PROCESS_GROUP
}

// KillProcessTree delegates to the platform tree-kill utility (taskkill),
// spawned detached, as spec.md requires for Windows. Already-dead
// processes are reported by taskkill as a non-zero exit but that is not
// surfaced as an error: the contract is idempotent.
func (windowsAdapter) KillProcessTree(pid int) error {
	if pid <= 0 {
		return nil
	}
	cmd := exec.Command("taskkill", "/T", "/F", "/PID", strconv.Itoa(pid))
	cmd.SysProcAttr = &syscall.SysProcAttr{HideWindow: true}
	if err := cmd.Start(); err == nil {
		go func() { _ = cmd.Wait() }()
	}
	return nil
}
