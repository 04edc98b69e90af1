// Package shellexec resolves the command interpreter and the recursive
// process-tree kill primitive for the host OS, so the supervisor never
// has to branch on runtime.GOOS itself.
package shellexec

import (
	"os/exec"

	"github.com/ehrlich-b/streambash/internal/bgerrors"
)

// Adapter is the platform shell contract: resolve an interpreter and its
// command-string flag, start children in their own process group where
// the OS supports it, and kill an entire process tree by pid.
type Adapter interface {
	// ShellConfig returns the interpreter path and the flags that precede
	// the composed command string (e.g. "sh", []string{"-c"}).
	ShellConfig() (interpreter string, argPrefix []string, err error)

	// SetProcessGroup arranges for cmd, once started, to be killable as a
	// whole tree via KillProcessTree.
	SetProcessGroup(cmd *exec.Cmd)

	// KillProcessTree terminates pid and its descendants. Idempotent: it
	// must not return an error for an already-dead process.
	KillProcessTree(pid int) error
}

// New returns the Adapter for the running OS.
func New() Adapter {
	return newPlatformAdapter()
}

// BuildCommand composes a single command string for the shell, as required
// by spec: the interpreter is always invoked with one composed string as
// its final argument, never a parsed argv.
func BuildCommand(a Adapter, command string) (name string, args []string, err error) {
	interpreter, prefix, err := a.ShellConfig()
	if err != nil {
		return "", nil, err
	}
	if interpreter == "" {
		return "", nil, &bgerrors.ShellNotFoundError{}
	}
	args = append(append([]string{}, prefix...), command)
	return interpreter, args, nil
}
