package supervisor_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ehrlich-b/streambash/internal/bgerrors"
	"github.com/ehrlich-b/streambash/internal/registry"
	"github.com/ehrlich-b/streambash/internal/session"
	"github.com/ehrlich-b/streambash/internal/shellexec"
	"github.com/ehrlich-b/streambash/internal/supervisor"
)

func TestStartRejectsMissingCommand(t *testing.T) {
	reg := registry.New(registry.DefaultTTL)
	defer reg.Close()
	sv := supervisor.New(reg, shellexec.New())

	_, err := sv.Start(context.Background(), supervisor.Request{})
	if !errors.Is(err, bgerrors.ErrMissingCommand) {
		t.Fatalf("err = %v, want ErrMissingCommand", err)
	}
}

func TestStartRejectsUnsupportedStdinMode(t *testing.T) {
	reg := registry.New(registry.DefaultTTL)
	defer reg.Close()
	sv := supervisor.New(reg, shellexec.New())

	_, err := sv.Start(context.Background(), supervisor.Request{
		Command:   "true",
		StdinMode: "pty",
	})
	if !errors.Is(err, bgerrors.ErrUnsupportedStdinMode) {
		t.Fatalf("err = %v, want ErrUnsupportedStdinMode", err)
	}
}

func TestStartCompletesFastCommandWithoutYielding(t *testing.T) {
	reg := registry.New(registry.DefaultTTL)
	defer reg.Close()
	sv := supervisor.New(reg, shellexec.New())

	outcome, err := sv.Start(context.Background(), supervisor.Request{
		Command: "exit 0",
		YieldMs: 5000,
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if outcome.Status != session.Completed {
		t.Fatalf("status = %v, want Completed", outcome.Status)
	}
	if outcome.ExitCode == nil || *outcome.ExitCode != 0 {
		t.Fatalf("exit code = %v, want 0", outcome.ExitCode)
	}
	if outcome.Aggregated != "(no output)" {
		t.Fatalf("aggregated = %q, want (no output)", outcome.Aggregated)
	}
}

func TestStartNonZeroExitIsCommandFailed(t *testing.T) {
	reg := registry.New(registry.DefaultTTL)
	defer reg.Close()
	sv := supervisor.New(reg, shellexec.New())

	_, err := sv.Start(context.Background(), supervisor.Request{
		Command: "echo oops 1>&2; exit 3",
		YieldMs: 5000,
	})
	var cfe *bgerrors.CommandFailedError
	if !errors.As(err, &cfe) {
		t.Fatalf("err = %v, want *CommandFailedError", err)
	}
	if cfe.ExitCode == nil || *cfe.ExitCode != 3 {
		t.Fatalf("exit code = %v, want 3", cfe.ExitCode)
	}
}

func TestYieldTokenYieldsImmediately(t *testing.T) {
	reg := registry.New(registry.DefaultTTL)
	defer reg.Close()
	sv := supervisor.New(reg, shellexec.New())

	yieldCh := make(chan struct{})
	close(yieldCh)

	outcome, err := sv.Start(context.Background(), supervisor.Request{
		Command:    "sleep 1",
		YieldMs:    60000,
		YieldToken: yieldCh,
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if outcome.Status != session.Running {
		t.Fatalf("status = %v, want Running", outcome.Status)
	}

	time.Sleep(1200 * time.Millisecond)
}
