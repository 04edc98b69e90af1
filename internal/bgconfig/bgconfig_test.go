package bgconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestClampYieldMsBoundaries(t *testing.T) {
	cases := []struct {
		in, want int
	}{
		{0, DefaultYieldMs},
		{-5, DefaultYieldMs},
		{1, MinYieldMs},
		{MinYieldMs, MinYieldMs},
		{MaxYieldMs, MaxYieldMs},
		{MaxYieldMs + 1, MaxYieldMs},
	}
	for _, c := range cases {
		if got := ClampYieldMs(c.in); got != c.want {
			t.Errorf("ClampYieldMs(%d) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestClampMaxOutputCharsBoundaries(t *testing.T) {
	if got := ClampMaxOutputChars(0); got != DefaultMaxOutputChars {
		t.Errorf("zero should default, got %d", got)
	}
	if got := ClampMaxOutputChars(1); got != MinMaxOutputChars {
		t.Errorf("below floor should clamp, got %d", got)
	}
	if got := ClampMaxOutputChars(MaxMaxOutputChars + 1000); got != MaxMaxOutputChars {
		t.Errorf("above ceiling should clamp, got %d", got)
	}
}

func TestEnvOverridesPackageDefaults(t *testing.T) {
	t.Setenv(EnvYieldMs, "5000")
	t.Setenv(EnvMaxOutputChars, "2000")
	t.Setenv(EnvJobTTLMs, "120000")
	d := FromEnv()
	if d.YieldMs != 5000 {
		t.Errorf("YieldMs = %d, want 5000", d.YieldMs)
	}
	if d.MaxOutputChars != 2000 {
		t.Errorf("MaxOutputChars = %d, want 2000", d.MaxOutputChars)
	}
	if d.JobTTL != 2*time.Minute {
		t.Errorf("JobTTL = %v, want 2m", d.JobTTL)
	}
}

func TestPolicyFileOverriddenByEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	if err := os.WriteFile(path, []byte("yield_ms: 9000\nmax_output_chars: 5000\n"), 0644); err != nil {
		t.Fatal(err)
	}
	policy, err := LoadPolicyFile(path)
	if err != nil {
		t.Fatal(err)
	}
	base := PackageDefaults().Merge(policy)
	if base.YieldMs != 9000 {
		t.Fatalf("policy not applied: YieldMs = %d", base.YieldMs)
	}

	t.Setenv(EnvYieldMs, "3000")
	resolved := Resolve(base)
	if resolved.YieldMs != 3000 {
		t.Errorf("env should win over policy, got YieldMs = %d", resolved.YieldMs)
	}
	if resolved.MaxOutputChars != 5000 {
		t.Errorf("policy value should survive when env unset, got %d", resolved.MaxOutputChars)
	}
}

func TestLoadPolicyFileMissingIsNotError(t *testing.T) {
	d, err := LoadPolicyFile(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if d != (Defaults{}) {
		t.Errorf("missing file should yield zero Defaults, got %+v", d)
	}
}
