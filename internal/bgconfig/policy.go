package bgconfig

import (
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/ehrlich-b/streambash/internal/bglog"
)

// policyFile is the on-disk shape of an optional YAML defaults file,
// grounded on the teacher's internal/config/wing.go YAML settings file.
type policyFile struct {
	YieldMs        int `yaml:"yield_ms,omitempty"`
	MaxOutputChars int `yaml:"max_output_chars,omitempty"`
	JobTTLMs       int `yaml:"job_ttl_ms,omitempty"`
}

// LoadPolicyFile reads path and returns the Defaults it specifies. A
// missing file is not an error; it simply yields a zero Defaults (no
// overrides).
func LoadPolicyFile(path string) (Defaults, error) {
	if path == "" {
		return Defaults{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Defaults{}, nil
		}
		return Defaults{}, err
	}
	var pf policyFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return Defaults{}, err
	}
	return Defaults{
		YieldMs:        pf.YieldMs,
		MaxOutputChars: pf.MaxOutputChars,
		JobTTL:         time.Duration(pf.JobTTLMs) * time.Millisecond,
	}, nil
}

// Watcher resolves Defaults from the package baseline, an optional policy
// file, and the environment (which always wins), re-reading the policy
// file whenever fsnotify reports it changed.
type Watcher struct {
	mu      sync.RWMutex
	current Defaults
	path    string
	watcher *fsnotify.Watcher
	log     *slog.Logger
}

// NewWatcher resolves the initial Defaults. If path is non-empty and
// watch is true, it starts an fsnotify watch on the file's directory and
// hot-reloads Defaults on write/create events. Already-started sessions
// are unaffected: only subsequently-started sessions see the new values.
func NewWatcher(path string, watch bool) (*Watcher, error) {
	w := &Watcher{path: path, log: bglog.Log}
	if err := w.reload(); err != nil {
		return nil, err
	}
	if watch && path != "" {
		fsw, err := fsnotify.NewWatcher()
		if err != nil {
			return nil, err
		}
		if err := fsw.Add(dirOf(path)); err != nil {
			fsw.Close()
			return nil, err
		}
		w.watcher = fsw
		go w.watchLoop()
	}
	return w, nil
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}

func (w *Watcher) reload() error {
	policy, err := LoadPolicyFile(w.path)
	if err != nil {
		return err
	}
	resolved := Resolve(PackageDefaults().Merge(policy))
	w.mu.Lock()
	w.current = resolved
	w.mu.Unlock()
	return nil
}

func (w *Watcher) watchLoop() {
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Name != w.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := w.reload(); err != nil {
				w.log.Warn("policy file reload failed", "path", w.path, "error", err)
			} else {
				w.log.Info("policy file reloaded", "path", w.path)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("policy file watcher error", "error", err)
		}
	}
}

// Current returns the latest resolved Defaults.
func (w *Watcher) Current() Defaults {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Close stops the fsnotify watch, if any.
func (w *Watcher) Close() error {
	if w.watcher == nil {
		return nil
	}
	return w.watcher.Close()
}
