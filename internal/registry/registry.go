// Package registry holds the process-wide store of running and
// recently-finished sessions: a TTL sweeper, lookups, and the
// running->finished transition on exit.
package registry

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ehrlich-b/streambash/internal/bglog"
	"github.com/ehrlich-b/streambash/internal/session"
)

// DefaultTTL is used when the caller doesn't specify one; bgconfig is
// responsible for clamping an environment-provided value before it
// reaches here.
const DefaultTTL = 30 * time.Minute

const defaultSweepInterval = 60 * time.Second

// Registry is the process-wide singleton that owns every Session for its
// entire lifetime. It is guarded by a single RWMutex, grounded on the
// same pattern as the teacher's agent.PermissionEngine rule map.
type Registry struct {
	mu       sync.RWMutex
	running  map[string]*session.Session
	finished map[string]*session.Session

	ttl    time.Duration
	log    *slog.Logger
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a Registry and starts its periodic sweeper. Call Close to
// stop the sweeper and release resources.
func New(ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	r := &Registry{
		running:  make(map[string]*session.Session),
		finished: make(map[string]*session.Session),
		ttl:      ttl,
		log:      bglog.Log,
		stopCh:   make(chan struct{}),
	}
	r.wg.Add(1)
	go r.sweepLoop()
	return r
}

// Close stops the sweeper goroutine. It does not touch any session.
func (r *Registry) Close() {
	close(r.stopCh)
	r.wg.Wait()
}

func (r *Registry) sweepLoop() {
	defer r.wg.Done()
	ticker := time.NewTicker(defaultSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.Sweep(time.Now())
		}
	}
}

// Add inserts a freshly-started session into the running partition.
func (r *Registry) Add(s *session.Session) {
	r.mu.Lock()
	r.running[s.ID] = s
	r.mu.Unlock()
}

// GetRunning looks up a session that is still running.
func (r *Registry) GetRunning(id string) (*session.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.running[id]
	return s, ok
}

// GetFinished looks up a session that has already terminated.
func (r *Registry) GetFinished(id string) (*session.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.finished[id]
	return s, ok
}

// Get looks up a session in either partition.
func (r *Registry) Get(id string) (*session.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.running[id]; ok {
		return s, true
	}
	s, ok := r.finished[id]
	return s, ok
}

// MarkExited writes the terminal state onto s and, on the first call that
// transitions it, moves it from running to finished. Idempotent: a late
// exit notification after an explicit Kill never overwrites the status
// session.Session.MarkExited already recorded.
func (r *Registry) MarkExited(s *session.Session, code *int, signal string, status session.Status) {
	wasExited := s.HasExited()
	s.MarkExited(code, signal, status)
	if wasExited {
		return
	}
	r.mu.Lock()
	delete(r.running, s.ID)
	r.finished[s.ID] = s
	r.mu.Unlock()
	r.Sweep(time.Now())
}

// SetBackgrounded records that the supervisor has yielded control for s,
// the prerequisite most control operations check for.
func (r *Registry) SetBackgrounded(s *session.Session) {
	s.SetBackgrounded()
}

// Evict removes id from whichever partition holds it.
func (r *Registry) Evict(id string) {
	r.mu.Lock()
	delete(r.running, id)
	delete(r.finished, id)
	r.mu.Unlock()
}

// Sweep evicts every finished entry whose EndedAt is older than the TTL.
// Reentrant: safe to call from the ticker and opportunistically on exit.
func (r *Registry) Sweep(now time.Time) {
	cutoff := now.Add(-r.ttl)
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, s := range r.finished {
		if s.EndedAt.Before(cutoff) {
			delete(r.finished, id)
		}
	}
}

// Snapshot is a copy of a session's externally-visible state, safe to
// read after the session has been swept from the registry.
type Snapshot struct {
	ID           string
	Status       session.Status
	Pid          int
	Cwd          string
	Command      string
	StartedAt    time.Time
	EndedAt      time.Time
	RuntimeMs    int64
	Tail         string
	Truncated    bool
	ExitCode     *int
	ExitSignal   string
	Backgrounded bool
}

func snapshotOf(s *session.Session) Snapshot {
	end := time.Now()
	if s.HasExited() {
		end = s.EndedAt
	}
	return Snapshot{
		ID:           s.ID,
		Status:       s.CurrentStatus(),
		Pid:          s.Pid,
		Cwd:          s.Cwd,
		Command:      s.Command,
		StartedAt:    s.StartedAt,
		EndedAt:      s.EndedAt,
		RuntimeMs:    end.Sub(s.StartedAt).Milliseconds(),
		Tail:         s.Ring.Tail(0),
		Truncated:    s.Ring.Truncated(),
		ExitCode:     s.ExitCode,
		ExitSignal:   s.ExitSignal,
		Backgrounded: s.IsBackgrounded(),
	}
}

// ListRunning returns a snapshot of every running session.
func (r *Registry) ListRunning() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Snapshot, 0, len(r.running))
	for _, s := range r.running {
		out = append(out, snapshotOf(s))
	}
	return out
}

// ListFinished returns a snapshot of every finished session still in the registry.
func (r *Registry) ListFinished() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Snapshot, 0, len(r.finished))
	for _, s := range r.finished {
		out = append(out, snapshotOf(s))
	}
	return out
}

// List returns running and finished snapshots combined, sorted by
// StartedAt descending. limit == nil means no cap (return everything);
// a non-nil limit of 0 means "return nothing", per spec boundary
// behaviour, distinct from "no limit given".
func (r *Registry) List(limit *int) []Snapshot {
	if limit != nil && *limit <= 0 {
		return []Snapshot{}
	}
	all := append(r.ListRunning(), r.ListFinished()...)
	sort.Slice(all, func(i, j int) bool {
		return all[i].StartedAt.After(all[j].StartedAt)
	})
	if limit != nil && len(all) > *limit {
		all = all[:*limit]
	}
	return all
}
