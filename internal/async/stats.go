package async

import (
	"encoding/json"
	"sync"
	"time"
)

// StatsSnapshot is an immutable copy of the pool counters.
type StatsSnapshot struct {
	Queued        int `json:"queued"`
	Running       int `json:"running"`
	Completed     int `json:"completed"`
	Failed        int `json:"failed"`
	Rejected      int `json:"rejected"`
	UptimeSeconds int `json:"uptime_seconds"`
}

// Stats tracks pool activity. Queued counts jobs waiting for a worker.
type Stats struct {
	mu        sync.RWMutex
	queuedN   int
	runningN  int
	completed int
	failed    int
	rejectedN int
	startTime time.Time
}

func newStats() *Stats {
	return &Stats{startTime: time.Now()}
}

func (s *Stats) queued() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queuedN++
}

// rejected undoes the optimistic queued count for a job that did not fit.
func (s *Stats) rejected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queuedN--
	s.rejectedN++
}

func (s *Stats) started() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queuedN--
	s.runningN++
}

func (s *Stats) finished(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runningN--
	if err != nil {
		s.failed++
		return
	}
	s.completed++
}

// Snapshot returns the current counters.
func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return StatsSnapshot{
		Queued:        s.queuedN,
		Running:       s.runningN,
		Completed:     s.completed,
		Failed:        s.failed,
		Rejected:      s.rejectedN,
		UptimeSeconds: int(time.Since(s.startTime).Seconds()),
	}
}

// Idle reports whether nothing is queued or running.
func (s StatsSnapshot) Idle() bool {
	return s.Queued == 0 && s.Running == 0
}

// JSON renders the snapshot for status output.
func (s StatsSnapshot) JSON() ([]byte, error) {
	return json.Marshal(s)
}
