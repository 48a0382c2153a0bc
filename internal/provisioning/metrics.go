package provisioning

import (
	"sync"
	"time"
)

// Metric phase names recorded by the launcher
const (
	MetricReadyTime = "instance_ready_time"
	MetricSSHTime   = "instance_ssh_time"
)

// Metrics accumulates per-phase wall-clock durations across one
// provisioning call. Entries are only added, never reset mid-call.
type Metrics struct {
	mu        sync.Mutex
	durations map[string]time.Duration
}

// NewMetrics creates an empty metrics record
func NewMetrics() *Metrics {
	return &Metrics{durations: make(map[string]time.Duration)}
}

// Record stores the elapsed duration for a phase
func (m *Metrics) Record(phase string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.durations[phase] = d
}

// Get returns the recorded duration for a phase
func (m *Metrics) Get(phase string) (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.durations[phase]
	return d, ok
}

// All returns a copy of the recorded durations
func (m *Metrics) All() map[string]time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]time.Duration, len(m.durations))
	for k, v := range m.durations {
		out[k] = v
	}
	return out
}
