package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// MetricType defines types of metrics we track
type MetricType string

// Different metric types
const (
	TypeCounter MetricType = "counter" // Always increasing count
	TypeGauge   MetricType = "gauge"   // Point-in-time value
)

// MetricValue represents a metric value with metadata
type MetricValue struct {
	Name  string     `json:"name"`
	Type  MetricType `json:"type"`
	Value int64      `json:"value"`
}

// Metric names used across the pipeline.
const (
	CounterEventsAppended    = "events_appended_total"
	CounterOutboxPublished   = "outbox_published_total"
	CounterOutboxFailures    = "outbox_publish_failures_total"
	CounterOutboxDeadLetters = "outbox_dead_lettered_total"
	CounterOutboxReprocessed = "outbox_reprocessed_total"
	CounterCommandsHandled   = "commands_handled_total"
	CounterCommandsRejected  = "commands_rejected_total"
	GaugeDeadLettered        = "outbox_dead_lettered"
)

// Metrics is the main metrics collector
type Metrics struct {
	mu        sync.RWMutex
	counters  map[string]*int64
	gauges    map[string]*int64
	startTime time.Time
}

// NewMetrics creates a new metrics collector
func NewMetrics() *Metrics {
	return &Metrics{
		counters:  make(map[string]*int64),
		gauges:    make(map[string]*int64),
		startTime: time.Now(),
	}
}

// IncrementCounter increments a counter by 1
func (m *Metrics) IncrementCounter(name string) {
	m.IncrementCounterBy(name, 1)
}

// IncrementCounterBy increments a counter by the specified value
func (m *Metrics) IncrementCounterBy(name string, value int64) {
	m.mu.RLock()
	counter, exists := m.counters[name]
	m.mu.RUnlock()

	if !exists {
		m.mu.Lock()
		// Check again to avoid race conditions
		if counter, exists = m.counters[name]; !exists {
			var c int64
			counter = &c
			m.counters[name] = counter
		}
		m.mu.Unlock()
	}

	atomic.AddInt64(counter, value)
}

// SetGauge sets a gauge to a specific value
func (m *Metrics) SetGauge(name string, value int64) {
	m.mu.RLock()
	gauge, exists := m.gauges[name]
	m.mu.RUnlock()

	if !exists {
		m.mu.Lock()
		if gauge, exists = m.gauges[name]; !exists {
			var g int64
			gauge = &g
			m.gauges[name] = gauge
		}
		m.mu.Unlock()
	}

	atomic.StoreInt64(gauge, value)
}

// GetCounter returns the current value of a counter
func (m *Metrics) GetCounter(name string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if counter, exists := m.counters[name]; exists {
		return atomic.LoadInt64(counter)
	}
	return 0
}

// GetGauge returns the current value of a gauge
func (m *Metrics) GetGauge(name string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if gauge, exists := m.gauges[name]; exists {
		return atomic.LoadInt64(gauge)
	}
	return 0
}

// Snapshot returns all metrics plus process uptime
func (m *Metrics) Snapshot() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	values := make([]MetricValue, 0, len(m.counters)+len(m.gauges))
	for name, counter := range m.counters {
		values = append(values, MetricValue{
			Name:  name,
			Type:  TypeCounter,
			Value: atomic.LoadInt64(counter),
		})
	}
	for name, gauge := range m.gauges {
		values = append(values, MetricValue{
			Name:  name,
			Type:  TypeGauge,
			Value: atomic.LoadInt64(gauge),
		})
	}

	return map[string]interface{}{
		"uptime_seconds": int64(time.Since(m.startTime).Seconds()),
		"metrics":        values,
	}
}
