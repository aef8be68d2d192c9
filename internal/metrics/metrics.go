// Package metrics provides a Prometheus exposition-compatible metrics
// registry for the swarm download engine.
package metrics

import (
	"net/http"
	"sync"
	"time"
)

// Metrics holds all engine metrics.
type Metrics struct {
	// Counters
	ChunksCompleted      *Counter
	ChunksFailed         *CounterVec // labels: reason (timeout, rejected, offline, other)
	BytesDownloaded      *CounterVec // labels: peer
	VerificationFailures *Counter
	RetryRoundsEntered   *Counter
	StuckJobs            *Counter

	// Peer churn
	PeersRetired  *Counter
	PeersTimedOut *Counter

	// Gauges
	ActiveWorkers  *Gauge
	ActiveJobs     *Gauge
	DownloadRate   *Gauge // aggregate bytes/sec across active jobs

	// Histograms
	ChunkDownloadTime *Histogram
	JobDuration       *Histogram
}

// Counter is a simple counter metric.
type Counter struct {
	value int64
	mu    sync.Mutex
}

// Inc increments the counter by 1.
func (c *Counter) Inc() {
	c.mu.Lock()
	c.value++
	c.mu.Unlock()
}

// Add adds the given value to the counter.
func (c *Counter) Add(v int64) {
	c.mu.Lock()
	c.value += v
	c.mu.Unlock()
}

// Value returns the current counter value.
func (c *Counter) Value() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// CounterVec is a counter with labels for multi-dimensional metrics.
type CounterVec struct {
	counters map[string]*Counter
	mu       sync.RWMutex
}

// NewCounterVec creates a new labeled counter vector.
func NewCounterVec() *CounterVec {
	return &CounterVec{
		counters: make(map[string]*Counter),
	}
}

// WithLabel returns the counter for the given label, creating it if needed.
func (cv *CounterVec) WithLabel(label string) *Counter {
	cv.mu.Lock()
	defer cv.mu.Unlock()
	if c, ok := cv.counters[label]; ok {
		return c
	}
	c := &Counter{}
	cv.counters[label] = c
	return c
}

// Values returns all label-value pairs in the counter vector.
func (cv *CounterVec) Values() map[string]int64 {
	cv.mu.RLock()
	defer cv.mu.RUnlock()
	result := make(map[string]int64)
	for k, v := range cv.counters {
		result[k] = v.Value()
	}
	return result
}

// Gauge is a metric that can go up and down.
type Gauge struct {
	value float64
	mu    sync.Mutex
}

// Set sets the gauge to the given value.
func (g *Gauge) Set(v float64) {
	g.mu.Lock()
	g.value = v
	g.mu.Unlock()
}

// Inc increments the gauge by 1.
func (g *Gauge) Inc() {
	g.mu.Lock()
	g.value++
	g.mu.Unlock()
}

// Dec decrements the gauge by 1.
func (g *Gauge) Dec() {
	g.mu.Lock()
	g.value--
	g.mu.Unlock()
}

// Add adds the given value to the gauge.
func (g *Gauge) Add(v float64) {
	g.mu.Lock()
	g.value += v
	g.mu.Unlock()
}

// Value returns the current gauge value.
func (g *Gauge) Value() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.value
}

// Histogram tracks distribution of values across buckets.
type Histogram struct {
	buckets []float64
	counts  []int64
	sum     float64
	count   int64
	mu      sync.Mutex
}

// NewHistogram creates a new histogram with the given bucket boundaries.
func NewHistogram(buckets []float64) *Histogram {
	return &Histogram{
		buckets: buckets,
		counts:  make([]int64, len(buckets)+1),
	}
}

// Observe records a value in the histogram.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sum += v
	h.count++
	for i, b := range h.buckets {
		if v <= b {
			h.counts[i]++
			return
		}
	}
	h.counts[len(h.buckets)]++
}

// Stats returns the current histogram statistics.
func (h *Histogram) Stats() (count int64, sum float64, buckets []int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	bucketsCopy := make([]int64, len(h.counts))
	copy(bucketsCopy, h.counts)
	return h.count, h.sum, bucketsCopy
}

// Default buckets for different metric types.
var (
	DurationBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}
)

// New creates a new Metrics instance.
func New() *Metrics {
	return &Metrics{
		ChunksCompleted:      &Counter{},
		ChunksFailed:         NewCounterVec(),
		BytesDownloaded:      NewCounterVec(),
		VerificationFailures: &Counter{},
		RetryRoundsEntered:   &Counter{},
		StuckJobs:            &Counter{},

		PeersRetired:  &Counter{},
		PeersTimedOut: &Counter{},

		ActiveWorkers: &Gauge{},
		ActiveJobs:    &Gauge{},
		DownloadRate:  &Gauge{},

		ChunkDownloadTime: NewHistogram(DurationBuckets),
		JobDuration:       NewHistogram(DurationBuckets),
	}
}

// Handler returns an HTTP handler for the Prometheus metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")

		writeCounter(w, "swarmget_chunks_completed_total", m.ChunksCompleted.Value())
		writeCounter(w, "swarmget_verification_failures_total", m.VerificationFailures.Value())
		writeCounter(w, "swarmget_retry_rounds_entered_total", m.RetryRoundsEntered.Value())
		writeCounter(w, "swarmget_stuck_jobs_total", m.StuckJobs.Value())
		writeCounter(w, "swarmget_peers_retired_total", m.PeersRetired.Value())
		writeCounter(w, "swarmget_peers_timed_out_total", m.PeersTimedOut.Value())

		for label, value := range m.ChunksFailed.Values() {
			writeCounterWithLabel(w, "swarmget_chunks_failed_total", "reason", label, value)
		}
		for label, value := range m.BytesDownloaded.Values() {
			writeCounterWithLabel(w, "swarmget_bytes_downloaded_total", "peer", label, value)
		}

		writeGauge(w, "swarmget_active_workers", m.ActiveWorkers.Value())
		writeGauge(w, "swarmget_active_jobs", m.ActiveJobs.Value())
		writeGauge(w, "swarmget_download_bytes_per_second", m.DownloadRate.Value())

		writeHistogram(w, "swarmget_chunk_download_seconds", m.ChunkDownloadTime)
		writeHistogram(w, "swarmget_job_duration_seconds", m.JobDuration)
	})
}

func writeCounter(w http.ResponseWriter, name string, value int64) {
	_, _ = w.Write([]byte("# TYPE " + name + " counter\n"))
	_, _ = w.Write([]byte(name + " " + itoa(value) + "\n"))
}

func writeCounterWithLabel(w http.ResponseWriter, name, labelName, labelValue string, value int64) {
	_, _ = w.Write([]byte(name + "{" + labelName + "=\"" + labelValue + "\"} " + itoa(value) + "\n"))
}

func writeGauge(w http.ResponseWriter, name string, value float64) {
	_, _ = w.Write([]byte("# TYPE " + name + " gauge\n"))
	_, _ = w.Write([]byte(name + " " + ftoa(value) + "\n"))
}

func writeHistogram(w http.ResponseWriter, name string, h *Histogram) {
	count, sum, buckets := h.Stats()
	_, _ = w.Write([]byte("# TYPE " + name + " histogram\n"))

	cumulative := int64(0)
	for i, b := range h.buckets {
		cumulative += buckets[i]
		_, _ = w.Write([]byte(name + "_bucket{le=\"" + ftoa(b) + "\"} " + itoa(cumulative) + "\n"))
	}
	cumulative += buckets[len(buckets)-1]
	_, _ = w.Write([]byte(name + "_bucket{le=\"+Inf\"} " + itoa(cumulative) + "\n"))
	_, _ = w.Write([]byte(name + "_sum " + ftoa(sum) + "\n"))
	_, _ = w.Write([]byte(name + "_count " + itoa(count) + "\n"))
}

func itoa(i int64) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}

func ftoa(f float64) string {
	if f == float64(int64(f)) {
		return itoa(int64(f))
	}
	intPart := int64(f)
	fracPart := int64((f - float64(intPart)) * 1000000)
	if fracPart < 0 {
		fracPart = -fracPart
	}
	return itoa(intPart) + "." + itoa(fracPart)
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
	h     *Histogram
}

// NewTimer creates a new timer that will observe to the given histogram.
func NewTimer(h *Histogram) *Timer {
	return &Timer{
		start: time.Now(),
		h:     h,
	}
}

// ObserveDuration records the elapsed time.
func (t *Timer) ObserveDuration() time.Duration {
	d := time.Since(t.start)
	if t.h != nil {
		t.h.Observe(d.Seconds())
	}
	return d
}
