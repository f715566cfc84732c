package metrics

import (
	"sync"
	"time"
)

// SourceFunc refreshes gauges from some piece of service state
type SourceFunc func(m *Metrics)

// MetricsCollector periodically runs its sources against a Metrics instance
type MetricsCollector struct {
	metrics  *Metrics
	interval time.Duration
	sources  []SourceFunc
	stop     chan struct{}
	mu       sync.Mutex
	wg       sync.WaitGroup
	started  bool
}

// NewMetricsCollector creates a collector; interval <= 0 falls back to 15s
func NewMetricsCollector(m *Metrics, interval time.Duration) *MetricsCollector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &MetricsCollector{
		metrics:  m,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

// AddSource registers a gauge source. Sources added after Start are picked
// up on the next tick.
func (c *MetricsCollector) AddSource(fn SourceFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sources = append(c.sources, fn)
}

// Start collects once immediately and then on every interval
func (c *MetricsCollector) Start() {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.mu.Unlock()

	c.collect()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stop:
				return
			}
		}
	}()
}

// Stop halts collection and waits for the loop to exit
func (c *MetricsCollector) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.started = false
	c.mu.Unlock()

	close(c.stop)
	c.wg.Wait()
}

func (c *MetricsCollector) collect() {
	c.mu.Lock()
	sources := make([]SourceFunc, len(c.sources))
	copy(sources, c.sources)
	c.mu.Unlock()

	for _, fn := range sources {
		fn(c.metrics)
	}
}
