// Package loadtest drives a running matchd over NATS request/reply and
// reports client-side latency percentiles alongside the server's own
// Prometheus counters.
package loadtest

import (
	"fmt"
	"io"
	"math"
	"sort"
	"sync"
	"time"
)

// Collector aggregates per-operation results from many goroutines.
type Collector struct {
	mu        sync.Mutex
	latencies map[string][]time.Duration
	errors    map[string]int
	startTime time.Time
	scraper   *Scraper
}

// NewCollector creates a Collector with the start time set to now.
func NewCollector() *Collector {
	return &Collector{
		latencies: make(map[string][]time.Duration),
		errors:    make(map[string]int),
		startTime: time.Now(),
	}
}

// SetScraper attaches a metrics scraper whose report is appended to ours.
func (c *Collector) SetScraper(s *Scraper) {
	c.mu.Lock()
	c.scraper = s
	c.mu.Unlock()
}

// Add records one successful call of op.
func (c *Collector) Add(op string, d time.Duration) {
	c.mu.Lock()
	c.latencies[op] = append(c.latencies[op], d)
	c.mu.Unlock()
}

// AddError records one failed call of op.
func (c *Collector) AddError(op string) {
	c.mu.Lock()
	c.errors[op]++
	c.mu.Unlock()
}

// Count returns the number of successful calls of op.
func (c *Collector) Count(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.latencies[op])
}

// ErrorCount returns the number of failed calls across every op.
func (c *Collector) ErrorCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.errors {
		n += e
	}
	return n
}

// Report writes a summary with a percentile line per operation.
func (c *Collector) Report(w io.Writer) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ops := make(map[string]struct{}, len(c.latencies)+len(c.errors))
	for op := range c.latencies {
		ops[op] = struct{}{}
	}
	for op := range c.errors {
		ops[op] = struct{}{}
	}
	names := make([]string, 0, len(ops))
	for op := range ops {
		names = append(names, op)
	}
	sort.Strings(names)

	fmt.Fprintln(w, "\n=== Load Test Results ===")
	fmt.Fprintf(w, "Duration:     %s\n", time.Since(c.startTime).Round(time.Second))
	for _, op := range names {
		ok, failed := len(c.latencies[op]), c.errors[op]
		fmt.Fprintf(w, "\n--- %s (ok=%d errors=%d) ---\n", op, ok, failed)
		if ok > 0 {
			fmt.Fprintln(w, "  "+Summarize(c.latencies[op]).String())
		}
	}

	if c.scraper != nil {
		c.scraper.Report(w)
	}
	fmt.Fprintln(w)
}

// Percentiles summarizes a latency sample.
type Percentiles struct {
	N                       int
	Avg, P50, P95, P99, Max time.Duration
}

func (p Percentiles) String() string {
	return fmt.Sprintf("avg: %v  p50: %v  p95: %v  p99: %v  max: %v  (n=%d)",
		p.Avg.Round(time.Microsecond),
		p.P50.Round(time.Microsecond),
		p.P95.Round(time.Microsecond),
		p.P99.Round(time.Microsecond),
		p.Max.Round(time.Microsecond),
		p.N)
}

// Summarize sorts durations in place and returns their percentiles. An
// empty sample yields the zero value.
func Summarize(durations []time.Duration) Percentiles {
	n := len(durations)
	if n == 0 {
		return Percentiles{}
	}
	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}
	return Percentiles{
		N:   n,
		Avg: sum / time.Duration(n),
		P50: durations[n/2],
		P95: durations[int(math.Ceil(float64(n)*0.95))-1],
		P99: durations[int(math.Ceil(float64(n)*0.99))-1],
		Max: durations[n-1],
	}
}
