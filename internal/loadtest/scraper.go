package loadtest

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Tracked server series. Labeled series are summed per name.
var trackedMetrics = []struct {
	name  string
	label string
}{
	{"roommate_likes_total", "Likes"},
	{"roommate_responses_total", "Responses"},
	{"roommate_match_status_transitions_total", "Transitions"},
	{"roommate_store_retries_total", "Store retries"},
	{"roommate_side_effect_failures_total", "Effect failures"},
	{"roommate_rate_limited_total", "Rate limited"},
}

type snapshot struct {
	timestamp time.Time
	values    map[string]float64
}

// Scraper periodically fetches the matchd metrics endpoint and keeps
// snapshots for the final report.
type Scraper struct {
	metricsURL string
	interval   time.Duration
	client     *http.Client

	mu        sync.Mutex
	snapshots []snapshot

	cancel context.CancelFunc
	done   chan struct{}
}

// NewScraper creates a Scraper for metricsURL.
func NewScraper(metricsURL string, interval time.Duration) *Scraper {
	return &Scraper{
		metricsURL: metricsURL,
		interval:   interval,
		client:     &http.Client{Timeout: 5 * time.Second},
		done:       make(chan struct{}),
	}
}

// Start takes a snapshot now and then every interval until ctx is done or
// Stop is called.
func (s *Scraper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.scrapeOnce(ctx)

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				// Final snapshot.
				s.scrapeOnce(context.Background())
				return
			case <-ticker.C:
				s.scrapeOnce(ctx)
			}
		}
	}()
}

// Stop stops the scraper and waits for its final snapshot.
func (s *Scraper) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

func (s *Scraper) scrapeOnce(ctx context.Context) {
	snap, err := s.fetch(ctx)
	if err != nil {
		// The server may not be up yet.
		return
	}
	s.mu.Lock()
	s.snapshots = append(s.snapshots, snap)
	s.mu.Unlock()
}

func (s *Scraper) fetch(ctx context.Context) (snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.metricsURL, nil)
	if err != nil {
		return snapshot{}, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return snapshot{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return snapshot{}, fmt.Errorf("loadtest: scrape %s: status %d", s.metricsURL, resp.StatusCode)
	}
	return parseSnapshot(resp.Body)
}

func parseSnapshot(r io.Reader) (snapshot, error) {
	snap := snapshot{timestamp: time.Now(), values: make(map[string]float64)}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		name, value, ok := parseMetricLine(line)
		if !ok {
			continue
		}
		snap.values[name] += value
	}
	return snap, scanner.Err()
}

// parseMetricLine splits a text exposition line into the metric name
// without labels and its value.
//
//	metric_name 1.23
//	metric_name{label="value"} 1.23
func parseMetricLine(line string) (name string, value float64, ok bool) {
	raw := line
	if idx := strings.IndexByte(raw, '{'); idx != -1 {
		name = raw[:idx]
		closing := strings.IndexByte(raw[idx:], '}')
		if closing == -1 {
			return "", 0, false
		}
		raw = name + raw[idx+closing+1:]
	}

	fields := strings.Fields(raw)
	if len(fields) < 2 {
		return "", 0, false
	}
	if name == "" {
		name = fields[0]
	}
	v, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return "", 0, false
	}
	return name, v, true
}

// Report writes the delta of every tracked series between the first and
// last snapshot, plus the mean recommendation latency.
func (s *Scraper) Report(w io.Writer) {
	s.mu.Lock()
	snaps := append([]snapshot(nil), s.snapshots...)
	s.mu.Unlock()

	if len(snaps) == 0 {
		fmt.Fprintln(w, "\n--- Server Metrics (no data collected) ---")
		return
	}
	first, last := snaps[0], snaps[len(snaps)-1]

	fmt.Fprintln(w, "\n--- Server Metrics (Prometheus) ---")
	fmt.Fprintf(w, "  Scrape count:  %d snapshots over %s\n",
		len(snaps), last.timestamp.Sub(first.timestamp).Round(time.Second))
	fmt.Fprintf(w, "\n  %-16s %10s %10s %10s\n", "Metric", "Initial", "Final", "Delta")
	for _, m := range trackedMetrics {
		a, b := first.values[m.name], last.values[m.name]
		fmt.Fprintf(w, "  %-16s %10.0f %10.0f %10.0f\n", m.label, a, b, b-a)
	}

	const hist = "roommate_recommendation_latency_seconds"
	sum := last.values[hist+"_sum"] - first.values[hist+"_sum"]
	count := last.values[hist+"_count"] - first.values[hist+"_count"]
	if count > 0 {
		fmt.Fprintf(w, "\n  %-16s avg: %.4fs  (%.0f observations)\n", "Ranking", sum/count, count)
	} else {
		fmt.Fprintf(w, "\n  %-16s avg: N/A  (no observations)\n", "Ranking")
	}
}
