// Package stats provides a goroutine-safe metrics collector that aggregates
// latency samples from many load test workers and prints a summary report
// with percentile distributions.
package stats

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"
)

// Collector aggregates measurements from load test workers. All methods are
// goroutine-safe and can be called concurrently.
//
// Request latencies cover individual API calls. Pipeline latencies cover the
// full asynchronous round trip from enqueueing a task to reading its verdict.
type Collector struct {
	mu                sync.Mutex
	requestLatencies  []time.Duration
	pipelineLatencies []time.Duration
	errors            int
	requests          int
	startTime         time.Time
	scraper           *Scraper
}

// NewCollector creates a new Collector with the start time set to now.
func NewCollector() *Collector {
	return &Collector{startTime: time.Now()}
}

// SetScraper attaches a Prometheus metrics scraper to this collector. When
// set, Report() also prints the server-side metrics it collected.
func (c *Collector) SetScraper(s *Scraper) {
	c.mu.Lock()
	c.scraper = s
	c.mu.Unlock()
}

// AddRequest records a successful API call with the given latency.
func (c *Collector) AddRequest(d time.Duration) {
	c.mu.Lock()
	c.requestLatencies = append(c.requestLatencies, d)
	c.requests++
	c.mu.Unlock()
}

// AddPipeline records an enqueue-to-verdict round trip latency.
func (c *Collector) AddPipeline(d time.Duration) {
	c.mu.Lock()
	c.pipelineLatencies = append(c.pipelineLatencies, d)
	c.mu.Unlock()
}

// AddError increments the error counter.
func (c *Collector) AddError() {
	c.mu.Lock()
	c.errors++
	c.mu.Unlock()
}

// RequestCount returns the current number of recorded API calls.
func (c *Collector) RequestCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requests
}

// PipelineCount returns the current number of recorded verdict round trips.
func (c *Collector) PipelineCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pipelineLatencies)
}

// ErrorCount returns the current number of recorded errors.
func (c *Collector) ErrorCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errors
}

// Report prints a formatted summary of the collected metrics to stdout,
// including total duration, request count, error count, and percentile
// distributions for request and pipeline latencies.
func (c *Collector) Report() {
	c.mu.Lock()
	defer c.mu.Unlock()

	elapsed := time.Since(c.startTime)

	fmt.Println("\n=== Load Test Results ===")
	fmt.Printf("Duration:     %s\n", elapsed.Round(time.Second))
	fmt.Printf("Requests:     %d\n", c.requests)
	fmt.Printf("Errors:       %d\n", c.errors)

	if c.requests > 0 {
		errorRate := float64(c.errors) / float64(c.requests+c.errors) * 100
		fmt.Printf("Error rate:   %.2f%%\n", errorRate)
	}

	if len(c.requestLatencies) > 0 {
		fmt.Println("\n--- Request Latency ---")
		printPercentiles(c.requestLatencies)
	}

	if len(c.pipelineLatencies) > 0 {
		fmt.Println("\n--- Pipeline Latency (enqueue to verdict) ---")
		printPercentiles(c.pipelineLatencies)
	}

	if c.scraper != nil {
		c.scraper.Report()
	}

	fmt.Println()
}

// printPercentiles sorts the given durations and prints avg, p50, p95, p99,
// and max values along with the sample count.
func printPercentiles(durations []time.Duration) {
	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })

	n := len(durations)
	p50 := durations[n/2]
	p95 := durations[int(math.Ceil(float64(n)*0.95))-1]
	p99 := durations[int(math.Ceil(float64(n)*0.99))-1]

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}
	avg := sum / time.Duration(n)

	fmt.Printf("  avg: %v  p50: %v  p95: %v  p99: %v  max: %v  (n=%d)\n",
		avg.Round(time.Microsecond),
		p50.Round(time.Microsecond),
		p95.Round(time.Microsecond),
		p99.Round(time.Microsecond),
		durations[n-1].Round(time.Microsecond),
		n,
	)
}
