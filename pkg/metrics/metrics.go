// Package metrics tracks process-wide request, error, and memory-update
// counters for the turn loop. An Aggregator is constructed once at startup
// and injected into every component that records into it.
package metrics

import (
	"sync"
	"time"
)

// maxSamples bounds the response-time window; oldest samples are evicted.
const maxSamples = 1000

// Aggregator is safe for concurrent use by all in-flight turns.
type Aggregator struct {
	mu            sync.Mutex
	requestsTotal int64
	errorsTotal   int64
	memoryUpdates int64
	samples       []float64
}

// Snapshot is a read-only view of current metrics.
type Snapshot struct {
	RequestsTotal   int64   `json:"requests_total"`
	ErrorsTotal     int64   `json:"errors_total"`
	MemoryUpdates   int64   `json:"memory_updates"`
	AvgResponseTime float64 `json:"avg_response_time"`
	ErrorRate       float64 `json:"error_rate"`
}

func NewAggregator() *Aggregator {
	return &Aggregator{samples: make([]float64, 0, maxSamples)}
}

// RecordRequest counts one completed responder invocation and its latency.
func (a *Aggregator) RecordRequest(elapsed time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.requestsTotal++
	a.samples = append(a.samples, elapsed.Seconds())
	if len(a.samples) > maxSamples {
		a.samples = a.samples[len(a.samples)-maxSamples:]
	}
}

func (a *Aggregator) RecordError() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.errorsTotal++
}

// RecordMemoryUpdate counts one persisted document operation.
func (a *Aggregator) RecordMemoryUpdate() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.memoryUpdates++
}

// Stats computes the current snapshot. The error-rate denominator is
// floor-clamped to 1 so a process that has recorded errors but no requests
// reports a finite rate instead of dividing by zero.
func (a *Aggregator) Stats() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	var avg float64
	if len(a.samples) > 0 {
		var sum float64
		for _, s := range a.samples {
			sum += s
		}
		avg = sum / float64(len(a.samples))
	}

	denom := a.requestsTotal
	if denom < 1 {
		denom = 1
	}

	return Snapshot{
		RequestsTotal:   a.requestsTotal,
		ErrorsTotal:     a.errorsTotal,
		MemoryUpdates:   a.memoryUpdates,
		AvgResponseTime: avg,
		ErrorRate:       float64(a.errorsTotal) / float64(denom),
	}
}

// Reset clears all counters and samples. Test hook only.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.requestsTotal = 0
	a.errorsTotal = 0
	a.memoryUpdates = 0
	a.samples = a.samples[:0]
}
