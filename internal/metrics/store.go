// Package metrics implements the worker's metrics store: an append-only
// buffer of typed samples recorded during predict calls, flushed as JSON
// lines to the log side channel and then cleared (spec.md §4.3).
package metrics

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/bytedance/sonic"
)

// Unit is the kind of quantity a sample measures.
type Unit string

const (
	UnitTime    Unit = "ms"
	UnitSize    Unit = "bytes"
	UnitCounter Unit = "count"
	UnitGauge   Unit = "gauge"
)

// Built-in timer names recorded once per predict batch.
const (
	PreprocessMetric  = "PreprocessTimeBatch"
	InferenceMetric   = "InferenceTimeBatch"
	PostprocessMetric = "PostprocessTimeBatch"
)

// Sample is one recorded metric value.
type Sample struct {
	Name       string            `json:"MetricName"`
	Value      float64           `json:"Value"`
	Unit       Unit              `json:"Unit"`
	Dimensions map[string]string `json:"Dimensions,omitempty"`
	RequestID  string            `json:"RequestId,omitempty"`
	Timestamp  int64             `json:"Timestamp"`
}

// Store is an append-only sample buffer. A worker holds a single Store that
// the predict calls of every loaded service record into, so samples from
// different services share one buffer and carry no service name. The mutex
// makes Len and Emit safe to call while samples are being added.
type Store struct {
	mu       sync.Mutex
	samples  []Sample
	now      func() time.Time
}

// New constructs an empty metrics store.
func New() *Store {
	return &Store{now: time.Now}
}

func (s *Store) add(name string, value float64, unit Unit, requestID string, dims map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = append(s.samples, Sample{
		Name:       name,
		Value:      value,
		Unit:       unit,
		Dimensions: dims,
		RequestID:  requestID,
		Timestamp:  s.now().Unix(),
	})
}

// AddTime records a millisecond-denominated timer sample.
func (s *Store) AddTime(name string, ms float64) { s.add(name, ms, UnitTime, "", nil) }

// AddSize records a byte-count sample.
func (s *Store) AddSize(name string, bytes float64) { s.add(name, bytes, UnitSize, "", nil) }

// AddCounter records a monotonic counter sample.
func (s *Store) AddCounter(name string, n float64) { s.add(name, n, UnitCounter, "", nil) }

// AddGauge records a point-in-time gauge sample.
func (s *Store) AddGauge(name string, v float64) { s.add(name, v, UnitGauge, "", nil) }

// AddTimeForRequest records a per-request timer sample tagged with its
// requestId, for handlers that want finer granularity than the three
// built-in batch timers.
func (s *Store) AddTimeForRequest(name, requestID string, ms float64) {
	s.add(name, ms, UnitTime, requestID, nil)
}

// Emit serializes every buffered sample as a JSON line to w and clears the
// buffer. Emission is best-effort: a write failure is returned to the
// caller to log, but must never be allowed to fail the predict response
// that triggered it (spec.md §4.3).
func (s *Store) Emit(w io.Writer) error {
	s.mu.Lock()
	samples := s.samples
	s.samples = nil
	s.mu.Unlock()

	for _, sample := range samples {
		line, err := sonic.Marshal(sample)
		if err != nil {
			return fmt.Errorf("marshal metric sample: %w", err)
		}
		if _, err := fmt.Fprintf(w, "%s\n", line); err != nil {
			return fmt.Errorf("write metric sample: %w", err)
		}
	}
	return nil
}

// Len reports the number of samples currently buffered (test/introspection
// helper).
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.samples)
}
