package domain

import (
	"fmt"
	"time"
)

// Label is a single key/value pair attached to a metric series.
type Label struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Labels keeps emission order. Duplicate keys are legal here; the metrics
// registry decides how they collapse into a series.
type Labels []Label

// With returns a copy of l with one more pair appended.
func (l Labels) With(key, value string) Labels {
	out := make(Labels, 0, len(l)+1)
	out = append(out, l...)
	return append(out, Label{Key: key, Value: value})
}

// Merge returns a copy of l followed by every pair of other.
func (l Labels) Merge(other Labels) Labels {
	out := make(Labels, 0, len(l)+len(other))
	out = append(out, l...)
	return append(out, other...)
}

// Get returns the value of the first pair with the given key.
func (l Labels) Get(key string) (string, bool) {
	for _, p := range l {
		if p.Key == key {
			return p.Value, true
		}
	}
	return "", false
}

func (l Labels) String() string {
	s := "{"
	for i, p := range l {
		if i > 0 {
			s += ", "
		}
		s += p.Key + "=" + p.Value
	}
	return s + "}"
}

type MetricKind int

const (
	KindGauge MetricKind = iota
	KindCounter
)

func (k MetricKind) String() string {
	switch k {
	case KindGauge:
		return "gauge"
	case KindCounter:
		return "counter"
	default:
		return fmt.Sprintf("MetricKind(%d)", int(k))
	}
}

// ParseMetricKind accepts the directive tokens "gauge" and "counter".
func ParseMetricKind(s string) (MetricKind, bool) {
	switch s {
	case "gauge":
		return KindGauge, true
	case "counter":
		return KindCounter, true
	}
	return 0, false
}

// Metric is one record extracted from checker output. Gauge is meaningful
// for KindGauge, Counter for KindCounter.
type Metric struct {
	Name    string     `json:"name"`
	Kind    MetricKind `json:"kind"`
	Labels  Labels     `json:"labels"`
	Gauge   float64    `json:"gauge,omitempty"`
	Counter uint64     `json:"counter,omitempty"`
}

func (m Metric) Value() float64 {
	if m.Kind == KindCounter {
		return float64(m.Counter)
	}
	return m.Gauge
}

// Status is the reported state of one task execution.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusError   Status = "error"
)

// Value is what the status gauge carries: 1, 0 or -1.
func (s Status) Value() float64 {
	switch s {
	case StatusSuccess:
		return 1
	case StatusFailure:
		return 0
	default:
		return -1
	}
}

// TaskResult is the outcome of a single task run inside a flow iteration.
// It lives for one iteration only.
type TaskResult struct {
	Flow      string        `json:"flow"`
	Task      string        `json:"task"`
	Status    Status        `json:"status"`
	Output    string        `json:"output,omitempty"`
	Stderr    string        `json:"stderr,omitempty"`
	Labels    Labels        `json:"labels"`
	Metrics   []Metric      `json:"metrics,omitempty"`
	Err       error         `json:"-"`
	Duration  time.Duration `json:"duration"`
	CheckedAt time.Time     `json:"checked_at"`
}

func (r TaskResult) Up() bool { return r.Status == StatusSuccess }
