package metrics

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/model"
	"go.uber.org/zap"

	"github.com/hamed0406/sertus/internal/domain"
)

const DefaultNamespace = "sertus"

var (
	ErrInvalidName  = errors.New("invalid metric name")
	ErrKindConflict = errors.New("metric already registered with another kind")
)

type series struct {
	names   []string
	values  []string
	value   float64
	updated time.Time
}

type family struct {
	kind   domain.MetricKind
	series map[string]*series
}

// Registry is the process-wide sink every flow writes to. It is an
// unchecked prometheus.Collector: series of one family may carry different
// label names, which is what script-defined labels need.
//
// Label keys that are not valid Prometheus label names are rewritten with
// '_' in place of each invalid character; keys that stay unusable (empty or
// reserved "__" names) are dropped. Label pairs with a repeated key then
// collapse to the first occurrence.
// When IdleTimeout is set, series not written for that long are dropped
// the next time the registry is collected.
type Registry struct {
	Namespace   string
	IdleTimeout time.Duration
	Logger      *zap.Logger

	mu       sync.Mutex
	families map[string]*family
	now      func() time.Time
	prom     *prometheus.Registry
}

func NewRegistry(namespace string, idleTimeout time.Duration) *Registry {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	r := &Registry{
		Namespace:   namespace,
		IdleTimeout: idleTimeout,
		Logger:      zap.NewNop(),
		families:    make(map[string]*family),
		now:         time.Now,
		prom:        prometheus.NewRegistry(),
	}
	r.prom.MustRegister(r)
	return r
}

// Gatherer exposes the registry to promhttp and the push client.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.prom }

func (r *Registry) SetGauge(name string, labels domain.Labels, v float64) error {
	return r.write(name, domain.KindGauge, labels, nil, func(s *series) { s.value = v })
}

// ReplaceGauge sets the gauge and removes every other series of the family
// whose labels include all of identity. It keeps one live series per
// identity when the remaining labels change between writes.
func (r *Registry) ReplaceGauge(name string, identity, labels domain.Labels, v float64) error {
	return r.write(name, domain.KindGauge, labels, identity, func(s *series) { s.value = v })
}

func (r *Registry) AddCounter(name string, labels domain.Labels, delta uint64) error {
	return r.write(name, domain.KindCounter, labels, nil, func(s *series) { s.value += float64(delta) })
}

func (r *Registry) fqName(name string) string {
	return r.Namespace + "_" + name
}

func (r *Registry) write(name string, kind domain.MetricKind, labels, identity domain.Labels, apply func(*series)) error {
	fq := r.fqName(name)
	if !model.IsValidLegacyMetricName(fq) {
		return fmt.Errorf("%w: %q", ErrInvalidName, fq)
	}
	names, values := r.normalize(fq, labels)
	key := seriesKey(names, values)
	var idNames, idValues []string
	if len(identity) > 0 {
		idNames, idValues = r.normalize(fq, identity)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.families[fq]
	if !ok {
		f = &family{kind: kind, series: make(map[string]*series)}
		r.families[fq] = f
	} else if f.kind != kind {
		return fmt.Errorf("%w: %s is a %s", ErrKindConflict, fq, f.kind)
	}
	s, ok := f.series[key]
	if !ok {
		s = &series{names: names, values: values}
		f.series[key] = s
	}
	apply(s)
	s.updated = r.now()

	if len(idNames) > 0 {
		for k, other := range f.series {
			if k != key && other.has(idNames, idValues) {
				delete(f.series, k)
			}
		}
	}
	return nil
}

func (s *series) has(names, values []string) bool {
	for i, n := range names {
		found := false
		for j, sn := range s.names {
			if sn == n {
				found = s.values[j] == values[i]
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// normalize sanitizes label names and drops repeated keys, first wins.
func (r *Registry) normalize(fq string, labels domain.Labels) ([]string, []string) {
	names := make([]string, 0, len(labels))
	values := make([]string, 0, len(labels))
	seen := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		key, ok := sanitizeLabelName(l.Key)
		if !ok {
			r.logger().Debug("label_dropped", zap.String("metric", fq), zap.String("label", l.Key))
			continue
		}
		if key != l.Key {
			r.logger().Debug("label_renamed", zap.String("metric", fq), zap.String("from", l.Key), zap.String("to", key))
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		names = append(names, key)
		values = append(values, strings.ToValidUTF8(l.Value, "�"))
	}
	return names, values
}

func (r *Registry) logger() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}

// sanitizeLabelName maps k to a valid, non-reserved Prometheus label name.
func sanitizeLabelName(k string) (string, bool) {
	k = strings.TrimSpace(k)
	if model.LabelName(k).IsValidLegacy() && !strings.HasPrefix(k, "__") {
		return k, true
	}
	var b strings.Builder
	for i, c := range k {
		switch {
		case c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z'):
			b.WriteRune(c)
		case c >= '0' && c <= '9':
			if i == 0 {
				b.WriteByte('_')
			}
			b.WriteRune(c)
		default:
			b.WriteByte('_')
		}
	}
	out := b.String()
	if out == "" || strings.HasPrefix(out, "__") || !model.LabelName(out).IsValidLegacy() {
		return "", false
	}
	return out, true
}

func seriesKey(names, values []string) string {
	idx := make([]int, len(names))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return names[idx[a]] < names[idx[b]] })
	var b strings.Builder
	for _, i := range idx {
		b.WriteString(names[i])
		b.WriteByte(0)
		b.WriteString(values[i])
		b.WriteByte(0)
	}
	return b.String()
}

// Describe sends nothing, which makes the registry an unchecked collector.
func (r *Registry) Describe(chan<- *prometheus.Desc) {}

func (r *Registry) Collect(ch chan<- prometheus.Metric) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	for fq, f := range r.families {
		vt := prometheus.GaugeValue
		if f.kind == domain.KindCounter {
			vt = prometheus.CounterValue
		}
		help := fmt.Sprintf("sertus %s %s", f.kind, fq)
		for key, s := range f.series {
			if r.IdleTimeout > 0 && now.Sub(s.updated) > r.IdleTimeout {
				delete(f.series, key)
				continue
			}
			desc := prometheus.NewDesc(fq, help, s.names, nil)
			m, err := prometheus.NewConstMetric(desc, vt, s.value, s.values...)
			if err != nil {
				ch <- prometheus.NewInvalidMetric(desc, err)
				continue
			}
			ch <- m
		}
		if len(f.series) == 0 {
			delete(r.families, fq)
		}
	}
}

// Len reports the number of live series, mostly for tests and logs.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, f := range r.families {
		n += len(f.series)
	}
	return n
}
