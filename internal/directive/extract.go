// Package directive extracts labels and metrics that checker output embeds
// as directive lines:
//
//	#label {region=us-east, tier=gold}
//	#metric queue_depth gauge {queue=jobs} 42.5
//	#metric jobs_done counter {queue=jobs} 7
//
// A directive must start at the beginning of a line. Label values run up to
// the next comma or closing brace; there is no escaping. Lines that do not
// match are ignored, a gauge or counter value that does not parse becomes
// zero, and a metric with an unknown kind is dropped with a warning.
package directive

import (
	"regexp"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/hamed0406/sertus/internal/domain"
)

const (
	labelToken  = "#label"
	metricToken = "#metric"
)

type patterns struct {
	label  *regexp.Regexp
	metric *regexp.Regexp
}

var compiled = sync.OnceValues(func() (*patterns, error) {
	label, err := regexp.Compile(`^#label\s*\{([^}]*)\}`)
	if err != nil {
		return nil, err
	}
	metric, err := regexp.Compile(`^#metric\s+([A-Za-z_:][\w:]*)\s+(\w+)\s*\{([^}]*)\}\s+(\S+)\s*$`)
	if err != nil {
		return nil, err
	}
	return &patterns{label: label, metric: metric}, nil
})

// Result holds what one output blob declared, in order of appearance.
type Result struct {
	Labels  domain.Labels
	Metrics []domain.Metric
}

type Extractor struct {
	Logger *zap.Logger
}

func NewExtractor(logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{Logger: logger}
}

// Extract is a convenience wrapper around an Extractor that does not log.
func Extract(output string) Result {
	return NewExtractor(nil).Extract(output)
}

func (e *Extractor) Extract(output string) Result {
	res := Result{Labels: domain.Labels{}, Metrics: []domain.Metric{}}
	if !strings.Contains(output, "#") {
		return res
	}
	p, err := compiled()
	if err != nil {
		e.logger().Error("directive_patterns_invalid", zap.Error(err))
		return res
	}

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimRight(line, " \t\r")
		switch {
		case strings.HasPrefix(line, labelToken):
			m := p.label.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			res.Labels = append(res.Labels, parsePairs(m[1])...)
		case strings.HasPrefix(line, metricToken):
			m := p.metric.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			metric, ok := e.parseMetric(m[1], m[2], m[3], m[4])
			if ok {
				res.Metrics = append(res.Metrics, metric)
			}
		}
	}
	return res
}

func (e *Extractor) parseMetric(name, kind, labels, value string) (domain.Metric, bool) {
	k, ok := domain.ParseMetricKind(kind)
	if !ok {
		e.logger().Warn("unknown_metric_kind",
			zap.String("metric", name),
			zap.String("kind", kind),
		)
		return domain.Metric{}, false
	}

	m := domain.Metric{Name: name, Kind: k, Labels: parsePairs(labels)}
	switch k {
	case domain.KindGauge:
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			// ParseFloat returns ±Inf on range errors
			e.logger().Debug("metric_value_defaulted", zap.String("metric", name), zap.String("value", value))
			v = 0
		}
		m.Gauge = v
	case domain.KindCounter:
		v, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			e.logger().Debug("metric_value_defaulted", zap.String("metric", name), zap.String("value", value))
			v = 0
		}
		m.Counter = v
	}
	return m, true
}

func (e *Extractor) logger() *zap.Logger {
	if e == nil || e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

// parsePairs splits "k1=v1, k2=v2". The first '=' separates key from value;
// items without one, or with an empty key, are skipped.
func parsePairs(body string) domain.Labels {
	out := domain.Labels{}
	for _, item := range strings.Split(body, ",") {
		key, value, found := strings.Cut(item, "=")
		key = strings.TrimSpace(key)
		if !found || key == "" {
			continue
		}
		out = append(out, domain.Label{Key: key, Value: strings.TrimSpace(value)})
	}
	return out
}
