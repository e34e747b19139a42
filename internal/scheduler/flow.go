package scheduler

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/hamed0406/sertus/internal/directive"
	"github.com/hamed0406/sertus/internal/domain"
	"github.com/hamed0406/sertus/internal/probe"
)

const (
	DefaultInterval = 3 * time.Second

	MetricTaskStatus   = "task_status"
	MetricTaskRuns     = "task_runs_total"
	MetricTaskDuration = "task_duration_seconds"

	outputPreview = 512
)

// Sink receives everything a flow reports. Implementations must be safe
// for concurrent use; every flow shares one.
//
// ReplaceGauge sets a gauge and drops the family's other series that carry
// all of identity; the status gauge uses it so a task has one live status
// series even when its script labels change.
type Sink interface {
	SetGauge(name string, labels domain.Labels, v float64) error
	ReplaceGauge(name string, identity, labels domain.Labels, v float64) error
	AddCounter(name string, labels domain.Labels, delta uint64) error
}

// Flow runs its tasks one after another, in declaration order, then sleeps
// for Interval and starts over. Tasks are never run concurrently within a
// flow; different flows do not coordinate at all.
type Flow struct {
	Name      string
	Interval  time.Duration
	Tasks     []Task
	Logger    *zap.Logger
	Sink      Sink
	Extractor *directive.Extractor
	Alerter   *Alerter
}

func NewFlow(
	logger *zap.Logger,
	sink Sink,
	name string,
	interval time.Duration,
	tasks []Task,
) *Flow {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Flow{
		Name:      name,
		Interval:  interval,
		Tasks:     tasks,
		Logger:    logger,
		Sink:      sink,
		Extractor: directive.NewExtractor(logger),
	}
}

// Run loops until ctx is cancelled. A failing or crashing task never ends
// the loop.
func (f *Flow) Run(ctx context.Context) {
	f.Logger.Info("flow_started",
		zap.String("flow", f.Name),
		zap.Duration("interval", f.Interval),
		zap.Int("tasks", len(f.Tasks)),
	)
	t := time.NewTimer(f.Interval)
	defer t.Stop()

	for {
		f.RunOnce(ctx)

		t.Reset(f.Interval)
		select {
		case <-ctx.Done():
			f.Logger.Info("flow_stopped", zap.String("flow", f.Name))
			return
		case <-t.C:
		}
	}
}

// RunOnce executes one iteration and returns the per-task results in
// execution order.
func (f *Flow) RunOnce(ctx context.Context) []domain.TaskResult {
	base := domain.Labels{{Key: "flow", Value: f.Name}}
	results := make([]domain.TaskResult, 0, len(f.Tasks))
	for _, t := range f.Tasks {
		if ctx.Err() != nil {
			break
		}
		res, ok := f.runTask(ctx, base, t)
		if !ok {
			break
		}
		results = append(results, res)
	}
	return results
}

// runTask reports false when ctx ended while the check ran; nothing is
// emitted for such a run.
func (f *Flow) runTask(ctx context.Context, base domain.Labels, t Task) (domain.TaskResult, bool) {
	labels := base.With("task", t.Name)
	res := domain.TaskResult{
		Flow:      f.Name,
		Task:      t.Name,
		Labels:    labels,
		CheckedAt: time.Now().UTC(),
	}

	start := time.Now()
	out, err := check(ctx, t)
	res.Duration = time.Since(start)

	if ctx.Err() != nil {
		f.Logger.Debug("task_cancelled",
			zap.String("flow", f.Name),
			zap.String("task", t.Name),
			zap.Error(err),
		)
		return res, false
	}

	if err != nil {
		res.Status = domain.StatusError
		res.Err = err
		f.replaceGauge(MetricTaskStatus, labels, labels, res.Status.Value())
	} else {
		ex := f.Extractor.Extract(out.Output)
		res.Output = out.Output
		res.Stderr = out.Stderr
		res.Labels = labels.Merge(ex.Labels)
		res.Metrics = ex.Metrics
		res.Status = domain.StatusFailure
		if out.Success {
			res.Status = domain.StatusSuccess
		}
		f.replaceGauge(MetricTaskStatus, labels, res.Labels, res.Status.Value())
		for _, m := range ex.Metrics {
			f.emit(m)
		}
	}

	f.addCounter(MetricTaskRuns, labels.With("status", string(res.Status)), 1)
	f.setGauge(MetricTaskDuration, labels, res.Duration.Seconds())
	f.logResult(t, res)

	if f.Alerter != nil {
		f.Alerter.Observe(ctx, res)
	}
	return res, true
}

// check runs the task's checker under its timeout. A panicking checker is
// reported like any other execution error.
func check(ctx context.Context, t Task) (out probe.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("checker panicked: %v", r)
		}
	}()
	if t.Checker == nil {
		return probe.Outcome{}, fmt.Errorf("task %q has no checker", t.Name)
	}
	if t.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.Timeout)
		defer cancel()
	}
	return t.Checker.Check(ctx)
}

func (f *Flow) emit(m domain.Metric) {
	switch m.Kind {
	case domain.KindCounter:
		f.addCounter(m.Name, m.Labels, m.Counter)
	default:
		f.setGauge(m.Name, m.Labels, m.Gauge)
	}
}

func (f *Flow) setGauge(name string, labels domain.Labels, v float64) {
	if f.Sink == nil {
		return
	}
	if err := f.Sink.SetGauge(name, labels, v); err != nil {
		f.Logger.Warn("metric_emit_error",
			zap.String("flow", f.Name),
			zap.String("metric", name),
			zap.Error(err),
		)
	}
}

func (f *Flow) replaceGauge(name string, identity, labels domain.Labels, v float64) {
	if f.Sink == nil {
		return
	}
	if err := f.Sink.ReplaceGauge(name, identity, labels, v); err != nil {
		f.Logger.Warn("metric_emit_error",
			zap.String("flow", f.Name),
			zap.String("metric", name),
			zap.Error(err),
		)
	}
}

func (f *Flow) addCounter(name string, labels domain.Labels, delta uint64) {
	if f.Sink == nil {
		return
	}
	if err := f.Sink.AddCounter(name, labels, delta); err != nil {
		f.Logger.Warn("metric_emit_error",
			zap.String("flow", f.Name),
			zap.String("metric", name),
			zap.Error(err),
		)
	}
}

func (f *Flow) logResult(t Task, res domain.TaskResult) {
	fields := []zap.Field{
		zap.String("flow", res.Flow),
		zap.String("task", res.Task),
		zap.Duration("duration", res.Duration),
	}
	if t.Checker != nil {
		fields = append(fields, zap.String("checker", string(t.Checker.Kind())), zap.Stringer("params", t.Checker))
	}

	switch res.Status {
	case domain.StatusError:
		f.Logger.Error("task_error", append(fields, zap.Error(res.Err))...)
		return
	case domain.StatusSuccess:
		fields = append(fields, zap.String("output", truncate(res.Output, outputPreview)))
		if res.Stderr != "" {
			fields = append(fields, zap.String("stderr", truncate(res.Stderr, outputPreview)))
		}
		f.Logger.Info("task_succeeded", append(fields, zap.Int("labels", len(res.Labels)), zap.Int("metrics", len(res.Metrics)))...)
	default:
		fields = append(fields, zap.String("output", truncate(res.Output, outputPreview)))
		if res.Stderr != "" {
			fields = append(fields, zap.String("stderr", truncate(res.Stderr, outputPreview)))
		}
		f.Logger.Warn("task_failed", fields...)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}
