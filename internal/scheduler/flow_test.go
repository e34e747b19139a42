package scheduler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/hamed0406/sertus/internal/domain"
	"github.com/hamed0406/sertus/internal/metrics"
	"github.com/hamed0406/sertus/internal/probe"
)

// --- fakes ---

type emission struct {
	kind   string
	name   string
	labels domain.Labels
	value  float64
}

type recordingSink struct {
	mu   sync.Mutex
	all  []emission
	fail map[string]error
}

func (s *recordingSink) SetGauge(name string, labels domain.Labels, v float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail[name]; err != nil {
		return err
	}
	s.all = append(s.all, emission{"gauge", name, labels, v})
	return nil
}

func (s *recordingSink) ReplaceGauge(name string, _, labels domain.Labels, v float64) error {
	return s.SetGauge(name, labels, v)
}

func (s *recordingSink) AddCounter(name string, labels domain.Labels, delta uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail[name]; err != nil {
		return err
	}
	s.all = append(s.all, emission{"counter", name, labels, float64(delta)})
	return nil
}

func (s *recordingSink) named(name string) []emission {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []emission
	for _, e := range s.all {
		if e.name == name {
			out = append(out, e)
		}
	}
	return out
}

func script(t *testing.T, name, body string) *probe.ScriptChecker {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return probe.NewScriptChecker(p)
}

func taskOf(labels domain.Labels) string {
	v, _ := labels.Get("task")
	return v
}

// --- tests ---

func TestFlow_RunOnce_StatusAndExtractedMetrics(t *testing.T) {
	sink := &recordingSink{}
	ok := script(t, "ok.sh", "echo '#label {region=eu}'\necho '#metric queue_depth gauge {queue=jobs} 42.5'\necho '#metric jobs_done counter {queue=jobs} 7'\n")
	bad := script(t, "bad.sh", "echo down\nexit 1\n")

	f := NewFlow(zap.NewNop(), sink, "flow 1", 0, []Task{
		NewTask("ok", ok),
		NewTask("bad", bad),
	})
	if f.Interval != DefaultInterval {
		t.Fatalf("default interval = %v", f.Interval)
	}

	res := f.RunOnce(context.Background())
	if len(res) != 2 {
		t.Fatalf("want 2 results, got %d", len(res))
	}
	if res[0].Status != domain.StatusSuccess || res[1].Status != domain.StatusFailure {
		t.Fatalf("statuses = %s, %s", res[0].Status, res[1].Status)
	}

	status := sink.named(MetricTaskStatus)
	if len(status) != 2 {
		t.Fatalf("want 2 status gauges, got %+v", status)
	}
	want := domain.Labels{{Key: "flow", Value: "flow 1"}, {Key: "task", Value: "ok"}, {Key: "region", Value: "eu"}}
	if len(status[0].labels) != len(want) {
		t.Fatalf("merged labels = %v", status[0].labels)
	}
	for i := range want {
		if status[0].labels[i] != want[i] {
			t.Fatalf("label %d = %v, want %v", i, status[0].labels[i], want[i])
		}
	}
	if status[0].value != 1 || status[1].value != 0 {
		t.Fatalf("status values = %v, %v", status[0].value, status[1].value)
	}

	depth := sink.named("queue_depth")
	if len(depth) != 1 || depth[0].kind != "gauge" || depth[0].value != 42.5 {
		t.Fatalf("queue_depth = %+v", depth)
	}
	if v, _ := depth[0].labels.Get("queue"); v != "jobs" || len(depth[0].labels) != 1 {
		t.Fatalf("extracted metric should keep only its own labels: %v", depth[0].labels)
	}
	done := sink.named("jobs_done")
	if len(done) != 1 || done[0].kind != "counter" || done[0].value != 7 {
		t.Fatalf("jobs_done = %+v", done)
	}

	runs := sink.named(MetricTaskRuns)
	if len(runs) != 2 {
		t.Fatalf("runs = %+v", runs)
	}
	if s, _ := runs[1].labels.Get("status"); s != "failure" {
		t.Fatalf("runs status label = %q", s)
	}
}

func TestFlow_SpawnFailureDoesNotStopLaterTasks(t *testing.T) {
	sink := &recordingSink{}
	broken := script(t, "x.sh", "echo never\n")
	broken.Interpreter = "sertus-missing-interpreter"
	after := script(t, "after.sh", "echo fine\n")

	core, logs := observer.New(zapcore.InfoLevel)
	f := NewFlow(zap.New(core), sink, "f", time.Second, []Task{
		NewTask("broken", broken),
		NewTask("after", after),
	})

	res := f.RunOnce(context.Background())
	if len(res) != 2 {
		t.Fatalf("want both tasks to run, got %d", len(res))
	}
	if res[0].Status != domain.StatusError || !probe.IsExecutionError(res[0].Err) {
		t.Fatalf("first task = %+v", res[0])
	}
	if res[1].Status != domain.StatusSuccess {
		t.Fatalf("second task = %+v", res[1])
	}

	status := sink.named(MetricTaskStatus)
	if len(status) != 2 || status[0].value != -1 || status[1].value != 1 {
		t.Fatalf("status emissions = %+v", status)
	}
	if len(status[0].labels) != 2 {
		t.Fatalf("error status carries task labels only, got %v", status[0].labels)
	}

	if n := logs.FilterMessage("task_error").FilterLevelExact(zapcore.ErrorLevel).Len(); n != 1 {
		t.Fatalf("want 1 task_error log, got %d", n)
	}
	if n := logs.FilterMessage("task_succeeded").Len(); n != 1 {
		t.Fatalf("want 1 task_succeeded log, got %d", n)
	}
}

func TestFlow_FailureLoggedAsWarning(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	f := NewFlow(zap.New(core), &recordingSink{}, "f", time.Second, []Task{
		NewTask("bad", script(t, "bad.sh", "echo nope\nexit 2\n")),
	})
	f.RunOnce(context.Background())

	entries := logs.FilterMessage("task_failed").All()
	if len(entries) != 1 || entries[0].Level != zapcore.WarnLevel {
		t.Fatalf("want one warn task_failed, got %+v", entries)
	}
	if entries[0].ContextMap()["output"] != "nope\n" {
		t.Fatalf("output field = %v", entries[0].ContextMap()["output"])
	}
}

func TestFlow_TaskTimeoutIsError(t *testing.T) {
	sink := &recordingSink{}
	slow := NewTask("slow", script(t, "slow.sh", "exec sleep 5\n"))
	slow.Timeout = 50 * time.Millisecond

	f := NewFlow(zap.NewNop(), sink, "f", time.Second, []Task{slow})
	start := time.Now()
	res := f.RunOnce(context.Background())
	if res[0].Status != domain.StatusError {
		t.Fatalf("want error status, got %s", res[0].Status)
	}
	if time.Since(start) > 4*time.Second {
		t.Fatalf("timeout not enforced")
	}
}

func TestFlow_NilCheckerIsError(t *testing.T) {
	f := NewFlow(zap.NewNop(), &recordingSink{}, "f", time.Second, []Task{{Name: "empty"}})
	res := f.RunOnce(context.Background())
	if len(res) != 1 || res[0].Status != domain.StatusError {
		t.Fatalf("want error result, got %+v", res)
	}
}

// panicking borrows the unexported marker from a real variant.
type panicking struct{ *probe.ScriptChecker }

func (panicking) Check(context.Context) (probe.Outcome, error) { panic("boom") }

func TestFlow_CheckerPanicIsError(t *testing.T) {
	sink := &recordingSink{}
	f := NewFlow(zap.NewNop(), sink, "f", time.Second, []Task{
		NewTask("bad", panicking{probe.NewScriptChecker("unused.sh")}),
		NewTask("next", script(t, "ok.sh", "exit 0\n")),
	})
	res := f.RunOnce(context.Background())
	if len(res) != 2 {
		t.Fatalf("want 2 results, got %d", len(res))
	}
	if res[0].Status != domain.StatusError || res[0].Err == nil {
		t.Fatalf("want error result for panicking checker, got %+v", res[0])
	}
	if res[1].Status != domain.StatusSuccess {
		t.Fatalf("next task should still run, got %+v", res[1])
	}
}

func TestFlow_SinkErrorsAreSwallowed(t *testing.T) {
	sink := &recordingSink{fail: map[string]error{MetricTaskStatus: errors.New("boom")}}
	core, logs := observer.New(zapcore.WarnLevel)
	f := NewFlow(zap.New(core), sink, "f", time.Second, []Task{
		NewTask("a", script(t, "a.sh", "echo a\n")),
		NewTask("b", script(t, "b.sh", "echo b\n")),
	})

	res := f.RunOnce(context.Background())
	if len(res) != 2 {
		t.Fatalf("want 2 results, got %d", len(res))
	}
	if n := logs.FilterMessage("metric_emit_error").Len(); n != 2 {
		t.Fatalf("want 2 metric_emit_error logs, got %d", n)
	}
}

func TestFlow_RunKeepsDeclaredOrderAcrossIterations(t *testing.T) {
	sink := &recordingSink{}
	f := NewFlow(zap.NewNop(), sink, "f", 5*time.Millisecond, []Task{
		NewTask("first", script(t, "1.sh", "echo 1\n")),
		NewTask("second", script(t, "2.sh", "echo 2\nexit 1\n")),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for len(sink.named(MetricTaskStatus)) < 6 {
		if time.Now().After(deadline) {
			t.Fatalf("flow did not complete three iterations")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	status := sink.named(MetricTaskStatus)
	for i, e := range status {
		want := "first"
		if i%2 == 1 {
			want = "second"
		}
		if got := taskOf(e.labels); got != want {
			t.Fatalf("emission %d from task %q, want %q", i, got, want)
		}
	}
}

func TestFlow_ZeroTasksStillLoops(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	f := NewFlow(zap.New(core), &recordingSink{}, "idle", 5*time.Millisecond, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	f.Run(ctx)

	if logs.FilterMessage("flow_started").Len() != 1 || logs.FilterMessage("flow_stopped").Len() != 1 {
		t.Fatalf("unexpected logs: %+v", logs.All())
	}
	if len(f.RunOnce(context.Background())) != 0 {
		t.Fatalf("no tasks, no results")
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Fatalf("truncate short = %q", got)
	}
	if got := truncate("héllo", 2); got != "h…" {
		t.Fatalf("truncate must not split runes, got %q", got)
	}
}

func TestFlow_InvalidScriptLabelKeepsStatusSeries(t *testing.T) {
	reg := metrics.NewRegistry("sertus", 0)
	f := NewFlow(zap.NewNop(), reg, "f", time.Second, []Task{
		NewTask("t", script(t, "labels.sh", "echo '#label {bad-key=x, ok=y, __hidden=z}'\n")),
	})
	f.RunOnce(context.Background())

	expected := `
# HELP sertus_task_status sertus gauge sertus_task_status
# TYPE sertus_task_status gauge
sertus_task_status{bad_key="x",flow="f",ok="y",task="t"} 1
`
	if err := testutil.GatherAndCompare(reg.Gatherer(), strings.NewReader(expected), "sertus_task_status"); err != nil {
		t.Fatalf("status series: %v", err)
	}
}

func TestFlow_StatusSeriesFollowsChangingLabels(t *testing.T) {
	reg := metrics.NewRegistry("sertus", 0)
	toggle := script(t, "toggle.sh", `if [ -f "$0.seen" ]; then echo ok; exit 0; fi
touch "$0.seen"
echo '#label {reason=disk}'
exit 1
`)
	f := NewFlow(zap.NewNop(), reg, "f", time.Second, []Task{NewTask("t", toggle)})

	f.RunOnce(context.Background())
	f.RunOnce(context.Background())

	expected := `
# HELP sertus_task_status sertus gauge sertus_task_status
# TYPE sertus_task_status gauge
sertus_task_status{flow="f",task="t"} 1
`
	if err := testutil.GatherAndCompare(reg.Gatherer(), strings.NewReader(expected), "sertus_task_status"); err != nil {
		t.Fatalf("want a single live status series: %v", err)
	}
}

func TestFlow_CancelledCheckIsNotReported(t *testing.T) {
	sink := &recordingSink{}
	n := &memNotifier{}
	f := NewFlow(zap.NewNop(), sink, "f", time.Second, []Task{
		NewTask("slow", script(t, "slow.sh", "exec sleep 5\n")),
		NewTask("never", script(t, "never.sh", "echo never\n")),
	})
	f.Alerter = NewAlerter(zap.NewNop(), n, AlerterConfig{})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	res := f.RunOnce(ctx)

	if len(res) != 0 {
		t.Fatalf("want no results after shutdown, got %+v", res)
	}
	if len(sink.named(MetricTaskStatus)) != 0 || len(sink.named(MetricTaskRuns)) != 0 {
		t.Fatalf("nothing should be emitted, got %+v", sink.all)
	}
	if n.n() != 0 {
		t.Fatalf("no alert on shutdown, got %d", n.n())
	}
}
