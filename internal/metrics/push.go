package metrics

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/push"
	"go.uber.org/zap"
)

const (
	DefaultPushURL     = "http://127.0.0.1:9091"
	DefaultPushJob     = "sertus"
	DefaultPushEvery   = 10 * time.Second
	DefaultIdleTimeout = 60 * time.Second
)

// Pusher sends the full registry snapshot to a Prometheus push gateway on
// every tick. PUT semantics replace the whole group, so series dropped by
// the registry's idle timeout disappear from the gateway too.
type Pusher struct {
	Logger   *zap.Logger
	Registry *Registry
	URL      string
	Job      string
	Grouping map[string]string
	Interval time.Duration
	Client   *http.Client
}

func NewPusher(l *zap.Logger, reg *Registry, url, job string, grouping map[string]string, interval time.Duration) *Pusher {
	if url == "" {
		url = DefaultPushURL
	}
	if job == "" {
		job = DefaultPushJob
	}
	if interval <= 0 {
		interval = DefaultPushEvery
	}
	if len(grouping) == 0 {
		if host, err := os.Hostname(); err == nil && host != "" {
			grouping = map[string]string{"instance": host}
		}
	}
	return &Pusher{
		Logger:   l,
		Registry: reg,
		URL:      url,
		Job:      job,
		Grouping: grouping,
		Interval: interval,
		Client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (p *Pusher) pusher() *push.Pusher {
	ps := push.New(p.URL, p.Job).Gatherer(p.Registry.Gatherer()).Client(p.Client)
	for k, v := range p.Grouping {
		ps = ps.Grouping(k, v)
	}
	return ps
}

// PushOnce pushes the current snapshot.
func (p *Pusher) PushOnce(ctx context.Context) error {
	return p.pusher().PushContext(ctx)
}

// Run pushes every Interval until ctx is cancelled. Failed pushes are
// logged and retried on the next tick.
func (p *Pusher) Run(ctx context.Context) error {
	p.Logger.Info("pushgateway_started",
		zap.String("url", p.URL),
		zap.String("job", p.Job),
		zap.Duration("interval", p.Interval),
	)
	t := time.NewTicker(p.Interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			p.Logger.Info("pushgateway_stopped")
			return nil
		case <-t.C:
			if err := p.PushOnce(ctx); err != nil {
				p.Logger.Warn("pushgateway_push_error", zap.String("url", p.URL), zap.Error(err))
				continue
			}
			p.Logger.Debug("pushgateway_pushed", zap.Int("series", p.Registry.Len()))
		}
	}
}
