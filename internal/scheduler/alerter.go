package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/sertus/internal/domain"
)

type Notifier interface {
	Send(ctx context.Context, title, text string) error
}

type AlerterConfig struct {
	AlertOnRecovery bool
	Cooldown        time.Duration
	SendTimeout     time.Duration
}

type alertRecord struct {
	up         bool
	deferred   bool
	lastSentAt time.Time
}

// Alerter turns task status transitions into notifications. A task that
// goes down is reported once per outage, and at most once per Cooldown; a
// recovery is reported when AlertOnRecovery is set. Errors count as down.
// It is shared by all flows.
type Alerter struct {
	logger   *zap.Logger
	notifier Notifier
	cfg      AlerterConfig

	mu      sync.Mutex
	records map[string]*alertRecord
	now     func() time.Time
}

func NewAlerter(logger *zap.Logger, notifier Notifier, cfg AlerterConfig) *Alerter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 5 * time.Second
	}
	return &Alerter{
		logger:   logger,
		notifier: notifier,
		cfg:      cfg,
		records:  make(map[string]*alertRecord),
		now:      time.Now,
	}
}

// Observe records the result and sends a notification if the task changed
// state. It reports whether a notification was attempted.
func (a *Alerter) Observe(ctx context.Context, r domain.TaskResult) bool {
	if a == nil || a.notifier == nil {
		return false
	}
	key := r.Flow + "\x00" + r.Task
	up := r.Up()
	now := a.now()

	a.mu.Lock()
	rec, seen := a.records[key]
	if !seen {
		rec = &alertRecord{up: true}
		a.records[key] = rec
	}
	stateChanged := rec.up != up
	// cooldown only suppresses repeated DOWN alerts
	cooled := rec.lastSentAt.IsZero() || now.Sub(rec.lastSentAt) >= a.cfg.Cooldown

	downAlert := !up && (stateChanged || rec.deferred) && cooled
	recoveryAlert := stateChanged && up && a.cfg.AlertOnRecovery
	// a DOWN transition inside the cooldown is sent once the cooldown ends,
	// if the task is still down by then
	rec.deferred = !up && !downAlert && (stateChanged || rec.deferred)
	rec.up = up
	if downAlert || recoveryAlert {
		rec.lastSentAt = now
	}
	a.mu.Unlock()

	if !downAlert && !recoveryAlert {
		return false
	}

	title := "🔴 Task DOWN"
	if up {
		title = "🟢 Task RECOVERED"
	}
	detail := truncate(r.Output, 300)
	if r.Err != nil {
		detail = r.Err.Error()
	}
	text := fmt.Sprintf(
		"Flow: %s\nTask: %s\nStatus: %s\nDetail: %s\nChecked: %s",
		r.Flow, r.Task, r.Status, detail, r.CheckedAt.Format(time.RFC3339),
	)

	sctx, cancel := context.WithTimeout(ctx, a.cfg.SendTimeout)
	defer cancel()
	if err := a.notifier.Send(sctx, title, text); err != nil {
		a.logger.Warn("alert_send_error",
			zap.String("flow", r.Flow),
			zap.String("task", r.Task),
			zap.Error(err),
		)
	}
	return true
}
