// Package daemon runs the background refresh loop that promotes resources
// still being created once their provider reports them ready.
package daemon

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/metric"

	"github.com/yairfalse/stackforge/pkg/account"
)

// Refresher is the part of the engine the daemon drives.
type Refresher interface {
	Accounts(ctx context.Context) ([]*account.Account, error)
	Refresh(ctx context.Context, key account.Key) (*account.Account, error)
}

// Config holds daemon configuration
type Config struct {
	Interval time.Duration
}

// Daemon manages continuous refreshes
type Daemon struct {
	interval  time.Duration
	refresher Refresher
	metrics   *Metrics
	log       zerolog.Logger
	startTime time.Time

	runs     atomic.Int64
	promoted atomic.Int64
	pending  atomic.Int64
	lastRun  atomic.Int64
}

// NewDaemon creates a new daemon instance. A nil meter provider uses the
// global one.
func NewDaemon(config Config, r Refresher, mp metric.MeterProvider, log zerolog.Logger) (*Daemon, error) {
	if config.Interval <= 0 {
		config.Interval = time.Minute
	}
	m, err := NewMetrics(mp)
	if err != nil {
		return nil, err
	}
	return &Daemon{
		interval:  config.Interval,
		refresher: r,
		metrics:   m,
		log:       log.With().Str("component", "daemon").Logger(),
		startTime: time.Now(),
	}, nil
}

// Start runs one pass immediately and then one per interval until ctx is
// done.
func (d *Daemon) Start(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		d.RunOnce(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce refreshes every account holding a creating resource.
func (d *Daemon) RunOnce(ctx context.Context) {
	start := time.Now()
	status := "success"
	defer func() {
		d.runs.Add(1)
		d.lastRun.Store(time.Now().Unix())
		d.metrics.RecordRun(ctx, status, time.Since(start).Seconds())
	}()

	accounts, err := d.refresher.Accounts(ctx)
	if err != nil {
		status = "error"
		d.log.Error().Err(err).Msg("list accounts")
		return
	}

	var pending, promoted int64
	for _, acc := range accounts {
		before := creating(acc)
		if before == 0 {
			continue
		}
		if ctx.Err() != nil {
			status = "cancelled"
			return
		}

		refreshed, err := d.refresher.Refresh(ctx, acc.Key)
		if err != nil {
			status = "partial"
			pending += int64(before)
			d.log.Warn().Err(err).Str("key", acc.Key.String()).Msg("refresh account")
			continue
		}

		after := creating(refreshed)
		pending += int64(after)
		if before > after {
			promoted += int64(before - after)
			d.log.Info().
				Str("key", acc.Key.String()).
				Int("settled", before-after).
				Int("creating", after).
				Msg("resources settled")
		}
	}

	d.pending.Store(pending)
	d.promoted.Add(promoted)
	d.metrics.RecordPending(ctx, pending)
	d.metrics.RecordSettled(ctx, promoted)
}

func creating(acc *account.Account) int {
	n := 0
	for _, r := range acc.Resources {
		if r.Status == account.ResourceCreating {
			n++
		}
	}
	return n
}

// Health returns daemon health status
func (d *Daemon) Health() HealthStatus {
	h := HealthStatus{
		Status:   "healthy",
		Uptime:   int64(time.Since(d.startTime).Seconds()),
		Runs:     d.runs.Load(),
		Pending:  d.pending.Load(),
		Promoted: d.promoted.Load(),
	}
	if last := d.lastRun.Load(); last > 0 {
		t := time.Unix(last, 0).UTC()
		h.LastRun = &t
		if time.Since(t) > 3*d.interval {
			h.Status = "stalled"
		}
	}
	return h
}

// HealthStatus represents daemon health
type HealthStatus struct {
	Status   string     `json:"status"`
	Uptime   int64      `json:"uptime_seconds"`
	Runs     int64      `json:"runs"`
	Pending  int64      `json:"pending_resources"`
	Promoted int64      `json:"settled_resources"`
	LastRun  *time.Time `json:"last_run,omitempty"`
}

// RunCount returns total refresh passes run
func (d *Daemon) RunCount() int64 {
	return d.runs.Load()
}
