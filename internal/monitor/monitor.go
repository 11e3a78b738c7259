// Package monitor polls an integrity signal on a schedule and alerts the
// registered recipients while the chain is compromised.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/jmerrifield20/DocumentChain/internal/alert"
	"github.com/jmerrifield20/DocumentChain/internal/integrity"
)

// Config holds monitor configuration.
type Config struct {
	// Interval is the delay between the end of one fixed-delay tick and the
	// start of the next.
	Interval time.Duration
	// Cron is an optional calendar schedule (robfig/cron syntax). Empty disables it.
	Cron         string
	ProbeTimeout time.Duration
	// Workers bounds how many ticks run at once across both schedules.
	Workers int
}

// Alerter delivers an alert for an invalid probe. *alert.Dispatcher
// implements it.
type Alerter interface {
	Notify(ctx context.Context, details json.RawMessage) alert.Delivery
}

// Outcome describes one probe-and-maybe-alert cycle.
type Outcome struct {
	Status     integrity.Status `json:"status"`
	AlertSent  bool             `json:"alert_sent"`
	Recipients int              `json:"recipients"`
	Details    json.RawMessage  `json:"details,omitempty"`
	Err        error            `json:"-"`
}

// MetricsRecordFunc is an optional callback for recording cycle results.
type MetricsRecordFunc func(o Outcome)

// StatusHookFunc is an optional callback invoked with every determinate status.
type StatusHookFunc func(s integrity.Status)

// Monitor runs periodic integrity probes.
type Monitor struct {
	probe   integrity.Prober
	alerter Alerter
	status  StatusStore
	cfg     Config
	logger  *zap.Logger

	sem       chan struct{}
	onMetrics MetricsRecordFunc
	onStatus  StatusHookFunc
}

// New creates a Monitor. A nil status store keeps the status in memory.
func New(probe integrity.Prober, alerter Alerter, status StatusStore, cfg Config, logger *zap.Logger) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 60 * time.Second
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 10 * time.Second
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if status == nil {
		status = NewMemoryStatusStore()
	}

	return &Monitor{
		probe:   probe,
		alerter: alerter,
		status:  status,
		cfg:     cfg,
		logger:  logger,
		sem:     make(chan struct{}, cfg.Workers),
	}
}

// SetMetricsRecord configures the metrics recording callback.
func (m *Monitor) SetMetricsRecord(fn MetricsRecordFunc) {
	m.onMetrics = fn
}

// SetStatusHook configures the status callback.
func (m *Monitor) SetStatusHook(fn StatusHookFunc) {
	m.onStatus = fn
}

// Status returns the last-known status.
func (m *Monitor) Status(ctx context.Context) (integrity.Status, error) {
	return m.status.Load(ctx)
}

// Run drives the fixed-delay schedule, and the calendar schedule when one
// is configured, until ctx is cancelled. In-flight probes are abandoned.
func (m *Monitor) Run(ctx context.Context) error {
	if m.cfg.Cron != "" {
		c := cron.New(cron.WithChain(
			cron.SkipIfStillRunning(cron.PrintfLogger(zap.NewStdLog(m.logger))),
		))
		if _, err := c.AddFunc(m.cfg.Cron, func() { m.tick(ctx, "cron") }); err != nil {
			return fmt.Errorf("parse monitor cron %q: %w", m.cfg.Cron, err)
		}
		c.Start()
		defer c.Stop()
	}

	m.logger.Info("integrity monitor started",
		zap.Duration("interval", m.cfg.Interval),
		zap.String("cron", m.cfg.Cron),
		zap.Int("workers", m.cfg.Workers),
	)

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("integrity monitor stopped")
			return nil
		case <-timer.C:
			m.tick(ctx, "interval")
			timer.Reset(m.cfg.Interval)
		}
	}
}

// CheckNow runs one cycle synchronously, outside the worker pool.
func (m *Monitor) CheckNow(ctx context.Context) Outcome {
	return m.safeCycle(ctx)
}

// tick runs one cycle on a pool worker and waits for it.
func (m *Monitor) tick(ctx context.Context, source string) {
	select {
	case m.sem <- struct{}{}:
	case <-ctx.Done():
		return
	}
	defer func() { <-m.sem }()

	o := m.safeCycle(ctx)
	m.logger.Debug("integrity tick complete",
		zap.String("source", source),
		zap.Stringer("status", o.Status),
		zap.Bool("alert_sent", o.AlertSent),
	)
}

func (m *Monitor) safeCycle(ctx context.Context) (o Outcome) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("integrity tick panicked", zap.Any("panic", r))
			o = Outcome{Status: integrity.StatusUnknown, Err: fmt.Errorf("tick panicked: %v", r)}
		}
	}()
	return m.cycle(ctx)
}

func (m *Monitor) cycle(ctx context.Context) Outcome {
	r := m.runProbe(ctx)
	o := Outcome{Status: r.Status, Details: r.Details, Err: r.Err}

	if r.Status == integrity.StatusUnknown {
		m.logger.Warn("integrity probe indeterminate; skipping tick", zap.Error(r.Err))
		m.record(o)
		return o
	}

	prev, err := m.status.Swap(ctx, r.Status)
	if err != nil {
		m.logger.Warn("could not update last-known integrity status", zap.Error(err))
	} else if prev != r.Status {
		fields := []zap.Field{zap.Stringer("from", prev), zap.Stringer("to", r.Status)}
		if r.Status == integrity.StatusInvalid {
			m.logger.Warn("integrity status changed", fields...)
		} else {
			m.logger.Info("integrity status changed", fields...)
		}
	}
	if m.onStatus != nil {
		m.onStatus(r.Status)
	}

	if r.Status == integrity.StatusInvalid {
		d := m.alerter.Notify(ctx, r.Details)
		o.AlertSent = d.Sent
		o.Recipients = d.Recipients
	}
	m.record(o)
	return o
}

func (m *Monitor) record(o Outcome) {
	if m.onMetrics != nil {
		m.onMetrics(o)
	}
}

// runProbe calls the probe on its own goroutine and gives up after
// ProbeTimeout, reporting StatusUnknown.
func (m *Monitor) runProbe(ctx context.Context) integrity.Report {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	defer cancel()

	done := make(chan integrity.Report, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- integrity.Report{Status: integrity.StatusUnknown, Err: fmt.Errorf("probe panicked: %v", r)}
			}
		}()
		done <- m.probe.Check(ctx)
	}()

	select {
	case r := <-done:
		return r
	case <-ctx.Done():
		return integrity.Report{Status: integrity.StatusUnknown, Err: fmt.Errorf("probe: %w", ctx.Err())}
	}
}
