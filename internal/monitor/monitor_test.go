package monitor_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/jmerrifield20/DocumentChain/internal/alert"
	"github.com/jmerrifield20/DocumentChain/internal/integrity"
	"github.com/jmerrifield20/DocumentChain/internal/monitor"
)

var ctx = context.Background()

// ── Stubs ──────────────────────────────────────────────────────────────────

// scriptedProbe returns the scripted statuses in order, then repeats the last.
type scriptedProbe struct {
	mu       sync.Mutex
	script   []integrity.Status
	calls    int
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	delay    time.Duration
}

func (p *scriptedProbe) Check(ctx context.Context) integrity.Report {
	n := p.inFlight.Add(1)
	defer p.inFlight.Add(-1)
	for {
		old := p.maxSeen.Load()
		if n <= old || p.maxSeen.CompareAndSwap(old, n) {
			break
		}
	}
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return integrity.Report{Status: integrity.StatusUnknown, Err: ctx.Err()}
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.calls
	if i >= len(p.script) {
		i = len(p.script) - 1
	}
	p.calls++
	return integrity.Report{Status: p.script[i], Details: json.RawMessage(`{"Integrity":false}`)}
}

func (p *scriptedProbe) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type blockingProbe struct{}

func (blockingProbe) Check(ctx context.Context) integrity.Report {
	time.Sleep(time.Second)
	return integrity.Report{Status: integrity.StatusInvalid}
}

type panickingProbe struct{}

func (panickingProbe) Check(context.Context) integrity.Report { panic("probe exploded") }

type countingAlerter struct {
	mu      sync.Mutex
	details []json.RawMessage
}

func (a *countingAlerter) Notify(_ context.Context, details json.RawMessage) alert.Delivery {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.details = append(a.details, details)
	return alert.Delivery{Recipients: 2, Sent: true}
}

func (a *countingAlerter) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.details)
}

type panickingAlerter struct{}

func (panickingAlerter) Notify(context.Context, json.RawMessage) alert.Delivery {
	panic("smtp exploded")
}

type failingStatusStore struct{}

func (failingStatusStore) Load(context.Context) (integrity.Status, error) {
	return integrity.StatusUnknown, errors.New("store down")
}

func (failingStatusStore) Swap(context.Context, integrity.Status) (integrity.Status, error) {
	return integrity.StatusUnknown, errors.New("store down")
}

// ── Tests ──────────────────────────────────────────────────────────────────

func TestMonitor_transitionsAndAlerts(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	probe := &scriptedProbe{script: []integrity.Status{
		integrity.StatusValid, integrity.StatusValid, integrity.StatusInvalid,
		integrity.StatusInvalid, integrity.StatusValid,
	}}
	alerter := &countingAlerter{}
	m := monitor.New(probe, alerter, nil, monitor.Config{}, zap.New(core))

	var alertTicks, transitionTicks []int
	for i := 0; i < 5; i++ {
		before := logs.FilterMessage("integrity status changed").Len()
		o := m.CheckNow(ctx)
		if o.AlertSent {
			alertTicks = append(alertTicks, i)
		}
		if logs.FilterMessage("integrity status changed").Len() > before {
			transitionTicks = append(transitionTicks, i)
		}
	}

	assert.Equal(t, []int{2, 3}, alertTicks)
	assert.Equal(t, []int{2, 4}, transitionTicks)
	assert.Equal(t, 2, alerter.count())

	changes := logs.FilterMessage("integrity status changed").All()
	require.Len(t, changes, 2)
	assert.Equal(t, zapcore.WarnLevel, changes[0].Level)
	assert.Equal(t, "invalid", changes[0].ContextMap()["to"])
	assert.Equal(t, zapcore.InfoLevel, changes[1].Level)
	assert.Equal(t, "valid", changes[1].ContextMap()["to"])

	st, err := m.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, integrity.StatusValid, st)
}

func TestMonitor_checkNowOutcome(t *testing.T) {
	probe := &scriptedProbe{script: []integrity.Status{integrity.StatusInvalid}}
	m := monitor.New(probe, &countingAlerter{}, nil, monitor.Config{}, zap.NewNop())

	o := m.CheckNow(ctx)
	assert.Equal(t, integrity.StatusInvalid, o.Status)
	assert.True(t, o.AlertSent)
	assert.Equal(t, 2, o.Recipients)
	assert.JSONEq(t, `{"Integrity":false}`, string(o.Details))
}

func TestMonitor_timeoutSkipsTick(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	alerter := &countingAlerter{}
	m := monitor.New(blockingProbe{}, alerter, nil,
		monitor.Config{ProbeTimeout: 30 * time.Millisecond}, zap.New(core))

	start := time.Now()
	o := m.CheckNow(ctx)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, integrity.StatusUnknown, o.Status)
	assert.ErrorIs(t, o.Err, context.DeadlineExceeded)
	assert.Zero(t, alerter.count())
	assert.Equal(t, 1, logs.FilterMessage("integrity probe indeterminate; skipping tick").Len())

	st, _ := m.Status(ctx)
	assert.Equal(t, integrity.StatusValid, st, "unknown must not overwrite last-known")
}

func TestMonitor_unknownDoesNotResetEdge(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	probe := &scriptedProbe{script: []integrity.Status{
		integrity.StatusInvalid, integrity.StatusUnknown, integrity.StatusInvalid,
	}}
	alerter := &countingAlerter{}
	m := monitor.New(probe, alerter, nil, monitor.Config{}, zap.New(core))

	for i := 0; i < 3; i++ {
		m.CheckNow(ctx)
	}
	assert.Equal(t, 1, logs.FilterMessage("integrity status changed").Len())
	assert.Equal(t, 2, alerter.count())
}

func TestMonitor_recoversFromPanic(t *testing.T) {
	t.Run("probe", func(t *testing.T) {
		core, logs := observer.New(zap.WarnLevel)
		m := monitor.New(panickingProbe{}, &countingAlerter{}, nil, monitor.Config{}, zap.New(core))

		o := m.CheckNow(ctx)
		assert.Equal(t, integrity.StatusUnknown, o.Status)
		assert.ErrorContains(t, o.Err, "probe exploded")
		assert.Equal(t, 1, logs.FilterMessage("integrity probe indeterminate; skipping tick").Len())
	})

	t.Run("alerter", func(t *testing.T) {
		core, logs := observer.New(zap.ErrorLevel)
		probe := &scriptedProbe{script: []integrity.Status{integrity.StatusInvalid}}
		m := monitor.New(probe, panickingAlerter{}, nil, monitor.Config{}, zap.New(core))

		o := m.CheckNow(ctx)
		assert.Equal(t, integrity.StatusUnknown, o.Status)
		assert.Equal(t, 1, logs.FilterMessage("integrity tick panicked").Len())

		// Later cycles still run.
		m.CheckNow(ctx)
		assert.Equal(t, 2, logs.FilterMessage("integrity tick panicked").Len())
		assert.Equal(t, 2, probe.count())
	})
}

func TestMonitor_statusStoreFailureStillAlerts(t *testing.T) {
	probe := &scriptedProbe{script: []integrity.Status{integrity.StatusInvalid}}
	alerter := &countingAlerter{}
	m := monitor.New(probe, alerter, failingStatusStore{}, monitor.Config{}, zap.NewNop())

	o := m.CheckNow(ctx)
	assert.True(t, o.AlertSent)
	assert.Equal(t, 1, alerter.count())
}

func TestMonitor_hooks(t *testing.T) {
	probe := &scriptedProbe{script: []integrity.Status{
		integrity.StatusValid, integrity.StatusUnknown, integrity.StatusInvalid,
	}}
	m := monitor.New(probe, &countingAlerter{}, nil, monitor.Config{}, zap.NewNop())

	var statuses []integrity.Status
	var outcomes []monitor.Outcome
	m.SetStatusHook(func(s integrity.Status) { statuses = append(statuses, s) })
	m.SetMetricsRecord(func(o monitor.Outcome) { outcomes = append(outcomes, o) })

	for i := 0; i < 3; i++ {
		m.CheckNow(ctx)
	}
	assert.Equal(t, []integrity.Status{integrity.StatusValid, integrity.StatusInvalid}, statuses)
	require.Len(t, outcomes, 3)
	assert.Equal(t, integrity.StatusUnknown, outcomes[1].Status)
	assert.True(t, outcomes[2].AlertSent)
}

func TestMonitor_runFixedDelayIsSequential(t *testing.T) {
	probe := &scriptedProbe{
		script: []integrity.Status{integrity.StatusValid},
		delay:  5 * time.Millisecond,
	}
	m := monitor.New(probe, &countingAlerter{}, nil,
		monitor.Config{Interval: time.Millisecond, Workers: 4}, zap.NewNop())

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- m.Run(runCtx) }()

	require.Eventually(t, func() bool { return probe.count() >= 5 }, 2*time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, int32(1), probe.maxSeen.Load(), "fixed-delay ticks overlapped")
}

func TestMonitor_runStopsOnCancel(t *testing.T) {
	probe := &scriptedProbe{script: []integrity.Status{integrity.StatusValid}}
	m := monitor.New(probe, &countingAlerter{}, nil, monitor.Config{Interval: time.Hour}, zap.NewNop())

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- m.Run(runCtx) }()

	require.Eventually(t, func() bool { return probe.count() == 1 }, time.Second, time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestMonitor_runRejectsBadCron(t *testing.T) {
	m := monitor.New(&scriptedProbe{script: []integrity.Status{integrity.StatusValid}},
		&countingAlerter{}, nil, monitor.Config{Cron: "not a schedule"}, zap.NewNop())
	assert.Error(t, m.Run(ctx))
}

func TestMonitor_cronSourceTicks(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for the calendar schedule")
	}
	probe := &scriptedProbe{script: []integrity.Status{integrity.StatusValid}}
	m := monitor.New(probe, &countingAlerter{}, nil,
		monitor.Config{Interval: time.Hour, Cron: "@every 1s"}, zap.NewNop())

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() { _ = m.Run(runCtx) }()

	// One tick from the fixed-delay source at start, then the cron tick.
	require.Eventually(t, func() bool { return probe.count() >= 2 }, 3*time.Second, 10*time.Millisecond)
}

func TestMemoryStatusStore(t *testing.T) {
	s := monitor.NewMemoryStatusStore()
	st, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, integrity.StatusValid, st)

	prev, err := s.Swap(ctx, integrity.StatusInvalid)
	require.NoError(t, err)
	assert.Equal(t, integrity.StatusValid, prev)

	st, _ = s.Load(ctx)
	assert.Equal(t, integrity.StatusInvalid, st)
}

func TestRedisStatusStore(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	s := monitor.NewRedisStatusStore(addr, os.Getenv("REDIS_PASSWORD"), 15)
	defer s.Close()
	require.NoError(t, s.Ping(ctx))

	// Start from a clean key.
	_, err := s.Swap(ctx, integrity.StatusValid)
	require.NoError(t, err)

	prev, err := s.Swap(ctx, integrity.StatusInvalid)
	require.NoError(t, err)
	assert.Equal(t, integrity.StatusValid, prev)

	st, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, integrity.StatusInvalid, st)
}

func TestRedisStatusStore_unreachable(t *testing.T) {
	s := monitor.NewRedisStatusStore("127.0.0.1:1", "", 0)
	defer s.Close()

	cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	assert.Error(t, s.Ping(cctx))
	_, err := s.Load(cctx)
	assert.Error(t, err)
	_, err = s.Swap(cctx, integrity.StatusInvalid)
	assert.Error(t, err)
}
