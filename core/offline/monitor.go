package offline

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/sylorafashion-deenora/Deenora-tech/core"
)

type (
	// Probe checks that the backend is reachable.
	Probe interface {
		Ping(ctx context.Context) error
	}

	Replayer interface {
		Replay(ctx context.Context) (ReplayReport, error)
	}
)

// Monitor tracks connectivity and triggers a replay on every offline to online transition.
// It starts offline, so the first successful probe is a transition.
type Monitor struct {
	probe    Probe
	replayer Replayer
	interval time.Duration
	logger   core.Logger

	mu     sync.RWMutex
	online bool

	ctx    context.Context // replays outlive the request that reported the transition
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewMonitor(probe Probe, replayer Replayer, interval time.Duration, logger core.Logger) *Monitor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Monitor{
		probe:    probe,
		replayer: replayer,
		interval: interval,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (m *Monitor) IsOnline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// SetOnline records a connectivity report. It reports whether a replay was started.
func (m *Monitor) SetOnline(online bool) bool {
	m.mu.Lock()
	transition := online && !m.online
	changed := online != m.online
	m.online = online
	m.mu.Unlock()

	if changed {
		m.logger.Info("connectivity changed", map[string]interface{}{"online": online})
	}
	if transition {
		m.startReplay()
	}
	return transition
}

// Check probes the backend once and records the outcome.
func (m *Monitor) Check(ctx context.Context) bool {
	err := m.probe.Ping(ctx)
	if err != nil && m.IsOnline() {
		m.logger.Warn("connectivity probe failed", errors.Wrap(err, "probing backend"))
	}
	m.SetOnline(err == nil)
	return err == nil
}

// Run probes the backend immediately, then every interval, until ctx is done.
// A zero interval probes once.
func (m *Monitor) Run(ctx context.Context) {
	m.Check(ctx)
	if m.interval <= 0 {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

func (m *Monitor) startReplay() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		report, err := m.replayer.Replay(m.ctx)
		switch {
		case errors.Cause(err) == ErrReplayInProgress:
			m.logger.Debug("replay already running")
		case err != nil:
			m.logger.Error("replaying sync queue", err)
		case len(report.Failed) > 0:
			m.logger.Warn("sync queue replayed with failures", report)
		}
	}()
}

// Wait blocks until the replays started so far are done.
func (m *Monitor) Wait() {
	m.wg.Wait()
}

// Stop cancels running replays and waits for them to return.
func (m *Monitor) Stop() {
	m.cancel()
	m.wg.Wait()
}
