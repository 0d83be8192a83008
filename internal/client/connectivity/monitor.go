// Package connectivity tracks whether the server is reachable.
//
// Monitor is the single source of truth for online state. Set is
// edge-triggered: subscribers hear about transitions only, never repeats.
// Run drives Set from a periodic probe; tests and platform hooks may call Set
// directly.
package connectivity

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrijs2005/finkeeper/internal/logging"
	"github.com/dmitrijs2005/finkeeper/internal/notify"
)

// ProbeTimeout bounds a single reachability check.
const ProbeTimeout = 3 * time.Second

// Prober checks reachability. client.HTTPClient and client.HealthProber
// implement it.
type Prober interface {
	Ping(ctx context.Context) error
}

type Monitor struct {
	// setMu serializes transitions with their notifications so subscribers
	// see them in the order the state changed.
	setMu sync.Mutex

	mu     sync.Mutex
	online bool
	broker *notify.Broker[bool]
	logger logging.Logger
}

// NewMonitor starts in the offline state.
func NewMonitor(logger logging.Logger) *Monitor {
	if logger == nil {
		logger = logging.NopLogger{}
	}
	return &Monitor{
		broker: notify.NewBroker[bool](),
		logger: logger.With("module", "connectivity"),
	}
}

func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Subscribe registers fn for transitions. fn runs on the goroutine that
// called Set and must not block for long or call Set itself.
func (m *Monitor) Subscribe(fn func(online bool)) (unsubscribe func()) {
	return m.broker.Subscribe(fn)
}

// Set records the current state and notifies subscribers if it changed.
func (m *Monitor) Set(online bool) {
	m.setMu.Lock()
	defer m.setMu.Unlock()

	m.mu.Lock()
	changed := m.online != online
	m.online = online
	m.mu.Unlock()

	if !changed {
		return
	}
	if online {
		m.logger.Info(context.Background(), "switched to online mode")
	} else {
		m.logger.Info(context.Background(), "switched to offline mode")
	}
	m.broker.Publish(online)
}

// Check probes once and updates the state.
func (m *Monitor) Check(ctx context.Context, p Prober) bool {
	ctx, cancel := context.WithTimeout(ctx, ProbeTimeout)
	err := p.Ping(ctx)
	cancel()

	if err != nil {
		m.logger.Debug(ctx, "probe failed", "error", err)
	}
	m.Set(err == nil)
	return err == nil
}

// Run probes immediately and then every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context, p Prober, interval time.Duration) {
	m.Check(ctx, p)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Check(ctx, p)
		case <-ctx.Done():
			return
		}
	}
}
