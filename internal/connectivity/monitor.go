// Package connectivity tracks whether the remote store is reachable by
// probing it on an interval, and notifies listeners on the offline→online
// transition so queued writes can be drained.
package connectivity

import (
	"context"
	"sync"
	"time"

	"github.com/ridelines/draftsync/internal/logging"
)

// DefaultInterval is how often the remote store is probed.
const DefaultInterval = 3 * time.Second

// Pinger reports remote reachability. The document store implements it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Monitor is the online/offline observable.
type Monitor struct {
	pinger   Pinger
	interval time.Duration
	logger   logging.Logger

	mu       sync.Mutex
	online   bool
	onOnline []func(ctx context.Context)
}

// New returns a Monitor that assumes it is online until a probe fails, so a
// session that starts connected does not wait one interval before syncing.
func New(pinger Pinger, interval time.Duration, logger logging.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = logging.Nop{}
	}
	return &Monitor{
		pinger:   pinger,
		interval: interval,
		logger:   logger,
		online:   true,
	}
}

// Online reports the last observed connectivity state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// OnOnline registers fn to run on every offline→online transition.
func (m *Monitor) OnOnline(fn func(ctx context.Context)) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onOnline = append(m.onOnline, fn)
}

// Run probes the store every interval until ctx is cancelled. It is intended
// to be started once per session:
//
//	go monitor.Run(ctx)
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Probe(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Probe performs a single reachability check and fires transition callbacks.
func (m *Monitor) Probe(ctx context.Context) {
	pingCtx, cancel := context.WithTimeout(ctx, m.interval)
	err := m.pinger.Ping(pingCtx)
	cancel()

	m.mu.Lock()
	wasOnline := m.online
	m.online = err == nil
	callbacks := append([]func(ctx context.Context){}, m.onOnline...)
	m.mu.Unlock()

	switch {
	case wasOnline && err != nil:
		m.logger.Warn(ctx, "remote store unreachable, switching to offline mode", "error", err)
	case !wasOnline && err == nil:
		m.logger.Info(ctx, "connectivity restored, switching to online mode")
		for _, fn := range callbacks {
			fn(ctx)
		}
	}
}
