// Package netmon watches device connectivity and scores its quality so the
// sync coordinator can decide when a drain is worth attempting.
package netmon

import (
	"context"
	"sync"
	"time"

	"github.com/basculapp/fieldsync/internal/logging"
)

// LinkType classifies the active network interface.
type LinkType string

const (
	LinkWifi     LinkType = "wifi"
	LinkEthernet LinkType = "ethernet"
	LinkCellular LinkType = "cellular"
	LinkOther    LinkType = "other"
	LinkNone     LinkType = "none"
)

// Status is one connectivity sample.
type Status struct {
	Connected         bool
	LinkType          LinkType
	InternetReachable bool
	SampledAt         time.Time
}

// Stability summarizes recent connectivity churn.
type Stability string

const (
	StabilityStable   Stability = "stable"
	StabilityUnstable Stability = "unstable"
	StabilityUnknown  Stability = "unknown"
)

// Prober produces connectivity samples. Production probes interfaces and the
// server health endpoint; tests script the sequence.
type Prober interface {
	Probe(ctx context.Context) Status
}

const (
	historyCap      = 10
	stabilityWindow = 5
	// Two or more connect flips inside the window means the link is
	// bouncing and a drain would likely fail mid-batch.
	maxFlipsStable = 2
)

// Monitor samples connectivity on an interval, keeps a short history, and
// notifies subscribers of changes and restored-connectivity edges.
type Monitor struct {
	prober   Prober
	interval time.Duration

	mu          sync.Mutex
	current     Status
	hasSample   bool
	history     []Status
	subscribers map[int]chan Status
	restored    map[int]chan Status
	nextSubID   int

	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool
}

// NewMonitor creates a monitor. Start must be called to begin sampling.
func NewMonitor(prober Prober, interval time.Duration) *Monitor {
	return &Monitor{
		prober:      prober,
		interval:    interval,
		subscribers: make(map[int]chan Status),
		restored:    make(map[int]chan Status),
	}
}

// Start launches the sampling loop. It takes an immediate first sample so
// callers get a usable status without waiting one interval.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	m.mu.Unlock()

	go m.run(ctx)
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.doneCh)

	m.Observe(m.prober.Probe(ctx))

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Observe(m.prober.Probe(ctx))
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop halts the sampling loop and waits for it to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	close(m.stopCh)
	done := m.doneCh
	m.mu.Unlock()

	<-done
}

// Observe ingests one sample, updating history and firing notifications.
// The restored stream fires only on an offline to online edge: repeated
// online samples never re-fire it.
func (m *Monitor) Observe(status Status) {
	if status.SampledAt.IsZero() {
		status.SampledAt = time.Now()
	}

	m.mu.Lock()
	wasConnected := m.hasSample && m.current.Connected
	changed := !m.hasSample ||
		m.current.Connected != status.Connected ||
		m.current.LinkType != status.LinkType ||
		m.current.InternetReachable != status.InternetReachable

	m.current = status
	m.hasSample = true
	m.history = append(m.history, status)
	if len(m.history) > historyCap {
		m.history = m.history[len(m.history)-historyCap:]
	}

	restoredEdge := !wasConnected && status.Connected && len(m.history) > 1

	var changeTargets, restoredTargets []chan Status
	if changed {
		for _, ch := range m.subscribers {
			changeTargets = append(changeTargets, ch)
		}
	}
	if restoredEdge {
		for _, ch := range m.restored {
			restoredTargets = append(restoredTargets, ch)
		}
	}
	m.mu.Unlock()

	if restoredEdge {
		logging.Info("Connectivity restored", map[string]interface{}{
			"link_type": string(status.LinkType),
			"reachable": status.InternetReachable,
		})
	}

	// Slow subscribers drop samples rather than stall the loop.
	for _, ch := range changeTargets {
		select {
		case ch <- status:
		default:
		}
	}
	for _, ch := range restoredTargets {
		select {
		case ch <- status:
		default:
		}
	}
}

// Current returns the latest sample.
func (m *Monitor) Current() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// History returns the retained samples, oldest first.
func (m *Monitor) History() []Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Status, len(m.history))
	copy(out, m.history)
	return out
}

// IsOnline reports whether the device has a link with working internet.
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current.Connected && m.current.InternetReachable
}

// Score rates the current connectivity from 0 (offline) to 100.
func (m *Monitor) Score() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return score(m.current)
}

func score(s Status) int {
	if !s.Connected {
		return 0
	}
	switch s.LinkType {
	case LinkWifi, LinkEthernet:
		if s.InternetReachable {
			return 100
		}
		return 80
	case LinkCellular:
		if s.InternetReachable {
			return 70
		}
		return 50
	default:
		if s.InternetReachable {
			return 30
		}
		return 10
	}
}

// CurrentStability classifies recent churn over the last samples.
func (m *Monitor) CurrentStability() Stability {
	m.mu.Lock()
	defer m.mu.Unlock()

	window := m.history
	if len(window) > stabilityWindow {
		window = window[len(window)-stabilityWindow:]
	}
	if len(window) < 2 {
		return StabilityUnknown
	}

	flips := 0
	for i := 1; i < len(window); i++ {
		if window[i].Connected != window[i-1].Connected {
			flips++
		}
	}
	if flips >= maxFlipsStable {
		return StabilityUnstable
	}
	return StabilityStable
}

// WaitForStable blocks until stability is reached or the context ends. It
// polls on the sampling interval so a freshly started monitor converges as
// samples arrive.
func (m *Monitor) WaitForStable(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		if m.CurrentStability() == StabilityStable {
			return nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Subscribe returns a channel receiving every status change plus an
// unsubscribe function.
func (m *Monitor) Subscribe() (<-chan Status, func()) {
	return m.subscribe(m.subscribers)
}

// SubscribeRestored returns a channel receiving one event per offline to
// online transition plus an unsubscribe function.
func (m *Monitor) SubscribeRestored() (<-chan Status, func()) {
	return m.subscribe(m.restored)
}

func (m *Monitor) subscribe(registry map[int]chan Status) (<-chan Status, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextSubID
	m.nextSubID++
	ch := make(chan Status, 4)
	registry[id] = ch

	return ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(registry, id)
	}
}
