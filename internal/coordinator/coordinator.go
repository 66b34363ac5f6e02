// Package coordinator schedules queue drains behind connectivity and timing
// gates so sync happens when a link is worth using and never twice at once.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/basculapp/fieldsync/internal/errors"
	"github.com/basculapp/fieldsync/internal/logging"
	"github.com/basculapp/fieldsync/internal/netmon"
	"github.com/basculapp/fieldsync/internal/notify"
	"github.com/basculapp/fieldsync/internal/queue"
)

// State is the coordinator's lifecycle phase.
type State string

const (
	StateIdle      State = "idle"
	StateScheduled State = "scheduled"
	StateRunning   State = "running"
)

// Config tunes scheduling behavior.
type Config struct {
	// Debounce absorbs connectivity flapping: each trigger restarts the
	// timer, so sync fires only after the link holds still this long.
	Debounce time.Duration
	// MinInterval is the floor between consecutive automatic syncs.
	MinInterval time.Duration
	// MinScore gates drains off links too weak to finish a batch.
	MinScore int
	// StabilityTimeout bounds the wait for the link to settle.
	StabilityTimeout time.Duration
	// PeriodicInterval spaces background catch-up syncs. Zero disables them.
	PeriodicInterval time.Duration
}

// Status is a point-in-time view for status surfaces.
type Status struct {
	State      State
	AutoSync   bool
	LastSyncAt time.Time
	LastResult *queue.DrainResult
	LastError  string
}

// Coordinator drives the sync queue from connectivity events and timers.
type Coordinator struct {
	queue    *queue.Queue
	monitor  *netmon.Monitor
	notifier *notify.Manager
	cfg      Config

	mu         sync.Mutex
	state      State
	autoSync   bool
	lastSyncAt time.Time
	lastResult *queue.DrainResult
	lastError  string
	timer      *time.Timer
	started    bool

	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates a coordinator with auto sync enabled.
func New(q *queue.Queue, monitor *netmon.Monitor, notifier *notify.Manager, cfg Config) *Coordinator {
	return &Coordinator{
		queue:    q,
		monitor:  monitor,
		notifier: notifier,
		cfg:      cfg,
		state:    StateIdle,
		autoSync: true,
	}
}

// Start launches the trigger loop.
func (c *Coordinator) Start(ctx context.Context) {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})
	c.mu.Unlock()

	go c.run(ctx)
}

func (c *Coordinator) run(ctx context.Context) {
	defer close(c.doneCh)

	restored, unsubscribe := c.monitor.SubscribeRestored()
	defer unsubscribe()

	var periodic <-chan time.Time
	if c.cfg.PeriodicInterval > 0 {
		ticker := time.NewTicker(c.cfg.PeriodicInterval)
		defer ticker.Stop()
		periodic = ticker.C
	}

	for {
		select {
		case <-restored:
			c.Schedule(ctx, "connectivity restored")
		case <-periodic:
			c.Schedule(ctx, "periodic")
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop cancels any pending schedule and halts the trigger loop.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.started = false
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.state == StateScheduled {
		c.state = StateIdle
	}
	close(c.stopCh)
	done := c.doneCh
	c.mu.Unlock()

	<-done
}

// Schedule arms the debounce timer. A trigger arriving while one is armed
// restarts it; a trigger during a running sync is dropped, the post-drain
// state is already as fresh as a new sync would make it.
func (c *Coordinator) Schedule(ctx context.Context, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.autoSync || c.state == StateRunning {
		return
	}
	if c.timer != nil {
		c.timer.Stop()
	}
	c.state = StateScheduled
	c.timer = time.AfterFunc(c.cfg.Debounce, func() { c.fire(ctx) })

	logging.Debug("Sync scheduled", map[string]interface{}{
		"reason":   reason,
		"debounce": c.cfg.Debounce.String(),
	})
}

// fire evaluates the gates when the debounce timer lapses and runs the drain
// if they all pass.
func (c *Coordinator) fire(ctx context.Context) {
	c.mu.Lock()
	if c.state != StateScheduled {
		c.mu.Unlock()
		return
	}
	c.timer = nil

	if reason := c.gateLocked(); reason != "" {
		c.state = StateIdle
		c.mu.Unlock()
		logging.Debug("Sync skipped", map[string]interface{}{"reason": reason})
		return
	}

	c.state = StateRunning
	c.mu.Unlock()

	if c.cfg.StabilityTimeout > 0 {
		waitCtx, cancel := context.WithTimeout(ctx, c.cfg.StabilityTimeout)
		err := c.monitor.WaitForStable(waitCtx)
		cancel()
		if err != nil {
			c.mu.Lock()
			c.state = StateIdle
			c.mu.Unlock()
			logging.Debug("Sync skipped", map[string]interface{}{"reason": "link never stabilized"})
			return
		}
	}

	c.drain(ctx)
}

// gateLocked returns a skip reason, or empty when sync may proceed.
// Callers hold c.mu.
func (c *Coordinator) gateLocked() string {
	if !c.autoSync {
		return "auto sync disabled"
	}
	if !c.lastSyncAt.IsZero() && time.Since(c.lastSyncAt) < c.cfg.MinInterval {
		return "min interval not elapsed"
	}
	if !c.monitor.IsOnline() {
		return "offline"
	}
	if score := c.monitor.Score(); score < c.cfg.MinScore {
		return fmt.Sprintf("connectivity score %d below %d", score, c.cfg.MinScore)
	}
	return ""
}

// drain runs the queue and records the outcome. The caller has already moved
// the state to running.
func (c *Coordinator) drain(ctx context.Context) {
	if c.notifier != nil {
		c.notifier.Notify(notify.KindInfo, "Sync started", "", 2*time.Second)
	}

	result, err := c.queue.Drain(ctx, nil)

	c.mu.Lock()
	c.state = StateIdle
	c.lastSyncAt = time.Now()
	c.lastResult = result
	if err != nil {
		c.lastError = err.Error()
	} else {
		c.lastError = ""
	}
	c.mu.Unlock()

	c.report(result, err)
}

func (c *Coordinator) report(result *queue.DrainResult, err error) {
	if err != nil {
		logging.Error("Sync failed", err)
		if c.notifier != nil {
			title := "Sync failed"
			if errors.Is(err, errors.ErrSession) {
				title = "Session expired"
			}
			c.notifier.Notify(notify.KindError, title, err.Error(), 5*time.Second)
		}
		return
	}
	if result == nil || result.Busy || result.Attempted == 0 {
		return
	}

	if c.notifier != nil {
		if result.Failed > 0 {
			c.notifier.Notify(notify.KindWarning, "Sync incomplete",
				fmt.Sprintf("%d of %d operations failed", result.Failed, result.Attempted),
				5*time.Second)
		} else {
			c.notifier.Notify(notify.KindSuccess, "Sync complete",
				fmt.Sprintf("%d operations uploaded", result.Succeeded),
				3*time.Second)
		}
	}
}

// ForceSyncNow drains immediately, bypassing auto sync, debounce, the score
// gate and the minimum interval. Being online is still required, and the
// queue's own mutual exclusion still holds.
func (c *Coordinator) ForceSyncNow(ctx context.Context) (*queue.DrainResult, error) {
	if !c.monitor.IsOnline() {
		return nil, errors.New(errors.ErrNetwork, "device is offline")
	}

	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.state = StateRunning
	c.mu.Unlock()

	result, err := c.queue.Drain(ctx, nil)

	c.mu.Lock()
	c.state = StateIdle
	if result != nil && !result.Busy {
		c.lastSyncAt = time.Now()
		c.lastResult = result
	}
	if err != nil {
		c.lastError = err.Error()
	}
	c.mu.Unlock()

	c.report(result, err)
	return result, err
}

// SetAutoSync toggles automatic syncing. Disabling cancels any armed timer.
func (c *Coordinator) SetAutoSync(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.autoSync = enabled
	if !enabled && c.timer != nil {
		c.timer.Stop()
		c.timer = nil
		if c.state == StateScheduled {
			c.state = StateIdle
		}
	}

	logging.Info("Auto sync toggled", map[string]interface{}{"enabled": enabled})
}

// AutoSyncEnabled reports the toggle.
func (c *Coordinator) AutoSyncEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.autoSync
}

// CurrentStatus snapshots the coordinator.
func (c *Coordinator) CurrentStatus() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		State:      c.state,
		AutoSync:   c.autoSync,
		LastSyncAt: c.lastSyncAt,
		LastResult: c.lastResult,
		LastError:  c.lastError,
	}
}
