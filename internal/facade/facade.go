// Package facade owns the lifecycle of the sync core and is the only
// surface the application shell talks to.
package facade

import (
	"context"
	"sync"
	"time"

	"github.com/basculapp/fieldsync/internal/api"
	"github.com/basculapp/fieldsync/internal/config"
	"github.com/basculapp/fieldsync/internal/coordinator"
	"github.com/basculapp/fieldsync/internal/db"
	"github.com/basculapp/fieldsync/internal/errors"
	"github.com/basculapp/fieldsync/internal/logging"
	"github.com/basculapp/fieldsync/internal/netmon"
	"github.com/basculapp/fieldsync/internal/notify"
	"github.com/basculapp/fieldsync/internal/queue"
)

// NetworkStatus is the connectivity slice of the facade status.
type NetworkStatus struct {
	Connected         bool
	LinkType          netmon.LinkType
	InternetReachable bool
	Score             int
	Stability         netmon.Stability
}

// Status is the full point-in-time view of the sync core.
type Status struct {
	Initialized bool
	Network     NetworkStatus
	Store       *db.StoreStats
	Queue       *queue.Stats
	Coordinator coordinator.Status
	Healthy     bool
}

// HealthReport is the outcome of a health check pass.
type HealthReport struct {
	StorageOK       bool
	ServerReachable bool
	SessionValid    bool
	Online          bool
	Healthy         bool
}

// MaintenanceReport counts what a maintenance pass removed.
type MaintenanceReport struct {
	PurgedRegistrations  int
	PurgedConflictLogs   int
	ClearedOperations    int
	TrimmedNotifications int
}

// Notifications kept through a maintenance pass.
const maintenanceHistoryKeep = 10

// Facade wires the store, monitor, queue and coordinator together.
type Facade struct {
	cfg *config.Config

	// Injectable for tests; Initialize fills production defaults when nil.
	client api.Client
	prober netmon.Prober

	mu          sync.Mutex
	initialized bool
	healthy     bool

	store    *db.Store
	repo     *db.Repository
	monitor  *netmon.Monitor
	notifier *notify.Manager
	queue    *queue.Queue
	coord    *coordinator.Coordinator

	cancel      context.CancelFunc
	unsubscribe func()
}

// New creates a facade around the configuration. Initialize must be called
// before any other method.
func New(cfg *config.Config) *Facade {
	return &Facade{cfg: cfg}
}

// NewWithCollaborators creates a facade with an injected API client and
// prober, for tests and embedded deployments.
func NewWithCollaborators(cfg *config.Config, client api.Client, prober netmon.Prober) *Facade {
	return &Facade{cfg: cfg, client: client, prober: prober}
}

// Initialize opens storage, starts the connectivity monitor and the sync
// coordinator, and wires connectivity notifications. A storage failure is
// fatal: the facade refuses to run against a database it cannot trust.
func (f *Facade) Initialize() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.initialized {
		return nil
	}

	if f.cfg.LogFile != "" {
		logging.InitFile(f.cfg.LogFile, logging.ParseLevel(f.cfg.LogLevel))
	}

	f.store = db.NewStore(f.cfg.DataDir)
	if err := f.store.Init(); err != nil {
		return err
	}
	f.repo = db.NewRepository(f.store)

	if f.client == nil {
		token := f.cfg.APIToken
		f.client = api.NewHTTPClient(f.cfg.APIBaseURL, func() string { return token })
	}
	if f.prober == nil {
		f.prober = netmon.NewNetProber(f.cfg.APIBaseURL + "/health")
	}

	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel

	f.monitor = netmon.NewMonitor(f.prober, f.cfg.ProbeInterval)
	f.monitor.Start(ctx)

	f.notifier = notify.NewManager()
	f.notifier.AddSink(notify.LogSink{})

	f.queue = queue.New(f.repo, f.client, queue.Config{
		MaxRetries: f.cfg.MaxRetries,
		BatchSize:  f.cfg.BatchSize,
		OpDelay:    f.cfg.OpDelay,
	}, f.monitor.Score)

	f.coord = coordinator.New(f.queue, f.monitor, f.notifier, coordinator.Config{
		Debounce:         f.cfg.Debounce,
		MinInterval:      f.cfg.MinSyncInterval,
		MinScore:         f.cfg.MinScore,
		StabilityTimeout: f.cfg.StabilityTimeout,
		PeriodicInterval: f.cfg.PeriodicInterval,
	})
	f.coord.Start(ctx)

	f.unsubscribe = f.watchConnectivity(ctx)
	f.initialized = true

	logging.Info("Sync core initialized", map[string]interface{}{
		"data_dir": f.cfg.DataDir,
		"api_url":  f.cfg.APIBaseURL,
	})
	return nil
}

// watchConnectivity converts connectivity transitions into user
// notifications.
func (f *Facade) watchConnectivity(ctx context.Context) func() {
	changes, unsubscribe := f.monitor.Subscribe()

	go func() {
		wasConnected := true
		for {
			select {
			case status, ok := <-changes:
				if !ok {
					return
				}
				if wasConnected && !status.Connected {
					f.notifier.Notify(notify.KindWarning, "Offline",
						"Registrations will sync when connectivity returns", 4*time.Second)
				}
				if !wasConnected && status.Connected {
					f.notifier.Notify(notify.KindInfo, "Back online",
						"Pending registrations will sync shortly", 3*time.Second)
				}
				wasConnected = status.Connected
			case <-ctx.Done():
				return
			}
		}
	}()

	return unsubscribe
}

// Shutdown stops background work and closes storage. The facade can be
// initialized again afterwards.
func (f *Facade) Shutdown() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.initialized {
		return nil
	}

	f.coord.Stop()
	f.monitor.Stop()
	f.unsubscribe()
	f.cancel()
	f.repo.Close()
	err := f.store.Close()

	f.initialized = false
	f.healthy = false
	logging.Info("Sync core shut down")
	return err
}

func (f *Facade) requireInit() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.initialized {
		return errors.New(errors.ErrNotInitialized, "sync core is not initialized")
	}
	return nil
}

// ForceSyncNow runs an immediate drain, bypassing automatic gates.
func (f *Facade) ForceSyncNow(ctx context.Context) (*queue.DrainResult, error) {
	if err := f.requireInit(); err != nil {
		return nil, err
	}
	return f.coord.ForceSyncNow(ctx)
}

// SetAutoSyncEnabled toggles background syncing.
func (f *Facade) SetAutoSyncEnabled(enabled bool) error {
	if err := f.requireInit(); err != nil {
		return err
	}
	f.coord.SetAutoSync(enabled)
	return nil
}

// Queue exposes the sync queue for the capture flow.
func (f *Facade) Queue() *queue.Queue {
	return f.queue
}

// Repository exposes typed storage for the capture flow.
func (f *Facade) Repository() *db.Repository {
	return f.repo
}

// Notifier exposes the notification manager so shells can attach sinks.
func (f *Facade) Notifier() *notify.Manager {
	return f.notifier
}

// GetStatus snapshots the whole core.
func (f *Facade) GetStatus() (*Status, error) {
	// Snapshot the collaborators so a concurrent Shutdown cannot swap the
	// handles out from under the stats calls.
	f.mu.Lock()
	initialized := f.initialized
	healthy := f.healthy
	store := f.store
	q := f.queue
	monitor := f.monitor
	coord := f.coord
	f.mu.Unlock()

	if !initialized {
		return &Status{}, nil
	}

	storeStats, err := store.Stats()
	if err != nil {
		return nil, err
	}
	queueStats, err := q.QueueStats()
	if err != nil {
		return nil, err
	}

	current := monitor.Current()
	return &Status{
		Initialized: true,
		Network: NetworkStatus{
			Connected:         current.Connected,
			LinkType:          current.LinkType,
			InternetReachable: current.InternetReachable,
			Score:             monitor.Score(),
			Stability:         monitor.CurrentStability(),
		},
		Store:       storeStats,
		Queue:       queueStats,
		Coordinator: coord.CurrentStatus(),
		Healthy:     healthy,
	}, nil
}

// PerformHealthCheck verifies storage, connectivity and the server session,
// and caches the overall verdict for GetStatus.
func (f *Facade) PerformHealthCheck(ctx context.Context) (*HealthReport, error) {
	if err := f.requireInit(); err != nil {
		return nil, err
	}

	report := &HealthReport{}

	if _, err := f.store.Stats(); err == nil {
		report.StorageOK = true
	}
	report.Online = f.monitor.IsOnline()
	if report.Online {
		if err := f.client.Health(ctx); err == nil {
			report.ServerReachable = true
		}
		if err := f.client.ValidateSession(ctx); err == nil {
			report.SessionValid = true
		}
	}

	// Offline is a normal state for a field device, not ill health.
	report.Healthy = report.StorageOK && (!report.Online || report.ServerReachable)

	f.mu.Lock()
	f.healthy = report.Healthy
	f.mu.Unlock()

	logging.Info("Health check", map[string]interface{}{
		"storage_ok":       report.StorageOK,
		"online":           report.Online,
		"server_reachable": report.ServerReachable,
		"session_valid":    report.SessionValid,
		"healthy":          report.Healthy,
	})
	return report, nil
}

// PerformMaintenance purges synced registrations and audit rows older than
// the retention window, clears exhausted queue operations, and trims the
// notification history.
func (f *Facade) PerformMaintenance() (*MaintenanceReport, error) {
	if err := f.requireInit(); err != nil {
		return nil, err
	}

	cutoff := time.Now().AddDate(0, 0, -f.cfg.RetentionDays).Unix()
	report := &MaintenanceReport{}

	purged, err := f.repo.PurgeSyncedRegistrationsBefore(cutoff)
	if err != nil {
		return nil, err
	}
	report.PurgedRegistrations = purged

	purgedLogs, err := f.repo.PurgeConflictLogBefore(cutoff)
	if err != nil {
		return nil, err
	}
	report.PurgedConflictLogs = purgedLogs

	cleared, err := f.queue.ClearAllFailed()
	if err != nil {
		return nil, err
	}
	report.ClearedOperations = cleared

	report.TrimmedNotifications = f.notifier.TrimHistory(maintenanceHistoryKeep)

	logging.Info("Maintenance finished", map[string]interface{}{
		"purged_registrations":  report.PurgedRegistrations,
		"purged_conflict_logs":  report.PurgedConflictLogs,
		"cleared_operations":    report.ClearedOperations,
		"trimmed_notifications": report.TrimmedNotifications,
	})
	return report, nil
}
