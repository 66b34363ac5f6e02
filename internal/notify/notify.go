// Package notify fans sync lifecycle events out to user-facing surfaces.
package notify

import (
	"sync"
	"time"

	"github.com/basculapp/fieldsync/internal/logging"
)

// Kind classifies a notification.
type Kind string

const (
	KindInfo    Kind = "info"
	KindSuccess Kind = "success"
	KindWarning Kind = "warning"
	KindError   Kind = "error"
)

// Notification is one user-facing message.
type Notification struct {
	Kind     Kind
	Title    string
	Message  string
	Duration time.Duration
	SentAt   time.Time
}

// Sink displays notifications. Implementations must not block: the manager
// calls them from the sync path.
type Sink interface {
	Show(n Notification)
}

const historyCap = 50

// Manager dispatches notifications to registered sinks and keeps a bounded
// history for status screens.
type Manager struct {
	mu      sync.Mutex
	sinks   []Sink
	history []Notification
}

// NewManager creates a Manager with no sinks.
func NewManager() *Manager {
	return &Manager{}
}

// AddSink registers a display sink.
func (m *Manager) AddSink(sink Sink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sinks = append(m.sinks, sink)
}

// Notify records the notification and shows it on every sink.
func (m *Manager) Notify(kind Kind, title, message string, duration time.Duration) {
	n := Notification{
		Kind:     kind,
		Title:    title,
		Message:  message,
		Duration: duration,
		SentAt:   time.Now(),
	}

	m.mu.Lock()
	m.history = append(m.history, n)
	if len(m.history) > historyCap {
		m.history = m.history[len(m.history)-historyCap:]
	}
	sinks := make([]Sink, len(m.sinks))
	copy(sinks, m.sinks)
	m.mu.Unlock()

	for _, sink := range sinks {
		sink.Show(n)
	}
}

// TrimHistory drops all but the newest keep notifications and reports how
// many were removed. Maintenance uses it to shed stale entries between the
// write-time cap kicking in.
func (m *Manager) TrimHistory(keep int) int {
	if keep < 0 {
		keep = 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := len(m.history) - keep
	if removed <= 0 {
		return 0
	}
	m.history = m.history[len(m.history)-keep:]
	return removed
}

// History returns recent notifications, oldest first.
func (m *Manager) History() []Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Notification, len(m.history))
	copy(out, m.history)
	return out
}

// LogSink writes notifications to the structured log. It is the default sink
// on headless deployments.
type LogSink struct{}

// Show logs the notification at a level matching its kind.
func (LogSink) Show(n Notification) {
	fields := map[string]interface{}{
		"title":   n.Title,
		"message": n.Message,
	}
	switch n.Kind {
	case KindError:
		logging.Error("Notification", nil, fields)
	case KindWarning:
		logging.Warn("Notification", fields)
	default:
		logging.Info("Notification", fields)
	}
}
