package registry

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// SnapshotStore persists a point-in-time snapshot of the device fleet.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, records []*Record) error
}

// Mirror asynchronously persists registry snapshots to a SnapshotStore.
// Notifications are coalesced through a one-slot channel so a burst of
// mutations produces a single write, and a slow or failing store never
// blocks registry operations.
type Mirror struct {
	store    SnapshotStore
	source   func() []*Record
	interval time.Duration
	log      *slog.Logger

	notify chan struct{}
	stop   chan struct{}
	done   sync.WaitGroup
	once   sync.Once
}

// NewMirror creates a mirror that snapshots the records returned by
// source. interval is the minimum spacing between writes; zero disables
// rate limiting.
func NewMirror(store SnapshotStore, source func() []*Record, interval time.Duration, log *slog.Logger) *Mirror {
	if log == nil {
		log = slog.Default()
	}
	return &Mirror{
		store:    store,
		source:   source,
		interval: interval,
		log:      log,
		notify:   make(chan struct{}, 1),
		stop:     make(chan struct{}),
	}
}

// Notify schedules a snapshot write. Never blocks.
func (m *Mirror) Notify() {
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// Start launches the mirror loop.
func (m *Mirror) Start() {
	m.done.Add(1)
	go m.run()
}

// Stop flushes any pending notification and stops the loop. Safe to
// call more than once.
func (m *Mirror) Stop() {
	m.once.Do(func() { close(m.stop) })
	m.done.Wait()
}

func (m *Mirror) run() {
	defer m.done.Done()
	var last time.Time
	for {
		select {
		case <-m.notify:
			if m.interval > 0 {
				if wait := m.interval - time.Since(last); wait > 0 {
					select {
					case <-time.After(wait):
					case <-m.stop:
						m.flush()
						return
					}
				}
			}
			m.flush()
			last = time.Now()
		case <-m.stop:
			select {
			case <-m.notify:
				m.flush()
			default:
			}
			return
		}
	}
}

// flush writes one snapshot. Failures are logged and dropped: the
// mirror is best-effort and the in-memory registry stays authoritative.
func (m *Mirror) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	records := m.source()
	if err := m.store.SaveSnapshot(ctx, records); err != nil {
		m.log.Error("registry snapshot failed", "error", err, "devices", len(records))
		return
	}
	m.log.Debug("registry snapshot saved", "devices", len(records))
}
