// Package registry tracks the fleet of known display devices: their
// registration metadata, assigned layouts, and liveness. The registry is
// the coordinator's source of truth for "which devices exist"; whether a
// device is currently connected is the session layer's concern.
package registry

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrDeviceNotFound is returned when a device id is not registered.
var ErrDeviceNotFound = errors.New("registry: device not found")

// Record is the stored state for one device. Values returned from the
// registry are copies; mutating them does not affect the stored record.
type Record struct {
	DeviceID     string    `json:"device_id"`
	Name         string    `json:"name,omitempty"`
	OS           string    `json:"os,omitempty"`
	Arch         string    `json:"arch,omitempty"`
	ScreenWidth  int       `json:"screen_width,omitempty"`
	ScreenHeight int       `json:"screen_height,omitempty"`
	Capabilities []string  `json:"capabilities,omitempty"`
	Version      string    `json:"version,omitempty"`
	RegisteredAt time.Time `json:"registered_at"`
	LastSeen     time.Time `json:"last_seen"`

	// AssignedLayout is the id of the layout this device should render,
	// empty when nothing has been assigned yet.
	AssignedLayout string `json:"assigned_layout,omitempty"`

	// LastStatus holds the most recent resource metrics, if any.
	LastStatus *Status `json:"last_status,omitempty"`
}

// Status is a snapshot of device resource metrics.
type Status struct {
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryPercent float64   `json:"memory_percent"`
	DiskPercent   float64   `json:"disk_percent"`
	TemperatureC  float64   `json:"temperature_c,omitempty"`
	ReportedAt    time.Time `json:"reported_at"`
}

func (r *Record) clone() *Record {
	out := *r
	out.Capabilities = append([]string(nil), r.Capabilities...)
	if r.LastStatus != nil {
		st := *r.LastStatus
		out.LastStatus = &st
	}
	return &out
}

// Registry is a concurrency-safe device record store. Re-registering an
// existing id refreshes the record in place, keeping the original
// RegisteredAt and AssignedLayout: the latest registration always wins.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]*Record
	log     *slog.Logger
	mirror  *Mirror
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry's logger.
func WithLogger(log *slog.Logger) Option {
	return func(r *Registry) { r.log = log }
}

// WithMirror attaches an async snapshot mirror that is notified on every
// mutation.
func WithMirror(m *Mirror) Option {
	return func(r *Registry) { r.mirror = m }
}

// AttachMirror sets the snapshot mirror after construction, for wiring
// orders where the mirror needs the registry as its snapshot source.
func (r *Registry) AttachMirror(m *Mirror) {
	r.mirror = m
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		devices: make(map[string]*Record),
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register stores or refreshes a device record. The caller supplies the
// registration metadata; the registry stamps timestamps. Returns a copy
// of the stored record.
func (r *Registry) Register(rec Record, now time.Time) *Record {
	r.mu.Lock()
	existing, ok := r.devices[rec.DeviceID]
	if ok {
		// Refresh in place: metadata from the new registration wins, but
		// the original registration time and layout assignment survive.
		rec.RegisteredAt = existing.RegisteredAt
		rec.AssignedLayout = existing.AssignedLayout
		rec.LastStatus = existing.LastStatus
	} else {
		rec.RegisteredAt = now
	}
	rec.LastSeen = now
	stored := rec.clone()
	r.devices[rec.DeviceID] = stored
	r.mu.Unlock()

	if ok {
		r.log.Info("device re-registered", "device_id", rec.DeviceID, "name", rec.Name)
	} else {
		r.log.Info("device registered", "device_id", rec.DeviceID, "name", rec.Name)
	}
	r.notifyMirror()
	return stored.clone()
}

// Touch refreshes a device's LastSeen timestamp. Unknown ids are a
// no-op: a heartbeat can race a removal.
func (r *Registry) Touch(deviceID string, now time.Time) {
	r.mu.Lock()
	if rec, ok := r.devices[deviceID]; ok {
		rec.LastSeen = now
	}
	r.mu.Unlock()
}

// RecordStatus stores the latest resource metrics for a device and
// refreshes its LastSeen.
func (r *Registry) RecordStatus(deviceID string, st Status, now time.Time) {
	r.mu.Lock()
	if rec, ok := r.devices[deviceID]; ok {
		stored := st
		rec.LastStatus = &stored
		rec.LastSeen = now
	}
	r.mu.Unlock()
}

// AssignLayout records the layout a device should render.
func (r *Registry) AssignLayout(deviceID, layoutID string) error {
	r.mu.Lock()
	rec, ok := r.devices[deviceID]
	if ok {
		rec.AssignedLayout = layoutID
	}
	r.mu.Unlock()
	if !ok {
		return ErrDeviceNotFound
	}
	r.log.Info("layout assigned", "device_id", deviceID, "layout_id", layoutID)
	r.notifyMirror()
	return nil
}

// Get returns a copy of a device's record.
func (r *Registry) Get(deviceID string) (*Record, error) {
	r.mu.RLock()
	rec, ok := r.devices[deviceID]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrDeviceNotFound
	}
	return rec.clone(), nil
}

// List returns copies of all device records in unspecified order.
func (r *Registry) List() []*Record {
	r.mu.RLock()
	out := make([]*Record, 0, len(r.devices))
	for _, rec := range r.devices {
		out = append(out, rec.clone())
	}
	r.mu.RUnlock()
	return out
}

// Len returns the number of registered devices.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// Remove deletes a device record.
func (r *Registry) Remove(deviceID string) {
	r.mu.Lock()
	_, ok := r.devices[deviceID]
	delete(r.devices, deviceID)
	r.mu.Unlock()
	if ok {
		r.log.Info("device removed", "device_id", deviceID)
		r.notifyMirror()
	}
}

// IsStale reports whether a device's LastSeen is strictly older than
// timeout. A device exactly at the timeout boundary is not stale.
// Unknown ids are stale.
func (r *Registry) IsStale(deviceID string, timeout time.Duration, now time.Time) bool {
	r.mu.RLock()
	rec, ok := r.devices[deviceID]
	r.mu.RUnlock()
	if !ok {
		return true
	}
	return now.Sub(rec.LastSeen) > timeout
}

// Sweep removes all devices whose LastSeen is strictly older than
// timeout and returns the removed ids.
func (r *Registry) Sweep(timeout time.Duration, now time.Time) []string {
	var removed []string
	r.mu.Lock()
	for id, rec := range r.devices {
		if now.Sub(rec.LastSeen) > timeout {
			delete(r.devices, id)
			removed = append(removed, id)
		}
	}
	r.mu.Unlock()

	if len(removed) > 0 {
		r.log.Info("swept stale devices", "count", len(removed), "device_ids", removed)
		r.notifyMirror()
	}
	return removed
}

func (r *Registry) notifyMirror() {
	if r.mirror != nil {
		r.mirror.Notify()
	}
}
