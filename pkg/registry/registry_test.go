package registry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRegisterAndGet(t *testing.T) {
	r := New(WithLogger(quietLogger()))
	now := time.Now()

	stored := r.Register(Record{DeviceID: "dev-1", Name: "lobby"}, now)
	if stored.RegisteredAt != now || stored.LastSeen != now {
		t.Fatalf("timestamps not stamped: %+v", stored)
	}

	got, err := r.Get("dev-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "lobby" {
		t.Errorf("Name = %q, want lobby", got.Name)
	}

	got.Name = "mutated"
	again, _ := r.Get("dev-1")
	if again.Name != "lobby" {
		t.Errorf("Get returned a shared record, want a copy")
	}

	if _, err := r.Get("missing"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("unknown id error = %v, want ErrDeviceNotFound", err)
	}
}

func TestReRegisterRefreshesInPlace(t *testing.T) {
	r := New(WithLogger(quietLogger()))
	t0 := time.Now()
	r.Register(Record{DeviceID: "dev-1", Name: "old-name", Version: "1.0.0"}, t0)
	if err := r.AssignLayout("dev-1", "menu"); err != nil {
		t.Fatalf("AssignLayout: %v", err)
	}

	t1 := t0.Add(time.Minute)
	stored := r.Register(Record{DeviceID: "dev-1", Name: "new-name", Version: "2.1.0"}, t1)

	if stored.Name != "new-name" || stored.Version != "2.1.0" {
		t.Errorf("new metadata did not win: %+v", stored)
	}
	if !stored.RegisteredAt.Equal(t0) {
		t.Errorf("RegisteredAt = %v, want original %v", stored.RegisteredAt, t0)
	}
	if stored.AssignedLayout != "menu" {
		t.Errorf("AssignedLayout = %q, want layout assignment to survive", stored.AssignedLayout)
	}
	if !stored.LastSeen.Equal(t1) {
		t.Errorf("LastSeen = %v, want %v", stored.LastSeen, t1)
	}
	if r.Len() != 1 {
		t.Errorf("Len = %d, want 1", r.Len())
	}
}

func TestAssignLayoutUnknownDevice(t *testing.T) {
	r := New(WithLogger(quietLogger()))
	if err := r.AssignLayout("ghost", "menu"); !errors.Is(err, ErrDeviceNotFound) {
		t.Fatalf("error = %v, want ErrDeviceNotFound", err)
	}
}

func TestIsStaleBoundary(t *testing.T) {
	r := New(WithLogger(quietLogger()))
	t0 := time.Now()
	r.Register(Record{DeviceID: "dev-1"}, t0)

	timeout := 30 * time.Second
	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"fresh", t0.Add(time.Second), false},
		{"exactly at timeout", t0.Add(timeout), false},
		{"just past timeout", t0.Add(timeout + time.Nanosecond), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.IsStale("dev-1", timeout, tt.now); got != tt.want {
				t.Errorf("IsStale = %v, want %v", got, tt.want)
			}
		})
	}

	if !r.IsStale("unknown", timeout, t0) {
		t.Errorf("unknown device should be stale")
	}
}

func TestTouchDefersStaleness(t *testing.T) {
	r := New(WithLogger(quietLogger()))
	t0 := time.Now()
	r.Register(Record{DeviceID: "dev-1"}, t0)

	timeout := 30 * time.Second
	r.Touch("dev-1", t0.Add(timeout))
	if r.IsStale("dev-1", timeout, t0.Add(timeout+time.Second)) {
		t.Errorf("touched device should not be stale yet")
	}

	r.Touch("unknown", t0)
}

func TestSweep(t *testing.T) {
	r := New(WithLogger(quietLogger()))
	t0 := time.Now()
	r.Register(Record{DeviceID: "fresh"}, t0.Add(50*time.Second))
	r.Register(Record{DeviceID: "stale-1"}, t0)
	r.Register(Record{DeviceID: "stale-2"}, t0.Add(time.Second))

	removed := r.Sweep(30*time.Second, t0.Add(60*time.Second))
	if len(removed) != 2 {
		t.Fatalf("removed = %v, want 2 ids", removed)
	}
	if _, err := r.Get("fresh"); err != nil {
		t.Errorf("fresh device was swept")
	}
	if r.Len() != 1 {
		t.Errorf("Len = %d, want 1", r.Len())
	}
}

func TestRecordStatus(t *testing.T) {
	r := New(WithLogger(quietLogger()))
	t0 := time.Now()
	r.Register(Record{DeviceID: "dev-1"}, t0)

	t1 := t0.Add(time.Second)
	r.RecordStatus("dev-1", Status{CPUPercent: 42.5, ReportedAt: t1}, t1)

	got, _ := r.Get("dev-1")
	if got.LastStatus == nil || got.LastStatus.CPUPercent != 42.5 {
		t.Fatalf("LastStatus = %+v", got.LastStatus)
	}
	if !got.LastSeen.Equal(t1) {
		t.Errorf("LastSeen = %v, want %v", got.LastSeen, t1)
	}
}

func TestConcurrentRegisterAndTouch(t *testing.T) {
	r := New(WithLogger(quietLogger()))
	now := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Register(Record{DeviceID: "dev-1", Name: "racer"}, now)
			r.Touch("dev-1", now.Add(time.Second))
			r.List()
		}()
	}
	wg.Wait()

	if r.Len() != 1 {
		t.Fatalf("Len = %d, want 1", r.Len())
	}
}

type captureStore struct {
	mu    sync.Mutex
	saves [][]*Record
	err   error
}

func (c *captureStore) SaveSnapshot(_ context.Context, records []*Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.saves = append(c.saves, records)
	return nil
}

func (c *captureStore) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.saves)
}

func TestMirrorWritesSnapshotOnMutation(t *testing.T) {
	store := &captureStore{}
	var r *Registry
	mirror := NewMirror(store, func() []*Record { return r.List() }, 0, quietLogger())
	r = New(WithLogger(quietLogger()), WithMirror(mirror))
	mirror.Start()

	r.Register(Record{DeviceID: "dev-1"}, time.Now())

	deadline := time.After(2 * time.Second)
	for store.count() == 0 {
		select {
		case <-deadline:
			t.Fatal("snapshot was never written")
		case <-time.After(10 * time.Millisecond):
		}
	}
	mirror.Stop()
}

func TestMirrorFailureDoesNotBlockRegistry(t *testing.T) {
	store := &captureStore{err: errors.New("bucket offline")}
	var r *Registry
	mirror := NewMirror(store, func() []*Record { return r.List() }, 0, quietLogger())
	r = New(WithLogger(quietLogger()), WithMirror(mirror))
	mirror.Start()
	defer mirror.Stop()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			r.Register(Record{DeviceID: "dev-1"}, time.Now())
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("registry mutations blocked on a failing mirror store")
	}
}
