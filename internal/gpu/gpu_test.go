package gpu

import (
	"context"
	"errors"
	"testing"

	"github.com/omnicomni/storyreel/internal/pipeline"
)

// fakeProvider simulates a device whose allocations shrink on cleanup.
type fakeProvider struct {
	totalGB      float64
	allocatedGB  float64
	cleanupGains float64
	cachedCalls  int
	ipcCalls     int
}

func (f *fakeProvider) Snapshot(ctx context.Context) (Snapshot, error) {
	return Snapshot{
		TotalGB:     f.totalGB,
		AllocatedGB: f.allocatedGB,
		FreeGB:      f.totalGB - f.allocatedGB,
		Device:      "fake",
	}, nil
}

func (f *fakeProvider) ReleaseCached(ctx context.Context) error {
	f.cachedCalls++
	f.allocatedGB -= f.cleanupGains
	if f.allocatedGB < 0 {
		f.allocatedGB = 0
	}
	return nil
}

func (f *fakeProvider) ReleaseIPC(ctx context.Context) error {
	f.ipcCalls++
	return nil
}

func TestForceCleanupReducesAllocated(t *testing.T) {
	fake := &fakeProvider{totalGB: 24, allocatedGB: 20, cleanupGains: 10}
	m := NewManager(fake)

	before, _ := m.Snapshot(context.Background())
	if err := m.ForceCleanup(context.Background()); err != nil {
		t.Fatalf("ForceCleanup failed: %v", err)
	}
	after, _ := m.Snapshot(context.Background())

	if after.AllocatedGB >= before.AllocatedGB {
		t.Errorf("cleanup did not reduce allocations: %.1f -> %.1f", before.AllocatedGB, after.AllocatedGB)
	}
	if fake.cachedCalls != 1 || fake.ipcCalls != 1 {
		t.Errorf("expected one cached and one IPC release, got %d/%d", fake.cachedCalls, fake.ipcCalls)
	}
}

func TestCheckAvailabilityPassesWhenFree(t *testing.T) {
	m := NewManager(&fakeProvider{totalGB: 24, allocatedGB: 4})

	if err := m.CheckAvailability(context.Background(), "video", 10); err != nil {
		t.Errorf("expected availability, got %v", err)
	}
}

func TestCheckAvailabilityCleansUpThenPasses(t *testing.T) {
	fake := &fakeProvider{totalGB: 24, allocatedGB: 20, cleanupGains: 15}
	m := NewManager(fake)

	if err := m.CheckAvailability(context.Background(), "video", 10); err != nil {
		t.Errorf("expected availability after cleanup, got %v", err)
	}
	if fake.cachedCalls == 0 {
		t.Error("expected a cleanup pass before the re-check")
	}
}

func TestCheckAvailabilityReportsOOM(t *testing.T) {
	m := NewManager(&fakeProvider{totalGB: 8, allocatedGB: 7, cleanupGains: 0})

	err := m.CheckAvailability(context.Background(), "video", 10)
	var oom *pipeline.OutOfMemoryError
	if !errors.As(err, &oom) {
		t.Fatalf("expected OutOfMemoryError, got %v", err)
	}
	if oom.Op != "video" {
		t.Errorf("expected op in error, got %q", oom.Op)
	}
}

func TestScopedCleansUpOnFailure(t *testing.T) {
	fake := &fakeProvider{totalGB: 24, allocatedGB: 12, cleanupGains: 12}
	m := NewManager(fake)

	wantErr := errors.New("stage blew up")
	err := m.Scoped(context.Background(), "images", func(ctx context.Context) error {
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("expected stage error passthrough, got %v", err)
	}
	if fake.cachedCalls == 0 {
		t.Error("expected cleanup after failed stage")
	}
}

func TestHostProviderSnapshot(t *testing.T) {
	snap, err := NewHostProvider().Snapshot(context.Background())
	if err != nil {
		t.Fatalf("host snapshot failed: %v", err)
	}
	if snap.TotalGB <= 0 {
		t.Errorf("expected positive total memory, got %.2f", snap.TotalGB)
	}
	if snap.FreeGB > snap.TotalGB {
		t.Errorf("free %.2f exceeds total %.2f", snap.FreeGB, snap.TotalGB)
	}
}
