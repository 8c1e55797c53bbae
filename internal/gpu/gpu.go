package gpu

import (
	"context"
	"fmt"
	"log"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/omnicomni/storyreel/internal/pipeline"
)

// Snapshot captures accelerator memory state at one instant, in gigabytes.
type Snapshot struct {
	TotalGB     float64
	ReservedGB  float64
	AllocatedGB float64
	FreeGB      float64
	Device      string
}

// MemoryProvider abstracts the memory backend so the manager works the same
// against a CUDA device and against plain host RAM.
type MemoryProvider interface {
	// Snapshot reads current memory state.
	Snapshot(ctx context.Context) (Snapshot, error)
	// ReleaseCached drops allocator caches held above live allocations.
	ReleaseCached(ctx context.Context) error
	// ReleaseIPC collects shared memory handles left by dead peers.
	ReleaseIPC(ctx context.Context) error
}

// Manager owns the load/use/cleanup lifecycle around memory-heavy model
// stages. One manager serves the whole pipeline run.
type Manager struct {
	provider MemoryProvider
}

// NewManager creates a manager over the given provider.
func NewManager(provider MemoryProvider) *Manager {
	return &Manager{provider: provider}
}

// Snapshot reads the current memory state from the provider.
func (m *Manager) Snapshot(ctx context.Context) (Snapshot, error) {
	return m.provider.Snapshot(ctx)
}

// LogStatus prints the current memory state with a stage label.
func (m *Manager) LogStatus(ctx context.Context, label string) {
	snap, err := m.provider.Snapshot(ctx)
	if err != nil {
		log.Printf("[GPU] %s: snapshot failed: %v", label, err)
		return
	}
	log.Printf("[GPU] %s: %.2fGB free / %.2fGB total (%.2fGB allocated, %.2fGB reserved) on %s",
		label, snap.FreeGB, snap.TotalGB, snap.AllocatedGB, snap.ReservedGB, snap.Device)
}

// ForceCleanup releases as much memory as possible. Order matters: garbage
// collection first so dead references do not pin allocations, then cached
// blocks, then IPC handles.
func (m *Manager) ForceCleanup(ctx context.Context) error {
	runtime.GC()
	debug.FreeOSMemory()

	if err := m.provider.ReleaseCached(ctx); err != nil {
		return fmt.Errorf("failed to release cached memory: %w", err)
	}
	if err := m.provider.ReleaseIPC(ctx); err != nil {
		return fmt.Errorf("failed to release IPC handles: %w", err)
	}
	return nil
}

// CheckAvailability verifies requiredGB can be satisfied, running a cleanup
// pass and re-checking before giving up. Returns an OutOfMemoryError with
// guidance when the budget still cannot be met.
func (m *Manager) CheckAvailability(ctx context.Context, op string, requiredGB float64) error {
	snap, err := m.provider.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("failed to check memory for %s: %w", op, err)
	}
	if snap.FreeGB >= requiredGB {
		return nil
	}

	log.Printf("[GPU] %s needs %.2fGB, only %.2fGB free, forcing cleanup", op, requiredGB, snap.FreeGB)
	if err := m.ForceCleanup(ctx); err != nil {
		return err
	}

	snap, err = m.provider.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("failed to re-check memory for %s: %w", op, err)
	}
	if snap.FreeGB >= requiredGB {
		return nil
	}

	return &pipeline.OutOfMemoryError{
		Op: op,
		Guidance: fmt.Sprintf("needs %.2fGB but only %.2fGB free after cleanup; "+
			"reduce frame count or clip size, or close other model processes", requiredGB, snap.FreeGB),
	}
}

// Scoped runs fn with cleanup guaranteed afterwards, whether fn succeeds,
// fails, or panics. Memory state is logged before and after.
func (m *Manager) Scoped(ctx context.Context, name string, fn func(context.Context) error) error {
	m.LogStatus(ctx, name+" start")
	start := time.Now()

	defer func() {
		if err := m.ForceCleanup(ctx); err != nil {
			log.Printf("[GPU] %s: cleanup failed: %v", name, err)
		}
		m.LogStatus(ctx, fmt.Sprintf("%s done (%.1fs)", name, time.Since(start).Seconds()))
	}()

	return fn(ctx)
}
