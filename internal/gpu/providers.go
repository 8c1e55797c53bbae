package gpu

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/shirou/gopsutil/v3/mem"
)

const bytesPerGB = 1024 * 1024 * 1024

// NvidiaSMIProvider reads device memory through the nvidia-smi CLI. It
// covers machines where the model servers run on a local CUDA device.
type NvidiaSMIProvider struct {
	binary string
}

var _ MemoryProvider = (*NvidiaSMIProvider)(nil)

// NewNvidiaSMIProvider checks for nvidia-smi on PATH.
func NewNvidiaSMIProvider() (*NvidiaSMIProvider, error) {
	path, err := exec.LookPath("nvidia-smi")
	if err != nil {
		return nil, fmt.Errorf("nvidia-smi not found on PATH: %w", err)
	}
	return &NvidiaSMIProvider{binary: path}, nil
}

func (p *NvidiaSMIProvider) Snapshot(ctx context.Context) (Snapshot, error) {
	cmd := exec.CommandContext(ctx, p.binary,
		"--query-gpu=memory.total,memory.reserved,memory.used,memory.free,name",
		"--format=csv,noheader,nounits")
	out, err := cmd.Output()
	if err != nil {
		return Snapshot{}, fmt.Errorf("nvidia-smi query failed: %w", err)
	}

	// First device only. Output: "24576, 345, 1024, 23207, NVIDIA RTX..."
	line := strings.SplitN(strings.TrimSpace(string(out)), "\n", 2)[0]
	fields := strings.Split(line, ",")
	if len(fields) < 5 {
		return Snapshot{}, fmt.Errorf("unexpected nvidia-smi output: %q", line)
	}

	var totalMB, reservedMB, usedMB, freeMB float64
	for i, dst := range []*float64{&totalMB, &reservedMB, &usedMB, &freeMB} {
		if _, err := fmt.Sscanf(strings.TrimSpace(fields[i]), "%f", dst); err != nil {
			return Snapshot{}, fmt.Errorf("failed to parse nvidia-smi field %d: %w", i, err)
		}
	}

	return Snapshot{
		TotalGB:     totalMB / 1024,
		ReservedGB:  reservedMB / 1024,
		AllocatedGB: usedMB / 1024,
		FreeGB:      freeMB / 1024,
		Device:      strings.TrimSpace(fields[4]),
	}, nil
}

// ReleaseCached is a no-op for nvidia-smi: the model servers own their
// allocator caches and drop them between requests.
func (p *NvidiaSMIProvider) ReleaseCached(ctx context.Context) error {
	return nil
}

// ReleaseIPC clears accounting for compute processes that have exited.
func (p *NvidiaSMIProvider) ReleaseIPC(ctx context.Context) error {
	// --gpu-reset requires root and no active clients, so only the
	// harmless accounting clear is attempted here.
	cmd := exec.CommandContext(ctx, p.binary, "--query-compute-apps=pid", "--format=csv,noheader")
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("nvidia-smi compute-apps query failed: %w", err)
	}
	return nil
}

// HostProvider tracks host RAM via gopsutil. Used when no CUDA device is
// present and the model collaborators run remotely or on CPU.
type HostProvider struct{}

var _ MemoryProvider = (*HostProvider)(nil)

// NewHostProvider returns a host RAM provider.
func NewHostProvider() *HostProvider {
	return &HostProvider{}
}

func (p *HostProvider) Snapshot(ctx context.Context) (Snapshot, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to read host memory: %w", err)
	}
	return Snapshot{
		TotalGB:     float64(vm.Total) / bytesPerGB,
		AllocatedGB: float64(vm.Used) / bytesPerGB,
		FreeGB:      float64(vm.Available) / bytesPerGB,
		Device:      "host",
	}, nil
}

func (p *HostProvider) ReleaseCached(ctx context.Context) error {
	return nil
}

func (p *HostProvider) ReleaseIPC(ctx context.Context) error {
	return nil
}

// Detect picks the best available provider: nvidia-smi when present,
// otherwise host RAM.
func Detect() MemoryProvider {
	if p, err := NewNvidiaSMIProvider(); err == nil {
		return p
	}
	return NewHostProvider()
}
