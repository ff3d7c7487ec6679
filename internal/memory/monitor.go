package memory

import (
	"context"
	"fmt"
	"os"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

const bytesPerMB = 1024 * 1024

// maxChildDepth bounds the process-tree walk. Chrome nests renderer and
// utility processes two or three levels below the browser.
const maxChildDepth = 4

// Sample is one point-in-time memory reading.
type Sample struct {
	ResidentMB        float64 `json:"resident_mb"`
	AvailableSystemMB float64 `json:"available_system_mb"`
	PercentOfSystem   float64 `json:"percent_of_system"`
}

// Sampler reads current memory usage.
type Sampler interface {
	Sample(ctx context.Context) (Sample, error)
}

// Monitor samples the current process (and optionally its descendants) via gopsutil.
type Monitor struct {
	proc            *process.Process
	includeChildren bool
}

// NewMonitor builds a Monitor bound to the running process. When
// includeChildren is true the resident size of every descendant process is
// added, so browsers launched by this process count against the budget.
func NewMonitor(includeChildren bool) (*Monitor, error) {
	proc, err := process.NewProcess(int32(os.Getpid())) //nolint:gosec // pid fits in int32
	if err != nil {
		return nil, fmt.Errorf("open self process: %w", err)
	}
	return &Monitor{proc: proc, includeChildren: includeChildren}, nil
}

// Sample implements Sampler.
func (m *Monitor) Sample(ctx context.Context) (Sample, error) {
	info, err := m.proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return Sample{}, fmt.Errorf("read process memory: %w", err)
	}
	rss := info.RSS
	if m.includeChildren {
		rss += childrenRSS(ctx, m.proc, 0)
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Sample{}, fmt.Errorf("read system memory: %w", err)
	}

	sample := Sample{
		ResidentMB:        float64(rss) / bytesPerMB,
		AvailableSystemMB: float64(vm.Available) / bytesPerMB,
	}
	if vm.Total > 0 {
		sample.PercentOfSystem = float64(rss) / float64(vm.Total) * 100
	}
	return sample, nil
}

// childrenRSS sums resident memory of all descendants. Processes that exit
// mid-walk are skipped.
func childrenRSS(ctx context.Context, p *process.Process, depth int) uint64 {
	if depth >= maxChildDepth {
		return 0
	}
	children, err := p.ChildrenWithContext(ctx)
	if err != nil {
		// process.ErrorNoChildren for leaves.
		return 0
	}
	var total uint64
	for _, child := range children {
		if info, err := child.MemoryInfoWithContext(ctx); err == nil {
			total += info.RSS
		}
		total += childrenRSS(ctx, child, depth+1)
	}
	return total
}
