// Package hostmetrics measures host and process resource usage with gopsutil.
package hostmetrics

import (
	"context"
	"fmt"
	"maps"
	"os"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/deepaksharma/apm-agent-core/core/metrics"
)

// Name is the registration name of the provider.
const Name = "hostmetrics"

// Metric names.
const (
	SystemCPUPct      = "system.cpu.total.norm.pct"
	SystemMemoryTotal = "system.memory.total"
	SystemMemoryFree  = "system.memory.actual.free"
	SystemLoad1       = "system.load.1"
	SystemLoad5       = "system.load.5"
	SystemLoad15      = "system.load.15"
	ProcessCPUPct     = "system.process.cpu.total.norm.pct"
	ProcessMemorySize = "system.process.memory.size"
	ProcessMemoryRSS  = "system.process.memory.rss.bytes"
	ProcessNumThreads = "system.process.num_threads"
)

// Provider reads host and current-process statistics.
type Provider struct {
	pid  int32
	data metrics.Snapshot
}

// New returns a Provider for the current process.
func New() metrics.Provider {
	return &Provider{pid: int32(os.Getpid())}
}

// Register adds the provider to c under Name.
func Register(c *metrics.Collector) error {
	return c.Register(Name, New)
}

// Measure takes one reading. Load averages are skipped on platforms that
// do not report them.
func (p *Provider) Measure(ctx context.Context) error {
	data := metrics.Snapshot{}

	cores, err := cpu.CountsWithContext(ctx, true)
	if err != nil || cores < 1 {
		cores = 1
	}

	pct, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return fmt.Errorf("failed to read cpu usage: %w", err)
	}
	if len(pct) > 0 {
		data[SystemCPUPct] = pct[0] / 100
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to read memory usage: %w", err)
	}
	data[SystemMemoryTotal] = float64(vm.Total)
	data[SystemMemoryFree] = float64(vm.Available)

	if avg, err := load.AvgWithContext(ctx); err == nil {
		data[SystemLoad1] = avg.Load1
		data[SystemLoad5] = avg.Load5
		data[SystemLoad15] = avg.Load15
	}

	proc, err := process.NewProcessWithContext(ctx, p.pid)
	if err != nil {
		return fmt.Errorf("failed to open process %d: %w", p.pid, err)
	}

	memInfo, err := proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to read process memory: %w", err)
	}
	data[ProcessMemorySize] = float64(memInfo.VMS)
	data[ProcessMemoryRSS] = float64(memInfo.RSS)

	procPct, err := proc.CPUPercentWithContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to read process cpu usage: %w", err)
	}
	data[ProcessCPUPct] = procPct / 100 / float64(cores)

	if threads, err := proc.NumThreadsWithContext(ctx); err == nil {
		data[ProcessNumThreads] = float64(threads)
	}

	p.data = data
	return nil
}

// Data returns the last reading.
func (p *Provider) Data() metrics.Snapshot {
	return maps.Clone(p.data)
}
