// Package host measures the time and memory left to a pump activation.
//
// A Host is configured once at startup. Each activation calls Begin to obtain
// a Budget whose deadline counts from that moment.
package host

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// DefaultMaxExecutionSeconds applies when no execution limit is configured.
const DefaultMaxExecutionSeconds = 300

// Options configures a Host. Zero values select the defaults: the process
// memory ceiling falls back to the machine's total memory.
type Options struct {
	MaxExecutionSeconds float64
	MemoryLimitBytes    uint64

	// Now, UsedMemory and TotalMemory replace the clock and the gopsutil
	// probes; tests set them.
	Now         func() time.Time
	UsedMemory  func() (uint64, error)
	TotalMemory func() (uint64, error)
}

// Host hands out per-activation budgets.
type Host struct {
	maxExec float64
	ceiling uint64
	now     func() time.Time
	used    func() (uint64, error)
	logger  *slog.Logger

	warnOnce sync.Once
}

// New resolves the memory ceiling and returns a Host.
func New(opts Options, logger *slog.Logger) (*Host, error) {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Host{
		maxExec: opts.MaxExecutionSeconds,
		ceiling: opts.MemoryLimitBytes,
		now:     opts.Now,
		used:    opts.UsedMemory,
		logger:  logger.With("component", "host"),
	}
	if h.maxExec <= 0 {
		h.maxExec = DefaultMaxExecutionSeconds
	}
	if h.now == nil {
		h.now = time.Now
	}
	if h.used == nil {
		h.used = processRSS
	}

	if h.ceiling == 0 {
		total := opts.TotalMemory
		if total == nil {
			total = machineMemory
		}
		ceiling, err := total()
		if err != nil {
			return nil, fmt.Errorf("failed to determine memory ceiling: %w", err)
		}
		h.ceiling = ceiling
	}
	if h.ceiling == 0 {
		return nil, fmt.Errorf("memory ceiling must be positive")
	}

	h.logger.Debug("host budget configured",
		"max_execution_seconds", h.maxExec,
		"memory_ceiling_bytes", h.ceiling)
	return h, nil
}

// Begin starts an activation.
func (h *Host) Begin() *Budget {
	return &Budget{host: h, deadline: h.now().Add(time.Duration(h.maxExec * float64(time.Second)))}
}

// Budget is the task.Budget of one activation.
type Budget struct {
	host     *Host
	deadline time.Time
}

// RemainingSeconds is the time left before the activation deadline.
func (b *Budget) RemainingSeconds() float64 {
	return b.deadline.Sub(b.host.now()).Seconds()
}

// FreeMemoryBytes is the ceiling minus the process's resident set.
func (b *Budget) FreeMemoryBytes() uint64 {
	used, err := b.host.used()
	if err != nil {
		b.host.warnOnce.Do(func() {
			b.host.logger.Warn("failed to read process memory; assuming none used", "error", err)
		})
		return b.host.ceiling
	}
	if used >= b.host.ceiling {
		return 0
	}
	return b.host.ceiling - used
}

// FreeMemoryFraction is FreeMemoryBytes over the ceiling.
func (b *Budget) FreeMemoryFraction() float64 {
	return float64(b.FreeMemoryBytes()) / float64(b.host.ceiling)
}

// MemoryCeilingBytes is the configured or detected memory limit.
func (b *Budget) MemoryCeilingBytes() uint64 {
	return b.host.ceiling
}

// MaxSingleExecutionSeconds is the activation time limit.
func (b *Budget) MaxSingleExecutionSeconds() float64 {
	return b.host.maxExec
}

func processRSS() (uint64, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0, err
	}
	info, err := p.MemoryInfo()
	if err != nil {
		return 0, err
	}
	return info.RSS, nil
}

func machineMemory() (uint64, error) {
	vmem, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return vmem.Total, nil
}
