package converter

import (
	"fmt"
	"time"

	"pdfconvapi/config"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"
)

// ResourceGuard refuses new conversions while the host is short on idle
// CPU, memory or disk.
type ResourceGuard struct {
	minIdleCPU  float64
	minFreeMem  uint64
	minFreeDisk uint64
	sample      time.Duration
	logger      *zap.Logger
}

func NewResourceGuard(cfg *config.Config, logger *zap.Logger) *ResourceGuard {
	return &ResourceGuard{
		minIdleCPU:  cfg.ThrottleCPU,
		minFreeMem:  uint64(cfg.ThrottleFreeMem),
		minFreeDisk: uint64(cfg.ThrottleFreeDisk),
		sample:      time.Second,
		logger:      logger.Named("resources"),
	}
}

// Check samples the host. Probes that fail are logged and skipped.
func (g *ResourceGuard) Check(dir string) error {
	p, err := cpu.Percent(g.sample, false)
	if err != nil {
		g.logger.Warn("could not read CPU usage", zap.Error(err))
	} else if len(p) > 0 && p[0] > 100.0-g.minIdleCPU {
		return fmt.Errorf("not enough idle CPU: usage %.2f%%, idle threshold %.2f%%", p[0], g.minIdleCPU)
	}

	vm, err := mem.VirtualMemory()
	if err != nil {
		g.logger.Warn("could not read memory usage", zap.Error(err))
	} else if vm.Available < g.minFreeMem {
		return fmt.Errorf("not enough free memory: available %d, required %d", vm.Available, g.minFreeMem)
	}

	d, err := disk.Usage(dir)
	if err != nil {
		g.logger.Warn("could not read disk usage", zap.String("dir", dir), zap.Error(err))
	} else if d.Free < g.minFreeDisk {
		return fmt.Errorf("not enough free disk space: available %d, required %d", d.Free, g.minFreeDisk)
	}
	return nil
}
