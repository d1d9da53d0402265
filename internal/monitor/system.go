package monitor

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/dbplane/dbplane/internal/platform/logger"
	"github.com/dbplane/dbplane/internal/platform/metrics"
)

// CollectSystemMetrics samples host CPU and memory usage into the registry
// until ctx is cancelled
func CollectSystemMetrics(ctx context.Context, m *metrics.Metrics, log logger.Logger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
				m.SystemCPUUsage.Set(percents[0])
			} else if err != nil {
				log.Debug("cpu sample failed", "error", err)
			}

			if vm, err := mem.VirtualMemory(); err == nil {
				m.SystemMemoryUsage.Set(vm.UsedPercent)
			} else {
				log.Debug("memory sample failed", "error", err)
			}
		}
	}
}
