package discovery

import (
	"context"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"
)

// DetectResources reads the host cpu count and total memory. Failures fall
// back to runtime.NumCPU and zero memory.
func DetectResources(ctx context.Context, logger *zap.Logger) Resources {
	if logger == nil {
		logger = zap.NewNop()
	}

	res := Resources{CPUCount: runtime.NumCPU()}
	if n, err := cpu.CountsWithContext(ctx, true); err != nil {
		logger.Warn("cpu count unavailable, using runtime.NumCPU", zap.Error(err))
	} else if n > 0 {
		res.CPUCount = n
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err != nil {
		logger.Warn("memory stats unavailable", zap.Error(err))
	} else {
		res.MemoryMB = int(vm.Total / (1024 * 1024))
	}
	return res
}
