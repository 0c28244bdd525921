package warmer

import (
	"context"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// ResourceSampler reports system load as fractions in [0,1].
type ResourceSampler interface {
	CPUFraction(ctx context.Context) (float64, error)
	MemoryFraction(ctx context.Context) (float64, error)
}

// systemSampler reads host load via gopsutil.
type systemSampler struct{}

// NewSystemSampler returns a sampler backed by the host's /proc counters.
func NewSystemSampler() ResourceSampler {
	return systemSampler{}
}

func (systemSampler) CPUFraction(ctx context.Context) (float64, error) {
	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return 0, err
	}
	if len(percents) == 0 {
		return 0, nil
	}
	return percents[0] / 100, nil
}

func (systemSampler) MemoryFraction(ctx context.Context) (float64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return vm.UsedPercent / 100, nil
}
