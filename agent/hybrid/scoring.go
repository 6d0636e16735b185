package hybrid

import (
	"math"

	"github.com/BaSui01/skillmesh/agent/discovery"
)

const (
	lightLocalBias     = 0.2
	heavyLocalBias     = -0.2
	gpuLocalBias       = -0.3
	gpuLocalBiasNoGPU  = -0.5
	lightRemoteBias    = -0.1
	resourceRemoteBias = 0.2

	cpuReference    = 16.0
	memoryReference = 32768.0
)

// LocalScore scores running a task of class locally at the given load.
// An idle node running a light task scores 1.2.
func LocalScore(class WeightClass, load float64, hasGPU bool) float64 {
	score := 1 - clamp01(load)
	switch class {
	case WeightLight:
		score += lightLocalBias
	case WeightHeavy:
		score += heavyLocalBias
	case WeightGPU:
		if hasGPU {
			score += gpuLocalBias
		} else {
			score += gpuLocalBiasNoGPU
		}
	}
	return score
}

// RemoteScore scores delegating a task of class to device, where rank is the
// registry ranking score (0..100) and load the device's current load.
// Heavy and gpu tasks favour devices with more cpu and memory.
func RemoteScore(class WeightClass, rank, load float64, device *discovery.DeviceProfile) float64 {
	score := math.Max(rank, 0) / 100 * (1 - clamp01(load))
	switch class {
	case WeightLight:
		score += lightRemoteBias
	case WeightHeavy, WeightGPU:
		score += resourceRemoteBias * resourceFactor(device)
	}
	return score
}

// resourceFactor is the device's cpu and memory against reference sizes, 0..1.
func resourceFactor(d *discovery.DeviceProfile) float64 {
	if d == nil {
		return 0
	}
	cpu := math.Min(float64(d.Resources.CPUCount), cpuReference) / cpuReference
	mem := math.Min(float64(d.Resources.MemoryMB), memoryReference) / memoryReference
	return (math.Max(cpu, 0) + math.Max(mem, 0)) / 2
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
