package server

import (
	"fmt"
	"runtime"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

const bytesPerMiB = 1024 * 1024

// HostProbe reads live CPU and memory figures from the host.
type HostProbe struct{}

// Snapshot implements SystemProbe.
func (HostProbe) Snapshot() (gin.H, error) {
	cpuPercents, err := cpu.Percent(0, false)
	if err != nil {
		return nil, fmt.Errorf("failed to read cpu usage: %w", err)
	}

	cpuPercent := 0.0
	if len(cpuPercents) > 0 {
		cpuPercent = cpuPercents[0]
	}

	virtualMemory, err := mem.VirtualMemory()
	if err != nil {
		return nil, fmt.Errorf("failed to read memory usage: %w", err)
	}

	return gin.H{
		"cpu_percent":     cpuPercent,
		"cpu_cores":       runtime.NumCPU(),
		"memory_total_mb": virtualMemory.Total / bytesPerMiB,
		"memory_used_mb":  virtualMemory.Used / bytesPerMiB,
		"memory_percent":  virtualMemory.UsedPercent,
		"goroutines":      runtime.NumGoroutine(),
	}, nil
}
