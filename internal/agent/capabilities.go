package agent

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"vlog/internal/models"
)

// agentVersion is stamped onto reported Capabilities so the coordinator can
// tell which build a worker is running without a separate field.
const agentVersion = "1.0.0"

// DetectCapabilities gathers the hardware/software facts reported at
// register and heartbeat time: CPU count, installed memory, OS, and a
// conservative max-concurrent-jobs guess derived from core count.
func DetectCapabilities(ctx context.Context) (models.Capabilities, error) {
	caps := models.Capabilities{
		OS:           runtime.GOOS,
		AgentVersion: agentVersion,
		Codecs:       []string{"h264"},
		MaxJobs:      1,
	}

	counts, err := cpu.CountsWithContext(ctx, true)
	if err != nil {
		return caps, fmt.Errorf("cpu count: %w", err)
	}
	caps.CPUCores = counts
	if counts > 1 {
		caps.MaxJobs = counts / 2
		if caps.MaxJobs < 1 {
			caps.MaxJobs = 1
		}
	}

	v, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return caps, fmt.Errorf("mem stats: %w", err)
	}
	caps.TotalMemMB = int(v.Total / (1024 * 1024))

	return caps, nil
}

// currentLoad reports instantaneous CPU utilization. It feeds the
// get_metrics command reply; the claim loop does not consult it.
func currentLoad(ctx context.Context) (float64, error) {
	pct, err := cpu.PercentWithContext(ctx, 200*time.Millisecond, false)
	if err != nil {
		return 0, err
	}
	if len(pct) == 0 {
		return 0, nil
	}
	return pct[0], nil
}
