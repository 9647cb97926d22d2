package monitoring

import (
	"context"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/process"
)

// SystemCollector periodically samples process-level resource usage into the
// Prometheus gauges. One collector runs per process.
type SystemCollector struct {
	proc     *process.Process
	logger   zerolog.Logger
	interval time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSystemCollector creates a collector sampling at the given interval.
func NewSystemCollector(interval time.Duration, logger zerolog.Logger) (*SystemCollector, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	return &SystemCollector{
		proc:     proc,
		logger:   logger.With().Str("component", "system_collector").Logger(),
		interval: interval,
	}, nil
}

// Start begins sampling on a background goroutine.
func (sc *SystemCollector) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	sc.cancel = cancel

	sc.wg.Add(1)
	go func() {
		defer sc.wg.Done()

		ticker := time.NewTicker(sc.interval)
		defer ticker.Stop()

		sc.sample()
		for {
			select {
			case <-ticker.C:
				sc.sample()
			case <-ctx.Done():
				return
			}
		}
	}()

	sc.logger.Info().Dur("interval", sc.interval).Msg("System collector started")
}

// Stop halts sampling and waits for the goroutine to exit.
func (sc *SystemCollector) Stop() {
	if sc.cancel != nil {
		sc.cancel()
	}
	sc.wg.Wait()
}

func (sc *SystemCollector) sample() {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	memoryUsageBytes.Set(float64(mem.HeapAlloc))
	goroutinesActive.Set(float64(runtime.NumGoroutine()))

	cpu, err := sc.proc.CPUPercent()
	if err != nil {
		sc.logger.Debug().Err(err).Msg("Failed to sample CPU usage")
		return
	}
	cpuUsagePercent.Set(cpu)
}
