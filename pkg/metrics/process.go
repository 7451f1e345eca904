package metrics

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"
)

var (
	// ProcessCPUPercent is the CPU used by this process since the last sample
	ProcessCPUPercent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "recordbridge_process_cpu_percent",
		Help: "CPU percent used by the process",
	})

	// ProcessRSSBytes is the resident memory of this process
	ProcessRSSBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "recordbridge_process_rss_bytes",
		Help: "Resident set size of the process",
	})

	// ProcessThreads is the OS thread count of this process
	ProcessThreads = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "recordbridge_process_threads",
		Help: "OS threads of the process",
	})
)

// ProcessSampler samples the current process with gopsutil
type ProcessSampler struct {
	proc   *process.Process
	logger *zap.Logger
}

// NewProcessSampler creates a sampler for this process
func NewProcessSampler(logger *zap.Logger) (*ProcessSampler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	proc, err := process.NewProcess(int32(os.Getpid())) //nolint:gosec // pids fit in int32
	if err != nil {
		return nil, err
	}
	return &ProcessSampler{proc: proc, logger: logger}, nil
}

// Sample updates the process gauges once
func (s *ProcessSampler) Sample(ctx context.Context) {
	if cpu, err := s.proc.PercentWithContext(ctx, 0); err == nil {
		ProcessCPUPercent.Set(cpu)
	}
	if mem, err := s.proc.MemoryInfoWithContext(ctx); err == nil {
		ProcessRSSBytes.Set(float64(mem.RSS))
	}
	if threads, err := s.proc.NumThreadsWithContext(ctx); err == nil {
		ProcessThreads.Set(float64(threads))
	}
}

// Run samples every interval until ctx is done
func (s *ProcessSampler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		s.Sample(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Serve exposes /metrics on addr until ctx is done, sampling process
// gauges every 15 seconds
func Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	if sampler, err := NewProcessSampler(logger); err == nil {
		go sampler.Run(ctx, 15*time.Second)
	} else {
		logger.Warn("process metrics unavailable", zap.Error(err))
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("serving metrics", zap.String("addr", addr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
