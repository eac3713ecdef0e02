package orchestrator

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/sys/unix"

	"github.com/InterShare/InterShareSDK/log"
	"github.com/InterShare/InterShareSDK/metrics"
)

// metricsHub owns every process-level metrics subsystem beyond the
// DefaultRegistry counters/histograms the protocol packages record
// directly: periodic system sampling, a rolling session-rate meter, the
// tagged collector the Prometheus custom collector reads from, a log
// reporter fed through its own RecordMetric calls, and (if MetricsAddr is
// set) the HTTP /metrics endpoint.
type metricsHub struct {
	system    *metrics.SystemMetrics
	cpu       *metrics.CPUTracker
	collector *metrics.MetricsCollector
	reporter  *metrics.MetricsReporter
	sessions  *metrics.Meter
	bytes     *metrics.Meter

	exporter   *metrics.PrometheusExporter
	httpServer *http.Server
	interval   time.Duration
	ticker     *time.Ticker
	stopCh     chan struct{}
	doneCh     chan struct{}

	log *log.Logger
}

// newMetricsHub builds a metricsHub. It always samples in-process; it
// additionally serves a Prometheus endpoint when addr != "".
func newMetricsHub(addr string, interval time.Duration, logger *log.Logger) *metricsHub {
	h := &metricsHub{
		system:    metrics.NewSystemMetrics(),
		cpu:       metrics.NewCPUTracker(),
		collector: metrics.NewMetricsCollector(metrics.CollectorConfig{EnableHistograms: true}),
		reporter:  metrics.NewMetricsReporter(interval),
		sessions:  metrics.NewMeter(),
		bytes:     metrics.NewMeter(),
		interval:  interval,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
		log:       logger,
	}

	h.system.SetSessionsCompletedFunc(func() uint64 {
		return uint64(metrics.SessionsFinished.Value() + metrics.SessionsReceived.Value())
	})
	h.system.SetNearbyDeviceCountFunc(func() int {
		return int(metrics.DevicesDiscovered.Value())
	})
	h.system.SetDiskUsageFunc(func(path string) metrics.DiskStats {
		return diskUsage(path)
	})

	h.reporter.RegisterBackend("log", logReportBackend{log: logger})

	if addr != "" {
		exporter := metrics.NewPrometheusExporter(metrics.DefaultRegistry, metrics.DefaultPrometheusConfig())
		exporter.RegisterCollector("collector", collectorAdapter{h.collector})
		exporter.RegisterCollector("rates", rateAdapter{h})
		h.exporter = exporter
		h.httpServer = &http.Server{Addr: addr, Handler: exporter.Handler()}
	}

	return h
}

// Start begins periodic sampling and, if configured, the Prometheus HTTP
// server. It returns immediately; failures to bind the HTTP server are
// logged rather than returned, matching the best-effort nature of an
// observability sidecar.
func (h *metricsHub) Start() {
	h.ticker = time.NewTicker(h.interval)
	h.reporter.Start()
	go h.sampleLoop()

	if h.httpServer != nil {
		go func() {
			if err := h.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				h.log.Warn("metrics http server failed", "error", err)
			}
		}()
	}
}

// Stop halts sampling, the reporter, and the HTTP server (if running).
func (h *metricsHub) Stop() {
	close(h.stopCh)
	<-h.doneCh
	h.reporter.Stop()
	if h.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.httpServer.Shutdown(ctx); err != nil {
			h.log.Warn("metrics http server shutdown failed", "error", err)
		}
	}
}

// sampleLoop refreshes system/CPU stats and feeds the tagged collector and
// log reporter every tick until Stop is called.
func (h *metricsHub) sampleLoop() {
	defer close(h.doneCh)
	for {
		select {
		case <-h.stopCh:
			return
		case <-h.ticker.C:
			h.sampleOnce()
		}
	}
}

func (h *metricsHub) sampleOnce() {
	h.system.Collect()
	h.cpu.RecordCPU()

	mem := h.system.MemoryUsage()
	h.collector.Record("system.goroutines", float64(h.system.GoRoutineCount()), nil)
	h.collector.Record("system.heap_alloc_bytes", float64(mem.HeapAlloc), nil)
	h.collector.Record("system.cpu_percent", h.cpu.Usage(), nil)
	h.collector.Record("sessions.rate1", h.sessions.Rate1(), nil)
	h.collector.Record("transfer.bytes_rate1", h.bytes.Rate1(), nil)

	h.reporter.RecordMetric("system.goroutines", float64(h.system.GoRoutineCount()))
	h.reporter.RecordMetric("system.heap_alloc_bytes", float64(mem.HeapAlloc))
	h.reporter.RecordMetric("system.cpu_percent", h.cpu.Usage())
	h.reporter.RecordMetric("sessions.rate1", h.sessions.Rate1())
}

// logReportBackend adapts a *log.Logger into metrics.ReportBackend, writing
// one structured line per export interval.
type logReportBackend struct {
	log *log.Logger
}

func (b logReportBackend) Report(snapshot map[string]float64) error {
	args := make([]any, 0, len(snapshot)*2)
	for k, v := range snapshot {
		args = append(args, k, v)
	}
	b.log.Info("metrics snapshot", args...)
	return nil
}

// collectorAdapter exposes a *metrics.MetricsCollector's latest values as
// Prometheus custom-collector lines.
type collectorAdapter struct {
	c *metrics.MetricsCollector
}

func (a collectorAdapter) Collect() []metrics.MetricLine {
	summary := a.c.Summary()
	lines := make([]metrics.MetricLine, 0, len(summary))
	for name, value := range summary {
		lines = append(lines, metrics.MetricLine{Name: name, Value: value})
	}
	return lines
}

// rateAdapter exposes the session/byte meters' EWMA rates as Prometheus
// custom-collector lines.
type rateAdapter struct {
	hub *metricsHub
}

func (a rateAdapter) Collect() []metrics.MetricLine {
	return []metrics.MetricLine{
		{Name: "sessions.rate1", Value: a.hub.sessions.Rate1()},
		{Name: "sessions.rate5", Value: a.hub.sessions.Rate5()},
		{Name: "transfer.bytes_rate1", Value: a.hub.bytes.Rate1()},
		{Name: "transfer.bytes_rate5", Value: a.hub.bytes.Rate5()},
	}
}

// diskUsage reports usage for path via statfs; zero-valued on any error
// (e.g. path not yet created), which SystemMetrics.DiskUsage tolerates.
// Field widths in unix.Statfs_t vary by platform, hence the uint64 casts.
func diskUsage(path string) metrics.DiskStats {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return metrics.DiskStats{}
	}
	bsize := uint64(stat.Bsize)
	total := uint64(stat.Blocks) * bsize
	free := uint64(stat.Bfree) * bsize
	return metrics.DiskStats{Total: total, Used: total - free, Free: free}
}
