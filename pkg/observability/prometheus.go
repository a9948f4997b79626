// Package observability provides Prometheus metrics for the ZBC library.
package observability

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"git.srvlab.io/whiskey/zbc/pkg/codec"
	"git.srvlab.io/whiskey/zbc/pkg/sg"
)

const (
	// namespace is the Prometheus metric namespace prefix for all ZBC metrics.
	namespace = "zbc"
)

// Metrics holds all Prometheus metrics for the ZBC library.
type Metrics struct {
	registry *prometheus.Registry

	// SCSI command metrics
	commandsTotal   *prometheus.CounterVec
	commandDuration *prometheus.HistogramVec

	// Data path metrics
	bytesTransferred *prometheus.CounterVec
	residualsTotal   prometheus.Counter

	// Device lifecycle metrics
	devicesOpen prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
// Uses a custom registry to avoid panics on process restart (not DefaultRegistry).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,

		commandsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commands_total",
				Help:      "Total number of SCSI commands issued by command name and status",
			},
			[]string{"command", "status"},
		),

		commandDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "command_duration_seconds",
				Help:      "Duration of SCSI command exchanges in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 20},
			},
			[]string{"command"},
		),

		bytesTransferred: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bytes_transferred_total",
				Help:      "Total data bytes actually moved by direction (read/write)",
			},
			[]string{"direction"},
		),

		residualsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "residuals_total",
			Help:      "Total number of commands completing with untransferred bytes",
		}),

		devicesOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "devices_open",
			Help:      "Number of currently open zoned devices",
		}),
	}

	// Register all metrics with the custom registry
	reg.MustRegister(
		m.commandsTotal,
		m.commandDuration,
		m.bytesTransferred,
		m.residualsTotal,
		m.devicesOpen,
	)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
// Use promhttp.HandlerFor with the custom registry for proper isolation.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// RecordCommand records one command exchange with timing.
func (m *Metrics) RecordCommand(name string, err error, duration time.Duration) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	m.commandsTotal.WithLabelValues(name, status).Inc()
	m.commandDuration.WithLabelValues(name).Observe(duration.Seconds())
}

// RecordTransfer records the bytes a data-carrying command actually moved.
func (m *Metrics) RecordTransfer(direction string, moved, residual int) {
	if moved > 0 {
		m.bytesTransferred.WithLabelValues(direction).Add(float64(moved))
	}
	if residual > 0 {
		m.residualsTotal.Inc()
	}
}

// RecordDeviceOpened increments the open-devices gauge.
func (m *Metrics) RecordDeviceOpened() {
	m.devicesOpen.Inc()
}

// RecordDeviceClosed decrements the open-devices gauge.
func (m *Metrics) RecordDeviceClosed() {
	m.devicesOpen.Dec()
}

// instrumentedExecutor wraps an sg.Executor and records per-command
// metrics around every exchange.
type instrumentedExecutor struct {
	inner   sg.Executor
	metrics *Metrics
}

// Instrument wraps an executor so every command it dispatches is counted
// and timed. Pass the result to zbc.WithExecutor.
func Instrument(m *Metrics, inner sg.Executor) sg.Executor {
	return &instrumentedExecutor{inner: inner, metrics: m}
}

func (e *instrumentedExecutor) Execute(ctx context.Context, fd int, cmd *sg.Command) error {
	start := time.Now()
	err := e.inner.Execute(ctx, fd, cmd)
	e.metrics.RecordCommand(codec.CommandName(cmd.CDB), err, time.Since(start))

	if err == nil && len(cmd.Buf) > 0 {
		direction := "read"
		if cmd.Direction == sg.DirectionToDevice {
			direction = "write"
		}
		e.metrics.RecordTransfer(direction, len(cmd.Buf)-cmd.Residual, cmd.Residual)
	}

	return err
}
