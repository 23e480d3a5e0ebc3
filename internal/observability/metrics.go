// Package observability — metrics.go
//
// Prometheus metrics for the chairlift resort supervisor.
//
// Endpoint: GET /metrics on 127.0.0.1:9091 (configurable).
// Format: Prometheus text exposition format (OpenMetrics compatible).
// Bind: loopback only — no external exposure.
//
// Metric naming convention: chairlift_<subsystem>_<name>_<unit>
//
// All metrics are registered on a dedicated prometheus.Registry (not the
// default global registry) to avoid collisions with other instrumented
// libraries in the same process.
//
// Cardinality control:
//   - Route and pass-kind labels use a small fixed set of string values.
//   - Patron id is NOT used as a label (unbounded cardinality).
package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metric descriptors for the supervisor.
type Metrics struct {
	registry *prometheus.Registry

	// ─── Occupancy ────────────────────────────────────────────────────────

	// OnTerrain is the current count of patrons on the resort terrain.
	OnTerrain prometheus.Gauge

	// OnPlatform is the current count of patrons at the boarding platform.
	OnPlatform prometheus.Gauge

	// OnLift is the current count of patrons seated on the chair; it drops
	// at dismount, so patrons at the top are not counted.
	OnLift prometheus.Gauge

	// ─── Admission ────────────────────────────────────────────────────────

	// AdmissionsTotal counts gate-1 admission decisions, by outcome
	// (admitted, rejected).
	AdmissionsTotal *prometheus.CounterVec

	// ─── Sales ────────────────────────────────────────────────────────────

	// PassesSoldTotal counts passes sold, by kind (single_ride, timed_30,
	// timed_60, timed_120, daily).
	PassesSoldTotal *prometheus.CounterVec

	// RevenueCentsTotal is the cumulative revenue recorded by the cashier,
	// in cents.
	RevenueCentsTotal prometheus.Counter

	// ─── Rides ────────────────────────────────────────────────────────────

	// RidesTotal counts completed rides, by route (1, 2, 3, 4).
	RidesTotal *prometheus.CounterVec

	// VIPRidesTotal counts completed rides taken on a VIP pass.
	VIPRidesTotal prometheus.Counter

	// ─── Breakdown ────────────────────────────────────────────────────────

	// BreakdownDuration records how long each declared breakdown lasted.
	BreakdownDuration prometheus.Histogram

	// BreakdownsTotal counts breakdowns declared.
	BreakdownsTotal prometheus.Counter

	// ─── Day phase ────────────────────────────────────────────────────────

	// DayPhase is the current day phase, as an integer (0=OPEN..3=SHUTDOWN).
	DayPhase prometheus.Gauge

	// OccupancyPressure is the smoothed occupancy-pressure reading from
	// internal/telemetry.
	OccupancyPressure prometheus.Gauge

	// ─── Storage ──────────────────────────────────────────────────────────

	// StorageWriteLatency records BoltDB write transaction latency.
	StorageWriteLatency prometheus.Histogram

	// ─── Supervisor ───────────────────────────────────────────────────────

	// UptimeSeconds is the number of seconds since the supervisor started.
	UptimeSeconds prometheus.Gauge

	startTime time.Time
}

// NewMetrics creates and registers all supervisor Prometheus metrics.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		OnTerrain: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chairlift",
			Subsystem: "occupancy",
			Name:      "on_terrain",
			Help:      "Current number of patrons admitted to the resort terrain.",
		}),

		OnPlatform: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chairlift",
			Subsystem: "occupancy",
			Name:      "on_platform",
			Help:      "Current number of patrons waiting at the boarding platform.",
		}),

		OnLift: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chairlift",
			Subsystem: "occupancy",
			Name:      "on_lift",
			Help:      "Current number of patrons seated on the lift.",
		}),

		AdmissionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chairlift",
			Subsystem: "gate",
			Name:      "admissions_total",
			Help:      "Total gate-1 admission decisions, by outcome.",
		}, []string{"outcome"}),

		PassesSoldTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chairlift",
			Subsystem: "cashier",
			Name:      "passes_sold_total",
			Help:      "Total passes sold, by kind.",
		}, []string{"kind"}),

		RevenueCentsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chairlift",
			Subsystem: "cashier",
			Name:      "revenue_cents_total",
			Help:      "Cumulative revenue recorded, in cents.",
		}),

		RidesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chairlift",
			Subsystem: "lift",
			Name:      "rides_total",
			Help:      "Total completed rides, by route.",
		}, []string{"route"}),

		VIPRidesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chairlift",
			Subsystem: "lift",
			Name:      "vip_rides_total",
			Help:      "Total completed rides taken on a VIP pass.",
		}),

		BreakdownDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "chairlift",
			Subsystem: "breakdown",
			Name:      "duration_seconds",
			Help:      "Duration of declared breakdowns, in seconds.",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}),

		BreakdownsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chairlift",
			Subsystem: "breakdown",
			Name:      "declared_total",
			Help:      "Total breakdowns declared by any operator.",
		}),

		DayPhase: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chairlift",
			Subsystem: "day",
			Name:      "phase",
			Help:      "Current day phase: 0=OPEN 1=CLOSING 2=DRAINING 3=SHUTDOWN.",
		}),

		OccupancyPressure: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chairlift",
			Subsystem: "day",
			Name:      "occupancy_pressure",
			Help:      "EWMA-smoothed terrain occupancy ratio.",
		}),

		StorageWriteLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "chairlift",
			Subsystem: "storage",
			Name:      "write_latency_seconds",
			Help:      "BoltDB write transaction latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}),

		UptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chairlift",
			Subsystem: "supervisor",
			Name:      "uptime_seconds",
			Help:      "Number of seconds since the supervisor started.",
		}),
	}

	reg.MustRegister(
		m.OnTerrain,
		m.OnPlatform,
		m.OnLift,
		m.AdmissionsTotal,
		m.PassesSoldTotal,
		m.RevenueCentsTotal,
		m.RidesTotal,
		m.VIPRidesTotal,
		m.BreakdownDuration,
		m.BreakdownsTotal,
		m.DayPhase,
		m.OccupancyPressure,
		m.StorageWriteLatency,
		m.UptimeSeconds,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	return m
}

// ServeMetrics starts the Prometheus HTTP metrics server on the given
// address. Blocks until ctx is cancelled or the server fails.
func (m *Metrics) ServeMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go m.updateUptime(ctx)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server on %s: %w", addr, err)
	}
	return nil
}

// updateUptime periodically updates the UptimeSeconds gauge.
func (m *Metrics) updateUptime(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.UptimeSeconds.Set(time.Since(m.startTime).Seconds())
		case <-ctx.Done():
			return
		}
	}
}
