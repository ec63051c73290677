// Package metrics exposes ledger activity as Prometheus metrics.
package metrics

import (
	"context"
	"math/big"
	"net/http"
	"runtime"
	"time"

	"github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/luxfi/synth/pkg/synth"
)

// Metrics collects engine activity into a dedicated Prometheus registry
type Metrics struct {
	namespace string
	registry  *prometheus.Registry
	logger    log.Logger

	// Ledger metrics
	assetsCreated prometheus.Counter
	priceUpdates  prometheus.Counter
	mints         prometheus.Counter
	burns         prometheus.Counter
	liquidations  prometheus.Counter
	openPositions prometheus.Gauge
	totalSupply   prometheus.GaugeVec

	// System metrics
	memoryUsage prometheus.Gauge
	goroutines  prometheus.Gauge
}

// New creates metrics under a namespace
func New(namespace string) (*Metrics, error) {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		namespace: namespace,
		registry:  registry,
		logger:    log.Root().New("module", "metrics"),

		assetsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assets_created_total",
			Help:      "Total synthetic assets registered",
		}),
		priceUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "price_updates_total",
			Help:      "Total authoritative price updates",
		}),
		mints: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mints_total",
			Help:      "Total successful mint operations",
		}),
		burns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "burns_total",
			Help:      "Total successful burn operations",
		}),
		liquidations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "liquidations_total",
			Help:      "Total positions liquidated",
		}),
		openPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_positions",
			Help:      "Currently open positions across all assets",
		}),
		totalSupply: *prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "total_supply",
			Help:      "Synthetic supply outstanding per asset",
		}, []string{"symbol"}),

		memoryUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "memory_bytes",
			Help:      "Process heap in use",
		}),
		goroutines: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "goroutines",
			Help:      "Number of goroutines",
		}),
	}

	collectors := []prometheus.Collector{
		m.assetsCreated, m.priceUpdates, m.mints, m.burns, m.liquidations,
		m.openPositions, m.totalSupply, m.memoryUsage, m.goroutines,
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Sink adapts the metrics to synth.EventSink so every engine event is
// counted as it happens.
func (m *Metrics) Sink() synth.EventSink {
	return sink{m}
}

type sink struct{ m *Metrics }

func (s sink) Emit(ev synth.Event) {
	switch ev.Type() {
	case synth.EventAssetCreated:
		s.m.assetsCreated.Inc()
	case synth.EventPriceUpdated:
		s.m.priceUpdates.Inc()
	case synth.EventPositionOpened:
		s.m.mints.Inc()
	case synth.EventPositionClosed:
		s.m.burns.Inc()
	case synth.EventPositionLiquidated:
		s.m.liquidations.Inc()
	}
}

// UpdateFromEngine refreshes the gauges from current engine state
func (m *Metrics) UpdateFromEngine(engine *synth.Engine) {
	open := 0
	for _, asset := range engine.ListAssets() {
		supply, _ := new(big.Float).SetInt(asset.TotalSupply).Float64()
		m.totalSupply.WithLabelValues(asset.Symbol).Set(supply)
		open += len(engine.Positions(asset.Symbol))
	}
	m.openPositions.Set(float64(open))

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	m.memoryUsage.Set(float64(ms.HeapInuse))
	m.goroutines.Set(float64(runtime.NumGoroutine()))
}

// Serve exposes the registry at /metrics until the context is cancelled
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	m.logger.Info("metrics server listening", "addr", addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}
