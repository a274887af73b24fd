package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/global"
	"go.opentelemetry.io/otel/metric/instrument"
	"go.opentelemetry.io/otel/metric/unit"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/aggregation"
)

// BaseAttrs contains attributes that should be added in all exported metrics.
var BaseAttrs []attribute.KeyValue

// Server exposes the collected metrics in the Prometheus format.
type Server struct {
	srv *http.Server
}

// SetupInstrumentation sets the global meter provider and starts a metric endpoint at prometheusAddr.
func SetupInstrumentation(prometheusAddr string, serviceName string) (*Server, error) {
	BaseAttrs = []attribute.KeyValue{attribute.String("service_name", serviceName)}

	registry := prometheus.NewRegistry()
	exporter, err := otelprom.New(
		otelprom.WithRegisterer(registry),
		otelprom.WithAggregationSelector(aggregatorSelector),
	)
	if err != nil {
		return nil, fmt.Errorf("creating prometheus exporter: %s", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	global.SetMeterProvider(provider)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	s := &Server{
		srv: &http.Server{
			Addr:              prometheusAddr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", prometheusAddr).Msg("serving metrics")
		}
	}()

	if err := startCollectingRuntimeMetrics(); err != nil {
		return nil, fmt.Errorf("start collecting Go runtime metrics: %s", err)
	}

	return s, nil
}

// Handler returns the handler serving the metrics endpoint.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Shutdown stops serving metrics.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down metrics server: %s", err)
	}
	return nil
}

// RegisterFileSizeGauge reports the size in bytes of the file at path. Missing files are reported as zero.
func RegisterFileSizeGauge(name string, path string) error {
	meter := global.MeterProvider().Meter("walletsync")
	size, err := meter.Int64ObservableGauge(
		name,
		instrument.WithUnit(string(unit.Bytes)),
		instrument.WithDescription("Size of "+path),
	)
	if err != nil {
		return fmt.Errorf("creating file size gauge: %s", err)
	}

	if _, err := meter.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			var bytes int64
			if info, err := os.Stat(path); err == nil {
				bytes = info.Size()
			}
			o.ObserveInt64(size, bytes, BaseAttrs...)
			return nil
		}, size); err != nil {
		return fmt.Errorf("registering callback: %s", err)
	}
	return nil
}

func startCollectingRuntimeMetrics() error {
	meter := global.MeterProvider().Meter("runtime")

	uptime, err := meter.Int64ObservableGauge(
		"runtime.uptime",
		instrument.WithUnit(string(unit.Milliseconds)),
		instrument.WithDescription("Milliseconds since application was initialized"),
	)
	if err != nil {
		return fmt.Errorf("creating runtime uptime: %s", err)
	}
	goroutines, err := meter.Int64ObservableGauge(
		"process.runtime.go.goroutines",
		instrument.WithDescription("Number of goroutines that currently exist"),
	)
	if err != nil {
		return fmt.Errorf("creating runtime goroutines: %s", err)
	}
	heapInuse, err := meter.Int64ObservableGauge(
		"process.runtime.go.mem.heap_inuse",
		instrument.WithUnit(string(unit.Bytes)),
		instrument.WithDescription("Bytes in in-use spans"),
	)
	if err != nil {
		return fmt.Errorf("creating heap in use: %s", err)
	}
	gcCount, err := meter.Int64ObservableGauge(
		"process.runtime.go.gc.count",
		instrument.WithDescription("Number of completed garbage collection cycles"),
	)
	if err != nil {
		return fmt.Errorf("creating gc count: %s", err)
	}

	var (
		mu           sync.Mutex
		lastMemStats time.Time
		memStats     runtime.MemStats
	)
	startTime := time.Now()
	if _, err := meter.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			mu.Lock()
			defer mu.Unlock()

			// ReadMemStats stops the world.
			if now := time.Now(); now.Sub(lastMemStats) >= 15*time.Second {
				runtime.ReadMemStats(&memStats)
				lastMemStats = now
			}

			o.ObserveInt64(uptime, time.Since(startTime).Milliseconds(), BaseAttrs...)
			o.ObserveInt64(goroutines, int64(runtime.NumGoroutine()), BaseAttrs...)
			o.ObserveInt64(heapInuse, int64(memStats.HeapInuse), BaseAttrs...)
			o.ObserveInt64(gcCount, int64(memStats.NumGC), BaseAttrs...)
			return nil
		},
		[]instrument.Asynchronous{
			uptime,
			goroutines,
			heapInuse,
			gcCount,
		}...,
	); err != nil {
		return fmt.Errorf("registering callback: %s", err)
	}

	return nil
}

func aggregatorSelector(ik sdkmetric.InstrumentKind) aggregation.Aggregation {
	switch ik {
	case sdkmetric.InstrumentKindCounter, sdkmetric.InstrumentKindUpDownCounter,
		sdkmetric.InstrumentKindObservableCounter, sdkmetric.InstrumentKindObservableUpDownCounter:
		return aggregation.Sum{}
	case sdkmetric.InstrumentKindObservableGauge:
		return aggregation.LastValue{}
	case sdkmetric.InstrumentKindHistogram:
		// Latencies are recorded in milliseconds; a sync pass over a long range takes minutes.
		return aggregation.ExplicitBucketHistogram{
			Boundaries: []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 30000, 120000, 600000},
			NoMinMax:   false,
		}
	}
	panic("unknown instrument kind")
}
