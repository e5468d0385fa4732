// Package telemetry exports evolution progress through OpenTelemetry.
//
// Instruments are built from explicit tracer and meter providers so tests and
// embedding applications can route them anywhere. Init wires OTLP HTTP
// exporters for the CLI; without it every instrument is a no-op.
package telemetry

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const scopeName = "allele/internal/telemetry"

var (
	AttrRunID        = attribute.Key("allele.run_id")
	AttrFitness      = attribute.Key("allele.fitness")
	AttrGeneration   = attribute.Key("allele.generation")
	AttrBestGenomeID = attribute.Key("allele.best_genome_id")
	AttrBestFitness  = attribute.Key("allele.fitness.best")
	AttrMeanFitness  = attribute.Key("allele.fitness.mean")
	AttrFailures     = attribute.Key("allele.evaluation.failures")
	AttrRunStatus    = attribute.Key("allele.run.status")
)

// Config selects where telemetry goes. Endpoint empty means the standard
// OTEL_EXPORTER_OTLP_* environment variables decide.
type Config struct {
	Enabled     bool   `json:"enabled" toml:"enabled" yaml:"enabled"`
	Endpoint    string `json:"endpoint" toml:"endpoint" yaml:"endpoint"`
	ServiceName string `json:"service_name" toml:"service_name" yaml:"service_name"`
}

func DefaultConfig() Config {
	return Config{ServiceName: "allele"}
}

// Instruments holds every tracer and metric instrument allele records with.
type Instruments struct {
	Tracer trace.Tracer
	Meter  metric.Meter

	Generations  metric.Int64Counter
	Evaluations  metric.Int64Counter
	Failures     metric.Int64Counter
	BestFitness  metric.Float64Gauge
	MeanFitness  metric.Float64Gauge
	Runs         metric.Int64Counter
	RunDuration  metric.Float64Histogram
	ReservoirOps metric.Int64Counter
}

// Noop returns instruments backed by the global providers, which discard
// everything until Init replaces them.
func Noop() *Instruments {
	inst, err := NewInstruments(otel.GetTracerProvider(), otel.GetMeterProvider())
	if err != nil {
		panic("telemetry: noop instruments: " + err.Error())
	}
	return inst
}

// Init installs OTLP HTTP trace and metric providers as the globals and
// returns instruments bound to them plus a shutdown func. A disabled config
// returns no-op instruments and a shutdown that does nothing.
func Init(ctx context.Context, cfg Config) (*Instruments, func(context.Context) error, error) {
	if !cfg.Enabled {
		return Noop(), func(context.Context) error { return nil }, nil
	}
	name := cfg.ServiceName
	if name == "" {
		name = "allele"
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(name)),
		resource.WithFromEnv(),
	)
	if err != nil {
		return nil, nil, err
	}

	var traceOpts []otlptracehttp.Option
	var metricOpts []otlpmetrichttp.Option
	if cfg.Endpoint != "" {
		traceOpts = append(traceOpts, otlptracehttp.WithEndpointURL(cfg.Endpoint))
		metricOpts = append(metricOpts, otlpmetrichttp.WithEndpointURL(cfg.Endpoint))
	}

	traceExp, err := otlptracehttp.New(ctx, traceOpts...)
	if err != nil {
		return nil, nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExp),
		sdktrace.WithResource(res),
	)

	metricExp, err := otlpmetrichttp.New(ctx, metricOpts...)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, nil, err
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)),
		sdkmetric.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)

	inst, err := NewInstruments(tp, mp)
	if err != nil {
		_ = tp.Shutdown(ctx)
		_ = mp.Shutdown(ctx)
		return nil, nil, err
	}
	shutdown := func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}
	return inst, shutdown, nil
}

// NewInstruments creates all instruments from the given providers.
func NewInstruments(tp trace.TracerProvider, mp metric.MeterProvider) (*Instruments, error) {
	meter := mp.Meter(scopeName)
	inst := &Instruments{
		Tracer: tp.Tracer(scopeName),
		Meter:  meter,
	}

	var err error
	if inst.Generations, err = meter.Int64Counter("allele.generations",
		metric.WithDescription("Generations evaluated"),
		metric.WithUnit("{generation}")); err != nil {
		return nil, err
	}
	if inst.Evaluations, err = meter.Int64Counter("allele.evaluations",
		metric.WithDescription("Genome fitness evaluations"),
		metric.WithUnit("{evaluation}")); err != nil {
		return nil, err
	}
	if inst.Failures, err = meter.Int64Counter("allele.evaluation.failures",
		metric.WithDescription("Fitness evaluations that failed and scored worst"),
		metric.WithUnit("{evaluation}")); err != nil {
		return nil, err
	}
	if inst.BestFitness, err = meter.Float64Gauge("allele.fitness.best",
		metric.WithDescription("Best fitness of the latest generation")); err != nil {
		return nil, err
	}
	if inst.MeanFitness, err = meter.Float64Gauge("allele.fitness.mean",
		metric.WithDescription("Mean fitness of the latest generation")); err != nil {
		return nil, err
	}
	if inst.Runs, err = meter.Int64Counter("allele.runs",
		metric.WithDescription("Evolution runs"),
		metric.WithUnit("{run}")); err != nil {
		return nil, err
	}
	if inst.RunDuration, err = meter.Float64Histogram("allele.run.duration",
		metric.WithDescription("Evolution run wall time"),
		metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	if inst.ReservoirOps, err = meter.Int64Counter("allele.reservoir.steps",
		metric.WithDescription("Reservoir input vectors processed"),
		metric.WithUnit("{step}")); err != nil {
		return nil, err
	}
	return inst, nil
}
