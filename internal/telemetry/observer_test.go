package telemetry

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"allele/internal/evo"
	"allele/internal/model"
)

var _ evo.Observer = (*GenerationObserver)(nil)

type harness struct {
	inst   *Instruments
	reader *sdkmetric.ManualReader
	spans  *tracetest.SpanRecorder
}

func newHarness(t *testing.T) harness {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	spans := tracetest.NewSpanRecorder()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	t.Cleanup(func() {
		_ = mp.Shutdown(context.Background())
		_ = tp.Shutdown(context.Background())
	})
	inst, err := NewInstruments(tp, mp)
	if err != nil {
		t.Fatalf("instruments: %v", err)
	}
	return harness{inst: inst, reader: reader, spans: spans}
}

func (h harness) collect(t *testing.T) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := h.reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	out := make(map[string]metricdata.Aggregation)
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func sumValue(t *testing.T, data metricdata.Aggregation) int64 {
	t.Helper()
	sum, ok := data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("expected int64 sum, got %T", data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func gaugeValue(t *testing.T, data metricdata.Aggregation) float64 {
	t.Helper()
	gauge, ok := data.(metricdata.Gauge[float64])
	if !ok || len(gauge.DataPoints) != 1 {
		t.Fatalf("expected one float64 gauge point, got %T %+v", data, data)
	}
	return gauge.DataPoints[0].Value
}

func summary(generation, failures int, best, mean float64) model.GenerationSummary {
	return model.GenerationSummary{
		Generation:   generation,
		BestFitness:  best,
		MeanFitness:  mean,
		BestGenomeID: "g0-i0",
		Failures:     failures,
		Population:   model.Population{Genomes: make([]model.Genome, 4)},
	}
}

func TestGenerationObserverRecordsMetricsAndSpans(t *testing.T) {
	h := newHarness(t)
	observer := NewGenerationObserver(h.inst, "run-1")
	ctx := context.Background()

	observer.ObserveGeneration(ctx, summary(0, 0, 0.4, 0.2))
	observer.ObserveGeneration(ctx, summary(1, 2, 0.7, 0.5))

	metrics := h.collect(t)
	if got := sumValue(t, metrics["allele.generations"]); got != 2 {
		t.Fatalf("generations = %d, want 2", got)
	}
	if got := sumValue(t, metrics["allele.evaluations"]); got != 8 {
		t.Fatalf("evaluations = %d, want 8", got)
	}
	if got := sumValue(t, metrics["allele.evaluation.failures"]); got != 2 {
		t.Fatalf("failures = %d, want 2", got)
	}
	if got := gaugeValue(t, metrics["allele.fitness.best"]); got != 0.7 {
		t.Fatalf("best gauge = %v, want 0.7", got)
	}
	if got := gaugeValue(t, metrics["allele.fitness.mean"]); got != 0.5 {
		t.Fatalf("mean gauge = %v, want 0.5", got)
	}

	ended := h.spans.Ended()
	if len(ended) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(ended))
	}
	if ended[0].Name() != "evo.generation" {
		t.Fatalf("unexpected span name %q", ended[0].Name())
	}
	if len(ended[0].Events()) != 0 || len(ended[1].Events()) != 1 {
		t.Fatalf("expected a failure event only on the second span")
	}
}

func TestStartRunRecordsStatus(t *testing.T) {
	h := newHarness(t)

	_, finish := h.inst.StartRun(context.Background(), "run-ok", "profile")
	finish(nil)
	_, finish = h.inst.StartRun(context.Background(), "run-bad", "profile")
	finish(errors.New("boom"))

	ended := h.spans.Ended()
	if len(ended) != 2 {
		t.Fatalf("expected 2 run spans, got %d", len(ended))
	}
	if ended[0].Status().Code == codes.Error {
		t.Fatal("successful run marked as error")
	}
	if ended[1].Status().Code != codes.Error {
		t.Fatalf("failed run status = %v", ended[1].Status())
	}

	metrics := h.collect(t)
	if got := sumValue(t, metrics["allele.runs"]); got != 2 {
		t.Fatalf("runs = %d, want 2", got)
	}
	hist, ok := metrics["allele.run.duration"].(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) != 2 {
		t.Fatalf("expected two duration series, got %+v", metrics["allele.run.duration"])
	}
}

func TestGenerationObserverWiredIntoEngine(t *testing.T) {
	h := newHarness(t)
	cfg := evo.DefaultConfig()
	cfg.PopulationSize = 4
	cfg.TournamentSize = 2
	cfg.Generations = 3
	engine, err := evo.NewEngine(cfg, evo.WithObserver(NewGenerationObserver(h.inst, "run-engine")))
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	initial, err := evo.InitializePopulation(cfg.PopulationSize, cfg.Seed)
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	fitness := func(_ context.Context, g model.Genome) (float64, error) { return g.Traits[0], nil }
	if _, err := engine.Run(context.Background(), initial, fitness); err != nil {
		t.Fatalf("run: %v", err)
	}

	if got := sumValue(t, h.collect(t)["allele.generations"]); got != 3 {
		t.Fatalf("generations = %d, want 3", got)
	}
}

func TestInitDisabledIsNoop(t *testing.T) {
	inst, shutdown, err := Init(context.Background(), DefaultConfig())
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	NewGenerationObserver(inst, "noop").ObserveGeneration(context.Background(), summary(0, 1, 1, 1))
	inst.RecordReservoirSteps(context.Background(), 3)
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
