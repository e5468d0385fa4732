package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"allele/internal/model"
)

// GenerationObserver records one span and a set of metric points per
// generation summary. It satisfies evo.Observer.
type GenerationObserver struct {
	inst  *Instruments
	runID string
}

func NewGenerationObserver(inst *Instruments, runID string) *GenerationObserver {
	if inst == nil {
		inst = Noop()
	}
	return &GenerationObserver{inst: inst, runID: runID}
}

func (o *GenerationObserver) ObserveGeneration(ctx context.Context, summary model.GenerationSummary) {
	_, span := o.inst.Tracer.Start(ctx, "evo.generation", trace.WithAttributes(
		AttrRunID.String(o.runID),
		AttrGeneration.Int(summary.Generation),
		AttrBestGenomeID.String(summary.BestGenomeID),
		AttrBestFitness.Float64(summary.BestFitness),
		AttrMeanFitness.Float64(summary.MeanFitness),
		AttrFailures.Int(summary.Failures),
	))
	if summary.Failures > 0 {
		span.AddEvent("evaluation.failures", trace.WithAttributes(AttrFailures.Int(summary.Failures)))
	}
	span.End()

	attrs := metric.WithAttributes(AttrRunID.String(o.runID))
	o.inst.Generations.Add(ctx, 1, attrs)
	o.inst.Evaluations.Add(ctx, int64(len(summary.Population.Genomes)), attrs)
	if summary.Failures > 0 {
		o.inst.Failures.Add(ctx, int64(summary.Failures), attrs)
	}
	o.inst.BestFitness.Record(ctx, summary.BestFitness, attrs)
	o.inst.MeanFitness.Record(ctx, summary.MeanFitness, attrs)
}

// StartRun opens the parent span for one evolution run. The returned finish
// func ends the span and records the run count and duration.
func (inst *Instruments) StartRun(ctx context.Context, runID, fitness string) (context.Context, func(error)) {
	ctx, span := inst.Tracer.Start(ctx, "evo.run", trace.WithAttributes(
		AttrRunID.String(runID),
		AttrFitness.String(fitness),
	))
	start := time.Now()

	return ctx, func(err error) {
		status := "ok"
		switch {
		case err != nil && ctx.Err() != nil:
			status = "cancelled"
			span.SetStatus(codes.Error, "cancelled")
		case err != nil:
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(AttrRunStatus.String(status))
		span.End()

		attrs := metric.WithAttributes(
			AttrFitness.String(fitness),
			attribute.String("status", status),
		)
		inst.Runs.Add(ctx, 1, attrs)
		inst.RunDuration.Record(ctx, float64(time.Since(start).Milliseconds()), attrs)
	}
}

// RecordReservoirSteps counts input vectors consumed by a reservoir.
func (inst *Instruments) RecordReservoirSteps(ctx context.Context, steps int) {
	if steps > 0 {
		inst.ReservoirOps.Add(ctx, int64(steps))
	}
}
