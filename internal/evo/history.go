package evo

import (
	"iter"

	"allele/internal/model"
)

// History is the finite, ordered sequence of generation summaries of a run.
type History struct {
	summaries []model.GenerationSummary
}

func NewHistory(summaries []model.GenerationSummary) History {
	return History{summaries: append([]model.GenerationSummary(nil), summaries...)}
}

func (h History) Len() int {
	return len(h.summaries)
}

func (h History) At(i int) model.GenerationSummary {
	return h.summaries[i]
}

// All iterates the summaries in generation order. Each call starts over.
func (h History) All() iter.Seq2[int, model.GenerationSummary] {
	return func(yield func(int, model.GenerationSummary) bool) {
		for i, summary := range h.summaries {
			if !yield(i, summary) {
				return
			}
		}
	}
}

// Summaries returns a copy of the underlying summaries.
func (h History) Summaries() []model.GenerationSummary {
	return append([]model.GenerationSummary(nil), h.summaries...)
}

func (h History) BestScores() []float64 {
	out := make([]float64, len(h.summaries))
	for i, s := range h.summaries {
		out[i] = s.BestFitness
	}
	return out
}

func (h History) MeanScores() []float64 {
	out := make([]float64, len(h.summaries))
	for i, s := range h.summaries {
		out[i] = s.MeanFitness
	}
	return out
}

// Failures returns the per-generation evaluation failure counts.
func (h History) Failures() []int {
	out := make([]int, len(h.summaries))
	for i, s := range h.summaries {
		out[i] = s.Failures
	}
	return out
}
