package reservoir

import (
	"errors"
	"math"
	"testing"

	"allele/internal/model"
)

func adaptedReservoir(t *testing.T, a Adaptation) *Reservoir {
	t.Helper()
	r, err := New(smallConfig(), 21)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := r.Adapt(a); err != nil {
		t.Fatalf("adapt: %v", err)
	}
	return r
}

func TestReadoutLearningIsDeterministic(t *testing.T) {
	inputs := randomInputs(5, 30, 4)
	learning := Adaptation{LearningRate: 0.05}

	a := adaptedReservoir(t, learning)
	b := adaptedReservoir(t, learning)
	before := a.Readout()
	outA, err := a.Outputs(inputs)
	if err != nil {
		t.Fatalf("outputs: %v", err)
	}
	outB, _ := b.Outputs(inputs)

	if !equalVectors(a.Readout(), b.Readout()) {
		t.Fatal("learned readouts differ for equal seeds and inputs")
	}
	if equalVectors(a.Readout(), before) {
		t.Fatal("learning left the readout unchanged")
	}
	for i := range outA {
		if !equalVectors(outA[i], outB[i]) {
			t.Fatalf("output %d differs", i)
		}
	}

	n := smallConfig().StateDimension
	weights := a.Readout()
	for o := 0; o < smallConfig().OutputDimension; o++ {
		norm := 0.0
		for _, w := range weights[o*n : (o+1)*n] {
			if math.IsNaN(w) || math.IsInf(w, 0) {
				t.Fatalf("non-finite readout weight in row %d", o)
			}
			norm += w * w
		}
		if norm > 1+1e-9 {
			t.Fatalf("readout row %d norm %f exceeds 1", o, math.Sqrt(norm))
		}
	}
}

func TestLearningChangesLaterOutputsOnly(t *testing.T) {
	inputs := randomInputs(6, 12, 4)
	plain, _ := New(smallConfig(), 21)
	learning := adaptedReservoir(t, Adaptation{LearningRate: 0.2})

	p, _ := plain.Outputs(inputs)
	l, _ := learning.Outputs(inputs)
	if !equalVectors(p[0], l[0]) {
		t.Fatal("first output must use the initial readout")
	}
	if equalVectors(p[11], l[11]) {
		t.Fatal("expected learned readout to change later outputs")
	}
}

func TestNoiseDependsOnSeedAndStep(t *testing.T) {
	inputs := randomInputs(7, 8, 4)
	noisy := Adaptation{NoiseAmplitude: 0.1, NoiseSeed: 3}

	a := adaptedReservoir(t, noisy)
	b := adaptedReservoir(t, noisy)
	outA, _ := a.Outputs(inputs)
	outB, _ := b.Outputs(inputs)
	for i := range outA {
		if !equalVectors(outA[i], outB[i]) {
			t.Fatalf("noisy output %d differs for equal seeds", i)
		}
	}

	other := adaptedReservoir(t, Adaptation{NoiseAmplitude: 0.1, NoiseSeed: 4})
	outC, _ := other.Outputs(inputs)
	if equalVectors(outA[7], outC[7]) {
		t.Fatal("different noise seeds gave identical outputs")
	}

	a.Reset()
	again, _ := a.Outputs(inputs)
	if !equalVectors(again[7], outA[7]) {
		t.Fatal("reset did not rewind the noise stream")
	}
}

func TestSnapshotRestoreWithAdaptation(t *testing.T) {
	inputs := randomInputs(8, 10, 4)
	r := adaptedReservoir(t, Adaptation{LearningRate: 0.1, NoiseAmplitude: 0.05, NoiseSeed: 9})
	if _, err := r.Outputs(inputs[:4]); err != nil {
		t.Fatalf("outputs: %v", err)
	}
	snap := r.Snapshot()
	if len(snap.Readout) != smallConfig().OutputDimension*smallConfig().StateDimension {
		t.Fatalf("snapshot readout has %d weights", len(snap.Readout))
	}
	tail, _ := r.Outputs(inputs[4:])

	if err := r.Restore(snap); err != nil {
		t.Fatalf("restore: %v", err)
	}
	replay, _ := r.Outputs(inputs[4:])
	for i := range tail {
		if !equalVectors(tail[i], replay[i]) {
			t.Fatalf("replayed output %d differs", i)
		}
	}

	bad := snap
	bad.Readout = []float64{1}
	if err := r.Restore(bad); !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
	plain, _ := New(smallConfig(), 21)
	if plain.Snapshot().Readout != nil {
		t.Fatal("snapshot without learning should not carry a readout")
	}
}

func TestAdaptationValidate(t *testing.T) {
	r, _ := New(smallConfig(), 1)
	for _, a := range []Adaptation{
		{LearningRate: -0.1},
		{LearningRate: 1.5},
		{LearningRate: math.NaN()},
		{NoiseAmplitude: -1},
		{NoiseAmplitude: math.Inf(1)},
	} {
		if err := r.Adapt(a); !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("%+v: expected ErrInvalidConfig, got %v", a, err)
		}
	}
	if (Adaptation{}).Enabled() {
		t.Fatal("zero adaptation reported enabled")
	}
}

func TestUnitProcessReportsReservoirState(t *testing.T) {
	var traits model.TraitVector
	for i := range traits {
		traits[i] = 0.4
	}
	unit, err := NewUnit(traits, 2, 5)
	if err != nil {
		t.Fatalf("new unit: %v", err)
	}
	if err := unit.Adapt(Adaptation{LearningRate: 0.01}); err != nil {
		t.Fatalf("adapt: %v", err)
	}
	result, err := unit.Process(randomInputs(2, 5, 2), false)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(result.State) != unit.Config().StateDimension {
		t.Fatalf("state has %d components, want %d", len(result.State), unit.Config().StateDimension)
	}
	if !equalVectors(result.State, unit.Reservoir().State()) {
		t.Fatal("result state is not the reservoir state")
	}
}
