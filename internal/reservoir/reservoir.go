package reservoir

import (
	"fmt"
	"iter"
	"math"
	"math/rand"

	"allele/internal/nn"
)

// State is a checkpoint of the liquid state. Readout is only captured while
// readout learning is enabled.
type State struct {
	Vector  []float64 `json:"vector" cbor:"vector"`
	Steps   int       `json:"steps" cbor:"steps"`
	Readout []float64 `json:"readout,omitempty" cbor:"readout,omitempty"`
}

// Reservoir is a leaky-integrator echo state network. The input and
// recurrent wiring is fixed at construction; the readout only changes when
// learning is enabled with Adapt. A Reservoir must not be stepped from two
// goroutines at once.
type Reservoir struct {
	cfg  Config
	seed int64

	win  nn.Matrix // state x input
	w    nn.Matrix // state x state
	wout nn.Matrix // output x state

	state []float64
	steps int

	adapt Adaptation
	noise *rand.Rand

	drive []float64
	recur []float64
}

// New draws the input, recurrent and output matrices, in that order, from a
// source seeded with seed. The recurrent matrix is sparse with density
// Connectivity and is rescaled to SpectralRadius.
func New(cfg Config, seed int64) (*Reservoir, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	rng := nn.NewRand(seed)
	n := cfg.StateDimension

	win := nn.NewMatrix(n, cfg.InputDimension)
	inputScale := 1 / math.Sqrt(float64(cfg.InputDimension))
	for i := range win.Data {
		win.Data[i] = nn.UniformCentered(rng) * inputScale
	}

	w := nn.NewMatrix(n, n)
	for i := range w.Data {
		if rng.Float64() < cfg.Connectivity {
			w.Data[i] = nn.UniformCentered(rng)
		}
	}
	if radius := w.SpectralRadiusEstimate(spectralIterations); radius > 0 {
		w.Scale(cfg.SpectralRadius / radius)
	}

	wout := nn.NewMatrix(cfg.OutputDimension, n)
	outputScale := 1 / math.Sqrt(float64(n))
	for i := range wout.Data {
		wout.Data[i] = nn.UniformCentered(rng) * outputScale
	}

	return &Reservoir{
		cfg:   cfg,
		seed:  seed,
		win:   win,
		w:     w,
		wout:  wout,
		state: make([]float64, n),
		drive: make([]float64, n),
		recur: make([]float64, n),
	}, nil
}

func (r *Reservoir) Config() Config { return r.cfg }
func (r *Reservoir) Seed() int64 { return r.seed }
func (r *Reservoir) StateDimension() int { return r.cfg.StateDimension }
func (r *Reservoir) InputDimension() int { return r.cfg.InputDimension }
func (r *Reservoir) OutputDimension() int { return r.cfg.OutputDimension }
func (r *Reservoir) StepCount() int { return r.steps }

// Step advances the state by one input and returns the output projection:
//
//	x' = (1-a)*x + a*tanh(g*Win*u + (1-a)*W*x)
//	y  = OutputScale * Wout*x'
//
// The recurrent term is weighted by the retention fraction 1-a, so a leak rate
// of 1 keeps no history.
func (r *Reservoir) Step(input []float64) ([]float64, error) {
	if err := r.checkInput(input); err != nil {
		return nil, err
	}
	return r.step(input), nil
}

func (r *Reservoir) checkInput(input []float64) error {
	if len(input) != r.cfg.InputDimension {
		return fmt.Errorf("%w: input has %d components, reservoir expects %d", ErrDimensionMismatch, len(input), r.cfg.InputDimension)
	}
	for i, v := range input {
		if !finite(v) {
			return fmt.Errorf("%w: component %d is %v", ErrInvalidInput, i, v)
		}
	}
	return nil
}

func (r *Reservoir) step(input []float64) []float64 {
	a := r.cfg.LeakRate
	retain := 1 - a
	r.win.MulVecInto(r.drive, input)
	r.w.MulVecInto(r.recur, r.state)
	for i := range r.drive {
		r.drive[i] = r.cfg.InputGain*r.drive[i] + retain*r.recur[i]
	}
	r.addNoise(r.drive)
	for i := range r.state {
		r.state[i] = retain*r.state[i] + a*math.Tanh(r.drive[i])
	}
	r.steps++

	activity := make([]float64, r.cfg.OutputDimension)
	r.wout.MulVecInto(activity, r.state)
	out := make([]float64, len(activity))
	for i, y := range activity {
		out[i] = r.cfg.OutputScale * y
	}
	r.learn(activity)
	return out
}

// Reset zeros the state and step counter and rewinds the noise stream. The
// wiring, including any learned readout, is untouched.
func (r *Reservoir) Reset() {
	clear(r.state)
	r.steps = 0
	r.seekNoise()
}

// ProcessSequence validates every input, then returns a lazy sequence that
// steps the reservoir once per consumed element. Elements consumed by an
// earlier range are not replayed; call Reset and ProcessSequence again to
// start over. An empty input gives an empty sequence and leaves the state
// unchanged.
func (r *Reservoir) ProcessSequence(inputs [][]float64) (iter.Seq2[int, []float64], error) {
	for i, input := range inputs {
		if err := r.checkInput(input); err != nil {
			return nil, fmt.Errorf("input %d: %w", i, err)
		}
	}
	next := 0
	return func(yield func(int, []float64) bool) {
		for next < len(inputs) {
			i := next
			next++
			if !yield(i, r.step(inputs[i])) {
				return
			}
		}
	}, nil
}

// Outputs steps through every input and collects the outputs.
func (r *Reservoir) Outputs(inputs [][]float64) ([][]float64, error) {
	seq, err := r.ProcessSequence(inputs)
	if err != nil {
		return nil, err
	}
	out := make([][]float64, 0, len(inputs))
	for _, y := range seq {
		out = append(out, y)
	}
	return out, nil
}

// State returns a copy of the current state vector.
func (r *Reservoir) State() []float64 {
	return append([]float64(nil), r.state...)
}

func (r *Reservoir) Snapshot() State {
	s := State{Vector: r.State(), Steps: r.steps}
	if r.adapt.LearningRate > 0 {
		s.Readout = r.Readout()
	}
	return s
}

// Restore replaces the state with a snapshot taken from a reservoir of the
// same dimensions. A snapshot carrying a readout also replaces the readout.
// The noise stream is repositioned at the snapshot's step.
func (r *Reservoir) Restore(s State) error {
	if len(s.Vector) != r.cfg.StateDimension {
		return fmt.Errorf("%w: snapshot has %d components, reservoir state has %d", ErrDimensionMismatch, len(s.Vector), r.cfg.StateDimension)
	}
	if s.Steps < 0 {
		return fmt.Errorf("%w: negative step count %d", ErrInvalidInput, s.Steps)
	}
	for i, v := range s.Vector {
		if !finite(v) {
			return fmt.Errorf("%w: snapshot component %d is %v", ErrInvalidInput, i, v)
		}
	}
	if s.Readout != nil {
		if len(s.Readout) != len(r.wout.Data) {
			return fmt.Errorf("%w: snapshot readout has %d weights, reservoir has %d", ErrDimensionMismatch, len(s.Readout), len(r.wout.Data))
		}
		for i, v := range s.Readout {
			if !finite(v) {
				return fmt.Errorf("%w: snapshot readout weight %d is %v", ErrInvalidInput, i, v)
			}
		}
		copy(r.wout.Data, s.Readout)
	}
	copy(r.state, s.Vector)
	r.steps = s.Steps
	r.seekNoise()
	return nil
}
