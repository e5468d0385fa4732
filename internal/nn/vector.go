package nn

import (
	"fmt"
	"math"
)

// Dot returns the inner product of a and b.
func Dot(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vector length mismatch: %d vs %d", len(a), len(b))
	}
	sum := 0.0
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum, nil
}

// Norm returns the Euclidean norm of v.
func Norm(v []float64) float64 {
	sum := 0.0
	for _, x := range v {
		sum += x * x
	}
	return math.Sqrt(sum)
}

// Distance returns the Euclidean distance between a and b.
func Distance(a, b []float64) (float64, error) {
	diff, err := VectorDifference(a, b)
	if err != nil {
		return 0, err
	}
	return Norm(diff), nil
}

// VectorDifference returns b - a.
func VectorDifference(a, b []float64) ([]float64, error) {
	if len(a) != len(b) {
		return nil, fmt.Errorf("vector length mismatch: %d vs %d", len(a), len(b))
	}
	out := make([]float64, len(a))
	for i := range a {
		out[i] = b[i] - a[i]
	}
	return out, nil
}

// Cosine returns the cosine similarity of a and b. Zero vectors have zero
// similarity with everything.
func Cosine(a, b []float64) (float64, error) {
	dot, err := Dot(a, b)
	if err != nil {
		return 0, err
	}
	na, nb := Norm(a), Norm(b)
	if na == 0 || nb == 0 {
		return 0, nil
	}
	return dot / (na * nb), nil
}

// Matrix is a dense row-major matrix.
type Matrix struct {
	Rows int
	Cols int
	Data []float64
}

func NewMatrix(rows, cols int) Matrix {
	return Matrix{Rows: rows, Cols: cols, Data: make([]float64, rows*cols)}
}

func (m Matrix) At(r, c int) float64 {
	return m.Data[r*m.Cols+c]
}

func (m Matrix) Set(r, c int, v float64) {
	m.Data[r*m.Cols+c] = v
}

// Scale multiplies every element in place.
func (m Matrix) Scale(factor float64) {
	for i := range m.Data {
		m.Data[i] *= factor
	}
}

// MulVecInto writes m·v into out. len(v) must equal Cols and len(out) Rows.
func (m Matrix) MulVecInto(out, v []float64) {
	for r := 0; r < m.Rows; r++ {
		row := m.Data[r*m.Cols : (r+1)*m.Cols]
		sum := 0.0
		for c, w := range row {
			sum += w * v[c]
		}
		out[r] = sum
	}
}

// MulVec returns m·v.
func (m Matrix) MulVec(v []float64) ([]float64, error) {
	if len(v) != m.Cols {
		return nil, fmt.Errorf("vector length %d does not match matrix columns %d", len(v), m.Cols)
	}
	out := make([]float64, m.Rows)
	m.MulVecInto(out, v)
	return out, nil
}

// SpectralRadiusEstimate approximates the largest absolute eigenvalue of a
// square matrix with a fixed number of power iterations. The start vector is
// constant so the estimate is deterministic.
func (m Matrix) SpectralRadiusEstimate(iterations int) float64 {
	if m.Rows == 0 || m.Rows != m.Cols {
		return 0
	}
	v := make([]float64, m.Rows)
	for i := range v {
		v[i] = 1 / math.Sqrt(float64(m.Rows))
	}
	next := make([]float64, m.Rows)
	estimate := 0.0
	for i := 0; i < iterations; i++ {
		m.MulVecInto(next, v)
		norm := Norm(next)
		if norm == 0 {
			return 0
		}
		estimate = norm
		for j := range next {
			v[j] = next[j] / norm
		}
	}
	return estimate
}
