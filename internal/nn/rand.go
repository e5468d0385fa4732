package nn

import "math/rand"

// NewRand returns a deterministic random source for seed. Every stochastic
// operation in the module receives one of these explicitly.
func NewRand(seed int64) *rand.Rand {
	return rand.New(rand.NewSource(seed))
}

// DeriveSeed mixes a base seed with a stream index (splitmix64 finalizer) so
// independent streams such as per-generation transitions never share a
// sequence.
func DeriveSeed(base int64, stream int) int64 {
	z := uint64(base) + 0x9e3779b97f4a7c15*uint64(stream+1)
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	z ^= z >> 31
	return int64(z)
}

// UniformCentered draws from [-1, 1).
func UniformCentered(rng *rand.Rand) float64 {
	return rng.Float64()*2 - 1
}
