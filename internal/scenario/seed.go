package scenario

import "math/rand"

// Engine seeds live in the signed 32-bit range minus the extremes the
// simulation engine reserves.
const (
	engineSeedMin = -2147483647
	engineSeedMax = 2147483646
)

// DeriveSeed maps a scenario base seed and sample index to the engine seed
// for that sample. A zero base seed is passed through unchanged and tells
// the engine to seed itself; any other base yields a deterministic nonzero
// seed per sample, so re-expanding the same sweep reproduces the exact
// seed sequence.
func DeriveSeed(base int64, index int) int64 {
	if base == 0 {
		return 0
	}
	rng := rand.New(rand.NewSource(base * int64(index+1)))
	span := int64(engineSeedMax) - int64(engineSeedMin) + 1
	for {
		seed := engineSeedMin + rng.Int63n(span)
		if seed != 0 {
			return seed
		}
	}
}
