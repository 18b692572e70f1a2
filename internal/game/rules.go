// Package game implements the kir mechanics: play, emergency boost, random
// boost, loans and fights.
package game

import "math/rand/v2"

// Draw ranges, inclusive.
const (
	PlayMin = -5
	PlayMax = 15

	EmergencyMin = 3
	EmergencyMax = 9

	RandomBoostMin = 15
	RandomBoostMax = 30

	// MaxFightMargin caps how much a single fight can move.
	MaxFightMargin = 10
)

// MaxLoanAmount is the largest single loan. It keeps balances far from the
// int64 limits.
const MaxLoanAmount int64 = 1_000_000

// Rand is the random source used by the engine. *rand.Rand from
// math/rand/v2 satisfies it.
type Rand interface {
	IntN(n int) int
	Float64() float64
}

// globalRand uses the package-level math/rand/v2 functions, which are safe for
// concurrent use.
type globalRand struct{}

func (globalRand) IntN(n int) int    { return rand.IntN(n) }
func (globalRand) Float64() float64 { return rand.Float64() }

// RollRange draws uniformly from [lo, hi].
func RollRange(r Rand, lo, hi int) int64 {
	return int64(lo + r.IntN(hi-lo+1))
}

// ChallengerWinChance is the probability that a challenger holding c kir beats
// a defender holding d kir. Both must be positive.
func ChallengerWinChance(c, d int64) float64 {
	fc, fd := float64(c), float64(d)
	return fc / (fc + fd)
}

// RollFightMargin draws the amount moved by a fight, uniform in
// [1, min(c, d, MaxFightMargin)].
func RollFightMargin(r Rand, c, d int64) int64 {
	limit := min(c, d, MaxFightMargin)
	return RollRange(r, 1, int(limit))
}
