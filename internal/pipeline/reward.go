package pipeline

import (
	"math"

	"github.com/speechloop/speechloop/internal/record"
)

// Payout per second of accepted audio
const baseRatePerSecond = 0.016 * 5

// Clips in this duration band pay a premium, both bounds exclusive
const (
	bonusMinSeconds = 20
	bonusMaxSeconds = 30
	bonusMultiplier = 1.5
)

// Reward computes the payout for a scored transcription, rounded to cents.
// Every accepted tier currently pays the same rate; the tier is part of the
// signature so a graded rate only changes this function.
func Reward(durationSeconds int, score record.Score) float64 {
	rate := baseRatePerSecond
	if durationSeconds > bonusMinSeconds && durationSeconds < bonusMaxSeconds {
		rate *= bonusMultiplier
	}
	return math.Round(rate*float64(durationSeconds)*100) / 100
}
