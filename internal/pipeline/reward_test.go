package pipeline

import (
	"testing"

	"github.com/speechloop/speechloop/internal/record"
	"github.com/stretchr/testify/assert"
)

func TestReward(t *testing.T) {
	tests := []struct {
		name     string
		duration int
		want     float64
	}{
		{"short clip", 10, 0.80},
		{"inside bonus band", 25, 3.00},
		{"lower bonus boundary excluded", 20, 1.60},
		{"upper bonus boundary excluded", 30, 2.40},
		{"five seconds", 5, 0.40},
		{"just inside bonus band", 21, 2.52},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Reward(tc.duration, record.Acceptable))
		})
	}
}

func TestRewardTierIndependent(t *testing.T) {
	// The tier argument exists for forward compatibility but does not
	// change the payout.
	for _, score := range []record.Score{record.Rejected, record.Acceptable, record.Excellent} {
		assert.Equal(t, 0.80, Reward(10, score))
	}
}
