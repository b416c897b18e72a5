package workunit

import (
	"errors"
	"fmt"
	"math"
)

// Rollout builds an Output from collected steps and rewards.
func Rollout(data []any, rewards ...float64) *Output {
	return &Output{RolloutData: data, Rewards: rewards}
}

// Validate checks the shape required of outputs that are persisted as rollouts:
// at least one step, and either one outcome reward or one reward per step, each
// a finite number.
func (o *Output) Validate() error {
	if o == nil {
		return errors.New("work unit returned no output")
	}
	if len(o.RolloutData) == 0 {
		return errors.New("rollout_data must be a list with length >= 1")
	}
	if n := len(o.Rewards); n != 1 && n != len(o.RolloutData) {
		return fmt.Errorf(
			"rewards must be length 1 (outcome reward) or match rollout_data length %d (per-step reward), got %d",
			len(o.RolloutData), n)
	}
	for i, r := range o.Rewards {
		if math.IsNaN(r) || math.IsInf(r, 0) {
			return fmt.Errorf("rewards[%d] must be a finite number, got %v", i, r)
		}
	}
	return nil
}
