package phase

import "time"

// CountBounds is one phase's (count_min, count_max) pair from spec.md
// §4.6: count_min gates promotion, count_max is an early-promotion
// ceiling once deadline_min has also elapsed.
type CountBounds struct {
	Min int `yaml:"min"`
	Max int `yaml:"max"`
}

// DeadlineBounds is one phase's (deadline_min, deadline_max) pair.
// deadline_min is the minimum wall time a phase must stay open even if
// its count target is met early; deadline_max forces a transition.
type DeadlineBounds struct {
	Min time.Duration `yaml:"min"`
	Max time.Duration `yaml:"max"`
}

// Thresholds carries the selection-eligibility probabilities t_sum and
// t_update passed to selection.Eligible, per spec.md §4.3.
type Thresholds struct {
	Sum    float64 `yaml:"sum_prob"`
	Update float64 `yaml:"update_prob"`
}

// Config is the phase machine's full timing/threshold configuration,
// one entry per phase named in spec.md §6's Configuration table
// (`pet.{sum,update,sum2}.{count,time}.{min,max}`).
type Config struct {
	Thresholds Thresholds `yaml:"thresholds"`

	SumCount   CountBounds `yaml:"sum_count"`
	SumTime    DeadlineBounds `yaml:"sum_time"`
	UpdateCount CountBounds `yaml:"update_count"`
	UpdateTime  DeadlineBounds `yaml:"update_time"`
	Sum2Count   CountBounds `yaml:"sum2_count"`
	Sum2Time    DeadlineBounds `yaml:"sum2_time"`
}
