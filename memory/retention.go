package memory

import (
	"time"

	"github.com/habiliai/agentmemory/errors"
)

type (
	// Plan is a subscription tier. Retention grows with the tier: for every
	// grain, pro keeps at least as much history as starter, which keeps at
	// least as much as free.
	Plan string

	// RetentionPolicy maps (plan, grain) to a retention period expressed in
	// grain-native units: hours for working, days for daily, then weeks,
	// months, quarters and years. An out-of-band sweeper deletes facts older
	// than the cutoff.
	RetentionPolicy struct {
		periods map[Plan]map[TemporalGrain]int
	}
)

const (
	PlanFree    Plan = "free"
	PlanStarter Plan = "starter"
	PlanPro     Plan = "pro"
)

func NewRetentionPolicy() *RetentionPolicy {
	return &RetentionPolicy{
		periods: map[Plan]map[TemporalGrain]int{
			PlanFree: {
				GrainWorking:   24,
				GrainDaily:     7,
				GrainWeekly:    4,
				GrainMonthly:   3,
				GrainQuarterly: 2,
				GrainYearly:    1,
			},
			PlanStarter: {
				GrainWorking:   72,
				GrainDaily:     30,
				GrainWeekly:    12,
				GrainMonthly:   12,
				GrainQuarterly: 4,
				GrainYearly:    2,
			},
			PlanPro: {
				GrainWorking:   168,
				GrainDaily:     90,
				GrainWeekly:    52,
				GrainMonthly:   24,
				GrainQuarterly: 8,
				GrainYearly:    5,
			},
		},
	}
}

// RetentionPeriods returns the per-grain retention values for a plan, in
// grain-native units. The docs grain is owned by the document subsystem and
// is not covered.
func (p *RetentionPolicy) RetentionPeriods(plan Plan) (map[TemporalGrain]int, error) {
	periods, ok := p.periods[plan]
	if !ok {
		return nil, errors.Wrapf(errors.ErrInvalidParams, "unknown plan %q", plan)
	}

	out := make(map[TemporalGrain]int, len(periods))
	for grain, value := range periods {
		out[grain] = value
	}
	return out, nil
}

// RetentionCutoff computes "now minus the retention period" with
// calendar-correct arithmetic: weeks are 7 days, quarters are 3 months, and
// month/year subtraction respects variable month lengths.
func (p *RetentionPolicy) RetentionCutoff(grain TemporalGrain, plan Plan, now time.Time) (time.Time, error) {
	periods, ok := p.periods[plan]
	if !ok {
		return time.Time{}, errors.Wrapf(errors.ErrInvalidParams, "unknown plan %q", plan)
	}
	value, ok := periods[grain]
	if !ok {
		return time.Time{}, errors.Wrapf(errors.ErrInvalidParams, "no retention period for grain %q", grain)
	}

	switch grain {
	case GrainWorking:
		return now.Add(-time.Duration(value) * time.Hour), nil
	case GrainDaily:
		return now.AddDate(0, 0, -value), nil
	case GrainWeekly:
		return now.AddDate(0, 0, -7*value), nil
	case GrainMonthly:
		return now.AddDate(0, -value, 0), nil
	case GrainQuarterly:
		return now.AddDate(0, -3*value, 0), nil
	case GrainYearly:
		return now.AddDate(-value, 0, 0), nil
	default:
		return time.Time{}, errors.Wrapf(errors.ErrInvalidParams, "no retention period for grain %q", grain)
	}
}
