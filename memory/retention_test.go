package memory_test

import (
	"testing"
	"time"

	"github.com/habiliai/agentmemory/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetentionPolicy_PeriodsGrowWithPlan(t *testing.T) {
	policy := memory.NewRetentionPolicy()

	free, err := policy.RetentionPeriods(memory.PlanFree)
	require.NoError(t, err)
	starter, err := policy.RetentionPeriods(memory.PlanStarter)
	require.NoError(t, err)
	pro, err := policy.RetentionPeriods(memory.PlanPro)
	require.NoError(t, err)

	for _, grain := range memory.MemoryGrains {
		assert.GreaterOrEqual(t, starter[grain], free[grain], "starter < free for grain %s", grain)
		assert.GreaterOrEqual(t, pro[grain], starter[grain], "pro < starter for grain %s", grain)
	}
}

func TestRetentionPolicy_CutoffsGrowWithPlan(t *testing.T) {
	policy := memory.NewRetentionPolicy()
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	for _, grain := range memory.MemoryGrains {
		free, err := policy.RetentionCutoff(grain, memory.PlanFree, now)
		require.NoError(t, err)
		starter, err := policy.RetentionCutoff(grain, memory.PlanStarter, now)
		require.NoError(t, err)
		pro, err := policy.RetentionCutoff(grain, memory.PlanPro, now)
		require.NoError(t, err)

		// A higher plan keeps more history, so its cutoff is further back.
		assert.False(t, starter.After(free), "starter cutoff after free for grain %s", grain)
		assert.False(t, pro.After(starter), "pro cutoff after starter for grain %s", grain)
	}
}

func TestRetentionPolicy_CalendarArithmetic(t *testing.T) {
	policy := memory.NewRetentionPolicy()
	now := time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC)

	cutoff, err := policy.RetentionCutoff(memory.GrainWorking, memory.PlanFree, now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(-24*time.Hour), cutoff)

	cutoff, err = policy.RetentionCutoff(memory.GrainWeekly, memory.PlanFree, now)
	require.NoError(t, err)
	assert.Equal(t, now.AddDate(0, 0, -28), cutoff)

	// Month subtraction follows Go calendar normalization: March 31 minus
	// 3 months lands on December 31, not a truncated day.
	cutoff, err = policy.RetentionCutoff(memory.GrainMonthly, memory.PlanFree, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC), cutoff)

	cutoff, err = policy.RetentionCutoff(memory.GrainQuarterly, memory.PlanStarter, now)
	require.NoError(t, err)
	assert.Equal(t, now.AddDate(0, -12, 0), cutoff)

	cutoff, err = policy.RetentionCutoff(memory.GrainYearly, memory.PlanPro, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2020, 3, 31, 0, 0, 0, 0, time.UTC), cutoff)
}

func TestRetentionPolicy_UnknownPlanOrGrain(t *testing.T) {
	policy := memory.NewRetentionPolicy()
	now := time.Now()

	_, err := policy.RetentionPeriods("enterprise")
	assert.Error(t, err)

	_, err = policy.RetentionCutoff(memory.GrainDaily, "enterprise", now)
	assert.Error(t, err)

	// The docs grain is owned by the document subsystem.
	_, err = policy.RetentionCutoff(memory.GrainDocs, memory.PlanFree, now)
	assert.Error(t, err)
}
