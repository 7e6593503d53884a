package sla

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gangplank-systems/gangplank/pkg/types"
)

func testConfig() *types.SLAConfig {
	return &types.SLAConfig{
		TargetMinutes:   10,
		WarningMinutes:  12,
		CriticalMinutes: 15,
		BreachMinutes:   20,
	}
}

func stageStartedAt(start time.Time) types.Stage {
	return types.Stage{
		SessionID: "s1",
		StageID:   "IT_PROVISIONING",
		Status:    types.StageProcessing,
		StartedAt: &start,
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *types.SLAConfig
		wantErr bool
	}{
		{"nil config is fine", nil, false},
		{"valid ordering", testConfig(), false},
		{
			"warning below target fails",
			&types.SLAConfig{TargetMinutes: 10, WarningMinutes: 8, CriticalMinutes: 12, BreachMinutes: 15},
			true,
		},
		{
			"equal thresholds fail",
			&types.SLAConfig{TargetMinutes: 10, WarningMinutes: 10, CriticalMinutes: 15, BreachMinutes: 20},
			true,
		},
		{
			"zero target fails",
			&types.SLAConfig{WarningMinutes: 1, CriticalMinutes: 2, BreachMinutes: 3},
			true,
		},
		{
			"bad timezone fails",
			&types.SLAConfig{TargetMinutes: 1, WarningMinutes: 2, CriticalMinutes: 3, BreachMinutes: 4, Timezone: "Mars/Olympus"},
			true,
		},
		{
			"extensions without duration fail",
			&types.SLAConfig{TargetMinutes: 1, WarningMinutes: 2, CriticalMinutes: 3, BreachMinutes: 4, ExtensionsAllowed: true},
			true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEvaluate_StatusSelection(t *testing.T) {
	start := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		elapsed time.Duration
		want    types.SLAStatus
	}{
		{"well inside target", 5 * time.Minute, types.SLAOnTime},
		{"just below warning", 11 * time.Minute, types.SLAOnTime},
		{"at warning", 12 * time.Minute, types.SLAAtRisk},
		{"at critical", 15 * time.Minute, types.SLAAtRisk},
		{"at breach", 20 * time.Minute, types.SLABreached},
		{"past breach", 22 * time.Minute, types.SLABreached},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Evaluate(testConfig(), stageStartedAt(start), start.Add(tt.elapsed))
			assert.Equal(t, tt.want, r.Status)
			assert.InDelta(t, tt.elapsed.Minutes(), r.ElapsedMinutes, 0.001)
		})
	}
}

func TestEvaluate_BreachedAt22Minutes(t *testing.T) {
	start := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	r := Evaluate(testConfig(), stageStartedAt(start), start.Add(22*time.Minute))
	assert.Equal(t, types.SLABreached, r.Status)
	assert.InDelta(t, 22, r.ElapsedMinutes, 0.001)
	assert.Equal(t, 1.0, r.BreachProbability)
	assert.Zero(t, r.RemainingMinutes)
}

func TestEvaluate_NoStartOrConfig(t *testing.T) {
	now := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

	r := Evaluate(nil, types.Stage{SessionID: "s1", StageID: "x"}, now)
	assert.Equal(t, types.SLAOnTime, r.Status)

	r = Evaluate(testConfig(), types.Stage{SessionID: "s1", StageID: "x"}, now)
	assert.Equal(t, types.SLAOnTime, r.Status)
	assert.Zero(t, r.ElapsedMinutes)
}

func TestEvaluate_ExtensionsShiftThresholds(t *testing.T) {
	cfg := testConfig()
	cfg.ExtensionsAllowed = true
	cfg.MaxExtensions = 2
	cfg.ExtensionDurationMinutes = 10

	start := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	st := stageStartedAt(start)
	st.ExtensionsUsed = 1

	// 22 minutes elapsed would be a breach, but one extension shifts the
	// breach threshold to 30.
	r := Evaluate(cfg, st, start.Add(22*time.Minute))
	assert.Equal(t, types.SLAAtRisk, r.Status)
	assert.InDelta(t, 8, r.RemainingMinutes, 0.001)

	// Inside the shifted warning threshold an extended stage reads Extended,
	// not OnTime, so dashboards can tell the difference.
	r = Evaluate(cfg, st, start.Add(15*time.Minute))
	assert.Equal(t, types.SLAExtended, r.Status)
}

func TestEvaluate_Prediction(t *testing.T) {
	start := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

	st := stageStartedAt(start)
	st.Progress = 50
	r := Evaluate(testConfig(), st, start.Add(5*time.Minute))
	// 5 minutes for 50% extrapolates to 10 total.
	require.NotNil(t, r.PredictedCompletion)
	assert.Equal(t, start.Add(10*time.Minute), *r.PredictedCompletion)
	assert.Equal(t, 0.05, r.BreachProbability)

	// Two errors inflate the prediction by 20%: 12 total, past the warning
	// threshold band.
	st.ErrorCount = 2
	r = Evaluate(testConfig(), st, start.Add(5*time.Minute))
	assert.Equal(t, start.Add(12*time.Minute), *r.PredictedCompletion)
	assert.Equal(t, 0.4, r.BreachProbability)

	// Zero progress is floored, not divided by.
	st = stageStartedAt(start)
	r = Evaluate(testConfig(), st, start.Add(1*time.Minute))
	assert.Equal(t, 0.95, r.BreachProbability)
}

func TestBreachProbabilityBands(t *testing.T) {
	cfg := testConfig()
	tests := []struct {
		predicted float64
		want      float64
	}{
		{8, 0.05},
		{10, 0.05},
		{11, 0.10},
		{14, 0.40},
		{18, 0.80},
		{25, 0.95},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, breachProbability(tt.predicted, cfg, 0), "predicted=%g", tt.predicted)
	}
}

func TestApplyExtension(t *testing.T) {
	cfg := testConfig()
	cfg.ExtensionsAllowed = true
	cfg.MaxExtensions = 2
	cfg.ExtensionDurationMinutes = 10

	st := types.Stage{SessionID: "s1", StageID: "x"}

	updated, changed, err := ApplyExtension(cfg, st, "ext-1")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 1, updated.ExtensionsUsed)

	// Same extension ID is idempotent.
	again, changed, err := ApplyExtension(cfg, updated, "ext-1")
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, 1, again.ExtensionsUsed)

	updated, changed, err = ApplyExtension(cfg, updated, "ext-2")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 2, updated.ExtensionsUsed)

	_, _, err = ApplyExtension(cfg, updated, "ext-3")
	assert.ErrorIs(t, err, ErrExtensionsExhausted)

	// Replaying a consumed ID after exhaustion still succeeds quietly.
	_, changed, err = ApplyExtension(cfg, updated, "ext-2")
	require.NoError(t, err)
	assert.False(t, changed)

	_, _, err = ApplyExtension(testConfig(), st, "ext-1")
	assert.ErrorIs(t, err, ErrExtensionsNotAllowed)
}

func TestBusinessMinutes(t *testing.T) {
	// Monday 2025-06-02.
	monday9 := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		start time.Time
		end   time.Time
		want  float64
	}{
		{
			"inside one business day",
			monday9.Add(1 * time.Hour),
			monday9.Add(3 * time.Hour),
			120,
		},
		{
			"starts before opening",
			time.Date(2025, 6, 2, 7, 0, 0, 0, time.UTC),
			time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC),
			60,
		},
		{
			"runs past closing",
			time.Date(2025, 6, 2, 16, 0, 0, 0, time.UTC),
			time.Date(2025, 6, 2, 19, 0, 0, 0, time.UTC),
			60,
		},
		{
			"spans a weekend",
			time.Date(2025, 6, 6, 16, 0, 0, 0, time.UTC), // Friday 16:00
			time.Date(2025, 6, 9, 10, 0, 0, 0, time.UTC), // Monday 10:00
			120,
		},
		{
			"entirely on a weekend",
			time.Date(2025, 6, 7, 10, 0, 0, 0, time.UTC),
			time.Date(2025, 6, 8, 15, 0, 0, 0, time.UTC),
			0,
		},
		{
			"end before start",
			monday9.Add(2 * time.Hour),
			monday9,
			0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, businessMinutes(tt.start, tt.end), 0.001)
		})
	}
}

func TestEvaluate_BusinessHoursOnly(t *testing.T) {
	cfg := testConfig()
	cfg.BusinessHoursOnly = true

	// Friday 16:50 to Monday 09:20: only 30 business minutes elapse, so the
	// stage is still on time despite two and a half calendar days.
	start := time.Date(2025, 6, 6, 16, 50, 0, 0, time.UTC)
	now := time.Date(2025, 6, 9, 9, 20, 0, 0, time.UTC)
	r := Evaluate(cfg, stageStartedAt(start), now)
	assert.Equal(t, types.SLAOnTime, r.Status)
	assert.InDelta(t, 30, r.ElapsedMinutes, 0.001)
}
