package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/aristath/marketsession/internal/bar"
	"github.com/aristath/marketsession/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoundary_RegularDayTransitions(t *testing.T) {
	rig := newTestRig(t, testSessionConfig())
	ctx := context.Background()
	day := date(2025, time.January, 2)

	assert.Equal(t, StateNotStarted, rig.coord.BoundaryState())
	assert.Equal(t, StatePreMarket, rig.coord.EvaluateBoundary(ctx, day.Add(8*time.Hour)))
	assert.Equal(t, StateActive, rig.coord.EvaluateBoundary(ctx, day.Add(9*time.Hour+30*time.Minute)))
	assert.Equal(t, StateActive, rig.coord.EvaluateBoundary(ctx, day.Add(12*time.Hour)))
	assert.Equal(t, StatePostMarket, rig.coord.EvaluateBoundary(ctx, day.Add(16*time.Hour)))
}

func TestBoundary_EarlyCloseDay(t *testing.T) {
	cfg := testSessionConfig()
	cfg.Backtest.StartDate = date(2024, time.November, 29)
	cfg.Backtest.EndDate = date(2024, time.November, 29)
	rig := newTestRig(t, cfg)
	ctx := context.Background()
	day := date(2024, time.November, 29)

	assert.Equal(t, StateActive, rig.coord.EvaluateBoundary(ctx, day.Add(10*time.Hour)))
	// The effective close on an early-close day is the early close itself.
	assert.Equal(t, StatePostMarket, rig.coord.EvaluateBoundary(ctx, day.Add(13*time.Hour)))
}

func TestBoundary_TimeoutRecoversOnNextCheck(t *testing.T) {
	rig := newTestRig(t, testSessionConfig())
	ctx := context.Background()
	day := date(2025, time.January, 2)

	require.Equal(t, StateActive, rig.coord.EvaluateBoundary(ctx, day.Add(10*time.Hour)))
	rig.coord.boundary.noteDataArrival(day.Add(10 * time.Hour))

	// No data for longer than the configured 60s threshold.
	assert.Equal(t, StateTimeout, rig.coord.EvaluateBoundary(ctx, day.Add(10*time.Hour+2*time.Minute)))

	// Data resumes; the state machine recovers on the next check tick.
	rig.coord.boundary.noteDataArrival(day.Add(10*time.Hour + 3*time.Minute))
	assert.Equal(t, StateActive, rig.coord.EvaluateBoundary(ctx, day.Add(10*time.Hour+3*time.Minute+time.Second)))
}

func TestBoundary_HolidayRollsToNextTradingDay(t *testing.T) {
	cfg := testSessionConfig()
	cfg.Backtest.StartDate = date(2024, time.December, 25)
	cfg.Backtest.EndDate = date(2024, time.December, 26)
	rig := newTestRig(t, cfg)
	seedDay(rig.bars, "RIVN", date(2024, time.December, 24), 210)

	// On a holiday the boundary goes straight to ENDED and the roll
	// advances the session date to the next trading day.
	state := rig.coord.EvaluateBoundary(context.Background(), date(2024, time.December, 25).Add(12*time.Hour))
	assert.Equal(t, StateEnded, state)
	assert.Equal(t, date(2024, time.December, 26), rig.data.SessionDate())
	// The roll re-ran the initial load for the new day.
	assert.Equal(t, 210, rig.data.GetBarCount("RIVN", bar.MustParseInterval("1m"), true))
}

func TestLagControl_DeactivatesAndReactivates(t *testing.T) {
	rig := newTestRig(t, testSessionConfig())
	seedDay(rig.bars, "RIVN", date(2024, time.December, 31), 390)
	_, _, err := rig.coord.StartSession(context.Background())
	require.NoError(t, err)
	require.True(t, rig.data.IsActive())

	open := time.Date(2025, time.January, 2, 9, 30, 0, 0, time.UTC)
	rig.clock.Set(time.Date(2025, time.January, 2, 12, 0, 0, 0, time.UTC))

	// First processed bar for the symbol: the check fires immediately
	// (counter 0), lag is ~2.5h > 60s, the session deactivates.
	rig.coord.checkLag("RIVN", open)
	assert.False(t, rig.data.IsActive())
	assert.Empty(t, rig.data.GetActiveSymbols(false), "external reads return empty while deactivated")

	// The next nine bars pass without a check, regardless of lag.
	for i := 1; i < 10; i++ {
		rig.coord.checkLag("RIVN", open.Add(time.Duration(i)*time.Minute))
	}
	assert.False(t, rig.data.IsActive(), "no check fires between ticks")

	// Eleventh bar lands on a check tick with lag within threshold.
	rig.coord.checkLag("RIVN", rig.clock.Now().Add(-30*time.Second))
	assert.True(t, rig.data.IsActive())
	assert.NotEmpty(t, rig.data.GetActiveSymbols(false))
}

func TestModeSelection(t *testing.T) {
	cfg := testSessionConfig()
	rig := newTestRig(t, cfg)
	assert.Equal(t, bar.MustParseInterval("1m"), rig.coord.BaseInterval())

	live := cfg
	live.Mode = config.ModeLive
	liveRig := newTestRig(t, live)
	assert.Equal(t, bar.MustParseInterval("1m"), liveRig.coord.BaseInterval())
}
