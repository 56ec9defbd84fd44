package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Vivekb0311/sla/db"
)

func calendarSettings() ShiftSettings {
	return ShiftSettings{
		HoursMode: db.HoursModeCalendar,
		Location:  time.UTC,
	}
}

func TestParseEscalationPolicy(t *testing.T) {
	cases := []struct {
		in       string
		kind     string
		refLevel int
	}{
		{"ON_TIME", "ON_TIME", 0},
		{"BEFORE_BREACH", "BEFORE_BREACH", 0},
		{"after_breach", "AFTER_BREACH", 0},
		{"AS_SOON_AS_LEVEL_2", "AS_SOON_AS_LEVEL", 2},
		{"AFTER_LEVEL_1", "AFTER_LEVEL", 1},
		{"BEFORE_LEVEL_3", "BEFORE_LEVEL", 3},
	}
	for _, tc := range cases {
		parsed, err := ParseEscalationPolicy(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.kind, parsed.Kind)
		assert.Equal(t, tc.refLevel, parsed.RefLevel)
	}

	for _, bad := range []string{"", "WHENEVER", "AFTER_LEVEL_", "AFTER_LEVEL_0", "AS_SOON_AS_LEVEL_x"} {
		_, err := ParseEscalationPolicy(bad)
		assert.Error(t, err, bad)
	}
}

func TestResolveEscalationDeadline_BreachRelative(t *testing.T) {
	breach := mustDate(2025, 1, 13, 12, 0)
	settings := calendarSettings()

	got, err := ResolveEscalationDeadline(breach, db.PolicyOnTime, 45, nil, settings)
	require.NoError(t, err)
	assert.Equal(t, breach, got, "ON_TIME ignores the amount")

	got, err = ResolveEscalationDeadline(breach, db.PolicyBeforeBreach, 30, nil, settings)
	require.NoError(t, err)
	assert.Equal(t, breach.Add(-30*time.Minute), got)

	got, err = ResolveEscalationDeadline(breach, db.PolicyAfterBreach, 30, nil, settings)
	require.NoError(t, err)
	assert.Equal(t, breach.Add(30*time.Minute), got)
}

func TestResolveEscalationDeadline_LevelRelative(t *testing.T) {
	breach := mustDate(2025, 1, 13, 12, 0)
	settings := calendarSettings()
	resolved := map[int]time.Time{
		1: breach.Add(-60 * time.Minute),
	}

	got, err := ResolveEscalationDeadline(breach, "AS_SOON_AS_LEVEL_1", 99, resolved, settings)
	require.NoError(t, err)
	assert.Equal(t, resolved[1], got, "AS_SOON_AS copies the referenced deadline, amount ignored")

	got, err = ResolveEscalationDeadline(breach, "AFTER_LEVEL_1", 30, resolved, settings)
	require.NoError(t, err)
	assert.Equal(t, resolved[1].Add(30*time.Minute), got)

	got, err = ResolveEscalationDeadline(breach, "BEFORE_LEVEL_1", 15, resolved, settings)
	require.NoError(t, err)
	assert.Equal(t, resolved[1].Add(-15*time.Minute), got)
}

func TestResolveEscalationDeadline_UnresolvedReference(t *testing.T) {
	breach := mustDate(2025, 1, 13, 12, 0)

	_, err := ResolveEscalationDeadline(breach, "AFTER_LEVEL_2", 30, map[int]time.Time{}, calendarSettings())
	assert.Error(t, err, "forward reference is a configuration error")
}

func TestResolveEscalationDeadline_HonorsBusinessWindow(t *testing.T) {
	// AFTER_BREACH spilling past Friday's window lands Monday morning.
	breach := mustDate(2025, 1, 10, 16, 30)
	settings := ShiftSettings{
		HoursMode:       db.HoursModeOperational,
		WindowStart:     nineToFiveStart,
		WindowEnd:       nineToFiveEnd,
		ExcludeWeekends: true,
		Location:        time.UTC,
	}

	got, err := ResolveEscalationDeadline(breach, db.PolicyAfterBreach, 60, nil, settings)
	require.NoError(t, err)
	assert.Equal(t, mustDate(2025, 1, 13, 9, 30), got)
}

func TestValidateLevelPolicies(t *testing.T) {
	good := []db.LevelRequest{
		{LevelNumber: 1, EscalatePolicy: "BEFORE_BREACH", EscalateMinutes: 30, Recipients: "$Owner"},
		{LevelNumber: 2, EscalatePolicy: "AFTER_LEVEL_1", EscalateMinutes: 15, Recipients: "$Owner.manager"},
		{LevelNumber: 3, EscalatePolicy: "AS_SOON_AS_LEVEL_2", Recipients: "user : ops@example.com"},
	}
	assert.NoError(t, ValidateLevelPolicies(good))

	gap := []db.LevelRequest{
		{LevelNumber: 1, EscalatePolicy: "ON_TIME"},
		{LevelNumber: 3, EscalatePolicy: "AFTER_LEVEL_1"},
	}
	assert.Error(t, ValidateLevelPolicies(gap), "level numbers must be contiguous")

	forward := []db.LevelRequest{
		{LevelNumber: 1, EscalatePolicy: "AFTER_LEVEL_1"},
	}
	assert.Error(t, ValidateLevelPolicies(forward), "a level cannot reference itself or higher")

	badPolicy := []db.LevelRequest{
		{LevelNumber: 1, EscalatePolicy: "SOMETIME"},
	}
	assert.Error(t, ValidateLevelPolicies(badPolicy))
}
