package services

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Vivekb0311/sla/db"
)

// EscalationPolicy is the parsed form of a level's deadline policy string.
type EscalationPolicy struct {
	Kind     string // ON_TIME | BEFORE_BREACH | AFTER_BREACH | AS_SOON_AS_LEVEL | AFTER_LEVEL | BEFORE_LEVEL
	RefLevel int    // referenced level for the LEVEL_N forms, 0 otherwise
}

// ParseEscalationPolicy validates and decomposes a policy string such as
// "AFTER_BREACH" or "AS_SOON_AS_LEVEL_2".
func ParseEscalationPolicy(policy string) (EscalationPolicy, error) {
	p := strings.ToUpper(strings.TrimSpace(policy))
	switch p {
	case db.PolicyOnTime:
		return EscalationPolicy{Kind: "ON_TIME"}, nil
	case db.PolicyBeforeBreach:
		return EscalationPolicy{Kind: "BEFORE_BREACH"}, nil
	case db.PolicyAfterBreach:
		return EscalationPolicy{Kind: "AFTER_BREACH"}, nil
	}

	for _, form := range []struct{ prefix, kind string }{
		{db.PolicyAsSoonAsLevelPref, "AS_SOON_AS_LEVEL"},
		{db.PolicyAfterLevelPref, "AFTER_LEVEL"},
		{db.PolicyBeforeLevelPref, "BEFORE_LEVEL"},
	} {
		if strings.HasPrefix(p, form.prefix) {
			n, err := strconv.Atoi(strings.TrimPrefix(p, form.prefix))
			if err != nil || n < 1 {
				return EscalationPolicy{}, fmt.Errorf("invalid level reference in policy %q", policy)
			}
			return EscalationPolicy{Kind: form.kind, RefLevel: n}, nil
		}
	}

	return EscalationPolicy{}, fmt.Errorf("unknown escalation policy %q", policy)
}

// ShiftSettings bundles the window parameters a deadline resolution shifts
// with; they come from the running instance's snapshot, not the live
// template.
type ShiftSettings struct {
	HoursMode       string
	WindowStart     db.TimeOfDay
	WindowEnd       db.TimeOfDay
	ExcludeWeekends bool
	Location        *time.Location
}

func (s ShiftSettings) shift(t time.Time, minutes int, dir ShiftDirection) time.Time {
	return ShiftWorkingTime(t, minutes, dir, s.ExcludeWeekends, s.HoursMode, s.WindowStart, s.WindowEnd, s.Location)
}

// ResolveEscalationDeadline produces the absolute deadline for one level.
// resolved holds the deadlines of lower levels already computed this pass;
// levels must be resolved in ascending order, so a reference to a level that
// is not yet in the map is a configuration error.
func ResolveEscalationDeadline(breachTime time.Time, policy string, amountMinutes int,
	resolved map[int]time.Time, settings ShiftSettings) (time.Time, error) {

	parsed, err := ParseEscalationPolicy(policy)
	if err != nil {
		return time.Time{}, err
	}

	switch parsed.Kind {
	case "ON_TIME":
		return breachTime, nil
	case "BEFORE_BREACH":
		return settings.shift(breachTime, amountMinutes, ShiftSub), nil
	case "AFTER_BREACH":
		return settings.shift(breachTime, amountMinutes, ShiftAdd), nil
	}

	base, ok := resolved[parsed.RefLevel]
	if !ok {
		return time.Time{}, fmt.Errorf("policy %q references level %d which is not resolved yet", policy, parsed.RefLevel)
	}

	switch parsed.Kind {
	case "AS_SOON_AS_LEVEL":
		return base, nil
	case "AFTER_LEVEL":
		return settings.shift(base, amountMinutes, ShiftAdd), nil
	case "BEFORE_LEVEL":
		return settings.shift(base, amountMinutes, ShiftSub), nil
	}

	return time.Time{}, fmt.Errorf("unhandled escalation policy %q", policy)
}

// ValidateLevelPolicies checks a template's level list for contiguous
// numbering from 1 and forward-only level references.
func ValidateLevelPolicies(levels []db.LevelRequest) error {
	for i, level := range levels {
		if level.LevelNumber != i+1 {
			return fmt.Errorf("level numbers must be contiguous from 1, got %d at position %d", level.LevelNumber, i+1)
		}
		parsed, err := ParseEscalationPolicy(level.EscalatePolicy)
		if err != nil {
			return err
		}
		if parsed.RefLevel > 0 && parsed.RefLevel >= level.LevelNumber {
			return fmt.Errorf("level %d policy %q must reference a lower level", level.LevelNumber, level.EscalatePolicy)
		}
	}
	return nil
}
