package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/Vivekb0311/sla/db"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// SlaHistoryService owns the lifecycle state machine: it is driven by inbound
// entity events and mutates running instances and their escalation records.
type SlaHistoryService struct {
	PG                *sql.DB
	Redis             *redis.Client
	TemplateService   *SlaTemplateService
	EscalationService *EscalationService
}

func NewSlaHistoryService(pg *sql.DB, redisClient *redis.Client, templates *SlaTemplateService, escalations *EscalationService) *SlaHistoryService {
	return &SlaHistoryService{
		PG:                pg,
		Redis:             redisClient,
		TemplateService:   templates,
		EscalationService: escalations,
	}
}

// transitionRule pairs a lifecycle transition with the condition tree that
// triggers it. Precedence is the slice order: first satisfied tree wins.
type transitionRule struct {
	name string
	tree json.RawMessage
}

const historyColumns = `id, sla_id, template_id, application, entity_type, entity_id, state, level,
	breach_minutes, breach_time, escalate_time, breach_status, breached_at_level,
	hours_mode, window_start, window_end, exclude_weekends, time_zone,
	stop_condition, cancel_condition, hold_condition, resume_condition, reset_condition,
	last_trace, owner, created_by, modified_by, created_at, modified_at`

// TriggerEntityEvent is the sole inbound entry point. It checks the event
// payload against every active template for (application, entityType) and
// applies at most one transition per template. Returns true if any template
// matched.
func (s *SlaHistoryService) TriggerEntityEvent(ctx context.Context, payload map[string]interface{},
	application, entityType, entityID string) (bool, error) {

	templates, err := s.TemplateService.GetActiveTemplates(ctx, application, entityType)
	if err != nil {
		return false, fmt.Errorf("loading active templates: %w", err)
	}

	matched := false
	for i := range templates {
		template := &templates[i]
		hit, err := s.processTemplate(ctx, template, payload, entityID)
		if err != nil {
			return matched, fmt.Errorf("template %s: %w", template.ID, err)
		}
		matched = matched || hit
	}
	return matched, nil
}

// processTemplate evaluates and applies at most one transition for this
// (template, entity) pair. The whole exchange runs in one transaction with the
// open history row locked, so concurrent events for the same entity serialize:
// the second event re-reads the state the first one committed.
func (s *SlaHistoryService) processTemplate(ctx context.Context, template *db.SlaTemplate,
	payload map[string]interface{}, entityID string) (bool, error) {

	tx, err := s.PG.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	hist, err := s.getOpenHistory(ctx, tx, entityID, template.ID)
	if err != nil {
		return false, err
	}

	if hist == nil {
		matched, trace, err := EvaluateRuleTree(template.StartCondition, payload)
		if err != nil {
			return false, fmt.Errorf("start condition: %w", err)
		}
		if !matched {
			return false, nil
		}
		historyID, err := s.createHistory(ctx, tx, template, entityID, payload, trace)
		if err != nil {
			return false, err
		}
		if err := tx.Commit(); err != nil {
			return false, err
		}
		s.publishEvent(ctx, "started", historyID, entityID)
		return true, nil
	}

	var rules []transitionRule
	switch hist.State {
	case db.StateInProgress:
		rules = []transitionRule{
			{"on_hold", hist.HoldCondition},
			{"stop", hist.StopCondition},
			{"cancel", hist.CancelCondition},
			{"reset", hist.ResetCondition},
		}
	case db.StateOnHold:
		rules = []transitionRule{
			{"stop", hist.StopCondition},
			{"resume", hist.ResumeCondition},
			{"cancel", hist.CancelCondition},
			{"reset", hist.ResetCondition},
		}
	default:
		return false, nil
	}

	for _, rule := range rules {
		if len(rule.tree) == 0 {
			continue
		}
		ruleMatched, trace, err := EvaluateRuleTree(rule.tree, payload)
		if err != nil {
			return false, fmt.Errorf("%s condition: %w", rule.name, err)
		}
		if !ruleMatched {
			continue
		}
		event, err := s.applyTransition(ctx, tx, hist, rule.name, trace)
		if err != nil {
			return false, err
		}
		if err := tx.Commit(); err != nil {
			return false, err
		}
		s.publishEvent(ctx, event, hist.ID, hist.EntityID)
		return true, nil
	}
	return false, nil
}

// applyTransition mutates the locked instance and returns the event name to
// publish once the surrounding transaction commits.
func (s *SlaHistoryService) applyTransition(ctx context.Context, tx *sql.Tx, hist *db.SlaHistory, transition, trace string) (string, error) {
	switch transition {
	case "on_hold":
		return "state_changed", s.updateState(ctx, tx, hist, db.StateOnHold, trace)
	case "stop":
		return "state_changed", s.updateState(ctx, tx, hist, db.StateCompleted, trace)
	case "cancel":
		return "state_changed", s.updateState(ctx, tx, hist, db.StateCancelled, trace)
	case "resume":
		return "resumed", s.resume(ctx, tx, hist, trace)
	case "reset":
		return "reset", s.reset(ctx, tx, hist, trace)
	}
	return "", fmt.Errorf("unknown transition %q", transition)
}

// createHistory starts a new running instance: it snapshots the template's
// condition trees and window settings, computes the breach deadline and
// resolves every level's escalation record in ascending order. Runs on the
// caller's transaction and returns the new history id.
func (s *SlaHistoryService) createHistory(ctx context.Context, tx *sql.Tx, template *db.SlaTemplate,
	entityID string, payload map[string]interface{}, trace string) (string, error) {

	loc, err := time.LoadLocation(template.TimeZone)
	if err != nil {
		return "", fmt.Errorf("unresolvable time zone %q: %w", template.TimeZone, err)
	}

	now := time.Now().In(loc)
	settings := ShiftSettings{
		HoursMode:       template.HoursMode,
		WindowStart:     template.WindowStart,
		WindowEnd:       template.WindowEnd,
		ExcludeWeekends: template.ExcludeWeekends,
		Location:        loc,
	}
	breachTime := settings.shift(now, template.BreachMinutes, ShiftAdd)

	// Levels are resolved strictly ascending so level-referencing policies
	// always see their dependency.
	resolved := make(map[int]time.Time, len(template.Levels))
	for _, level := range template.Levels {
		deadline, err := ResolveEscalationDeadline(breachTime, level.EscalatePolicy, level.EscalateMinutes, resolved, settings)
		if err != nil {
			return "", fmt.Errorf("level %d: %w", level.LevelNumber, err)
		}
		resolved[level.LevelNumber] = deadline
	}

	historyID := uuid.New().String()
	slaID := "SLA-" + historyID[:8]
	owner, _ := payload["owner"].(string)
	firstDeadline := resolved[1]

	windowStart, _ := json.Marshal(template.WindowStart)
	windowEnd, _ := json.Marshal(template.WindowEnd)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sla_histories (
			id, sla_id, template_id, application, entity_type, entity_id, state, level,
			breach_minutes, breach_time, escalate_time, breach_status, breached_at_level,
			hours_mode, window_start, window_end, exclude_weekends, time_zone,
			stop_condition, cancel_condition, hold_condition, resume_condition, reset_condition,
			last_trace, owner, created_by, modified_by, created_at, modified_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27,NOW(),NOW())`,
		historyID, slaID, template.ID, template.Application, template.EntityType, entityID,
		db.StateInProgress, 1, template.BreachMinutes, breachTime, firstDeadline, false, 0,
		template.HoursMode, windowStart, windowEnd, template.ExcludeWeekends, template.TimeZone,
		nullableJSON(template.StopCondition), nullableJSON(template.CancelCondition), nullableJSON(template.HoldCondition),
		nullableJSON(template.ResumeCondition), nullableJSON(template.ResetCondition),
		trace, owner, db.SystemActorTrigger, db.SystemActorTrigger,
	)
	if err != nil {
		return "", fmt.Errorf("inserting history: %w", err)
	}

	for _, level := range template.Levels {
		recipients := s.EscalationService.ResolveRecipients(ctx, level.Recipients, payload, level.GeographyAware)
		mailConfig := SubstitutePlaceholders(level.MailConfig, payload)
		recipientsJSON, _ := json.Marshal(recipients)

		_, err = tx.ExecContext(ctx, `
			INSERT INTO sla_escalations (
				id, history_id, level_number, escalation_time, breach_time,
				escalate_policy, escalate_minutes, recipients, fired,
				mail_template, mail_config, send_email, send_push, time_zone,
				created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,NOW(),NOW())`,
			uuid.New().String(), historyID, level.LevelNumber, resolved[level.LevelNumber], breachTime,
			level.EscalatePolicy, level.EscalateMinutes, recipientsJSON, false,
			level.MailTemplateName, nullableJSON(mailConfig), level.SendEmail, level.SendNotification, template.TimeZone,
		)
		if err != nil {
			return "", fmt.Errorf("inserting escalation level %d: %w", level.LevelNumber, err)
		}
	}

	log.Printf("Started SLA %s for entity %s (template %s), breach at %s", slaID, entityID, template.Name, breachTime)
	return historyID, nil
}

func (s *SlaHistoryService) updateState(ctx context.Context, tx *sql.Tx, hist *db.SlaHistory, newState, trace string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE sla_histories
		SET state = $1, last_trace = $2, modified_by = $3, modified_at = NOW()
		WHERE id = $4`,
		newState, trace, db.SystemActorTrigger, hist.ID,
	)
	if err != nil {
		return fmt.Errorf("updating state to %s: %w", newState, err)
	}
	log.Printf("SLA %s: %s -> %s", hist.SlaID, hist.State, newState)
	return nil
}

// resume returns an instance to IN_PROGRESS and pushes the breach deadline
// and every escalation deadline forward by the window-adjusted hold
// duration, so time spent on hold does not count against the obligation.
func (s *SlaHistoryService) resume(ctx context.Context, tx *sql.Tx, hist *db.SlaHistory, trace string) error {
	settings, err := settingsFromHistory(hist)
	if err != nil {
		return err
	}

	elapsed := int(time.Since(hist.ModifiedAt).Minutes())
	newBreach := settings.shift(hist.BreachTime, elapsed, ShiftAdd)

	var newEscalate interface{}
	if hist.EscalateTime != nil {
		newEscalate = settings.shift(*hist.EscalateTime, elapsed, ShiftAdd)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE sla_histories
		SET state = $1, breach_time = $2, escalate_time = $3, last_trace = $4, modified_by = $5, modified_at = NOW()
		WHERE id = $6`,
		db.StateInProgress, newBreach, newEscalate, trace, db.SystemActorTrigger, hist.ID,
	)
	if err != nil {
		return fmt.Errorf("resuming history: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT id, escalation_time FROM sla_escalations WHERE history_id = $1 ORDER BY level_number`, hist.ID)
	if err != nil {
		return fmt.Errorf("loading escalations for resume: %w", err)
	}
	type shiftTarget struct {
		id       string
		deadline time.Time
	}
	var targets []shiftTarget
	for rows.Next() {
		var t shiftTarget
		if err := rows.Scan(&t.id, &t.deadline); err != nil {
			rows.Close()
			return err
		}
		targets = append(targets, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, t := range targets {
		shifted := settings.shift(t.deadline, elapsed, ShiftAdd)
		if _, err := tx.ExecContext(ctx,
			`UPDATE sla_escalations SET escalation_time = $1, breach_time = $2, updated_at = NOW() WHERE id = $3`,
			shifted, newBreach, t.id); err != nil {
			return fmt.Errorf("shifting escalation %s: %w", t.id, err)
		}
	}

	log.Printf("SLA %s resumed after %d minute hold, breach moved to %s", hist.SlaID, elapsed, newBreach)
	return nil
}

// reset restarts the obligation clock: breach is recomputed from now, the
// level counter drops back to 1, the breach flag clears, and every
// escalation record is re-resolved against the new breach time with its own
// snapshotted policy.
func (s *SlaHistoryService) reset(ctx context.Context, tx *sql.Tx, hist *db.SlaHistory, trace string) error {
	settings, err := settingsFromHistory(hist)
	if err != nil {
		return err
	}

	now := time.Now().In(settings.Location)
	newBreach := settings.shift(now, hist.BreachMinutes, ShiftAdd)

	rows, err := tx.QueryContext(ctx, `
		SELECT id, level_number, escalate_policy, escalate_minutes
		FROM sla_escalations WHERE history_id = $1 ORDER BY level_number`, hist.ID)
	if err != nil {
		return fmt.Errorf("loading escalations for reset: %w", err)
	}
	type recordSnapshot struct {
		id      string
		level   int
		policy  string
		minutes int
	}
	var records []recordSnapshot
	for rows.Next() {
		var r recordSnapshot
		if err := rows.Scan(&r.id, &r.level, &r.policy, &r.minutes); err != nil {
			rows.Close()
			return err
		}
		records = append(records, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	resolved := make(map[int]time.Time, len(records))
	for _, r := range records {
		deadline, err := ResolveEscalationDeadline(newBreach, r.policy, r.minutes, resolved, settings)
		if err != nil {
			return fmt.Errorf("re-resolving level %d: %w", r.level, err)
		}
		resolved[r.level] = deadline
		if _, err := tx.ExecContext(ctx, `
			UPDATE sla_escalations
			SET escalation_time = $1, breach_time = $2, fired = false, fired_at = NULL, updated_at = NOW()
			WHERE id = $3`,
			deadline, newBreach, r.id); err != nil {
			return fmt.Errorf("resetting escalation %s: %w", r.id, err)
		}
	}

	var newEscalate interface{}
	if first, ok := resolved[1]; ok {
		newEscalate = first
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE sla_histories
		SET state = $1, level = 1, breach_time = $2, escalate_time = $3, breach_status = false,
		    breached_at_level = 0, last_trace = $4, modified_by = $5, modified_at = NOW()
		WHERE id = $6`,
		db.StateInProgress, newBreach, newEscalate, trace, db.SystemActorTrigger, hist.ID,
	)
	if err != nil {
		return fmt.Errorf("resetting history: %w", err)
	}

	log.Printf("SLA %s reset, new breach at %s", hist.SlaID, newBreach)
	return nil
}

// getOpenHistory returns the single non-terminal instance for
// (entity, template), or nil if the entity has no obligation in flight. The
// row is locked for the rest of the transaction so transitions for one entity
// apply one at a time.
func (s *SlaHistoryService) getOpenHistory(ctx context.Context, tx *sql.Tx, entityID, templateID string) (*db.SlaHistory, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT `+historyColumns+`
		FROM sla_histories
		WHERE entity_id = $1 AND template_id = $2 AND state IN ($3, $4)
		ORDER BY created_at DESC LIMIT 1
		FOR UPDATE`,
		entityID, templateID, db.StateInProgress, db.StateOnHold,
	)
	hist, err := scanHistory(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return hist, err
}

// GetHistory loads one instance by id.
func (s *SlaHistoryService) GetHistory(ctx context.Context, id string) (*db.SlaHistory, error) {
	row := s.PG.QueryRowContext(ctx, `SELECT `+historyColumns+` FROM sla_histories WHERE id = $1`, id)
	hist, err := scanHistory(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("history %s not found", id)
	}
	return hist, err
}

// ListHistoriesByEntity returns all instances ever opened for an entity.
func (s *SlaHistoryService) ListHistoriesByEntity(ctx context.Context, entityID string) ([]db.SlaHistory, error) {
	rows, err := s.PG.QueryContext(ctx, `
		SELECT `+historyColumns+` FROM sla_histories WHERE entity_id = $1 ORDER BY created_at DESC`, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var histories []db.SlaHistory
	for rows.Next() {
		hist, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		histories = append(histories, *hist)
	}
	return histories, rows.Err()
}

func (s *SlaHistoryService) publishEvent(ctx context.Context, eventType, historyID, entityID string) {
	if s.Redis == nil {
		return
	}
	event, _ := json.Marshal(map[string]string{
		"type":       eventType,
		"history_id": historyID,
		"entity_id":  entityID,
	})
	if err := s.Redis.Publish(ctx, "sla:events", event).Err(); err != nil {
		log.Printf("Failed to publish sla event: %v", err)
	}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanHistory(row rowScanner) (*db.SlaHistory, error) {
	var hist db.SlaHistory
	var escalateTime sql.NullTime
	var windowStart, windowEnd []byte
	var stopCond, cancelCond, holdCond, resumeCond, resetCond []byte
	var lastTrace, owner, createdBy, modifiedBy sql.NullString

	err := row.Scan(
		&hist.ID, &hist.SlaID, &hist.TemplateID, &hist.Application, &hist.EntityType, &hist.EntityID,
		&hist.State, &hist.Level, &hist.BreachMinutes, &hist.BreachTime, &escalateTime,
		&hist.BreachStatus, &hist.BreachedAtLevel, &hist.HoursMode, &windowStart, &windowEnd,
		&hist.ExcludeWeekends, &hist.TimeZone,
		&stopCond, &cancelCond, &holdCond, &resumeCond, &resetCond,
		&lastTrace, &owner, &createdBy, &modifiedBy, &hist.CreatedAt, &hist.ModifiedAt,
	)
	if err != nil {
		return nil, err
	}

	if escalateTime.Valid {
		hist.EscalateTime = &escalateTime.Time
	}
	if len(windowStart) > 0 {
		_ = json.Unmarshal(windowStart, &hist.WindowStart)
	}
	if len(windowEnd) > 0 {
		_ = json.Unmarshal(windowEnd, &hist.WindowEnd)
	}
	hist.StopCondition = stopCond
	hist.CancelCondition = cancelCond
	hist.HoldCondition = holdCond
	hist.ResumeCondition = resumeCond
	hist.ResetCondition = resetCond
	hist.LastTrace = lastTrace.String
	hist.Owner = owner.String
	hist.CreatedBy = createdBy.String
	hist.ModifiedBy = modifiedBy.String
	return &hist, nil
}

// settingsFromHistory rebuilds shift settings from the window snapshot taken
// at instance creation, never from the live template.
func settingsFromHistory(hist *db.SlaHistory) (ShiftSettings, error) {
	loc, err := time.LoadLocation(hist.TimeZone)
	if err != nil {
		return ShiftSettings{}, fmt.Errorf("unresolvable time zone %q: %w", hist.TimeZone, err)
	}
	return ShiftSettings{
		HoursMode:       hist.HoursMode,
		WindowStart:     hist.WindowStart,
		WindowEnd:       hist.WindowEnd,
		ExcludeWeekends: hist.ExcludeWeekends,
		Location:        loc,
	}, nil
}

func nullableJSON(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
