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

// SlaTemplateService manages template definitions and the single-active
// invariant per (application, entity-type).
type SlaTemplateService struct {
	PG    *sql.DB
	Redis *redis.Client
}

func NewSlaTemplateService(pg *sql.DB, redisClient *redis.Client) *SlaTemplateService {
	return &SlaTemplateService{PG: pg, Redis: redisClient}
}

const templateCacheTTL = 60 * time.Second

const templateColumns = `id, name, description, application, entity_type, breach_minutes,
	hours_mode, window_start, window_end, exclude_weekends, time_zone,
	start_condition, stop_condition, cancel_condition, hold_condition, resume_condition, reset_condition,
	is_active, created_at, updated_at, created_by`

// CreateTemplate validates and persists a template with its ordered level
// definitions. New templates start inactive; activation is a separate call so
// the single-active invariant has one enforcement point.
func (s *SlaTemplateService) CreateTemplate(ctx context.Context, req *db.CreateTemplateRequest, createdBy string) (*db.SlaTemplate, error) {
	if err := validateTemplateRequest(req); err != nil {
		return nil, err
	}

	templateID := uuid.New().String()
	windowStart, _ := json.Marshal(req.WindowStart)
	windowEnd, _ := json.Marshal(req.WindowEnd)
	hoursMode := req.HoursMode
	if hoursMode == "" {
		hoursMode = db.HoursModeOperational
	}

	tx, err := s.PG.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sla_templates (
			id, name, description, application, entity_type, breach_minutes,
			hours_mode, window_start, window_end, exclude_weekends, time_zone,
			start_condition, stop_condition, cancel_condition, hold_condition, resume_condition, reset_condition,
			is_active, created_at, updated_at, created_by
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,false,NOW(),NOW(),$18)`,
		templateID, req.Name, req.Description, req.Application, req.EntityType, req.BreachMinutes,
		hoursMode, windowStart, windowEnd, req.ExcludeWeekends, req.TimeZone,
		[]byte(req.StartCondition), []byte(req.StopCondition),
		nullableJSON(req.CancelCondition), nullableJSON(req.HoldCondition),
		nullableJSON(req.ResumeCondition), nullableJSON(req.ResetCondition),
		createdBy,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting template: %w", err)
	}

	if err := insertLevels(ctx, tx, templateID, req.Levels); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	log.Printf("Created SLA template %s (%s/%s)", req.Name, req.Application, req.EntityType)
	return s.GetTemplate(ctx, templateID)
}

// UpdateTemplate applies a partial update. When levels are supplied the whole
// level set is replaced, mirroring how the definitions are edited as a unit.
func (s *SlaTemplateService) UpdateTemplate(ctx context.Context, id string, req *db.UpdateTemplateRequest) (*db.SlaTemplate, error) {
	existing, err := s.GetTemplate(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Levels != nil {
		if err := ValidateLevelPolicies(req.Levels); err != nil {
			return nil, err
		}
	}
	if req.TimeZone != nil {
		if _, err := time.LoadLocation(*req.TimeZone); err != nil {
			return nil, fmt.Errorf("unresolvable time zone %q: %w", *req.TimeZone, err)
		}
	}

	apply := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	apply(&existing.Name, req.Name)
	apply(&existing.Description, req.Description)
	apply(&existing.HoursMode, req.HoursMode)
	apply(&existing.TimeZone, req.TimeZone)
	if req.BreachMinutes != nil {
		existing.BreachMinutes = *req.BreachMinutes
	}
	if req.WindowStart != nil {
		existing.WindowStart = *req.WindowStart
	}
	if req.WindowEnd != nil {
		existing.WindowEnd = *req.WindowEnd
	}
	if req.ExcludeWeekends != nil {
		existing.ExcludeWeekends = *req.ExcludeWeekends
	}
	for dst, src := range map[*json.RawMessage]json.RawMessage{
		&existing.StartCondition:  req.StartCondition,
		&existing.StopCondition:   req.StopCondition,
		&existing.CancelCondition: req.CancelCondition,
		&existing.HoldCondition:   req.HoldCondition,
		&existing.ResumeCondition: req.ResumeCondition,
		&existing.ResetCondition:  req.ResetCondition,
	} {
		if src != nil {
			*dst = src
		}
	}

	windowStart, _ := json.Marshal(existing.WindowStart)
	windowEnd, _ := json.Marshal(existing.WindowEnd)

	tx, err := s.PG.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		UPDATE sla_templates SET
			name = $1, description = $2, breach_minutes = $3, hours_mode = $4,
			window_start = $5, window_end = $6, exclude_weekends = $7, time_zone = $8,
			start_condition = $9, stop_condition = $10, cancel_condition = $11,
			hold_condition = $12, resume_condition = $13, reset_condition = $14,
			updated_at = NOW()
		WHERE id = $15`,
		existing.Name, existing.Description, existing.BreachMinutes, existing.HoursMode,
		windowStart, windowEnd, existing.ExcludeWeekends, existing.TimeZone,
		[]byte(existing.StartCondition), []byte(existing.StopCondition),
		nullableJSON(existing.CancelCondition), nullableJSON(existing.HoldCondition),
		nullableJSON(existing.ResumeCondition), nullableJSON(existing.ResetCondition),
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("updating template: %w", err)
	}

	if req.Levels != nil {
		if _, err := tx.ExecContext(ctx, `DELETE FROM sla_levels WHERE template_id = $1`, id); err != nil {
			return nil, fmt.Errorf("clearing levels: %w", err)
		}
		if err := insertLevels(ctx, tx, id, req.Levels); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	s.invalidateCache(ctx, existing.Application, existing.EntityType)
	return s.GetTemplate(ctx, id)
}

// ActivateTemplate makes the template the single active one for its
// (application, entity-type) pair, deactivating any other in the same
// transaction.
func (s *SlaTemplateService) ActivateTemplate(ctx context.Context, id string) error {
	template, err := s.GetTemplate(ctx, id)
	if err != nil {
		return err
	}

	tx, err := s.PG.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		UPDATE sla_templates SET is_active = false, updated_at = NOW()
		WHERE application = $1 AND entity_type = $2 AND id != $3 AND is_active = true`,
		template.Application, template.EntityType, id,
	)
	if err != nil {
		return fmt.Errorf("deactivating siblings: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE sla_templates SET is_active = true, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("activating template: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	s.invalidateCache(ctx, template.Application, template.EntityType)
	log.Printf("Activated SLA template %s for %s/%s", template.Name, template.Application, template.EntityType)
	return nil
}

func (s *SlaTemplateService) DeactivateTemplate(ctx context.Context, id string) error {
	template, err := s.GetTemplate(ctx, id)
	if err != nil {
		return err
	}
	_, err = s.PG.ExecContext(ctx,
		`UPDATE sla_templates SET is_active = false, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deactivating template: %w", err)
	}
	s.invalidateCache(ctx, template.Application, template.EntityType)
	return nil
}

// GetTemplate loads one template with its levels.
func (s *SlaTemplateService) GetTemplate(ctx context.Context, id string) (*db.SlaTemplate, error) {
	row := s.PG.QueryRowContext(ctx, `SELECT `+templateColumns+` FROM sla_templates WHERE id = $1`, id)
	template, err := scanTemplate(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("template %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	template.Levels, err = s.getLevels(ctx, id)
	if err != nil {
		return nil, err
	}
	return template, nil
}

// ListTemplates returns all templates, optionally filtered by application.
func (s *SlaTemplateService) ListTemplates(ctx context.Context, application string) ([]db.SlaTemplate, error) {
	query := `SELECT ` + templateColumns + ` FROM sla_templates`
	args := []interface{}{}
	if application != "" {
		query += ` WHERE application = $1`
		args = append(args, application)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.PG.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var templates []db.SlaTemplate
	for rows.Next() {
		template, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, *template)
	}
	return templates, rows.Err()
}

// GetActiveTemplates returns the active templates (with levels) for an
// (application, entity-type) pair, served from Redis when fresh.
func (s *SlaTemplateService) GetActiveTemplates(ctx context.Context, application, entityType string) ([]db.SlaTemplate, error) {
	cacheKey := fmt.Sprintf("sla:templates:%s:%s", application, entityType)
	if s.Redis != nil {
		if cached, err := s.Redis.Get(ctx, cacheKey).Bytes(); err == nil {
			var templates []db.SlaTemplate
			if json.Unmarshal(cached, &templates) == nil {
				return templates, nil
			}
		}
	}

	rows, err := s.PG.QueryContext(ctx, `
		SELECT `+templateColumns+` FROM sla_templates
		WHERE application = $1 AND entity_type = $2 AND is_active = true
		ORDER BY created_at`, application, entityType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var templates []db.SlaTemplate
	for rows.Next() {
		template, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, *template)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range templates {
		templates[i].Levels, err = s.getLevels(ctx, templates[i].ID)
		if err != nil {
			return nil, err
		}
	}

	if s.Redis != nil && len(templates) > 0 {
		if payload, err := json.Marshal(templates); err == nil {
			s.Redis.Set(ctx, cacheKey, payload, templateCacheTTL)
		}
	}
	return templates, nil
}

func (s *SlaTemplateService) getLevels(ctx context.Context, templateID string) ([]db.SlaLevel, error) {
	rows, err := s.PG.QueryContext(ctx, `
		SELECT id, template_id, level_number, escalate_minutes, escalate_policy, recipients,
		       mail_template_name, mail_config, send_email, send_notification, geography_aware, created_at
		FROM sla_levels WHERE template_id = $1 ORDER BY level_number`, templateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var levels []db.SlaLevel
	for rows.Next() {
		var level db.SlaLevel
		var mailTemplate sql.NullString
		var mailConfig []byte
		if err := rows.Scan(&level.ID, &level.TemplateID, &level.LevelNumber, &level.EscalateMinutes,
			&level.EscalatePolicy, &level.Recipients, &mailTemplate, &mailConfig,
			&level.SendEmail, &level.SendNotification, &level.GeographyAware, &level.CreatedAt); err != nil {
			return nil, err
		}
		level.MailTemplateName = mailTemplate.String
		level.MailConfig = mailConfig
		levels = append(levels, level)
	}
	return levels, rows.Err()
}

func (s *SlaTemplateService) invalidateCache(ctx context.Context, application, entityType string) {
	if s.Redis == nil {
		return
	}
	if err := s.Redis.Del(ctx, fmt.Sprintf("sla:templates:%s:%s", application, entityType)).Err(); err != nil {
		log.Printf("Failed to invalidate template cache: %v", err)
	}
}

func insertLevels(ctx context.Context, tx *sql.Tx, templateID string, levels []db.LevelRequest) error {
	for _, level := range levels {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sla_levels (
				id, template_id, level_number, escalate_minutes, escalate_policy, recipients,
				mail_template_name, mail_config, send_email, send_notification, geography_aware, created_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,NOW())`,
			uuid.New().String(), templateID, level.LevelNumber, level.EscalateMinutes,
			level.EscalatePolicy, level.Recipients, level.MailTemplateName,
			nullableJSON(level.MailConfig), level.SendEmail, level.SendNotification, level.GeographyAware,
		)
		if err != nil {
			return fmt.Errorf("inserting level %d: %w", level.LevelNumber, err)
		}
	}
	return nil
}

func validateTemplateRequest(req *db.CreateTemplateRequest) error {
	if req.HoursMode != "" && req.HoursMode != db.HoursModeCalendar && req.HoursMode != db.HoursModeOperational {
		return fmt.Errorf("invalid hours_mode %q", req.HoursMode)
	}
	if _, err := time.LoadLocation(req.TimeZone); err != nil {
		return fmt.Errorf("unresolvable time zone %q: %w", req.TimeZone, err)
	}
	if len(req.StartCondition) == 0 || len(req.StopCondition) == 0 {
		return fmt.Errorf("start and stop conditions are mandatory")
	}
	return ValidateLevelPolicies(req.Levels)
}

func scanTemplate(row rowScanner) (*db.SlaTemplate, error) {
	var template db.SlaTemplate
	var description, createdBy sql.NullString
	var windowStart, windowEnd []byte
	var startCond, stopCond, cancelCond, holdCond, resumeCond, resetCond []byte

	err := row.Scan(
		&template.ID, &template.Name, &description, &template.Application, &template.EntityType,
		&template.BreachMinutes, &template.HoursMode, &windowStart, &windowEnd,
		&template.ExcludeWeekends, &template.TimeZone,
		&startCond, &stopCond, &cancelCond, &holdCond, &resumeCond, &resetCond,
		&template.IsActive, &template.CreatedAt, &template.UpdatedAt, &createdBy,
	)
	if err != nil {
		return nil, err
	}

	template.Description = description.String
	template.CreatedBy = createdBy.String
	if len(windowStart) > 0 {
		_ = json.Unmarshal(windowStart, &template.WindowStart)
	}
	if len(windowEnd) > 0 {
		_ = json.Unmarshal(windowEnd, &template.WindowEnd)
	}
	template.StartCondition = startCond
	template.StopCondition = stopCond
	template.CancelCondition = cancelCond
	template.HoldCondition = holdCond
	template.ResumeCondition = resumeCond
	template.ResetCondition = resetCond
	return &template, nil
}
