package services

import (
	"context"
	"database/sql"
	"time"

	"github.com/Vivekb0311/sla/db"
)

// ReportService serves the read-side projections for the dashboard. All
// methods are plain aggregate queries with no control-flow complexity.
type ReportService struct {
	PG *sql.DB
}

func NewReportService(pg *sql.DB) *ReportService {
	return &ReportService{PG: pg}
}

// DayActivity is one day's breached/escalated/triggered tally.
type DayActivity struct {
	Day       string `json:"day"`
	Breached  int    `json:"breached"`
	Escalated int    `json:"escalated"`
	Triggered int    `json:"triggered"`
}

// PresentDayActivities counts today's breaches, fired escalations and
// triggered instances.
func (s *ReportService) PresentDayActivities(ctx context.Context) (*DayActivity, error) {
	activity := &DayActivity{Day: time.Now().Format("2006-01-02")}

	err := s.PG.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE breach_status = true AND modified_at::date = CURRENT_DATE),
			COUNT(*) FILTER (WHERE created_at::date = CURRENT_DATE)
		FROM sla_histories`).Scan(&activity.Breached, &activity.Triggered)
	if err != nil {
		return nil, err
	}

	err = s.PG.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sla_escalations
		WHERE fired = true AND fired_at::date = CURRENT_DATE`).Scan(&activity.Escalated)
	if err != nil {
		return nil, err
	}
	return activity, nil
}

// BreachProximity lists in-progress, unbreached instances whose breach
// deadline falls within the next windowMinutes.
func (s *ReportService) BreachProximity(ctx context.Context, windowMinutes int) ([]db.SlaHistory, error) {
	if windowMinutes <= 0 {
		windowMinutes = 60
	}
	rows, err := s.PG.QueryContext(ctx, `
		SELECT `+historyColumns+`
		FROM sla_histories
		WHERE state = $1 AND breach_status = false
		  AND breach_time > NOW()
		  AND breach_time <= NOW() + ($2 * INTERVAL '1 minute')
		ORDER BY breach_time`,
		db.StateInProgress, windowMinutes)
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

// ThirtyDayActivity returns a per-day breached/escalated/triggered series
// for the last 30 days. Days without activity are absent.
func (s *ReportService) ThirtyDayActivity(ctx context.Context) ([]DayActivity, error) {
	rows, err := s.PG.QueryContext(ctx, `
		SELECT day, SUM(breached), SUM(escalated), SUM(triggered)
		FROM (
			SELECT modified_at::date AS day, COUNT(*) AS breached, 0 AS escalated, 0 AS triggered
			FROM sla_histories
			WHERE breach_status = true AND modified_at >= NOW() - INTERVAL '30 days'
			GROUP BY day
			UNION ALL
			SELECT fired_at::date AS day, 0, COUNT(*), 0
			FROM sla_escalations
			WHERE fired = true AND fired_at >= NOW() - INTERVAL '30 days'
			GROUP BY day
			UNION ALL
			SELECT created_at::date AS day, 0, 0, COUNT(*)
			FROM sla_histories
			WHERE created_at >= NOW() - INTERVAL '30 days'
			GROUP BY day
		) activity
		GROUP BY day
		ORDER BY day`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var series []DayActivity
	for rows.Next() {
		var entry DayActivity
		var day time.Time
		if err := rows.Scan(&day, &entry.Breached, &entry.Escalated, &entry.Triggered); err != nil {
			return nil, err
		}
		entry.Day = day.Format("2006-01-02")
		series = append(series, entry)
	}
	return series, rows.Err()
}

// TemplateCount is a (template, count) pair used by the top-N projections.
type TemplateCount struct {
	TemplateID string `json:"template_id"`
	Name       string `json:"name"`
	Count      int    `json:"count"`
}

// TopBreached returns the templates with the most breached instances.
func (s *ReportService) TopBreached(ctx context.Context, limit int) ([]TemplateCount, error) {
	return s.topTemplates(ctx, `WHERE h.breach_status = true`, limit)
}

// TopTriggered returns the templates with the most started instances.
func (s *ReportService) TopTriggered(ctx context.Context, limit int) ([]TemplateCount, error) {
	return s.topTemplates(ctx, ``, limit)
}

func (s *ReportService) topTemplates(ctx context.Context, where string, limit int) ([]TemplateCount, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.PG.QueryContext(ctx, `
		SELECT h.template_id, t.name, COUNT(*) AS total
		FROM sla_histories h
		JOIN sla_templates t ON t.id = h.template_id
		`+where+`
		GROUP BY h.template_id, t.name
		ORDER BY total DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []TemplateCount
	for rows.Next() {
		var entry TemplateCount
		if err := rows.Scan(&entry.TemplateID, &entry.Name, &entry.Count); err != nil {
			return nil, err
		}
		results = append(results, entry)
	}
	return results, rows.Err()
}

// LevelWiseBreaches buckets breached instances by the level they were at
// when the breach was detected.
func (s *ReportService) LevelWiseBreaches(ctx context.Context) (map[int]int, error) {
	rows, err := s.PG.QueryContext(ctx, `
		SELECT breached_at_level, COUNT(*)
		FROM sla_histories
		WHERE breach_status = true
		GROUP BY breached_at_level
		ORDER BY breached_at_level`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	buckets := make(map[int]int)
	for rows.Next() {
		var level, count int
		if err := rows.Scan(&level, &count); err != nil {
			return nil, err
		}
		buckets[level] = count
	}
	return buckets, rows.Err()
}

// TriggeredByState counts the last 30 days of instances per lifecycle state.
func (s *ReportService) TriggeredByState(ctx context.Context) (map[string]int, error) {
	rows, err := s.PG.QueryContext(ctx, `
		SELECT state, COUNT(*)
		FROM sla_histories
		WHERE created_at >= NOW() - INTERVAL '30 days'
		GROUP BY state`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var state string
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, err
		}
		counts[state] = count
	}
	return counts, rows.Err()
}

// TotalHistoryCount returns the all-time instance count.
func (s *ReportService) TotalHistoryCount(ctx context.Context) (int, error) {
	var total int
	err := s.PG.QueryRowContext(ctx, `SELECT COUNT(*) FROM sla_histories`).Scan(&total)
	return total, err
}
