package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"regexp"
	"strings"

	"github.com/Vivekb0311/sla/db"
)

// EscalationService manages the per-level escalation records of running
// instances and resolves recipient expressions through the user directory.
type EscalationService struct {
	PG        *sql.DB
	Directory *DirectoryService
}

func NewEscalationService(pg *sql.DB, directory *DirectoryService) *EscalationService {
	return &EscalationService{PG: pg, Directory: directory}
}

const escalationColumns = `id, history_id, level_number, escalation_time, breach_time,
	escalate_policy, escalate_minutes, recipients, fired, fired_at,
	mail_template, mail_config, send_email, send_push, time_zone, created_at, updated_at`

// ListByHistory returns all escalation records of one instance in level
// order.
func (s *EscalationService) ListByHistory(ctx context.Context, historyID string) ([]db.Escalation, error) {
	rows, err := s.PG.QueryContext(ctx, `
		SELECT `+escalationColumns+` FROM sla_escalations
		WHERE history_id = $1 ORDER BY level_number`, historyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var escalations []db.Escalation
	for rows.Next() {
		esc, err := scanEscalation(rows)
		if err != nil {
			return nil, err
		}
		escalations = append(escalations, *esc)
	}
	return escalations, rows.Err()
}

// GetByLevel returns the record for one (instance, level) pair, or nil when
// the level is not configured.
func (s *EscalationService) GetByLevel(ctx context.Context, historyID string, level int) (*db.Escalation, error) {
	row := s.PG.QueryRowContext(ctx, `
		SELECT `+escalationColumns+` FROM sla_escalations
		WHERE history_id = $1 AND level_number = $2`, historyID, level)
	esc, err := scanEscalation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return esc, err
}

// ResolveRecipients expands a recipient expression into a list of e-mail
// addresses. The expression is a comma-separated list where each entry is
// either a directory pattern ("$Owner", "$Owner.manager",
// "$userGroup(oncall)", "$businessUnit(network)", "$vendor(acme)") or a
// typed literal ("user : someone@example.com"). Directory failures degrade
// to an empty result for the entry, never to an error: a bad recipient must
// not block a state transition.
func (s *EscalationService) ResolveRecipients(ctx context.Context, expression string,
	payload map[string]interface{}, geographyAware bool) []string {

	geography := ""
	if geographyAware {
		if g, ok := payload["geography"].(string); ok {
			geography = g
		}
	}

	seen := make(map[string]struct{})
	var recipients []string
	add := func(emails ...string) {
		for _, email := range emails {
			email = strings.TrimSpace(email)
			if email == "" {
				continue
			}
			if _, dup := seen[email]; dup {
				continue
			}
			seen[email] = struct{}{}
			recipients = append(recipients, email)
		}
	}

	for _, entry := range strings.Split(expression, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.HasPrefix(entry, "$") {
			add(s.resolvePattern(ctx, entry, payload, geography)...)
			continue
		}
		if kind, value, ok := strings.Cut(entry, ":"); ok {
			kind = strings.TrimSpace(strings.ToLower(kind))
			value = strings.TrimSpace(value)
			switch kind {
			case "user":
				add(value)
			case "usergroup", "businessunit", "vendor":
				add(s.filterEmails(ctx, kind, value, geography)...)
			default:
				log.Printf("Unknown recipient entry type %q in %q, skipping", kind, entry)
			}
			continue
		}
		log.Printf("Unparseable recipient entry %q, skipping", entry)
	}
	return recipients
}

// resolvePattern handles the "$..." directory patterns. "$Owner" resolves the
// payload's owner to a directory user; a ".manager" suffix walks one step up
// the reporting chain.
func (s *EscalationService) resolvePattern(ctx context.Context, pattern string,
	payload map[string]interface{}, geography string) []string {

	trimmed := strings.TrimPrefix(pattern, "$")

	if attr, arg, ok := parseAttributePattern(trimmed); ok {
		return s.filterEmails(ctx, attr, arg, geography)
	}

	wantManager := false
	if strings.HasSuffix(trimmed, ".manager") {
		wantManager = true
		trimmed = strings.TrimSuffix(trimmed, ".manager")
	}
	if !strings.EqualFold(trimmed, "owner") {
		log.Printf("Unknown recipient pattern %q, skipping", pattern)
		return nil
	}

	owner, _ := payload["owner"].(string)
	if owner == "" {
		log.Printf("Recipient pattern %q needs an owner in the payload, skipping", pattern)
		return nil
	}

	user, err := s.Directory.GetUserByUsername(ctx, owner)
	if err != nil {
		log.Printf("Directory lookup for owner %q failed: %v", owner, err)
		return nil
	}
	if !wantManager {
		return []string{user.Email}
	}
	if user.Manager == "" {
		return nil
	}
	manager, err := s.Directory.GetUserByUsername(ctx, user.Manager)
	if err != nil {
		log.Printf("Directory lookup for manager %q failed: %v", user.Manager, err)
		return nil
	}
	return []string{manager.Email}
}

func (s *EscalationService) filterEmails(ctx context.Context, attribute, value, geography string) []string {
	users, err := s.Directory.FilterUsers(ctx, attribute, value, geography)
	if err != nil {
		log.Printf("Directory filter %s=%s failed: %v", attribute, value, err)
		return nil
	}
	emails := make([]string, 0, len(users))
	for _, user := range users {
		emails = append(emails, user.Email)
	}
	return emails
}

// parseAttributePattern matches "userGroup(oncall)"-style patterns.
func parseAttributePattern(pattern string) (attribute, arg string, ok bool) {
	open := strings.Index(pattern, "(")
	if open <= 0 || !strings.HasSuffix(pattern, ")") {
		return "", "", false
	}
	attribute = strings.ToLower(pattern[:open])
	arg = strings.TrimSpace(pattern[open+1 : len(pattern)-1])
	switch attribute {
	case "usergroup", "businessunit", "vendor":
		return attribute, arg, arg != ""
	}
	return "", "", false
}

var placeholderPattern = regexp.MustCompile(`\$[a-zA-Z0-9.]+`)

// SubstitutePlaceholders replaces "$a.b.c" placeholders in a notification
// configuration with values from the entity payload, producing the payload
// snapshot stored on the escalation record. Unresolvable placeholders are
// left in place.
func SubstitutePlaceholders(config json.RawMessage, payload map[string]interface{}) json.RawMessage {
	if len(config) == 0 {
		return nil
	}
	replaced := placeholderPattern.ReplaceAllStringFunc(string(config), func(match string) string {
		value, found := lookupFieldPath(payload, strings.TrimPrefix(match, "$"))
		if !found {
			return match
		}
		return stringify(value)
	})
	return json.RawMessage(replaced)
}

func scanEscalation(row rowScanner) (*db.Escalation, error) {
	var esc db.Escalation
	var firedAt sql.NullTime
	var mailTemplate sql.NullString
	var recipients, mailConfig []byte

	err := row.Scan(
		&esc.ID, &esc.HistoryID, &esc.LevelNumber, &esc.EscalationTime, &esc.BreachTime,
		&esc.EscalatePolicy, &esc.EscalateMinutes, &recipients, &esc.Fired, &firedAt,
		&mailTemplate, &mailConfig, &esc.SendEmail, &esc.SendPush, &esc.TimeZone,
		&esc.CreatedAt, &esc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if firedAt.Valid {
		esc.FiredAt = &firedAt.Time
	}
	esc.MailTemplate = mailTemplate.String
	esc.MailConfig = mailConfig
	if len(recipients) > 0 {
		_ = json.Unmarshal(recipients, &esc.Recipients)
	}
	return &esc, nil
}

// TopEscalated reports the templates with the most fired escalations.
func (s *EscalationService) TopEscalated(ctx context.Context, limit int) ([]map[string]interface{}, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.PG.QueryContext(ctx, `
		SELECT h.template_id, t.name, COUNT(*) AS fired_count
		FROM sla_escalations e
		JOIN sla_histories h ON h.id = e.history_id
		JOIN sla_templates t ON t.id = h.template_id
		WHERE e.fired = true
		GROUP BY h.template_id, t.name
		ORDER BY fired_count DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []map[string]interface{}
	for rows.Next() {
		var templateID, name string
		var count int
		if err := rows.Scan(&templateID, &name, &count); err != nil {
			return nil, err
		}
		results = append(results, map[string]interface{}{
			"template_id": templateID,
			"name":        name,
			"fired_count": count,
		})
	}
	return results, rows.Err()
}
