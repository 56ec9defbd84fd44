package workers

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"time"

	"github.com/Vivekb0311/sla/db"
	"github.com/Vivekb0311/sla/services"
)

// SlaWorker runs the two periodic sweeps: breach detection on running
// instances and firing of due escalation records. The sweeps are independent
// and may run concurrently; both lock their batch rows with
// FOR UPDATE SKIP LOCKED so instances are mutated by one sweep pass at a
// time.
type SlaWorker struct {
	PG       *sql.DB
	Notifier *services.NotificationService
	Interval time.Duration
}

func NewSlaWorker(pg *sql.DB, notifier *services.NotificationService, interval time.Duration) *SlaWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &SlaWorker{
		PG:       pg,
		Notifier: notifier,
		Interval: interval,
	}
}

const sweepBatchSize = 50

// StartBreachSweep runs SweepBreaches on the configured interval.
func (w *SlaWorker) StartBreachSweep() {
	log.Println("[SLA-WORKER] Breach sweep started")
	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	for range ticker.C {
		if err := w.SweepBreaches(); err != nil {
			log.Printf("[SLA-WORKER] Breach sweep failed: %v", err)
		}
	}
}

// StartEscalationSweep runs SweepEscalations on the configured interval.
func (w *SlaWorker) StartEscalationSweep() {
	log.Println("[SLA-WORKER] Escalation sweep started")
	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	for range ticker.C {
		if err := w.SweepEscalations(); err != nil {
			log.Printf("[SLA-WORKER] Escalation sweep failed: %v", err)
		}
	}
}

// SweepBreaches flags every in-progress instance whose breach deadline has
// passed. Breach is a flag, not a state: the instance stays IN_PROGRESS and
// keeps escalating.
func (w *SlaWorker) SweepBreaches() error {
	ctx := context.Background()

	tx, err := w.PG.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, sla_id, level
		FROM sla_histories
		WHERE state = $1 AND breach_status = false AND breach_time < NOW()
		ORDER BY breach_time
		LIMIT $2
		FOR UPDATE SKIP LOCKED`,
		db.StateInProgress, sweepBatchSize)
	if err != nil {
		return err
	}

	type breached struct {
		id    string
		slaID string
		level int
	}
	var batch []breached
	for rows.Next() {
		var b breached
		if err := rows.Scan(&b.id, &b.slaID, &b.level); err != nil {
			rows.Close()
			return err
		}
		batch = append(batch, b)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, b := range batch {
		_, err := tx.ExecContext(ctx, `
			UPDATE sla_histories
			SET breach_status = true, breached_at_level = $1, modified_by = $2, modified_at = NOW()
			WHERE id = $3`,
			b.level, db.SystemActorBreachSweep, b.id)
		if err != nil {
			log.Printf("[SLA-WORKER] Failed to mark %s breached: %v", b.slaID, err)
			continue
		}
		log.Printf("[SLA-WORKER] SLA %s breached at level %d", b.slaID, b.level)
	}

	return tx.Commit()
}

// SweepEscalations fires every unfired escalation record whose deadline has
// passed while its instance is still in progress. Firing marks the record,
// hands the notice to the notification queue and, when a next-level record
// exists and the instance has not moved past the fired level, advances the
// instance to that next level.
func (w *SlaWorker) SweepEscalations() error {
	ctx := context.Background()

	tx, err := w.PG.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT e.id, e.history_id, e.level_number, e.recipients, e.mail_template, e.mail_config,
		       e.send_email, e.send_push, h.sla_id, h.entity_id
		FROM sla_escalations e
		JOIN sla_histories h ON h.id = e.history_id
		WHERE e.fired = false AND e.escalation_time < NOW() AND h.state = $1
		ORDER BY e.escalation_time, e.level_number
		LIMIT $2
		FOR UPDATE OF e, h SKIP LOCKED`,
		db.StateInProgress, sweepBatchSize)
	if err != nil {
		return err
	}

	type due struct {
		id           string
		historyID    string
		level        int
		recipients   []byte
		mailTemplate sql.NullString
		mailConfig   []byte
		sendEmail    bool
		sendPush     bool
		slaID        string
		entityID     string
	}
	var batch []due
	for rows.Next() {
		var d due
		if err := rows.Scan(&d.id, &d.historyID, &d.level, &d.recipients, &d.mailTemplate, &d.mailConfig,
			&d.sendEmail, &d.sendPush, &d.slaID, &d.entityID); err != nil {
			rows.Close()
			return err
		}
		batch = append(batch, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, d := range batch {
		if err := w.fireEscalation(ctx, tx, d.id, d.historyID, d.level, d.slaID, d.entityID,
			d.recipients, d.mailTemplate.String, d.mailConfig, d.sendEmail, d.sendPush); err != nil {
			log.Printf("[SLA-WORKER] Failed to fire escalation %s (SLA %s level %d): %v", d.id, d.slaID, d.level, err)
			continue
		}
	}

	return tx.Commit()
}

func (w *SlaWorker) fireEscalation(ctx context.Context, tx *sql.Tx,
	escalationID, historyID string, level int, slaID, entityID string,
	recipientsJSON []byte, mailTemplate string, mailConfig []byte, sendEmail, sendPush bool) error {

	if _, err := tx.ExecContext(ctx, `
		UPDATE sla_escalations SET fired = true, fired_at = NOW(), updated_at = NOW() WHERE id = $1`,
		escalationID); err != nil {
		return err
	}
	log.Printf("[SLA-WORKER] SLA %s escalated at level %d", slaID, level)

	notice := &services.EscalationNotice{
		EscalationID: escalationID,
		HistoryID:    historyID,
		SlaID:        slaID,
		EntityID:     entityID,
		Level:        level,
		MailTemplate: mailTemplate,
		MailConfig:   mailConfig,
		SendEmail:    sendEmail,
		SendPush:     sendPush,
	}
	_ = unmarshalRecipients(recipientsJSON, &notice.Recipients)
	// best effort: an enqueue failure must not roll back the fired flag
	if err := w.Notifier.Enqueue(ctx, notice); err != nil {
		log.Printf("[SLA-WORKER] Failed to enqueue notice for escalation %s: %v", escalationID, err)
	}

	// Advance the instance to the next level, never skipping ahead of it. The
	// instance may already have advanced earlier in this same pass (equal
	// deadlines put consecutive levels in one batch), so the comparison uses
	// its current level, not the one the batch query captured.
	var histLevel int
	if err := tx.QueryRowContext(ctx,
		`SELECT level FROM sla_histories WHERE id = $1`, historyID).Scan(&histLevel); err != nil {
		return err
	}
	if histLevel != level {
		return nil
	}
	next := level + 1
	var nextID string
	var nextTime time.Time
	err := tx.QueryRowContext(ctx, `
		SELECT id, escalation_time FROM sla_escalations
		WHERE history_id = $1 AND level_number = $2`,
		historyID, next).Scan(&nextID, &nextTime)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE sla_histories
		SET level = $1, escalate_time = $2, modified_by = $3, modified_at = NOW()
		WHERE id = $4`,
		next, nextTime, db.SystemActorEscalationSweep, historyID)
	return err
}

func unmarshalRecipients(raw []byte, into *[]string) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, into)
}
