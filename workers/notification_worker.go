package workers

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"time"

	"github.com/Vivekb0311/sla/services"
)

// NotificationWorker drains the escalation-notice queue and delivers each
// notice over its enabled channels.
type NotificationWorker struct {
	PG       *sql.DB
	Notifier *services.NotificationService
}

// PGMQMessage is one row returned by pgmq.read.
type PGMQMessage struct {
	MsgID      int64           `json:"msg_id"`
	ReadCT     int             `json:"read_ct"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	Message    json.RawMessage `json:"message"`
}

const (
	// visibility timeout handed to pgmq.read; a crashed delivery attempt
	// makes the message visible again after this many seconds
	queueVisibilityTimeout = 30
	queueReadBatch         = 10
	maxDeliveryAttempts    = 5
)

func NewNotificationWorker(pg *sql.DB, notifier *services.NotificationService) *NotificationWorker {
	return &NotificationWorker{PG: pg, Notifier: notifier}
}

// StartNotificationWorker polls the queue until the process exits.
func (w *NotificationWorker) StartNotificationWorker() {
	log.Println("[NOTIFY-WORKER] Notification worker started")

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		w.processQueue()
	}
}

func (w *NotificationWorker) processQueue() {
	ctx := context.Background()

	rows, err := w.PG.QueryContext(ctx,
		`SELECT msg_id, read_ct, enqueued_at, vt, message FROM pgmq.read($1, $2, $3)`,
		services.EscalationQueue, queueVisibilityTimeout, queueReadBatch)
	if err != nil {
		log.Printf("[NOTIFY-WORKER] Failed to read queue: %v", err)
		return
	}

	var messages []PGMQMessage
	for rows.Next() {
		var msg PGMQMessage
		var vt time.Time
		if err := rows.Scan(&msg.MsgID, &msg.ReadCT, &msg.EnqueuedAt, &vt, &msg.Message); err != nil {
			log.Printf("[NOTIFY-WORKER] Failed to scan queue message: %v", err)
			continue
		}
		messages = append(messages, msg)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		log.Printf("[NOTIFY-WORKER] Queue read error: %v", err)
		return
	}

	for _, msg := range messages {
		w.handleMessage(ctx, msg)
	}
}

func (w *NotificationWorker) handleMessage(ctx context.Context, msg PGMQMessage) {
	var notice services.EscalationNotice
	if err := json.Unmarshal(msg.Message, &notice); err != nil {
		log.Printf("[NOTIFY-WORKER] Dropping unparseable message %d: %v", msg.MsgID, err)
		w.deleteMessage(msg.MsgID)
		return
	}

	if err := w.Notifier.Deliver(ctx, &notice); err != nil {
		if msg.ReadCT >= maxDeliveryAttempts {
			log.Printf("[NOTIFY-WORKER] Giving up on message %d after %d attempts: %v", msg.MsgID, msg.ReadCT, err)
			w.deleteMessage(msg.MsgID)
			return
		}
		// leave the message for redelivery after the visibility timeout
		log.Printf("[NOTIFY-WORKER] Delivery of message %d failed (attempt %d): %v", msg.MsgID, msg.ReadCT, err)
		return
	}

	w.deleteMessage(msg.MsgID)
}

func (w *NotificationWorker) deleteMessage(msgID int64) {
	if _, err := w.PG.Exec(`SELECT pgmq.delete($1, $2::bigint)`, services.EscalationQueue, msgID); err != nil {
		log.Printf("[NOTIFY-WORKER] Failed to delete message %d: %v", msgID, err)
	}
}
