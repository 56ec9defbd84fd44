package workers

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Vivekb0311/sla/db"
	"github.com/Vivekb0311/sla/services"
)

func newTestWorker(t *testing.T) (*SlaWorker, sqlmock.Sqlmock, func()) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	notifier := services.NewNotificationService(mockDB)
	worker := NewSlaWorker(mockDB, notifier, time.Minute)
	return worker, mock, func() { mockDB.Close() }
}

var dueColumns = []string{
	"id", "history_id", "level_number", "recipients", "mail_template", "mail_config",
	"send_email", "send_push", "sla_id", "entity_id",
}

func instanceLevelRows(level int) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"level"}).AddRow(level)
}

func TestSweepBreaches_MarksOverdueInstances(t *testing.T) {
	worker, mock, closeFn := newTestWorker(t)
	defer closeFn()

	mock.ExpectBegin()
	mock.ExpectQuery("FROM sla_histories").
		WithArgs(db.StateInProgress, sweepBatchSize).
		WillReturnRows(sqlmock.NewRows([]string{"id", "sla_id", "level"}).
			AddRow("hist-1", "SLA-aaaa1111", 1).
			AddRow("hist-2", "SLA-bbbb2222", 3))
	mock.ExpectExec("UPDATE sla_histories").
		WithArgs(1, db.SystemActorBreachSweep, "hist-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE sla_histories").
		WithArgs(3, db.SystemActorBreachSweep, "hist-2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, worker.SweepBreaches())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSweepBreaches_EmptyBatch(t *testing.T) {
	worker, mock, closeFn := newTestWorker(t)
	defer closeFn()

	mock.ExpectBegin()
	mock.ExpectQuery("FROM sla_histories").
		WillReturnRows(sqlmock.NewRows([]string{"id", "sla_id", "level"}))
	mock.ExpectCommit()

	require.NoError(t, worker.SweepBreaches())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSweepEscalations_FiresAndAdvancesLevel(t *testing.T) {
	worker, mock, closeFn := newTestWorker(t)
	defer closeFn()

	nextDeadline := time.Now().Add(time.Hour)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM sla_escalations e").
		WithArgs(db.StateInProgress, sweepBatchSize).
		WillReturnRows(sqlmock.NewRows(dueColumns).AddRow(
			"esc-1", "hist-1", 1, []byte(`["ops@example.com"]`), "breach-mail", nil,
			true, false, "SLA-aaaa1111", "ENT-1"))
	mock.ExpectExec("UPDATE sla_escalations SET fired = true").
		WithArgs("esc-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("pgmq.send").
		WillReturnRows(sqlmock.NewRows([]string{"send"}).AddRow(int64(7)))
	mock.ExpectQuery("SELECT level FROM sla_histories").
		WithArgs("hist-1").
		WillReturnRows(instanceLevelRows(1))
	// a level-2 record exists, so the instance advances to it
	mock.ExpectQuery("SELECT id, escalation_time FROM sla_escalations").
		WithArgs("hist-1", 2).
		WillReturnRows(sqlmock.NewRows([]string{"id", "escalation_time"}).AddRow("esc-2", nextDeadline))
	mock.ExpectExec("UPDATE sla_histories").
		WithArgs(2, nextDeadline, db.SystemActorEscalationSweep, "hist-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, worker.SweepEscalations())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSweepEscalations_TopLevelDoesNotAdvance(t *testing.T) {
	worker, mock, closeFn := newTestWorker(t)
	defer closeFn()

	mock.ExpectBegin()
	mock.ExpectQuery("FROM sla_escalations e").
		WillReturnRows(sqlmock.NewRows(dueColumns).AddRow(
			"esc-3", "hist-1", 3, []byte(`["ops@example.com"]`), nil, nil,
			true, false, "SLA-aaaa1111", "ENT-1"))
	mock.ExpectExec("UPDATE sla_escalations SET fired = true").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("pgmq.send").
		WillReturnRows(sqlmock.NewRows([]string{"send"}).AddRow(int64(8)))
	mock.ExpectQuery("SELECT level FROM sla_histories").
		WithArgs("hist-1").
		WillReturnRows(instanceLevelRows(3))
	// no level-4 record: the instance stays at its level
	mock.ExpectQuery("SELECT id, escalation_time FROM sla_escalations").
		WithArgs("hist-1", 4).
		WillReturnRows(sqlmock.NewRows([]string{"id", "escalation_time"}))
	mock.ExpectCommit()

	require.NoError(t, worker.SweepEscalations())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSweepEscalations_LateLowerLevelDoesNotRegress(t *testing.T) {
	worker, mock, closeFn := newTestWorker(t)
	defer closeFn()

	// the instance is already past the fired record's level, so firing only
	// marks the record
	mock.ExpectBegin()
	mock.ExpectQuery("FROM sla_escalations e").
		WillReturnRows(sqlmock.NewRows(dueColumns).AddRow(
			"esc-1", "hist-1", 1, []byte(`["ops@example.com"]`), nil, nil,
			true, false, "SLA-aaaa1111", "ENT-1"))
	mock.ExpectExec("UPDATE sla_escalations SET fired = true").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("pgmq.send").
		WillReturnRows(sqlmock.NewRows([]string{"send"}).AddRow(int64(9)))
	mock.ExpectQuery("SELECT level FROM sla_histories").
		WithArgs("hist-1").
		WillReturnRows(instanceLevelRows(2))
	mock.ExpectCommit()

	require.NoError(t, worker.SweepEscalations())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSweepEscalations_EqualDeadlinesAdvanceThroughBatch(t *testing.T) {
	worker, mock, closeFn := newTestWorker(t)
	defer closeFn()

	// AS_SOON_AS_LEVEL_1 gives level 2 the same deadline as level 1, so both
	// records of one instance arrive in the same batch. The second fire must
	// see the level the first fire advanced to, not the level the batch query
	// captured, and keep the chain moving.
	level2Deadline := time.Now().Add(-time.Minute)
	level3Deadline := time.Now().Add(time.Hour)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM sla_escalations e").
		WillReturnRows(sqlmock.NewRows(dueColumns).
			AddRow("esc-1", "hist-1", 1, []byte(`["ops@example.com"]`), nil, nil,
				true, false, "SLA-aaaa1111", "ENT-1").
			AddRow("esc-2", "hist-1", 2, []byte(`["lead@example.com"]`), nil, nil,
				true, false, "SLA-aaaa1111", "ENT-1"))

	mock.ExpectExec("UPDATE sla_escalations SET fired = true").
		WithArgs("esc-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("pgmq.send").
		WillReturnRows(sqlmock.NewRows([]string{"send"}).AddRow(int64(10)))
	mock.ExpectQuery("SELECT level FROM sla_histories").
		WithArgs("hist-1").
		WillReturnRows(instanceLevelRows(1))
	mock.ExpectQuery("SELECT id, escalation_time FROM sla_escalations").
		WithArgs("hist-1", 2).
		WillReturnRows(sqlmock.NewRows([]string{"id", "escalation_time"}).AddRow("esc-2", level2Deadline))
	mock.ExpectExec("UPDATE sla_histories").
		WithArgs(2, level2Deadline, db.SystemActorEscalationSweep, "hist-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectExec("UPDATE sla_escalations SET fired = true").
		WithArgs("esc-2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("pgmq.send").
		WillReturnRows(sqlmock.NewRows([]string{"send"}).AddRow(int64(11)))
	mock.ExpectQuery("SELECT level FROM sla_histories").
		WithArgs("hist-1").
		WillReturnRows(instanceLevelRows(2))
	mock.ExpectQuery("SELECT id, escalation_time FROM sla_escalations").
		WithArgs("hist-1", 3).
		WillReturnRows(sqlmock.NewRows([]string{"id", "escalation_time"}).AddRow("esc-3", level3Deadline))
	mock.ExpectExec("UPDATE sla_histories").
		WithArgs(3, level3Deadline, db.SystemActorEscalationSweep, "hist-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, worker.SweepEscalations())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSweepEscalations_EnqueueFailureStillAdvances(t *testing.T) {
	worker, mock, closeFn := newTestWorker(t)
	defer closeFn()

	nextDeadline := time.Now().Add(time.Hour)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM sla_escalations e").
		WillReturnRows(sqlmock.NewRows(dueColumns).AddRow(
			"esc-1", "hist-1", 1, []byte(`["ops@example.com"]`), nil, nil,
			true, false, "SLA-aaaa1111", "ENT-1"))
	mock.ExpectExec("UPDATE sla_escalations SET fired = true").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("pgmq.send").
		WillReturnError(assert.AnError)
	mock.ExpectQuery("SELECT level FROM sla_histories").
		WillReturnRows(instanceLevelRows(1))
	mock.ExpectQuery("SELECT id, escalation_time FROM sla_escalations").
		WillReturnRows(sqlmock.NewRows([]string{"id", "escalation_time"}).AddRow("esc-2", nextDeadline))
	mock.ExpectExec("UPDATE sla_histories").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, worker.SweepEscalations())
	assert.NoError(t, mock.ExpectationsWereMet())
}
