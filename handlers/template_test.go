package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Vivekb0311/sla/services"
)

var templateRowColumns = []string{
	"id", "name", "description", "application", "entity_type", "breach_minutes",
	"hours_mode", "window_start", "window_end", "exclude_weekends", "time_zone",
	"start_condition", "stop_condition", "cancel_condition", "hold_condition", "resume_condition", "reset_condition",
	"is_active", "created_at", "updated_at", "created_by",
}

var levelRowColumns = []string{
	"id", "template_id", "level_number", "escalate_minutes", "escalate_policy", "recipients",
	"mail_template_name", "mail_config", "send_email", "send_notification", "geography_aware", "created_at",
}

func templateRow(id string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(templateRowColumns).AddRow(
		id, "ack-within-hour", "acknowledge tickets", "helpdesk", "ticket", 60,
		"OPERATIONAL_HOURS", []byte(`{"hours":9,"minutes":0}`), []byte(`{"hours":17,"minutes":0}`), true, "UTC",
		[]byte(`{"field":"status","operator":"Is_Equals","value":"open"}`),
		[]byte(`{"field":"status","operator":"Is_Equals","value":"acknowledged"}`),
		nil, nil, nil, nil,
		true, now, now, "user-1",
	)
}

func newTemplateRouter(t *testing.T) (*gin.Engine, sqlmock.Sqlmock, func()) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	handler := NewTemplateHandler(services.NewSlaTemplateService(mockDB, nil))

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("user_id", "user-1")
		c.Set("user_email", "user-1@example.com")
	})
	r.GET("/templates", handler.ListTemplates)
	r.POST("/templates", handler.CreateTemplate)
	r.GET("/templates/:id", handler.GetTemplate)
	r.POST("/templates/:id/deactivate", handler.DeactivateTemplate)

	return r, mock, func() { mockDB.Close() }
}

func TestGetTemplate_Found(t *testing.T) {
	r, mock, closeFn := newTemplateRouter(t)
	defer closeFn()

	mock.ExpectQuery("FROM sla_templates WHERE id").
		WithArgs("tmpl-1").
		WillReturnRows(templateRow("tmpl-1"))
	mock.ExpectQuery("FROM sla_levels WHERE template_id").
		WithArgs("tmpl-1").
		WillReturnRows(sqlmock.NewRows(levelRowColumns).AddRow(
			"lvl-1", "tmpl-1", 1, 30, "BEFORE_BREACH", "$Owner",
			nil, nil, true, false, false, time.Now()))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/templates/tmpl-1", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"name":"ack-within-hour"`)
	assert.Contains(t, w.Body.String(), `"escalate_policy":"BEFORE_BREACH"`)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTemplate_NotFound(t *testing.T) {
	r, mock, closeFn := newTemplateRouter(t)
	defer closeFn()

	mock.ExpectQuery("FROM sla_templates WHERE id").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(templateRowColumns))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/templates/missing", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListTemplates_FilterByApplication(t *testing.T) {
	r, mock, closeFn := newTemplateRouter(t)
	defer closeFn()

	mock.ExpectQuery("FROM sla_templates WHERE application").
		WithArgs("helpdesk").
		WillReturnRows(templateRow("tmpl-1"))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/templates?application=helpdesk", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total":1`)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateTemplate_InvalidBody(t *testing.T) {
	r, mock, closeFn := newTemplateRouter(t)
	defer closeFn()

	// missing required fields: rejected before any query runs
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/templates", strings.NewReader(`{"name":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateTemplate_RejectsBadPolicy(t *testing.T) {
	r, mock, closeFn := newTemplateRouter(t)
	defer closeFn()

	body := `{
		"name": "ack-within-hour",
		"application": "helpdesk",
		"entity_type": "ticket",
		"breach_minutes": 60,
		"time_zone": "UTC",
		"start_condition": {"field":"status","operator":"Is_Equals","value":"open"},
		"stop_condition": {"field":"status","operator":"Is_Equals","value":"acknowledged"},
		"levels": [{"level_number":1,"escalate_policy":"SOMETIME","recipients":"$Owner"}]
	}`

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/templates", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "escalation policy")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeactivateTemplate(t *testing.T) {
	r, mock, closeFn := newTemplateRouter(t)
	defer closeFn()

	mock.ExpectQuery("FROM sla_templates WHERE id").
		WithArgs("tmpl-1").
		WillReturnRows(templateRow("tmpl-1"))
	mock.ExpectQuery("FROM sla_levels WHERE template_id").
		WillReturnRows(sqlmock.NewRows(levelRowColumns))
	mock.ExpectExec("UPDATE sla_templates SET is_active = false").
		WithArgs("tmpl-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/templates/tmpl-1/deactivate", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}
