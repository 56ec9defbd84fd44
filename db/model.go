package db

import (
	"encoding/json"
	"time"
)

// ===========================
// SLA TEMPLATE MODELS
// ===========================

// Hours-mode values for a template's shift arithmetic.
const (
	HoursModeCalendar    = "CALENDAR_HOURS"
	HoursModeOperational = "OPERATIONAL_HOURS"
)

// Lifecycle states of a running SLA instance. NEW is implicit (no record).
const (
	StateInProgress = "IN_PROGRESS"
	StateOnHold     = "ON_HOLD"
	StateCompleted  = "COMPLETED"
	StateCancelled  = "CANCELLED"
)

// Escalation deadline policies. The level-referencing forms carry the level
// number as a suffix, e.g. AFTER_LEVEL_1, AS_SOON_AS_LEVEL_2.
const (
	PolicyOnTime            = "ON_TIME"
	PolicyBeforeBreach      = "BEFORE_BREACH"
	PolicyAfterBreach       = "AFTER_BREACH"
	PolicyAsSoonAsLevelPref = "AS_SOON_AS_LEVEL_"
	PolicyAfterLevelPref    = "AFTER_LEVEL_"
	PolicyBeforeLevelPref   = "BEFORE_LEVEL_"
)

// TimeOfDay is one edge of the daily business window.
type TimeOfDay struct {
	Hours   int `json:"hours"`
	Minutes int `json:"minutes"`
}

// SlaTemplate is the declarative definition of an obligation for one
// (application, entity-type) pair. Condition trees are stored as raw JSON so
// a malformed leaf degrades at evaluation time instead of breaking a scan.
type SlaTemplate struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Description     string          `json:"description,omitempty"`
	Application     string          `json:"application"`
	EntityType      string          `json:"entity_type"`
	BreachMinutes   int             `json:"breach_minutes"`
	HoursMode       string          `json:"hours_mode"` // CALENDAR_HOURS | OPERATIONAL_HOURS
	WindowStart     TimeOfDay       `json:"window_start"`
	WindowEnd       TimeOfDay       `json:"window_end"`
	ExcludeWeekends bool            `json:"exclude_weekends"`
	TimeZone        string          `json:"time_zone"` // IANA zone id
	StartCondition  json.RawMessage `json:"start_condition"`
	StopCondition   json.RawMessage `json:"stop_condition"`
	CancelCondition json.RawMessage `json:"cancel_condition,omitempty"`
	HoldCondition   json.RawMessage `json:"hold_condition,omitempty"`
	ResumeCondition json.RawMessage `json:"resume_condition,omitempty"`
	ResetCondition  json.RawMessage `json:"reset_condition,omitempty"`
	IsActive        bool            `json:"is_active"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	CreatedBy       string          `json:"created_by,omitempty"`

	// Populated via a second query when needed
	Levels []SlaLevel `json:"levels,omitempty"`
}

// SlaLevel is one escalation severity tier of a template, ordered by
// LevelNumber starting at 1.
type SlaLevel struct {
	ID               string          `json:"id"`
	TemplateID       string          `json:"template_id"`
	LevelNumber      int             `json:"level_number"`
	EscalateMinutes  int             `json:"escalate_minutes"`
	EscalatePolicy   string          `json:"escalate_policy"`
	Recipients       string          `json:"recipients"` // recipient-resolution expression
	MailTemplateName string          `json:"mail_template_name,omitempty"`
	MailConfig       json.RawMessage `json:"mail_config,omitempty"`
	SendEmail        bool            `json:"send_email"`
	SendNotification bool            `json:"send_notification"`
	GeographyAware   bool            `json:"geography_aware"`
	CreatedAt        time.Time       `json:"created_at"`
}

// ===========================
// RUNNING INSTANCE MODELS
// ===========================

// SlaHistory is the running instance of a template for one entity. Condition
// trees and window settings are value-copied from the template at creation so
// later template edits do not change in-flight obligations.
type SlaHistory struct {
	ID              string          `json:"id"`
	SlaID           string          `json:"sla_id"` // business key, SLA-<uuid>
	TemplateID      string          `json:"template_id"`
	Application     string          `json:"application"`
	EntityType      string          `json:"entity_type"`
	EntityID        string          `json:"entity_id"`
	State           string          `json:"state"`
	Level           int             `json:"level"`
	BreachMinutes   int             `json:"breach_minutes"`
	BreachTime      time.Time       `json:"breach_time"`
	EscalateTime    *time.Time      `json:"escalate_time,omitempty"`
	BreachStatus    bool            `json:"breach_status"`
	BreachedAtLevel int             `json:"breached_at_level,omitempty"`
	HoursMode       string          `json:"hours_mode"`
	WindowStart     TimeOfDay       `json:"window_start"`
	WindowEnd       TimeOfDay       `json:"window_end"`
	ExcludeWeekends bool            `json:"exclude_weekends"`
	TimeZone        string          `json:"time_zone"`
	StopCondition   json.RawMessage `json:"stop_condition,omitempty"`
	CancelCondition json.RawMessage `json:"cancel_condition,omitempty"`
	HoldCondition   json.RawMessage `json:"hold_condition,omitempty"`
	ResumeCondition json.RawMessage `json:"resume_condition,omitempty"`
	ResetCondition  json.RawMessage `json:"reset_condition,omitempty"`
	LastTrace       string          `json:"last_trace,omitempty"`
	Owner           string          `json:"owner,omitempty"`
	CreatedBy       string          `json:"created_by,omitempty"`
	ModifiedBy      string          `json:"modified_by,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	ModifiedAt      time.Time       `json:"modified_at"`
}

// Escalation is the scheduled (and eventually fired) notice for one level of
// one running instance.
type Escalation struct {
	ID              string          `json:"id"`
	HistoryID       string          `json:"history_id"`
	LevelNumber     int             `json:"level_number"`
	EscalationTime  time.Time       `json:"escalation_time"`
	BreachTime      time.Time       `json:"breach_time"`
	EscalatePolicy  string          `json:"escalate_policy"`
	EscalateMinutes int             `json:"escalate_minutes"`
	Recipients      []string        `json:"recipients"`
	Fired           bool            `json:"fired"`
	FiredAt         *time.Time      `json:"fired_at,omitempty"`
	MailTemplate    string          `json:"mail_template,omitempty"`
	MailConfig      json.RawMessage `json:"mail_config,omitempty"`
	SendEmail       bool            `json:"send_email"`
	SendPush        bool            `json:"send_push"`
	TimeZone        string          `json:"time_zone"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// ===========================
// DIRECTORY / AUTH MODELS
// ===========================

// DirectoryUser is a row of the user directory consulted during recipient
// resolution.
type DirectoryUser struct {
	ID           string    `json:"id"`
	UserName     string    `json:"user_name"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	Manager      string    `json:"manager,omitempty"` // user_name of reporting manager
	BusinessUnit string    `json:"business_unit,omitempty"`
	UserGroup    string    `json:"user_group,omitempty"`
	Vendor       string    `json:"vendor,omitempty"`
	Geography    string    `json:"geography,omitempty"`
	FCMToken     string    `json:"fcm_token,omitempty"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
}

// APIKey is a bcrypt-hashed machine credential accepted by the auth
// middleware as an alternative to a user JWT.
type APIKey struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	KeyHash    string     `json:"-"`
	CreatedBy  string     `json:"created_by"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	IsActive   bool       `json:"is_active"`
	CreatedAt  time.Time  `json:"created_at"`
}

// ===========================
// REQUEST / RESPONSE MODELS
// ===========================

type CreateTemplateRequest struct {
	Name            string          `json:"name" binding:"required"`
	Description     string          `json:"description"`
	Application     string          `json:"application" binding:"required"`
	EntityType      string          `json:"entity_type" binding:"required"`
	BreachMinutes   int             `json:"breach_minutes" binding:"required,min=1"`
	HoursMode       string          `json:"hours_mode"`
	WindowStart     TimeOfDay       `json:"window_start"`
	WindowEnd       TimeOfDay       `json:"window_end"`
	ExcludeWeekends bool            `json:"exclude_weekends"`
	TimeZone        string          `json:"time_zone" binding:"required"`
	StartCondition  json.RawMessage `json:"start_condition" binding:"required"`
	StopCondition   json.RawMessage `json:"stop_condition" binding:"required"`
	CancelCondition json.RawMessage `json:"cancel_condition"`
	HoldCondition   json.RawMessage `json:"hold_condition"`
	ResumeCondition json.RawMessage `json:"resume_condition"`
	ResetCondition  json.RawMessage `json:"reset_condition"`
	Levels          []LevelRequest  `json:"levels" binding:"required,min=1,dive"`
}

type LevelRequest struct {
	LevelNumber      int             `json:"level_number" binding:"required,min=1"`
	EscalateMinutes  int             `json:"escalate_minutes" binding:"min=0"`
	EscalatePolicy   string          `json:"escalate_policy" binding:"required"`
	Recipients       string          `json:"recipients" binding:"required"`
	MailTemplateName string          `json:"mail_template_name"`
	MailConfig       json.RawMessage `json:"mail_config"`
	SendEmail        bool            `json:"send_email"`
	SendNotification bool            `json:"send_notification"`
	GeographyAware   bool            `json:"geography_aware"`
}

type UpdateTemplateRequest struct {
	Name            *string         `json:"name,omitempty"`
	Description     *string         `json:"description,omitempty"`
	BreachMinutes   *int            `json:"breach_minutes,omitempty"`
	HoursMode       *string         `json:"hours_mode,omitempty"`
	WindowStart     *TimeOfDay      `json:"window_start,omitempty"`
	WindowEnd       *TimeOfDay      `json:"window_end,omitempty"`
	ExcludeWeekends *bool           `json:"exclude_weekends,omitempty"`
	TimeZone        *string         `json:"time_zone,omitempty"`
	StartCondition  json.RawMessage `json:"start_condition,omitempty"`
	StopCondition   json.RawMessage `json:"stop_condition,omitempty"`
	CancelCondition json.RawMessage `json:"cancel_condition,omitempty"`
	HoldCondition   json.RawMessage `json:"hold_condition,omitempty"`
	ResumeCondition json.RawMessage `json:"resume_condition,omitempty"`
	ResetCondition  json.RawMessage `json:"reset_condition,omitempty"`
	Levels          []LevelRequest  `json:"levels,omitempty"`
}

// TriggerEventRequest is the sole inbound call that drives the lifecycle
// state machine.
type TriggerEventRequest struct {
	Application string                 `json:"application" binding:"required"`
	EntityType  string                 `json:"entity_type" binding:"required"`
	EntityID    string                 `json:"entity_id" binding:"required"`
	Payload     map[string]interface{} `json:"payload" binding:"required"`
}

type CreateAPIKeyRequest struct {
	Name string `json:"name" binding:"required"`
}
