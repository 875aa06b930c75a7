package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a report. The replica store has been
// written to by several generations of mobile clients, so raw values arrive
// in mixed casing and sometimes as the legacy French codes; NormalizeStatus
// folds all of them into this enumeration.
type Status string

const (
	StatusNew        Status = "NEW"
	StatusPlanned    Status = "PLANNED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusDone       Status = "DONE"
)

// legacy status codes still present in old replica records
var legacyStatuses = map[string]Status{
	"NOUVEAU":  StatusNew,
	"PLANIFIE": StatusPlanned,
	"EN_COURS": StatusInProgress,
	"TERMINE":  StatusDone,
}

// NormalizeStatus maps a raw store value onto the canonical enumeration.
// Unrecognized values are returned upper-cased as-is so they stay visible
// instead of being silently dropped.
func NormalizeStatus(raw string) Status {
	upper := strings.ToUpper(strings.TrimSpace(raw))
	if legacy, ok := legacyStatuses[upper]; ok {
		return legacy
	}
	return Status(upper)
}

// Progress returns the display completion percentage for a status. The
// second return value is false for any status outside the fixed table.
func (s Status) Progress() (int, bool) {
	switch s {
	case StatusNew:
		return 0, true
	case StatusInProgress:
		return 50, true
	case StatusDone:
		return 100, true
	}
	return 0, false
}

// Report is the canonical signalement shape presented to all callers.
// The numeric ID is minted by the system of record; ReplicaKey is the
// generated key of the corresponding child in the replica tree. Either may
// be unset when the record has only ever touched one store.
type Report struct {
	ID         int64  `json:"id"`
	ReplicaKey string `json:"replica_key,omitempty"`
	// ClientRef is a client-generated marker attached at creation time so a
	// retried write after a false-negative failure is detectable downstream.
	ClientRef string `json:"client_ref,omitempty"`

	Location    string  `json:"location"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Description string  `json:"description"`

	Status Status `json:"status"`

	Surface         float64         `json:"surface"`
	BudgetEstimated decimal.Decimal `json:"budget_estimated"`
	BudgetActual    decimal.Decimal `json:"budget_actual"`
	Company         string          `json:"company,omitempty"`

	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`

	// Stage timestamps; once set they never move backward.
	InProgressAt *time.Time `json:"in_progress_at,omitempty"`
	DoneAt       *time.Time `json:"done_at,omitempty"`

	Photos []string `json:"photos"`
}

// CreateReportRequest is the citizen-facing creation payload.
type CreateReportRequest struct {
	Location string `json:"location" binding:"required,max=512"`
	// Pointers so the equator and the prime meridian survive the
	// required check.
	Latitude        *float64        `json:"latitude" binding:"required,min=-90,max=90"`
	Longitude       *float64        `json:"longitude" binding:"required,min=-180,max=180"`
	Description     string          `json:"description" binding:"max=2048"`
	Surface         float64         `json:"surface" binding:"omitempty,min=0"`
	BudgetEstimated decimal.Decimal `json:"budget_estimated"`
	Photos          []string        `json:"photos"`
}

// UpdateReportRequest carries the operator-editable fields. Nil means
// "leave unchanged".
type UpdateReportRequest struct {
	Description     *string          `json:"description,omitempty"`
	Status          *Status          `json:"status,omitempty"`
	Surface         *float64         `json:"surface,omitempty"`
	BudgetEstimated *decimal.Decimal `json:"budget_estimated,omitempty"`
	BudgetActual    *decimal.Decimal `json:"budget_actual,omitempty"`
	Company         *string          `json:"company,omitempty"`
}

// User is an account known to the system of record, mirrored best-effort
// into the replica store.
type User struct {
	ID              int64      `json:"id"`
	ReplicaKey      string     `json:"replica_key,omitempty"`
	Email           string     `json:"email"`
	Name            string     `json:"name"`
	Role            string     `json:"role"`
	Blocked         bool       `json:"blocked"`
	SyncedToReplica bool       `json:"synced_to_replica"`
	CreatedAt       time.Time  `json:"created_at"`
	LastLoginAt     *time.Time `json:"last_login_at,omitempty"`
}

// Company is an entry of the contractor price table, owned entirely by the
// system of record.
type Company struct {
	ID              int64           `json:"id"`
	Name            string          `json:"name"`
	PricePerSquareM decimal.Decimal `json:"price_per_square_m"`
}

// HistoryEntry is one status transition of a report.
type HistoryEntry struct {
	Status    Status    `json:"status"`
	ChangedAt time.Time `json:"changed_at"`
	ChangedBy string    `json:"changed_by,omitempty"`
	Comment   string    `json:"comment,omitempty"`
}

// Statistics is the aggregate summary shown on the console dashboard.
type Statistics struct {
	Total           int             `json:"total"`
	New             int             `json:"new"`
	Planned         int             `json:"planned"`
	InProgress      int             `json:"in_progress"`
	Done            int             `json:"done"`
	TotalSurface    float64         `json:"total_surface"`
	TotalBudget     decimal.Decimal `json:"total_budget"`
	ProgressPercent int             `json:"progress_percent"`
}

// SyncResult reports the outcome of one manual reconciliation run.
type SyncResult struct {
	UsersSynced   int       `json:"users_synced"`
	ReportsSynced int       `json:"reports_synced"`
	DurationMs    int64     `json:"duration_ms"`
	Success       bool      `json:"success"`
	Message       string    `json:"message,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
}

// SyncStatus is the current reconciliation state polled by the console.
type SyncStatus struct {
	Syncing bool        `json:"syncing"`
	Online  bool        `json:"online"`
	LastRun *SyncResult `json:"last_run,omitempty"`
}

// SyncAuditEntry is a persisted record of a reconciliation run.
type SyncAuditEntry struct {
	ID            int64     `json:"id"`
	Operator      string    `json:"operator"`
	UsersSynced   int       `json:"users_synced"`
	ReportsSynced int       `json:"reports_synced"`
	DurationMs    int64     `json:"duration_ms"`
	Success       bool      `json:"success"`
	Message       string    `json:"message,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
}

// LoginRequest is the operator console login payload, proxied to the system
// of record.
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// TokenResponse is returned by login.
type TokenResponse struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int    `json:"expires_in,omitempty"`
	User         *User  `json:"user,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error string `json:"error"`
}
