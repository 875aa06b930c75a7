package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"signalement-service/models"
)

// ErrNoSession means no session has been persisted since the last logout or
// auth failure.
var ErrNoSession = errors.New("no persisted session")

// the sessions table holds at most one row: the current operator session
const sessionRowID = 1

// Service persists local service state in MySQL.
type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// SaveSession stores the current bearer token, refresh token and last-known
// user profile, replacing any previous session.
func (s *Service) SaveSession(ctx context.Context, access, refresh string, user models.User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, access_token, refresh_token, user_email, user_name, user_role)
		VALUES (?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			access_token = VALUES(access_token),
			refresh_token = VALUES(refresh_token),
			user_email = VALUES(user_email),
			user_name = VALUES(user_name),
			user_role = VALUES(user_role)
	`, sessionRowID, access, refresh, user.Email, user.Name, user.Role)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// SaveAccessToken replaces only the access token after a silent refresh.
func (s *Service) SaveAccessToken(ctx context.Context, access string) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE sessions SET access_token = ? WHERE id = ?", access, sessionRowID)
	if err != nil {
		return fmt.Errorf("failed to update access token: %w", err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return ErrNoSession
	}
	return nil
}

// Tokens returns the persisted bearer and refresh tokens.
func (s *Service) Tokens(ctx context.Context) (string, string, error) {
	var access, refresh string
	err := s.db.QueryRowContext(ctx,
		"SELECT access_token, refresh_token FROM sessions WHERE id = ?", sessionRowID).
		Scan(&access, &refresh)
	if err == sql.ErrNoRows {
		return "", "", ErrNoSession
	}
	if err != nil {
		return "", "", fmt.Errorf("failed to read session: %w", err)
	}
	return access, refresh, nil
}

// Profile returns the last-known user profile of the persisted session.
func (s *Service) Profile(ctx context.Context) (*models.User, error) {
	var user models.User
	err := s.db.QueryRowContext(ctx,
		"SELECT user_email, user_name, user_role FROM sessions WHERE id = ?", sessionRowID).
		Scan(&user.Email, &user.Name, &user.Role)
	if err == sql.ErrNoRows {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read profile: %w", err)
	}
	return &user, nil
}

// Clear wipes all persisted session state. Called on logout and on
// unrecoverable authentication failure.
func (s *Service) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", sessionRowID); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}

// LogSync appends one reconciliation run to the audit trail.
func (s *Service) LogSync(ctx context.Context, operator string, result models.SyncResult) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_audit
			(operator_email, users_synced, reports_synced, duration_ms, success, message, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, operator, result.UsersSynced, result.ReportsSynced, result.DurationMs,
		result.Success, result.Message, result.StartedAt, result.FinishedAt)
	if err != nil {
		return fmt.Errorf("failed to log sync run: %w", err)
	}
	return nil
}

// SyncHistory returns the most recent reconciliation runs, newest first.
func (s *Service) SyncHistory(ctx context.Context, limit int) ([]models.SyncAuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, operator_email, users_synced, reports_synced, duration_ms, success,
			COALESCE(message, ''), started_at, finished_at
		FROM sync_audit
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync history: %w", err)
	}
	defer rows.Close()

	var entries []models.SyncAuditEntry
	for rows.Next() {
		var e models.SyncAuditEntry
		if err := rows.Scan(&e.ID, &e.Operator, &e.UsersSynced, &e.ReportsSynced,
			&e.DurationMs, &e.Success, &e.Message, &e.StartedAt, &e.FinishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan sync audit row: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
