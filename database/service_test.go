package database

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jknair0/beforeeach"

	"signalement-service/models"
)

var (
	db   *sql.DB
	mock sqlmock.Sqlmock
)

func setUp() {
	db, mock, _ = sqlmock.New()
}

func tearDown() {
	db.Close()
}

var it = beforeeach.Create(setUp, tearDown)

func TestSaveSession(t *testing.T) {
	it(func() {
		service := NewService(db)

		mock.ExpectExec("INSERT INTO sessions").
			WithArgs(sessionRowID, "tok-1", "ref-1", "op@mairie.mg", "Operator", "MANAGER").
			WillReturnResult(sqlmock.NewResult(1, 1))

		err := service.SaveSession(context.Background(), "tok-1", "ref-1", models.User{
			Email: "op@mairie.mg",
			Name:  "Operator",
			Role:  "MANAGER",
		})
		if err != nil {
			t.Errorf("SaveSession failed: %v", err)
		}

		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
	})
}

func TestTokens(t *testing.T) {
	it(func() {
		service := NewService(db)

		mock.ExpectQuery("SELECT access_token, refresh_token FROM sessions").
			WithArgs(sessionRowID).
			WillReturnRows(sqlmock.NewRows([]string{"access_token", "refresh_token"}).
				AddRow("tok-1", "ref-1"))

		access, refresh, err := service.Tokens(context.Background())
		if err != nil {
			t.Fatalf("Tokens failed: %v", err)
		}
		if access != "tok-1" || refresh != "ref-1" {
			t.Errorf("unexpected tokens: %q %q", access, refresh)
		}
	})
}

func TestTokensNoSession(t *testing.T) {
	it(func() {
		service := NewService(db)

		mock.ExpectQuery("SELECT access_token, refresh_token FROM sessions").
			WithArgs(sessionRowID).
			WillReturnError(sql.ErrNoRows)

		_, _, err := service.Tokens(context.Background())
		if !errors.Is(err, ErrNoSession) {
			t.Errorf("expected ErrNoSession, got %v", err)
		}
	})
}

func TestSaveAccessTokenWithoutSession(t *testing.T) {
	it(func() {
		service := NewService(db)

		mock.ExpectExec("UPDATE sessions SET access_token").
			WithArgs("tok-2", sessionRowID).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := service.SaveAccessToken(context.Background(), "tok-2")
		if !errors.Is(err, ErrNoSession) {
			t.Errorf("expected ErrNoSession, got %v", err)
		}
	})
}

func TestClear(t *testing.T) {
	it(func() {
		service := NewService(db)

		mock.ExpectExec("DELETE FROM sessions").
			WithArgs(sessionRowID).
			WillReturnResult(sqlmock.NewResult(0, 1))

		if err := service.Clear(context.Background()); err != nil {
			t.Errorf("Clear failed: %v", err)
		}

		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
	})
}

func TestLogSync(t *testing.T) {
	it(func() {
		service := NewService(db)

		started := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
		finished := started.Add(3 * time.Second)

		mock.ExpectExec("INSERT INTO sync_audit").
			WithArgs("op@mairie.mg", 5, 12, int64(3000), true, "", started, finished).
			WillReturnResult(sqlmock.NewResult(1, 1))

		err := service.LogSync(context.Background(), "op@mairie.mg", models.SyncResult{
			UsersSynced:   5,
			ReportsSynced: 12,
			DurationMs:    3000,
			Success:       true,
			StartedAt:     started,
			FinishedAt:    finished,
		})
		if err != nil {
			t.Errorf("LogSync failed: %v", err)
		}

		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
	})
}

func TestSyncHistory(t *testing.T) {
	it(func() {
		service := NewService(db)

		started := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
		finished := started.Add(time.Second)

		mock.ExpectQuery("SELECT id, operator_email, users_synced").
			WithArgs(20).
			WillReturnRows(sqlmock.NewRows([]string{
				"id", "operator_email", "users_synced", "reports_synced",
				"duration_ms", "success", "message", "started_at", "finished_at",
			}).AddRow(3, "op@mairie.mg", 5, 12, 1000, true, "", started, finished))

		entries, err := service.SyncHistory(context.Background(), 20)
		if err != nil {
			t.Fatalf("SyncHistory failed: %v", err)
		}
		if len(entries) != 1 {
			t.Fatalf("expected 1 entry, got %d", len(entries))
		}
		if entries[0].ReportsSynced != 12 || !entries[0].Success {
			t.Errorf("unexpected entry: %+v", entries[0])
		}
	})
}
