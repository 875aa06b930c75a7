package database

import (
	"database/sql"

	"github.com/apex/log"
)

// InitSchema creates the local state tables. The service keeps only its own
// operational state here: the persisted session for the record store and the
// audit trail of reconciliation runs. Domain data lives in the two external
// stores.
func InitSchema(db *sql.DB) error {
	schemas := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id INT NOT NULL PRIMARY KEY,
			access_token TEXT NOT NULL,
			refresh_token TEXT NOT NULL,
			user_email VARCHAR(255) NOT NULL DEFAULT '',
			user_name VARCHAR(255) NOT NULL DEFAULT '',
			user_role VARCHAR(64) NOT NULL DEFAULT '',
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS sync_audit (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			operator_email VARCHAR(255) NOT NULL DEFAULT '',
			users_synced INT NOT NULL DEFAULT 0,
			reports_synced INT NOT NULL DEFAULT 0,
			duration_ms BIGINT NOT NULL DEFAULT 0,
			success BOOLEAN NOT NULL DEFAULT FALSE,
			message TEXT,
			started_at DATETIME NOT NULL,
			finished_at DATETIME NOT NULL,
			INDEX idx_sync_audit_started (started_at)
		)`,
	}

	for _, schema := range schemas {
		if _, err := db.Exec(schema); err != nil {
			return err
		}
	}

	log.Info("Database schema initialized")
	return nil
}
