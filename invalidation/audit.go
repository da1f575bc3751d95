package invalidation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"encore.dev/storage/sqldb"
)

// AuditLog records one applied invalidation event for compliance and
// debugging. Pattern holds the event type (e.g. "INVALIDATE_TENANT");
// Keys holds the tenant the event targeted.
type AuditLog struct {
	ID          int64     `json:"id"`
	Pattern     string    `json:"pattern"`
	Keys        []string  `json:"keys"`
	TriggeredBy string    `json:"triggered_by"`
	Timestamp   time.Time `json:"timestamp"`
	RequestID   string    `json:"request_id"`
	Latency     int64     `json:"latency"`
}

// AuditLogger persists the invalidation audit trail to Postgres: an
// append-only, indexed table, same shape the cache-manager teacher used
// for its own invalidation audit.
type AuditLogger struct {
	db *sqldb.Database
}

func NewAuditLogger(db *sqldb.Database) (*AuditLogger, error) {
	logger := &AuditLogger{db: db}
	if err := logger.ensureSchema(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to initialize audit schema: %w", err)
	}
	return logger, nil
}

func (al *AuditLogger) ensureSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS invalidation_audit (
			id BIGSERIAL PRIMARY KEY,
			pattern TEXT NOT NULL,
			keys JSONB,
			triggered_by TEXT NOT NULL,
			timestamp TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			request_id TEXT NOT NULL,
			latency_ms BIGINT DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_invalidation_audit_timestamp
		ON invalidation_audit(timestamp DESC);

		CREATE INDEX IF NOT EXISTS idx_invalidation_audit_pattern
		ON invalidation_audit(pattern);

		CREATE INDEX IF NOT EXISTS idx_invalidation_audit_triggered_by
		ON invalidation_audit(triggered_by);

		CREATE INDEX IF NOT EXISTS idx_invalidation_audit_request_id
		ON invalidation_audit(request_id);
	`
	_, err := al.db.Exec(ctx, query)
	return err
}

// Insert appends one audit row. request_id is indexed but not unique, so
// ON CONFLICT DO NOTHING has no constraint to act on: a redelivered event,
// which HandleEvent gives a fresh request ID, is recorded again.
func (al *AuditLogger) Insert(ctx context.Context, log AuditLog) error {
	keysJSON, err := json.Marshal(log.Keys)
	if err != nil {
		return fmt.Errorf("failed to marshal keys: %w", err)
	}

	query := `
		INSERT INTO invalidation_audit
		(pattern, keys, triggered_by, timestamp, request_id, latency_ms)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT DO NOTHING
	`
	_, err = al.db.Exec(ctx, query, log.Pattern, keysJSON, log.TriggeredBy, log.Timestamp, log.RequestID, log.Latency)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}
	return nil
}

func (al *AuditLogger) GetRecent(ctx context.Context, limit, offset int, patternFilter string) ([]AuditLog, error) {
	var query string
	var args []interface{}

	if patternFilter != "" {
		query = `
			SELECT id, pattern, keys, triggered_by, timestamp, request_id, latency_ms
			FROM invalidation_audit
			WHERE pattern LIKE $1
			ORDER BY timestamp DESC
			LIMIT $2 OFFSET $3
		`
		args = []interface{}{"%" + patternFilter + "%", limit, offset}
	} else {
		query = `
			SELECT id, pattern, keys, triggered_by, timestamp, request_id, latency_ms
			FROM invalidation_audit
			ORDER BY timestamp DESC
			LIMIT $1 OFFSET $2
		`
		args = []interface{}{limit, offset}
	}

	rows, err := al.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}
	defer rows.Close()

	logs := make([]AuditLog, 0, limit)
	for rows.Next() {
		var log AuditLog
		var keysJSON []byte
		if err := rows.Scan(&log.ID, &log.Pattern, &keysJSON, &log.TriggeredBy, &log.Timestamp, &log.RequestID, &log.Latency); err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		if len(keysJSON) > 0 {
			if err := json.Unmarshal(keysJSON, &log.Keys); err != nil {
				log.Keys = []string{}
			}
		}
		logs = append(logs, log)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit logs: %w", err)
	}
	return logs, nil
}

func (al *AuditLogger) GetCount(ctx context.Context, patternFilter string) (int, error) {
	var query string
	var args []interface{}
	var count int

	if patternFilter != "" {
		query = `SELECT COUNT(*) FROM invalidation_audit WHERE pattern LIKE $1`
		args = []interface{}{"%" + patternFilter + "%"}
	} else {
		query = `SELECT COUNT(*) FROM invalidation_audit`
	}

	if err := al.db.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count audit logs: %w", err)
	}
	return count, nil
}

func (al *AuditLogger) GetByRequestID(ctx context.Context, requestID string) ([]AuditLog, error) {
	query := `
		SELECT id, pattern, keys, triggered_by, timestamp, request_id, latency_ms
		FROM invalidation_audit
		WHERE request_id = $1
		ORDER BY timestamp DESC
	`
	rows, err := al.db.Query(ctx, query, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs by request ID: %w", err)
	}
	defer rows.Close()

	logs := make([]AuditLog, 0)
	for rows.Next() {
		var log AuditLog
		var keysJSON []byte
		if err := rows.Scan(&log.ID, &log.Pattern, &keysJSON, &log.TriggeredBy, &log.Timestamp, &log.RequestID, &log.Latency); err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		if len(keysJSON) > 0 {
			if err := json.Unmarshal(keysJSON, &log.Keys); err != nil {
				log.Keys = []string{}
			}
		}
		logs = append(logs, log)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit logs: %w", err)
	}
	return logs, nil
}

// Cleanup removes audit logs older than olderThan, run periodically to
// bound table growth.
func (al *AuditLogger) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	result, err := al.db.Exec(ctx, `DELETE FROM invalidation_audit WHERE timestamp < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup audit logs: %w", err)
	}
	return result.RowsAffected(), nil
}
