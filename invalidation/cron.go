package invalidation

import (
	"context"
	"time"

	"encore.dev/cron"
)

// auditRetention is how long invalidation audit rows are kept before
// CleanupAuditLog prunes them.
const auditRetention = 30 * 24 * time.Hour

var _ = cron.NewJob("invalidation-audit-cleanup", cron.JobConfig{
	Title:    "Invalidation Audit Log Cleanup",
	Schedule: "0 3 * * *", // 3 AM daily
	Endpoint: CleanupAuditLog,
})

// CleanupAuditLog prunes audit rows older than auditRetention. It is wired
// as a daily Encore cron job rather than invoked inline from HandleEvent,
// so a burst of invalidation traffic never pays for the cleanup scan.
//
//encore:api private
func CleanupAuditLog(ctx context.Context) error {
	if svc == nil {
		return nil
	}
	_, err := svc.auditLogger.Cleanup(ctx, auditRetention)
	return err
}
