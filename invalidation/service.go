// Package invalidation implements C6: the event listener that subscribes
// to the invalidation channel, decodes the four event types, and drives
// the cache service to purge matching records.
package invalidation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"encore.dev/pubsub"
	"encore.dev/storage/sqldb"

	"scedge.app/cache"
	"scedge.app/pkg/middleware"
	"scedge.app/pkg/models"
)

//encore:service
type Service struct {
	auditLogger AuditLoggerInterface
	metrics     *Metrics
	lifecycle   *lifecycle
}

// AuditLoggerInterface lets tests substitute an in-memory logger.
type AuditLoggerInterface interface {
	Insert(ctx context.Context, log AuditLog) error
	GetRecent(ctx context.Context, limit, offset int, patternFilter string) ([]AuditLog, error)
	GetCount(ctx context.Context, patternFilter string) (int, error)
	GetByRequestID(ctx context.Context, requestID string) ([]AuditLog, error)
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Metrics tracks event-handling outcomes.
type Metrics struct {
	EventsReceived atomic.Int64
	EventsApplied  atomic.Int64
	EventsSkipped  atomic.Int64
	RecordsPurged  atomic.Int64
}

var db = sqldb.Named("invalidation_db")

func initService() (*Service, error) {
	auditLogger, err := NewAuditLogger(db)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audit logger: %w", err)
	}

	s := &Service{
		auditLogger: auditLogger,
		metrics:     &Metrics{},
		lifecycle:   newLifecycle(),
	}
	s.lifecycle.markSubscribed()
	return s, nil
}

var svc *Service

func init() {
	var err error
	svc, err = initService()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize invalidation service: %v", err))
	}
}

// InvalidationTopic is the single named channel described in §6.3.
var InvalidationTopic = pubsub.NewTopic[*models.InvalidationEvent](
	"scedge-invalidate",
	pubsub.TopicConfig{
		DeliveryGuarantee: pubsub.AtLeastOnce,
	},
)

var _ = pubsub.NewSubscription(
	InvalidationTopic,
	"scedge-invalidate-listener",
	pubsub.SubscriptionConfig[*models.InvalidationEvent]{
		Handler: HandleEvent,
	},
)

// HandleEvent is the subscription's dispatch entry point. It never
// returns an error to the bus for a malformed or unknown event -- those
// are logged and skipped per §4.6 -- only genuine purge failures (backend
// transport errors) propagate, so the bus can redeliver.
func HandleEvent(ctx context.Context, event *models.InvalidationEvent) error {
	if svc == nil {
		return nil
	}
	return svc.HandleEvent(ctx, event)
}

func (s *Service) HandleEvent(ctx context.Context, event *models.InvalidationEvent) error {
	s.metrics.EventsReceived.Add(1)

	requestID := generateRequestID()
	ctx = middleware.WithRequestID(ctx, requestID)

	if !s.lifecycle.beginHandling() {
		middleware.LogWithRequestID(ctx, "invalidation event dropped: listener not subscribed", map[string]interface{}{
			"type": event.Type, "state": s.lifecycle.State().String(),
		})
		return nil
	}
	defer s.lifecycle.endHandling()

	if err := event.Validate(); err != nil {
		middleware.LogWithRequestID(ctx, "skipping malformed invalidation event", map[string]interface{}{
			"type": event.Type, "error": err.Error(),
		})
		s.metrics.EventsSkipped.Add(1)
		return nil
	}

	start := time.Now()
	purged, err := s.dispatch(ctx, event)
	if err != nil {
		// Backend transport errors are Internal and should be retried by
		// the at-least-once bus; don't mark the event applied.
		middleware.LogWithRequestID(ctx, "failed to apply invalidation event", map[string]interface{}{
			"type": event.Type, "tenant": event.Tenant, "error": err.Error(),
		})
		return err
	}

	s.metrics.EventsApplied.Add(1)
	s.metrics.RecordsPurged.Add(int64(purged))

	go func() {
		entry := AuditLog{
			Pattern:     event.Type,
			Keys:        []string{event.Tenant},
			TriggeredBy: "event_bus",
			Timestamp:   time.Now(),
			RequestID:   requestID,
			Latency:     time.Since(start).Milliseconds(),
		}
		if err := s.auditLogger.Insert(context.Background(), entry); err != nil {
			log.Printf("[ERROR] failed to write invalidation audit log: %v", err)
		}
	}()

	return nil
}

// dispatch applies the event's purge behavior. UPDATE_TTL is accepted and
// logged but never enforced (§4.6, §9).
func (s *Service) dispatch(ctx context.Context, event *models.InvalidationEvent) (int, error) {
	switch event.Type {
	case models.EventSupersededBy:
		return cache.PurgeSupersededByEvent(ctx, event.Tenant, event.OldHash)
	case models.EventRevokeCapsule:
		return cache.PurgeRevokeCapsuleEvent(ctx, event.Tenant, event.CapsuleID)
	case models.EventInvalidateTenant:
		return cache.PurgeTenant(ctx, event.Tenant)
	case models.EventUpdateTTL:
		log.Printf("[INFO] UPDATE_TTL for tenant=%s pattern=%s new_ttl_seconds=%d received but not enforced", event.Tenant, event.Pattern, event.NewTTLSeconds)
		return 0, nil
	default:
		return 0, nil
	}
}

// Shutdown drains the listener: no further events are dispatched once
// called, and it blocks until any in-flight handler returns.
func (s *Service) Shutdown() {
	s.lifecycle.shutdown()
}

// State reports the listener's current lifecycle state.
func (s *Service) State() State {
	return s.lifecycle.State()
}

// GetAuditLogsRequest/Response expose the invalidation audit trail.
type GetAuditLogsRequest struct {
	Limit     int    `query:"limit"`
	Offset    int    `query:"offset"`
	Pattern   string `query:"pattern"`
	RequestID string `query:"request_id"`
}

type GetAuditLogsResponse struct {
	Logs       []AuditLog `json:"logs"`
	TotalCount int        `json:"total_count"`
	HasMore    bool       `json:"has_more"`
}

//encore:api public method=GET path=/invalidation/audit
func GetAuditLogs(ctx context.Context, req *GetAuditLogsRequest) (*GetAuditLogsResponse, error) {
	if svc == nil {
		return nil, errors.New("service not initialized")
	}
	return svc.GetAuditLogs(ctx, req)
}

func (s *Service) GetAuditLogs(ctx context.Context, req *GetAuditLogsRequest) (*GetAuditLogsResponse, error) {
	if req.RequestID != "" {
		logs, err := s.auditLogger.GetByRequestID(ctx, req.RequestID)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch audit logs by request id: %w", err)
		}
		return &GetAuditLogsResponse{Logs: logs, TotalCount: len(logs), HasMore: false}, nil
	}

	if req.Limit <= 0 {
		req.Limit = 50
	}
	if req.Limit > 1000 {
		req.Limit = 1000
	}

	logs, err := s.auditLogger.GetRecent(ctx, req.Limit+1, req.Offset, req.Pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch audit logs: %w", err)
	}

	hasMore := len(logs) > req.Limit
	if hasMore {
		logs = logs[:req.Limit]
	}

	totalCount, err := s.auditLogger.GetCount(ctx, req.Pattern)
	if err != nil {
		totalCount = len(logs)
	}

	return &GetAuditLogsResponse{Logs: logs, TotalCount: totalCount, HasMore: hasMore}, nil
}

type MetricsResponse struct {
	EventsReceived int64 `json:"events_received"`
	EventsApplied  int64 `json:"events_applied"`
	EventsSkipped  int64 `json:"events_skipped"`
	RecordsPurged  int64 `json:"records_purged"`
}

//encore:api public method=GET path=/invalidation/metrics
func GetMetrics(ctx context.Context) (*MetricsResponse, error) {
	if svc == nil {
		return nil, errors.New("service not initialized")
	}
	return &MetricsResponse{
		EventsReceived: svc.metrics.EventsReceived.Load(),
		EventsApplied:  svc.metrics.EventsApplied.Load(),
		EventsSkipped:  svc.metrics.EventsSkipped.Load(),
		RecordsPurged:  svc.metrics.RecordsPurged.Load(),
	}, nil
}

func generateRequestID() string {
	return fmt.Sprintf("inv-%d", time.Now().UnixNano())
}
