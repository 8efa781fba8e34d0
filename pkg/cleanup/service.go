// Package cleanup provides data retention and cleanup services.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/forge-ide/loom/pkg/config"
	"github.com/forge-ide/loom/pkg/database"
)

// Service periodically enforces retention policies:
//   - Deletes terminal executions past the retention window (child rows
//     cascade: nodes, messages, context items, checkpoints, events)
//   - Removes orphaned event rows past their TTL
//
// All operations are idempotent and safe to run from multiple pods.
type Service struct {
	config config.RetentionConfig
	db     *database.Client

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a new cleanup service.
func NewService(cfg config.RetentionConfig, db *database.Client) *Service {
	return &Service{config: cfg, db: db}
}

// Start launches the background cleanup loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Cleanup service started",
		"execution_retention_days", s.config.ExecutionRetentionDays,
		"event_ttl", s.config.EventTTL,
		"interval", s.config.CleanupInterval)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.RunAll(ctx)

	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunAll(ctx)
		}
	}
}

// RunAll performs one pass of every retention task.
func (s *Service) RunAll(ctx context.Context) {
	s.deleteOldExecutions(ctx)
	s.cleanupOrphanedEvents(ctx)
}

func (s *Service) deleteOldExecutions(ctx context.Context) {
	if s.config.ExecutionRetentionDays <= 0 {
		return
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -s.config.ExecutionRetentionDays)
	count, err := s.db.DeleteTerminalExecutionsBefore(ctx, cutoff)
	if err != nil {
		slog.Error("Retention: execution cleanup failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: deleted old executions", "count", count)
	}
}

func (s *Service) cleanupOrphanedEvents(ctx context.Context) {
	if s.config.EventTTL <= 0 {
		return
	}
	cutoff := time.Now().UTC().Add(-s.config.EventTTL)
	count, err := s.db.DeleteEventsBefore(ctx, cutoff)
	if err != nil {
		slog.Error("Retention: event cleanup failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: cleaned up orphaned events", "count", count)
	}
}
