package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chronicle-ai/chronicle-engine/pkg/apperrors"
	"github.com/chronicle-ai/chronicle-engine/pkg/config"
	"github.com/chronicle-ai/chronicle-engine/pkg/jsonutil"
	"github.com/chronicle-ai/chronicle-engine/pkg/logging"
	"github.com/chronicle-ai/chronicle-engine/pkg/models"
	"github.com/chronicle-ai/chronicle-engine/pkg/repositories"
)

// BuildScheduler drains the graph build queue: one worker, one job at a time,
// oldest scheduled_at first. A job is every queued document sharing
// (topic, store), so all pending uploads for a topic build in a single pass.
// Failed builds stay failed; nothing retries them automatically.
type BuildScheduler struct {
	statusRepo repositories.BuildStatusRepository
	sourceRepo repositories.SourceRepository
	builder    GraphBuilderService
	stores     StoreResolver

	pollInterval      time.Duration
	reconcileInterval time.Duration
	logger            *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewBuildScheduler creates a BuildScheduler around the local build queue.
func NewBuildScheduler(
	statusRepo repositories.BuildStatusRepository,
	sourceRepo repositories.SourceRepository,
	builder GraphBuilderService,
	stores StoreResolver,
	cfg *config.SchedulerConfig,
	logger *zap.Logger,
) *BuildScheduler {
	return &BuildScheduler{
		statusRepo:        statusRepo,
		sourceRepo:        sourceRepo,
		builder:           builder,
		stores:            stores,
		pollInterval:      time.Duration(cfg.PollIntervalSeconds) * time.Second,
		reconcileInterval: time.Duration(cfg.ReconcileIntervalSeconds) * time.Second,
		logger:            logger.Named("scheduler"),
	}
}

// Start launches the poll and reconcile loops and returns immediately.
func (s *BuildScheduler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	go func() {
		defer close(done)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.pollLoop(ctx)
		}()
		go func() {
			defer wg.Done()
			s.reconcileLoop(ctx)
		}()
		wg.Wait()
	}()

	s.logger.Info("Build scheduler started",
		zap.Duration("poll_interval", s.pollInterval),
		zap.Duration("reconcile_interval", s.reconcileInterval))
}

// Stop cancels the loops and waits for them to exit. A build interrupted
// mid-flight keeps its durable stage outputs; its status row simply stays
// processing and is picked up again on the next start.
func (s *BuildScheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	s.logger.Info("Build scheduler stopped")
}

func (s *BuildScheduler) pollLoop(ctx context.Context) {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0 // poll forever

	for {
		wait := s.pollInterval

		worked, err := s.runNextJob(ctx)
		switch {
		case ctx.Err() != nil:
			return
		case err != nil:
			wait = bo.NextBackOff()
			s.logger.Warn("Build queue poll failed",
				zap.Error(err),
				zap.Duration("retry_in", wait))
		case worked:
			// Drain the backlog without idling between jobs.
			bo.Reset()
			wait = 0
		default:
			bo.Reset()
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// runNextJob claims the oldest queued job and builds it. The bool reports
// whether a job was processed. Errors cover queue access only; build
// outcomes land in the status rows instead.
func (s *BuildScheduler) runNextJob(ctx context.Context) (bool, error) {
	localCtx, err := s.stores.WithScope(ctx, "")
	if err != nil {
		return false, err
	}

	next, err := s.statusRepo.NextScheduled(localCtx)
	if err != nil {
		return false, fmt.Errorf("fetching next scheduled build: %w", err)
	}
	if next == nil {
		return false, nil // Queue empty
	}

	rows, err := s.statusRepo.ListActiveByJob(localCtx, next.TopicName, next.ExternalDatabaseURI)
	if err != nil {
		return false, fmt.Errorf("collecting rows for job %q: %w", next.TopicName, err)
	}
	if len(rows) == 0 {
		// The job vanished between the two reads.
		return false, nil
	}

	sourceIDs := make([]uuid.UUID, 0, len(rows))
	for _, row := range rows {
		sourceIDs = append(sourceIDs, row.SourceID)
	}

	s.logger.Info("Claimed build job",
		zap.String("topic", next.TopicName),
		zap.String("store", logging.SanitizeConnectionString(next.ExternalDatabaseURI)),
		zap.Int("documents", len(sourceIDs)))

	if err := s.statusRepo.UpdateStatus(localCtx, next.TopicName, next.ExternalDatabaseURI, sourceIDs, models.BuildStatusProcessing, nil); err != nil {
		return false, fmt.Errorf("marking job %q processing: %w", next.TopicName, err)
	}

	s.runJob(ctx, localCtx, next.TopicName, next.ExternalDatabaseURI, sourceIDs)
	return true, nil
}

// runJob builds one claimed job and writes the outcome to the local queue
// and, for tenant jobs, to the tenant store as well.
func (s *BuildScheduler) runJob(ctx, localCtx context.Context, topicName, storeURI string, sourceIDs []uuid.UUID) {
	tenantCtx, err := s.stores.WithScope(ctx, storeURI)
	if err != nil {
		s.logger.Error("Store unavailable for build job",
			zap.String("topic", topicName),
			zap.String("store", logging.SanitizeConnectionString(storeURI)),
			zap.String("error", logging.SanitizeError(err)))
		msg := "Graph build failed: " + logging.SanitizeError(err)
		s.finishJob(localCtx, nil, topicName, storeURI, sourceIDs, models.BuildStatusFailed, &msg)
		return
	}

	sources, err := s.loadBuildSources(tenantCtx, sourceIDs)
	if err != nil {
		s.logger.Error("Failed to load sources for build job",
			zap.String("topic", topicName),
			zap.Error(err))
		msg := "Graph build failed: " + err.Error()
		s.finishJob(localCtx, tenantCtx, topicName, storeURI, sourceIDs, models.BuildStatusFailed, &msg)
		return
	}
	if len(sources) == 0 {
		s.logger.Error("Build job has no usable sources",
			zap.String("topic", topicName),
			zap.Int("requested", len(sourceIDs)))
		msg := "No valid sources found"
		s.finishJob(localCtx, tenantCtx, topicName, storeURI, sourceIDs, models.BuildStatusFailed, &msg)
		return
	}

	result, err := s.builder.Build(tenantCtx, topicName, sources)
	if err != nil {
		s.logger.Error("Build job failed",
			zap.String("topic", topicName),
			zap.Error(err))
		msg := "Graph build failed: " + err.Error()
		s.finishJob(localCtx, tenantCtx, topicName, storeURI, sourceIDs, models.BuildStatusFailed, &msg)
		return
	}

	s.finishJob(localCtx, tenantCtx, topicName, storeURI, sourceIDs, models.BuildStatusCompleted, nil)
	s.logger.Info("Build job completed",
		zap.String("topic", topicName),
		zap.Int("documents", result.DocumentsProcessed),
		zap.Int("skipped", result.DocumentsSkipped),
		zap.Int("triplets", result.TripletsExtracted))
}

// finishJob records the job outcome. Write failures are logged, never
// returned: the build itself may have succeeded, and a stuck row is better
// than losing that fact. Tenant rows carry an empty store URI in their own
// store, so the tenant update matches on "".
func (s *BuildScheduler) finishJob(localCtx, tenantCtx context.Context, topicName, storeURI string, sourceIDs []uuid.UUID, status string, errorMessage *string) {
	if err := s.statusRepo.UpdateStatus(localCtx, topicName, storeURI, sourceIDs, status, errorMessage); err != nil {
		s.logger.Error("Failed to record build outcome in local queue",
			zap.String("topic", topicName),
			zap.String("status", status),
			zap.Error(err))
	}

	if tenantCtx == nil || s.stores.IsLocal(storeURI) {
		return
	}
	if err := s.statusRepo.UpdateStatus(tenantCtx, topicName, "", sourceIDs, status, errorMessage); err != nil {
		s.logger.Error("Failed to record build outcome in tenant store",
			zap.String("topic", topicName),
			zap.String("store", logging.SanitizeConnectionString(storeURI)),
			zap.String("status", status),
			zap.Error(err))
	}
}

// loadBuildSources fetches the job's documents from the store the build runs
// against, dropping any that vanished or never got content extracted.
func (s *BuildScheduler) loadBuildSources(tenantCtx context.Context, sourceIDs []uuid.UUID) ([]*models.SourceData, error) {
	sources, err := s.sourceRepo.GetByIDs(tenantCtx, sourceIDs)
	if err != nil {
		return nil, fmt.Errorf("loading sources: %w", err)
	}

	valid := make([]*models.SourceData, 0, len(sources))
	for _, src := range sources {
		if len(src.ContentHash) == 0 {
			s.logger.Warn("Source has no content, skipping",
				zap.String("source", src.Name),
				zap.String("source_id", src.ID.String()))
			continue
		}
		valid = append(valid, src)
	}
	return valid, nil
}

func (s *BuildScheduler) reconcileLoop(ctx context.Context) {
	if s.reconcileInterval <= 0 {
		return
	}

	ticker := time.NewTicker(s.reconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.reconcile(ctx); err != nil {
				s.logger.Warn("Reconcile pass failed", zap.Error(err))
			}
		}
	}
}

// reconcile requeues local sources that produced knowledge blocks but never
// made it into a graph and have no queue row at all, which happens when the
// process dies between ingest and scheduling. Sources with a row in any
// state are left alone: active ones are already queued, and failed ones are
// not retried automatically.
func (s *BuildScheduler) reconcile(ctx context.Context) error {
	localCtx, err := s.stores.WithScope(ctx, "")
	if err != nil {
		return err
	}

	orphans, err := s.sourceRepo.ListUnmappedWithBlocks(localCtx)
	if err != nil {
		return fmt.Errorf("listing unmapped sources: %w", err)
	}

	requeued := 0
	for _, src := range orphans {
		topicName := jsonutil.GetString(src.Attributes, models.AttrTopicName)
		if topicName == "" {
			continue
		}

		_, err := s.statusRepo.Get(localCtx, topicName, src.ID, "")
		if err == nil {
			continue
		}
		if !errors.Is(err, apperrors.ErrNotFound) {
			return fmt.Errorf("checking queue row for source %s: %w", src.ID, err)
		}

		status := &models.GraphBuildStatus{
			TopicName: topicName,
			SourceID:  src.ID,
			Status:    models.BuildStatusPending,
		}
		if err := s.statusRepo.Schedule(localCtx, status); err != nil {
			return fmt.Errorf("requeueing source %s: %w", src.ID, err)
		}
		requeued++
		s.logger.Info("Requeued source with blocks but no graph",
			zap.String("topic", topicName),
			zap.String("source", src.Name))
	}

	if requeued > 0 {
		s.logger.Info("Reconcile pass requeued sources", zap.Int("requeued", requeued))
	}
	return nil
}
