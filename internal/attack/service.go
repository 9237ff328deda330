// Package attack implements the adversarial attack job lifecycle: launch
// validation, background execution through the staged worker, and the
// status, results and listing queries backed by a RecordStore.
package attack

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"advsandbox/internal/apperrors"
	"advsandbox/internal/model"
	"advsandbox/internal/observability"
)

// Validation limits
const (
	maxInputLength = 10000
	maxIDLength    = 128
	maxListLimit   = 1000

	defaultListLimit = 100
	defaultSortBy    = "created_at"

	// estimatedCompletionSeconds is the figure reported to launch callers.
	estimatedCompletionSeconds = 60
)

// Notifier receives terminal records for webhook delivery. Enqueueing
// must not block job completion.
type Notifier interface {
	Notify(rec *Record, callbackURL string)
}

// Service manages the attack job lifecycle. Durable state lives in the
// RecordStore; the Service only tracks in-flight workers so Close can
// drain them.
type Service struct {
	store    RecordStore
	models   *model.InstanceCache
	loader   model.Loader
	notifier Notifier
	metrics  *observability.Metrics

	inferenceTimeout time.Duration

	mu     sync.Mutex
	wg     sync.WaitGroup
	closed bool
}

// NewService creates an attack service. notifier and metrics may be nil.
func NewService(store RecordStore, models *model.InstanceCache, loader model.Loader, notifier Notifier, metrics *observability.Metrics, inferenceTimeout time.Duration) *Service {
	if inferenceTimeout <= 0 {
		inferenceTimeout = 30 * time.Second
	}
	return &Service{
		store:            store,
		models:           models,
		loader:           loader,
		notifier:         notifier,
		metrics:          metrics,
		inferenceTimeout: inferenceTimeout,
	}
}

// Launch validates the request, persists the queued record and starts a
// background worker. It returns as soon as the record is durable, so a
// status poll issued immediately after the response sees the job.
func (s *Service) Launch(ctx context.Context, req *LaunchRequest) (*LaunchResponse, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}

	id := fmt.Sprintf("atk_%x", [16]byte(uuid.New()))
	now := time.Now().UTC()
	rec := &Record{
		ID:             id,
		ModelID:        req.ModelID,
		AttackMethodID: req.AttackMethodID,
		Status:         StatusQueued,
		Stage:          StageQueued,
		Progress:       ProgressQueued,
		OriginalInput:  req.InputData,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	logger := slog.With("attackId", id, "modelId", req.ModelID, "method", req.AttackMethodID)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, apperrors.Conflict("attack", id, "service is shutting down")
	}
	s.wg.Add(1)
	s.mu.Unlock()

	if err := s.store.Create(ctx, rec); err != nil {
		s.wg.Done()
		logger.Error("Attack record creation failed", "error", err)
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.RecordAttackLaunched(ctx, req.ModelID, req.AttackMethodID)
	}
	logger.Info("Attack launched")

	go func() {
		defer s.wg.Done()
		s.run(rec, req)
	}()

	return &LaunchResponse{
		JobID:                      id,
		Status:                     "initiated",
		Message:                    fmt.Sprintf("Attack %s initiated against model %s", id, req.ModelID),
		EstimatedCompletionSeconds: estimatedCompletionSeconds,
	}, nil
}

// GetStatus returns the current record of a job, including stage and
// progress alongside whatever results have been written so far.
func (s *Service) GetStatus(ctx context.Context, id string) (*Record, error) {
	return s.store.Get(ctx, id)
}

// GetResults returns the full record of a successfully completed job.
// Any other status, failed included, gets a conflict error.
func (s *Service) GetResults(ctx context.Context, id string) (*Record, error) {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status != StatusCompleted {
		return nil, apperrors.Conflict("attack", id, fmt.Sprintf("attack is %s, results are not available", rec.Status))
	}
	return rec, nil
}

// List returns a page of records. Defaults are applied before
// validation: limit 100, newest first.
func (s *Service) List(ctx context.Context, q ListQuery) (*ListResult, error) {
	if q.Limit == 0 {
		q.Limit = defaultListLimit
	}
	if q.SortBy == "" {
		q.SortBy = defaultSortBy
	}
	if q.SortOrder == "" {
		q.SortOrder = "desc"
	}

	if q.Skip < 0 {
		return nil, apperrors.Validation("skip", "skip must not be negative")
	}
	if q.Limit < 1 || q.Limit > maxListLimit {
		return nil, apperrors.Validation("limit", fmt.Sprintf("limit must be between 1 and %d", maxListLimit))
	}
	if !SortFields[q.SortBy] {
		return nil, apperrors.Validation("sort_by", fmt.Sprintf("unsupported sort field %q", q.SortBy))
	}
	if q.SortOrder != "asc" && q.SortOrder != "desc" {
		return nil, apperrors.Validation("sort_order", `sort order must be "asc" or "desc"`)
	}

	return s.store.List(ctx, q)
}

// Close stops accepting launches and waits for in-flight workers to
// finish, up to the context deadline.
func (s *Service) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("attack service close: %w", ctx.Err())
	}
}

// validate checks a launch request. Does not modify the request.
func (s *Service) validate(req *LaunchRequest) error {
	if req.ModelID == "" {
		return apperrors.Validation("model_id", "model ID is required")
	}
	if len(req.ModelID) > maxIDLength {
		return apperrors.Validation("model_id", fmt.Sprintf("model ID exceeds maximum length of %d", maxIDLength))
	}
	if req.AttackMethodID == "" {
		return apperrors.Validation("attack_method_id", "attack method ID is required")
	}
	if len(req.AttackMethodID) > maxIDLength {
		return apperrors.Validation("attack_method_id", fmt.Sprintf("attack method ID exceeds maximum length of %d", maxIDLength))
	}
	if req.InputData == "" {
		return apperrors.Validation("input_data", "input data is required")
	}
	if len(req.InputData) > maxInputLength {
		return apperrors.Validation("input_data", fmt.Sprintf("input data exceeds maximum length of %d", maxInputLength))
	}

	if req.TargetLabel != "" {
		switch req.TargetLabel {
		case model.LabelPositive, model.LabelNegative, model.LabelNeutral:
		default:
			return apperrors.Validation("target_label", fmt.Sprintf("unknown target label %q", req.TargetLabel))
		}
	}

	if req.CallbackURL != "" {
		if err := validateURL(req.CallbackURL); err != nil {
			return apperrors.Validation("callback_url", fmt.Sprintf("invalid callback URL: %v", err))
		}
	}

	return nil
}

func validateURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("malformed URL")
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}
