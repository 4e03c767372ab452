package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/leafscan/internal/catalog"
	"github.com/example/leafscan/internal/logging"
	"github.com/example/leafscan/internal/pipeline"
	"github.com/example/leafscan/internal/repository"
)

var (
	// ErrUnsupportedFile is returned for uploads whose extension is not png, jpg or jpeg.
	ErrUnsupportedFile = errors.New("unsupported file type")
	// ErrProcessing is returned by GetResult while a request is still running.
	ErrProcessing = errors.New("diagnosis still processing")
)

const processingPrefix = "processing:"

// processingMarker is stored under the result key while userID's request runs.
func processingMarker(userID string) string {
	return processingPrefix + userID
}

var allowedExtensions = map[string]struct{}{".png": {}, ".jpg": {}, ".jpeg": {}}

// AllowedFile reports whether filename has an accepted image extension.
func AllowedFile(filename string) bool {
	_, ok := allowedExtensions[strings.ToLower(filepath.Ext(filename))]
	return ok
}

// DiagnosisRepository defines the persistence operations needed by the use case.
type DiagnosisRepository interface {
	SaveLog(ctx context.Context, log *repository.DiagnosisLog) error
	FindByRequestIDAndUser(ctx context.Context, requestID, userID string) (*repository.DiagnosisLog, error)
	FindDuplicatesByHash(ctx context.Context, userID, hash, excludeRequestID string) ([]*repository.DiagnosisLog, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]*repository.DiagnosisLog, error)
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
}

// Pipeline evaluates one photo.
type Pipeline interface {
	Run(data []byte) pipeline.Outcome
}

// DiseaseCatalog supplies reference text for labels.
type DiseaseCatalog interface {
	Lookup(label string) (catalog.Record, bool)
}

// DiagnosisUseCase encapsulates business logic for the diagnosis flow.
type DiagnosisUseCase struct {
	repo           DiagnosisRepository
	cache          Cache
	pipeline       Pipeline
	catalog        DiseaseCatalog
	logger         *zap.Logger
	outcomeTTL     time.Duration
	resultTTL      time.Duration
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// DuplicateReport lists earlier diagnoses of the same image by the same user.
type DuplicateReport struct {
	Request    *Report   `json:"request"`
	Duplicates []*Report `json:"duplicates"`
}

// NewDiagnosisUseCase constructs a new use case instance. outcomeTTL bounds
// how long a pipeline outcome is reused for identical bytes.
func NewDiagnosisUseCase(repo DiagnosisRepository, cache Cache, p Pipeline, cat DiseaseCatalog, outcomeTTL time.Duration, logger *zap.Logger) *DiagnosisUseCase {
	if outcomeTTL <= 0 {
		outcomeTTL = 5 * time.Minute
	}
	return &DiagnosisUseCase{
		repo:           repo,
		cache:          cache,
		pipeline:       p,
		catalog:        cat,
		logger:         logger.Named("diagnosis_usecase"),
		outcomeTTL:     outcomeTTL,
		resultTTL:      5 * time.Minute,
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// Diagnose runs one upload through the pipeline, stores the result and
// returns the assembled report. Rejections are reports, not errors.
func (uc *DiagnosisUseCase) Diagnose(ctx context.Context, userID, filename string, data []byte) (*Report, error) {
	if !AllowedFile(filename) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFile, filename)
	}

	requestID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.diagnose", requestID)

	resultKey := resultCacheKey(requestID)
	if err := uc.withCacheRetry(ctx, requestID, "cache.set.processing", func() error {
		return uc.cache.Set(ctx, resultKey, processingMarker(userID), time.Minute)
	}); err != nil {
		opLogger.Error("failed to set processing flag", zap.Error(err))
		return nil, err
	}

	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	start := time.Now()
	outcome := uc.evaluate(ctx, requestID, hash, data)
	latency := time.Since(start)

	log := &repository.DiagnosisLog{
		RequestID:           requestID,
		UserID:              userID,
		Filename:            filepath.Base(filename),
		ImageHash:           hash,
		Status:              string(outcome.Status),
		Stage:               string(outcome.Stage),
		Kind:                string(outcome.Kind),
		Label:               outcome.Label(),
		Confidence:          outcome.Result.PrimaryConfidence,
		SecondaryLabel:      outcome.Result.SecondaryLabel,
		SecondaryConfidence: outcome.Result.SecondaryConfidence,
		Message:             outcome.Message,
		ProcessingLatencyMs: latency.Milliseconds(),
		CreatedAt:           time.Now().UTC(),
	}
	if err := uc.repo.SaveLog(ctx, log); err != nil {
		wrapped := logging.NewOperationError("usecase.save_log", requestID, err)
		opLogger.Error("failed to persist diagnosis log", zap.Error(wrapped))
		return nil, wrapped
	}

	report := buildReport(log, uc.catalog)
	serialized, err := json.Marshal(report)
	if err != nil {
		opLogger.Error("failed to serialize diagnosis report", zap.Error(err))
		return nil, err
	}
	if err := uc.withCacheRetry(ctx, requestID, "cache.set.result", func() error {
		return uc.cache.Set(ctx, resultKey, string(serialized), uc.resultTTL)
	}); err != nil {
		opLogger.Error("failed to cache diagnosis report", zap.Error(err))
		return nil, err
	}

	opLogger.Info("diagnosis complete",
		zap.String("status", log.Status),
		zap.String("stage", log.Stage),
		zap.String("label", log.Label),
		zap.Float64("confidence", log.Confidence),
		zap.Duration("latency", latency),
	)
	return report, nil
}

// evaluate reuses a cached outcome for identical bytes; the pipeline is
// deterministic so the cached value is exact. Cache failures only cost a rerun.
func (uc *DiagnosisUseCase) evaluate(ctx context.Context, requestID, hash string, data []byte) pipeline.Outcome {
	opLogger := logging.WithOperation(uc.logger, "usecase.evaluate", requestID)
	key := outcomeCacheKey(hash)

	cached, err := uc.withCacheGet(ctx, requestID, "cache.get.outcome", key)
	switch {
	case err == nil:
		var outcome pipeline.Outcome
		decodeErr := json.Unmarshal([]byte(cached), &outcome)
		if decodeErr == nil {
			opLogger.Debug("outcome cache hit")
			return outcome
		}
		opLogger.Warn("failed to decode cached outcome", zap.Error(decodeErr))
	case !errors.Is(err, ErrCacheMiss):
		opLogger.Warn("failed to read outcome cache", zap.Error(err))
	}

	outcome := uc.pipeline.Run(data)

	serialized, err := json.Marshal(outcome)
	if err != nil {
		opLogger.Warn("failed to serialize outcome", zap.Error(err))
		return outcome
	}
	if err := uc.withCacheRetry(ctx, requestID, "cache.set.outcome", func() error {
		return uc.cache.Set(ctx, key, string(serialized), uc.outcomeTTL)
	}); err != nil {
		opLogger.Warn("failed to cache outcome", zap.Error(err))
	}
	return outcome
}

// GetResult retrieves a cached diagnosis report or loads it from persistence.
func (uc *DiagnosisUseCase) GetResult(ctx context.Context, userID, requestID string) (*Report, error) {
	opLogger := logging.WithOperation(uc.logger, "usecase.get_result", requestID)

	cached, err := uc.withCacheGet(ctx, requestID, "cache.get.result", resultCacheKey(requestID))
	switch {
	case err == nil && strings.HasPrefix(cached, processingPrefix):
		if cached == processingMarker(userID) {
			return nil, ErrProcessing
		}
	case err == nil:
		var report Report
		if err := json.Unmarshal([]byte(cached), &report); err != nil {
			opLogger.Warn("failed to decode cached result", zap.Error(err))
		} else if report.UserID == userID {
			return &report, nil
		}
	case !errors.Is(err, ErrCacheMiss):
		opLogger.Warn("failed to read cache", zap.Error(err))
	}

	log, err := uc.repo.FindByRequestIDAndUser(ctx, requestID, userID)
	if err != nil {
		return nil, err
	}
	return buildReport(log, uc.catalog), nil
}

// History returns the user's latest diagnoses, newest first.
func (uc *DiagnosisUseCase) History(ctx context.Context, userID string, limit int) ([]*Report, error) {
	logs, err := uc.repo.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	return buildReports(logs, uc.catalog), nil
}

// GetDuplicateReport builds a duplicate detection report for a diagnosis request.
func (uc *DiagnosisUseCase) GetDuplicateReport(ctx context.Context, userID, requestID string) (*DuplicateReport, error) {
	log, err := uc.repo.FindByRequestIDAndUser(ctx, requestID, userID)
	if err != nil {
		return nil, err
	}

	duplicates, err := uc.repo.FindDuplicatesByHash(ctx, userID, log.ImageHash, log.RequestID)
	if err != nil {
		return nil, err
	}

	return &DuplicateReport{
		Request:    buildReport(log, uc.catalog),
		Duplicates: buildReports(duplicates, uc.catalog),
	}, nil
}

func resultCacheKey(requestID string) string { return "diagnosis:" + requestID }

func outcomeCacheKey(hash string) string { return "outcome:" + hash }

func (uc *DiagnosisUseCase) withCacheRetry(ctx context.Context, requestID, operation string, fn func() error) error {
	if uc.retryAttempts <= 1 {
		return logging.NewOperationError(operation, requestID, fn())
	}

	backoff := uc.initialBackoff
	opLogger := logging.WithOperation(uc.logger, operation, requestID)
	var err error
	for attempt := 0; attempt < uc.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= uc.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("cache operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}
		if errors.Is(err, ErrCacheMiss) {
			return logging.NewOperationError(operation, requestID, err)
		}
		if !isTransientError(err) || attempt == uc.retryAttempts-1 {
			opLogger.Error("cache operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, requestID, err)
		}

		opLogger.Warn("transient cache error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
}

func (uc *DiagnosisUseCase) withCacheGet(ctx context.Context, requestID, operation, cacheKey string) (string, error) {
	var result string
	err := uc.withCacheRetry(ctx, requestID, operation, func() error {
		value, err := uc.cache.Get(ctx, cacheKey)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
