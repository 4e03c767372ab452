package repository

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/leafscan/internal/logging"
)

// ErrNotFound is returned when no diagnosis log matches a lookup.
var ErrNotFound = errors.New("diagnosis log not found")

// DiagnosisLog represents one persisted diagnosis request.
type DiagnosisLog struct {
	ID                  uint      `gorm:"primaryKey"`
	RequestID           string    `gorm:"column:request_id;uniqueIndex;size:64"`
	UserID              string    `gorm:"column:user_id;index;size:64"`
	Filename            string    `gorm:"column:filename;size:255"`
	ImageHash           string    `gorm:"column:image_hash;index;size:64"`
	Status              string    `gorm:"column:status;size:16"`
	Stage               string    `gorm:"column:stage;size:16"`
	Kind                string    `gorm:"column:kind;size:32"`
	Label               string    `gorm:"column:label;size:64"`
	Confidence          float64   `gorm:"column:confidence"`
	SecondaryLabel      string    `gorm:"column:secondary_label;size:64"`
	SecondaryConfidence float64   `gorm:"column:secondary_confidence"`
	Message             string    `gorm:"column:message;type:text"`
	ProcessingLatencyMs int64     `gorm:"column:processing_latency_ms"`
	CreatedAt           time.Time `gorm:"column:created_at;index"`
}

// TableName overrides the default table name.
func (DiagnosisLog) TableName() string {
	return "diagnosis_logs"
}

// MetricsAggregation is the raw rollup behind the metrics endpoint.
type MetricsAggregation struct {
	TotalCount                 int64
	ClassifiedCount            int64
	AverageConfidence          float64
	AverageProcessingLatencyMs float64
	RejectionsByStage          map[string]int64
}

type metricsTotals struct {
	Total      int64
	Classified int64
	AvgLatency float64
}

type confidenceRow struct {
	AvgConfidence float64
}

type stageCount struct {
	Stage string
	Count int64
}

// DiagnosisRepository provides persistence APIs for diagnosis logs.
type DiagnosisRepository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewDiagnosisRepository creates a new repository instance.
func NewDiagnosisRepository(db *gorm.DB, logger *zap.Logger) *DiagnosisRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DiagnosisRepository{
		db:             db,
		logger:         logger.Named("diagnosis_repository"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// AutoMigrate ensures the schema is available.
func (r *DiagnosisRepository) AutoMigrate(ctx context.Context) error {
	return r.executeWithRetry(ctx, "repository.auto_migrate", "", func() error {
		return r.db.WithContext(ctx).AutoMigrate(&DiagnosisLog{})
	})
}

// SaveLog persists a diagnosis log entry.
func (r *DiagnosisRepository) SaveLog(ctx context.Context, log *DiagnosisLog) error {
	return r.executeWithRetry(ctx, "repository.save_log", log.RequestID, func() error {
		return r.db.WithContext(ctx).Create(log).Error
	})
}

// FindByRequestIDAndUser retrieves a diagnosis log matching the request and owner.
func (r *DiagnosisRepository) FindByRequestIDAndUser(ctx context.Context, requestID, userID string) (*DiagnosisLog, error) {
	var log DiagnosisLog
	err := r.executeWithRetry(ctx, "repository.find_by_request", requestID, func() error {
		err := r.db.WithContext(ctx).First(&log, "request_id = ? AND user_id = ?", requestID, userID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &log, nil
}

// FindDuplicatesByHash lists the user's other requests that uploaded the same image.
func (r *DiagnosisRepository) FindDuplicatesByHash(ctx context.Context, userID, hash, excludeRequestID string) ([]*DiagnosisLog, error) {
	var logs []*DiagnosisLog
	err := r.executeWithRetry(ctx, "repository.find_duplicates", excludeRequestID, func() error {
		return r.db.WithContext(ctx).
			Where("user_id = ? AND image_hash = ? AND request_id <> ?", userID, hash, excludeRequestID).
			Order("created_at DESC").
			Find(&logs).Error
	})
	if err != nil {
		return nil, err
	}
	return logs, nil
}

// ListByUser returns the user's most recent diagnoses, newest first.
func (r *DiagnosisRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*DiagnosisLog, error) {
	if limit <= 0 {
		limit = 20
	}
	var logs []*DiagnosisLog
	err := r.executeWithRetry(ctx, "repository.list_by_user", "", func() error {
		return r.db.WithContext(ctx).
			Where("user_id = ?", userID).
			Order("created_at DESC").
			Order("id DESC").
			Limit(limit).
			Find(&logs).Error
	})
	if err != nil {
		return nil, err
	}
	return logs, nil
}

// AggregateMetrics rolls up every stored diagnosis.
func (r *DiagnosisRepository) AggregateMetrics(ctx context.Context) (*MetricsAggregation, error) {
	var (
		totals     metricsTotals
		confidence confidenceRow
		stages     []stageCount
	)

	err := r.executeWithRetry(ctx, "repository.aggregate_metrics", "", func() error {
		db := r.db.WithContext(ctx)
		if err := db.Model(&DiagnosisLog{}).
			Select("COUNT(*) AS total, COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS classified, COALESCE(AVG(processing_latency_ms), 0) AS avg_latency", "classified").
			Scan(&totals).Error; err != nil {
			return err
		}
		if err := db.Model(&DiagnosisLog{}).
			Where("status = ?", "classified").
			Select("COALESCE(AVG(confidence), 0) AS avg_confidence").
			Scan(&confidence).Error; err != nil {
			return err
		}
		stages = stages[:0]
		return db.Model(&DiagnosisLog{}).
			Where("status = ?", "rejected").
			Select("stage, COUNT(*) AS count").
			Group("stage").
			Scan(&stages).Error
	})
	if err != nil {
		return nil, err
	}

	agg := &MetricsAggregation{
		TotalCount:                 totals.Total,
		ClassifiedCount:            totals.Classified,
		AverageConfidence:          confidence.AvgConfidence,
		AverageProcessingLatencyMs: totals.AvgLatency,
		RejectionsByStage:          make(map[string]int64, len(stages)),
	}
	for _, s := range stages {
		agg.RejectionsByStage[s.Stage] = s.Count
	}
	return agg, nil
}

func (r *DiagnosisRepository) executeWithRetry(ctx context.Context, operation, requestID string, fn func() error) error {
	attempts := r.retryAttempts
	if attempts < 1 {
		attempts = 1
	}

	backoff := r.initialBackoff
	opLogger := logging.WithOperation(r.logger, operation, requestID)
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= r.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("database operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}
		if errors.Is(err, ErrNotFound) {
			return logging.NewOperationError(operation, requestID, err)
		}
		if !isTransientError(err) || attempt == attempts-1 {
			opLogger.Error("database operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, requestID, err)
		}
		opLogger.Warn("transient database error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
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
