package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/leafscan/internal/logging"
)

type transientTestError struct{}

func (transientTestError) Error() string   { return "transient" }
func (transientTestError) Timeout() bool   { return true }
func (transientTestError) Temporary() bool { return true }

func TestExecuteWithRetryRetriesTransientErrors(t *testing.T) {
	repo := &DiagnosisRepository{
		logger:         zap.NewNop(),
		retryAttempts:  3,
		initialBackoff: time.Millisecond,
		maxBackoff:     2 * time.Millisecond,
	}

	attempts := 0
	err := repo.executeWithRetry(context.Background(), "test.operation", "req-1", func() error {
		attempts++
		if attempts < 2 {
			return transientTestError{}
		}
		return nil
	})

	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

func TestExecuteWithRetryReturnsOperationError(t *testing.T) {
	repo := &DiagnosisRepository{
		logger:         zap.NewNop(),
		retryAttempts:  2,
		initialBackoff: time.Millisecond,
		maxBackoff:     2 * time.Millisecond,
	}

	attempts := 0
	err := repo.executeWithRetry(context.Background(), "test.operation", "req-2", func() error {
		attempts++
		return errors.New("boom")
	})

	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}

	var opErr *logging.OperationError
	if !errors.As(err, &opErr) {
		t.Fatalf("expected OperationError, got %T", err)
	}
	if opErr.Operation != "test.operation" {
		t.Fatalf("unexpected operation: %s", opErr.Operation)
	}
	if opErr.RequestID != "req-2" {
		t.Fatalf("unexpected request id: %s", opErr.RequestID)
	}
}

func TestExecuteWithRetryGivesUpAfterLastAttempt(t *testing.T) {
	repo := &DiagnosisRepository{
		logger:         zap.NewNop(),
		retryAttempts:  3,
		initialBackoff: time.Millisecond,
		maxBackoff:     time.Millisecond,
	}

	attempts := 0
	err := repo.executeWithRetry(context.Background(), "test.operation", "", func() error {
		attempts++
		return transientTestError{}
	})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func newSQLiteRepository(t *testing.T) *DiagnosisRepository {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "leafscan.db")), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	repo := NewDiagnosisRepository(db, zap.NewNop())
	if err := repo.AutoMigrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo
}

func seed(t *testing.T, repo *DiagnosisRepository, logs ...*DiagnosisLog) {
	t.Helper()
	for _, l := range logs {
		if err := repo.SaveLog(context.Background(), l); err != nil {
			t.Fatalf("save %s: %v", l.RequestID, err)
		}
	}
}

func TestRepositoryLookupsAgainstSQLite(t *testing.T) {
	repo := newSQLiteRepository(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	seed(t, repo,
		&DiagnosisLog{RequestID: "r1", UserID: "alice", ImageHash: "h1", Status: "classified", Stage: "classify", Label: "Tungro", Confidence: 0.9, CreatedAt: base},
		&DiagnosisLog{RequestID: "r2", UserID: "alice", ImageHash: "h1", Status: "classified", Stage: "classify", Label: "Tungro", Confidence: 0.9, CreatedAt: base.Add(time.Minute)},
		&DiagnosisLog{RequestID: "r3", UserID: "alice", ImageHash: "h2", Status: "rejected", Stage: "darkness", CreatedAt: base.Add(2 * time.Minute)},
		&DiagnosisLog{RequestID: "r4", UserID: "bob", ImageHash: "h1", Status: "rejected", Stage: "plant", CreatedAt: base},
	)

	log, err := repo.FindByRequestIDAndUser(ctx, "r1", "alice")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if log.Label != "Tungro" {
		t.Fatalf("unexpected label %q", log.Label)
	}

	if _, err := repo.FindByRequestIDAndUser(ctx, "r1", "bob"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign request, got %v", err)
	}

	dups, err := repo.FindDuplicatesByHash(ctx, "alice", "h1", "r1")
	if err != nil {
		t.Fatalf("duplicates: %v", err)
	}
	if len(dups) != 1 || dups[0].RequestID != "r2" {
		t.Fatalf("expected r2 as the only duplicate, got %+v", dups)
	}

	history, err := repo.ListByUser(ctx, "alice", 2)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 || history[0].RequestID != "r3" || history[1].RequestID != "r2" {
		t.Fatalf("unexpected history order: %+v", history)
	}
}

func TestAggregateMetrics(t *testing.T) {
	repo := newSQLiteRepository(t)
	ctx := context.Background()

	empty, err := repo.AggregateMetrics(ctx)
	if err != nil {
		t.Fatalf("aggregate empty: %v", err)
	}
	if empty.TotalCount != 0 || empty.ClassifiedCount != 0 {
		t.Fatalf("expected empty aggregation, got %+v", empty)
	}

	seed(t, repo,
		&DiagnosisLog{RequestID: "a", UserID: "u", Status: "classified", Stage: "classify", Confidence: 0.8, ProcessingLatencyMs: 10},
		&DiagnosisLog{RequestID: "b", UserID: "u", Status: "classified", Stage: "classify", Confidence: 0.6, ProcessingLatencyMs: 30},
		&DiagnosisLog{RequestID: "c", UserID: "u", Status: "rejected", Stage: "darkness", ProcessingLatencyMs: 5},
		&DiagnosisLog{RequestID: "d", UserID: "u", Status: "rejected", Stage: "darkness", ProcessingLatencyMs: 5},
		&DiagnosisLog{RequestID: "e", UserID: "u", Status: "rejected", Stage: "classify", ProcessingLatencyMs: 50},
	)

	agg, err := repo.AggregateMetrics(ctx)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if agg.TotalCount != 5 || agg.ClassifiedCount != 2 {
		t.Fatalf("unexpected counts: %+v", agg)
	}
	if diff := agg.AverageConfidence - 0.7; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("unexpected average confidence %v", agg.AverageConfidence)
	}
	if agg.AverageProcessingLatencyMs != 20 {
		t.Fatalf("unexpected average latency %v", agg.AverageProcessingLatencyMs)
	}
	if agg.RejectionsByStage["darkness"] != 2 || agg.RejectionsByStage["classify"] != 1 {
		t.Fatalf("unexpected stage breakdown %+v", agg.RejectionsByStage)
	}
}
