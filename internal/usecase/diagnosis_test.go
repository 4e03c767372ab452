package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/example/leafscan/internal/catalog"
	"github.com/example/leafscan/internal/logging"
	"github.com/example/leafscan/internal/pipeline"
	"github.com/example/leafscan/internal/repository"
)

type stubRepository struct {
	savedLogs  []*repository.DiagnosisLog
	saveErr    error
	findLog    *repository.DiagnosisLog
	findErr    error
	findCalls  int
	duplicates []*repository.DiagnosisLog
	history    []*repository.DiagnosisLog
	agg        *repository.MetricsAggregation
}

func (s *stubRepository) SaveLog(ctx context.Context, log *repository.DiagnosisLog) error {
	s.savedLogs = append(s.savedLogs, log)
	return s.saveErr
}

func (s *stubRepository) FindByRequestIDAndUser(ctx context.Context, requestID, userID string) (*repository.DiagnosisLog, error) {
	s.findCalls++
	if s.findErr != nil {
		return nil, s.findErr
	}
	if s.findLog != nil {
		return s.findLog, nil
	}
	return nil, repository.ErrNotFound
}

func (s *stubRepository) FindDuplicatesByHash(ctx context.Context, userID, hash, excludeRequestID string) ([]*repository.DiagnosisLog, error) {
	return s.duplicates, nil
}

func (s *stubRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*repository.DiagnosisLog, error) {
	return s.history, nil
}

func (s *stubRepository) AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error) {
	if s.agg == nil {
		return &repository.MetricsAggregation{}, nil
	}
	return s.agg, nil
}

type stubCache struct {
	setErrs   []error
	getErrs   []error
	getValues []string
	setKeys   []string
	setValues []interface{}
	getKeys   []string
}

func (s *stubCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	s.setKeys = append(s.setKeys, key)
	s.setValues = append(s.setValues, value)
	if len(s.setErrs) == 0 {
		return nil
	}
	err := s.setErrs[0]
	s.setErrs = s.setErrs[1:]
	return err
}

func (s *stubCache) Get(ctx context.Context, key string) (string, error) {
	s.getKeys = append(s.getKeys, key)
	var value string
	if len(s.getValues) > 0 {
		value = s.getValues[0]
		s.getValues = s.getValues[1:]
	}
	err := ErrCacheMiss
	if len(s.getErrs) > 0 {
		err = s.getErrs[0]
		s.getErrs = s.getErrs[1:]
	} else if value != "" {
		err = nil
	}
	return value, err
}

type stubPipeline struct {
	outcome pipeline.Outcome
	calls   int
}

func (s *stubPipeline) Run(data []byte) pipeline.Outcome {
	s.calls++
	return s.outcome
}

type transientRedisError struct{}

func (transientRedisError) Error() string   { return "redis transient" }
func (transientRedisError) Timeout() bool   { return true }
func (transientRedisError) Temporary() bool { return true }

func healthyOutcome() pipeline.Outcome {
	return pipeline.Classified(pipeline.ClassificationResult{
		PrimaryLabel:        "Healthy Leaves",
		PrimaryConfidence:   0.91,
		SecondaryLabel:      "Yellow Leaf",
		SecondaryConfidence: 0.04,
	})
}

func newUseCase(t *testing.T, repo DiagnosisRepository, cache Cache, p Pipeline) *DiagnosisUseCase {
	t.Helper()
	cat, err := catalog.Load()
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	uc := NewDiagnosisUseCase(repo, cache, p, cat, time.Minute, zap.NewNop())
	uc.initialBackoff = time.Millisecond
	uc.maxBackoff = 2 * time.Millisecond
	return uc
}

func TestDiagnoseRetriesCacheSet(t *testing.T) {
	cache := &stubCache{setErrs: []error{transientRedisError{}}}
	repo := &stubRepository{}
	uc := newUseCase(t, repo, cache, &stubPipeline{outcome: healthyOutcome()})

	report, err := uc.Diagnose(context.Background(), "user-1", "leaf.JPG", []byte("image"))
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if report.Rejected() {
		t.Fatalf("expected classified report, got %+v", report)
	}
	if len(cache.setKeys) < 4 {
		t.Fatalf("expected at least 4 cache set calls (retry + outcome + result), got %d", len(cache.setKeys))
	}
	if cache.setKeys[0] != cache.setKeys[1] {
		t.Fatalf("expected retry to target same key, got %s and %s", cache.setKeys[0], cache.setKeys[1])
	}
	if len(repo.savedLogs) != 1 {
		t.Fatalf("expected log to be saved, got %d entries", len(repo.savedLogs))
	}
	if report.Details == nil || report.Details.Type != "Normal Condition" {
		t.Fatalf("expected catalog details for healthy leaves, got %+v", report.Details)
	}
}

func TestDiagnoseReturnsOperationErrorOnCacheFailure(t *testing.T) {
	cache := &stubCache{setErrs: []error{errors.New("boom")}}
	repo := &stubRepository{}
	uc := newUseCase(t, repo, cache, &stubPipeline{outcome: healthyOutcome()})

	_, err := uc.Diagnose(context.Background(), "user-1", "leaf.png", []byte("image"))
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	var opErr *logging.OperationError
	if !errors.As(err, &opErr) {
		t.Fatalf("expected OperationError, got %T", err)
	}
	if opErr.Operation != "cache.set.processing" {
		t.Fatalf("unexpected operation: %s", opErr.Operation)
	}
}

func TestDiagnoseRejectsUnsupportedExtension(t *testing.T) {
	cache := &stubCache{}
	p := &stubPipeline{outcome: healthyOutcome()}
	uc := newUseCase(t, &stubRepository{}, cache, p)

	for _, name := range []string{"leaf.gif", "leaf", "leaf.png.exe", ""} {
		_, err := uc.Diagnose(context.Background(), "user-1", name, []byte("image"))
		if !errors.Is(err, ErrUnsupportedFile) {
			t.Fatalf("%q: expected ErrUnsupportedFile, got %v", name, err)
		}
	}
	if p.calls != 0 || len(cache.setKeys) != 0 {
		t.Fatalf("expected no work for rejected uploads, got %d runs and %d cache writes", p.calls, len(cache.setKeys))
	}
}

func TestDiagnoseReusesCachedOutcome(t *testing.T) {
	cache := NewMemoryCache(zap.NewNop(), 0)
	repo := &stubRepository{}
	p := &stubPipeline{outcome: healthyOutcome()}
	uc := newUseCase(t, repo, cache, p)

	first, err := uc.Diagnose(context.Background(), "user-1", "a.png", []byte("same-bytes"))
	if err != nil {
		t.Fatalf("first diagnose: %v", err)
	}
	second, err := uc.Diagnose(context.Background(), "user-2", "b.jpeg", []byte("same-bytes"))
	if err != nil {
		t.Fatalf("second diagnose: %v", err)
	}

	if p.calls != 1 {
		t.Fatalf("expected the pipeline to run once, ran %d times", p.calls)
	}
	if first.RequestID == second.RequestID {
		t.Fatal("expected distinct request ids")
	}
	if first.ImageHash != second.ImageHash || first.Label != second.Label || first.Confidence != second.Confidence {
		t.Fatalf("expected identical diagnoses, got %+v and %+v", first, second)
	}
}

func TestDiagnoseRejectionReportCarriesGuidance(t *testing.T) {
	repo := &stubRepository{}
	p := &stubPipeline{outcome: pipeline.Rejected(pipeline.StageDarkness, pipeline.MsgTooDark)}
	uc := newUseCase(t, repo, NoopCache{}, p)

	report, err := uc.Diagnose(context.Background(), "user-1", "night.jpg", []byte("dark"))
	if err != nil {
		t.Fatalf("expected rejection report, got error: %v", err)
	}
	if !report.Rejected() || report.Label != pipeline.InvalidInput {
		t.Fatalf("expected Invalid Input rejection, got %+v", report)
	}
	if report.Kind != pipeline.KindDarkness || report.Stage != pipeline.StageDarkness {
		t.Fatalf("unexpected stage/kind: %s/%s", report.Stage, report.Kind)
	}
	if !strings.Contains(report.Advice, "enough light") {
		t.Fatalf("unexpected advice: %q", report.Advice)
	}
	if report.Details != nil {
		t.Fatalf("rejections carry no catalog details, got %+v", report.Details)
	}
	if repo.savedLogs[0].Status != "rejected" || repo.savedLogs[0].Confidence != 0 {
		t.Fatalf("unexpected persisted log: %+v", repo.savedLogs[0])
	}
}

func TestGetResultFallsBackToRepositoryWhenCacheMiss(t *testing.T) {
	cache := &stubCache{getErrs: []error{ErrCacheMiss}}
	expected := &repository.DiagnosisLog{RequestID: "req", UserID: "user", Status: "classified", Label: "Tungro", Confidence: 0.8}
	repo := &stubRepository{findLog: expected}
	uc := newUseCase(t, repo, cache, &stubPipeline{})

	report, err := uc.GetResult(context.Background(), "user", "req")
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if report.RequestID != "req" || report.Label != "Tungro" {
		t.Fatalf("unexpected report %+v", report)
	}
	if report.Details == nil || report.Details.Type != "Viral Disease" {
		t.Fatalf("expected catalog details, got %+v", report.Details)
	}
	if repo.findCalls != 1 {
		t.Fatalf("expected repository to be queried once, got %d", repo.findCalls)
	}
}

func TestGetResultReportsProcessing(t *testing.T) {
	cache := &stubCache{getValues: []string{processingMarker("user")}}
	uc := newUseCase(t, &stubRepository{}, cache, &stubPipeline{})

	if _, err := uc.GetResult(context.Background(), "user", "req"); !errors.Is(err, ErrProcessing) {
		t.Fatalf("expected ErrProcessing, got %v", err)
	}
}

func TestGetResultHidesAnotherUsersPendingRequest(t *testing.T) {
	cache := &stubCache{getValues: []string{processingMarker("alice")}}
	repo := &stubRepository{}
	uc := newUseCase(t, repo, cache, &stubPipeline{})

	_, err := uc.GetResult(context.Background(), "mallory", "req")
	if !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if repo.findCalls != 1 {
		t.Fatalf("expected repository lookup, got %d", repo.findCalls)
	}
}

func TestDiagnoseMarksRequestProcessingForOwner(t *testing.T) {
	cache := &stubCache{}
	uc := newUseCase(t, &stubRepository{}, cache, &stubPipeline{outcome: healthyOutcome()})

	if _, err := uc.Diagnose(context.Background(), "alice", "leaf.jpg", []byte("img")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cache.setValues) == 0 || cache.setValues[0] != processingMarker("alice") {
		t.Fatalf("expected owner-scoped processing marker first, got %v", cache.setValues)
	}
}

func TestGetResultIgnoresAnotherUsersCachedReport(t *testing.T) {
	cache := &stubCache{getValues: []string{`{"request_id":"req","user_id":"mallory","label":"Tungro","status":"classified"}`}}
	repo := &stubRepository{}
	uc := newUseCase(t, repo, cache, &stubPipeline{})

	_, err := uc.GetResult(context.Background(), "alice", "req")
	if !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if repo.findCalls != 1 {
		t.Fatalf("expected repository lookup, got %d", repo.findCalls)
	}
}

func TestGetDuplicateReport(t *testing.T) {
	repo := &stubRepository{
		findLog:    &repository.DiagnosisLog{RequestID: "r2", UserID: "u", ImageHash: "h", Status: "classified", Label: "BrownRust"},
		duplicates: []*repository.DiagnosisLog{{RequestID: "r1", UserID: "u", ImageHash: "h", Status: "classified", Label: "BrownRust"}},
	}
	uc := newUseCase(t, repo, NoopCache{}, &stubPipeline{})

	report, err := uc.GetDuplicateReport(context.Background(), "u", "r2")
	if err != nil {
		t.Fatalf("duplicate report: %v", err)
	}
	if report.Request.RequestID != "r2" || len(report.Duplicates) != 1 || report.Duplicates[0].RequestID != "r1" {
		t.Fatalf("unexpected duplicate report %+v", report)
	}
}

func TestGetMetricsSummary(t *testing.T) {
	repo := &stubRepository{agg: &repository.MetricsAggregation{
		TotalCount:        4,
		ClassifiedCount:   1,
		AverageConfidence: 0.7,
		RejectionsByStage: map[string]int64{"darkness": 3},
	}}
	uc := newUseCase(t, repo, NoopCache{}, &stubPipeline{})

	summary, err := uc.GetMetricsSummary(context.Background())
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	if summary.ClassificationRate != 0.25 {
		t.Fatalf("unexpected classification rate %v", summary.ClassificationRate)
	}
	if summary.RejectionsByStage["darkness"] != 3 {
		t.Fatalf("unexpected stage breakdown %+v", summary.RejectionsByStage)
	}

	empty, err := newUseCase(t, &stubRepository{}, NoopCache{}, &stubPipeline{}).GetMetricsSummary(context.Background())
	if err != nil {
		t.Fatalf("empty metrics: %v", err)
	}
	if empty.ClassificationRate != 0 || empty.RejectionsByStage == nil {
		t.Fatalf("unexpected empty summary %+v", empty)
	}
}
