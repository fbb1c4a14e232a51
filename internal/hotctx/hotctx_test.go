package hotctx_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/auricle/internal/hotctx"
	"github.com/MrWong99/auricle/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(context.Background(), store.MemoryPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func mustLog(t *testing.T, st *store.Store, entry store.HealthLog) {
	t.Helper()
	if _, err := st.LogHealth(context.Background(), entry); err != nil {
		t.Fatalf("log health: %v", err)
	}
}

func TestBuild_Empty(t *testing.T) {
	t.Parallel()
	b := hotctx.New(newTestStore(t))

	got, err := b.Build(context.Background(), 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "" {
		t.Errorf("expected empty context without data, got %q", got)
	}
}

func TestBuild_Digest(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)

	mustLog(t, st, store.HealthLog{Metric: store.MetricSleepHours, Value: 6.5})
	mustLog(t, st, store.HealthLog{Metric: store.MetricSleepHours, Value: 5.9})
	mustLog(t, st, store.HealthLog{Metric: store.MetricSteps, Value: 8000})
	mustLog(t, st, store.HealthLog{Metric: store.MetricSteps, Value: 9000})
	mustLog(t, st, store.HealthLog{Metric: store.MetricMood, Value: 4})

	b := hotctx.New(st)
	got, err := b.Build(context.Background(), 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := "Recent health (7d): sleep 6.2h avg; steps 8500 avg; mood good"
	if got != want {
		t.Errorf("Build = %q\nwant    %q", got, want)
	}
}

func TestBuild_MoodIsMostRecentNotAverage(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)

	earlier := time.Now().UTC().Add(-2 * time.Hour)
	mustLog(t, st, store.HealthLog{Metric: store.MetricMood, Value: 5, Timestamp: earlier}) // great
	mustLog(t, st, store.HealthLog{Metric: store.MetricMood, Value: 1})                     // stressed, latest

	b := hotctx.New(st)
	got, err := b.Build(context.Background(), 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Average would be 3 ("okay"); the most recent entry must win.
	if !strings.Contains(got, "mood stressed") {
		t.Errorf("expected most recent mood, got %q", got)
	}
}

func TestBuild_OmitsMetricsWithoutData(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	mustLog(t, st, store.HealthLog{Metric: store.MetricWater, Value: 5})

	b := hotctx.New(st)
	got, err := b.Build(context.Background(), 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "Recent health (7d): water 5 glasses avg"
	if got != want {
		t.Errorf("Build = %q, want %q", got, want)
	}
}

func TestBuild_WindowNamesDays(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	mustLog(t, st, store.HealthLog{Metric: store.MetricSteps, Value: 100})

	b := hotctx.New(st)
	got, err := b.Build(context.Background(), 30)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(got, "Recent health (30d): ") {
		t.Errorf("expected 30d window in prefix, got %q", got)
	}
}

func TestBuild_ExcludesOldEntries(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)

	old := time.Now().UTC().AddDate(0, 0, -10)
	mustLog(t, st, store.HealthLog{Metric: store.MetricSteps, Value: 9999, Timestamp: old})

	b := hotctx.New(st)
	got, err := b.Build(context.Background(), 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "" {
		t.Errorf("entries outside the window must not appear, got %q", got)
	}
}

func TestBuildFor_FoldsInsights(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	mustLog(t, st, store.HealthLog{Metric: store.MetricSteps, Value: 8000})
	if _, err := st.SaveInsight(context.Background(), "prefers morning workouts"); err != nil {
		t.Fatalf("save insight: %v", err)
	}

	b := hotctx.New(st)
	got, err := b.BuildFor(context.Background(), "how am I doing?", 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(got, "Recent health (7d): steps 8000 avg") {
		t.Errorf("missing health digest: %q", got)
	}
	if !strings.Contains(got, "Known about the user: prefers morning workouts") {
		t.Errorf("missing insights line: %q", got)
	}
}

// stubRecaller returns canned snippets for any query.
type stubRecaller struct {
	snippets []string
	err      error
	gotText  string
	gotK     int
}

func (s *stubRecaller) Relevant(ctx context.Context, text string, k int) ([]string, error) {
	s.gotText, s.gotK = text, k
	return s.snippets, s.err
}

func TestBuildFor_FoldsRecall(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	rec := &stubRecaller{snippets: []string{"asked about marathon training last week"}}

	b := hotctx.New(st, hotctx.WithRecall(rec))
	got, err := b.BuildFor(context.Background(), "plan my week", 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(got, "Relevant past context: asked about marathon training last week") {
		t.Errorf("missing recall line: %q", got)
	}
	if rec.gotText != "plan my week" {
		t.Errorf("recaller received %q", rec.gotText)
	}
	if rec.gotK <= 0 {
		t.Errorf("recaller received k=%d", rec.gotK)
	}
}

func TestBuildFor_RecallFailureDegrades(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	mustLog(t, st, store.HealthLog{Metric: store.MetricSteps, Value: 8000})
	rec := &stubRecaller{err: errors.New("embeddings offline")}

	b := hotctx.New(st, hotctx.WithRecall(rec))
	got, err := b.BuildFor(context.Background(), "plan my week", 7)
	if err != nil {
		t.Fatalf("recall failure must not fail the build: %v", err)
	}
	if !strings.Contains(got, "Recent health") {
		t.Errorf("health digest should survive recall failure: %q", got)
	}
}

func TestBuildFor_AllEmpty(t *testing.T) {
	t.Parallel()
	b := hotctx.New(newTestStore(t))

	got, err := b.BuildFor(context.Background(), "hello", 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "" {
		t.Errorf("expected empty context, got %q", got)
	}
}
