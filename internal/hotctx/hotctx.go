// Package hotctx builds the per-turn context paragraph that is injected into
// the assistant's system prompt: a one-line digest of recent health metrics,
// optionally enriched with stored user insights and embedding-recalled
// snippets from past conversations.
//
// Building the paragraph has no side effects; it reads from the store only.
package hotctx

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/MrWong99/auricle/internal/store"
)

// insightLimit caps how many stored insights are folded into the prompt.
const insightLimit = 5

// recallTopK caps how many recalled snippets are folded into the prompt.
const recallTopK = 3

// Source is the read-only store surface the builder needs.
// *store.Store satisfies it.
type Source interface {
	QueryHealth(ctx context.Context, f store.HealthFilter) ([]store.HealthLog, error)
	RecentInsights(ctx context.Context, limit int) ([]store.UserInsight, error)
}

// Recaller retrieves snippets from past conversations that are relevant to
// the given text. Implementations are expected to be embedding-backed; see
// the recall package.
type Recaller interface {
	Relevant(ctx context.Context, text string, k int) ([]string, error)
}

// Builder assembles the hot context. Zero-value Builder is not usable;
// construct with New.
type Builder struct {
	src    Source
	recall Recaller
}

// Option configures a Builder.
type Option func(*Builder)

// WithRecall attaches an embedding recaller. When set, BuildFor folds
// relevant past snippets into the context.
func WithRecall(r Recaller) Option {
	return func(b *Builder) {
		b.recall = r
	}
}

// New constructs a Builder reading from src.
func New(src Source, opts ...Option) *Builder {
	b := &Builder{src: src}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Build returns the health digest for the last days calendar days, for
// example:
//
//	Recent health (7d): sleep 6.2h avg; steps 8500 avg; mood good
//
// Metrics without observations are omitted; mood reports the most recent
// label rather than an average. Returns "" when there is no data at all.
func (b *Builder) Build(ctx context.Context, days int) (string, error) {
	if days <= 0 {
		days = 7
	}

	now := time.Now().UTC()
	from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).
		AddDate(0, 0, -(days - 1))

	logs, err := b.src.QueryHealth(ctx, store.HealthFilter{From: from})
	if err != nil {
		return "", fmt.Errorf("hotctx: query health: %w", err)
	}
	if len(logs) == 0 {
		return "", nil
	}

	type agg struct {
		sum   float64
		count int
	}
	sums := make(map[string]*agg)
	lastMood := ""
	for _, l := range logs {
		a := sums[l.Metric]
		if a == nil {
			a = &agg{}
			sums[l.Metric] = a
		}
		a.sum += l.Value
		a.count++
		// QueryHealth returns ascending order, so the last mood row wins.
		if l.Metric == store.MetricMood {
			lastMood = store.MoodLabel(l.Value)
		}
	}

	var segments []string
	for _, metric := range store.Metrics() {
		a, ok := sums[metric]
		if !ok {
			continue
		}
		avg := a.sum / float64(a.count)
		switch metric {
		case store.MetricSleepHours:
			segments = append(segments, fmt.Sprintf("sleep %.1fh avg", avg))
		case store.MetricSteps:
			segments = append(segments, fmt.Sprintf("steps %d avg", int(math.Round(avg))))
		case store.MetricHeartRate:
			segments = append(segments, fmt.Sprintf("heart rate %d bpm avg", int(math.Round(avg))))
		case store.MetricMood:
			segments = append(segments, "mood "+lastMood)
		case store.MetricWeight:
			segments = append(segments, fmt.Sprintf("weight %.1f lbs avg", avg))
		case store.MetricWater:
			segments = append(segments, fmt.Sprintf("water %d glasses avg", int(math.Round(avg))))
		case store.MetricExerciseMinutes:
			segments = append(segments, fmt.Sprintf("exercise %d min avg", int(math.Round(avg))))
		}
	}

	return fmt.Sprintf("Recent health (%dd): %s", days, strings.Join(segments, "; ")), nil
}

// BuildFor returns the full context block for one turn: the health digest
// plus stored user insights plus, when a recaller is attached, snippets from
// past conversations relevant to userText. Insight and recall failures
// degrade to a smaller context instead of failing the turn.
func (b *Builder) BuildFor(ctx context.Context, userText string, days int) (string, error) {
	health, err := b.Build(ctx, days)
	if err != nil {
		return "", err
	}

	var parts []string
	if health != "" {
		parts = append(parts, health)
	}

	if insights, err := b.src.RecentInsights(ctx, insightLimit); err != nil {
		slog.Warn("hotctx: insights unavailable", "error", err)
	} else if len(insights) > 0 {
		lines := make([]string, 0, len(insights))
		for _, in := range insights {
			lines = append(lines, in.Insight)
		}
		parts = append(parts, "Known about the user: "+strings.Join(lines, "; "))
	}

	if b.recall != nil && strings.TrimSpace(userText) != "" {
		if snippets, err := b.recall.Relevant(ctx, userText, recallTopK); err != nil {
			slog.Warn("hotctx: recall unavailable", "error", err)
		} else if len(snippets) > 0 {
			parts = append(parts, "Relevant past context: "+strings.Join(snippets, " | "))
		}
	}

	return strings.Join(parts, "\n"), nil
}
