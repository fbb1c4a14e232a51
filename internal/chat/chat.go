// Package chat implements the assistant's conversational core: one Engine
// per session that turns a user utterance into an ordered stream of spoken
// sentences.
//
// A turn walks through the full reasoning pipeline:
//
//  1. Assemble the system prompt from the static persona, the hot context
//     digest for this user text, and the static tool policy.
//  2. Pick the fast or deep model for the turn via [tier.Selector].
//  3. Stream the completion, cutting sentences out of the token stream as
//     they complete so speech synthesis can start on the first one.
//  4. Execute any requested tool calls through the [tools.Registry], feed
//     the results back, and re-invoke the same model, up to a bounded number
//     of rounds.
//  5. Record the finished exchange in history, tool rounds included, and
//     archive the user/assistant pair. History is FIFO-trimmed.
//
// Rate-limited provider calls are retried with exponential backoff; all
// other provider failures surface as [ErrLLM]. Concurrent LLM calls across
// every Engine in the process are capped by a shared semaphore so a burst of
// sessions cannot stampede the backend.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/MrWong99/auricle/internal/hotctx"
	"github.com/MrWong99/auricle/internal/store"
	"github.com/MrWong99/auricle/internal/tier"
	"github.com/MrWong99/auricle/internal/tools"
	"github.com/MrWong99/auricle/pkg/provider/llm"
)

// ErrLLM marks a model failure that is not a rate limit and not a
// cancellation. The session layer speaks an apology and returns to
// listening when a turn ends with one of these.
var ErrLLM = errors.New("chat: model failure")

// capReply is spoken as the entire response when the model is still asking
// for tools after the final round.
const capReply = "I wasn't able to complete that request."

const (
	defaultMaxRounds   = 5
	defaultHistoryMax  = 20
	defaultContextDays = 7
	defaultTemperature = 0.7

	// sentenceBuffer bounds the per-turn sentence channel. When the
	// consumer (TTS) falls this far behind, generation blocks instead of
	// buffering the whole response in memory.
	sentenceBuffer = 16

	// callTimeout is the soft deadline applied to each individual provider
	// call. The turn's own context still cancels earlier if the session ends.
	callTimeout = 30 * time.Second
)

// backoffDelays are the base waits between rate-limit retries; jitter is
// added on top. One initial attempt plus one retry per delay.
var backoffDelays = []time.Duration{
	1 * time.Second,
	2 * time.Second,
	4 * time.Second,
	8 * time.Second,
}

// gate caps in-flight LLM calls process-wide, across all sessions. This is
// deliberately package state: the limit protects the provider account, not
// any single engine.
var gate = semaphore.NewWeighted(3)

// SetConcurrency resizes the process-wide LLM gate. Call once during
// startup, before any turn is in flight; swapping the gate while calls hold
// slots would release them into the discarded semaphore.
func SetConcurrency(n int64) {
	if n < 1 {
		n = 1
	}
	gate = semaphore.NewWeighted(n)
}

// jitter returns a random perturbation of 0.1–0.3s, randomly signed, so
// throttled clients do not retry in lockstep.
func jitter() time.Duration {
	d := 100*time.Millisecond + rand.N(200*time.Millisecond)
	if rand.IntN(2) == 0 {
		return -d
	}
	return d
}

// Archiver persists finished exchanges. *store.Store satisfies it.
type Archiver interface {
	RecordConversation(ctx context.Context, c store.Conversation) (int64, error)
}

// Indexer embeds an archived user turn for later semantic recall.
type Indexer interface {
	IndexTurn(ctx context.Context, conversationID int64, text string) error
}

// TurnMetrics summarises one completed turn for observability.
type TurnMetrics struct {
	Model         string
	Deep          bool
	Rounds        int
	ToolCalls     int
	FirstSentence time.Duration // zero when the turn produced no sentences
	ToolTime      time.Duration
	Total         time.Duration
}

// Observer receives metrics for every successfully completed turn.
type Observer interface {
	ObserveTurn(m TurnMetrics)
}

// Engine drives the reasoning pipeline for one session. Turns are
// serialised internally; Chat may be called from any goroutine.
type Engine struct {
	selector  *tier.Selector
	registry  *tools.Registry
	assembler *hotctx.Builder
	archive   Archiver
	indexer   Indexer
	observer  Observer

	maxTokens   int
	temperature float64
	maxRounds   int
	historyMax  int
	contextDays int
	sleep       func(ctx context.Context, d time.Duration) error

	mu      sync.Mutex
	history []llm.Message
	full    string
}

// Option configures an Engine.
type Option func(*Engine)

// WithArchiver persists each finished exchange to the conversation archive.
func WithArchiver(a Archiver) Option {
	return func(e *Engine) { e.archive = a }
}

// WithIndexer embeds each archived user turn for semantic recall.
func WithIndexer(i Indexer) Option {
	return func(e *Engine) { e.indexer = i }
}

// WithObserver reports per-turn metrics.
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// WithMaxTokens caps completion tokens per provider call. Zero keeps the
// provider default.
func WithMaxTokens(n int) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.maxTokens = n
		}
	}
}

// WithTemperature sets the sampling temperature for all calls.
func WithTemperature(t float64) Option {
	return func(e *Engine) {
		if t >= 0 {
			e.temperature = t
		}
	}
}

// WithMaxRounds bounds how many provider calls a single turn may make while
// the model keeps requesting tools.
func WithMaxRounds(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxRounds = n
		}
	}
}

// WithHistoryLimit bounds the retained conversation history in messages;
// the oldest are dropped first.
func WithHistoryLimit(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.historyMax = n
		}
	}
}

// WithContextDays sets how far back the hot-context digest looks.
func WithContextDays(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.contextDays = n
		}
	}
}

// New builds an Engine. The selector, registry, and assembler are required.
func New(selector *tier.Selector, registry *tools.Registry, assembler *hotctx.Builder, opts ...Option) (*Engine, error) {
	if selector == nil {
		return nil, errors.New("chat: selector must not be nil")
	}
	if registry == nil {
		return nil, errors.New("chat: registry must not be nil")
	}
	if assembler == nil {
		return nil, errors.New("chat: assembler must not be nil")
	}
	e := &Engine{
		selector:    selector,
		registry:    registry,
		assembler:   assembler,
		temperature: defaultTemperature,
		maxRounds:   defaultMaxRounds,
		historyMax:  defaultHistoryMax,
		contextDays: defaultContextDays,
		sleep:       sleepCtx,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Turn is one in-flight exchange. Sentences delivers the assistant's reply
// in order; once the channel is closed, Err reports how the turn ended.
//
// The caller must keep draining Sentences (or cancel the turn's context):
// the channel is bounded, and generation blocks when it fills.
type Turn struct {
	sentences chan string
	err       error
}

// Sentences returns the ordered sentence stream for this turn. The channel
// is closed when the turn finishes, successfully or not.
func (t *Turn) Sentences() <-chan string { return t.sentences }

// Err reports how the turn ended. Valid only after Sentences is closed; nil
// means the reply completed normally.
func (t *Turn) Err() error { return t.err }

// Chat starts a turn for the given user text and returns immediately. The
// reply streams through the returned Turn. Cancelling ctx aborts the turn.
func (e *Engine) Chat(ctx context.Context, userText string) *Turn {
	t := &Turn{sentences: make(chan string, sentenceBuffer)}
	go e.run(ctx, userText, t)
	return t
}

// Reset clears the conversation history and the last response. In-flight
// turns finish first; cancel their context to interrupt.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.history = nil
	e.full = ""
	slog.Info("chat: history reset")
}

// FullResponse returns the complete text of the last finished turn.
func (e *Engine) FullResponse() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.full
}

// roundResult is what one provider call produced.
type roundResult struct {
	text      string
	toolCalls []llm.ToolCall
}

// run executes one full turn and closes t.sentences when done. Turns are
// serialised on e.mu so history stays coherent.
func (e *Engine) run(ctx context.Context, userText string, t *Turn) {
	defer close(t.sentences)

	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()

	system := e.systemPrompt(ctx, userText)
	provider, decision := e.selector.Select(userText)

	userMsg := llm.Message{Role: llm.RoleUser, Content: userText}
	msgs := make([]llm.Message, len(e.history), len(e.history)+1)
	copy(msgs, e.history)
	msgs = append(msgs, userMsg)

	req := llm.CompletionRequest{
		Messages:     msgs,
		Tools:        e.registry.Definitions(),
		Temperature:  e.temperature,
		MaxTokens:    e.maxTokens,
		SystemPrompt: system,
	}

	var (
		scan      sentenceScanner
		spoken    []string
		firstAt   time.Duration
		toolTime  time.Duration
		toolCalls int
		rounds    int
		capped    bool
	)

	emit := func(s string) bool {
		if s == "" {
			return true
		}
		select {
		case t.sentences <- s:
			if firstAt == 0 {
				firstAt = time.Since(start)
			}
			spoken = append(spoken, s)
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		rounds++
		res, err := e.streamRound(ctx, provider, req, &scan, emit)
		if err != nil {
			t.err = err
			slog.Error("chat: turn failed",
				"model", decision.Model, "round", rounds, "error", err)
			return
		}
		if len(res.toolCalls) == 0 {
			break
		}

		toolCalls += len(res.toolCalls)
		req.Messages = append(req.Messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   res.text,
			ToolCalls: res.toolCalls,
		})
		toolStart := time.Now()
		for _, call := range res.toolCalls {
			result := e.registry.Dispatch(ctx, call.Name, call.Arguments)
			req.Messages = append(req.Messages, llm.Message{
				Role:       llm.RoleTool,
				Content:    result,
				ToolCallID: call.ID,
			})
		}
		toolTime += time.Since(toolStart)

		if rounds >= e.maxRounds {
			capped = true
			break
		}
	}

	if capped {
		slog.Warn("chat: tool round limit reached",
			"model", decision.Model, "rounds", rounds, "tool_calls", toolCalls)
		if !emit(capReply) {
			t.err = fmt.Errorf("chat: %w", ctx.Err())
			return
		}
	}

	reply := strings.Join(spoken, " ")
	// Retain the whole exchange, tool rounds included. A follow-up turn like
	// "and yesterday?" needs the tool results the model already saw, not just
	// the spoken summary of them.
	e.history = append(e.history, req.Messages[len(e.history):]...)
	e.history = append(e.history, llm.Message{Role: llm.RoleAssistant, Content: reply})
	e.trimHistory()
	e.full = reply

	total := time.Since(start)
	e.archiveTurn(ctx, userText, reply, decision.Model, total)

	if e.observer != nil {
		e.observer.ObserveTurn(TurnMetrics{
			Model:         decision.Model,
			Deep:          decision.Deep,
			Rounds:        rounds,
			ToolCalls:     toolCalls,
			FirstSentence: firstAt,
			ToolTime:      toolTime,
			Total:         total,
		})
	}
	slog.Info("chat: turn complete",
		"model", decision.Model,
		"rounds", rounds,
		"tool_calls", toolCalls,
		"first_sentence_ms", firstAt.Milliseconds(),
		"tool_ms", toolTime.Milliseconds(),
		"total_ms", total.Milliseconds())
}

// streamRound performs one provider call, retrying rate limits with backoff
// as long as nothing has been spoken yet. At most len(backoffDelays) retries
// follow the initial attempt.
func (e *Engine) streamRound(ctx context.Context, p llm.Provider, req llm.CompletionRequest, scan *sentenceScanner, emit func(string) bool) (roundResult, error) {
	for attempt := 1; ; attempt++ {
		res, emitted, err := e.streamOnce(ctx, p, req, scan, emit)
		if err == nil {
			if attempt > 1 {
				slog.Info("chat: rate limit recovered", "model", p.Model(), "attempts", attempt)
			}
			return res, nil
		}
		if !errors.Is(err, llm.ErrRateLimit) || emitted || attempt > len(backoffDelays) {
			return res, err
		}
		delay := backoffDelays[attempt-1] + jitter()
		slog.Warn("chat: rate limited, backing off",
			"model", p.Model(), "attempt", attempt, "delay", delay)
		scan.reset()
		if serr := e.sleep(ctx, delay); serr != nil {
			return res, serr
		}
	}
}

// streamOnce performs a single provider call under the process-wide gate and
// feeds its text through the sentence scanner. emitted reports whether any
// sentence reached the caller, which makes the attempt unretryable.
func (e *Engine) streamOnce(ctx context.Context, p llm.Provider, req llm.CompletionRequest, scan *sentenceScanner, emit func(string) bool) (res roundResult, emitted bool, err error) {
	g := gate
	if aerr := g.Acquire(ctx, 1); aerr != nil {
		return res, false, fmt.Errorf("chat: acquire llm slot: %w", aerr)
	}
	defer g.Release(1)

	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	ch, serr := p.StreamCompletion(callCtx, req)
	if serr != nil {
		return res, false, wrapProviderErr(serr)
	}

	var text strings.Builder
	var streamErr error
	for chunk := range ch {
		if chunk.Err != nil {
			streamErr = wrapProviderErr(chunk.Err)
			continue
		}
		if chunk.Text != "" {
			text.WriteString(chunk.Text)
			for _, s := range scan.feed(chunk.Text) {
				if !emit(s) {
					go drainChunks(ch)
					return res, emitted, fmt.Errorf("chat: %w", ctx.Err())
				}
				emitted = true
			}
		}
		if len(chunk.ToolCalls) > 0 {
			res.toolCalls = append(res.toolCalls, chunk.ToolCalls...)
		}
	}
	res.text = text.String()

	if cerr := ctx.Err(); cerr != nil {
		return res, emitted, fmt.Errorf("chat: %w", cerr)
	}
	if streamErr != nil {
		return res, emitted, streamErr
	}

	// Tool rounds hold their text open; the continuation after the results
	// may complete the sentence.
	if len(res.toolCalls) == 0 {
		if rest := scan.flush(); rest != "" {
			if !emit(rest) {
				return res, emitted, fmt.Errorf("chat: %w", ctx.Err())
			}
			emitted = true
		}
	}
	return res, emitted, nil
}

// archiveTurn persists the finished exchange and indexes the user turn for
// recall. Failures are logged, never fatal: the user already heard the
// reply. Runs detached from the turn context so a disconnect right after
// completion does not lose the record.
func (e *Engine) archiveTurn(ctx context.Context, userText, reply, model string, total time.Duration) {
	if e.archive == nil {
		return
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	userID, err := e.archive.RecordConversation(actx, store.Conversation{
		Role:    store.RoleUser,
		Content: userText,
	})
	if err != nil {
		slog.Error("chat: archive user turn", "error", err)
		return
	}
	if _, err := e.archive.RecordConversation(actx, store.Conversation{
		Role:      store.RoleAssistant,
		Content:   reply,
		ModelUsed: model,
		LatencyMs: total.Milliseconds(),
	}); err != nil {
		slog.Error("chat: archive assistant turn", "error", err)
	}
	if e.indexer != nil {
		if err := e.indexer.IndexTurn(actx, userID, userText); err != nil {
			slog.Warn("chat: index turn for recall", "error", err)
		}
	}
}

// systemPrompt assembles persona + hot context + tool policy. The persona
// and policy blocks are static so prompt-caching providers reuse them; only
// the middle context block changes between turns.
func (e *Engine) systemPrompt(ctx context.Context, userText string) string {
	hot, err := e.assembler.BuildFor(ctx, userText, e.contextDays)
	if err != nil {
		slog.Warn("chat: hot context unavailable", "error", err)
		hot = ""
	}
	parts := make([]string, 0, 3)
	parts = append(parts, personaPrompt)
	if hot != "" {
		parts = append(parts, hot)
	}
	parts = append(parts, toolPolicyPrompt)
	return strings.Join(parts, "\n\n")
}

// trimHistory drops the oldest messages beyond the retention limit, then any
// leading tool results whose requesting assistant message got trimmed away.
// Providers reject a tool message with no preceding tool call.
func (e *Engine) trimHistory() {
	if len(e.history) > e.historyMax {
		trimmed := make([]llm.Message, e.historyMax)
		copy(trimmed, e.history[len(e.history)-e.historyMax:])
		e.history = trimmed
	}
	for len(e.history) > 0 && e.history[0].Role == llm.RoleTool {
		e.history = e.history[1:]
	}
}

// wrapProviderErr classifies a provider failure: rate limits pass through
// unwrapped for the retry loop, everything else becomes ErrLLM.
func wrapProviderErr(err error) error {
	if errors.Is(err, llm.ErrRateLimit) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrLLM, err)
}

// sleepCtx waits for d or until ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("chat: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

// drainChunks discards the rest of an abandoned stream so the provider's
// goroutine can exit.
func drainChunks(ch <-chan llm.Chunk) {
	for range ch {
	}
}
