// Package tier decides which language model answers a turn. Short factual
// requests go to the fast model; long or analytical requests go to the deep
// model.
package tier

import (
	"log/slog"
	"strings"

	"github.com/MrWong99/auricle/pkg/provider/llm"
)

// deepTokenThreshold routes to the deep model once the estimated prompt size
// reaches this many tokens.
const deepTokenThreshold = 1000

// deepKeywords route to the deep model when they appear anywhere in the user
// text, case-insensitive.
var deepKeywords = []string{"analyze", "correlate", "optimize", "forecast", "pattern", "why"}

// Decision records why a model was chosen. It is logged and carried into the
// turn metrics.
type Decision struct {
	// Model is the chosen model's name.
	Model string

	// Deep is true when the deep model was selected.
	Deep bool

	// Estimate is the token estimate for the new user text.
	Estimate int

	// Keyword is the analytical keyword that triggered deep routing, or ""
	// when the token estimate (or nothing) did.
	Keyword string
}

// Selector picks between a fast and a deep provider.
type Selector struct {
	fast llm.Provider
	deep llm.Provider
}

// NewSelector constructs a Selector. Both providers must be non-nil; passing
// the same provider twice disables tiering.
func NewSelector(fast, deep llm.Provider) *Selector {
	return &Selector{fast: fast, deep: deep}
}

// Select returns the provider for a turn given the new user text, along with
// the decision that picked it. The estimate covers the new text alone;
// history length does not influence routing. The choice is logged together
// with the token estimate.
func (s *Selector) Select(userText string) (llm.Provider, Decision) {
	est, err := s.fast.CountTokens([]llm.Message{{Role: llm.RoleUser, Content: userText}})
	if err != nil {
		slog.Warn("tier: token estimate failed", "error", err)
		est = 0
	}

	d := Decision{Estimate: est}

	lower := strings.ToLower(userText)
	for _, kw := range deepKeywords {
		if strings.Contains(lower, kw) {
			d.Deep = true
			d.Keyword = kw
			break
		}
	}
	if est >= deepTokenThreshold {
		d.Deep = true
	}

	p := s.fast
	if d.Deep {
		p = s.deep
	}
	d.Model = p.Model()

	slog.Info("tier: model selected",
		"model", d.Model,
		"deep", d.Deep,
		"estimated_tokens", d.Estimate,
		"keyword", d.Keyword)
	return p, d
}
