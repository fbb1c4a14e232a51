// Package transcript normalizes speech-to-text output toward the vocabulary
// the tool layer understands. Whisper happily emits "sleep ours" or
// "hart rate"; the tools expect "sleep hours" and "heart rate". The Normalizer
// aligns spoken n-grams with known terms phonetically so the model receives
// text it can map to tool arguments without guessing.
package transcript

import (
	"strings"

	"github.com/MrWong99/auricle/internal/store"
)

// Matcher aligns a spoken word or phrase with a known vocabulary term.
// When matched is false, corrected equals the input unchanged and confidence
// is 0. Implemented by phonetic.Matcher.
type Matcher interface {
	Match(word string, vocabulary []string) (corrected string, confidence float64, matched bool)
}

// Correction records one replacement the normalizer made.
type Correction struct {
	Original   string
	Corrected  string
	Confidence float64
}

// DefaultVocabulary returns the spoken forms of every term the tool layer
// accepts: health metrics, expense categories, and mood labels. Metric names
// are stored snake_case but spoken with spaces.
func DefaultVocabulary() []string {
	var vocab []string
	for _, m := range store.Metrics() {
		vocab = append(vocab, strings.ReplaceAll(m, "_", " "))
	}
	vocab = append(vocab, store.Categories()...)
	vocab = append(vocab, store.MoodGreat, store.MoodGood, store.MoodOkay,
		store.MoodTired, store.MoodStressed)
	return vocab
}

// Normalizer rewrites transcripts in terms of a fixed vocabulary. Safe for
// concurrent use; it is read-only after construction.
type Normalizer struct {
	matcher  Matcher
	vocab    []string
	maxWords int
}

// NewNormalizer builds a Normalizer over vocabulary using matcher. A nil or
// empty vocabulary yields a Normalizer that passes text through unchanged.
func NewNormalizer(matcher Matcher, vocabulary []string) *Normalizer {
	maxWords := 0
	for _, term := range vocabulary {
		if n := len(strings.Fields(term)); n > maxWords {
			maxWords = n
		}
	}
	return &Normalizer{matcher: matcher, vocab: vocabulary, maxWords: maxWords}
}

// Normalize aligns the transcript with the vocabulary and returns the
// rewritten text plus the corrections applied. Token windows are tried
// longest-first at each position so multi-word terms win over partial
// single-word matches; exact (case-insensitive) hits are kept as-is without
// being recorded as corrections.
func (n *Normalizer) Normalize(text string) (string, []Correction) {
	tokens := strings.Fields(text)
	if len(tokens) == 0 || n.maxWords == 0 || n.matcher == nil {
		return text, nil
	}

	var out []string
	var corrections []Correction

	i := 0
	for i < len(tokens) {
		width := n.maxWords
		if i+width > len(tokens) {
			width = len(tokens) - i
		}

		matched := false
		for w := width; w >= 1; w-- {
			window := strings.Join(tokens[i:i+w], " ")
			term, conf, ok := n.matcher.Match(window, n.vocab)
			if !ok {
				continue
			}
			out = append(out, strings.Fields(term)...)
			if !strings.EqualFold(window, term) {
				corrections = append(corrections, Correction{
					Original:   window,
					Corrected:  term,
					Confidence: conf,
				})
			}
			i += w
			matched = true
			break
		}
		if !matched {
			out = append(out, tokens[i])
			i++
		}
	}

	return strings.Join(out, " "), corrections
}
