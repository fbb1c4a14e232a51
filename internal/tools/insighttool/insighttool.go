// Package insighttool provides the "save_user_insight" tool, which lets the
// assistant persist durable observations about the user ("prefers morning
// workouts", "saving for a trip in December") for later conversations.
package insighttool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/MrWong99/auricle/internal/tools"
	"github.com/MrWong99/auricle/pkg/provider/llm"
)

// Store is the persistence surface the insight tool needs.
// *store.Store satisfies it.
type Store interface {
	SaveInsight(ctx context.Context, insight string) (int64, error)
}

// saveUserInsightArgs is the JSON-decoded input for the "save_user_insight" tool.
type saveUserInsightArgs struct {
	// Insight is the observation to remember.
	Insight string `json:"insight"`
}

// saveUserInsightResult is the JSON-encoded output of the "save_user_insight" tool.
type saveUserInsightResult struct {
	Status string `json:"status"`
	ID     int64  `json:"id"`
}

// makeSaveUserInsightHandler returns a handler for the "save_user_insight" tool.
func makeSaveUserInsightHandler(st Store) func(context.Context, string) (string, error) {
	return func(ctx context.Context, args string) (string, error) {
		var a saveUserInsightArgs
		if err := json.Unmarshal([]byte(args), &a); err != nil {
			return "", tools.Validationf("failed to parse arguments: %v", err)
		}
		if strings.TrimSpace(a.Insight) == "" {
			return "", tools.Validationf("insight must not be empty")
		}

		id, err := st.SaveInsight(ctx, strings.TrimSpace(a.Insight))
		if err != nil {
			return "", fmt.Errorf("insight tool: save_user_insight: %w", err)
		}

		res, err := json.Marshal(saveUserInsightResult{Status: "ok", ID: id})
		if err != nil {
			return "", fmt.Errorf("insight tool: save_user_insight: failed to encode result: %w", err)
		}
		return string(res), nil
	}
}

// NewTools constructs the insight tool set wired to the provided store.
func NewTools(st Store) []tools.Tool {
	return []tools.Tool{
		{
			Definition: llm.ToolDefinition{
				Name:        "save_user_insight",
				Description: "Persist a durable observation about the user so future conversations can build on it. Use for stable preferences, goals, and patterns, not for one-off facts.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"insight": map[string]any{
							"type":        "string",
							"description": "The observation to remember, phrased as a short standalone sentence.",
						},
					},
					"required": []string{"insight"},
				},
				EstimatedDurationMs: 10,
				MaxDurationMs:       100,
			},
			Handler: makeSaveUserInsightHandler(st),
		},
	}
}
