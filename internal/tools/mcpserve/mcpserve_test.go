package mcpserve_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/auricle/internal/store"
	"github.com/MrWong99/auricle/internal/tools"
	"github.com/MrWong99/auricle/internal/tools/expensetool"
	"github.com/MrWong99/auricle/internal/tools/healthtool"
	"github.com/MrWong99/auricle/internal/tools/insighttool"
	"github.com/MrWong99/auricle/internal/tools/mcpserve"
)

// dialServer connects an in-memory MCP client session to a server built from
// the full tool catalog.
func dialServer(t *testing.T) *mcpsdk.ClientSession {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	st, err := store.Open(ctx, store.MemoryPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	reg, err := tools.NewRegistry(
		healthtool.NewTools(st),
		expensetool.NewTools(st),
		insighttool.NewTools(st),
	)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}

	srv, err := mcpserve.New(reg, "test")
	if err != nil {
		t.Fatalf("new mcp server: %v", err)
	}

	clientTransport, serverTransport := mcpsdk.NewInMemoryTransports()
	if _, err := srv.Connect(ctx, serverTransport, nil); err != nil {
		t.Fatalf("server connect: %v", err)
	}

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "test-client", Version: "test"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func callText(t *testing.T, res *mcpsdk.CallToolResult) string {
	t.Helper()
	var sb strings.Builder
	for _, c := range res.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	return sb.String()
}

func TestListToolsPublishesCatalog(t *testing.T) {
	t.Parallel()
	session := dialServer(t)

	res, err := session.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatalf("list tools: %v", err)
	}
	if len(res.Tools) != 9 {
		t.Fatalf("tools = %d, want 9", len(res.Tools))
	}

	names := make(map[string]bool, len(res.Tools))
	for _, tool := range res.Tools {
		names[tool.Name] = true
	}
	for _, want := range []string{
		"log_health", "get_health_today", "get_health_summary",
		"track_expense", "get_spending_today", "get_spending_summary",
		"get_budget_status", "calculate_savings_goal", "save_user_insight",
	} {
		if !names[want] {
			t.Errorf("catalog missing %q", want)
		}
	}
}

func TestCallToolDispatchesThroughRegistry(t *testing.T) {
	t.Parallel()
	session := dialServer(t)

	res, err := session.CallTool(context.Background(), &mcpsdk.CallToolParams{
		Name: "calculate_savings_goal",
		Arguments: map[string]any{
			"target_amount":  1200,
			"target_months":  6,
			"monthly_income": 4000,
		},
	})
	if err != nil {
		t.Fatalf("call tool: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected error result: %s", callText(t, res))
	}

	var body struct {
		Status               string  `json:"status"`
		MonthlySavingsNeeded float64 `json:"monthly_savings_needed"`
		Feasible             bool    `json:"feasible"`
	}
	if err := json.Unmarshal([]byte(callText(t, res)), &body); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if body.Status != "ok" || body.MonthlySavingsNeeded != 200 || !body.Feasible {
		t.Errorf("result = %+v", body)
	}
}

func TestCallToolValidationEnvelope(t *testing.T) {
	t.Parallel()
	session := dialServer(t)

	res, err := session.CallTool(context.Background(), &mcpsdk.CallToolParams{
		Name:      "log_health",
		Arguments: map[string]any{"metric": "sleep_hours"}, // value missing
	})
	if err != nil {
		t.Fatalf("call tool: %v", err)
	}
	if !res.IsError {
		t.Error("validation failure not flagged as error")
	}
	if out := callText(t, res); !strings.Contains(out, "Invalid arguments for log_health") {
		t.Errorf("envelope = %s", out)
	}
}
