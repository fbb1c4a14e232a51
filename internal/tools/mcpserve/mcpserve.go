// Package mcpserve exposes the tool registry as a Model Context Protocol
// server, so desktop agents can call the same nine tools the voice pipeline
// uses. Dispatch semantics are identical: every outcome is a JSON envelope,
// and handler failure details never leave the process.
package mcpserve

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/jsonschema-go/jsonschema"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/auricle/internal/tools"
	"github.com/MrWong99/auricle/pkg/provider/llm"
)

// serverName identifies this process to MCP clients.
const serverName = "auricle-tools"

// New builds an MCP server publishing every tool in the registry. The
// registry stays the single dispatch path, so validation envelopes and
// failure redaction behave exactly as they do for the LLM.
func New(reg *tools.Registry, version string) (*mcpsdk.Server, error) {
	if reg == nil {
		return nil, fmt.Errorf("mcpserve: registry must not be nil")
	}
	if version == "" {
		version = "dev"
	}

	srv := mcpsdk.NewServer(&mcpsdk.Implementation{Name: serverName, Version: version}, nil)

	for _, def := range reg.Definitions() {
		schema, err := toSchema(def)
		if err != nil {
			return nil, fmt.Errorf("mcpserve: schema for %q: %w", def.Name, err)
		}
		srv.AddTool(&mcpsdk.Tool{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: schema,
		}, dispatchHandler(reg, def.Name))
	}
	return srv, nil
}

// Handler serves the MCP server over streamable HTTP.
func Handler(srv *mcpsdk.Server) http.Handler {
	return mcpsdk.NewStreamableHTTPHandler(
		func(*http.Request) *mcpsdk.Server { return srv },
		nil,
	)
}

// dispatchHandler adapts one registry tool to the MCP handler signature.
func dispatchHandler(reg *tools.Registry, name string) mcpsdk.ToolHandler {
	return func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		args := "{}"
		if len(req.Params.Arguments) > 0 {
			args = string(req.Params.Arguments)
		}
		out := reg.Dispatch(ctx, name, args)
		return &mcpsdk.CallToolResult{
			Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: out}},
			IsError: isErrorEnvelope(out),
		}, nil
	}
}

// toSchema converts a tool definition's parameter map into a JSON schema via
// a marshal round trip. The llm package keeps parameters as a plain map; the
// SDK wants the typed schema.
func toSchema(def llm.ToolDefinition) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(def.Parameters)
	if err != nil {
		return nil, err
	}
	var schema jsonschema.Schema
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil, err
	}
	return &schema, nil
}

// isErrorEnvelope reports whether a dispatch result is one of the registry's
// error envelopes, so MCP clients see the error flag without parsing text.
func isErrorEnvelope(out string) bool {
	var envelope struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal([]byte(out), &envelope); err != nil {
		return false
	}
	return envelope.Error != ""
}
