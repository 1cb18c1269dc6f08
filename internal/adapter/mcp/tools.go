package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/Strob0t/MedOrch/internal/domain/specialist"
	"github.com/Strob0t/MedOrch/internal/service"
)

// registerTools registers all MCP tools on the server.
func (s *Server) registerTools() {
	s.mcpServer.AddTools(
		s.orchestrateTool(),
		s.analyzeTool(),
		s.agentStatusTool(),
		s.statsTool(),
	)
}

func (s *Server) orchestrateTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("orchestrate_query",
		mcplib.WithDescription("Answer a medical question by routing it to one or more specialists and merging their answers"),
		mcplib.WithString("query",
			mcplib.Required(),
			mcplib.Description("The user's medical question"),
		),
		mcplib.WithString("session_id",
			mcplib.Description("Conversation session; the default session when omitted"),
		),
		mcplib.WithString("image_base64",
			mcplib.Description("Optional base64 image for the imaging specialists"),
		),
		mcplib.WithString("image_type",
			mcplib.Description("Optional image kind, e.g. skin, chest_xray"),
		),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleOrchestrate}
}

func (s *Server) analyzeTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("analyze_query",
		mcplib.WithDescription("Show how a question would be routed without consulting any specialist"),
		mcplib.WithString("query",
			mcplib.Required(),
			mcplib.Description("The question to route"),
		),
		mcplib.WithReadOnlyHintAnnotation(true),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleAnalyze}
}

func (s *Server) agentStatusTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("agent_status",
		mcplib.WithDescription("List registered specialists and whether each is initialized"),
		mcplib.WithReadOnlyHintAnnotation(true),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleAgentStatus}
}

func (s *Server) statsTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("orchestration_stats",
		mcplib.WithDescription("Audit statistics and memory sizes for a session"),
		mcplib.WithString("session_id",
			mcplib.Description("Conversation session; the default session when omitted"),
		),
		mcplib.WithReadOnlyHintAnnotation(true),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleStats}
}

func (s *Server) session(id string) (*service.Orchestrator, error) {
	if s.deps.Sessions == nil {
		return nil, fmt.Errorf("sessions not configured")
	}
	return s.deps.Sessions.GetOrCreate(id)
}

func (s *Server) handleOrchestrate(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	query := req.GetString("query", "")
	if query == "" {
		return mcplib.NewToolResultError("query is required"), nil
	}
	orch, err := s.session(req.GetString("session_id", ""))
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("session unavailable", err), nil
	}

	c := specialist.Context{}
	if img := req.GetString("image_base64", ""); img != "" {
		c[specialist.KeyImage] = img
	}
	if t := req.GetString("image_type", ""); t != "" {
		c[specialist.KeyImageType] = t
	}

	res := orch.Orchestrate(ctx, query, c)
	if res.Failed() {
		return mcplib.NewToolResultError(res.Error), nil
	}
	return marshalResult(res, "result")
}

func (s *Server) handleAnalyze(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	query := req.GetString("query", "")
	if query == "" {
		return mcplib.NewToolResultError("query is required"), nil
	}
	orch, err := s.session("")
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("session unavailable", err), nil
	}
	return marshalResult(orch.AnalyzeQuery(ctx, query, nil), "routing decision")
}

func (s *Server) handleAgentStatus(_ context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	orch, err := s.session("")
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("session unavailable", err), nil
	}
	return marshalResult(map[string]any{
		"agents": orch.Agents(),
		"status": orch.AgentStatus(),
	}, "agent status")
}

func (s *Server) handleStats(_ context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	orch, err := s.session(req.GetString("session_id", ""))
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("session unavailable", err), nil
	}
	mem := orch.Memory()
	return marshalResult(map[string]any{
		"session_id": orch.SessionID(),
		"stats":      mem.Stats(),
		"size":       mem.Size(),
	}, "stats")
}

func marshalResult(v any, what string) (*mcplib.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal "+what, err), nil
	}
	return mcplib.NewToolResultText(string(data)), nil
}
