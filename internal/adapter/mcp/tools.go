package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/Strob0t/aopguard/internal/domain/audit"
	"github.com/Strob0t/aopguard/internal/domain/protocol"
)

const (
	ToolDetect        = "aop_detect"
	ToolAuditSession  = "aop_audit_session"
	ToolReplaySession = "aop_replay_session"
)

// registerTools registers all MCP tools on the server.
func (s *Server) registerTools() {
	s.mcpServer.AddTools(
		s.detectTool(),
		s.auditSessionTool(),
		s.replaySessionTool(),
	)
}

func (s *Server) detectTool() mcpserver.ServerTool {
	tool := mcplib.NewTool(ToolDetect,
		mcplib.WithDescription("Classify a message as AOP v2, legacy v1 or unstructured and return its routing metadata"),
		mcplib.WithString("input",
			mcplib.Required(),
			mcplib.Description("The raw message text"),
		),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleDetect}
}

func (s *Server) auditSessionTool() mcpserver.ServerTool {
	tool := mcplib.NewTool(ToolAuditSession,
		mcplib.WithDescription("Run every compliance check over a session's audit trail"),
		mcplib.WithString("session_id",
			mcplib.Required(),
			mcplib.Description("The session to audit"),
		),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleAuditSession}
}

func (s *Server) replaySessionTool() mcpserver.ServerTool {
	tool := mcplib.NewTool(ToolReplaySession,
		mcplib.WithDescription("Replay a session's audit trail as annotated, time-ordered events"),
		mcplib.WithString("session_id",
			mcplib.Required(),
			mcplib.Description("The session to replay"),
		),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleReplaySession}
}

type detectResult struct {
	Version           protocol.Kind    `json:"version"`
	FallbackTriggered bool             `json:"fallback_triggered"`
	ValidationError   string           `json:"validation_error,omitempty"`
	Routing           protocol.Routing `json:"routing"`
}

func (s *Server) handleDetect(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Detector == nil {
		return mcplib.NewToolResultError("detector not configured"), nil
	}
	input, ok := req.GetArguments()["input"].(string)
	if !ok || input == "" {
		return mcplib.NewToolResultError("input is required"), nil
	}
	d := s.deps.Detector.Detect(ctx, input)
	res := detectResult{
		Version:           d.Kind,
		FallbackTriggered: d.FallbackTriggered,
		Routing:           s.deps.Detector.Route(d),
	}
	if d.Err != nil {
		res.ValidationError = d.Err.Error()
	}
	return toolResultJSON(res)
}

func (s *Server) handleAuditSession(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Auditor == nil {
		return mcplib.NewToolResultError("auditor not configured"), nil
	}
	sessionID, ok := sessionArg(req)
	if !ok {
		return mcplib.NewToolResultError("session_id is required"), nil
	}
	report, err := s.deps.Auditor.RunFullAudit(ctx, sessionID)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr(fmt.Sprintf("failed to audit session %s", sessionID), err), nil
	}
	return toolResultJSON(report)
}

func (s *Server) handleReplaySession(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Auditor == nil {
		return mcplib.NewToolResultError("auditor not configured"), nil
	}
	sessionID, ok := sessionArg(req)
	if !ok {
		return mcplib.NewToolResultError("session_id is required"), nil
	}
	events, err := s.deps.Auditor.ReplaySession(ctx, sessionID)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr(fmt.Sprintf("failed to replay session %s", sessionID), err), nil
	}
	if events == nil {
		events = []audit.ReplayEvent{}
	}
	return toolResultJSON(events)
}

func sessionArg(req mcplib.CallToolRequest) (string, bool) { //nolint:gocritic // hugeParam: mcp-go request type
	id, ok := req.GetArguments()["session_id"].(string)
	return id, ok && id != ""
}

func toolResultJSON(v any) (*mcplib.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal result", err), nil
	}
	return mcplib.NewToolResultText(string(data)), nil
}
