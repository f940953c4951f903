package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dcastano/ensemble/internal/engine"
	"github.com/dcastano/ensemble/internal/store"
	"github.com/dcastano/ensemble/pkg/schema"
)

// handleRun submits a workflow plan.
func (s *EnsembleServer) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	planRaw := mcp.ParseStringMap(req, "plan", nil)
	if planRaw == nil {
		return mcp.NewToolResultError("plan is required"), nil
	}

	// Marshal then unmarshal to get a typed WorkflowPlan.
	planBytes, err := json.Marshal(planRaw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid plan: %v", err)), nil
	}
	var p schema.WorkflowPlan
	if err := json.Unmarshal(planBytes, &p); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid plan: %v", err)), nil
	}

	handle, runErr := s.orchestrator.Run(ctx, &p, engine.RunOptions{
		DedupeKey: req.GetString("dedupe_key", ""),
	})
	if runErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("run submission failed: %v", runErr)), nil
	}

	return marshalResult(map[string]any{
		"run_id":   handle.RunID,
		"existing": handle.Existing,
		"outcome":  handle.Validation.Outcome,
		"warnings": handle.Validation.Warnings,
	})
}

// handleStatus returns aggregate progress for a run.
func (s *EnsembleServer) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}

	progress, statusErr := s.orchestrator.Status(ctx, runID)
	if statusErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("status query failed: %v", statusErr)), nil
	}

	return marshalResult(progress)
}

// handleCancel cancels a run.
func (s *EnsembleServer) handleCancel(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}

	if cancelErr := s.orchestrator.Cancel(ctx, runID); cancelErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("cancel failed: %v", cancelErr)), nil
	}

	return marshalResult(map[string]any{
		"ok":     true,
		"run_id": runID,
		"status": schema.RunStatusCancelled,
	})
}

// handleExecutors lists the executor catalog.
func (s *EnsembleServer) handleExecutors(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	role := req.GetString("role", "")

	all := s.registry.List()
	out := make([]map[string]any, 0, len(all))
	for _, exec := range all {
		if role != "" && string(exec.Role) != role {
			continue
		}
		out = append(out, map[string]any{
			"id":          exec.ID,
			"name":        exec.Name,
			"role":        exec.Role,
			"description": exec.Description,
		})
	}

	return marshalResult(map[string]any{"executors": out})
}

// handleQuery lists runs or timeline events based on filters.
func (s *EnsembleServer) handleQuery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	resource, err := req.RequireString("resource")
	if err != nil {
		return mcp.NewToolResultError("resource is required"), nil
	}

	filter := mcp.ParseStringMap(req, "filter", nil)

	switch resource {
	case "runs":
		return s.queryRuns(ctx, filter)
	case "events":
		return s.queryEvents(ctx, filter)
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown resource type: %s", resource)), nil
	}
}

// --- Query helpers ---

func (s *EnsembleServer) queryRuns(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	rf := store.RunFilter{
		Limit: extractInt(filter, "limit", 50),
	}
	if status, ok := filter["status"].(string); ok && status != "" {
		rs := schema.RunStatus(status)
		rf.Status = &rs
	}
	if since, ok := filter["since"].(string); ok && since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			rf.Since = &t
		}
	}

	runs, err := s.store.ListRuns(ctx, rf)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"runs": runs})
}

func (s *EnsembleServer) queryEvents(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	ef := store.EventFilter{
		Limit: extractInt(filter, "limit", 100),
	}
	if runID, ok := filter["run_id"].(string); ok {
		ef.RunID = runID
	}
	if nodeKey, ok := filter["node_key"].(string); ok {
		ef.NodeKey = nodeKey
	}
	if eventType, ok := filter["event_type"].(string); ok {
		ef.EventType = eventType
	}
	if since, ok := filter["since"].(string); ok && since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			ef.Since = &t
		}
	}

	if ef.EventType != "" {
		events, err := s.store.GetEventsByType(ctx, ef.EventType, ef)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
		}
		return marshalResult(map[string]any{"events": events})
	}

	if ef.RunID == "" {
		return mcp.NewToolResultError("event query requires either 'event_type' or 'run_id' in filter"), nil
	}
	events, err := s.store.GetEvents(ctx, ef.RunID, 0)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"events": events})
}

// --- Internal helpers ---

// extractInt safely extracts an integer from a filter map.
func extractInt(filter map[string]any, key string, defaultVal int) int {
	if filter == nil {
		return defaultVal
	}
	v, ok := filter[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case float64:
		return int(val)
	case int:
		return val
	case string:
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
