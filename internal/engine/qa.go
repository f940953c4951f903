package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/dcastano/ensemble/internal/expressions"
	"github.com/dcastano/ensemble/internal/registry"
	"github.com/dcastano/ensemble/pkg/schema"
)

// DefaultPassRule is the CEL expression deciding the overall QA verdict.
// Missing scores evaluate as zero and fail the gate.
const DefaultPassRule = "scores.completeness >= 80.0 && scores.depth >= 70.0 && " +
	"scores.accuracy >= 85.0 && scores.coherence >= 75.0 && gaps.critical == 0.0"

// QAScores are the four sub-scores, each clamped to [0, 100].
type QAScores struct {
	Completeness float64 `json:"completeness"`
	Depth        float64 `json:"depth"`
	Accuracy     float64 `json:"accuracy"`
	Coherence    float64 `json:"coherence"`
}

// QARequirement is one requirement with its addressed verdict.
type QARequirement struct {
	Requirement string `json:"requirement"`
	Addressed   bool   `json:"addressed"`
}

// QAGap is one identified gap, tagged by severity. FollowupQuery is the
// designed seed for a narrower follow-up plan.
type QAGap struct {
	Severity      string `json:"severity"` // critical, important, nice-to-have
	Description   string `json:"description"`
	FollowupQuery string `json:"followup_query,omitempty"`
}

// QAReport is the gate's verdict over a synthesized response.
type QAReport struct {
	Passed       bool            `json:"passed"`
	Scores       QAScores        `json:"scores"`
	Requirements []QARequirement `json:"requirements,omitempty"`
	Gaps         []QAGap         `json:"gaps,omitempty"`
}

// QAGate evaluates synthesized output against the original request using a
// qa-role executor and a CEL pass rule.
type QAGate struct {
	invoker  Invoker
	registry registry.Registry
	cel      *expressions.CELEngine
	rule     string
	logger   *slog.Logger
}

// NewQAGate creates a QAGate. An empty rule selects DefaultPassRule.
func NewQAGate(invoker Invoker, reg registry.Registry, rule string, logger *slog.Logger) (*QAGate, error) {
	if invoker == nil || reg == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "invoker and registry are required")
	}
	if rule == "" {
		rule = DefaultPassRule
	}
	if logger == nil {
		logger = slog.Default()
	}

	cel, err := expressions.NewCELEngine()
	if err != nil {
		return nil, err
	}

	return &QAGate{
		invoker:  invoker,
		registry: reg,
		cel:      cel,
		rule:     rule,
		logger:   logger,
	}, nil
}

// Evaluate invokes the lowest-id qa-role executor with the original request
// and the synthesized response, parses its report, and applies the pass rule.
// A failing report always carries at least one gap.
func (g *QAGate) Evaluate(ctx context.Context, originalQuery, synthesized string) (*QAReport, error) {
	qaExec, ok := g.registry.FirstByRole(schema.RoleQA)
	if !ok {
		return nil, schema.NewError(schema.ErrCodeValidation, "no qa-role executor is registered")
	}

	request, err := json.Marshal(map[string]string{
		"original_query": originalQuery,
		"synthesized":    synthesized,
	})
	if err != nil {
		return nil, err
	}

	raw, err := g.invoker.Invoke(ctx, qaExec.ID, string(request))
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "qa executor failed").WithCause(err)
	}

	report := &QAReport{}
	if err := json.Unmarshal([]byte(raw), report); err != nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "qa executor returned malformed report").WithCause(err)
	}
	report.Scores = clampScores(report.Scores)

	passed, err := g.applyRule(ctx, report)
	if err != nil {
		return nil, err
	}
	report.Passed = passed

	if !report.Passed && len(report.Gaps) == 0 {
		report.Gaps = deriveGaps(report.Scores, originalQuery)
	}
	return report, nil
}

// applyRule evaluates the CEL pass rule over the report.
func (g *QAGate) applyRule(ctx context.Context, report *QAReport) (bool, error) {
	gapCounts := map[string]any{"critical": 0.0, "important": 0.0, "nice-to-have": 0.0}
	for _, gap := range report.Gaps {
		if v, ok := gapCounts[gap.Severity].(float64); ok {
			gapCounts[gap.Severity] = v + 1.0
		}
	}

	addressed := 0
	for _, req := range report.Requirements {
		if req.Addressed {
			addressed++
		}
	}

	result, err := g.cel.Evaluate(ctx, g.rule, map[string]any{
		"scores": map[string]any{
			"completeness": report.Scores.Completeness,
			"depth":        report.Scores.Depth,
			"accuracy":     report.Scores.Accuracy,
			"coherence":    report.Scores.Coherence,
		},
		"gaps": gapCounts,
		"run": map[string]any{
			"requirements": float64(len(report.Requirements)),
			"addressed":    float64(addressed),
		},
	})
	if err != nil {
		return false, schema.NewError(schema.ErrCodeExecution, "evaluate qa pass rule").WithCause(err)
	}

	passed, ok := result.(bool)
	if !ok {
		return false, schema.NewErrorf(schema.ErrCodeValidation, "qa pass rule must yield bool, got %T", result)
	}
	return passed, nil
}

// clampScores bounds every sub-score to [0, 100].
func clampScores(s QAScores) QAScores {
	return QAScores{
		Completeness: clamp(s.Completeness),
		Depth:        clamp(s.Depth),
		Accuracy:     clamp(s.Accuracy),
		Coherence:    clamp(s.Coherence),
	}
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// deriveGaps builds a fallback gap list from failing sub-scores so a failed
// verdict always names what to improve.
func deriveGaps(s QAScores, originalQuery string) []QAGap {
	thresholds := []struct {
		name      string
		score     float64
		threshold float64
	}{
		{"completeness", s.Completeness, 80},
		{"depth", s.Depth, 70},
		{"accuracy", s.Accuracy, 85},
		{"coherence", s.Coherence, 75},
	}

	var gaps []QAGap
	for _, t := range thresholds {
		if t.score < t.threshold {
			gaps = append(gaps, QAGap{
				Severity:      "critical",
				Description:   fmt.Sprintf("%s score %.0f is below the required %.0f", t.name, t.score, t.threshold),
				FollowupQuery: originalQuery,
			})
		}
	}
	if len(gaps) == 0 {
		gaps = append(gaps, QAGap{Severity: "critical", Description: "qa gate failed without a reported gap"})
	}
	return gaps
}
