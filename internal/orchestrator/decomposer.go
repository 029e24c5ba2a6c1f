package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/ShayCichocki/fleet/internal/logging"
)

// Decomposer splits a prompt into units. Implementations are best effort;
// the split is not guaranteed to be semantically correct.
type Decomposer interface {
	Decompose(ctx context.Context, prompt string) ([]UnitSpec, error)
}

var (
	listItem   = regexp.MustCompile(`^\s*(?:\d+[.)]|[-*•])\s+(.+)$`)
	thenSplit  = regexp.MustCompile(`(?i)\s+then\s+`)
	andThenSep = regexp.MustCompile(`(?i)^\s*and\s+`)
)

// HeuristicDecomposer splits on structure only. It uses, in order: numbered
// or bulleted lines (independent units), semicolons (independent units),
// " then " (each unit depends on the one before), and otherwise the whole
// prompt as one unit.
type HeuristicDecomposer struct{}

// Decompose implements Decomposer.
func (HeuristicDecomposer) Decompose(_ context.Context, prompt string) ([]UnitSpec, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, ErrEmptyTask
	}

	var items []string
	for _, line := range strings.Split(prompt, "\n") {
		if m := listItem.FindStringSubmatch(line); m != nil {
			items = append(items, strings.TrimSpace(m[1]))
		}
	}
	if len(items) >= 2 {
		return specsFromPrompts(items), nil
	}

	if parts := splitNonEmpty(strings.Split(prompt, ";")); len(parts) >= 2 {
		return specsFromPrompts(parts), nil
	}

	if parts := splitNonEmpty(thenSplit.Split(prompt, -1)); len(parts) >= 2 {
		specs := specsFromPrompts(parts)
		for i := 1; i < len(specs); i++ {
			specs[i].DependsOn = []int{i - 1}
		}
		return specs, nil
	}

	return []UnitSpec{{Prompt: prompt}}, nil
}

func splitNonEmpty(parts []string) []string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(andThenSep.ReplaceAllString(strings.TrimSpace(p), ""))
		p = strings.TrimRight(p, ",")
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// TextRunner runs a single prompt against a language model.
type TextRunner interface {
	Run(ctx context.Context, prompt string) (string, error)
}

// planPrompt asks the model for a JSON array of units.
const planPrompt = `Split this request into shell commands that separate terminal agents can run.

Request:
%s

Return ONLY a JSON array (no other text):
[
  {"prompt": "command or instruction for one agent", "depends_on": [0]}
]

Rules:
- depends_on lists zero-based indexes of earlier entries that must finish first
- use [] when an entry has no dependencies
- keep entries independent wherever possible`

// PlannerDecomposer asks a model for the split and falls back to another
// decomposer when the call or its output is unusable.
type PlannerDecomposer struct {
	runner   TextRunner
	fallback Decomposer
	logger   *logging.Logger
}

// NewPlannerDecomposer creates a planner. A nil fallback uses HeuristicDecomposer.
func NewPlannerDecomposer(runner TextRunner, fallback Decomposer, logger *logging.Logger) *PlannerDecomposer {
	if fallback == nil {
		fallback = HeuristicDecomposer{}
	}
	return &PlannerDecomposer{runner: runner, fallback: fallback, logger: logging.OrNop(logger)}
}

// Decompose implements Decomposer.
func (p *PlannerDecomposer) Decompose(ctx context.Context, prompt string) ([]UnitSpec, error) {
	specs, err := p.plan(ctx, prompt)
	if err == nil {
		return specs, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	p.logger.Warn("planner decomposition failed, using fallback", "error", err)
	return p.fallback.Decompose(ctx, prompt)
}

func (p *PlannerDecomposer) plan(ctx context.Context, prompt string) ([]UnitSpec, error) {
	resp, err := p.runner.Run(ctx, fmt.Sprintf(planPrompt, prompt))
	if err != nil {
		return nil, err
	}
	specs, err := parsePlan(resp)
	if err != nil {
		return nil, err
	}
	if err := validateSpecs(specs); err != nil {
		return nil, err
	}
	return specs, nil
}

// parsePlan extracts the JSON array from a model response.
func parsePlan(response string) ([]UnitSpec, error) {
	start := strings.Index(response, "[")
	end := strings.LastIndex(response, "]")
	if start == -1 || end == -1 || end <= start {
		return nil, fmt.Errorf("no JSON array found in response")
	}

	var specs []UnitSpec
	if err := json.Unmarshal([]byte(response[start:end+1]), &specs); err != nil {
		return nil, fmt.Errorf("unmarshal plan: %w", err)
	}
	if len(specs) == 0 {
		return nil, ErrEmptyTask
	}
	return specs, nil
}
