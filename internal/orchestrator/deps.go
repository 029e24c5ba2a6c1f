package orchestrator

import (
	"fmt"
	"strings"
)

// UnitSpec describes one unit before it is bound to a task.
type UnitSpec struct {
	// Prompt is the command sent to the agent.
	Prompt string `json:"prompt"`
	// DependsOn lists the ordinals of units that must complete first.
	DependsOn []int `json:"depends_on,omitempty"`
}

// specsFromPrompts builds independent unit specs.
func specsFromPrompts(prompts []string) []UnitSpec {
	specs := make([]UnitSpec, len(prompts))
	for i, p := range prompts {
		specs[i] = UnitSpec{Prompt: p}
	}
	return specs
}

// validateSpecs rejects empty prompts, unknown dependencies, and cycles.
func validateSpecs(specs []UnitSpec) error {
	if len(specs) == 0 {
		return ErrEmptyTask
	}
	for i, s := range specs {
		if strings.TrimSpace(s.Prompt) == "" {
			return fmt.Errorf("unit %d: empty prompt", i)
		}
		for _, d := range s.DependsOn {
			if d < 0 || d >= len(specs) {
				return fmt.Errorf("%w: unit %d depends on %d", ErrUnknownDependency, i, d)
			}
		}
	}

	// 0=unvisited, 1=visiting, 2=visited
	state := make([]int, len(specs))
	var visit func(i int, path []int) error
	visit = func(i int, path []int) error {
		switch state[i] {
		case 2:
			return nil
		case 1:
			start := 0
			for k, p := range path {
				if p == i {
					start = k
					break
				}
			}
			cycle := append(append([]int{}, path[start:]...), i)
			parts := make([]string, len(cycle))
			for k, c := range cycle {
				parts[k] = fmt.Sprintf("%d", c)
			}
			return fmt.Errorf("%w: %s", ErrDependencyCycle, strings.Join(parts, " -> "))
		}
		state[i] = 1
		for _, d := range specs[i].DependsOn {
			if err := visit(d, append(path, i)); err != nil {
				return err
			}
		}
		state[i] = 2
		return nil
	}
	for i := range specs {
		if err := visit(i, nil); err != nil {
			return err
		}
	}
	return nil
}

// topoOrder returns unit ordinals so every unit follows its dependencies.
// Among ready units the lowest ordinal goes first, so independent units keep
// submission order. specs must already be validated.
func topoOrder(specs []UnitSpec) []int {
	indegree := make([]int, len(specs))
	dependents := make([][]int, len(specs))
	for i, s := range specs {
		for _, d := range uniqueInts(s.DependsOn) {
			indegree[i]++
			dependents[d] = append(dependents[d], i)
		}
	}

	order := make([]int, 0, len(specs))
	placed := make([]bool, len(specs))
	for len(order) < len(specs) {
		next := -1
		for i := range specs {
			if !placed[i] && indegree[i] == 0 {
				next = i
				break
			}
		}
		if next < 0 {
			break
		}
		placed[next] = true
		order = append(order, next)
		for _, dep := range dependents[next] {
			indegree[dep]--
		}
	}
	return order
}

func uniqueInts(in []int) []int {
	seen := make(map[int]bool, len(in))
	out := make([]int, 0, len(in))
	for _, v := range in {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}
