package orchestrator

import (
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/ShayCichocki/fleet/pkg/models"
)

func TestTopoOrder(t *testing.T) {
	tests := []struct {
		name  string
		specs []UnitSpec
		want  []int
	}{
		{"independent keeps order", specsFromPrompts([]string{"a", "b", "c"}), []int{0, 1, 2}},
		{"reversed chain", []UnitSpec{
			{Prompt: "a", DependsOn: []int{1}},
			{Prompt: "b", DependsOn: []int{2}},
			{Prompt: "c"},
		}, []int{2, 1, 0}},
		{"diamond", []UnitSpec{
			{Prompt: "a"},
			{Prompt: "b", DependsOn: []int{0}},
			{Prompt: "c", DependsOn: []int{0}},
			{Prompt: "d", DependsOn: []int{1, 2, 2}},
		}, []int{0, 1, 2, 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := validateSpecs(tt.specs); err != nil {
				t.Fatalf("validateSpecs() error = %v", err)
			}
			if got := topoOrder(tt.specs); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("topoOrder() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidateSpecs_EmptyPrompt(t *testing.T) {
	err := validateSpecs([]UnitSpec{{Prompt: "ls"}, {Prompt: "  "}})
	if err == nil {
		t.Fatal("expected error for blank prompt")
	}
	if errors.Is(err, ErrDependencyCycle) || errors.Is(err, ErrUnknownDependency) {
		t.Errorf("blank prompt reported as dependency error: %v", err)
	}
}

func TestAssign(t *testing.T) {
	units := func(n int) []*models.Unit {
		out := make([]*models.Unit, n)
		for i := range out {
			out[i] = &models.Unit{ID: fmt.Sprintf("u%d", i)}
		}
		return out
	}

	got := Assign(units(3), []string{"A", "B"})
	ids := func(us []*models.Unit) []string {
		var out []string
		for _, u := range us {
			out = append(out, u.ID)
		}
		return out
	}
	if a := ids(got["A"]); !reflect.DeepEqual(a, []string{"u0", "u2"}) {
		t.Errorf("A = %v, want [u0 u2]", a)
	}
	if b := ids(got["B"]); !reflect.DeepEqual(b, []string{"u1"}) {
		t.Errorf("B = %v, want [u1]", b)
	}

	if Assign(units(2), nil) != nil {
		t.Error("Assign with no agents should return nil")
	}
}

func TestAssign_Balanced(t *testing.T) {
	for n := 0; n <= 12; n++ {
		for m := 1; m <= 5; m++ {
			us := make([]*models.Unit, n)
			for i := range us {
				us[i] = &models.Unit{ID: fmt.Sprintf("u%d", i)}
			}
			agents := make([]string, m)
			for i := range agents {
				agents[i] = fmt.Sprintf("a%d", i)
			}

			got := Assign(us, agents)
			total := 0
			for _, a := range agents {
				k := len(got[a])
				total += k
				if k < n/m || k > (n+m-1)/m {
					t.Errorf("n=%d m=%d: agent %s got %d units", n, m, a, k)
				}
			}
			if total != n {
				t.Errorf("n=%d m=%d: assigned %d units", n, m, total)
			}
		}
	}
}
