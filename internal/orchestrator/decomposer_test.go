package orchestrator

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

func TestHeuristicDecomposer(t *testing.T) {
	tests := []struct {
		name   string
		prompt string
		want   []UnitSpec
	}{
		{
			name:   "numbered list",
			prompt: "Do these:\n1. go test ./...\n2) go vet ./...",
			want:   []UnitSpec{{Prompt: "go test ./..."}, {Prompt: "go vet ./..."}},
		},
		{
			name:   "bullets",
			prompt: "- ls\n* pwd\n- git status",
			want:   []UnitSpec{{Prompt: "ls"}, {Prompt: "pwd"}, {Prompt: "git status"}},
		},
		{
			name:   "semicolons",
			prompt: "ls; pwd ;; git status",
			want:   []UnitSpec{{Prompt: "ls"}, {Prompt: "pwd"}, {Prompt: "git status"}},
		},
		{
			name:   "then chain",
			prompt: "make build, then make test, then make install",
			want: []UnitSpec{
				{Prompt: "make build"},
				{Prompt: "make test", DependsOn: []int{0}},
				{Prompt: "make install", DependsOn: []int{1}},
			},
		},
		{
			name:   "single",
			prompt: "  go test ./...  ",
			want:   []UnitSpec{{Prompt: "go test ./..."}},
		},
		{
			name:   "one list item is not a list",
			prompt: "1. go test ./...",
			want:   []UnitSpec{{Prompt: "1. go test ./..."}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := HeuristicDecomposer{}.Decompose(context.Background(), tt.prompt)
			if err != nil {
				t.Fatalf("Decompose() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Decompose() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestHeuristicDecomposer_Empty(t *testing.T) {
	if _, err := (HeuristicDecomposer{}).Decompose(context.Background(), "   \n"); !errors.Is(err, ErrEmptyTask) {
		t.Errorf("error = %v, want ErrEmptyTask", err)
	}
}

type fakeRunner struct {
	response string
	err      error
	prompts  []string
}

func (f *fakeRunner) Run(ctx context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return f.response, f.err
}

func TestPlannerDecomposer(t *testing.T) {
	tests := []struct {
		name     string
		response string
		err      error
		want     []UnitSpec
	}{
		{
			name:     "valid plan with prose",
			response: "Here you go:\n[{\"prompt\": \"make build\", \"depends_on\": []}, {\"prompt\": \"make test\", \"depends_on\": [0]}]\nDone.",
			want:     []UnitSpec{{Prompt: "make build", DependsOn: []int{}}, {Prompt: "make test", DependsOn: []int{0}}},
		},
		{
			name:     "garbage falls back",
			response: "I cannot help with that.",
			want:     []UnitSpec{{Prompt: "ls"}, {Prompt: "pwd"}},
		},
		{
			name:     "cycle falls back",
			response: `[{"prompt": "a", "depends_on": [1]}, {"prompt": "b", "depends_on": [0]}]`,
			want:     []UnitSpec{{Prompt: "ls"}, {Prompt: "pwd"}},
		},
		{
			name:     "empty plan falls back",
			response: `[]`,
			want:     []UnitSpec{{Prompt: "ls"}, {Prompt: "pwd"}},
		},
		{
			name: "runner error falls back",
			err:  errors.New("rate limited"),
			want: []UnitSpec{{Prompt: "ls"}, {Prompt: "pwd"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{response: tt.response, err: tt.err}
			d := NewPlannerDecomposer(runner, nil, nil)

			got, err := d.Decompose(context.Background(), "ls; pwd")
			if err != nil {
				t.Fatalf("Decompose() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Decompose() = %+v, want %+v", got, tt.want)
			}
			if len(runner.prompts) != 1 {
				t.Errorf("runner called %d times, want 1", len(runner.prompts))
			}
		})
	}
}

func TestPlannerDecomposer_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := NewPlannerDecomposer(&fakeRunner{}, nil, nil)
	if _, err := d.Decompose(ctx, "ls; pwd"); !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}
