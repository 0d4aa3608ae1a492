package orchestration

import (
	"errors"
	"testing"

	"github.com/VladislavFirsov/reportflow/contracts"
)

func TestValidateGraph(t *testing.T) {
	tests := []struct {
		name    string
		build   func() []Task
		wantErr error
	}{
		{
			name:  "empty graph",
			build: func() []Task { return nil },
		},
		{
			name: "chain",
			build: func() []Task {
				a := newFnTask("a", 1, nil)
				b := newFnTask("b", 1, nil)
				c := newFnTask("c", 1, nil)
				b.DependsOn(a)
				c.DependsOn(b)
				return []Task{a, b, c}
			},
		},
		{
			name: "diamond",
			build: func() []Task {
				a := newFnTask("a", 1, nil)
				b := newFnTask("b", 1, nil)
				c := newFnTask("c", 1, nil)
				d := newFnTask("d", 1, nil)
				b.DependsOn(a)
				c.DependsOn(a)
				d.DependsOn(b, c)
				return []Task{d, c, b, a}
			},
		},
		{
			name: "two node cycle",
			build: func() []Task {
				a := newFnTask("a", 1, nil)
				b := newFnTask("b", 1, nil)
				a.DependsOn(b)
				b.DependsOn(a)
				return []Task{a, b}
			},
			wantErr: contracts.ErrDAGCycle,
		},
		{
			name: "cycle through unregistered task",
			build: func() []Task {
				a := newFnTask("a", 1, nil)
				hidden := newFnTask("hidden", 1, nil)
				a.DependsOn(hidden)
				hidden.DependsOn(a)
				return []Task{a}
			},
			wantErr: contracts.ErrDAGCycle,
		},
		{
			name:    "nil task",
			build:   func() []Task { return []Task{nil} },
			wantErr: contracts.ErrInvalidInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateGraph(tt.build())
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("ValidateGraph() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ValidateGraph() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestDependsOnIgnoresSelfAndNil(t *testing.T) {
	a := newFnTask("a", 1, nil)
	a.DependsOn(a, nil)
	if got := len(a.Dependencies()); got != 0 {
		t.Fatalf("Dependencies() = %d, want 0", got)
	}
}
