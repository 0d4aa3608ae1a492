package config

import (
	"fmt"
	"slices"

	"github.com/VladislavFirsov/reportflow/internal/render"
	"github.com/VladislavFirsov/reportflow/internal/replacements"
	"github.com/VladislavFirsov/reportflow/internal/sources"
)

// Validator validates report configurations.
type Validator struct{}

// NewValidator creates a new configuration validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate performs comprehensive validation of a Config.
// Returns nil if valid, or an error describing the first validation failure.
// Structure contents are checked later, when their elements are built.
func (v *Validator) Validate(cfg *Config) error {
	if cfg == nil {
		return ErrConfigEmpty
	}

	// 1. Validate manager and its parameters
	if cfg.Manager == "" {
		return ErrManagerMissing
	}
	if !sources.Registered(cfg.Manager) {
		return fmt.Errorf("manager=%s: %w", cfg.Manager, ErrManagerInvalid)
	}
	if len(cfg.ManagerParams) == 0 || string(cfg.ManagerParams) == "null" {
		return fmt.Errorf("manager=%s: %w", cfg.Manager, ErrManagerParamsMissing)
	}

	// 2. Validate reporting
	if cfg.Reporting == "" {
		return ErrReportingMissing
	}
	if !render.Registered(cfg.Reporting) {
		return fmt.Errorf("reporting=%s: %w", cfg.Reporting, ErrReportingInvalid)
	}

	// 3. Validate report
	if cfg.Report.Title == "" {
		return ErrTitleEmpty
	}
	if len(cfg.Report.Sections) == 0 {
		return ErrNoSections
	}

	// 4. Validate structures, collect names
	names := make(map[string]bool)
	var named []Structure
	for i, sec := range cfg.Report.Sections {
		for j, st := range sec.Structure {
			if !slices.Contains(StructureTypes, st.Type) {
				return fmt.Errorf("section[%d] structure[%d] type=%s: %w", i, j, st.Type, ErrStructureTypeInvalid)
			}
			if st.Name == "" {
				continue
			}
			if names[st.Name] {
				return fmt.Errorf("structure.name=%s: %w", st.Name, ErrStructureNameDuplicate)
			}
			names[st.Name] = true
			named = append(named, st)
		}
	}

	// 5. Validate wait_for references existing names
	for _, sec := range cfg.Report.Sections {
		for _, st := range sec.Structure {
			for _, dep := range st.WaitFor {
				if !names[dep] {
					return fmt.Errorf("structure.name=%s wait_for=%s: %w", st.Name, dep, ErrDependencyNotFound)
				}
			}
		}
	}

	// 6. Validate no cycles (DFS with color marking)
	if err := v.detectCycle(named); err != nil {
		return err
	}

	// 7. Validate replacements
	for i, rep := range cfg.Replacements {
		if rep.Name == "" {
			return fmt.Errorf("replacements[%d]: %w", i, ErrReplacementInvalid)
		}
		if _, err := replacements.FormatterFor(rep.Type); err != nil {
			return fmt.Errorf("replacement=%s: %w: %w", rep.Name, ErrReplacementInvalid, err)
		}
	}

	// 8. Validate optional sections
	if p := cfg.Policy; p != nil {
		if p.MaxParallelism < 0 || p.Retries < 0 || p.TaskTimeoutMS < 0 || p.ThreadSleepMS < 0 {
			return ErrPolicyInvalid
		}
	}
	if j := cfg.Jenkins; j != nil && (j.URL == "" || j.Job == "") {
		return ErrJenkinsInvalid
	}

	return nil
}

// detectCycle uses DFS with color marking to detect cycles in wait_for.
// Colors: 0=white (unvisited), 1=gray (visiting), 2=black (visited)
func (v *Validator) detectCycle(structures []Structure) error {
	// Edge: dep -> name means name waits for dep
	adjacency := make(map[string][]string)
	for _, st := range structures {
		if _, exists := adjacency[st.Name]; !exists {
			adjacency[st.Name] = []string{}
		}
	}
	for _, st := range structures {
		for _, dep := range st.WaitFor {
			adjacency[dep] = append(adjacency[dep], st.Name)
		}
	}

	colors := make(map[string]int)
	for _, st := range structures {
		if colors[st.Name] == 0 {
			if v.hasCycle(st.Name, colors, adjacency) {
				return fmt.Errorf("starting from structure.name=%s: %w", st.Name, ErrCycleDetected)
			}
		}
	}

	return nil
}

// hasCycle performs DFS to detect cycles.
func (v *Validator) hasCycle(node string, colors map[string]int, adj map[string][]string) bool {
	colors[node] = 1

	for _, next := range adj[node] {
		if colors[next] == 1 { // back edge to gray node
			return true
		}
		if colors[next] == 0 {
			if v.hasCycle(next, colors, adj) {
				return true
			}
		}
	}

	colors[node] = 2
	return false
}
