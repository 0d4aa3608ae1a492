// Package replacements substitutes {NAME} tokens in report text from a
// process-wide registry of named values.
package replacements

import (
	"fmt"
	"os"
	"regexp"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/VladislavFirsov/reportflow/contracts"
)

// Replacement is one configured token.
type Replacement struct {
	Name        string `json:"name" yaml:"name"`
	Type        string `json:"type,omitempty" yaml:"type,omitempty"`
	Value       string `json:"value" yaml:"value"`
	Overridable bool   `json:"overridable,omitempty" yaml:"overridable,omitempty"`
	// Flag is the command line flag that overrides Value. Defaults to the
	// lower-cased name with underscores turned into dashes.
	Flag string `json:"flag,omitempty" yaml:"flag,omitempty"`
}

// FlagName returns the command line flag of r.
func (r Replacement) FlagName() string {
	if r.Flag != "" {
		return r.Flag
	}
	return strings.ReplaceAll(strings.ToLower(r.Name), "_", "-")
}

type entry struct {
	Replacement
	format Formatter
}

// Registry is an ordered table of replacements. Lookups are safe for
// concurrent use; mutation is expected during initialisation only.
type Registry struct {
	// Now is the clock used by date formatters.
	Now func() time.Time
	// Getenv resolves tokens missing from the registry.
	Getenv func(string) (string, bool)

	mu      sync.RWMutex
	order   []string
	entries map[string]*entry
}

// NewRegistry returns a registry holding the builtins HOME and TODAY.
func NewRegistry() *Registry {
	r := &Registry{
		Now:     time.Now,
		Getenv:  os.LookupEnv,
		entries: make(map[string]*entry),
	}
	home, _ := os.UserHomeDir()
	_ = r.Add(Replacement{Name: "HOME", Value: home})
	_ = r.Add(Replacement{Name: "TODAY", Type: TypeDate, Value: "today", Overridable: true})
	return r
}

var (
	defaultMu  sync.RWMutex
	defaultReg = NewRegistry()
)

// Default returns the process-wide registry.
func Default() *Registry {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultReg
}

// SetDefault installs r as the process-wide registry and returns a function
// restoring the previous one.
func SetDefault(r *Registry) (restore func()) {
	defaultMu.Lock()
	prev := defaultReg
	defaultReg = r
	defaultMu.Unlock()
	return func() {
		defaultMu.Lock()
		defaultReg = prev
		defaultMu.Unlock()
	}
}

// Add registers rep, replacing any entry with the same name in place.
func (r *Registry) Add(rep Replacement) error {
	if rep.Name == "" {
		return fmt.Errorf("replacement without name: %w", contracts.ErrArgumentValidation)
	}
	f, err := FormatterFor(rep.Type)
	if err != nil {
		return fmt.Errorf("replacement %s: %w", rep.Name, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[rep.Name]; !ok {
		r.order = append(r.order, rep.Name)
	}
	r.entries[rep.Name] = &entry{Replacement: rep, format: f}
	return nil
}

// Load adds every replacement in order.
func (r *Registry) Load(reps []Replacement) error {
	for _, rep := range reps {
		if err := r.Add(rep); err != nil {
			return err
		}
	}
	return nil
}

// Set updates the raw value of an existing replacement.
func (r *Registry) Set(name, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok {
		return fmt.Errorf("replacement %s: %w", name, contracts.ErrMissingKey)
	}
	e.Value = value
	return nil
}

// Get returns the formatted value of name.
func (r *Registry) Get(name string) (string, bool, error) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return "", false, nil
	}
	s, err := e.format(e.Value, r.now())
	if err != nil {
		return "", true, fmt.Errorf("replacement %s: %w", name, err)
	}
	return s, true, nil
}

// List returns the registered replacements in insertion order.
func (r *Registry) List() []Replacement {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Replacement, 0, len(r.order))
	for _, n := range r.order {
		out = append(out, r.entries[n].Replacement)
	}
	return out
}

// Overridable returns the replacements that may be set from the command line.
func (r *Registry) Overridable() []Replacement {
	return slices.DeleteFunc(r.List(), func(rep Replacement) bool { return !rep.Overridable })
}

func (r *Registry) now() time.Time {
	if r.Now == nil {
		return time.Now()
	}
	return r.Now()
}

func (r *Registry) getenv(name string) (string, bool) {
	if r.Getenv == nil {
		return "", false
	}
	return r.Getenv(name)
}

var tokenPattern = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Replace substitutes {NAME} tokens from the registry, then the environment,
// then extras. Unknown tokens are left untouched. If the result as a whole
// names a replacement (case-insensitively) it is replaced by that value.
func (r *Registry) Replace(text string, extras map[string]string) (string, error) {
	var firstErr error
	out := tokenPattern.ReplaceAllStringFunc(text, func(tok string) string {
		name := tok[1 : len(tok)-1]
		v, ok, err := r.Get(name)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return tok
		}
		if ok {
			return v
		}
		if v, ok := r.getenv(name); ok {
			return v
		}
		if v, ok := extras[name]; ok {
			return v
		}
		return tok
	})
	if firstErr != nil {
		return "", firstErr
	}

	trimmed := strings.TrimSpace(out)
	r.mu.RLock()
	var match string
	for _, n := range r.order {
		if strings.EqualFold(n, trimmed) {
			match = n
			break
		}
	}
	r.mu.RUnlock()
	if match != "" {
		v, _, err := r.Get(match)
		return v, err
	}
	return out, nil
}

// Replace applies the process-wide registry.
func Replace(text string, extras map[string]string) (string, error) {
	return Default().Replace(text, extras)
}
