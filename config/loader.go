package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// AppName names the discovery directories.
const AppName = "reportflow"

//go:embed default.json
var defaultConfig []byte

// Defaults are filled into every loaded configuration where unset.
var Defaults = Config{
	Report: Report{
		DataPath: ".",
		Path:     "report.md",
	},
	Policy: &Policy{
		MaxParallelism: 4,
		Retries:        2,
		ThreadSleepMS:  10,
	},
}

// Loader loads and parses report configuration files.
type Loader struct {
	// Getenv looks up environment variables during discovery.
	Getenv func(string) string
	// WorkDir is searched first; empty means the current directory.
	WorkDir string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{Getenv: os.Getenv}
}

// LoadFromFile loads and parses a report configuration from a JSON or
// YAML file, chosen by extension. Relative report paths resolve against
// the file's directory.
func (l *Loader) LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var cfg *Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		cfg, err = l.LoadFromYAML(data)
	default:
		cfg, err = l.LoadFromBytes(data)
	}
	if err != nil {
		return nil, fmt.Errorf("loading config %s: %w", path, err)
	}
	cfg.Dir = filepath.Dir(path)
	return cfg, nil
}

// LoadFromBytes parses report configuration from raw JSON bytes.
// Returns the validated Config with defaults applied, or an error.
// Empty data (len==0) returns ErrConfigEmpty.
// Parse errors are wrapped (use json.SyntaxError to check for parse failures).
func (l *Loader) LoadFromBytes(data []byte) (*Config, error) {
	if len(data) == 0 {
		return nil, ErrConfigEmpty
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing JSON: %w", err)
	}

	validator := NewValidator()
	if err := validator.Validate(&config); err != nil {
		return nil, err
	}

	if err := ApplyDefaults(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

// LoadFromYAML parses YAML and validates it as LoadFromBytes does.
func (l *Loader) LoadFromYAML(data []byte) (*Config, error) {
	if len(data) == 0 {
		return nil, ErrConfigEmpty
	}
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}
	if doc == nil {
		return nil, ErrConfigEmpty
	}
	js, err := json.Marshal(normalize(doc))
	if err != nil {
		return nil, fmt.Errorf("converting YAML: %w", err)
	}
	return l.LoadFromBytes(js)
}

// normalize turns the map[any]any values yaml may produce into JSON objects.
func normalize(v any) any {
	switch v := v.(type) {
	case map[string]any:
		for k, e := range v {
			v[k] = normalize(e)
		}
		return v
	case map[any]any:
		m := make(map[string]any, len(v))
		for k, e := range v {
			m[fmt.Sprint(k)] = normalize(e)
		}
		return m
	case []any:
		for i, e := range v {
			v[i] = normalize(e)
		}
		return v
	}
	return v
}

// LoadDefault returns the built-in configuration.
func (l *Loader) LoadDefault() (*Config, error) {
	return l.LoadFromBytes(defaultConfig)
}

// Candidates lists the discovery locations in search order: the working
// directory, $XDG_CONFIG_HOME/reportflow, ~/.reportflow, /etc/reportflow
// and finally $REPORT_CONFIG_PATH.
func (l *Loader) Candidates() []string {
	getenv := l.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	exts := []string{".json", ".yaml", ".yml"}
	var out []string
	add := func(dir, base string) {
		for _, ext := range exts {
			out = append(out, filepath.Join(dir, base+ext))
		}
	}

	wd := l.WorkDir
	if wd == "" {
		wd = "."
	}
	add(wd, AppName)
	if xdg := getenv("XDG_CONFIG_HOME"); xdg != "" {
		add(filepath.Join(xdg, AppName), "config")
	}
	if home := getenv("HOME"); home != "" {
		add(filepath.Join(home, "."+AppName), "config")
	}
	add(filepath.Join("/etc", AppName), "config")
	if p := getenv("REPORT_CONFIG_PATH"); p != "" {
		out = append(out, p)
	}
	return out
}

// Discover returns the first existing candidate, or "" when there is none.
func (l *Loader) Discover() string {
	for _, p := range l.Candidates() {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p
		}
	}
	return ""
}

// Load reads path, or the discovered configuration when path is empty,
// falling back to the built-in default.
func (l *Loader) Load(path string) (*Config, error) {
	if path == "" {
		path = l.Discover()
	}
	if path == "" {
		return l.LoadDefault()
	}
	return l.LoadFromFile(path)
}

// ApplyDefaults fills unset report and policy values from Defaults.
func ApplyDefaults(cfg *Config) error {
	if err := mergo.Merge(&cfg.Report, Defaults.Report); err != nil {
		return fmt.Errorf("applying report defaults: %w", err)
	}
	if cfg.Policy == nil {
		cfg.Policy = &Policy{}
	}
	if err := mergo.Merge(cfg.Policy, *Defaults.Policy); err != nil {
		return fmt.Errorf("applying policy defaults: %w", err)
	}
	return nil
}
