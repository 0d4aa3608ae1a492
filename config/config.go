// Package config loads and validates report configuration files.
package config

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/VladislavFirsov/reportflow/internal/orchestration"
	"github.com/VladislavFirsov/reportflow/internal/replacements"
)

// Config is the root of a report configuration. Besides the fixed keys it
// carries one object named after Manager holding the manager parameters.
type Config struct {
	Manager      string                     `json:"manager"`
	Reporting    string                     `json:"reporting"`
	Report       Report                     `json:"report"`
	Replacements []replacements.Replacement `json:"replacements,omitempty"`
	Jenkins      *Jenkins                   `json:"jenkins,omitempty"`
	Policy       *Policy                    `json:"policy,omitempty"`

	// ManagerParams is the raw object stored under the Manager key.
	ManagerParams json.RawMessage `json:"-"`
	// Dir is the directory of the file the configuration was read from.
	Dir string `json:"-"`
}

// Report describes the document.
type Report struct {
	Title    string `json:"title"`
	Subtitle string `json:"subtitle,omitempty"`
	Abstract string `json:"abstract,omitempty"`
	// DataPath receives CSV artefacts; relative paths resolve against the
	// configuration file's directory.
	DataPath string    `json:"datapath,omitempty"`
	Path     string    `json:"path,omitempty"`
	Sections []Section `json:"sections"`
}

// Section is a titled group of structures.
type Section struct {
	Title     string      `json:"title"`
	Abstract  string      `json:"abstract,omitempty"`
	Level     int         `json:"level,omitempty"`
	Optional  bool        `json:"optional,omitempty"`
	Structure []Structure `json:"structure"`
}

// Structure is one element of a section. Content is decoded by the
// element type named in Type.
type Structure struct {
	Type     string          `json:"type"`
	Name     string          `json:"name,omitempty"`
	Title    string          `json:"title,omitempty"`
	WaitFor  []string        `json:"wait_for,omitempty"`
	Optional bool            `json:"optional,omitempty"`
	Content  json.RawMessage `json:"content,omitempty"`
}

// Structure types.
const (
	TypeTable     = "table"
	TypeList      = "list"
	TypeParagraph = "paragraph"
	TypeCommand   = "command"
	TypeOverlap   = "overlap"
	TypeImage     = "image"
	TypePageBreak = "page_break"
)

// StructureTypes lists the known structure types.
var StructureTypes = []string{
	TypeTable,
	TypeList,
	TypeParagraph,
	TypeCommand,
	TypeOverlap,
	TypeImage,
	TypePageBreak,
}

// Jenkins configures the pipeline trigger.
type Jenkins struct {
	URL    string            `json:"url"`
	Job    string            `json:"job"`
	User   string            `json:"user,omitempty"`
	Token  string            `json:"token,omitempty"`
	Params map[string]string `json:"params,omitempty"`
}

// Policy tunes the scheduler.
type Policy struct {
	MaxParallelism int `json:"max_parallelism,omitempty"`
	Retries        int `json:"retries,omitempty"`
	TaskTimeoutMS  int `json:"task_timeout_ms,omitempty"`
	ThreadSleepMS  int `json:"thread_sleep_ms,omitempty"`
}

// SchedulerOptions converts the policy. A nil policy yields the defaults.
func (p *Policy) SchedulerOptions() orchestration.Options {
	opts := orchestration.DefaultOptions()
	if p == nil {
		return opts
	}
	if p.MaxParallelism > 0 {
		opts.MaxParallelism = p.MaxParallelism
	}
	if p.Retries > 0 {
		opts.Retries = p.Retries
	}
	if p.TaskTimeoutMS > 0 {
		opts.TaskTimeout = time.Duration(p.TaskTimeoutMS) * time.Millisecond
	}
	if p.ThreadSleepMS > 0 {
		opts.ThreadSleep = time.Duration(p.ThreadSleepMS) * time.Millisecond
	}
	return opts
}

type plainConfig Config

// UnmarshalJSON decodes the fixed keys and keeps the object named by
// manager as ManagerParams.
func (c *Config) UnmarshalJSON(data []byte) error {
	var p plainConfig
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(data, &keys); err != nil {
		return err
	}
	*c = Config(p)
	if c.Manager != "" {
		c.ManagerParams = keys[c.Manager]
	}
	return nil
}

// MarshalJSON writes ManagerParams back under the manager key.
func (c Config) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(plainConfig(c))
	if err != nil {
		return nil, err
	}
	if c.Manager == "" || len(c.ManagerParams) == 0 {
		return data, nil
	}
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(data, &keys); err != nil {
		return nil, err
	}
	if _, clash := keys[c.Manager]; clash {
		return nil, fmt.Errorf("manager name %q clashes with a configuration key: %w", c.Manager, ErrManagerInvalid)
	}
	keys[c.Manager] = c.ManagerParams
	return json.Marshal(keys)
}
