package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/VladislavFirsov/reportflow/contracts"
	"github.com/VladislavFirsov/reportflow/internal/orchestration"
	"github.com/VladislavFirsov/reportflow/internal/results"
)

// LineField is the column holding one line of command output.
const LineField = "line"

// CommandParams are the parameters of the "command" manager.
type CommandParams struct {
	Workdir   string `json:"workdir,omitempty"`
	TimeoutMS int    `json:"timeout_ms,omitempty"`
}

// Command runs shell-style pipelines; a search query is the command line.
type Command struct {
	dir     string
	timeout time.Duration
	logger  *zap.Logger
}

func newCommandFromParams(params json.RawMessage, deps Deps) (DataSource, error) {
	var p CommandParams
	if err := decodeParams(params, &p); err != nil {
		return nil, fmt.Errorf("command: %w", err)
	}
	return NewCommand(p, deps), nil
}

// NewCommand resolves the working directory against deps.Dir.
func NewCommand(p CommandParams, deps Deps) *Command {
	dir := p.Workdir
	if dir != "" && !filepath.IsAbs(dir) && deps.Dir != "" {
		dir = filepath.Join(deps.Dir, dir)
	}
	if dir == "" {
		dir = deps.Dir
	}
	return &Command{
		dir:     dir,
		timeout: time.Duration(p.TimeoutMS) * time.Millisecond,
		logger:  deps.logger("command"),
	}
}

func (c *Command) Server() string { return "shell" }

func (c *Command) Projects(context.Context) ([]string, error) { return nil, nil }

// Run executes command and returns its output lines.
func (c *Command) Run(ctx context.Context, command string) (*results.ResultSet, error) {
	p, err := ParsePipeline(command)
	if err != nil {
		return nil, err
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	start := time.Now()
	out, err := p.Run(ctx, c.dir)
	if err != nil {
		return nil, err
	}

	rs := results.NewResultSet(command)
	text := strings.TrimRight(string(out), "\n")
	if text == "" {
		c.logger.Debug("command produced no output", zap.String("command", command))
		return rs, nil
	}
	for _, line := range strings.Split(text, "\n") {
		if err := rs.Append(results.NewRecord([]string{LineField}, []any{line})); err != nil {
			return nil, err
		}
	}
	c.logger.Debug("command finished",
		zap.String("command", command),
		zap.Int("stages", len(p.Stages)),
		zap.Int("lines", rs.Len()),
		zap.Duration("elapsed", time.Since(start)))
	return rs, nil
}

func (c *Command) Search(ctx context.Context, req Request) (results.Result, error) {
	if req.Query == "" {
		return nil, fmt.Errorf("command: empty command: %w", contracts.ErrQueryRejected)
	}
	rs, err := c.Run(ctx, req.Query)
	if err != nil {
		return nil, err
	}
	return shape(rs, req), nil
}

// CommandTask runs one pipeline as a scheduled task and keeps its lines.
type CommandTask struct {
	*orchestration.BaseTask

	runner  *Command
	command string

	mu sync.Mutex
	rs *results.ResultSet
}

// NewCommandTask creates a task running command with runner.
func NewCommandTask(name, command string, runner *Command) (*CommandTask, error) {
	if runner == nil {
		return nil, fmt.Errorf("command task %s: %w", name, contracts.ErrNoDataSource)
	}
	if _, err := ParsePipeline(command); err != nil {
		return nil, err
	}
	return &CommandTask{
		BaseTask: orchestration.NewBaseTask(name, contracts.PriorityFilter),
		runner:   runner,
		command:  command,
	}, nil
}

func (t *CommandTask) Run(ctx context.Context) error {
	rs, err := t.runner.Run(ctx, t.command)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.rs = rs
	t.mu.Unlock()
	return nil
}

// Command returns the command line.
func (t *CommandTask) Command() string { return t.command }

// Results returns a copy of the output lines, or an empty set before the
// task completes.
func (t *CommandTask) Results() *results.ResultSet {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.rs == nil {
		return results.NewResultSet(t.command)
	}
	return t.rs.Copy()
}
