package sources

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"unicode"

	"github.com/VladislavFirsov/reportflow/contracts"
)

// Stage is one command of a pipeline with its redirections.
type Stage struct {
	Args []string
	// Stdin is read instead of the previous stage's output.
	Stdin string
	// Stdout and Stderr name files receiving the streams.
	Stdout       string
	AppendStdout bool
	Stderr       string
	AppendStderr bool
	// StderrToStdout and StdoutToStderr duplicate one stream onto the other.
	StderrToStdout bool
	StdoutToStderr bool
}

// Pipeline is a parsed command line: stages connected by "|".
type Pipeline struct {
	Source string
	Stages []Stage
}

// CommandError reports a pipeline that wrote to stderr or could not start.
type CommandError struct {
	Command  string
	Stderr   string
	ExitCode int
	Err      error
}

func (e *CommandError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("command %q: %s", e.Command, msg)
}

func (e *CommandError) Unwrap() []error {
	if e.Err != nil {
		return []error{contracts.ErrThreadFailed, e.Err}
	}
	return []error{contracts.ErrThreadFailed}
}

type tokKind int

const (
	tokWord tokKind = iota
	tokPipe
	tokIn       // <
	tokOut      // [fd]> or [fd]>>
	tokBoth     // &> or &>>
	tokDup      // [fd]>&fd
)

type token struct {
	kind   tokKind
	text   string
	fd     int
	target int
	append bool
}

// ParsePipeline splits src into stages. Words may be quoted with single
// or double quotes; a backslash escapes the next character outside single
// quotes. Supported redirections are <, >, >>, N>, N>>, &>, &>> and N>&M.
func ParsePipeline(src string) (*Pipeline, error) {
	toks, err := lexCommand(src)
	if err != nil {
		return nil, err
	}
	p := &Pipeline{Source: src}
	st := Stage{}
	flush := func() error {
		if len(st.Args) == 0 {
			return fmt.Errorf("command %q: empty stage: %w", src, contracts.ErrArgumentValidation)
		}
		p.Stages = append(p.Stages, st)
		st = Stage{}
		return nil
	}
	for i := 0; i < len(toks); i++ {
		t := toks[i]
		switch t.kind {
		case tokWord:
			st.Args = append(st.Args, t.text)
			continue
		case tokPipe:
			if err := flush(); err != nil {
				return nil, err
			}
			continue
		case tokDup:
			switch {
			case t.fd == 2 && t.target == 1:
				st.StderrToStdout = true
			case t.fd == 1 && t.target == 2:
				st.StdoutToStderr = true
			default:
				return nil, fmt.Errorf("command %q: unsupported %d>&%d: %w", src, t.fd, t.target, contracts.ErrArgumentValidation)
			}
			continue
		}

		if i+1 >= len(toks) || toks[i+1].kind != tokWord {
			return nil, fmt.Errorf("command %q: redirection without a file: %w", src, contracts.ErrArgumentValidation)
		}
		i++
		file := toks[i].text
		switch t.kind {
		case tokIn:
			st.Stdin = file
		case tokBoth:
			st.Stdout, st.AppendStdout, st.StderrToStdout = file, t.append, true
		case tokOut:
			switch t.fd {
			case 1:
				st.Stdout, st.AppendStdout = file, t.append
			case 2:
				st.Stderr, st.AppendStderr = file, t.append
			default:
				return nil, fmt.Errorf("command %q: unsupported descriptor %d: %w", src, t.fd, contracts.ErrArgumentValidation)
			}
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return p, nil
}

func lexCommand(src string) ([]token, error) {
	var toks []token
	rs := []rune(src)
	n := len(rs)
	bad := func(what string) error {
		return fmt.Errorf("command %q: unsupported %s: %w", src, what, contracts.ErrArgumentValidation)
	}

	// out lexes a redirection starting at the '>' at i for descriptor fd.
	out := func(i, fd int) (token, int, error) {
		i++
		if i < n && rs[i] == '>' {
			return token{kind: tokOut, fd: fd, append: true}, i + 1, nil
		}
		if i < n && rs[i] == '&' {
			j := i + 1
			for j < n && unicode.IsDigit(rs[j]) {
				j++
			}
			if j == i+1 {
				return token{}, 0, bad(">& without a descriptor")
			}
			target, _ := strconv.Atoi(string(rs[i+1 : j]))
			return token{kind: tokDup, fd: fd, target: target}, j, nil
		}
		return token{kind: tokOut, fd: fd}, i, nil
	}

	for i := 0; i < n; {
		r := rs[i]
		switch {
		case unicode.IsSpace(r):
			i++
			continue
		case r == '|':
			if i+1 < n && rs[i+1] == '|' {
				return nil, bad("||")
			}
			toks = append(toks, token{kind: tokPipe})
			i++
			continue
		case r == ';':
			return nil, bad(";")
		case r == '<':
			toks = append(toks, token{kind: tokIn})
			i++
			continue
		case r == '>':
			t, next, err := out(i, 1)
			if err != nil {
				return nil, err
			}
			toks = append(toks, t)
			i = next
			continue
		case r == '&':
			if i+1 < n && rs[i+1] == '>' {
				t := token{kind: tokBoth}
				i += 2
				if i < n && rs[i] == '>' {
					t.append = true
					i++
				}
				toks = append(toks, t)
				continue
			}
			return nil, bad("&")
		case unicode.IsDigit(r):
			j := i
			for j < n && unicode.IsDigit(rs[j]) {
				j++
			}
			if j < n && rs[j] == '>' {
				fd, _ := strconv.Atoi(string(rs[i:j]))
				t, next, err := out(j, fd)
				if err != nil {
					return nil, err
				}
				toks = append(toks, t)
				i = next
				continue
			}
		}

		var b strings.Builder
		for i < n {
			r := rs[i]
			if unicode.IsSpace(r) || r == '|' || r == '<' || r == '>' || r == ';' || (r == '&' && i+1 < n && rs[i+1] == '>') {
				break
			}
			switch r {
			case '\'':
				end := indexRune(rs, i+1, '\'')
				if end < 0 {
					return nil, bad("unterminated quote")
				}
				b.WriteString(string(rs[i+1 : end]))
				i = end + 1
			case '"':
				i++
				for i < n && rs[i] != '"' {
					if rs[i] == '\\' && i+1 < n && strings.ContainsRune(`"\$`+"`", rs[i+1]) {
						i++
					}
					b.WriteRune(rs[i])
					i++
				}
				if i >= n {
					return nil, bad("unterminated quote")
				}
				i++
			case '\\':
				if i+1 < n {
					b.WriteRune(rs[i+1])
				}
				i += 2
			default:
				b.WriteRune(r)
				i++
			}
		}
		toks = append(toks, token{kind: tokWord, text: b.String()})
	}
	return toks, nil
}

func indexRune(rs []rune, from int, r rune) int {
	for i := from; i < len(rs); i++ {
		if rs[i] == r {
			return i
		}
	}
	return -1
}

// lockedBuffer serialises writes from several processes' copy goroutines.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// Run executes the pipeline in dir. The output of the last stage is
// returned. Anything written to stderr, or a stage failing to start, is
// reported as a *CommandError.
func (p *Pipeline) Run(ctx context.Context, dir string) ([]byte, error) {
	var stdout bytes.Buffer
	stderr := &lockedBuffer{}
	var closers []io.Closer
	defer func() {
		for _, c := range closers {
			c.Close()
		}
	}()
	resolve := func(name string) string {
		if filepath.IsAbs(name) || dir == "" {
			return name
		}
		return filepath.Join(dir, name)
	}
	openOut := func(name string, appendTo bool) (*os.File, error) {
		flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
		if appendTo {
			flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
		}
		f, err := os.OpenFile(resolve(name), flags, 0o644)
		if err == nil {
			closers = append(closers, f)
		}
		return f, err
	}
	fail := func(err error) ([]byte, error) {
		return nil, &CommandError{Command: p.Source, Stderr: stderr.String(), ExitCode: -1, Err: err}
	}

	cmds := make([]*exec.Cmd, len(p.Stages))
	// parentEnds are pipe ends the parent must close once the children hold them.
	parentEnds := make([][]*os.File, len(p.Stages))
	var prev *os.File
	for i, st := range p.Stages {
		cmd := exec.CommandContext(ctx, st.Args[0], st.Args[1:]...)
		cmd.Dir = dir

		switch {
		case st.Stdin != "":
			f, err := os.Open(resolve(st.Stdin))
			if err != nil {
				return fail(err)
			}
			closers = append(closers, f)
			cmd.Stdin = f
		case prev != nil:
			cmd.Stdin = prev
		}
		if prev != nil {
			parentEnds[i] = append(parentEnds[i], prev)
			closers = append(closers, prev)
			prev = nil
		}

		var out io.Writer = &stdout
		if i < len(p.Stages)-1 {
			r, w, err := os.Pipe()
			if err != nil {
				return fail(err)
			}
			closers = append(closers, r, w)
			parentEnds[i] = append(parentEnds[i], w)
			out, prev = w, r
		}
		if st.Stdout != "" {
			f, err := openOut(st.Stdout, st.AppendStdout)
			if err != nil {
				return fail(err)
			}
			out = f
		}
		var errOut io.Writer = stderr
		if st.Stderr != "" {
			f, err := openOut(st.Stderr, st.AppendStderr)
			if err != nil {
				return fail(err)
			}
			errOut = f
		}
		if st.StderrToStdout {
			errOut = out
		}
		if st.StdoutToStderr {
			out = errOut
		}
		cmd.Stdout, cmd.Stderr = out, errOut
		cmds[i] = cmd
	}

	started := 0
	var startErr error
	for i, cmd := range cmds {
		if err := cmd.Start(); err != nil {
			startErr = err
			break
		}
		started++
		for _, f := range parentEnds[i] {
			f.Close()
		}
	}
	if startErr != nil {
		// unblock started stages writing into pipes nobody reads
		for _, ends := range parentEnds[started:] {
			for _, f := range ends {
				f.Close()
			}
		}
	}
	var lastErr error
	for i := range started {
		err := cmds[i].Wait()
		if i == len(cmds)-1 {
			lastErr = err
		}
	}
	if startErr != nil {
		return fail(startErr)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	code := 0
	var exitErr *exec.ExitError
	if errors.As(lastErr, &exitErr) {
		code = exitErr.ExitCode()
	} else if lastErr != nil {
		return fail(lastErr)
	}
	if msg := stderr.String(); strings.TrimSpace(msg) != "" {
		return nil, &CommandError{Command: p.Source, Stderr: msg, ExitCode: code}
	}
	return stdout.Bytes(), nil
}
