package sources

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VladislavFirsov/reportflow/contracts"
	"github.com/VladislavFirsov/reportflow/internal/orchestration"
)

func TestParsePipeline(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want []Stage
	}{
		{
			name: "two stages with quotes",
			src:  `grep -rin 'def test_' tests | sed "s/test/build/g"`,
			want: []Stage{
				{Args: []string{"grep", "-rin", "def test_", "tests"}},
				{Args: []string{"sed", "s/test/build/g"}},
			},
		},
		{
			name: "output redirections",
			src:  `make all > build.log 2>&1`,
			want: []Stage{{Args: []string{"make", "all"}, Stdout: "build.log", StderrToStdout: true}},
		},
		{
			name: "append and stderr file",
			src:  `run >> out.txt 2> err.txt`,
			want: []Stage{{Args: []string{"run"}, Stdout: "out.txt", AppendStdout: true, Stderr: "err.txt"}},
		},
		{
			name: "both streams and input",
			src:  `sort < in.txt &> sorted.txt`,
			want: []Stage{{Args: []string{"sort"}, Stdin: "in.txt", Stdout: "sorted.txt", StderrToStdout: true}},
		},
		{
			name: "stdout to stderr",
			src:  `echo oops 1>&2`,
			want: []Stage{{Args: []string{"echo", "oops"}, StdoutToStderr: true}},
		},
		{
			name: "escapes and digits",
			src:  `echo a\ b 42 "say \"hi\""`,
			want: []Stage{{Args: []string{"echo", "a b", "42", `say "hi"`}}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ParsePipeline(tt.src)
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, p.Stages); diff != "" {
				t.Errorf("stages mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParsePipeline_Rejects(t *testing.T) {
	for _, src := range []string{
		"",
		"ls |",
		"| ls",
		"a && b",
		"a || b",
		"a; b",
		"cat >",
		"echo 'open",
		"echo 3>&1",
	} {
		_, err := ParsePipeline(src)
		assert.ErrorIs(t, err, contracts.ErrArgumentValidation, src)
	}
}

func requireTools(t *testing.T, tools ...string) {
	t.Helper()
	for _, tool := range tools {
		if _, err := exec.LookPath(tool); err != nil {
			t.Skipf("%s not available", tool)
		}
	}
}

func TestCommandTask_Pipeline(t *testing.T) {
	requireTools(t, "grep", "sed")
	dir := t.TempDir()
	writeFile(t, dir, "tests/test_x.py", "def test_one():\n    pass\n\ndef test_two():\n    pass\n")

	task, err := NewCommandTask("grep", `grep -rin 'def test_' tests | sed 's/test/build/g'`, NewCommand(CommandParams{}, Deps{Dir: dir}))
	require.NoError(t, err)

	s := orchestration.NewScheduler(orchestration.DefaultOptions())
	require.NoError(t, s.Append(task))
	require.NoError(t, s.Start(context.Background()))

	require.Equal(t, contracts.TaskComplete, task.State(), "failure: %v", task.Failure())
	lines := task.Results().Values(LineField)
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "def build_one")
	assert.NotContains(t, lines[0], "test_")
}

func TestCommand_StderrFails(t *testing.T) {
	requireTools(t, "sh")
	cmd := NewCommand(CommandParams{}, Deps{Dir: t.TempDir()})

	_, err := cmd.Run(context.Background(), `sh -c "echo warning >&2; exit 0"`)
	var cerr *CommandError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, 0, cerr.ExitCode)
	assert.Contains(t, cerr.Stderr, "warning")
	assert.ErrorIs(t, err, contracts.ErrThreadFailed)

	_, err = cmd.Run(context.Background(), `definitely-not-a-command-xyz`)
	require.ErrorAs(t, err, &cerr)
}

func TestCommand_Redirections(t *testing.T) {
	requireTools(t, "sort", "sh")
	dir := t.TempDir()
	writeFile(t, dir, "in.txt", "b\na\nc\n")
	cmd := NewCommand(CommandParams{}, Deps{Dir: dir})

	rs, err := cmd.Run(context.Background(), `sort < in.txt`)
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b", "c"}, rs.Values(LineField))

	rs, err = cmd.Run(context.Background(), `sort in.txt > sorted.txt`)
	require.NoError(t, err)
	assert.Zero(t, rs.Len())
	data, err := os.ReadFile(filepath.Join(dir, "sorted.txt"))
	require.NoError(t, err)
	assert.Equal(t, "a\nb\nc\n", string(data))

	rs, err = cmd.Run(context.Background(), `sh -c "echo folded >&2" 2>&1`)
	require.NoError(t, err)
	assert.Equal(t, []any{"folded"}, rs.Values(LineField))
}

func TestCommand_Search(t *testing.T) {
	requireTools(t, "printf")
	src, err := New("command", nil, Deps{Dir: t.TempDir()})
	require.NoError(t, err)

	got, err := src.Search(context.Background(), Request{Query: `printf 'x\ny\nz\n'`, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, got.Len())

	_, err = src.Search(context.Background(), Request{})
	assert.ErrorIs(t, err, contracts.ErrQueryRejected)
}
