package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/VladislavFirsov/reportflow/config"
	"github.com/VladislavFirsov/reportflow/internal/replacements"
	"github.com/VladislavFirsov/reportflow/internal/report"
)

const weeklyConfig = `{
	"manager": "tabular",
	"tabular": {"files": [{"name": "A", "path": "a.tsv"}]},
	"reporting": "markdown",
	"replacements": [
		{"name": "SPRINT_NUMBER", "value": "7", "overridable": true},
		{"name": "TEAM", "value": "core"}
	],
	"report": {
		"title": "Sprint {SPRINT_NUMBER}",
		"sections": [
			{"title": "Data", "structure": [
				{"type": "table", "name": "rows", "content": {"query": "score > 1"}}
			]}
		]
	}
}`

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.tsv"), []byte("id\tscore\n1\t2\n2\t0.5\n"), 0o644))
	path := filepath.Join(dir, "reportflow.json")
	require.NoError(t, os.WriteFile(path, []byte(weeklyConfig), 0o644))
	return path
}

func TestScanConfigPath(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"none", []string{"build"}, ""},
		{"long", []string{"build", "--config", "r.json"}, "r.json"},
		{"long equals", []string{"--config=r.yaml", "preview"}, "r.yaml"},
		{"short", []string{"-c", "r.json", "build"}, "r.json"},
		{"short equals", []string{"build", "-c=r.json"}, "r.json"},
		{"missing value", []string{"build", "--config"}, ""},
		{"after terminator", []string{"build", "--", "--config", "r.json"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, scanConfigPath(tt.args))
		})
	}
}

// newTestRoot mirrors rootCmd with a single subcommand that records the
// configuration after overrides are applied.
func newTestRoot(got **config.Config) *cobra.Command {
	root := &cobra.Command{Use: "reportflow", SilenceUsage: true, SilenceErrors: true}
	var path string
	root.PersistentFlags().StringVarP(&path, "config", "c", "", "")
	sub := &cobra.Command{
		Use: "build",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.NewLoader().Load(path)
			if err != nil {
				return err
			}
			applyOverrides(cmd, cfg)
			*got = cfg
			return nil
		},
	}
	sub.Flags().Int("width", 0, "")
	root.AddCommand(sub)
	return root
}

func resetOverrides(t *testing.T) {
	t.Helper()
	overrides = map[string]*override{}
	t.Cleanup(func() { overrides = map[string]*override{} })
}

func TestRegisterReplacementFlags(t *testing.T) {
	resetOverrides(t)
	path := writeConfig(t)
	var cfg *config.Config
	root := newTestRoot(&cfg)

	args := []string{"build", "--config", path, "--sprint-number", "42"}
	registerReplacementFlags(root, args)

	assert.Contains(t, overrides, "sprint-number")
	assert.Contains(t, overrides, "today")
	assert.NotContains(t, overrides, "team", "only overridable replacements become flags")
	assert.NotContains(t, overrides, "home")

	root.SetArgs(args)
	require.NoError(t, root.Execute())
	require.NotNil(t, cfg)

	var sprint *replacements.Replacement
	for i := range cfg.Replacements {
		if cfg.Replacements[i].Name == "SPRINT_NUMBER" {
			sprint = &cfg.Replacements[i]
		}
	}
	require.NotNil(t, sprint)
	assert.Equal(t, "42", sprint.Value)
	assert.True(t, sprint.Overridable)
	assert.Len(t, cfg.Replacements, 2, "an unchanged builtin is not copied into the configuration")
}

func TestApplyOverrides_AppendsBuiltin(t *testing.T) {
	resetOverrides(t)
	path := writeConfig(t)
	var cfg *config.Config
	root := newTestRoot(&cfg)

	args := []string{"build", "-c", path, "--today", "2026-10-01"}
	registerReplacementFlags(root, args)
	root.SetArgs(args)
	require.NoError(t, root.Execute())

	require.Len(t, cfg.Replacements, 3)
	today := cfg.Replacements[2]
	assert.Equal(t, "TODAY", today.Name)
	assert.Equal(t, replacements.TypeDate, today.Type)
	assert.Equal(t, "2026-10-01", today.Value)
}

func TestRegisterReplacementFlags_SkipsTakenNames(t *testing.T) {
	resetOverrides(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "r.json")
	cfg := `{"manager": "tabular", "reporting": "markdown", "tabular": {"files": [{"name": "A", "path": "a.tsv"}]},
		"replacements": [{"name": "WIDTH", "value": "1", "overridable": true}],
		"report": {"title": "T", "sections": [{"title": "S", "structure": [{"type": "page_break"}]}]}}`
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))

	var got *config.Config
	root := newTestRoot(&got)
	registerReplacementFlags(root, []string{"-c", path})

	assert.NotContains(t, overrides, "width")
	assert.Contains(t, overrides, "today")
}

func TestRegisterReplacementFlags_UnreadableConfig(t *testing.T) {
	resetOverrides(t)
	var got *config.Config
	root := newTestRoot(&got)

	registerReplacementFlags(root, []string{"-c", filepath.Join(t.TempDir(), "missing.json")})

	assert.Len(t, overrides, 1)
	assert.Contains(t, overrides, "today")
}

func TestRunBuild(t *testing.T) {
	logger = zap.NewNop()
	t.Cleanup(func() { logger = nil })

	cfg, err := config.NewLoader().LoadFromFile(writeConfig(t))
	require.NoError(t, err)

	build, err := runBuild(context.Background(), cfg, report.Options{})
	require.NoError(t, err)
	require.NoError(t, build.Err())
	assert.Equal(t, "Sprint 7", build.Title)
	assert.FileExists(t, build.Path)

	data, err := os.ReadFile(build.Path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "| 1 | 2 |")
}

func TestRunBuild_Cancelled(t *testing.T) {
	logger = zap.NewNop()
	t.Cleanup(func() { logger = nil })

	cfg, err := config.NewLoader().LoadFromFile(writeConfig(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = runBuild(ctx, cfg, report.Options{})
	assert.ErrorIs(t, err, context.Canceled)
}
