package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/VladislavFirsov/reportflow/config"
	"github.com/VladislavFirsov/reportflow/internal/replacements"
)

// override binds one generated flag to the replacement it sets.
type override struct {
	rep   replacements.Replacement
	value *string
}

// overrides maps generated flag names to their replacements.
var overrides = map[string]*override{}

// scanConfigPath finds the --config value in args before cobra parses
// them, so the configuration's overridable replacements can become flags.
func scanConfigPath(args []string) string {
	for i, a := range args {
		switch {
		case a == "--":
			return ""
		case a == "--config" || a == "-c":
			if i+1 < len(args) {
				return args[i+1]
			}
		case strings.HasPrefix(a, "--config="):
			return strings.TrimPrefix(a, "--config=")
		case strings.HasPrefix(a, "-c="):
			return strings.TrimPrefix(a, "-c=")
		}
	}
	return ""
}

// registerReplacementFlags adds a string flag for every overridable
// replacement of the configuration args select, builtins included.
// A configuration that cannot be loaded registers only the builtins;
// the command reports the load error itself.
func registerReplacementFlags(root *cobra.Command, args []string) {
	reg := replacements.NewRegistry()
	if cfg, err := config.NewLoader().Load(scanConfigPath(args)); err == nil {
		_ = reg.Load(cfg.Replacements)
	}
	flags := root.PersistentFlags()
	for _, rep := range reg.Overridable() {
		name := rep.FlagName()
		if taken(root, name) {
			continue
		}
		o := &override{rep: rep, value: new(string)}
		flags.StringVar(o.value, name, rep.Value, fmt.Sprintf("override the %s replacement", rep.Name))
		overrides[name] = o
	}
}

// taken reports whether name is already a flag of root or a subcommand.
func taken(root *cobra.Command, name string) bool {
	if name == "help" || root.PersistentFlags().Lookup(name) != nil {
		return true
	}
	for _, c := range root.Commands() {
		if c.Flags().Lookup(name) != nil {
			return true
		}
	}
	return false
}

// applyOverrides copies the flags the user set into cfg.Replacements.
func applyOverrides(cmd *cobra.Command, cfg *config.Config) {
	for name, o := range overrides {
		if !cmd.Flags().Changed(name) {
			continue
		}
		rep := o.rep
		rep.Value = *o.value
		replaced := false
		for i := range cfg.Replacements {
			if strings.EqualFold(cfg.Replacements[i].Name, rep.Name) {
				cfg.Replacements[i].Value = rep.Value
				replaced = true
			}
		}
		if !replaced {
			cfg.Replacements = append(cfg.Replacements, rep)
		}
	}
}

// loadConfig loads the selected configuration and applies flag overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.NewLoader().Load(configPath)
	if err != nil {
		return nil, err
	}
	applyOverrides(cmd, cfg)
	return cfg, nil
}
