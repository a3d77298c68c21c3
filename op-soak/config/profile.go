package config

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/BurntSushi/toml"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
)

// LoadProfile reads a run profile from fs. Files ending in .yaml or .yml are
// YAML, everything else is TOML.
func LoadProfile(fs afero.Fs, path string) (map[string]any, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read run profile: %w", err)
	}
	var profile map[string]any
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &profile)
	default:
		_, err = toml.Decode(string(data), &profile)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode run profile %s: %w", path, err)
	}
	return profile, nil
}

// ApplyProfile reads a run profile whose keys are flag names and sets every
// flag that was not set on the command line or in the environment.
// It returns the names of the flags taken from the profile.
func ApplyProfile(ctx *cli.Context, fs afero.Fs, path string) ([]string, error) {
	profile, err := LoadProfile(fs, path)
	if err != nil {
		return nil, err
	}

	known := make(map[string]bool)
	for _, f := range ctx.App.Flags {
		for _, name := range f.Names() {
			known[name] = true
		}
	}

	keys := make([]string, 0, len(profile))
	for k := range profile {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var result *multierror.Error
	var applied []string
	for _, name := range keys {
		if !known[name] {
			result = multierror.Append(result, fmt.Errorf("unknown profile key %q", name))
			continue
		}
		if ctx.IsSet(name) {
			continue
		}
		values, ok := profile[name].([]any)
		if !ok {
			values = []any{profile[name]}
		}
		for _, v := range values {
			if err := ctx.Set(name, fmt.Sprint(v)); err != nil {
				result = multierror.Append(result, fmt.Errorf("invalid profile value for %s: %w", name, err))
			}
		}
		applied = append(applied, name)
	}
	return applied, result.ErrorOrNil()
}
