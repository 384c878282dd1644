package configutil

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"github.com/spf13/afero"
	"github.com/titanous/json5"
)

// tests swap this out for an in-memory filesystem
var fs afero.Fs = afero.NewOsFs()

func splitExt(f string) (string, string) {
	for i := len(f) - 1; i >= 0; i-- {
		if f[i] == '.' {
			return f[0:i], f[i+1:]
		}
	}
	return f, ""
}

// reads a json5 configuration file, `name` should come with a file
// extension. the following layers are merged, where a higher number
// wins on conflicting keys.
// 1. <name>.<ext>
// 2. <name>.local.<ext>
func ReadConfig[T any](name string) (T, error) {
	var out T

	dirname := filepath.Dir(name)
	prefixname, ext := splitExt(filepath.Base(name))

	layers := []string{
		name,
		filepath.Join(dirname, fmt.Sprintf("%s.local.%s", prefixname, ext)),
	}

	found := 0
	for _, path := range layers {
		raw, err := afero.ReadFile(fs, path)
		if err != nil && !os.IsNotExist(err) {
			return out, err
		}
		if len(raw) == 0 {
			continue
		}

		var layer T
		err = json5.Unmarshal(raw, &layer)
		if err != nil {
			return out, fmt.Errorf("parse %s: %w", path, err)
		}
		err = mergo.Merge(&out, layer, mergo.WithOverride)
		if err != nil {
			return out, err
		}

		if found > 0 {
			slog.Info("merging config with local overrides", "local", path)
		}
		found++
	}

	if found == 0 {
		return out, os.ErrNotExist
	}
	return out, nil
}

// ReadConfig but it walks up the filesystem from the cwd until it
// finds a configuration file matching the name.
func ReadRecursively[T any](name string) (T, error) {
	var zero T
	cwd, err := os.Getwd()
	if err != nil {
		return zero, err
	}
	return readRecursivelyFrom[T](cwd, name)
}

func readRecursivelyFrom[T any](start, name string) (T, error) {
	var zero T

	current := start
	for {
		config, err := ReadConfig[T](filepath.Join(current, name))
		if os.IsNotExist(err) {
			parent := filepath.Dir(current)
			if parent == current {
				return zero, os.ErrNotExist
			}
			current = parent
			continue
		}
		if err != nil {
			return zero, err
		}
		return config, nil
	}
}
