// Package manifest handles marionette.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/chazu/marionette/vm"
)

// Manifest represents a marionette.toml project configuration.
type Manifest struct {
	Project Project     `toml:"project"`
	Limits  Limits      `toml:"limits"`
	Debug   DebugConfig `toml:"debug"`
	Log     LogConfig   `toml:"log"`
	Store   StoreConfig `toml:"store"`

	// Dir is the directory containing the marionette.toml file (set at
	// load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

// Limits configures runtime budgets.
type Limits struct {
	MaxArrayElements int `toml:"max-array-elements"`
}

// DebugConfig configures debugger defaults.
type DebugConfig struct {
	Enabled bool `toml:"enabled"`
}

// LogConfig configures logging output.
type LogConfig struct {
	Verbosity int `toml:"verbosity"`
}

// StoreConfig configures the program archive store.
type StoreConfig struct {
	Path string `toml:"path"`
}

// Load parses a marionette.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, "marionette.toml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	m.applyDefaults()
	if m.Limits.MaxArrayElements < 0 {
		return nil, fmt.Errorf("%s: limits.max-array-elements must not be negative", path)
	}
	return &m, nil
}

// FindAndLoad walks up from startDir to find a marionette.toml file, then
// loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, "marionette.toml")
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// Default returns a manifest holding only the built-in defaults, used when
// no marionette.toml exists.
func Default() *Manifest {
	m := &Manifest{}
	m.applyDefaults()
	return m
}

func (m *Manifest) applyDefaults() {
	if m.Limits.MaxArrayElements == 0 {
		m.Limits.MaxArrayElements = vm.DefaultMaxArrayElements
	}
	if m.Store.Path == "" {
		m.Store.Path = filepath.Join(".marionette", "programs.db")
	}
}

// VMConfig translates the manifest's limits into a runtime configuration.
func (m *Manifest) VMConfig() vm.Config {
	return vm.Config{MaxArrayElements: m.Limits.MaxArrayElements}
}

// StorePath returns the absolute path of the program archive store.
func (m *Manifest) StorePath() string {
	if filepath.IsAbs(m.Store.Path) || m.Dir == "" {
		return m.Store.Path
	}
	return filepath.Join(m.Dir, m.Store.Path)
}
