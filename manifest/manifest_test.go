package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/chazu/marionette/vm"
)

func writeManifest(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "marionette.toml"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[project]
name = "biped-rig"
version = "0.3.0"

[limits]
max-array-elements = 512

[debug]
enabled = true

[log]
verbosity = 2

[store]
path = "build/programs.db"
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if m.Project.Name != "biped-rig" || m.Project.Version != "0.3.0" {
		t.Errorf("project = %+v", m.Project)
	}
	if m.Limits.MaxArrayElements != 512 {
		t.Errorf("max-array-elements = %d", m.Limits.MaxArrayElements)
	}
	if !m.Debug.Enabled {
		t.Error("debug.enabled not parsed")
	}
	if m.Log.Verbosity != 2 {
		t.Errorf("verbosity = %d", m.Log.Verbosity)
	}
	if m.Store.Path != "build/programs.db" {
		t.Errorf("store path = %q", m.Store.Path)
	}
	if !filepath.IsAbs(m.Dir) {
		t.Errorf("Dir not absolute: %q", m.Dir)
	}
	if got := m.StorePath(); got != filepath.Join(m.Dir, "build/programs.db") {
		t.Errorf("StorePath = %q", got)
	}
}

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[project]
name = "minimal"
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if m.Limits.MaxArrayElements != vm.DefaultMaxArrayElements {
		t.Errorf("max-array-elements = %d, want default %d",
			m.Limits.MaxArrayElements, vm.DefaultMaxArrayElements)
	}
	if m.Store.Path != filepath.Join(".marionette", "programs.db") {
		t.Errorf("store path = %q", m.Store.Path)
	}
}

func TestLoadErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		if _, err := Load(t.TempDir()); err == nil {
			t.Error("expected error for missing manifest")
		}
	})
	t.Run("bad toml", func(t *testing.T) {
		dir := t.TempDir()
		writeManifest(t, dir, `[project`)
		if _, err := Load(dir); err == nil {
			t.Error("expected parse error")
		}
	})
	t.Run("negative limit", func(t *testing.T) {
		dir := t.TempDir()
		writeManifest(t, dir, `
[limits]
max-array-elements = -1
`)
		if _, err := Load(dir); err == nil {
			t.Error("expected error for negative limit")
		}
	})
}

func TestFindAndLoad(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, `
[project]
name = "nested"
`)
	sub := filepath.Join(root, "rigs", "arms")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}

	m, err := FindAndLoad(sub)
	if err != nil {
		t.Fatal(err)
	}
	if m == nil {
		t.Fatal("manifest not found from nested directory")
	}
	if m.Project.Name != "nested" {
		t.Errorf("project name = %q", m.Project.Name)
	}
}

func TestFindAndLoadMiss(t *testing.T) {
	m, err := FindAndLoad(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if m != nil {
		t.Errorf("unexpected manifest: %+v", m)
	}
}

func TestDefault(t *testing.T) {
	m := Default()
	if m.Limits.MaxArrayElements != vm.DefaultMaxArrayElements {
		t.Errorf("max-array-elements = %d", m.Limits.MaxArrayElements)
	}
	if cfg := m.VMConfig(); cfg.MaxArrayElements != vm.DefaultMaxArrayElements {
		t.Errorf("vm config = %+v", cfg)
	}
	// No Dir, so the relative store path is returned as-is.
	if got := m.StorePath(); got != filepath.Join(".marionette", "programs.db") {
		t.Errorf("StorePath = %q", got)
	}
}
