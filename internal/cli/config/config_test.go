package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPathPrefersNearestLocalConfig(t *testing.T) {
	root := t.TempDir()
	home := filepath.Join(root, "home")
	if err := os.MkdirAll(home, 0o755); err != nil {
		t.Fatalf("mkdir home: %v", err)
	}
	t.Setenv("HOME", home)

	projectRoot := filepath.Join(root, "project")
	deep := filepath.Join(projectRoot, "a", "b")
	if err := os.MkdirAll(deep, 0o755); err != nil {
		t.Fatalf("mkdir deep: %v", err)
	}

	parentCfg := filepath.Join(projectRoot, ".fleet", "config.json")
	if err := os.MkdirAll(filepath.Dir(parentCfg), 0o755); err != nil {
		t.Fatalf("mkdir parent cfg dir: %v", err)
	}
	if err := os.WriteFile(parentCfg, []byte(`{"version":1}`), 0o600); err != nil {
		t.Fatalf("write parent cfg: %v", err)
	}

	nearCfg := filepath.Join(projectRoot, "a", ".fleet", "config.json")
	if err := os.MkdirAll(filepath.Dir(nearCfg), 0o755); err != nil {
		t.Fatalf("mkdir near cfg dir: %v", err)
	}
	if err := os.WriteFile(nearCfg, []byte(`{"version":1}`), 0o600); err != nil {
		t.Fatalf("write near cfg: %v", err)
	}

	prev, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	defer func() { _ = os.Chdir(prev) }()
	if err := os.Chdir(deep); err != nil {
		t.Fatalf("chdir: %v", err)
	}

	got, err := Path()
	if err != nil {
		t.Fatalf("Path() error: %v", err)
	}
	if got != nearCfg {
		t.Fatalf("Path() = %q, want %q", got, nearCfg)
	}
}

func TestPathFallsBackToHomeWhenNoLocalConfig(t *testing.T) {
	root := t.TempDir()
	home := filepath.Join(root, "home")
	if err := os.MkdirAll(home, 0o755); err != nil {
		t.Fatalf("mkdir home: %v", err)
	}
	t.Setenv("HOME", home)

	wd := filepath.Join(root, "work", "x", "y")
	if err := os.MkdirAll(wd, 0o755); err != nil {
		t.Fatalf("mkdir wd: %v", err)
	}

	prev, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	defer func() { _ = os.Chdir(prev) }()
	if err := os.Chdir(wd); err != nil {
		t.Fatalf("chdir: %v", err)
	}

	got, err := Path()
	if err != nil {
		t.Fatalf("Path() error: %v", err)
	}
	want := filepath.Join(home, ".fleet", "config.json")
	if got != want {
		t.Fatalf("Path() = %q, want %q", got, want)
	}
}

func TestSaveLoadRoundTripsServers(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Chdir(t.TempDir())

	c, err := Load()
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	if _, ok := c.Default(); ok {
		t.Fatalf("fresh config should have no default server")
	}
	c.SetServer("", "http://127.0.0.1:8080", "fleet_ak_x", "admin")
	if err := Save(c); err != nil {
		t.Fatalf("save: %v", err)
	}

	info, err := os.Stat(filepath.Join(home, ".fleet", "config.json"))
	if err != nil {
		t.Fatalf("stat saved config: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("config mode = %v, want 0600", info.Mode().Perm())
	}

	loaded, err := Load()
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	srv, ok := loaded.Default()
	if !ok || srv.APIKey != "fleet_ak_x" || srv.Operator != "admin" {
		t.Fatalf("unexpected default server: %+v", srv)
	}
	loaded.ClearDefault()
	if _, ok := loaded.Default(); ok {
		t.Fatalf("default server survived ClearDefault")
	}
}
