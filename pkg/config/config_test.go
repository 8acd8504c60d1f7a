package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/spf13/pflag"

	"github.com/fulmenhq/exportsync/pkg/track"
)

// clearEnv blanks every bound variable; viper treats empty values as unset.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, env := range envBindings {
		t.Setenv(env, "")
	}
	for _, names := range envFallbacks {
		for _, env := range names {
			t.Setenv(env, "")
		}
	}
}

func chdir(t *testing.T, dir string) {
	t.Helper()
	oldWd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Failed to get current directory: %v", err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(oldWd); err != nil {
			t.Errorf("Failed to restore directory: %v", err)
		}
	})
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Failed to change directory: %v", err)
	}
}

func testFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("sync", pflag.ContinueOnError)
	fs.String("vault-dir", "", "")
	fs.String("dest", "", "")
	fs.String("focus", "", "")
	fs.String("min-reports", "", "")
	fs.Bool("allow-zip-fallback", false, "")
	fs.Int("max-depth", 0, "")
	fs.StringSlice("exclude", nil, "")
	return fs
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	chdir(t, t.TempDir())

	cfg, err := Load(LoadOptions{})
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.VaultZip != "13 - Lattice Labs.zip" {
		t.Errorf("Expected default vault zip, got %q", cfg.VaultZip)
	}
	if cfg.Destination != "public/data/site_export.v1" {
		t.Errorf("Expected default destination, got %q", cfg.Destination)
	}
	if !reflect.DeepEqual(cfg.FocusTracks(), track.DefaultFocus) {
		t.Errorf("Expected default focus tracks, got %v", cfg.FocusTracks())
	}
	if cfg.MinReports() != 1 {
		t.Errorf("Expected min reports 1, got %d", cfg.MinReports())
	}
	if cfg.AllowZipFallback || cfg.AllowFocusMismatch {
		t.Error("Expected guard bypasses to default off")
	}
	if cfg.Discovery.MaxDepth != 8 || cfg.Discovery.Concurrency != 4 {
		t.Errorf("Unexpected discovery defaults: %+v", cfg.Discovery)
	}
	if cfg.Discovery.IgnoreFile != ".exportsyncignore" {
		t.Errorf("Expected default ignore file, got %q", cfg.Discovery.IgnoreFile)
	}
}

func TestLoadEnvironment(t *testing.T) {
	clearEnv(t)
	chdir(t, t.TempDir())
	t.Setenv("CLARUM_VAULT_DIR", "/vault")
	t.Setenv("CLARUM_SITE_EXPORT_DEST", "/srv/site")
	t.Setenv("CLARUM_SYNC_FOCUS_TRACKS", " other , ,sanctions_controls")
	t.Setenv("CLARUM_SYNC_MIN_REPORTS", "-4")
	t.Setenv("CLARUM_ALLOW_FOCUS_MISMATCH", "1")
	t.Setenv("CLARUM_DISCOVERY_MAX_DEPTH", "3")

	cfg, err := Load(LoadOptions{})
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.VaultDir != "/vault" || cfg.Destination != "/srv/site" {
		t.Errorf("Expected env paths, got %q %q", cfg.VaultDir, cfg.Destination)
	}
	want := []track.Key{track.Other, track.SanctionsControls}
	if !reflect.DeepEqual(cfg.FocusTracks(), want) {
		t.Errorf("Expected %v, got %v", want, cfg.FocusTracks())
	}
	if cfg.MinReports() != 1 {
		t.Errorf("Expected negative threshold to fall back to 1, got %d", cfg.MinReports())
	}
	if !cfg.AllowFocusMismatch {
		t.Error("Expected focus mismatch bypass from env")
	}
	if cfg.Discovery.MaxDepth != 3 {
		t.Errorf("Expected max depth 3, got %d", cfg.Discovery.MaxDepth)
	}
}

func TestLoadConfigFileAndFlags(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	chdir(t, dir)

	content := `vault_dir: /from-file
min_reports: 5
focus_tracks:
  - critical_minerals
  - battery_supply_chain
discovery:
  exclude:
    - "**/archive/**"
`
	if err := os.WriteFile(filepath.Join(dir, "exportsync.yaml"), []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	t.Setenv("CLARUM_VAULT_DIR", "/from-env")

	fs := testFlags()
	if err := fs.Parse([]string{"--dest", "/from-flag", "--min-reports", "2.9"}); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(LoadOptions{Flags: fs})
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.VaultDir != "/from-env" {
		t.Errorf("Expected env to override file, got %q", cfg.VaultDir)
	}
	if cfg.Destination != "/from-flag" {
		t.Errorf("Expected flag to win, got %q", cfg.Destination)
	}
	if cfg.MinReports() != 2 {
		t.Errorf("Expected floored flag threshold 2, got %d", cfg.MinReports())
	}
	want := []track.Key{track.CriticalMinerals, track.BatterySupplyChain}
	if !reflect.DeepEqual(cfg.FocusTracks(), want) {
		t.Errorf("Expected focus list from file, got %v", cfg.FocusTracks())
	}
	if !reflect.DeepEqual(cfg.Discovery.Exclude, []string{"**/archive/**"}) {
		t.Errorf("Expected excludes from file, got %v", cfg.Discovery.Exclude)
	}
	if cfg.Discovery.MaxDepth != 8 {
		t.Errorf("Unchanged flag must not override default, got %d", cfg.Discovery.MaxDepth)
	}
}

func TestLoadExplicitConfigFile(t *testing.T) {
	clearEnv(t)
	chdir(t, t.TempDir())

	if _, err := Load(LoadOptions{ConfigFile: filepath.Join(t.TempDir(), "nope.yaml")}); err == nil {
		t.Fatal("Expected error for a missing explicit config file")
	}

	p := filepath.Join(t.TempDir(), "custom.yaml")
	if err := os.WriteFile(p, []byte("destinaton: typo\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := Load(LoadOptions{ConfigFile: p})
	if err == nil || !strings.Contains(err.Error(), "configuration validation failed") {
		t.Fatalf("Expected schema violation, got %v", err)
	}

	if err := os.WriteFile(p, []byte("allow_zip_fallback: true\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(LoadOptions{ConfigFile: p})
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if !cfg.AllowZipFallback {
		t.Error("Expected zip fallback from explicit config file")
	}
}

func TestDefaultIsCopy(t *testing.T) {
	a := Default()
	a.Discovery.Exclude = append(a.Discovery.Exclude, "x")
	if len(Default().Discovery.Exclude) != 0 {
		t.Error("Default() must not share slices")
	}
}

func TestFocusTracksExplicit(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	chdir(t, dir)

	cfg, err := Load(LoadOptions{Flags: testFlags()})
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.FocusTracksExplicit {
		t.Error("built-in default focus must not count as explicit")
	}

	t.Setenv("SYNC_EXPECT_TRACKS", "other")
	cfg, err = Load(LoadOptions{})
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if !cfg.FocusTracksExplicit || cfg.FocusTracksRaw != "other" {
		t.Errorf("fallback variable: explicit=%v raw=%q", cfg.FocusTracksExplicit, cfg.FocusTracksRaw)
	}

	t.Setenv("CLARUM_SYNC_FOCUS_TRACKS", "critical_minerals")
	cfg, err = Load(LoadOptions{})
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.FocusTracksRaw != "critical_minerals" {
		t.Errorf("primary variable should win over the fallback, got %q", cfg.FocusTracksRaw)
	}

	clearEnv(t)
	if err := os.WriteFile(filepath.Join(dir, "exportsync.yaml"), []byte("focus_tracks: [other]\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err = Load(LoadOptions{})
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if !cfg.FocusTracksExplicit || cfg.FocusTracksRaw != "other" {
		t.Errorf("config file: explicit=%v raw=%q", cfg.FocusTracksExplicit, cfg.FocusTracksRaw)
	}

	fs := testFlags()
	if err := fs.Parse([]string{"--focus", "critical_minerals"}); err != nil {
		t.Fatal(err)
	}
	cfg, err = Load(LoadOptions{Flags: fs})
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if !cfg.FocusTracksExplicit || cfg.FocusTracksRaw != "critical_minerals" {
		t.Errorf("flag: explicit=%v raw=%q", cfg.FocusTracksExplicit, cfg.FocusTracksRaw)
	}
}
