package cmd

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/fulmenhq/exportsync/pkg/exitcode"
	"github.com/fulmenhq/exportsync/pkg/siteexport"
)

// execRoot runs a fresh command tree so flag values never leak between tests.
func execRoot(t *testing.T, args []string) (string, error) {
	t.Helper()
	root := newRootCommand()
	registerSubcommands(root)
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	// Reduce log noise to capture clean command output
	full := append([]string{"--log-level", "error", "--no-color"}, args...)
	root.SetArgs(full)
	err := root.Execute()
	return buf.String(), err
}

// isolate clears the CLARUM_* environment and moves into an empty directory
// so no exportsync.yaml is picked up.
func isolate(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"CLARUM_VAULT_DIR", "CLARUM_VAULT_ZIP", "CLARUM_EXPORT_ROOT", "CLARUM_SITE_EXPORT_DEST",
		"CLARUM_SYNC_FOCUS_TRACKS", "CLARUM_SYNC_MIN_REPORTS", "CLARUM_ALLOW_ZIP_FALLBACK",
		"CLARUM_ALLOW_FOCUS_MISMATCH", "CLARUM_DISCOVERY_MAX_DEPTH", "CLARUM_SYNC_METRICS_FILE",
		"SYNC_EXPECT_TRACKS",
	} {
		t.Setenv(key, "")
	}
	chdir(t, t.TempDir())
}

func writeTestFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

// writeTestBundle writes a minimal bundle holding ids under root.
func writeTestBundle(t *testing.T, root string, ids ...string) {
	t.Helper()
	entries := make([]string, len(ids))
	for i, id := range ids {
		entries[i] = fmt.Sprintf(`{"id":%q,"country":"VN","track":"t","profile_id":"p","path":"reports/%s.json"}`, id, id)
		writeTestFile(t, filepath.Join(root, "reports", id+".json"), fmt.Sprintf(`{"meta":{"title":"Report %s"}}`, id))
	}
	writeTestFile(t, filepath.Join(root, filepath.FromSlash(siteexport.ReportsIndexRel)), `{"reports":[`+strings.Join(entries, ",")+`]}`)
}

// testVault returns a vault holding one conventional bundle with ids.
func testVault(t *testing.T, ids ...string) string {
	t.Helper()
	vault := t.TempDir()
	writeTestBundle(t, filepath.Join(vault, filepath.FromSlash(siteexport.ConventionalExportRel)), ids...)
	return vault
}

func TestInitializeLogger(t *testing.T) {
	for _, level := range []string{"info", "debug", "invalid"} {
		for _, jsonLogs := range []bool{false, true} {
			cmd := &cobra.Command{}
			cmd.Flags().String("log-level", level, "")
			cmd.Flags().Bool("json", jsonLogs, "")
			cmd.Flags().Bool("no-color", true, "")

			// This should not panic
			initializeLogger(cmd)
		}
	}
}

func TestRootVersionFlag(t *testing.T) {
	out, err := execRoot(t, []string{"--version"})
	if err != nil {
		t.Fatalf("--version failed: %v", err)
	}
	if !strings.HasPrefix(out, "exportsync ") {
		t.Errorf("unexpected version output: %q", out)
	}
}

func TestRootUnknownCommand(t *testing.T) {
	_, err := execRoot(t, []string{"bogus"})
	if err == nil {
		t.Fatal("expected error for unknown command")
	}
	if code := exitcode.FromError(err); code != exitcode.GeneralError {
		t.Errorf("exit code = %d, want %d", code, exitcode.GeneralError)
	}
}

func TestConfigFlagMissingFile(t *testing.T) {
	isolate(t)
	_, err := execRoot(t, []string{"--config", "nope.yaml", "candidates"})
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
	if code := exitcode.FromError(err); code != exitcode.ConfigError {
		t.Errorf("exit code = %d, want %d", code, exitcode.ConfigError)
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
