package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr string
	}{
		{"empty", "", ""},
		{"minimal", "destination: out/site_export.v1\n", ""},
		{"focus list", "focus_tracks:\n  - critical_minerals\n  - other\n", ""},
		{"min reports string", "min_reports: \"3\"\n", ""},
		{"json", `{"vault_dir": "/vault", "discovery": {"max_depth": 4}}`, ""},
		{"unknown key", "vault: /x\n", "configuration validation failed"},
		{"bad depth", "discovery:\n  max_depth: 0\n", "discovery.max_depth"},
		{"bad bool", "allow_zip_fallback: maybe\n", "allow_zip_fallback"},
		{"not yaml", "a: [", "failed to parse config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateConfig([]byte(tt.data))
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("ValidateConfig() unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("ValidateConfig() error = %v, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "exportsync.yaml")
	if err := os.WriteFile(p, []byte("concurrency: 2\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	err := ValidateFile(p)
	if err == nil || !strings.HasPrefix(err.Error(), p+": ") {
		t.Fatalf("ValidateFile() error = %v, want path-prefixed error", err)
	}
	if err := ValidateFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("ValidateFile() expected error for missing file")
	}
}
