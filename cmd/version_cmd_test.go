package cmd

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestVersion_JSON(t *testing.T) {
	out, err := execRoot(t, []string{"version", "--json"})
	if err != nil {
		t.Fatalf("version --json failed: %v\n%s", err, out)
	}
	var v map[string]any
	if json.Unmarshal([]byte(out), &v) != nil {
		t.Fatalf("version output is not valid JSON: %s", out)
	}
	if _, ok := v["version"].(string); !ok {
		t.Errorf("expected version field in JSON")
	}
	if _, ok := v["go_version"].(string); !ok {
		t.Errorf("expected go_version field in JSON")
	}
	if _, ok := v["platform"].(string); !ok {
		t.Errorf("expected platform field in JSON")
	}
}

func TestVersion_Extended(t *testing.T) {
	out, err := execRoot(t, []string{"version", "--extended"})
	if err != nil {
		t.Fatalf("version --extended failed: %v\n%s", err, out)
	}
	for _, want := range []string{"exportsync ", "Git commit: ", "Go Version: ", "OS/Arch: "} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output:\n%s", want, out)
		}
	}
}
