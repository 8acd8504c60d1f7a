// Package schema validates bundle documents and the source stamp against
// embedded JSON Schemas authored in YAML.
package schema

import (
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

// Embedded schema names.
const (
	ReportsIndexV1  = "reports-index-v1"
	EvidenceIndexV1 = "evidence-index-v1"
	SourceStampV1   = "source-stamp-v1"
	ConfigV1        = "exportsync-config-v1"
)

//go:embed schemas/*.schema.yaml
var embedded embed.FS

// Result holds the validation result.
type Result struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// ValidationError represents a single validation error.
type ValidationError struct {
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
}

// Messages renders errors as "path: message", capped at limit entries when
// limit is positive.
func (r *Result) Messages(limit int) []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		if limit > 0 && len(out) == limit {
			out = append(out, fmt.Sprintf("... %d more", len(r.Errors)-limit))
			break
		}
		out = append(out, e.Path+": "+e.Message)
	}
	return out
}

// Validator wraps a compiled schema for repeated validation.
type Validator struct {
	schema *gojsonschema.Schema
}

var (
	registry = map[string]*gojsonschema.Schema{}
	regMu    sync.Mutex
)

// Names lists the embedded schemas.
func Names() []string {
	entries, err := embedded.ReadDir("schemas")
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), ".schema.yaml"))
	}
	sort.Strings(names)
	return names
}

// Raw returns the YAML source of an embedded schema.
func Raw(name string) ([]byte, bool) {
	data, err := embedded.ReadFile("schemas/" + name + ".schema.yaml")
	if err != nil {
		return nil, false
	}
	return data, true
}

func compileSchemaBytes(schemaBytes []byte) (*gojsonschema.Schema, error) {
	var tmp any
	if err := yaml.Unmarshal(schemaBytes, &tmp); err != nil {
		return nil, fmt.Errorf("failed to parse schema YAML: %w", err)
	}
	jb, err := json.Marshal(tmp)
	if err != nil {
		return nil, fmt.Errorf("failed to encode schema to JSON: %w", err)
	}
	sch, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(jb))
	if err != nil {
		return nil, fmt.Errorf("failed to load schema: %w", err)
	}
	return sch, nil
}

// GetValidator returns a validator for a named embedded schema, compiling it
// on first use.
func GetValidator(name string) (*Validator, error) {
	regMu.Lock()
	defer regMu.Unlock()
	if sch, ok := registry[name]; ok {
		return &Validator{schema: sch}, nil
	}
	data, ok := Raw(name)
	if !ok {
		return nil, fmt.Errorf("schema %s not found", name)
	}
	sch, err := compileSchemaBytes(data)
	if err != nil {
		return nil, fmt.Errorf("schema %s: %w", name, err)
	}
	registry[name] = sch
	return &Validator{schema: sch}, nil
}

// Validate applies the compiled schema to data, which is JSON-encoded first.
func (v *Validator) Validate(data interface{}) (*Result, error) {
	if v == nil || v.schema == nil {
		return nil, fmt.Errorf("validator not initialised")
	}
	dataJSON, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode data to JSON: %w", err)
	}
	return v.validateJSON(dataJSON)
}

// ValidateBytes validates raw JSON bytes.
func (v *Validator) ValidateBytes(dataJSON []byte) (*Result, error) {
	if v == nil || v.schema == nil {
		return nil, fmt.Errorf("validator not initialised")
	}
	if !json.Valid(dataJSON) {
		return nil, fmt.Errorf("data is not valid JSON")
	}
	return v.validateJSON(dataJSON)
}

func (v *Validator) validateJSON(dataJSON []byte) (*Result, error) {
	result, err := v.schema.Validate(gojsonschema.NewBytesLoader(dataJSON))
	if err != nil {
		return nil, fmt.Errorf("validation error: %w", err)
	}
	res := &Result{Valid: result.Valid()}
	for _, verr := range result.Errors() {
		field := verr.Field()
		if field == "" || field == "(root)" {
			field = "root"
		}
		res.Errors = append(res.Errors, ValidationError{Path: field, Message: verr.Description()})
	}
	sort.SliceStable(res.Errors, func(i, j int) bool { return res.Errors[i].Path < res.Errors[j].Path })
	return res, nil
}

// Validate validates data against the named embedded schema.
func Validate(data interface{}, name string) (*Result, error) {
	v, err := GetValidator(name)
	if err != nil {
		return nil, err
	}
	return v.Validate(data)
}

// ValidateFile validates a JSON file against the named embedded schema.
func ValidateFile(path, name string) (*Result, error) {
	v, err := GetValidator(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path) // #nosec G304 -- bundle file chosen by the caller
	if err != nil {
		return nil, err
	}
	return v.ValidateBytes(data)
}
