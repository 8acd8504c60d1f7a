package siteexport

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrInvalidShape reports an index that parsed but is not {reports: [...]}.
var ErrInvalidShape = errors.New("expected top-level object with a reports array")

// ReportsIndex is the decoded reports index. Entries stay loosely typed
// because the upstream exporter adds fields freely; repair passes rewrite
// them in place.
type ReportsIndex struct {
	Raw     map[string]interface{}
	Reports []interface{}
}

// ParseReportsIndex decodes data and checks the top-level shape.
func ParseReportsIndex(data []byte) (*ReportsIndex, error) {
	var top interface{}
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, err
	}
	obj, ok := top.(map[string]interface{})
	if !ok {
		return nil, ErrInvalidShape
	}
	reports, ok := obj["reports"].([]interface{})
	if !ok {
		return nil, ErrInvalidShape
	}
	return &ReportsIndex{Raw: obj, Reports: reports}, nil
}

// ReadReportsIndex reads and parses the reports index under root.
func ReadReportsIndex(root string) (*ReportsIndex, []byte, error) {
	p := Resolve(root, ReportsIndexRel)
	data, err := os.ReadFile(p) // #nosec G304 -- bundle-relative constant
	if err != nil {
		return nil, nil, err
	}
	idx, err := ParseReportsIndex(data)
	if err != nil {
		return nil, data, fmt.Errorf("%s: %w", p, err)
	}
	return idx, data, nil
}

// Entry returns reports[i] as an object, or nil when it is not one.
func (r *ReportsIndex) Entry(i int) map[string]interface{} {
	if i < 0 || i >= len(r.Reports) {
		return nil
	}
	m, _ := r.Reports[i].(map[string]interface{})
	return m
}

// Marshal encodes the index with the reports slice written back. Output is
// indented, newline terminated and does not escape HTML characters.
func (r *ReportsIndex) Marshal() ([]byte, error) {
	r.Raw["reports"] = r.Reports
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r.Raw); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// StringField returns m[key] trimmed when it is a string.
func StringField(m map[string]interface{}, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return strings.TrimSpace(s)
}

// EntryID resolves a report identifier, preferring report_id over the legacy id.
func EntryID(entry interface{}) string {
	m, _ := entry.(map[string]interface{})
	if id := StringField(m, "report_id"); id != "" {
		return id
	}
	return StringField(m, "id")
}

// ReportIDs lists non-empty identifiers in index order.
func (r *ReportsIndex) ReportIDs() []string {
	ids := make([]string, 0, len(r.Reports))
	for _, e := range r.Reports {
		if id := EntryID(e); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}
