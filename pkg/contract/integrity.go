package contract

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fulmenhq/exportsync/pkg/safeio"
	"github.com/fulmenhq/exportsync/pkg/siteexport"
)

// Failure titles.
const (
	ReportContractTitle   = "site_export report contract failed."
	EvidenceContractTitle = "site_export evidence contract failed."
)

// Issue categories.
const (
	MissingFiles                   = "MISSING_FILES"
	JSONParseFailures              = "JSON_PARSE_FAILURES"
	InvalidReportsIndexShape       = "INVALID_REPORTS_INDEX_SHAPE"
	InvalidReportIndexEntries      = "INVALID_REPORT_INDEX_ENTRIES"
	DuplicateReportIDs             = "DUPLICATE_REPORT_IDS"
	InvalidEvidenceIndexEntries    = "INVALID_EVIDENCE_INDEX_ENTRIES"
	MissingEvidenceIndexEntries    = "MISSING_EVIDENCE_INDEX_ENTRIES"
	MissingEvidenceMarkdownForRefs = "MISSING_EVIDENCE_MARKDOWN_FOR_REFS"
	InvalidPayloadEvidenceRefs     = "INVALID_PAYLOAD_EVIDENCE_REFS"
)

// ErrBundleMissing is returned when the bundle has no reports index at all.
var ErrBundleMissing = errors.New("missing site_export bundle: run `exportsync sync` first")

// requiredReportFields must be non-blank strings on every index entry.
var requiredReportFields = []string{"id", "country", "track", "profile_id", "path"}

// optionalStringFields must be strings when present and not null.
var optionalStringFields = []string{"dossier_slug", "memo_json_path", "memo_md_path"}

// Section is one category of collected issues.
type Section struct {
	Header string   `json:"header"`
	Items  []string `json:"items"`
}

// ReportIssues are violations in the reports index and the files it references.
type ReportIssues struct {
	MissingFiles              []string
	JSONParseFailures         []string
	InvalidReportsIndexShape  []string
	InvalidReportIndexEntries []string
	DuplicateReportIDs        []string
}

// Sections lists categories in reporting order.
func (r ReportIssues) Sections() []Section {
	return []Section{
		{MissingFiles, r.MissingFiles},
		{JSONParseFailures, r.JSONParseFailures},
		{InvalidReportsIndexShape, r.InvalidReportsIndexShape},
		{InvalidReportIndexEntries, r.InvalidReportIndexEntries},
		{DuplicateReportIDs, r.DuplicateReportIDs},
	}
}

// EvidenceIssues are violations in the evidence index and payload references.
type EvidenceIssues struct {
	MissingFiles                   []string
	JSONParseFailures              []string
	InvalidEvidenceIndexEntries    []string
	MissingEvidenceIndexEntries    []string
	MissingEvidenceMarkdownForRefs []string
	InvalidPayloadEvidenceRefs     []string
}

// Sections lists categories in reporting order.
func (e EvidenceIssues) Sections() []Section {
	return []Section{
		{MissingFiles, e.MissingFiles},
		{JSONParseFailures, e.JSONParseFailures},
		{InvalidEvidenceIndexEntries, e.InvalidEvidenceIndexEntries},
		{MissingEvidenceIndexEntries, e.MissingEvidenceIndexEntries},
		{MissingEvidenceMarkdownForRefs, e.MissingEvidenceMarkdownForRefs},
		{InvalidPayloadEvidenceRefs, e.InvalidPayloadEvidenceRefs},
	}
}

// IntegrityResult collects every violation found by CheckIntegrity.
type IntegrityResult struct {
	Root     string
	Report   ReportIssues
	Evidence EvidenceIssues
}

// OK reports whether no category has items.
func (r *IntegrityResult) OK() bool {
	return r.ReportFailure() == "" && r.EvidenceFailure() == ""
}

// ReportFailure formats report-side issues, or "" when there are none.
func (r *IntegrityResult) ReportFailure() string {
	return FormatFailure(ReportContractTitle, r.Report.Sections())
}

// EvidenceFailure formats evidence-side issues, or "" when there are none.
func (r *IntegrityResult) EvidenceFailure() string {
	return FormatFailure(EvidenceContractTitle, r.Evidence.Sections())
}

// MarshalJSON renders non-empty categories with sorted, de-duplicated items.
func (r *IntegrityResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Root     string              `json:"root"`
		OK       bool                `json:"ok"`
		Report   map[string][]string `json:"report"`
		Evidence map[string][]string `json:"evidence"`
	}{
		Root:     r.Root,
		OK:       r.OK(),
		Report:   categoryMap(r.Report.Sections()),
		Evidence: categoryMap(r.Evidence.Sections()),
	})
}

func categoryMap(sections []Section) map[string][]string {
	out := map[string][]string{}
	for _, s := range normalizeSections(sections) {
		out[s.Header] = s.Items
	}
	return out
}

func sortedUnique(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func normalizeSections(sections []Section) []Section {
	var out []Section
	for _, s := range sections {
		if items := sortedUnique(s.Items); len(items) > 0 {
			out = append(out, Section{Header: s.Header, Items: items})
		}
	}
	return out
}

// FormatFailure renders sections as
//
//	title
//
//	HEADER:
//	- item
//
// skipping empty sections. It returns "" when every section is empty.
func FormatFailure(title string, sections []Section) string {
	nonEmpty := normalizeSections(sections)
	if len(nonEmpty) == 0 {
		return ""
	}
	blocks := make([]string, 0, len(nonEmpty))
	for _, s := range nonEmpty {
		var b strings.Builder
		b.WriteString(s.Header)
		b.WriteString(":")
		for _, item := range s.Items {
			b.WriteString("\n- ")
			b.WriteString(item)
		}
		blocks = append(blocks, b.String())
	}
	return title + "\n\n" + strings.Join(blocks, "\n\n")
}

type reportEntry struct {
	id           string
	path         string
	memoJSONPath string
	memoMDPath   string
}

// scanner carries state through one integrity pass.
type scanner struct {
	root   string
	result *IntegrityResult
}

func (s *scanner) rel(p string) string {
	r, err := filepath.Rel(s.root, p)
	if err != nil {
		return filepath.ToSlash(p)
	}
	return filepath.ToSlash(r)
}

func exists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

// parseJSON decodes p, recording a parse failure in failures. The second
// return is false when the file could not be decoded.
func (s *scanner) parseJSON(p string, failures *[]string) (interface{}, bool) {
	data, err := os.ReadFile(p) // #nosec G304 -- path resolved inside the bundle root
	if err == nil {
		var v interface{}
		if err = json.Unmarshal(data, &v); err == nil {
			return v, true
		}
	}
	*failures = append(*failures, fmt.Sprintf("%s :: %v", s.rel(p), err))
	return nil, false
}

// resolve maps an index path to a file inside the bundle. ok is false when
// the path escapes the bundle root.
func (s *scanner) resolve(raw string) (string, bool) {
	p := siteexport.Resolve(s.root, raw)
	return p, safeio.Contained(s.root, p)
}

func isObject(v interface{}) bool {
	_, ok := v.(map[string]interface{})
	return ok
}

func nonBlank(v interface{}) (string, bool) {
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", false
	}
	return s, true
}

// CheckIntegrity scans the bundle at root and collects every violation
// without stopping at the first. It returns ErrBundleMissing when the
// reports index does not exist.
func CheckIntegrity(root string) (*IntegrityResult, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	indexPath := siteexport.Resolve(abs, siteexport.ReportsIndexRel)
	if !exists(indexPath) {
		return nil, ErrBundleMissing
	}

	s := &scanner{root: abs, result: &IntegrityResult{Root: abs}}
	entries := s.scanReportsIndex(indexPath)
	payloads := s.scanReportFiles(entries)
	evidenceIDs := s.scanEvidenceIndex()
	s.scanPayloadRefs(payloads, evidenceIDs)
	return s.result, nil
}

func (s *scanner) scanReportsIndex(indexPath string) []reportEntry {
	issues := &s.result.Report
	doc, ok := s.parseJSON(indexPath, &issues.JSONParseFailures)
	if !ok {
		return nil
	}
	obj, isObj := doc.(map[string]interface{})
	if !isObj {
		issues.InvalidReportsIndexShape = append(issues.InvalidReportsIndexShape,
			fmt.Sprintf("%s :: expected JSON object at top level", s.rel(indexPath)))
		return nil
	}
	reports, isArr := obj["reports"].([]interface{})
	if !isArr {
		issues.InvalidReportsIndexShape = append(issues.InvalidReportsIndexShape,
			fmt.Sprintf(`%s :: expected "reports" to be an array`, s.rel(indexPath)))
		return nil
	}

	var entries []reportEntry
	seen := map[string]struct{}{}
	for i, raw := range reports {
		m, isObj := raw.(map[string]interface{})
		if !isObj {
			issues.InvalidReportIndexEntries = append(issues.InvalidReportIndexEntries,
				fmt.Sprintf("reports[%d] :: expected object entry", i))
			continue
		}
		var missing []string
		for _, f := range requiredReportFields {
			if _, ok := nonBlank(m[f]); !ok {
				missing = append(missing, f)
			}
		}
		if len(missing) > 0 {
			issues.InvalidReportIndexEntries = append(issues.InvalidReportIndexEntries,
				fmt.Sprintf("reports[%d] :: missing required field(s): %s", i, strings.Join(missing, ", ")))
			continue
		}
		for _, f := range optionalStringFields {
			if v, present := m[f]; present && v != nil {
				if _, isStr := v.(string); !isStr {
					issues.InvalidReportIndexEntries = append(issues.InvalidReportIndexEntries,
						fmt.Sprintf("reports[%d] :: %s must be a string when present", i, f))
				}
			}
		}

		e := reportEntry{id: m["id"].(string), path: m["path"].(string)}
		e.memoJSONPath, _ = m["memo_json_path"].(string)
		e.memoMDPath, _ = m["memo_md_path"].(string)
		if _, dup := seen[e.id]; dup {
			issues.DuplicateReportIDs = append(issues.DuplicateReportIDs, e.id)
		}
		seen[e.id] = struct{}{}
		entries = append(entries, e)
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].id < entries[j].id })
	return entries
}

// scanReportFiles checks artifacts, payloads and memos, returning decoded
// payload objects by report id.
func (s *scanner) scanReportFiles(entries []reportEntry) map[string]map[string]interface{} {
	issues := &s.result.Report
	payloads := map[string]map[string]interface{}{}

	checkObject := func(raw, what string) {
		p, inside := s.resolve(raw)
		if !inside {
			issues.InvalidReportIndexEntries = append(issues.InvalidReportIndexEntries,
				fmt.Sprintf("%s :: %s path escapes bundle root", raw, what))
			return
		}
		if !exists(p) {
			issues.MissingFiles = append(issues.MissingFiles, s.rel(p))
			return
		}
		if v, ok := s.parseJSON(p, &issues.JSONParseFailures); ok && !isObject(v) {
			issues.InvalidReportIndexEntries = append(issues.InvalidReportIndexEntries,
				fmt.Sprintf("%s :: expected %s JSON object", s.rel(p), what))
		}
	}

	for _, e := range entries {
		checkObject(e.path, "report artifact")

		payloadPath, inside := s.resolve(siteexport.PayloadRel(e.id))
		switch {
		case !inside:
			issues.InvalidReportIndexEntries = append(issues.InvalidReportIndexEntries,
				fmt.Sprintf("%s :: payload path escapes bundle root", e.id))
		case !exists(payloadPath):
			issues.MissingFiles = append(issues.MissingFiles, s.rel(payloadPath))
		default:
			if v, ok := s.parseJSON(payloadPath, &issues.JSONParseFailures); ok {
				if obj, isObj := v.(map[string]interface{}); isObj {
					payloads[e.id] = obj
				} else {
					issues.InvalidReportIndexEntries = append(issues.InvalidReportIndexEntries,
						fmt.Sprintf("%s :: expected payload JSON object", s.rel(payloadPath)))
				}
			}
		}

		if e.memoJSONPath != "" {
			checkObject(e.memoJSONPath, "memo")
		}
		if e.memoMDPath != "" {
			p, inside := s.resolve(e.memoMDPath)
			if !inside {
				issues.InvalidReportIndexEntries = append(issues.InvalidReportIndexEntries,
					fmt.Sprintf("%s :: memo markdown path escapes bundle root", e.memoMDPath))
			} else if !exists(p) {
				issues.MissingFiles = append(issues.MissingFiles, s.rel(p))
			}
		}
	}
	return payloads
}

// scanEvidenceIndex checks the evidence index and its markdown files and
// returns the set of known evidence ids. When no accepted index exists the
// first accepted location is reported missing.
func (s *scanner) scanEvidenceIndex() map[string]struct{} {
	issues := &s.result.Evidence
	ids := map[string]struct{}{}

	rel, found := siteexport.FindEvidenceIndex(s.root)
	if !found {
		issues.MissingFiles = append(issues.MissingFiles, siteexport.EvidenceIndexRels[0])
		return ids
	}
	indexPath := siteexport.Resolve(s.root, rel)
	doc, ok := s.parseJSON(indexPath, &issues.JSONParseFailures)
	if !ok {
		return ids
	}
	items, isArr := doc.([]interface{})
	if !isArr {
		issues.InvalidEvidenceIndexEntries = append(issues.InvalidEvidenceIndexEntries,
			fmt.Sprintf("%s :: expected top-level array", s.rel(indexPath)))
		return ids
	}
	for i, raw := range items {
		m, _ := raw.(map[string]interface{})
		id, ok := nonBlank(m["id"])
		if !ok {
			issues.InvalidEvidenceIndexEntries = append(issues.InvalidEvidenceIndexEntries,
				fmt.Sprintf(`evidence_index[%d] :: missing required string field "id"`, i))
			continue
		}
		id = strings.TrimSpace(id)
		ids[id] = struct{}{}
		if md, inside := s.resolve(siteexport.EvidenceMarkdownRel(id)); !inside || !exists(md) {
			issues.MissingFiles = append(issues.MissingFiles, s.rel(md))
		}
	}
	return ids
}

func (s *scanner) scanPayloadRefs(payloads map[string]map[string]interface{}, evidenceIDs map[string]struct{}) {
	issues := &s.result.Evidence
	reportIDs := make([]string, 0, len(payloads))
	for id := range payloads {
		reportIDs = append(reportIDs, id)
	}
	sort.Strings(reportIDs)

	for _, reportID := range reportIDs {
		raw, present := payloads[reportID]["evidence_refs"]
		if !present || raw == nil {
			continue
		}
		refs, isArr := raw.([]interface{})
		if !isArr {
			issues.InvalidPayloadEvidenceRefs = append(issues.InvalidPayloadEvidenceRefs,
				fmt.Sprintf("%s :: payload.evidence_refs must be an array when present", reportID))
			continue
		}
		for _, r := range refs {
			ref, ok := nonBlank(r)
			if !ok {
				issues.InvalidPayloadEvidenceRefs = append(issues.InvalidPayloadEvidenceRefs,
					fmt.Sprintf("%s :: payload.evidence_refs contains a non-string/blank value", reportID))
				continue
			}
			ref = strings.TrimSpace(ref)
			if _, known := evidenceIDs[ref]; !known {
				issues.MissingEvidenceIndexEntries = append(issues.MissingEvidenceIndexEntries,
					fmt.Sprintf("%s -> %s", reportID, ref))
			}
			if md, inside := s.resolve(siteexport.EvidenceMarkdownRel(ref)); !inside || !exists(md) {
				issues.MissingEvidenceMarkdownForRefs = append(issues.MissingEvidenceMarkdownForRefs,
					fmt.Sprintf("%s -> %s", reportID, s.rel(md)))
			}
		}
	}
}
