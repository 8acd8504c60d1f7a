package repair

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/fulmenhq/exportsync/pkg/logger"
	"github.com/fulmenhq/exportsync/pkg/safeio"
	"github.com/fulmenhq/exportsync/pkg/siteexport"
)

// DefaultConfidenceCap is used when an artifact carries no confidence cap.
const DefaultConfidenceCap = "medium"

// Payload is the per-report summary the site reads before falling back to
// the full report artifact.
type Payload struct {
	ReportID     string       `json:"report_id"`
	Meta         PayloadMeta  `json:"meta"`
	Confidence   Confidence   `json:"confidence"`
	Completeness Completeness `json:"completeness"`
	Indicators   []Indicator  `json:"indicators"`
	EvidenceRefs []string     `json:"evidence_refs"`
}

// PayloadMeta identifies the report.
type PayloadMeta struct {
	Title  string `json:"title"`
	CaseID string `json:"case_id"`
}

// Confidence carries the overall confidence cap.
type Confidence struct {
	OverallCap string `json:"overall_cap"`
}

// Completeness carries the completeness summary. DomainBreakdown is passed
// through verbatim.
type Completeness struct {
	OverallPct      float64         `json:"overall_pct"`
	DomainBreakdown json.RawMessage `json:"domain_breakdown"`
}

// Indicator is one flattened indicator row. Value keeps the artifact's raw
// JSON so numbers and strings survive unchanged.
type Indicator struct {
	ID                string          `json:"id"`
	Label             string          `json:"label,omitempty"`
	Value             json.RawMessage `json:"value,omitempty"`
	Unit              string          `json:"unit,omitempty"`
	Year              *string         `json:"year"`
	SourceInstitution string          `json:"source_institution,omitempty"`
	Domain            string          `json:"domain,omitempty"`
	URLs              []string        `json:"urls"`
	Notes             string          `json:"notes,omitempty"`
	IsCompleteStrict  bool            `json:"is_complete_strict"`
	MissingValue      bool            `json:"missing_value"`
	MissingURL        bool            `json:"missing_url"`
	MissingDate       bool            `json:"missing_date"`
}

// present reports whether r holds a non-null value.
func present(r gjson.Result) bool {
	return r.Exists() && r.Type != gjson.Null
}

// firstPresent returns the first non-null result among paths of obj.
func firstPresent(obj gjson.Result, paths ...string) gjson.Result {
	for _, p := range paths {
		if r := obj.Get(p); present(r) {
			return r
		}
	}
	return gjson.Result{}
}

// firstString returns the first non-blank string among paths of obj.
func firstString(obj gjson.Result, paths ...string) string {
	for _, p := range paths {
		r := obj.Get(p)
		if r.Type == gjson.String {
			if s := strings.TrimSpace(r.Str); s != "" {
				return s
			}
		}
	}
	return ""
}

// FallbackTitle is the title used when neither the payload nor the artifact
// names the report.
func FallbackTitle(entry map[string]interface{}) string {
	country := siteexport.StringField(entry, "country")
	if country == "" {
		return siteexport.EntryID(entry)
	}
	label := "Export"
	if strings.EqualFold(siteexport.StringField(entry, "track"), "domestic") {
		label = "Domestic"
	}
	return fmt.Sprintf("%s %s dossier", country, label)
}

// BuildPayload normalizes a raw report artifact into a Payload.
//
// Fallback chains:
//   - title: meta.title, meta.case.case_id, title, FallbackTitle(entry)
//   - case_id: meta.case.case_id, meta.case_id, entry id
//   - overall_cap: confidence.overall_cap, else "medium"
//   - overall_pct: completeness.overall_pct, else 0; domain_breakdown else {}
//   - indicators: see normalizeIndicator
//   - evidence_refs: evidence_refs, else meta.evidence_refs; blanks dropped
func BuildPayload(entry map[string]interface{}, artifact []byte) (*Payload, error) {
	if !gjson.ValidBytes(artifact) {
		return nil, errors.New("report artifact is not valid JSON")
	}
	doc := gjson.ParseBytes(artifact)
	if !doc.IsObject() {
		return nil, errors.New("report artifact is not a JSON object")
	}

	id := siteexport.EntryID(entry)
	p := &Payload{
		ReportID:     id,
		Indicators:   []Indicator{},
		EvidenceRefs: []string{},
	}

	p.Meta.Title = firstString(doc, "meta.title", "meta.case.case_id", "title")
	if p.Meta.Title == "" {
		p.Meta.Title = FallbackTitle(entry)
	}
	p.Meta.CaseID = firstString(doc, "meta.case.case_id", "meta.case_id")
	if p.Meta.CaseID == "" {
		p.Meta.CaseID = id
	}

	p.Confidence.OverallCap = firstString(doc, "confidence.overall_cap")
	if p.Confidence.OverallCap == "" {
		p.Confidence.OverallCap = DefaultConfidenceCap
	}

	if pct := doc.Get("completeness.overall_pct"); pct.Type == gjson.Number {
		p.Completeness.OverallPct = pct.Num
	}
	p.Completeness.DomainBreakdown = json.RawMessage("{}")
	if db := doc.Get("completeness.domain_breakdown"); db.IsObject() {
		p.Completeness.DomainBreakdown = json.RawMessage(db.Raw)
	}

	indicators := doc.Get("indicators")
	switch {
	case indicators.IsObject():
		indicators.ForEach(func(key, value gjson.Result) bool {
			if value.IsObject() {
				p.Indicators = append(p.Indicators, normalizeIndicator(key.String(), value))
			}
			return true
		})
	case indicators.IsArray():
		for _, value := range indicators.Array() {
			if indID := firstString(value, "id"); indID != "" && value.IsObject() {
				p.Indicators = append(p.Indicators, normalizeIndicator(indID, value))
			}
		}
	}

	refs := firstPresent(doc, "evidence_refs", "meta.evidence_refs")
	for _, r := range refs.Array() {
		if r.Type != gjson.String {
			continue
		}
		if s := strings.TrimSpace(r.Str); s != "" {
			p.EvidenceRefs = append(p.EvidenceRefs, s)
		}
	}
	return p, nil
}

// normalizeIndicator flattens one indicator record.
//
//	value              value, latest_value
//	year               year, retrieved_date (trimmed, null when blank)
//	source_institution source_institution, source
//	urls               urls (string or array), url, source_url
//	missing_*          coerced to bool
//	is_complete_strict as given, else true when no missing flag is set
func normalizeIndicator(id string, v gjson.Result) Indicator {
	ind := Indicator{
		ID:                id,
		Label:             firstString(v, "label", "name"),
		Unit:              firstString(v, "unit"),
		SourceInstitution: firstString(v, "source_institution", "source"),
		Domain:            firstString(v, "domain"),
		Notes:             firstString(v, "notes"),
		URLs:              []string{},
		MissingValue:      v.Get("missing_value").Bool(),
		MissingURL:        v.Get("missing_url").Bool(),
		MissingDate:       v.Get("missing_date").Bool(),
	}
	if val := firstPresent(v, "value", "latest_value"); present(val) {
		ind.Value = json.RawMessage(val.Raw)
	}
	if year := firstString(v, "year", "retrieved_date"); year != "" {
		ind.Year = &year
	}

	urls := firstPresent(v, "urls", "url", "source_url")
	if urls.IsArray() {
		for _, u := range urls.Array() {
			if s := strings.TrimSpace(u.String()); s != "" && u.Type == gjson.String {
				ind.URLs = append(ind.URLs, s)
			}
		}
	} else if s := strings.TrimSpace(urls.String()); s != "" && urls.Type == gjson.String {
		ind.URLs = append(ind.URLs, s)
	}

	if strict := v.Get("is_complete_strict"); present(strict) {
		ind.IsCompleteStrict = strict.Bool()
	} else {
		ind.IsCompleteStrict = !(ind.MissingValue || ind.MissingURL || ind.MissingDate)
	}
	return ind
}

// BackfillResult counts the outcome of a payload backfill.
type BackfillResult struct {
	Created         int      `json:"created"`
	SkippedExisting int      `json:"skipped_existing"`
	Failed          int      `json:"failed"`
	Failures        []string `json:"failures,omitempty"`
}

// BackfillPayloads writes index/<id>.payload.v1.json for every report whose
// payload is absent, built from the report artifact the entry points at.
// Per-report failures are counted and the run continues; only an unreadable
// reports index is an error.
func BackfillPayloads(bundleRoot string) (BackfillResult, error) {
	var res BackfillResult
	idx, _, err := siteexport.ReadReportsIndex(bundleRoot)
	if err != nil {
		return res, fmt.Errorf("read reports index: %w", err)
	}

	fail := func(id, msg string) {
		res.Failed++
		res.Failures = append(res.Failures, fmt.Sprintf("%s :: %s", id, msg))
		logger.Warn("payload backfill failed", logger.String("report", id), logger.String("reason", msg))
	}

	for i := range idx.Reports {
		entry := idx.Entry(i)
		id := siteexport.EntryID(entry)
		if id == "" {
			continue
		}
		payloadPath := siteexport.Resolve(bundleRoot, siteexport.PayloadRel(id))
		if _, err := os.Stat(payloadPath); err == nil {
			res.SkippedExisting++
			continue
		}

		rel := siteexport.StringField(entry, "path")
		if rel == "" {
			fail(id, "index entry has no report artifact path")
			continue
		}
		artifactPath := siteexport.Resolve(bundleRoot, rel)
		data, err := safeio.ReadFileContained(bundleRoot, artifactPath)
		if err != nil {
			fail(id, fmt.Sprintf("read %s: %v", siteexport.NormalizeExportPath(rel), err))
			continue
		}
		payload, err := BuildPayload(entry, data)
		if err != nil {
			fail(id, fmt.Sprintf("%s: %v", siteexport.NormalizeExportPath(rel), err))
			continue
		}
		if !safeio.Contained(bundleRoot, payloadPath) {
			fail(id, "payload path escapes bundle root")
			continue
		}
		if err := safeio.WriteJSON(payloadPath, payload); err != nil {
			fail(id, err.Error())
			continue
		}
		res.Created++
	}
	logger.Debug("payload backfill finished",
		logger.Int("created", res.Created),
		logger.Int("skipped_existing", res.SkippedExisting),
		logger.Int("failed", res.Failed))
	return res, nil
}
