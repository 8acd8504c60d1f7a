package siteexport

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeExportPath(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"reports/a.json", "reports/a.json"},
		{"/reports/a.json", "reports/a.json"},
		{"//data/site_export.v1/reports/a.json", "reports/a.json"},
		{"data/site_export.v1/memo/x.md", "memo/x.md"},
		{"other/data/site_export.v1/x", "other/data/site_export.v1/x"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeExportPath(tt.in), tt.in)
	}
}

func TestPayloadAndEvidencePaths(t *testing.T) {
	assert.Equal(t, "index/vn.critical_minerals.a.payload.v1.json", PayloadRel("vn.critical_minerals.a"))
	assert.Equal(t, "evidence/EV-1.md", EvidenceMarkdownRel("EV-1"))
}

func TestParseReportsIndex(t *testing.T) {
	idx, err := ParseReportsIndex([]byte(`{"version":1,"reports":[{"id":"a"},{"report_id":"b","id":"x"},"junk"]}`))
	require.NoError(t, err)
	assert.Len(t, idx.Reports, 3)
	assert.Equal(t, []string{"a", "b"}, idx.ReportIDs())
	assert.Nil(t, idx.Entry(2))
	assert.Nil(t, idx.Entry(7))

	_, err = ParseReportsIndex([]byte(`[]`))
	assert.ErrorIs(t, err, ErrInvalidShape)
	_, err = ParseReportsIndex([]byte(`{"reports":{}}`))
	assert.ErrorIs(t, err, ErrInvalidShape)
	_, err = ParseReportsIndex([]byte(`{`))
	assert.Error(t, err)
}

func TestMarshalKeepsUnknownFields(t *testing.T) {
	idx, err := ParseReportsIndex([]byte(`{"generated_at":"2025","reports":[]}`))
	require.NoError(t, err)
	idx.Reports = append(idx.Reports, map[string]interface{}{"id": "n"})

	out, err := idx.Marshal()
	require.NoError(t, err)
	assert.Contains(t, string(out), `"generated_at": "2025"`)
	assert.Contains(t, string(out), `"id": "n"`)
}

func TestFindEvidenceIndexPrefersFirstAccepted(t *testing.T) {
	root := t.TempDir()
	_, ok := FindEvidenceIndex(root)
	assert.False(t, ok)

	for _, rel := range []string{"index/index.evidence.v1.json", "evidence/evidence_index.v1.json"} {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(`[]`), 0o644))
	}
	rel, ok := FindEvidenceIndex(root)
	assert.True(t, ok)
	assert.Equal(t, "evidence/evidence_index.v1.json", rel)
}

func TestReadReportsIndex(t *testing.T) {
	root := t.TempDir()
	_, _, err := ReadReportsIndex(root)
	assert.True(t, os.IsNotExist(err))

	p := filepath.Join(root, "index", "index.reports.v1.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(`{"reports":[{"id":"a"}]}`), 0o644))

	idx, raw, err := ReadReportsIndex(root)
	require.NoError(t, err)
	assert.NotEmpty(t, raw)
	assert.Equal(t, []string{"a"}, idx.ReportIDs())
}
