package metrics

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fulmenhq/exportsync/pkg/candidate"
	"github.com/fulmenhq/exportsync/pkg/stamp"
	"github.com/fulmenhq/exportsync/pkg/track"
)

func TestObserveStamp(t *testing.T) {
	s := stamp.New("vault_dir")
	s.CandidateCount = 3
	s.SelectedCandidateScore = candidate.Score(21410)
	s.FilesCopied = 12
	s.Destination.TotalReports = 20
	s.Destination.TrackCounts[track.CriticalMinerals] = 14
	s.Warn(stamp.CodeDashboardsMissing, "none", nil)
	s.Warn(stamp.CodeDashboardsMissing, "again", nil)

	m := New()
	m.Observe(s, 1500*time.Millisecond, nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.success))
	assert.Equal(t, 1.5, testutil.ToFloat64(m.duration))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.candidates))
	assert.Equal(t, 21410.0, testutil.ToFloat64(m.selectedScore))
	assert.Equal(t, 14.0, testutil.ToFloat64(m.trackReports.WithLabelValues("critical_minerals")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.warnings.WithLabelValues(stamp.CodeDashboardsMissing)))
}

func TestObserveFailure(t *testing.T) {
	m := New()
	s := stamp.New("vault_zip")
	s.SelectedCandidateScore = candidate.Score(math.Inf(-1))
	m.Observe(s, time.Second, errors.New("boom"))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.success))
	assert.True(t, math.IsInf(testutil.ToFloat64(m.selectedScore), -1))

	m.Observe(nil, time.Second, errors.New("boom"))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.success))
}

func TestWriteTextfile(t *testing.T) {
	m := New()
	m.Observe(stamp.New("vault_dir"), time.Second, nil)

	p := filepath.Join(t.TempDir(), "node", "exportsync.prom")
	require.NoError(t, m.WriteTextfile(p))
	data, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "exportsync_sync_success 1"))
	assert.Contains(t, string(data), "# TYPE exportsync_sync_duration_seconds gauge")
}
