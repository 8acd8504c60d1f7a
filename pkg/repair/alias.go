// Package repair applies idempotent fixups to a freshly copied bundle: it
// aliases legacy report ids and backfills missing per-report payloads.
package repair

import (
	"fmt"

	"github.com/fulmenhq/exportsync/pkg/logger"
	"github.com/fulmenhq/exportsync/pkg/safeio"
	"github.com/fulmenhq/exportsync/pkg/siteexport"
)

// BackfillReportIDAliases copies a non-empty legacy id into report_id for
// every entry that lacks one. The index is rewritten only when something
// changed; the count of aliased entries is returned.
func BackfillReportIDAliases(bundleRoot string) (int, error) {
	idx, _, err := siteexport.ReadReportsIndex(bundleRoot)
	if err != nil {
		return 0, fmt.Errorf("read reports index: %w", err)
	}

	updated := 0
	for i := range idx.Reports {
		entry := idx.Entry(i)
		if entry == nil || siteexport.StringField(entry, "report_id") != "" {
			continue
		}
		id := siteexport.StringField(entry, "id")
		if id == "" {
			continue
		}
		entry["report_id"] = id
		updated++
	}
	if updated == 0 {
		return 0, nil
	}

	data, err := idx.Marshal()
	if err != nil {
		return 0, fmt.Errorf("encode reports index: %w", err)
	}
	if err := safeio.WriteFileAtomic(siteexport.Resolve(bundleRoot, siteexport.ReportsIndexRel), data); err != nil {
		return 0, fmt.Errorf("write reports index: %w", err)
	}
	logger.Debug("report_id aliases added", logger.Int("count", updated))
	return updated, nil
}
