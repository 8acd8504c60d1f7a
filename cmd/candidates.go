/*
Copyright © 2025 3 Leaps <info@3leaps.com>
*/
package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/fulmenhq/exportsync/internal/syncer"
	"github.com/fulmenhq/exportsync/pkg/candidate"
	"github.com/fulmenhq/exportsync/pkg/exitcode"
)

// maxRootWidth bounds the root column; roots keep their tail.
const maxRootWidth = 64

type candidateRow struct {
	candidate.Candidate
	Score    candidate.Score `json:"score"`
	Selected bool            `json:"selected"`
}

type candidatesOutput struct {
	Mode       string          `json:"mode"`
	ScanRoot   string          `json:"scanRoot"`
	Reason     string          `json:"reason"`
	Selected   string          `json:"selected,omitempty"`
	Candidates []candidateRow  `json:"candidates"`
	Warnings   []string        `json:"warnings,omitempty"`
	Score      candidate.Score `json:"selectedScore"`
}

func newCandidatesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "candidates",
		Short: "List discovered bundle candidates with scores",
		Long: `Candidates runs discovery and ranking only. Every candidate is listed, including
invalid ones and ones below the minimum report count, with the reason and score.`,
		RunE: runCandidates,
	}
	addSourceFlags(cmd.Flags())
	cmd.Flags().String("format", "text", "Output format (text|json)")
	return cmd
}

func runCandidates(cmd *cobra.Command, _ []string) error {
	format, _ := cmd.Flags().GetString("format")
	if format != "text" && format != "json" {
		return exitcode.WithCode(exitcode.ConfigError, fmt.Errorf("invalid --format %q: expected text or json", format))
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	disc, err := syncer.Discover(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	minReports := cfg.MinReports()
	cands := candidate.ApplyMinimum(disc.Candidates, minReports)
	sel, selErr := candidate.Choose(cands, candidate.SelectOptions{
		FocusTracks:  cfg.FocusTracks(),
		ExplicitRoot: syncer.ExplicitRoot(cfg.ExportRoot),
		MinReports:   minReports,
	})

	out := candidatesOutput{Mode: disc.Mode, ScanRoot: disc.ScanRoot, Candidates: []candidateRow{}}
	for _, w := range disc.Warnings {
		out.Warnings = append(out.Warnings, w.Code+": "+w.Message)
	}
	if sel != nil {
		out.Reason = string(sel.Reason)
		out.Score = sel.SelectedScore
		if sel.Selected != nil {
			out.Selected = sel.Selected.Root
		}
	}
	for _, c := range candidate.Rank(cands) {
		out.Candidates = append(out.Candidates, candidateRow{
			Candidate: c,
			Score:     candidate.ComputeScore(c),
			Selected:  out.Selected != "" && c.Root == out.Selected,
		})
	}

	w := cmd.OutOrStdout()
	if format == "json" {
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to format JSON: %v", err)
		}
		fmt.Fprintln(w, string(data))
	} else {
		fmt.Fprintf(w, "Source: %s (%s)\n", out.Mode, out.ScanRoot)
		fmt.Fprintln(w, renderCandidateTable(out.Candidates))
		if out.Selected != "" {
			fmt.Fprintf(w, "Selected: %s (%s, score=%s)\n", out.Selected, out.Reason, out.Score)
		} else {
			fmt.Fprintf(w, "Selected: none (%s)\n", out.Reason)
		}
		for _, warn := range out.Warnings {
			fmt.Fprintf(w, "Warning: %s\n", warn)
		}
	}

	if selErr != nil {
		return exitcode.WithCode(exitcode.SelectionRefused, selErr)
	}
	return nil
}

func renderCandidateTable(rows []candidateRow) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(table.Row{"", "Root", "Source", "Valid", "Reports", "Focus", "Score", "Reason"})
	for _, r := range rows {
		mark := ""
		if r.Selected {
			mark = "*"
		}
		tw.AppendRow(table.Row{
			mark,
			truncateLeft(r.Root, maxRootWidth),
			string(r.SourceType),
			r.Valid,
			r.TotalReports,
			r.FocusSum,
			r.Score.String(),
			r.Reason,
		})
	}
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 5, Align: text.AlignRight},
		{Number: 6, Align: text.AlignRight},
		{Number: 7, Align: text.AlignRight},
	})
	return tw.Render()
}

// truncateLeft shortens s to limit display cells, keeping the tail.
func truncateLeft(s string, limit int) string {
	if runewidth.StringWidth(s) <= limit {
		return s
	}
	const ellipsis = "…"
	budget := limit - runewidth.StringWidth(ellipsis)
	runes := []rune(s)
	width := 0
	i := len(runes)
	for i > 0 {
		rw := runewidth.RuneWidth(runes[i-1])
		if width+rw > budget {
			break
		}
		width += rw
		i--
	}
	return ellipsis + string(runes[i:])
}
