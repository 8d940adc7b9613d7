package main

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"jxlpack/internal/pipeline"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func newTableWriter(title string, headers []string, aligns []columnAlignment) table.Writer {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	if title != "" {
		tw.SetTitle(title)
	}

	header := make(table.Row, len(headers))
	configs := make([]table.ColumnConfig, len(headers))
	for i, h := range headers {
		header[i] = h
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		configs[i] = table.ColumnConfig{Number: i + 1, Align: align, AlignHeader: text.AlignLeft}
	}
	tw.AppendHeader(header)
	tw.SetColumnConfigs(configs)
	return tw
}

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	if len(headers) == 0 {
		return ""
	}
	tw := newTableWriter("", headers, aligns)
	for _, row := range rows {
		r := make(table.Row, len(headers))
		for i := range r {
			if i < len(row) {
				r[i] = row[i]
			}
		}
		tw.AppendRow(r)
	}
	return tw.Render()
}

// renderSummary prints run totals followed by the directories that need
// attention: failures and anything left pending.
func renderSummary(s pipeline.Summary) string {
	totals := s.Totals()
	tw := newTableWriter("Run summary", []string{"Metric", "Value"}, []columnAlignment{alignLeft, alignRight})
	rows := []struct {
		label string
		value string
	}{
		{"Root", s.Root},
		{"Directories discovered", strconv.Itoa(s.Discovered)},
		{"Already done", strconv.Itoa(s.AlreadyDone)},
		{"Excluded", strconv.Itoa(s.Excluded)},
		{"Processed", strconv.Itoa(totals.Directories)},
		{"Images converted", strconv.Itoa(totals.Converted)},
		{"JPEG XL kept", strconv.Itoa(totals.Kept)},
		{"Failed conversions", strconv.Itoa(totals.Failed)},
		{"Failed directories", strconv.Itoa(totals.FailedDirs)},
		{"Unsupported files", strconv.Itoa(totals.Unsupported)},
		{"Archives written", strconv.Itoa(totals.Archives)},
		{"Directories removed", strconv.Itoa(totals.DirsRemoved)},
		{"Interrupted", yesNo(s.Interrupted)},
		{"Discovery time", pipeline.FormatDuration(s.DiscoveryElapsed)},
		{"Total time", pipeline.FormatDuration(s.Elapsed)},
	}
	if s.RunID != "" {
		rows = append(rows, struct {
			label string
			value string
		}{"Run ID", s.RunID})
	}
	for _, r := range rows {
		tw.AppendRow(table.Row{r.label, r.value})
	}
	out := tw.Render()

	var attention [][]string
	for _, d := range s.Directories {
		switch d.State {
		case pipeline.StateFailed, pipeline.StatePackageFailed, pipeline.StateInterrupted:
		default:
			continue
		}
		rel, err := filepath.Rel(s.Root, d.Dir)
		if err != nil {
			rel = d.Dir
		}
		state := string(d.State)
		if d.Pending && d.State != pipeline.StateInterrupted {
			state += " (pending)"
		}
		attention = append(attention, []string{
			rel,
			state,
			strconv.Itoa(d.Converted),
			strconv.Itoa(d.Failed),
			pipeline.FormatDuration(d.Elapsed),
		})
	}
	if len(attention) > 0 {
		out += "\n" + renderTable(
			[]string{"Directory", "State", "Converted", "Failed", "Elapsed"},
			attention,
			[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight},
		)
	}
	return fmt.Sprintln(out)
}
