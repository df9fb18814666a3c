package ui

import (
	"fmt"
	"io"
	"strconv"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"redkey/internal/catalog"
	"redkey/internal/migration"
)

// ColumnTable renders the catalog view of a table. newDistKey, when set, is
// highlighted next to the current distribution key.
func ColumnTable(w io.Writer, meta *catalog.TableMetadata, newDistKey string) {
	positions := make(map[string]int, meta.SortKey.Len())
	for i, col := range meta.SortKey.Columns() {
		positions[col] = i + 1
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"#", "Column", "Type", "Encoding", "Not Null", "Dist Key", "Sort Key"})
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)

	for i, col := range meta.Columns {
		dist := ""
		switch {
		case col.Name == newDistKey && col.DistKey:
			dist = color.GreenString("current, new")
		case col.Name == newDistKey:
			dist = color.GreenString("new")
		case col.DistKey:
			dist = color.YellowString("current")
		}

		sortPos := ""
		if pos, ok := positions[col.Name]; ok {
			sortPos = strconv.Itoa(pos)
		}

		notNull := ""
		if col.NotNull {
			notNull = "yes"
		}

		table.Append([]string{
			strconv.Itoa(i + 1),
			col.Name,
			col.SQLType,
			col.Encoding,
			notNull,
			dist,
			sortPos,
		})
	}

	table.Render()
}

// ReportTable renders the per-table outcome of a migration run
func ReportTable(w io.Writer, report *migration.Report) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Source", "Destination", "Dist Key", "Rows", "Parts", "Status", "Duration"})
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)

	for _, tr := range report.Tables {
		dest := ""
		if tr.Destination.Table != "" {
			dest = tr.Destination.String()
		}

		// DestRows is only known once the counts were compared
		rows := ""
		if tr.DestRows > 0 || tr.Verified() {
			rows = strconv.FormatInt(tr.DestRows, 10)
		}

		parts := ""
		if tr.Parts > 0 {
			parts = strconv.Itoa(tr.Parts)
		}

		duration := ""
		if tr.Duration > 0 {
			duration = formatDuration(tr.Duration)
		}

		table.Append([]string{
			tr.Source.String(),
			dest,
			tr.DistKey,
			rows,
			parts,
			statusString(tr.Status),
			duration,
		})
	}

	table.Render()
	fmt.Fprintf(w, "\n%d/%d tables migrated (run %s)\n", report.Completed(), len(report.Tables), report.RunID)
}

func statusString(s migration.Status) string {
	switch s {
	case migration.StatusCompleted:
		return color.GreenString(string(s))
	case migration.StatusFailed:
		return color.RedString(string(s))
	case migration.StatusRunning:
		return color.YellowString(string(s))
	default:
		return string(s)
	}
}
