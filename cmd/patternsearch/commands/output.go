package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/vjranagit/patternsearch/pkg/search"
	"github.com/vjranagit/patternsearch/pkg/types"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00FF99"))
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#AAAAAA"))
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(mutedStyle).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
}

func renderSources(w io.Writer, sources []types.SourceInfo) {
	if len(sources) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("The archive is empty."))
		return
	}

	t := newTable("SOURCE", "FEATURES", "FROM", "TO", "SAMPLES")
	for _, s := range sources {
		t.Row(s.Name,
			strings.Join(s.Features, ", "),
			s.MinTime.Format(time.RFC3339),
			s.MaxTime.Format(time.RFC3339),
			strconv.FormatUint(s.Samples, 10))
	}

	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("%d sources", len(sources))))
	fmt.Fprintln(w, t.Render())
}

func renderResult(w io.Writer, res *search.Result) {
	fmt.Fprintln(w, titleStyle.Render("Search "+res.ID))
	fmt.Fprintln(w, mutedStyle.Render(fmt.Sprintf(
		"strategy %s, window %s (%d rows), step %d, %d anchors: %d scored, %d skipped, %d malformed, took %s",
		res.Strategy, res.WindowDuration, res.QueryRows, res.Step, res.Anchors,
		res.Evaluated, res.Skipped, res.Malformed, res.Elapsed.Round(time.Millisecond))))

	if len(res.Matches) == 0 {
		fmt.Fprintln(w, "No matches.")
		return
	}

	t := newTable("#", "START", "END", "DISTANCE")
	for i, m := range res.Matches {
		t.Row(strconv.Itoa(i+1),
			m.Anchor.Format(time.RFC3339Nano),
			m.Anchor.Add(res.WindowDuration).Format(time.RFC3339Nano),
			strconv.FormatFloat(m.Distance, 'f', 4, 64))
	}
	fmt.Fprintln(w, t.Render())
}
