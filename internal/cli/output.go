package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"logpipe/internal/httpapi"
	"logpipe/internal/models"
	"logpipe/internal/queue"
)

// Output formats accepted by --output.
const (
	OutputTable = "table"
	OutputJSON  = "json"
)

const maxCellWidth = 80

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	return t
}

func header(names ...string) table.Row {
	row := make(table.Row, len(names))
	for i, n := range names {
		row[i] = text.FgHiCyan.Sprint(n)
	}
	return row
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeEmpty(w io.Writer, message string) {
	fmt.Fprintln(w, text.FgYellow.Sprint(message))
}

func truncate(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) > maxCellWidth {
		return s[:maxCellWidth-3] + "..."
	}
	return s
}

func yesNo(b bool) string {
	if b {
		return text.FgGreen.Sprint("yes")
	}
	return text.FgHiBlack.Sprint("no")
}

func categoryColor(c models.Category) text.Color {
	switch {
	case c.Has(models.Fatal | models.Error):
		return text.FgRed
	case c.Has(models.Warning):
		return text.FgYellow
	case c.Has(models.StartStop):
		return text.FgGreen
	case c.Has(models.Trace | models.Debug):
		return text.FgHiBlack
	default:
		return text.Reset
	}
}

func renderProviders(w io.Writer, resp httpapi.ProvidersResponse) {
	if len(resp.Catalog) == 0 && len(resp.Active) == 0 {
		writeEmpty(w, "No providers configured")
		return
	}

	t := newTable(w)
	t.AppendHeader(header("TYPE", "KEY", "ACTIVE", "IN CATALOG", "CATEGORIES"))

	listed := make(map[string]bool)
	for _, e := range resp.Catalog {
		t.AppendRow(table.Row{e.Type, e.Key, yesNo(e.Active), yesNo(e.Configured), e.Filter.Effective().String()})
		listed[e.Type+"/"+e.Key] = true
	}
	for _, s := range resp.Active {
		if listed[s.Descriptor.Type+"/"+s.Descriptor.Key] {
			continue
		}
		t.AppendRow(table.Row{s.Descriptor.Type, s.Descriptor.Key, yesNo(true), yesNo(false), s.Filter.Effective().String()})
	}
	t.Render()
}

func renderLogs(w io.Writer, msgs []*models.LogMessage) {
	if len(msgs) == 0 {
		writeEmpty(w, "No messages retained")
		return
	}

	t := newTable(w)
	t.AppendHeader(header("#", "TIME", "CATEGORY", "SOURCE", "MESSAGE"))
	for _, m := range msgs {
		source := m.Class
		if m.Method != "" {
			source += "." + m.Method
		}
		msg := m.Message
		if m.Attributes != "" {
			msg += " " + m.Attributes
		}
		if m.Exception != "" {
			msg += " | " + m.Exception
		}
		t.AppendRow(table.Row{
			m.Index,
			m.Timestamp.Local().Format(time.DateTime),
			categoryColor(m.Category).Sprint(m.Category.String()),
			source,
			truncate(msg),
		})
	}
	t.Render()
}

func renderFailures(w io.Writer, items []queue.DeadLetterItem) {
	if len(items) == 0 {
		writeEmpty(w, "No delivery failures")
		return
	}

	t := newTable(w)
	t.AppendHeader(header("ID", "PROVIDER", "FAILED AT", "MESSAGE", "ERROR"))
	for _, item := range items {
		var msg string
		if item.Message != nil {
			msg = item.Message.Message
		}
		t.AppendRow(table.Row{
			item.ID,
			item.Provider,
			item.Timestamp.Local().Format(time.DateTime),
			truncate(msg),
			text.FgRed.Sprint(truncate(item.Error)),
		})
	}
	t.Render()
}

func renderStats(w io.Writer, s httpapi.StatsResponse) {
	t := newTable(w)
	t.AppendHeader(header("KEY", "VALUE"))
	d := s.Dispatcher
	t.AppendRows([]table.Row{
		{"running", yesNo(d.Running)},
		{"providers", d.Providers},
		{"queued", fmt.Sprintf("%d / %d", d.Queued, d.Capacity)},
		{"delivered", d.Delivered},
		{"failed", d.Failed},
		{"filtered", d.Filtered},
		{"dropped", d.Dropped},
	})
	if db := s.Database; db != nil {
		t.AppendSeparator()
		t.AppendRows([]table.Row{
			{"db open connections", fmt.Sprintf("%d / %d", db.OpenConnections, db.MaxOpenConnections)},
			{"db in use", db.InUse},
			{"db idle", db.Idle},
			{"db wait count", db.WaitCount},
		})
	}
	t.Render()
}
