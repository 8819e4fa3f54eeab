// Package render turns API responses into table, JSON, plain or CSV output. No field
// present in a response body is dropped: fields a view does not name are appended
// after its preferred columns in the order they were first seen.
package render

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/jellyroller/jellyroller/internal/common/apperrors"
	"github.com/jellyroller/jellyroller/internal/common/jsontree"
	"github.com/jellyroller/jellyroller/pkg/api"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"golang.org/x/text/cases"
)

// Format selects the output representation.
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatPlain Format = "plain"
	FormatCSV   Format = "csv"
)

// Formats lists the accepted formats.
var Formats = []Format{FormatTable, FormatJSON, FormatPlain, FormatCSV}

// ParseFormat validates a --format value.
func ParseFormat(s string) (Format, error) {
	for _, f := range Formats {
		if strings.EqualFold(s, string(f)) {
			return f, nil
		}
	}
	return "", apperrors.Usagef("unknown format %q: expected table, json, plain or csv", s)
}

// Options configures a render.
type Options struct {
	Format Format
	// Columns replaces the view's column selection when set.
	Columns []string
}

// Render formats resp as the answer to command.
func Render(command string, resp *api.ApiResponse, opts Options) (string, error) {
	if resp == nil {
		return "", &apperrors.RenderError{Command: command, Reason: "no response"}
	}
	view := ViewFor(command)
	body := resp.Body
	if body == nil {
		body = jsontree.NewNull()
	}
	format := opts.Format
	if format == "" {
		format = FormatTable
	}

	if format == FormatJSON {
		return renderJSON(resp, body)
	}
	if resp.Text {
		return body.Str, nil
	}
	if body.Kind == jsontree.Null {
		if format == FormatCSV {
			return "", nil
		}
		return orDefault(view.Empty, "Done.") + "\n", nil
	}
	if err := view.check(body); err != nil {
		return "", &apperrors.RenderError{Command: command, Reason: err.Error(), Raw: resp.Raw}
	}

	rows, extra := view.rows(body)
	switch format {
	case FormatPlain:
		return view.plain(body, rows), nil
	case FormatTable, FormatCSV:
		var out string
		var err error
		switch {
		case rows == nil:
			out, err = renderRecord(view, body, opts, format)
		case len(rows) == 0 && format == FormatTable:
			out = orDefault(view.Empty, "No results.") + "\n"
		default:
			out, err = renderRows(view, rows, extra, opts, format)
		}
		if err != nil {
			return "", &apperrors.RenderError{Command: command, Reason: err.Error(), Raw: resp.Raw}
		}
		return out, nil
	}
	return "", apperrors.Usagef("unknown format %q", format)
}

func renderJSON(resp *api.ApiResponse, body *jsontree.Node) (string, error) {
	if resp.Text {
		return body.Str, nil
	}
	var buf bytes.Buffer
	if raw := bytes.TrimSpace(resp.Raw); len(raw) > 0 && json.Indent(&buf, raw, "", "  ") == nil {
		buf.WriteByte('\n')
		return buf.String(), nil
	}
	out, err := body.MarshalIndent("", "  ")
	if err != nil {
		return "", &apperrors.RenderError{Reason: err.Error(), Raw: resp.Raw}
	}
	return string(out) + "\n", nil
}

// check validates body against the view's minimal schema.
func (v *View) check(body *jsontree.Node) error {
	if v.compiled == nil {
		return nil
	}
	raw, err := body.MarshalJSON()
	if err != nil {
		return err
	}
	var doc any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return err
	}
	if err := v.compiled.Validate(doc); err != nil {
		if ve, ok := err.(*jsonschema.ValidationError); ok {
			return fmt.Errorf("%s", leafMessage(ve))
		}
		return err
	}
	return nil
}

// leafMessage returns the most specific cause of a schema failure.
func leafMessage(ve *jsonschema.ValidationError) string {
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	loc := ve.InstanceLocation
	if loc == "" {
		loc = "/"
	}
	return fmt.Sprintf("at %s: %s", loc, ve.Message)
}

// rows returns the list the body holds, or nil when the body is a single record.
// extra holds the wrapper members that are not the list itself.
func (v *View) rows(body *jsontree.Node) (rows []*jsontree.Node, extra []jsontree.Member) {
	if body.Kind == jsontree.Array {
		return body.Items, nil
	}
	if v.ItemsPath != "" {
		if items, ok := body.Get(v.ItemsPath); ok && items.Kind == jsontree.Array {
			for _, m := range body.Members {
				if m.Key != v.ItemsPath {
					extra = append(extra, m)
				}
			}
			return items.Items, extra
		}
	}
	return nil, nil
}

// columns returns the preferred columns present in any row followed by every other
// top-level key in first-seen order.
func (v *View) columns(rows []*jsontree.Node) []string {
	var cols []string
	seen := map[string]bool{}
	for _, c := range v.Columns {
		for _, row := range rows {
			if _, ok := row.Lookup(c); ok {
				cols = append(cols, c)
				seen[c] = true
				break
			}
		}
	}
	for _, row := range rows {
		for _, k := range row.Keys() {
			if !seen[k] {
				cols = append(cols, k)
				seen[k] = true
			}
		}
	}
	return cols
}

func renderRows(v *View, rows []*jsontree.Node, extra []jsontree.Member, opts Options, format Format) (string, error) {
	scalars := false
	for _, row := range rows {
		if row.Kind != jsontree.Object {
			scalars = true
			break
		}
	}

	var cols []string
	switch {
	case scalars:
		cols = []string{"Value"}
	case len(opts.Columns) > 0:
		cols = matchColumns(opts.Columns, rows)
	default:
		cols = v.columns(rows)
	}

	// A column is right aligned when it holds numbers and nothing else.
	numeric := make([]bool, len(cols))
	mixed := make([]bool, len(cols))
	cells := make([][]string, 0, len(rows))
	for _, row := range rows {
		r := make([]string, len(cols))
		for i, c := range cols {
			cell := row
			if !scalars {
				cell, _ = row.Lookup(c)
			}
			r[i] = cell.Text()
			switch {
			case cell == nil || cell.Kind == jsontree.Null:
			case cell.Kind == jsontree.Number:
				numeric[i] = true
			default:
				mixed[i] = true
			}
		}
		cells = append(cells, r)
	}

	if format == FormatCSV {
		return renderCSV(cols, cells, extra)
	}

	tw := newWriter()
	tw.AppendHeader(tableRow(cols))
	for _, r := range cells {
		tw.AppendRow(tableRow(r))
	}
	configs := make([]table.ColumnConfig, len(cols))
	for i := range cols {
		align := text.AlignLeft
		if numeric[i] && !mixed[i] {
			align = text.AlignRight
		}
		configs[i] = table.ColumnConfig{Number: i + 1, Align: align, AlignHeader: text.AlignLeft}
	}
	tw.SetColumnConfigs(configs)
	if len(extra) > 0 {
		parts := make([]string, 0, len(extra))
		for _, m := range extra {
			parts = append(parts, m.Key+"="+m.Value.Text())
		}
		tw.SetCaption(strings.Join(parts, " "))
	}
	return tw.Render() + "\n", nil
}

// renderRecord renders a single object as Field/Value pairs in body order, after the
// view's preferred fields.
func renderRecord(v *View, body *jsontree.Node, opts Options, format Format) (string, error) {
	header := []string{"Field", "Value"}
	var cells [][]string
	if body.Kind != jsontree.Object {
		header = []string{"Value"}
		cells = [][]string{{body.Text()}}
	} else {
		var fields []string
		if len(opts.Columns) > 0 {
			fields = matchColumns(opts.Columns, []*jsontree.Node{body})
		} else {
			fields = v.columns([]*jsontree.Node{body})
		}
		for _, f := range fields {
			value, _ := body.Lookup(f)
			cells = append(cells, []string{f, value.Text()})
		}
	}

	if format == FormatCSV {
		return renderCSV(header, cells, nil)
	}
	tw := newWriter()
	tw.AppendHeader(tableRow(header))
	for _, r := range cells {
		tw.AppendRow(tableRow(r))
	}
	return tw.Render() + "\n", nil
}

// renderCSV writes RFC 4180 records. Wrapper members such as TotalRecordCount become
// trailing columns repeated on every record.
func renderCSV(header []string, cells [][]string, extra []jsontree.Member) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	tail := make([]string, len(extra))
	for i, m := range extra {
		header = append(header[:len(header):len(header)], m.Key)
		tail[i] = m.Value.Text()
	}
	if len(cells) == 0 && len(extra) > 0 {
		cells = [][]string{make([]string, len(header)-len(extra))}
	}
	records := make([][]string, 0, len(cells)+1)
	records = append(records, header)
	for _, r := range cells {
		records = append(records, append(r[:len(r):len(r)], tail...))
	}
	if err := w.WriteAll(records); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// plain renders a single line: the summary fields of a record, or the summary field
// of every row followed by the row count.
func (v *View) plain(body *jsontree.Node, rows []*jsontree.Node) string {
	if rows != nil {
		if len(rows) == 0 {
			return orDefault(v.Empty, "No results.") + "\n"
		}
		if len(v.Summary) == 0 {
			return fmt.Sprintf("%d items\n", len(rows))
		}
		names := make([]string, 0, len(rows))
		for _, row := range rows {
			if n, ok := row.Lookup(v.Summary[0]); ok {
				names = append(names, n.Text())
			}
		}
		return fmt.Sprintf("%s (%d)\n", strings.Join(names, ", "), len(rows))
	}
	if body.Kind != jsontree.Object {
		return body.Text() + "\n"
	}
	fields := v.Summary
	if len(fields) == 0 {
		for _, m := range body.Members {
			if m.Value.IsScalar() {
				fields = append(fields, m.Key)
			}
		}
	}
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		if n, ok := body.Lookup(f); ok {
			parts = append(parts, f+"="+n.Text())
		}
	}
	return strings.Join(parts, " ") + "\n"
}

func newWriter() table.Writer {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.Style().Format.Header = text.FormatDefault
	return tw
}

var folder = cases.Fold()

// matchColumns maps requested column names onto the keys present in rows, ignoring
// case, so "--columns name,id" selects "Name" and "Id". Names matching no key are kept
// as given and may be dotted paths.
func matchColumns(requested []string, rows []*jsontree.Node) []string {
	present := map[string]bool{}
	folded := map[string]string{}
	for _, row := range rows {
		for _, k := range row.Keys() {
			present[k] = true
			if _, ok := folded[folder.String(k)]; !ok {
				folded[folder.String(k)] = k
			}
		}
	}
	cols := make([]string, len(requested))
	for i, c := range requested {
		cols[i] = c
		if k, ok := folded[folder.String(c)]; ok && !present[c] {
			cols[i] = k
		}
	}
	return cols
}

func tableRow(cells []string) table.Row {
	row := make(table.Row, len(cells))
	for i, c := range cells {
		row[i] = c
	}
	return row
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
