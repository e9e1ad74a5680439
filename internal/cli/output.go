package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/dl-alexandre/dbxbackup/internal/types"
	"github.com/dl-alexandre/dbxbackup/internal/utils"
	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
)

// OutputWriter handles CLI output formatting
type OutputWriter struct {
	format   types.OutputFormat
	quiet    bool
	verbose  bool
	traceID  string
	stdout   io.Writer
	stderr   io.Writer
	warnings []types.CLIWarning
}

// NewOutputWriter creates a new output writer
func NewOutputWriter(format types.OutputFormat, quiet, verbose bool) *OutputWriter {
	return &OutputWriter{
		format:   format,
		quiet:    quiet,
		verbose:  verbose,
		stdout:   os.Stdout,
		stderr:   os.Stderr,
		warnings: []types.CLIWarning{},
	}
}

// WithTraceID stamps the run's trace id on every envelope
func (w *OutputWriter) WithTraceID(traceID string) *OutputWriter {
	w.traceID = traceID
	return w
}

// AddWarning adds a warning to the output
func (w *OutputWriter) AddWarning(code, message, severity string) {
	w.warnings = append(w.warnings, types.CLIWarning{
		Code:     code,
		Message:  message,
		Severity: severity,
	})
}

// WriteSuccess writes a successful result
func (w *OutputWriter) WriteSuccess(command string, data interface{}) error {
	output := types.CLIOutput{
		SchemaVersion: utils.SchemaVersion,
		TraceID:       w.traceID,
		Command:       command,
		Data:          data,
		Warnings:      w.warnings,
		Errors:        []types.CLIError{},
	}

	if w.format == types.OutputFormatJSON {
		return w.writeJSON(output)
	}
	return w.writeTable(command, data)
}

// WriteError writes an error result. Table mode prints a single line to
// stderr.
func (w *OutputWriter) WriteError(command string, cliErr types.CLIError) error {
	if w.format != types.OutputFormatJSON {
		_, err := fmt.Fprintf(w.stderr, "Error [%s]: %s\n", cliErr.Code, cliErr.Message)
		return err
	}

	output := types.CLIOutput{
		SchemaVersion: utils.SchemaVersion,
		TraceID:       w.traceID,
		Command:       command,
		Data:          nil,
		Warnings:      w.warnings,
		Errors:        []types.CLIError{cliErr},
	}
	return w.writeJSON(output)
}

func (w *OutputWriter) writeJSON(output types.CLIOutput) error {
	encoder := json.NewEncoder(w.stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(output)
}

func (w *OutputWriter) writeTable(command string, data interface{}) error {
	if renderable, ok := data.(types.TableRenderable); ok {
		return w.renderTable(renderable.AsTableRenderer())
	}
	if renderer, ok := data.(types.TableRenderer); ok {
		return w.renderTable(renderer)
	}
	switch v := data.(type) {
	case *types.BackupReport:
		return w.renderTable(backupReportTable(v))
	case *types.TransferResult:
		return w.renderTable(transferResultTable(v))
	case map[string]interface{}:
		return w.renderTable(mapTable(v))
	default:
		// Fallback to JSON for unknown types
		return w.writeJSON(types.CLIOutput{
			SchemaVersion: utils.SchemaVersion,
			TraceID:       w.traceID,
			Command:       command,
			Data:          data,
			Warnings:      w.warnings,
			Errors:        []types.CLIError{},
		})
	}
}

func (w *OutputWriter) renderTable(renderer types.TableRenderer) error {
	rows := renderer.Rows()
	if len(rows) == 0 {
		if !w.quiet {
			fmt.Fprintln(w.stdout, renderer.EmptyMessage())
		}
		return nil
	}

	table := tablewriter.NewWriter(w.stdout)
	table.SetHeader(renderer.Headers())
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)

	for _, row := range rows {
		table.Append(row)
	}

	table.Render()
	return nil
}

// Log writes to stderr if not quiet
func (w *OutputWriter) Log(format string, args ...interface{}) {
	if !w.quiet {
		fmt.Fprintf(w.stderr, format+"\n", args...)
	}
}

// Verbose writes to stderr if verbose is enabled
func (w *OutputWriter) Verbose(format string, args ...interface{}) {
	if w.verbose {
		fmt.Fprintf(w.stderr, "[VERBOSE] "+format+"\n", args...)
	}
}

// fieldTable renders key/value pairs with a two column header
type fieldTable struct {
	rows  [][]string
	empty string
}

func (t *fieldTable) Headers() []string    { return []string{"Field", "Value"} }
func (t *fieldTable) Rows() [][]string     { return t.rows }
func (t *fieldTable) EmptyMessage() string { return t.empty }

func (t *fieldTable) add(key, value string) {
	if value != "" {
		t.rows = append(t.rows, []string{key, value})
	}
}

func backupReportTable(r *types.BackupReport) *fieldTable {
	t := &fieldTable{empty: "Nothing to report."}
	t.add("Outcome", string(r.Outcome))
	t.add("Fingerprint", r.Fingerprint)
	t.add("Name", r.Name)
	t.add("Remote path", r.RemotePath)
	if r.Bytes > 0 {
		t.add("Size", humanize.IBytes(r.Bytes))
	}
	if ev := r.Eviction; ev != nil {
		t.add("Backups stored", fmt.Sprintf("%d (max %d)", ev.Count, ev.Max))
		switch {
		case ev.Deleted:
			t.add("Evicted", ev.Oldest)
		case ev.Skipped:
			t.add("Evicted", fmt.Sprintf("none (%s not recognized)", ev.Oldest))
		case ev.DeleteErr != nil:
			t.add("Evicted", fmt.Sprintf("none (%v)", ev.DeleteErr))
		}
	}
	if r.Space != nil {
		t.add("Disk space used", r.Space.String())
	}
	return t
}

func transferResultTable(r *types.TransferResult) *fieldTable {
	t := &fieldTable{empty: "Nothing transferred."}
	t.add("Status", string(r.Status))
	t.add("Local path", r.LocalPath)
	if r.Entry != nil {
		t.add("Remote path", r.Entry.Path)
	}
	if r.Bytes > 0 {
		t.add("Size", humanize.IBytes(r.Bytes))
	}
	if r.Err != nil {
		t.add("Error", r.Err.Error())
	}
	return t
}

func mapTable(m map[string]interface{}) *fieldTable {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	t := &fieldTable{empty: "No data."}
	for _, k := range keys {
		t.add(k, fmt.Sprint(m[k]))
	}
	return t
}
