package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// Run modes
const (
	ModeBackup   = "backup"
	ModeDownload = "download"
	ModeList     = "list"
)

// Run is one recorded invocation
type Run struct {
	ID          int64     `json:"id"`
	TraceID     string    `json:"traceId"`
	Mode        string    `json:"mode"`
	Profile     string    `json:"profile,omitempty"`
	RemotePath  string    `json:"remotePath,omitempty"`
	LocalPath   string    `json:"localPath,omitempty"`
	Outcome     string    `json:"outcome"`
	FileName    string    `json:"fileName,omitempty"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	Bytes       int64     `json:"bytes"`
	ErrorCode   string    `json:"errorCode,omitempty"`
	StartedAt   time.Time `json:"startedAt"`
	FinishedAt  time.Time `json:"finishedAt"`
}

// Duration is the wall time of the run
func (r Run) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Record appends run and returns its id
func (d *DB) Record(ctx context.Context, run Run) (int64, error) {
	res, err := d.db.ExecContext(ctx, `
		INSERT INTO runs (
			trace_id, mode, profile, remote_path, local_path, outcome, file_name, fingerprint, bytes, error_code,
			started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.TraceID, run.Mode, run.Profile, run.RemotePath, run.LocalPath, run.Outcome, run.FileName, run.Fingerprint,
		run.Bytes, run.ErrorCode, run.StartedAt.UnixMilli(), run.FinishedAt.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// List returns up to limit runs, newest first. limit <= 0 returns all.
func (d *DB) List(ctx context.Context, limit int) (runs []Run, err error) {
	query := `
		SELECT id, trace_id, mode, profile, remote_path, local_path, outcome, file_name, fingerprint, bytes, error_code,
		       started_at, finished_at
		FROM runs ORDER BY started_at DESC, id DESC
	`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return runs, nil
}

func scanRun(scanner interface {
	Scan(dest ...interface{}) error
}) (Run, error) {
	var run Run
	var started, finished int64
	err := scanner.Scan(&run.ID, &run.TraceID, &run.Mode, &run.Profile, &run.RemotePath, &run.LocalPath, &run.Outcome,
		&run.FileName, &run.Fingerprint, &run.Bytes, &run.ErrorCode, &started, &finished)
	if err != nil {
		return Run{}, err
	}
	run.StartedAt = time.UnixMilli(started)
	run.FinishedAt = time.UnixMilli(finished)
	return run, nil
}

// RunList renders runs as a table
type RunList struct {
	Runs []Run `json:"runs"`
}

func (l *RunList) Headers() []string {
	return []string{"Started", "Mode", "Remote", "Outcome", "File", "Size", "Duration"}
}

func (l *RunList) Rows() [][]string {
	rows := make([][]string, 0, len(l.Runs))
	for _, r := range l.Runs {
		size := ""
		if r.Bytes > 0 {
			size = humanize.IBytes(uint64(r.Bytes))
		}
		rows = append(rows, []string{
			r.StartedAt.Local().Format(time.DateTime),
			r.Mode,
			r.RemotePath,
			r.Outcome,
			r.FileName,
			size,
			fmt.Sprintf("%.1fs", r.Duration().Seconds()),
		})
	}
	return rows
}

func (l *RunList) EmptyMessage() string {
	return "No runs recorded."
}
