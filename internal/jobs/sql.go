package jobs

import (
	"fmt"
	"strings"
	"time"
)

const table = "indexing_jobs"

const selectColumns = `id, source_type, source_url, status, total_files, processed_files, failed_files,
	current_file, progress_percent, started_at, completed_at, error_message, updated_at`

// columns lists the columns set by u with their values, in a fixed order.
// Timestamps are converted by conv so each driver can pick its encoding.
func (u Update) columns(conv func(time.Time) any) ([]string, []any) {
	var cols []string
	var vals []any
	add := func(col string, v any) {
		cols = append(cols, col)
		vals = append(vals, v)
	}
	if u.SourceType != nil {
		add("source_type", *u.SourceType)
	}
	if u.SourceURL != nil {
		add("source_url", *u.SourceURL)
	}
	if u.Status != nil {
		add("status", string(*u.Status))
	}
	if u.TotalFiles != nil {
		add("total_files", *u.TotalFiles)
	}
	if u.ProcessedFiles != nil {
		add("processed_files", *u.ProcessedFiles)
	}
	if u.FailedFiles != nil {
		add("failed_files", *u.FailedFiles)
	}
	if u.CurrentFile != nil {
		add("current_file", *u.CurrentFile)
	}
	if u.ProgressPercent != nil {
		add("progress_percent", *u.ProgressPercent)
	}
	if u.StartedAt != nil {
		add("started_at", conv(*u.StartedAt))
	}
	if u.CompletedAt != nil {
		add("completed_at", conv(*u.CompletedAt))
	}
	if u.ErrorMessage != nil {
		add("error_message", *u.ErrorMessage)
	}
	return cols, vals
}

// upsertSQL builds an INSERT ... ON CONFLICT(id) DO UPDATE for the columns
// set in u plus updated_at. placeholder renders the nth (1-based) argument.
func upsertSQL(id string, u Update, now time.Time, conv func(time.Time) any, placeholder func(int) string) (string, []any) {
	cols, vals := u.columns(conv)
	cols = append([]string{"id"}, cols...)
	cols = append(cols, "updated_at")
	args := append([]any{id}, vals...)
	args = append(args, conv(now))

	marks := make([]string, len(cols))
	for i := range cols {
		marks[i] = placeholder(i + 1)
	}
	sets := make([]string, 0, len(cols)-1)
	for _, c := range cols[1:] {
		sets = append(sets, fmt.Sprintf("%s = excluded.%s", c, c))
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (id) DO UPDATE SET %s",
		table, strings.Join(cols, ", "), strings.Join(marks, ", "), strings.Join(sets, ", "))
	return query, args
}

func dollarPlaceholder(n int) string { return fmt.Sprintf("$%d", n) }
func questionPlaceholder(int) string { return "?" }
