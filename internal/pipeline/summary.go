package pipeline

import (
	"fmt"
	"io"
	"time"

	"github.com/dgallion1/docindex/internal/jobs"
	"github.com/dgallion1/docindex/internal/processor"
)

// RunSummary is what a run reports back to its caller.
type RunSummary struct {
	JobID          string                   `json:"job_id"`
	SourceURL      string                   `json:"source_url"`
	Status         jobs.Status              `json:"status"`
	TotalFiles     int                      `json:"total_files"`
	ProcessedFiles int                      `json:"processed_files"`
	FailedFiles    int                      `json:"failed_files"`
	SkippedFiles   int                      `json:"skipped_files"`
	TotalChunks    int                      `json:"total_chunks"`
	IndexedChunks  int                      `json:"indexed_chunks"`
	Elapsed        time.Duration            `json:"elapsed"`
	Error          string                   `json:"error,omitempty"`
	IndexError     string                   `json:"index_error,omitempty"`
	Timings        processor.TimingSnapshot `json:"timings"`
}

// Print writes a human-readable summary block.
func (s RunSummary) Print(w io.Writer) {
	rule := "============================================================"
	fmt.Fprintf(w, "\n%s\nPipeline Summary\n%s\n", rule, rule)
	fmt.Fprintf(w, "  job_id: %s\n", s.JobID)
	fmt.Fprintf(w, "  repo_url: %s\n", s.SourceURL)
	fmt.Fprintf(w, "  status: %s\n", s.Status)
	if s.Error != "" {
		fmt.Fprintf(w, "  error: %s\n", s.Error)
	}
	if s.TotalFiles > 0 {
		fmt.Fprintf(w, "  total_files: %d\n", s.TotalFiles)
		fmt.Fprintf(w, "  processed_files: %d\n", s.ProcessedFiles)
		fmt.Fprintf(w, "  failed_files: %d\n", s.FailedFiles)
		fmt.Fprintf(w, "  skipped_files: %d\n", s.SkippedFiles)
		fmt.Fprintf(w, "  total_chunks: %d\n", s.TotalChunks)
		fmt.Fprintf(w, "  indexed_chunks: %d\n", s.IndexedChunks)
	}
	if s.IndexError != "" {
		fmt.Fprintf(w, "  index_error: %s\n", s.IndexError)
	}
	if s.Timings.Files > 0 {
		fmt.Fprintf(w, "  file_ms: p50=%.0f p95=%.0f max=%d\n", s.Timings.P50Ms, s.Timings.P95Ms, s.Timings.MaxMs)
	}
	fmt.Fprintf(w, "  elapsed_seconds: %.1f\n%s\n", s.Elapsed.Seconds(), rule)
}
