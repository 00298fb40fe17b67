// Package docmeta derives per-document metadata: a stable document id,
// a coarse document type and date references found in text.
package docmeta

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Document types returned by Classify.
const (
	TypeFlightLog      = "flight_log"
	TypeCourtDocument  = "court_document"
	TypeDeposition     = "deposition"
	TypePoliceReport   = "police_report"
	TypeFinancial      = "financial"
	TypeCorrespondence = "correspondence"
	TypeOther          = "other"

	// TypeUnknown marks documents whose extraction failed.
	TypeUnknown = "unknown"
)

// classifySample bounds how much of the text Classify inspects.
const classifySample = 2000

type rule struct {
	docType  string
	keywords []string
}

// rules are evaluated in order; the first rule with any keyword hit wins.
var rules = []rule{
	{TypeFlightLog, []string{"flight", "manifest", "tail number", "passenger"}},
	{TypeCourtDocument, []string{"court", "docket", "ruling", "order", "motion", "plaintiff", "defendant"}},
	{TypeDeposition, []string{"deposition", "deponent", "sworn", "testimony"}},
	{TypePoliceReport, []string{"police", "arrest", "incident", "officer"}},
	{TypeFinancial, []string{"bank", "transaction", "wire transfer", "account", "invoice"}},
	{TypeCorrespondence, []string{"letter", "memo", "email", "dear", "sincerely"}},
}

// Classify guesses a document type from its filename and the start of its
// text. Matching is substring based and case-insensitive.
func Classify(filename, text string) string {
	sample := text
	if r := []rune(sample); len(r) > classifySample {
		sample = string(r[:classifySample])
	}
	combined := strings.ToLower(filename) + " " + strings.ToLower(sample)

	for _, r := range rules {
		for _, kw := range r.keywords {
			if strings.Contains(combined, kw) {
				return r.docType
			}
		}
	}
	return TypeOther
}

// dateSample bounds how much of a chunk ExtractDate inspects.
const dateSample = 500

var datePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b\d{1,2}/\d{1,2}/\d{2,4}\b`),
	regexp.MustCompile(`(?i)\b(?:January|February|March|April|May|June|July|August|September|October|November|December)\s+\d{1,2},?\s+\d{4}\b`),
	regexp.MustCompile(`(?i)\b\d{4}-\d{2}-\d{2}\b`),
}

// ExtractDate returns the first date-like string in the first 500
// characters of text. Patterns are tried in order: MM/DD/YYYY, then
// "Month DD, YYYY", then YYYY-MM-DD.
func ExtractDate(text string) (string, bool) {
	if r := []rune(text); len(r) > dateSample {
		text = string(r[:dateSample])
	}
	for _, re := range datePatterns {
		if m := re.FindString(text); m != "" {
			return m, true
		}
	}
	return "", false
}

// DocumentID is the first 16 hex characters of the SHA-256 of the source
// path. It is stable across runs for the same path.
func DocumentID(sourcePath string) string {
	h := sha256.Sum256([]byte(sourcePath))
	return hex.EncodeToString(h[:])[:16]
}

// ChunkID is the vector index id of a chunk.
func ChunkID(documentID string, chunkIndex int) string {
	return fmt.Sprintf("%s_%d", documentID, chunkIndex)
}

var unsafeFilenameChars = regexp.MustCompile(`[<>:"/\\|?*]`)

// SafeFilename replaces characters that are invalid in file names and
// trims leading and trailing dots and spaces.
func SafeFilename(name string) string {
	name = unsafeFilenameChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, ". ")
	if name == "" {
		return "unnamed"
	}
	return name
}

// FormatFileSize renders a byte count as "12.3 MB".
func FormatFileSize(size int64) string {
	v := float64(size)
	for _, unit := range []string{"B", "KB", "MB", "GB"} {
		if v < 1024 {
			return fmt.Sprintf("%.1f %s", v, unit)
		}
		v /= 1024
	}
	return fmt.Sprintf("%.1f TB", v)
}

// EstimateETA extrapolates the remaining time from the average time per
// processed item. It returns "" until at least one item is done.
func EstimateETA(processed, total int, elapsed time.Duration) string {
	if processed <= 0 || total <= 0 {
		return ""
	}
	perItem := elapsed.Seconds() / float64(processed)
	remaining := float64(total-processed) * perItem
	switch {
	case remaining < 60:
		return fmt.Sprintf("%.0fs", remaining)
	case remaining < 3600:
		return fmt.Sprintf("%dm %ds", int(remaining)/60, int(remaining)%60)
	default:
		return fmt.Sprintf("%dh %dm", int(remaining)/3600, (int(remaining)%3600)/60)
	}
}
