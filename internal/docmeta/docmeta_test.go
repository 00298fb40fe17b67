package docmeta

import (
	"strings"
	"testing"
	"time"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		text     string
		want     string
	}{
		{"filename keyword", "flight_manifest_1997.pdf", "", TypeFlightLog},
		{"text keyword", "doc1.txt", "The plaintiff filed a motion.", TypeCourtDocument},
		{"deposition", "transcript.txt", "Testimony of the deponent", TypeDeposition},
		{"police", "report.pdf", "Officer responded to the incident", TypePoliceReport},
		{"financial", "stmt.pdf", "Wire transfer to account 42", TypeFinancial},
		{"correspondence", "note.txt", "Dear John, sincerely", TypeCorrespondence},
		{"case insensitive", "x.txt", "BANK STATEMENT", TypeFinancial},
		{"no match", "readme.md", "nothing to see", TypeOther},
		// Rules are ordered: a court keyword beats a later financial keyword.
		{"first rule wins", "x.txt", "bank order", TypeCourtDocument},
	}
	for _, tt := range tests {
		if got := Classify(tt.filename, tt.text); got != tt.want {
			t.Errorf("%s: Classify(%q, %q) = %q, want %q", tt.name, tt.filename, tt.text, got, tt.want)
		}
	}
}

func TestClassify_OnlyInspectsSample(t *testing.T) {
	text := strings.Repeat("z ", 1000) + "passenger"
	if got := Classify("file.txt", text); got != TypeOther {
		t.Errorf("keyword past the sample should be ignored, got %q", got)
	}
}

func TestExtractDate(t *testing.T) {
	tests := []struct {
		text string
		want string
		ok   bool
	}{
		{"Signed on 3/14/2005 in Palm Beach", "3/14/2005", true},
		{"Dated July 4, 1999 at noon", "July 4, 1999", true},
		{"dated march 4 2001", "march 4 2001", true},
		{"ISO 2019-07-06 entry", "2019-07-06", true},
		{"no dates here", "", false},
		// Slash format is tried before ISO regardless of position.
		{"2019-07-06 then 1/2/03", "1/2/03", true},
	}
	for _, tt := range tests {
		got, ok := ExtractDate(tt.text)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ExtractDate(%q) = (%q, %v), want (%q, %v)", tt.text, got, ok, tt.want, tt.ok)
		}
	}
}

func TestExtractDate_OnlyInspectsPrefix(t *testing.T) {
	text := strings.Repeat("x", 600) + " 2020-01-01"
	if _, ok := ExtractDate(text); ok {
		t.Error("date past the first 500 characters should be ignored")
	}
}

func TestDocumentID(t *testing.T) {
	a := DocumentID("/data/repo/a.pdf")
	if len(a) != 16 {
		t.Fatalf("expected 16 hex chars, got %q", a)
	}
	if a != DocumentID("/data/repo/a.pdf") {
		t.Error("expected stable id")
	}
	if a == DocumentID("/data/repo/b.pdf") {
		t.Error("expected different ids for different paths")
	}
	// SHA-256("") prefix.
	if got := DocumentID(""); got != "e3b0c44298fc1c14" {
		t.Errorf("unexpected id for empty path: %q", got)
	}
	if got := ChunkID("abc", 7); got != "abc_7" {
		t.Errorf("unexpected chunk id %q", got)
	}
}

func TestSafeFilename(t *testing.T) {
	tests := map[string]string{
		`a<b>c:d"e`:   "a_b_c_d_e",
		"  .hidden. ": "hidden",
		"...":         "unnamed",
		"ok.txt":      "ok.txt",
	}
	for in, want := range tests {
		if got := SafeFilename(in); got != want {
			t.Errorf("SafeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFormatFileSize(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0.0 B"},
		{1023, "1023.0 B"},
		{1536, "1.5 KB"},
		{5 * 1024 * 1024, "5.0 MB"},
		{3 << 40, "3.0 TB"},
	}
	for _, tt := range tests {
		if got := FormatFileSize(tt.in); got != tt.want {
			t.Errorf("FormatFileSize(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestEstimateETA(t *testing.T) {
	if got := EstimateETA(0, 10, time.Second); got != "" {
		t.Errorf("expected empty ETA before progress, got %q", got)
	}
	if got := EstimateETA(5, 10, 10*time.Second); got != "10s" {
		t.Errorf("expected 10s, got %q", got)
	}
	if got := EstimateETA(1, 3, 45*time.Second); got != "1m 30s" {
		t.Errorf("expected 1m 30s, got %q", got)
	}
	if got := EstimateETA(1, 4, time.Hour); got != "3h 0m" {
		t.Errorf("expected 3h 0m, got %q", got)
	}
}
