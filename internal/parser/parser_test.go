package parser

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestForFile_Registry(t *testing.T) {
	tests := []struct {
		filename string
		wantErr  bool
	}{
		{"a.txt", false},
		{"a.MD", false},
		{"a.markdown", false},
		{"a.csv", false},
		{"a.htm", false},
		{"a.pdf", false},
		{"a.docx", false},
		{"a.exe", true},
		{"noext", true},
	}
	for _, tt := range tests {
		_, err := ForFile(tt.filename, Options{})
		if (err != nil) != tt.wantErr {
			t.Errorf("ForFile(%q): err=%v, wantErr=%v", tt.filename, err, tt.wantErr)
		}
	}
}

func TestNormalizeExtensions(t *testing.T) {
	got := NormalizeExtensions([]string{"PDF", ".Txt", " md ", ""})
	for _, want := range []string{".pdf", ".txt", ".md"} {
		if !got[want] {
			t.Errorf("expected %q in %v", want, got)
		}
	}
	if len(got) != 3 {
		t.Errorf("expected 3 extensions, got %d", len(got))
	}

	def := NormalizeExtensions(nil)
	if len(def) != len(DefaultExtensions) || !def[".docx"] {
		t.Errorf("expected default extensions, got %v", def)
	}
}

func TestParseFile_Text(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.txt")
	if err := os.WriteFile(path, []byte("Line one.\n\nLine two."), 0o644); err != nil {
		t.Fatal(err)
	}
	doc, err := ParseFile(path, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.Title != "report" {
		t.Errorf("expected title %q, got %q", "report", doc.Title)
	}
	if doc.Text() != "Line one.\n\nLine two." {
		t.Errorf("unexpected text %q", doc.Text())
	}
}

func TestParseFile_Missing(t *testing.T) {
	_, err := ParseFile(filepath.Join(t.TempDir(), "gone.txt"), Options{})
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestCSVParser_RowSections(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("name,amount\n")
	for range 25 {
		sb.WriteString("acme,10\n")
	}
	doc, err := (&CSVParser{}).Parse(strings.NewReader(sb.String()), "ledger.csv")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(doc.Sections) != 2 {
		t.Fatalf("expected 2 sections, got %d", len(doc.Sections))
	}
	if doc.Sections[0].Heading != "Rows 2-21" {
		t.Errorf("unexpected heading %q", doc.Sections[0].Heading)
	}
	if !strings.Contains(doc.Sections[1].Text, "name: acme, amount: 10") {
		t.Errorf("unexpected section text %q", doc.Sections[1].Text)
	}
}

func TestHTMLParser_SkipsChrome(t *testing.T) {
	input := `<html><head><title>Court Filing</title><style>p{}</style></head>
<body><nav>menu</nav><h1>Motion</h1><p>The plaintiff moves.</p><script>x()</script><p>Second.</p></body></html>`
	doc, err := (&HTMLParser{}).Parse(strings.NewReader(input), "filing.html")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.Title != "Court Filing" {
		t.Errorf("expected title from <title>, got %q", doc.Title)
	}
	if got := doc.Text(); got != "Motion\n\nThe plaintiff moves.\n\nSecond." {
		t.Errorf("unexpected text %q", got)
	}
}

func TestSplitPages_TrailingFormFeed(t *testing.T) {
	pages := splitPages("one\ftwo\f\fthree\f")
	if len(pages) != 4 {
		t.Fatalf("expected 4 pages, got %d: %q", len(pages), pages)
	}
	if pages[2] != "" {
		t.Errorf("expected blank third page, got %q", pages[2])
	}
}
