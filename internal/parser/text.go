package parser

import (
	"io"
	"strings"
)

// TextParser handles plain text files. Each paragraph becomes an
// untitled section. Lines of any length are accepted.
type TextParser struct{}

func (p *TextParser) Parse(r io.Reader, filename string) (*Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	doc := &Document{Title: titleFromFilename(filename), Pages: 1}
	for _, para := range splitParagraphs(string(data)) {
		doc.Sections = append(doc.Sections, Section{Text: para, Page: 1})
	}
	return doc, nil
}

// splitParagraphs groups lines into paragraphs separated by blank lines.
// Line endings are normalised to "\n".
func splitParagraphs(text string) []string {
	var paragraphs, current []string
	flush := func() {
		if len(current) > 0 {
			paragraphs = append(paragraphs, strings.Join(current, "\n"))
			current = current[:0]
		}
	}
	for line := range strings.SplitSeq(text, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		current = append(current, line)
	}
	flush()
	return paragraphs
}
