package parser

import "strings"

// Document is the extracted text of a single file.
type Document struct {
	Title    string
	Sections []Section

	// Pages is the page count reported by the format. Formats without
	// pagination report 1.
	Pages int
}

// Section is a contiguous block of extracted text. Heading is empty for
// untitled blocks.
type Section struct {
	Heading string
	Level   int
	Text    string
	Page    int
}

// Text joins all sections with blank lines, keeping headings inline.
func (d *Document) Text() string {
	var sb strings.Builder
	for _, s := range d.Sections {
		for _, part := range []string{s.Heading, s.Text} {
			if part == "" {
				continue
			}
			if sb.Len() > 0 {
				sb.WriteString("\n\n")
			}
			sb.WriteString(part)
		}
	}
	return sb.String()
}

// PageCount returns Pages clamped to at least 1.
func (d *Document) PageCount() int {
	return max(d.Pages, 1)
}

// appendText adds text to the last section, or opens an untitled one.
func (d *Document) appendText(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if n := len(d.Sections); n > 0 {
		last := &d.Sections[n-1]
		if last.Text != "" {
			last.Text += "\n\n" + text
		} else {
			last.Text = text
		}
		return
	}
	d.Sections = append(d.Sections, Section{Text: text, Page: 1})
}

// openSection starts a new headed section.
func (d *Document) openSection(heading string, level int) {
	d.Sections = append(d.Sections, Section{Heading: strings.TrimSpace(heading), Level: level, Page: 1})
}
