package chunker

import "strings"

// Config controls chunking behavior. Sizes are in characters (runes).
type Config struct {
	ChunkSize    int // Target chunk length.
	ChunkOverlap int // Characters shared by consecutive chunks.
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ChunkSize:    1000,
		ChunkOverlap: 200,
	}
}

// Span is one chunk of a text. Start is the rune offset of the window the
// chunk was cut from, before whitespace trimming.
type Span struct {
	Text  string
	Start int
}

// Boundaries tried, in order, when a window ends inside the text.
var (
	paragraphBreak = []rune("\n\n")
	sentenceBreaks = [][]rune{[]rune(". "), []rune(".\n"), []rune("? "), []rune("! ")}
)

// Split cuts text into overlapping windows of roughly cfg.ChunkSize runes.
// A window that ends inside the text is pulled back to the last paragraph
// break, or failing that the last sentence break, when that boundary lies
// in the second half of the window. Windows that are blank after trimming
// are dropped. Start offsets strictly increase.
func Split(text string, cfg Config) []Span {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultConfig().ChunkSize
	}
	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.ChunkSize {
		cfg.ChunkOverlap = 0
	}

	runes := []rune(text)
	n := len(runes)
	var spans []Span

	start := 0
	for start < n {
		end := start + cfg.ChunkSize
		if end < n {
			end = snapEnd(runes, start, end, cfg.ChunkSize)
		}

		if chunk := strings.TrimSpace(string(runes[start:min(end, n)])); chunk != "" {
			spans = append(spans, Span{Text: chunk, Start: start})
		}

		next := end - cfg.ChunkOverlap
		if next <= start {
			next = end
		}
		start = next
	}

	return spans
}

// snapEnd moves end back to just after a natural boundary in
// (start+size/2, end), or returns end unchanged.
func snapEnd(runes []rune, start, end, size int) int {
	threshold := start + size/2
	if pos := lastIndex(runes, paragraphBreak, start, end); pos > threshold {
		return pos + len(paragraphBreak)
	}
	for _, sep := range sentenceBreaks {
		if pos := lastIndex(runes, sep, start, end); pos > threshold {
			return pos + len(sep)
		}
	}
	return end
}

// lastIndex returns the position of the last occurrence of sep lying
// entirely within runes[start:end], or -1.
func lastIndex(runes, sep []rune, start, end int) int {
	for i := end - len(sep); i >= start; i-- {
		match := true
		for j, r := range sep {
			if runes[i+j] != r {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}
