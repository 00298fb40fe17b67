package chunker

import (
	"math/rand/v2"
	"strings"
	"testing"
)

func TestSplit_UniformTextWindows(t *testing.T) {
	text := strings.Repeat("a", 2500)
	spans := Split(text, Config{ChunkSize: 1000, ChunkOverlap: 200})

	want := []struct {
		start, length int
	}{
		{0, 1000},
		{800, 1000},
		{1600, 900},
		{2400, 100},
	}
	if len(spans) != len(want) {
		t.Fatalf("expected %d chunks, got %d", len(want), len(spans))
	}
	for i, w := range want {
		if spans[i].Start != w.start {
			t.Errorf("chunk %d: expected start %d, got %d", i, w.start, spans[i].Start)
		}
		if len(spans[i].Text) != w.length {
			t.Errorf("chunk %d: expected length %d, got %d", i, w.length, len(spans[i].Text))
		}
	}
}

func TestSplit_ShortTextSingleChunk(t *testing.T) {
	spans := Split("  Hello world.  ", DefaultConfig())
	if len(spans) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(spans))
	}
	if spans[0].Text != "Hello world." {
		t.Errorf("expected trimmed text, got %q", spans[0].Text)
	}
	if spans[0].Start != 0 {
		t.Errorf("expected start 0, got %d", spans[0].Start)
	}
}

func TestSplit_EmptyAndBlank(t *testing.T) {
	if spans := Split("", DefaultConfig()); len(spans) != 0 {
		t.Errorf("expected 0 chunks for empty text, got %d", len(spans))
	}
	if spans := Split(strings.Repeat(" \n", 800), DefaultConfig()); len(spans) != 0 {
		t.Errorf("expected 0 chunks for blank text, got %d", len(spans))
	}
}

func TestSplit_SnapsToParagraphBreak(t *testing.T) {
	text := strings.Repeat("x", 700) + "\n\n" + strings.Repeat("y", 700)
	spans := Split(text, Config{ChunkSize: 1000, ChunkOverlap: 200})

	if len(spans) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(spans))
	}
	if spans[0].Text != strings.Repeat("x", 700) {
		t.Errorf("first chunk should end at the paragraph break, got %d chars", len(spans[0].Text))
	}
	// Next window starts overlap characters before the snapped end (702).
	if spans[1].Start != 502 {
		t.Errorf("expected second start 502, got %d", spans[1].Start)
	}
	if spans[2].Text != strings.Repeat("y", 100) {
		t.Errorf("unexpected tail chunk %q", spans[2].Text)
	}
}

func TestSplit_IgnoresEarlyParagraphBreak(t *testing.T) {
	// Break in the first half of the window is not used.
	text := strings.Repeat("x", 100) + "\n\n" + strings.Repeat("y", 1400)
	spans := Split(text, Config{ChunkSize: 1000, ChunkOverlap: 0})
	if spans[1].Start != 1000 {
		t.Errorf("expected hard cut at 1000, got second start %d", spans[1].Start)
	}
}

func TestSplit_SnapsToSentenceBreak(t *testing.T) {
	sentence := strings.Repeat("w", 99) + ". " // 101 runes
	text := strings.Repeat(sentence, 15)
	spans := Split(text, Config{ChunkSize: 1000, ChunkOverlap: 0})

	if len(spans) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(spans))
	}
	if !strings.HasSuffix(spans[0].Text, ".") {
		t.Errorf("first chunk should end on a sentence, got suffix %q", spans[0].Text[len(spans[0].Text)-5:])
	}
	// Last ". " fully inside [0,1000) starts at 907, so the window ends at 909.
	if spans[1].Start != 909 {
		t.Errorf("expected second start 909, got %d", spans[1].Start)
	}
}

func TestSplit_QuestionAndExclamation(t *testing.T) {
	text := strings.Repeat("q", 600) + "? " + strings.Repeat("r", 600)
	spans := Split(text, Config{ChunkSize: 1000, ChunkOverlap: 0})
	if spans[0].Text != strings.Repeat("q", 600)+"?" {
		t.Errorf("expected cut after question mark, got %d chars", len(spans[0].Text))
	}

	text = strings.Repeat("e", 600) + "! " + strings.Repeat("f", 600)
	spans = Split(text, Config{ChunkSize: 1000, ChunkOverlap: 0})
	if spans[0].Text != strings.Repeat("e", 600)+"!" {
		t.Errorf("expected cut after exclamation mark, got %d chars", len(spans[0].Text))
	}
}

func TestSplit_RuneOffsets(t *testing.T) {
	text := strings.Repeat("é", 1500)
	spans := Split(text, Config{ChunkSize: 1000, ChunkOverlap: 100})
	if len(spans) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(spans))
	}
	if spans[1].Start != 900 {
		t.Errorf("expected rune offset 900, got %d", spans[1].Start)
	}
	if n := len([]rune(spans[0].Text)); n != 1000 {
		t.Errorf("expected 1000 runes, got %d", n)
	}
}

func TestSplit_InvalidOverlapStillTerminates(t *testing.T) {
	spans := Split(strings.Repeat("z", 50), Config{ChunkSize: 10, ChunkOverlap: 10})
	if len(spans) != 5 {
		t.Errorf("expected 5 chunks, got %d", len(spans))
	}
}

func TestSplit_StepBoundWithoutSnapping(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 5))
	for trial := range 200 {
		var sb strings.Builder
		length := 1 + rng.IntN(5000)
		for range length {
			sb.WriteByte("ab"[rng.IntN(2)])
		}
		text := sb.String()
		size := 10 + rng.IntN(400)
		overlap := rng.IntN(size)

		spans := Split(text, Config{ChunkSize: size, ChunkOverlap: overlap})

		step := size - overlap
		bound := (length + step - 1) / step
		if len(spans) > bound {
			t.Fatalf("trial %d: %d chunks exceeds ceil(%d/%d)=%d", trial, len(spans), length, step, bound)
		}
		for i := 1; i < len(spans); i++ {
			prev := spans[i-1].Text
			if len(spans[i].Text) >= overlap && !strings.HasPrefix(spans[i].Text, prev[len(prev)-overlap:]) {
				t.Fatalf("trial %d: chunk %d does not share %d chars with chunk %d", trial, i, overlap, i-1)
			}
		}
	}
}

func TestSplit_Properties(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	alphabet := []string{"a", "b", " ", ". ", "\n\n", "? ", "word ", ".\n"}

	for trial := range 200 {
		var sb strings.Builder
		length := rng.IntN(5000)
		for sb.Len() < length {
			sb.WriteString(alphabet[rng.IntN(len(alphabet))])
		}
		text := sb.String()
		size := 50 + rng.IntN(400)
		overlap := rng.IntN(size)

		spans := Split(text, Config{ChunkSize: size, ChunkOverlap: overlap})

		n := len([]rune(text))
		if len(spans) > n {
			t.Fatalf("trial %d: %d chunks for %d runes", trial, len(spans), n)
		}
		for i := 1; i < len(spans); i++ {
			if spans[i].Start <= spans[i-1].Start {
				t.Fatalf("trial %d: offsets not increasing at %d: %d <= %d",
					trial, i, spans[i].Start, spans[i-1].Start)
			}
		}
		for i, s := range spans {
			if strings.TrimSpace(s.Text) == "" {
				t.Fatalf("trial %d: chunk %d is blank", trial, i)
			}
			if len([]rune(s.Text)) > size {
				t.Fatalf("trial %d: chunk %d longer than window", trial, i)
			}
		}
	}
}
