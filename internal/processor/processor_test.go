package processor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgallion1/docindex/internal/chunker"
	"github.com/dgallion1/docindex/internal/docmeta"
	"github.com/dgallion1/docindex/internal/parser"
)

func writeFiles(t *testing.T, n int) []string {
	t.Helper()
	dir := t.TempDir()
	files := make([]string, n)
	for i := range n {
		files[i] = filepath.Join(dir, fmt.Sprintf("doc-%02d.txt", i))
		body := fmt.Sprintf("Document %d.\n\n%s", i, strings.Repeat("lorem ipsum ", 50))
		require.NoError(t, os.WriteFile(files[i], []byte(body), 0o644))
	}
	return files
}

func sourcePaths(docs []ProcessedDocument) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.SourcePath
	}
	slices.Sort(out)
	return out
}

func TestProcessFile_Text(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.txt")
	body := "Flight manifest for 03/15/2004.\n\n" + strings.Repeat("Passenger list continues. ", 80)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	doc := ProcessFile(path, 500, 100)
	require.False(t, doc.Failed(), doc.Err)

	assert.Equal(t, "manifest.txt", doc.Filename)
	assert.Equal(t, docmeta.TypeFlightLog, doc.DocumentType)
	assert.Equal(t, 1, doc.PageCount)
	require.Greater(t, len(doc.Chunks), 1)

	first := doc.Chunks[0]
	assert.Equal(t, docmeta.DocumentID(path), first.DocumentID)
	assert.Equal(t, first.DocumentID+"_0", first.ID())
	assert.Equal(t, "03/15/2004", first.Metadata.DateReference)
	assert.Equal(t, 1, first.Metadata.Page)
	assert.Equal(t, path, first.Metadata.SourcePath)

	for i := 1; i < len(doc.Chunks); i++ {
		assert.Equal(t, i, doc.Chunks[i].ChunkIndex)
		assert.Greater(t, doc.Chunks[i].Metadata.CharOffset, doc.Chunks[i-1].Metadata.CharOffset)
	}
}

func TestProcessFile_Failures(t *testing.T) {
	dir := t.TempDir()
	unsupported := filepath.Join(dir, "image.bmp")
	require.NoError(t, os.WriteFile(unsupported, []byte{0x42, 0x4d}, 0o644))

	for _, path := range []string{unsupported, filepath.Join(dir, "missing.txt")} {
		doc := ProcessFile(path, 1000, 200)
		assert.True(t, doc.Failed(), path)
		assert.Empty(t, doc.Chunks)
		assert.Equal(t, docmeta.TypeUnknown, doc.DocumentType)
		assert.Equal(t, filepath.Base(path), doc.Filename)
	}
}

func TestProcessFile_VeryLongLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ocr.txt")
	require.NoError(t, os.WriteFile(path, []byte(strings.Repeat("word ", 1_100_000)), 0o644))

	doc := ProcessFile(path, 1000, 200)
	require.False(t, doc.Failed(), doc.Err)
	assert.NotEmpty(t, doc.Chunks)
	assert.Greater(t, doc.TotalChars, 5_000_000)
}

// stubParse replaces the parser for the duration of the test.
func stubParse(t *testing.T, fn func(string, parser.Options) (*parser.Document, error)) {
	t.Helper()
	orig := parseFile
	parseFile = fn
	t.Cleanup(func() { parseFile = orig })
}

func TestProcessFile_RecoversParserPanic(t *testing.T) {
	stubParse(t, func(string, parser.Options) (*parser.Document, error) { panic("boom") })

	doc := ProcessFile("/data/crash.txt", 1000, 200)
	require.True(t, doc.Failed())
	assert.Equal(t, "panic: boom", doc.Err)
	assert.Equal(t, "crash.txt", doc.Filename)
	assert.Empty(t, doc.Chunks)
}

func TestProcessBatchParallel_PanicFailsOnlyThatFile(t *testing.T) {
	files := writeFiles(t, 4)
	stubParse(t, func(path string, opts parser.Options) (*parser.Document, error) {
		if path == files[2] {
			panic("boom")
		}
		return parser.ParseFile(path, opts)
	})

	p, err := New(context.Background(), WithWorkers(2))
	require.NoError(t, err)
	var docs []ProcessedDocument
	for doc := range p.ProcessBatchParallel(context.Background(), files) {
		docs = append(docs, doc)
	}

	assert.Len(t, docs, 4)
	assert.Len(t, p.Ledger().Completed(), 3)
	failed := p.Ledger().Failed()
	require.Contains(t, failed, files[2])
	assert.Contains(t, failed[files[2]], "panic: boom")
}

func TestProcessBatch_FileTimeout(t *testing.T) {
	files := writeFiles(t, 2)
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	stubParse(t, func(path string, opts parser.Options) (*parser.Document, error) {
		if path == files[0] {
			started <- struct{}{}
			<-release
		}
		return parser.ParseFile(path, opts)
	})
	// Registered after stubParse so it runs first and frees the stuck parse.
	t.Cleanup(func() { close(release) })

	cp := NewJSONCheckpoint(filepath.Join(t.TempDir(), "ledger.json"))
	p, err := New(context.Background(), WithFileTimeout(20*time.Millisecond), WithCheckpoint(cp))
	require.NoError(t, err)

	var docs []ProcessedDocument
	for doc := range p.ProcessBatch(context.Background(), files) {
		docs = append(docs, doc)
	}
	<-started

	require.Len(t, docs, 2)
	assert.Contains(t, docs[0].Err, ErrFileTimeout.Error())
	assert.Equal(t, 20*time.Millisecond, docs[0].Duration)
	assert.False(t, docs[1].Failed(), docs[1].Err)

	l, err := cp.Load(context.Background())
	require.NoError(t, err)
	require.Contains(t, l.Failed(), files[0])
	assert.Contains(t, l.Failed()[files[0]], ErrFileTimeout.Error())
	assert.Equal(t, []string{files[1]}, l.Completed())
}

func TestBuildChunks_PageEstimate(t *testing.T) {
	text := strings.Repeat("a", 3000)
	chunks := buildChunks(text, "/x/report.pdf", 3, docmeta.TypeOther, chunkerConfig(1000, 0))
	require.Len(t, chunks, 3)
	for i, c := range chunks {
		assert.Equal(t, i+1, c.Metadata.Page)
		assert.Equal(t, 3, c.Metadata.TotalPages)
	}
	_, hasDate := chunks[0].Metadata.Map()["date_reference"]
	assert.False(t, hasDate)
}

func TestProcessBatch_ResultCountIncludesFailures(t *testing.T) {
	files := writeFiles(t, 5)
	files = append(files, filepath.Join(t.TempDir(), "gone.txt"))

	for _, parallel := range []bool{false, true} {
		p, err := New(context.Background(), WithWorkers(3), WithBatchSize(2))
		require.NoError(t, err)

		seq := p.ProcessBatch(context.Background(), files)
		if parallel {
			seq = p.ProcessBatchParallel(context.Background(), files)
		}
		var docs []ProcessedDocument
		for doc := range seq {
			docs = append(docs, doc)
		}

		assert.Len(t, docs, len(files), "parallel=%v", parallel)
		assert.Len(t, p.Ledger().Failed(), 1)
		assert.Len(t, p.Ledger().Completed(), 5)
		assert.Equal(t, len(files), p.Timings().Files)
	}
}

func TestProcessBatch_ProgressCallbacks(t *testing.T) {
	files := writeFiles(t, 4)
	var mu sync.Mutex
	type call struct {
		done, total int
		name, phase string
	}
	var calls []call

	p, err := New(context.Background(), WithWorkers(2), WithProgress(func(done, total int, name, phase string) {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, call{done, total, name, phase})
	}))
	require.NoError(t, err)

	for range p.ProcessBatchParallel(context.Background(), files) {
	}

	require.Len(t, calls, 5)
	for i, c := range calls[:4] {
		assert.Equal(t, i+1, c.done)
		assert.Equal(t, 4, c.total)
		assert.Equal(t, PhaseProcessing, c.phase)
		assert.True(t, strings.HasPrefix(c.name, "doc-"))
	}
	assert.Equal(t, call{4, 4, "", PhaseCompleted}, calls[4])
}

func TestProcessBatch_ResumeCoversAllFiles(t *testing.T) {
	files := writeFiles(t, 10)
	statePath := filepath.Join(t.TempDir(), "ledger.json")

	runUntil := func(stopAfter int) []ProcessedDocument {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		p, err := New(ctx, WithWorkers(2), WithBatchSize(4), WithCheckpoint(NewJSONCheckpoint(statePath)))
		require.NoError(t, err)

		var docs []ProcessedDocument
		for doc := range p.ProcessBatchParallel(ctx, files) {
			docs = append(docs, doc)
			if len(docs) == stopAfter {
				cancel()
			}
		}
		return docs
	}

	first := runUntil(3)
	second := runUntil(-1)

	assert.GreaterOrEqual(t, len(first), 3)
	secondPaths := sourcePaths(second)
	for _, path := range sourcePaths(first) {
		assert.NotContains(t, secondPaths, path, "second run reprocessed a completed file")
	}
	assert.Len(t, first, len(files)-len(second))

	l, err := NewJSONCheckpoint(statePath).Load(context.Background())
	require.NoError(t, err)
	want := slices.Clone(files)
	slices.Sort(want)
	assert.Equal(t, want, l.Completed())
}

func TestProcessBatchParallel_CancellationBound(t *testing.T) {
	files := writeFiles(t, 20)
	const workers = 3

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p, err := New(ctx, WithWorkers(workers), WithBatchSize(20))
	require.NoError(t, err)

	const cancelAt = 5
	n := 0
	for range p.ProcessBatchParallel(ctx, files) {
		n++
		if n == cancelAt {
			cancel()
		}
	}
	assert.GreaterOrEqual(t, n, cancelAt)
	assert.LessOrEqual(t, n, cancelAt+workers)
}

func TestProcessBatchParallel_ConsumerBreak(t *testing.T) {
	files := writeFiles(t, 12)
	var phases []string
	p, err := New(context.Background(), WithWorkers(2), WithProgress(func(_, _ int, _, phase string) {
		phases = append(phases, phase)
	}))
	require.NoError(t, err)

	for range p.ProcessBatchParallel(context.Background(), files) {
		break
	}
	assert.LessOrEqual(t, p.Ledger().Len(), 2)
	assert.NotContains(t, phases, PhaseCompleted)
}

type rejectingPool struct {
	accept int
	n      int
}

func (r *rejectingPool) Submit(task func()) error {
	if r.n >= r.accept {
		return errors.New("pool overloaded")
	}
	r.n++
	go task()
	return nil
}

func (r *rejectingPool) Release() {}

func TestProcessBatchParallel_FallsBackToSequential(t *testing.T) {
	files := writeFiles(t, 7)

	cases := map[string]poolFactory{
		"construction fails": func(int) (workerPool, error) { return nil, errors.New("no threads") },
		"submit fails":       func(int) (workerPool, error) { return &rejectingPool{accept: 2}, nil },
	}
	for name, factory := range cases {
		t.Run(name, func(t *testing.T) {
			cpPath := filepath.Join(t.TempDir(), "ledger.json")
			p, err := New(context.Background(), WithWorkers(4), WithBatchSize(5),
				WithCheckpoint(NewJSONCheckpoint(cpPath)), withPoolFactory(factory))
			require.NoError(t, err)

			var docs []ProcessedDocument
			for doc := range p.ProcessBatchParallel(context.Background(), files) {
				docs = append(docs, doc)
			}

			want := slices.Clone(files)
			slices.Sort(want)
			assert.Equal(t, want, sourcePaths(docs))

			l, err := NewJSONCheckpoint(cpPath).Load(context.Background())
			require.NoError(t, err)
			assert.Equal(t, want, l.Completed())
		})
	}
}

func TestProcessBatch_SkipsCompletedFromLedger(t *testing.T) {
	files := writeFiles(t, 3)
	ctx := context.Background()
	cp := NewJSONCheckpoint(filepath.Join(t.TempDir(), "ledger.json"))

	l := NewLedger()
	require.NoError(t, cp.Save(ctx, l, l.RecordResult(ProcessedDocument{SourcePath: files[1]})))

	var dones []int
	p, err := New(ctx, WithCheckpoint(cp), WithProgress(func(done, _ int, _, phase string) {
		if phase == PhaseProcessing {
			dones = append(dones, done)
		}
	}))
	require.NoError(t, err)
	assert.Equal(t, []string{files[0], files[2]}, p.Pending(files))

	var got []string
	for doc := range p.ProcessBatch(ctx, files) {
		got = append(got, doc.SourcePath)
	}
	assert.Equal(t, []string{files[0], files[2]}, got)
	assert.Equal(t, []int{2, 3}, dones)
}

func chunkerConfig(size, overlap int) chunker.Config {
	return chunker.Config{ChunkSize: size, ChunkOverlap: overlap}
}
