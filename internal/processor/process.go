package processor

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dgallion1/docindex/internal/chunker"
	"github.com/dgallion1/docindex/internal/docmeta"
	"github.com/dgallion1/docindex/internal/parser"
)

var defaultParserOptions = parser.Options{PDFFallbackPdftotext: true}

// parseFile is swapped in tests to simulate stuck or crashing parsers.
var parseFile = parser.ParseFile

// ProcessFile extracts, classifies and chunks one file. It holds no state
// and never panics; failures are reported through ProcessedDocument.Err.
func ProcessFile(path string, chunkSize, overlap int) ProcessedDocument {
	return processFile(path, chunker.Config{ChunkSize: chunkSize, ChunkOverlap: overlap}, defaultParserOptions)
}

func processFile(path string, cfg chunker.Config, opts parser.Options) (doc ProcessedDocument) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			doc = failedDocument(path, fmt.Errorf("panic: %v", r))
		}
		doc.Duration = time.Since(start)
	}()

	parsed, err := parseFile(path, opts)
	if err != nil {
		return failedDocument(path, err)
	}

	filename := filepath.Base(path)
	text := strings.ToValidUTF8(parsed.Text(), "\uFFFD")
	pages := parsed.PageCount()
	docType := docmeta.Classify(filename, text)

	return ProcessedDocument{
		SourcePath:   path,
		Filename:     filename,
		Chunks:       buildChunks(text, path, pages, docType, cfg),
		PageCount:    pages,
		TotalChars:   utf8.RuneCountInString(text),
		DocumentType: docType,
	}
}

// buildChunks splits text and attaches positional metadata. Pages are
// estimated by assuming characters are spread evenly across pages.
func buildChunks(text, path string, pages int, docType string, cfg chunker.Config) []DocumentChunk {
	spans := chunker.Split(text, cfg)
	if len(spans) == 0 {
		return nil
	}

	pages = max(pages, 1)
	charsPerPage := max(utf8.RuneCountInString(text)/pages, 1)
	docID := docmeta.DocumentID(path)
	filename := filepath.Base(path)

	chunks := make([]DocumentChunk, 0, len(spans))
	for i, span := range spans {
		meta := ChunkMetadata{
			Source:       filename,
			SourcePath:   path,
			Page:         min(span.Start/charsPerPage+1, pages),
			TotalPages:   pages,
			ChunkIndex:   i,
			DocumentType: docType,
			CharOffset:   span.Start,
		}
		if date, ok := docmeta.ExtractDate(span.Text); ok {
			meta.DateReference = date
		}
		chunks = append(chunks, DocumentChunk{
			Text:       span.Text,
			Metadata:   meta,
			ChunkIndex: i,
			DocumentID: docID,
		})
	}
	return chunks
}

func failedDocument(path string, err error) ProcessedDocument {
	return ProcessedDocument{
		SourcePath:   path,
		Filename:     filepath.Base(path),
		DocumentType: docmeta.TypeUnknown,
		Err:          err.Error(),
	}
}
