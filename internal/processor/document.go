package processor

import (
	"time"

	"github.com/dgallion1/docindex/internal/docmeta"
)

// ChunkMetadata is attached to every chunk and forwarded to the vector
// index unchanged.
type ChunkMetadata struct {
	Source        string `json:"source"`
	SourcePath    string `json:"source_path"`
	Page          int    `json:"page"`
	TotalPages    int    `json:"total_pages"`
	ChunkIndex    int    `json:"chunk_index"`
	DocumentType  string `json:"document_type"`
	CharOffset    int    `json:"char_offset"`
	DateReference string `json:"date_reference,omitempty"`
}

// Map flattens the metadata into scalar key/value pairs.
func (m ChunkMetadata) Map() map[string]any {
	out := map[string]any{
		"source":        m.Source,
		"source_path":   m.SourcePath,
		"page":          m.Page,
		"total_pages":   m.TotalPages,
		"chunk_index":   m.ChunkIndex,
		"document_type": m.DocumentType,
		"char_offset":   m.CharOffset,
	}
	if m.DateReference != "" {
		out["date_reference"] = m.DateReference
	}
	return out
}

// DocumentChunk is one immutable span of a document's text.
type DocumentChunk struct {
	Text       string        `json:"text"`
	Metadata   ChunkMetadata `json:"metadata"`
	ChunkIndex int           `json:"chunk_index"`
	DocumentID string        `json:"document_id"`
}

// ID is the chunk's key in the vector index.
func (c DocumentChunk) ID() string {
	return docmeta.ChunkID(c.DocumentID, c.ChunkIndex)
}

// ProcessedDocument is the outcome of processing one file. When Err is
// set, Chunks is empty and DocumentType is docmeta.TypeUnknown.
type ProcessedDocument struct {
	SourcePath   string          `json:"source_path"`
	Filename     string          `json:"filename"`
	Chunks       []DocumentChunk `json:"chunks"`
	PageCount    int             `json:"page_count"`
	TotalChars   int             `json:"total_chars"`
	DocumentType string          `json:"document_type"`
	Err          string          `json:"error,omitempty"`
	Duration     time.Duration   `json:"duration"`
}

// Failed reports whether extraction failed.
func (d ProcessedDocument) Failed() bool {
	return d.Err != ""
}
