package journal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"thesis-backend/internal/extract"
	"thesis-backend/internal/retrieval"
	"thesis-backend/internal/shared/storage/object"
	"thesis-backend/internal/shared/telemetry"
	"thesis-backend/internal/shared/util"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNoIndex      = errors.New("journal index not configured")
)

// ChunkSink indexes journal paragraphs for retrieval.
type ChunkSink interface {
	InsertChunks(ctx context.Context, chunks []retrieval.Chunk) (int, error)
}

var (
	_ ChunkSink = (*retrieval.JournalRetriever)(nil)
	_ ChunkSink = (*retrieval.PGRetriever)(nil)
)

// Service stores uploaded journal files and indexes their paragraphs.
type Service struct {
	Store object.ObjectStore
	Sink  ChunkSink
	now   func() time.Time
}

// Entry describes one indexed upload.
type Entry struct {
	ID         string    `json:"entryId"`
	FileName   string    `json:"fileName"`
	StorageKey string    `json:"storageKey"`
	SizeBytes  int64     `json:"sizeBytes"`
	Chunks     int       `json:"chunks"`
	UploadedBy string    `json:"uploadedBy,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Upload keeps the original file under journal/ and indexes its paragraphs.
func (s *Service) Upload(ctx context.Context, reviewerID, fileName string, r io.Reader) (Entry, error) {
	if s.Sink == nil {
		return Entry{}, ErrNoIndex
	}
	name, err := util.SafeSegment(path.Base(strings.ReplaceAll(fileName, "\\", "/")))
	if err != nil {
		return Entry{}, fmt.Errorf("%w: file name", ErrInvalidInput)
	}
	if !extract.Supported(name) {
		return Entry{}, fmt.Errorf("%w: %s", extract.ErrUnsupported, path.Ext(name))
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return Entry{}, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return Entry{}, fmt.Errorf("%w: empty file", ErrInvalidInput)
	}
	text, err := extract.Text(ctx, data, name)
	if err != nil {
		return Entry{}, err
	}
	paragraphs := retrieval.SplitParagraphs(text)
	if len(paragraphs) == 0 {
		return Entry{}, fmt.Errorf("%w: no text found", ErrInvalidInput)
	}

	entry := Entry{
		ID:         uuid.NewString(),
		FileName:   name,
		UploadedBy: reviewerID,
		CreatedAt:  s.clock(),
	}
	entry.StorageKey = path.Join("journal", entry.ID, name)
	if s.Store != nil {
		size, err := s.Store.Put(ctx, entry.StorageKey, contentType(name), bytes.NewReader(data))
		if err != nil {
			return Entry{}, fmt.Errorf("store journal file: %w", err)
		}
		entry.SizeBytes = size
	}

	chunks := make([]retrieval.Chunk, 0, len(paragraphs))
	for _, p := range paragraphs {
		chunks = append(chunks, retrieval.Chunk{Source: name, Text: p})
	}
	n, err := s.Sink.InsertChunks(ctx, chunks)
	if err != nil {
		return Entry{}, fmt.Errorf("index journal file: %w", err)
	}
	entry.Chunks = n

	telemetry.Info("journal.uploaded", map[string]any{
		"entry_id":    entry.ID,
		"file_name":   name,
		"size_bytes":  entry.SizeBytes,
		"chunks":      n,
		"reviewer_id": reviewerID,
		"request_id":  telemetry.RequestIDFromContext(ctx),
	})
	return entry, nil
}

func contentType(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".pdf":
		return "application/pdf"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case ".md", ".markdown":
		return "text/markdown; charset=utf-8"
	default:
		return "text/plain; charset=utf-8"
	}
}

func (s *Service) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now().UTC()
}
