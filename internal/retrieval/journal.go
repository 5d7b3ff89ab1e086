package retrieval

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"unicode"

	"thesis-backend/internal/extract"
	"thesis-backend/internal/orchestrator"
	"thesis-backend/internal/shared/telemetry"
	"thesis-backend/internal/thesis"
)

// Chunk is one paragraph of a journal file.
type Chunk struct {
	Source string
	Text   string
	terms  map[string]int
}

// JournalRetriever ranks in-memory journal chunks by keyword overlap.
type JournalRetriever struct {
	mu     sync.RWMutex
	chunks []Chunk
	k      int
}

// NewJournalRetriever builds a retriever over pre-split chunks.
func NewJournalRetriever(chunks []Chunk, k int) *JournalRetriever {
	if k <= 0 {
		k = DefaultK
	}
	return &JournalRetriever{chunks: index(chunks), k: k}
}

func index(chunks []Chunk) []Chunk {
	indexed := make([]Chunk, 0, len(chunks))
	for _, c := range chunks {
		if strings.TrimSpace(c.Text) == "" {
			continue
		}
		c.terms = termCounts(c.Text)
		indexed = append(indexed, c)
	}
	return indexed
}

// InsertChunks adds chunks to the in-memory index and reports how many were kept.
func (r *JournalRetriever) InsertChunks(ctx context.Context, chunks []Chunk) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	indexed := index(chunks)
	r.mu.Lock()
	r.chunks = append(r.chunks, indexed...)
	r.mu.Unlock()
	return len(indexed), nil
}

// Chunks returns a copy of the indexed chunks, for loading into another backend.
func (r *JournalRetriever) Chunks() []Chunk {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Chunk, len(r.chunks))
	for i, c := range r.chunks {
		out[i] = Chunk{Source: c.Source, Text: c.Text}
	}
	return out
}

// LoadJournalDir reads every journal file under dir (.txt, .md, .pdf, .docx)
// and splits it into paragraphs.
func LoadJournalDir(dir string, k int) (*JournalRetriever, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("journal dir is empty")
	}
	var chunks []Chunk
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !extract.Supported(path) {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		text, err := extract.Text(context.Background(), data, path)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			rel = filepath.Base(path)
		}
		for _, p := range SplitParagraphs(text) {
			chunks = append(chunks, Chunk{Source: filepath.ToSlash(rel), Text: p})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load journal: %w", err)
	}
	telemetry.Info("retrieval.journal_loaded", map[string]any{
		"dir":    dir,
		"chunks": len(chunks),
	})
	return NewJournalRetriever(chunks, k), nil
}

// SplitParagraphs splits text on blank lines and drops empty paragraphs.
func SplitParagraphs(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var out []string
	var cur []string
	flush := func() {
		if p := strings.TrimSpace(strings.Join(cur, "\n")); p != "" {
			out = append(out, p)
		}
		cur = cur[:0]
	}
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		cur = append(cur, line)
	}
	flush()
	return out
}

// Retrieve returns up to k chunks sharing the most terms with the keywords.
// Chunks with no overlap are never returned.
func (r *JournalRetriever) Retrieve(ctx context.Context, keywords []string) ([]thesis.Excerpt, error) {
	terms := cleanKeywords(keywords)
	if len(terms) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	query := make(map[string]struct{})
	for _, k := range terms {
		for t := range termCounts(k) {
			query[t] = struct{}{}
		}
	}

	type scored struct {
		idx   int
		score float64
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var hits []scored
	for i, c := range r.chunks {
		var score float64
		for t := range query {
			if n, ok := c.terms[t]; ok {
				score += 1 + float64(n-1)*0.25
			}
		}
		if score > 0 {
			hits = append(hits, scored{idx: i, score: score})
		}
	}
	sort.SliceStable(hits, func(a, b int) bool { return hits[a].score > hits[b].score })
	if len(hits) > r.k {
		hits = hits[:r.k]
	}

	out := make([]thesis.Excerpt, 0, len(hits))
	for _, h := range hits {
		c := r.chunks[h.idx]
		out = append(out, thesis.Excerpt{Source: c.Source, Text: c.Text, Score: h.score})
	}
	telemetry.Info("retrieval.search", map[string]any{
		"backend": "journal",
		"query":   BuildQuery(terms),
		"hits":    len(out),
	})
	return out, nil
}

// termCounts lowercases and tokenizes text, skipping very short words.
func termCounts(text string) map[string]int {
	counts := make(map[string]int)
	for _, f := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len([]rune(f)) < 3 {
			continue
		}
		counts[f]++
	}
	return counts
}

var _ orchestrator.Retriever = (*JournalRetriever)(nil)
