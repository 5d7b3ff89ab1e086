package retrieval

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"thesis-backend/internal/orchestrator"
	"thesis-backend/internal/shared/telemetry"
	"thesis-backend/internal/thesis"
)

// PGRetriever ranks journal_chunks rows with Postgres full-text search.
type PGRetriever struct {
	DB     *sql.DB
	K      int
	Config string
}

// NewPGRetriever constructs a PGRetriever using the french text search configuration.
func NewPGRetriever(db *sql.DB, k int) *PGRetriever {
	if k <= 0 {
		k = DefaultK
	}
	return &PGRetriever{DB: db, K: k, Config: "french"}
}

// Retrieve matches any keyword against the chunk index and returns the top K.
func (r *PGRetriever) Retrieve(ctx context.Context, keywords []string) ([]thesis.Excerpt, error) {
	terms := cleanKeywords(keywords)
	if len(terms) == 0 {
		return nil, nil
	}
	const query = `
SELECT source, content, ts_rank(content_tsv, q) AS rank
FROM journal_chunks, websearch_to_tsquery($1::regconfig, $2) AS q
WHERE content_tsv @@ q
ORDER BY rank DESC, id ASC
LIMIT $3`
	rows, err := r.DB.QueryContext(ctx, query, r.Config, strings.Join(terms, " or "), r.K)
	if err != nil {
		return nil, fmt.Errorf("query journal chunks: %w", err)
	}
	defer rows.Close()

	var out []thesis.Excerpt
	for rows.Next() {
		var ex thesis.Excerpt
		if err := rows.Scan(&ex.Source, &ex.Text, &ex.Score); err != nil {
			return nil, err
		}
		out = append(out, ex)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	telemetry.Info("retrieval.search", map[string]any{
		"backend": "postgres",
		"query":   BuildQuery(terms),
		"hits":    len(out),
	})
	return out, nil
}

// InsertChunks stores journal paragraphs for later ranking.
func (r *PGRetriever) InsertChunks(ctx context.Context, chunks []Chunk) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	const insert = `INSERT INTO journal_chunks (source, content) VALUES ($1, $2)`
	n := 0
	for _, c := range chunks {
		if strings.TrimSpace(c.Text) == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, insert, c.Source, c.Text); err != nil {
			return 0, fmt.Errorf("insert journal chunk: %w", err)
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}

var _ orchestrator.Retriever = (*PGRetriever)(nil)
