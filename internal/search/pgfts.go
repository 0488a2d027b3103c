package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true: if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search matches approval_comments.search_vector with plainto_tsquery and
// ranks by ts_rank, using ts_headline for snippets.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	where := "c.search_vector @@ plainto_tsquery('english', $1) AND ($2::bigint = 0 OR c.approval_id = $2::bigint)"
	args := []any{q.Text, q.ApprovalID}

	var total int
	countSQL := `SELECT count(*) FROM approval_comments c WHERE ` + where
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	dataSQL := fmt.Sprintf(`
		SELECT c.id, c.approval_id, a.document_id, c.user_id,
			ts_headline('english', c.text, plainto_tsquery('english', $1), 'MaxFragments=1,MaxWords=30,StartSel=<mark>,StopSel=</mark>'),
			c.created_at
		FROM approval_comments c
		JOIN approvals a ON a.id = c.approval_id
		WHERE %s
		ORDER BY ts_rank(c.search_vector, plainto_tsquery('english', $1)) DESC, c.created_at DESC
		LIMIT %d OFFSET %d`, where, q.limit(), q.offset())

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.CommentID, &r.ApprovalID, &r.DocumentID, &r.UserID, &r.Snippet, &r.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords returns all comments for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]CommentRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT c.id, c.approval_id, a.document_id, c.user_id, c.text, EXTRACT(EPOCH FROM c.created_at)::bigint
		FROM approval_comments c
		JOIN approvals a ON a.id = c.approval_id
		ORDER BY c.id
	`)
	if err != nil {
		return nil, fmt.Errorf("load comments: %w", err)
	}
	defer rows.Close()

	records := make([]CommentRecord, 0)
	for rows.Next() {
		var r CommentRecord
		if err := rows.Scan(&r.ID, &r.ApprovalID, &r.DocumentID, &r.UserID, &r.Text, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}
	return records, nil
}
