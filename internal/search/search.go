package search

import (
	"context"
	"time"
)

// Result is a single comment hit returned to the caller.
type Result struct {
	CommentID  int64     `json:"commentId"`
	ApprovalID int64     `json:"approvalId"`
	DocumentID int64     `json:"documentId"`
	UserID     int64     `json:"userId"`
	Snippet    string    `json:"snippet"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Query describes a search request.
type Query struct {
	Text       string
	ApprovalID int64 // zero = all approvals
	Limit      int
	Offset     int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push comments into a search index.
type Indexer interface {
	IndexComments(records []CommentRecord) error
	Healthy() bool
}

// CommentRecord is the data we index for a comment.
type CommentRecord struct {
	ID         int64  `json:"id"`
	ApprovalID int64  `json:"approvalId"`
	DocumentID int64  `json:"documentId"`
	UserID     int64  `json:"userId"`
	Text       string `json:"text"`
	CreatedAt  int64  `json:"createdAt"`
}

func (q Query) limit() int {
	if q.Limit <= 0 {
		return 20
	}
	if q.Limit > 100 {
		return 100
	}
	return q.Limit
}

func (q Query) offset() int {
	if q.Offset < 0 {
		return 0
	}
	return q.Offset
}
