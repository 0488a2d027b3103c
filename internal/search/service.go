package search

import (
	"context"

	"github.com/rs/zerolog/log"
)

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	primary  Searcher
	indexer  Indexer
	fallback Searcher
	loader   recordLoader
}

type recordLoader interface {
	LoadAllRecords(ctx context.Context) ([]CommentRecord, error)
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	s := &Service{}
	if meili != nil {
		s.primary = meili
		s.indexer = meili
	}
	if pgfts != nil {
		s.fallback = pgfts
		s.loader = pgfts
	}
	return s
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.primary != nil && s.primary.Healthy() {
		results, total, err := s.primary.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Warn().Err(err).Msg("search: meilisearch error, falling back to pgfts")
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}
	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		log.Error().Err(err).Msg("search: pgfts error")
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexComment indexes a comment (fire-and-forget to Meilisearch).
func (s *Service) IndexComment(record CommentRecord) {
	if s.indexer == nil || !s.indexer.Healthy() {
		return
	}
	go func() {
		if err := s.indexer.IndexComments([]CommentRecord{record}); err != nil {
			log.Warn().Err(err).Int64("comment_id", record.ID).Msg("search: index comment")
		}
	}()
}

// ReindexAllFromPG pushes every stored comment to Meilisearch. Called at
// startup so the index catches up with writes made while it was down.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.indexer == nil || !s.indexer.Healthy() || s.loader == nil {
		return
	}
	records, err := s.loader.LoadAllRecords(ctx)
	if err != nil {
		log.Error().Err(err).Msg("search: reindex load failed")
		return
	}
	if len(records) == 0 {
		return
	}
	if err := s.indexer.IndexComments(records); err != nil {
		log.Error().Err(err).Int("count", len(records)).Msg("search: reindex comments")
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
