package search

import (
	"context"
	"log"
	"strconv"

	"quorum/api/internal/store"
)

// Service is the facade that tries Meilisearch first and falls back to the
// Postgres scan.
type Service struct {
	meili *Meili
	pg    *PgSearch
}

// NewService creates a search service. meili may be nil if Meilisearch is
// not configured.
func NewService(meili *Meili, pg *PgSearch) *Service {
	return &Service{meili: meili, pg: pg}
}

// Search tries Meilisearch if healthy, otherwise falls back to Postgres.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to postgres: %v", err)
	}

	results, total, err := s.pg.Search(q)
	if err != nil {
		log.Printf("search: postgres error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexComment indexes a comment after its transaction commits.
// Fire-and-forget: indexing never fails a use case.
func (s *Service) IndexComment(comment store.Comment) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	record := CommentRecord{
		ID:        comment.ID,
		Body:      comment.RenderedContent,
		AuthorID:  comment.AuthorID,
		ReleaseID: comment.ReleaseID,
		Status:    string(comment.Status),
	}
	go func() {
		if err := s.meili.IndexComment(record); err != nil {
			log.Printf("search: index comment %s: %v", record.ID, err)
		}
	}()
}

// IndexAuditEntry indexes one audit entry (fire-and-forget).
func (s *Service) IndexAuditEntry(entry store.AuditEntry) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	record := AuditRecord{
		ID:          strconv.FormatInt(entry.ID, 10),
		EntityType:  entry.EntityType,
		EntityID:    entry.EntityID,
		Action:      string(entry.Action),
		Actor:       entry.Actor,
		ReleaseID:   entry.ReleaseID,
		NamespaceID: entry.NamespaceID,
	}
	go func() {
		if err := s.meili.IndexAuditEntry(record); err != nil {
			log.Printf("search: index audit entry %s: %v", record.ID, err)
		}
	}()
}

// ReindexAllFromPG reloads every searchable entity from Postgres into
// Meilisearch, used at startup when Meilisearch comes up empty.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.pg == nil {
		return
	}
	comments, entries, err := s.pg.LoadAllRecords(ctx)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	if err := s.meili.IndexComments(comments); err != nil {
		log.Printf("search: reindex comments: %v", err)
	}
	if err := s.meili.IndexAuditEntries(entries); err != nil {
		log.Printf("search: reindex audit entries: %v", err)
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
