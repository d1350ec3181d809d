package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgSearch is the fallback searcher running ILIKE scans over Postgres. Good
// enough for small namespaces when Meilisearch is not configured.
type PgSearch struct {
	db *sql.DB
}

func NewPgSearch(db *sql.DB) *PgSearch {
	return &PgSearch{db: db}
}

// Healthy always returns true. If Postgres is down, the whole app is down.
func (p *PgSearch) Healthy() bool {
	return true
}

func (p *PgSearch) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	pattern := "%" + q.Text + "%"
	args := []any{pattern}
	argN := 2

	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultComment {
		where := "c.rendered_content ILIKE $1"
		if q.FilterReleaseID != "" {
			where += fmt.Sprintf(" AND c.release_id = $%d", argN)
			args = append(args, q.FilterReleaseID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'comment'::text AS type, c.id, c.author_id AS title,
				left(c.rendered_content, 160) AS snippet,
				c.release_id, r.namespace_id,
				c.created_at AS sort_key
			FROM comments c
			JOIN releases r ON r.id = c.release_id
			WHERE %s`, where))
	}

	if q.FilterType == "" || q.FilterType == ResultAudit {
		where := "(a.entity_type ILIKE $1 OR a.entity_id ILIKE $1 OR a.actor ILIKE $1)"
		if q.FilterReleaseID != "" {
			where += fmt.Sprintf(" AND a.release_id = $%d", argN)
			args = append(args, q.FilterReleaseID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'audit'::text AS type, a.id::text, a.entity_type || ' ' || a.action AS title,
				a.entity_id AS snippet,
				a.release_id, a.namespace_id,
				a.created_at AS sort_key
			FROM audit_log a
			WHERE %s`, where))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, release_id, namespace_id
		FROM (%s) sub
		ORDER BY sort_key DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pg search count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pg search query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.ReleaseID, &r.NamespaceID); err != nil {
			return nil, 0, fmt.Errorf("pg search scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgSearch) LoadAllRecords(ctx context.Context) ([]CommentRecord, []AuditRecord, error) {
	commentRows, err := p.db.QueryContext(ctx, `
		SELECT c.id, c.rendered_content, c.author_id, c.release_id, r.namespace_id, c.status
		FROM comments c
		JOIN releases r ON r.id = c.release_id
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load comments: %w", err)
	}
	defer commentRows.Close()

	comments := make([]CommentRecord, 0)
	for commentRows.Next() {
		var c CommentRecord
		if err := commentRows.Scan(&c.ID, &c.Body, &c.AuthorID, &c.ReleaseID, &c.NamespaceID, &c.Status); err != nil {
			return nil, nil, fmt.Errorf("scan comment: %w", err)
		}
		comments = append(comments, c)
	}
	if err := commentRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate comments: %w", err)
	}

	auditRows, err := p.db.QueryContext(ctx, `
		SELECT a.id::text, a.entity_type, a.entity_id, a.action, a.actor, a.release_id, a.namespace_id
		FROM audit_log a
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load audit entries: %w", err)
	}
	defer auditRows.Close()

	entries := make([]AuditRecord, 0)
	for auditRows.Next() {
		var a AuditRecord
		if err := auditRows.Scan(&a.ID, &a.EntityType, &a.EntityID, &a.Action, &a.Actor, &a.ReleaseID, &a.NamespaceID); err != nil {
			return nil, nil, fmt.Errorf("scan audit entry: %w", err)
		}
		entries = append(entries, a)
	}
	if err := auditRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate audit entries: %w", err)
	}

	return comments, entries, nil
}
