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

// Healthy always returns true — if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across published posts and projects
// using plainto_tsquery and ts_rank, with ts_headline for snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
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

	const tsQuery = "plainto_tsquery('english', $1)"

	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultPost {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'post'::text AS type, p.id, p.slug, p.title,
				ts_headline('english', coalesce(p.body, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				ts_rank(p.fts, %s) AS rank
			FROM posts p
			WHERE p.published AND p.fts @@ %s`, tsQuery, tsQuery, tsQuery))
	}

	if q.FilterType == "" || q.FilterType == ResultProject {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'project'::text AS type, pr.id, pr.slug, pr.title,
				ts_headline('english', coalesce(pr.summary, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				ts_rank(pr.fts, %s) AS rank
			FROM projects pr
			WHERE pr.published AND pr.fts @@ %s`, tsQuery, tsQuery, tsQuery))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	union := strings.Join(subQueries, "\n\t\t\tUNION ALL\n")
	query := fmt.Sprintf(`
		WITH hits AS (
%s
		)
		SELECT type, id, slug, title, snippet, COUNT(*) OVER () AS total
		FROM hits
		ORDER BY rank DESC
		LIMIT $2 OFFSET $3
	`, union)

	rows, err := p.db.QueryContext(context.Background(), query, q.Text, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts search: %w", err)
	}
	defer rows.Close()

	var results []Result
	total := 0
	for rows.Next() {
		var r Result
		var rtyp string
		if err := rows.Scan(&rtyp, &r.ID, &r.Slug, &r.Title, &r.Snippet, &total); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(rtyp)
		results = append(results, r)
	}
	return results, total, rows.Err()
}
