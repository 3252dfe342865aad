//go:build !sqlite_fts5

package index

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

func initFTS(_ *sql.DB) error {
	// FTS5 not available; keyword lookup uses LIKE on blocks.body.
	return nil
}

func ftsUpsert(_ *sql.Tx, _, _ string) error {
	// Body is already stored in the blocks table; nothing extra to do.
	return nil
}

func ftsDelete(_ *sql.Tx, _ string) {}

// KeywordCandidates returns blocks whose text contains any of terms (LIKE
// fallback), ordered by how many of terms they contain, then recency.
func (db *DB) KeywordCandidates(ctx context.Context, f Filter, terms []string, limit int) ([]Match, error) {
	if len(terms) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	where, args := filterClause(f)
	likes := make([]string, len(terms))
	patterns := make([]any, len(terms))
	for i, t := range terms {
		likes[i] = "(lower(body) LIKE ? ESCAPE '\\')"
		patterns[i] = "%" + escapeLike(strings.ToLower(t)) + "%"
	}
	cond := "(" + strings.Join(likes, " OR ") + ")"
	if where == "" {
		where = " WHERE " + cond
	} else {
		where += " AND " + cond
	}
	hits := strings.Join(likes, " + ")
	args = append(args, patterns...)
	args = append(args, patterns...)
	rows, err := db.conn.QueryContext(ctx, `SELECT id, body, updated_at FROM blocks`+where+
		` ORDER BY `+hits+` DESC, updated_at DESC, id LIMIT ?`, append(args, limit)...)
	if err != nil {
		return nil, fmt.Errorf("index: keyword candidates: %w", err)
	}
	defer rows.Close()
	return scanMatches(rows)
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
