//go:build sqlite_fts5

package index

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

func initFTS(conn *sql.DB) error {
	_, err := conn.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS blocks_fts USING fts5(
			id UNINDEXED,
			body,
			tokenize = 'unicode61 remove_diacritics 2'
		);
	`)
	return err
}

func ftsUpsert(tx *sql.Tx, id, body string) error {
	_, _ = tx.Exec(`DELETE FROM blocks_fts WHERE id = ?`, id)
	_, err := tx.Exec(`INSERT INTO blocks_fts (id, body) VALUES (?, ?)`, id, body)
	if err != nil {
		return fmt.Errorf("index: upsert fts: %w", err)
	}
	return nil
}

func ftsDelete(tx *sql.Tx, id string) {
	_, _ = tx.Exec(`DELETE FROM blocks_fts WHERE id = ?`, id)
}

// KeywordCandidates returns blocks whose text contains any of terms, using FTS5.
func (db *DB) KeywordCandidates(ctx context.Context, f Filter, terms []string, limit int) ([]Match, error) {
	if len(terms) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	quoted := make([]string, len(terms))
	for i, t := range terms {
		quoted[i] = `"` + strings.ReplaceAll(t, `"`, `""`) + `"`
	}
	where, args := filterClauseAs("b", f)
	where = strings.Replace(where, " WHERE ", " AND ", 1)

	query := `
		SELECT b.id, b.body, b.updated_at
		FROM blocks_fts
		JOIN blocks b ON b.id = blocks_fts.id
		WHERE blocks_fts MATCH ?` + where + `
		ORDER BY rank
		LIMIT ?`
	rows, err := db.conn.QueryContext(ctx, query, append(append([]any{strings.Join(quoted, " OR ")}, args...), limit)...)
	if err != nil {
		return nil, fmt.Errorf("index: keyword candidates: %w", err)
	}
	defer rows.Close()
	return scanMatches(rows)
}
