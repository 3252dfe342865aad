package index

import (
	"cmp"
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/starford/lifeagent/internal/apperr"
	"github.com/starford/lifeagent/internal/checksum"
	"github.com/starford/lifeagent/internal/models"
)

// Default thresholds for general and neighbour queries.
const (
	DefaultMinScore         = 0.5
	DefaultNeighborMinScore = 0.6
)

// CosineSimilarity returns dot(a,b)/(|a|*|b|), or 0 when the lengths differ
// or either norm is zero.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// UpsertVector inserts or replaces the vector record of a block.
func (db *DB) UpsertVector(ctx context.Context, rec models.VectorRecord) error {
	meta, err := json.Marshal(rec.MetadataSnapshot)
	if err != nil {
		return fmt.Errorf("index: encode metadata snapshot: %w", err)
	}
	_, err = db.conn.ExecContext(ctx, `
		INSERT INTO vectors (block_id, user_id, type, category, dimension, embedding, text_snapshot, metadata_snapshot, checksum, degraded, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(block_id) DO UPDATE SET
			user_id           = excluded.user_id,
			type              = excluded.type,
			category          = excluded.category,
			dimension         = excluded.dimension,
			embedding         = excluded.embedding,
			text_snapshot     = excluded.text_snapshot,
			metadata_snapshot = excluded.metadata_snapshot,
			checksum          = excluded.checksum,
			degraded          = excluded.degraded,
			updated_at        = excluded.updated_at
	`, rec.BlockID, rec.UserID, string(rec.MetadataSnapshot.Type), rec.MetadataSnapshot.Category,
		len(rec.Embedding), encodeVector(rec.Embedding), rec.TextSnapshot, string(meta),
		checksum.String(rec.TextSnapshot), rec.Degraded, rec.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("index: upsert vector: %w", err)
	}
	return nil
}

// DeleteVector removes the vector record of a block. Missing records are not an error.
func (db *DB) DeleteVector(ctx context.Context, blockID string) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM vectors WHERE block_id = ?`, blockID); err != nil {
		return fmt.Errorf("index: delete vector: %w", err)
	}
	return nil
}

// GetVector returns the vector record of a block.
func (db *DB) GetVector(ctx context.Context, blockID string) (*models.VectorRecord, error) {
	var (
		rec     models.VectorRecord
		blob    []byte
		meta    string
		updated int64
	)
	err := db.conn.QueryRowContext(ctx, `
		SELECT block_id, user_id, embedding, text_snapshot, metadata_snapshot, degraded, updated_at
		FROM vectors WHERE block_id = ?
	`, blockID).Scan(&rec.BlockID, &rec.UserID, &blob, &rec.TextSnapshot, &meta, &rec.Degraded, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFoundf("vector for block %s", blockID)
	}
	if err != nil {
		return nil, fmt.Errorf("index: get vector: %w", err)
	}
	if err := json.Unmarshal([]byte(meta), &rec.MetadataSnapshot); err != nil {
		return nil, fmt.Errorf("index: decode metadata snapshot: %w", err)
	}
	rec.Embedding = decodeVector(blob)
	rec.UpdatedAt = fromNanos(updated)
	return &rec, nil
}

// Query ranks the vectors matching f by cosine similarity to query.
// Scores below minScore are dropped; ties go to the most recently updated.
func (db *DB) Query(ctx context.Context, query []float32, f Filter, topK int, minScore float64) ([]Match, error) {
	return db.rank(ctx, query, f, "", topK, minScore)
}

// QueryNeighbors ranks vectors by similarity to the stored vector of blockID,
// excluding blockID itself.
func (db *DB) QueryNeighbors(ctx context.Context, blockID string, f Filter, topK int, minScore float64) ([]Match, error) {
	ref, err := db.GetVector(ctx, blockID)
	if err != nil {
		return nil, err
	}
	return db.rank(ctx, ref.Embedding, f, blockID, topK, minScore)
}

func (db *DB) rank(ctx context.Context, query []float32, f Filter, exclude string, topK int, minScore float64) ([]Match, error) {
	if topK <= 0 {
		topK = 10
	}
	where, args := filterClause(f)
	rows, err := db.conn.QueryContext(ctx, `SELECT block_id, embedding, text_snapshot, updated_at FROM vectors`+where, args...)
	if err != nil {
		return nil, fmt.Errorf("index: query vectors: %w", err)
	}
	defer rows.Close()

	var out []Match
	for rows.Next() {
		var (
			m       Match
			blob    []byte
			updated int64
		)
		if err := rows.Scan(&m.BlockID, &blob, &m.Text, &updated); err != nil {
			return nil, err
		}
		if m.BlockID == exclude {
			continue
		}
		m.Score = CosineSimilarity(query, decodeVector(blob))
		if m.Score < minScore || m.Score == 0 {
			continue
		}
		m.UpdatedAt = fromNanos(updated)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	SortMatches(out)
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

// SortMatches orders matches by score descending, then most recent update,
// then id for a stable total order.
func SortMatches(ms []Match) {
	slices.SortFunc(ms, func(a, b Match) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.BlockID, b.BlockID)
	})
}

// StaleBlocks lists blocks whose vector is missing, older than the block,
// built from different text, degraded or of the wrong dimension.
func (db *DB) StaleBlocks(ctx context.Context, dimension, limit int) ([]StaleBlock, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := db.conn.QueryContext(ctx, `
		SELECT b.id,
		       CASE
		           WHEN v.block_id IS NULL        THEN 'missing'
		           WHEN v.updated_at < b.updated_at THEN 'outdated'
		           WHEN v.checksum != b.checksum  THEN 'text_changed'
		           WHEN v.dimension != ?          THEN 'dimension'
		           ELSE 'degraded'
		       END
		FROM blocks b
		LEFT JOIN vectors v ON v.block_id = b.id
		WHERE v.block_id IS NULL
		   OR v.updated_at < b.updated_at
		   OR v.checksum != b.checksum
		   OR v.dimension != ?
		   OR (v.degraded = 1 AND b.body != '')
		ORDER BY b.updated_at
		LIMIT ?
	`, dimension, dimension, limit)
	if err != nil {
		return nil, fmt.Errorf("index: stale blocks: %w", err)
	}
	defer rows.Close()
	var out []StaleBlock
	for rows.Next() {
		var s StaleBlock
		if err := rows.Scan(&s.BlockID, &s.Reason); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// PurgeOrphanVectors deletes vector rows whose block no longer exists.
func (db *DB) PurgeOrphanVectors(ctx context.Context) (int, error) {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM vectors WHERE block_id NOT IN (SELECT id FROM blocks)`)
	if err != nil {
		return 0, fmt.Errorf("index: purge orphan vectors: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(x))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return v
}
