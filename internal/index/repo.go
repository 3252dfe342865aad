package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/starford/lifeagent/internal/apperr"
	"github.com/starford/lifeagent/internal/checksum"
	"github.com/starford/lifeagent/internal/models"
)

const blockColumns = `id, user_id, type, content, metadata, parent_id, template_id, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

// InsertBlock stores a new block row and its keyword entry.
func (db *DB) InsertBlock(ctx context.Context, b *models.Block) error {
	content, metadata, err := encodeBlock(b)
	if err != nil {
		return err
	}
	body := b.Text()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	_, err = tx.ExecContext(ctx, `
		INSERT INTO blocks (id, user_id, type, content, metadata, category, parent_id, template_id, body, checksum, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, b.ID, b.UserID, string(b.Type), content, metadata, b.Metadata.Normalize().Category,
		b.ParentID, b.TemplateID, body, checksum.String(body),
		b.CreatedAt.UnixNano(), b.UpdatedAt.UnixNano())
	if err != nil {
		var sqlErr sqlite3.Error
		if errors.As(err, &sqlErr) && sqlErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
			return fmt.Errorf("index: insert block %s: %w", b.ID, apperr.ErrAlreadyExists)
		}
		return fmt.Errorf("index: insert block: %w", err)
	}
	if err := ftsUpsert(tx, b.ID, body); err != nil {
		return err
	}
	return tx.Commit()
}

// UpdateBlock rewrites an existing block row.
func (db *DB) UpdateBlock(ctx context.Context, b *models.Block) error {
	content, metadata, err := encodeBlock(b)
	if err != nil {
		return err
	}
	body := b.Text()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, `
		UPDATE blocks SET
			type        = ?,
			content     = ?,
			metadata    = ?,
			category    = ?,
			parent_id   = ?,
			template_id = ?,
			body        = ?,
			checksum    = ?,
			updated_at  = ?
		WHERE id = ?
	`, string(b.Type), content, metadata, b.Metadata.Normalize().Category,
		b.ParentID, b.TemplateID, body, checksum.String(body), b.UpdatedAt.UnixNano(), b.ID)
	if err != nil {
		return fmt.Errorf("index: update block: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFoundf("block %s", b.ID)
	}
	if err := ftsUpsert(tx, b.ID, body); err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteBlock removes a block row. Its vector row cascades.
func (db *DB) DeleteBlock(ctx context.Context, id string) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	ftsDelete(tx, id)
	res, err := tx.ExecContext(ctx, `DELETE FROM blocks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("index: delete block: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFoundf("block %s", id)
	}
	return tx.Commit()
}

// GetBlock returns one block by id.
func (db *DB) GetBlock(ctx context.Context, id string) (*models.Block, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+blockColumns+` FROM blocks WHERE id = ?`, id)
	b, err := scanBlock(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFoundf("block %s", id)
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

// GetBlocks loads the blocks with the given ids. Missing ids are absent from the map.
func (db *DB) GetBlocks(ctx context.Context, ids []string) (map[string]*models.Block, error) {
	out := make(map[string]*models.Block, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	rows, err := db.conn.QueryContext(ctx, `SELECT `+blockColumns+` FROM blocks WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("index: get blocks: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			return nil, err
		}
		out[b.ID] = b
	}
	return out, rows.Err()
}

// ListBlocks returns a page of blocks, most recently updated first, and the total count.
func (db *DB) ListBlocks(ctx context.Context, opts ListOptions) ([]*models.Block, int, error) {
	if opts.Limit <= 0 {
		opts.Limit = 50
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	where, args := filterClause(opts.Filter)

	var total int
	if err := db.conn.QueryRowContext(ctx, `SELECT count(*) FROM blocks`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("index: count blocks: %w", err)
	}

	rows, err := db.conn.QueryContext(ctx, `SELECT `+blockColumns+` FROM blocks`+where+
		` ORDER BY updated_at DESC, id LIMIT ? OFFSET ?`, append(args, opts.Limit, opts.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("index: list blocks: %w", err)
	}
	defer rows.Close()
	out, err := collectBlocks(rows)
	return out, total, err
}

// Children returns the blocks whose parent is parentID, oldest first.
func (db *DB) Children(ctx context.Context, parentID string) ([]*models.Block, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT `+blockColumns+` FROM blocks WHERE parent_id = ? ORDER BY created_at, id`, parentID)
	if err != nil {
		return nil, fmt.Errorf("index: children: %w", err)
	}
	defer rows.Close()
	return collectBlocks(rows)
}

// UnlinkChildren clears the parent of every child of parentID.
func (db *DB) UnlinkChildren(ctx context.Context, parentID string) (int, error) {
	res, err := db.conn.ExecContext(ctx, `UPDATE blocks SET parent_id = '' WHERE parent_id = ?`, parentID)
	if err != nil {
		return 0, fmt.Errorf("index: unlink children: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// CountByType returns the number of blocks per type for a user.
func (db *DB) CountByType(ctx context.Context, userID string) (map[models.BlockType]int, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT type, count(*) FROM blocks WHERE user_id = ? GROUP BY type`, userID)
	if err != nil {
		return nil, fmt.Errorf("index: count by type: %w", err)
	}
	defer rows.Close()
	out := make(map[models.BlockType]int)
	for rows.Next() {
		var (
			t string
			n int
		)
		if err := rows.Scan(&t, &n); err != nil {
			return nil, err
		}
		out[models.BlockType(t)] = n
	}
	return out, rows.Err()
}

func filterClause(f Filter) (string, []any) {
	return filterClauseAs("", f)
}

// filterClauseAs builds a WHERE clause with columns qualified by alias.
func filterClauseAs(alias string, f Filter) (string, []any) {
	if alias != "" {
		alias += "."
	}
	var (
		conds []string
		args  []any
	)
	if f.UserID != "" {
		conds = append(conds, alias+"user_id = ?")
		args = append(args, f.UserID)
	}
	if f.Type != "" {
		conds = append(conds, alias+"type = ?")
		args = append(args, string(f.Type))
	}
	if f.Category != "" {
		conds = append(conds, alias+"category = ?")
		args = append(args, f.Category)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func encodeBlock(b *models.Block) (string, string, error) {
	content, err := json.Marshal(b.Content)
	if err != nil {
		return "", "", fmt.Errorf("index: encode content: %w", err)
	}
	metadata, err := json.Marshal(b.Metadata.Normalize())
	if err != nil {
		return "", "", fmt.Errorf("index: encode metadata: %w", err)
	}
	return string(content), string(metadata), nil
}

func scanBlock(s rowScanner) (*models.Block, error) {
	var (
		b                  models.Block
		typ, content, meta string
		created, updated   int64
	)
	if err := s.Scan(&b.ID, &b.UserID, &typ, &content, &meta, &b.ParentID, &b.TemplateID, &created, &updated); err != nil {
		return nil, err
	}
	b.Type = models.BlockType(typ)
	c, err := models.DecodeContent(b.Type, []byte(content))
	if err != nil {
		return nil, fmt.Errorf("index: decode block %s: %w", b.ID, err)
	}
	b.Content = c
	if err := json.Unmarshal([]byte(meta), &b.Metadata); err != nil {
		return nil, fmt.Errorf("index: decode metadata %s: %w", b.ID, err)
	}
	b.Metadata = b.Metadata.Normalize()
	b.CreatedAt = fromNanos(created)
	b.UpdatedAt = fromNanos(updated)
	return &b, nil
}

func collectBlocks(rows *sql.Rows) ([]*models.Block, error) {
	out := []*models.Block{}
	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func scanMatches(rows *sql.Rows) ([]Match, error) {
	var out []Match
	for rows.Next() {
		var (
			m       Match
			updated int64
		)
		if err := rows.Scan(&m.BlockID, &m.Text, &updated); err != nil {
			return nil, err
		}
		m.UpdatedAt = fromNanos(updated)
		out = append(out, m)
	}
	return out, rows.Err()
}
