package index

import (
	"context"
	"errors"
	"math"
	"os"
	"testing"
	"time"

	"github.com/starford/lifeagent/internal/apperr"
	"github.com/starford/lifeagent/internal/models"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	f, err := os.CreateTemp("", "lifeagent-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	db, err := Open(f.Name())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

var base = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

func textBlock(id, user, text string, at time.Time) *models.Block {
	return &models.Block{
		ID:        id,
		Type:      models.TypeText,
		Content:   models.TextContent{Text: text},
		Metadata:  models.Metadata{}.Normalize(),
		UserID:    user,
		CreatedAt: at,
		UpdatedAt: at,
	}
}

func putVector(t *testing.T, db *DB, b *models.Block, vec []float32) {
	t.Helper()
	err := db.UpsertVector(context.Background(), models.VectorRecord{
		BlockID:          b.ID,
		UserID:           b.UserID,
		Embedding:        vec,
		TextSnapshot:     b.Text(),
		MetadataSnapshot: models.SnapshotOf(b),
		UpdatedAt:        b.UpdatedAt,
	})
	if err != nil {
		t.Fatalf("UpsertVector: %v", err)
	}
}

func TestSchemaCreation(t *testing.T) {
	db := testDB(t)
	var count int
	if err := db.conn.QueryRow(`SELECT count(*) FROM blocks`).Scan(&count); err != nil {
		t.Fatalf("blocks table missing: %v", err)
	}
	if err := db.conn.QueryRow(`SELECT count(*) FROM vectors`).Scan(&count); err != nil {
		t.Fatalf("vectors table missing: %v", err)
	}
}

func TestInsertAndGetBlock(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	b := &models.Block{
		ID:        "t1",
		Type:      models.TypeTodo,
		Content:   models.TodoContent{Text: "buy milk", Priority: models.PriorityHigh},
		Metadata:  models.Metadata{Tags: []string{"shopping"}, Category: "errands"}.Normalize(),
		UserID:    "u1",
		CreatedAt: base,
		UpdatedAt: base,
	}
	if err := db.InsertBlock(ctx, b); err != nil {
		t.Fatalf("InsertBlock: %v", err)
	}
	got, err := db.GetBlock(ctx, "t1")
	if err != nil {
		t.Fatalf("GetBlock: %v", err)
	}
	if got.Content != b.Content {
		t.Errorf("content = %+v, want %+v", got.Content, b.Content)
	}
	if got.Metadata.Category != "errands" || len(got.Metadata.Tags) != 1 {
		t.Errorf("metadata = %+v", got.Metadata)
	}
	if !got.UpdatedAt.Equal(base) {
		t.Errorf("updatedAt = %v, want %v", got.UpdatedAt, base)
	}

	if err := db.InsertBlock(ctx, b); !errors.Is(err, apperr.ErrAlreadyExists) {
		t.Errorf("duplicate insert err = %v, want ErrAlreadyExists", err)
	}
}

func TestGetBlock_NotFound(t *testing.T) {
	db := testDB(t)
	_, err := db.GetBlock(context.Background(), "missing")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestUpdateBlock_NotFound(t *testing.T) {
	db := testDB(t)
	err := db.UpdateBlock(context.Background(), textBlock("nope", "u", "x", base))
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestDeleteBlock_CascadesVector(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	b := textBlock("d1", "u1", "hello", base)
	_ = db.InsertBlock(ctx, b)
	putVector(t, db, b, []float32{1, 0})

	if err := db.DeleteBlock(ctx, "d1"); err != nil {
		t.Fatalf("DeleteBlock: %v", err)
	}
	if _, err := db.GetVector(ctx, "d1"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("vector survived block delete: %v", err)
	}
	if err := db.DeleteBlock(ctx, "d1"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("second delete err = %v, want ErrNotFound", err)
	}
}

func TestListBlocks_FiltersAndPaging(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	for i, id := range []string{"a", "b", "c"} {
		_ = db.InsertBlock(ctx, textBlock(id, "u1", "text "+id, base.Add(time.Duration(i)*time.Minute)))
	}
	_ = db.InsertBlock(ctx, textBlock("other", "u2", "text", base))

	items, total, err := db.ListBlocks(ctx, ListOptions{Filter: Filter{UserID: "u1"}, Limit: 2})
	if err != nil {
		t.Fatalf("ListBlocks: %v", err)
	}
	if total != 3 {
		t.Errorf("total = %d, want 3", total)
	}
	if len(items) != 2 || items[0].ID != "c" || items[1].ID != "b" {
		t.Errorf("page = %v, want [c b]", ids(items))
	}
}

func TestChildrenAndUnlink(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	child := textBlock("c1", "u1", "child", base)
	child.ParentID = "p1"
	_ = db.InsertBlock(ctx, child)

	kids, err := db.Children(ctx, "p1")
	if err != nil || len(kids) != 1 {
		t.Fatalf("Children = %v, %v", ids(kids), err)
	}
	n, err := db.UnlinkChildren(ctx, "p1")
	if err != nil || n != 1 {
		t.Fatalf("UnlinkChildren = %d, %v", n, err)
	}
	got, _ := db.GetBlock(ctx, "c1")
	if got.ParentID != "" {
		t.Errorf("parentId = %q, want empty", got.ParentID)
	}
}

func TestCosineSimilarity(t *testing.T) {
	v := []float32{0.3, -1.2, 4}
	if got := CosineSimilarity(v, v); math.Abs(got-1) > 1e-9 {
		t.Errorf("cos(v,v) = %v, want 1", got)
	}
	a := []float32{1, 2, 3}
	b := []float32{-2, 0.5, 1}
	if CosineSimilarity(a, b) != CosineSimilarity(b, a) {
		t.Error("cosine is not symmetric")
	}
	if got := CosineSimilarity(a, []float32{0, 0, 0}); got != 0 {
		t.Errorf("cos with zero vector = %v, want 0", got)
	}
	if got := CosineSimilarity(a, []float32{1, 2}); got != 0 {
		t.Errorf("cos with mismatched length = %v, want 0", got)
	}
}

func TestQuery_RankingAndTies(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	old := textBlock("old", "u1", "same", base)
	recent := textBlock("recent", "u1", "same", base.Add(time.Hour))
	far := textBlock("far", "u1", "different", base)
	foreign := textBlock("foreign", "u2", "same", base)
	for _, b := range []*models.Block{old, recent, far, foreign} {
		_ = db.InsertBlock(ctx, b)
	}
	putVector(t, db, old, []float32{1, 0})
	putVector(t, db, recent, []float32{1, 0})
	putVector(t, db, far, []float32{0, 1})
	putVector(t, db, foreign, []float32{1, 0})

	got, err := db.Query(ctx, []float32{1, 0}, Filter{UserID: "u1"}, 10, DefaultMinScore)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("matches = %+v, want 2", got)
	}
	if got[0].BlockID != "recent" || got[1].BlockID != "old" {
		t.Errorf("order = [%s %s], want [recent old]", got[0].BlockID, got[1].BlockID)
	}
}

func TestQuery_ZeroVectorMatchesNothing(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	b := textBlock("z", "u1", "x", base)
	_ = db.InsertBlock(ctx, b)
	putVector(t, db, b, []float32{1, 1})

	got, err := db.Query(ctx, []float32{0, 0}, Filter{UserID: "u1"}, 5, 0)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("zero query matched %+v", got)
	}
}

func TestQueryNeighbors_ExcludesReference(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	a := textBlock("a", "u1", "x", base)
	b := textBlock("b", "u1", "y", base)
	_ = db.InsertBlock(ctx, a)
	_ = db.InsertBlock(ctx, b)
	putVector(t, db, a, []float32{1, 0.1})
	putVector(t, db, b, []float32{1, 0.2})

	got, err := db.QueryNeighbors(ctx, "a", Filter{UserID: "u1"}, 5, DefaultNeighborMinScore)
	if err != nil {
		t.Fatalf("QueryNeighbors: %v", err)
	}
	if len(got) != 1 || got[0].BlockID != "b" {
		t.Errorf("neighbors = %+v, want [b]", got)
	}
}

func TestStaleBlocks(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	fresh := textBlock("fresh", "u1", "fresh text", base)
	missing := textBlock("missing", "u1", "no vector", base)
	outdated := textBlock("outdated", "u1", "old text", base)
	for _, b := range []*models.Block{fresh, missing, outdated} {
		_ = db.InsertBlock(ctx, b)
	}
	putVector(t, db, fresh, []float32{1, 0})
	putVector(t, db, outdated, []float32{1, 0})

	outdated.Content = models.TextContent{Text: "new text"}
	outdated.UpdatedAt = base.Add(time.Minute)
	if err := db.UpdateBlock(ctx, outdated); err != nil {
		t.Fatalf("UpdateBlock: %v", err)
	}

	stale, err := db.StaleBlocks(ctx, 2, 10)
	if err != nil {
		t.Fatalf("StaleBlocks: %v", err)
	}
	reasons := map[string]string{}
	for _, s := range stale {
		reasons[s.BlockID] = s.Reason
	}
	if len(reasons) != 2 || reasons["missing"] != "missing" || reasons["outdated"] != "outdated" {
		t.Errorf("stale = %v", reasons)
	}

	stale, _ = db.StaleBlocks(ctx, 3, 10)
	if len(stale) != 3 {
		t.Errorf("dimension change should mark all stale, got %d", len(stale))
	}
}

func TestKeywordCandidates(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	_ = db.InsertBlock(ctx, textBlock("k1", "u1", "Notes on deep learning", base))
	_ = db.InsertBlock(ctx, textBlock("k2", "u1", "Grocery list", base))
	_ = db.InsertBlock(ctx, textBlock("k3", "u2", "deep learning for u2", base))

	got, err := db.KeywordCandidates(ctx, Filter{UserID: "u1"}, []string{"deep", "learning"}, 10)
	if err != nil {
		t.Fatalf("KeywordCandidates: %v", err)
	}
	if len(got) != 1 || got[0].BlockID != "k1" {
		t.Errorf("candidates = %+v, want [k1]", got)
	}
	if got[0].Text != "Notes on deep learning" {
		t.Errorf("text = %q", got[0].Text)
	}
}

func TestKeywordCandidates_FullMatchBeatsNewerPartialMatches(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	if err := db.InsertBlock(ctx, textBlock("full", "u1", "alpha beta gamma overview", base)); err != nil {
		t.Fatal(err)
	}
	for i := range 8 {
		id := "partial-" + string(rune('a'+i))
		at := base.Add(time.Duration(i+1) * time.Hour)
		if err := db.InsertBlock(ctx, textBlock(id, "u1", "alpha note "+id, at)); err != nil {
			t.Fatal(err)
		}
	}

	got, err := db.KeywordCandidates(ctx, Filter{UserID: "u1"}, []string{"alpha", "beta", "gamma"}, 3)
	if err != nil {
		t.Fatalf("KeywordCandidates: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("candidates = %d, want 3", len(got))
	}
	if got[0].BlockID != "full" {
		t.Errorf("first candidate = %s, want full", got[0].BlockID)
	}
}

func ids(bs []*models.Block) []string {
	out := make([]string, len(bs))
	for i, b := range bs {
		out[i] = b.ID
	}
	return out
}
