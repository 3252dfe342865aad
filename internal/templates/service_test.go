package templates

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/starford/lifeagent/internal/apperr"
	"github.com/starford/lifeagent/internal/blockservice"
	"github.com/starford/lifeagent/internal/models"
	"github.com/starford/lifeagent/internal/storage"
	"github.com/starford/lifeagent/internal/testutil"
)

type env struct {
	dir    string
	store  *storage.FS
	blocks *blockservice.Service
	clock  *testutil.Clock
	svc    *Service
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newEnv(t *testing.T) *env {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewFS(dir, ".yaml", ".yml")
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	db := testutil.TestDB(t)
	emb, _ := testutil.TestEmbedder(t)
	clock := testutil.NewClock(time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC))
	blocks := blockservice.NewService(db, emb, blockservice.WithClock(clock.Now))
	e := &env{dir: dir, store: store, blocks: blocks, clock: clock}
	e.svc = e.open()
	return e
}

func (e *env) open() *Service {
	n := 0
	return NewService(e.store, e.blocks,
		WithClock(e.clock.Now),
		WithLogger(quietLogger()),
		WithIDGenerator(func() string {
			n++
			return fmt.Sprintf("tpl-%d-%d", e.clock.Now().Unix(), n)
		}))
}

func basic(name, user string, public bool) CreateParams {
	return CreateParams{
		Name:     name,
		Category: CategoryProject,
		UserID:   user,
		IsPublic: public,
		Structure: Structure{Blocks: []BlockSpec{
			{Type: models.TypeText, Position: 0, Content: map[string]any{"text": name + " notes"}},
		}},
	}
}

func TestSeedDefaults_Idempotent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	n, err := e.svc.SeedDefaults(ctx)
	if err != nil {
		t.Fatalf("SeedDefaults: %v", err)
	}
	if n != 2 {
		t.Fatalf("created = %d, want 2", n)
	}
	n, err = e.svc.SeedDefaults(ctx)
	if err != nil {
		t.Fatalf("SeedDefaults again: %v", err)
	}
	if n != 0 {
		t.Errorf("second seed created %d, want 0", n)
	}

	files, err := e.store.List("")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(files) != 2 {
		t.Errorf("files on disk = %d, want 2", len(files))
	}
}

func TestCreate_Validation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	cases := map[string]CreateParams{
		"missing name": basic("", "u1", false),
		"bad category": func() CreateParams {
			p := basic("x", "u1", false)
			p.Category = "misc"
			return p
		}(),
		"missing owner": basic("x", "", false),
		"bad block": func() CreateParams {
			p := basic("x", "u1", false)
			p.Structure.Blocks[0].Content = map[string]any{"bogus": 1}
			return p
		}(),
		"unknown block type": func() CreateParams {
			p := basic("x", "u1", false)
			p.Structure.Blocks[0].Type = "video"
			return p
		}(),
	}
	for name, p := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := e.svc.Create(ctx, p)
			if !errors.Is(err, apperr.ErrValidation) {
				t.Errorf("err = %v, want validation error", err)
			}
		})
	}
}

func TestListByUser_OwnAndPublic(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	mine, err := e.svc.Create(ctx, basic("Mine", "u1", false))
	if err != nil {
		t.Fatal(err)
	}
	e.clock.Advance(time.Minute)
	public, err := e.svc.Create(ctx, basic("Shared", "u2", true))
	if err != nil {
		t.Fatal(err)
	}
	e.clock.Advance(time.Minute)
	if _, err := e.svc.Create(ctx, basic("Theirs", "u2", false)); err != nil {
		t.Fatal(err)
	}

	got := e.svc.ListByUser(ctx, "u1", ListOptions{})
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].ID != public.ID || got[1].ID != mine.ID {
		t.Errorf("order = [%s %s], want newest first", got[0].ID, got[1].ID)
	}

	got = e.svc.ListByUser(ctx, "u1", ListOptions{Category: CategoryReview})
	if len(got) != 0 {
		t.Errorf("review templates = %d, want 0", len(got))
	}
	got = e.svc.ListByUser(ctx, "u1", ListOptions{Limit: 1})
	if len(got) != 1 {
		t.Errorf("limited = %d, want 1", len(got))
	}
}

func TestSearch(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	if _, err := e.svc.SeedDefaults(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := e.svc.Create(ctx, basic("Secret daily plan", "u2", false)); err != nil {
		t.Fatal(err)
	}

	got := e.svc.Search(ctx, "DAILY", "u1", ListOptions{})
	if len(got) != 1 || got[0].Name != "Daily Review Template" {
		t.Fatalf("Search = %v, want the daily review template only", names(got))
	}
	got = e.svc.Search(ctx, "progress", "u1", ListOptions{})
	if len(got) != 1 || got[0].Name != "Basic Project Template" {
		t.Errorf("description match = %v", names(got))
	}
	if got := e.svc.Search(ctx, "daily", "u2", ListOptions{}); len(got) != 2 {
		t.Errorf("owner search = %v, want 2", names(got))
	}
}

func TestInstantiate_DailyReview(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	if _, err := e.svc.SeedDefaults(ctx); err != nil {
		t.Fatal(err)
	}
	tpl := e.svc.Search(ctx, "daily review", "u1", ListOptions{})[0]

	inst, err := e.svc.Instantiate(ctx, tpl.ID, "u1", nil)
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	if len(inst.Blocks) != 7 {
		t.Fatalf("blocks = %d, want 7", len(inst.Blocks))
	}
	first := inst.Blocks[0]
	h, ok := first.Content.(models.HeadingContent)
	if !ok {
		t.Fatalf("first content = %T, want heading", first.Content)
	}
	if h.Text != "2026-05-04 Daily Review" || h.Level != 1 {
		t.Errorf("heading = %+v", h)
	}
	if last := inst.Blocks[6]; last.Type != models.TypeTodo {
		t.Errorf("last type = %s, want todo", last.Type)
	}
	for _, b := range inst.Blocks {
		if b.TemplateID != tpl.ID || b.UserID != "u1" {
			t.Errorf("block %s: template=%q user=%q", b.ID, b.TemplateID, b.UserID)
		}
		if !b.Metadata.AIGenerated || b.Metadata.Category != "review" {
			t.Errorf("block %s metadata = %+v", b.ID, b.Metadata)
		}
	}

	if inst.Template.Metadata.UsageCount != 1 || inst.Template.Metadata.LastUsed == nil {
		t.Errorf("usage = %+v", inst.Template.Metadata)
	}
	stored, err := e.svc.Get(ctx, tpl.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Metadata.UsageCount != 1 {
		t.Errorf("stored usage = %d, want 1", stored.Metadata.UsageCount)
	}

	listed, _, err := e.blocks.ListByUser(ctx, "u1", blockservice.ListOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(listed) != 7 {
		t.Errorf("persisted blocks = %d, want 7", len(listed))
	}
}

func TestInstantiate_OrdersByPositionAndSubstitutes(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	tpl, err := e.svc.Create(ctx, CreateParams{
		Name:     "Kickoff",
		Category: CategoryProject,
		UserID:   "u1",
		Structure: Structure{Blocks: []BlockSpec{
			{Type: models.TypeTodo, Position: 2, Content: map[string]any{"text": "Invite {{owner}}"}},
			{Type: models.TypeHeading, Position: 0, Content: map[string]any{"text": "{{project}} kickoff", "level": 1}},
			{Type: models.TypeText, Position: 1, Content: map[string]any{"text": "Started {{datetime}}, {{missing}}"}},
		}},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	inst, err := e.svc.Instantiate(ctx, tpl.ID, "u1", map[string]string{"project": "Apollo", "owner": "Sam"})
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	want := []string{"Apollo kickoff", "Started 2026-05-04 09:30, {{missing}}", "Invite Sam"}
	for i, b := range inst.Blocks {
		if got := b.Text(); got != want[i] {
			t.Errorf("block %d text = %q, want %q", i, got, want[i])
		}
	}
}

func TestInstantiate_PrivateTemplateOfOtherUser(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	tpl, err := e.svc.Create(ctx, basic("Private", "u2", false))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.svc.Instantiate(ctx, tpl.ID, "u1", nil); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want not found", err)
	}
	if _, err := e.svc.Instantiate(ctx, "nope", "u1", nil); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("unknown id err = %v, want not found", err)
	}
}

func TestUpdateAndDelete(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	tpl, err := e.svc.Create(ctx, basic("Draft", "u1", false))
	if err != nil {
		t.Fatal(err)
	}

	e.clock.Advance(time.Hour)
	name := "Final"
	public := true
	got, err := e.svc.Update(ctx, tpl.ID, UpdateParams{Name: &name, IsPublic: &public})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got.Name != "Final" || !got.IsPublic || !got.UpdatedAt.After(tpl.UpdatedAt) {
		t.Errorf("updated = %+v", got)
	}

	empty := ""
	if _, err := e.svc.Update(ctx, tpl.ID, UpdateParams{Name: &empty}); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("empty name err = %v, want validation", err)
	}

	if err := e.svc.Delete(ctx, tpl.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := e.svc.Get(ctx, tpl.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Get after delete err = %v", err)
	}
	if _, err := os.Stat(filepath.Join(e.dir, tpl.ID+".yaml")); !os.IsNotExist(err) {
		t.Errorf("file still present: %v", err)
	}
	if err := e.svc.Delete(ctx, tpl.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("second delete err = %v", err)
	}
}

const externalTemplate = `id: weekly
name: Weekly Planning
category: review
userId: u1
structure:
  blocks:
    - type: heading
      position: 0
      content:
        text: Week of {{date}}
        level: 1
`

func TestSync_LoadsFilesFromDisk(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	created, err := e.svc.Create(ctx, basic("Persisted", "u1", false))
	if err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(filepath.Join(e.dir, "weekly.yaml"), []byte(externalTemplate), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(e.dir, "broken.yaml"), []byte("name: [unterminated"), 0o644); err != nil {
		t.Fatal(err)
	}

	fresh := e.open()
	if err := fresh.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if _, err := fresh.Get(ctx, created.ID); err != nil {
		t.Errorf("persisted template: %v", err)
	}
	weekly, err := fresh.Get(ctx, "weekly")
	if err != nil {
		t.Fatalf("external template: %v", err)
	}
	if weekly.Name != "Weekly Planning" {
		t.Errorf("name = %q", weekly.Name)
	}
	if got := len(fresh.ListByUser(ctx, "u1", ListOptions{})); got != 2 {
		t.Errorf("listed = %d, want 2 (broken file skipped)", got)
	}

	if err := os.Remove(filepath.Join(e.dir, "weekly.yaml")); err != nil {
		t.Fatal(err)
	}
	if err := fresh.Sync(); err != nil {
		t.Fatal(err)
	}
	if _, err := fresh.Get(ctx, "weekly"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("removed template err = %v", err)
	}
}

func names(ts []*Template) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = t.Name
	}
	return out
}
