package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/starford/lifeagent/internal/analyzer"
	"github.com/starford/lifeagent/internal/apperr"
	"github.com/starford/lifeagent/internal/blockservice"
	"github.com/starford/lifeagent/internal/fill"
	"github.com/starford/lifeagent/internal/models"
	"github.com/starford/lifeagent/internal/retrieval"
	"github.com/starford/lifeagent/internal/storage"
	"github.com/starford/lifeagent/internal/templates"
	"github.com/starford/lifeagent/internal/testutil"
)

type fixture struct {
	blocks    *blockservice.Service
	templates *templates.Service
	clock     *testutil.Clock
	reg       *Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.TestDB(t)
	emb, _ := testutil.TestEmbedder(t)
	clock := testutil.NewClock(time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC))
	blocks := blockservice.NewService(db, emb, blockservice.WithClock(clock.Now))
	search := retrieval.NewEngine(db, emb, retrieval.DefaultConfig(), quietLogger())

	store, err := storage.NewFS(t.TempDir(), ".yaml")
	if err != nil {
		t.Fatal(err)
	}
	tpl := templates.NewService(store, blocks, templates.WithClock(clock.Now), templates.WithLogger(quietLogger()))
	if _, err := tpl.SeedDefaults(context.Background()); err != nil {
		t.Fatal(err)
	}
	engine := fill.NewEngine(blocks, search, analyzer.NewHeuristic(clock.Now),
		fill.WithClock(clock.Now), fill.WithLogger(quietLogger()))

	reg := NewRegistry(quietLogger())
	RegisterAll(reg, Deps{Blocks: blocks, Search: search, Templates: tpl, Fill: engine, Now: clock.Now})
	return &fixture{blocks: blocks, templates: tpl, clock: clock, reg: reg}
}

// call runs a tool as u1 and round-trips the result through JSON, the way
// the agent hands it to the model.
func (f *fixture) call(t *testing.T, name, args string) map[string]any {
	t.Helper()
	out, err := f.try(name, args)
	if err != nil {
		t.Fatalf("%s: %v", name, err)
	}
	return out
}

func (f *fixture) try(name, args string) (map[string]any, error) {
	f.clock.Advance(time.Second)
	ctx := WithUserID(context.Background(), "u1")
	res, err := f.reg.Execute(ctx, name, json.RawMessage(args))
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(res)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	return out, json.Unmarshal(data, &out)
}

func blockID(t *testing.T, out map[string]any) string {
	t.Helper()
	b, ok := out["block"].(map[string]any)
	if !ok {
		t.Fatalf("no block in %v", out)
	}
	return b["id"].(string)
}

func TestRegisterAll_RegistersEveryTool(t *testing.T) {
	f := newFixture(t)
	want := []string{
		"add_block_to_page", "analyze_content", "create_callout_block", "create_from_template",
		"create_heading_block", "create_page_block", "create_table_block", "create_template",
		"create_text_block", "create_todo_block", "delete_block", "delete_template",
		"find_similar_blocks", "get_block", "get_block_stats", "get_fill_suggestions",
		"get_template", "get_todays_schedule", "get_todays_tasks", "get_upcoming_tasks",
		"intelligent_fill", "list_templates", "mark_task_complete", "parse_time",
		"schedule_task", "search_blocks", "search_templates", "update_block",
		"update_template", "update_todo_status",
	}
	all := f.reg.All()
	if len(all) != len(want) {
		t.Fatalf("registered %d tools, want %d", len(all), len(want))
	}
	for i, tool := range all {
		if tool.Name != want[i] {
			t.Errorf("tool %d = %s, want %s", i, tool.Name, want[i])
		}
		if tool.Description == "" {
			t.Errorf("%s has no description", tool.Name)
		}
	}
}

func TestBlockTools_CreateUpdateDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out := f.call(t, "create_todo_block", `{"text":"File taxes","priority":"high","dueDate":"2026-05-10"}`)
	id := blockID(t, out)
	b, err := f.blocks.GetBlock(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if b.UserID != "u1" || b.Metadata.Category != "tasks" || b.Metadata.Priority != models.PriorityHigh {
		t.Errorf("block = %+v", b)
	}
	if b.Metadata.DueDate == nil || b.Metadata.DueDate.Day() != 10 {
		t.Errorf("due = %v", b.Metadata.DueDate)
	}

	f.call(t, "update_block", `{"blockId":"`+id+`","content":{"text":"File taxes online","checked":false}}`)
	b, _ = f.blocks.GetBlock(ctx, id)
	if b.Text() != "File taxes online" {
		t.Errorf("text = %q", b.Text())
	}

	f.call(t, "update_todo_status", `{"blockId":"`+id+`","checked":true}`)
	b, _ = f.blocks.GetBlock(ctx, id)
	if !b.Content.(models.TodoContent).Checked || b.Metadata.CompletedAt == nil {
		t.Errorf("todo not completed: %+v", b)
	}

	f.call(t, "delete_block", `{"blockId":"`+id+`"}`)
	if _, err := f.blocks.GetBlock(ctx, id); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("after delete err = %v", err)
	}
}

func TestBlockTools_ValidationErrors(t *testing.T) {
	f := newFixture(t)
	cases := map[string]struct{ tool, args string }{
		"heading level":     {"create_heading_block", `{"text":"x","level":9}`},
		"callout type":      {"create_callout_block", `{"text":"x","type":"loud"}`},
		"table shape":       {"create_table_block", `{"headers":["a","b"],"rows":[["only one"]]}`},
		"bad due date":      {"create_todo_block", `{"text":"x","dueDate":"soonish"}`},
		"missing block":     {"update_block", `{"blockId":"missing","content":{"text":"x"}}`},
		"unknown parameter": {"create_text_block", `{"text":"x","colour":"red"}`},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.try(tc.tool, tc.args)
			if err == nil {
				t.Fatal("expected error")
			}
			if name == "missing block" {
				if !errors.Is(err, apperr.ErrNotFound) {
					t.Errorf("err = %v, want not found", err)
				}
				return
			}
			if !errors.Is(err, apperr.ErrValidation) {
				t.Errorf("err = %v, want validation", err)
			}
		})
	}
}

func TestBlockTools_OtherUsersBlocksAreHidden(t *testing.T) {
	f := newFixture(t)
	theirs, err := f.blocks.CreateBlock(context.Background(), blockservice.CreateParams{
		Type: models.TypeText, Content: models.TextContent{Text: "private"}, UserID: "u2",
	})
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"get_block", "delete_block"} {
		if _, err := f.try(name, `{"blockId":"`+theirs.ID+`"}`); !errors.Is(err, apperr.ErrNotFound) {
			t.Errorf("%s err = %v, want not found", name, err)
		}
	}
}

func TestBlockTools_PagesAndSearch(t *testing.T) {
	f := newFixture(t)
	page := blockID(t, f.call(t, "create_page_block", `{"title":"Garden"}`))
	child := blockID(t, f.call(t, "create_text_block", `{"text":"Plant tomatoes in spring"}`))
	f.call(t, "create_text_block", `{"text":"Quarterly budget review"}`)

	out := f.call(t, "add_block_to_page", `{"pageId":"`+page+`","childBlockId":"`+child+`"}`)
	content := out["block"].(map[string]any)["content"].(map[string]any)
	if kids := content["childBlocks"].([]any); len(kids) != 1 || kids[0] != child {
		t.Errorf("children = %v", kids)
	}

	out = f.call(t, "search_blocks", `{"query":"tomatoes"}`)
	if out["count"].(float64) < 1 {
		t.Fatalf("no results: %v", out)
	}
	first := out["results"].([]any)[0].(map[string]any)["block"].(map[string]any)
	if first["id"] != child {
		t.Errorf("first result = %v, want the tomato block", first["id"])
	}

	stats := f.call(t, "get_block_stats", `{}`)
	if stats["totalBlocks"].(float64) != 3 {
		t.Errorf("stats = %v", stats)
	}
}

func TestTimeTools(t *testing.T) {
	f := newFixture(t)

	out := f.call(t, "parse_time", `{"timeExpression":"tomorrow at 5pm"}`)
	if out["scheduledAt"] != "2026-05-05T17:00:00Z" {
		t.Errorf("parse_time = %v", out)
	}
	if _, err := f.try("parse_time", `{"timeExpression":"whenever"}`); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("unparseable err = %v", err)
	}

	id := blockID(t, f.call(t, "create_todo_block", `{"text":"Call the dentist"}`))
	f.call(t, "schedule_task", `{"blockId":"`+id+`","scheduledAt":"today at 3pm"}`)

	today := f.call(t, "get_todays_schedule", `{}`)
	if today["total"].(float64) != 1 || today["date"] != "2026-05-04" {
		t.Errorf("today = %v", today)
	}
	if got := f.call(t, "get_upcoming_tasks", `{"days":3}`); got["count"].(float64) != 1 {
		t.Errorf("upcoming = %v", got)
	}

	f.call(t, "mark_task_complete", `{"blockId":"`+id+`","completedAt":"2026-05-04T15:30:00Z"}`)
	b, _ := f.blocks.GetBlock(context.Background(), id)
	if b.Metadata.CompletedAt == nil || b.Metadata.CompletedAt.Hour() != 15 {
		t.Errorf("completedAt = %v", b.Metadata.CompletedAt)
	}
	if got := f.call(t, "get_upcoming_tasks", `{}`); got["count"].(float64) != 0 {
		t.Errorf("completed task still upcoming: %v", got)
	}

	text := blockID(t, f.call(t, "create_text_block", `{"text":"not a task"}`))
	if _, err := f.try("mark_task_complete", `{"blockId":"`+text+`"}`); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("non-todo err = %v", err)
	}
}

func TestTemplateTools(t *testing.T) {
	f := newFixture(t)

	list := f.call(t, "list_templates", `{}`)
	if list["count"].(float64) != 2 {
		t.Fatalf("list = %v", list)
	}

	created := f.call(t, "create_template", `{
		"name": "Trip plan", "category": "project",
		"blocks": [
			{"type": "heading", "position": 0, "content": {"text": "Trip to {{place}}", "level": 1}},
			{"type": "todo", "position": 1, "content": {"text": "Book flights"}}
		]
	}`)
	id := created["template"].(map[string]any)["id"].(string)

	found := f.call(t, "search_templates", `{"query":"trip"}`)
	if found["count"].(float64) != 1 {
		t.Errorf("search = %v", found)
	}

	inst := f.call(t, "create_from_template", `{"templateId":"`+id+`","customData":{"place":"Lisbon"}}`)
	if inst["count"].(float64) != 2 {
		t.Fatalf("instantiate = %v", inst)
	}
	heading := inst["blocks"].([]any)[0].(map[string]any)["content"].(map[string]any)
	if heading["text"] != "Trip to Lisbon" {
		t.Errorf("heading = %v", heading)
	}

	f.call(t, "update_template", `{"templateId":"`+id+`","name":"Trip checklist"}`)
	got := f.call(t, "get_template", `{"templateId":"`+id+`"}`)
	tpl := got["template"].(map[string]any)
	if tpl["name"] != "Trip checklist" || tpl["metadata"].(map[string]any)["usageCount"].(float64) != 1 {
		t.Errorf("template = %v", tpl)
	}

	defaults := f.templates.ListByUser(context.Background(), "u1", templates.ListOptions{})
	var public string
	for _, d := range defaults {
		if d.UserID == templates.SystemUserID {
			public = d.ID
		}
	}
	if _, err := f.try("delete_template", `{"templateId":"`+public+`"}`); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("delete public err = %v, want validation", err)
	}

	f.call(t, "delete_template", `{"templateId":"`+id+`"}`)
	if _, err := f.try("get_template", `{"templateId":"`+id+`"}`); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("get deleted err = %v", err)
	}
}

func TestFillTools(t *testing.T) {
	f := newFixture(t)

	out := f.call(t, "intelligent_fill", `{"userInput":"remind me to buy milk tomorrow at 5pm"}`)
	if out["action"] != "create" {
		t.Errorf("action = %v, want create", out["action"])
	}
	b := out["block"].(map[string]any)
	if b["type"] != "todo" {
		t.Errorf("type = %v, want todo", b["type"])
	}
	if at := b["metadata"].(map[string]any)["scheduledAt"]; at != "2026-05-05T17:00:00Z" {
		t.Errorf("scheduledAt = %v", at)
	}

	sugg := f.call(t, "get_fill_suggestions", `{"userInput":"remind me to buy eggs"}`)
	if len(sugg["suggestions"].([]any)) == 0 {
		t.Errorf("no suggestions")
	}

	analysis := f.call(t, "analyze_content", `{"content":"Call Alice tomorrow at 9am","extractTimeInfo":false}`)
	if analysis["timeInfo"] != nil {
		t.Errorf("timeInfo = %v, want omitted", analysis["timeInfo"])
	}
	if analysis["intent"] == "" {
		t.Errorf("analysis = %v", analysis)
	}
}
