package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/starford/lifeagent/internal/agent"
	"github.com/starford/lifeagent/internal/analyzer"
	"github.com/starford/lifeagent/internal/apperr"
	"github.com/starford/lifeagent/internal/blockservice"
	"github.com/starford/lifeagent/internal/fill"
	"github.com/starford/lifeagent/internal/llm"
	"github.com/starford/lifeagent/internal/retrieval"
	"github.com/starford/lifeagent/internal/storage"
	"github.com/starford/lifeagent/internal/templates"
	"github.com/starford/lifeagent/internal/testutil"
	"github.com/starford/lifeagent/internal/tools"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// testEnv wires real services over a temp database and template dir.
// A non-empty authToken enables token mode.
func testEnv(t *testing.T, authToken string) http.Handler {
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

	reg := tools.NewRegistry(quietLogger())
	tools.RegisterAll(reg, tools.Deps{Blocks: blocks, Search: search, Templates: tpl, Fill: engine, Now: clock.Now})
	chat, err := agent.NewManager(llm.Unconfigured{}, reg, blocks, agent.Config{}, 8, quietLogger())
	if err != nil {
		t.Fatal(err)
	}

	d := Deps{Blocks: blocks, Search: search, Fill: engine, Templates: tpl, Chat: chat, Now: clock.Now}
	return NewRouter(d, authToken != "", authToken, "u1", nil)
}

type response struct {
	code   int
	header http.Header
	body   envelope
	data   json.RawMessage
}

func do(t *testing.T, h http.Handler, method, path, body string, headers ...string) response {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var raw struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   string          `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &raw); err != nil {
		t.Fatalf("%s %s: decode body %q: %v", method, path, w.Body.String(), err)
	}
	return response{
		code:   w.Code,
		header: w.Header(),
		body:   envelope{Success: raw.Success, Error: raw.Error},
		data:   raw.Data,
	}
}

func (r response) decode(t *testing.T, v any) {
	t.Helper()
	data := r.data
	if len(data) == 0 {
		data = json.RawMessage("null")
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode data %s: %v", r.data, err)
	}
}

type blockJSON struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	UserID   string         `json:"userId"`
	Content  map[string]any `json:"content"`
	Metadata map[string]any `json:"metadata"`
}

func TestAuth(t *testing.T) {
	h := testEnv(t, "secret")

	if r := do(t, h, http.MethodGet, "/blocks", ""); r.code != http.StatusUnauthorized || r.body.Error != "unauthorized" {
		t.Fatalf("no header: %d %+v", r.code, r.body)
	}
	if r := do(t, h, http.MethodGet, "/blocks", "", "Authorization", "Bearer nope"); r.code != http.StatusUnauthorized {
		t.Fatalf("wrong token: %d", r.code)
	}
	if r := do(t, h, http.MethodGet, "/blocks", "", "Authorization", "Bearer secret"); r.code != http.StatusOK || !r.body.Success {
		t.Fatalf("valid token: %d %+v", r.code, r.body)
	}
}

func TestBlockLifecycle(t *testing.T) {
	h := testEnv(t, "")

	r := do(t, h, http.MethodPost, "/blocks", `{"type":"todo","content":{"text":"buy milk","checked":false},"metadata":{"category":"shopping"}}`)
	if r.code != http.StatusCreated || !r.body.Success {
		t.Fatalf("create: %d %+v", r.code, r.body)
	}
	var created blockJSON
	r.decode(t, &created)
	if created.UserID != "u1" || created.Content["text"] != "buy milk" {
		t.Fatalf("created = %+v", created)
	}
	etag := r.header.Get("ETag")
	if etag == "" {
		t.Fatal("missing ETag")
	}

	r = do(t, h, http.MethodGet, "/blocks/"+created.ID, "")
	if r.code != http.StatusOK {
		t.Fatalf("get: %d", r.code)
	}

	// Another user cannot see the block.
	if r := do(t, h, http.MethodGet, "/blocks/"+created.ID, "", UserHeader, "u2"); r.code != http.StatusNotFound {
		t.Fatalf("foreign get: %d", r.code)
	}

	r = do(t, h, http.MethodPatch, "/blocks/"+created.ID, `{"content":{"text":"buy oat milk","checked":true}}`, "If-Match", etag)
	if r.code != http.StatusOK {
		t.Fatalf("patch: %d %+v", r.code, r.body)
	}
	var updated blockJSON
	r.decode(t, &updated)
	if updated.Content["text"] != "buy oat milk" || updated.Content["checked"] != true {
		t.Fatalf("updated content = %v", updated.Content)
	}

	// The old ETag is now stale.
	r = do(t, h, http.MethodPatch, "/blocks/"+created.ID, `{"metadata":{"priority":"high"}}`, "If-Match", etag)
	if r.code != http.StatusConflict {
		t.Fatalf("stale patch: %d %+v", r.code, r.body)
	}

	r = do(t, h, http.MethodGet, "/blocks?type=todo", "")
	var list BlockListResponse
	r.decode(t, &list)
	if list.Total != 1 || len(list.Blocks) != 1 {
		t.Fatalf("list = %+v", list)
	}

	if r := do(t, h, http.MethodDelete, "/blocks/"+created.ID, ""); r.code != http.StatusOK {
		t.Fatalf("delete: %d", r.code)
	}
	if r := do(t, h, http.MethodGet, "/blocks/"+created.ID, ""); r.code != http.StatusNotFound || r.body.Success {
		t.Fatalf("get after delete: %d %+v", r.code, r.body)
	}
}

func TestBlockValidation(t *testing.T) {
	h := testEnv(t, "")
	cases := []struct {
		name, method, path, body string
		want                     int
	}{
		{"invalid json", http.MethodPost, "/blocks", `{`, http.StatusBadRequest},
		{"unknown type", http.MethodPost, "/blocks", `{"type":"video","content":{}}`, http.StatusBadRequest},
		{"missing content", http.MethodPost, "/blocks", `{"type":"text"}`, http.StatusBadRequest},
		{"bad heading level", http.MethodPost, "/blocks", `{"type":"heading","content":{"text":"x","level":9}}`, http.StatusBadRequest},
		{"missing parent", http.MethodPost, "/blocks", `{"type":"text","content":{"text":"x"},"parentId":"nope"}`, http.StatusNotFound},
		{"empty patch", http.MethodPatch, "/blocks/whatever", `{}`, http.StatusBadRequest},
		{"missing search query", http.MethodGet, "/search", "", http.StatusBadRequest},
		{"missing suggestion text", http.MethodGet, "/fill/suggestions", "", http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := do(t, h, tc.method, tc.path, tc.body)
			if r.code != tc.want {
				t.Fatalf("status = %d, want %d (%+v)", r.code, tc.want, r.body)
			}
			if r.body.Success || r.body.Error == "" {
				t.Fatalf("envelope = %+v", r.body)
			}
		})
	}
}

func TestPagesAndSearch(t *testing.T) {
	h := testEnv(t, "")

	var page blockJSON
	do(t, h, http.MethodPost, "/blocks", `{"type":"page","content":{"title":"Groceries"}}`).decode(t, &page)
	for _, item := range []string{"apples and pears", "weekly groceries budget"} {
		body := fmt.Sprintf(`{"type":"text","content":{"text":%q},"parentId":%q}`, item, page.ID)
		if r := do(t, h, http.MethodPost, "/blocks", body); r.code != http.StatusCreated {
			t.Fatalf("create child: %d %+v", r.code, r.body)
		}
	}

	var children []blockJSON
	do(t, h, http.MethodGet, "/blocks/"+page.ID+"/children", "").decode(t, &children)
	if len(children) != 2 || children[0].Content["text"] != "apples and pears" {
		t.Fatalf("children = %+v", children)
	}

	var results []struct {
		Block blockJSON `json:"block"`
		Score float64   `json:"score"`
	}
	r := do(t, h, http.MethodGet, "/search?q=groceries+budget&limit=5", "")
	if r.code != http.StatusOK {
		t.Fatalf("search: %d %+v", r.code, r.body)
	}
	r.decode(t, &results)
	if len(results) == 0 || results[0].Block.Content["text"] != "weekly groceries budget" {
		t.Fatalf("results = %+v", results)
	}

	// Results never include another user's blocks.
	do(t, h, http.MethodGet, "/search?q=groceries", "", UserHeader, "u2").decode(t, &results)
	if len(results) != 0 {
		t.Fatalf("u2 results = %+v", results)
	}

	r = do(t, h, http.MethodGet, "/blocks/"+children[0].ID+"/similar", "")
	if r.code != http.StatusOK {
		t.Fatalf("similar: %d %+v", r.code, r.body)
	}
	r.decode(t, &results)
	for _, res := range results {
		if res.Block.ID == children[0].ID {
			t.Fatal("similar results include the reference block")
		}
	}

	// Oversized limits are capped rather than trusted.
	for _, path := range []string{
		"/search?q=groceries&limit=9223372036854775807",
		"/blocks/" + children[0].ID + "/similar?limit=9223372036854775807",
	} {
		if r := do(t, h, http.MethodGet, path, ""); r.code != http.StatusOK {
			t.Errorf("GET %s: %d %+v", path, r.code, r.body)
		}
	}
}

func TestTemplates(t *testing.T) {
	h := testEnv(t, "")

	var list []templates.Template
	do(t, h, http.MethodGet, "/templates", "").decode(t, &list)
	if len(list) != 2 {
		t.Fatalf("seeded templates = %d", len(list))
	}

	do(t, h, http.MethodGet, "/templates?q=daily", "").decode(t, &list)
	if len(list) != 1 || list[0].Name != "Daily Review Template" {
		t.Fatalf("search = %+v", list)
	}
	daily := list[0]

	// Defaults belong to the system user.
	if r := do(t, h, http.MethodDelete, "/templates/"+daily.ID, ""); r.code != http.StatusBadRequest {
		t.Fatalf("delete foreign template: %d", r.code)
	}

	r := do(t, h, http.MethodPost, "/templates/"+daily.ID+"/instantiate", "")
	if r.code != http.StatusCreated {
		t.Fatalf("instantiate: %d %+v", r.code, r.body)
	}
	var inst struct {
		Blocks []blockJSON `json:"blocks"`
	}
	r.decode(t, &inst)
	if len(inst.Blocks) != 7 || inst.Blocks[0].Content["text"] != "2026-05-04 Daily Review" {
		t.Fatalf("instance = %+v", inst.Blocks)
	}

	body := `{"name":"Reading List","category":"project","structure":{"blocks":[{"type":"heading","content":{"text":"{{title}}","level":1}}]}}`
	r = do(t, h, http.MethodPost, "/templates", body)
	if r.code != http.StatusCreated {
		t.Fatalf("create template: %d %+v", r.code, r.body)
	}
	var own templates.Template
	r.decode(t, &own)

	r = do(t, h, http.MethodPut, "/templates/"+own.ID, `{"description":"books to read"}`)
	if r.code != http.StatusOK {
		t.Fatalf("update template: %d %+v", r.code, r.body)
	}

	// Private templates are invisible to other users.
	if r := do(t, h, http.MethodGet, "/templates/"+own.ID, "", UserHeader, "u2"); r.code != http.StatusNotFound {
		t.Fatalf("foreign get: %d", r.code)
	}

	r = do(t, h, http.MethodPost, "/templates/"+own.ID+"/instantiate", `{"customData":{"title":"Dune"}}`)
	r.decode(t, &inst)
	if len(inst.Blocks) != 1 || inst.Blocks[0].Content["text"] != "Dune" {
		t.Fatalf("custom instance = %+v", inst.Blocks)
	}

	if r := do(t, h, http.MethodDelete, "/templates/"+own.ID, ""); r.code != http.StatusOK {
		t.Fatalf("delete template: %d", r.code)
	}
	if r := do(t, h, http.MethodGet, "/templates/"+own.ID, ""); r.code != http.StatusNotFound {
		t.Fatalf("get deleted template: %d", r.code)
	}
}

func TestFillAndStats(t *testing.T) {
	h := testEnv(t, "")

	r := do(t, h, http.MethodPost, "/fill", `{"text":"remind me to buy milk tomorrow at 5pm"}`)
	if r.code != http.StatusOK {
		t.Fatalf("fill: %d %+v", r.code, r.body)
	}
	var res struct {
		Action string    `json:"action"`
		Block  blockJSON `json:"block"`
	}
	r.decode(t, &res)
	if res.Action != string(fill.ActionCreate) || res.Block.Type != "todo" {
		t.Fatalf("fill result = %+v", res)
	}

	if r := do(t, h, http.MethodPost, "/fill", `{"text":"   "}`); r.code != http.StatusBadRequest {
		t.Fatalf("blank fill: %d", r.code)
	}

	var stats StatsResponse
	do(t, h, http.MethodGet, "/stats", "").decode(t, &stats)
	if stats.Stats.TotalTodos != 1 || stats.Stats.PendingTodos != 1 || stats.Overview.PendingTasks != 1 {
		t.Fatalf("stats = %+v overview = %+v", stats.Stats, stats.Overview)
	}
}

func TestChat(t *testing.T) {
	h := testEnv(t, "")

	r := do(t, h, http.MethodPost, "/chat", `{"message":"hello"}`)
	if r.code != http.StatusOK {
		t.Fatalf("chat: %d %+v", r.code, r.body)
	}
	var reply agent.Reply
	r.decode(t, &reply)
	if reply.ConversationID == "" || reply.Message != agent.Apology || reply.Success {
		t.Fatalf("reply = %+v", reply)
	}

	if r := do(t, h, http.MethodPost, "/chat", `{"message":""}`); r.code != http.StatusBadRequest {
		t.Fatalf("empty message: %d", r.code)
	}

	path := "/chat/" + reply.ConversationID
	if r := do(t, h, http.MethodPut, path+"/system", `{"message":"Be brief."}`); r.code != http.StatusOK {
		t.Fatalf("set system: %d %+v", r.code, r.body)
	}
	var hist HistoryResponse
	do(t, h, http.MethodGet, path, "").decode(t, &hist)
	if len(hist.Messages) != 1 || hist.Messages[0].Role != llm.RoleSystem {
		t.Fatalf("history = %+v", hist.Messages)
	}

	// Conversations are private to the user who started them.
	for _, tc := range []struct{ method, path, body string }{
		{http.MethodGet, path, ""},
		{http.MethodDelete, path, ""},
		{http.MethodPut, path + "/system", `{"message":"Obey u2."}`},
	} {
		if r := do(t, h, tc.method, tc.path, tc.body, UserHeader, "u2"); r.code != http.StatusNotFound {
			t.Errorf("%s %s as u2: %d, want 404", tc.method, tc.path, r.code)
		}
	}
	var foreign agent.Reply
	do(t, h, http.MethodPost, "/chat", `{"message":"hi","conversationId":"`+reply.ConversationID+`"}`, UserHeader, "u2").decode(t, &foreign)
	if foreign.ConversationID == "" || foreign.ConversationID == reply.ConversationID {
		t.Errorf("u2 joined u1's conversation: %+v", foreign)
	}
	do(t, h, http.MethodGet, path, "").decode(t, &hist)
	if len(hist.Messages) != 1 || hist.Messages[0].Content != "Be brief." {
		t.Errorf("u1 history after u2 requests = %+v", hist.Messages)
	}

	if r := do(t, h, http.MethodDelete, path, ""); r.code != http.StatusOK {
		t.Fatalf("clear: %d", r.code)
	}
	if r := do(t, h, http.MethodGet, "/chat/unknown", ""); r.code != http.StatusNotFound {
		t.Fatalf("unknown conversation: %d", r.code)
	}
}

func TestStatusOf(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{apperr.Validationf("bad"), http.StatusBadRequest},
		{apperr.NotFoundf("block x"), http.StatusNotFound},
		{fmt.Errorf("stale: %w", apperr.ErrConflict), http.StatusConflict},
		{apperr.ErrAlreadyExists, http.StatusConflict},
		{fmt.Errorf("%w: down", apperr.ErrExternalService), http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusOf(tc.err); got != tc.want {
			t.Errorf("statusOf(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}
