package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/starford/lifeagent/internal/apperr"
	"github.com/starford/lifeagent/internal/blockservice"
	"github.com/starford/lifeagent/internal/llm"
	"github.com/starford/lifeagent/internal/tools"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// scriptedModel replays responses in order and records every request.
type scriptedModel struct {
	mu        sync.Mutex
	responses []*llm.Response
	err       error
	requests  []llm.Request
}

func (m *scriptedModel) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if m.err != nil {
		return nil, m.err
	}
	if len(m.responses) == 0 {
		return &llm.Response{Text: "done"}, nil
	}
	r := m.responses[0]
	m.responses = m.responses[1:]
	return r, nil
}

func call(id, name, args string) llm.ToolCall {
	return llm.ToolCall{ID: id, Name: name, Arguments: json.RawMessage(args)}
}

type staticStats struct{ ov blockservice.Overview }

func (s staticStats) Overview(context.Context, string) (*blockservice.Overview, error) {
	return &s.ov, nil
}

type recorder struct {
	mu    sync.Mutex
	calls []string
	users []string
}

func testRegistry(t *testing.T, rec *recorder) *tools.Registry {
	t.Helper()
	r := tools.NewRegistry(quietLogger())
	r.Register(tools.Tool{
		Name:        "create_note",
		Description: "create a note",
		Schema:      tools.Schema{{Name: "text", Kind: tools.KindString, Required: true}},
		Handler: func(ctx context.Context, a tools.Args) (any, error) {
			rec.mu.Lock()
			defer rec.mu.Unlock()
			rec.calls = append(rec.calls, "create_note:"+a.String("text"))
			rec.users = append(rec.users, tools.UserIDFrom(ctx))
			return map[string]string{"id": "b1"}, nil
		},
	})
	r.Register(tools.Tool{
		Name:        "explode",
		Description: "always fails",
		Handler: func(context.Context, tools.Args) (any, error) {
			rec.mu.Lock()
			defer rec.mu.Unlock()
			rec.calls = append(rec.calls, "explode")
			return nil, errors.New("boom")
		},
	})
	return r
}

func newAgent(t *testing.T, m llm.Model, rec *recorder) *Agent {
	t.Helper()
	stats := staticStats{ov: blockservice.Overview{ActiveProjects: 2, PendingTasks: 7}}
	return New("c1", "u1", m, testRegistry(t, rec), stats, Config{}, quietLogger())
}

func TestSend_NoToolsSucceeds(t *testing.T) {
	m := &scriptedModel{responses: []*llm.Response{{Text: "Hello there"}}}
	a := newAgent(t, m, &recorder{})

	reply, err := a.Send(context.Background(), "hi")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if reply.Message != "Hello there" || !reply.Success || len(reply.ToolResults) != 0 {
		t.Errorf("reply = %+v", reply)
	}
	if a.State() != StateIdle {
		t.Errorf("state = %s, want idle", a.State())
	}

	hist := a.History()
	if len(hist) != 2 || hist[0].Role != llm.RoleUser || hist[1].Content != "Hello there" {
		t.Errorf("history = %+v", hist)
	}

	req := m.requests[0]
	if len(req.Tools) != 2 || req.Tools[0].Name != "create_note" {
		t.Errorf("tools = %+v", req.Tools)
	}
	if !strings.Contains(req.System, "Active projects: 2") || !strings.Contains(req.System, "Pending tasks: 7") {
		t.Errorf("system prompt lacks overview: %q", req.System)
	}
}

func TestSend_OneToolFailsOneSucceeds(t *testing.T) {
	m := &scriptedModel{responses: []*llm.Response{
		{Text: "Working on it", ToolCalls: []llm.ToolCall{
			call("t1", "explode", `{}`),
			call("t2", "create_note", `{"text":"milk"}`),
		}},
		{Text: "Saved your note."},
	}}
	rec := &recorder{}
	a := newAgent(t, m, rec)

	reply, err := a.Send(context.Background(), "note milk")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(reply.ToolResults) != 2 {
		t.Fatalf("tool results = %d, want 2", len(reply.ToolResults))
	}
	if !reply.Success {
		t.Error("success = false, want true when one tool succeeded")
	}
	if !errors.Is(reply.Err(), apperr.ErrPartialToolFailure) {
		t.Errorf("Err = %v, want partial failure", reply.Err())
	}
	if got := strings.Join(rec.calls, ","); got != "explode,create_note:milk" {
		t.Errorf("execution order = %s", got)
	}
	if rec.users[0] != "u1" {
		t.Errorf("tool user = %q, want u1", rec.users[0])
	}

	want := "Saved your note.\n\nCompleted actions: create_note\n\nFailed actions: explode (boom)"
	if reply.Message != want {
		t.Errorf("message = %q\nwant %q", reply.Message, want)
	}

	second := m.requests[1].Messages
	if n := len(second); n != 4 {
		t.Fatalf("second request messages = %d, want user, assistant and two tool results", n)
	}
	if second[2].Role != llm.RoleTool || !second[2].IsError || second[2].ToolCallID != "t1" {
		t.Errorf("first tool message = %+v", second[2])
	}
	if second[3].Content != `{"id":"b1"}` {
		t.Errorf("second tool message = %+v", second[3])
	}
}

func TestSend_AllToolsFail(t *testing.T) {
	m := &scriptedModel{responses: []*llm.Response{
		{ToolCalls: []llm.ToolCall{call("t1", "explode", `{}`), call("t2", "missing_tool", `{}`)}},
		{Text: ""},
	}}
	a := newAgent(t, m, &recorder{})

	reply, err := a.Send(context.Background(), "do it")
	if err != nil {
		t.Fatal(err)
	}
	if reply.Success {
		t.Error("success = true, want false")
	}
	if reply.Err() != nil {
		t.Errorf("Err = %v, want nil when every call failed", reply.Err())
	}
	if !strings.HasPrefix(reply.Message, "Failed actions: explode (boom); missing_tool (") {
		t.Errorf("message = %q", reply.Message)
	}
}

func TestSend_InvalidArgumentsReportedPerTool(t *testing.T) {
	m := &scriptedModel{responses: []*llm.Response{
		{ToolCalls: []llm.ToolCall{call("t1", "create_note", `{"text": 5}`)}},
		{Text: "Could not save."},
	}}
	a := newAgent(t, m, &recorder{})
	reply, err := a.Send(context.Background(), "save 5")
	if err != nil {
		t.Fatal(err)
	}
	if reply.ToolResults[0].Success || !strings.Contains(reply.ToolResults[0].Error, "validation") {
		t.Errorf("result = %+v", reply.ToolResults[0])
	}
}

func TestSend_ModelFailureApologisesWithoutHistory(t *testing.T) {
	m := &scriptedModel{err: fmt.Errorf("%w: upstream down", apperr.ErrExternalService)}
	a := newAgent(t, m, &recorder{})
	a.SetSystemMessage("custom")

	reply, err := a.Send(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if reply.Message != Apology || reply.Success || len(reply.ToolResults) != 0 {
		t.Errorf("reply = %+v", reply)
	}
	if hist := a.History(); len(hist) != 1 || hist[0].Role != llm.RoleSystem {
		t.Errorf("history = %+v, want only the system turn", hist)
	}
}

func TestSend_StopsAfterMaxRoundTrips(t *testing.T) {
	loop := &llm.Response{Text: "again", ToolCalls: []llm.ToolCall{call("t", "create_note", `{"text":"x"}`)}}
	m := &scriptedModel{}
	for range 10 {
		m.responses = append(m.responses, loop)
	}
	rec := &recorder{}
	a := newAgent(t, m, rec)

	reply, err := a.Send(context.Background(), "loop")
	if err != nil {
		t.Fatal(err)
	}
	if len(m.requests) != DefaultMaxRoundTrips {
		t.Errorf("model calls = %d, want %d", len(m.requests), DefaultMaxRoundTrips)
	}
	if len(reply.ToolResults) != DefaultMaxRoundTrips {
		t.Errorf("tool results = %d", len(reply.ToolResults))
	}
}

func TestSend_SystemMessageOverridesPrompt(t *testing.T) {
	m := &scriptedModel{}
	a := newAgent(t, m, &recorder{})
	a.SetSystemMessage("Answer like a pirate.")
	if _, err := a.Send(context.Background(), "hi"); err != nil {
		t.Fatal(err)
	}
	sys := m.requests[0].System
	if !strings.HasPrefix(sys, "Answer like a pirate.") || strings.Contains(sys, "life-management") {
		t.Errorf("system = %q", sys)
	}
	for _, msg := range m.requests[0].Messages {
		if msg.Role == llm.RoleSystem {
			t.Error("system turn sent as a message")
		}
	}
}

func TestSend_EmptyMessage(t *testing.T) {
	a := newAgent(t, &scriptedModel{}, &recorder{})
	if _, err := a.Send(context.Background(), "  "); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("err = %v, want validation", err)
	}
}

func TestSend_HistoryStaysBounded(t *testing.T) {
	a := newAgent(t, &scriptedModel{}, &recorder{})
	for i := range 11 {
		if _, err := a.Send(context.Background(), "turn"); err != nil {
			t.Fatalf("turn %d: %v", i, err)
		}
		if n := len(a.History()); n > DefaultHistoryCapacity {
			t.Fatalf("turn %d: history = %d", i, n)
		}
	}
	// 22 messages: eviction at the 21st keeps 16, the 22nd makes 17.
	if n := len(a.History()); n != DefaultHistoryRetain+1 {
		t.Errorf("history = %d, want %d", n, DefaultHistoryRetain+1)
	}
}
