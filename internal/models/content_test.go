package models

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/starford/lifeagent/internal/apperr"
)

func TestDecodeContent_Valid(t *testing.T) {
	c, err := DecodeContent(TypeTodo, []byte(`{"text":"buy milk","checked":true,"priority":"high"}`))
	if err != nil {
		t.Fatalf("DecodeContent: %v", err)
	}
	todo, ok := c.(TodoContent)
	if !ok {
		t.Fatalf("content = %T, want TodoContent", c)
	}
	if todo.Text != "buy milk" || !todo.Checked || todo.Priority != PriorityHigh {
		t.Errorf("todo = %+v", todo)
	}
}

func TestDecodeContent_Rejects(t *testing.T) {
	cases := []struct {
		name string
		typ  BlockType
		raw  string
	}{
		{"unknown field", TypeText, `{"text":"a","level":2}`},
		{"heading level out of range", TypeHeading, `{"level":7,"text":"x"}`},
		{"heading shape for todo", TypeTodo, `{"level":2,"text":"x"}`},
		{"empty text", TypeText, `{"text":""}`},
		{"bad callout kind", TypeCallout, `{"type":"shout","text":"x"}`},
		{"ragged table row", TypeTable, `{"headers":["a","b"],"rows":[["1"]]}`},
		{"bad page layout", TypePage, `{"title":"p","layout":"grid"}`},
		{"bad priority", TypeTodo, `{"text":"x","priority":"urgent"}`},
		{"unknown type", BlockType("image"), `{"text":"x"}`},
		{"empty body", TypeText, ``},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeContent(tc.typ, []byte(tc.raw))
			if !errors.Is(err, apperr.ErrValidation) {
				t.Errorf("err = %v, want ErrValidation", err)
			}
		})
	}
}

func TestCheckContent_TypeMismatch(t *testing.T) {
	_, err := CheckContent(TypeHeading, TextContent{Text: "hello"})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestCheckContent_PageDefaults(t *testing.T) {
	c, err := CheckContent(TypePage, PageContent{Title: "Trip"})
	if err != nil {
		t.Fatalf("CheckContent: %v", err)
	}
	p := c.(PageContent)
	if p.Layout != LayoutDefault || p.Visibility != VisibilityPrivate {
		t.Errorf("page defaults = %q/%q", p.Layout, p.Visibility)
	}
	if p.ChildBlocks == nil {
		t.Error("childBlocks should default to empty slice")
	}
}

func TestFlattenText(t *testing.T) {
	cases := []struct {
		c    Content
		want string
	}{
		{TextContent{Text: "hello"}, "hello"},
		{HeadingContent{Level: 1, Text: "Title"}, "Title"},
		{TodoContent{Text: "task"}, "task"},
		{CalloutContent{Kind: CalloutInfo, Text: "note"}, "note"},
		{TableContent{Headers: []string{"Item", "Details"}, Rows: [][]string{{"milk", ""}}}, "Item Details milk"},
		{PageContent{Title: "Home", Description: "start here"}, "Home start here"},
	}
	for _, tc := range cases {
		if got := FlattenText(tc.c); got != tc.want {
			t.Errorf("FlattenText(%T) = %q, want %q", tc.c, got, tc.want)
		}
	}
}

func TestBlockJSON(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	in := Block{
		ID:        "b1",
		Type:      TypeCallout,
		Content:   CalloutContent{Kind: CalloutWarning, Text: "careful"},
		Metadata:  Metadata{Tags: []string{"x", "x", "y"}},
		UserID:    "u1",
		CreatedAt: now,
		UpdatedAt: now,
	}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var out Block
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out.Content != in.Content {
		t.Errorf("content = %+v, want %+v", out.Content, in.Content)
	}
	if out.Metadata.Category != DefaultCategory {
		t.Errorf("category = %q, want %q", out.Metadata.Category, DefaultCategory)
	}
	if len(out.Metadata.Tags) != 2 {
		t.Errorf("tags = %v, want deduplicated", out.Metadata.Tags)
	}
}

func TestBlockJSON_RejectsMismatchedContent(t *testing.T) {
	var b Block
	err := json.Unmarshal([]byte(`{"id":"b","type":"heading","content":{"text":"x","checked":false}}`), &b)
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestMetadataMerge(t *testing.T) {
	at := time.Date(2026, 3, 2, 17, 0, 0, 0, time.UTC)
	base := Metadata{Tags: []string{"home"}, Category: "errands", Priority: PriorityLow}
	got := base.Merge(Metadata{Tags: []string{"shopping"}, ScheduledAt: &at})
	if got.Category != "errands" || got.Priority != PriorityLow {
		t.Errorf("unrelated fields lost: %+v", got)
	}
	if got.ScheduledAt == nil || !got.ScheduledAt.Equal(at) {
		t.Errorf("scheduledAt = %v, want %v", got.ScheduledAt, at)
	}
	if len(got.Tags) != 2 {
		t.Errorf("tags = %v, want union", got.Tags)
	}
}
