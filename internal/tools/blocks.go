package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/starford/lifeagent/internal/apperr"
	"github.com/starford/lifeagent/internal/blockservice"
	"github.com/starford/lifeagent/internal/models"
	"github.com/starford/lifeagent/internal/retrieval"
)

var (
	categoryParam = Param{Name: "category", Kind: KindString, Description: "Category for organization"}
	tagsParam     = Param{Name: "tags", Kind: KindArray, Description: "Tags for the block", Items: &Param{Kind: KindString}}
	parentParam   = Param{Name: "parentId", Kind: KindString, Description: "Parent page block ID"}
	blockIDParam  = Param{Name: "blockId", Kind: KindString, Description: "Block ID", Required: true}
	priorityParam = Param{Name: "priority", Kind: KindString, Description: "Priority", Enum: []string{"high", "medium", "low"}}
	typeParam     = Param{Name: "type", Kind: KindString, Description: "Filter by block type", Enum: blockTypeNames()}
)

func blockTypeNames() []string {
	out := make([]string, len(models.BlockTypes))
	for i, t := range models.BlockTypes {
		out[i] = string(t)
	}
	return out
}

func notFoundBlock(id string) error { return apperr.NotFoundf("block %s", id) }

func blockTools(d Deps) []Tool {
	ts := []Tool{
		{
			Name:        "create_text_block",
			Description: "Create a text block with free-form content",
			Schema: Schema{
				{Name: "text", Kind: KindString, Description: "The text content", Required: true},
				categoryParam, tagsParam, parentParam, userParam,
			},
			Handler: func(ctx context.Context, a Args) (any, error) {
				return createBlock(ctx, d, a, models.TextContent{Text: a.String("text")}, "general", nil)
			},
		},
		{
			Name:        "create_heading_block",
			Description: "Create a heading block for document structure",
			Schema: Schema{
				{Name: "text", Kind: KindString, Description: "The heading text", Required: true},
				{Name: "level", Kind: KindInteger, Description: "Heading level, 1 is largest", Required: true, Min: Bound(1), Max: Bound(6)},
				{Name: "anchor", Kind: KindString, Description: "Anchor ID for linking"},
				categoryParam, parentParam, userParam,
			},
			Handler: func(ctx context.Context, a Args) (any, error) {
				c := models.HeadingContent{Level: a.Int("level"), Text: a.String("text"), Anchor: a.String("anchor")}
				return createBlock(ctx, d, a, c, "general", nil)
			},
		},
		{
			Name:        "create_todo_block",
			Description: "Create a todo block for task management",
			Schema: Schema{
				{Name: "text", Kind: KindString, Description: "The task description", Required: true},
				priorityParam,
				{Name: "dueDate", Kind: KindString, Description: "Due date, ISO 8601"},
				{Name: "scheduledAt", Kind: KindString, Description: "Scheduled time, ISO 8601"},
				categoryParam, tagsParam, parentParam, userParam,
			},
			Handler: func(ctx context.Context, a Args) (any, error) {
				due, err := a.Time("dueDate")
				if err != nil {
					return nil, err
				}
				at, err := a.Time("scheduledAt")
				if err != nil {
					return nil, err
				}
				prio := models.Priority(a.String("priority"))
				c := models.TodoContent{Text: a.String("text"), Priority: prio}
				return createBlock(ctx, d, a, c, "tasks", func(m *models.Metadata) {
					m.Priority = prio
					m.DueDate = due
					m.ScheduledAt = at
				})
			},
		},
		{
			Name:        "create_table_block",
			Description: "Create a table block for structured data",
			Schema: Schema{
				{Name: "headers", Kind: KindArray, Description: "Column headers", Required: true, Items: &Param{Kind: KindString}},
				{Name: "rows", Kind: KindArray, Description: "Table rows, each an array of cells", Required: true,
					Items: &Param{Kind: KindArray, Items: &Param{Kind: KindString}}},
				categoryParam, tagsParam, parentParam, userParam,
			},
			Handler: func(ctx context.Context, a Args) (any, error) {
				c := models.TableContent{Headers: a.Strings("headers"), Rows: a.Rows("rows")}
				return createBlock(ctx, d, a, c, "data", nil)
			},
		},
		{
			Name:        "create_callout_block",
			Description: "Create a callout block that highlights important information",
			Schema: Schema{
				{Name: "text", Kind: KindString, Description: "The callout text", Required: true},
				{Name: "type", Kind: KindString, Description: "Callout style", Required: true,
					Enum: []string{"info", "warning", "error", "success"}},
				{Name: "icon", Kind: KindString, Description: "Emoji or icon name"},
				categoryParam, parentParam, userParam,
			},
			Handler: func(ctx context.Context, a Args) (any, error) {
				c := models.CalloutContent{Kind: models.CalloutKind(a.String("type")), Text: a.String("text"), Icon: a.String("icon")}
				return createBlock(ctx, d, a, c, "general", nil)
			},
		},
		{
			Name:        "create_page_block",
			Description: "Create a page block that can contain other blocks",
			Schema: Schema{
				{Name: "title", Kind: KindString, Description: "Page title", Required: true},
				{Name: "description", Kind: KindString, Description: "Page description"},
				{Name: "icon", Kind: KindString, Description: "Page icon"},
				{Name: "layout", Kind: KindString, Description: "Page layout",
					Enum: []string{models.LayoutDefault, models.LayoutDashboard, models.LayoutKanban, models.LayoutCalendar}},
				{Name: "visibility", Kind: KindString, Description: "Page visibility",
					Enum: []string{models.VisibilityPrivate, models.VisibilityShared}},
				categoryParam, tagsParam, userParam,
			},
			Handler: func(ctx context.Context, a Args) (any, error) {
				c := models.PageContent{
					Title:       a.String("title"),
					Description: a.String("description"),
					Icon:        a.String("icon"),
					Layout:      a.String("layout"),
					Visibility:  a.String("visibility"),
				}
				return createBlock(ctx, d, a, c, "general", nil)
			},
		},
		{
			Name:        "update_block",
			Description: "Update a block's content or metadata",
			Schema: Schema{
				blockIDParam,
				{Name: "content", Kind: KindObject, Description: "Replacement content, shaped like the block's type"},
				categoryParam, tagsParam, priorityParam,
				{Name: "ifMatch", Kind: KindString, Description: "Expected current version of the block"},
				userParam,
			},
			Handler: func(ctx context.Context, a Args) (any, error) {
				id := a.String("blockId")
				b, err := ownedBlock(ctx, d.Blocks, a, id)
				if err != nil {
					return nil, err
				}
				p := blockservice.UpdateParams{IfMatch: a.String("ifMatch")}
				if a.Has("content") {
					raw, err := json.Marshal(a["content"])
					if err != nil {
						return nil, apperr.Validationf("content: %v", err)
					}
					if p.Content, err = models.DecodeContent(b.Type, raw); err != nil {
						return nil, err
					}
				}
				if a.Has("category") || a.Has("tags") || a.Has("priority") {
					p.Metadata = &models.Metadata{
						Category: a.String("category"),
						Tags:     a.Strings("tags"),
						Priority: models.Priority(a.String("priority")),
					}
				}
				if p.Content == nil && p.Metadata == nil {
					return nil, apperr.Validationf("nothing to update")
				}
				updated, err := d.Blocks.UpdateBlock(ctx, id, p)
				if err != nil {
					return nil, err
				}
				return blockReply(updated, "Updated block"), nil
			},
		},
		{
			Name:        "update_todo_status",
			Description: "Mark a todo block as done or not done",
			Schema: Schema{
				{Name: "blockId", Kind: KindString, Description: "Todo block ID", Required: true},
				{Name: "checked", Kind: KindBoolean, Description: "New completion status", Required: true},
				userParam,
			},
			Handler: func(ctx context.Context, a Args) (any, error) {
				id := a.String("blockId")
				if _, err := ownedBlock(ctx, d.Blocks, a, id); err != nil {
					return nil, err
				}
				b, err := d.Blocks.SetTodoChecked(ctx, id, a.Bool("checked"))
				if err != nil {
					return nil, err
				}
				state := "pending"
				if a.Bool("checked") {
					state = "completed"
				}
				return blockReply(b, "Marked todo as "+state), nil
			},
		},
		{
			Name:        "add_block_to_page",
			Description: "Add a block as a child of a page block",
			Schema: Schema{
				{Name: "pageId", Kind: KindString, Description: "Page block ID", Required: true},
				{Name: "childBlockId", Kind: KindString, Description: "Block ID to add as child", Required: true},
				userParam,
			},
			Handler: func(ctx context.Context, a Args) (any, error) {
				pageID, childID := a.String("pageId"), a.String("childBlockId")
				if _, err := ownedBlock(ctx, d.Blocks, a, pageID); err != nil {
					return nil, err
				}
				if _, err := ownedBlock(ctx, d.Blocks, a, childID); err != nil {
					return nil, err
				}
				page, err := d.Blocks.AddChild(ctx, pageID, childID)
				if err != nil {
					return nil, err
				}
				return blockReply(page, "Added block to page"), nil
			},
		},
		{
			Name:        "get_block",
			Description: "Get a block by ID",
			Schema:      Schema{blockIDParam, userParam},
			Handler: func(ctx context.Context, a Args) (any, error) {
				b, err := ownedBlock(ctx, d.Blocks, a, a.String("blockId"))
				if err != nil {
					return nil, err
				}
				return map[string]any{"block": b}, nil
			},
		},
		{
			Name:        "delete_block",
			Description: "Delete a block. Children of a deleted page are kept and unlinked",
			Schema:      Schema{blockIDParam, userParam},
			Handler: func(ctx context.Context, a Args) (any, error) {
				id := a.String("blockId")
				if _, err := ownedBlock(ctx, d.Blocks, a, id); err != nil {
					return nil, err
				}
				if err := d.Blocks.DeleteBlock(ctx, id); err != nil {
					return nil, err
				}
				return map[string]any{"deleted": id, "message": "Deleted block"}, nil
			},
		},
		{
			Name:        "get_todays_tasks",
			Description: "Get the todos scheduled or due today",
			Schema:      Schema{userParam},
			Handler: func(ctx context.Context, a Args) (any, error) {
				user, err := userOf(ctx, a)
				if err != nil {
					return nil, err
				}
				tasks, err := d.Blocks.TodaysTasks(ctx, user, d.Now())
				if err != nil {
					return nil, err
				}
				return map[string]any{"tasks": tasks, "count": len(tasks)}, nil
			},
		},
		{
			Name:        "get_block_stats",
			Description: "Get statistics about the user's blocks",
			Schema:      Schema{userParam},
			Handler: func(ctx context.Context, a Args) (any, error) {
				user, err := userOf(ctx, a)
				if err != nil {
					return nil, err
				}
				return d.Blocks.Stats(ctx, user)
			},
		},
	}
	if d.Search != nil {
		ts = append(ts, searchTools(d)...)
	}
	return ts
}

func searchTools(d Deps) []Tool {
	return []Tool{
		{
			Name:        "search_blocks",
			Description: "Search blocks by meaning and keywords",
			Schema: Schema{
				{Name: "query", Kind: KindString, Description: "Search query", Required: true},
				typeParam,
				{Name: "category", Kind: KindString, Description: "Filter by category"},
				{Name: "limit", Kind: KindInteger, Description: "Maximum number of results", Min: Bound(1), Max: Bound(20), Default: 5},
				userParam,
			},
			Handler: func(ctx context.Context, a Args) (any, error) {
				user, err := userOf(ctx, a)
				if err != nil {
					return nil, err
				}
				rs, err := d.Search.Search(ctx, a.String("query"), user, filtersOf(a), a.Int("limit"))
				if err != nil {
					return nil, err
				}
				return map[string]any{"results": rs, "count": len(rs)}, nil
			},
		},
		{
			Name:        "find_similar_blocks",
			Description: "Find blocks similar to a given block",
			Schema: Schema{
				blockIDParam,
				typeParam,
				{Name: "limit", Kind: KindInteger, Description: "Maximum number of results", Min: Bound(1), Max: Bound(20), Default: 5},
				userParam,
			},
			Handler: func(ctx context.Context, a Args) (any, error) {
				id := a.String("blockId")
				if _, err := ownedBlock(ctx, d.Blocks, a, id); err != nil {
					return nil, err
				}
				rs, err := d.Search.SearchSimilar(ctx, id, filtersOf(a), a.Int("limit"))
				if err != nil {
					return nil, err
				}
				return map[string]any{"results": rs, "count": len(rs)}, nil
			},
		},
	}
}

func filtersOf(a Args) retrieval.Filters {
	return retrieval.Filters{Type: models.BlockType(a.String("type")), Category: a.String("category")}
}

func createBlock(ctx context.Context, d Deps, a Args, c models.Content, defCategory string, meta func(*models.Metadata)) (any, error) {
	user, err := userOf(ctx, a)
	if err != nil {
		return nil, err
	}
	m := models.Metadata{
		Category:    a.String("category"),
		Tags:        a.Strings("tags"),
		AIGenerated: true,
	}
	if m.Category == "" {
		m.Category = defCategory
	}
	if meta != nil {
		meta(&m)
	}
	b, err := d.Blocks.CreateBlock(ctx, blockservice.CreateParams{
		Type:     c.BlockType(),
		Content:  c,
		Metadata: m,
		ParentID: a.String("parentId"),
		UserID:   user,
	})
	if err != nil {
		return nil, err
	}
	return blockReply(b, fmt.Sprintf("Created %s block", b.Type)), nil
}

func blockReply(b *models.Block, msg string) map[string]any {
	return map[string]any{"block": b, "message": msg}
}
