package tools

import (
	"context"
	"encoding/json"

	"github.com/starford/lifeagent/internal/apperr"
	"github.com/starford/lifeagent/internal/templates"
)

var (
	templateIDParam       = Param{Name: "templateId", Kind: KindString, Description: "Template ID", Required: true}
	templateCategoryParam = Param{Name: "category", Kind: KindString, Description: "Template category",
		Enum: []string{string(templates.CategoryProject), string(templates.CategoryReview)}}
	structureParam = Param{Name: "blocks", Kind: KindArray,
		Description: "Template blocks, each {type, content, position, required, customizable, aiPrompt}",
		Items:       &Param{Kind: KindObject}}
)

func templateTools(d Deps) []Tool {
	return []Tool{
		{
			Name:        "create_template",
			Description: "Create a reusable template of blocks",
			Schema: Schema{
				{Name: "name", Kind: KindString, Description: "Template name", Required: true},
				{Name: "description", Kind: KindString, Description: "What the template is for"},
				{Name: "category", Kind: KindString, Description: "Template category", Required: true,
					Enum: templateCategoryParam.Enum},
				{Name: "icon", Kind: KindString, Description: "Template icon"},
				tagsParam,
				structureParam,
				{Name: "customFields", Kind: KindArray, Description: "Placeholder names the template accepts", Items: &Param{Kind: KindString}},
				{Name: "isPublic", Kind: KindBoolean, Description: "Share with every user"},
				userParam,
			},
			Handler: func(ctx context.Context, a Args) (any, error) {
				user, err := userOf(ctx, a)
				if err != nil {
					return nil, err
				}
				blocks, err := blockSpecs(a)
				if err != nil {
					return nil, err
				}
				t, err := d.Templates.Create(ctx, templates.CreateParams{
					Name:        a.String("name"),
					Description: a.String("description"),
					Category:    templates.Category(a.String("category")),
					Icon:        a.String("icon"),
					Tags:        a.Strings("tags"),
					Structure:   templates.Structure{Blocks: blocks, CustomFields: a.Strings("customFields")},
					UserID:      user,
					IsPublic:    a.Bool("isPublic"),
				})
				if err != nil {
					return nil, err
				}
				return map[string]any{"template": t, "message": "Created template"}, nil
			},
		},
		{
			Name:        "get_template",
			Description: "Get a template by ID",
			Schema:      Schema{templateIDParam, userParam},
			Handler: func(ctx context.Context, a Args) (any, error) {
				t, err := visibleTemplate(ctx, d, a)
				if err != nil {
					return nil, err
				}
				return map[string]any{"template": t}, nil
			},
		},
		{
			Name:        "list_templates",
			Description: "List the user's templates and every public template",
			Schema: Schema{
				templateCategoryParam,
				{Name: "limit", Kind: KindInteger, Description: "Maximum number of templates", Min: Bound(1), Max: Bound(100), Default: 50},
				userParam,
			},
			Handler: func(ctx context.Context, a Args) (any, error) {
				user, err := userOf(ctx, a)
				if err != nil {
					return nil, err
				}
				ts := d.Templates.ListByUser(ctx, user, templates.ListOptions{
					Category: templates.Category(a.String("category")),
					Limit:    a.Int("limit"),
				})
				return map[string]any{"templates": ts, "count": len(ts)}, nil
			},
		},
		{
			Name:        "search_templates",
			Description: "Search templates by name or description",
			Schema: Schema{
				{Name: "query", Kind: KindString, Description: "Search text", Required: true},
				templateCategoryParam,
				userParam,
			},
			Handler: func(ctx context.Context, a Args) (any, error) {
				user, err := userOf(ctx, a)
				if err != nil {
					return nil, err
				}
				ts := d.Templates.Search(ctx, a.String("query"), user, templates.ListOptions{
					Category: templates.Category(a.String("category")),
				})
				return map[string]any{"templates": ts, "count": len(ts)}, nil
			},
		},
		{
			Name:        "create_from_template",
			Description: "Create blocks from a template, filling {{placeholders}} from customData",
			Schema: Schema{
				templateIDParam,
				{Name: "customData", Kind: KindObject, Description: "Placeholder values keyed by name"},
				userParam,
			},
			Handler: func(ctx context.Context, a Args) (any, error) {
				user, err := userOf(ctx, a)
				if err != nil {
					return nil, err
				}
				inst, err := d.Templates.Instantiate(ctx, a.String("templateId"), user, a.StringMap("customData"))
				if err != nil {
					return nil, err
				}
				return map[string]any{
					"template": inst.Template.Name,
					"blocks":   inst.Blocks,
					"count":    len(inst.Blocks),
					"message":  "Created blocks from template " + inst.Template.Name,
				}, nil
			},
		},
		{
			Name:        "update_template",
			Description: "Update a template the user owns",
			Schema: Schema{
				templateIDParam,
				{Name: "name", Kind: KindString, Description: "Template name"},
				{Name: "description", Kind: KindString, Description: "What the template is for"},
				templateCategoryParam,
				{Name: "icon", Kind: KindString, Description: "Template icon"},
				tagsParam,
				structureParam,
				{Name: "isPublic", Kind: KindBoolean, Description: "Share with every user"},
				userParam,
			},
			Handler: func(ctx context.Context, a Args) (any, error) {
				if _, err := ownedTemplate(ctx, d, a); err != nil {
					return nil, err
				}
				var p templates.UpdateParams
				if a.Has("name") {
					p.Name = ptr(a.String("name"))
				}
				if a.Has("description") {
					p.Description = ptr(a.String("description"))
				}
				if a.Has("category") {
					p.Category = ptr(templates.Category(a.String("category")))
				}
				if a.Has("icon") {
					p.Icon = ptr(a.String("icon"))
				}
				if a.Has("tags") {
					p.Tags = a.Strings("tags")
				}
				if a.Has("blocks") {
					blocks, err := blockSpecs(a)
					if err != nil {
						return nil, err
					}
					cur, _ := d.Templates.Get(ctx, a.String("templateId"))
					st := templates.Structure{Blocks: blocks}
					if cur != nil {
						st.CustomFields = cur.Structure.CustomFields
					}
					p.Structure = &st
				}
				if a.Has("isPublic") {
					p.IsPublic = ptr(a.Bool("isPublic"))
				}
				t, err := d.Templates.Update(ctx, a.String("templateId"), p)
				if err != nil {
					return nil, err
				}
				return map[string]any{"template": t, "message": "Updated template"}, nil
			},
		},
		{
			Name:        "delete_template",
			Description: "Delete a template the user owns",
			Schema:      Schema{templateIDParam, userParam},
			Handler: func(ctx context.Context, a Args) (any, error) {
				if _, err := ownedTemplate(ctx, d, a); err != nil {
					return nil, err
				}
				id := a.String("templateId")
				if err := d.Templates.Delete(ctx, id); err != nil {
					return nil, err
				}
				return map[string]any{"deleted": id, "message": "Deleted template"}, nil
			},
		},
	}
}

func blockSpecs(a Args) ([]templates.BlockSpec, error) {
	raw, ok := a["blocks"]
	if !ok {
		return nil, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, apperr.Validationf("blocks: %v", err)
	}
	var specs []templates.BlockSpec
	if err := json.Unmarshal(data, &specs); err != nil {
		return nil, apperr.Validationf("blocks: %v", err)
	}
	return specs, nil
}

func visibleTemplate(ctx context.Context, d Deps, a Args) (*templates.Template, error) {
	id := a.String("templateId")
	t, err := d.Templates.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if user, uerr := userOf(ctx, a); uerr == nil && !t.IsPublic && t.UserID != user {
		return nil, apperr.NotFoundf("template %s", id)
	}
	return t, nil
}

func ownedTemplate(ctx context.Context, d Deps, a Args) (*templates.Template, error) {
	t, err := visibleTemplate(ctx, d, a)
	if err != nil {
		return nil, err
	}
	if user, uerr := userOf(ctx, a); uerr == nil && t.UserID != user {
		return nil, apperr.Validationf("template %s belongs to another user", t.ID)
	}
	return t, nil
}

func ptr[T any](v T) *T { return &v }
