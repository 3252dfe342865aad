package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/lifeagent/internal/apperr"
)

// BlockType is the discriminator of a block's content.
type BlockType string

const (
	TypeText    BlockType = "text"
	TypeHeading BlockType = "heading"
	TypeTodo    BlockType = "todo"
	TypeTable   BlockType = "table"
	TypeCallout BlockType = "callout"
	TypePage    BlockType = "page"
)

// BlockTypes lists every supported block type.
var BlockTypes = []BlockType{TypeText, TypeHeading, TypeTodo, TypeTable, TypeCallout, TypePage}

// Valid reports whether t is a known block type.
func (t BlockType) Valid() bool {
	for _, bt := range BlockTypes {
		if bt == t {
			return true
		}
	}
	return false
}

// ParseBlockType converts s into a BlockType.
func ParseBlockType(s string) (BlockType, error) {
	t := BlockType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", apperr.Validationf("unknown block type %q", s)
	}
	return t, nil
}

// Content is the closed set of block payloads. Each implementation belongs
// to exactly one BlockType.
type Content interface {
	BlockType() BlockType
	Validate() error
	content()
}

// TextFormatting holds optional inline styling for a text block.
type TextFormatting struct {
	Bold          bool   `json:"bold,omitempty" yaml:"bold,omitempty"`
	Italic        bool   `json:"italic,omitempty" yaml:"italic,omitempty"`
	Underline     bool   `json:"underline,omitempty" yaml:"underline,omitempty"`
	Strikethrough bool   `json:"strikethrough,omitempty" yaml:"strikethrough,omitempty"`
	Color         string `json:"color,omitempty" yaml:"color,omitempty"`
}

// TextContent is a paragraph of free text.
type TextContent struct {
	Text       string          `json:"text" yaml:"text"`
	Formatting *TextFormatting `json:"formatting,omitempty" yaml:"formatting,omitempty"`
}

// HeadingContent is a section heading.
type HeadingContent struct {
	Level  int    `json:"level" yaml:"level"`
	Text   string `json:"text" yaml:"text"`
	Anchor string `json:"anchor,omitempty" yaml:"anchor,omitempty"`
}

// TodoContent is a checkable task.
type TodoContent struct {
	Text     string   `json:"text" yaml:"text"`
	Checked  bool     `json:"checked" yaml:"checked"`
	Priority Priority `json:"priority,omitempty" yaml:"priority,omitempty"`
}

// TableContent is a grid of string cells.
type TableContent struct {
	Headers []string   `json:"headers" yaml:"headers"`
	Rows    [][]string `json:"rows" yaml:"rows"`
}

// CalloutKind is the visual style of a callout.
type CalloutKind string

const (
	CalloutInfo    CalloutKind = "info"
	CalloutWarning CalloutKind = "warning"
	CalloutError   CalloutKind = "error"
	CalloutSuccess CalloutKind = "success"
)

// CalloutContent is a highlighted message.
type CalloutContent struct {
	Kind CalloutKind `json:"type" yaml:"type"`
	Text string      `json:"text" yaml:"text"`
	Icon string      `json:"icon,omitempty" yaml:"icon,omitempty"`
}

// Page layouts and visibilities.
const (
	LayoutDefault   = "default"
	LayoutDashboard = "dashboard"
	LayoutKanban    = "kanban"
	LayoutCalendar  = "calendar"

	VisibilityPrivate = "private"
	VisibilityShared  = "shared"
)

// PageContent is a container that owns an ordered list of child blocks.
type PageContent struct {
	Title       string   `json:"title" yaml:"title"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	ChildBlocks []string `json:"childBlocks" yaml:"childBlocks"`
	Layout      string   `json:"layout" yaml:"layout"`
	Visibility  string   `json:"visibility" yaml:"visibility"`
	Icon        string   `json:"icon,omitempty" yaml:"icon,omitempty"`
	CoverImage  string   `json:"coverImage,omitempty" yaml:"coverImage,omitempty"`
}

func (TextContent) BlockType() BlockType    { return TypeText }
func (HeadingContent) BlockType() BlockType { return TypeHeading }
func (TodoContent) BlockType() BlockType    { return TypeTodo }
func (TableContent) BlockType() BlockType   { return TypeTable }
func (CalloutContent) BlockType() BlockType { return TypeCallout }
func (PageContent) BlockType() BlockType    { return TypePage }

func (TextContent) content()    {}
func (HeadingContent) content() {}
func (TodoContent) content()    {}
func (TableContent) content()   {}
func (CalloutContent) content() {}
func (PageContent) content()    {}

func (c TextContent) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Text, validation.Required),
	)
}

func (c HeadingContent) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Level, validation.Required, validation.Min(1), validation.Max(6)),
		validation.Field(&c.Text, validation.Required),
	)
}

func (c TodoContent) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Text, validation.Required),
		validation.Field(&c.Priority, validation.In(PriorityHigh, PriorityMedium, PriorityLow)),
	)
}

func (c TableContent) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Rows, validation.By(func(any) error {
			if len(c.Headers) == 0 {
				return nil
			}
			for i, row := range c.Rows {
				if len(row) != len(c.Headers) {
					return fmt.Errorf("row %d has %d cells, want %d", i, len(row), len(c.Headers))
				}
			}
			return nil
		})),
	)
}

func (c CalloutContent) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Kind, validation.Required, validation.In(CalloutInfo, CalloutWarning, CalloutError, CalloutSuccess)),
		validation.Field(&c.Text, validation.Required),
	)
}

func (c PageContent) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Title, validation.Required),
		validation.Field(&c.Layout, validation.Required, validation.In(LayoutDefault, LayoutDashboard, LayoutKanban, LayoutCalendar)),
		validation.Field(&c.Visibility, validation.Required, validation.In(VisibilityPrivate, VisibilityShared)),
	)
}

// withDefaults fills optional fields that have a documented default.
func withDefaults(c Content) Content {
	switch v := c.(type) {
	case TableContent:
		if v.Headers == nil {
			v.Headers = []string{}
		}
		if v.Rows == nil {
			v.Rows = [][]string{}
		}
		return v
	case PageContent:
		if v.ChildBlocks == nil {
			v.ChildBlocks = []string{}
		}
		if v.Layout == "" {
			v.Layout = LayoutDefault
		}
		if v.Visibility == "" {
			v.Visibility = VisibilityPrivate
		}
		return v
	}
	return c
}

// CheckContent verifies that c is non-nil, belongs to t and is well formed.
// It returns c with documented defaults applied.
func CheckContent(t BlockType, c Content) (Content, error) {
	if !t.Valid() {
		return nil, apperr.Validationf("unknown block type %q", t)
	}
	c = deref(c)
	if c == nil {
		return nil, apperr.Validationf("%s block: content is required", t)
	}
	if c.BlockType() != t {
		return nil, apperr.Validationf("%s block: got %s content", t, c.BlockType())
	}
	c = withDefaults(c)
	if err := c.Validate(); err != nil {
		return nil, apperr.Validationf("%s block: %v", t, err)
	}
	return c, nil
}

// deref converts pointer variants to values so type switches see one form.
func deref(c Content) Content {
	switch v := c.(type) {
	case *TextContent:
		if v != nil {
			return *v
		}
	case *HeadingContent:
		if v != nil {
			return *v
		}
	case *TodoContent:
		if v != nil {
			return *v
		}
	case *TableContent:
		if v != nil {
			return *v
		}
	case *CalloutContent:
		if v != nil {
			return *v
		}
	case *PageContent:
		if v != nil {
			return *v
		}
	default:
		return c
	}
	return nil
}

// DecodeContent strictly decodes raw JSON into the content shape owned by t.
// Unknown fields and shape mismatches are validation errors.
func DecodeContent(t BlockType, raw []byte) (Content, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, apperr.Validationf("%s block: content is required", t)
	}
	var (
		c   Content
		err error
	)
	switch t {
	case TypeText:
		c, err = decodeStrict[TextContent](raw)
	case TypeHeading:
		c, err = decodeStrict[HeadingContent](raw)
	case TypeTodo:
		c, err = decodeStrict[TodoContent](raw)
	case TypeTable:
		c, err = decodeStrict[TableContent](raw)
	case TypeCallout:
		c, err = decodeStrict[CalloutContent](raw)
	case TypePage:
		c, err = decodeStrict[PageContent](raw)
	default:
		return nil, apperr.Validationf("unknown block type %q", t)
	}
	if err != nil {
		return nil, apperr.Validationf("%s block: decode content: %v", t, err)
	}
	return CheckContent(t, c)
}

func decodeStrict[T Content](raw []byte) (Content, error) {
	var v T
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("trailing data after content object")
	}
	return v, nil
}

// FlattenText extracts the searchable text of c.
func FlattenText(c Content) string {
	switch v := c.(type) {
	case TextContent:
		return v.Text
	case HeadingContent:
		return v.Text
	case TodoContent:
		return v.Text
	case CalloutContent:
		return v.Text
	case TableContent:
		parts := make([]string, 0, len(v.Headers)+len(v.Rows))
		parts = append(parts, v.Headers...)
		for _, row := range v.Rows {
			parts = append(parts, row...)
		}
		return joinNonEmpty(parts)
	case PageContent:
		return joinNonEmpty([]string{v.Title, v.Description})
	case nil:
		return ""
	default:
		panic(fmt.Sprintf("models: unhandled content %T", c))
	}
}

func joinNonEmpty(parts []string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, " ")
}
