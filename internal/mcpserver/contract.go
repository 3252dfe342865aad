package mcpserver

// BlockFormatContract describes block content shapes for MCP clients that
// write blocks through update_block or templates.
const BlockFormatContract = `# Block Format Contract

Every block has a ` + "`type`" + ` and a ` + "`content`" + ` object whose shape depends on the type.
Unknown content fields are rejected.

| type    | content fields                                                                 |
|---------|--------------------------------------------------------------------------------|
| text    | text (required), formatting {bold, italic, underline, strikethrough, color}    |
| heading | text (required), level 1-6 (required), anchor                                  |
| todo    | text (required), checked, priority (low, medium, high)                         |
| table   | headers []string, rows [][]string                                              |
| callout | type (info, warning, error, success), text (required), icon                    |
| page    | title (required), description, childBlocks, layout, visibility, icon, coverImage |

## Metadata

Blocks also carry metadata: tags, category, priority, scheduledAt, dueDate,
completedAt, linkedBlocks, mentions. Times are RFC 3339.
Metadata updates merge into the existing metadata.

## Pages

- layout is one of default, dashboard, kanban, calendar (default: default).
- visibility is private or shared (default: private).
- childBlocks is maintained by the server. Use add_block_to_page to attach blocks.

## Example

` + "```" + `json
{"type": "todo", "content": {"text": "Buy milk", "checked": false, "priority": "medium"}}
` + "```" + `
`
