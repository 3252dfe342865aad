// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes the lifeagent tool registry via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/lifeagent/internal/tools"
)

const contractURI = "lifeagent://block-format"

// Registry is the tool source the server exposes.
type Registry interface {
	All() []tools.Tool
	Execute(ctx context.Context, name string, raw json.RawMessage) (any, error)
}

// Server wraps the MCP server with the registry's tools.
type Server struct {
	mcp         *server.MCPServer
	reg         Registry
	defaultUser string
	logger      *slog.Logger
	names       []string
}

// New creates an MCP server with every registry tool registered. Calls that
// omit userId act as defaultUser.
func New(reg Registry, defaultUser, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{reg: reg, defaultUser: defaultUser, logger: logger}

	s.mcp = server.NewMCPServer(
		"LifeAgent",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	for _, t := range reg.All() {
		schema, err := json.Marshal(t.Schema.JSONSchema())
		if err != nil {
			logger.Warn("mcp: skipping tool with unencodable schema",
				slog.String("tool", t.Name), slog.String("error", err.Error()))
			continue
		}
		s.mcp.AddTool(mcp.NewToolWithRawSchema(t.Name, t.Description, schema), s.handler(t.Name))
		s.names = append(s.names, t.Name)
	}

	s.mcp.AddTool(mcp.NewTool("get_block_contract",
		mcp.WithDescription("Returns the block content format. "+
			"Call this before writing block content directly."),
	), s.getBlockContract)
	s.names = append(s.names, "get_block_contract")

	s.mcp.AddResource(
		mcp.NewResource(contractURI, "Block Format Contract",
			mcp.WithResourceDescription("Content shapes for every block type."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readContractResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

// ToolNames lists the registered tools in registration order.
func (s *Server) ToolNames() []string {
	return append([]string(nil), s.names...)
}

func (s *Server) handler(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return s.call(ctx, name, req.GetArguments()), nil
	}
}

// call executes a registry tool. Failures become error results so the
// client sees them as tool output rather than protocol errors.
func (s *Server) call(ctx context.Context, name string, args map[string]any) *mcp.CallToolResult {
	if args == nil {
		args = map[string]any{}
	}
	if _, ok := args["userId"]; !ok && s.defaultUser != "" {
		ctx = tools.WithUserID(ctx, s.defaultUser)
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return mcp.NewToolResultError(err.Error())
	}
	res, err := s.reg.Execute(ctx, name, raw)
	if err != nil {
		s.logger.Debug("mcp: tool failed", slog.String("tool", name), slog.String("error", err.Error()))
		return mcp.NewToolResultError(err.Error())
	}
	out, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultText(string(out))
}

func (s *Server) getBlockContract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(BlockFormatContract), nil
}

func (s *Server) readContractResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      contractURI,
			MIMEType: "text/markdown",
			Text:     BlockFormatContract,
		},
	}, nil
}
