package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"ontimecar-scraper/internal/browser"
	"ontimecar-scraper/internal/config"
	"ontimecar-scraper/internal/extraction"
	"ontimecar-scraper/internal/mangle"
	"ontimecar-scraper/internal/schema"

	"github.com/go-chi/chi/v5"
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

// Lookups runs extraction requests.
type Lookups interface {
	Query(ctx context.Context, req extraction.Request) (*extraction.Result, error)
}

// Browser is the admin view of the session manager.
type Browser interface {
	Status() browser.Status
	Reset(ctx context.Context) error
}

// Journal is the read side of the extraction journal.
type Journal interface {
	Enabled() bool
	Predicates() []string
	Evaluate(ctx context.Context, predicate string) ([]mangle.Fact, error)
	Query(ctx context.Context, query string) ([]mangle.QueryResult, error)
	FactsByPredicate(predicate string) []mangle.Fact
}

// Server exposes the lookup service as MCP tools and resources.
type Server struct {
	cfg       config.Config
	lookups   Lookups
	registry  *schema.Registry
	browser   Browser
	journal   Journal
	logger    *slog.Logger
	tools     map[string]Tool
	mcpServer *mcpserver.MCPServer
}

// Tool describes the contract for MCP tool implementations.
type Tool interface {
	Name() string
	Description() string
	InputSchema() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) (interface{}, error)
}

// NewServer registers every tool and resource. journal may be nil.
func NewServer(cfg config.Config, lookups Lookups, registry *schema.Registry, br Browser, journal Journal, logger *slog.Logger) (*Server, error) {
	if lookups == nil || registry == nil || br == nil {
		return nil, fmt.Errorf("mcp server needs lookups, registry and browser")
	}
	if logger == nil {
		logger = slog.Default()
	}
	mcpSrv := mcpserver.NewMCPServer(
		cfg.Server.Name,
		cfg.Server.Version,
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithLogging(),
		mcpserver.WithPromptCapabilities(false),
		mcpserver.WithRecovery(),
	)

	server := &Server{
		cfg:       cfg,
		lookups:   lookups,
		registry:  registry,
		browser:   br,
		journal:   journal,
		logger:    logger,
		tools:     make(map[string]Tool),
		mcpServer: mcpSrv,
	}

	server.registerAllTools()
	server.registerAllResources()
	return server, nil
}

// Start serves MCP over stdio until ctx ends.
func (s *Server) Start(ctx context.Context) error {
	stdio := mcpserver.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// Mount adds the SSE endpoints to an HTTP router.
func (s *Server) Mount(r chi.Router) {
	sseServer := mcpserver.NewSSEServer(s.mcpServer, mcpserver.WithBaseURL(s.cfg.MCP.BaseURL))
	r.Handle("/sse", sseServer.SSEHandler())
	r.Handle("/message", sseServer.MessageHandler())
}

// ExecuteTool executes a tool directly, bypassing the transport.
func (s *Server) ExecuteTool(ctx context.Context, name string, args map[string]interface{}) (interface{}, error) {
	tool, exists := s.tools[name]
	if !exists {
		return nil, fmt.Errorf("tool not found: %s", name)
	}
	if args == nil {
		args = map[string]interface{}{}
	}
	return tool.Execute(ctx, args)
}

func (s *Server) registerAllTools() {
	s.registerTool(&ConsultaTool{lookups: s.lookups, defaultView: s.cfg.DefaultView})
	s.registerTool(&ListViewsTool{registry: s.registry})
	s.registerTool(&DescribeViewTool{registry: s.registry})
	s.registerTool(&ResetBrowserTool{browser: s.browser})
	s.registerTool(&ServiceHealthTool{browser: s.browser, name: s.cfg.Server.Name, version: s.cfg.Server.Version})
	s.registerTool(&QueryFactsTool{journal: s.journal})
}

func (s *Server) registerTool(tool Tool) {
	s.tools[tool.Name()] = tool

	schema, err := json.Marshal(tool.InputSchema())
	if err != nil {
		schema = json.RawMessage(`{"type":"object"}`)
	}

	mcpTool := mcp.NewToolWithRawSchema(tool.Name(), tool.Description(), schema)
	s.mcpServer.AddTool(mcpTool, s.wrapTool(tool))
}

// wrapTool renders tool errors with the same envelope the HTTP API uses.
func (s *Server) wrapTool(tool Tool) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.GetArguments()
		if args == nil {
			args = map[string]interface{}{}
		}

		result, err := tool.Execute(ctx, args)
		if err != nil {
			s.logger.Warn("tool failed", "tool", tool.Name(), "error", err)
			body := extraction.NewErrorBody(err, "")
			return &mcp.CallToolResult{
				Content: []mcp.Content{mcp.NewTextContent(string(marshalToolPayload(tool.Name(), body)))},
				IsError: true,
			}, nil
		}

		payload := marshalToolPayload(tool.Name(), result)
		return &mcp.CallToolResult{
			Content: []mcp.Content{mcp.NewTextContent(string(payload))},
			IsError: false,
		}, nil
	}
}

func marshalToolPayload(toolName string, result interface{}) []byte {
	payload, marshalErr := json.Marshal(result)
	if marshalErr == nil {
		return payload
	}

	fallback := map[string]interface{}{
		"success": false,
		"error":   fmt.Sprintf("tool %s returned non-serializable payload: %v", toolName, marshalErr),
	}
	payload, fallbackErr := json.Marshal(fallback)
	if fallbackErr == nil {
		return payload
	}

	return []byte(fmt.Sprintf(`{"success":false,"error":"tool %s failed to encode payload"}`, toolName))
}
