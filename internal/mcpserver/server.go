// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes Carta tools for LLM integration via stdio or streamable HTTP.
package mcpserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path/filepath"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/carta/internal/apperr"
	"github.com/starford/carta/internal/cardservice"
	"github.com/starford/carta/internal/patch"
)

const markerFormatURI = "carta://marker-format"

// Server wraps the MCP server with Carta tools.
type Server struct {
	mcp    *server.MCPServer
	svc    *cardservice.Service
	logger *slog.Logger
}

// New creates a new MCP server with all Carta tools registered.
func New(svc *cardservice.Service, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{svc: svc, logger: logger}

	s.mcp = server.NewMCPServer(
		"carta",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
		server.WithInstructions(instructions(svc)),
		server.WithRecovery(),
	)

	s.mcp.AddTool(mcp.NewTool("cards.scan",
		mcp.WithDescription("Scan for @SFC/@DFC headers and LLM-EDIT blocks with optional auto-generation"),
		mcp.WithString("root", mcp.Description("Optional path relative to server root")),
		mcp.WithArray("include", mcp.WithStringItems(), mcp.Description("Glob patterns to include")),
		mcp.WithArray("exclude", mcp.WithStringItems(), mcp.Description("Additional glob patterns to exclude")),
		mcp.WithBoolean("autoGenerate", mcp.Description("Suggest missing SFC/DFC cards")),
		mcp.WithObject("generateOptions",
			mcp.Description("Options for auto-generation"),
			mcp.Properties(map[string]any{
				"template": map[string]any{
					"type":        "string",
					"enum":        []string{"minimal", "detailed"},
					"description": "Template style for generated cards",
				},
				"inferFromPath":    map[string]any{"type": "boolean", "description": "Infer card properties from file path"},
				"inferFromContent": map[string]any{"type": "boolean", "description": "Infer card properties from file content"},
				"dryRun":           map[string]any{"type": "boolean", "description": "Suggestions are always returned, never written"},
			}),
		),
	), s.scan)

	s.mcp.AddTool(mcp.NewTool("cards.get",
		mcp.WithDescription("Read a single file and return SFC/DFC card blocks"),
		mcp.WithString("path", mcp.Required(), mcp.Description("File path relative to server root")),
	), s.getCard)

	s.mcp.AddTool(mcp.NewTool("edits.apply",
		mcp.WithDescription("Replace the body of an LLM-EDIT block with optimistic hash check"),
		mcp.WithString("file", mcp.Required(), mcp.Description("Target file path relative to server root")),
		mcp.WithString("blockId", mcp.Required(), mcp.Description("LLM-EDIT block identifier")),
		mcp.WithString("oldHash", mcp.Required(), mcp.Description("Current block hash")),
		mcp.WithString("newContent", mcp.Required(), mcp.Description("Replacement content")),
		mcp.WithString("reason", mcp.Description("Optional human-readable reason")),
	), s.applyEdit)

	s.mcp.AddTool(mcp.NewTool("io.readlog.append",
		mcp.WithDescription("Append a read event to the audit log"),
		mcp.WithString("runId", mcp.Required(), mcp.Description("Run identifier from the client")),
		mcp.WithString("path", mcp.Required(), mcp.Description("Read file path")),
		mcp.WithString("sha256", mcp.Required(), mcp.Description("File hash that was read")),
	), s.appendReadLog)

	s.mcp.AddTool(mcp.NewTool("cards.search",
		mcp.WithDescription("Search card payloads in the workspace index. Requires the index to be enabled."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 20)")),
	), s.search)

	s.mcp.AddTool(mcp.NewTool("cards.contract",
		mcp.WithDescription("Returns the card and edit block marker contract. "+
			"Call this before adding cards or patching blocks."),
	), s.getContract)

	// Resource: marker format contract.
	s.mcp.AddResource(
		mcp.NewResource(markerFormatURI, "Marker Format Contract",
			mcp.WithResourceDescription("Card headers and LLM-EDIT block markers understood by Carta."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readContractResource,
	)

	return s
}

func instructions(svc *cardservice.Service) string {
	root := (&url.URL{Scheme: "file", Path: filepath.ToSlash(svc.Root())}).String()
	text := "Workspace root: " + root + ". All paths are relative to it."
	if svc.ReadOnly() {
		text += " The server is read-only; edits.apply is rejected."
	}
	return text
}

// ServeStdio serves MCP on the given streams until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelError))
	return stdio.Listen(ctx, in, out)
}

// HTTPHandler returns the streamable HTTP transport.
func (s *Server) HTTPHandler() http.Handler {
	return server.NewStreamableHTTPServer(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) scan(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args cardservice.ScanRequest
	if err := req.BindArguments(&args); err != nil {
		return s.toolError("cards.scan", bindError(err)), nil
	}
	res, err := s.svc.Scan(ctx, args)
	if err != nil {
		return s.toolError("cards.scan", err), nil
	}
	return jsonResult(res)
}

func (s *Server) getCard(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return s.toolError("cards.get", bindError(err)), nil
	}
	res, err := s.svc.GetCard(ctx, path)
	if err != nil {
		return s.toolError("cards.get", err), nil
	}
	return jsonResult(res)
}

func (s *Server) applyEdit(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args patch.Request
	if err := req.BindArguments(&args); err != nil {
		return s.toolError("edits.apply", bindError(err)), nil
	}
	if args.File == "" || args.BlockID == "" || args.OldHash == "" {
		return s.toolError("edits.apply",
			apperr.New(apperr.KindInvalidParams, "file, blockId and oldHash are required", nil)), nil
	}
	res, err := s.svc.ApplyPatch(ctx, args)
	if err != nil {
		return s.toolError("edits.apply", err), nil
	}
	return jsonResult(res)
}

func (s *Server) appendReadLog(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args cardservice.ReadLogRequest
	if err := req.BindArguments(&args); err != nil {
		return s.toolError("io.readlog.append", bindError(err)), nil
	}
	if err := s.svc.AppendReadLog(ctx, args); err != nil {
		return s.toolError("io.readlog.append", err), nil
	}
	return jsonResult(map[string]bool{"ok": true})
}

func (s *Server) search(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return s.toolError("cards.search", bindError(err)), nil
	}
	results, err := s.svc.Search(ctx, query, req.GetInt("limit", 20))
	if err != nil {
		return s.toolError("cards.search", err), nil
	}
	return jsonResult(results)
}

func (s *Server) getContract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(MarkerFormatContract), nil
}

func (s *Server) readContractResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      markerFormatURI,
			MIMEType: "text/markdown",
			Text:     MarkerFormatContract,
		},
	}, nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(out)), nil
}

// toolError reports err to the client as a JSON object carrying its code,
// message and contextual data.
func (s *Server) toolError(tool string, err error) *mcp.CallToolResult {
	payload := apperr.Payload(err)
	if apperr.KindOf(err) == apperr.KindInternal {
		s.logger.Error("tool failed", slog.String("tool", tool), slog.String("error", err.Error()))
	}
	out, mErr := json.Marshal(payload)
	if mErr != nil {
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultError(string(out))
}

func bindError(err error) error {
	return apperr.New(apperr.KindInvalidParams, err.Error(), nil)
}
