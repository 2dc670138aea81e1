package mcp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nullvektordom/nexus-cli-sub000/internal/assembler"
	"github.com/nullvektordom/nexus-cli-sub000/internal/config"
	"github.com/nullvektordom/nexus-cli-sub000/internal/embed"
	"github.com/nullvektordom/nexus-cli-sub000/internal/index"
	"github.com/nullvektordom/nexus-cli-sub000/internal/ledger"
	"github.com/nullvektordom/nexus-cli-sub000/internal/sprint"
	"github.com/nullvektordom/nexus-cli-sub000/pkg/version"
)

// ServerName is reported to clients during initialization.
const ServerName = "nexus"

// Tool names.
const (
	ToolGetContext         = "get_context"
	ToolSearchArchitecture = "search_architecture"
	ToolRecordDecision     = "record_decision"
	ToolRecallDecisions    = "recall_decisions"
	ToolIndexStatus        = "index_status"
)

const (
	defaultSearchLimit = 5
	maxLimit           = 50
)

// Options wires a Server to the nexus components it exposes.
type Options struct {
	Assembler *assembler.Assembler
	Ledger    *ledger.Ledger

	// Optional. Without them index_status reports an offline index.
	Indexer  *index.Indexer
	Manifest *index.Manifest

	// Optional. Used for capability signaling and sprint lookups.
	Embedder embed.Embedder
	Sprints  sprint.Source

	Config    *config.Config
	ProjectID string
	RootPath  string
	Logger    *slog.Logger
}

// Server is the MCP server. It bridges AI clients with context assembly
// and the decision ledger of one project.
type Server struct {
	mcp       *mcp.Server
	assembler *assembler.Assembler
	ledger    *ledger.Ledger
	indexer   *index.Indexer
	manifest  *index.Manifest
	embedder  embed.Embedder
	sprints   sprint.Source
	config    *config.Config
	logger    *slog.Logger

	projectID string
	rootPath  string

	mu sync.RWMutex
}

// ToolInfo contains information about a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

var tools = []ToolInfo{
	{
		Name:        ToolGetContext,
		Description: "Assemble the context for a request: architecture rules of this project relevant to the request plus the active sprint's unfinished tasks and notes. Call this before planning or writing code.",
	},
	{
		Name:        ToolSearchArchitecture,
		Description: "Look up architecture and global standards documents by meaning. Use it to answer why the project is built the way it is.",
	},
	{
		Name:        ToolRecordDecision,
		Description: "Record an architectural decision in the project's decision ledger so later sessions can recall it.",
	},
	{
		Name:        ToolRecallDecisions,
		Description: "Recall previously recorded architectural decisions related to a topic.",
	},
	{
		Name:        ToolIndexStatus,
		Description: "Report whether the vector index is reachable, how many files and chunks are indexed and which embedder is active.",
	},
}

// NewServer creates a new MCP server and registers its tools.
func NewServer(opts Options) (*Server, error) {
	if opts.Assembler == nil {
		return nil, errors.New("context assembler is required")
	}
	if opts.Ledger == nil {
		return nil, errors.New("decision ledger is required")
	}
	if opts.Config == nil {
		opts.Config = config.NewConfig()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	s := &Server{
		assembler: opts.Assembler,
		ledger:    opts.Ledger,
		indexer:   opts.Indexer,
		manifest:  opts.Manifest,
		embedder:  opts.Embedder,
		sprints:   opts.Sprints,
		config:    opts.Config,
		logger:    opts.Logger,
		projectID: opts.ProjectID,
		rootPath:  opts.RootPath,
	}

	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    ServerName,
			Version: version.Version,
		},
		nil, // capabilities are inferred from registered tools and resources
	)
	s.registerTools()
	return s, nil
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// Info returns the server name and version.
func (s *Server) Info() (name, ver string) {
	return ServerName, version.Version
}

// ListTools returns all registered tools.
func (s *Server) ListTools() []ToolInfo {
	out := make([]ToolInfo, len(tools))
	copy(out, tools)
	return out
}

// CallTool invokes a tool by name with loosely typed arguments, as decoded
// from JSON. Text tools return markdown; the others return their output struct.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	switch name {
	case ToolGetContext:
		_, text, err := s.handleGetContext(ctx, GetContextInput{Query: stringArg(args, "query")})
		return text, err
	case ToolSearchArchitecture:
		in := SearchArchitectureInput{Query: stringArg(args, "query"), Limit: intArg(args, "limit")}
		_, text, err := s.handleSearchArchitecture(ctx, in)
		return text, err
	case ToolRecordDecision:
		return s.handleRecordDecision(ctx, RecordDecisionInput{Decision: stringArg(args, "decision")})
	case ToolRecallDecisions:
		in := RecallDecisionsInput{Query: stringArg(args, "query"), Limit: intArg(args, "limit")}
		_, text, err := s.handleRecallDecisions(ctx, in)
		return text, err
	case ToolIndexStatus:
		return s.handleIndexStatus(ctx)
	default:
		return nil, NewMethodNotFoundError(name)
	}
}

func (s *Server) registerTools() {
	for _, t := range tools {
		tool := &mcp.Tool{Name: t.Name, Description: t.Description}
		switch t.Name {
		case ToolGetContext:
			mcp.AddTool(s.mcp, tool, s.mcpGetContextHandler)
		case ToolSearchArchitecture:
			mcp.AddTool(s.mcp, tool, s.mcpSearchArchitectureHandler)
		case ToolRecordDecision:
			mcp.AddTool(s.mcp, tool, s.mcpRecordDecisionHandler)
		case ToolRecallDecisions:
			mcp.AddTool(s.mcp, tool, s.mcpRecallDecisionsHandler)
		case ToolIndexStatus:
			mcp.AddTool(s.mcp, tool, s.mcpIndexStatusHandler)
		}
	}
}

func (s *Server) handleGetContext(ctx context.Context, input GetContextInput) (GetContextOutput, string, error) {
	query := strings.TrimSpace(input.Query)
	if query == "" {
		return GetContextOutput{}, "", NewInvalidParamsError("query parameter is required and must be a non-empty string")
	}

	start := time.Now()
	log := s.logger.With(slog.String("tool", ToolGetContext), slog.String("request_id", generateRequestID()))
	log.Info("tool_call_started", slog.Int("query_len", len(query)))

	assembled, err := s.assembler.GetContext(ctx, query, s.projectID)
	if err != nil {
		log.Error("tool_call_failed", slog.Duration("duration", time.Since(start)), slog.String("error", err.Error()))
		return GetContextOutput{}, "", MapError(err)
	}

	rendered := assembler.Render(assembled)
	out := GetContextOutput{Context: rendered, Sources: make([]string, 0, len(assembled.Snippets))}
	for _, sn := range assembled.Snippets {
		out.Sources = append(out.Sources, sn.FilePath)
	}
	if assembled.Sprint != nil {
		out.SprintID = assembled.Sprint.SprintID
	}

	log.Info("tool_call_completed",
		slog.Duration("duration", time.Since(start)),
		slog.Int("snippets", len(assembled.Snippets)),
		slog.Bool("sprint", assembled.Sprint != nil))
	return out, rendered, nil
}

func (s *Server) handleSearchArchitecture(ctx context.Context, input SearchArchitectureInput) (SearchOutput, string, error) {
	query := strings.TrimSpace(input.Query)
	if query == "" {
		return SearchOutput{}, "", NewInvalidParamsError("query parameter is required and must be a non-empty string")
	}
	limit := clampLimit(input.Limit, defaultSearchLimit, 1, maxLimit)

	start := time.Now()
	log := s.logger.With(slog.String("tool", ToolSearchArchitecture), slog.String("request_id", generateRequestID()))

	snippets, err := s.assembler.SearchArchitecture(ctx, query, s.projectID, limit)
	if err != nil {
		log.Error("tool_call_failed", slog.Duration("duration", time.Since(start)), slog.String("error", err.Error()))
		return SearchOutput{}, "", MapError(err)
	}

	log.Info("tool_call_completed",
		slog.Duration("duration", time.Since(start)),
		slog.Int("limit", limit),
		slog.Int("result_count", len(snippets)))
	return SearchOutput{Results: toSnippetOutputs(snippets)}, FormatSnippets(query, snippets), nil
}

func (s *Server) handleRecordDecision(ctx context.Context, input RecordDecisionInput) (DecisionOutput, error) {
	d, err := s.ledger.Record(ctx, input.Decision)
	if err != nil {
		s.logger.Error("tool_call_failed",
			slog.String("tool", ToolRecordDecision),
			slog.String("error", err.Error()))
		return DecisionOutput{}, MapError(err)
	}
	return toDecisionOutput(d), nil
}

func (s *Server) handleRecallDecisions(ctx context.Context, input RecallDecisionsInput) (RecallDecisionsOutput, string, error) {
	query := strings.TrimSpace(input.Query)
	if query == "" {
		return RecallDecisionsOutput{}, "", NewInvalidParamsError("query parameter is required and must be a non-empty string")
	}
	limit := clampLimit(input.Limit, ledger.DefaultRecallLimit, 1, maxLimit)

	decisions, err := s.ledger.Recall(ctx, query, limit)
	if err != nil {
		s.logger.Error("tool_call_failed",
			slog.String("tool", ToolRecallDecisions),
			slog.String("error", err.Error()))
		return RecallDecisionsOutput{}, "", MapError(err)
	}
	return RecallDecisionsOutput{Decisions: toDecisionOutputs(decisions)}, FormatDecisions(query, decisions), nil
}

// handleIndexStatus never fails on an unreachable store; it reports it.
func (s *Server) handleIndexStatus(ctx context.Context) (*IndexStatusOutput, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info := NewProjectDetector(s.rootPath, s.logger).Detect()
	if s.projectID != "" {
		info.ID = s.projectID
	}
	out := &IndexStatusOutput{
		Project:    *info,
		Embeddings: s.embeddingInfo(ctx),
	}

	if s.indexer != nil {
		h, err := s.indexer.Health(ctx)
		out.Stats.Online = h.Online
		out.Stats.Collection = h.Collection
		out.Stats.Points = h.Points
		if err != nil {
			out.Stats.Error = err.Error()
		}
	}

	if s.manifest != nil {
		files, chunks, err := s.manifest.Stats(ctx, s.projectID)
		if err != nil {
			return nil, MapError(err)
		}
		out.Stats.FileCount = files
		out.Stats.ChunkCount = chunks
		if last, err := s.manifest.LastIndexed(ctx, s.projectID); err == nil && !last.IsZero() {
			out.Stats.LastIndexed = last.UTC().Format(time.RFC3339)
		}
	}

	if s.sprints != nil {
		if loc, err := s.sprints.Active(ctx); err == nil && loc != nil {
			out.Sprint = loc.SprintID
		}
	}
	return out, nil
}

func (s *Server) embeddingInfo(ctx context.Context) EmbeddingInfo {
	if s.embedder == nil {
		return EmbeddingInfo{Provider: "none", Status: "unavailable"}
	}
	info := EmbeddingInfo{
		Provider:   s.config.Embeddings.Provider,
		Model:      s.embedder.ModelName(),
		Dimensions: s.embedder.Dimensions(),
		Status:     "ready",
	}
	if info.Model == embed.StaticModelName {
		info.Provider = string(embed.ProviderStatic)
	}
	if !s.embedder.Available(ctx) {
		info.Status = "unavailable"
	}
	return info
}

func (s *Server) mcpGetContextHandler(ctx context.Context, _ *mcp.CallToolRequest, input GetContextInput) (
	*mcp.CallToolResult,
	GetContextOutput,
	error,
) {
	out, text, err := s.handleGetContext(ctx, input)
	if err != nil {
		return nil, GetContextOutput{}, err
	}
	return textResult(text), out, nil
}

func (s *Server) mcpSearchArchitectureHandler(ctx context.Context, _ *mcp.CallToolRequest, input SearchArchitectureInput) (
	*mcp.CallToolResult,
	SearchOutput,
	error,
) {
	out, text, err := s.handleSearchArchitecture(ctx, input)
	if err != nil {
		return nil, SearchOutput{}, err
	}
	return textResult(text), out, nil
}

func (s *Server) mcpRecordDecisionHandler(ctx context.Context, _ *mcp.CallToolRequest, input RecordDecisionInput) (
	*mcp.CallToolResult,
	DecisionOutput,
	error,
) {
	out, err := s.handleRecordDecision(ctx, input)
	if err != nil {
		return nil, DecisionOutput{}, err
	}
	return textResult(fmt.Sprintf("Recorded decision %s.", out.ID)), out, nil
}

func (s *Server) mcpRecallDecisionsHandler(ctx context.Context, _ *mcp.CallToolRequest, input RecallDecisionsInput) (
	*mcp.CallToolResult,
	RecallDecisionsOutput,
	error,
) {
	out, text, err := s.handleRecallDecisions(ctx, input)
	if err != nil {
		return nil, RecallDecisionsOutput{}, err
	}
	return textResult(text), out, nil
}

func (s *Server) mcpIndexStatusHandler(ctx context.Context, _ *mcp.CallToolRequest, _ IndexStatusInput) (
	*mcp.CallToolResult,
	*IndexStatusOutput,
	error,
) {
	out, err := s.handleIndexStatus(ctx)
	if err != nil {
		return nil, nil, err
	}
	return nil, out, nil
}

// Serve runs the server on transport until ctx is cancelled or the client
// disconnects. Only "stdio" is supported.
func (s *Server) Serve(ctx context.Context, transport string) error {
	s.logger.Info("mcp_server_starting", slog.String("transport", transport))

	switch transport {
	case "stdio":
		err := s.mcp.Run(ctx, &mcp.StdioTransport{})
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("mcp_server_stopped", slog.String("error", err.Error()))
			return err
		}
		s.logger.Info("mcp_server_stopped")
		return nil
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio)", transport)
	}
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

// clampLimit returns def for a non-positive limit and otherwise limit
// bounded to [lo, hi].
func clampLimit(limit, def, lo, hi int) int {
	if limit <= 0 {
		return def
	}
	return max(lo, min(limit, hi))
}

func stringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

// intArg accepts JSON numbers (float64) and ints.
func intArg(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

// generateRequestID creates a short unique request ID for log correlation.
func generateRequestID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
