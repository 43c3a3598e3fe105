package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Aman-CERP/kbindex/internal/config"
	"github.com/Aman-CERP/kbindex/internal/indexer"
	"github.com/Aman-CERP/kbindex/internal/telemetry"
	"github.com/Aman-CERP/kbindex/internal/tfidf"
	"github.com/Aman-CERP/kbindex/internal/vectordb"
	"github.com/Aman-CERP/kbindex/pkg/version"
)

// Tool names.
const (
	ToolSearchDocuments = "search_documents"
	ToolSearchPassages  = "search_passages"
	ToolIndexStatus     = "index_status"
)

// Server is the MCP server for one tenant's knowledge base.
type Server struct {
	mcp      *mcp.Server
	indexer  *indexer.Indexer
	tenant   indexer.Tenant
	config   *config.Config
	logger   *slog.Logger
	rootPath string
	metrics  *telemetry.QueryMetrics
}

// ToolInfo contains information about a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

var tools = []ToolInfo{
	{
		Name:        ToolSearchDocuments,
		Description: "Keyword search over whole documents in the knowledge base, ranked by TF-IDF. Use it to find which documents talk about a topic.",
	},
	{
		Name:        ToolSearchPassages,
		Description: "Semantic search for passages. The query is embedded and compared with every indexed passage by cosine similarity. Use it to find the text that answers a question.",
	},
	{
		Name:        ToolIndexStatus,
		Description: "Report document, vocabulary and vector counts and the active embedder.",
	},
}

// NewServer creates a server answering from the databases of tenant.
// rootPath is reported by index_status and may be empty.
func NewServer(ix *indexer.Indexer, tenant indexer.Tenant, cfg *config.Config, rootPath string) (*Server, error) {
	if ix == nil {
		return nil, errors.New("indexer is required")
	}
	if err := tenant.Validate(); err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.NewConfig()
	}

	s := &Server{
		indexer:  ix,
		tenant:   tenant,
		config:   cfg,
		logger:   slog.Default(),
		rootPath: rootPath,
	}
	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    "kbindex",
			Version: version.Version,
		},
		nil,
	)
	s.registerTools()
	return s, nil
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// SetMetrics makes the search tools record into m and exposes m as the
// metrics resource. Call it before RegisterResources.
func (s *Server) SetMetrics(m *telemetry.QueryMetrics) {
	s.metrics = m
}

// recordQuery feeds a completed search to the metrics collector, if any.
func (s *Server) recordQuery(tool string, engine telemetry.Engine, query string, results int, start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.Record(telemetry.QueryEvent{
		Tool:        tool,
		Engine:      engine,
		Query:       query,
		ResultCount: results,
		Latency:     time.Since(start),
		Timestamp:   start,
	})
}

// Info returns the server name and version.
func (s *Server) Info() (name, ver string) {
	return "kbindex", version.Version
}

// ListTools returns all registered tools.
func (s *Server) ListTools() []ToolInfo {
	return append([]ToolInfo(nil), tools...)
}

// CallTool invokes a tool by name. args are decoded into the tool's input
// type the same way the protocol layer decodes them.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	switch name {
	case ToolSearchDocuments:
		var in SearchDocumentsInput
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		return s.searchDocuments(ctx, in)
	case ToolSearchPassages:
		var in SearchPassagesInput
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		return s.searchPassages(ctx, in)
	case ToolIndexStatus:
		return s.indexStatus(ctx)
	default:
		return nil, NewMethodNotFoundError(name)
	}
}

func decodeArgs(args map[string]any, dst any) error {
	data, err := json.Marshal(args)
	if err != nil {
		return NewInvalidParamsError(err.Error())
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return NewInvalidParamsError(err.Error())
	}
	return nil
}

func (s *Server) searchDocuments(ctx context.Context, in SearchDocumentsInput) (SearchDocumentsOutput, error) {
	if strings.TrimSpace(in.Query) == "" {
		return SearchDocumentsOutput{}, NewInvalidParamsError("query cannot be empty or whitespace only")
	}
	if in.Cutoff < 0 || in.Cutoff > 1 {
		return SearchDocumentsOutput{}, NewInvalidParamsError("cutoff must be between 0 and 1")
	}
	limit := clampLimit(in.Limit, 10, 1, 50)

	start := time.Now()
	requestID := uuid.NewString()
	s.logger.Info("mcp_search_documents_started",
		slog.String("request_id", requestID),
		slog.String("query", in.Query),
		slog.Int("limit", limit))

	h, err := s.indexer.Registry().Get(ctx, s.tenant)
	if err != nil {
		return SearchDocumentsOutput{}, MapError(err)
	}
	opts := tfidf.QueryOptions{
		TopK:        limit,
		CutoffScore: in.Cutoff,
		IgnoreCoord: in.IgnoreCoord,
	}
	if in.PathPrefix != "" {
		opts.Filter = func(m tfidf.Metadata) bool { return hasPrefix(m, in.PathPrefix) }
	}
	results, err := h.TFIDF.Query(in.Query, opts)
	if err != nil {
		s.logger.Error("mcp_search_documents_failed",
			slog.String("request_id", requestID),
			slog.String("error", err.Error()))
		return SearchDocumentsOutput{}, MapError(err)
	}

	out := SearchDocumentsOutput{Results: make([]DocumentResultOutput, 0, len(results))}
	for _, r := range results {
		out.Results = append(out.Results, DocumentResultOutput{
			FilePath:    metaString(r.Metadata, indexer.MetaFullPath),
			CMSPath:     metaString(r.Metadata, indexer.MetaCMSPath),
			Score:       r.Score,
			TokensFound: r.QueryTokensFound,
			TokensTotal: r.TotalQueryTokens,
		})
	}
	s.recordQuery(ToolSearchDocuments, telemetry.EngineTFIDF, in.Query, len(out.Results), start)
	s.logger.Info("mcp_search_documents_completed",
		slog.String("request_id", requestID),
		slog.Duration("duration", time.Since(start)),
		slog.Int("result_count", len(out.Results)))
	return out, nil
}

func (s *Server) searchPassages(ctx context.Context, in SearchPassagesInput) (SearchPassagesOutput, error) {
	if strings.TrimSpace(in.Query) == "" {
		return SearchPassagesOutput{}, NewInvalidParamsError("query cannot be empty or whitespace only")
	}
	limit := clampLimit(in.Limit, 5, 1, 50)
	minSimilarity := in.MinSimilarity
	if minSimilarity == 0 {
		minSimilarity = s.config.Vector.MinSimilarity
	}

	start := time.Now()
	requestID := uuid.NewString()
	s.logger.Info("mcp_search_passages_started",
		slog.String("request_id", requestID),
		slog.String("query", in.Query),
		slog.Int("limit", limit))

	h, err := s.indexer.Registry().Get(ctx, s.tenant)
	if err != nil {
		return SearchPassagesOutput{}, MapError(err)
	}
	opts := vectordb.QueryOptions{
		TopK:          limit,
		MinSimilarity: minSimilarity,
	}
	if in.PathPrefix != "" {
		opts.Filter = func(m vectordb.Metadata) bool { return hasPrefix(m, in.PathPrefix) }
	}
	results, err := h.Vector.QueryText(ctx, in.Query, opts)
	if err != nil {
		s.logger.Error("mcp_search_passages_failed",
			slog.String("request_id", requestID),
			slog.String("error", err.Error()))
		return SearchPassagesOutput{}, MapError(err)
	}

	out := SearchPassagesOutput{Results: make([]PassageResultOutput, 0, len(results))}
	for _, r := range results {
		out.Results = append(out.Results, PassageResultOutput{
			FilePath:   metaString(r.Metadata, indexer.MetaFullPath),
			CMSPath:    metaString(r.Metadata, indexer.MetaCMSPath),
			Text:       r.Text,
			Similarity: r.Similarity,
		})
	}
	s.recordQuery(ToolSearchPassages, telemetry.EngineVector, in.Query, len(out.Results), start)
	s.logger.Info("mcp_search_passages_completed",
		slog.String("request_id", requestID),
		slog.Duration("duration", time.Since(start)),
		slog.Int("result_count", len(out.Results)))
	return out, nil
}

func (s *Server) indexStatus(ctx context.Context) (*IndexStatusOutput, error) {
	h, err := s.indexer.Registry().Get(ctx, s.tenant)
	if err != nil {
		return nil, MapError(err)
	}
	lex := h.TFIDF.Stats()
	vec := h.Vector.Stats()

	out := &IndexStatusOutput{
		Tenant:   s.tenant,
		RootPath: s.rootPath,
		Lexical: LexicalStats{
			Documents:  lex.Documents,
			Vocabulary: lex.Vocabulary,
			TotalWords: lex.TotalWordCount,
			Path:       h.TFIDF.Path(),
		},
		Vector: VectorStats{
			Vectors:    vec.Records,
			Dimensions: vec.Dimensions,
			Workers:    vec.Workers,
			Dirty:      vec.Dirty,
			Path:       h.Vector.Path(),
		},
		Embeddings: EmbeddingInfo{Provider: s.config.Embeddings.Provider},
	}
	if e := h.Vector.Embedder(); e != nil {
		out.Embeddings.Model = e.ModelName()
		out.Embeddings.Dimensions = e.Dimensions()
	} else {
		out.Embeddings.Provider = "none"
	}
	return out, nil
}

// registerTools registers all tools with the MCP server.
func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{Name: ToolSearchDocuments, Description: tools[0].Description}, s.mcpSearchDocumentsHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: ToolSearchPassages, Description: tools[1].Description}, s.mcpSearchPassagesHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: ToolIndexStatus, Description: tools[2].Description}, s.mcpIndexStatusHandler)
	s.logger.Debug("mcp_tools_registered", slog.Int("count", len(tools)))
}

func (s *Server) mcpSearchDocumentsHandler(ctx context.Context, _ *mcp.CallToolRequest, input SearchDocumentsInput) (
	*mcp.CallToolResult,
	SearchDocumentsOutput,
	error,
) {
	out, err := s.searchDocuments(ctx, input)
	if err != nil {
		return nil, SearchDocumentsOutput{}, err
	}
	return textResult(FormatDocumentResults(input.Query, out.Results)), out, nil
}

func (s *Server) mcpSearchPassagesHandler(ctx context.Context, _ *mcp.CallToolRequest, input SearchPassagesInput) (
	*mcp.CallToolResult,
	SearchPassagesOutput,
	error,
) {
	out, err := s.searchPassages(ctx, input)
	if err != nil {
		return nil, SearchPassagesOutput{}, err
	}
	return textResult(FormatPassageResults(input.Query, out.Results)), out, nil
}

func (s *Server) mcpIndexStatusHandler(ctx context.Context, _ *mcp.CallToolRequest, _ IndexStatusInput) (
	*mcp.CallToolResult,
	*IndexStatusOutput,
	error,
) {
	out, err := s.indexStatus(ctx)
	if err != nil {
		return nil, nil, err
	}
	return nil, out, nil
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}
}

// Serve runs the server on transport until ctx is canceled.
func (s *Server) Serve(ctx context.Context, transport string) error {
	s.logger.Info("mcp_server_starting",
		slog.String("transport", transport),
		slog.String("tenant", s.tenant.String()))

	switch transport {
	case "stdio":
		err := s.mcp.Run(ctx, &mcp.StdioTransport{})
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("mcp_server_stopped", slog.String("error", err.Error()))
		} else {
			s.logger.Info("mcp_server_stopped")
		}
		return err
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio)", transport)
	}
}

func hasPrefix(m map[string]any, prefix string) bool {
	return strings.HasPrefix(metaString(m, indexer.MetaCMSPath), prefix)
}

func metaString(m map[string]any, key string) string {
	if v, ok := m[key]; ok && v != nil {
		return fmt.Sprint(v)
	}
	return ""
}
