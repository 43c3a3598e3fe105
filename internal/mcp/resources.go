package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// MaxResourceSize is the maximum file size for resources (1MB).
const MaxResourceSize = 1024 * 1024

// StatusURI is the URI of the index status resource.
const StatusURI = "kbindex://status"

// MetricsURI is the URI of the query metrics resource.
const MetricsURI = "kbindex://metrics"

// RegisterResources registers every indexed document as a file:// resource
// plus the status resource, and the metrics resource when metrics are
// set. Call it before Serve.
func (s *Server) RegisterResources(ctx context.Context) error {
	files, err := s.indexer.IndexedFiles(ctx, s.tenant)
	if err != nil {
		return fmt.Errorf("failed to list indexed files: %w", err)
	}
	for _, path := range files {
		s.registerFileResource(path)
	}
	s.registerStatusResource()
	if s.metrics != nil {
		s.registerMetricsResource()
	}

	s.logger.Info("mcp_resources_registered", slog.Int("count", len(files)))
	return nil
}

// FileURI returns the resource URI of an indexed document.
func FileURI(path string) string {
	return "file://" + filepath.ToSlash(path)
}

func (s *Server) registerFileResource(path string) {
	desc := path
	if info, err := os.Stat(path); err == nil {
		desc = fmt.Sprintf("%s (%s)", path, humanSize(info.Size()))
	}
	s.mcp.AddResource(
		&mcp.Resource{
			Name:        filepath.Base(path),
			URI:         FileURI(path),
			Description: desc,
			MIMEType:    MimeTypeForPath(path),
		},
		func(ctx context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
			return s.handleReadResource(ctx, path)
		},
	)
}

// handleReadResource returns the current content of an indexed document.
func (s *Server) handleReadResource(ctx context.Context, path string) (*mcp.ReadResourceResult, error) {
	if !filepath.IsAbs(path) || strings.Contains(filepath.ToSlash(path), "/../") {
		return nil, NewInvalidParamsError(fmt.Sprintf("invalid path: %s", path))
	}

	files, err := s.indexer.IndexedFiles(ctx, s.tenant)
	if err != nil {
		return nil, MapError(err)
	}
	if i := sort.SearchStrings(files, path); i == len(files) || files[i] != path {
		return nil, &MCPError{
			Code:    ErrCodeNotIndexed,
			Message: fmt.Sprintf("file not indexed: %s", path),
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &MCPError{
				Code:    ErrCodeFileNotFound,
				Message: fmt.Sprintf("file not found: %s", path),
			}
		}
		return nil, MapError(err)
	}
	if info.Size() > MaxResourceSize {
		return nil, &MCPError{
			Code:    ErrCodeFileTooLarge,
			Message: fmt.Sprintf("file too large: %d bytes (max %d)", info.Size(), MaxResourceSize),
		}
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, MapError(err)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{
			{
				URI:      FileURI(path),
				MIMEType: MimeTypeForPath(path),
				Text:     string(content),
			},
		},
	}, nil
}

func (s *Server) registerStatusResource() {
	s.mcp.AddResource(
		&mcp.Resource{
			Name:        "status",
			URI:         StatusURI,
			Description: "Document and vector counts for the knowledge base",
			MIMEType:    "application/json",
		},
		func(ctx context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
			return s.handleReadStatus(ctx)
		},
	)
}

func (s *Server) handleReadStatus(ctx context.Context) (*mcp.ReadResourceResult, error) {
	status, err := s.indexStatus(ctx)
	if err != nil {
		return nil, err
	}
	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return nil, MapError(err)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{
			{
				URI:      StatusURI,
				MIMEType: "application/json",
				Text:     string(data),
			},
		},
	}, nil
}

func (s *Server) registerMetricsResource() {
	s.mcp.AddResource(
		&mcp.Resource{
			Name:        "metrics",
			URI:         MetricsURI,
			Description: "Searches per tool since the server started, plus the totals stored for this tenant over the last 30 days",
			MIMEType:    "application/json",
		},
		func(ctx context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
			return s.handleReadMetrics(ctx)
		},
	)
}

// metricsHistoryDays is how far back the metrics resource reads stored totals.
const metricsHistoryDays = 30

func (s *Server) handleReadMetrics(ctx context.Context) (*mcp.ReadResourceResult, error) {
	if s.metrics == nil {
		return nil, &MCPError{Code: ErrCodeInternalError, Message: "Query metrics are disabled."}
	}
	snap, err := s.metrics.Report(ctx, metricsHistoryDays)
	if err != nil {
		// the live counts are still worth returning
		slog.Warn("metrics_history_unavailable", slog.String("error", err.Error()))
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return nil, MapError(err)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{
			{
				URI:      MetricsURI,
				MIMEType: "application/json",
				Text:     string(data),
			},
		},
	}, nil
}

// humanSize formats bytes as a human-readable string.
func humanSize(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
