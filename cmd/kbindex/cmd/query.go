package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/kbindex/internal/indexer"
	"github.com/Aman-CERP/kbindex/internal/output"
	"github.com/Aman-CERP/kbindex/internal/tfidf"
	"github.com/Aman-CERP/kbindex/internal/vectordb"
)

// Query modes
const (
	modeTFIDF  = "tfidf"
	modeVector = "vector"
)

const previewRunes = 240

type queryOptions struct {
	mode          string
	topK          int
	cutoff        float64
	minSimilarity float64
	ignoreCoord   bool
	jsonOutput    bool
}

func newQueryCmd() *cobra.Command {
	var opts queryOptions

	cmd := &cobra.Command{
		Use:   "query [text]",
		Short: "Search the knowledge base",
		Long: `Search the knowledge base.

--mode tfidf (default) ranks whole documents by TF-IDF, favoring documents
that contain more of the query words unless --ignore-coord is set. An empty
query lists every document.

--mode vector embeds the query and ranks stored passages by cosine
similarity.`,
		Example: `  kbindex query "penguin habitat"
  kbindex query "penguin habitat" --cutoff 0.5 --top-k 3
  kbindex query "where do penguins live?" --mode vector --min-similarity 0.3
  kbindex query "owls" --json`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd.Context(), cmd, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.mode, "mode", "m", modeTFIDF, "Search mode: tfidf or vector")
	cmd.Flags().IntVarP(&opts.topK, "top-k", "k", 10, "Maximum number of results (0 for all)")
	cmd.Flags().Float64Var(&opts.cutoff, "cutoff", 0, "tfidf: drop results scoring below this fraction of the best score")
	cmd.Flags().Float64Var(&opts.minSimilarity, "min-similarity", 0, "vector: drop passages below this cosine similarity")
	cmd.Flags().BoolVar(&opts.ignoreCoord, "ignore-coord", false, "tfidf: rank by term weights only")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output results as JSON")

	return cmd
}

func runQuery(ctx context.Context, cmd *cobra.Command, text string, opts queryOptions) error {
	if opts.mode != modeTFIDF && opts.mode != modeVector {
		return fmt.Errorf("invalid mode: %s (use: tfidf, vector)", opts.mode)
	}
	if opts.mode == modeVector && strings.TrimSpace(text) == "" {
		return fmt.Errorf("vector queries need text")
	}

	sess, err := openSession("", nil)
	if err != nil {
		return err
	}
	defer func() { _ = sess.Close() }()

	h, err := sess.handles(ctx)
	if err != nil {
		return err
	}

	start := time.Now()
	var count int
	if opts.mode == modeTFIDF {
		count, err = queryTFIDF(cmd, h, text, opts)
	} else {
		count, err = queryVector(ctx, cmd, h, text, opts)
	}
	if err != nil {
		return err
	}

	slog.Info("query_completed",
		slog.String("mode", opts.mode),
		slog.String("tenant", sess.tenant.String()),
		slog.Int("results", count),
		slog.Duration("duration", time.Since(start)))
	return nil
}

func queryTFIDF(cmd *cobra.Command, h *indexer.Handles, text string, opts queryOptions) (int, error) {
	results, err := h.TFIDF.Query(text, tfidf.QueryOptions{
		TopK:        opts.topK,
		CutoffScore: opts.cutoff,
		IgnoreCoord: opts.ignoreCoord,
	})
	if err != nil {
		return 0, err
	}
	if opts.jsonOutput {
		return len(results), writeJSON(cmd, results)
	}

	out := output.New(cmd.OutOrStdout())
	if len(results) == 0 {
		out.Warningf("No documents found for %q", text)
		return 0, nil
	}
	for i, r := range results {
		score := fmt.Sprintf("score %.4f", r.Score)
		if r.TotalQueryTokens > 0 {
			score += fmt.Sprintf(" (%d/%d words)", r.QueryTokensFound, r.TotalQueryTokens)
		}
		out.Result(i+1, displayName(r.Metadata, r.Key), score, "")
	}
	return len(results), nil
}

func queryVector(ctx context.Context, cmd *cobra.Command, h *indexer.Handles, text string, opts queryOptions) (int, error) {
	results, err := h.Vector.QueryText(ctx, text, vectordb.QueryOptions{
		TopK:          opts.topK,
		MinSimilarity: opts.minSimilarity,
	})
	if err != nil {
		return 0, err
	}
	if opts.jsonOutput {
		return len(results), writeJSON(cmd, results)
	}

	out := output.New(cmd.OutOrStdout())
	if len(results) == 0 {
		out.Warningf("No passages found for %q", text)
		return 0, nil
	}
	for i, r := range results {
		out.Result(i+1, displayName(r.Metadata, r.Hash), fmt.Sprintf("similarity %.3f", r.Similarity), preview(r.Text, previewRunes))
	}
	return len(results), nil
}

// displayName prefers the relative path recorded at ingest.
func displayName(md map[string]any, fallback string) string {
	if v, ok := md[indexer.MetaCMSPath].(string); ok && v != "" {
		return v
	}
	return fallback
}

func preview(s string, n int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
