package cmd

import (
	"context"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/kbindex/internal/embed"
	"github.com/Aman-CERP/kbindex/internal/preflight"
	"github.com/Aman-CERP/kbindex/internal/ui"
)

const statsEmbedderTimeout = 3 * time.Second

func newStatsCmd() *cobra.Command {
	var jsonOutput bool
	var noColor bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show document, vocabulary and vector counts",
		Long: `Show the size of the tenant's TF-IDF index and vector database, the
storage they use, and whether the embedder answers.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStats(cmd.Context(), cmd, jsonOutput, noColor)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	return cmd
}

func runStats(ctx context.Context, cmd *cobra.Command, jsonOutput, noColor bool) error {
	sess, err := openSession("", nil)
	if err != nil {
		return err
	}
	defer func() { _ = sess.Close() }()

	h, err := sess.handles(ctx)
	if err != nil {
		return err
	}
	lex := h.TFIDF.Stats()
	vec := h.Vector.Stats()

	lexicalPath, vectorPath := sess.registry.Paths(sess.tenant)
	lexSize, lexMod := dirUsage(lexicalPath)
	vecSize, vecMod := dirUsage(vectorPath)
	lastMod := lexMod
	if vecMod.After(lastMod) {
		lastMod = vecMod
	}

	info := ui.StatusInfo{
		Tenant:         sess.tenant.String(),
		DataDir:        filepath.Dir(lexicalPath),
		Documents:      lex.Documents,
		Vocabulary:     lex.Vocabulary,
		TotalWords:     lex.TotalWordCount,
		Vectors:        vec.Records,
		Dimensions:     vec.Dimensions,
		LastModified:   lastMod,
		LexicalSize:    lexSize,
		VectorSize:     vecSize,
		TotalSize:      lexSize + vecSize,
		EmbedderType:   sess.cfg.Embeddings.Provider,
		EmbedderStatus: checkEmbedder(ctx, sess.embedder),
		EmbedderModel:  sess.embedder.ModelName(),
	}

	r := ui.NewStatusRenderer(cmd.OutOrStdout(), noColor || ui.DetectNoColor() || !ui.IsTTY(cmd.OutOrStdout()))
	if jsonOutput {
		return r.RenderJSON(info)
	}
	return r.Render(info)
}

// checkEmbedder reports whether the embedder answers.
func checkEmbedder(ctx context.Context, e embed.Embedder) string {
	checker := preflight.New(preflight.WithEmbedder(e), preflight.WithEmbedderTimeout(statsEmbedderTimeout))
	if checker.CheckEmbedder(ctx).Status != preflight.StatusPass {
		return "offline"
	}
	return "ready"
}

// dirUsage sums file sizes under dir and returns the newest mtime.
func dirUsage(dir string) (int64, time.Time) {
	var size int64
	var newest time.Time
	_ = filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		size += info.Size()
		if info.ModTime().After(newest) {
			newest = info.ModTime()
		}
		return nil
	})
	return size, newest
}
