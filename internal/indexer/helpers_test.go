package indexer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/kbindex/internal/embed"
	"github.com/Aman-CERP/kbindex/internal/tfidf"
	"github.com/Aman-CERP/kbindex/internal/vectordb"
)

var testTenant = Tenant{Org: "acme", ID: "alice"}

type fixture struct {
	root     string
	registry *Registry
	ix       *Indexer
}

func newFixture(t *testing.T, embedder embed.Embedder) *fixture {
	t.Helper()
	base := t.TempDir()
	root := filepath.Join(base, "docs")
	require.NoError(t, os.MkdirAll(root, 0o755))

	if embedder == nil {
		embedder = embed.NewStaticEmbedder(32)
	}
	reg := NewRegistry(RegistryConfig{
		DataDir: filepath.Join(base, "data"),
		Lexical: tfidf.Options{DocIDKey: tfidf.DefaultDocIDKey, Lang: "en"},
		Vector:  vectordb.Options{Embedder: embedder},
	})
	t.Cleanup(func() { _ = reg.Close() })

	ix, err := New(Config{
		Registry: reg,
		Chunking: vectordb.IngestOptions{ChunkSize: 40, SplitSeparator: "\n"},
		Root:     root,
		Exclude:  []string{".git/", "*.swp"},
	})
	require.NoError(t, err)
	return &fixture{root: root, registry: reg, ix: ix}
}

// write creates rel under the fixture root and returns its absolute path.
func (f *fixture) write(t *testing.T, rel, content string) string {
	t.Helper()
	path := filepath.Join(f.root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func (f *fixture) handles(t *testing.T) *Handles {
	t.Helper()
	h, err := f.registry.Get(context.Background(), testTenant)
	require.NoError(t, err)
	return h
}

// vectorsFor lists the vectors stored for fullpath.
func (f *fixture) vectorsFor(t *testing.T, fullpath string) []vectordb.Entry {
	t.Helper()
	entries, err := f.handles(t).Vector.List(vectordb.MetadataEquals(MetaFullPath, fullpath), false)
	require.NoError(t, err)
	return entries
}

func (f *fixture) indexed(t *testing.T) []string {
	t.Helper()
	files, err := f.ix.IndexedFiles(context.Background(), testTenant)
	require.NoError(t, err)
	return files
}

const sampleDoc = "The quick brown fox jumps over the lazy dog.\n" +
	"Foxes are quick and clever animals.\n" +
	"Dogs are loyal companions.\n"
