package vectordb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/kbindex/internal/embed"
)

func testOptions(dir string) Options {
	opts := DefaultOptions(dir)
	opts.Autosave = false
	return opts
}

func openTestDB(t *testing.T, opts Options) *DB {
	t.Helper()
	db, err := Open(context.Background(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// letterEmbedder maps text to a 3-dimensional vector of a, b, c counts.
func letterEmbedder() embed.Embedder {
	return embed.Func{
		Dims: 3,
		Fn: func(_ context.Context, text string) ([]float32, error) {
			v := make([]float32, 3)
			for _, r := range text {
				switch r {
				case 'a':
					v[0]++
				case 'b':
					v[1]++
				case 'c':
					v[2]++
				}
			}
			return v, nil
		},
	}
}
