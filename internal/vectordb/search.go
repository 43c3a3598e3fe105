package vectordb

import (
	"context"
	"sort"

	kberrors "github.com/Aman-CERP/kbindex/internal/errors"
)

// QueryOptions tunes Query.
type QueryOptions struct {
	// TopK caps the number of results; zero or less means no cap.
	TopK int

	// MinSimilarity, when positive, ends the scan at the first result
	// scoring below it.
	MinSimilarity float64

	// Filter skips records whose metadata it rejects. Nil keeps all.
	Filter func(Metadata) bool

	// SkipText leaves Result.Text empty instead of reading artifacts.
	SkipText bool
}

// Result is one query match.
type Result struct {
	Entry
	Similarity float64 `json:"similarity"`
}

// Query ranks every record by cosine similarity to target, highest first.
// Results stop at TopK or at the first similarity below MinSimilarity,
// and records rejected by Filter are skipped without counting.
//
// Text hydration is all or nothing: if any selected record's text cannot
// be read the query fails.
func (db *DB) Query(target []float32, opts QueryOptions) ([]Result, error) {
	if len(target) == 0 {
		return nil, kberrors.ValidationError("query vector is empty", nil)
	}
	targetNorm := Norm(target)

	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return nil, kberrors.ErrClosed
	}

	var hits []hit
	var err error
	if db.pool != nil {
		hits, err = db.pool.search(target, targetNorm)
	} else {
		hits, err = scan(db.snapshotLocked(), target, targetNorm)
	}
	if err != nil {
		return nil, err
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].similarity != hits[j].similarity {
			return hits[i].similarity > hits[j].similarity
		}
		return hits[i].record.Hash < hits[j].record.Hash
	})

	results := make([]Result, 0)
	for _, h := range hits {
		if opts.TopK > 0 && len(results) == opts.TopK {
			break
		}
		if opts.MinSimilarity > 0 && h.similarity < opts.MinSimilarity {
			break
		}
		if opts.Filter != nil && !opts.Filter(h.record.Metadata) {
			continue
		}
		results = append(results, Result{Entry: h.record.entry(), Similarity: h.similarity})
	}

	if !opts.SkipText {
		for i := range results {
			text, err := db.artifacts.read(results[i].Hash)
			if err != nil {
				return nil, err
			}
			results[i].Text = text
		}
	}
	return results, nil
}

// QueryText embeds text with the configured embedder and runs Query.
func (db *DB) QueryText(ctx context.Context, text string, opts QueryOptions) ([]Result, error) {
	target, err := db.vectorFor(ctx, nil, text)
	if err != nil {
		return nil, err
	}
	return db.Query(target, opts)
}
