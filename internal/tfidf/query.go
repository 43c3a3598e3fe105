package tfidf

import (
	"fmt"
	"sort"

	kberrors "github.com/Aman-CERP/kbindex/internal/errors"
	"github.com/Aman-CERP/kbindex/internal/lexical"
)

// QueryOptions tunes Query.
type QueryOptions struct {
	// TopK caps the number of results; zero or less returns all.
	TopK int

	// Filter drops documents whose metadata it rejects. Nil keeps all.
	Filter func(Metadata) bool

	// Lang overrides the database language for tokenizing the query.
	Lang string

	// CutoffScore, when positive, drops results whose score divided by the
	// highest score is below it.
	CutoffScore float64

	// IgnoreCoord scores by the weight sum alone, without scaling by the
	// fraction of query words found.
	IgnoreCoord bool
}

// Result is one scored document.
type Result struct {
	Key               string   `json:"key"`
	Metadata          Metadata `json:"metadata"`
	Score             float64  `json:"score"`
	CoordScore        float64  `json:"coord_score"`
	TFIDFScore        float64  `json:"tfidf_score"`
	QueryTokensFound  int      `json:"query_tokens_found"`
	TotalQueryTokens  int      `json:"total_query_tokens"`
	CutoffScaledScore float64  `json:"cutoff_scaled_score,omitempty"`
	HighestQueryScore float64  `json:"highest_query_score,omitempty"`
}

// Query scores every filtered document against query.
//
// A document's score is the sum of its weights for the distinct query words
// it contains, multiplied by the fraction of distinct query words found
// unless IgnoreCoord is set. Documents containing none of the words are not
// returned. Results are ordered by descending score.
//
// An empty query lists every filtered document, unscored and ordered by key;
// TopK and CutoffScore do not apply to the listing.
func (db *DB) Query(query string, opts QueryOptions) ([]Result, error) {
	lang := db.lang(opts.Lang)

	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return nil, kberrors.ErrClosed
	}

	if query == "" {
		return db.listLocked(opts.Filter), nil
	}

	tokens := distinct(lexical.Normalize(query, lang))
	indexes := make([]int, 0, len(tokens))
	for _, tok := range tokens {
		if idx, ok := db.vocab.Lookup(tok); ok {
			indexes = append(indexes, idx)
		}
	}

	results := make([]Result, 0)
	if len(tokens) == 0 || len(indexes) == 0 {
		return results, nil
	}

	for key, doc := range db.docs {
		if opts.Filter != nil && !opts.Filter(doc.Metadata) {
			continue
		}
		var sum float64
		found := 0
		for _, idx := range indexes {
			if s, ok := doc.Scores[idx]; ok {
				sum += s.TFIDF
				found++
			}
		}
		// a document sharing no word with the query is not a result
		if found == 0 {
			continue
		}

		coord := 1.0
		if !opts.IgnoreCoord {
			coord = float64(found) / float64(len(tokens))
		}
		results = append(results, Result{
			Key:              key,
			Metadata:         cloneMetadata(doc.Metadata),
			Score:            sum * coord,
			CoordScore:       coord,
			TFIDFScore:       sum,
			QueryTokensFound: found,
			TotalQueryTokens: len(tokens),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Key < results[j].Key
	})

	if opts.CutoffScore > 0 && len(results) > 0 {
		highest := results[0].Score
		kept := results[:0]
		for _, r := range results {
			if highest > 0 {
				r.CutoffScaledScore = r.Score / highest
			}
			r.HighestQueryScore = highest
			if r.CutoffScaledScore >= opts.CutoffScore {
				kept = append(kept, r)
			}
		}
		results = kept
	}

	if opts.TopK > 0 && len(results) > opts.TopK {
		results = results[:opts.TopK]
	}
	return results, nil
}

func (db *DB) listLocked(filter func(Metadata) bool) []Result {
	results := make([]Result, 0, len(db.docs))
	for key, doc := range db.docs {
		if filter != nil && !filter(doc.Metadata) {
			continue
		}
		results = append(results, Result{Key: key, Metadata: cloneMetadata(doc.Metadata)})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Key < results[j].Key })
	return results
}

func distinct(words []string) []string {
	seen := make(map[string]struct{}, len(words))
	out := words[:0]
	for _, w := range words {
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}
	return out
}

// MetadataEquals returns a filter accepting documents whose field has the
// same printed form as value, so 1 and 1.0 from a reloaded snapshot match.
func MetadataEquals(field string, value any) func(Metadata) bool {
	want := fmt.Sprint(value)
	return func(m Metadata) bool {
		v, ok := m[field]
		return ok && fmt.Sprint(v) == want
	}
}
