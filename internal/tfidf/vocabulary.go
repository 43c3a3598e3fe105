package tfidf

import "encoding/json"

// Vocabulary is an append-only arena of normalized words. A word's index is
// its position and never changes once assigned, even after every document
// containing the word has been deleted.
type Vocabulary struct {
	words []string
	index map[string]int
}

// NewVocabulary returns an empty vocabulary.
func NewVocabulary() *Vocabulary {
	return &Vocabulary{index: make(map[string]int)}
}

// Lookup returns the index of word, if it has one.
func (v *Vocabulary) Lookup(word string) (int, bool) {
	i, ok := v.index[word]
	return i, ok
}

// Intern returns the index of word, appending it when new.
func (v *Vocabulary) Intern(word string) int {
	if i, ok := v.index[word]; ok {
		return i
	}
	i := len(v.words)
	v.words = append(v.words, word)
	v.index[word] = i
	return i
}

// Word returns the word stored at index i.
func (v *Vocabulary) Word(i int) (string, bool) {
	if i < 0 || i >= len(v.words) {
		return "", false
	}
	return v.words[i], true
}

// Len returns the number of words ever interned.
func (v *Vocabulary) Len() int { return len(v.words) }

// MarshalJSON encodes the vocabulary as a JSON array of words.
func (v *Vocabulary) MarshalJSON() ([]byte, error) {
	if v.words == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(v.words)
}

// UnmarshalJSON rebuilds the vocabulary from a JSON array. A duplicate
// word keeps its first index.
func (v *Vocabulary) UnmarshalJSON(data []byte) error {
	var words []string
	if err := json.Unmarshal(data, &words); err != nil {
		return err
	}
	v.words = words
	v.index = make(map[string]int, len(words))
	for i, w := range words {
		if _, dup := v.index[w]; !dup {
			v.index[w] = i
		}
	}
	return nil
}
