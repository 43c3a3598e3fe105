package mcp

import "github.com/Aman-CERP/kbindex/internal/indexer"

// SearchDocumentsInput defines the input schema for the search_documents tool.
type SearchDocumentsInput struct {
	Query       string  `json:"query" jsonschema:"keywords to look for in whole documents"`
	Limit       int     `json:"limit,omitempty" jsonschema:"maximum number of documents, default 10"`
	Cutoff      float64 `json:"cutoff,omitempty" jsonschema:"drop documents scoring below this fraction of the best score (0-1)"`
	IgnoreCoord bool    `json:"ignore_coord,omitempty" jsonschema:"rank by term weights only, without favoring documents that contain more of the query words"`
	PathPrefix  string  `json:"path_prefix,omitempty" jsonschema:"only documents whose path relative to the indexed root starts with this prefix"`
}

// SearchDocumentsOutput defines the output schema for the search_documents tool.
type SearchDocumentsOutput struct {
	Results []DocumentResultOutput `json:"results" jsonschema:"matching documents, best first"`
}

// DocumentResultOutput is one document returned by search_documents.
type DocumentResultOutput struct {
	FilePath    string  `json:"file_path" jsonschema:"absolute path of the document"`
	CMSPath     string  `json:"cms_path" jsonschema:"path relative to the indexed root"`
	Score       float64 `json:"score" jsonschema:"TF-IDF score after coordination"`
	TokensFound int     `json:"tokens_found" jsonschema:"distinct query words found in the document"`
	TokensTotal int     `json:"tokens_total" jsonschema:"distinct query words"`
}

// SearchPassagesInput defines the input schema for the search_passages tool.
type SearchPassagesInput struct {
	Query         string  `json:"query" jsonschema:"natural language description of the passage to find"`
	Limit         int     `json:"limit,omitempty" jsonschema:"maximum number of passages, default 5"`
	MinSimilarity float64 `json:"min_similarity,omitempty" jsonschema:"drop passages with cosine similarity below this value"`
	PathPrefix    string  `json:"path_prefix,omitempty" jsonschema:"only passages from documents whose relative path starts with this prefix"`
}

// SearchPassagesOutput defines the output schema for the search_passages tool.
type SearchPassagesOutput struct {
	Results []PassageResultOutput `json:"results" jsonschema:"matching passages, most similar first"`
}

// PassageResultOutput is one passage returned by search_passages.
type PassageResultOutput struct {
	FilePath   string  `json:"file_path" jsonschema:"absolute path of the source document"`
	CMSPath    string  `json:"cms_path" jsonschema:"path relative to the indexed root"`
	Text       string  `json:"text" jsonschema:"the passage text"`
	Similarity float64 `json:"similarity" jsonschema:"cosine similarity to the query, -1 to 1"`
}

// IndexStatusInput defines the input schema for the index_status tool (no parameters).
type IndexStatusInput struct{}

// IndexStatusOutput defines the output schema for the index_status tool.
type IndexStatusOutput struct {
	Tenant     indexer.Tenant `json:"tenant"`
	RootPath   string         `json:"root_path,omitempty"`
	Lexical    LexicalStats   `json:"lexical"`
	Vector     VectorStats    `json:"vector"`
	Embeddings EmbeddingInfo  `json:"embeddings"`
}

// LexicalStats describes the TF-IDF database.
type LexicalStats struct {
	Documents  int    `json:"documents"`
	Vocabulary int    `json:"vocabulary"`
	TotalWords int    `json:"total_words"`
	Path       string `json:"path"`
}

// VectorStats describes the vector database.
type VectorStats struct {
	Vectors    int    `json:"vectors"`
	Dimensions int    `json:"dimensions"`
	Workers    int    `json:"workers"` // 0 when queries run single-threaded
	Dirty      bool   `json:"dirty"`
	Path       string `json:"path"`
}

// EmbeddingInfo describes the embedder used for passages.
type EmbeddingInfo struct {
	Provider   string `json:"provider"`
	Model      string `json:"model"`
	Dimensions int    `json:"dimensions"`
}
