package mcp

import (
	"path/filepath"
	"strings"
)

// mimeTypes maps the extensions of commonly indexed documents.
var mimeTypes = map[string]string{
	".txt":  "text/plain",
	".text": "text/plain",
	".log":  "text/plain",
	".md":   "text/markdown",
	".mdx":  "text/markdown",
	".rst":  "text/x-rst",
	".adoc": "text/asciidoc",
	".html": "text/html",
	".htm":  "text/html",
	".csv":  "text/csv",
	".tsv":  "text/tab-separated-values",
	".json": "application/json",
	".yaml": "text/x-yaml",
	".yml":  "text/x-yaml",
	".xml":  "text/xml",
	".toml": "text/x-toml",
	".ini":  "text/plain",
	".go":   "text/x-go",
	".py":   "text/x-python",
	".js":   "text/javascript",
	".ts":   "text/typescript",
	".sh":   "text/x-shellscript",
	".sql":  "text/x-sql",
}

// MimeTypeForPath returns the MIME type for a file path, "text/plain" when
// the extension is unknown.
func MimeTypeForPath(path string) string {
	if mime, ok := mimeTypes[strings.ToLower(filepath.Ext(path))]; ok {
		return mime
	}
	return "text/plain"
}
