package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/kbindex/internal/ui"
)

// isolate points HOME and the config directory at a temp dir and chdirs
// into a fresh workspace. It returns the workspace and the data dir.
func isolate(t *testing.T) (string, string) {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	t.Setenv("KBINDEX_EMBEDDINGS_PROVIDER", "static")
	t.Setenv("KBINDEX_DATA_DIR", "")
	t.Setenv("KBINDEX_TENANT_ORG", "")
	t.Setenv("KBINDEX_TENANT_ID", "")
	t.Setenv("KBINDEX_LOG_FILE", "")
	t.Setenv("KBINDEX_LOG_LEVEL", "")

	work := t.TempDir()
	t.Chdir(work)
	return work, filepath.Join(home, "data")
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func seedWorkspace(t *testing.T, work string) {
	t.Helper()
	writeFile(t, filepath.Join(work, "birds", "penguins.md"), "Penguins live in Antarctica and eat fish.")
	writeFile(t, filepath.Join(work, "birds", "eagles.md"), "Eagles hunt from high above the valley.")
	writeFile(t, filepath.Join(work, "garden.txt"), "Tomatoes need sun and water.")
}

func TestRootCmd_ShowsHelp(t *testing.T) {
	// Given: a root command

	// When: executing with --help
	out, err := run(t, "--help")

	// Then: it lists the commands
	require.NoError(t, err)
	for _, name := range []string{"ingest", "query", "delete", "watch", "serve", "stats", "config", "logs"} {
		assert.Contains(t, out, name)
	}
}

func TestParseTenant(t *testing.T) {
	tests := []struct {
		in      string
		org, id string
		wantErr bool
	}{
		{in: "acme/alice", org: "acme", id: "alice"},
		{in: "acme", wantErr: true},
		{in: "/alice", wantErr: true},
		{in: "acme/", wantErr: true},
		{in: "acme/../x", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseTenant(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.org, got.Org)
			assert.Equal(t, tt.id, got.ID)
		})
	}
}

func TestIngestQueryDelete_Flow(t *testing.T) {
	// TS01: ingest a directory, find a document by keyword, delete it
	work, data := isolate(t)
	seedWorkspace(t, work)

	// When: ingesting the workspace
	out, err := run(t, "--data-dir", data, "ingest", ".", "--json")
	require.NoError(t, err, out)

	var summary ingestSummary
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.Equal(t, 3, summary.Ingested)
	assert.Zero(t, summary.Failed)
	assert.Positive(t, summary.Vectors)

	// Then: a keyword query finds the penguin document first
	out, err = run(t, "--data-dir", data, "query", "penguins", "antarctica", "--json")
	require.NoError(t, err, out)
	var docs []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &docs))
	require.NotEmpty(t, docs)
	md := docs[0]["metadata"].(map[string]any)
	assert.Equal(t, filepath.Join("birds", "penguins.md"), md["cmspath"])

	// When: deleting the birds directory
	out, err = run(t, "--data-dir", data, "delete", "birds")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Removed 2 files")

	// Then: the query no longer matches
	out, err = run(t, "--data-dir", data, "query", "penguins", "--json")
	require.NoError(t, err, out)
	docs = nil
	require.NoError(t, json.Unmarshal([]byte(out), &docs))
	assert.Empty(t, docs)
}

func TestQuery_VectorMode(t *testing.T) {
	// TS02: the passage text itself is the closest match
	work, data := isolate(t)
	seedWorkspace(t, work)
	_, err := run(t, "--data-dir", data, "ingest", ".", "--json")
	require.NoError(t, err)

	out, err := run(t, "--data-dir", data, "query", "Tomatoes need sun and water.", "--mode", "vector", "--json")
	require.NoError(t, err, out)

	var passages []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &passages))
	require.NotEmpty(t, passages)
	assert.InDelta(t, 1.0, passages[0]["similarity"], 1e-4)
	assert.Contains(t, passages[0]["text"], "Tomatoes")
}

func TestQuery_TextOutput(t *testing.T) {
	work, data := isolate(t)
	seedWorkspace(t, work)
	_, err := run(t, "--data-dir", data, "ingest", ".", "--json")
	require.NoError(t, err)

	out, err := run(t, "--data-dir", data, "query", "eagles")
	require.NoError(t, err)
	assert.Contains(t, out, "1. "+filepath.Join("birds", "eagles.md"))
	assert.Contains(t, out, "score")

	out, err = run(t, "--data-dir", data, "query", "submarine")
	require.NoError(t, err)
	assert.Contains(t, out, "No documents found")
}

func TestQuery_RejectsBadInput(t *testing.T) {
	_, data := isolate(t)

	_, err := run(t, "--data-dir", data, "query", "x", "--mode", "bm25")
	assert.ErrorContains(t, err, "invalid mode")

	_, err = run(t, "--data-dir", data, "query", "--mode", "vector")
	assert.ErrorContains(t, err, "need text")
}

func TestIngest_SingleFileAndSkip(t *testing.T) {
	work, data := isolate(t)
	writeFile(t, filepath.Join(work, "a.txt"), "alpha beta gamma")
	writeFile(t, filepath.Join(work, "empty.txt"), "")

	out, err := run(t, "--data-dir", data, "ingest", "a.txt", "empty.txt", "--json")
	require.NoError(t, err, out)

	var summary ingestSummary
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.Equal(t, 1, summary.Ingested)
	assert.Equal(t, 1, summary.Skipped)
}

func TestIngest_PlainOutput(t *testing.T) {
	work, data := isolate(t)
	seedWorkspace(t, work)

	out, err := run(t, "--data-dir", data, "ingest", ".", "--plain")
	require.NoError(t, err)
	assert.Contains(t, out, "Complete: 3 files")
}

func TestIngest_MissingFileFails(t *testing.T) {
	_, data := isolate(t)

	_, err := run(t, "--data-dir", data, "ingest", "nope.txt", "--json")
	assert.Error(t, err)
}

func TestDelete_NotIndexedWarns(t *testing.T) {
	_, data := isolate(t)

	out, err := run(t, "--data-dir", data, "delete", "ghost.md")
	require.NoError(t, err)
	assert.Contains(t, out, "Not indexed")
}

func TestTenantFlag_IsolatesData(t *testing.T) {
	// Given: a document ingested for acme/alice
	work, data := isolate(t)
	seedWorkspace(t, work)
	_, err := run(t, "--data-dir", data, "--tenant", "acme/alice", "ingest", ".", "--json")
	require.NoError(t, err)

	// When: querying as another tenant
	out, err := run(t, "--data-dir", data, "--tenant", "acme/bob", "query", "penguins", "--json")
	require.NoError(t, err)

	// Then: nothing is visible
	var docs []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &docs))
	assert.Empty(t, docs)
	assert.DirExists(t, filepath.Join(data, "acme", "alice"))
}

func TestStats_JSON(t *testing.T) {
	work, data := isolate(t)
	seedWorkspace(t, work)
	_, err := run(t, "--data-dir", data, "ingest", ".", "--json")
	require.NoError(t, err)

	out, err := run(t, "--data-dir", data, "stats", "--json")
	require.NoError(t, err, out)

	var info ui.StatusInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, "default/default", info.Tenant)
	assert.Equal(t, 3, info.Documents)
	assert.Positive(t, info.Vectors)
	assert.Equal(t, "ready", info.EmbedderStatus)
	assert.Equal(t, info.LexicalSize+info.VectorSize, info.TotalSize)
}

func TestConfigInit_WritesTemplateOnce(t *testing.T) {
	isolate(t)

	out, err := run(t, "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, "Created configuration")

	path, err := run(t, "config", "path")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Clean(string(bytes.TrimSpace([]byte(path)))))

	// Then: a second init keeps the file
	out, err = run(t, "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, "already exists")

	// And: --force backs it up
	out, err = run(t, "config", "init", "--force")
	require.NoError(t, err)
	assert.Contains(t, out, "Backup:")
}

func TestConfigInit_Project(t *testing.T) {
	work, _ := isolate(t)

	_, err := run(t, "config", "init", "--project")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(work, ".kbindex.yaml"))
}

func TestConfigShow_Sources(t *testing.T) {
	isolate(t)

	out, err := run(t, "config", "show", "--source", "defaults", "--json")
	require.NoError(t, err)
	var cfg map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &cfg))
	assert.Contains(t, cfg, "tenant")

	out, err = run(t, "config", "show", "--source", "user")
	require.NoError(t, err)
	assert.Contains(t, out, "No user configuration file found")

	_, err = run(t, "config", "show", "--source", "bogus")
	assert.ErrorContains(t, err, "invalid source")
}

func TestConfigShow_MergedAppliesFlags(t *testing.T) {
	isolate(t)

	out, err := run(t, "--tenant", "acme/alice", "config", "show", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"acme"`)
	assert.Contains(t, out, `"alice"`)
}

func TestVersionCmd(t *testing.T) {
	isolate(t)

	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "kbindex")

	out, err = run(t, "version", "--json")
	require.NoError(t, err)
	var info map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Contains(t, info, "go_version")
}

func TestLogsCmd_ReadsFile(t *testing.T) {
	work, _ := isolate(t)
	path := filepath.Join(work, "test.log")
	writeFile(t, path,
		`{"time":"2026-01-02T03:04:05Z","level":"INFO","msg":"ingest_completed","ingested":3}`+"\n"+
			`{"time":"2026-01-02T03:04:06Z","level":"ERROR","msg":"watch_failed"}`+"\n")

	out, err := run(t, "logs", "--file", path, "--no-color")
	require.NoError(t, err)
	assert.Contains(t, out, "ingest_completed")
	assert.Contains(t, out, "watch_failed")

	out, err = run(t, "logs", "--file", path, "--no-color", "--level", "error")
	require.NoError(t, err)
	assert.NotContains(t, out, "ingest_completed")
	assert.Contains(t, out, "watch_failed")

	_, err = run(t, "logs", "--file", path, "--pattern", "(")
	assert.ErrorContains(t, err, "invalid pattern")
}

func TestLogging_UsesConfiguredLogFile(t *testing.T) {
	// Given: a project config pointing the log somewhere else
	work, data := isolate(t)
	seedWorkspace(t, work)
	logFile := filepath.Join(t.TempDir(), "logs", "kb.log")
	writeFile(t, filepath.Join(work, ".kbindex.yaml"),
		"server:\n  log_file: "+logFile+"\n  log_max_files: 1\n")

	// When: a command runs
	_, err := run(t, "--data-dir", data, "ingest", "birds", "--json")
	require.NoError(t, err)

	// Then: its records land in the configured file
	raw, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "indexer_file_ingested")

	// And: logs reads that file without --file
	out, err := run(t, "logs", "--no-color", "--pattern", "indexer_file_ingested")
	require.NoError(t, err)
	assert.Contains(t, out, "indexer_file_ingested")
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "abc", preview("  abc \n", 5))
	assert.Equal(t, "ab...", preview("abcdef", 2))
}

func TestPlural(t *testing.T) {
	assert.Equal(t, "file", plural(1, "file", "files"))
	assert.Equal(t, "files", plural(0, "file", "files"))
}

func TestDoctorCmd_PassesWithStaticEmbedder(t *testing.T) {
	_, data := isolate(t)

	out, err := run(t, "--data-dir", data, "doctor", "--json")
	require.NoError(t, err, out)

	var report struct {
		Status string           `json:"status"`
		Checks []map[string]any `json:"checks"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.NotEqual(t, "failed", report.Status)
	assert.Len(t, report.Checks, 4)
	assert.DirExists(t, data)
}
