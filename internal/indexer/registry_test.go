package indexer

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kberrors "github.com/Aman-CERP/kbindex/internal/errors"
)

func TestTenant_Validate(t *testing.T) {
	tests := []struct {
		name    string
		tenant  Tenant
		wantErr bool
	}{
		{"valid", Tenant{Org: "acme", ID: "alice"}, false},
		{"empty org", Tenant{ID: "alice"}, true},
		{"empty id", Tenant{Org: "acme"}, true},
		{"dot dot", Tenant{Org: "..", ID: "alice"}, true},
		{"separator", Tenant{Org: "acme", ID: "a/b"}, true},
		{"backslash", Tenant{Org: `a\b`, ID: "alice"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.tenant.Validate()
			if tt.wantErr {
				assert.Equal(t, kberrors.ErrCodeInvalidInput, kberrors.GetCode(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRegistry_PathsPerTenant(t *testing.T) {
	reg := NewRegistry(RegistryConfig{DataDir: "/data"})

	lex, vec := reg.Paths(Tenant{Org: "acme", ID: "alice"})

	assert.Equal(t, filepath.Join("/data", "acme", "alice", "tfidf"), lex)
	assert.Equal(t, filepath.Join("/data", "acme", "alice", "vectordb"), vec)
}

func TestRegistry_GetCachesHandles(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	// Given: a tenant opened once
	first, err := f.registry.Get(ctx, testTenant)
	require.NoError(t, err)

	// When: it is requested again
	second, err := f.registry.Get(ctx, testTenant)
	require.NoError(t, err)

	// Then: the same handles are returned
	assert.Same(t, first, second)
	assert.Equal(t, []Tenant{testTenant}, f.registry.Tenants())
}

func TestRegistry_TenantsAreIsolated(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	other := Tenant{Org: "acme", ID: "bob"}

	_, err := f.ix.IngestFile(ctx, testTenant, f.write(t, "a.txt", sampleDoc))
	require.NoError(t, err)

	files, err := f.ix.IndexedFiles(ctx, other)
	require.NoError(t, err)
	assert.Empty(t, files)
	assert.Len(t, f.registry.Tenants(), 2)
}

func TestRegistry_UnloadAndReload(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	path := f.write(t, "a.txt", sampleDoc)
	_, err := f.ix.IngestFile(ctx, testTenant, path)
	require.NoError(t, err)

	// When: the tenant is flushed, unloaded and opened again
	require.NoError(t, f.registry.Flush(ctx))
	require.NoError(t, f.registry.Unload(testTenant))
	require.NoError(t, f.registry.Unload(testTenant))
	assert.Empty(t, f.registry.Tenants())

	// Then: the persisted state is loaded back
	assert.Equal(t, []string{path}, f.indexed(t))
	assert.NotEmpty(t, f.vectorsFor(t, path))
}

func TestRegistry_ClosedRejectsGet(t *testing.T) {
	f := newFixture(t, nil)
	_ = f.handles(t)

	require.NoError(t, f.registry.Close())

	_, err := f.registry.Get(context.Background(), testTenant)
	assert.ErrorIs(t, err, kberrors.ErrClosed)
}
