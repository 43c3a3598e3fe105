package vectordb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	kberrors "github.com/Aman-CERP/kbindex/internal/errors"
)

// IngestResult describes one Ingest call.
type IngestResult struct {
	// Vectors holds one vector per chunk, in document order.
	Vectors [][]float32

	// Created holds the vectors this call stored. A chunk whose vector was
	// already stored keeps the existing record and its metadata, so it is
	// in Vectors but not in Created.
	Created [][]float32
}

// Ingest splits document into chunks, embeds them and stores each chunk as
// its own record sharing metadata. It returns the vectors of all chunks.
//
// Ingestion is all or nothing: if any chunk fails, every record created by
// this call is deleted again and the error wraps ErrIngestRolledBack.
// Records that already existed before the call are left alone.
func (db *DB) Ingest(ctx context.Context, metadata Metadata, document string, opts IngestOptions) ([][]float32, error) {
	res, err := db.IngestDocument(ctx, metadata, document, opts)
	if err != nil {
		return nil, err
	}
	return res.Vectors, nil
}

// IngestDocument is Ingest reporting which chunk vectors were new.
func (db *DB) IngestDocument(ctx context.Context, metadata Metadata, document string, opts IngestOptions) (IngestResult, error) {
	chunks := SplitChunks(document, opts)
	if len(chunks) == 0 {
		return IngestResult{}, kberrors.ValidationError("document has no content to ingest", nil)
	}
	if db.embedder == nil {
		return IngestResult{}, kberrors.New(kberrors.ErrCodeNoVector, "ingest requires an embedder", nil)
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := db.embedder.EmbedBatch(ctx, texts)
	if err == nil && len(vectors) != len(texts) {
		err = fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(texts))
	}
	if err != nil {
		return IngestResult{}, kberrors.New(kberrors.ErrCodeIngestRolledBack,
			fmt.Sprintf("embedding %d chunks failed, ingestion rolled back", len(chunks)),
			kberrors.New(kberrors.ErrCodeEmbeddingFailed, "embedding generation failed", err))
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return IngestResult{}, kberrors.ErrClosed
	}

	var created []string
	res := IngestResult{Vectors: vectors}
	for i, v := range vectors {
		var addErr error
		if len(v) == 0 {
			addErr = kberrors.New(kberrors.ErrCodeNoVector, "embedder returned an empty vector", nil)
		}
		isNew := false
		if addErr == nil {
			isNew, addErr = db.addLocked(v, metadata, texts[i])
		}
		if addErr != nil {
			db.rollbackLocked(created)
			return IngestResult{}, rolledBack(i, len(chunks), addErr)
		}
		if isNew {
			created = append(created, VectorHash(v))
			res.Created = append(res.Created, v)
		}
	}

	db.logger.Debug("vectordb_document_ingested",
		slog.Int("chunks", len(chunks)),
		slog.Int("created", len(created)))
	return res, nil
}

func (db *DB) rollbackLocked(hashes []string) {
	for _, h := range hashes {
		if err := db.deleteLocked(h); err != nil {
			db.logger.Error("vectordb_rollback_delete_failed",
				slog.String("hash", h),
				slog.String("error", err.Error()))
		}
	}
}

func rolledBack(chunk, total int, cause error) error {
	return kberrors.New(kberrors.ErrCodeIngestRolledBack,
		fmt.Sprintf("chunk %d of %d failed, ingestion rolled back", chunk+1, total), cause).
		WithDetail("chunk", fmt.Sprint(chunk+1))
}

// Uningest deletes every vector, continuing past failures. It returns how
// many were deleted and the joined errors.
func (db *DB) Uningest(vectors [][]float32) (int, error) {
	var errs []error
	deleted := 0
	for _, v := range vectors {
		if err := db.Delete(v); err != nil {
			errs = append(errs, err)
			continue
		}
		deleted++
	}
	return deleted, errors.Join(errs...)
}
