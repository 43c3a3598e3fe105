// Package indexer keeps a tenant's TF-IDF and vector databases in step with
// the files on disk.
//
// A Registry owns the open database handles, one pair per tenant. An
// Indexer ingests, removes and renames files in both databases and turns
// watcher events into those operations.
package indexer
