// Package blobstore provides storage abstraction for archived snapshots.
//
// BlobStore is the interface for reading and writing named byte blobs
// (clustering snapshots, boundary datasets). Implementations must be safe
// for concurrent use.
//
// # Built-in Implementations
//
//   - LocalStore: local filesystem with atomic writes
//   - MemoryStore: in-memory store for tests
//   - minio.Store: MinIO and S3-compatible object storage
//   - s3.Store: Amazon S3 with managed multipart uploads
//
// # Custom Implementations
//
// Implement the BlobStore interface to support custom storage backends.
package blobstore
