// Package blobstore holds oversized contract payloads by reference,
// repurposed from the teacher's execution-log storage (pkg/storage/log_store.go)
// to the payload-overflow concern SPEC's DOMAIN STACK names: a
// request_body/result_body/error past BlobstoreThresholdBytes is stored here
// instead of inline, and the facade re-inflates it transparently on read.
package blobstore

import "context"

// Store saves and retrieves opaque payload blobs by a caller-chosen key.
type Store interface {
	// Put stores data under key, returning a reference the core persists in
	// place of the inline payload.
	Put(ctx context.Context, key string, data []byte) (reference string, err error)
	// Get fetches data previously stored under the reference Put returned.
	Get(ctx context.Context, reference string) ([]byte, error)
}
