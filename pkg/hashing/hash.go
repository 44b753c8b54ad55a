// Package hashing derives the deterministic request_hash used for job
// idempotency (§3, §9). The source computes a MurmurHash and renders it as a
// UUID; no murmur-hash library is available anywhere in this module's
// dependency pack, so this uses google/uuid's own uuid.NewHash over SHA-256
// instead — any stable, version-independent hash qualifies per §9, and
// google/uuid is already a hard dependency for every other id in the system.
package hashing

import (
	"crypto/sha256"
	"sort"

	"github.com/google/uuid"
)

// RequestHash returns a deterministic value for the given request body: the
// same bytes always yield the same hash, across processes and versions.
func RequestHash(requestBody []byte) string {
	return uuid.NewHash(sha256.New(), uuid.Nil, requestBody, 5).String()
}

// CanonicalTags returns a sorted copy of tags, matching the set semantics §3
// gives job.tags. RequestHash does not use it: the hash covers the request
// body only.
func CanonicalTags(tags []string) []string {
	out := make([]string, len(tags))
	copy(out, tags)
	sort.Strings(out)
	return out
}
