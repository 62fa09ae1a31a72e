// Package memstore implements the call store, job store, enrichment cache and search candidate
// source in process memory. It backs STORAGE_BACKEND=memory and service tests, and enforces the
// same invariants as the Postgres repositories (one active job per call and job type, checked
// transitions, one cache entry per call and content type).
package memstore

import (
	"time"
)

// Store bundles the in-memory backends over shared call data.
type Store struct {
	Calls *Calls
	Jobs  *Jobs
	Cache *Cache
}

// New creates an empty Store.
func New() *Store {
	calls := NewCalls()

	return &Store{
		Calls: calls,
		Jobs:  NewJobs(calls),
		Cache: NewCache(calls),
	}
}

func now() time.Time {
	return time.Now().UTC()
}
