package server

import (
	"strconv"
	"sync"
	"time"

	"migbench/internal/state"
)

// Store owns the replica's in-memory state. Every read and merge goes
// through the store's lock so each operation is atomic with respect to
// concurrent ingests.
type Store struct {
	mu   sync.Mutex
	snap state.Snapshot
	now  func() float64
}

// NewStore creates a store for the named replica.
func NewStore(server string) *Store {
	return &Store{
		snap: state.New(server),
		now:  func() float64 { return float64(time.Now().UnixNano()) / 1e9 },
	}
}

// Ingest applies one client update at most once per seq: the update is
// accepted only if seq is greater than any seq seen so far. It returns the
// resulting counter and whether the update was accepted.
func (st *Store) Ingest(seq int, blob string) (counter int, accepted bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if seq <= st.snap.LastSeq {
		return st.snap.Counter, false
	}
	st.snap.LastSeq = seq
	st.snap.Counter++
	st.snap.UpdatedTS = st.now()
	st.snap.Blob[strconv.Itoa(st.snap.Counter)] = blob
	return st.snap.Counter, true
}

// Snapshot returns a deep copy of the current state.
func (st *Store) Snapshot() state.Snapshot {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.snap.Clone()
}

// Meta returns counter metadata without the blob payload.
func (st *Store) Meta() state.Meta {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.snap.Meta()
}

// Merge folds an incoming snapshot into the local state and returns the
// resulting counter.
func (st *Store) Merge(in state.Snapshot) int {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.snap.Merge(in)
	st.snap.UpdatedTS = st.now()
	return st.snap.Counter
}
