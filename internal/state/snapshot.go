// Snapshot model for the replicated counter/blob service state
package state

import (
	"strconv"
)

// Snapshot is the full state of one replica at a point in time. Blob keys
// are accepted-update counters (as decimal strings), values are opaque
// payload chunks.
type Snapshot struct {
	Server    string            `json:"server"`
	Counter   int               `json:"counter"`
	LastSeq   int               `json:"last_seq"`
	UpdatedTS float64           `json:"updated_ts"`
	Blob      map[string]string `json:"blob"`
}

// Meta is the counter metadata of a snapshot without the blob payload.
type Meta struct {
	Server    string  `json:"server"`
	Counter   int     `json:"counter"`
	LastSeq   int     `json:"last_seq"`
	UpdatedTS float64 `json:"updated_ts"`
}

// New returns an empty snapshot for the named server. LastSeq starts at -1
// so the first ingest with seq 0 is accepted.
func New(server string) Snapshot {
	return Snapshot{Server: server, LastSeq: -1, Blob: map[string]string{}}
}

// Meta strips the blob payload from the snapshot.
func (s Snapshot) Meta() Meta {
	return Meta{Server: s.Server, Counter: s.Counter, LastSeq: s.LastSeq, UpdatedTS: s.UpdatedTS}
}

// Merge folds an incoming snapshot into s. Counters keep the maximum of
// local and incoming, blob entries are unioned with incoming entries
// winning. Merging the same snapshot twice leaves s unchanged, and a merge
// never regresses counters.
func (s *Snapshot) Merge(in Snapshot) {
	if in.Counter > s.Counter {
		s.Counter = in.Counter
	}
	if in.LastSeq > s.LastSeq {
		s.LastSeq = in.LastSeq
	}
	if s.Blob == nil {
		s.Blob = map[string]string{}
	}
	for k, v := range in.Blob {
		s.Blob[k] = v
	}
}

// FilterRange returns a copy of s whose blob holds only entries with
// counter index in (minExclusive, maxInclusive]. A nil bound leaves that
// side open. Counters and last_seq are carried over unchanged so a merge
// of the filtered parts reassembles the full snapshot.
func (s Snapshot) FilterRange(minExclusive, maxInclusive *int) Snapshot {
	out := s
	out.Blob = make(map[string]string, len(s.Blob))
	for k, v := range s.Blob {
		idx, err := strconv.Atoi(k)
		if err != nil {
			continue
		}
		if minExclusive != nil && idx <= *minExclusive {
			continue
		}
		if maxInclusive != nil && idx > *maxInclusive {
			continue
		}
		out.Blob[k] = v
	}
	return out
}

// Clone returns a deep copy of s.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.Blob = make(map[string]string, len(s.Blob))
	for k, v := range s.Blob {
		out.Blob[k] = v
	}
	return out
}

// BlobBytes is the total payload size of all blob entries.
func (s Snapshot) BlobBytes() int {
	total := 0
	for _, v := range s.Blob {
		total += len(v)
	}
	return total
}
