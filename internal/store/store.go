package store

import (
	"sync"
	"time"

	"codeberg.org/mutker/telemetryd/internal/logger"
	"codeberg.org/mutker/telemetryd/internal/payload"
)

// Store is the concurrent mapping of client id to aggregated record.
//
// The index map is guarded by a read-write mutex; each entry carries its own
// mutex so merges for different clients never block each other. A merge for
// one client is serialized with snapshots and eviction of that client, and
// no lock is ever held across I/O.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

type entry struct {
	mu      sync.Mutex
	rec     *ClientRecord
	evicted bool
}

func New() *Store {
	return &Store{
		entries: make(map[string]*entry),
	}
}

// Merge folds one report into the client's record and returns a detached
// copy of the record as it stood immediately after the merge.
//
// Per metric the policy is last-write-wins: Last is replaced
// unconditionally, Count incremented, and min/max/sum updated for numeric
// values. Reports whose timestamp is older than the record's last_seen are
// merged anyway and logged as anomalies.
func (s *Store) Merge(r *payload.Report) *ClientRecord {
	var e *entry
	for {
		e = s.entry(r.ClientID)
		e.mu.Lock()
		if !e.evicted {
			break
		}
		// Entry was evicted between lookup and lock; start over with a
		// fresh record.
		e.mu.Unlock()
	}
	defer e.mu.Unlock()

	rec := e.rec
	if r.Timestamp < rec.LastSeen {
		logger.Warn().
			Str("client_id", r.ClientID).
			Int64("report_ts", r.Timestamp).
			Int64("last_seen", rec.LastSeen).
			Msg("Out-of-order report timestamp")
	} else {
		rec.LastSeen = r.Timestamp
	}

	for name, value := range r.Metrics {
		if agg, ok := rec.Metrics[name]; ok {
			agg.update(value)
		} else {
			rec.Metrics[name] = newAggregate(value)
		}
	}

	return rec.clone()
}

// entry returns the live entry for a client, creating it on first sight.
func (s *Store) entry(clientID string) *entry {
	s.mu.RLock()
	e, ok := s.entries[clientID]
	s.mu.RUnlock()
	if ok {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[clientID]; ok {
		return e
	}
	e = &entry{
		rec: &ClientRecord{
			ClientID: clientID,
			Metrics:  make(map[string]*MetricAggregate),
		},
	}
	s.entries[clientID] = e
	return e
}

// Snapshot produces a consistent copy of all current records. The index lock
// is held only while collecting entry pointers; each record is then copied
// under its own lock, so a snapshot never observes a record mid-merge and
// never stalls writers for longer than one record copy.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	live := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		live = append(live, e)
	}
	s.mu.RUnlock()

	snap := make(Snapshot, len(live))
	for _, e := range live {
		e.mu.Lock()
		rec := e.rec.clone()
		e.mu.Unlock()
		snap[rec.ClientID] = rec
	}
	return snap
}

// EvictStale silently removes records not seen within ttl and returns how
// many were removed. A client that reports again after eviction starts over
// as a brand-new record.
func (s *Store) EvictStale(ttl time.Duration) int {
	cutoff := time.Now().Add(-ttl).Unix()

	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for clientID, e := range s.entries {
		e.mu.Lock()
		stale := e.rec.LastSeen < cutoff
		if stale {
			e.evicted = true
		}
		e.mu.Unlock()
		if stale {
			delete(s.entries, clientID)
			evicted++
			logger.Debug().
				Str("client_id", clientID).
				Msg("Evicted stale client record")
		}
	}
	return evicted
}

// Reload replaces the store contents with the given snapshot. Used to seed
// the store from persistence at startup; the snapshot is deep-copied so the
// caller's copy stays detached.
func (s *Store) Reload(snap Snapshot) {
	entries := make(map[string]*entry, len(snap))
	for clientID, rec := range snap {
		c := rec.clone()
		c.ClientID = clientID
		entries[clientID] = &entry{rec: c}
	}

	s.mu.Lock()
	s.entries = entries
	s.mu.Unlock()
}

// Len returns the number of client records currently held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
