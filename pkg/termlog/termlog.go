package termlog

import (
	"fmt"
	"sort"
	"sync"
)

// EntryType distinguishes leadership-term records from snapshot markers.
type EntryType int32

const (
	EntryTypeTerm EntryType = iota
	EntryTypeSnapshot
)

// Entry is one historical leadership-term record. Entries are immutable once
// appended except for the open term's LogPosition which only advances.
type Entry struct {
	RecordingID         int64
	LeadershipTermID    int64
	TermBaseLogPosition int64
	LogPosition         int64
	Timestamp           int64
	Type                EntryType
	IsValid             bool
	MemberID            int32
}

// TermLog is the append-only, indexed-by-term-id history of leadership terms.
// It is read by the consensus module to answer canvass requests and to
// recover the active term's metadata; writes come from the leader-election
// subsystem in strictly increasing term-id order.
type TermLog struct {
	mu      sync.RWMutex
	entries []Entry
	byTerm  map[int64]int
	store   Store
}

// Store persists entries behind the in-memory index. Optional.
type Store interface {
	Load() ([]Entry, error)
	Append(e Entry) error
	UpdateLogPosition(leadershipTermID, logPosition int64) error
	Close() error
}

// New returns an empty in-memory term log.
func New() *TermLog {
	return &TermLog{byTerm: make(map[int64]int)}
}

// NewWithStore builds a term log backed by the given store, loading any
// existing entries.
func NewWithStore(store Store) (*TermLog, error) {
	entries, err := store.Load()
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].LeadershipTermID < entries[j].LeadershipTermID
	})
	l := New()
	l.store = store
	for _, e := range entries {
		l.entries = append(l.entries, e)
		l.byTerm[e.LeadershipTermID] = len(l.entries) - 1
	}
	return l, nil
}

// FindTermEntry returns the entry for the given leadership term, if recorded.
func (l *TermLog) FindTermEntry(leadershipTermID int64) (Entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	i, ok := l.byTerm[leadershipTermID]
	if !ok {
		return Entry{}, false
	}
	return l.entries[i], true
}

// AppendTerm records the start of a new leadership term. Term ids must be
// strictly increasing and the new term's base position must not precede the
// previous term's recorded log position.
func (l *TermLog) AppendTerm(e Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n := len(l.entries); n > 0 {
		last := l.entries[n-1]
		if e.LeadershipTermID <= last.LeadershipTermID {
			return fmt.Errorf("termlog: term id %d not after %d", e.LeadershipTermID, last.LeadershipTermID)
		}
		if e.TermBaseLogPosition < last.LogPosition {
			return fmt.Errorf("termlog: term %d base position %d precedes term %d position %d",
				e.LeadershipTermID, e.TermBaseLogPosition, last.LeadershipTermID, last.LogPosition)
		}
	}
	if l.store != nil {
		if err := l.store.Append(e); err != nil {
			return err
		}
	}
	l.entries = append(l.entries, e)
	l.byTerm[e.LeadershipTermID] = len(l.entries) - 1
	return nil
}

// CommitLogPosition advances the open term's high-water mark. The position is
// monotonic; a lower value is rejected.
func (l *TermLog) CommitLogPosition(leadershipTermID, logPosition int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	i, ok := l.byTerm[leadershipTermID]
	if !ok {
		return fmt.Errorf("termlog: unknown term %d", leadershipTermID)
	}
	if i != len(l.entries)-1 {
		return fmt.Errorf("termlog: term %d is closed", leadershipTermID)
	}
	if logPosition < l.entries[i].LogPosition {
		return fmt.Errorf("termlog: position %d behind committed %d for term %d",
			logPosition, l.entries[i].LogPosition, leadershipTermID)
	}
	if l.store != nil {
		if err := l.store.UpdateLogPosition(leadershipTermID, logPosition); err != nil {
			return err
		}
	}
	l.entries[i].LogPosition = logPosition
	return nil
}

// LatestTerm returns the most recently appended entry, if any.
func (l *TermLog) LatestTerm() (Entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.entries) == 0 {
		return Entry{}, false
	}
	return l.entries[len(l.entries)-1], true
}

// Close releases the backing store, if any.
func (l *TermLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.store == nil {
		return nil
	}
	err := l.store.Close()
	l.store = nil
	return err
}
