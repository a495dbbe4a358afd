package models

import "time"

// JournalEntry records one recorded property diff against a component at
// a point in time.
type JournalEntry struct {
	Timestamp time.Time
	Component string
	Diff      map[string]interface{}
}

// ComponentJournal is a per-component bounded FIFO of recorded state
// diffs (spec.md §3, capacity = pkg/constants.JournalCapacity). Overflow
// drops the oldest entry.
type ComponentJournal struct {
	capacity int
	entries  []JournalEntry
}

// NewComponentJournal returns an empty journal with the given capacity.
func NewComponentJournal(capacity int) *ComponentJournal {
	return &ComponentJournal{capacity: capacity}
}

// Append records a new diff, evicting the oldest entry if the journal is
// already at capacity.
func (j *ComponentJournal) Append(entry JournalEntry) {
	if len(j.entries) >= j.capacity {
		j.entries = j.entries[1:]
	}
	j.entries = append(j.entries, entry)
}

// Drain returns and clears every recorded entry.
func (j *ComponentJournal) Drain() []JournalEntry {
	out := j.entries
	j.entries = nil
	return out
}

// Empty reports whether the journal currently holds no entries.
func (j *ComponentJournal) Empty() bool { return len(j.entries) == 0 }
