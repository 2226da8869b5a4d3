package dispatch

import "sync"

// SnapshotStore keeps pre-save copies of record values so update
// events can carry the original field values alongside the new ones.
// Snapshots are consumed exactly once: taking a snapshot removes it.
type SnapshotStore struct {
	mu        sync.Mutex
	snapshots map[string]map[string]any
}

func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{snapshots: make(map[string]map[string]any)}
}

// Capture stores a copy of the record's current values, keyed by
// record ID, before a save mutates them.
func (s *SnapshotStore) Capture(recordID string, values map[string]any) {
	if recordID == "" {
		return
	}

	copied := make(map[string]any, len(values))
	for key, value := range values {
		copied[key] = value
	}

	s.mu.Lock()
	s.snapshots[recordID] = copied
	s.mu.Unlock()
}

// Take returns the snapshot for the record and clears it. The second
// return is false when no snapshot was captured, which is the case
// for freshly created records.
func (s *SnapshotStore) Take(recordID string) (map[string]any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, ok := s.snapshots[recordID]
	if ok {
		delete(s.snapshots, recordID)
	}

	return values, ok
}

// Discard drops a snapshot without consuming it, for saves that
// abort after capture.
func (s *SnapshotStore) Discard(recordID string) {
	s.mu.Lock()
	delete(s.snapshots, recordID)
	s.mu.Unlock()
}
