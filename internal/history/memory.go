package history

import (
	"context"
	"sort"
	"sync"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// DefaultMemoryCapacity bounds the in-process store. The oldest record is
// evicted once it is exceeded.
const DefaultMemoryCapacity = 10000

type memoryEntry struct {
	rec Record
	seq uint64
}

// MemoryStore keeps records in process. It is used when no MongoDB URI is
// configured and in tests.
type MemoryStore struct {
	mu       sync.Mutex
	entries  map[string]*memoryEntry
	capacity int
	seq      uint64
}

// NewMemoryStore creates an empty store holding at most capacity records.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	return &MemoryStore{
		entries:  make(map[string]*memoryEntry),
		capacity: capacity,
	}
}

func (s *MemoryStore) Insert(ctx context.Context, rec Record) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	rec.ID = primitive.NewObjectID().Hex()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	s.entries[rec.ID] = &memoryEntry{rec: rec, seq: s.seq}
	s.evictIfNeededLocked()
	return rec.ID, nil
}

func (s *MemoryStore) evictIfNeededLocked() {
	for len(s.entries) > s.capacity {
		var oldestID string
		var oldestSeq uint64
		for id, e := range s.entries {
			if oldestID == "" || e.seq < oldestSeq {
				oldestID, oldestSeq = id, e.seq
			}
		}
		delete(s.entries, oldestID)
	}
}

func (s *MemoryStore) ListByUser(ctx context.Context, email string) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	matched := make([]*memoryEntry, 0)
	for _, e := range s.entries {
		if e.rec.UserEmail == email {
			matched = append(matched, e)
		}
	}
	s.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.rec.CreatedAt.Equal(b.rec.CreatedAt) {
			return a.rec.CreatedAt.After(b.rec.CreatedAt)
		}
		return a.seq > b.seq
	})

	out := make([]Record, len(matched))
	for i, e := range matched {
		out[i] = e.rec
	}
	return out, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	oid, err := ParseID(id)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[oid.Hex()]; !ok {
		return ErrNotFound
	}
	delete(s.entries, oid.Hex())
	return nil
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryStore) Close(context.Context) error { return nil }
