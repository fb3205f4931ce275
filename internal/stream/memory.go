package stream

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-process Store. Readers blocked in ReadBlocking are
// woken by every Append.
type MemoryStore struct {
	mu      sync.Mutex
	streams map[string][]Entry
	offsets map[[2]string]ID
	nextID  ID
	maxLen  int
	wake    chan struct{}
	closed  bool
}

// NewMemoryStore returns an empty store. When maxLen is positive each stream
// keeps only its newest maxLen entries.
func NewMemoryStore(maxLen int) *MemoryStore {
	return &MemoryStore{
		streams: make(map[string][]Entry),
		offsets: make(map[[2]string]ID),
		maxLen:  maxLen,
		wake:    make(chan struct{}),
	}
}

func (m *MemoryStore) Append(stream string, rec Record) (ID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	m.nextID++
	e := Entry{ID: m.nextID, Stream: stream, Fields: copyRecord(rec)}
	entries := append(m.streams[stream], e)
	if m.maxLen > 0 && len(entries) > m.maxLen {
		entries = append([]Entry(nil), entries[len(entries)-m.maxLen:]...)
	}
	m.streams[stream] = entries

	close(m.wake)
	m.wake = make(chan struct{})
	return e.ID, nil
}

func (m *MemoryStore) ReadLatest(stream string) (Entry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Entry{}, false, ErrClosed
	}
	entries := m.streams[stream]
	if len(entries) == 0 {
		return Entry{}, false, nil
	}
	return entries[len(entries)-1], true, nil
}

func (m *MemoryStore) ReadBlocking(ctx context.Context, stream string, since ID, count int) ([]Entry, error) {
	if count <= 0 {
		count = 1
	}
	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return nil, ErrClosed
		}
		entries := m.streams[stream]
		i := sort.Search(len(entries), func(i int) bool { return entries[i].ID > since })
		if i < len(entries) {
			end := min(i+count, len(entries))
			out := append([]Entry(nil), entries[i:end]...)
			m.mu.Unlock()
			return out, nil
		}
		wake := m.wake
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-wake:
		}
	}
}

func (m *MemoryStore) LastID(stream string) (ID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	entries := m.streams[stream]
	if len(entries) == 0 {
		return 0, nil
	}
	return entries[len(entries)-1].ID, nil
}

func (m *MemoryStore) LoadOffset(consumer, stream string) (ID, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.offsets[[2]string{consumer, stream}]
	return id, ok, nil
}

func (m *MemoryStore) SaveOffset(consumer, stream string, id ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.offsets[[2]string{consumer, stream}] = id
	return nil
}

// Len returns the number of entries currently held for stream.
func (m *MemoryStore) Len(stream string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.streams[stream])
}

// Close wakes blocked readers, which then return ErrClosed.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.wake)
	}
	return nil
}

func copyRecord(rec Record) Record {
	out := make(Record, len(rec))
	for k, v := range rec {
		out[k] = append([]byte(nil), v...)
	}
	return out
}
