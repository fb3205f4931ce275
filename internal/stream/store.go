// Package stream defines the append-only stream store that carries records
// between the task processes, together with an in-memory implementation and
// a resumable consumer.
package stream

import (
	"context"
	"errors"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("stream store closed")

// ID identifies an entry. IDs are unique across all streams of a store and
// strictly increasing in append order. The zero ID precedes every entry.
type ID uint64

// Record maps field name to encoded payload.
type Record = map[string][]byte

// Entry is one appended record.
type Entry struct {
	ID     ID
	Stream string
	Fields Record
}

// Store is an ordered, append-only collection of named streams.
type Store interface {
	// Append adds rec to the end of stream and returns its id.
	Append(stream string, rec Record) (ID, error)
	// ReadLatest returns the newest entry of stream; ok is false when the
	// stream is empty.
	ReadLatest(stream string) (e Entry, ok bool, err error)
	// ReadBlocking returns up to count entries of stream with ids above
	// since, in order, waiting until at least one exists or ctx is done.
	ReadBlocking(ctx context.Context, stream string, since ID, count int) ([]Entry, error)
	// LastID returns the id of the newest entry of stream, or zero.
	LastID(stream string) (ID, error)
	Close() error
}

// OffsetStore is implemented by stores that can persist consumer positions.
type OffsetStore interface {
	LoadOffset(consumer, stream string) (id ID, ok bool, err error)
	SaveOffset(consumer, stream string, id ID) error
}
