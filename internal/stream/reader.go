package stream

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/banshee-data/centerout/internal/monitoring"
)

// Reader consumes one stream in order. It starts after the consumer's saved
// offset when the store persists offsets, otherwise at the newest entry so
// only records appended afterwards are delivered.
type Reader struct {
	store    Store
	offsets  OffsetStore
	stream   string
	consumer string

	last    ID
	seq     uint64
	haveSeq bool
	dropped uint64
}

// NewReader positions a reader on stream. consumer names the offset slot;
// an empty name disables offset persistence.
func NewReader(store Store, stream, consumer string) (*Reader, error) {
	r := &Reader{store: store, stream: stream, consumer: consumer}
	if persist, ok := store.(OffsetStore); ok && consumer != "" {
		r.offsets = persist
		id, found, err := persist.LoadOffset(consumer, stream)
		if err != nil {
			return nil, fmt.Errorf("load offset for %s/%s: %w", consumer, stream, err)
		}
		if found {
			r.last = id
			monitoring.Logf("%s: resuming %s after entry %d", consumer, stream, id)
			return r, nil
		}
	}
	id, err := store.LastID(stream)
	if err != nil {
		return nil, fmt.Errorf("last id of %s: %w", stream, err)
	}
	r.last = id
	return r, nil
}

// Next blocks until the next entry is available.
func (r *Reader) Next(ctx context.Context) (Entry, error) {
	entries, err := r.store.ReadBlocking(ctx, r.stream, r.last, 1)
	if err != nil {
		return Entry{}, err
	}
	e := entries[0]
	r.last = e.ID
	r.checkSeq(e)
	return e, nil
}

// Ack records that every entry up to id has been processed.
func (r *Reader) Ack(id ID) error {
	if r.offsets == nil {
		return nil
	}
	return r.offsets.SaveOffset(r.consumer, r.stream, id)
}

// Position returns the id of the last delivered entry.
func (r *Reader) Position() ID { return r.last }

// Dropped returns the number of records missing according to the records'
// own sequence counters.
func (r *Reader) Dropped() uint64 { return r.dropped }

func (r *Reader) checkSeq(e Entry) {
	raw, ok := e.Fields["i"]
	if !ok {
		return
	}
	var seq uint64
	switch len(raw) {
	case 4:
		seq = uint64(binary.LittleEndian.Uint32(raw))
	case 8:
		seq = binary.LittleEndian.Uint64(raw)
	default:
		return
	}
	if r.haveSeq && seq > r.seq+1 {
		gap := seq - r.seq - 1
		r.dropped += gap
		monitoring.Logf("%s: %d records dropped (i %d -> %d)", r.stream, gap, r.seq, seq)
	}
	r.seq = seq
	r.haveSeq = true
}
