package serialmux

import (
	"context"
	"errors"
	"fmt"

	"github.com/banshee-data/centerout/internal/monitoring"
	"github.com/banshee-data/centerout/internal/records"
	"github.com/banshee-data/centerout/internal/stream"
	"github.com/banshee-data/centerout/internal/timeutil"
)

// IngestConfig says where device lines are published.
type IngestConfig struct {
	// Stream receives one input sample per device line.
	Stream string
	// TriggerStream, if set, receives the button state of every three-field
	// line as a one-byte "samples" field.
	TriggerStream string
	DType         records.DType
	Codec         records.Codec
	Clock         timeutil.Clock
}

// Ingest subscribes to dev and appends every parsed line to store until ctx
// ends or the device closes. Malformed lines are logged and skipped; a failed
// append ends ingestion.
func Ingest(ctx context.Context, dev SerialMuxInterface, store stream.Store, cfg IngestConfig) error {
	if cfg.Stream == "" {
		return errors.New("ingest: no input stream configured")
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.Codec == (records.Codec{}) {
		cfg.Codec = records.DefaultCodec
	}

	id, lines := dev.Subscribe()
	defer dev.Unsubscribe(id)

	var seq uint64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			in, err := ParseInputLine(line)
			if err != nil {
				monitoring.Logf("serialmux: skipping line: %v", err)
				continue
			}
			if err := publish(store, cfg, in, seq); err != nil {
				return err
			}
			seq++
		}
	}
}

func publish(store stream.Store, cfg IngestConfig, in InputLine, seq uint64) error {
	ts := cfg.Clock.MonotonicNanos()
	sample := records.InputSample{
		DX:     in.DX,
		DY:     in.DY,
		Seq:    seq,
		HasSeq: true,
		TS:     ts,
	}
	if _, err := store.Append(cfg.Stream, cfg.Codec.EncodeInput(sample, cfg.DType)); err != nil {
		return fmt.Errorf("append %s: %w", cfg.Stream, err)
	}

	if cfg.TriggerStream == "" || !in.HasButton {
		return nil
	}
	var pressed float64
	if in.Button {
		pressed = 1
	}
	trig := stream.Record{"samples": records.EncodeValues(records.Uint8, pressed)}
	if _, err := store.Append(cfg.TriggerStream, trig); err != nil {
		return fmt.Errorf("append %s: %w", cfg.TriggerStream, err)
	}
	return nil
}
