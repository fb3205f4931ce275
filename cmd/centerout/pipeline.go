package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/centerout/internal/config"
	"github.com/banshee-data/centerout/internal/db"
	"github.com/banshee-data/centerout/internal/monitoring"
	"github.com/banshee-data/centerout/internal/node"
	"github.com/banshee-data/centerout/internal/stream"
	"github.com/banshee-data/centerout/internal/timeutil"
)

// memoryStreamLen caps each in-memory stream when no database is given.
const memoryStreamLen = 100000

// dbTickStreamLen caps the tick streams kept in the database. Cursor, target
// and trial streams are kept whole for session replay.
const dbTickStreamLen = 100000

const retentionInterval = time.Minute

// pipeline is the set of processes of one run. cue and ticker are only set
// in simulation mode.
type pipeline struct {
	store   stream.Store
	db      *db.DB
	session string

	// tickStreams are trimmed to retain entries while the database is open.
	tickStreams []string
	retain      int

	task   *node.TaskNode
	cue    *node.CueNode
	ticker *node.ClockNode
}

// newPipeline opens the store, records a session and builds the nodes. With
// ac set the task reads the cue node's output instead of the device stream.
func newPipeline(tc *config.TaskConfig, ac *config.AutoCueConfig, dbPath string, clk timeutil.Clock) (*pipeline, error) {
	p := &pipeline{retain: dbTickStreamLen}
	if ac != nil {
		tc.InputStream = ptr(ac.GetOutputStream())
		tc.InputDType = ptr(ac.GetOutputDType())
		p.tickStreams = append(p.tickStreams, ac.GetInputStream())
	}
	p.tickStreams = append(p.tickStreams, tc.GetInputStream())

	var sessions node.OutcomeRecorder
	if dbPath != "" {
		d, err := db.NewDB(dbPath)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		d.SetClock(clk)
		p.db, p.store, sessions = d, d, d

		blob, err := json.Marshal(tc)
		if err != nil {
			d.Close()
			return nil, err
		}
		s, err := d.StartSession(blob)
		if err != nil {
			d.Close()
			return nil, err
		}
		p.session = s.ID
	} else {
		p.store = stream.NewMemoryStore(memoryStreamLen)
		p.session = uuid.NewString()
	}

	var err error
	p.task, err = node.NewTaskNodeFromConfig(tc, p.store, node.Options{
		Clock:     clk,
		SessionID: p.session,
		Sessions:  sessions,
	})
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("task node: %w", err)
	}

	if ac != nil {
		if p.ticker, err = node.NewClockNode(p.store, ac.GetInputStream(), ac.GetInputRate(), clk); err != nil {
			p.Close()
			return nil, err
		}
		if p.cue, err = node.NewCueNodeFromConfig(ac, p.store, node.Options{Clock: clk}); err != nil {
			p.Close()
			return nil, fmt.Errorf("cue node: %w", err)
		}
	}
	return p, nil
}

// trimTickStreams drops all but the newest retain entries of every tick
// stream.
func (p *pipeline) trimTickStreams() error {
	if p.db == nil {
		return nil
	}
	for _, name := range p.tickStreams {
		n, err := p.db.Trim(name, p.retain)
		if err != nil {
			return err
		}
		if n > 0 {
			monitoring.Debugf("trimmed %d entries from %s", n, name)
		}
	}
	return nil
}

// retainTickStreams trims the tick streams every interval until ctx ends.
func (p *pipeline) retainTickStreams(ctx context.Context, clk timeutil.Clock, every time.Duration) error {
	ticker := clk.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			if err := p.trimTickStreams(); err != nil {
				monitoring.Logf("stream retention: %v", err)
			}
		}
	}
}

// Close ends the session and releases the store.
func (p *pipeline) Close() error {
	if p.db != nil && p.session != "" {
		if err := p.db.EndSession(p.session); err != nil {
			return err
		}
	}
	return p.store.Close()
}

func ptr[T any](v T) *T { return &v }
