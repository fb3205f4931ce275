// Command autocue runs the trajectory node against a shared sqlite stream
// store, producing automatic cursor commands for a task started with
// centerout -external on the same database.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os/signal"
	"sync"
	"syscall"

	"github.com/banshee-data/centerout/internal/config"
	"github.com/banshee-data/centerout/internal/db"
	"github.com/banshee-data/centerout/internal/monitoring"
	"github.com/banshee-data/centerout/internal/node"
	"github.com/banshee-data/centerout/internal/timeutil"
)

var (
	configPath = flag.String("config", "", "Auto-cue config JSON (default "+config.DefaultAutoCueConfigPath+")")
	dbPath     = flag.String("db", "", "SQLite stream store shared with centerout")
	withClock  = flag.Bool("clock", false, "Publish ticks on the input stream at input_rate")
	consumer   = flag.String("consumer", "", "Consumer name for a resumable read offset")
	debugMode  = flag.Bool("debug", false, "Log per-tick detail")
)

func main() {
	flag.Parse()
	if *dbPath == "" {
		log.Fatal("-db is required")
	}
	if *debugMode {
		monitoring.SetDebugLogger(log.Printf)
	}

	ac, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	d, err := db.NewDB(*dbPath)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer d.Close()

	cue, ticker, err := build(ac, d, *withClock, *consumer, timeutil.RealClock{})
	if err != nil {
		log.Fatalf("failed to build auto-cue node: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	if ticker != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := ticker.Run(ctx); err != nil {
				log.Printf("clock failed: %v", err)
				stop()
			}
		}()
	}

	log.Printf("auto-cue reading %s, writing %s (%s profile)", ac.GetInputStream(), ac.GetOutputStream(), ac.GetVelProfile())
	if err := cue.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("auto-cue failed: %v", err)
	}
	stop()
	wg.Wait()
	log.Printf("Graceful shutdown complete")
}

func loadConfig(path string) (*config.AutoCueConfig, error) {
	if path == "" {
		return config.MustLoadDefaultAutoCueConfig(), nil
	}
	return config.LoadAutoCueConfig(path)
}

// build creates the cue node and, when asked, a clock node pacing it.
func build(ac *config.AutoCueConfig, d *db.DB, clock bool, consumer string, clk timeutil.Clock) (*node.CueNode, *node.ClockNode, error) {
	cue, err := node.NewCueNodeFromConfig(ac, d, node.Options{Clock: clk, Consumer: consumer})
	if err != nil {
		return nil, nil, err
	}
	if !clock {
		return cue, nil, nil
	}
	ticker, err := node.NewClockNode(d, ac.GetInputStream(), ac.GetInputRate(), clk)
	if err != nil {
		return nil, nil, err
	}
	return cue, ticker, nil
}
