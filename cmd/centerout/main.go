package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/centerout/internal/api"
	"github.com/banshee-data/centerout/internal/config"
	"github.com/banshee-data/centerout/internal/db"
	"github.com/banshee-data/centerout/internal/monitoring"
	"github.com/banshee-data/centerout/internal/records"
	"github.com/banshee-data/centerout/internal/serialmux"
	"github.com/banshee-data/centerout/internal/timeutil"
	"github.com/banshee-data/centerout/internal/version"
)

var (
	configPath  = flag.String("config", "", "Task config JSON (default "+config.DefaultTaskConfigPath+")")
	autocuePath = flag.String("autocue-config", "", "Auto-cue config JSON used with -sim (default "+config.DefaultAutoCueConfigPath+")")
	dbPath      = flag.String("db", "", "SQLite stream store; streams are kept in memory when empty")
	listen      = flag.String("listen", ":8080", "Listen address")
	port        = flag.String("port", "", "Serial port of the pointing device (overrides the config)")
	devMode     = flag.Bool("dev", false, "Use a synthetic pointing device")
	simMode     = flag.Bool("sim", false, "Drive the task with the in-process auto-cue loop")
	external    = flag.Bool("external", false, "Read input samples another process (such as autocue) writes to the -db store")
	debugMode   = flag.Bool("debug", false, "Log per-tick detail")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Usage = usage
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String("centerout"))
		return
	}
	if flag.NArg() > 0 && flag.Arg(0) == "migrate" {
		if *dbPath == "" {
			log.Fatal("migrate requires -db")
		}
		db.RunMigrateCommand(flag.Args()[1:], *dbPath)
		return
	}
	if *listen == "" {
		log.Fatal("Listen address is required")
	}
	if *debugMode {
		monitoring.SetDebugLogger(log.Printf)
	}

	mode, err := selectInputMode(*simMode, *devMode, *external, *dbPath)
	if err != nil {
		log.Fatal(err)
	}

	tc, err := loadTaskConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load task config: %v", err)
	}
	var ac *config.AutoCueConfig
	if mode == simInput {
		if ac, err = loadAutoCueConfig(*autocuePath); err != nil {
			log.Fatalf("failed to load auto-cue config: %v", err)
		}
	}

	p, err := newPipeline(tc, ac, *dbPath, timeutil.RealClock{})
	if err != nil {
		log.Fatalf("failed to start: %v", err)
	}
	log.Printf("session %s started", p.session)

	dev, err := openDevice(tc, mode)
	if err != nil {
		p.Close()
		log.Fatalf("failed to open input device: %v", err)
	}
	defer dev.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	run := func(name string, f func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := f(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("%s failed: %v", name, err)
				stop()
			}
			log.Printf("%s routine terminated", name)
		}()
	}

	switch mode {
	case simInput:
		run("clock", p.ticker.Run)
		run("auto-cue", p.cue.Run)
	case externalInput:
		log.Printf("waiting for %s samples from another process", tc.GetInputStream())
	default:
		rate := 0
		if tc.Serial != nil {
			rate = tc.Serial.RateHz
		}
		if err := dev.Initialize(rate); err != nil {
			log.Printf("failed to initialise device: %v", err)
		}
		run("monitor", dev.Monitor)
		run("ingest", func(ctx context.Context) error {
			return serialmux.Ingest(ctx, dev, p.store, ingestConfig(tc))
		})
	}
	run("task", p.task.Run)
	if p.db != nil {
		run("retention", func(ctx context.Context) error {
			return p.retainTickStreams(ctx, timeutil.RealClock{}, retentionInterval)
		})
	}

	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := api.NewServer(p.task, dev, sessionStore(p)).ServeMux()
		dev.AttachAdminRoutes(mux)
		if p.db != nil {
			p.db.AttachAdminRoutes(mux)
		}

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}
		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	if err := p.Close(); err != nil {
		log.Printf("failed to close session: %v", err)
	}
	st := p.task.Status()
	log.Printf("Graceful shutdown complete: %d trials, %d successes, %d failures", st.Trial, st.Successes, st.Failures)
}

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags]\n       %s -db FILE migrate <command>\n\n", os.Args[0], os.Args[0])
	flag.PrintDefaults()
	fmt.Fprintln(flag.CommandLine.Output())
	db.PrintMigrateHelp()
}

func loadTaskConfig(path string) (*config.TaskConfig, error) {
	if path == "" {
		return config.MustLoadDefaultTaskConfig(), nil
	}
	return config.LoadTaskConfig(path)
}

func loadAutoCueConfig(path string) (*config.AutoCueConfig, error) {
	if path == "" {
		return config.MustLoadDefaultAutoCueConfig(), nil
	}
	return config.LoadAutoCueConfig(path)
}

type inputMode int

const (
	deviceInput inputMode = iota
	mockInput
	simInput
	externalInput
)

// selectInputMode resolves the mutually exclusive input flags. Only one
// writer may feed the input stream, since every sample is a task tick.
func selectInputMode(sim, dev, external bool, dbPath string) (inputMode, error) {
	n := 0
	for _, set := range []bool{sim, dev, external} {
		if set {
			n++
		}
	}
	switch {
	case n > 1:
		return 0, errors.New("-sim, -dev and -external are mutually exclusive")
	case external && dbPath == "":
		return 0, errors.New("-external requires -db")
	case external:
		return externalInput, nil
	case sim:
		return simInput, nil
	case dev:
		return mockInput, nil
	}
	return deviceInput, nil
}

// openDevice picks the input device: none when samples come from the
// auto-cue loop, a synthetic one in dev mode, otherwise the serial port.
func openDevice(tc *config.TaskConfig, mode inputMode) (serialmux.SerialMuxInterface, error) {
	switch mode {
	case simInput, externalInput:
		return serialmux.NewDisabledSerialMux(), nil
	case mockInput:
		return serialmux.NewMockSerialMux(100, tc.GetDistanceFromCenter()), nil
	}

	var opts serialmux.PortOptions
	path := *port
	if tc.Serial != nil {
		opts = serialmux.PortOptions{
			BaudRate: tc.Serial.BaudRate,
			DataBits: tc.Serial.DataBits,
			StopBits: tc.Serial.StopBits,
			Parity:   tc.Serial.Parity,
		}
		if path == "" {
			path = tc.Serial.Port
		}
	}
	if path == "" {
		return nil, errors.New("no serial port configured")
	}
	dev, err := serialmux.NewRealSerialMux(path, opts)
	if err != nil {
		return nil, err
	}
	return dev, nil
}

func ingestConfig(tc *config.TaskConfig) serialmux.IngestConfig {
	dtype, err := records.ParseDType(tc.GetInputDType())
	if err != nil {
		dtype = records.Float32
	}
	cfg := serialmux.IngestConfig{
		Stream: tc.GetInputStream(),
		DType:  dtype,
		Codec:  records.Codec{SyncKey: tc.GetSyncKey(), TimeKey: tc.GetTimeKey()},
	}
	if tc.GetCheckTrigger() {
		cfg.TriggerStream = tc.GetTriggerStream()
	}
	return cfg
}

// sessionStore hides a missing database behind a nil interface.
func sessionStore(p *pipeline) api.SessionStore {
	if p.db == nil {
		return nil
	}
	return p.db
}
