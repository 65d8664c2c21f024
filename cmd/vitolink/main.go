package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/lmittmann/tint"

	"github.com/vogelchr/vitolink/config"
	"github.com/vogelchr/vitolink/httpapi"
	"github.com/vogelchr/vitolink/orchestrator"
	"github.com/vogelchr/vitolink/protocol"
	"github.com/vogelchr/vitolink/serial"
	"github.com/vogelchr/vitolink/sink"
	"github.com/vogelchr/vitolink/varlist"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		return err
	}

	log := newLogger(cfg.Verbose)

	vars, err := varlist.Load(cfg.VarlistDir)
	if err != nil {
		return fmt.Errorf("loading variable list: %w", err)
	}
	log.Info("loaded variable list", "count", len(vars), "path", cfg.VarlistDir)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	port, err := serial.OpenWithRetry(ctx, serial.DefaultConfig(cfg.Device))
	if err != nil {
		return fmt.Errorf("opening serial port: %w", err)
	}
	defer port.Close()

	s, err := buildSink(cfg)
	if err != nil {
		return err
	}
	if closer, ok := s.(interface{ Close() }); ok {
		defer closer.Close()
	}

	engine := protocol.NewEngine(port, log)
	orch := orchestrator.New(engine, s, vars, orchestrator.Options{
		Logger:        log,
		SleepInterval: cfg.Sleep,
		BatchSize:     cfg.BatchSize,
		Measurement:   cfg.Measurement,
	})

	go orch.RunTicks(ctx)
	go readLoop(ctx, port, engine, log)

	if cfg.Webserver {
		srv := httpapi.New(orch, log, nil)
		go func() {
			log.Info("http server listening", "address", cfg.MetricsAddr)
			if err := http.ListenAndServe(cfg.MetricsAddr, srv); err != nil {
				log.Error("http server stopped", "error", err)
			}
		}()
	}

	log.Info("starting poll loop", "interval", cfg.Sleep, "batch_size", cfg.BatchSize)
	if err := orch.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("poll loop: %w", err)
	}
	return nil
}

// readLoop feeds bytes from the serial port into the engine until ctx is
// cancelled. It runs on its own goroutine because Read blocks for up to
// the port's configured read timeout.
func readLoop(ctx context.Context, port serial.Port, engine *protocol.Engine, log *slog.Logger) {
	buf := make([]byte, 256)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		n, err := port.Read(buf)
		if err != nil {
			log.Error("serial read failed", "error", err)
			continue
		}
		if n > 0 {
			engine.OnBytes(buf[:n])
		}
	}
}

func buildSink(cfg config.Config) (sink.Sink, error) {
	if !cfg.SinkEnabled() {
		return sink.Noop{}, nil
	}
	token, err := cfg.InfluxToken()
	if err != nil {
		return nil, err
	}
	return sink.NewInflux(cfg.InfluxURL, token, cfg.InfluxOrg, cfg.InfluxBucket), nil
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level: level,
	}))
}
