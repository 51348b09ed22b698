// cmd/poller/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/tamzrod/fieldbus-poller/internal/channel"
	"github.com/tamzrod/fieldbus-poller/internal/config"
	"github.com/tamzrod/fieldbus-poller/internal/metrics"
	"github.com/tamzrod/fieldbus-poller/internal/publish"
)

func main() {
	cfgPath := flag.StringP("config", "c", "poller.yaml", "path to the YAML configuration")
	level := flag.String("log-level", "info", "log level (trace, debug, info, warn, error)")
	format := flag.String("log-format", "json", "log format (json, console)")
	flag.Parse()

	log, err := newLogger(*level, *format)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	if err := run(*cfgPath, log); err != nil {
		log.Fatal().Err(err).Msg("poller failed")
	}
}

func newLogger(level, format string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("log level: %w", err)
	}

	var log zerolog.Logger
	switch format {
	case "json":
		log = zerolog.New(os.Stderr)
	case "console":
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	default:
		return zerolog.Nop(), fmt.Errorf("log format: unknown %q", format)
	}
	return log.Level(lvl).With().Timestamp().Logger(), nil
}

func run(cfgPath string, log zerolog.Logger) error {
	// --------------------
	// Load + validate config
	// --------------------

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --------------------
	// Outputs
	// --------------------

	sinks := publish.Fanout{publish.NewLog(log)}

	var mq *publish.MQTT
	if cfg.Poller.MQTT != nil {
		mq = publish.NewMQTT(*cfg.Poller.MQTT, log)
		sinks = append(sinks, mq)
		// write requests arriving before their channel is built are refused
		if err := mq.Start(); err != nil {
			return err
		}
		defer mq.Stop()
	}

	m := metrics.New()

	// --------------------
	// Build per-channel pipelines
	// --------------------

	channels := make([]*channel.Channel, 0, len(cfg.Poller.Channels))
	for _, cc := range cfg.Poller.Channels {
		ch, err := channel.New(cc, sinks, log, channel.WithMetrics(m))
		if err != nil {
			return fmt.Errorf("channel %s: %w", cc.ID, err)
		}
		if mq != nil {
			mq.HandleWrites(ch.ID(), ch.Write)
		}
		channels = append(channels, ch)
	}

	// --------------------
	// Run until signalled
	// --------------------

	g, gctx := errgroup.WithContext(ctx)
	for _, ch := range channels {
		ch := ch
		g.Go(func() error { return ch.Run(gctx) })
	}

	if addr := cfg.Poller.Metrics.Listen; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		g.Go(func() error {
			log.Info().Str("addr", addr).Msg("metrics listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	log.Info().Int("channels", len(channels)).Msg("poller started")
	err = g.Wait()
	log.Info().Msg("poller stopped")
	return err
}
