// vessel-feeder serves a simulated vessel position feed: a websocket at
// /feed and a poll endpoint at /batch, suitable for driving vessel-viewer
// without a live upstream.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog"

	"github.com/vesselwatch/vessel-stream/pkg/feedsim"
)

var cli struct {
	Listen   string        `help:"Address to serve the feed on." default:":8080"`
	Vessels  int           `help:"Fleet size." default:"250"`
	Seed     int64         `help:"Fleet seed; same seed, same traffic." default:"1"`
	Interval time.Duration `help:"Push cadence for websocket clients." default:"2s"`
	PerTick  int           `help:"Vessels per update batch (0 = whole fleet)." default:"40"`
	Lat      float64       `help:"Spawn area center latitude." default:"50.2"`
	Lon      float64       `help:"Spawn area center longitude." default:"-0.5"`
	Debug    bool          `help:"Enable debug logging."`
}

func main() {
	kong.Parse(&cli,
		kong.Name("vessel-feeder"),
		kong.Description("Simulated vessel position feed."))

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()
	if cli.Debug {
		log = log.Level(zerolog.DebugLevel)
	} else {
		log = log.Level(zerolog.InfoLevel)
	}

	fleet := feedsim.NewFleet(feedsim.Options{
		Vessels:   cli.Vessels,
		Seed:      cli.Seed,
		CenterLat: cli.Lat,
		CenterLon: cli.Lon,
	})
	server := feedsim.NewServer(fleet, cli.Interval, cli.PerTick, log)

	srv := &http.Server{
		Addr:              cli.Listen,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("listen", cli.Listen).Int("vessels", fleet.Len()).Msg("feeder up")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("feeder failed")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	log.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("shutdown")
	}
}
