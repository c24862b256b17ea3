// vessel-viewer is a headless map client: it ingests a vessel feed, keeps the
// clustered viewport state, and writes every marker operation as one NDJSON
// line on stdout. Point it at vessel-feeder or any feed speaking the same
// batch shape.
package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog"

	"github.com/vesselwatch/vessel-stream/pkg/metrics"
	"github.com/vesselwatch/vessel-stream/pkg/trackengine"
)

var cli struct {
	FeedURL string `help:"Websocket feed endpoint." default:"ws://localhost:8080/feed"`
	PollURL string `help:"HTTP poll endpoint for fallback." default:"http://localhost:8080/batch"`

	Lat  float64 `help:"Viewport center latitude." default:"50.2"`
	Lon  float64 `help:"Viewport center longitude." default:"-0.5"`
	Span float64 `help:"Viewport half-height in degrees." default:"2"`
	Zoom float64 `help:"Viewport zoom level." default:"8"`

	MetricsListen string        `help:"Address for /metrics; empty disables." default:":9090"`
	Snapshot      time.Duration `help:"If set, print a GeoJSON snapshot at this interval instead of exiting on idle."`
	Debug         bool          `help:"Enable debug logging."`
}

// ndjsonSink writes marker operations as JSON lines. The engine loop is the
// only caller during normal operation, but shutdown teardown can race the
// last render, so it carries its own lock.
type ndjsonSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

type sinkLine struct {
	Op string `json:"op"`
	trackengine.ShowOp
}

func (s *ndjsonSink) Show(op trackengine.ShowOp) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.enc.Encode(sinkLine{Op: "show", ShowOp: op})
}

func (s *ndjsonSink) Hide(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.enc.Encode(sinkLine{Op: "hide", ShowOp: trackengine.ShowOp{ID: id}})
}

func main() {
	kong.Parse(&cli,
		kong.Name("vessel-viewer"),
		kong.Description("Headless vessel map client emitting NDJSON marker operations."))

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()
	if cli.Debug {
		log = log.Level(zerolog.DebugLevel)
	} else {
		log = log.Level(zerolog.InfoLevel)
	}

	m := metrics.New()
	if cli.MetricsListen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		srv := &http.Server{Addr: cli.MetricsListen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Warn().Err(err).Msg("metrics listener failed")
			}
		}()
	}

	transport := &trackengine.FeedTransport{
		URL:     cli.FeedURL,
		PollURL: cli.PollURL,
		Log:     log.With().Str("component", "transport").Logger(),
	}
	sink := &ndjsonSink{enc: json.NewEncoder(os.Stdout)}

	engine := trackengine.NewEngine(trackengine.Config{}, transport, sink, trackengine.EngineOptions{
		Logger:  log,
		Metrics: m,
		OnStatus: func(s trackengine.Status) {
			log.Info().
				Str("state", s.StateName).
				Bool("fallback", s.Fallback).
				Bool("hasData", s.HasData).
				Str("err", s.Err).
				Msg("status")
		},
	})

	viewport := trackengine.Viewport{
		Bounds: trackengine.Bounds{
			MinLat: cli.Lat - cli.Span,
			MinLon: cli.Lon - cli.Span*2,
			MaxLat: cli.Lat + cli.Span,
			MaxLon: cli.Lon + cli.Span*2,
		},
		Zoom: cli.Zoom,
	}

	engine.Start()
	engine.OnViewportChanged(viewport)
	log.Info().Str("feed", cli.FeedURL).Float64("zoom", cli.Zoom).Msg("viewer up")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	if cli.Snapshot > 0 {
		ticker := time.NewTicker(cli.Snapshot)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				fc, err := engine.SnapshotGeoJSON(viewport)
				if err != nil {
					log.Warn().Err(err).Msg("snapshot failed")
					continue
				}
				raw, err := json.Marshal(fc)
				if err != nil {
					log.Warn().Err(err).Msg("snapshot encode failed")
					continue
				}
				os.Stdout.Write(append(raw, '\n'))
			case <-sig:
				engine.Stop()
				return
			}
		}
	}

	<-sig
	engine.Stop()
}
