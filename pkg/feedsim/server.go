package feedsim

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Server exposes one fleet over the feed's two surfaces: a websocket at
// /feed that pushes an initial batch and then periodic updates, and GET
// /batch returning the full fleet for poll fallback. One fleet serves every
// client, so all connections see the same traffic.
type Server struct {
	fleet    *Fleet
	interval time.Duration
	perTick  int
	log      zerolog.Logger

	mu       sync.Mutex
	upgrader websocket.Upgrader
}

// NewServer wraps a fleet. interval is the push cadence; perTick caps how
// many vessels each update carries (0 means the whole fleet).
func NewServer(fleet *Fleet, interval time.Duration, perTick int, log zerolog.Logger) *Server {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Server{
		fleet:    fleet,
		interval: interval,
		perTick:  perTick,
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Simulator, trusted callers only.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Handler returns the mux serving /feed and /batch.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/feed", s.handleFeed)
	mux.HandleFunc("/batch", s.handleBatch)
	return mux
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}
	defer func() {
		if err := conn.Close(); err != nil {
			s.log.Debug().Err(err).Msg("closing feed connection")
		}
	}()
	s.log.Info().Str("remote", r.RemoteAddr).Msg("feed client connected")

	s.mu.Lock()
	initial := s.fleet.InitialBatch(time.Now())
	s.mu.Unlock()
	if err := conn.WriteJSON(initial); err != nil {
		s.log.Warn().Err(err).Msg("writing initial batch")
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for range ticker.C {
		s.mu.Lock()
		batch := s.fleet.UpdateBatch(time.Now(), s.interval, s.perTick)
		s.mu.Unlock()
		if err := conn.WriteJSON(batch); err != nil {
			s.log.Info().Err(err).Str("remote", r.RemoteAddr).Msg("feed client gone")
			return
		}
	}
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.mu.Lock()
	batch := s.fleet.FullBatch(time.Now())
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(batch); err != nil {
		s.log.Warn().Err(err).Msg("encoding poll batch")
	}
}
