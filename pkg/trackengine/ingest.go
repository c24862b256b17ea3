package trackengine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vesselwatch/vessel-stream/pkg/metrics"
)

// Conn is one established feed connection. ReadBatch blocks until the next
// batch arrives or the connection fails.
type Conn interface {
	ReadBatch() (Batch, error)
	Close() error
}

// Transport establishes feed connections and supports one-shot polling, which
// fallback mode uses when the push connection cannot be kept alive.
type Transport interface {
	Connect(ctx context.Context) (Conn, error)
	Poll(ctx context.Context) (Batch, error)
}

// PipelineHooks is how the pipeline talks back to its owner. Exec serializes
// a task onto the engine loop; OnApplied fires after a batch with accepted
// reports was merged (first is true exactly once); OnStateChange fires on
// every connection state or fallback flag change.
type PipelineHooks struct {
	Exec          func(func())
	OnApplied     func(first bool)
	OnStateChange func()
}

// Pipeline owns the live-connection state machine and merges incoming batches
// into the cache. Connection failures are never fatal: a fixed-delay
// reconnect is scheduled, and after too many failed attempts the pipeline
// degrades to polling the source until a re-dial succeeds.
//
// All state transitions run on the engine loop via hooks.Exec; the only
// goroutines the pipeline spawns are blocking dial/read/poll calls that post
// their results back onto the loop.
type Pipeline struct {
	cfg       Config
	transport Transport
	cache     *TrackCache
	index     *SpatialIndex
	hooks     PipelineHooks
	log       zerolog.Logger
	m         *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc

	state            ConnState
	errMsg           string
	fallback         bool
	attempts         int
	pollsSinceRedial int
	firstDataSent    bool
	lastUpdate       time.Time
	stopped          bool

	conn           Conn
	reconnectTimer *time.Timer
	pollTimer      *time.Timer

	now func() time.Time
}

// NewPipeline wires a pipeline to its transport and stores. cfg must already
// carry defaults.
func NewPipeline(cfg Config, t Transport, cache *TrackCache, index *SpatialIndex, hooks PipelineHooks, log zerolog.Logger, m *metrics.Metrics) *Pipeline {
	if hooks.Exec == nil {
		hooks.Exec = func(f func()) { f() }
	}
	if hooks.OnApplied == nil {
		hooks.OnApplied = func(bool) {}
	}
	if hooks.OnStateChange == nil {
		hooks.OnStateChange = func() {}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pipeline{
		cfg:       cfg,
		transport: t,
		cache:     cache,
		index:     index,
		hooks:     hooks,
		log:       log,
		m:         m,
		ctx:       ctx,
		cancel:    cancel,
		state:     StateDisconnected,
		now:       time.Now,
	}
}

// Start kicks off the first connection attempt. Must run on the engine loop.
func (p *Pipeline) Start() {
	p.connect()
}

// Stop tears the pipeline down: cancels in-flight dials, stops timers and
// closes the connection. Idempotent. Must run on the engine loop.
func (p *Pipeline) Stop() {
	if p.stopped {
		return
	}
	p.stopped = true
	p.cancel()
	if p.reconnectTimer != nil {
		p.reconnectTimer.Stop()
		p.reconnectTimer = nil
	}
	if p.pollTimer != nil {
		p.pollTimer.Stop()
		p.pollTimer = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
	p.setState(StateDisconnected)
}

// State returns the current state machine position.
func (p *Pipeline) State() ConnState { return p.state }

// FallbackActive reports whether the pipeline is in degraded polling mode.
func (p *Pipeline) FallbackActive() bool { return p.fallback }

// Err is the last connection error, empty while healthy.
func (p *Pipeline) Err() string { return p.errMsg }

// LastUpdate is when the last batch with accepted reports was merged.
func (p *Pipeline) LastUpdate() time.Time { return p.lastUpdate }

// HasData reports whether the first-data signal has fired.
func (p *Pipeline) HasData() bool { return p.firstDataSent }

func (p *Pipeline) setState(s ConnState) {
	if p.state == s {
		return
	}
	p.state = s
	p.hooks.OnStateChange()
}

func (p *Pipeline) connect() {
	if p.stopped {
		return
	}
	p.setState(StateConnecting)
	session := uuid.New()
	log := p.log.With().Str("session", session.String()).Logger()
	log.Info().Msg("connecting to feed")
	go func() {
		conn, err := p.transport.Connect(p.ctx)
		p.hooks.Exec(func() { p.onDialResult(conn, err, log) })
	}()
}

func (p *Pipeline) onDialResult(conn Conn, err error, log zerolog.Logger) {
	if p.stopped {
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		log.Warn().Err(err).Msg("dial failed")
		p.errMsg = err.Error()
		p.setState(StateError)
		p.scheduleReconnect()
		return
	}
	p.onConnected(conn, log)
}

func (p *Pipeline) onConnected(conn Conn, log zerolog.Logger) {
	// A successful connection cancels any pending reconnect and leaves
	// fallback mode.
	if p.reconnectTimer != nil {
		p.reconnectTimer.Stop()
		p.reconnectTimer = nil
	}
	if p.pollTimer != nil {
		p.pollTimer.Stop()
		p.pollTimer = nil
	}
	p.fallback = false
	p.attempts = 0
	p.pollsSinceRedial = 0
	p.errMsg = ""
	p.conn = conn
	p.setState(StateConnected)
	log.Info().Msg("feed connected")

	go func() {
		for {
			batch, err := conn.ReadBatch()
			if err != nil {
				p.hooks.Exec(func() { p.onReadError(conn, err, log) })
				return
			}
			p.hooks.Exec(func() {
				if p.stopped || p.conn != conn {
					return
				}
				p.applyBatch(batch)
			})
		}
	}()
}

func (p *Pipeline) onReadError(conn Conn, err error, log zerolog.Logger) {
	if p.stopped || p.conn != conn {
		return // stale reader from a connection we already replaced
	}
	log.Warn().Err(err).Msg("feed dropped")
	_ = conn.Close()
	p.conn = nil
	p.errMsg = err.Error()
	p.setState(StateDisconnected)
	p.scheduleReconnect()
}

// scheduleReconnect arms exactly one reconnect timer with the fixed delay.
// Once the attempt budget is exhausted the pipeline degrades to fallback
// polling instead.
func (p *Pipeline) scheduleReconnect() {
	if p.stopped || p.fallback {
		return
	}
	if p.reconnectTimer != nil {
		return // a reconnect is already pending
	}
	p.attempts++
	if p.attempts > p.cfg.MaxReconnectAttempts {
		p.enterFallback()
		return
	}
	p.m.Reconnect()
	p.log.Info().Int("attempt", p.attempts).Dur("delay", p.cfg.ReconnectDelay).Msg("reconnect scheduled")
	p.reconnectTimer = time.AfterFunc(p.cfg.ReconnectDelay, func() {
		p.hooks.Exec(func() {
			p.reconnectTimer = nil
			p.connect()
		})
	})
}

func (p *Pipeline) enterFallback() {
	p.fallback = true
	p.pollsSinceRedial = 0
	p.setState(StateDisconnected)
	p.hooks.OnStateChange() // fallback flag changed even if state did not
	p.log.Warn().Int("attempts", p.attempts).Msg("reconnect budget exhausted, polling feed instead")
	p.schedulePoll()
}

func (p *Pipeline) schedulePoll() {
	if p.stopped || !p.fallback || p.pollTimer != nil {
		return
	}
	p.pollTimer = time.AfterFunc(p.cfg.ReconnectDelay, func() {
		p.hooks.Exec(func() {
			p.pollTimer = nil
			p.pollOnce()
		})
	})
}

func (p *Pipeline) pollOnce() {
	if p.stopped || !p.fallback {
		return
	}
	go func() {
		batch, err := p.transport.Poll(p.ctx)
		p.hooks.Exec(func() { p.onPollResult(batch, err) })
	}()
}

func (p *Pipeline) onPollResult(batch Batch, err error) {
	if p.stopped || !p.fallback {
		return
	}
	if err != nil {
		p.errMsg = err.Error()
		p.log.Warn().Err(err).Msg("fallback poll failed")
		p.schedulePoll()
		return
	}
	p.m.FallbackPoll()
	p.applyBatch(batch)

	// Every few successful polls, probe whether push ingestion works again.
	p.pollsSinceRedial++
	if p.pollsSinceRedial >= p.cfg.FallbackRedialEvery {
		p.pollsSinceRedial = 0
		go func() {
			conn, dialErr := p.transport.Connect(p.ctx)
			p.hooks.Exec(func() { p.onRedialResult(conn, dialErr) })
		}()
	}
	p.schedulePoll()
}

func (p *Pipeline) onRedialResult(conn Conn, err error) {
	if p.stopped || !p.fallback {
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		p.log.Debug().Err(err).Msg("fallback redial failed, staying in polling mode")
		return
	}
	p.onConnected(conn, p.log)
	p.hooks.OnStateChange()
}

// applyBatch merges one batch into the cache. One accepted report or more
// triggers a single index rebuild and the data-changed signal; a batch of
// pure rejects changes nothing.
func (p *Pipeline) applyBatch(batch Batch) {
	now := p.now()
	accepted := 0
	for _, r := range batch.Reports {
		if p.cache.Upsert(r, now) {
			accepted++
		}
	}
	p.log.Debug().
		Str("kind", string(batch.Kind)).
		Int("reports", len(batch.Reports)).
		Int("accepted", accepted).
		Msg("batch merged")
	if accepted == 0 {
		return
	}
	p.index.Rebuild(p.cache.Snapshot())
	p.lastUpdate = now
	first := !p.firstDataSent
	p.firstDataSent = true
	p.hooks.OnApplied(first)
}
