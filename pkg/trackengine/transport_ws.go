package trackengine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// FeedTransport is the production Transport: a persistent websocket for push
// batches plus an HTTP endpoint for fallback polls. The producer is expected
// to send one initial batch immediately after the websocket opens.
type FeedTransport struct {
	// URL is the websocket feed endpoint (ws:// or wss://).
	URL string
	// PollURL is the HTTP endpoint returning one batch per GET.
	PollURL string
	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer
	// Client defaults to an http.Client with a 10s timeout.
	Client *http.Client

	Log zerolog.Logger
}

// Connect dials the websocket feed.
func (t *FeedTransport) Connect(ctx context.Context) (Conn, error) {
	dialer := t.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	c, _, err := dialer.DialContext(ctx, t.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", t.URL, err)
	}
	return &wsConn{c: c, log: t.Log}, nil
}

// Poll fetches a single batch over HTTP.
func (t *FeedTransport) Poll(ctx context.Context) (Batch, error) {
	client := t.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.PollURL, nil)
	if err != nil {
		return Batch{}, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return Batch{}, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			t.Log.Warn().Err(err).Msg("closing poll response body")
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return Batch{}, fmt.Errorf("poll %s: bad status %s", t.PollURL, resp.Status)
	}
	var batch Batch
	if err := json.NewDecoder(resp.Body).Decode(&batch); err != nil {
		return Batch{}, fmt.Errorf("poll %s: decode: %w", t.PollURL, err)
	}
	return batch, nil
}

type wsConn struct {
	c   *websocket.Conn
	log zerolog.Logger
}

// ReadBatch blocks for the next well-formed batch. Messages that fail to
// decode are skipped, not fatal; the feed keeps running on garbage input.
func (w *wsConn) ReadBatch() (Batch, error) {
	for {
		_, message, err := w.c.ReadMessage()
		if err != nil {
			return Batch{}, err
		}
		var batch Batch
		if err := json.Unmarshal(message, &batch); err != nil {
			w.log.Debug().Err(err).Msg("skipping malformed feed message")
			continue
		}
		return batch, nil
	}
}

func (w *wsConn) Close() error {
	return w.c.Close()
}
