package trackengine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func feedTestServer(t *testing.T, messages []string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	mux := http.NewServeMux()
	mux.HandleFunc("/feed", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, msg := range messages {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
		}
		// Hold the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	mux.HandleFunc("/batch", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(Batch{Kind: BatchUpdate, Reports: []Report{
			testReport(9, time.Now()),
		}})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/feed"
}

func TestFeedTransportSkipsMalformedMessages(t *testing.T) {
	srv := feedTestServer(t, []string{
		"not json at all",
		`{"kind":"initial","reports":[{"id":7,"lat":50.1,"lon":-1.2,"category":1,"timestamp":"2026-08-23T10:00:00Z"}]}`,
	})

	tr := &FeedTransport{URL: wsURL(srv), Log: zerolog.Nop()}
	conn, err := tr.Connect(context.Background())
	require.NoError(t, err)
	defer conn.Close()

	batch, err := conn.ReadBatch()
	require.NoError(t, err)
	assert.Equal(t, BatchInitial, batch.Kind)
	require.Len(t, batch.Reports, 1)
	assert.Equal(t, uint64(7), batch.Reports[0].ID)
}

func TestFeedTransportPoll(t *testing.T) {
	srv := feedTestServer(t, nil)

	tr := &FeedTransport{PollURL: srv.URL + "/batch", Log: zerolog.Nop()}
	batch, err := tr.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, BatchUpdate, batch.Kind)
	require.Len(t, batch.Reports, 1)
	assert.Equal(t, uint64(9), batch.Reports[0].ID)
}

func TestFeedTransportPollBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	tr := &FeedTransport{PollURL: srv.URL, Log: zerolog.Nop()}
	_, err := tr.Poll(context.Background())
	assert.ErrorContains(t, err, "bad status")
}

func TestFeedTransportDialFailure(t *testing.T) {
	tr := &FeedTransport{URL: "ws://127.0.0.1:1/feed", Log: zerolog.Nop()}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := tr.Connect(ctx)
	assert.Error(t, err)
}
