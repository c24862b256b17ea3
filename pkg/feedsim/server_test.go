package feedsim

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

	"github.com/vesselwatch/vessel-stream/pkg/trackengine"
)

func simTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	fleet := NewFleet(Options{Vessels: 20, Seed: 3})
	srv := httptest.NewServer(NewServer(fleet, 20*time.Millisecond, 5, zerolog.Nop()).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func TestServerBatchEndpoint(t *testing.T) {
	srv := simTestServer(t)

	resp, err := http.Get(srv.URL + "/batch")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var batch trackengine.Batch
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&batch))
	assert.Equal(t, trackengine.BatchUpdate, batch.Kind)
	require.Len(t, batch.Reports, 20)
	for _, r := range batch.Reports {
		assert.True(t, r.Valid())
	}
}

func TestServerBatchRejectsPost(t *testing.T) {
	srv := simTestServer(t)

	resp, err := http.Post(srv.URL+"/batch", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestServerFeedPushesInitialThenUpdates(t *testing.T) {
	srv := simTestServer(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/feed"

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var initial trackengine.Batch
	require.NoError(t, conn.ReadJSON(&initial))
	assert.Equal(t, trackengine.BatchInitial, initial.Kind)
	assert.Len(t, initial.Reports, 20)

	var update trackengine.Batch
	require.NoError(t, conn.ReadJSON(&update))
	assert.Equal(t, trackengine.BatchUpdate, update.Kind)
	assert.Len(t, update.Reports, 5)
}

func TestServerDrivesFeedTransport(t *testing.T) {
	srv := simTestServer(t)

	tr := &trackengine.FeedTransport{
		URL:     "ws" + strings.TrimPrefix(srv.URL, "http") + "/feed",
		PollURL: srv.URL + "/batch",
		Log:     zerolog.Nop(),
	}

	conn, err := tr.Connect(context.Background())
	require.NoError(t, err)
	defer conn.Close()

	batch, err := conn.ReadBatch()
	require.NoError(t, err)
	assert.Equal(t, trackengine.BatchInitial, batch.Kind)

	polled, err := tr.Poll(context.Background())
	require.NoError(t, err)
	assert.Len(t, polled.Reports, 20)
}
