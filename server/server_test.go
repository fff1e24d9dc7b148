package server

import (
	"context"
	"encoding/json"
	"io"
	"mime"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khaledhikmat/traffic-go/model"
	"github.com/khaledhikmat/traffic-go/pipeline"
	"github.com/khaledhikmat/traffic-go/service/state"
)

func newTestServer(t *testing.T) (*httptest.Server, state.IService, *pipeline.Broadcaster) {
	t.Helper()
	st := state.NewMemory(model.Simulation)
	bcast := pipeline.NewBroadcaster()
	srv := httptest.NewServer(New(":0", st, bcast).Handler())
	t.Cleanup(srv.Close)
	return srv, st, bcast
}

func TestStatusShape(t *testing.T) {
	srv, st, _ := newTestServer(t)
	st.SetCount(model.North, 12)
	st.SetPhase(model.Phase{Active: model.North, Signal: model.Green, Timer: 23})

	resp, err := http.Get(srv.URL + "/api/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var body struct {
		Mode       string `json:"mode"`
		ActiveLane string `json:"active_lane"`
		Lanes      map[string]struct {
			Count  int    `json:"count"`
			Signal string `json:"signal"`
			Timer  int    `json:"timer"`
		} `json:"lanes"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))

	assert.Equal(t, "SIMULATION", body.Mode)
	assert.Equal(t, "north", body.ActiveLane)
	require.Len(t, body.Lanes, 4)
	assert.Equal(t, 12, body.Lanes["north"].Count)
	assert.Equal(t, "GREEN", body.Lanes["north"].Signal)
	assert.Equal(t, 23, body.Lanes["north"].Timer)
	assert.Equal(t, "RED", body.Lanes["west"].Signal)
}

func postToggle(t *testing.T, url, body string) (int, map[string]string) {
	t.Helper()
	resp, err := http.Post(url+"/api/toggle_mode", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestToggleMode(t *testing.T) {
	srv, st, _ := newTestServer(t)

	code, out := postToggle(t, srv.URL, `{"mode":"LIVE"}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, map[string]string{"status": "success", "mode": "LIVE"}, out)
	assert.Equal(t, model.Live, st.Mode())

	for _, body := range []string{`{"mode":"PAUSED"}`, `{}`, `not json`, `{"mode":"live"}`, `{"mode":null}`} {
		code, out := postToggle(t, srv.URL, body)
		assert.Equal(t, http.StatusBadRequest, code, body)
		assert.Equal(t, map[string]string{"status": "error"}, out, body)
		assert.Equal(t, model.Live, st.Mode(), body)
	}
}

func TestToggleModeRequiresPost(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/toggle_mode")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestVideoFeedUnknownDirection(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/video_feed/up")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestVideoFeedStreamsMultipartJPEG(t *testing.T) {
	srv, _, bcast := newTestServer(t)

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			select {
			case <-stop:
				return
			case <-time.After(5 * time.Millisecond):
				bcast.Publish(model.East, []byte("jpeg-east"))
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/video_feed/east", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	require.NoError(t, err)
	assert.Equal(t, "multipart/x-mixed-replace", mediaType)
	assert.Equal(t, "frame", params["boundary"])

	mr := multipart.NewReader(resp.Body, params["boundary"])
	for i := 0; i < 2; i++ {
		part, err := mr.NextPart()
		require.NoError(t, err)
		assert.Equal(t, "image/jpeg", part.Header.Get("Content-Type"))
		data, err := io.ReadAll(part)
		require.NoError(t, err)
		assert.Equal(t, "jpeg-east", string(data))
	}
	assert.Equal(t, 1, bcast.Stats().Lanes[model.East].Subscribers)

	resp.Body.Close()
	cancel()
	require.Eventually(t, func() bool {
		return bcast.Stats().Lanes[model.East].Subscribers == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSnapshot(t *testing.T) {
	srv, _, bcast := newTestServer(t)

	resp, err := http.Get(srv.URL + "/snapshot/south.jpg")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	bcast.Publish(model.South, []byte("jpeg-south"))

	resp, err = http.Get(srv.URL + "/snapshot/south.jpg")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/jpeg", resp.Header.Get("Content-Type"))
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "jpeg-south", string(data))
}

func TestDashboardListsLanes(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	for _, dir := range model.Directions {
		assert.Contains(t, string(body), "/video_feed/"+string(dir))
	}
}

func TestStatusSocketPushesSnapshots(t *testing.T) {
	srv, st, _ := newTestServer(t)
	st.SetPhase(model.Phase{Active: model.West, Signal: model.Yellow, Timer: 3})

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/status"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var snap model.Snapshot
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	require.NoError(t, conn.ReadJSON(&snap))
	assert.Equal(t, model.West, snap.ActiveLane)
	assert.Equal(t, model.Yellow, snap.Lanes[model.West].Signal)
}

func TestShutdownEndsLongLivedViewers(t *testing.T) {
	st := state.NewMemory(model.Simulation)
	bcast := pipeline.NewBroadcaster()
	srv := New("127.0.0.1:0", st, bcast)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	served := make(chan error, 1)
	go func() { served <- srv.Serve(l) }()
	base := "http://" + l.Addr().String()

	resp, err := http.Get(base + "/video_feed/north")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+l.Addr().String()+"/ws/status", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		return bcast.Stats().Lanes[model.North].Subscribers == 1
	}, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	start := time.Now()
	require.NoError(t, srv.Shutdown(ctx))
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 0, bcast.Stats().Lanes[model.North].Subscribers)
	assert.ErrorIs(t, <-served, http.ErrServerClosed)
}
