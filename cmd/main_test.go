package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ukydev/vahan-live/internal/catalog"
	"github.com/ukydev/vahan-live/internal/config"
	"github.com/ukydev/vahan-live/internal/hub"
	"github.com/ukydev/vahan-live/internal/models"
)

func testConfig(t *testing.T, env map[string]string) config.Server {
	t.Helper()
	cfg, err := config.LoadServer(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	require.NoError(t, err)
	return cfg
}

func newTestRouter(t *testing.T, cfg config.Server) http.Handler {
	t.Helper()
	cat, err := catalog.Load("")
	require.NoError(t, err)
	return newRouter(hub.New(cat, hub.Options{}), cfg, log.NewEntry(log.StandardLogger()))
}

func TestRouter_Health(t *testing.T) {
	srv := newTestRouter(t, testConfig(t, nil))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","vehicles":0,"connections":0}`, w.Body.String())
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouter_RateLimit(t *testing.T) {
	srv := newTestRouter(t, testConfig(t, map[string]string{"RATE_LIMIT_PER_MINUTE": "2"}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/routes", nil)
		req.RemoteAddr = "192.168.1.1:12345"
		w := httptest.NewRecorder()
		srv.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestRouter_StreamThroughMiddleware(t *testing.T) {
	ts := httptest.NewServer(newTestRouter(t, testConfig(t, nil)))
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var frame struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, models.EventActiveRoutes, frame.Event)
}

func TestOpenStore_Disabled(t *testing.T) {
	store, statuses, closeFn, err := openStore(context.Background(), testConfig(t, nil), time.Now(), log.NewEntry(log.StandardLogger()))
	require.NoError(t, err)
	assert.Nil(t, store)
	assert.Empty(t, statuses)
	closeFn()
}
