package connectivity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

type edgeRecorder struct {
	mu    sync.Mutex
	edges []bool
	ch    chan bool
}

func newEdgeRecorder() *edgeRecorder {
	return &edgeRecorder{ch: make(chan bool, 16)}
}

func (r *edgeRecorder) record(_ context.Context, online bool) {
	r.mu.Lock()
	r.edges = append(r.edges, online)
	r.mu.Unlock()
	r.ch <- online
}

func (r *edgeRecorder) next(t *testing.T) bool {
	t.Helper()
	select {
	case v := <-r.ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for connectivity edge")
		return false
	}
}

// heartbeatServer accepts websocket connections and drops each one when
// told to.
type heartbeatServer struct {
	upgrader websocket.Upgrader
	drop     chan struct{}
	mu       sync.Mutex
	refuse   bool
}

func (s *heartbeatServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	refuse := s.refuse
	s.mu.Unlock()
	if refuse {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	<-s.drop
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWatcherReportsEdges(t *testing.T) {
	hb := &heartbeatServer{drop: make(chan struct{})}
	srv := httptest.NewServer(hb)
	defer srv.Close()

	rec := newEdgeRecorder()
	w := NewWatcher(wsURL(srv), rec.record, &Config{
		BackoffMin:   10 * time.Millisecond,
		BackoffMax:   20 * time.Millisecond,
		PingInterval: time.Second,
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.True(t, rec.next(t))
	require.True(t, w.Online())

	hb.mu.Lock()
	hb.refuse = true
	hb.mu.Unlock()
	hb.drop <- struct{}{}
	require.False(t, rec.next(t))

	// redials keep failing but no further edges are reported
	time.Sleep(100 * time.Millisecond)
	require.Empty(t, rec.ch)

	hb.mu.Lock()
	hb.refuse = false
	hb.mu.Unlock()
	require.True(t, rec.next(t))

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	require.False(t, rec.next(t))
	require.False(t, w.Online())
	close(hb.drop)
}

func TestWatcherStartsOfflineSilently(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	rec := newEdgeRecorder()
	w := NewWatcher(wsURL(srv), rec.record, &Config{BackoffMin: 5 * time.Millisecond, BackoffMax: 5 * time.Millisecond}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, w.Run(ctx), context.DeadlineExceeded)
	require.Empty(t, rec.edges)
	require.False(t, w.Online())
}

func TestNewWatcherCopiesConfig(t *testing.T) {
	cfg := &Config{BackoffMin: -1, BackoffMax: 0}
	w := NewWatcher("ws://127.0.0.1:1", nil, cfg, nil)

	require.Equal(t, &Config{BackoffMin: -1, BackoffMax: 0}, cfg)
	require.Equal(t, time.Second, w.config.BackoffMin)
	require.Equal(t, time.Second, w.config.BackoffMax)
	require.Equal(t, 15*time.Second, w.config.PingInterval)
}
