package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"restaurant_ops/pkg/config"
	"restaurant_ops/pkg/metrics"
	"restaurant_ops/pkg/models"
	"restaurant_ops/pkg/notify"
	"restaurant_ops/pkg/reservation"
	"restaurant_ops/pkg/stream"
)

func setupEnv(t *testing.T) {
	t.Helper()
	t.Setenv("STORE_SQLITE_PATH", filepath.Join(t.TempDir(), "restaurant.db"))
	t.Setenv("STORE_CONNECT_RETRIES", "1")
	t.Setenv("SERVER_ENV", "test")
	t.Setenv("LOGGER_LEVEL", "error")
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestBatchCommands(t *testing.T) {
	setupEnv(t)

	out, err := run(t, "seed", "--reservations", "5", "--items", "4", "--recipes", "2")
	require.NoError(t, err)
	assert.Equal(t, "reservations=5 items=4 recipes=2\n", out)

	out, err = run(t, "reconcile")
	require.NoError(t, err)
	assert.Equal(t, "removed=0 added=0 renamed=0\n", out)

	out, err = run(t, "dispatch")
	require.NoError(t, err)
	assert.Equal(t, "sent=0 failed=0 deferred=0 skipped=0\n", out)

	dir := t.TempDir()
	out, err = run(t, "export", "--dir", dir)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "Reservations\t5\t"), lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "Inventory\t4\t"), lines[1])
	assert.True(t, strings.HasPrefix(lines[2], "InventoryMovements\t0\t"), lines[2])

	files, err := filepath.Glob(filepath.Join(dir, "reservations", "*.parquet"))
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestInvalidConfig(t *testing.T) {
	setupEnv(t)

	_, err := run(t, "reconcile", "--store-backend", "excel")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.backend")
}

func TestServerRoutes(t *testing.T) {
	setupEnv(t)
	gin.SetMode(gin.TestMode)

	cfg, err := config.Load(viper.New(), "")
	require.NoError(t, err)
	a, err := newApp(context.Background(), cfg)
	require.NoError(t, err)
	defer a.close()

	m := metrics.New()
	hub := stream.NewHub(a.log)
	defer hub.Close()
	a.reservations.Subscribe(m)
	srv := a.server(m, hub)

	w := httptest.NewRecorder()
	srv.Handler.ServeHTTP(w, httptest.NewRequest("GET", "/manage/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "UP")

	w = httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/reservations",
		strings.NewReader(`{"date":"06/12/2026","time":"20:00","name":"Leila","guests":3}`))
	req.Header.Set("Content-Type", "application/json")
	srv.Handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusCreated, w.Code)

	w = httptest.NewRecorder()
	srv.Handler.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	assert.Contains(t, w.Body.String(), `restaurant_reservation_changes_total{type="created"} 1`)
}

// gatedPublisher holds every Publish until release is closed.
type gatedPublisher struct {
	entered chan struct{}
	release chan struct{}

	mu                 sync.Mutex
	inFlight           int
	closed             bool
	closedWhileSending bool
}

func (p *gatedPublisher) Publish(_ context.Context, _ notify.Message) error {
	p.mu.Lock()
	p.inFlight++
	p.mu.Unlock()
	select {
	case p.entered <- struct{}{}:
	default:
	}
	<-p.release
	p.mu.Lock()
	p.inFlight--
	p.mu.Unlock()
	return nil
}

func (p *gatedPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.closedWhileSending = p.inFlight > 0
	return nil
}

func (p *gatedPublisher) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func TestDispatcherStopWaitsBeforeClosingPublisher(t *testing.T) {
	setupEnv(t)
	ctx := context.Background()

	cfg, err := config.Load(viper.New(), "")
	require.NoError(t, err)
	cfg.Email.DispatchInterval = time.Hour
	a, err := newApp(ctx, cfg)
	require.NoError(t, err)
	defer a.close()

	res, _, err := a.reservations.Create(ctx, reservation.CreateInput{
		Date: "06/12/2026", Time: "20:00", Name: "Leila", Guests: 3, Email: "leila@example.com",
	}, "")
	require.NoError(t, err)
	_, err = a.reservations.UpdateStatus(ctx, res.ID, models.StatusConfirmed)
	require.NoError(t, err)

	pub := &gatedPublisher{entered: make(chan struct{}, 1), release: make(chan struct{})}
	stop := a.startDispatcher(ctx, pub, metrics.New())

	select {
	case <-pub.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher never published")
	}

	stopped := make(chan struct{})
	go func() {
		stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("stop returned while a message was still being published")
	case <-time.After(50 * time.Millisecond):
	}
	assert.False(t, pub.isClosed())

	close(pub.release)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("stop did not return after the publish finished")
	}
	assert.True(t, pub.isClosed())
	assert.False(t, pub.closedWhileSending)
}
