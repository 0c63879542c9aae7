package core

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/hifi-console/internal/config"
	"github.com/e7canasta/hifi-console/internal/hifi"
)

// idlePanel blocks every prompt until the engine halts.
type idlePanel struct {
	eof bool
}

func (p idlePanel) Select(ctx context.Context, _ hifi.Prompt) (int, error) {
	if p.eof {
		return 0, io.EOF
	}
	<-ctx.Done()
	return 0, ctx.Err()
}

func (idlePanel) Perform(context.Context, hifi.Mode) error            { return nil }
func (idlePanel) PerformDisc(context.Context, hifi.DiscCommand) error { return nil }
func (idlePanel) ShowVolume(context.Context, int) error               { return nil }
func (idlePanel) Reject(hifi.Prompt, int)                             {}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	return cfg
}

func get(t *testing.T, h http.Handler, path string) (int, map[string]interface{}) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	return rec.Code, body
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Console.LegacyDiscRejection = true
	cfg.Console.VolumePolicy = "reject"
	cfg.Timing.SettleMS = 20

	opts, err := optionsFromConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, 7, opts.ChannelCapacity)
	assert.Equal(t, 20*time.Millisecond, opts.Settle)
	assert.Equal(t, 10*time.Millisecond, opts.Ack)
	assert.False(t, opts.StrictDiscRejection)
	assert.Equal(t, hifi.VolumeReject, opts.VolumePolicy)

	cfg.Console.VolumePolicy = "loud"
	_, err = optionsFromConfig(cfg)
	assert.Error(t, err)
}

func TestRunAndShutdownViaControl(t *testing.T) {
	c, err := NewConsole(testConfig(t), idlePanel{})
	require.NoError(t, err)
	h := c.Handler()

	code, body := get(t, h, "/readiness")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "unhealthy", body["status"])

	errChan := make(chan error, 1)
	go func() { errChan <- c.Run(context.Background()) }()

	require.Eventually(t, func() bool {
		return c.HealthCheck().Status == "healthy"
	}, time.Second, 5*time.Millisecond)

	code, body = get(t, h, "/readiness")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, c.System().Session(), body["session"])

	code, body = get(t, h, "/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "alive", body["status"])

	code, body = get(t, h, "/status")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["running"])

	status := c.getStatus()
	assert.Equal(t, "console-01", status["instance_id"])
	assert.Equal(t, true, status["running"])
	assert.NotContains(t, status, "mqtt")

	require.NoError(t, c.shutdownViaControl())
	select {
	case err := <-errChan:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("run did not return after shutdown command")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, c.Shutdown(ctx))
	require.NoError(t, c.Shutdown(ctx))

	code, body = get(t, h, "/readiness")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "unhealthy", body["status"])
}

func TestRunReturnsPanelError(t *testing.T) {
	c, err := NewConsole(testConfig(t), idlePanel{eof: true})
	require.NoError(t, err)

	err = c.Run(context.Background())
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, "unhealthy", c.HealthCheck().Status)
	assert.Contains(t, c.HealthCheck().HaltReason, "EOF")

	assert.Error(t, c.Run(context.Background()), "second run is refused")
	require.NoError(t, c.Shutdown(context.Background()))
}

func TestCommandsBeforeRun(t *testing.T) {
	c, err := NewConsole(testConfig(t), idlePanel{})
	require.NoError(t, err)

	assert.ErrorIs(t, c.injectCode(103), hifi.ErrNotRunning)
	assert.ErrorIs(t, c.flushChannel(), hifi.ErrNotRunning)
	assert.Error(t, c.shutdownViaControl())
	assert.Equal(t, 5*time.Second, c.ShutdownTimeout())
}

func TestNewConsoleRejectsNilPanel(t *testing.T) {
	_, err := NewConsole(testConfig(t), nil)
	assert.ErrorIs(t, err, hifi.ErrNilPanel)
}
