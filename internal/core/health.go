package core

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/e7canasta/hifi-console/internal/hifi"
)

// HealthStatus represents the health state of the console service
type HealthStatus struct {
	Status        string            `json:"status"` // "healthy", "degraded", "unhealthy"
	UptimeSeconds int64             `json:"uptime_seconds"`
	Session       string            `json:"session"`
	EngineRunning bool              `json:"engine_running"`
	Stalled       bool              `json:"stalled"`
	HaltReason    string            `json:"halt_reason,omitempty"`
	VirtualMS     int64             `json:"virtual_ms"`
	MQTTConnected bool              `json:"mqtt_connected"`
	Channel       hifi.ChannelStats `json:"channel"`
}

// HealthCheck returns the current health status of the service
func (c *Console) HealthCheck() HealthStatus {
	c.mu.RLock()
	running := c.isRunning
	started := c.started
	c.mu.RUnlock()

	engine := c.system.Status()

	status := HealthStatus{
		Status:        "healthy",
		Session:       engine.Session,
		EngineRunning: engine.Running,
		Stalled:       engine.Stalled,
		HaltReason:    engine.HaltReason,
		VirtualMS:     engine.VirtualMS,
		Channel:       engine.Channel,
	}
	if running {
		status.UptimeSeconds = int64(time.Since(started).Seconds())
	}

	if c.emitter != nil {
		status.MQTTConnected = c.emitter.Stats().Connected
	}

	// Determine overall health status
	switch {
	case !running || !engine.Running:
		status.Status = "unhealthy"
	case engine.Stalled:
		status.Status = "degraded"
	case c.cfg.MQTT.Enabled && !status.MQTTConnected:
		status.Status = "degraded"
	}

	return status
}

// LivenessHandler handles /health endpoint (simple liveness check)
// Returns 200 if the service process is alive
func (c *Console) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	c.mu.RLock()
	started := c.started
	c.mu.RUnlock()

	response := map[string]interface{}{
		"status": "alive",
		"uptime": int64(time.Since(started).Seconds()),
	}
	writeJSON(w, http.StatusOK, response)
}

// ReadinessHandler handles /readiness endpoint (detailed readiness check)
// Returns 200 only if the engine is running; degraded is still ready
func (c *Console) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	health := c.HealthCheck()

	statusCode := http.StatusOK
	if health.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, health)
}

// StatusHandler handles /status with the full engine snapshot
func (c *Console) StatusHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, c.system.Status())
}

// Handler returns the health mux
func (c *Console) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", c.LivenessHandler)
	mux.HandleFunc("/readiness", c.ReadinessHandler)
	mux.HandleFunc("/status", c.StatusHandler)
	return mux
}

// StartHealthServer starts the HTTP health check server on the given port
// This runs in a separate goroutine and does not block
func (c *Console) StartHealthServer(port string) error {
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      c.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	c.mu.Lock()
	c.healthServer = server
	c.mu.Unlock()

	slog.Info("starting health check server",
		"port", port,
		"endpoints", []string{"/health", "/readiness", "/status"},
	)

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("health check server failed", "error", err)
		}
	}()

	return nil
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("failed to write response", "error", err)
	}
}
