package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/e7canasta/hifi-console/internal/config"
	"github.com/e7canasta/hifi-console/internal/control"
	"github.com/e7canasta/hifi-console/internal/emitter"
	"github.com/e7canasta/hifi-console/internal/hifi"
)

// statsInterval paces the periodic stats log and health publish.
var statsInterval = 10 * time.Second

// Console is the main service orchestrator
type Console struct {
	cfg *config.Config

	// Core components
	system         *hifi.System
	emitter        *emitter.MQTTEmitter // nil when MQTT is disabled
	controlHandler *control.Handler
	healthServer   *http.Server

	// Lifecycle management
	started   time.Time
	mu        sync.RWMutex
	wg        sync.WaitGroup
	isRunning bool
	cancelCtx context.CancelFunc // For MQTT shutdown command
}

// NewConsole wires the engine around panel using cfg.
func NewConsole(cfg *config.Config, panel hifi.Panel) (*Console, error) {
	c := &Console{cfg: cfg}

	if cfg.MQTT.Enabled {
		em, err := emitter.NewMQTTEmitter(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create mqtt emitter: %w", err)
		}
		c.emitter = em
	}

	opts, err := optionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	opts.Observer = c.observe

	system, err := hifi.New(panel, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create console engine: %w", err)
	}
	c.system = system

	slog.Info("console configured",
		"instance_id", cfg.InstanceID,
		"session", system.Session(),
		"mqtt_enabled", cfg.MQTT.Enabled,
	)

	return c, nil
}

// optionsFromConfig maps the file configuration onto engine options.
func optionsFromConfig(cfg *config.Config) (hifi.Options, error) {
	policy, err := hifi.ParseVolumePolicy(cfg.Console.VolumePolicy)
	if err != nil {
		return hifi.Options{}, fmt.Errorf("invalid console config: %w", err)
	}

	return hifi.Options{
		ChannelCapacity:     cfg.Console.ChannelCapacity,
		Settle:              time.Duration(cfg.Timing.SettleMS) * time.Millisecond,
		Ack:                 time.Duration(cfg.Timing.AckMS) * time.Millisecond,
		VolumeGap:           time.Duration(cfg.Timing.VolumeGapMS) * time.Millisecond,
		StrictDiscRejection: !cfg.Console.LegacyDiscRejection,
		VolumePolicy:        policy,
		Realtime:            cfg.Timing.Realtime,
		Logger:              slog.Default().With("instance_id", cfg.InstanceID),
	}, nil
}

// observe runs on the kernel goroutine and must not block.
func (c *Console) observe(ev hifi.Event) {
	slog.Debug("engine event",
		"kind", ev.Kind,
		"at", ev.At,
		"actor", ev.Actor,
		"code", ev.Code,
	)
	if c.emitter != nil {
		c.emitter.Observe(ev)
	}
}

// Run starts the service and blocks until the engine halts. A halt caused
// by ctx cancellation or a shutdown command returns nil.
func (c *Console) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.isRunning {
		c.mu.Unlock()
		return fmt.Errorf("service is already running")
	}
	c.isRunning = true
	c.started = time.Now()
	c.mu.Unlock()

	// Create cancellable context for MQTT shutdown command
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.mu.Lock()
	c.cancelCtx = cancel
	c.mu.Unlock()

	slog.Info("console service starting", "instance_id", c.cfg.InstanceID)

	if c.emitter != nil {
		if err := c.emitter.Connect(ctx); err != nil {
			return fmt.Errorf("failed to connect mqtt: %w", err)
		}
		c.emitter.Start(ctx)

		handler := control.NewHandler(c.cfg, c.emitter.Client, control.CommandCallbacks{
			OnGetStatus:    c.getStatus,
			OnInjectCode:   c.injectCode,
			OnFlushChannel: c.flushChannel,
			OnShutdown:     c.shutdownViaControl,
		})
		if err := handler.Start(ctx); err != nil {
			return fmt.Errorf("failed to start control plane: %w", err)
		}
		c.mu.Lock()
		c.controlHandler = handler
		c.mu.Unlock()
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.statsLoop(ctx)
	}()

	err := c.system.Run(ctx)
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	slog.Info("console service run loop exiting", "reason", err)
	return err
}

// statsLoop logs channel statistics and publishes health until ctx is done.
func (c *Console) statsLoop(ctx context.Context) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := c.system.Status()
			slog.Info("console stats",
				"virtual_ms", st.VirtualMS,
				"channel_depth", st.Channel.Depth,
				"channel_writes", st.Channel.Writes,
				"disc_dispatched", st.Disc.Dispatched,
			)

			if c.emitter == nil {
				continue
			}
			payload, err := json.Marshal(c.HealthCheck())
			if err != nil {
				slog.Error("failed to marshal health", "error", err)
				continue
			}
			if err := c.emitter.PublishHealth(payload); err != nil {
				slog.Debug("health publish failed", "error", err)
			}
		}
	}
}

// Shutdown performs graceful shutdown of all components
func (c *Console) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if !c.isRunning {
		c.mu.Unlock()
		return nil
	}
	cancel := c.cancelCtx
	handler := c.controlHandler
	server := c.healthServer
	c.mu.Unlock()

	slog.Info("shutting down console service")

	// 1. Halt the engine, releasing any pending prompt
	c.system.Shutdown()
	if cancel != nil {
		cancel()
	}

	// 2. Stop control plane
	if handler != nil {
		slog.Info("stopping control handler")
		if err := handler.Stop(); err != nil {
			slog.Error("failed to stop control handler", "error", err)
		}
	}

	// 3. Wait for goroutines to finish (without holding the lock)
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}

	// 4. Disconnect MQTT
	if c.emitter != nil {
		if err := c.emitter.Disconnect(); err != nil {
			slog.Error("failed to disconnect mqtt", "error", err)
		}
	}

	// 5. Stop health server
	if server != nil {
		if err := server.Shutdown(ctx); err != nil {
			slog.Error("failed to stop health server", "error", err)
		}
	}

	c.mu.Lock()
	uptime := time.Since(c.started)
	c.isRunning = false
	c.mu.Unlock()

	slog.Info("console service shutdown complete",
		"uptime", uptime,
		"virtual_time", c.system.Kernel().Now(),
	)

	return nil
}

// System exposes the engine.
func (c *Console) System() *hifi.System { return c.system }

// ShutdownTimeout returns the configured graceful shutdown timeout
// Returns default of 5 seconds if not configured
func (c *Console) ShutdownTimeout() time.Duration {
	timeout := time.Duration(c.cfg.ShutdownTimeoutS) * time.Second
	if timeout == 0 {
		return 5 * time.Second
	}
	return timeout
}
