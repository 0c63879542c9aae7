package core

import (
	"fmt"
	"log/slog"
	"time"
)

// getStatus returns the current service status
func (c *Console) getStatus() map[string]interface{} {
	c.mu.RLock()
	running := c.isRunning
	started := c.started
	c.mu.RUnlock()

	status := map[string]interface{}{
		"instance_id": c.cfg.InstanceID,
		"uptime_s":    time.Since(started).Seconds(),
		"running":     running,
		"engine":      c.system.Status(),
		"config": map[string]interface{}{
			"channel_capacity":      c.cfg.Console.ChannelCapacity,
			"legacy_disc_rejection": c.cfg.Console.LegacyDiscRejection,
			"volume_policy":         c.cfg.Console.VolumePolicy,
			"settle_ms":             c.cfg.Timing.SettleMS,
		},
	}

	if c.emitter != nil {
		status["mqtt"] = c.emitter.Stats()
	}

	return status
}

// injectCode queues a raw code into the engine channel
func (c *Console) injectCode(code int) error {
	slog.Info("injecting code via control plane", "code", code)
	if err := c.system.Inject(code); err != nil {
		return fmt.Errorf("inject %d: %w", code, err)
	}
	return nil
}

// flushChannel empties the engine channel
func (c *Console) flushChannel() error {
	if err := c.system.Flush(); err != nil {
		return fmt.Errorf("flush channel: %w", err)
	}
	return nil
}

// shutdownViaControl cancels the run context, making Run return
func (c *Console) shutdownViaControl() error {
	c.mu.RLock()
	cancel := c.cancelCtx
	c.mu.RUnlock()

	if cancel == nil {
		return fmt.Errorf("service is not running")
	}

	slog.Info("shutdown requested via control plane")
	cancel()
	return nil
}
