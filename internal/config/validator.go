package config

import (
	"fmt"
	"regexp"
	"strings"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

// Validate checks if the configuration is valid
func Validate(cfg *Config) error {
	// Validate instance_id
	if cfg.InstanceID == "" {
		return fmt.Errorf("instance_id is required")
	}
	if !instanceIDPattern.MatchString(cfg.InstanceID) {
		return fmt.Errorf("instance_id must match pattern [a-z0-9-]+")
	}

	if cfg.ShutdownTimeoutS <= 0 {
		cfg.ShutdownTimeoutS = 5
	}

	// Validate console config
	if cfg.Console.ChannelCapacity <= 0 {
		cfg.Console.ChannelCapacity = 7 // default
	}
	cfg.Console.VolumePolicy = strings.ToLower(strings.TrimSpace(cfg.Console.VolumePolicy))
	switch cfg.Console.VolumePolicy {
	case "":
		cfg.Console.VolumePolicy = "clamp"
	case "clamp", "reject", "accept":
	default:
		return fmt.Errorf("console.volume_policy must be clamp, reject or accept, got %q", cfg.Console.VolumePolicy)
	}

	// Validate timing
	if cfg.Timing.SettleMS < 0 || cfg.Timing.AckMS < 0 || cfg.Timing.VolumeGapMS < 0 {
		return fmt.Errorf("timing values must be >= 0")
	}

	// Validate health server
	if cfg.Health.Enabled && cfg.Health.Port == "" {
		cfg.Health.Port = "8080"
	}

	// MQTT is optional
	if !cfg.MQTT.Enabled {
		return nil
	}

	if cfg.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt.enabled is true")
	}

	switch cfg.MQTT.Encoding {
	case "":
		cfg.MQTT.Encoding = "json"
	case "json", "msgpack":
	default:
		return fmt.Errorf("mqtt.encoding must be json or msgpack, got %q", cfg.MQTT.Encoding)
	}

	if cfg.MQTT.EventBuffer <= 0 {
		cfg.MQTT.EventBuffer = 64
	}

	// Set default topics if not provided
	if cfg.MQTT.Topics.Control == "" {
		cfg.MQTT.Topics.Control = fmt.Sprintf("hifi/control/%s", cfg.InstanceID)
	}
	if cfg.MQTT.Topics.Events == "" {
		cfg.MQTT.Topics.Events = fmt.Sprintf("hifi/events/%s", cfg.InstanceID)
	}
	if cfg.MQTT.Topics.Health == "" {
		cfg.MQTT.Topics.Health = fmt.Sprintf("hifi/health/%s", cfg.InstanceID)
	}

	for name, qos := range map[string]byte{
		"control": cfg.MQTT.QoS.Control,
		"events":  cfg.MQTT.QoS.Events,
		"health":  cfg.MQTT.QoS.Health,
	} {
		if qos > 2 {
			return fmt.Errorf("mqtt.qos.%s must be 0, 1 or 2, got %d", name, qos)
		}
	}

	return nil
}
