package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for environment overrides, e.g.
// HIFI_MQTT_BROKER or HIFI_CONSOLE_VOLUME_POLICY.
const EnvPrefix = "HIFI"

// Config represents the complete console configuration
type Config struct {
	InstanceID       string        `mapstructure:"instance_id" yaml:"instance_id"`
	ShutdownTimeoutS int           `mapstructure:"shutdown_timeout_s" yaml:"shutdown_timeout_s"` // Graceful shutdown timeout in seconds (default: 5)
	Console          ConsoleConfig `mapstructure:"console" yaml:"console"`
	Timing           TimingConfig  `mapstructure:"timing" yaml:"timing"`
	Health           HealthConfig  `mapstructure:"health" yaml:"health"`
	MQTT             MQTTConfig    `mapstructure:"mqtt" yaml:"mqtt"`
}

// ConsoleConfig contains engine policies
type ConsoleConfig struct {
	ChannelCapacity     int    `mapstructure:"channel_capacity" yaml:"channel_capacity"`
	LegacyDiscRejection bool   `mapstructure:"legacy_disc_rejection" yaml:"legacy_disc_rejection"` // forward out-of-range disc commands and stall
	VolumePolicy        string `mapstructure:"volume_policy" yaml:"volume_policy"`                 // clamp, reject, accept
}

// TimingConfig contains virtual-time delays in milliseconds
type TimingConfig struct {
	SettleMS    int  `mapstructure:"settle_ms" yaml:"settle_ms"`
	AckMS       int  `mapstructure:"ack_ms" yaml:"ack_ms"`
	VolumeGapMS int  `mapstructure:"volume_gap_ms" yaml:"volume_gap_ms"`
	Realtime    bool `mapstructure:"realtime" yaml:"realtime"` // pace virtual time against the wall clock
}

// HealthConfig contains the HTTP health server settings
type HealthConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Port    string `mapstructure:"port" yaml:"port"`
}

// MQTTConfig contains MQTT broker settings
type MQTTConfig struct {
	Enabled     bool       `mapstructure:"enabled" yaml:"enabled"`
	Broker      string     `mapstructure:"broker" yaml:"broker"`
	Encoding    string     `mapstructure:"encoding" yaml:"encoding"` // json, msgpack
	EventBuffer int        `mapstructure:"event_buffer" yaml:"event_buffer"`
	Topics      MQTTTopics `mapstructure:"topics" yaml:"topics"`
	QoS         MQTTQoS    `mapstructure:"qos" yaml:"qos"`
}

// MQTTTopics contains topic names
type MQTTTopics struct {
	Control string `mapstructure:"control" yaml:"control"`
	Events  string `mapstructure:"events" yaml:"events"`
	Health  string `mapstructure:"health" yaml:"health"`
}

// MQTTQoS contains the QoS level per topic
type MQTTQoS struct {
	Control byte `mapstructure:"control" yaml:"control"`
	Events  byte `mapstructure:"events" yaml:"events"`
	Health  byte `mapstructure:"health" yaml:"health"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("instance_id", "console-01")
	v.SetDefault("shutdown_timeout_s", 5)

	v.SetDefault("console.channel_capacity", 7)
	v.SetDefault("console.legacy_disc_rejection", false)
	v.SetDefault("console.volume_policy", "clamp")

	v.SetDefault("timing.settle_ms", 50)
	v.SetDefault("timing.ack_ms", 10)
	v.SetDefault("timing.volume_gap_ms", 10)
	v.SetDefault("timing.realtime", false)

	v.SetDefault("health.enabled", true)
	v.SetDefault("health.port", "8080")

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "localhost:1883")
	v.SetDefault("mqtt.encoding", "json")
	v.SetDefault("mqtt.event_buffer", 64)
	v.SetDefault("mqtt.topics.control", "")
	v.SetDefault("mqtt.topics.events", "")
	v.SetDefault("mqtt.topics.health", "")
	v.SetDefault("mqtt.qos.control", 1)
	v.SetDefault("mqtt.qos.events", 0)
	v.SetDefault("mqtt.qos.health", 0)
}

// Load reads configuration from a YAML file, applies HIFI_* environment
// overrides and validates the result. An empty path uses defaults only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Dump renders the configuration as YAML.
func (c *Config) Dump() ([]byte, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to render config: %w", err)
	}
	return out, nil
}
