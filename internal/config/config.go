// Package config loads the gateway's process-wide configuration. It
// follows the teacher's viper idiom: a fresh viper.New() instance,
// AutomaticEnv() for zero-file environment-variable configuration, and
// SetDefault() per key so every tunable in spec.md §6 has the mandated
// default even when unset.
package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config is the root of the gateway's configuration tree.
type Config struct {
	Server    ServerConfig
	Bridge    BridgeConfig
	Tunables  Tunables
	Inventory InventoryConfig
	Redis     RedisConfig
	Logging   LoggingConfig
	MapStore  MapStoreConfig
}

// ServerConfig holds the downstream HTTP/WebSocket listener settings
// (C6 client fan-out, health/metrics endpoints).
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// BridgeConfig holds the process-wide upstream bridge defaults every
// robot inherits unless its inventory record overrides them.
type BridgeConfig struct {
	Port        int  `mapstructure:"port"`         // ROS_BRIDGE_PORT
	MappingPort int  `mapstructure:"mapping_port"`  // ROS_MAPPING_BRIDGE_PORT
	MappingSet  bool `mapstructure:"mapping_set"`   // whether ROS_MAPPING_BRIDGE_PORT is a positive port (enables mapping fleet-wide)
}

// Tunables holds the numeric constants spec.md §6 pins by name.
type Tunables struct {
	TFStaleMs          int64         `mapstructure:"tf_stale_ms"`
	AMCLMinDeltaPos    float64       `mapstructure:"amcl_min_delta_pos"`
	AMCLMinDeltaYaw    float64       `mapstructure:"amcl_min_delta_yaw"`
	PoseEps            float64       `mapstructure:"pose_eps"`
	TeleopMaxLinear    float64       `mapstructure:"teleop_max_linear"`
	TeleopMaxAngular   float64       `mapstructure:"teleop_max_angular"`
	TeleopWatchdogMs   int64         `mapstructure:"teleop_watchdog_ms"`
	ReconnectMinDelay  time.Duration `mapstructure:"-"`
	ReconnectMaxDelay  time.Duration `mapstructure:"-"`
	MappingFetchTimeout time.Duration `mapstructure:"-"`
}

// InventoryConfig names the HTTP Robot Inventory endpoint the Fleet
// Registry polls, and how often.
type InventoryConfig struct {
	URL          string        `mapstructure:"url"`
	PollInterval time.Duration `mapstructure:"-"`
	PollSeconds  int           `mapstructure:"poll_seconds"`
}

// RedisConfig configures the inventory-change-notification stream
// (SPEC_FULL §11.1). Redis is optional: when URL is empty the Registry
// falls back to polling alone, which is always correct, just less
// prompt.
type RedisConfig struct {
	URL          string `mapstructure:"url"`
	Stream       string `mapstructure:"stream"`
	ConsumerGroup string `mapstructure:"consumer_group"`
}

// LoggingConfig controls the root zap.Logger.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// MapStoreConfig names the Map Store the Mapping Fetcher (C7) upserts
// fetched maps into. URL empty disables C7 entirely: the Fleet
// Registry still opens "mapping" connections per the inventory, but
// nothing triggers a fetch against them.
type MapStoreConfig struct {
	URL string `mapstructure:"url"`
}

// Load reads configuration from the environment, falling back to the
// spec-mandated defaults for anything unset.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("GATEWAY_HOST", "0.0.0.0")
	v.SetDefault("GATEWAY_PORT", 8080)

	v.SetDefault("ROS_BRIDGE_PORT", 9090)
	v.SetDefault("ROS_MAPPING_BRIDGE_PORT", 0)

	v.SetDefault("TF_STALE_MS", 1200)
	v.SetDefault("AMCL_MIN_DELTA_POS", 0.05)
	v.SetDefault("AMCL_MIN_DELTA_YAW", 0.05)
	v.SetDefault("POSE_EPS", 1e-3)
	v.SetDefault("TELEOP_MAX_LINEAR", 0.5)
	v.SetDefault("TELEOP_MAX_ANGULAR", 0.8)
	v.SetDefault("TELEOP_WATCHDOG_MS", 750)
	v.SetDefault("RECONNECT_MIN_DELAY_MS", 1000)
	v.SetDefault("RECONNECT_MAX_DELAY_MS", 10000)
	v.SetDefault("MAPPING_FETCH_TIMEOUT_SEC", 15)

	v.SetDefault("INVENTORY_URL", "http://localhost:3000/api/robots")
	v.SetDefault("INVENTORY_POLL_SECONDS", 15)

	v.SetDefault("REDIS_URL", "")
	v.SetDefault("REDIS_INVENTORY_STREAM", "fleet:inventory:events")
	v.SetDefault("REDIS_CONSUMER_GROUP", "gateway")

	v.SetDefault("GATEWAY_LOG_LEVEL", "info")

	v.SetDefault("MAP_STORE_URL", "")

	mappingPort := v.GetInt("ROS_MAPPING_BRIDGE_PORT")

	cfg := &Config{
		Server: ServerConfig{
			Host: v.GetString("GATEWAY_HOST"),
			Port: v.GetInt("GATEWAY_PORT"),
		},
		Bridge: BridgeConfig{
			Port:        v.GetInt("ROS_BRIDGE_PORT"),
			MappingPort: mappingPort,
			MappingSet:  mappingPort > 0,
		},
		Tunables: Tunables{
			TFStaleMs:           v.GetInt64("TF_STALE_MS"),
			AMCLMinDeltaPos:     v.GetFloat64("AMCL_MIN_DELTA_POS"),
			AMCLMinDeltaYaw:     v.GetFloat64("AMCL_MIN_DELTA_YAW"),
			PoseEps:             v.GetFloat64("POSE_EPS"),
			TeleopMaxLinear:     v.GetFloat64("TELEOP_MAX_LINEAR"),
			TeleopMaxAngular:    v.GetFloat64("TELEOP_MAX_ANGULAR"),
			TeleopWatchdogMs:    v.GetInt64("TELEOP_WATCHDOG_MS"),
			ReconnectMinDelay:   time.Duration(v.GetInt64("RECONNECT_MIN_DELAY_MS")) * time.Millisecond,
			ReconnectMaxDelay:   time.Duration(v.GetInt64("RECONNECT_MAX_DELAY_MS")) * time.Millisecond,
			MappingFetchTimeout: time.Duration(v.GetInt64("MAPPING_FETCH_TIMEOUT_SEC")) * time.Second,
		},
		Inventory: InventoryConfig{
			URL:          v.GetString("INVENTORY_URL"),
			PollSeconds:  v.GetInt("INVENTORY_POLL_SECONDS"),
			PollInterval: time.Duration(v.GetInt("INVENTORY_POLL_SECONDS")) * time.Second,
		},
		Redis: RedisConfig{
			URL:           v.GetString("REDIS_URL"),
			Stream:        v.GetString("REDIS_INVENTORY_STREAM"),
			ConsumerGroup: v.GetString("REDIS_CONSUMER_GROUP"),
		},
		Logging: LoggingConfig{
			Level: v.GetString("GATEWAY_LOG_LEVEL"),
		},
		MapStore: MapStoreConfig{
			URL: v.GetString("MAP_STORE_URL"),
		},
	}
	return cfg, nil
}
