package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"

	"github.com/dbehnke/audio-nexus/pkg/audio"
)

// Config represents the application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Audio    AudioConfig    `mapstructure:"audio"`
	Mixer    MixerConfig    `mapstructure:"mixer"`
	Client   ClientConfig   `mapstructure:"client"`
	Web      WebConfig      `mapstructure:"web"`
	Database DatabaseConfig `mapstructure:"database"`
	MQTT     MQTTConfig     `mapstructure:"mqtt"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// ServerConfig holds server identification and connection-acceptance settings.
type ServerConfig struct {
	Name                      string `mapstructure:"name"`
	Description               string `mapstructure:"description"`
	ListenAddr                string `mapstructure:"listen_addr"`
	Port                      int    `mapstructure:"port"`
	MaxClients                int    `mapstructure:"max_clients"`
	MaxConsecutiveFrameErrors int    `mapstructure:"max_consecutive_frame_errors"`
	HeartbeatIntervalSeconds  int    `mapstructure:"heartbeat_interval_seconds"`
	ConnectionTimeoutSeconds  int    `mapstructure:"connection_timeout_seconds"`
}

// AudioConfig holds the negotiated PCM stream format and jitter-buffer policy.
type AudioConfig struct {
	SampleRate    int  `mapstructure:"sample_rate"`
	BitsPerSample int  `mapstructure:"bits_per_sample"`
	Channels      int  `mapstructure:"channels"`
	FrameMs       int  `mapstructure:"frame_ms"`
	LowBandwidth  bool `mapstructure:"low_bandwidth"`

	BufferTargetMs int `mapstructure:"buffer_target_ms"`
	BufferMinMs    int `mapstructure:"buffer_min_ms"`
	BufferMaxMs    int `mapstructure:"buffer_max_ms"`
}

// MixerConfig holds TX arbitration tuning.
type MixerConfig struct {
	IdleTimeoutSeconds int `mapstructure:"idle_timeout_seconds"`
}

// ClientConfig holds the connecting-client identity and reconnect tuning.
type ClientConfig struct {
	ServerAddr                string `mapstructure:"server_addr"`
	Callsign                  string `mapstructure:"callsign"`
	Name                      string `mapstructure:"name"`
	Location                  string `mapstructure:"location"`
	MaxConsecutiveFrameErrors int    `mapstructure:"max_consecutive_frame_errors"`

	ReconnectInitialDelayMs int `mapstructure:"reconnect_initial_delay_ms"`
	ReconnectMaxDelayMs     int `mapstructure:"reconnect_max_delay_ms"`
	ReconnectMaxAttempts    int `mapstructure:"reconnect_max_attempts"`
	StableConnectionMs      int `mapstructure:"stable_connection_ms"`
}

// WebConfig holds dashboard/API configuration.
type WebConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	AuthRequired bool   `mapstructure:"auth_required"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
}

// DatabaseConfig holds session/TX history persistence configuration.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// MQTTConfig holds MQTT event-publisher configuration.
type MQTTConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Broker      string `mapstructure:"broker"`
	TopicPrefix string `mapstructure:"topic_prefix"`
	ClientID    string `mapstructure:"client_id"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	QoS         byte   `mapstructure:"qos"`
	Retained    bool   `mapstructure:"retained"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	Enabled    bool             `mapstructure:"enabled"`
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
}

// PrometheusConfig holds Prometheus metrics configuration.
type PrometheusConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// Load loads configuration from file and environment variables.
func Load(configFile string) (*Config, error) {
	setDefaults()

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./configs")
		viper.AddConfigPath("/etc/audio-nexus")
	}

	viper.SetEnvPrefix("AUDIO_NEXUS")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found is OK, use defaults.
		} else if os.IsNotExist(err) {
			// File explicitly specified but doesn't exist - that's also OK.
		} else {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values.
func setDefaults() {
	viper.SetDefault("server.name", "audio-nexus")
	viper.SetDefault("server.description", "Real-time audio transport server")
	viper.SetDefault("server.listen_addr", "0.0.0.0")
	viper.SetDefault("server.port", 4533)
	viper.SetDefault("server.max_clients", 32)
	viper.SetDefault("server.max_consecutive_frame_errors", 5)
	viper.SetDefault("server.heartbeat_interval_seconds", 5)
	viper.SetDefault("server.connection_timeout_seconds", 10)

	viper.SetDefault("audio.sample_rate", 48000)
	viper.SetDefault("audio.bits_per_sample", 16)
	viper.SetDefault("audio.channels", 1)
	viper.SetDefault("audio.frame_ms", 20)
	viper.SetDefault("audio.low_bandwidth", false)
	viper.SetDefault("audio.buffer_target_ms", 100)
	viper.SetDefault("audio.buffer_min_ms", 40)
	viper.SetDefault("audio.buffer_max_ms", 300)

	viper.SetDefault("mixer.idle_timeout_seconds", 3)

	viper.SetDefault("client.server_addr", "127.0.0.1:4533")
	viper.SetDefault("client.max_consecutive_frame_errors", 5)
	viper.SetDefault("client.reconnect_initial_delay_ms", 1000)
	viper.SetDefault("client.reconnect_max_delay_ms", 30000)
	viper.SetDefault("client.reconnect_max_attempts", 10)
	viper.SetDefault("client.stable_connection_ms", 5000)

	viper.SetDefault("web.enabled", true)
	viper.SetDefault("web.host", "0.0.0.0")
	viper.SetDefault("web.port", 8080)
	viper.SetDefault("web.auth_required", false)

	viper.SetDefault("database.path", "audio-nexus.db")

	viper.SetDefault("mqtt.enabled", false)
	viper.SetDefault("mqtt.topic_prefix", "audio-nexus")
	viper.SetDefault("mqtt.client_id", "audio-nexus")
	viper.SetDefault("mqtt.qos", 1)
	viper.SetDefault("mqtt.retained", false)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "text")
	viper.SetDefault("logging.max_size", 100)
	viper.SetDefault("logging.max_backups", 3)
	viper.SetDefault("logging.max_age", 7)

	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.prometheus.enabled", true)
	viper.SetDefault("metrics.prometheus.port", 9090)
	viper.SetDefault("metrics.prometheus.path", "/metrics")
}

// Format builds an audio.Format from the configured stream parameters.
func (a AudioConfig) Format() audio.Format {
	return audio.Format{
		SampleRate:    a.SampleRate,
		BitsPerSample: a.BitsPerSample,
		Channels:      a.Channels,
		FrameMs:       a.FrameMs,
	}
}

// Policy builds an audio.Policy from the configured jitter-buffer bounds.
func (a AudioConfig) Policy() audio.Policy {
	return audio.Policy{
		TargetMs: a.BufferTargetMs,
		MinMs:    a.BufferMinMs,
		MaxMs:    a.BufferMaxMs,
	}
}
