package config

import "fmt"

// validate validates the configuration.
func validate(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if cfg.Server.MaxClients <= 0 {
		return fmt.Errorf("server.max_clients must be positive")
	}
	if cfg.Server.MaxConsecutiveFrameErrors <= 0 {
		return fmt.Errorf("server.max_consecutive_frame_errors must be positive")
	}

	if err := validateAudio(cfg.Audio); err != nil {
		return err
	}

	if cfg.Mixer.IdleTimeoutSeconds <= 0 {
		return fmt.Errorf("mixer.idle_timeout_seconds must be positive")
	}

	if cfg.Client.ReconnectInitialDelayMs <= 0 {
		return fmt.Errorf("client.reconnect_initial_delay_ms must be positive")
	}
	if cfg.Client.ReconnectMaxDelayMs < cfg.Client.ReconnectInitialDelayMs {
		return fmt.Errorf("client.reconnect_max_delay_ms must be >= reconnect_initial_delay_ms")
	}
	if cfg.Client.ReconnectMaxAttempts <= 0 {
		return fmt.Errorf("client.reconnect_max_attempts must be positive")
	}

	if cfg.Web.Enabled {
		if cfg.Web.Port <= 0 || cfg.Web.Port > 65535 {
			return fmt.Errorf("web.port must be between 1 and 65535")
		}
	}

	if cfg.MQTT.Enabled {
		if cfg.MQTT.Broker == "" {
			return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
		}
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Prometheus.Enabled {
		if cfg.Metrics.Prometheus.Port <= 0 || cfg.Metrics.Prometheus.Port > 65535 {
			return fmt.Errorf("metrics.prometheus.port must be between 1 and 65535")
		}
	}

	return nil
}

func validateAudio(a AudioConfig) error {
	if a.SampleRate <= 0 {
		return fmt.Errorf("audio.sample_rate must be positive")
	}
	if a.BitsPerSample != 8 && a.BitsPerSample != 16 && a.BitsPerSample != 24 && a.BitsPerSample != 32 {
		return fmt.Errorf("audio.bits_per_sample must be one of 8, 16, 24, 32")
	}
	if a.Channels <= 0 {
		return fmt.Errorf("audio.channels must be positive")
	}
	if a.FrameMs <= 0 {
		return fmt.Errorf("audio.frame_ms must be positive")
	}
	if a.BufferMinMs <= 0 || a.BufferMinMs > a.BufferTargetMs || a.BufferTargetMs > a.BufferMaxMs {
		return fmt.Errorf("audio buffer policy must satisfy 0 < buffer_min_ms <= buffer_target_ms <= buffer_max_ms")
	}
	return nil
}
