package config

import (
	"testing"

	"github.com/spf13/viper"
)

func TestLoad_UsesDefaults_WhenNoFile(t *testing.T) {
	viper.Reset()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Web.Enabled != true {
		t.Errorf("expected Web.Enabled default true, got %v", cfg.Web.Enabled)
	}
	if cfg.Web.Port != 8080 {
		t.Errorf("expected Web.Port default 8080, got %d", cfg.Web.Port)
	}
	if cfg.Server.Port != 4533 {
		t.Errorf("expected Server.Port default 4533, got %d", cfg.Server.Port)
	}
	if cfg.Server.MaxConsecutiveFrameErrors != 5 {
		t.Errorf("expected MaxConsecutiveFrameErrors default 5, got %d", cfg.Server.MaxConsecutiveFrameErrors)
	}
	if cfg.Audio.SampleRate != 48000 {
		t.Errorf("expected Audio.SampleRate default 48000, got %d", cfg.Audio.SampleRate)
	}
	if cfg.Client.ReconnectMaxAttempts != 10 {
		t.Errorf("expected Client.ReconnectMaxAttempts default 10, got %d", cfg.Client.ReconnectMaxAttempts)
	}
	if cfg.Logging.Level == "" {
		t.Errorf("expected Logging.Level to be set (default info)")
	}
	if cfg.Metrics.Prometheus.Port != 9090 {
		t.Errorf("expected Prometheus.Port default 9090, got %d", cfg.Metrics.Prometheus.Port)
	}
}

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: 4533, MaxClients: 1, MaxConsecutiveFrameErrors: 5},
		Audio: AudioConfig{
			SampleRate: 48000, BitsPerSample: 16, Channels: 1, FrameMs: 20,
			BufferTargetMs: 100, BufferMinMs: 40, BufferMaxMs: 300,
		},
		Mixer:  MixerConfig{IdleTimeoutSeconds: 3},
		Client: ClientConfig{ReconnectInitialDelayMs: 1000, ReconnectMaxDelayMs: 30000, ReconnectMaxAttempts: 10},
	}
}

func TestValidate_Errors(t *testing.T) {
	t.Run("invalid server port", func(t *testing.T) {
		cfg := validConfig()
		cfg.Server.Port = 0
		if err := validate(cfg); err == nil {
			t.Fatal("expected error for non-positive server.port")
		}
	})

	t.Run("invalid web port when enabled", func(t *testing.T) {
		cfg := validConfig()
		cfg.Web = WebConfig{Enabled: true, Port: 70000}
		if err := validate(cfg); err == nil {
			t.Fatal("expected error for invalid web.port out of range")
		}
	})

	t.Run("buffer policy min exceeds target", func(t *testing.T) {
		cfg := validConfig()
		cfg.Audio.BufferMinMs = 200
		if err := validate(cfg); err == nil {
			t.Fatal("expected error for buffer_min_ms > buffer_target_ms")
		}
	})

	t.Run("unsupported bits per sample", func(t *testing.T) {
		cfg := validConfig()
		cfg.Audio.BitsPerSample = 12
		if err := validate(cfg); err == nil {
			t.Fatal("expected error for unsupported bits_per_sample")
		}
	})

	t.Run("reconnect max delay below initial", func(t *testing.T) {
		cfg := validConfig()
		cfg.Client.ReconnectMaxDelayMs = 500
		cfg.Client.ReconnectInitialDelayMs = 1000
		if err := validate(cfg); err == nil {
			t.Fatal("expected error for reconnect_max_delay_ms < reconnect_initial_delay_ms")
		}
	})

	t.Run("mqtt enabled without broker", func(t *testing.T) {
		cfg := validConfig()
		cfg.MQTT = MQTTConfig{Enabled: true}
		if err := validate(cfg); err == nil {
			t.Fatal("expected error for mqtt enabled without broker")
		}
	})

	t.Run("valid config passes", func(t *testing.T) {
		if err := validate(validConfig()); err != nil {
			t.Fatalf("expected valid config to pass, got %v", err)
		}
	})
}
