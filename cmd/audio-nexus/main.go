package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/dbehnke/audio-nexus/pkg/config"
	"github.com/dbehnke/audio-nexus/pkg/history"
	"github.com/dbehnke/audio-nexus/pkg/logger"
	"github.com/dbehnke/audio-nexus/pkg/metrics"
	"github.com/dbehnke/audio-nexus/pkg/mqtt"
	"github.com/dbehnke/audio-nexus/pkg/server"
	"github.com/dbehnke/audio-nexus/pkg/web"
)

var (
	version   = "dev"
	buildTime = "unknown"

	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "audio-nexus",
	Short: "Real-time bidirectional audio transport server",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("audio-nexus %s (built %s)\n", version, buildTime)
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := config.Load(cfgFile); err != nil {
			return fmt.Errorf("configuration is invalid: %w", err)
		}
		fmt.Println("Configuration is valid")
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config.yaml", "path to configuration file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(validateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServe() error {
	log := logger.New(logger.Config{Level: "info", Format: "text"})
	log.Info("Starting audio-nexus",
		logger.String("version", version),
		logger.String("build_time", buildTime))

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	log.Info("Configuration loaded", logger.String("config_file", cfgFile))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	var wg sync.WaitGroup

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	if cfg.Metrics.Enabled && cfg.Metrics.Prometheus.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			metricsServer := metrics.NewPrometheusServer(
				metrics.PrometheusConfig{
					Enabled: cfg.Metrics.Prometheus.Enabled,
					Port:    cfg.Metrics.Prometheus.Port,
					Path:    cfg.Metrics.Prometheus.Path,
				},
				registry,
				log.WithComponent("metrics"),
			)
			if err := metricsServer.Start(ctx); err != nil && err != context.Canceled {
				log.Error("Prometheus metrics server error", logger.Error(err))
			}
		}()
		log.Info("Prometheus metrics server started",
			logger.Int("port", cfg.Metrics.Prometheus.Port),
			logger.String("path", cfg.Metrics.Prometheus.Path))
	}

	historyDB, err := history.Open(history.Config{Path: cfg.Database.Path}, log.WithComponent("history"))
	if err != nil {
		return fmt.Errorf("failed to open history database: %w", err)
	}
	defer historyDB.Close()
	historyRepo := history.NewRepository(historyDB.GetDB())

	var mqttPublisher *mqtt.Publisher
	if cfg.MQTT.Enabled {
		mqttPublisher = mqtt.New(
			mqtt.Config{
				Enabled:     cfg.MQTT.Enabled,
				Broker:      cfg.MQTT.Broker,
				TopicPrefix: cfg.MQTT.TopicPrefix,
				ClientID:    cfg.MQTT.ClientID,
				Username:    cfg.MQTT.Username,
				Password:    cfg.MQTT.Password,
				QoS:         cfg.MQTT.QoS,
				Retained:    cfg.MQTT.Retained,
			},
			log.WithComponent("mqtt"),
		)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := mqttPublisher.Start(ctx); err != nil && err != context.Canceled {
				log.Error("MQTT publisher error", logger.Error(err))
			}
		}()
		log.Info("MQTT publisher started",
			logger.String("broker", cfg.MQTT.Broker),
			logger.String("topic_prefix", cfg.MQTT.TopicPrefix))
	}

	srv := server.New(server.Config{
		ListenAddr:                fmt.Sprintf("%s:%d", cfg.Server.ListenAddr, cfg.Server.Port),
		MaxClients:                cfg.Server.MaxClients,
		MaxConsecutiveFrameErrors: cfg.Server.MaxConsecutiveFrameErrors,
		HeartbeatInterval:         time.Duration(cfg.Server.HeartbeatIntervalSeconds) * time.Second,
		ConnectionTimeout:         time.Duration(cfg.Server.ConnectionTimeoutSeconds) * time.Second,
		IdleReleaseTimeout:        time.Duration(cfg.Mixer.IdleTimeoutSeconds) * time.Second,
	}, cfg.Audio.Format(), cfg.Audio.Policy(), log)
	srv.SetHistory(historyRepo)
	srv.SetMetrics(collector)

	var webServer *web.Server
	if cfg.Web.Enabled {
		webServer = web.NewServer(cfg.Web, log.WithComponent("web"))
		webServer.SetStatusProvider(srv)
		webServer.SetRosterProvider(srv)
		webServer.SetMetricsHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		srv.SetRosterListener(webServer.GetHub())

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := webServer.Start(ctx); err != nil && err != context.Canceled {
				log.Error("Web server error", logger.Error(err))
			}
		}()
		log.Info("Web server started",
			logger.String("host", cfg.Web.Host),
			logger.Int("port", cfg.Web.Port))
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.Serve(ctx); err != nil && err != context.Canceled {
			log.Error("Server error", logger.Error(err))
		}
	}()
	log.Info("audio-nexus initialized", logger.String("server_name", cfg.Server.Name))

	sig := <-sigChan
	log.Info("Received shutdown signal", logger.String("signal", sig.String()))

	cancel()
	if mqttPublisher != nil {
		mqttPublisher.Stop()
	}
	wg.Wait()

	log.Info("audio-nexus stopped")
	return nil
}
