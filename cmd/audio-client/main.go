package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dbehnke/audio-nexus/pkg/audio"
	"github.com/dbehnke/audio-nexus/pkg/client"
	"github.com/dbehnke/audio-nexus/pkg/logger"
	"github.com/dbehnke/audio-nexus/pkg/protocol"
)

var (
	version   = "dev"
	buildTime = "unknown"

	serverAddr string
	callsign   string
	name       string
	location   string
)

var rootCmd = &cobra.Command{
	Use:   "audio-client",
	Short: "Connect to an audio-nexus server",
}

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Connect to the server and stream audio",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runConnect()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("audio-client %s (built %s)\n", version, buildTime)
	},
}

func init() {
	connectCmd.Flags().StringVar(&serverAddr, "server", "127.0.0.1:4533", "server address (host:port)")
	connectCmd.Flags().StringVar(&callsign, "callsign", "", "operator callsign")
	connectCmd.Flags().StringVar(&name, "name", "", "display name")
	connectCmd.Flags().StringVar(&location, "location", "", "operator location")

	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runConnect() error {
	log := logger.New(logger.Config{Level: "info", Format: "text"})
	log.Info("Starting audio-client",
		logger.String("version", version),
		logger.String("build_time", buildTime))

	cfg := client.DefaultConfig(serverAddr, name)
	cfg.Info = protocol.ClientInfo{Callsign: callsign, Name: name, Location: location}

	// No physical capture/playback device library is available in this
	// environment; the null device keeps the worker loops exercised with
	// silence until a real audio backend is wired in.
	device := audio.NewNullDevice(1)
	cl := client.New(cfg, device, device, log)
	cl.SetEvents(consoleEvents{log})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	if err := cl.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	log.Info("Connected", logger.String("server", serverAddr))

	sig := <-sigChan
	log.Info("Received shutdown signal", logger.String("signal", sig.String()))

	cancel()
	return cl.Close()
}

// consoleEvents logs every client.Events callback; it implements the whole
// interface itself rather than embedding client.NoopEvents.
type consoleEvents struct {
	log *logger.Logger
}

func (e consoleEvents) OnConnected(addr string) {
	e.log.Info("connected", logger.String("addr", addr))
}

func (e consoleEvents) OnDisconnected(reason string) {
	e.log.Warn("disconnected", logger.String("reason", reason))
}

func (e consoleEvents) OnReconnecting(attempt, maxAttempts int) {
	e.log.Info("reconnecting", logger.Int("attempt", attempt), logger.Int("max_attempts", maxAttempts))
}

func (e consoleEvents) OnReconnected() {
	e.log.Info("reconnected")
}

func (e consoleEvents) OnTxGranted() {
	e.log.Info("tx granted")
}

func (e consoleEvents) OnTxDenied(holdingClientID string) {
	e.log.Info("tx denied", logger.String("holder", holdingClientID))
}

func (e consoleEvents) OnTxPreempted(preemptingClientID string) {
	e.log.Info("tx preempted", logger.String("by", preemptingClientID))
}

func (e consoleEvents) OnTxReleased() {
	e.log.Info("tx released")
}

func (e consoleEvents) OnRosterUpdate(count, max int, txOwner string, clients []protocol.RosterEntry) {
	e.log.Debug("roster update",
		logger.Int("count", count),
		logger.Int("max", max),
		logger.String("tx_owner", txOwner))
}

func (e consoleEvents) OnLatencyMeasured(d time.Duration) {
	e.log.Debug("latency measured", logger.String("rtt", d.String()))
}

func (e consoleEvents) OnError(err error) {
	e.log.Error("client error", logger.Error(err))
}
