package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dbehnke/audio-nexus/pkg/logger"
)

// Config holds MQTT publisher configuration
type Config struct {
	Enabled     bool
	Broker      string
	TopicPrefix string
	ClientID    string
	Username    string
	Password    string
	QoS         byte
	Retained    bool
}

// Publisher handles MQTT event publishing
type Publisher struct {
	config Config
	log    *logger.Logger
}

// Event types for MQTT publishing

// SessionConnectEvent represents a client session joining the server.
type SessionConnectEvent struct {
	SessionID  string    `json:"session_id"`
	Callsign   string    `json:"callsign"`
	RemoteAddr string    `json:"remote_addr"`
	Timestamp  time.Time `json:"timestamp"`
}

// SessionDisconnectEvent represents a client session leaving the server.
type SessionDisconnectEvent struct {
	SessionID string    `json:"session_id"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// TxEvent represents a TX channel ownership transition.
type TxEvent struct {
	SessionID   string    `json:"session_id"`
	Priority    string    `json:"priority"`
	Event       string    `json:"event"` // granted, preempted, released
	PreemptedBy string    `json:"preempted_by,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// New creates a new MQTT publisher
func New(config Config, log *logger.Logger) *Publisher {
	if log == nil {
		log = logger.New(logger.Config{Level: "info", Format: "text"})
	}

	return &Publisher{
		config: config,
		log:    log.WithComponent("mqtt"),
	}
}

// Start starts the MQTT publisher
func (p *Publisher) Start(ctx context.Context) error {
	if !p.config.Enabled {
		p.log.Info("MQTT publisher disabled")
		return nil
	}

	p.log.Info("Starting MQTT publisher",
		logger.String("broker", p.config.Broker),
		logger.String("client_id", p.config.ClientID))

	// TODO: Implement actual MQTT connection when paho.mqtt library is added
	// For now, this is a no-op stub that allows the application to start
	p.log.Warn("MQTT connection not yet implemented - events will not be published")

	return nil
}

// Stop stops the MQTT publisher
func (p *Publisher) Stop() {
	if !p.config.Enabled {
		return
	}

	p.log.Info("Stopping MQTT publisher")
	// TODO: Disconnect MQTT client when implemented
}

// PublishSessionConnect publishes a session-connect event.
func (p *Publisher) PublishSessionConnect(event SessionConnectEvent) error {
	if !p.config.Enabled {
		return nil
	}

	topic := p.formatTopic("sessions/connect")
	return p.publish(topic, event)
}

// PublishSessionDisconnect publishes a session-disconnect event.
func (p *Publisher) PublishSessionDisconnect(event SessionDisconnectEvent) error {
	if !p.config.Enabled {
		return nil
	}

	topic := p.formatTopic("sessions/disconnect")
	return p.publish(topic, event)
}

// PublishTxEvent publishes a TX ownership transition event.
func (p *Publisher) PublishTxEvent(event TxEvent) error {
	if !p.config.Enabled {
		return nil
	}

	topic := p.formatTopic("tx")
	return p.publish(topic, event)
}

// publish publishes an event to a topic
func (p *Publisher) publish(topic string, event interface{}) error {
	payload, err := p.serializeEvent(event)
	if err != nil {
		p.log.Error("Failed to serialize event",
			logger.String("topic", topic),
			logger.Error(err))
		return err
	}

	// TODO: Implement actual MQTT publish when paho.mqtt library is added
	p.log.Debug("Would publish MQTT event",
		logger.String("topic", topic),
		logger.Int("payload_size", len(payload)))

	return nil
}

// serializeEvent serializes an event to JSON
func (p *Publisher) serializeEvent(event interface{}) ([]byte, error) {
	return json.Marshal(event)
}

// formatTopic formats a topic with the configured prefix
func (p *Publisher) formatTopic(suffix string) string {
	prefix := strings.TrimSuffix(p.config.TopicPrefix, "/")
	if prefix == "" {
		return suffix
	}
	return fmt.Sprintf("%s/%s", prefix, suffix)
}
