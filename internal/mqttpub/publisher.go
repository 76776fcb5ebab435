// Package mqttpub mirrors committed positions to an MQTT broker, one retained
// message per vehicle.
package mqttpub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"opentransit-avl/internal/logging"
	"opentransit-avl/internal/nmea"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

var ErrPublishTimeout = errors.New("mqttpub: publish timed out")

type Config struct {
	Broker   string // tcp://host:1883
	ClientID string
	// TopicPrefix is joined with the vehicle id: <prefix>/<id>.
	TopicPrefix string
	QoS         byte
	Retained    bool
	Timeout     time.Duration
	Username    string
	Password    string
}

// client is the subset of mqtt.Client the publisher needs.
type client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// Publisher implements ingest.Notifier.
type Publisher struct {
	c   client
	cfg Config
	log logging.Logger

	published atomic.Uint64
	failed    atomic.Uint64
}

// Connect dials the broker and returns a publisher. Reconnects are handled
// by the paho client.
func Connect(cfg Config, log logging.Logger) (*Publisher, error) {
	cfg = withDefaults(cfg)
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(cfg.Timeout)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username).SetPassword(cfg.Password)
	}

	c := mqtt.NewClient(opts)
	token := c.Connect()
	if !token.WaitTimeout(cfg.Timeout) {
		return nil, fmt.Errorf("mqtt connect %s: %w", cfg.Broker, ErrPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", cfg.Broker, err)
	}
	return newPublisher(c, cfg, log), nil
}

func newPublisher(c client, cfg Config, log logging.Logger) *Publisher {
	if log == nil {
		log = logging.Noop()
	}
	return &Publisher{c: c, cfg: withDefaults(cfg), log: log}
}

func withDefaults(cfg Config) Config {
	if cfg.ClientID == "" {
		cfg.ClientID = "avl-server"
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "avl/vehicles"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	return cfg
}

// topicLevel replaces the wildcard and separator characters a single topic
// level may not contain.
var topicLevel = strings.NewReplacer("+", "_", "#", "_", "/", "_", "\x00", "_")

// Topic returns the topic a vehicle's positions are published on. The id is
// always one topic level.
func (p *Publisher) Topic(vehicleID string) string {
	return p.cfg.TopicPrefix + "/" + topicLevel.Replace(vehicleID)
}

// Notify publishes pos as JSON and waits at most Timeout for the broker.
func (p *Publisher) Notify(ctx context.Context, pos nmea.Position) {
	if err := p.Publish(pos); err != nil {
		p.failed.Add(1)
		p.log.Warn(ctx, "mqtt publish failed",
			logging.String("vehicle_id", pos.VehicleID),
			logging.Err(err),
		)
		return
	}
	p.published.Add(1)
}

func (p *Publisher) Publish(pos nmea.Position) error {
	payload, err := json.Marshal(pos)
	if err != nil {
		return err
	}
	token := p.c.Publish(p.Topic(pos.VehicleID), p.cfg.QoS, p.cfg.Retained, payload)
	if !token.WaitTimeout(p.cfg.Timeout) {
		return ErrPublishTimeout
	}
	return token.Error()
}

func (p *Publisher) Stats() (published, failed uint64) {
	return p.published.Load(), p.failed.Load()
}

func (p *Publisher) Close() {
	p.c.Disconnect(250)
}
