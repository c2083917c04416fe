// Package mqtt is the optional notification fan-out: every bus
// notification is published as JSON on the omnibrain/notifications
// topic so home-automation setups can react to them.
package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/omnibrain/omnibrain/internal/events"
)

const (
	notificationTopic  = "omnibrain/notifications"
	availabilityTopic  = "omnibrain/availability"
	connectWaitTimeout = 30 * time.Second
)

// Config is the broker connection.
type Config struct {
	Broker   string `yaml:"broker"` // mqtt://host:1883 or mqtts://host:8883
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	ClientID string `yaml:"client_id"`
	Topic    string `yaml:"topic"` // default omnibrain/notifications
}

// Publisher bridges bus notifications to the broker.
type Publisher struct {
	cfg    Config
	bus    *events.Bus
	logger *slog.Logger
	cm     *autopaho.ConnectionManager
}

// New creates a publisher; Start connects.
func New(cfg Config, bus *events.Bus, logger *slog.Logger) *Publisher {
	if cfg.ClientID == "" {
		cfg.ClientID = "omnibrain"
	}
	if cfg.Topic == "" {
		cfg.Topic = notificationTopic
	}
	return &Publisher{cfg: cfg, bus: bus, logger: logger}
}

// Start connects to the broker and forwards notifications until ctx
// is cancelled. autopaho reconnects in the background; notifications
// arriving while disconnected are dropped by the broker layer.
func (p *Publisher) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(p.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: p.cfg.Username,
		ConnectPassword: []byte(p.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   availabilityTopic,
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			p.logger.Info("mqtt connected", "broker", p.cfg.Broker)
			_, err := cm.Publish(ctx, &paho.Publish{
				Topic: availabilityTopic, Payload: []byte("online"), QoS: 1, Retain: true,
			})
			if err != nil {
				p.logger.Warn("availability publish failed", "error", err)
			}
		},
		OnConnectError: func(err error) {
			p.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{ClientID: p.cfg.ClientID},
	}
	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	p.cm = cm

	connCtx, cancel := context.WithTimeout(ctx, connectWaitTimeout)
	err = cm.AwaitConnection(connCtx)
	cancel()
	if err != nil {
		p.logger.Warn("mqtt initial connection timed out, retrying in background", "error", err)
	}

	p.forward(ctx)
	return nil
}

// forward consumes bus notifications until cancellation.
func (p *Publisher) forward(ctx context.Context) {
	notifications := p.bus.Subscribe(events.TopicNotification, 64)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-notifications:
			if !ok {
				return
			}
			p.publish(ctx, ev)
		}
	}
}

func (p *Publisher) publish(ctx context.Context, ev events.Event) {
	payload, err := json.Marshal(Payload(ev))
	if err != nil {
		p.logger.Warn("notification not serializable", "error", err)
		return
	}
	if _, err := p.cm.Publish(ctx, &paho.Publish{
		Topic:   p.cfg.Topic,
		Payload: payload,
		QoS:     1,
	}); err != nil {
		p.logger.Warn("mqtt publish failed", "error", err)
	}
}

// Payload is the wire shape of one published notification.
func Payload(ev events.Event) map[string]any {
	out := map[string]any{
		"ts":     ev.Timestamp.UTC().Format(time.RFC3339),
		"source": ev.Source,
	}
	for k, v := range ev.Data {
		out[k] = v
	}
	return out
}
