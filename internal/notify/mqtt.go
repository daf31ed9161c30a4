package notify

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
)

// DefaultTopicPrefix roots every topic the MQTT sink publishes.
const DefaultTopicPrefix = "aline"

// ErrNotConnected is returned by MQTTSink.Push before Start.
var ErrNotConnected = errors.New("mqtt sink not started")

// MQTTOptions configures an MQTTSink.
type MQTTOptions struct {
	Broker      string
	Username    string
	Password    string
	ClientID    string
	TopicPrefix string
}

// MQTTSink publishes pushes to <prefix>/<user>/push so home automation
// and other subscribers can act on scheduled results.
type MQTTSink struct {
	opts   MQTTOptions
	logger *slog.Logger
	now    func() time.Time

	mu sync.RWMutex
	cm *autopaho.ConnectionManager
}

// NewMQTTSink creates a sink but does not connect. Call Start.
func NewMQTTSink(opts MQTTOptions, logger *slog.Logger) *MQTTSink {
	if opts.TopicPrefix == "" {
		opts.TopicPrefix = DefaultTopicPrefix
	}
	if opts.ClientID == "" {
		opts.ClientID = "aline"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MQTTSink{opts: opts, logger: logger, now: time.Now}
}

// PushMessage is the JSON payload of a push topic.
type PushMessage struct {
	UserID string    `json:"user_id"`
	Text   string    `json:"text"`
	SentAt time.Time `json:"sent_at"`
}

func (s *MQTTSink) availabilityTopic() string {
	return s.opts.TopicPrefix + "/availability"
}

// PushTopic is the topic a user's pushes are published to.
func (s *MQTTSink) PushTopic(userID string) string {
	// '+', '#' and '/' would change the topic's meaning.
	clean := strings.NewReplacer("/", "_", "+", "_", "#", "_").Replace(userID)
	return s.opts.TopicPrefix + "/" + clean + "/push"
}

// Start connects to the broker. autopaho keeps reconnecting in the
// background for the life of ctx.
func (s *MQTTSink) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(s.opts.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	cfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: s.opts.Username,
		ConnectPassword: []byte(s.opts.Password),
		WillMessage: &paho.WillMessage{
			Topic:   s.availabilityTopic(),
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			s.logger.Info("mqtt connected to broker", "broker", s.opts.Broker)
			s.publishAvailability(ctx, cm, "online")
		},
		OnConnectError: func(err error) {
			s.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: s.opts.ClientID,
		},
	}
	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		cfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cm, err := autopaho.NewConnection(ctx, cfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	s.mu.Lock()
	s.cm = cm
	s.mu.Unlock()

	connCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		s.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}
	return nil
}

// Stop publishes "offline" and disconnects.
func (s *MQTTSink) Stop(ctx context.Context) error {
	s.mu.RLock()
	cm := s.cm
	s.mu.RUnlock()
	if cm == nil {
		return nil
	}
	s.publishAvailability(ctx, cm, "offline")
	return cm.Disconnect(ctx)
}

func (s *MQTTSink) publishAvailability(ctx context.Context, cm *autopaho.ConnectionManager, status string) {
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   s.availabilityTopic(),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		s.logger.Warn("mqtt availability publish failed", "status", status, "error", err)
	}
}

// Push implements Sink with a QoS 1 publish.
func (s *MQTTSink) Push(ctx context.Context, userID, text string) error {
	s.mu.RLock()
	cm := s.cm
	s.mu.RUnlock()
	if cm == nil {
		return ErrNotConnected
	}

	payload, err := json.Marshal(PushMessage{UserID: userID, Text: text, SentAt: s.now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal push: %w", err)
	}
	topic := s.PushTopic(userID)
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   topic,
		Payload: payload,
		QoS:     1,
	}); err != nil {
		return fmt.Errorf("mqtt publish %s: %w", topic, err)
	}
	s.logger.Debug("mqtt push published", "topic", topic, "bytes", len(payload))
	return nil
}
