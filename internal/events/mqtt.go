package events

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/ayusman/depthcam/internal/config"
)

const (
	connectTimeout    = 10 * time.Second
	publishTimeout    = 5 * time.Second
	disconnectQuiesce = 250 // milliseconds
	keepAlive         = 60 * time.Second
)

// MQTTPublisher publishes events to <prefix>/events/<type> and keeps a
// retained online/offline status at <prefix>/status.
type MQTTPublisher struct {
	cfg    config.MQTTConfig
	client pahomqtt.Client
	logger *slog.Logger

	mu        sync.Mutex
	connect   pahomqtt.Token
	published uint64
	errors    uint64
}

// NewMQTTPublisher creates a publisher; call Connect before publishing.
func NewMQTTPublisher(cfg config.MQTTConfig, logger *slog.Logger) *MQTTPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	p := &MQTTPublisher{cfg: cfg, logger: logger}
	p.client = pahomqtt.NewClient(p.clientOptions())
	return p
}

func (p *MQTTPublisher) clientOptions() *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	scheme := "tcp"
	if p.cfg.TLS {
		scheme = "ssl"
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, p.cfg.Host, p.cfg.Port))
	opts.SetClientID(p.cfg.ClientID)
	if p.cfg.Username != "" {
		opts.SetUsername(p.cfg.Username)
		opts.SetPassword(p.cfg.Password)
	}

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetKeepAlive(keepAlive)

	opts.SetWill(p.StatusTopic(), statusPayload(p.cfg.ClientID, "offline", "unexpected_disconnect"), 1, true)

	opts.OnConnect = func(c pahomqtt.Client) {
		p.logger.Info("mqtt connected", "broker", p.cfg.Host, "client_id", p.cfg.ClientID)
		c.Publish(p.StatusTopic(), 1, true, statusPayload(p.cfg.ClientID, "online", ""))
	}
	opts.OnConnectionLost = func(_ pahomqtt.Client, err error) {
		p.logger.Warn("mqtt connection lost, will auto-reconnect", "error", err)
	}
	return opts
}

// Connect establishes the broker connection. On failure the client is
// disconnected so it stops retrying in the background.
func (p *MQTTPublisher) Connect(ctx context.Context) error {
	token := p.client.Connect()
	p.mu.Lock()
	p.connect = token
	p.mu.Unlock()

	var err error
	select {
	case <-token.Done():
		if err = token.Error(); err != nil {
			err = fmt.Errorf("mqtt connection failed: %w", err)
		}
	case <-ctx.Done():
		err = ctx.Err()
	case <-time.After(connectTimeout):
		err = fmt.Errorf("mqtt connection timeout")
	}
	if err != nil {
		p.client.Disconnect(0)
	}
	return err
}

// Publish implements Publisher. Failures are counted and logged.
func (p *MQTTPublisher) Publish(e Event) {
	payload, err := Encode(e, p.cfg.Encoding)
	if err != nil {
		p.fail("encode", err)
		return
	}

	topic := p.EventTopic(e.Type)
	token := p.client.Publish(topic, byte(p.cfg.QoS), false, payload)
	go func() {
		if !token.WaitTimeout(publishTimeout) {
			p.fail("publish", fmt.Errorf("timeout on %s", topic))
			return
		}
		if err := token.Error(); err != nil {
			p.fail("publish", err)
			return
		}
		p.mu.Lock()
		p.published++
		p.mu.Unlock()
	}()
}

func (p *MQTTPublisher) fail(op string, err error) {
	p.mu.Lock()
	p.errors++
	p.mu.Unlock()
	p.logger.Debug("mqtt "+op+" failed", "error", err)
}

// Close publishes the offline status and disconnects.
func (p *MQTTPublisher) Close() {
	if !p.client.IsConnected() {
		return
	}
	token := p.client.Publish(p.StatusTopic(), 1, true, statusPayload(p.cfg.ClientID, "offline", "graceful_shutdown"))
	token.WaitTimeout(time.Second)
	p.client.Disconnect(disconnectQuiesce)
	p.logger.Info("mqtt disconnected")
}

// Counts returns the number of published and failed events.
func (p *MQTTPublisher) Counts() (published, errors uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.published, p.errors
}

// EventTopic returns the topic events of type t are published on.
func (p *MQTTPublisher) EventTopic(t string) string {
	return p.cfg.TopicPrefix + "/events/" + t
}

// StatusTopic returns the retained status topic.
func (p *MQTTPublisher) StatusTopic() string {
	return p.cfg.TopicPrefix + "/status"
}

// Encode serialises e as "json" or "msgpack".
func Encode(e Event, encoding string) ([]byte, error) {
	switch encoding {
	case "msgpack":
		return msgpack.Marshal(e)
	case "", "json":
		return json.Marshal(e)
	default:
		return nil, fmt.Errorf("unknown encoding %q", encoding)
	}
}

func statusPayload(clientID, status, reason string) string {
	payload, _ := json.Marshal(map[string]string{
		"status":    status,
		"client_id": clientID,
		"reason":    reason,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
	return string(payload)
}
