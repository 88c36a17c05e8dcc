package commandbus

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// MQTTConfig configures the MQTT transport.
type MQTTConfig struct {
	// BrokerURL is the full broker URL, e.g. "tls://mqtt.example.com:8883".
	BrokerURL string
	// CommandTopic is subscribed to for incoming commands.
	CommandTopic string
	// ReplyTopic receives published replies.
	ReplyTopic     string
	QoS            byte
	ClientIDPrefix string
	Username       string
	Password       string

	KeepAlive        time.Duration
	ConnectTimeout   time.Duration
	ReconnectWaitMax time.Duration
	PublishTimeout   time.Duration

	CACertFile         string
	ClientCertFile     string
	ClientKeyFile      string
	InsecureSkipVerify bool
}

// DefaultMQTTConfig returns an MQTTConfig with default timeouts.
func DefaultMQTTConfig() *MQTTConfig {
	return &MQTTConfig{
		QoS:              1,
		ClientIDPrefix:   "krc20bot-",
		KeepAlive:        60 * time.Second,
		ConnectTimeout:   10 * time.Second,
		ReconnectWaitMax: 120 * time.Second,
		PublishTimeout:   5 * time.Second,
	}
}

// NewPahoClient builds an unconnected Paho client from cfg. Incoming
// commands are routed by the transport's subscription, not by the default
// publish handler.
func NewPahoClient(cfg *MQTTConfig, logger zerolog.Logger) (mqtt.Client, error) {
	if cfg.BrokerURL == "" {
		return nil, errors.New("MQTT broker URL is required")
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL)
	opts.SetClientID(cfg.ClientIDPrefix + uuid.NewString()[:8])
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetKeepAlive(cfg.KeepAlive)
	opts.SetConnectTimeout(cfg.ConnectTimeout)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(cfg.ReconnectWaitMax)
	opts.SetOrderMatters(false)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Error().Err(err).Msg("Paho client lost MQTT connection.")
	})

	if strings.HasPrefix(strings.ToLower(cfg.BrokerURL), "tls://") || strings.HasPrefix(strings.ToLower(cfg.BrokerURL), "ssl://") {
		tlsConfig, err := newTLSConfig(cfg)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsConfig)
	}
	return mqtt.NewClient(opts), nil
}

func newTLSConfig(cfg *MQTTConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify}
	if cfg.CACertFile != "" {
		caCert, err := os.ReadFile(cfg.CACertFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA cert file %s: %w", cfg.CACertFile, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to append CA cert from %s", cfg.CACertFile)
		}
		tlsConfig.RootCAs = pool
	}
	if cfg.ClientCertFile != "" && cfg.ClientKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.ClientCertFile, cfg.ClientKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate/key pair: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	return tlsConfig, nil
}

// MqttTransport consumes commands from one topic and publishes replies to
// another over a single Paho client. It is both a Consumer and a Publisher.
type MqttTransport struct {
	client     mqtt.Client
	cfg        *MQTTConfig
	logger     zerolog.Logger
	outputChan chan Delivery
	doneChan   chan struct{}
	stopChan   chan struct{}
	stopOnce   sync.Once
	// sendMu guards outputChan against being closed mid-send.
	sendMu sync.RWMutex
}

// NewMqttTransport creates a transport around client. It does not connect
// until Start is called.
func NewMqttTransport(client mqtt.Client, cfg *MQTTConfig, logger zerolog.Logger) (*MqttTransport, error) {
	if client == nil {
		return nil, errors.New("mqtt client cannot be nil")
	}
	if cfg.CommandTopic == "" || cfg.ReplyTopic == "" {
		return nil, errors.New("MQTT command and reply topics are required")
	}
	return &MqttTransport{
		client:     client,
		cfg:        cfg,
		logger:     logger.With().Str("component", "MqttTransport").Logger(),
		outputChan: make(chan Delivery, 100),
		doneChan:   make(chan struct{}),
		stopChan:   make(chan struct{}),
	}, nil
}

// Commands returns the delivery channel.
func (t *MqttTransport) Commands() <-chan Delivery { return t.outputChan }

// Done is closed once the transport has stopped.
func (t *MqttTransport) Done() <-chan struct{} { return t.doneChan }

// Start connects and subscribes to the command topic.
func (t *MqttTransport) Start(ctx context.Context) error {
	token := t.client.Connect()
	if !token.WaitTimeout(t.cfg.ConnectTimeout + time.Second) {
		return fmt.Errorf("timed out connecting to MQTT broker %s", t.cfg.BrokerURL)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}

	sub := t.client.Subscribe(t.cfg.CommandTopic, t.cfg.QoS, t.handleIncoming)
	if !sub.WaitTimeout(5 * time.Second) {
		t.client.Disconnect(250)
		return fmt.Errorf("timed out subscribing to %s", t.cfg.CommandTopic)
	}
	if err := sub.Error(); err != nil {
		t.client.Disconnect(250)
		return fmt.Errorf("failed to subscribe to %s: %w", t.cfg.CommandTopic, err)
	}
	t.logger.Info().Str("topic", t.cfg.CommandTopic).Msg("Subscribed to MQTT command topic.")

	go func() {
		select {
		case <-ctx.Done():
			_ = t.Stop(context.Background())
		case <-t.stopChan:
		}
	}()
	return nil
}

// Stop unsubscribes and disconnects. Publishing after Stop fails.
func (t *MqttTransport) Stop(_ context.Context) error {
	t.stopOnce.Do(func() {
		t.logger.Info().Msg("Stopping MqttTransport...")
		close(t.stopChan)
		if t.client.IsConnected() {
			if token := t.client.Unsubscribe(t.cfg.CommandTopic); token.WaitTimeout(2*time.Second) && token.Error() != nil {
				t.logger.Warn().Err(token.Error()).Msg("Failed to unsubscribe from MQTT command topic.")
			}
			t.client.Disconnect(500)
		}
		t.sendMu.Lock()
		close(t.outputChan)
		t.sendMu.Unlock()
		close(t.doneChan)
	})
	return nil
}

// Publish sends a reply to the reply topic.
func (t *MqttTransport) Publish(ctx context.Context, payload []byte, _ map[string]string) error {
	select {
	case <-t.stopChan:
		return errors.New("mqtt transport is stopped")
	default:
	}
	if !t.client.IsConnected() {
		return errors.New("mqtt client is not connected")
	}

	token := t.client.Publish(t.cfg.ReplyTopic, t.cfg.QoS, false, payload)
	timeout := t.cfg.PublishTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	select {
	case <-token.Done():
	case <-time.After(timeout):
		return fmt.Errorf("timed out publishing to %s", t.cfg.ReplyTopic)
	case <-ctx.Done():
		return ctx.Err()
	}
	return token.Error()
}

func (t *MqttTransport) handleIncoming(_ mqtt.Client, msg mqtt.Message) {
	payload := make([]byte, len(msg.Payload()))
	copy(payload, msg.Payload())

	delivery := Delivery{
		ID:         fmt.Sprintf("%d", msg.MessageID()),
		Payload:    payload,
		Attributes: map[string]string{"mqtt_topic": msg.Topic()},
		ReceivedAt: time.Now().UTC(),
		// QoS acknowledgement is handled by Paho at the protocol level.
		Ack:  func() {},
		Nack: func() {},
	}
	t.sendMu.RLock()
	defer t.sendMu.RUnlock()
	select {
	case <-t.stopChan:
		t.logger.Warn().Str("topic", msg.Topic()).Msg("Transport is stopped, dropping MQTT command.")
		return
	default:
	}
	select {
	case <-t.stopChan:
		t.logger.Warn().Str("topic", msg.Topic()).Msg("Transport is shutting down, dropping MQTT command.")
	case t.outputChan <- delivery:
	}
}

var (
	_ Consumer  = (*MqttTransport)(nil)
	_ Publisher = (*MqttTransport)(nil)
)
