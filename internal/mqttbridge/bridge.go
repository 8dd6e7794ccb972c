// Package mqttbridge exposes the filter over MQTT. Commands arrive on
// <prefix>/set; every status change is published retained on <prefix>/state.
package mqttbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/nightbuddy/internal/eventbus"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 2 * time.Second
	outboxSize     = 32

	availabilityOnline  = "online"
	availabilityOffline = "offline"
)

// Commands accepted on the set topic.
const (
	CommandOn     = "ON"
	CommandOff    = "OFF"
	CommandToggle = "TOGGLE"
	CommandTorch  = "TORCH"
)

// Controller is the state machine surface driven by MQTT commands.
type Controller interface {
	Enable() error
	Disable() error
	Toggle() error
	ToggleTorch() error
}

// Client is the subset of mqtt.Client the bridge uses.
type Client interface {
	Connect() mqtt.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
}

// Options configure the broker connection.
type Options struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
}

// Bridge connects the state machine to an MQTT broker.
type Bridge struct {
	client Client
	prefix string
	ctl    Controller
	bus    *eventbus.Bus

	// outbox holds encoded statuses until Run publishes them.
	outbox chan []byte
}

// New creates a bridge with a paho client for opts.
func New(opts Options, ctl Controller, bus *eventbus.Bus) *Bridge {
	b := &Bridge{prefix: opts.TopicPrefix, ctl: ctl, bus: bus, outbox: make(chan []byte, outboxSize)}

	clientOpts := mqtt.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetUsername(opts.Username).
		SetPassword(opts.Password).
		SetCleanSession(false).
		SetAutoReconnect(true).
		SetConnectTimeout(connectTimeout).
		SetWill(b.topic("availability"), availabilityOffline, 1, true).
		SetOnConnectHandler(func(mqtt.Client) { b.onConnect() }).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.Warn().Err(err).Msg("MQTT connection lost")
		})

	b.client = mqtt.NewClient(clientOpts)
	return b
}

// NewWithClient creates a bridge on an existing client.
func NewWithClient(client Client, prefix string, ctl Controller, bus *eventbus.Bus) *Bridge {
	return &Bridge{client: client, prefix: prefix, ctl: ctl, bus: bus, outbox: make(chan []byte, outboxSize)}
}

// Run connects, subscribes to commands and mirrors status until ctx is
// cancelled. Statuses queued before cancellation are still published.
func (b *Bridge) Run(ctx context.Context) error {
	if err := wait(b.client.Connect(), connectTimeout); err != nil {
		return fmt.Errorf("failed to connect to broker: %w", err)
	}

	setTopic := b.topic("set")
	if err := wait(b.client.Subscribe(setTopic, 1, b.handleMessage), connectTimeout); err != nil {
		b.client.Disconnect(250)
		return fmt.Errorf("failed to subscribe %s: %w", setTopic, err)
	}

	unsubscribe := b.bus.Subscribe(eventbus.EventTypeStatus, b.publishStatus)
	log.Info().Str("prefix", b.prefix).Msg("MQTT bridge started")

	for {
		select {
		case payload := <-b.outbox:
			b.publish(b.topic("state"), payload)
		case <-ctx.Done():
			unsubscribe()
			b.flush()
			b.publish(b.topic("availability"), availabilityOffline)
			b.client.Disconnect(250)
			log.Info().Msg("MQTT bridge stopped")
			return nil
		}
	}
}

func (b *Bridge) flush() {
	for {
		select {
		case payload := <-b.outbox:
			b.publish(b.topic("state"), payload)
		default:
			return
		}
	}
}

func (b *Bridge) onConnect() {
	log.Info().Msg("MQTT connected")
	b.publish(b.topic("availability"), availabilityOnline)
}

func (b *Bridge) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	b.handleCommand(string(msg.Payload()))
}

func (b *Bridge) handleCommand(raw string) {
	cmd := strings.ToUpper(strings.TrimSpace(raw))

	var err error
	switch cmd {
	case CommandOn:
		err = b.ctl.Enable()
	case CommandOff:
		err = b.ctl.Disable()
	case CommandToggle:
		err = b.ctl.Toggle()
	case CommandTorch:
		err = b.ctl.ToggleTorch()
	default:
		log.Warn().Str("command", raw).Msg("Unknown MQTT command")
		return
	}

	if err != nil {
		log.Warn().Err(err).Str("command", cmd).Msg("MQTT command failed")
		return
	}
	log.Debug().Str("command", cmd).Msg("MQTT command applied")
}

// publishStatus runs on the bus worker and must not wait for the broker.
func (b *Bridge) publishStatus(e eventbus.Event) {
	payload, err := json.Marshal(e.Data)
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode status for MQTT")
		return
	}
	select {
	case b.outbox <- payload:
	default:
		log.Warn().Msg("MQTT outbox full, dropping status")
	}
}

func (b *Bridge) publish(topic string, payload any) {
	if err := wait(b.client.Publish(topic, 1, true, payload), publishTimeout); err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("MQTT publish failed")
	}
}

func (b *Bridge) topic(name string) string {
	return b.prefix + "/" + name
}

func wait(token mqtt.Token, timeout time.Duration) error {
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("timed out after %s", timeout)
	}
	return token.Error()
}
