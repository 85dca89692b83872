package dyson

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/eclipse/paho.mqtt.golang/packets"
)

// MessageHandler receives raw inbound payloads from the device broker.
// Invoked on the transport's read goroutine; must not block.
type MessageHandler func(topic string, payload []byte)

// Transport is one session to a device's embedded broker. Implementations
// must be safe to Disconnect more than once: the session layer always tears
// a handle down before opening a new one so stale connections never pile up
// in the device's limited connection pool.
type Transport interface {
	Connect() error
	Subscribe(topic string, handler MessageHandler) error
	Publish(topic string, payload []byte) error
	Disconnect()
	IsConnected() bool
}

type TransportOptions struct {
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
	// OnConnectionLost fires on transport-level drops after a successful
	// connect. Never fires for a failed Connect.
	OnConnectionLost func(error)
}

func (o TransportOptions) withDefaults() TransportOptions {
	if o.ConnectTimeout == 0 {
		o.ConnectTimeout = 10 * time.Second
	}
	if o.RequestTimeout == 0 {
		o.RequestTimeout = 5 * time.Second
	}
	return o
}

type mqttTransport struct {
	client pahomqtt.Client
	opts   TransportOptions
}

// NewMQTTTransport builds a transport for one device. The embedded broker
// only speaks MQTT 3.1 and authenticates with serial/credential.
func NewMQTTTransport(identity DeviceIdentity, host string, opts TransportOptions) Transport {
	opts = opts.withDefaults()

	if !strings.Contains(host, ":") {
		host = host + ":1883"
	}
	clientOpts := pahomqtt.NewClientOptions()
	clientOpts.AddBroker(fmt.Sprintf("tcp://%s", host))
	clientOpts.SetClientID(fmt.Sprintf("dyson2mqtt_%d", rand.IntN(1000)))
	clientOpts.SetUsername(identity.Serial)
	clientOpts.SetPassword(identity.Credential)
	clientOpts.SetProtocolVersion(3)
	clientOpts.SetCleanSession(true)
	// Reconnection policy belongs to the session layer. Letting paho retry
	// on its own leaks half-open connections into the device pool.
	clientOpts.SetAutoReconnect(false)
	clientOpts.SetConnectRetry(false)
	clientOpts.SetConnectTimeout(opts.ConnectTimeout)
	if opts.OnConnectionLost != nil {
		clientOpts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			opts.OnConnectionLost(err)
		})
	}

	return &mqttTransport{
		client: pahomqtt.NewClient(clientOpts),
		opts:   opts,
	}
}

func (t *mqttTransport) Connect() error {
	token := t.client.Connect()
	if !token.WaitTimeout(t.opts.ConnectTimeout) {
		t.client.Disconnect(0)
		return fmt.Errorf("%w: connect timed out after %s", ErrUnreachable, t.opts.ConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return classifyConnectError(err)
	}
	return nil
}

func (t *mqttTransport) Subscribe(topic string, handler MessageHandler) error {
	token := t.client.Subscribe(topic, 0, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(t.opts.RequestTimeout) {
		return fmt.Errorf("%w: subscribe %s", ErrTimeout, topic)
	}
	return token.Error()
}

func (t *mqttTransport) Publish(topic string, payload []byte) error {
	if !t.client.IsConnected() {
		return ErrNotConnected
	}
	token := t.client.Publish(topic, 1, false, payload)
	if !token.WaitTimeout(t.opts.RequestTimeout) {
		return fmt.Errorf("%w: publish %s", ErrTimeout, topic)
	}
	return token.Error()
}

func (t *mqttTransport) Disconnect() {
	t.client.Disconnect(250)
}

func (t *mqttTransport) IsConnected() bool {
	return t.client.IsConnected()
}

// classifyConnectError separates the terminal credential failure from
// transient unreachability: the two require different user action.
func classifyConnectError(err error) error {
	switch {
	case errors.Is(err, packets.ErrorRefusedBadUsernameOrPassword),
		errors.Is(err, packets.ErrorRefusedNotAuthorised):
		return fmt.Errorf("%w: %s", ErrAuthRejected, err)
	default:
		return fmt.Errorf("%w: %s", ErrUnreachable, err)
	}
}
