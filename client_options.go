package minimqtt

import (
	"crypto/tls"
	"time"
)

// Packet size limits.
const (
	// MaxPacketSizeProtocol is the largest packet the wire format can express.
	MaxPacketSizeProtocol uint32 = 268435455

	// MaxPacketSizeDefault is the default inbound packet size limit.
	MaxPacketSizeDefault uint32 = 4 * 1024 * 1024

	// MaxPacketSizeMinimal suits constrained hosts.
	MaxPacketSizeMinimal uint32 = 16 * 1024
)

// Lifecycle callbacks. All callbacks run on the goroutine that pumps the
// client and must not call back into it.

// ConnectHandler is invoked after a successful CONNECT/CONNACK exchange.
type ConnectHandler func(c *Client, sessionPresent bool)

// DisconnectHandler is invoked when the session ends. err is nil after a
// requested Disconnect and non-nil when the session was lost.
type DisconnectHandler func(c *Client, err error)

// PublishHandler is invoked when an outbound QoS 1 or 2 publish completes.
type PublishHandler func(c *Client, packetID uint16)

// SubscribeHandler is invoked when the broker grants a subscription.
type SubscribeHandler func(c *Client, filter string, grantedQoS byte)

// UnsubscribeHandler is invoked when the broker confirms an unsubscribe.
type UnsubscribeHandler func(c *Client, filter string)

// clientOptions holds configuration for a Client.
type clientOptions struct {
	// Connection settings
	clientID     string
	username     string
	password     []byte
	keepAlive    uint16
	cleanSession bool

	// TLS configuration
	tlsConfig *tls.Config

	// Timeouts
	connectTimeout time.Duration
	writeTimeout   time.Duration

	// QoS retransmission
	retryTimeout time.Duration
	maxRetries   int

	// Will message
	willTopic   string
	willPayload []byte
	willRetain  bool
	willQoS     byte

	// Session resumption: resend unacknowledged publishes with the DUP flag
	// when the broker reports a resumed session. Only meaningful with
	// cleanSession false.
	resumeDeliveries bool

	// Resubscribe registered filters after a connect where the broker holds
	// no session state. When disabled such a connect clears the registry.
	resubscribe bool

	// Limits
	maxPacketSize  uint32
	maxPayloadSize uint32 // 0 means no limit beyond the protocol maximum

	// Transport
	dialer  Dialer
	servers []string

	// Logging
	logger Logger

	// Lifecycle callbacks
	onConnect     ConnectHandler
	onDisconnect  DisconnectHandler
	onPublish     PublishHandler
	onSubscribe   SubscribeHandler
	onUnsubscribe UnsubscribeHandler
}

// defaultOptions returns options with sensible defaults.
func defaultOptions() *clientOptions {
	return &clientOptions{
		keepAlive:        60,
		cleanSession:     true,
		connectTimeout:   10 * time.Second,
		writeTimeout:     5 * time.Second,
		retryTimeout:     5 * time.Second,
		maxRetries:       5,
		resumeDeliveries: true,
		resubscribe:      true,
		maxPacketSize:    MaxPacketSizeDefault,
		logger:           NewNoOpLogger(),
	}
}

// Option configures a Client.
type Option func(*clientOptions)

// WithClientID sets the client identifier.
// When unset, a random identifier is generated.
func WithClientID(id string) Option {
	return func(o *clientOptions) {
		o.clientID = id
	}
}

// WithCredentials sets the username and password for authentication.
func WithCredentials(username, password string) Option {
	return func(o *clientOptions) {
		o.username = username
		o.password = []byte(password)
	}
}

// WithKeepAlive sets the keep-alive interval in seconds. Zero disables
// keep-alive tracking entirely.
func WithKeepAlive(seconds uint16) Option {
	return func(o *clientOptions) {
		o.keepAlive = seconds
	}
}

// WithCleanSession sets whether to request a clean session from the broker.
func WithCleanSession(clean bool) Option {
	return func(o *clientOptions) {
		o.cleanSession = clean
	}
}

// WithTLS sets the TLS configuration for secure connections.
func WithTLS(config *tls.Config) Option {
	return func(o *clientOptions) {
		o.tlsConfig = config
	}
}

// WithConnectTimeout sets the timeout for the CONNECT/CONNACK exchange.
func WithConnectTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		o.connectTimeout = d
	}
}

// WithWriteTimeout sets the timeout for write operations.
func WithWriteTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		o.writeTimeout = d
	}
}

// WithRetryTimeout sets how long to wait for an acknowledgment before
// retransmitting a QoS 1 or 2 publish.
func WithRetryTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		o.retryTimeout = d
	}
}

// WithMaxRetries sets how many retransmissions a QoS 1 or 2 publish gets
// before it is abandoned with a DeliveryError.
func WithMaxRetries(n int) Option {
	return func(o *clientOptions) {
		o.maxRetries = n
	}
}

// WithWill sets the Will message published by the broker if the client
// disconnects ungracefully. Must be configured before Connect.
func WithWill(topic string, payload []byte, retain bool, qos byte) Option {
	return func(o *clientOptions) {
		o.willTopic = topic
		o.willPayload = payload
		o.willRetain = retain
		o.willQoS = qos
	}
}

// WithSessionResumption controls whether unacknowledged publishes are resent
// with the DUP flag after the broker reports a resumed session.
func WithSessionResumption(enabled bool) Option {
	return func(o *clientOptions) {
		o.resumeDeliveries = enabled
	}
}

// WithResubscribe controls whether registered subscriptions are re-sent to
// the broker after a connect that starts without broker-side session state
// (clean session, or no session present). When disabled, such a connect
// clears the local registry instead.
func WithResubscribe(enabled bool) Option {
	return func(o *clientOptions) {
		o.resubscribe = enabled
	}
}

// WithMaxPacketSize sets the maximum inbound packet size the client will
// accept. Values exceeding MaxPacketSizeProtocol are clamped.
func WithMaxPacketSize(size uint32) Option {
	return func(o *clientOptions) {
		if size > MaxPacketSizeProtocol {
			size = MaxPacketSizeProtocol
		}
		o.maxPacketSize = size
	}
}

// WithMaxPayloadSize caps outbound publish payloads.
// Zero means no limit beyond the protocol maximum.
func WithMaxPayloadSize(size uint32) Option {
	return func(o *clientOptions) {
		o.maxPayloadSize = size
	}
}

// WithDialer sets the transport dialer. Defaults to a TCPDialer, or a
// TLSDialer when a TLS configuration is set.
func WithDialer(d Dialer) Option {
	return func(o *clientOptions) {
		o.dialer = d
	}
}

// WithServers sets the broker addresses tried in order on Connect.
// Addresses are host:port pairs.
func WithServers(servers ...string) Option {
	return func(o *clientOptions) {
		o.servers = append(o.servers, servers...)
	}
}

// WithLogger sets the logger. Defaults to a NoOpLogger.
func WithLogger(l Logger) Option {
	return func(o *clientOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// OnConnect sets the callback invoked after a successful connection.
func OnConnect(h ConnectHandler) Option {
	return func(o *clientOptions) {
		o.onConnect = h
	}
}

// OnDisconnect sets the callback invoked when the session ends.
func OnDisconnect(h DisconnectHandler) Option {
	return func(o *clientOptions) {
		o.onDisconnect = h
	}
}

// OnPublish sets the callback invoked when an outbound publish completes.
func OnPublish(h PublishHandler) Option {
	return func(o *clientOptions) {
		o.onPublish = h
	}
}

// OnSubscribe sets the callback invoked when the broker grants a subscription.
func OnSubscribe(h SubscribeHandler) Option {
	return func(o *clientOptions) {
		o.onSubscribe = h
	}
}

// OnUnsubscribe sets the callback invoked when the broker confirms an unsubscribe.
func OnUnsubscribe(h UnsubscribeHandler) Option {
	return func(o *clientOptions) {
		o.onUnsubscribe = h
	}
}

// applyOptions applies all options to the default options.
func applyOptions(opts ...Option) *clientOptions {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}
	return options
}
