package minimqtt

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

// ClientState is the connection state of a Client.
type ClientState int

const (
	// StateDisconnected means no session is active.
	StateDisconnected ClientState = 0

	// StateConnecting means the CONNECT/CONNACK exchange is in flight.
	StateConnecting ClientState = 1

	// StateConnected means the session is live.
	StateConnected ClientState = 2
)

// String returns the string representation of the client state.
func (s ClientState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// readSlice caps how long a single socket read may block, so keep-alive
// pings and retransmissions stay timely during a long Loop.
const readSlice = 500 * time.Millisecond

// pendingSubscribe is a SUBSCRIBE awaiting its SUBACK.
type pendingSubscribe struct {
	filter  string
	qos     byte
	handler MessageHandler
	result  SubackReturnCode
	done    bool
}

// pendingUnsubscribe is an UNSUBSCRIBE awaiting its UNSUBACK.
type pendingUnsubscribe struct {
	filter string
	done   bool
}

// Client is an MQTT 3.1.1 client protocol engine. It is cooperative: no
// goroutines are spawned, and the network is only serviced while a call is
// pumping (Loop, Connect, Ping, or a blocking QoS 1/2 Publish, Subscribe,
// Unsubscribe). A single mutex guards all session state so a pump goroutine
// and user calls can coexist. Callbacks and message handlers always run with
// the mutex released.
type Client struct {
	mu      sync.Mutex
	options *clientOptions
	logger  Logger

	state  ClientState
	closed bool
	conn   Conn
	rxbuf  []byte

	subscriptions *SubscriptionRegistry
	packetIDs     *PacketIDManager
	tracker       *DeliveryTracker
	keepAlive     *keepAliveTracker

	pendingSubscribes   map[uint16]*pendingSubscribe
	pendingUnsubscribes map[uint16]*pendingUnsubscribe
	pingOutstanding     bool

	// publishWaiters marks packet IDs a Publish call is pumping on.
	// failedDeliveries holds DeliveryErrors for waited-on packet IDs whose
	// retries ran out; exhausted deliveries nobody waits for (resumed from a
	// previous session) are logged and dropped instead.
	publishWaiters   map[uint16]struct{}
	failedDeliveries map[uint16]*DeliveryError

	// lostErr is the cause of the most recent session loss.
	lostErr error

	// calls holds callbacks queued while the mutex is held. They run once
	// the pumping call releases it.
	calls []func()
}

// NewClient creates a client. The client starts disconnected; call Connect
// to establish a session.
func NewClient(opts ...Option) *Client {
	options := applyOptions(opts...)

	if options.clientID == "" {
		options.clientID = generateClientID()
	}

	return &Client{
		options:             options,
		logger:              options.logger.WithFields(LogFields{LogFieldClientID: options.clientID}),
		state:               StateDisconnected,
		subscriptions:       NewSubscriptionRegistry(),
		packetIDs:           NewPacketIDManager(),
		tracker:             NewDeliveryTracker(options.retryTimeout, options.maxRetries),
		pendingSubscribes:   make(map[uint16]*pendingSubscribe),
		pendingUnsubscribes: make(map[uint16]*pendingUnsubscribe),
		publishWaiters:      make(map[uint16]struct{}),
		failedDeliveries:    make(map[uint16]*DeliveryError),
	}
}

// generateClientID returns a random client identifier.
func generateClientID() string {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "minimqtt-client"
	}
	return "minimqtt-" + hex.EncodeToString(buf[:])
}

// ClientID returns the configured or generated client identifier.
func (c *Client) ClientID() string {
	return c.options.clientID
}

// State returns the current connection state.
func (c *Client) State() ClientState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected returns true when a session is live.
func (c *Client) IsConnected() bool {
	return c.State() == StateConnected
}

// dialer returns the configured dialer, defaulting to TCP or TLS.
func (c *Client) dialer() Dialer {
	if c.options.dialer != nil {
		return c.options.dialer
	}
	if c.options.tlsConfig != nil {
		return &TLSDialer{Config: c.options.tlsConfig, Timeout: c.options.connectTimeout}
	}
	return &TCPDialer{Timeout: c.options.connectTimeout}
}

// Connect dials the broker and performs the CONNECT/CONNACK handshake.
// It may be called again after a session is lost; automatic reconnection is
// the caller's policy, not the client's.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()

	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	if len(c.options.servers) == 0 {
		c.mu.Unlock()
		return errors.New("no servers configured: use WithServers()")
	}

	c.state = StateConnecting
	c.lostErr = nil

	dialCtx, cancel := context.WithTimeout(ctx, c.options.connectTimeout)
	defer cancel()

	conn, err := c.dialServers(dialCtx)
	if err != nil {
		c.state = StateDisconnected
		c.mu.Unlock()
		return err
	}
	c.conn = conn
	c.rxbuf = nil

	connack, err := c.handshakeLocked(ctx)
	if err != nil {
		c.conn.Close()
		c.conn = nil
		c.state = StateDisconnected
		c.mu.Unlock()
		return err
	}

	now := time.Now()
	c.state = StateConnected
	c.keepAlive = newKeepAliveTracker(c.options.keepAlive, now)
	c.pingOutstanding = false

	sessionResumed := connack.SessionPresent && !c.options.cleanSession
	if sessionResumed && c.options.resumeDeliveries {
		c.resumeDeliveriesLocked(now)
	} else {
		c.tracker.Clear()
		c.packetIDs = NewPacketIDManager()
	}

	// The broker holds no subscription state for a fresh session: reissue
	// the registered filters or drop them.
	if !sessionResumed {
		if c.options.resubscribe {
			c.resubscribeLocked()
		} else {
			c.subscriptions.Clear()
		}
	}

	if c.state != StateConnected {
		err := c.lostErr
		calls := c.collectCallsLocked()
		c.mu.Unlock()
		invoke(calls)
		return err
	}

	c.logger.Info("connected", LogFields{
		LogFieldKeepAlive: c.options.keepAlive,
	})

	var calls []func()
	if c.options.onConnect != nil {
		onConnect := c.options.onConnect
		sessionPresent := connack.SessionPresent
		calls = append(calls, func() { onConnect(c, sessionPresent) })
	}
	c.mu.Unlock()
	invoke(calls)
	return nil
}

// dialServers tries each configured broker address in order.
func (c *Client) dialServers(ctx context.Context) (Conn, error) {
	d := c.dialer()

	var lastErr error
	for _, addr := range c.options.servers {
		conn, err := d.Dial(ctx, addr)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		c.logger.Warn("dial failed", LogFields{
			LogFieldBrokerAddr: addr,
			LogFieldError:      err,
		})
	}
	return nil, NewConnectionLostError(lastErr)
}

// handshakeLocked sends CONNECT and waits for the CONNACK.
func (c *Client) handshakeLocked(ctx context.Context) (*ConnackPacket, error) {
	connect := &ConnectPacket{
		ClientID:     c.options.clientID,
		CleanSession: c.options.cleanSession,
		KeepAlive:    c.options.keepAlive,
		Username:     c.options.username,
		Password:     c.options.password,
	}

	if c.options.willTopic != "" {
		connect.WillFlag = true
		connect.WillTopic = c.options.willTopic
		connect.WillPayload = c.options.willPayload
		connect.WillRetain = c.options.willRetain
		connect.WillQoS = c.options.willQoS
	}

	c.conn.SetWriteDeadline(time.Now().Add(c.options.connectTimeout))
	if _, err := WritePacket(c.conn, connect, 0); err != nil {
		return nil, fmt.Errorf("failed to send CONNECT: %w", err)
	}

	deadline := time.Now().Add(c.options.connectTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}

	c.conn.SetReadDeadline(deadline)
	pkt, _, err := ReadPacket(c.conn, c.options.maxPacketSize)
	c.conn.SetReadDeadline(time.Time{})
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil, ErrConnectTimeout
		}
		return nil, fmt.Errorf("failed to read CONNACK: %w", err)
	}

	connack, ok := pkt.(*ConnackPacket)
	if !ok {
		return nil, fmt.Errorf("%w: expected CONNACK, got %s", ErrProtocolViolation, pkt.Type())
	}

	if connack.ReturnCode != ConnectionAccepted {
		c.logger.Warn("connection refused", LogFields{
			LogFieldReturnCode: connack.ReturnCode,
		})
		return nil, NewConnectError(connack.ReturnCode)
	}

	return connack, nil
}

// resumeDeliveriesLocked retransmits every unacknowledged outbound delivery
// after the broker resumed the session. PUBLISH packets go out with the DUP
// flag set, QoS 2 flows stuck on PUBCOMP resend their PUBREL.
func (c *Client) resumeDeliveriesLocked(now time.Time) {
	for _, d := range c.tracker.Outbound() {
		d.SentAt = now
		d.RetryCount = 0
		if err := c.retransmitLocked(d); err != nil {
			return
		}
	}
}

// resubscribeLocked reissues a SUBSCRIBE for every registered filter. The
// SUBACKs resolve while pumping; a rejected filter is dropped from the
// registry when its SUBACK arrives.
func (c *Client) resubscribeLocked() {
	for _, sub := range c.subscriptions.Subscriptions() {
		entry, ok := c.subscriptions.Get(sub.TopicFilter)
		if !ok {
			continue
		}

		id, err := c.packetIDs.Allocate()
		if err != nil {
			c.logger.Warn("resubscribe skipped", LogFields{
				LogFieldTopic: sub.TopicFilter,
				LogFieldError: err,
			})
			return
		}
		c.pendingSubscribes[id] = &pendingSubscribe{
			filter:  sub.TopicFilter,
			qos:     sub.QoS,
			handler: entry.Handler,
		}

		pkt := &SubscribePacket{
			ID:            id,
			Subscriptions: []Subscription{{TopicFilter: sub.TopicFilter, QoS: sub.QoS}},
		}
		if err := c.writePacketLocked(pkt); err != nil {
			return
		}
	}
}

// Disconnect sends DISCONNECT and closes the connection. The broker discards
// the will message on a graceful disconnect.
func (c *Client) Disconnect() error {
	c.mu.Lock()

	if c.state != StateConnected {
		c.mu.Unlock()
		return ErrNotConnected
	}

	c.conn.SetWriteDeadline(time.Now().Add(c.options.writeTimeout))
	_, err := WritePacket(c.conn, &DisconnectPacket{}, 0)

	calls := c.teardownLocked(nil)
	c.mu.Unlock()
	invoke(calls)
	return err
}

// Close disconnects if needed and marks the client unusable.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true

	var calls []func()
	if c.state == StateConnected {
		c.conn.SetWriteDeadline(time.Now().Add(c.options.writeTimeout))
		WritePacket(c.conn, &DisconnectPacket{}, 0)
		calls = c.teardownLocked(nil)
	}
	c.mu.Unlock()
	invoke(calls)
	return nil
}

// Publish sends an application message. QoS 0 returns as soon as the packet
// is written. QoS 1 and 2 block, pumping the connection, until the
// acknowledgment handshake completes, the retries run out (DeliveryError,
// session stays up), or the session is lost. Returns the packet ID used
// (zero for QoS 0).
func (c *Client) Publish(topic string, payload []byte, qos byte, retain bool) (uint16, error) {
	if err := ValidateTopicName(topic); err != nil {
		return 0, err
	}
	if qos > 2 {
		return 0, ErrInvalidQoS
	}
	if c.options.maxPayloadSize > 0 && uint32(len(payload)) > c.options.maxPayloadSize {
		return 0, ErrPayloadTooLarge
	}

	c.mu.Lock()

	if c.state != StateConnected {
		c.mu.Unlock()
		return 0, ErrNotConnected
	}

	pub := &PublishPacket{
		Topic:   topic,
		Payload: payload,
		QoS:     qos,
		Retain:  retain,
	}

	if qos == 0 {
		err := c.writePacketLocked(pub)
		calls := c.collectCallsLocked()
		c.mu.Unlock()
		invoke(calls)
		return 0, err
	}

	id, err := c.packetIDs.Allocate()
	if err != nil {
		c.mu.Unlock()
		return 0, err
	}
	pub.ID = id

	msg := &Message{Topic: topic, Payload: payload, QoS: qos, Retain: retain}
	c.tracker.TrackOutbound(id, msg, time.Now())
	c.publishWaiters[id] = struct{}{}

	if err := c.writePacketLocked(pub); err != nil {
		delete(c.publishWaiters, id)
		calls := c.collectCallsLocked()
		c.mu.Unlock()
		invoke(calls)
		return id, err
	}

	// Pump until the handshake resolves, fails, or the session drops.
	for {
		if c.state != StateConnected {
			delete(c.publishWaiters, id)
			err := c.lostErr
			c.mu.Unlock()
			if err == nil {
				err = ErrConnectionLost
			}
			return id, err
		}

		if _, inFlight := c.tracker.Get(id); !inFlight {
			delete(c.publishWaiters, id)
			var err error
			if failure, ok := c.failedDeliveries[id]; ok {
				delete(c.failedDeliveries, id)
				err = failure
			}
			calls := c.collectCallsLocked()
			c.mu.Unlock()
			invoke(calls)
			return id, err
		}

		c.pumpLocked(time.Now().Add(readSlice))
	}
}

// Subscribe registers a handler for a topic filter and sends a SUBSCRIBE,
// pumping until the SUBACK arrives. Re-subscribing to an existing filter
// replaces its handler. The handler runs once for every matching filter of
// every received PUBLISH.
func (c *Client) Subscribe(filter string, qos byte, handler MessageHandler) error {
	if err := ValidateTopicFilter(filter); err != nil {
		return err
	}
	if qos > 2 {
		return ErrInvalidQoS
	}

	c.mu.Lock()

	if c.state != StateConnected {
		c.mu.Unlock()
		return ErrNotConnected
	}

	id, err := c.packetIDs.Allocate()
	if err != nil {
		c.mu.Unlock()
		return err
	}

	pending := &pendingSubscribe{filter: filter, qos: qos, handler: handler}
	c.pendingSubscribes[id] = pending

	sub := &SubscribePacket{
		ID:            id,
		Subscriptions: []Subscription{{TopicFilter: filter, QoS: qos}},
	}

	if err := c.writePacketLocked(sub); err != nil {
		delete(c.pendingSubscribes, id)
		c.packetIDs.Release(id)
		calls := c.collectCallsLocked()
		c.mu.Unlock()
		invoke(calls)
		return err
	}

	for !pending.done {
		if c.state != StateConnected {
			err := c.lostErr
			c.mu.Unlock()
			if err == nil {
				err = ErrConnectionLost
			}
			return err
		}
		c.pumpLocked(time.Now().Add(readSlice))
	}

	var result error
	if pending.result == SubackFailure {
		result = fmt.Errorf("subscribe to %q rejected by broker", filter)
	}
	calls := c.collectCallsLocked()
	c.mu.Unlock()
	invoke(calls)
	return result
}

// Unsubscribe removes a subscription and sends an UNSUBSCRIBE, pumping until
// the UNSUBACK arrives.
func (c *Client) Unsubscribe(filter string) error {
	if err := ValidateTopicFilter(filter); err != nil {
		return err
	}

	c.mu.Lock()

	if c.state != StateConnected {
		c.mu.Unlock()
		return ErrNotConnected
	}

	id, err := c.packetIDs.Allocate()
	if err != nil {
		c.mu.Unlock()
		return err
	}

	pending := &pendingUnsubscribe{filter: filter}
	c.pendingUnsubscribes[id] = pending

	unsub := &UnsubscribePacket{
		ID:           id,
		TopicFilters: []string{filter},
	}

	if err := c.writePacketLocked(unsub); err != nil {
		delete(c.pendingUnsubscribes, id)
		c.packetIDs.Release(id)
		calls := c.collectCallsLocked()
		c.mu.Unlock()
		invoke(calls)
		return err
	}

	for !pending.done {
		if c.state != StateConnected {
			err := c.lostErr
			c.mu.Unlock()
			if err == nil {
				err = ErrConnectionLost
			}
			return err
		}
		c.pumpLocked(time.Now().Add(readSlice))
	}

	calls := c.collectCallsLocked()
	c.mu.Unlock()
	invoke(calls)
	return nil
}

// Ping sends a PINGREQ and pumps until the PINGRESP arrives or the connect
// timeout elapses.
func (c *Client) Ping() error {
	c.mu.Lock()

	if c.state != StateConnected {
		c.mu.Unlock()
		return ErrNotConnected
	}

	if err := c.writePacketLocked(&PingreqPacket{}); err != nil {
		calls := c.collectCallsLocked()
		c.mu.Unlock()
		invoke(calls)
		return err
	}
	c.pingOutstanding = true

	deadline := time.Now().Add(c.options.connectTimeout)
	for c.pingOutstanding {
		if c.state != StateConnected {
			err := c.lostErr
			c.mu.Unlock()
			if err == nil {
				err = ErrConnectionLost
			}
			return err
		}
		if time.Now().After(deadline) {
			c.mu.Unlock()
			return ErrKeepAliveTimeout
		}
		c.pumpLocked(time.Now().Add(readSlice))
	}

	calls := c.collectCallsLocked()
	c.mu.Unlock()
	invoke(calls)
	return nil
}

// Loop services the connection for up to timeout: it reads and dispatches
// inbound packets, retransmits overdue deliveries, and sends keep-alive
// pings. Call it regularly from a single goroutine. Returns nil while the
// session stays up and the session-ending error once it drops.
func (c *Client) Loop(timeout time.Duration) error {
	c.mu.Lock()

	if c.state != StateConnected {
		err := c.lostErr
		c.mu.Unlock()
		if err == nil {
			err = ErrNotConnected
		}
		return err
	}

	deadline := time.Now().Add(timeout)
	for c.state == StateConnected && !time.Now().After(deadline) {
		c.pumpLocked(deadline)
	}

	err := c.lostErr
	calls := c.collectCallsLocked()
	c.mu.Unlock()
	invoke(calls)
	return err
}

// pumpLocked performs one service cycle: housekeeping, then a bounded read
// and packet dispatch. Any queued callbacks are left in c.calls for the
// caller to invoke once the mutex is released.
func (c *Client) pumpLocked(deadline time.Time) {
	now := time.Now()

	// Keep-alive expiry.
	if c.keepAlive.Expired(now) {
		c.logger.Error("keep-alive expired", nil)
		c.sessionLostLocked(ErrKeepAliveTimeout)
		return
	}

	// Abandoned deliveries. The failure is kept only while a Publish call
	// is pumping on the packet ID.
	for _, d := range c.tracker.Exhausted(now) {
		if _, waited := c.publishWaiters[d.PacketID]; waited {
			c.failedDeliveries[d.PacketID] = NewDeliveryError(d.Message.Topic, d.PacketID, d.RetryCount)
		}
		c.packetIDs.Release(d.PacketID)
		c.logger.Warn("delivery abandoned", LogFields{
			LogFieldTopic:    d.Message.Topic,
			LogFieldPacketID: d.PacketID,
			LogFieldRetries:  d.RetryCount,
		})
	}

	// Retransmissions.
	for _, d := range c.tracker.DueForRetry(now) {
		if err := c.retransmitLocked(d); err != nil {
			return
		}
	}

	// Keep-alive ping.
	if c.keepAlive.NeedsPing(now) && !c.pingOutstanding {
		if err := c.writePacketLocked(&PingreqPacket{}); err != nil {
			return
		}
		c.pingOutstanding = true
	}

	// Bounded read.
	readDeadline := now.Add(readSlice)
	if deadline.Before(readDeadline) {
		readDeadline = deadline
	}

	c.conn.SetReadDeadline(readDeadline)
	buf := make([]byte, 4096)
	n, err := c.conn.Read(buf)
	if n > 0 {
		c.rxbuf = append(c.rxbuf, buf[:n]...)
		c.drainLocked()
	}
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return
		}
		c.sessionLostLocked(NewConnectionLostError(err))
	}
}

// drainLocked decodes and handles every complete packet in the receive
// buffer, leaving any trailing partial packet for the next read.
func (c *Client) drainLocked() {
	for len(c.rxbuf) > 0 {
		pkt, consumed, err := DecodePacket(c.rxbuf, c.options.maxPacketSize)
		if errors.Is(err, ErrIncompletePacket) {
			return
		}
		if err != nil {
			c.logger.Error("malformed packet", LogFields{LogFieldError: err})
			c.sessionLostLocked(NewConnectionLostError(err))
			return
		}

		c.rxbuf = c.rxbuf[consumed:]
		c.keepAlive.PacketReceived(time.Now())
		c.handlePacketLocked(pkt)
		if c.state != StateConnected {
			return
		}
	}
}

// handlePacketLocked dispatches one inbound packet.
func (c *Client) handlePacketLocked(pkt Packet) {
	switch p := pkt.(type) {
	case *PublishPacket:
		c.handleInboundPublishLocked(p)

	case *PubackPacket:
		if d, ok := c.tracker.HandlePuback(p.ID); ok {
			c.packetIDs.Release(p.ID)
			c.queuePublishCompleteLocked(d.PacketID)
		}

	case *PubrecPacket:
		if _, ok := c.tracker.HandlePubrec(p.ID, time.Now()); ok {
			c.writePacketLocked(&PubrelPacket{ID: p.ID})
		}

	case *PubcompPacket:
		if d, ok := c.tracker.HandlePubcomp(p.ID); ok {
			c.packetIDs.Release(p.ID)
			c.queuePublishCompleteLocked(d.PacketID)
		}

	case *PubrelPacket:
		// Always answer with PUBCOMP: a missing tracker entry means the
		// broker retransmitted PUBREL after our PUBCOMP was lost.
		c.tracker.HandlePubrel(p.ID)
		c.writePacketLocked(&PubcompPacket{ID: p.ID})

	case *SubackPacket:
		c.handleSubackLocked(p)

	case *UnsubackPacket:
		c.handleUnsubackLocked(p)

	case *PingrespPacket:
		c.pingOutstanding = false

	default:
		c.logger.Warn("unexpected packet", LogFields{
			LogFieldPacketType: pkt.Type(),
		})
	}
}

// handleInboundPublishLocked runs the receive side of the QoS flows and
// queues handler dispatch.
func (c *Client) handleInboundPublishLocked(p *PublishPacket) {
	msg := p.ToMessage()

	switch p.QoS {
	case 0:
		c.queueDispatchLocked(msg)

	case 1:
		c.queueDispatchLocked(msg)
		c.writePacketLocked(&PubackPacket{ID: p.ID})

	case 2:
		// Dispatch exactly once per packet ID: a duplicate PUBLISH arriving
		// before the PUBREL must not run the handlers again.
		d := c.tracker.TrackInbound(p.ID, msg, time.Now())
		if !d.Dispatched {
			d.Dispatched = true
			c.queueDispatchLocked(msg)
		}
		c.writePacketLocked(&PubrecPacket{ID: p.ID})
	}
}

// handleSubackLocked resolves a pending subscribe.
func (c *Client) handleSubackLocked(p *SubackPacket) {
	pending, ok := c.pendingSubscribes[p.ID]
	if !ok {
		return
	}
	delete(c.pendingSubscribes, p.ID)
	c.packetIDs.Release(p.ID)

	pending.done = true
	if len(p.ReturnCodes) > 0 {
		pending.result = p.ReturnCodes[0]
	}

	if pending.result == SubackFailure {
		c.subscriptions.Unsubscribe(pending.filter)
		return
	}

	c.subscriptions.Subscribe(pending.filter, pending.qos, pending.handler)
	if c.options.onSubscribe != nil {
		onSubscribe := c.options.onSubscribe
		filter, granted := pending.filter, byte(pending.result)
		c.calls = append(c.calls, func() { onSubscribe(c, filter, granted) })
	}
}

// handleUnsubackLocked resolves a pending unsubscribe.
func (c *Client) handleUnsubackLocked(p *UnsubackPacket) {
	pending, ok := c.pendingUnsubscribes[p.ID]
	if !ok {
		return
	}
	delete(c.pendingUnsubscribes, p.ID)
	c.packetIDs.Release(p.ID)

	pending.done = true
	c.subscriptions.Unsubscribe(pending.filter)

	if c.options.onUnsubscribe != nil {
		onUnsubscribe := c.options.onUnsubscribe
		filter := pending.filter
		c.calls = append(c.calls, func() { onUnsubscribe(c, filter) })
	}
}

// queueDispatchLocked queues the matching handlers for a received message.
// Every matching filter gets its own handler invocation.
func (c *Client) queueDispatchLocked(msg *Message) {
	for _, sub := range c.subscriptions.Match(msg.Topic) {
		handler := sub.Handler
		if handler == nil {
			continue
		}
		// Each handler gets its own copy so none can mutate another's payload.
		m := msg.Clone()
		c.calls = append(c.calls, func() { handler(m) })
	}
}

// queuePublishCompleteLocked queues the publish-complete callback.
func (c *Client) queuePublishCompleteLocked(packetID uint16) {
	if c.options.onPublish == nil {
		return
	}
	onPublish := c.options.onPublish
	id := packetID
	c.calls = append(c.calls, func() { onPublish(c, id) })
}

// retransmitLocked resends the packet a delivery is stuck on. PUBLISH
// retransmissions carry the DUP flag; PUBREL retransmissions do not change.
func (c *Client) retransmitLocked(d *Delivery) error {
	switch d.State {
	case DeliveryAwaitingPuback, DeliveryAwaitingPubrec:
		pub := &PublishPacket{}
		pub.FromMessage(d.Message)
		pub.DUP = true
		pub.ID = d.PacketID
		return c.writePacketLocked(pub)

	case DeliveryAwaitingPubcomp:
		return c.writePacketLocked(&PubrelPacket{ID: d.PacketID})

	default:
		return nil
	}
}

// writePacketLocked writes one packet, tearing the session down on failure.
func (c *Client) writePacketLocked(pkt Packet) error {
	c.conn.SetWriteDeadline(time.Now().Add(c.options.writeTimeout))
	_, err := WritePacket(c.conn, pkt, 0)
	if err != nil {
		lost := NewConnectionLostError(err)
		c.sessionLostLocked(lost)
		return lost
	}
	c.keepAlive.PacketSent(time.Now())
	return nil
}

// sessionLostLocked tears the session down after an unexpected failure.
func (c *Client) sessionLostLocked(cause error) {
	if c.state != StateConnected {
		return
	}
	c.lostErr = cause
	calls := c.teardownLocked(cause)
	c.calls = append(c.calls, calls...)
}

// teardownLocked closes the connection and resets per-connection state.
// In-flight QoS deliveries survive for a later clean-session=false reconnect.
// Returns the callbacks to invoke once the mutex is released.
func (c *Client) teardownLocked(cause error) []func() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.state = StateDisconnected
	c.rxbuf = nil
	c.pingOutstanding = false

	// Waiting publishes observe the state change and return the session
	// error, so unclaimed failures would only go stale.
	c.failedDeliveries = make(map[uint16]*DeliveryError)

	// Fail pending control operations: their ACKs can no longer arrive.
	for id, pending := range c.pendingSubscribes {
		pending.done = true
		pending.result = SubackFailure
		delete(c.pendingSubscribes, id)
		c.packetIDs.Release(id)
	}
	for id, pending := range c.pendingUnsubscribes {
		pending.done = true
		delete(c.pendingUnsubscribes, id)
		c.packetIDs.Release(id)
	}

	var calls []func()
	if c.options.onDisconnect != nil {
		onDisconnect := c.options.onDisconnect
		calls = append(calls, func() { onDisconnect(c, cause) })
	}

	if cause != nil {
		c.logger.Error("session lost", LogFields{LogFieldError: cause})
	} else {
		c.logger.Info("disconnected", nil)
	}
	return calls
}

// collectCallsLocked takes the queued callbacks for invocation after unlock.
func (c *Client) collectCallsLocked() []func() {
	calls := c.calls
	c.calls = nil
	return calls
}

// invoke runs queued callbacks with no locks held.
func invoke(calls []func()) {
	for _, call := range calls {
		call()
	}
}
