package minimqtt

import (
	"context"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pipeDialer hands the client one end of an in-memory pipe so tests can
// script the broker side.
type pipeDialer struct {
	conn net.Conn
}

func (d *pipeDialer) Dial(_ context.Context, _ string) (Conn, error) {
	return d.conn, nil
}

// queueDialer hands out one connection per Dial call, so tests can script a
// sequence of broker sessions.
type queueDialer struct {
	conns []net.Conn
}

func (d *queueDialer) Dial(_ context.Context, _ string) (Conn, error) {
	if len(d.conns) == 0 {
		return nil, fmt.Errorf("no connections left")
	}
	conn := d.conns[0]
	d.conns = d.conns[1:]
	return conn, nil
}

// newPipeClient returns a client wired to one end of a net.Pipe and the
// broker end for the test to script.
func newPipeClient(opts ...Option) (*Client, net.Conn) {
	clientEnd, brokerEnd := net.Pipe()

	base := []Option{
		WithServers("pipe:1883"),
		WithDialer(&pipeDialer{conn: clientEnd}),
		WithClientID("pipe-test"),
		WithConnectTimeout(2 * time.Second),
		WithWriteTimeout(2 * time.Second),
	}
	return NewClient(append(base, opts...)...), brokerEnd
}

// brokerRead reads one packet from the scripted broker end.
func brokerRead(conn net.Conn) (Packet, error) {
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	pkt, _, err := ReadPacket(conn, 0)
	return pkt, err
}

// brokerWrite writes one packet from the scripted broker end.
func brokerWrite(conn net.Conn, pkt Packet) error {
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_, err := WritePacket(conn, pkt, 0)
	return err
}

// brokerAccept consumes the CONNECT and answers with the given CONNACK.
func brokerAccept(conn net.Conn, connack *ConnackPacket) error {
	pkt, err := brokerRead(conn)
	if err != nil {
		return err
	}
	if _, ok := pkt.(*ConnectPacket); !ok {
		return fmt.Errorf("expected CONNECT, got %s", pkt.Type())
	}
	return brokerWrite(conn, connack)
}

func TestClientConnect(t *testing.T) {
	var connected bool
	client, broker := newPipeClient(
		WithCredentials("user", "pass"),
		OnConnect(func(_ *Client, sessionPresent bool) {
			connected = true
			assert.False(t, sessionPresent)
		}),
	)
	defer broker.Close()

	script := make(chan error, 1)
	go func() {
		pkt, err := brokerRead(broker)
		if err != nil {
			script <- err
			return
		}
		connect, ok := pkt.(*ConnectPacket)
		if !ok {
			script <- fmt.Errorf("expected CONNECT, got %s", pkt.Type())
			return
		}
		if connect.ClientID != "pipe-test" || connect.Username != "user" || !connect.CleanSession {
			script <- fmt.Errorf("unexpected CONNECT contents: %+v", connect)
			return
		}
		script <- brokerWrite(broker, &ConnackPacket{ReturnCode: ConnectionAccepted})
	}()

	err := client.Connect(context.Background())
	require.NoError(t, err)
	require.NoError(t, <-script)

	assert.True(t, client.IsConnected())
	assert.Equal(t, StateConnected, client.State())
	assert.True(t, connected)
}

func TestClientConnectRefused(t *testing.T) {
	client, broker := newPipeClient()
	defer broker.Close()

	script := make(chan error, 1)
	go func() {
		script <- brokerAccept(broker, &ConnackPacket{ReturnCode: ErrRefusedBadCredentials})
	}()

	err := client.Connect(context.Background())
	require.NoError(t, <-script)

	require.ErrorIs(t, err, ErrConnectionRefused)
	var connErr *ConnectError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, ErrRefusedBadCredentials, connErr.ReturnCode)
	assert.Equal(t, StateDisconnected, client.State())
}

func TestClientConnectAlreadyConnected(t *testing.T) {
	client, broker := newPipeClient()
	defer broker.Close()

	go brokerAccept(broker, &ConnackPacket{ReturnCode: ConnectionAccepted})
	require.NoError(t, client.Connect(context.Background()))

	err := client.Connect(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyConnected)
}

func TestClientDisconnect(t *testing.T) {
	var disconnectErr error
	var disconnected bool
	client, broker := newPipeClient(
		OnDisconnect(func(_ *Client, err error) {
			disconnected = true
			disconnectErr = err
		}),
	)
	defer broker.Close()

	script := make(chan error, 1)
	go func() {
		if err := brokerAccept(broker, &ConnackPacket{ReturnCode: ConnectionAccepted}); err != nil {
			script <- err
			return
		}
		pkt, err := brokerRead(broker)
		if err != nil {
			script <- err
			return
		}
		if _, ok := pkt.(*DisconnectPacket); !ok {
			script <- fmt.Errorf("expected DISCONNECT, got %s", pkt.Type())
			return
		}
		script <- nil
	}()

	require.NoError(t, client.Connect(context.Background()))
	require.NoError(t, client.Disconnect())
	require.NoError(t, <-script)

	assert.Equal(t, StateDisconnected, client.State())
	assert.True(t, disconnected)
	assert.NoError(t, disconnectErr)

	assert.ErrorIs(t, client.Disconnect(), ErrNotConnected)
}

func TestClientPublishQoS0(t *testing.T) {
	client, broker := newPipeClient()
	defer broker.Close()

	script := make(chan error, 1)
	go func() {
		if err := brokerAccept(broker, &ConnackPacket{ReturnCode: ConnectionAccepted}); err != nil {
			script <- err
			return
		}
		pkt, err := brokerRead(broker)
		if err != nil {
			script <- err
			return
		}
		pub, ok := pkt.(*PublishPacket)
		if !ok || pub.Topic != "a/b" || pub.QoS != 0 {
			script <- fmt.Errorf("unexpected packet: %+v", pkt)
			return
		}
		script <- nil
	}()

	require.NoError(t, client.Connect(context.Background()))

	id, err := client.Publish("a/b", []byte("hello"), 0, false)
	require.NoError(t, err)
	assert.Zero(t, id)
	require.NoError(t, <-script)
}

func TestClientPublishQoS1(t *testing.T) {
	var completedID uint16
	client, broker := newPipeClient(
		OnPublish(func(_ *Client, packetID uint16) { completedID = packetID }),
	)
	defer broker.Close()

	script := make(chan error, 1)
	go func() {
		if err := brokerAccept(broker, &ConnackPacket{ReturnCode: ConnectionAccepted}); err != nil {
			script <- err
			return
		}
		pkt, err := brokerRead(broker)
		if err != nil {
			script <- err
			return
		}
		pub, ok := pkt.(*PublishPacket)
		if !ok || pub.QoS != 1 || pub.ID == 0 {
			script <- fmt.Errorf("unexpected packet: %+v", pkt)
			return
		}
		script <- brokerWrite(broker, &PubackPacket{ID: pub.ID})
	}()

	require.NoError(t, client.Connect(context.Background()))

	id, err := client.Publish("a/b", []byte("hello"), 1, false)
	require.NoError(t, err)
	require.NoError(t, <-script)

	assert.NotZero(t, id)
	assert.Equal(t, id, completedID)
	assert.True(t, client.IsConnected())
}

func TestClientPublishQoS2(t *testing.T) {
	client, broker := newPipeClient()
	defer broker.Close()

	script := make(chan error, 1)
	go func() {
		if err := brokerAccept(broker, &ConnackPacket{ReturnCode: ConnectionAccepted}); err != nil {
			script <- err
			return
		}

		pkt, err := brokerRead(broker)
		if err != nil {
			script <- err
			return
		}
		pub, ok := pkt.(*PublishPacket)
		if !ok || pub.QoS != 2 {
			script <- fmt.Errorf("expected QoS 2 PUBLISH, got %+v", pkt)
			return
		}
		if err := brokerWrite(broker, &PubrecPacket{ID: pub.ID}); err != nil {
			script <- err
			return
		}

		pkt, err = brokerRead(broker)
		if err != nil {
			script <- err
			return
		}
		rel, ok := pkt.(*PubrelPacket)
		if !ok || rel.ID != pub.ID {
			script <- fmt.Errorf("expected PUBREL %d, got %+v", pub.ID, pkt)
			return
		}
		script <- brokerWrite(broker, &PubcompPacket{ID: pub.ID})
	}()

	require.NoError(t, client.Connect(context.Background()))

	_, err := client.Publish("a/b", []byte("exactly once"), 2, false)
	require.NoError(t, err)
	require.NoError(t, <-script)
}

func TestClientPublishValidation(t *testing.T) {
	client, broker := newPipeClient(WithMaxPayloadSize(4))
	defer broker.Close()

	_, err := client.Publish("a/+", []byte("x"), 0, false)
	assert.ErrorIs(t, err, ErrInvalidTopicName)

	_, err = client.Publish("a/b", []byte("x"), 3, false)
	assert.ErrorIs(t, err, ErrInvalidQoS)

	_, err = client.Publish("a/b", []byte("too big"), 0, false)
	assert.ErrorIs(t, err, ErrPayloadTooLarge)

	_, err = client.Publish("a/b", []byte("x"), 0, false)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestClientPublishRetransmitsWithDUP(t *testing.T) {
	client, broker := newPipeClient(
		WithRetryTimeout(100*time.Millisecond),
		WithMaxRetries(3),
	)
	defer broker.Close()

	script := make(chan error, 1)
	go func() {
		if err := brokerAccept(broker, &ConnackPacket{ReturnCode: ConnectionAccepted}); err != nil {
			script <- err
			return
		}

		// First transmission is dropped on the floor.
		pkt, err := brokerRead(broker)
		if err != nil {
			script <- err
			return
		}
		first, ok := pkt.(*PublishPacket)
		if !ok || first.DUP {
			script <- fmt.Errorf("expected initial PUBLISH without DUP, got %+v", pkt)
			return
		}

		// The retransmission must carry the DUP flag and the same packet ID.
		pkt, err = brokerRead(broker)
		if err != nil {
			script <- err
			return
		}
		second, ok := pkt.(*PublishPacket)
		if !ok || !second.DUP || second.ID != first.ID {
			script <- fmt.Errorf("expected DUP retransmission of %d, got %+v", first.ID, pkt)
			return
		}
		script <- brokerWrite(broker, &PubackPacket{ID: second.ID})
	}()

	require.NoError(t, client.Connect(context.Background()))

	_, err := client.Publish("a/b", []byte("retry me"), 1, false)
	require.NoError(t, err)
	require.NoError(t, <-script)
}

func TestClientPublishRetriesExhausted(t *testing.T) {
	client, broker := newPipeClient(
		WithRetryTimeout(50*time.Millisecond),
		WithMaxRetries(1),
	)
	defer broker.Close()

	go func() {
		if err := brokerAccept(broker, &ConnackPacket{ReturnCode: ConnectionAccepted}); err != nil {
			return
		}
		// Never acknowledge anything.
		io.Copy(io.Discard, broker)
	}()

	require.NoError(t, client.Connect(context.Background()))

	_, err := client.Publish("a/b", []byte("lost"), 1, false)
	require.ErrorIs(t, err, ErrDeliveryFailed)

	var delErr *DeliveryError
	require.ErrorAs(t, err, &delErr)
	assert.Equal(t, "a/b", delErr.Topic)

	// Delivery failure does not end the session.
	assert.True(t, client.IsConnected())
}

func TestClientSubscribeAndReceive(t *testing.T) {
	client, broker := newPipeClient()
	defer broker.Close()

	script := make(chan error, 1)
	go func() {
		if err := brokerAccept(broker, &ConnackPacket{ReturnCode: ConnectionAccepted}); err != nil {
			script <- err
			return
		}

		pkt, err := brokerRead(broker)
		if err != nil {
			script <- err
			return
		}
		sub, ok := pkt.(*SubscribePacket)
		if !ok || len(sub.Subscriptions) != 1 || sub.Subscriptions[0].TopicFilter != "sensors/+/temp" {
			script <- fmt.Errorf("unexpected SUBSCRIBE: %+v", pkt)
			return
		}
		if err := brokerWrite(broker, &SubackPacket{ID: sub.ID, ReturnCodes: []SubackReturnCode{SubackGrantedQoS1}}); err != nil {
			script <- err
			return
		}

		// Deliver a QoS 1 message and expect a PUBACK back.
		if err := brokerWrite(broker, &PublishPacket{Topic: "sensors/kitchen/temp", Payload: []byte("21.5"), QoS: 1, ID: 2}); err != nil {
			script <- err
			return
		}
		pkt, err = brokerRead(broker)
		if err != nil {
			script <- err
			return
		}
		ack, ok := pkt.(*PubackPacket)
		if !ok || ack.ID != 2 {
			script <- fmt.Errorf("expected PUBACK 2, got %+v", pkt)
			return
		}
		script <- nil
	}()

	require.NoError(t, client.Connect(context.Background()))

	var received []*Message
	err := client.Subscribe("sensors/+/temp", 1, func(msg *Message) {
		received = append(received, msg)
	})
	require.NoError(t, err)

	for len(received) == 0 {
		require.NoError(t, client.Loop(200*time.Millisecond))
	}
	require.NoError(t, <-script)

	require.Len(t, received, 1)
	assert.Equal(t, "sensors/kitchen/temp", received[0].Topic)
	assert.Equal(t, []byte("21.5"), received[0].Payload)
	assert.Equal(t, byte(1), received[0].QoS)
}

func TestClientSubscribeRejected(t *testing.T) {
	client, broker := newPipeClient()
	defer broker.Close()

	script := make(chan error, 1)
	go func() {
		if err := brokerAccept(broker, &ConnackPacket{ReturnCode: ConnectionAccepted}); err != nil {
			script <- err
			return
		}
		pkt, err := brokerRead(broker)
		if err != nil {
			script <- err
			return
		}
		sub := pkt.(*SubscribePacket)
		script <- brokerWrite(broker, &SubackPacket{ID: sub.ID, ReturnCodes: []SubackReturnCode{SubackFailure}})
	}()

	require.NoError(t, client.Connect(context.Background()))

	err := client.Subscribe("forbidden/#", 1, func(*Message) {})
	require.Error(t, err)
	require.NoError(t, <-script)

	// The rejected filter is not registered.
	assert.Zero(t, client.subscriptions.Count())
}

func TestClientInboundQoS2DispatchedOnce(t *testing.T) {
	client, broker := newPipeClient()
	defer broker.Close()

	script := make(chan error, 1)
	go func() {
		if err := brokerAccept(broker, &ConnackPacket{ReturnCode: ConnectionAccepted}); err != nil {
			script <- err
			return
		}

		pkt, err := brokerRead(broker)
		if err != nil {
			script <- err
			return
		}
		sub := pkt.(*SubscribePacket)
		if err := brokerWrite(broker, &SubackPacket{ID: sub.ID, ReturnCodes: []SubackReturnCode{SubackGrantedQoS2}}); err != nil {
			script <- err
			return
		}

		// Send the same QoS 2 PUBLISH twice, as if the PUBREC was lost.
		msg := &PublishPacket{Topic: "exact/once", Payload: []byte("v"), QoS: 2, ID: 9}
		if err := brokerWrite(broker, msg); err != nil {
			script <- err
			return
		}
		if _, err := brokerRead(broker); err != nil { // first PUBREC
			script <- err
			return
		}
		dup := *msg
		dup.DUP = true
		if err := brokerWrite(broker, &dup); err != nil {
			script <- err
			return
		}
		if _, err := brokerRead(broker); err != nil { // second PUBREC
			script <- err
			return
		}

		if err := brokerWrite(broker, &PubrelPacket{ID: 9}); err != nil {
			script <- err
			return
		}
		pkt, err = brokerRead(broker)
		if err != nil {
			script <- err
			return
		}
		if _, ok := pkt.(*PubcompPacket); !ok {
			script <- fmt.Errorf("expected PUBCOMP, got %+v", pkt)
			return
		}
		script <- nil
	}()

	require.NoError(t, client.Connect(context.Background()))

	var count int
	require.NoError(t, client.Subscribe("exact/once", 2, func(*Message) { count++ }))

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		require.NoError(t, client.Loop(100*time.Millisecond))
		select {
		case err := <-script:
			require.NoError(t, err)
			assert.Equal(t, 1, count)
			return
		default:
		}
	}
	t.Fatal("broker script did not finish")
}

func TestClientUnsubscribe(t *testing.T) {
	client, broker := newPipeClient()
	defer broker.Close()

	script := make(chan error, 1)
	go func() {
		if err := brokerAccept(broker, &ConnackPacket{ReturnCode: ConnectionAccepted}); err != nil {
			script <- err
			return
		}

		pkt, err := brokerRead(broker)
		if err != nil {
			script <- err
			return
		}
		sub := pkt.(*SubscribePacket)
		if err := brokerWrite(broker, &SubackPacket{ID: sub.ID, ReturnCodes: []SubackReturnCode{SubackGrantedQoS0}}); err != nil {
			script <- err
			return
		}

		pkt, err = brokerRead(broker)
		if err != nil {
			script <- err
			return
		}
		unsub, ok := pkt.(*UnsubscribePacket)
		if !ok || unsub.TopicFilters[0] != "a/b" {
			script <- fmt.Errorf("unexpected UNSUBSCRIBE: %+v", pkt)
			return
		}
		script <- brokerWrite(broker, &UnsubackPacket{ID: unsub.ID})
	}()

	require.NoError(t, client.Connect(context.Background()))
	require.NoError(t, client.Subscribe("a/b", 0, func(*Message) {}))
	require.NoError(t, client.Unsubscribe("a/b"))
	require.NoError(t, <-script)

	assert.Zero(t, client.subscriptions.Count())
}

func TestClientPing(t *testing.T) {
	client, broker := newPipeClient()
	defer broker.Close()

	script := make(chan error, 1)
	go func() {
		if err := brokerAccept(broker, &ConnackPacket{ReturnCode: ConnectionAccepted}); err != nil {
			script <- err
			return
		}
		pkt, err := brokerRead(broker)
		if err != nil {
			script <- err
			return
		}
		if _, ok := pkt.(*PingreqPacket); !ok {
			script <- fmt.Errorf("expected PINGREQ, got %+v", pkt)
			return
		}
		script <- brokerWrite(broker, &PingrespPacket{})
	}()

	require.NoError(t, client.Connect(context.Background()))
	require.NoError(t, client.Ping())
	require.NoError(t, <-script)
}

func TestClientKeepAliveTimeout(t *testing.T) {
	var lostErr error
	client, broker := newPipeClient(
		WithKeepAlive(1),
		OnDisconnect(func(_ *Client, err error) { lostErr = err }),
	)
	defer broker.Close()

	go func() {
		if err := brokerAccept(broker, &ConnackPacket{ReturnCode: ConnectionAccepted}); err != nil {
			return
		}
		// Swallow the PINGREQs and never answer.
		io.Copy(io.Discard, broker)
	}()

	require.NoError(t, client.Connect(context.Background()))

	var err error
	deadline := time.Now().Add(5 * time.Second)
	for err == nil && time.Now().Before(deadline) {
		err = client.Loop(time.Second)
	}

	require.ErrorIs(t, err, ErrKeepAliveTimeout)
	assert.ErrorIs(t, lostErr, ErrKeepAliveTimeout)
	assert.Equal(t, StateDisconnected, client.State())
}

func TestClientConnectionLost(t *testing.T) {
	client, broker := newPipeClient()

	go brokerAccept(broker, &ConnackPacket{ReturnCode: ConnectionAccepted})
	require.NoError(t, client.Connect(context.Background()))

	broker.Close()

	var err error
	deadline := time.Now().Add(3 * time.Second)
	for err == nil && time.Now().Before(deadline) {
		err = client.Loop(200 * time.Millisecond)
	}

	require.ErrorIs(t, err, ErrConnectionLost)
	assert.Equal(t, StateDisconnected, client.State())

	// No automatic reconnection: the client stays down until Connect.
	assert.ErrorIs(t, client.Ping(), ErrNotConnected)
}

func TestClientMalformedPacketEndsSession(t *testing.T) {
	client, broker := newPipeClient()
	defer broker.Close()

	go func() {
		if err := brokerAccept(broker, &ConnackPacket{ReturnCode: ConnectionAccepted}); err != nil {
			return
		}
		// Reserved packet type zero is never valid.
		broker.Write([]byte{0x00, 0x00})
	}()

	require.NoError(t, client.Connect(context.Background()))

	var err error
	deadline := time.Now().Add(3 * time.Second)
	for err == nil && time.Now().Before(deadline) {
		err = client.Loop(200 * time.Millisecond)
	}

	require.ErrorIs(t, err, ErrConnectionLost)
	assert.Equal(t, StateDisconnected, client.State())
}

func TestClientSessionResumption(t *testing.T) {
	client, broker := newPipeClient(
		WithCleanSession(false),
		WithRetryTimeout(time.Minute),
	)
	defer broker.Close()

	// Preload an unacknowledged QoS 1 delivery, as left behind by a lost
	// session.
	id, err := client.packetIDs.Allocate()
	require.NoError(t, err)
	client.tracker.TrackOutbound(id, &Message{Topic: "a/b", Payload: []byte("again"), QoS: 1}, time.Now())

	script := make(chan error, 1)
	go func() {
		if err := brokerAccept(broker, &ConnackPacket{SessionPresent: true, ReturnCode: ConnectionAccepted}); err != nil {
			script <- err
			return
		}
		pkt, err := brokerRead(broker)
		if err != nil {
			script <- err
			return
		}
		pub, ok := pkt.(*PublishPacket)
		if !ok || !pub.DUP || pub.ID != id {
			script <- fmt.Errorf("expected DUP PUBLISH %d, got %+v", id, pkt)
			return
		}
		script <- brokerWrite(broker, &PubackPacket{ID: pub.ID})
	}()

	require.NoError(t, client.Connect(context.Background()))

	// Drain the PUBACK.
	deadline := time.Now().Add(3 * time.Second)
	for client.tracker.Count() > 0 && time.Now().Before(deadline) {
		require.NoError(t, client.Loop(100*time.Millisecond))
	}
	require.NoError(t, <-script)
	assert.Zero(t, client.tracker.Count())
}

func TestClientCleanSessionDropsState(t *testing.T) {
	client, broker := newPipeClient()
	defer broker.Close()

	id, err := client.packetIDs.Allocate()
	require.NoError(t, err)
	client.tracker.TrackOutbound(id, &Message{Topic: "a/b", QoS: 1}, time.Now())

	go brokerAccept(broker, &ConnackPacket{ReturnCode: ConnectionAccepted})
	require.NoError(t, client.Connect(context.Background()))

	assert.Zero(t, client.tracker.Count())
	assert.Zero(t, client.packetIDs.InUse())
}

func TestClientResubscribeOnReconnect(t *testing.T) {
	clientEnd1, broker1 := net.Pipe()
	clientEnd2, broker2 := net.Pipe()
	defer broker2.Close()

	client := NewClient(
		WithServers("pipe:1883"),
		WithDialer(&queueDialer{conns: []net.Conn{clientEnd1, clientEnd2}}),
		WithClientID("pipe-test"),
		WithConnectTimeout(2*time.Second),
		WithWriteTimeout(2*time.Second),
	)

	script1 := make(chan error, 1)
	go func() {
		if err := brokerAccept(broker1, &ConnackPacket{ReturnCode: ConnectionAccepted}); err != nil {
			script1 <- err
			return
		}
		for i := 0; i < 2; i++ {
			pkt, err := brokerRead(broker1)
			if err != nil {
				script1 <- err
				return
			}
			sub, ok := pkt.(*SubscribePacket)
			if !ok {
				script1 <- fmt.Errorf("expected SUBSCRIBE, got %s", pkt.Type())
				return
			}
			if err := brokerWrite(broker1, &SubackPacket{ID: sub.ID, ReturnCodes: []SubackReturnCode{SubackGrantedQoS1}}); err != nil {
				script1 <- err
				return
			}
		}
		script1 <- nil
		broker1.Close()
	}()

	require.NoError(t, client.Connect(context.Background()))

	var delivered []*Message
	require.NoError(t, client.Subscribe("a/b", 1, func(msg *Message) { delivered = append(delivered, msg) }))
	require.NoError(t, client.Subscribe("c/d", 1, func(*Message) {}))
	require.NoError(t, <-script1)

	var err error
	deadline := time.Now().Add(3 * time.Second)
	for err == nil && time.Now().Before(deadline) {
		err = client.Loop(200 * time.Millisecond)
	}
	require.ErrorIs(t, err, ErrConnectionLost)

	// The registry survives the lost session.
	require.Equal(t, 2, client.subscriptions.Count())

	script2 := make(chan error, 1)
	go func() {
		if err := brokerAccept(broker2, &ConnackPacket{ReturnCode: ConnectionAccepted}); err != nil {
			script2 <- err
			return
		}
		// Both filters come back during Connect, in no particular order.
		var subs []*SubscribePacket
		for i := 0; i < 2; i++ {
			pkt, err := brokerRead(broker2)
			if err != nil {
				script2 <- err
				return
			}
			sub, ok := pkt.(*SubscribePacket)
			if !ok || len(sub.Subscriptions) != 1 {
				script2 <- fmt.Errorf("expected SUBSCRIBE, got %+v", pkt)
				return
			}
			subs = append(subs, sub)
		}
		// Grant a/b, reject c/d.
		for _, sub := range subs {
			code := SubackGrantedQoS1
			if sub.Subscriptions[0].TopicFilter == "c/d" {
				code = SubackFailure
			}
			if err := brokerWrite(broker2, &SubackPacket{ID: sub.ID, ReturnCodes: []SubackReturnCode{code}}); err != nil {
				script2 <- err
				return
			}
		}
		// The granted filter still routes to its handler.
		script2 <- brokerWrite(broker2, &PublishPacket{Topic: "a/b", Payload: []byte("back"), QoS: 0})
	}()

	require.NoError(t, client.Connect(context.Background()))

	for len(delivered) == 0 {
		require.NoError(t, client.Loop(200*time.Millisecond))
	}
	require.NoError(t, <-script2)

	assert.Equal(t, []byte("back"), delivered[0].Payload)
	assert.Equal(t, 1, client.subscriptions.Count())
	_, ok := client.subscriptions.Get("a/b")
	assert.True(t, ok)
	_, ok = client.subscriptions.Get("c/d")
	assert.False(t, ok)
	assert.Empty(t, client.pendingSubscribes)
}

func TestClientFreshSessionDropsRegistryWithoutResubscribe(t *testing.T) {
	client, broker := newPipeClient(WithResubscribe(false))
	defer broker.Close()

	// A filter registered by an earlier session.
	require.NoError(t, client.subscriptions.Subscribe("a/b", 1, func(*Message) {}))

	go brokerAccept(broker, &ConnackPacket{ReturnCode: ConnectionAccepted})
	require.NoError(t, client.Connect(context.Background()))

	assert.Zero(t, client.subscriptions.Count())
}

func TestClientResumedDeliveryExhaustedWithoutWaiter(t *testing.T) {
	client, broker := newPipeClient(
		WithCleanSession(false),
		WithRetryTimeout(50*time.Millisecond),
		WithMaxRetries(1),
	)
	defer broker.Close()

	// An unacknowledged delivery from a previous session. No Publish call
	// waits on it after the reconnect.
	id, err := client.packetIDs.Allocate()
	require.NoError(t, err)
	client.tracker.TrackOutbound(id, &Message{Topic: "a/b", Payload: []byte("stale"), QoS: 1}, time.Now())

	go func() {
		if err := brokerAccept(broker, &ConnackPacket{SessionPresent: true, ReturnCode: ConnectionAccepted}); err != nil {
			return
		}
		// Never acknowledge anything.
		io.Copy(io.Discard, broker)
	}()

	require.NoError(t, client.Connect(context.Background()))

	deadline := time.Now().Add(3 * time.Second)
	for client.tracker.Count() > 0 && time.Now().Before(deadline) {
		require.NoError(t, client.Loop(100*time.Millisecond))
	}

	// The abandoned delivery is logged and dropped, not kept as a failure.
	assert.Zero(t, client.tracker.Count())
	assert.Empty(t, client.failedDeliveries)
	assert.Zero(t, client.packetIDs.InUse())
	assert.True(t, client.IsConnected())
}

func TestGenerateClientID(t *testing.T) {
	a := generateClientID()
	b := generateClientID()

	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}
