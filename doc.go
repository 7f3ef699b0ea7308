// Package minimqtt implements an MQTT 3.1.1 client protocol engine for
// constrained hosts.
//
// This package implements the client side of the MQTT Version 3.1.1 OASIS
// Standard: https://docs.oasis-open.org/mqtt/mqtt/v3.1.1/mqtt-v3.1.1.html
//
// # Features
//
//   - All 14 MQTT 3.1.1 control packet types
//   - QoS 0, 1, 2 message flows with retransmission and deduplication
//   - Topic matching with wildcard support (+, #)
//   - Keep-alive tracking with broker liveness detection
//   - Session resumption with DUP retransmission
//   - Transport: TCP, TLS, QUIC, HTTP CONNECT and SOCKS5 proxies
//   - Cooperative engine: no internal goroutines, the caller pumps the
//     connection with Loop
//
// # Packet Types
//
// The package provides structs for all MQTT 3.1.1 control packets:
//
//   - ConnectPacket, ConnackPacket: Connection establishment
//   - PublishPacket, PubackPacket, PubrecPacket, PubrelPacket, PubcompPacket: Message delivery
//   - SubscribePacket, SubackPacket: Topic subscription
//   - UnsubscribePacket, UnsubackPacket: Topic unsubscription
//   - PingreqPacket, PingrespPacket: Keep-alive
//   - DisconnectPacket: Connection termination
//
// Use ReadPacket and WritePacket to read/write packets from/to connections,
// or DecodePacket to decode from a byte buffer filled elsewhere:
//
//	// Read a packet
//	pkt, n, err := minimqtt.ReadPacket(conn, maxPacketSize)
//
//	// Decode from a buffer; errors.Is(err, ErrIncompletePacket) means
//	// more bytes are needed
//	pkt, consumed, err := minimqtt.DecodePacket(buf, maxPacketSize)
//
//	// Write a packet
//	n, err := minimqtt.WritePacket(conn, packet, maxPacketSize)
//
// # Client
//
// The Client owns a single broker session and never spawns goroutines. After
// Connect, call Loop regularly to service the connection:
//
//	client := minimqtt.NewClient(
//	    minimqtt.WithServers("localhost:1883"),
//	    minimqtt.WithClientID("my-client"),
//	    minimqtt.WithKeepAlive(60),
//	)
//
//	if err := client.Connect(context.Background()); err != nil {
//	    log.Fatal(err)
//	}
//
//	client.Subscribe("sensors/+/temperature", 1, func(msg *minimqtt.Message) {
//	    fmt.Printf("%s: %s\n", msg.Topic, msg.Payload)
//	})
//
//	for client.IsConnected() {
//	    client.Loop(time.Second)
//	}
//
// The client never reconnects on its own. When the session drops, Loop
// returns the cause and the caller decides whether to call Connect again.
//
// TLS connections:
//
//	client := minimqtt.NewClient(
//	    minimqtt.WithServers("localhost:8883"),
//	    minimqtt.WithTLS(&tls.Config{}),
//	)
//
// # Error Handling
//
// Errors are wrapped with sentinel errors for programmatic handling:
//
//	if errors.Is(err, minimqtt.ErrConnectionRefused) {
//	    var connErr *minimqtt.ConnectError
//	    if errors.As(err, &connErr) {
//	        fmt.Println(connErr.ReturnCode)
//	    }
//	}
package minimqtt
