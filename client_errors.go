package minimqtt

import (
	"errors"
	"fmt"
)

// Sentinel errors for connection lifecycle - check with errors.Is().
var (
	// ErrConnectionRefused is returned when the broker rejects the CONNECT.
	ErrConnectionRefused = errors.New("connection refused")

	// ErrConnectionLost is returned when the connection fails unexpectedly.
	ErrConnectionLost = errors.New("connection lost")

	// ErrKeepAliveTimeout is returned when the broker stays silent past
	// 1.5x the keep-alive interval.
	ErrKeepAliveTimeout = errors.New("keep-alive timeout")

	// ErrConnectTimeout is returned when the broker does not answer the
	// CONNECT within the configured timeout.
	ErrConnectTimeout = errors.New("connect timeout")
)

// Sentinel errors for operations - check with errors.Is().
var (
	// ErrDeliveryFailed is returned when a QoS 1 or 2 publish exhausts its retries.
	ErrDeliveryFailed = errors.New("delivery failed")

	// ErrNotConnected is returned when an operation requires an active connection.
	ErrNotConnected = errors.New("not connected")

	// ErrAlreadyConnected is returned when Connect is called on a live session.
	ErrAlreadyConnected = errors.New("already connected")

	// ErrClientClosed is returned when an operation is attempted on a closed client.
	ErrClientClosed = errors.New("client closed")

	// ErrPayloadTooLarge is returned when a publish payload exceeds the
	// configured size limit.
	ErrPayloadTooLarge = errors.New("payload too large")
)

// ConnectError is returned when the broker refuses a connection.
// Extract with errors.As() to inspect the CONNACK return code.
type ConnectError struct {
	err        error
	ReturnCode ConnectReturnCode
}

func (e *ConnectError) Error() string { return e.ReturnCode.String() }
func (e *ConnectError) Unwrap() error { return e.err }

// NewConnectError creates a ConnectError from a CONNACK return code.
func NewConnectError(code ConnectReturnCode) *ConnectError {
	return &ConnectError{
		err:        ErrConnectionRefused,
		ReturnCode: code,
	}
}

// ConnectionLostError is returned when the session drops unexpectedly.
// Extract with errors.As() to inspect the underlying cause.
type ConnectionLostError struct {
	err   error
	Cause error
}

func (e *ConnectionLostError) Error() string {
	if e.Cause != nil {
		return "connection lost: " + e.Cause.Error()
	}
	return "connection lost"
}

func (e *ConnectionLostError) Unwrap() error { return e.err }

// NewConnectionLostError creates a ConnectionLostError wrapping the cause.
func NewConnectionLostError(cause error) *ConnectionLostError {
	return &ConnectionLostError{
		err:   errors.Join(ErrConnectionLost, cause),
		Cause: cause,
	}
}

// DeliveryError is returned when a QoS 1 or 2 publish was retransmitted the
// maximum number of times without acknowledgment. The session stays up.
// Extract with errors.As().
type DeliveryError struct {
	err      error
	Topic    string
	PacketID uint16
	Retries  int
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery failed: topic %q packet %d after %d retries", e.Topic, e.PacketID, e.Retries)
}

func (e *DeliveryError) Unwrap() error { return e.err }

// NewDeliveryError creates a DeliveryError for an abandoned publish.
func NewDeliveryError(topic string, packetID uint16, retries int) *DeliveryError {
	return &DeliveryError{
		err:      ErrDeliveryFailed,
		Topic:    topic,
		PacketID: packetID,
		Retries:  retries,
	}
}
