package minimqtt

import (
	"crypto/tls"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultOptions(t *testing.T) {
	o := defaultOptions()

	assert.Equal(t, uint16(60), o.keepAlive)
	assert.True(t, o.cleanSession)
	assert.Equal(t, 10*time.Second, o.connectTimeout)
	assert.Equal(t, 5*time.Second, o.retryTimeout)
	assert.Equal(t, 5, o.maxRetries)
	assert.True(t, o.resumeDeliveries)
	assert.True(t, o.resubscribe)
	assert.Equal(t, MaxPacketSizeDefault, o.maxPacketSize)
	assert.IsType(t, &NoOpLogger{}, o.logger)
}

func TestApplyOptions(t *testing.T) {
	o := applyOptions(
		WithClientID("opt-test"),
		WithCredentials("user", "pass"),
		WithKeepAlive(30),
		WithCleanSession(false),
		WithTLS(&tls.Config{}),
		WithConnectTimeout(time.Second),
		WithRetryTimeout(2*time.Second),
		WithMaxRetries(7),
		WithWill("status/opt-test", []byte("gone"), true, 1),
		WithSessionResumption(false),
		WithResubscribe(false),
		WithMaxPayloadSize(1024),
		WithServers("a:1883", "b:1883"),
	)

	assert.Equal(t, "opt-test", o.clientID)
	assert.Equal(t, "user", o.username)
	assert.Equal(t, []byte("pass"), o.password)
	assert.Equal(t, uint16(30), o.keepAlive)
	assert.False(t, o.cleanSession)
	assert.NotNil(t, o.tlsConfig)
	assert.Equal(t, time.Second, o.connectTimeout)
	assert.Equal(t, 2*time.Second, o.retryTimeout)
	assert.Equal(t, 7, o.maxRetries)
	assert.Equal(t, "status/opt-test", o.willTopic)
	assert.Equal(t, byte(1), o.willQoS)
	assert.False(t, o.resumeDeliveries)
	assert.False(t, o.resubscribe)
	assert.Equal(t, uint32(1024), o.maxPayloadSize)
	assert.Equal(t, []string{"a:1883", "b:1883"}, o.servers)
}

func TestWithMaxPacketSizeClamped(t *testing.T) {
	o := applyOptions(WithMaxPacketSize(MaxPacketSizeProtocol + 1))
	assert.Equal(t, MaxPacketSizeProtocol, o.maxPacketSize)
}

func TestWithLoggerNilIgnored(t *testing.T) {
	o := applyOptions(WithLogger(nil))
	assert.NotNil(t, o.logger)
}
