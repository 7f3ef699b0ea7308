package minimqtt

import "time"

// keepAliveGraceFactor is the multiplier applied to the keep-alive interval
// before the broker is considered unresponsive. The protocol allows one and
// a half keep-alive periods of silence.
const keepAliveGraceFactor = 1.5

// keepAliveTracker tracks when a PINGREQ is owed and when the broker has gone
// silent for too long. Time is passed in explicitly so the timeout rules are
// deterministic under test. A keep-alive interval of zero disables tracking.
type keepAliveTracker struct {
	interval time.Duration
	lastSent time.Time
	lastRecv time.Time
}

// newKeepAliveTracker creates a tracker for the given interval in seconds.
func newKeepAliveTracker(seconds uint16, now time.Time) *keepAliveTracker {
	return &keepAliveTracker{
		interval: time.Duration(seconds) * time.Second,
		lastSent: now,
		lastRecv: now,
	}
}

// PacketSent records outgoing traffic. Any control packet resets the
// ping clock, not just PINGREQ.
func (k *keepAliveTracker) PacketSent(now time.Time) {
	k.lastSent = now
}

// PacketReceived records incoming traffic from the broker.
func (k *keepAliveTracker) PacketReceived(now time.Time) {
	k.lastRecv = now
}

// NeedsPing returns true when nothing has been sent for a full keep-alive
// interval and a PINGREQ is due.
func (k *keepAliveTracker) NeedsPing(now time.Time) bool {
	if k.interval == 0 {
		return false
	}
	return now.Sub(k.lastSent) >= k.interval
}

// Expired returns true when the broker has been silent for more than
// 1.5x the keep-alive interval.
func (k *keepAliveTracker) Expired(now time.Time) bool {
	if k.interval == 0 {
		return false
	}
	timeout := time.Duration(float64(k.interval) * keepAliveGraceFactor)
	return now.Sub(k.lastRecv) > timeout
}

// Deadline returns the instant at which the broker connection expires.
func (k *keepAliveTracker) Deadline() time.Time {
	if k.interval == 0 {
		return time.Time{}
	}
	timeout := time.Duration(float64(k.interval) * keepAliveGraceFactor)
	return k.lastRecv.Add(timeout)
}
