package minimqtt

import (
	"errors"
	"time"
)

var (
	ErrPacketIDExhausted = errors.New("no available packet IDs")
	ErrPacketIDNotFound  = errors.New("packet ID not found")
)

// PacketIDManager manages allocation and release of packet IDs (1-65535).
// It does no locking of its own, callers serialize access.
type PacketIDManager struct {
	used   map[uint16]struct{}
	next   uint16
	maxIDs int
}

// NewPacketIDManager creates a new packet ID manager.
func NewPacketIDManager() *PacketIDManager {
	return &PacketIDManager{
		used:   make(map[uint16]struct{}),
		next:   1,
		maxIDs: 65535,
	}
}

// Allocate returns the next available packet ID.
// IDs wrap from 65535 back to 1, skipping IDs still in use.
func (m *PacketIDManager) Allocate() (uint16, error) {
	if len(m.used) >= m.maxIDs {
		return 0, ErrPacketIDExhausted
	}

	start := m.next
	for {
		if _, ok := m.used[m.next]; !ok {
			id := m.next
			m.used[id] = struct{}{}
			m.next++
			if m.next == 0 {
				m.next = 1
			}
			return id, nil
		}
		m.next++
		if m.next == 0 {
			m.next = 1
		}
		if m.next == start {
			return 0, ErrPacketIDExhausted
		}
	}
}

// Release releases a packet ID for reuse.
func (m *PacketIDManager) Release(id uint16) error {
	if _, ok := m.used[id]; !ok {
		return ErrPacketIDNotFound
	}
	delete(m.used, id)
	return nil
}

// IsUsed returns true if the packet ID is currently in use.
func (m *PacketIDManager) IsUsed(id uint16) bool {
	_, ok := m.used[id]
	return ok
}

// InUse returns the count of packet IDs currently in use.
func (m *PacketIDManager) InUse() int {
	return len(m.used)
}

// DeliveryDirection indicates which side of a QoS flow a delivery is on.
type DeliveryDirection int

const (
	// DeliveryOutbound is a PUBLISH this client sent and must see acknowledged.
	DeliveryOutbound DeliveryDirection = 0

	// DeliveryInbound is a QoS 2 PUBLISH received from the broker whose
	// PUBREL has not arrived yet.
	DeliveryInbound DeliveryDirection = 1
)

// DeliveryState is the acknowledgment a delivery is waiting for.
type DeliveryState int

const (
	// Outbound states
	DeliveryAwaitingPuback  DeliveryState = 0
	DeliveryAwaitingPubrec  DeliveryState = 1
	DeliveryAwaitingPubcomp DeliveryState = 2

	// Inbound QoS 2 state
	DeliveryAwaitingPubrel DeliveryState = 3
)

// Delivery is one in-flight QoS 1 or QoS 2 message.
type Delivery struct {
	PacketID  uint16
	Direction DeliveryDirection
	QoS       byte
	State     DeliveryState

	// Message is retained for retransmission on outbound deliveries and for
	// deferred dispatch on inbound QoS 2 deliveries.
	Message *Message

	SentAt     time.Time
	RetryCount int

	// Dispatched marks an inbound QoS 2 message whose handlers have already
	// run. A duplicate PUBLISH with the same packet ID must not run them again.
	Dispatched bool
}

// DeliveryTracker tracks in-flight QoS 1 and QoS 2 deliveries by packet ID.
// It does no locking of its own, callers serialize access. Time is passed in
// explicitly so retry behavior is deterministic under test.
type DeliveryTracker struct {
	deliveries   map[uint16]*Delivery
	retryTimeout time.Duration
	maxRetries   int
}

// NewDeliveryTracker creates a new delivery tracker.
func NewDeliveryTracker(retryTimeout time.Duration, maxRetries int) *DeliveryTracker {
	return &DeliveryTracker{
		deliveries:   make(map[uint16]*Delivery),
		retryTimeout: retryTimeout,
		maxRetries:   maxRetries,
	}
}

// TrackOutbound starts tracking a sent QoS 1 or QoS 2 PUBLISH.
func (t *DeliveryTracker) TrackOutbound(packetID uint16, msg *Message, now time.Time) {
	state := DeliveryAwaitingPuback
	if msg.QoS == 2 {
		state = DeliveryAwaitingPubrec
	}

	t.deliveries[packetID] = &Delivery{
		PacketID:  packetID,
		Direction: DeliveryOutbound,
		QoS:       msg.QoS,
		State:     state,
		Message:   msg,
		SentAt:    now,
	}
}

// TrackInbound starts tracking a received QoS 2 PUBLISH awaiting its PUBREL.
// Returns the existing delivery when the packet ID is already tracked, so a
// duplicate PUBLISH does not reset or re-dispatch the flow.
func (t *DeliveryTracker) TrackInbound(packetID uint16, msg *Message, now time.Time) *Delivery {
	if existing, ok := t.deliveries[packetID]; ok && existing.Direction == DeliveryInbound {
		return existing
	}

	d := &Delivery{
		PacketID:  packetID,
		Direction: DeliveryInbound,
		QoS:       2,
		State:     DeliveryAwaitingPubrel,
		Message:   msg,
		SentAt:    now,
	}
	t.deliveries[packetID] = d
	return d
}

// HandlePuback completes an outbound QoS 1 delivery.
func (t *DeliveryTracker) HandlePuback(packetID uint16) (*Delivery, bool) {
	d, ok := t.deliveries[packetID]
	if !ok || d.State != DeliveryAwaitingPuback {
		return nil, false
	}
	delete(t.deliveries, packetID)
	return d, true
}

// HandlePubrec advances an outbound QoS 2 delivery to awaiting PUBCOMP.
// The retry clock restarts for the PUBREL leg.
func (t *DeliveryTracker) HandlePubrec(packetID uint16, now time.Time) (*Delivery, bool) {
	d, ok := t.deliveries[packetID]
	if !ok || d.State != DeliveryAwaitingPubrec {
		return nil, false
	}
	d.State = DeliveryAwaitingPubcomp
	d.SentAt = now
	d.RetryCount = 0
	return d, true
}

// HandlePubcomp completes an outbound QoS 2 delivery.
func (t *DeliveryTracker) HandlePubcomp(packetID uint16) (*Delivery, bool) {
	d, ok := t.deliveries[packetID]
	if !ok || d.State != DeliveryAwaitingPubcomp {
		return nil, false
	}
	delete(t.deliveries, packetID)
	return d, true
}

// HandlePubrel completes an inbound QoS 2 delivery. A PUBCOMP must be sent
// whether or not the delivery is still tracked: a missing entry means the
// broker retransmitted PUBREL after our PUBCOMP was lost.
func (t *DeliveryTracker) HandlePubrel(packetID uint16) *Delivery {
	d, ok := t.deliveries[packetID]
	if !ok || d.State != DeliveryAwaitingPubrel {
		return nil
	}
	delete(t.deliveries, packetID)
	return d
}

// Get returns a tracked delivery.
func (t *DeliveryTracker) Get(packetID uint16) (*Delivery, bool) {
	d, ok := t.deliveries[packetID]
	return d, ok
}

// Remove removes a delivery from tracking.
func (t *DeliveryTracker) Remove(packetID uint16) bool {
	if _, ok := t.deliveries[packetID]; !ok {
		return false
	}
	delete(t.deliveries, packetID)
	return true
}

// Count returns the number of in-flight deliveries.
func (t *DeliveryTracker) Count() int {
	return len(t.deliveries)
}

// DueForRetry returns outbound deliveries whose acknowledgment is overdue and
// that still have retries left. Each returned delivery has its retry count
// incremented and its clock reset, so callers must retransmit them.
func (t *DeliveryTracker) DueForRetry(now time.Time) []*Delivery {
	var due []*Delivery
	for _, d := range t.deliveries {
		if d.Direction != DeliveryOutbound {
			continue
		}
		if now.Sub(d.SentAt) <= t.retryTimeout {
			continue
		}
		if d.RetryCount >= t.maxRetries {
			continue
		}
		d.RetryCount++
		d.SentAt = now
		due = append(due, d)
	}
	return due
}

// Exhausted removes and returns outbound deliveries that have used all their
// retries and are overdue again. These deliveries have failed.
func (t *DeliveryTracker) Exhausted(now time.Time) []*Delivery {
	var failed []*Delivery
	for packetID, d := range t.deliveries {
		if d.Direction != DeliveryOutbound {
			continue
		}
		if d.RetryCount < t.maxRetries {
			continue
		}
		if now.Sub(d.SentAt) <= t.retryTimeout {
			continue
		}
		delete(t.deliveries, packetID)
		failed = append(failed, d)
	}
	return failed
}

// Outbound returns all in-flight outbound deliveries.
// Used to resend unacknowledged messages after a session resumption.
func (t *DeliveryTracker) Outbound() []*Delivery {
	var out []*Delivery
	for _, d := range t.deliveries {
		if d.Direction == DeliveryOutbound {
			out = append(out, d)
		}
	}
	return out
}

// Clear drops all tracked deliveries.
// Used when a connection starts with a clean session.
func (t *DeliveryTracker) Clear() {
	t.deliveries = make(map[uint16]*Delivery)
}

// RetryTimeout returns the configured retry timeout.
func (t *DeliveryTracker) RetryTimeout() time.Duration {
	return t.retryTimeout
}
