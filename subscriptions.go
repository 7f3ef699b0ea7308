package minimqtt

import "strings"

// MessageHandler is invoked for each received PUBLISH matching a subscription.
type MessageHandler func(msg *Message)

// registeredSubscription is a subscription held by the registry.
type registeredSubscription struct {
	Filter  string
	QoS     byte
	Handler MessageHandler
}

// SubscriptionRegistry maps topic filters to handlers and answers which
// handlers match an incoming topic. Filters are unique: subscribing to an
// existing filter replaces its QoS and handler. The registry does no locking
// of its own, callers serialize access.
type SubscriptionRegistry struct {
	root    *topicNode
	filters map[string]*registeredSubscription
}

type topicNode struct {
	children    map[string]*topicNode
	subscribers []*registeredSubscription
}

// NewSubscriptionRegistry creates an empty subscription registry.
func NewSubscriptionRegistry() *SubscriptionRegistry {
	return &SubscriptionRegistry{
		root: &topicNode{
			children: make(map[string]*topicNode),
		},
		filters: make(map[string]*registeredSubscription),
	}
}

// Subscribe registers a handler for the given topic filter.
// A second subscribe with the same filter replaces the previous entry.
func (r *SubscriptionRegistry) Subscribe(filter string, qos byte, handler MessageHandler) error {
	if err := ValidateTopicFilter(filter); err != nil {
		return err
	}
	if qos > 2 {
		return ErrInvalidQoS
	}

	if existing, ok := r.filters[filter]; ok {
		existing.QoS = qos
		existing.Handler = handler
		return nil
	}

	entry := &registeredSubscription{
		Filter:  filter,
		QoS:     qos,
		Handler: handler,
	}

	levels := strings.Split(filter, string(topicSeparator))
	node := r.root

	for _, level := range levels {
		if node.children == nil {
			node.children = make(map[string]*topicNode)
		}

		child, ok := node.children[level]
		if !ok {
			child = &topicNode{
				children: make(map[string]*topicNode),
			}
			node.children[level] = child
		}
		node = child
	}

	node.subscribers = append(node.subscribers, entry)
	r.filters[filter] = entry
	return nil
}

// Unsubscribe removes the subscription for the given filter.
// Returns false if the filter was not subscribed.
func (r *SubscriptionRegistry) Unsubscribe(filter string) bool {
	entry, ok := r.filters[filter]
	if !ok {
		return false
	}
	delete(r.filters, filter)

	levels := strings.Split(filter, string(topicSeparator))
	node := r.root

	for _, level := range levels {
		child, ok := node.children[level]
		if !ok {
			return true
		}
		node = child
	}

	for i, s := range node.subscribers {
		if s == entry {
			node.subscribers = append(node.subscribers[:i], node.subscribers[i+1:]...)
			break
		}
	}

	return true
}

// Match returns every subscription whose filter matches the topic.
func (r *SubscriptionRegistry) Match(topic string) []*registeredSubscription {
	if err := ValidateTopicName(topic); err != nil {
		return nil
	}

	levels := strings.Split(topic, string(topicSeparator))
	isSystemTopic := topic[0] == '$'

	var matched []*registeredSubscription
	r.matchNode(r.root, levels, 0, isSystemTopic, &matched)
	return matched
}

func (r *SubscriptionRegistry) matchNode(node *topicNode, levels []string, idx int, isSystemTopic bool, matched *[]*registeredSubscription) {
	if node == nil {
		return
	}

	// Multi-level wildcard matches everything remaining
	if !isSystemTopic || idx > 0 {
		if child, ok := node.children[string(multiLevelWildcard)]; ok {
			*matched = append(*matched, child.subscribers...)
		}
	}

	// All levels matched
	if idx >= len(levels) {
		*matched = append(*matched, node.subscribers...)
		return
	}

	level := levels[idx]

	// Exact match
	if child, ok := node.children[level]; ok {
		r.matchNode(child, levels, idx+1, isSystemTopic, matched)
	}

	// Single-level wildcard (not for system topics at root)
	if !isSystemTopic || idx > 0 {
		if child, ok := node.children[string(singleLevelWildcard)]; ok {
			r.matchNode(child, levels, idx+1, isSystemTopic, matched)
		}
	}
}

// Get returns the registered subscription for a filter.
func (r *SubscriptionRegistry) Get(filter string) (*registeredSubscription, bool) {
	entry, ok := r.filters[filter]
	return entry, ok
}

// Clear drops every registered subscription.
// Used when a clean-session connect starts with no broker-side state and
// resubscription is disabled.
func (r *SubscriptionRegistry) Clear() {
	r.root = &topicNode{children: make(map[string]*topicNode)}
	r.filters = make(map[string]*registeredSubscription)
}

// Subscriptions returns the registered filters and QoS levels.
// Used to rebuild broker state after a reconnect.
func (r *SubscriptionRegistry) Subscriptions() []Subscription {
	subs := make([]Subscription, 0, len(r.filters))
	for _, entry := range r.filters {
		subs = append(subs, Subscription{
			TopicFilter: entry.Filter,
			QoS:         entry.QoS,
		})
	}
	return subs
}

// Count returns the number of registered filters.
func (r *SubscriptionRegistry) Count() int {
	return len(r.filters)
}
