package minimqtt

import (
	"errors"
	"strings"
	"unicode/utf8"
)

var (
	ErrInvalidTopicName   = errors.New("invalid topic name")
	ErrInvalidTopicFilter = errors.New("invalid topic filter")
	ErrEmptyTopic         = errors.New("topic cannot be empty")
	ErrTopicTooLong       = errors.New("topic exceeds maximum length of 65535 bytes")
)

const (
	topicSeparator      = '/'
	singleLevelWildcard = '+'
	multiLevelWildcard  = '#'
)

// ValidateTopicName validates a topic name for publishing.
// Topic names cannot contain wildcards and must be valid UTF-8.
func ValidateTopicName(topic string) error {
	if topic == "" {
		return ErrEmptyTopic
	}

	if len(topic) > maxUint16 {
		return ErrTopicTooLong
	}

	if !utf8.ValidString(topic) {
		return ErrInvalidTopicName
	}

	// Check for null character
	for _, r := range topic {
		if r == 0 {
			return ErrInvalidTopicName
		}
	}

	// Wildcards belong in filters, not names
	if containsWildcard(topic) {
		return ErrInvalidTopicName
	}

	return nil
}

// ValidateTopicFilter validates a subscription topic filter.
// Topic filters can contain wildcards but must follow wildcard rules.
func ValidateTopicFilter(filter string) error {
	if filter == "" {
		return ErrEmptyTopic
	}

	if len(filter) > maxUint16 {
		return ErrTopicTooLong
	}

	if !utf8.ValidString(filter) {
		return ErrInvalidTopicFilter
	}

	// Check for null character
	for _, r := range filter {
		if r == 0 {
			return ErrInvalidTopicFilter
		}
	}

	levels := strings.Split(filter, string(topicSeparator))

	for i, level := range levels {
		// Single-level wildcard must occupy entire level
		if strings.Contains(level, string(singleLevelWildcard)) {
			if level != string(singleLevelWildcard) {
				return ErrInvalidTopicFilter
			}
		}

		// Multi-level wildcard must be last level and occupy entire level
		if strings.Contains(level, string(multiLevelWildcard)) {
			if level != string(multiLevelWildcard) {
				return ErrInvalidTopicFilter
			}
			if i != len(levels)-1 {
				return ErrInvalidTopicFilter
			}
		}
	}

	return nil
}

// TopicMatch checks if a topic name matches a topic filter.
// This implementation avoids allocations by not using strings.Split.
func TopicMatch(filter, topic string) bool {
	if filter == "" || topic == "" {
		return false
	}

	// System topics ($SYS/) don't match wildcards at root level
	if topic[0] == '$' {
		if filter[0] == singleLevelWildcard || filter[0] == multiLevelWildcard {
			return false
		}
	}

	return matchTopicNoAlloc(filter, topic)
}

// matchTopicNoAlloc matches topic against filter without allocations.
// Levels are compared in lockstep; a trailing separator introduces an empty
// level on either side, which only '+' or '#' can match.
func matchTopicNoAlloc(filter, topic string) bool {
	fi, ti := 0, 0
	flen, tlen := len(filter), len(topic)

	for {
		// Get current filter level
		fstart := fi
		for fi < flen && filter[fi] != topicSeparator {
			fi++
		}
		flevel := filter[fstart:fi]

		// Multi-level wildcard matches everything remaining
		if flevel == "#" {
			return true
		}

		// Get current topic level
		tstart := ti
		for ti < tlen && topic[ti] != topicSeparator {
			ti++
		}
		tlevel := topic[tstart:ti]

		// Single-level wildcard matches any single level, empty included
		if flevel != "+" && flevel != tlevel {
			return false
		}

		switch {
		case fi < flen && ti < tlen:
			fi++ // skip '/'
			ti++ // skip '/'
		case fi < flen:
			// Topic exhausted: only a trailing multi-level wildcard can
			// still match, covering zero levels.
			return filter[fi+1:] == string(multiLevelWildcard)
		case ti < tlen:
			return false
		default:
			return true
		}
	}
}

// IsSystemTopic returns true if the topic is a system topic ($SYS/).
func IsSystemTopic(topic string) bool {
	return strings.HasPrefix(topic, "$SYS/") || topic == "$SYS"
}

// containsWildcard returns true if the filter contains wildcard characters.
// MQTT wildcards are # (multi-level) and + (single-level).
func containsWildcard(filter string) bool {
	return strings.ContainsAny(filter, "#+")
}
