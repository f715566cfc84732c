package broker

import (
	"fmt"
	"strings"
)

// Topic layout, MQTT style. NATS transports convert separators.
//
//	<prefix>/<clientId>/readings                  devices publish readings
//	<prefix>/<clientId>/devices/<deviceId>/set    synthetic readings go back
const (
	readingsSegment = "readings"
	devicesSegment  = "devices"
	commandSegment  = "set"
)

// ReadingsFilter returns the subscription filter matching every client's
// reading topic
func ReadingsFilter(prefix string) (string, error) {
	filter := buildTopicPath(prefix, "+", readingsSegment)
	if err := validateTopicFilter(filter); err != nil {
		return "", fmt.Errorf("invalid topic prefix %q: %w", prefix, err)
	}
	return filter, nil
}

// CommandTopic returns the topic a synthetic reading for deviceID is sent to
func CommandTopic(prefix, clientID, deviceID string) (string, error) {
	if strings.Contains(deviceID, "/") {
		return "", fmt.Errorf("device id %q cannot contain '/'", deviceID)
	}
	topic := buildTopicPath(prefix, clientID, devicesSegment, deviceID, commandSegment)
	if err := validateTopicName(topic); err != nil {
		return "", err
	}
	return topic, nil
}

// ParseReadingTopic extracts the client id from a reading topic
func ParseReadingTopic(prefix, topic string) (string, error) {
	if err := validateTopicName(topic); err != nil {
		return "", err
	}

	rest := topic
	if prefix != "" {
		var ok bool
		if rest, ok = strings.CutPrefix(topic, prefix+"/"); !ok {
			return "", fmt.Errorf("topic %q is outside prefix %q", topic, prefix)
		}
	}

	clientID, tail, found := strings.Cut(rest, "/")
	if !found || tail != readingsSegment || clientID == "" {
		return "", fmt.Errorf("topic %q is not a reading topic", topic)
	}
	return clientID, nil
}

// buildTopicPath joins topic segments, skipping an empty prefix
func buildTopicPath(segments ...string) string {
	parts := make([]string, 0, len(segments))
	for i, s := range segments {
		if i == 0 && s == "" {
			continue
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, "/")
}

// validateTopicFilter validates a subscription topic filter
func validateTopicFilter(topic string) error {
	if topic == "" {
		return fmt.Errorf("topic cannot be empty")
	}

	segments := strings.Split(topic, "/")
	for i, segment := range segments {
		if segment == "" {
			return fmt.Errorf("empty segment not allowed in topic")
		}

		if strings.Contains(segment, "#") {
			if segment != "#" {
				return fmt.Errorf("# wildcard must occupy entire segment")
			}
			if i != len(segments)-1 {
				return fmt.Errorf("# wildcard must be the last segment")
			}
		}

		if strings.Contains(segment, "+") && segment != "+" {
			return fmt.Errorf("+ wildcard must occupy entire segment")
		}
	}

	return nil
}

// validateTopicName validates a publish topic name
func validateTopicName(topic string) error {
	if topic == "" {
		return fmt.Errorf("topic cannot be empty")
	}

	if strings.ContainsAny(topic, "+#") {
		return fmt.Errorf("wildcards not allowed in topic names")
	}

	for _, segment := range strings.Split(topic, "/") {
		if segment == "" {
			return fmt.Errorf("empty segment not allowed in topic")
		}
	}

	return nil
}
