package mqtt

import "strings"

// TopicPrefix is the root of every topic the service uses.
const TopicPrefix = "atagone"

// unknownSegment replaces an empty topic segment.
const unknownSegment = "unknown"

// Topics builds the service's MQTT topics. Segments are sanitised with
// Segment so device ids never introduce extra levels or wildcards.
//
//	topics := mqtt.Topics{}
//	topics.State("6808-1401-3109_15-30-001-544")
//	// Returns: "atagone/state/6808-1401-3109_15-30-001-544"
type Topics struct{}

// State is the retained report snapshot for a device.
func (Topics) State(device string) string {
	return join("state", device)
}

// Command carries inbound commands for a device.
func (Topics) Command(device string) string {
	return join("command", device)
}

// Ack carries command acknowledgements for a device.
func (Topics) Ack(device string) string {
	return join("ack", device)
}

// Endpoint is the retained controller endpoint for a device.
func (Topics) Endpoint(device string) string {
	return join("endpoint", device)
}

// Health is the retained health status of a bridge instance.
func (Topics) Health(bridgeID string) string {
	return join("health", bridgeID)
}

// CommandSubscription matches commands for any device.
func (Topics) CommandSubscription() string {
	return TopicPrefix + "/command/+"
}

// ParseCommandTopic returns the device segment of a command topic.
func ParseCommandTopic(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, TopicPrefix+"/command/")
	if !ok || rest == "" || strings.Contains(rest, "/") {
		return "", false
	}
	return rest, true
}

// Segment makes s safe to use as a single topic level.
func Segment(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return unknownSegment
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '+', '#':
			return '_'
		}
		return r
	}, s)
}

func join(kind, segment string) string {
	return TopicPrefix + "/" + kind + "/" + Segment(segment)
}
