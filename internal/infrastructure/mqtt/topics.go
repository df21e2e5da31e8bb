package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefix is the root of every intercom topic.
//
// Layout: intercom/{station}/{category}[/{name}]
const TopicPrefix = "intercom"

// Topics builds the MQTT topics of one door station.
//
//	topics := mqtt.Topics{Station: "front-door"}
//	topics.Event("call_changed")
//	// Returns: "intercom/front-door/events/call_changed"
type Topics struct {
	Station string
}

func (t Topics) base() string {
	return fmt.Sprintf("%s/%s", TopicPrefix, t.Station)
}

// Status returns the retained online/offline topic, also used as the LWT.
//
// Example: intercom/front-door/status
func (t Topics) Status() string {
	return t.base() + "/status"
}

// Event returns the topic an event type is published on.
//
// Example: intercom/front-door/events/tone_received
func (t Topics) Event(eventType string) string {
	return fmt.Sprintf("%s/events/%s", t.base(), eventType)
}

// Command returns the topic a remote command is received on.
//
// Example: intercom/front-door/command/ring
func (t Topics) Command(name string) string {
	return fmt.Sprintf("%s/command/%s", t.base(), name)
}

// RelaySet returns the topic relay commands are sent to when the relays are
// driven by an external bridge.
//
// Example: intercom/front-door/relay/door/set
func (t Topics) RelaySet(address string) string {
	return fmt.Sprintf("%s/relay/%s/set", t.base(), address)
}

// AllEvents matches every event of the station.
//
// Pattern: intercom/front-door/events/+
func (t Topics) AllEvents() string {
	return t.base() + "/events/+"
}

// AllCommands matches every remote command of the station.
//
// Pattern: intercom/front-door/command/+
func (t Topics) AllCommands() string {
	return t.base() + "/command/+"
}

// CommandName extracts the command name from a topic matched by
// AllCommands. It reports false for other topics.
func (t Topics) CommandName(topic string) (string, bool) {
	name, ok := strings.CutPrefix(topic, t.base()+"/command/")
	if !ok || name == "" || strings.Contains(name, "/") {
		return "", false
	}
	return name, true
}
