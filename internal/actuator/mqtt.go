package actuator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Publisher is the subset of the MQTT client used by MQTTRelay.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// RelayCommand is the payload published to a relay bridge.
type RelayCommand struct {
	Action     string `json:"action"`
	On         *bool  `json:"on,omitempty"`
	DurationMS int64  `json:"duration_ms,omitempty"`
	Timestamp  string `json:"timestamp"`
}

// Relay command actions.
const (
	RelayActionPulse = "pulse"
	RelayActionSet   = "set"
)

// MQTTRelay drives a relay owned by another device on the bus. The bridge
// on the far side is responsible for timing the pulse.
type MQTTRelay struct {
	pub   Publisher
	topic string
	qos   byte
	now   func() time.Time
}

// NewMQTTRelay creates a relay that publishes commands to topic.
func NewMQTTRelay(pub Publisher, topic string, qos byte) *MQTTRelay {
	return &MQTTRelay{pub: pub, topic: topic, qos: qos, now: time.Now}
}

// Pulse publishes a pulse command.
func (r *MQTTRelay) Pulse(_ context.Context, d time.Duration) error {
	return r.publish(RelayCommand{
		Action:     RelayActionPulse,
		DurationMS: d.Milliseconds(),
	})
}

// Set publishes a level command.
func (r *MQTTRelay) Set(_ context.Context, on bool) error {
	return r.publish(RelayCommand{
		Action: RelayActionSet,
		On:     &on,
	})
}

func (r *MQTTRelay) publish(cmd RelayCommand) error {
	cmd.Timestamp = r.now().UTC().Format(time.RFC3339)
	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshalling relay command: %w", err)
	}
	if err := r.pub.Publish(r.topic, payload, r.qos, false); err != nil {
		return fmt.Errorf("publishing relay command to %s: %w", r.topic, err)
	}
	return nil
}
