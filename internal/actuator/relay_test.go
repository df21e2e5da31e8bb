package actuator

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
)

// recordingPin captures every level written to a test pin.
type recordingPin struct {
	*gpiotest.Pin
	levels []gpio.Level
}

func (p *recordingPin) Out(l gpio.Level) error {
	p.levels = append(p.levels, l)
	return p.Pin.Out(l)
}

func TestGPIORelay_Pulse(t *testing.T) {
	tests := []struct {
		name      string
		activeLow bool
		want      []gpio.Level
	}{
		{name: "active high", want: []gpio.Level{gpio.Low, gpio.High, gpio.Low}},
		{name: "active low", activeLow: true, want: []gpio.Level{gpio.High, gpio.Low, gpio.High}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pin := &recordingPin{Pin: &gpiotest.Pin{N: "GPIO23"}}
			relay, err := NewGPIORelay(pin, tt.activeLow)
			if err != nil {
				t.Fatalf("NewGPIORelay() error = %v", err)
			}

			if err := relay.Pulse(context.Background(), 5*time.Millisecond); err != nil {
				t.Fatalf("Pulse() error = %v", err)
			}

			if len(pin.levels) != len(tt.want) {
				t.Fatalf("levels = %v, want %v", pin.levels, tt.want)
			}
			for i := range tt.want {
				if pin.levels[i] != tt.want[i] {
					t.Errorf("level[%d] = %v, want %v", i, pin.levels[i], tt.want[i])
				}
			}
		})
	}
}

func TestGPIORelay_PulseCancelledReleases(t *testing.T) {
	pin := &recordingPin{Pin: &gpiotest.Pin{N: "GPIO23"}}
	relay, err := NewGPIORelay(pin, false)
	if err != nil {
		t.Fatalf("NewGPIORelay() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = relay.Pulse(ctx, time.Hour)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Pulse() error = %v, want context.Canceled", err)
	}
	if got := pin.levels[len(pin.levels)-1]; got != gpio.Low {
		t.Errorf("final level = %v, want Low", got)
	}
}

func TestGPIORelay_Set(t *testing.T) {
	pin := &recordingPin{Pin: &gpiotest.Pin{N: "GPIO24"}}
	relay, err := NewGPIORelay(pin, false)
	if err != nil {
		t.Fatalf("NewGPIORelay() error = %v", err)
	}

	if err := relay.Set(context.Background(), true); err != nil {
		t.Fatalf("Set(true) error = %v", err)
	}
	if got := pin.Read(); got != gpio.High {
		t.Errorf("pin level = %v, want High", got)
	}

	if err := relay.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if got := pin.Read(); got != gpio.Low {
		t.Errorf("pin level after Release = %v, want Low", got)
	}
}

// mockPublisher captures published messages.
type mockPublisher struct {
	topics   []string
	payloads [][]byte
	err      error
}

func (m *mockPublisher) Publish(topic string, payload []byte, _ byte, _ bool) error {
	if m.err != nil {
		return m.err
	}
	m.topics = append(m.topics, topic)
	m.payloads = append(m.payloads, payload)
	return nil
}

func TestMQTTRelay_Pulse(t *testing.T) {
	pub := &mockPublisher{}
	relay := NewMQTTRelay(pub, "intercom/door-001/relay/door/command", 1)

	if err := relay.Pulse(context.Background(), 750*time.Millisecond); err != nil {
		t.Fatalf("Pulse() error = %v", err)
	}

	if len(pub.topics) != 1 || pub.topics[0] != "intercom/door-001/relay/door/command" {
		t.Fatalf("topics = %v", pub.topics)
	}

	var cmd RelayCommand
	if err := json.Unmarshal(pub.payloads[0], &cmd); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if cmd.Action != RelayActionPulse || cmd.DurationMS != 750 || cmd.On != nil {
		t.Errorf("command = %+v, want 750ms pulse", cmd)
	}
	if cmd.Timestamp == "" {
		t.Error("timestamp missing")
	}
}

func TestMQTTRelay_Set(t *testing.T) {
	pub := &mockPublisher{}
	relay := NewMQTTRelay(pub, "intercom/door-001/relay/light/command", 1)

	if err := relay.Set(context.Background(), false); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	var cmd RelayCommand
	if err := json.Unmarshal(pub.payloads[0], &cmd); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if cmd.Action != RelayActionSet || cmd.On == nil || *cmd.On {
		t.Errorf("command = %+v, want set off", cmd)
	}
}

func TestMQTTRelay_PublishError(t *testing.T) {
	boom := errors.New("not connected")
	relay := NewMQTTRelay(&mockPublisher{err: boom}, "t", 0)

	if err := relay.Pulse(context.Background(), time.Second); !errors.Is(err, boom) {
		t.Errorf("Pulse() error = %v, want %v", err, boom)
	}
}
