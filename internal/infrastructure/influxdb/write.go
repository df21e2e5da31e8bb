package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	measurementCalls        = "intercom_calls"
	measurementActuations   = "intercom_actuations"
	measurementRegistration = "intercom_registration"
)

// WriteCall records a finished call.
//
// Parameters:
//   - station: station ID, stored as a tag
//   - callID: SIP Call-ID, stored as a field (high cardinality)
//   - outcome: "completed", "cancelled" or "failed"
//   - reason: failure reason, empty on success
//   - duration: connected time; zero for calls that never connected
//
// The write is non-blocking; points are batched and sent asynchronously.
func (c *Client) WriteCall(station, callID, outcome, reason string, duration time.Duration, at time.Time) {
	c.write(callPoint(station, callID, outcome, reason, duration, at))
}

// WriteActuation records a door or light command and whether the relay
// accepted it.
func (c *Client) WriteActuation(station, command, source string, ok bool, at time.Time) {
	c.write(actuationPoint(station, command, source, ok, at))
}

// WriteRegistration records a registration state change.
func (c *Client) WriteRegistration(station, state string, at time.Time) {
	c.write(registrationPoint(station, state, at))
}

// WritePoint writes a custom point stamped with the current time.
//
// Example:
//
//	client.WritePoint("intercom_process",
//	    map[string]string{"station": "front-door"},
//	    map[string]interface{}{"uptime_s": 3600})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	c.write(write.NewPoint(measurement, tags, fields, time.Now()))
}

func (c *Client) write(point *write.Point) {
	if c == nil {
		return
	}
	if !c.IsConnected() {
		c.dropped.Add(1)
		return
	}
	c.writeAPI.WritePoint(point)
}

func callPoint(station, callID, outcome, reason string, duration time.Duration, at time.Time) *write.Point {
	fields := map[string]interface{}{
		"call_id":    callID,
		"duration_s": duration.Seconds(),
	}
	if reason != "" {
		fields["reason"] = reason
	}
	return write.NewPoint(
		measurementCalls,
		map[string]string{"station": station, "outcome": outcome},
		fields,
		at,
	)
}

func actuationPoint(station, command, source string, ok bool, at time.Time) *write.Point {
	return write.NewPoint(
		measurementActuations,
		map[string]string{"station": station, "command": command, "source": source},
		map[string]interface{}{"ok": ok},
		at,
	)
}

func registrationPoint(station, state string, at time.Time) *write.Point {
	return write.NewPoint(
		measurementRegistration,
		map[string]string{"station": station},
		map[string]interface{}{"state": state, "registered": state == "registered"},
		at,
	)
}
