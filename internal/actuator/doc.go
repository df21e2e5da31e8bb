// Package actuator turns routed commands into relay actions.
//
// The Bridge plans each command while its owner holds the state lock and
// returns an Action describing the hardware side; Apply performs that side
// after the lock is released, so a door pulse never blocks signalling.
//
// Safety interlocks:
//   - Pulse length is bounded to 100-10000 ms.
//   - The door relay has a cool-down window (default 5 s). A second opening
//     inside the window is refused with ErrBusy whatever its source.
//   - After a door opening the call is hung up automatically once the
//     auto-hangup timer fires. Re-arming replaces the pending timer.
//
// Relay drivers:
//   - GPIORelay drives a pin through periph.io.
//   - MQTTRelay publishes commands to a relay bridge on the bus.
//   - MemoryRelay keeps state in memory for tests and dry runs.
package actuator
