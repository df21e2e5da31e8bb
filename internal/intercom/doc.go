// Package intercom coordinates the door station.
//
// A Coordinator owns the registration and call engines, the tone router and
// the relay bridge. Every change to them goes through one bounded lock:
// public operations such as Ring, HandleExternalTrigger or Reconfigure take
// it directly, while inbound datagrams and timer expiries are posted to a
// serialized loop that takes it in turn.
//
// Work that can block is kept outside the lock. The engines queue their
// requests while it is held, and the coordinator sends them, drives the
// relays and hands events to the Notifier sinks after it is released.
//
// Example:
//
//	c, err := intercom.New(intercom.Config{
//	    Station:     "front-door",
//	    Credentials: digest.Credentials{Username: "door", Domain: "pbx.local", Password: "secret"},
//	    Callee:      "100",
//	}, intercom.Deps{Transport: udp, Door: door, Light: light})
//	if err != nil {
//	    return err
//	}
//	if err := c.Start(ctx); err != nil {
//	    return err
//	}
//	defer c.Stop(context.Background())
package intercom
