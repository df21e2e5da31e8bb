// Package api serves the door station's HTTP API and live event stream.
//
// Routes live under /api/v1. Reads (status, relays, config, event and call
// history, the /ws event stream) are public; everything that opens the door,
// places or ends a call, or changes configuration requires an HS256 bearer
// token signed with security.jwt.secret. Prometheus metrics are served on
// /metrics.
//
//	server, err := api.New(api.Deps{Controller: coord, Logger: logger, ...})
//	if err != nil {
//	    return err
//	}
//	if err := server.Start(ctx); err != nil {
//	    return err
//	}
//	defer server.Close()
//
// The WebSocket Hub implements intercom.Notifier; register it with the
// coordinator so clients receive every event.
package api
