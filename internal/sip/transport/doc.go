// Package transport provides the datagram send primitive and inbound
// callback the SIP engines run on.
//
// UDP is connected to the configured server, so Send needs no address and
// the read loop only sees datagrams from that server. Each received
// datagram is handed to the Handler exactly once, on the read goroutine.
package transport
