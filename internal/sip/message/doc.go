// Package message turns the engines' structured requests into SIP wire
// bytes and parses inbound datagrams back into the few fields the engines
// act on.
//
// Serialisation and parsing are done with the sip package of
// github.com/emiago/sipgo. The engines never see header syntax: they fill
// in a Request (method, target, identifiers, sequence number, optional
// authorization) and receive a Response or InboundRequest.
package message
