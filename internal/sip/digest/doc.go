// Package digest implements the challenge-response authentication used when
// a SIP server answers REGISTER or INVITE with 401 or 407.
//
// The response hash follows the classic scheme without qop:
//
//	HA1      = H(username ":" realm ":" password)
//	HA2      = H(method ":" request-uri)
//	response = H(HA1 ":" nonce ":" HA2)
//
// H is MD5 unless the challenge announces SHA-256. Output is lowercase hex.
// Header parsing and rendering are delegated to github.com/icholy/digest so
// the wire form matches what other SIP user agents emit.
//
// ComputeResponse is a pure function. A malformed challenge still yields a
// hash; the server rejects it and the caller handles that as a protocol
// failure.
package digest
