package digest

import (
	"crypto/md5" //nolint:gosec // MD5 is mandated by SIP digest authentication
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"

	icdigest "github.com/icholy/digest"
)

// Algorithm names announced in challenges.
const (
	AlgorithmMD5    = "MD5"
	AlgorithmSHA256 = "SHA-256"
)

// Header names used for the two challenge flavours.
const (
	HeaderWWWAuthenticate    = "WWW-Authenticate"
	HeaderAuthorization      = "Authorization"
	HeaderProxyAuthenticate  = "Proxy-Authenticate"
	HeaderProxyAuthorization = "Proxy-Authorization"
)

// Credential limits for the door station account.
const (
	MinUsernameLength = 3
	MaxUsernameLength = 31
)

// Credentials identify the station to the SIP server.
// Domain doubles as the registrar and the default realm.
type Credentials struct {
	Username string
	Domain   string
	Password string
}

// Validate checks the credential constraints.
func (c Credentials) Validate() error {
	if n := len(c.Username); n < MinUsernameLength || n > MaxUsernameLength {
		return fmt.Errorf("%w: username must be %d-%d characters",
			ErrInvalidCredentials, MinUsernameLength, MaxUsernameLength)
	}
	if c.Domain == "" {
		return fmt.Errorf("%w: domain is required", ErrInvalidCredentials)
	}
	if c.Password == "" {
		return fmt.Errorf("%w: password is required", ErrInvalidCredentials)
	}
	return nil
}

// Challenge holds the server-supplied parameters of one 401/407 response.
type Challenge struct {
	Realm     string
	Nonce     string
	Algorithm string
	Opaque    string

	// Header is the header the challenge arrived in; it decides which
	// header carries the answer.
	Header string
}

// ResponseHeader returns the header name the answer to this challenge
// must be sent in.
func (c Challenge) ResponseHeader() string {
	if strings.EqualFold(c.Header, HeaderProxyAuthenticate) {
		return HeaderProxyAuthorization
	}
	return HeaderAuthorization
}

// ParseChallenge parses a WWW-Authenticate or Proxy-Authenticate value.
//
// Parameters:
//   - header: the header name the value was taken from
//   - value: the raw header value, e.g. `Digest realm="door", nonce="abc123"`
//
// Returns:
//   - Challenge: the parsed parameters
//   - error: ErrInvalidChallenge if the value is not a digest challenge
func ParseChallenge(header, value string) (Challenge, error) {
	ch, err := icdigest.ParseChallenge(value)
	if err != nil {
		return Challenge{}, fmt.Errorf("%w: %v", ErrInvalidChallenge, err)
	}
	if ch.Nonce == "" {
		return Challenge{}, fmt.Errorf("%w: missing nonce", ErrInvalidChallenge)
	}
	return Challenge{
		Realm:     ch.Realm,
		Nonce:     ch.Nonce,
		Algorithm: ch.Algorithm,
		Opaque:    ch.Opaque,
		Header:    header,
	}, nil
}

// ComputeResponse returns the digest response hash for one request.
// It is deterministic and has no side effects.
func ComputeResponse(creds Credentials, ch Challenge, method, uri string) string {
	newHash := hasher(ch.Algorithm)
	ha1 := hexSum(newHash, creds.Username+":"+ch.Realm+":"+creds.Password)
	ha2 := hexSum(newHash, method+":"+uri)
	return hexSum(newHash, ha1+":"+ch.Nonce+":"+ha2)
}

// Authorization renders the full header value answering ch.
func Authorization(creds Credentials, ch Challenge, method, uri string) string {
	cred := icdigest.Credentials{
		Username:  creds.Username,
		Realm:     ch.Realm,
		Nonce:     ch.Nonce,
		URI:       uri,
		Response:  ComputeResponse(creds, ch, method, uri),
		Algorithm: algorithmName(ch.Algorithm),
		Opaque:    ch.Opaque,
	}
	return cred.String()
}

// hasher picks the hash for an announced algorithm.
// Unknown algorithms fall back to MD5.
func hasher(algorithm string) func() hash.Hash {
	if strings.EqualFold(algorithm, AlgorithmSHA256) {
		return sha256.New
	}
	return md5.New
}

func algorithmName(algorithm string) string {
	if strings.EqualFold(algorithm, AlgorithmSHA256) {
		return AlgorithmSHA256
	}
	return AlgorithmMD5
}

func hexSum(newHash func() hash.Hash, s string) string {
	h := newHash()
	h.Write([]byte(s))
	return hex.EncodeToString(h.Sum(nil))
}
