package digest

import "errors"

// Domain errors for the digest package.
var (
	// ErrInvalidCredentials is returned when credentials fail validation.
	ErrInvalidCredentials = errors.New("digest: invalid credentials")

	// ErrInvalidChallenge is returned when a challenge header cannot be parsed.
	ErrInvalidChallenge = errors.New("digest: invalid challenge")
)
