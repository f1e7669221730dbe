package core

import (
	"crypto/subtle"
	"strings"
	"time"
)

// minTokenLength is the shortest HTTP auth token accepted without a warning.
const minTokenLength = 16

var weakTokenFragments = []string{
	"password", "secret", "token", "admin", "test", "default", "12345", "pottypal",
}

// SecureCompareString compares a and b in constant time.
func SecureCompareString(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// ValidateAuthToken reports why a configured token is unsuitable, or nil.
func ValidateAuthToken(token string) error {
	if token == "" {
		return NewError(ErrInvalidParameter, "authentication token cannot be empty").
			WithGuidance("Set -http-auth-token or POTTYPAL_HTTP_TOKEN.")
	}
	if len(token) < minTokenLength {
		return NewError(ErrInvalidParameter, "authentication token is too short").
			WithGuidance("Use a token with at least 16 characters.")
	}
	lower := strings.ToLower(token)
	for _, weak := range weakTokenFragments {
		if strings.Contains(lower, weak) {
			return NewError(ErrInvalidParameter, "authentication token appears to be weak").
				WithGuidance("Use a randomly generated token.")
		}
	}
	return nil
}

// AuthResult is the outcome of one authentication attempt.
type AuthResult struct {
	Authorized bool
	Error      string
	Duration   time.Duration
}

func authResult(start time.Time, reason string) AuthResult {
	return AuthResult{Authorized: reason == "", Error: reason, Duration: time.Since(start)}
}

// AuthenticateBearer checks an Authorization header against expected.
func AuthenticateBearer(header, expected string) AuthResult {
	start := time.Now()
	if header == "" {
		return authResult(start, "Missing Authorization header")
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return authResult(start, "Invalid Authorization header format")
	}
	if !SecureCompareString(token, expected) {
		return authResult(start, "Invalid bearer token")
	}
	return authResult(start, "")
}

// AuthenticateBasic checks basic auth credentials against expected, given
// as "user:password".
func AuthenticateBasic(user, password, expected string) AuthResult {
	start := time.Now()
	if user == "" || password == "" {
		return authResult(start, "Missing basic auth credentials")
	}
	if !SecureCompareString(user+":"+password, expected) {
		return authResult(start, "Invalid basic auth credentials")
	}
	return authResult(start, "")
}
