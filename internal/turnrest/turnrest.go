// Package turnrest mints ephemeral TURN credentials using the coturn REST
// scheme, so call participants never see a long-lived TURN secret.
//
// Format:
//
//	username   = <unix expiry>:<prefix>:<call session id>
//	credential = base64(hmac_sha1(shared secret, username))
//
// https://datatracker.ietf.org/doc/html/draft-uberti-behave-turn-rest
package turnrest

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/carelink/telecall/internal/ratelimit"
)

// Credentials is one short-lived TURN username/credential pair.
type Credentials struct {
	Username   string `json:"username"`
	Credential string `json:"credential"`
	ExpiresAt  int64  `json:"expiresAt"`
}

// Generator signs per-session TURN credentials against a shared secret known
// to the TURN server.
type Generator struct {
	secret []byte
	ttl    time.Duration
	prefix string
	clock  ratelimit.Clock
}

func NewGenerator(secret string, ttl time.Duration, prefix string, clock ratelimit.Clock) (*Generator, error) {
	if secret == "" {
		return nil, errors.New("shared secret is required")
	}
	if ttl <= 0 {
		return nil, errors.New("credential ttl must be positive")
	}
	if prefix == "" || strings.Contains(prefix, ":") {
		return nil, fmt.Errorf("invalid username prefix %q", prefix)
	}
	if clock == nil {
		clock = ratelimit.RealClock{}
	}
	return &Generator{secret: []byte(secret), ttl: ttl, prefix: prefix, clock: clock}, nil
}

// ForSession mints credentials scoped to one call session. The session id
// lands in the TURN username, which keeps relay allocations attributable in
// the TURN server's logs.
func (g *Generator) ForSession(sessionID string) (Credentials, error) {
	if sessionID == "" || strings.Contains(sessionID, ":") {
		return Credentials{}, fmt.Errorf("invalid session id %q", sessionID)
	}

	expiry := g.clock.Now().UTC().Add(g.ttl).Unix()
	username := fmt.Sprintf("%d:%s:%s", expiry, g.prefix, sessionID)

	mac := hmac.New(sha1.New, g.secret)
	mac.Write([]byte(username))

	return Credentials{
		Username:   username,
		Credential: base64.StdEncoding.EncodeToString(mac.Sum(nil)),
		ExpiresAt:  expiry,
	}, nil
}
