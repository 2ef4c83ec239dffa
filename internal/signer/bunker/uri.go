package bunker

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Scheme is the only accepted connection URI scheme. URIs are validated in
// full before any relay is dialed.
const Scheme = "bunker"

var ErrInvalidURI = errors.New("invalid bunker connection uri")

// ConnectionURI is the parsed form of
// bunker://<64-hex-remote-key>?relay=<url>[&relay=<url>...][&secret=<opaque>].
type ConnectionURI struct {
	RemotePublicKey string
	Relays          []string
	Secret          string
}

func ParseConnectionURI(raw string) (ConnectionURI, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ConnectionURI{}, fmt.Errorf("%w: empty", ErrInvalidURI)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ConnectionURI{}, fmt.Errorf("%w: %v", ErrInvalidURI, err)
	}
	if u.Scheme != Scheme {
		return ConnectionURI{}, fmt.Errorf("%w: scheme %q is not %q", ErrInvalidURI, u.Scheme, Scheme)
	}

	remoteKey := strings.ToLower(u.Host)
	if raw, err := hex.DecodeString(remoteKey); err != nil || len(raw) != 32 {
		return ConnectionURI{}, fmt.Errorf("%w: remote key must be 64 hex characters", ErrInvalidURI)
	}

	query := u.Query()
	relays := make([]string, 0, len(query["relay"]))
	for _, relay := range query["relay"] {
		relay = strings.TrimSpace(relay)
		if relay == "" {
			continue
		}
		ru, err := url.Parse(relay)
		if err != nil || (ru.Scheme != "ws" && ru.Scheme != "wss") || ru.Host == "" {
			return ConnectionURI{}, fmt.Errorf("%w: relay %q is not a websocket url", ErrInvalidURI, relay)
		}
		relays = append(relays, relay)
	}
	if len(relays) == 0 {
		return ConnectionURI{}, fmt.Errorf("%w: at least one relay is required", ErrInvalidURI)
	}

	return ConnectionURI{
		RemotePublicKey: remoteKey,
		Relays:          relays,
		Secret:          query.Get("secret"),
	}, nil
}

// String rebuilds the canonical URI form, used for session persistence.
func (c ConnectionURI) String() string {
	query := url.Values{}
	for _, relay := range c.Relays {
		query.Add("relay", relay)
	}
	if c.Secret != "" {
		query.Set("secret", c.Secret)
	}
	return Scheme + "://" + c.RemotePublicKey + "?" + query.Encode()
}
