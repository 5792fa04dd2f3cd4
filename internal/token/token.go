// Package token verifies the compact signed claims issued by the platform identity service and extracts them from the
// several places a browser client may present one during the socket handshake.
package token

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Sentinel errors for the token package.
var (
	ErrNoToken         = errors.New("no token presented")
	ErrInvalidToken    = errors.New("invalid or expired token")
	ErrCookieSignature = errors.New("cookie signature verification failed")
)

// Identity is the verified claim payload: who the socket belongs to and what they may do.
type Identity struct {
	UserID int64  `json:"userId"`
	Role   string `json:"role"`
}

// Claims is the JWT claim set issued by the identity service.
type Claims struct {
	UserID int64  `json:"userId"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// Verifier validates compact signed claims against the shared signing secret. The cookie secret covers the optional
// HMAC signature appended to cookie values by the HTTP edge.
type Verifier struct {
	secret       string
	cookieSecret string
}

// NewVerifier creates a verifier. The cookie secret may equal the signing secret.
func NewVerifier(secret, cookieSecret string) *Verifier {
	return &Verifier{secret: secret, cookieSecret: cookieSecret}
}

// Verify parses and validates a token string, enforcing the HMAC signing method, and returns the embedded identity.
func (v *Verifier) Verify(tokenStr string) (Identity, error) {
	if tokenStr == "" {
		return Identity{}, ErrNoToken
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(v.secret), nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	userID := claims.UserID
	if userID == 0 && claims.Subject != "" {
		if n, pErr := strconv.ParseInt(claims.Subject, 10, 64); pErr == nil {
			userID = n
		}
	}
	if userID == 0 {
		return Identity{}, fmt.Errorf("%w: missing user id claim", ErrInvalidToken)
	}
	if claims.Role == "" {
		return Identity{}, fmt.Errorf("%w: missing role claim", ErrInvalidToken)
	}

	return Identity{UserID: userID, Role: claims.Role}, nil
}

// Handshake carries the raw token sources captured when a socket connection is accepted.
type Handshake struct {
	AuthToken    string // handshake auth object
	QueryToken   string // ?token= query parameter
	AuthHeader   string // Authorization header
	CookieHeader string // raw Cookie header
}

// Extract resolves the token candidate for an authenticate attempt. Sources are tried in order until one yields a
// non-empty candidate: the authenticate payload, the handshake auth object, the token query parameter, a bearer
// Authorization header, and finally the access_token cookie. Cookie candidates pass through cookie-signature
// verification; a present but invalid signature is a hard rejection.
func (v *Verifier) Extract(payloadToken string, hs Handshake) (string, error) {
	if payloadToken != "" {
		return payloadToken, nil
	}
	if hs.AuthToken != "" {
		return hs.AuthToken, nil
	}
	if hs.QueryToken != "" {
		return hs.QueryToken, nil
	}
	if bearer := bearerToken(hs.AuthHeader); bearer != "" {
		return bearer, nil
	}
	if raw := cookieValue(hs.CookieHeader); raw != "" {
		return v.unsignCookie(raw)
	}
	return "", ErrNoToken
}

// FromRequest resolves a token for plain HTTP endpoints, where only the bearer header and cookie sources apply.
func (v *Verifier) FromRequest(authHeader, cookieHeader string) (string, error) {
	if bearer := bearerToken(authHeader); bearer != "" {
		return bearer, nil
	}
	if raw := cookieValue(cookieHeader); raw != "" {
		return v.unsignCookie(raw)
	}
	return "", ErrNoToken
}

// unsignCookie URL-decodes a cookie value and, when an HMAC signature segment has been appended by the edge (four
// dot-separated segments where a compact claim has three), verifies and strips it.
func (v *Verifier) unsignCookie(raw string) (string, error) {
	decoded, err := url.QueryUnescape(raw)
	if err != nil {
		decoded = raw
	}

	segments := strings.Split(decoded, ".")
	if len(segments) != 4 {
		return decoded, nil
	}

	value := strings.Join(segments[:3], ".")
	if !verifyCookieSignature(value, segments[3], v.cookieSecret) {
		return "", ErrCookieSignature
	}
	return value, nil
}

// bearerToken extracts the token from a "Bearer ..." Authorization header.
func bearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && header[:len(prefix)] == prefix {
		return header[len(prefix):]
	}
	return ""
}

// Cookie names accepted for the access token. The __Host- prefix variant is what the edge sets on HTTPS origins.
var cookieNames = []string{"access_token", "__Host-access_token"}

// cookieValue finds the access token in a raw Cookie header.
func cookieValue(header string) string {
	if header == "" {
		return ""
	}
	for _, part := range strings.Split(header, ";") {
		name, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		for _, want := range cookieNames {
			if name == want {
				return value
			}
		}
	}
	return ""
}
