// Package api holds the HTTP surface: the socket upgrade endpoint, webhook ingress, inbox and push endpoints, and
// the stats handlers.
package api

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v3"

	"github.com/jes11sy/realtime-service/internal/httputil"
	"github.com/jes11sy/realtime-service/internal/token"
)

const identityLocal = "identity"

// RequireUser returns Fiber middleware that resolves an end-user token from the Authorization header or the access
// cookie and stores the verified identity in Locals.
func RequireUser(v *token.Verifier) fiber.Handler {
	return func(c fiber.Ctx) error {
		raw, err := v.FromRequest(c.Get("Authorization"), c.Get("Cookie"))
		if err != nil {
			return httputil.Fail(c, fiber.StatusUnauthorized, httputil.CodeUnauthorized, "Missing token")
		}
		identity, err := v.Verify(raw)
		if err != nil {
			return httputil.Fail(c, fiber.StatusUnauthorized, httputil.CodeUnauthorized, "Invalid token")
		}
		c.Locals(identityLocal, identity)
		return c.Next()
	}
}

// identityFromCtx reads the identity stored by RequireUser.
func identityFromCtx(c fiber.Ctx) (token.Identity, bool) {
	identity, ok := c.Locals(identityLocal).(token.Identity)
	return identity, ok
}

// secretMatches compares a presented webhook token against the configured secret in constant time. An empty
// configured secret never matches.
func secretMatches(presented, secret string) bool {
	if secret == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(secret)) == 1
}

// failUnauthorized rejects a webhook call without echoing any detail.
func failUnauthorized(c fiber.Ctx) error {
	return httputil.Fail(c, fiber.StatusUnauthorized, httputil.CodeUnauthorized, "Unauthorized")
}
