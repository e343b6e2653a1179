// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file provides the identity middleware. Authentication itself happens
// at an upstream gateway; by the time a request reaches this service the
// caller's identity travels in the X-User-ID header. The middleware rejects
// requests without one and stashes the value in the Gin context so handlers
// and other middleware share a single lookup.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// HeaderUserID is the trusted identity header set by the upstream gateway.
const HeaderUserID = "X-User-ID"

// ctxKeyUserID is the Gin context key under which the identity is stored.
const ctxKeyUserID = "userID"

// RequireIdentity enforces that the request carries a non-empty X-User-ID
// header and stores it under "userID". Requests without one are rejected
// with 401 before any handler runs.
func RequireIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := strings.TrimSpace(c.GetHeader(HeaderUserID))
		if uid == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"request_id": c.Writer.Header().Get("X-Request-ID"),
				"code":       "unauthorized",
				"message":    "authentication required",
			})
			return
		}
		c.Set(ctxKeyUserID, uid)
		c.Next()
	}
}

// UserID returns the caller identity: the value stashed by RequireIdentity
// when it has run, otherwise the gateway header directly. Middleware mounted
// ahead of RequireIdentity (idempotency, rate limiting) keys off the same
// identity the handlers see; enforcement of its presence stays in
// RequireIdentity alone.
func UserID(c *gin.Context) string {
	if v, ok := c.Get(ctxKeyUserID); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return strings.TrimSpace(c.GetHeader(HeaderUserID))
}
