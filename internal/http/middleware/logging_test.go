package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestRequestID_GeneratesAndPropagates(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	r.GET("/ok", func(c *gin.Context) {
		rid, _ := c.Get(requestIDKey)
		if asString(rid) == "" {
			t.Fatal("expected request id in context")
		}
		c.Status(http.StatusOK)
	})

	// Generated when absent.
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok", nil))
	if w.Header().Get(requestIDHeader) == "" {
		t.Fatal("expected generated X-Request-ID header")
	}

	// Reused when supplied.
	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ok", nil)
	req.Header.Set(requestIDHeader, "rid-supplied")
	r.ServeHTTP(w, req)
	if got := w.Header().Get(requestIDHeader); got != "rid-supplied" {
		t.Fatalf("expected supplied id echoed, got %q", got)
	}
}

func TestLogger_AttachesRequestScopedLogger(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID(), Logger())
	r.GET("/ok", func(c *gin.Context) {
		if LoggerFrom(c) == nil {
			t.Fatal("expected request-scoped logger")
		}
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok?q=1", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestLoggerFrom_FallbackWithoutMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	if LoggerFrom(c) == nil {
		t.Fatal("expected fallback logger, got nil")
	}
}

func TestRecovery_ConvertsPanicToJSON500(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID(), Logger(), Recovery())
	r.GET("/boom", func(*gin.Context) { panic("kaboom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "internal_error") {
		t.Fatalf("expected JSON error body, got %s", w.Body.String())
	}
	if w.Header().Get(requestIDHeader) == "" {
		t.Fatal("expected request id preserved on panic response")
	}
}

func TestRequireIdentity(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequireIdentity())
	r.GET("/me", func(c *gin.Context) { c.String(http.StatusOK, UserID(c)) })

	// Missing header rejected before the handler runs.
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}

	// Whitespace-only is missing too.
	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set(HeaderUserID, "   ")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for blank header, got %d", w.Code)
	}

	// Valid identity reaches the handler.
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set(HeaderUserID, "u1")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK || w.Body.String() != "u1" {
		t.Fatalf("expected identity echoed, got %d %q", w.Code, w.Body.String())
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("abcdef", 4); got != "abcd..." {
		t.Fatalf("unexpected truncation: %q", got)
	}
	if got := truncate("abc", 4); got != "abc" {
		t.Fatalf("short strings pass through: %q", got)
	}
	if got := truncate("abc", 0); got != "abc" {
		t.Fatalf("max<=0 disables truncation: %q", got)
	}
}
