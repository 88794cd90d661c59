package handlers

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"regexp"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestSecurityHeadersMiddleware(t *testing.T) {
	dummyHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	middleware := SecurityHeadersMiddleware(dummyHandler)

	req := httptest.NewRequest("GET", "/", nil)
	rr := httptest.NewRecorder()
	middleware.ServeHTTP(rr, req)

	expectedHeaders := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "SAMEORIGIN",
		"X-XSS-Protection":       "1; mode=block",
		"Referrer-Policy":        "strict-origin-when-cross-origin",
	}
	for key, expectedValue := range expectedHeaders {
		if value := rr.Header().Get(key); value != expectedValue {
			t.Errorf("Header %s: expected %s, got %s", key, expectedValue, value)
		}
	}

	csp := rr.Header().Get("Content-Security-Policy")
	for _, directive := range []string{
		"default-src 'self'",
		"script-src 'self' 'unsafe-inline' https://unpkg.com",
		"form-action 'self'",
	} {
		if !strings.Contains(csp, directive) {
			t.Errorf("CSP missing directive: %s. Got: %s", directive, csp)
		}
	}

	if rr.Code != http.StatusOK {
		t.Errorf("Expected wrapped handler to run, got %d", rr.Code)
	}
}

func TestCacheControlHeaders(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	middleware := SecurityHeadersMiddleware(handler)

	req := httptest.NewRequest("GET", "/dashboard", nil)
	w := httptest.NewRecorder()
	middleware.ServeHTTP(w, req)
	if cc := w.Header().Get("Cache-Control"); !strings.Contains(cc, "no-store") {
		t.Errorf("Expected Cache-Control: no-store for /dashboard, got %q", cc)
	}

	req = httptest.NewRequest("GET", "/captcha/abc.png", nil)
	w = httptest.NewRecorder()
	middleware.ServeHTTP(w, req)
	if cc := w.Header().Get("Cache-Control"); strings.Contains(cc, "no-store") {
		t.Errorf("Expected captcha images to keep their own caching, got %q", cc)
	}
}

func TestCORSPreflight(t *testing.T) {
	app := newTestApp(t)
	h := app.Handler()

	req := httptest.NewRequest("OPTIONS", "/api/v1/leaves", nil)
	req.Header.Set("Origin", "https://example.org")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200 for preflight, got %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://example.org" {
		t.Errorf("Expected origin to be echoed, got %q", got)
	}
	if got := w.Header().Get("Access-Control-Allow-Headers"); !strings.Contains(got, "X-API-Token") {
		t.Errorf("Expected X-API-Token to be allowed, got %q", got)
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	h := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestID(r.Context())
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
	if _, err := uuid.Parse(seen); err != nil {
		t.Errorf("Expected a generated UUID, got %q", seen)
	}
	if w.Header().Get("X-Request-ID") != seen {
		t.Errorf("Expected response header to carry %q, got %q", seen, w.Header().Get("X-Request-ID"))
	}

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Request-ID", "client-42")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if seen != "client-42" {
		t.Errorf("Expected incoming request ID to be kept, got %q", seen)
	}
}

func TestLoggingMiddleware(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	flags := log.Flags()
	log.SetFlags(0)
	t.Cleanup(func() {
		log.SetOutput(os.Stderr)
		log.SetFlags(flags)
	})

	h := RequestIDMiddleware(LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})))
	req := httptest.NewRequest("POST", "/leaves/apply", nil)
	req.Header.Set("X-Request-ID", "req-1")
	h.ServeHTTP(httptest.NewRecorder(), req)

	var entry logEntry
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("Expected one JSON log line, got %q: %v", buf.String(), err)
	}
	if entry.Method != "POST" || entry.Path != "/leaves/apply" || entry.Status != http.StatusTeapot || entry.RequestID != "req-1" {
		t.Errorf("Unexpected log entry %+v", entry)
	}
}

var csrfTokenPattern = regexp.MustCompile(`name="gorilla.csrf.Token" value="([^"]+)"`)

func TestCSRFProtection(t *testing.T) {
	app := newTestApp(t)
	h := app.Handler()

	w := httptest.NewRecorder()
	h.ServeHTTP(w, formRequest("/register", url.Values{"username": {"carol"}, "password": {"pw"}, "role": {"Manager"}}))
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 without a CSRF token, got %d", w.Code)
	}

	c := newTestClient(t, h)
	_, body := c.get("/")
	m := csrfTokenPattern.FindStringSubmatch(body)
	if m == nil {
		t.Fatalf("Expected a CSRF field on the index page, got: %s", body)
	}

	_, body = c.post("/register", url.Values{
		"gorilla.csrf.Token": {m[1]},
		"username":           {"carol"},
		"password":           {"pw"},
		"role":               {"Manager"},
	})
	if !strings.Contains(body, "Account created") {
		t.Errorf("Expected registration with a valid token to succeed, got: %s", body)
	}
}
