package httpapi

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRequestIDGenerated(t *testing.T) {
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if RequestIDFromContext(r.Context()) == "" {
			t.Fatal("no request id in context")
		}
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatal("no X-Request-Id header on the response")
	}
}

func TestRequestIDHonorsInbound(t *testing.T) {
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := RequestIDFromContext(r.Context()); got != "abc-123" {
			t.Fatalf("request id = %q", got)
		}
	}))
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-Id", "abc-123")
	h.ServeHTTP(httptest.NewRecorder(), req)
}

func TestSecurityHeaders(t *testing.T) {
	h := SecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	for header, want := range map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Referrer-Policy":        "no-referrer",
	} {
		if got := rec.Header().Get(header); got != want {
			t.Fatalf("%s = %q, want %q", header, got, want)
		}
	}
}

func TestMaxBodyBytes(t *testing.T) {
	h := MaxBodyBytes(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := io.ReadAll(r.Body); err == nil {
			t.Fatal("oversized body was readable")
		}
		w.WriteHeader(http.StatusBadRequest)
	}), 4)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("well over four bytes"))
	h.ServeHTTP(rec, req)
}

func TestPublicPathMatching(t *testing.T) {
	for _, path := range []string{
		"/auth/login",
		"/auth/register",
		"/user/forgot_password",
		"/user/confirm_admin_reset_password/some-token",
		"/invite/validate/some-uuid",
		"/healthz",
		"/metrics",
	} {
		if !isPublicPath(path) {
			t.Fatalf("%s should be public", path)
		}
	}
	for _, path := range []string{
		"/user/me",
		"/user/2fa/verify",
		"/user/admin_reset_password",
		"/invite",
		"/invite/some-uuid",
	} {
		if isPublicPath(path) {
			t.Fatalf("%s should not be public", path)
		}
	}
}
