package util

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func serveSecured(t *testing.T, configure func(*http.Request)) http.Header {
	t.Helper()
	h := WithSecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodGet, "/sessions/s1", nil)
	if configure != nil {
		configure(req)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Header()
}

func TestWithSecurityHeaders(t *testing.T) {
	got := serveSecured(t, nil)
	want := map[string]string{
		"X-Content-Type-Options":  "nosniff",
		"X-Frame-Options":         "DENY",
		"Referrer-Policy":         "no-referrer",
		"Cache-Control":           "no-store",
		"Content-Security-Policy": "default-src 'none'; media-src 'self' data:; frame-ancestors 'none'; base-uri 'none'",
	}
	for name, value := range want {
		if got.Get(name) != value {
			t.Errorf("%s = %q, want %q", name, got.Get(name), value)
		}
	}
	if hsts := got.Get("Strict-Transport-Security"); hsts != "" {
		t.Errorf("unexpected HSTS on plain http: %q", hsts)
	}
}

func TestWithSecurityHeadersHSTSBehindTLSProxy(t *testing.T) {
	got := serveSecured(t, func(r *http.Request) { r.Header.Set("X-Forwarded-Proto", "HTTPS") })
	if got.Get("Strict-Transport-Security") == "" {
		t.Fatalf("expected HSTS for forwarded https")
	}
}
