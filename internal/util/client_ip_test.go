package util

import (
	"net/http/httptest"
	"net/netip"
	"testing"
)

func TestClientIP(t *testing.T) {
	trusted, err := NewTrustedProxies([]string{"10.0.0.0/8", "192.168.1.10"})
	if err != nil {
		t.Fatalf("new trusted proxies: %v", err)
	}

	type request struct{ remote, xff, realIP string }
	tests := []struct {
		name    string
		req     request
		trusted *TrustedProxies
		want    string
	}{
		{"forwarded headers ignored without trusted proxies", request{"198.51.100.10:1234", "203.0.113.5", "203.0.113.6"}, nil, "198.51.100.10"},
		{"trusted peer forwards client", request{"10.0.0.20:1234", "203.0.113.5", ""}, trusted, "203.0.113.5"},
		{"rightmost untrusted hop wins", request{"10.0.0.20:1234", "198.51.100.99, 203.0.113.5, 10.0.0.10", ""}, trusted, "203.0.113.5"},
		{"x-real-ip when forwarded-for unusable", request{"10.0.0.20:1234", "invalid", "203.0.113.7"}, trusted, "203.0.113.7"},
		{"untrusted peer without port", request{"198.51.100.11", "203.0.113.5", ""}, trusted, "198.51.100.11"},
		{"every hop trusted returns leftmost", request{"10.0.0.20:1234", "10.0.0.5, 10.0.0.10", ""}, trusted, "10.0.0.5"},
		{"ipv6 peer", request{"[2001:db8::1]:443", "", ""}, trusted, "2001:db8::1"},
		{"mapped ipv4 forwarded hop", request{"192.168.1.10:80", "::ffff:203.0.113.9", ""}, trusted, "203.0.113.9"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest("POST", "http://podpdf.local/sessions", nil)
			r.RemoteAddr = tc.req.remote
			if tc.req.xff != "" {
				r.Header.Set("X-Forwarded-For", tc.req.xff)
			}
			if tc.req.realIP != "" {
				r.Header.Set("X-Real-IP", tc.req.realIP)
			}
			if got := ClientIP(r, tc.trusted); got != tc.want {
				t.Fatalf("ClientIP() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestNewTrustedProxies(t *testing.T) {
	trusted, err := NewTrustedProxies([]string{"10.0.0.0/8", " 192.168.1.1 ", "::1"})
	if err != nil {
		t.Fatalf("NewTrustedProxies() err = %v", err)
	}
	for _, ip := range []string{"10.1.2.3", "192.168.1.1", "::1", "::ffff:10.0.0.1"} {
		if !trusted.Contains(netip.MustParseAddr(ip)) {
			t.Errorf("%s should be trusted", ip)
		}
	}
	if trusted.Contains(netip.MustParseAddr("192.168.1.2")) {
		t.Errorf("192.168.1.2 should not be trusted")
	}
	if _, err := NewTrustedProxies([]string{"bad-cidr"}); err == nil {
		t.Errorf("invalid entry accepted")
	}
	if empty, err := NewTrustedProxies([]string{" ", ""}); err != nil || empty != nil {
		t.Errorf("blank entries should trust nobody, got %v %v", empty, err)
	}
}
