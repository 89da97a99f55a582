package utils

import (
	"net/http/httptest"
	"testing"
)

func TestIPMatcher(t *testing.T) {
	m := NewIPMatcher([]string{"10.0.0.0/8", " 192.168.1.10 ", "::1", "garbage", ""})

	tests := map[string]bool{
		"10.20.30.40":     true,
		"192.168.1.10":    true,
		"192.168.1.11":    false,
		"::1":             true,
		"::ffff:10.0.0.1": true,
		"not-an-ip":       false,
		"2001:db8::1":     false,
	}
	for ip, want := range tests {
		if got := m.Allow(ip); got != want {
			t.Errorf("Allow(%q) = %v, want %v", ip, got, want)
		}
	}

	if !NewIPMatcher(nil).IsEmpty() {
		t.Error("empty list should give an empty matcher")
	}
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "127.0.0.1:4000"
	r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")

	if got := ClientIP(r, false); got != "127.0.0.1" {
		t.Errorf("ClientIP(untrusted) = %q, want 127.0.0.1", got)
	}
	if got := ClientIP(r, true); got != "203.0.113.7" {
		t.Errorf("ClientIP(trusted) = %q, want 203.0.113.7", got)
	}

	r.Header.Set("CF-Connecting-IP", "198.51.100.2")
	if got := ClientIP(r, true); got != "198.51.100.2" {
		t.Errorf("ClientIP(cloudflare) = %q, want 198.51.100.2", got)
	}
}

func TestFirstForwardedFor(t *testing.T) {
	if got := FirstForwardedFor(" 1.2.3.4 , 5.6.7.8"); got != "1.2.3.4" {
		t.Errorf("FirstForwardedFor() = %q", got)
	}
	if got := FirstForwardedFor(""); got != "" {
		t.Errorf("FirstForwardedFor(\"\") = %q", got)
	}
}
