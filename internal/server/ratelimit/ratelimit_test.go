package ratelimit

import (
	"net/http/httptest"
	"testing"
)

func TestConnectionLimit(t *testing.T) {
	rl := New(2, 5)

	if !rl.CanConnect("10.0.0.1") {
		t.Fatal("fresh IP should be allowed to connect")
	}
	rl.AddConnection("10.0.0.1")
	rl.AddConnection("10.0.0.1")

	if rl.CanConnect("10.0.0.1") {
		t.Error("IP at the connection cap must be rejected")
	}
	if !rl.CanConnect("10.0.0.2") {
		t.Error("other IPs must be unaffected")
	}

	rl.RemoveConnection("10.0.0.1")
	if !rl.CanConnect("10.0.0.1") {
		t.Error("IP below the cap after disconnect must be allowed again")
	}
}

func TestAuthAttemptLimit(t *testing.T) {
	rl := New(10, 3)

	for i := 0; i < 3; i++ {
		if !rl.CanAuth("10.0.0.1") {
			t.Fatalf("attempt %d should be allowed", i+1)
		}
	}
	if rl.CanAuth("10.0.0.1") {
		t.Error("attempt past the per-minute cap must be rejected")
	}
	if !rl.CanAuth("10.0.0.2") {
		t.Error("other IPs must keep their own budget")
	}
}

func TestGetClientIP(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "192.168.1.5:41234"
	if ip := GetClientIP(r); ip != "192.168.1.5" {
		t.Errorf("expected remote addr host, got %q", ip)
	}

	r.Header.Set("X-Forwarded-For", "203.0.113.9")
	if ip := GetClientIP(r); ip != "203.0.113.9" {
		t.Errorf("expected forwarded address, got %q", ip)
	}

	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	if ip := GetClientIP(r); ip != "203.0.113.9" {
		t.Errorf("expected first hop of the forwarded chain, got %q", ip)
	}
}
