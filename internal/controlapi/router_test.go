package controlapi

import "testing"

func TestIsLocalOriginAcceptsLoopbackHosts(t *testing.T) {
	for _, origin := range []string{
		"http://localhost",
		"http://localhost:5173",
		"https://localhost:8443",
		"http://127.0.0.1:3000",
		"http://[::1]:3000",
	} {
		if !isLocalOrigin(origin) {
			t.Fatalf("isLocalOrigin(%q) = false, want true", origin)
		}
	}
}

func TestIsLocalOriginRejectsNonLoopbackHosts(t *testing.T) {
	for _, origin := range []string{
		"http://evil.example.com",
		"https://not-localhost.com",
		"http://10.0.0.5:8080",
		"",
		"not a url at all \x7f",
	} {
		if isLocalOrigin(origin) {
			t.Fatalf("isLocalOrigin(%q) = true, want false", origin)
		}
	}
}
