package origin

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		in       string
		wantNorm string
		wantHost string
		wantOK   bool
	}{
		{"https://care.example.com", "https://care.example.com", "care.example.com", true},
		{"HTTPS://Care.Example.COM:443", "https://care.example.com", "care.example.com", true},
		{"http://localhost:3000", "http://localhost:3000", "localhost:3000", true},
		{"http://example.com:80", "http://example.com", "example.com", true},
		{"https://[2001:db8::1]:8443", "https://[2001:db8::1]:8443", "[2001:db8::1]:8443", true},
		{"null", "null", "", true},
		{"", "", "", false},
		{"ftp://example.com", "", "", false},
		{"https://user@example.com", "", "", false},
		{"https://example.com/app", "", "", false},
		{"https://example.com:0", "", "", false},
		{"https://example.com:99999", "", "", false},
		{"not a url", "", "", false},
	}
	for _, tc := range tests {
		norm, host, ok := Normalize(tc.in)
		if ok != tc.wantOK || norm != tc.wantNorm || host != tc.wantHost {
			t.Fatalf("Normalize(%q)=(%q, %q, %v), want (%q, %q, %v)",
				tc.in, norm, host, ok, tc.wantNorm, tc.wantHost, tc.wantOK)
		}
	}
}

func TestPolicy_SameHostDefault(t *testing.T) {
	p := NewPolicy(nil)

	if !p.Permits("https://call.example.com", "call.example.com") {
		t.Fatal("same-host origin rejected")
	}
	if !p.Permits("https://call.example.com", "call.example.com:443") {
		t.Fatal("default port on request host rejected")
	}
	if p.Permits("https://evil.example.com", "call.example.com") {
		t.Fatal("cross-host origin permitted")
	}
	if p.Permits("null", "call.example.com") {
		t.Fatal("opaque null origin permitted under same-host policy")
	}
}

func TestPolicy_MissingOriginPermitted(t *testing.T) {
	p := NewPolicy([]string{"https://call.example.com"})
	if !p.Permits("", "anything") {
		t.Fatal("non-browser client without Origin header rejected")
	}
}

func TestPolicy_Allowlist(t *testing.T) {
	p := NewPolicy([]string{"https://call.example.com", "http://localhost:3000"})

	if !p.Permits("https://call.example.com", "relay.internal") {
		t.Fatal("allowlisted origin rejected")
	}
	if !p.Permits("http://localhost:3000", "relay.internal") {
		t.Fatal("allowlisted localhost origin rejected")
	}
	if p.Permits("https://other.example.com", "relay.internal") {
		t.Fatal("non-allowlisted origin permitted")
	}
	// With an allowlist there is no same-host fallback.
	if p.Permits("https://relay.internal", "relay.internal") {
		t.Fatal("same-host origin permitted despite allowlist")
	}
}

func TestPolicy_Wildcard(t *testing.T) {
	p := NewPolicy([]string{"*"})
	if !p.Permits("https://anywhere.example.com", "relay.internal") {
		t.Fatal("wildcard policy rejected an origin")
	}
	if p.Permits("://malformed", "relay.internal") {
		t.Fatal("wildcard policy permitted a malformed origin")
	}
}
