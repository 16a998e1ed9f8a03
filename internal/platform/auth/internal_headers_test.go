package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

func TestInternalAuthSignatureRoundTrip(t *testing.T) {
	sig, err := ComputeInternalAuthSignature("secret", "1700000000", "POST", "/api/v1/pipeline/jobs", "rid-1", "alice", "alice@example.test", "editor")
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if sig == "" {
		t.Fatalf("empty signature")
	}

	if err := VerifyInternalAuthSignature("secret", "1700000000", "POST", "/api/v1/pipeline/jobs", "rid-1", "alice", "alice@example.test", "editor", sig); err != nil {
		t.Fatalf("verify: %v", err)
	}

	if err := VerifyInternalAuthSignature("secret", "1700000000", "POST", "/api/v1/pipeline/jobs", "rid-1", "bob", "alice@example.test", "editor", sig); err == nil {
		t.Fatalf("expected error for tampered subject")
	}
	if err := VerifyInternalAuthSignature("other", "1700000000", "POST", "/api/v1/pipeline/jobs", "rid-1", "alice", "alice@example.test", "editor", sig); err == nil {
		t.Fatalf("expected error for wrong secret")
	}
}

func TestVerifyInternalAuthTimestamp(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()

	tests := []struct {
		name    string
		ts      string
		maxSkew time.Duration
		wantErr bool
	}{
		{name: "exact", ts: "1700000000", maxSkew: time.Minute},
		{name: "within skew", ts: "1700000050", maxSkew: time.Minute},
		{name: "too old", ts: "1699999000", maxSkew: time.Minute, wantErr: true},
		{name: "too new", ts: "1700001000", maxSkew: time.Minute, wantErr: true},
		{name: "skew disabled", ts: "1600000000", maxSkew: 0},
		{name: "empty", ts: "", maxSkew: time.Minute, wantErr: true},
		{name: "not a number", ts: "abc", maxSkew: time.Minute, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := VerifyInternalAuthTimestamp(tt.ts, now, tt.maxSkew)
			if tt.wantErr && err == nil {
				t.Fatalf("expected error")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestGatewayHeadersAuthenticator(t *testing.T) {
	authn, err := NewGatewayHeadersAuthenticator("secret")
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	signedRequest := func(subject string, email string, roles string) *http.Request {
		req := httptest.NewRequest(http.MethodGet, "http://example.test/api/v1/pipeline/jobs", nil)
		ts := strconv.FormatInt(time.Now().UTC().Unix(), 10)
		sig, err := ComputeInternalAuthSignature("secret", ts, req.Method, req.URL.Path, "rid-1", subject, email, roles)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		req.Header.Set("X-Request-Id", "rid-1")
		req.Header.Set(HeaderSubject, subject)
		req.Header.Set(HeaderEmail, email)
		req.Header.Set(HeaderRoles, roles)
		req.Header.Set(HeaderInternalAuthTimestamp, ts)
		req.Header.Set(HeaderInternalAuthSignature, sig)
		return req
	}

	identity, err := authn.Authenticate(context.Background(), signedRequest("alice", "alice@example.test", "editor,viewer"))
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if identity.Subject != "alice" {
		t.Fatalf("Subject=%q, want alice", identity.Subject)
	}
	if len(identity.Roles) != 2 || identity.Roles[0] != "editor" || identity.Roles[1] != "viewer" {
		t.Fatalf("Roles=%v, want [editor viewer]", identity.Roles)
	}

	req := signedRequest("alice", "alice@example.test", "editor")
	req.Header.Set(HeaderRoles, "admin")
	if _, err := authn.Authenticate(context.Background(), req); err == nil {
		t.Fatalf("expected error for tampered roles")
	}

	req = httptest.NewRequest(http.MethodGet, "http://example.test/api/v1/pipeline/jobs", nil)
	if _, err := authn.Authenticate(context.Background(), req); err == nil {
		t.Fatalf("expected error for missing headers")
	}

	req = signedRequest("alice", "alice@example.test", "editor")
	req.Header.Del(HeaderInternalAuthSignature)
	if _, err := authn.Authenticate(context.Background(), req); err == nil {
		t.Fatalf("expected error for missing signature")
	}
}

func TestNewGatewayHeadersAuthenticatorRequiresSecret(t *testing.T) {
	if _, err := NewGatewayHeadersAuthenticator("  "); err == nil {
		t.Fatalf("expected error for empty secret")
	}
}
