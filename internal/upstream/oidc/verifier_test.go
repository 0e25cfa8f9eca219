// Copyright 2026 The Gatewarden Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package oidc

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// fakeUpstream is a stub identity provider: discovery, JWKS, and a token
// endpoint, with a rotatable signing key.
type fakeUpstream struct {
	t *testing.T

	mu          sync.Mutex
	key         *rsa.PrivateKey
	kid         string
	alg         string
	extraKeys   []jwksTestKey
	jwksFetches int

	discovery    http.HandlerFunc
	tokenHandler http.HandlerFunc

	srv *httptest.Server
}

type jwksTestKey struct {
	kid string
	alg string
	key *rsa.PublicKey
}

func newFakeUpstream(t *testing.T) *fakeUpstream {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa.GenerateKey failed: %v", err)
	}

	u := &fakeUpstream{t: t, key: key, kid: "key-1", alg: "RS256"}
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		if u.discovery != nil {
			u.discovery(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"jwks_uri": u.srv.URL + "/keys"})
	})
	mux.HandleFunc("/keys", u.serveKeys)
	mux.HandleFunc("/.well-known/jwks.json", u.serveKeys)
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if u.tokenHandler == nil {
			http.Error(w, "no token handler", http.StatusInternalServerError)
			return
		}
		u.tokenHandler(w, r)
	})
	u.srv = httptest.NewServer(mux)
	t.Cleanup(u.srv.Close)
	return u
}

func (u *fakeUpstream) serveKeys(w http.ResponseWriter, r *http.Request) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.jwksFetches++

	keys := make([]map[string]string, 0, len(u.extraKeys)+1)
	for _, k := range u.extraKeys {
		keys = append(keys, jwksEntry(k.key, k.kid, k.alg))
	}
	keys = append(keys, jwksEntry(&u.key.PublicKey, u.kid, u.alg))
	_ = json.NewEncoder(w).Encode(map[string]any{"keys": keys})
}

func jwksEntry(pub *rsa.PublicKey, kid, alg string) map[string]string {
	return map[string]string{
		"kid": kid,
		"alg": alg,
		"kty": "RSA",
		"use": "sig",
		"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}
}

// rotate swaps the signing key while keeping the same kid, as upstream
// providers do when they reuse key identifiers.
func (u *fakeUpstream) rotate() {
	u.t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		u.t.Fatalf("rsa.GenerateKey failed: %v", err)
	}
	u.mu.Lock()
	u.key = key
	u.mu.Unlock()
}

func (u *fakeUpstream) fetches() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.jwksFetches
}

// sign issues a token with the upstream's current key. A kid of "" omits
// the header.
func (u *fakeUpstream) sign(kid string, claims jwt.MapClaims) string {
	u.t.Helper()
	u.mu.Lock()
	key := u.key
	u.mu.Unlock()

	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if kid != "" {
		tok.Header["kid"] = kid
	}
	s, err := tok.SignedString(key)
	if err != nil {
		u.t.Fatalf("signing test token failed: %v", err)
	}
	return s
}

func (u *fakeUpstream) claims(extra jwt.MapClaims) jwt.MapClaims {
	claims := jwt.MapClaims{
		"iss": u.srv.URL,
		"aud": "gatewarden",
		"exp": time.Now().Add(time.Hour).Unix(),
		"iat": time.Now().Unix(),
	}
	for k, v := range extra {
		claims[k] = v
	}
	return claims
}

func (u *fakeUpstream) verifier() *Verifier {
	return NewVerifier(u.srv.URL, "gatewarden", "RS256", u.srv.Client())
}

// TestPurpose: Validates a well-formed upstream token verifies and its
// claims and jti are surfaced, with jti defaulting when absent.
// Scope: Integration Test (httptest)
// Expected: Verify succeeds; JTI is the claim when present, UNKNOWN
// otherwise.
// Test Case ID: VER-01
func TestVerifier_Verify(t *testing.T) {
	u := newFakeUpstream(t)
	v := u.verifier()
	ctx := context.Background()

	encoded := u.sign(u.kid, u.claims(jwt.MapClaims{"sub": "someuser", "jti": "some-jti"}))
	verified, err := v.Verify(ctx, encoded)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if verified.JTI != "some-jti" {
		t.Errorf("JTI = %q, want some-jti", verified.JTI)
	}
	if sub, _ := verified.Claims["sub"].(string); sub != "someuser" {
		t.Errorf("sub = %q, want someuser", sub)
	}
	if verified.Encoded != encoded {
		t.Error("Encoded does not match the input token")
	}

	noJTI := u.sign(u.kid, u.claims(jwt.MapClaims{"sub": "someuser"}))
	verified, err = v.Verify(ctx, noJTI)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if verified.JTI != "UNKNOWN" {
		t.Errorf("JTI = %q, want UNKNOWN when the claim is absent", verified.JTI)
	}
}

// TestPurpose: Validates rejection of tokens that fail issuer, kid,
// algorithm, audience, or expiry checks.
// Scope: Integration Test (httptest)
// Security: Identity Token Validation (OIDC Core Section 3.1.3.7)
// Expected: Each failure maps to its sentinel error.
// Test Case ID: VER-02
func TestVerifier_Rejections(t *testing.T) {
	u := newFakeUpstream(t)
	ctx := context.Background()

	t.Run("wrong issuer", func(t *testing.T) {
		v := u.verifier()
		claims := u.claims(jwt.MapClaims{"sub": "someuser"})
		claims["iss"] = "https://other.example.com"
		_, err := v.Verify(ctx, u.sign(u.kid, claims))
		if !errors.Is(err, ErrInvalidIssuer) {
			t.Errorf("Verify = %v, want ErrInvalidIssuer", err)
		}
	})

	t.Run("missing kid header", func(t *testing.T) {
		v := u.verifier()
		_, err := v.Verify(ctx, u.sign("", u.claims(jwt.MapClaims{"sub": "someuser"})))
		if !errors.Is(err, ErrVerifyToken) {
			t.Errorf("Verify = %v, want ErrVerifyToken", err)
		}
	})

	t.Run("unknown kid", func(t *testing.T) {
		v := u.verifier()
		_, err := v.Verify(ctx, u.sign("key-99", u.claims(jwt.MapClaims{"sub": "someuser"})))
		if !errors.Is(err, ErrUnknownKeyID) {
			t.Errorf("Verify = %v, want ErrUnknownKeyID", err)
		}
	})

	t.Run("algorithm mismatch", func(t *testing.T) {
		u := newFakeUpstream(t)
		u.alg = "ES256"
		v := u.verifier()
		_, err := v.Verify(ctx, u.sign(u.kid, u.claims(jwt.MapClaims{"sub": "someuser"})))
		if !errors.Is(err, ErrUnknownAlgorithm) {
			t.Errorf("Verify = %v, want ErrUnknownAlgorithm", err)
		}
	})

	t.Run("wrong audience", func(t *testing.T) {
		v := u.verifier()
		claims := u.claims(jwt.MapClaims{"sub": "someuser"})
		claims["aud"] = "someone-else"
		_, err := v.Verify(ctx, u.sign(u.kid, claims))
		if !errors.Is(err, ErrVerifyToken) {
			t.Errorf("Verify = %v, want ErrVerifyToken", err)
		}
	})

	t.Run("expired", func(t *testing.T) {
		v := u.verifier()
		claims := u.claims(jwt.MapClaims{"sub": "someuser"})
		claims["exp"] = time.Now().Add(-time.Hour).Unix()
		_, err := v.Verify(ctx, u.sign(u.kid, claims))
		if !errors.Is(err, ErrVerifyToken) {
			t.Errorf("Verify = %v, want ErrVerifyToken", err)
		}
	})
}

// TestPurpose: Validates that a signature failure against a cached key
// triggers exactly one JWKS refetch, so upstream key rotation under a
// reused kid does not lock users out.
// Scope: Integration Test (httptest)
// Security: Key Rotation Resilience
// Expected: A token signed with the rotated key verifies; the JWKS
// endpoint is fetched a second time.
// Test Case ID: VER-03
func TestVerifier_KeyRotationRetry(t *testing.T) {
	u := newFakeUpstream(t)
	v := u.verifier()
	ctx := context.Background()

	if _, err := v.Verify(ctx, u.sign(u.kid, u.claims(jwt.MapClaims{"sub": "someuser"}))); err != nil {
		t.Fatalf("initial Verify failed: %v", err)
	}
	if got := u.fetches(); got != 1 {
		t.Fatalf("JWKS fetches = %d, want 1", got)
	}

	u.rotate()
	verified, err := v.Verify(ctx, u.sign(u.kid, u.claims(jwt.MapClaims{"sub": "someuser", "jti": "post-rotation"})))
	if err != nil {
		t.Fatalf("Verify after rotation failed: %v", err)
	}
	if verified.JTI != "post-rotation" {
		t.Errorf("JTI = %q, want post-rotation", verified.JTI)
	}
	if got := u.fetches(); got != 2 {
		t.Errorf("JWKS fetches = %d, want 2", got)
	}

	// Cached again: no further fetches.
	if _, err := v.Verify(ctx, u.sign(u.kid, u.claims(jwt.MapClaims{"sub": "someuser"}))); err != nil {
		t.Fatalf("Verify with re-cached key failed: %v", err)
	}
	if got := u.fetches(); got != 2 {
		t.Errorf("JWKS fetches = %d, want 2", got)
	}
}

// TestPurpose: Validates JWKS endpoint resolution: unreachable discovery
// falls back to the well-known JWKS path, while a discovery document
// without jwks_uri is a hard error.
// Scope: Integration Test (httptest)
// Expected: Fallback verifies; misconfigured discovery fails with
// ErrFetchKeys.
// Test Case ID: VER-04
func TestVerifier_JWKSResolution(t *testing.T) {
	ctx := context.Background()

	t.Run("discovery unreachable falls back", func(t *testing.T) {
		u := newFakeUpstream(t)
		u.discovery = func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "not found", http.StatusNotFound)
		}
		v := u.verifier()
		if _, err := v.Verify(ctx, u.sign(u.kid, u.claims(jwt.MapClaims{"sub": "someuser"}))); err != nil {
			t.Errorf("Verify via fallback failed: %v", err)
		}
	})

	t.Run("discovery without jwks_uri", func(t *testing.T) {
		u := newFakeUpstream(t)
		u.discovery = func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]string{"issuer": u.srv.URL})
		}
		v := u.verifier()
		_, err := v.Verify(ctx, u.sign(u.kid, u.claims(jwt.MapClaims{"sub": "someuser"})))
		if !errors.Is(err, ErrFetchKeys) {
			t.Errorf("Verify = %v, want ErrFetchKeys", err)
		}
	})
}

// TestPurpose: Validates that when an issuer publishes duplicate kids the
// last entry wins.
// Scope: Integration Test (httptest)
// Expected: Verification succeeds against the later key.
// Test Case ID: VER-05
func TestVerifier_DuplicateKidLastWins(t *testing.T) {
	u := newFakeUpstream(t)
	stale, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa.GenerateKey failed: %v", err)
	}
	u.extraKeys = []jwksTestKey{{kid: u.kid, alg: "RS256", key: &stale.PublicKey}}

	v := u.verifier()
	if _, err := v.Verify(context.Background(), u.sign(u.kid, u.claims(jwt.MapClaims{"sub": "someuser"}))); err != nil {
		t.Errorf("Verify failed: %v", err)
	}
}
