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
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/gatewarden/gatewarden/internal/config"
	"github.com/gatewarden/gatewarden/internal/token"
)

func newTestProvider(t *testing.T) (*Provider, *fakeUpstream) {
	t.Helper()
	u := newFakeUpstream(t)
	p := NewProvider(config.UpstreamOIDCConfig{
		Issuer:        u.srv.URL,
		Audience:      "gatewarden",
		ClientID:      "gateway-client",
		ClientSecret:  "gateway-secret",
		LoginURL:      u.srv.URL + "/auth",
		TokenURL:      u.srv.URL + "/token",
		RedirectURL:   "https://gateway.example.com/login/callback",
		Scopes:        []string{"profile", "email"},
		UsernameClaim: "sub",
		UIDClaim:      "uid_number",
		GroupsClaim:   "isMemberOf",
		HTTPTimeout:   5 * time.Second,
	})
	return p, u
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// TestPurpose: Validates authorization redirect construction: openid
// leads the scope list, duplicates are dropped, and configured login
// parameters cannot override response_type.
// Scope: Unit Test
// Security: Authorization Request Integrity (RFC 6749 Section 4.1.1)
// Expected: response_type stays code; prompt passes through; state and
// client credentials are present.
// Test Case ID: PRV-01
func TestProvider_RedirectURL(t *testing.T) {
	p := NewProvider(config.UpstreamOIDCConfig{
		Issuer:      "https://upstream.example.com",
		ClientID:    "gateway-client",
		LoginURL:    "https://upstream.example.com/auth",
		RedirectURL: "https://gateway.example.com/login/callback",
		Scopes:      []string{"profile", "openid", "email"},
		LoginParams: map[string]string{
			"prompt":        "login",
			"response_type": "token",
		},
	})

	raw := p.RedirectURL("some-state")
	parsed, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("RedirectURL produced unparsable URL %q: %v", raw, err)
	}
	q := parsed.Query()

	if got := q.Get("response_type"); got != "code" {
		t.Errorf("response_type = %q, want code", got)
	}
	if got := q.Get("scope"); got != "openid profile email" {
		t.Errorf("scope = %q, want %q", got, "openid profile email")
	}
	if got := q.Get("prompt"); got != "login" {
		t.Errorf("prompt = %q, want login", got)
	}
	if got := q.Get("state"); got != "some-state" {
		t.Errorf("state = %q, want some-state", got)
	}
	if got := q.Get("client_id"); got != "gateway-client" {
		t.Errorf("client_id = %q, want gateway-client", got)
	}
	if got := q.Get("redirect_uri"); got != "https://gateway.example.com/login/callback" {
		t.Errorf("redirect_uri = %q", got)
	}
	if !strings.HasPrefix(raw, "https://upstream.example.com/auth?") {
		t.Errorf("URL does not target the login endpoint: %q", raw)
	}
}

// TestPurpose: Validates the happy path of code redemption: the identity
// token is verified and user attributes are extracted from the
// configured claims.
// Scope: Integration Test (httptest)
// Expected: Username, name, email, uid, and groups come back; group
// entries without a name are dropped.
// Test Case ID: PRV-02
func TestProvider_CreateUserInfo(t *testing.T) {
	p, u := newTestProvider(t)

	var gotForm url.Values
	u.tokenHandler = func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		gotForm = r.PostForm
		idToken := u.sign(u.kid, u.claims(jwt.MapClaims{
			"sub":        "someuser",
			"name":       "Some User",
			"email":      "someuser@example.com",
			"uid_number": 1000,
			"isMemberOf": []any{
				map[string]any{"name": "g_users", "id": 2000},
				"g_plain",
				map[string]any{"id": 3},
			},
		}))
		respondJSON(w, http.StatusOK, map[string]string{
			"access_token": "at",
			"token_type":   "Bearer",
			"id_token":     idToken,
		})
	}

	info, err := p.CreateUserInfo(context.Background(), "upstream-code", "some-state")
	if err != nil {
		t.Fatalf("CreateUserInfo failed: %v", err)
	}

	want := &token.UserInfo{
		Username: "someuser",
		Name:     "Some User",
		Email:    "someuser@example.com",
		UID:      1000,
		Groups:   []token.Group{{Name: "g_users", ID: 2000}, {Name: "g_plain"}},
	}
	if !reflect.DeepEqual(info, want) {
		t.Errorf("user info mismatch:\n got %+v\nwant %+v", info, want)
	}

	if gotForm.Get("grant_type") != "authorization_code" || gotForm.Get("code") != "upstream-code" {
		t.Errorf("unexpected token request form: %v", gotForm)
	}
	if gotForm.Get("client_secret") != "gateway-secret" {
		t.Error("client_secret missing from token request")
	}
}

// TestPurpose: Validates handling of every token-endpoint failure shape.
// Scope: Integration Test (httptest)
// Security: Upstream Error Discrimination
// Expected: HTML error pages surface as HTTPError with their status;
// protocol errors and malformed successes surface as ErrOIDC.
// Test Case ID: PRV-03
func TestProvider_CreateUserInfo_Failures(t *testing.T) {
	ctx := context.Background()

	t.Run("non-JSON error page", func(t *testing.T) {
		p, u := newTestProvider(t)
		u.tokenHandler = func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "<html>bad gateway</html>", http.StatusBadGateway)
		}
		_, err := p.CreateUserInfo(ctx, "code", "state")
		var httpErr *HTTPError
		if !errors.As(err, &httpErr) {
			t.Fatalf("CreateUserInfo = %v, want HTTPError", err)
		}
		if httpErr.StatusCode != http.StatusBadGateway {
			t.Errorf("StatusCode = %d, want 502", httpErr.StatusCode)
		}
	})

	t.Run("non-JSON success", func(t *testing.T) {
		p, u := newTestProvider(t)
		u.tokenHandler = func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("not json"))
		}
		_, err := p.CreateUserInfo(ctx, "code", "state")
		if !errors.Is(err, ErrOIDC) {
			t.Errorf("CreateUserInfo = %v, want ErrOIDC", err)
		}
	})

	t.Run("protocol error", func(t *testing.T) {
		p, u := newTestProvider(t)
		u.tokenHandler = func(w http.ResponseWriter, r *http.Request) {
			respondJSON(w, http.StatusBadRequest, map[string]string{
				"error":             "invalid_grant",
				"error_description": "code expired",
			})
		}
		_, err := p.CreateUserInfo(ctx, "code", "state")
		if !errors.Is(err, ErrOIDC) {
			t.Fatalf("CreateUserInfo = %v, want ErrOIDC", err)
		}
		if !strings.Contains(err.Error(), "invalid_grant: code expired") {
			t.Errorf("error %q does not carry the upstream description", err)
		}
	})

	t.Run("JSON error without error field", func(t *testing.T) {
		p, u := newTestProvider(t)
		u.tokenHandler = func(w http.ResponseWriter, r *http.Request) {
			respondJSON(w, http.StatusForbidden, map[string]string{"detail": "nope"})
		}
		_, err := p.CreateUserInfo(ctx, "code", "state")
		var httpErr *HTTPError
		if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusForbidden {
			t.Errorf("CreateUserInfo = %v, want HTTPError with status 403", err)
		}
	})

	t.Run("missing id_token", func(t *testing.T) {
		p, u := newTestProvider(t)
		u.tokenHandler = func(w http.ResponseWriter, r *http.Request) {
			respondJSON(w, http.StatusOK, map[string]string{"access_token": "at"})
		}
		_, err := p.CreateUserInfo(ctx, "code", "state")
		if !errors.Is(err, ErrOIDC) {
			t.Errorf("CreateUserInfo = %v, want ErrOIDC", err)
		}
	})

	t.Run("forged id_token", func(t *testing.T) {
		p, u := newTestProvider(t)
		forger, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			t.Fatalf("rsa.GenerateKey failed: %v", err)
		}
		u.tokenHandler = func(w http.ResponseWriter, r *http.Request) {
			tok := jwt.NewWithClaims(jwt.SigningMethodRS256, u.claims(jwt.MapClaims{"sub": "someuser"}))
			tok.Header["kid"] = u.kid
			signed, err := tok.SignedString(forger)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			respondJSON(w, http.StatusOK, map[string]string{"id_token": signed})
		}
		if _, err := p.CreateUserInfo(ctx, "code", "state"); !errors.Is(err, ErrOIDC) {
			t.Errorf("CreateUserInfo = %v, want ErrOIDC", err)
		}
	})

	t.Run("missing username claim", func(t *testing.T) {
		p, u := newTestProvider(t)
		u.tokenHandler = func(w http.ResponseWriter, r *http.Request) {
			respondJSON(w, http.StatusOK, map[string]string{
				"id_token": u.sign(u.kid, u.claims(jwt.MapClaims{"name": "No Subject"})),
			})
		}
		if _, err := p.CreateUserInfo(ctx, "code", "state"); !errors.Is(err, ErrMissingClaims) {
			t.Errorf("CreateUserInfo = %v, want ErrMissingClaims", err)
		}
	})
}
