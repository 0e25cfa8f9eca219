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

// Package oidc authenticates users against the upstream OpenID Connect
// identity provider: it builds the authorization redirect, redeems the
// returned code at the token endpoint, verifies the signed identity token
// against the issuer's published keys, and extracts the user attributes
// that seed a session.
package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/gatewarden/gatewarden/internal/config"
	"github.com/gatewarden/gatewarden/internal/token"
)

// Provider drives the upstream authorization-code flow.
type Provider struct {
	cfg      config.UpstreamOIDCConfig
	client   *http.Client
	verifier *Verifier
	userinfo *userInfoExtractor
}

// NewProvider creates a provider for the configured upstream issuer.
// Tokens are verified as RS256.
func NewProvider(cfg config.UpstreamOIDCConfig) *Provider {
	client := &http.Client{Timeout: cfg.HTTPTimeout}
	return &Provider{
		cfg:      cfg,
		client:   client,
		verifier: NewVerifier(cfg.Issuer, cfg.Audience, "RS256", client),
		userinfo: &userInfoExtractor{
			usernameClaim: cfg.UsernameClaim,
			uidClaim:      cfg.UIDClaim,
			groupsClaim:   cfg.GroupsClaim,
		},
	}
}

// RedirectURL builds the authorization-endpoint URL for a login. state is
// the caller's CSRF nonce. Extra configured login parameters may override
// any default except response_type.
func (p *Provider) RedirectURL(state string) string {
	scopes := append([]string{"openid"}, p.cfg.Scopes...)

	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", p.cfg.ClientID)
	q.Set("redirect_uri", p.cfg.RedirectURL)
	q.Set("scope", strings.Join(dedupe(scopes), " "))
	q.Set("state", state)
	for k, v := range p.cfg.LoginParams {
		if k == "response_type" {
			continue
		}
		q.Set(k, v)
	}
	return p.cfg.LoginURL + "?" + q.Encode()
}

// CreateUserInfo redeems the authorization code returned by the upstream
// provider and extracts the authenticated user's attributes from the
// verified identity token.
func (p *Provider) CreateUserInfo(ctx context.Context, code, state string) (*token.UserInfo, error) {
	body, status, err := p.exchangeCode(ctx, code)
	if err != nil {
		return nil, err
	}

	var result map[string]any
	if err := json.Unmarshal(body, &result); err != nil {
		if status != http.StatusOK {
			return nil, &HTTPError{StatusCode: status, Body: string(body)}
		}
		return nil, fmt.Errorf("%w: response not valid JSON", ErrOIDC)
	}
	if status != http.StatusOK {
		if oidcErr, ok := result["error"].(string); ok {
			desc, _ := result["error_description"].(string)
			return nil, fmt.Errorf("%w: %s: %s", ErrOIDC, oidcErr, desc)
		}
		return nil, &HTTPError{StatusCode: status, Body: string(body)}
	}

	idToken, ok := result["id_token"].(string)
	if !ok || idToken == "" {
		return nil, fmt.Errorf("%w: no id_token in token endpoint response", ErrOIDC)
	}

	verified, err := p.verifier.Verify(ctx, idToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOIDC, err)
	}
	slog.DebugContext(ctx, "verified upstream identity token",
		slog.String("issuer", p.cfg.Issuer),
		slog.String("jti", verified.JTI),
	)

	return p.userinfo.extract(verified)
}

// exchangeCode POSTs the authorization code to the token endpoint and
// returns the raw response body and status.
func (p *Provider) exchangeCode(ctx context.Context, code string) ([]byte, int, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("client_id", p.cfg.ClientID)
	form.Set("client_secret", p.cfg.ClientSecret)
	form.Set("code", code)
	form.Set("redirect_uri", p.cfg.RedirectURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrOIDC, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: token endpoint request failed: %v", ErrOIDC, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: reading token endpoint response: %v", ErrOIDC, err)
	}
	return body, resp.StatusCode, nil
}

// dedupe drops repeated scopes while preserving order.
func dedupe(scopes []string) []string {
	seen := make(map[string]bool, len(scopes))
	out := scopes[:0]
	for _, s := range scopes {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
