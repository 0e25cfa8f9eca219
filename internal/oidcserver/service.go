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

// Package oidcserver is the OpenID Connect provider surface the gateway
// exposes to relying parties: one-shot opaque authorization codes bound
// to a session, redeemed for a signed ID token.
package oidcserver

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"

	"github.com/gatewarden/gatewarden/internal/audit"
	"github.com/gatewarden/gatewarden/internal/observability/metrics"
	"github.com/gatewarden/gatewarden/internal/token"
)

// Config is the provider configuration.
type Config struct {
	Issuer          string
	Audience        string
	UsernameClaim   string
	UIDClaim        string
	CodeLifetime    time.Duration
	IDTokenLifetime time.Duration
	Clients         []Client
}

// Service issues and redeems authorization codes and signs ID tokens.
type Service struct {
	cfg         Config
	signingKey  *SigningKey
	codes       CodeStore
	sessions    token.Store
	auditLogger audit.Logger
	authMetrics *metrics.AuthMetrics
	clock       clockwork.Clock
}

// NewService creates the downstream OIDC provider. authMetrics may be
// nil when metrics are disabled.
func NewService(
	cfg Config,
	signingKey *SigningKey,
	codes CodeStore,
	sessions token.Store,
	auditLogger audit.Logger,
	authMetrics *metrics.AuthMetrics,
	clock clockwork.Clock,
) *Service {
	return &Service{
		cfg:         cfg,
		signingKey:  signingKey,
		codes:       codes,
		sessions:    sessions,
		auditLogger: auditLogger,
		authMetrics: authMetrics,
		clock:       clock,
	}
}

// IDTokenLifetime reports the configured ID token lifetime.
func (s *Service) IDTokenLifetime() time.Duration {
	return s.cfg.IDTokenLifetime
}

func (s *Service) client(clientID string) (Client, bool) {
	for _, c := range s.cfg.Clients {
		if c.ID == clientID {
			return c, true
		}
	}
	return Client{}, false
}

// IssueCode creates a one-shot authorization code bound to the session
// token for the given relying party.
func (s *Service) IssueCode(ctx context.Context, clientID, redirectURI string, t token.Token) (token.Code, error) {
	if _, ok := s.client(clientID); !ok {
		return token.Code{}, protocolError(CodeUnauthorizedClient, fmt.Sprintf("unknown client_id %q", clientID))
	}

	code, err := token.NewCode()
	if err != nil {
		return token.Code{}, err
	}
	envelope := &CodeEnvelope{
		Code:        code.String(),
		ClientID:    clientID,
		RedirectURI: redirectURI,
		Token:       t.String(),
		CreatedAt:   s.clock.Now().UTC().Truncate(time.Second),
	}
	if err := s.codes.StoreEnvelope(ctx, code.Key, envelope, s.cfg.CodeLifetime); err != nil {
		return token.Code{}, fmt.Errorf("failed to store authorization code: %w", err)
	}

	if s.authMetrics != nil {
		s.authMetrics.CodesIssued.Add(ctx, 1)
	}
	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeCodeIssued,
		ActorID:  clientID,
		Resource: "authorization_code",
		Metadata: map[string]any{
			"code_key":     code.Key,
			"client_id":    clientID,
			"redirect_uri": redirectURI,
			"token_key":    t.Key,
		},
	})
	slog.InfoContext(ctx, "issued authorization code",
		slog.String("code_key", code.Key),
		slog.String("client_id", clientID),
	)
	return code, nil
}

// RedeemCode exchanges an authorization code for a signed ID token. The
// code is deleted on the first redemption attempt that presents the
// correct secret, whether or not the remaining checks pass.
func (s *Service) RedeemCode(ctx context.Context, clientID, clientSecret, redirectURI string, code token.Code) (string, error) {
	client, ok := s.client(clientID)
	if !ok {
		return "", protocolError(CodeInvalidClient, fmt.Sprintf("unknown client_id %q", clientID))
	}
	if subtle.ConstantTimeCompare([]byte(client.Secret), []byte(clientSecret)) != 1 {
		return "", protocolError(CodeInvalidClient, "invalid client_secret")
	}

	envelope, err := s.codes.GetEnvelope(ctx, code.Key)
	if err != nil {
		return "", protocolError(CodeInvalidGrant, "unknown authorization code")
	}
	stored, err := token.ParseCode(envelope.Code)
	if err != nil {
		return "", protocolError(CodeInvalidGrant, "malformed stored code")
	}
	if subtle.ConstantTimeCompare([]byte(stored.Secret), []byte(code.Secret)) != 1 {
		return "", protocolError(CodeInvalidGrant, "invalid authorization code")
	}

	// One-shot from here on, even if a later check rejects the request.
	if err := s.codes.DeleteEnvelope(ctx, code.Key); err != nil {
		slog.WarnContext(ctx, "failed to delete redeemed authorization code",
			slog.String("code_key", code.Key),
			slog.String("error", err.Error()),
		)
	}

	if envelope.ClientID != clientID {
		return "", protocolError(CodeInvalidGrant, "authorization code issued to another client")
	}
	if envelope.RedirectURI != redirectURI {
		return "", protocolError(CodeInvalidGrant, "redirect_uri mismatch")
	}

	sessionToken, err := token.Parse(envelope.Token)
	if err != nil {
		return "", protocolError(CodeInvalidGrant, "malformed session reference")
	}
	data, err := s.sessions.GetData(ctx, sessionToken)
	if err != nil {
		return "", protocolError(CodeInvalidGrant, "session no longer valid")
	}
	if data.IsExpired(s.clock.Now()) {
		return "", protocolError(CodeInvalidGrant, "session expired")
	}

	idToken, err := s.signIDToken(data, code.Key)
	if err != nil {
		return "", fmt.Errorf("failed to sign id token: %w", err)
	}

	if s.authMetrics != nil {
		s.authMetrics.CodesRedeemed.Add(ctx, 1)
	}
	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeCodeRedeemed,
		ActorID:  clientID,
		Resource: "authorization_code",
		Metadata: map[string]any{
			"code_key":  code.Key,
			"client_id": clientID,
			"username":  data.Username,
		},
	})
	slog.InfoContext(ctx, "redeemed authorization code",
		slog.String("code_key", code.Key),
		slog.String("client_id", clientID),
		slog.String("username", data.Username),
	)
	return idToken, nil
}

// signIDToken builds and signs the ID token for a redeemed code. The jti
// is the code key, tying the token back to the history of its issuance.
func (s *Service) signIDToken(data *token.Data, codeKey string) (string, error) {
	now := s.clock.Now().UTC()
	claims := jwt.MapClaims{
		"iss":                s.cfg.Issuer,
		"aud":                s.cfg.Audience,
		"iat":                now.Unix(),
		"exp":                now.Add(s.cfg.IDTokenLifetime).Unix(),
		"jti":                codeKey,
		"sub":                data.Username,
		"preferred_username": data.Username,
		"scope":              "openid",
	}
	claims[s.cfg.UsernameClaim] = data.Username
	claims[s.cfg.UIDClaim] = data.UID
	if data.Name != "" {
		claims["name"] = data.Name
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = s.signingKey.KeyID
	return tok.SignedString(s.signingKey.Key)
}
