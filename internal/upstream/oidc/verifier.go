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
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/golang-jwt/jwt/v5"
)

// VerifiedToken is an upstream identity token that passed signature,
// issuer, audience and expiry checks.
type VerifiedToken struct {
	Encoded string
	Claims  jwt.MapClaims
	JTI     string
}

// Verifier validates identity tokens from the configured upstream issuer.
// Public keys are cached per (issuer, kid); a signature failure against a
// cached key triggers one refetch and retry so upstream key rotation does
// not lock users out.
type Verifier struct {
	issuer    string
	audience  string
	algorithm string
	fetcher   *keyFetcher

	mu       sync.Mutex
	keyCache map[string]string // (issuer, kid) -> PEM
}

// NewVerifier creates a verifier for the given issuer and audience.
// Tokens are expected to be signed with algorithm (RS256 in practice).
func NewVerifier(issuer, audience, algorithm string, client *http.Client) *Verifier {
	return &Verifier{
		issuer:    issuer,
		audience:  audience,
		algorithm: algorithm,
		fetcher:   &keyFetcher{client: client, algorithm: algorithm},
		keyCache:  make(map[string]string),
	}
}

// Verify validates the encoded token and returns its claims.
func (v *Verifier) Verify(ctx context.Context, encoded string) (*VerifiedToken, error) {
	unverified, _, err := jwt.NewParser().ParseUnverified(encoded, jwt.MapClaims{})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVerifyToken, err)
	}

	issuer, err := unverified.Claims.GetIssuer()
	if err != nil || issuer == "" {
		return nil, fmt.Errorf("%w: no issuer claim in token", ErrVerifyToken)
	}
	if issuer != v.issuer {
		return nil, fmt.Errorf("%w: got %q, expected %q", ErrInvalidIssuer, issuer, v.issuer)
	}

	kid, _ := unverified.Header["kid"].(string)
	if kid == "" {
		return nil, fmt.Errorf("%w: no kid in token header", ErrVerifyToken)
	}

	pemKey, cached, err := v.getKey(ctx, issuer, kid)
	if err != nil {
		return nil, err
	}

	claims, err := v.parse(encoded, pemKey)
	if err != nil && cached && errors.Is(err, jwt.ErrTokenSignatureInvalid) {
		// The cached key may have been rotated out. Refetch once.
		slog.InfoContext(ctx, "signature failed with cached key, refetching JWKS",
			slog.String("issuer", issuer),
			slog.String("kid", kid),
		)
		v.invalidate(issuer, kid)
		if pemKey, _, err = v.getKey(ctx, issuer, kid); err != nil {
			return nil, err
		}
		claims, err = v.parse(encoded, pemKey)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVerifyToken, err)
	}

	jti := "UNKNOWN"
	if s, ok := claims["jti"].(string); ok && s != "" {
		jti = s
	}
	return &VerifiedToken{Encoded: encoded, Claims: claims, JTI: jti}, nil
}

// parse verifies the signature and the standard claims against the
// configured algorithm and audience.
func (v *Verifier) parse(encoded, pemKey string) (jwt.MapClaims, error) {
	pub, err := jwt.ParseRSAPublicKeyFromPEM([]byte(pemKey))
	if err != nil {
		return nil, err
	}
	claims := jwt.MapClaims{}
	_, err = jwt.ParseWithClaims(encoded, claims,
		func(t *jwt.Token) (any, error) { return pub, nil },
		jwt.WithValidMethods([]string{v.algorithm}),
		jwt.WithAudience(v.audience),
	)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// getKey returns the PEM for (issuer, kid), from cache when available.
// The reported bool is true on a cache hit.
func (v *Verifier) getKey(ctx context.Context, issuer, kid string) (string, bool, error) {
	cacheKey := issuer + "\x00" + kid

	v.mu.Lock()
	pemKey, ok := v.keyCache[cacheKey]
	v.mu.Unlock()
	if ok {
		return pemKey, true, nil
	}

	pemKey, err := v.fetcher.getKey(ctx, issuer, kid)
	if err != nil {
		return "", false, err
	}

	v.mu.Lock()
	v.keyCache[cacheKey] = pemKey
	v.mu.Unlock()
	return pemKey, false, nil
}

func (v *Verifier) invalidate(issuer, kid string) {
	v.mu.Lock()
	delete(v.keyCache, issuer+"\x00"+kid)
	v.mu.Unlock()
}
