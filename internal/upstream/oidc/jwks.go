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
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
)

// JWKSKey is one entry in an issuer's published key set. Fields beyond
// those needed for RSA verification are ignored.
type JWKSKey struct {
	KeyID     string `json:"kid"`
	Algorithm string `json:"alg"`
	Exponent  string `json:"e"`
	Modulus   string `json:"n"`
}

type jwksDocument struct {
	Keys []JWKSKey `json:"keys"`
}

type discoveryDocument struct {
	JWKSURI string `json:"jwks_uri"`
}

// keyFetcher resolves an issuer's signing keys. The discovery document is
// consulted first; the well-known JWKS path is a fallback only when
// discovery itself is unreachable.
type keyFetcher struct {
	client    *http.Client
	algorithm string
}

// getKeys fetches the issuer's key set. Every transport or decode failure
// maps to ErrFetchKeys.
func (f *keyFetcher) getKeys(ctx context.Context, issuer string) ([]JWKSKey, error) {
	uri, err := f.jwksURI(ctx, issuer)
	if err != nil {
		return nil, err
	}

	body, err := f.get(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchKeys, err)
	}

	var doc jwksDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: cannot parse JWKS from %s: %v", ErrFetchKeys, uri, err)
	}
	if doc.Keys == nil {
		return nil, fmt.Errorf("%w: no keys element in JWKS from %s", ErrFetchKeys, uri)
	}
	return doc.Keys, nil
}

// jwksURI resolves the JWKS endpoint for the issuer. A 200 discovery
// response without jwks_uri means the provider is misconfigured and is a
// hard error, not a fallback case.
func (f *keyFetcher) jwksURI(ctx context.Context, issuer string) (string, error) {
	discoveryURL := issuer + "/.well-known/openid-configuration"
	body, err := f.get(ctx, discoveryURL)
	if err != nil {
		slog.DebugContext(ctx, "discovery unavailable, falling back to well-known JWKS",
			slog.String("issuer", issuer),
			slog.String("error", err.Error()),
		)
		return issuer + "/.well-known/jwks.json", nil
	}

	var doc discoveryDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", fmt.Errorf("%w: cannot parse discovery document from %s: %v", ErrFetchKeys, discoveryURL, err)
	}
	if doc.JWKSURI == "" {
		return "", fmt.Errorf("%w: discovery document from %s has no jwks_uri", ErrFetchKeys, discoveryURL)
	}
	return doc.JWKSURI, nil
}

func (f *keyFetcher) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d from %s", resp.StatusCode, url)
	}
	return io.ReadAll(resp.Body)
}

// getKey returns the PEM-encoded public key for kid from the issuer's key
// set. Duplicate kids are malformed on the issuer's side; the last match
// wins.
func (f *keyFetcher) getKey(ctx context.Context, issuer, kid string) (string, error) {
	keys, err := f.getKeys(ctx, issuer)
	if err != nil {
		return "", err
	}

	var match *JWKSKey
	for i := range keys {
		if keys[i].KeyID == kid {
			match = &keys[i]
		}
	}
	if match == nil {
		return "", fmt.Errorf("%w: issuer %s has no key %q", ErrUnknownKeyID, issuer, kid)
	}
	if match.Algorithm != "" && match.Algorithm != f.algorithm {
		return "", fmt.Errorf("%w: key %q uses %s, expected %s", ErrUnknownAlgorithm, kid, match.Algorithm, f.algorithm)
	}
	return buildPublicKeyPEM(match)
}

// buildPublicKeyPEM converts the (e, n) pair of a JWKS entry into a
// SubjectPublicKeyInfo PEM block.
func buildPublicKeyPEM(key *JWKSKey) (string, error) {
	eBytes, err := base64.RawURLEncoding.DecodeString(key.Exponent)
	if err != nil {
		return "", fmt.Errorf("%w: invalid exponent in key %q: %v", ErrFetchKeys, key.KeyID, err)
	}
	nBytes, err := base64.RawURLEncoding.DecodeString(key.Modulus)
	if err != nil {
		return "", fmt.Errorf("%w: invalid modulus in key %q: %v", ErrFetchKeys, key.KeyID, err)
	}

	pub := &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: int(new(big.Int).SetBytes(eBytes).Int64()),
	}
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("%w: cannot encode key %q: %v", ErrFetchKeys, key.KeyID, err)
	}
	block := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
	return string(block), nil
}
