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

package oidcserver

import (
	"encoding/base64"
	"math/big"
)

// DiscoveryMetadata is the OpenID Connect discovery document advertised
// at /.well-known/openid-configuration.
type DiscoveryMetadata struct {
	Issuer                           string   `json:"issuer"`
	AuthorizationEndpoint            string   `json:"authorization_endpoint"`
	TokenEndpoint                    string   `json:"token_endpoint"`
	JWKSURI                          string   `json:"jwks_uri"`
	ResponseTypesSupported           []string `json:"response_types_supported"`
	GrantTypesSupported              []string `json:"grant_types_supported"`
	SubjectTypesSupported            []string `json:"subject_types_supported"`
	IDTokenSigningAlgValuesSupported []string `json:"id_token_signing_alg_values_supported"`
	ScopesSupported                  []string `json:"scopes_supported"`
	TokenEndpointAuthMethods         []string `json:"token_endpoint_auth_methods_supported"`
}

// Discovery builds the metadata document for this provider.
func (s *Service) Discovery() *DiscoveryMetadata {
	return &DiscoveryMetadata{
		Issuer:                           s.cfg.Issuer,
		AuthorizationEndpoint:            s.cfg.Issuer + "/auth/openid/login",
		TokenEndpoint:                    s.cfg.Issuer + "/auth/openid/token",
		JWKSURI:                          s.cfg.Issuer + "/.well-known/jwks.json",
		ResponseTypesSupported:           []string{"code"},
		GrantTypesSupported:              []string{"authorization_code"},
		SubjectTypesSupported:            []string{"public"},
		IDTokenSigningAlgValuesSupported: []string{"RS256"},
		ScopesSupported:                  []string{"openid"},
		TokenEndpointAuthMethods:         []string{"client_secret_post"},
	}
}

// JWK is one published verification key.
type JWK struct {
	Alg string `json:"alg"`
	Kty string `json:"kty"`
	Use string `json:"use"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JWKSDocument is the key set served at /.well-known/jwks.json.
type JWKSDocument struct {
	Keys []JWK `json:"keys"`
}

// JWKS publishes the signing key's public half.
func (s *Service) JWKS() *JWKSDocument {
	n := s.signingKey.Key.N
	e := big.NewInt(int64(s.signingKey.Key.E))
	return &JWKSDocument{
		Keys: []JWK{{
			Alg: "RS256",
			Kty: "RSA",
			Use: "sig",
			Kid: s.signingKey.KeyID,
			N:   base64.RawURLEncoding.EncodeToString(n.Bytes()),
			E:   base64.RawURLEncoding.EncodeToString(e.Bytes()),
		}},
	}
}
