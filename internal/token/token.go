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

// Package token holds the opaque credential model shared by the whole
// gateway: the gt-/gc- codec, the metadata stored alongside a token, the
// change-history records, and the store interfaces implemented under
// internal/store.
package token

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

const (
	tokenPrefix = "gt-"
	codePrefix  = "gc-"

	// Length of each half of a serialized token: 128 bits of entropy in
	// unpadded url-safe base64.
	partLength = 22
)

// ErrInvalidToken indicates a string that does not parse as a token or
// authorization code.
var ErrInvalidToken = errors.New("invalid token")

// Token is an opaque bearer credential. The key half is semi-public and used
// as the Redis key; the secret half only appears in the serialized form
// handed to the holder.
type Token struct {
	Key    string
	Secret string
}

// New generates a fresh token from the cryptographic random source.
func New() (Token, error) {
	key, err := randomPart()
	if err != nil {
		return Token{}, err
	}
	secret, err := randomPart()
	if err != nil {
		return Token{}, err
	}
	return Token{Key: key, Secret: secret}, nil
}

// Parse decodes the serialized gt- form of a token.
func Parse(s string) (Token, error) {
	key, secret, err := parseOpaque(s, tokenPrefix)
	if err != nil {
		return Token{}, err
	}
	return Token{Key: key, Secret: secret}, nil
}

// IsToken reports whether a string has the shape of a token, without
// checking it against any store.
func IsToken(s string) bool {
	_, err := Parse(s)
	return err == nil
}

func (t Token) String() string {
	return tokenPrefix + t.Key + "." + t.Secret
}

// Code is a downstream OIDC authorization code. It shares the token shape
// but serializes with the gc- prefix so codes and tokens cannot be confused
// in logs or stores.
type Code struct {
	Key    string
	Secret string
}

// NewCode generates a fresh authorization code.
func NewCode() (Code, error) {
	t, err := New()
	if err != nil {
		return Code{}, err
	}
	return Code{Key: t.Key, Secret: t.Secret}, nil
}

// ParseCode decodes the serialized gc- form of an authorization code.
func ParseCode(s string) (Code, error) {
	key, secret, err := parseOpaque(s, codePrefix)
	if err != nil {
		return Code{}, err
	}
	return Code{Key: key, Secret: secret}, nil
}

func (c Code) String() string {
	return codePrefix + c.Key + "." + c.Secret
}

func parseOpaque(s, prefix string) (key, secret string, err error) {
	if !strings.HasPrefix(s, prefix) {
		return "", "", fmt.Errorf("%w: missing %s prefix", ErrInvalidToken, prefix)
	}
	trimmed := s[len(prefix):]
	key, secret, found := strings.Cut(trimmed, ".")
	if !found {
		return "", "", fmt.Errorf("%w: malformed", ErrInvalidToken)
	}
	if len(key) != partLength || len(secret) != partLength {
		return "", "", fmt.Errorf("%w: malformed", ErrInvalidToken)
	}
	if !isBase64URL(key) || !isBase64URL(secret) {
		return "", "", fmt.Errorf("%w: malformed", ErrInvalidToken)
	}
	return key, secret, nil
}

func isBase64URL(s string) bool {
	for _, c := range s {
		switch {
		case c >= 'A' && c <= 'Z':
		case c >= 'a' && c <= 'z':
		case c >= '0' && c <= '9':
		case c == '-' || c == '_':
		default:
			return false
		}
	}
	return true
}

// randomPart returns 128 bits of entropy as unpadded url-safe base64,
// always exactly partLength characters.
func randomPart() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
