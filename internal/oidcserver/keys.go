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
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"os"
)

// SigningKey is the gateway's ID-token signing key.
type SigningKey struct {
	Key   *rsa.PrivateKey
	KeyID string
}

// LoadSigningKey reads an RSA private key in PEM form. If path is empty a
// fresh key is generated; fine for development, but restarts then
// invalidate outstanding ID tokens. If keyID is empty a stable kid is
// derived from the key modulus.
func LoadSigningKey(path, keyID string) (*SigningKey, error) {
	var key *rsa.PrivateKey
	if path == "" {
		var err error
		key, err = rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			return nil, fmt.Errorf("failed to generate signing key: %w", err)
		}
	} else {
		pemBytes, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read signing key: %w", err)
		}
		key, err = parsePrivateKey(pemBytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse signing key: %w", err)
		}
	}
	if keyID == "" {
		keyID = deriveKeyID(key)
	}
	return &SigningKey{Key: key, KeyID: keyID}, nil
}

func parsePrivateKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("not an RSA key")
	}
	return key, nil
}

// deriveKeyID hashes the public modulus so the kid survives restarts with
// the same key file.
func deriveKeyID(key *rsa.PrivateKey) string {
	sum := sha256.Sum256(key.N.Bytes())
	return base64.RawURLEncoding.EncodeToString(sum[:16])
}
