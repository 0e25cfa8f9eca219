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

package redis

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/hkdf"

	"github.com/gatewarden/gatewarden/internal/oidcserver"
)

const codeKeyPrefix = "oidc:"

// CodeStore implements oidcserver.CodeStore on Redis. Envelopes are
// AES-GCM encrypted with a key derived from the session secret, so a
// Redis dump alone cannot be replayed as authorization codes.
type CodeStore struct {
	client *redis.Client
	aead   cipher.AEAD
}

// NewCodeStore creates a code store. sessionSecret must be non-empty;
// the AEAD key is HKDF-derived from it.
func NewCodeStore(client *redis.Client, sessionSecret string) (*CodeStore, error) {
	if sessionSecret == "" {
		return nil, fmt.Errorf("session secret is required")
	}
	key := make([]byte, 32)
	kdf := hkdf.New(sha256.New, []byte(sessionSecret), nil, []byte("gatewarden/oidc-code"))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("failed to derive code encryption key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize AEAD: %w", err)
	}
	return &CodeStore{client: client, aead: aead}, nil
}

// StoreEnvelope encrypts and stores an envelope with the given lifetime.
func (s *CodeStore) StoreEnvelope(ctx context.Context, key string, envelope *oidcserver.CodeEnvelope, lifetime time.Duration) error {
	plaintext, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to serialize code envelope: %w", err)
	}
	ciphertext, err := s.encrypt(plaintext)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, codeKeyPrefix+key, ciphertext, lifetime).Err(); err != nil {
		return fmt.Errorf("failed to store code envelope: %w", err)
	}
	return nil
}

// GetEnvelope loads and decrypts an envelope. A missing key maps to
// oidcserver.ErrCodeNotFound.
func (s *CodeStore) GetEnvelope(ctx context.Context, key string) (*oidcserver.CodeEnvelope, error) {
	ciphertext, err := s.client.Get(ctx, codeKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, oidcserver.ErrCodeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read code envelope: %w", err)
	}
	plaintext, err := s.decrypt(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt code envelope for %s: %w", key, err)
	}
	var envelope oidcserver.CodeEnvelope
	if err := json.Unmarshal(plaintext, &envelope); err != nil {
		return nil, fmt.Errorf("failed to parse code envelope for %s: %w", key, err)
	}
	return &envelope, nil
}

// DeleteEnvelope removes an envelope.
func (s *CodeStore) DeleteEnvelope(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, codeKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("failed to delete code envelope: %w", err)
	}
	return nil
}

// encrypt seals plaintext as nonce || ciphertext.
func (s *CodeStore) encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return s.aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (s *CodeStore) decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < s.aead.NonceSize() {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, sealed := ciphertext[:s.aead.NonceSize()], ciphertext[s.aead.NonceSize():]
	return s.aead.Open(nil, nonce, sealed, nil)
}
