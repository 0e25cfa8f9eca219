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
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"

	"github.com/gatewarden/gatewarden/internal/token"
)

const tokenKeyPrefix = "token:"

// tokenEnvelope is the stored form of token data. Timestamps are unix
// seconds; zero means no expiration.
type tokenEnvelope struct {
	Token    string        `json:"token"`
	Username string        `json:"username"`
	Type     string        `json:"token_type"`
	Scopes   []string      `json:"scopes"`
	Created  int64         `json:"created"`
	Expires  int64         `json:"expires,omitempty"`
	Name     string        `json:"name,omitempty"`
	Email    string        `json:"email,omitempty"`
	UID      int           `json:"uid,omitempty"`
	Groups   []token.Group `json:"groups,omitempty"`
}

// TokenStore implements token.Store on Redis.
type TokenStore struct {
	client *redis.Client
	clock  clockwork.Clock
}

// NewTokenStore creates a token store on the given client.
func NewTokenStore(client *redis.Client, clock clockwork.Clock) *TokenStore {
	return &TokenStore{client: client, clock: clock}
}

// StoreData persists token data with a TTL matching the expiration.
func (s *TokenStore) StoreData(ctx context.Context, data *token.Data) error {
	envelope := tokenEnvelope{
		Token:    data.Token.String(),
		Username: data.Username,
		Type:     string(data.Type),
		Scopes:   data.Scopes,
		Created:  data.Created.Unix(),
		Name:     data.Name,
		Email:    data.Email,
		UID:      data.UID,
		Groups:   data.Groups,
	}
	if !data.Expires.IsZero() {
		envelope.Expires = data.Expires.Unix()
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to serialize token data: %w", err)
	}

	var ttl time.Duration
	if !data.Expires.IsZero() {
		ttl = data.Expires.Sub(s.clock.Now())
		if ttl <= 0 {
			return fmt.Errorf("token %s already expired", data.Token.Key)
		}
	}
	if err := s.client.Set(ctx, tokenKeyPrefix+data.Token.Key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store token data: %w", err)
	}
	return nil
}

// GetData retrieves token data, verifying the secret in constant time.
func (s *TokenStore) GetData(ctx context.Context, t token.Token) (*token.Data, error) {
	data, err := s.GetDataByKey(ctx, t.Key)
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare([]byte(data.Token.Secret), []byte(t.Secret)) != 1 {
		return nil, token.ErrSecretMismatch
	}
	return data, nil
}

// GetDataByKey retrieves token data without a secret check.
func (s *TokenStore) GetDataByKey(ctx context.Context, key string) (*token.Data, error) {
	payload, err := s.client.Get(ctx, tokenKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, token.ErrDataNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read token data: %w", err)
	}

	var envelope tokenEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("failed to parse token data for %s: %w", key, err)
	}
	stored, err := token.Parse(envelope.Token)
	if err != nil {
		return nil, fmt.Errorf("corrupt token data for %s: %w", key, err)
	}

	data := &token.Data{
		Token:    stored,
		Username: envelope.Username,
		Type:     token.Type(envelope.Type),
		Scopes:   envelope.Scopes,
		Created:  time.Unix(envelope.Created, 0).UTC(),
		Name:     envelope.Name,
		Email:    envelope.Email,
		UID:      envelope.UID,
		Groups:   envelope.Groups,
	}
	if envelope.Expires != 0 {
		data.Expires = time.Unix(envelope.Expires, 0).UTC()
	}
	return data, nil
}

// DeleteData removes the data for a token key.
func (s *TokenStore) DeleteData(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, tokenKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("failed to delete token data: %w", err)
	}
	return nil
}
