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
	"context"
	"errors"
	"time"
)

// Client is a registered relying party.
type Client struct {
	ID     string
	Secret string
}

// CodeEnvelope is the payload stored, encrypted, for an issued
// authorization code. The full serialized code is included so redemption
// can verify the secret half against what the relying party presents.
type CodeEnvelope struct {
	Code        string    `json:"code"`
	ClientID    string    `json:"client_id"`
	RedirectURI string    `json:"redirect_uri"`
	Token       string    `json:"token"`
	CreatedAt   time.Time `json:"created_at"`
}

// ErrCodeNotFound is returned by a CodeStore when no envelope exists for
// a code key, whether never issued, already redeemed, or expired.
var ErrCodeNotFound = errors.New("authorization code not found")

// CodeStore persists encrypted authorization-code envelopes under
// oidc:<key> with a TTL of the code lifetime.
type CodeStore interface {
	StoreEnvelope(ctx context.Context, key string, envelope *CodeEnvelope, lifetime time.Duration) error
	GetEnvelope(ctx context.Context, key string) (*CodeEnvelope, error)
	DeleteEnvelope(ctx context.Context, key string) error
}
