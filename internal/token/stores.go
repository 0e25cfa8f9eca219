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

package token

import (
	"context"
	"errors"
	"time"
)

// Domain errors shared by the store implementations.
var (
	ErrDataNotFound   = errors.New("token data not found")
	ErrSecretMismatch = errors.New("token secret mismatch")
)

// Store is the key-value backing store for token data, keyed by
// token:<key> with a TTL matching the token expiration.
type Store interface {
	// StoreData persists the data for a token.
	StoreData(ctx context.Context, data *Data) error

	// GetData retrieves the data for a token, verifying the secret in
	// constant time. Returns ErrDataNotFound if absent or expired and
	// ErrSecretMismatch if the key exists but the secret does not match.
	GetData(ctx context.Context, t Token) (*Data, error)

	// GetDataByKey retrieves the data for a token key without checking
	// the secret. Used internally when following database references.
	GetDataByKey(ctx context.Context, key string) (*Data, error)

	// DeleteData removes the data for a token key.
	DeleteData(ctx context.Context, key string) error
}

// DatabaseStore is the relational backing store for tokens, used for
// lookups by parent and for administrative queries.
type DatabaseStore interface {
	// Add inserts a token row. parent and service are empty for tokens
	// that have none.
	Add(ctx context.Context, data *Data, parent, service string) error

	// GetInternalTokenKey returns the key of an existing internal child
	// of the given parent matching service and scopes and expiring no
	// earlier than minExpires, or the empty string if there is none.
	GetInternalTokenKey(ctx context.Context, parent *Data, service string, scopes []string, minExpires time.Time) (string, error)

	// GetNotebookTokenKey is the notebook analogue of
	// GetInternalTokenKey.
	GetNotebookTokenKey(ctx context.Context, parent *Data, minExpires time.Time) (string, error)

	// DeleteExpired removes rows whose expiration has passed and returns
	// history entries describing the deletions so the caller can record
	// them.
	DeleteExpired(ctx context.Context, now time.Time) ([]*ChangeHistoryEntry, error)
}

// ChangeHistoryStore is the append-only audit trail of token changes.
type ChangeHistoryStore interface {
	Add(ctx context.Context, entry *ChangeHistoryEntry) error
}
