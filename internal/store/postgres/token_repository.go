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

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/gatewarden/gatewarden/internal/token"
)

// TokenRepository implements token.DatabaseStore
type TokenRepository struct {
	db *DB
}

// NewTokenRepository creates a new token repository
func NewTokenRepository(db *DB) *TokenRepository {
	return &TokenRepository{db: db}
}

// Add inserts a token row
func (r *TokenRepository) Add(ctx context.Context, data *token.Data, parent, service string) error {
	var expires sql.NullTime
	if !data.Expires.IsZero() {
		expires = sql.NullTime{Time: data.Expires, Valid: true}
	}

	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO token (
			key, username, token_type, parent_key, service, scopes, created, expires
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		data.Token.Key, data.Username, string(data.Type),
		nullString(parent), nullString(service), data.Scopes, data.Created, expires,
	)
	if err != nil {
		return fmt.Errorf("failed to create token row: %w", err)
	}
	return nil
}

// GetInternalTokenKey returns the key of a reusable internal child token,
// or the empty string when there is none. scopes must be in canonical
// sorted form; the array comparison is exact.
func (r *TokenRepository) GetInternalTokenKey(ctx context.Context, parent *token.Data, service string, scopes []string, minExpires time.Time) (string, error) {
	var key string
	err := r.db.pool.QueryRow(ctx, `
		SELECT key FROM token
		WHERE parent_key = $1
		  AND token_type = $2
		  AND service = $3
		  AND scopes = $4
		  AND expires >= $5
		ORDER BY expires DESC
		LIMIT 1
	`, parent.Token.Key, string(token.TypeInternal), service, scopes, minExpires).Scan(&key)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up internal token: %w", err)
	}
	return key, nil
}

// GetNotebookTokenKey returns the key of a reusable notebook child token,
// or the empty string when there is none.
func (r *TokenRepository) GetNotebookTokenKey(ctx context.Context, parent *token.Data, minExpires time.Time) (string, error) {
	var key string
	err := r.db.pool.QueryRow(ctx, `
		SELECT key FROM token
		WHERE parent_key = $1
		  AND token_type = $2
		  AND expires >= $3
		ORDER BY expires DESC
		LIMIT 1
	`, parent.Token.Key, string(token.TypeNotebook), minExpires).Scan(&key)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up notebook token: %w", err)
	}
	return key, nil
}

// DeleteExpired removes expired rows and returns expire history entries
// describing them. Child rows of a deleted parent go with it via the
// foreign key cascade and get their own entries when their expiry passes
// first, so the returned set covers exactly the rows matched here.
func (r *TokenRepository) DeleteExpired(ctx context.Context, now time.Time) ([]*token.ChangeHistoryEntry, error) {
	rows, err := r.db.pool.Query(ctx, `
		DELETE FROM token
		WHERE expires IS NOT NULL AND expires <= $1
		RETURNING key, username, token_type, parent_key, service, scopes, expires
	`, now)
	if err != nil {
		return nil, fmt.Errorf("failed to delete expired tokens: %w", err)
	}
	defer rows.Close()

	var entries []*token.ChangeHistoryEntry
	for rows.Next() {
		var (
			entry           token.ChangeHistoryEntry
			typ             string
			parent, service sql.NullString
			expires         sql.NullTime
		)
		if err := rows.Scan(&entry.TokenKey, &entry.Username, &typ, &parent, &service, &entry.Scopes, &expires); err != nil {
			return nil, fmt.Errorf("failed to scan expired token: %w", err)
		}
		entry.Type = token.Type(typ)
		entry.Parent = parent.String
		entry.Service = service.String
		entry.Expires = expires.Time
		entry.Actor = entry.Username
		entry.Action = token.ActionExpire
		entry.EventTime = now
		entries = append(entries, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to delete expired tokens: %w", err)
	}
	return entries, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
