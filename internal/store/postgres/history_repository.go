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
	"fmt"

	"github.com/gatewarden/gatewarden/internal/token"
)

// HistoryRepository implements token.ChangeHistoryStore
type HistoryRepository struct {
	db *DB
}

// NewHistoryRepository creates a new change history repository
func NewHistoryRepository(db *DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// Add appends a change history entry
func (r *HistoryRepository) Add(ctx context.Context, entry *token.ChangeHistoryEntry) error {
	var expires sql.NullTime
	if !entry.Expires.IsZero() {
		expires = sql.NullTime{Time: entry.Expires, Valid: true}
	}

	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO token_change_history (
			token_key, username, token_type, parent_key, scopes,
			service, expires, actor, action, ip_address, event_time
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		entry.TokenKey, entry.Username, string(entry.Type),
		nullString(entry.Parent), entry.Scopes, nullString(entry.Service),
		expires, entry.Actor, string(entry.Action),
		nullString(entry.IPAddress), entry.EventTime,
	)
	if err != nil {
		return fmt.Errorf("failed to record token change: %w", err)
	}
	return nil
}
