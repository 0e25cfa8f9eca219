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
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/gatewarden/gatewarden/internal/audit"
)

// Service mints root session tokens after upstream authentication and sweeps
// expired tokens out of the backing stores. Child-token issuance lives in
// internal/tokencache.
type Service struct {
	store       Store
	db          DatabaseStore
	history     ChangeHistoryStore
	auditLogger audit.Logger
	clock       clockwork.Clock
	lifetime    time.Duration
}

// NewService creates a new token service. lifetime is the nominal lifetime
// of a session token.
func NewService(
	store Store,
	db DatabaseStore,
	history ChangeHistoryStore,
	auditLogger audit.Logger,
	clock clockwork.Clock,
	lifetime time.Duration,
) *Service {
	return &Service{
		store:       store,
		db:          db,
		history:     history,
		auditLogger: auditLogger,
		clock:       clock,
		lifetime:    lifetime,
	}
}

// CreateSessionToken mints the root session token for a freshly
// authenticated user. The key-value record is written before the relational
// row so that a crash can leave at most an unreferenced key-value entry.
func (s *Service) CreateSessionToken(ctx context.Context, info *UserInfo, scopes []string, ipAddress string) (Token, error) {
	t, err := New()
	if err != nil {
		return Token{}, err
	}
	created := s.clock.Now().UTC().Truncate(time.Second)
	expires := created.Add(s.lifetime)

	data := &Data{
		Token:    t,
		Username: info.Username,
		Type:     TypeSession,
		Scopes:   NormalizeScopes(scopes),
		Created:  created,
		Expires:  expires,
		Name:     info.Name,
		Email:    info.Email,
		UID:      info.UID,
		Groups:   info.Groups,
	}

	if err := s.store.StoreData(ctx, data); err != nil {
		return Token{}, fmt.Errorf("failed to store session token: %w", err)
	}
	if err := s.db.Add(ctx, data, "", ""); err != nil {
		return Token{}, fmt.Errorf("failed to record session token: %w", err)
	}
	entry := &ChangeHistoryEntry{
		TokenKey:  t.Key,
		Username:  data.Username,
		Type:      TypeSession,
		Scopes:    data.Scopes,
		Expires:   expires,
		Actor:     data.Username,
		Action:    ActionCreate,
		IPAddress: ipAddress,
		EventTime: created,
	}
	if err := s.history.Add(ctx, entry); err != nil {
		return Token{}, fmt.Errorf("failed to record token history: %w", err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:      audit.TypeTokenIssued,
		ActorID:   data.Username,
		Resource:  "token",
		IPAddress: ipAddress,
		Metadata: map[string]any{
			"token_key":  t.Key,
			"token_type": string(TypeSession),
			"scopes":     data.Scopes,
		},
	})
	slog.InfoContext(ctx, "created session token",
		slog.String("token_key", t.Key),
		slog.String("username", data.Username),
	)
	return t, nil
}

// DeleteExpired removes expired tokens from the relational and key-value
// stores, writing an expire history entry for each. Returns the number of
// tokens removed.
func (s *Service) DeleteExpired(ctx context.Context) (int, error) {
	now := s.clock.Now().UTC()
	entries, err := s.db.DeleteExpired(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired tokens: %w", err)
	}
	for _, entry := range entries {
		if err := s.store.DeleteData(ctx, entry.TokenKey); err != nil {
			slog.WarnContext(ctx, "failed to delete expired token data",
				slog.String("token_key", entry.TokenKey),
				slog.String("error", err.Error()),
			)
		}
		if err := s.history.Add(ctx, entry); err != nil {
			return 0, fmt.Errorf("failed to record token history: %w", err)
		}
	}
	return len(entries), nil
}
