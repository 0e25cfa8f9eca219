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

// Package tokencache issues short-lived child tokens to downstream
// services, reusing a cached or stored child whenever one with enough
// remaining lifetime exists. All reads and issuance for one username are
// serialized behind a per-username mutex so concurrent misses cannot
// double-issue.
package tokencache

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/gatewarden/gatewarden/internal/audit"
	"github.com/gatewarden/gatewarden/internal/observability/metrics"
	"github.com/gatewarden/gatewarden/internal/token"
)

// Service is the child-token cache and issuer.
type Service struct {
	store       token.Store
	db          token.DatabaseStore
	history     token.ChangeHistoryStore
	auditLogger audit.Logger
	authMetrics *metrics.AuthMetrics
	clock       clockwork.Clock
	lifetime    time.Duration

	locks    *keyedMutex
	internal *cache
	notebook *cache
}

// NewService creates the child-token service. lifetime is the nominal
// child token lifetime; children of a sooner-expiring parent are capped.
// authMetrics may be nil when metrics are disabled.
func NewService(
	store token.Store,
	db token.DatabaseStore,
	history token.ChangeHistoryStore,
	auditLogger audit.Logger,
	authMetrics *metrics.AuthMetrics,
	clock clockwork.Clock,
	lifetime time.Duration,
) *Service {
	return &Service{
		store:       store,
		db:          db,
		history:     history,
		auditLogger: auditLogger,
		authMetrics: authMetrics,
		clock:       clock,
		lifetime:    lifetime,
		locks:       newKeyedMutex(),
		internal:    newCache(),
		notebook:    newCache(),
	}
}

// GetInternalToken returns a child token for the given downstream service
// and scopes, issuing a new one if no cached or stored child is usable.
func (s *Service) GetInternalToken(ctx context.Context, parent *token.Data, service string, scopes []string, ipAddress string) (token.Token, error) {
	scopes = token.NormalizeScopes(slices.Clone(scopes))
	if scopes == nil {
		scopes = []string{}
	}

	s.locks.Lock(parent.Username)
	defer s.locks.Unlock(parent.Username)

	cacheKey := internalKey(parent, service, scopes)
	if t, ok := s.internal.get(cacheKey); ok {
		if data := s.load(ctx, t); data != nil && s.isValid(data, scopes) {
			s.countHit(ctx, "internal")
			return t, nil
		}
	}
	s.countMiss(ctx, "internal")

	// A matching child may already exist in the database, issued by this
	// or another replica.
	key, err := s.db.GetInternalTokenKey(ctx, parent, service, scopes, s.minExpires(parent))
	if err != nil {
		return token.Token{}, fmt.Errorf("failed to look up internal token: %w", err)
	}
	if key != "" {
		if data, err := s.store.GetDataByKey(ctx, key); err == nil {
			return data.Token, nil
		}
	}

	t, err := s.issue(ctx, parent, token.TypeInternal, service, scopes, ipAddress)
	if err != nil {
		return token.Token{}, err
	}
	s.internal.store(cacheKey, t)
	return t, nil
}

// GetNotebookToken returns a child token carrying the parent's scopes for
// use by an interactive notebook.
func (s *Service) GetNotebookToken(ctx context.Context, parent *token.Data, ipAddress string) (token.Token, error) {
	s.locks.Lock(parent.Username)
	defer s.locks.Unlock(parent.Username)

	cacheKey := notebookKey(parent)
	if t, ok := s.notebook.get(cacheKey); ok {
		if data := s.load(ctx, t); data != nil && s.isValid(data, nil) {
			s.countHit(ctx, "notebook")
			return t, nil
		}
	}
	s.countMiss(ctx, "notebook")

	key, err := s.db.GetNotebookTokenKey(ctx, parent, s.minExpires(parent))
	if err != nil {
		return token.Token{}, fmt.Errorf("failed to look up notebook token: %w", err)
	}
	if key != "" {
		if data, err := s.store.GetDataByKey(ctx, key); err == nil {
			return data.Token, nil
		}
	}

	t, err := s.issue(ctx, parent, token.TypeNotebook, "", slices.Clone(parent.Scopes), ipAddress)
	if err != nil {
		return token.Token{}, err
	}
	s.notebook.store(cacheKey, t)
	return t, nil
}

// load fetches a cached token's data, treating every failure as a cache
// miss so issuance can fall through.
func (s *Service) load(ctx context.Context, t token.Token) *token.Data {
	data, err := s.store.GetData(ctx, t)
	if err != nil {
		return nil
	}
	return data
}

// isValid reports whether a cached child can be reused. requested is nil
// for notebook tokens, which always carry the parent's scopes. The child
// must keep strictly more than half of its original lifetime so
// downstream hops never inherit a near-expired credential.
func (s *Service) isValid(data *token.Data, requested []string) bool {
	if requested != nil {
		for _, scope := range data.Scopes {
			if !slices.Contains(requested, scope) {
				return false
			}
		}
	}
	if data.Expires.IsZero() {
		return true
	}
	now := s.clock.Now()
	return data.Expires.Sub(now) > data.Expires.Sub(data.Created)/2
}

// minExpires is the earliest acceptable expiration for a reusable stored
// child, symmetric with the half-life rule in isValid.
func (s *Service) minExpires(parent *token.Data) time.Time {
	min := s.clock.Now().Add(s.lifetime / 2)
	if !parent.Expires.IsZero() && parent.Expires.Before(min) {
		min = parent.Expires
	}
	return min
}

// issue mints a child token and persists it. The key-value record is
// written first, then the relational row, then the history entry, so a
// crash leaves at most an unreferenced key-value entry.
func (s *Service) issue(ctx context.Context, parent *token.Data, typ token.Type, service string, scopes []string, ipAddress string) (token.Token, error) {
	t, err := token.New()
	if err != nil {
		return token.Token{}, err
	}

	created := s.clock.Now().UTC().Truncate(time.Second)
	expires := created.Add(s.lifetime)
	if !parent.Expires.IsZero() && parent.Expires.Before(expires) {
		expires = parent.Expires
	}

	data := &token.Data{
		Token:    t,
		Username: parent.Username,
		Type:     typ,
		Scopes:   scopes,
		Created:  created,
		Expires:  expires,
		Name:     parent.Name,
		Email:    parent.Email,
		UID:      parent.UID,
		Groups:   parent.Groups,
	}

	if err := s.store.StoreData(ctx, data); err != nil {
		return token.Token{}, fmt.Errorf("failed to store %s token: %w", typ, err)
	}
	if err := s.db.Add(ctx, data, parent.Token.Key, service); err != nil {
		return token.Token{}, fmt.Errorf("failed to record %s token: %w", typ, err)
	}
	entry := &token.ChangeHistoryEntry{
		TokenKey:  t.Key,
		Username:  parent.Username,
		Type:      typ,
		Parent:    parent.Token.Key,
		Scopes:    scopes,
		Service:   service,
		Expires:   expires,
		Actor:     parent.Username,
		Action:    token.ActionCreate,
		IPAddress: ipAddress,
		EventTime: created,
	}
	// No token without an audit trail.
	if err := s.history.Add(ctx, entry); err != nil {
		return token.Token{}, fmt.Errorf("failed to record token history: %w", err)
	}

	if s.authMetrics != nil {
		s.authMetrics.TokensIssued.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(typ))))
	}
	s.auditLogger.Log(ctx, audit.Event{
		Type:      audit.TypeTokenIssued,
		ActorID:   parent.Username,
		Resource:  "token",
		IPAddress: ipAddress,
		Metadata: map[string]any{
			"token_key":  t.Key,
			"token_type": string(typ),
			"parent_key": parent.Token.Key,
			"service":    service,
			"scopes":     scopes,
		},
	})
	slog.InfoContext(ctx, "issued child token",
		slog.String("token_key", t.Key),
		slog.String("token_type", string(typ)),
		slog.String("username", parent.Username),
		slog.String("service", service),
	)
	return t, nil
}

func (s *Service) countHit(ctx context.Context, kind string) {
	if s.authMetrics != nil {
		s.authMetrics.CacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
	}
}

func (s *Service) countMiss(ctx context.Context, kind string) {
	if s.authMetrics != nil {
		s.authMetrics.CacheMisses.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
	}
}
