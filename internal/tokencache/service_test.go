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

package tokencache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/gatewarden/gatewarden/internal/audit"
	"github.com/gatewarden/gatewarden/internal/token"
)

type mockStore struct {
	mu     sync.Mutex
	data   map[string]*token.Data
	stores int
}

func newMockStore() *mockStore {
	return &mockStore{data: make(map[string]*token.Data)}
}

func (m *mockStore) StoreData(ctx context.Context, data *token.Data) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[data.Token.Key] = data
	m.stores++
	return nil
}

func (m *mockStore) GetData(ctx context.Context, t token.Token) (*token.Data, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.data[t.Key]
	if !ok {
		return nil, token.ErrDataNotFound
	}
	if data.Token.Secret != t.Secret {
		return nil, token.ErrSecretMismatch
	}
	return data, nil
}

func (m *mockStore) GetDataByKey(ctx context.Context, key string) (*token.Data, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.data[key]
	if !ok {
		return nil, token.ErrDataNotFound
	}
	return data, nil
}

func (m *mockStore) DeleteData(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

type mockDB struct {
	mu          sync.Mutex
	rows        []*token.Data
	reusableKey string
	adds        int
}

func (m *mockDB) Add(ctx context.Context, data *token.Data, parent, service string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, data)
	m.adds++
	return nil
}

func (m *mockDB) GetInternalTokenKey(ctx context.Context, parent *token.Data, service string, scopes []string, minExpires time.Time) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reusableKey, nil
}

func (m *mockDB) GetNotebookTokenKey(ctx context.Context, parent *token.Data, minExpires time.Time) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reusableKey, nil
}

func (m *mockDB) DeleteExpired(ctx context.Context, now time.Time) ([]*token.ChangeHistoryEntry, error) {
	return nil, nil
}

type mockHistory struct {
	mu      sync.Mutex
	entries []*token.ChangeHistoryEntry
	addErr  error
}

func (m *mockHistory) Add(ctx context.Context, entry *token.ChangeHistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.addErr != nil {
		return m.addErr
	}
	m.entries = append(m.entries, entry)
	return nil
}

func testParent(clock clockwork.Clock, lifetime time.Duration) *token.Data {
	t, _ := token.New()
	now := clock.Now().UTC().Truncate(time.Second)
	return &token.Data{
		Token:    t,
		Username: "someuser",
		Type:     token.TypeSession,
		Scopes:   []string{"exec:notebook", "read:all", "user:token"},
		Created:  now,
		Expires:  now.Add(lifetime),
		Name:     "Some User",
		UID:      1000,
	}
}

func newTestService(store *mockStore, db *mockDB, history *mockHistory, clock clockwork.Clock, lifetime time.Duration) *Service {
	return NewService(store, db, history, audit.NewSlogLogger(), nil, clock, lifetime)
}

// TestPurpose: Validates that a freshly issued internal token is reused
// while it keeps more than half its lifetime and replaced afterwards.
// Scope: Unit Test
// Expected: Same token within the half-life window; a new token after 31
// minutes of a 1 hour lifetime.
// Test Case ID: TKC-01
func TestService_GetInternalToken_HalfLife(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
	store := newMockStore()
	db := &mockDB{}
	svc := newTestService(store, db, &mockHistory{}, clock, time.Hour)
	parent := testParent(clock, 24*time.Hour)

	ctx := context.Background()
	first, err := svc.GetInternalToken(ctx, parent, "wobbly", []string{"read:all"}, "")
	if err != nil {
		t.Fatalf("GetInternalToken failed: %v", err)
	}

	clock.Advance(29 * time.Minute)
	again, err := svc.GetInternalToken(ctx, parent, "wobbly", []string{"read:all"}, "")
	if err != nil {
		t.Fatalf("GetInternalToken failed: %v", err)
	}
	if again != first {
		t.Error("expected cache hit inside the half-life window")
	}

	clock.Advance(2 * time.Minute)
	replaced, err := svc.GetInternalToken(ctx, parent, "wobbly", []string{"read:all"}, "")
	if err != nil {
		t.Fatalf("GetInternalToken failed: %v", err)
	}
	if replaced == first {
		t.Error("expected a new token once less than half the lifetime remains")
	}

	// The returned token always keeps more than half its lifetime.
	data, err := store.GetDataByKey(ctx, replaced.Key)
	if err != nil {
		t.Fatalf("GetDataByKey failed: %v", err)
	}
	now := clock.Now()
	if data.Expires.Sub(now) <= data.Expires.Sub(data.Created)/2 {
		t.Error("returned token violates the half-life guarantee")
	}
}

// TestPurpose: Validates scope-subset reuse semantics of the internal
// token cache.
// Scope: Unit Test
// Security: Privilege Escalation Prevention via Scope Containment
// Expected: A cached token is reused when its scopes are a subset of the
// request and replaced when they are not.
// Test Case ID: TKC-02
func TestService_GetInternalToken_ScopeSubset(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
	store := newMockStore()
	svc := newTestService(store, &mockDB{}, &mockHistory{}, clock, time.Hour)
	parent := testParent(clock, 24*time.Hour)

	ctx := context.Background()
	first, err := svc.GetInternalToken(ctx, parent, "wobbly", []string{"read:all"}, "")
	if err != nil {
		t.Fatalf("GetInternalToken failed: %v", err)
	}

	// Same service and scopes: hit.
	again, err := svc.GetInternalToken(ctx, parent, "wobbly", []string{"read:all"}, "")
	if err != nil {
		t.Fatalf("GetInternalToken failed: %v", err)
	}
	if again != first {
		t.Error("expected cache hit for identical scopes")
	}

	// Disjoint request: the cached token's scopes are not a subset, so
	// it must not be returned.
	narrowed, err := svc.GetInternalToken(ctx, parent, "wobbly", []string{"exec:notebook"}, "")
	if err != nil {
		t.Fatalf("GetInternalToken failed: %v", err)
	}
	if narrowed == first {
		t.Error("cache returned a token with broader scopes than requested")
	}
}

// TestPurpose: Validates that a child token never outlives its parent.
// Scope: Unit Test
// Expected: The child's expiration is capped at the parent's.
// Test Case ID: TKC-03
func TestService_GetInternalToken_ParentExpiryCap(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
	store := newMockStore()
	svc := newTestService(store, &mockDB{}, &mockHistory{}, clock, time.Hour)
	parent := testParent(clock, 30*time.Minute)

	ctx := context.Background()
	child, err := svc.GetInternalToken(ctx, parent, "wobbly", []string{"read:all"}, "")
	if err != nil {
		t.Fatalf("GetInternalToken failed: %v", err)
	}
	data, err := store.GetDataByKey(ctx, child.Key)
	if err != nil {
		t.Fatalf("GetDataByKey failed: %v", err)
	}
	if !data.Expires.Equal(parent.Expires) {
		t.Errorf("child expires %v, want parent expiry %v", data.Expires, parent.Expires)
	}
}

// TestPurpose: Validates per-user serialization of issuance under
// concurrent misses.
// Scope: Concurrency Test
// Security: Credential Double-Issuance Prevention
// Expected: N concurrent requests for the same parent, service, and
// scopes produce exactly one stored token and all callers see it.
// Test Case ID: TKC-04
func TestService_GetInternalToken_SerializesPerUser(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
	store := newMockStore()
	db := &mockDB{}
	svc := newTestService(store, db, &mockHistory{}, clock, time.Hour)
	parent := testParent(clock, 24*time.Hour)

	const workers = 16
	results := make([]token.Token, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.GetInternalToken(context.Background(), parent, "wobbly", []string{"read:all"}, "")
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Fatalf("worker %d failed: %v", i, errs[i])
		}
		if results[i] != results[0] {
			t.Fatalf("worker %d got a different token", i)
		}
	}
	if store.stores != 1 {
		t.Errorf("expected exactly 1 issuance, key-value store saw %d writes", store.stores)
	}
	if db.adds != 1 {
		t.Errorf("expected exactly 1 relational insert, saw %d", db.adds)
	}
}

// TestPurpose: Validates that a matching child found in the database is
// returned instead of minting a new token.
// Scope: Unit Test
// Expected: The stored token is returned and no new issuance happens.
// Test Case ID: TKC-05
func TestService_GetInternalToken_ReusesStoredChild(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
	store := newMockStore()
	db := &mockDB{}
	svc := newTestService(store, db, &mockHistory{}, clock, time.Hour)
	parent := testParent(clock, 24*time.Hour)

	existing, _ := token.New()
	now := clock.Now().UTC().Truncate(time.Second)
	store.data[existing.Key] = &token.Data{
		Token:    existing,
		Username: parent.Username,
		Type:     token.TypeInternal,
		Scopes:   []string{"read:all"},
		Created:  now,
		Expires:  now.Add(time.Hour),
	}
	store.stores = 0
	db.reusableKey = existing.Key

	got, err := svc.GetInternalToken(context.Background(), parent, "wobbly", []string{"read:all"}, "")
	if err != nil {
		t.Fatalf("GetInternalToken failed: %v", err)
	}
	if got != existing {
		t.Errorf("got %+v, want the stored child %+v", got, existing)
	}
	if store.stores != 0 {
		t.Errorf("expected no new issuance, saw %d writes", store.stores)
	}
}

// TestPurpose: Validates notebook tokens inherit the parent's scopes and
// share the per-user cache policy.
// Scope: Unit Test
// Expected: The notebook token carries exactly the parent's scopes and is
// reused on the next call.
// Test Case ID: TKC-06
func TestService_GetNotebookToken(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
	store := newMockStore()
	svc := newTestService(store, &mockDB{}, &mockHistory{}, clock, time.Hour)
	parent := testParent(clock, 24*time.Hour)

	ctx := context.Background()
	nb, err := svc.GetNotebookToken(ctx, parent, "")
	if err != nil {
		t.Fatalf("GetNotebookToken failed: %v", err)
	}
	data, err := store.GetDataByKey(ctx, nb.Key)
	if err != nil {
		t.Fatalf("GetDataByKey failed: %v", err)
	}
	if data.Type != token.TypeNotebook {
		t.Errorf("token type = %s, want notebook", data.Type)
	}
	if len(data.Scopes) != len(parent.Scopes) {
		t.Errorf("scopes = %v, want parent scopes %v", data.Scopes, parent.Scopes)
	}

	again, err := svc.GetNotebookToken(ctx, parent, "")
	if err != nil {
		t.Fatalf("GetNotebookToken failed: %v", err)
	}
	if again != nb {
		t.Error("expected cache hit for fresh notebook token")
	}
}

// TestPurpose: Validates that a history write failure aborts child
// issuance.
// Scope: Unit Test
// Security: Audit Trail Enforcement
// Expected: GetInternalToken returns an error when the history store
// fails.
// Test Case ID: TKC-07
func TestService_GetInternalToken_HistoryFailureAborts(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
	svc := newTestService(newMockStore(), &mockDB{}, &mockHistory{addErr: errors.New("history unavailable")}, clock, time.Hour)
	parent := testParent(clock, 24*time.Hour)

	if _, err := svc.GetInternalToken(context.Background(), parent, "wobbly", []string{"read:all"}, ""); err == nil {
		t.Fatal("expected error when history write fails")
	}
}
