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
	"slices"
	"time"
)

// Type is the class of a token.
type Type string

const (
	// TypeSession is an interactive user web session.
	TypeSession Type = "session"

	// TypeUser is a user-generated token for programmatic use.
	TypeUser Type = "user"

	// TypeNotebook is the token delegated to an interactive notebook,
	// carrying the parent's scopes.
	TypeNotebook Type = "notebook"

	// TypeInternal is a service-to-service token chained from a user
	// request, scoped to one downstream service.
	TypeInternal Type = "internal"

	// TypeService is a service-to-service token independent of any user
	// request.
	TypeService Type = "service"
)

// Group is one group membership recorded with a token.
type Group struct {
	Name string `json:"name"`

	// Numeric GID. May be zero, in which case the group still contributes
	// to scope determination but services requiring a GID may ignore it.
	ID int `json:"id,omitempty"`
}

// UserInfo is the user identity information stored with a token. It
// overrides anything retrieved dynamically from other sources.
type UserInfo struct {
	Username string
	Name     string
	Email    string
	UID      int
	Groups   []Group
}

// Data is the full metadata for a token, as stored in the key-value store.
// It is created atomically with the token and never mutated afterwards.
type Data struct {
	Token    Token
	Username string
	Type     Type
	Scopes   []string
	Created  time.Time

	// Expires is the zero time for tokens that never expire.
	Expires time.Time

	Name   string
	Email  string
	UID    int
	Groups []Group
}

// IsExpired reports whether the token has expired as of now.
func (d *Data) IsExpired(now time.Time) bool {
	return !d.Expires.IsZero() && !now.Before(d.Expires)
}

// NormalizeScopes sorts and deduplicates a scope list in place, returning
// the canonical form used for storage and cache keys.
func NormalizeScopes(scopes []string) []string {
	slices.Sort(scopes)
	return slices.Compact(scopes)
}
