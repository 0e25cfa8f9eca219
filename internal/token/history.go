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

import "time"

// ChangeAction is the kind of change recorded in the token history.
type ChangeAction string

const (
	ActionCreate ChangeAction = "create"
	ActionEdit   ChangeAction = "edit"
	ActionRevoke ChangeAction = "revoke"
	ActionExpire ChangeAction = "expire"
)

// ChangeHistoryEntry is one append-only audit record of a token change.
// Entries are written in the same logical transaction as the token-store
// insert; a token without a create entry must never exist.
type ChangeHistoryEntry struct {
	TokenKey  string
	Username  string
	Type      Type
	Parent    string
	Scopes    []string
	Service   string
	Expires   time.Time
	Actor     string
	Action    ChangeAction
	IPAddress string
	EventTime time.Time
}
