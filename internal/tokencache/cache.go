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
	"strconv"
	"strings"
	"sync"

	"github.com/gatewarden/gatewarden/internal/token"
)

// cache is a process-local map from cache key to child token. It is not
// shared across replicas; the key-value store is the cross-process source
// of truth, so two replicas briefly issuing two children for the same
// request is acceptable.
type cache struct {
	mu     sync.Mutex
	tokens map[string]token.Token
}

func newCache() *cache {
	return &cache{tokens: make(map[string]token.Token)}
}

func (c *cache) get(key string) (token.Token, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tokens[key]
	return t, ok
}

func (c *cache) store(key string, t token.Token) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens[key] = t
}

// notebookKey builds the cache key for a notebook token. The parent's
// expiration is part of the key so that extending the parent invalidates
// stale children.
func notebookKey(parent *token.Data) string {
	return parent.Token.Key + "\x00" + strconv.FormatInt(parent.Expires.Unix(), 10)
}

// internalKey builds the cache key for an internal token. scopes must
// already be in canonical sorted form.
func internalKey(parent *token.Data, service string, scopes []string) string {
	return notebookKey(parent) + "\x00" + service + "\x00" + strings.Join(scopes, ",")
}
