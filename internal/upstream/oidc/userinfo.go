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

package oidc

import (
	"fmt"
	"strconv"

	"github.com/gatewarden/gatewarden/internal/token"
)

// userInfoExtractor maps verified token claims onto user attributes using
// the configured claim names.
type userInfoExtractor struct {
	usernameClaim string
	uidClaim      string
	groupsClaim   string
}

// extract builds the user info for a verified token. The username claim
// is mandatory; everything else is best effort.
func (e *userInfoExtractor) extract(verified *VerifiedToken) (*token.UserInfo, error) {
	username, ok := verified.Claims[e.usernameClaim].(string)
	if !ok || username == "" {
		return nil, fmt.Errorf("%w: no %s claim in token", ErrMissingClaims, e.usernameClaim)
	}

	info := &token.UserInfo{Username: username}
	if name, ok := verified.Claims["name"].(string); ok {
		info.Name = name
	}
	if email, ok := verified.Claims["email"].(string); ok {
		info.Email = email
	}
	if raw, ok := verified.Claims[e.uidClaim]; ok {
		uid, err := claimNumber(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid %s claim: %v", ErrMissingClaims, e.uidClaim, err)
		}
		info.UID = uid
	}
	if raw, ok := verified.Claims[e.groupsClaim]; ok {
		info.Groups = claimGroups(raw)
	}
	return info, nil
}

// claimNumber accepts the numeric encodings JSON decoding can produce,
// plus strings, since providers disagree on how to encode a uid.
func claimNumber(raw any) (int, error) {
	switch v := raw.(type) {
	case float64:
		return int(v), nil
	case int:
		return v, nil
	case string:
		return strconv.Atoi(v)
	default:
		return 0, fmt.Errorf("unexpected type %T", raw)
	}
}

// claimGroups parses a group membership claim. Entries are either bare
// group names or objects with name and numeric id fields; entries with no
// name are dropped.
func claimGroups(raw any) []token.Group {
	list, ok := raw.([]any)
	if !ok {
		return nil
	}
	groups := make([]token.Group, 0, len(list))
	for _, entry := range list {
		switch v := entry.(type) {
		case string:
			groups = append(groups, token.Group{Name: v})
		case map[string]any:
			name, _ := v["name"].(string)
			if name == "" {
				continue
			}
			g := token.Group{Name: name}
			if id, err := claimNumber(v["id"]); err == nil {
				g.ID = id
			}
			groups = append(groups, g)
		}
	}
	return groups
}
