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

package http

import (
	"context"

	"github.com/gatewarden/gatewarden/internal/token"
)

type contextKey string

const tokenDataKey contextKey = "token_data"

// withTokenData stores the authenticated session's token data in the
// context.
func withTokenData(ctx context.Context, data *token.Data) context.Context {
	return context.WithValue(ctx, tokenDataKey, data)
}

// GetTokenData retrieves the authenticated session's token data from the
// context, or nil when the request is unauthenticated.
func GetTokenData(ctx context.Context) *token.Data {
	if data, ok := ctx.Value(tokenDataKey).(*token.Data); ok {
		return data
	}
	return nil
}
