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
	"errors"
	"fmt"
)

// Error kinds for upstream authentication. Verification and key-fetch
// failures are wrapped as ErrOIDC at the provider boundary so the HTTP
// layer can render a consistent response.
var (
	ErrOIDC             = errors.New("oidc protocol error")
	ErrFetchKeys        = errors.New("failed to fetch issuer keys")
	ErrUnknownKeyID     = errors.New("unknown key id")
	ErrUnknownAlgorithm = errors.New("unknown key algorithm")
	ErrInvalidIssuer    = errors.New("invalid token issuer")
	ErrVerifyToken      = errors.New("token verification failed")
	ErrMissingClaims    = errors.New("token missing required claims")
)

// HTTPError reports a non-200 upstream response whose body carried no
// usable protocol error.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("upstream returned status %d", e.StatusCode)
}
