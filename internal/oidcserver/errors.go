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

package oidcserver

import "fmt"

// RFC 6749 error codes returned to relying parties.
const (
	CodeInvalidRequest     = "invalid_request"
	CodeInvalidClient      = "invalid_client"
	CodeInvalidGrant       = "invalid_grant"
	CodeUnauthorizedClient = "unauthorized_client"
	CodeServerError        = "server_error"
)

// Error is an OAuth 2.0 protocol error. Code is machine-readable and
// rendered in the error response body; Description is for operators.
type Error struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

func (e *Error) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// Is matches on the protocol code so callers can compare against the
// sentinel values below with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Sentinel protocol errors.
var (
	ErrInvalidClient      = &Error{Code: CodeInvalidClient}
	ErrInvalidGrant       = &Error{Code: CodeInvalidGrant}
	ErrUnauthorizedClient = &Error{Code: CodeUnauthorizedClient}
)

// protocolError builds an Error with a description.
func protocolError(code, description string) *Error {
	return &Error{Code: code, Description: description}
}
