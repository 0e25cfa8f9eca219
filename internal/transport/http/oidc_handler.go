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
	"errors"
	"net/http"
	"net/url"

	"github.com/gatewarden/gatewarden/internal/oidcserver"
	"github.com/gatewarden/gatewarden/internal/token"
)

// Discovery serves the OpenID Connect discovery document.
func (h *Handler) Discovery(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.oidcService.Discovery())
}

// JWKS serves the gateway's public signing keys.
func (h *Handler) JWKS(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.oidcService.JWKS())
}

// OpenIDLogin is the authorization endpoint for relying parties. The user
// must already hold a session; the handler issues a one-shot code and
// redirects back to the relying party.
func (h *Handler) OpenIDLogin(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	clientID := q.Get("client_id")
	redirectURI := q.Get("redirect_uri")
	state := q.Get("state")
	if clientID == "" || redirectURI == "" {
		respondProtocolError(w, oidcserver.CodeInvalidRequest, "client_id and redirect_uri are required")
		return
	}
	if rt := q.Get("response_type"); rt != "" && rt != "code" {
		respondProtocolError(w, oidcserver.CodeInvalidRequest, "only response_type=code is supported")
		return
	}

	target, err := url.Parse(redirectURI)
	if err != nil {
		respondProtocolError(w, oidcserver.CodeInvalidRequest, "malformed redirect_uri")
		return
	}

	data := GetTokenData(r.Context())
	code, err := h.oidcService.IssueCode(r.Context(), clientID, redirectURI, data.Token)
	if err != nil {
		var protoErr *oidcserver.Error
		if errors.As(err, &protoErr) {
			respondProtocolErrorStruct(w, http.StatusBadRequest, protoErr)
			return
		}
		respondProtocolError(w, oidcserver.CodeServerError, "failed to issue code")
		return
	}

	params := target.Query()
	params.Set("code", code.String())
	if state != "" {
		params.Set("state", state)
	}
	target.RawQuery = params.Encode()
	http.Redirect(w, r, target.String(), http.StatusFound)
}

// tokenResponse is the token endpoint response body. The ID token doubles
// as the access token since relying parties only consume identity.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	IDToken     string `json:"id_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// OpenIDToken is the token endpoint for relying parties.
func (h *Handler) OpenIDToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		respondProtocolError(w, oidcserver.CodeInvalidRequest, "malformed request body")
		return
	}
	if grantType := r.PostFormValue("grant_type"); grantType != "authorization_code" {
		respondProtocolError(w, oidcserver.CodeInvalidRequest, "only authorization_code is supported")
		return
	}

	code, err := token.ParseCode(r.PostFormValue("code"))
	if err != nil {
		respondProtocolError(w, oidcserver.CodeInvalidGrant, "malformed authorization code")
		return
	}

	idToken, err := h.oidcService.RedeemCode(
		r.Context(),
		r.PostFormValue("client_id"),
		r.PostFormValue("client_secret"),
		r.PostFormValue("redirect_uri"),
		code,
	)
	if err != nil {
		var protoErr *oidcserver.Error
		if errors.As(err, &protoErr) {
			status := http.StatusBadRequest
			if protoErr.Code == oidcserver.CodeInvalidClient {
				status = http.StatusUnauthorized
			}
			respondProtocolErrorStruct(w, status, protoErr)
			return
		}
		respondProtocolError(w, oidcserver.CodeServerError, "failed to redeem code")
		return
	}

	respondJSON(w, http.StatusOK, tokenResponse{
		AccessToken: idToken,
		IDToken:     idToken,
		TokenType:   "Bearer",
		ExpiresIn:   int64(h.oidcService.IDTokenLifetime().Seconds()),
	})
}

func respondProtocolError(w http.ResponseWriter, code, description string) {
	respondJSON(w, http.StatusBadRequest, &oidcserver.Error{Code: code, Description: description})
}

func respondProtocolErrorStruct(w http.ResponseWriter, status int, err *oidcserver.Error) {
	respondJSON(w, status, err)
}
