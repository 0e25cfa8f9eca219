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

package logger

import "log/slog"

// Common attribute keys for consistent logging across the application

// Request attributes
func RequestID(id string) slog.Attr {
	return slog.String("request_id", id)
}

func Method(method string) slog.Attr {
	return slog.String("method", method)
}

func Path(path string) slog.Attr {
	return slog.String("path", path)
}

func RemoteAddr(addr string) slog.Attr {
	return slog.String("remote_addr", addr)
}

func StatusCode(code int) slog.Attr {
	return slog.Int("status_code", code)
}

func Duration(ms int64) slog.Attr {
	return slog.Int64("duration_ms", ms)
}

// Token attributes. Only the key half of a token may be logged; the full
// token string never appears in the log stream.
func TokenKey(key string) slog.Attr {
	return slog.String("token_key", key)
}

func TokenType(t string) slog.Attr {
	return slog.String("token_type", t)
}

func Username(name string) slog.Attr {
	return slog.String("username", name)
}

func Service(name string) slog.Attr {
	return slog.String("service", name)
}

func Scopes(scopes []string) slog.Attr {
	return slog.Any("scopes", scopes)
}

// OpenID Connect attributes
func ClientID(id string) slog.Attr {
	return slog.String("client_id", id)
}

func Issuer(iss string) slog.Attr {
	return slog.String("issuer", iss)
}

func KeyID(kid string) slog.Attr {
	return slog.String("kid", kid)
}

func RedirectURI(uri string) slog.Attr {
	return slog.String("redirect_uri", uri)
}

// Error attributes
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}

// Component attributes
func Component(name string) slog.Attr {
	return slog.String("component", name)
}

func Operation(op string) slog.Attr {
	return slog.String("operation", op)
}
