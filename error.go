/*
 * SPDX-License-Identifier: AGPL-3.0-only
 *
 * Copyright (c) 2025 sycured
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, version 3.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <https://www.gnu.org/licenses/>.
 */

package main

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/imgforge/imgforge/internal/apperr"
)

// Error is the wire-format error envelope, kept from the teacher almost
// unchanged; Kind carries the stable spec.md §7 error name alongside the
// human message.
type Error struct {
	Message string `json:"message,omitempty"`
	Kind    string `json:"kind,omitempty"`
	Code    int    `json:"status"`
}

func (e Error) JSON() []byte {
	buf, _ := json.Marshal(e)
	return buf
}

func (e Error) Error() string {
	return e.Message
}

func (e Error) HTTPCode() int {
	if e.Code >= 400 && e.Code <= 511 {
		return e.Code
	}
	return http.StatusServiceUnavailable
}

func NewError(err string, code int) Error {
	err = strings.ReplaceAll(err, "\n", "")
	return Error{Message: err, Code: code}
}

// FromAppErr translates an internal apperr.Error into the wire envelope.
// Engine/OOM/panic errors that reach here as apperr.Internal surface as a
// generic message; everything else keeps its user-safe message verbatim
// (spec.md §7: "do not echo upstream URLs or key material" — callers are
// responsible for keeping apperr messages free of that detail).
func FromAppErr(e *apperr.Error) Error {
	msg := e.Message
	if e.Kind == apperr.Internal {
		msg = "internal error"
	}
	return Error{Message: msg, Kind: string(e.Kind), Code: e.Status()}
}

// ErrorReply writes err as the JSON error envelope, tagging the response
// with the request ID so clients can correlate it with server-side logs.
func ErrorReply(w http.ResponseWriter, requestID string, err Error) {
	w.Header().Set(ContentType, ContentTypeJSON)
	w.Header().Set(RequestIDHeader, requestID)
	w.WriteHeader(err.HTTPCode())
	_, _ = w.Write(err.JSON())
}
