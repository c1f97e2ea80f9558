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
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/imgforge/imgforge/internal/limiter"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequestIDMiddlewareStampsHeader(t *testing.T) {
	h := requestIDMiddleware(okHandler())
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if rr.Header().Get(RequestIDHeader) == "" {
		t.Error("expected X-Request-ID to be set")
	}
}

func TestBearerAuthMiddlewarePassesThroughWhenNoSecret(t *testing.T) {
	h := requestIDMiddleware(bearerAuthMiddleware("", okHandler()))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rr.Code)
	}
}

func TestBearerAuthMiddlewareRejectsMissingHeader(t *testing.T) {
	h := requestIDMiddleware(bearerAuthMiddleware("s3cr3t", okHandler()))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rr.Code)
	}
}

func TestBearerAuthMiddlewareRejectsWrongToken(t *testing.T) {
	h := requestIDMiddleware(bearerAuthMiddleware("s3cr3t", okHandler()))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rr.Code)
	}
}

func TestBearerAuthMiddlewareAllowsCorrectToken(t *testing.T) {
	h := requestIDMiddleware(bearerAuthMiddleware("s3cr3t", okHandler()))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer s3cr3t")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rr.Code)
	}
}

func TestRateLimitMiddlewareRejectsWhenExhausted(t *testing.T) {
	lim, err := limiter.New(1, 1, 4)
	if err != nil {
		t.Fatal(err)
	}
	h := requestIDMiddleware(rateLimitMiddleware(lim, okHandler()))

	var last int
	for i := 0; i < 3; i++ {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
		last = rr.Code
	}
	if last != http.StatusTooManyRequests {
		t.Errorf("status after exhausting the bucket = %d, want 429", last)
	}
}

func TestRateLimitMiddlewareNilLimiterAlwaysAllows(t *testing.T) {
	h := requestIDMiddleware(rateLimitMiddleware(nil, okHandler()))
	for i := 0; i < 10; i++ {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i, rr.Code)
		}
	}
}

func TestCORSMiddlewareDisabledPassesThrough(t *testing.T) {
	h := corsMiddleware(false, okHandler())
	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "https://example.com")
	req.Header.Set("Access-Control-Request-Method", "GET")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("expected no CORS headers when disabled")
	}
}

func TestCORSMiddlewareEnabledSetsHeaders(t *testing.T) {
	h := corsMiddleware(true, okHandler())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://example.com")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Error("expected Access-Control-Allow-Origin to be set when CORS is enabled")
	}
}
