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
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
	"go.uber.org/zap"
)

// setupTLSConfig creates and returns the TLS configuration if certificates are provided.
func setupTLSConfig(certFile, keyFile string) (*tls.Config, error) {
	if certFile == "" || keyFile == "" {
		return nil, nil
	}

	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load X509 key pair: %w", err)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS13,
	}, nil
}

// createHTTPServer builds the HTTP(S) server around handler, announcing the
// optional HTTP/3 listener via Alt-Svc the way the teacher's server.go does.
func createHTTPServer(addr string, handler http.Handler, cfg *Config, tlsConfig *tls.Config) *http.Server {
	wrapped := handler
	if cfg.QUICPort != 0 {
		wrapped = altSvcMiddleware(handler, cfg.QUICPort)
	}
	return &http.Server{
		Addr:           addr,
		Handler:        wrapped,
		MaxHeaderBytes: 1 << 20,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   cfg.Timeout + 10*time.Second,
		TLSConfig:      tlsConfig,
	}
}

// createHTTP3Server creates the optional HTTP/3 front door (spec.md §6
// names TLS termination as an external collaborator; when certs are
// configured we still expose the same handler over QUIC).
func createHTTP3Server(addr string, handler http.Handler, tlsConfig *tls.Config, port int) *http3.Server {
	if tlsConfig == nil || port == 0 {
		return nil
	}
	return &http3.Server{
		Addr:      addr,
		Handler:   handler,
		TLSConfig: http3.ConfigureTLSConfig(tlsConfig),
		QUICConfig: &quic.Config{
			MaxIdleTimeout: 30 * time.Second,
			Allow0RTT:      false,
		},
		Port: port,
	}
}

func altSvcMiddleware(h http.Handler, quicPort int) http.Handler {
	altSvcValue := fmt.Sprintf(`h3=":%d"; ma=2592000`, quicPort)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Alt-Svc", altSvcValue)
		h.ServeHTTP(w, r)
	})
}

// NewRouter wires C8's three endpoints behind C6/C8's middleware chain:
// request ID -> structured logging -> CORS -> global rate limit -> bearer
// auth -> route dispatch, matching spec.md §2's data-flow diagram order.
func NewRouter(app *App) http.Handler {
	r := chi.NewRouter()

	r.Get("/status", metricsHandler("status", app.StatusHandler))
	r.Get("/healthz", metricsHandler("healthz", healthzHandler))
	r.Get("/info/*", metricsHandler("info", app.InfoHandler))
	r.Get("/*", metricsHandler("image", app.ImageHandler))

	var handler http.Handler = r
	handler = bearerAuthMiddleware(app.Config.Secret, handler)
	handler = rateLimitMiddleware(app.Limiter, handler)
	handler = corsMiddleware(app.Config.CORS, handler)
	handler = NewLog(app.Logger, handler)
	handler = requestIDMiddleware(handler)
	return handler
}

func metricsHandler(route string, fn http.HandlerFunc) http.HandlerFunc {
	wrapped := metricsMiddleware(route, fn)
	return wrapped.ServeHTTP
}

// Server starts the HTTP(S) server (and, when configured, HTTP/3) and blocks
// until ctx is cancelled, then performs a graceful shutdown.
func Server(ctx context.Context, cfg *Config, app *App) error {
	addr := cfg.Bind

	tlsConfig, err := setupTLSConfig(cfg.TLSCertFile, cfg.TLSKeyFile)
	if err != nil {
		return err
	}

	router := NewRouter(app)
	mux := http.NewServeMux()
	mux.Handle("/", router)
	mux.Handle("/metrics", promhttp.Handler())

	httpServer := createHTTPServer(addr, mux, cfg, tlsConfig)
	http3Server := createHTTP3Server(addr, mux, tlsConfig, cfg.QUICPort)

	errCh := make(chan error, 1)
	go func() {
		app.Logger.Info("starting HTTP server", zap.String("addr", addr), zap.Bool("tls", tlsConfig != nil))
		var err error
		if tlsConfig != nil {
			err = httpServer.ListenAndServeTLS(cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = httpServer.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	if http3Server != nil {
		go func() {
			app.Logger.Info("starting HTTP/3 server", zap.String("addr", addr))
			if err := http3Server.ListenAndServe(); err != nil {
				app.Logger.Error("HTTP/3 server error", zap.Error(err))
			}
		}()
	}

	if cfg.MReleaseInterval > 0 {
		go runMRelease(ctx, cfg.MReleaseInterval)
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	app.Logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		app.Logger.Warn("HTTP server shutdown failed", zap.Error(err))
	}
	if http3Server != nil {
		_ = http3Server.Close()
	}
	return nil
}
