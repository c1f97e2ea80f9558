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
	"encoding/base64"
	"encoding/json"
	"net/http"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/imgforge/imgforge/internal/apperr"
	"github.com/imgforge/imgforge/internal/cache"
	"github.com/imgforge/imgforge/internal/engine"
	"github.com/imgforge/imgforge/internal/fetch"
	"github.com/imgforge/imgforge/internal/limiter"
	"github.com/imgforge/imgforge/internal/options"
	"github.com/imgforge/imgforge/internal/pipeline"
	"github.com/imgforge/imgforge/internal/preset"
	"github.com/imgforge/imgforge/internal/urlpath"
)

// App binds C1-C7 together and owns everything the C8 handlers need,
// following the teacher's style of threading a single options/dependency
// struct through every constructor (imaginary's ServerOptions) rather than
// reaching for globals.
type App struct {
	Config          *Config
	Logger          *zap.Logger
	Limiter         *limiter.Limiter
	Cache           *cache.Cache
	Fetch           *fetch.Registry
	WatermarkSource *fetch.FSSource
	WatermarkFile   string
}

// NewApp builds the App from a loaded Config: the rate limiter/semaphore,
// the selected cache backend, and the fetch registry.
func NewApp(cfg *Config, logger *zap.Logger) (*App, error) {
	lim, err := limiter.New(cfg.RateLimitPerMinute, cfg.RateLimitBurst, cfg.Workers)
	if err != nil {
		return nil, err
	}

	backend, err := buildCacheBackend(cfg)
	if err != nil {
		return nil, err
	}

	app := &App{
		Config:  cfg,
		Logger:  logger,
		Limiter: lim,
		Cache:   cache.New(backend),
		Fetch:   fetch.NewRegistry(""),
	}

	if cfg.WatermarkPath != "" {
		dir, file := filepath.Split(cfg.WatermarkPath)
		app.WatermarkSource = &fetch.FSSource{BaseDir: dir}
		app.WatermarkFile = file
	}

	return app, nil
}

func buildCacheBackend(cfg *Config) (cache.Backend, error) {
	switch cfg.CacheType {
	case "", "none":
		return nil, nil
	case "memory":
		return cache.NewMemoryBackend(cfg.CacheMemoryEntries)
	case "disk":
		return cache.NewDiskBackend(cfg.CacheDiskPath, cfg.CacheDiskEntries)
	case "hybrid":
		mem, err := cache.NewMemoryBackend(cfg.CacheMemoryEntries)
		if err != nil {
			return nil, err
		}
		disk, err := cache.NewDiskBackend(cfg.CacheDiskPath, cfg.CacheDiskEntries)
		if err != nil {
			return nil, err
		}
		return cache.NewHybridBackend(mem, disk), nil
	default:
		return nil, apperr.Newf(apperr.Internal, "unknown cache type %q", cfg.CacheType)
	}
}

// preparedRequest is the shared result of URL-codec + preset + option
// parsing (spec.md §4.1-§4.3), common to both the info and image endpoints.
type preparedRequest struct {
	parsed  *urlpath.Parsed
	options *options.ParsedOptions
}

// prepareRequest runs C1 (parse + verify) -> C3 (preset expansion) -> C2
// (option parsing) over rawPath, exactly the order the spec's data-flow
// diagram specifies.
func (a *App) prepareRequest(rawPath string) (*preparedRequest, error) {
	parsed, err := urlpath.Parse(rawPath)
	if err != nil {
		return nil, err
	}

	if err := urlpath.Verify(parsed, a.Config.Key, a.Config.Salt, a.Config.AllowUnsigned); err != nil {
		return nil, err
	}

	var defaultPresetNames []string
	if _, ok := a.Config.Presets["default"]; ok {
		defaultPresetNames = []string{"default"}
	}
	expanded, err := preset.Expand(parsed.OptionTokens, a.Config.Presets, defaultPresetNames, a.Config.OnlyPresets)
	if err != nil {
		return nil, err
	}

	opts, err := options.Parse(expanded, func(name string) {
		a.Logger.Debug("ignoring unrecognized directive", zap.String("directive", name))
	})
	if err != nil {
		return nil, err
	}

	if !a.Config.AllowSecurityOpts {
		opts.MaxSrcFileSize = nil
		opts.MaxSrcResolution = nil
	}

	return &preparedRequest{parsed: parsed, options: opts}, nil
}

func (a *App) sourceGuards(o *options.ParsedOptions) fetch.Guards {
	maxBytes := a.Config.MaxSrcFileSize
	if o.MaxSrcFileSize != nil {
		maxBytes = int64(*o.MaxSrcFileSize)
	}
	return fetch.Guards{
		DownloadTimeout: a.Config.DownloadTimeout,
		MaxBytes:        maxBytes,
		AllowedMIME:     a.Config.AllowedMIMETypes,
		MaxRedirects:    5,
	}
}

// fetchWatermark resolves the overlay referenced by the watermark/
// watermark_url directives (spec.md §4.2, §4.4's "Watermark fetch").
func (a *App) fetchWatermark(ctx context.Context, o *options.ParsedOptions, guards fetch.Guards) ([]byte, error) {
	if o.Watermark == nil {
		return nil, nil
	}
	if o.WatermarkURL != "" {
		decoded, err := base64.RawURLEncoding.DecodeString(o.WatermarkURL)
		if err != nil {
			return nil, apperr.New(apperr.InvalidOption, "watermark_url is not valid base64url")
		}
		res, err := a.Fetch.Fetch(ctx, string(decoded), guards)
		if err != nil {
			return nil, err
		}
		return res.Bytes, nil
	}
	if a.WatermarkSource != nil {
		res, err := a.WatermarkSource.Fetch(ctx, a.WatermarkFile, guards)
		if err != nil {
			return nil, err
		}
		return res.Bytes, nil
	}
	return nil, nil
}

// withPermit runs fn while holding a worker permit, unless the raw
// directive bypasses the semaphore entirely (spec.md §4.6). The permit is
// always released, regardless of how fn returns.
func (a *App) withPermit(ctx context.Context, raw bool, fn func() ([]byte, error)) ([]byte, error) {
	if raw {
		return fn()
	}
	if err := a.Limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	workerPermitsInUse.Inc()
	defer func() {
		workerPermitsInUse.Dec()
		a.Limiter.Release()
	}()
	return fn()
}

// StatusHandler backs GET /status (spec.md §4.8).
func (a *App) StatusHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set(ContentType, ContentTypeJSON)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

type infoResponse struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Format string `json:"format"`
	Size   int    `json:"size"`
}

// InfoHandler backs GET /info/*path: decode-only metadata, no transform
// stages (spec.md §4.8).
func (a *App) InfoHandler(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDOf(w)
	rawPath := strings.TrimPrefix(r.URL.EscapedPath(), "/info")

	prep, err := a.prepareRequest(rawPath)
	if err != nil {
		a.respondErr(w, requestID, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), a.Config.Timeout)
	defer cancel()

	guards := a.sourceGuards(prep.options)
	body, err := a.withPermit(ctx, prep.options.Raw, func() ([]byte, error) {
		res, ferr := a.Fetch.Fetch(ctx, prep.parsed.SourceURL, guards)
		if ferr != nil {
			return nil, ferr
		}
		return res.Bytes, nil
	})
	if err != nil {
		a.respondErr(w, requestID, err)
		return
	}

	meta, err := engine.ReadMetadata(body)
	if err != nil {
		a.respondErr(w, requestID, err)
		return
	}

	resp, _ := json.Marshal(infoResponse{Width: meta.Width, Height: meta.Height, Format: meta.Type, Size: len(body)})
	w.Header().Set(ContentType, ContentTypeJSON)
	_, _ = w.Write(resp)
}

// ImageHandler backs GET /*path: the full pipeline behind the cache
// (spec.md §2's data-flow diagram).
func (a *App) ImageHandler(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDOf(w)
	// The escaped form, not chi's decoded wildcard: the signature was
	// computed over the path bytes as sent, and percent-decoding before
	// verification would both break byte-exactness and fold distinct cache
	// keys together.
	rawPath := r.URL.EscapedPath()

	prep, err := a.prepareRequest(rawPath)
	if err != nil {
		a.respondErr(w, requestID, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), a.Config.Timeout)
	defer cancel()

	cacheKey := cache.Key(rawPath)
	populated := false
	entry, err := a.Cache.GetOrPopulate(ctx, cacheKey, func(ctx context.Context) ([]byte, error) {
		populated = true
		return a.render(ctx, prep)
	})
	if err != nil {
		if populated {
			cacheLookups.WithLabelValues("populate_error").Inc()
		}
		a.respondErr(w, requestID, err)
		return
	}
	if populated {
		cacheLookups.WithLabelValues("miss").Inc()
	} else {
		cacheLookups.WithLabelValues("hit").Inc()
	}

	contentType, body, ok := decodeCacheEntry(entry)
	if !ok {
		a.respondErr(w, requestID, apperr.New(apperr.Internal, "corrupt cache entry"))
		return
	}

	w.Header().Set(ContentType, contentType)
	_, _ = w.Write(body)
}

// render performs the actual fetch+process+encode for a cold cache key; it
// is the populate callback single-flighted by Cache.GetOrPopulate.
func (a *App) render(ctx context.Context, prep *preparedRequest) ([]byte, error) {
	o := prep.options
	guards := a.sourceGuards(o)

	out, err := a.withPermit(ctx, o.Raw, func() ([]byte, error) {
		src, ferr := a.Fetch.Fetch(ctx, prep.parsed.SourceURL, guards)
		if ferr != nil {
			return nil, ferr
		}

		watermark, werr := a.fetchWatermark(ctx, o, guards)
		if werr != nil {
			return nil, werr
		}

		result, perr := pipeline.Execute(ctx, pipeline.Input{
			Source:             src.Bytes,
			Options:            o,
			URLExtension:       prep.parsed.Extension,
			Watermark:          watermark,
			MaxSrcResolutionMP: a.Config.MaxSrcResolution,
		})
		if perr != nil {
			return nil, perr
		}
		return encodeCacheEntry(GetImageMimeType(result.Format), result.Bytes), nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (a *App) respondErr(w http.ResponseWriter, requestID string, err error) {
	if ae, ok := apperr.As(err); ok {
		writeAppErr(w, requestID, ae)
		return
	}
	a.Logger.Warn("unhandled error", zap.Error(err))
	writeAppErr(w, requestID, apperr.New(apperr.Internal, "internal error"))
}

// encodeCacheEntry/decodeCacheEntry store the content-type alongside the
// rendered bytes in a single []byte value (spec.md §3's Cache Entry has a
// "small header" with content-type); a one-byte length prefix is enough
// since every content-type here is a short "image/xxx" string.
func encodeCacheEntry(contentType string, body []byte) []byte {
	out := make([]byte, 1+len(contentType)+len(body))
	out[0] = byte(len(contentType))
	copy(out[1:], contentType)
	copy(out[1+len(contentType):], body)
	return out
}

func decodeCacheEntry(raw []byte) (contentType string, body []byte, ok bool) {
	if len(raw) < 1 {
		return "", nil, false
	}
	n := int(raw[0])
	if len(raw) < 1+n {
		return "", nil, false
	}
	return string(raw[1 : 1+n]), raw[1+n:], true
}
