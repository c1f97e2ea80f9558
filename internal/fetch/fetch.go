// SPDX-License-Identifier: AGPL-3.0-only

// Package fetch implements the source fetcher (spec.md §4.4): retrieving the
// source image (and watermark overlays) under configurable guards, with a
// registry of schemes mirroring the teacher's pluggable source design.
package fetch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/h2non/filetype"

	"github.com/imgforge/imgforge/internal/apperr"
)

// Guards bounds a single fetch (spec.md §4.4).
type Guards struct {
	DownloadTimeout time.Duration
	MaxBytes        int64
	AllowedMIME     map[string]bool // nil or empty means "allow any"
	MaxRedirects    int
}

// Result is a fetched blob plus its sniffed MIME type.
type Result struct {
	Bytes []byte
	MIME  string
}

// Source fetches a single reference (a URL, or a local path) under guards.
type Source interface {
	Fetch(ctx context.Context, ref string, g Guards) (*Result, error)
}

// Registry dispatches a reference to the Source registered for its scheme,
// per the teacher's RegisterSource/factory-map pattern.
type Registry struct {
	bySchema map[string]Source
	fallback Source
}

// NewRegistry builds the registry with the http(s) fetcher registered for
// "http"/"https" and, when localBase is non-empty, a filesystem fetcher
// rooted at localBase registered as the fallback for schemeless references
// (spec.md's supplemented watermark_url local-path fallback).
func NewRegistry(localBase string) *Registry {
	r := &Registry{bySchema: map[string]Source{}}
	h := &HTTPSource{Client: &http.Client{}}
	r.bySchema["http"] = h
	r.bySchema["https"] = h
	if localBase != "" {
		r.fallback = &FSSource{BaseDir: localBase}
	}
	return r
}

// Fetch resolves ref's scheme and dispatches to the registered Source.
func (r *Registry) Fetch(ctx context.Context, ref string, g Guards) (*Result, error) {
	scheme := schemeOf(ref)
	if src, ok := r.bySchema[scheme]; ok {
		return src.Fetch(ctx, ref, g)
	}
	if r.fallback != nil {
		return r.fallback.Fetch(ctx, ref, g)
	}
	return nil, apperr.New(apperr.InvalidSource, "unsupported source scheme")
}

func schemeOf(ref string) string {
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Scheme)
}

// HTTPSource fetches over http/https with bounded redirects, a download
// timeout, and a streaming byte cap (spec.md §4.4).
type HTTPSource struct {
	Client *http.Client
}

func (s *HTTPSource) Fetch(ctx context.Context, ref string, g Guards) (*Result, error) {
	u, err := url.Parse(ref)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, apperr.New(apperr.InvalidSource, "source must be an http or https URL")
	}

	timeout := g.DownloadTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, apperr.New(apperr.InvalidSource, "could not build request")
	}

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	// Clone so CheckRedirect doesn't leak across concurrent requests with
	// different guards.
	c := *client
	maxRedirects := g.MaxRedirects
	c.CheckRedirect = func(_ *http.Request, via []*http.Request) error {
		if len(via) > maxRedirects {
			return errors.New("too many redirects")
		}
		return nil
	}

	resp, err := c.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, apperr.New(apperr.DownloadTimeout, "timed out fetching source")
		}
		return nil, apperr.New(apperr.FetchError, "could not fetch source")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apperr.Newf(apperr.FetchError, "source responded with status %d", resp.StatusCode)
	}

	maxBytes := g.MaxBytes
	if maxBytes <= 0 {
		maxBytes = 32 << 20
	}
	limited := io.LimitReader(resp.Body, maxBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		if ctx.Err() != nil {
			return nil, apperr.New(apperr.DownloadTimeout, "timed out reading source")
		}
		return nil, apperr.New(apperr.FetchError, "could not read source body")
	}
	if int64(len(body)) > maxBytes {
		return nil, apperr.New(apperr.SourceTooLarge, "source exceeds the configured size limit")
	}

	mime := sniff(body)
	if len(g.AllowedMIME) > 0 && !g.AllowedMIME[mime] {
		return nil, apperr.Newf(apperr.UnsupportedMime, "source mime type %q is not allowed", mime)
	}

	return &Result{Bytes: body, MIME: mime}, nil
}

// FSSource fetches watermark overlays from a fixed local directory, adapted
// from the teacher's filesystem source. References are cleaned and rooted
// at BaseDir, so ".." segments cannot climb out of it; symlinks inside
// BaseDir are opened as-is and are not resolved or checked.
type FSSource struct {
	BaseDir string
}

func (s *FSSource) Fetch(_ context.Context, ref string, g Guards) (*Result, error) {
	clean := filepath.Clean("/" + ref)
	full := filepath.Join(s.BaseDir, clean)
	if !strings.HasPrefix(full, filepath.Clean(s.BaseDir)+string(filepath.Separator)) {
		return nil, apperr.New(apperr.InvalidSource, "path escapes the allowed directory")
	}

	f, err := os.Open(full)
	if err != nil {
		return nil, apperr.New(apperr.FetchError, "could not open local source")
	}
	defer f.Close()

	maxBytes := g.MaxBytes
	if maxBytes <= 0 {
		maxBytes = 32 << 20
	}
	body, err := io.ReadAll(io.LimitReader(f, maxBytes+1))
	if err != nil {
		return nil, apperr.New(apperr.FetchError, "could not read local source")
	}
	if int64(len(body)) > maxBytes {
		return nil, apperr.New(apperr.SourceTooLarge, "source exceeds the configured size limit")
	}

	mime := sniff(body)
	if len(g.AllowedMIME) > 0 && !g.AllowedMIME[mime] {
		return nil, apperr.Newf(apperr.UnsupportedMime, "source mime type %q is not allowed", mime)
	}
	return &Result{Bytes: body, MIME: mime}, nil
}

func sniff(body []byte) string {
	kind, err := filetype.Match(body)
	if err != nil || kind == filetype.Unknown {
		return http.DetectContentType(body)
	}
	return kind.MIME.Value
}
