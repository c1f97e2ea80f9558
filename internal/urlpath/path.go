// SPDX-License-Identifier: AGPL-3.0-only

// Package urlpath implements the request-path codec (spec.md §4.1): splitting
// a request path into its signature token, option tokens and source segment,
// decoding the source URL, and verifying the HMAC signature. It does not
// fetch anything and does not normalize option ordering.
package urlpath

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/url"
	"strings"

	"github.com/imgforge/imgforge/internal/apperr"
	"github.com/imgforge/imgforge/internal/options"
)

// Unsafe is the literal signature token that bypasses verification when the
// server allows it.
const Unsafe = "unsafe"

// Parsed holds the decoded request path.
type Parsed struct {
	SignatureToken string
	// NormalizedPath is the byte-exact path starting at the slash before the
	// option segment and ending at the last byte of the source segment; it
	// is both the HMAC input and (by spec.md §4.7) the cache-key input.
	NormalizedPath string
	OptionTokens   []string
	SourceURL      string
	Extension      string
}

// looksLikeDirective reports whether a path segment is an option token: the
// "name:args" shape used by every argument-taking directive, or one of the
// bare flag names (raw, enlarge, ...) that are valid without arguments. The
// encoded source segment never contains a colon, so the first segment
// matching neither form marks the start of the source segment.
func looksLikeDirective(segment string) bool {
	return strings.Contains(segment, ":") || options.IsBareDirective(segment)
}

// Parse splits rawPath into its three logical segments and decodes the source
// URL. It performs no signature verification and no network I/O.
func Parse(rawPath string) (*Parsed, error) {
	trimmed := strings.TrimPrefix(rawPath, "/")
	if trimmed == "" {
		return nil, apperr.New(apperr.InvalidURLFormat, "empty path")
	}

	segments := strings.Split(trimmed, "/")
	if len(segments) < 2 {
		return nil, apperr.New(apperr.InvalidURLFormat, "path must contain a signature and a source")
	}

	signatureToken := segments[0]
	if signatureToken == "" {
		return nil, apperr.New(apperr.InvalidURLFormat, "missing signature token")
	}
	rest := segments[1:]

	splitAt := len(rest)
	for i, seg := range rest {
		if seg == "plain" || !looksLikeDirective(seg) {
			splitAt = i
			break
		}
	}

	optionTokens := append([]string{}, rest[:splitAt]...)
	sourceSegments := rest[splitAt:]
	if len(sourceSegments) == 0 {
		return nil, apperr.New(apperr.InvalidURLFormat, "missing source segment")
	}
	sourceSegment := strings.Join(sourceSegments, "/")

	sourceURL, ext, err := decodeSource(sourceSegment)
	if err != nil {
		return nil, err
	}

	normalizedPath := "/" + strings.Join(rest, "/")

	return &Parsed{
		SignatureToken: signatureToken,
		NormalizedPath: normalizedPath,
		OptionTokens:   optionTokens,
		SourceURL:      sourceURL,
		Extension:      ext,
	}, nil
}

// decodeSource implements spec.md §4.1 steps 3-4: a "plain/<url>[@ext]" form,
// or "<base64url-no-pad>[.ext]".
func decodeSource(segment string) (src, ext string, err error) {
	if segment == "plain" || strings.HasPrefix(segment, "plain/") {
		raw := strings.TrimPrefix(segment, "plain/")
		if idx := strings.LastIndex(raw, "@"); idx != -1 && !strings.Contains(raw[idx+1:], "/") {
			ext = raw[idx+1:]
			raw = raw[:idx]
		}
		decoded, uerr := url.PathUnescape(raw)
		if uerr != nil {
			return "", "", apperr.New(apperr.InvalidSource, "malformed percent-encoded source URL")
		}
		return decoded, ext, nil
	}

	b64 := segment
	if idx := strings.LastIndex(segment, "."); idx != -1 && !strings.Contains(segment[idx+1:], "/") {
		ext = segment[idx+1:]
		b64 = segment[:idx]
	}

	decoded, derr := base64.RawURLEncoding.DecodeString(b64)
	if derr != nil {
		return "", "", apperr.New(apperr.InvalidSource, "malformed base64url source")
	}
	return string(decoded), ext, nil
}

// Verify checks the signature token per spec.md §4.1. key and salt are the
// raw (already hex-decoded) bytes from server configuration.
func Verify(p *Parsed, key, salt []byte, allowUnsigned bool) error {
	if p.SignatureToken == Unsafe {
		if allowUnsigned {
			return nil
		}
		return apperr.New(apperr.SignatureMismatch, "unsafe signature not allowed")
	}

	given, err := base64.RawURLEncoding.DecodeString(p.SignatureToken)
	if err != nil {
		return apperr.New(apperr.SignatureMismatch, "malformed signature")
	}

	mac := hmac.New(sha256.New, key)
	mac.Write(salt)
	mac.Write([]byte(p.NormalizedPath))
	expected := mac.Sum(nil)

	if !hmac.Equal(given, expected) {
		return apperr.New(apperr.SignatureMismatch, "signature mismatch")
	}
	return nil
}

// Sign computes the signature token for a normalized path; it is the inverse
// of Verify and is exposed mainly for tests and offline URL generation.
func Sign(normalizedPath string, key, salt []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(salt)
	mac.Write([]byte(normalizedPath))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
