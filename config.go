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
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/imgforge/imgforge/internal/preset"
)

// Config is the fully-parsed IMGFORGE_* environment, following the
// teacher's small-getX-helper style (imaginary.go) but reading straight
// from the environment instead of flag.Parse, since there are no CLI flags
// in a containerized deployment (spec.md §6).
type Config struct {
	Key, Salt          []byte
	AllowUnsigned      bool
	Workers            int64
	Timeout            time.Duration
	DownloadTimeout    time.Duration
	Bind               string
	LogLevel           string
	RateLimitPerMinute int
	RateLimitBurst     int
	MaxSrcFileSize     int64
	MaxSrcResolution   float64
	AllowedMIMETypes   map[string]bool
	AllowSecurityOpts  bool
	Secret             string
	WatermarkPath      string
	Presets            preset.Registry
	OnlyPresets        bool
	CacheType          string
	CacheMemoryEntries int
	CacheDiskPath      string
	CacheDiskEntries   int
	CORS               bool
	QUICPort           int
	MReleaseInterval   time.Duration
	TLSCertFile        string
	TLSKeyFile         string
}

func getenv(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func getenvInt(name string, fallback int) (int, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return v, nil
}

func getenvFloat(name string, fallback float64) (float64, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return v, nil
}

func getenvBool(name string, fallback bool) (bool, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s: %w", name, err)
	}
	return v, nil
}

// validateHexKey decodes a hex-encoded key/salt, following the teacher's
// validateURLSignatureKey shape: fail fast at startup rather than at the
// first request.
func validateHexKey(name, raw string) ([]byte, error) {
	if raw == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("%s must be hex-encoded: %w", name, err)
	}
	return key, nil
}

// parsePresets parses IMGFORGE_PRESETS, a semicolon-separated list of
// "name=directive/directive/..." entries, e.g.
// "thumb=resize:fit:50:50/quality:70;default=auto_rotate:true".
func parsePresets(raw string) preset.Registry {
	reg := preset.Registry{}
	if raw == "" {
		return reg
	}
	for _, entry := range strings.Split(raw, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, tokens, ok := strings.Cut(entry, "=")
		if !ok {
			continue
		}
		reg[name] = strings.Split(tokens, "/")
	}
	return reg
}

func parseAllowedMIMETypes(raw string) map[string]bool {
	if raw == "" {
		return nil
	}
	set := map[string]bool{}
	for _, mime := range strings.Split(raw, ",") {
		mime = strings.TrimSpace(mime)
		if mime != "" {
			set[mime] = true
		}
	}
	return set
}

// LoadConfig reads and validates the full IMGFORGE_* environment.
func LoadConfig() (*Config, error) {
	key, err := validateHexKey("IMGFORGE_KEY", os.Getenv("IMGFORGE_KEY"))
	if err != nil {
		return nil, err
	}
	salt, err := validateHexKey("IMGFORGE_SALT", os.Getenv("IMGFORGE_SALT"))
	if err != nil {
		return nil, err
	}

	allowUnsigned, err := getenvBool("IMGFORGE_ALLOW_UNSIGNED", false)
	if err != nil {
		return nil, err
	}

	workers, err := getenvInt("IMGFORGE_WORKERS", 4)
	if err != nil {
		return nil, err
	}

	timeoutSec, err := getenvInt("IMGFORGE_TIMEOUT", 30)
	if err != nil {
		return nil, err
	}
	downloadTimeoutSec, err := getenvInt("IMGFORGE_DOWNLOAD_TIMEOUT", 10)
	if err != nil {
		return nil, err
	}

	rateLimit, err := getenvInt("IMGFORGE_RATE_LIMIT_PER_MINUTE", 0)
	if err != nil {
		return nil, err
	}

	maxSrcFileSize, err := parseByteSizeEnv("IMGFORGE_MAX_SRC_FILE_SIZE", 32<<20)
	if err != nil {
		return nil, err
	}

	maxSrcResolution, err := getenvFloat("IMGFORGE_MAX_SRC_RESOLUTION", 32)
	if err != nil {
		return nil, err
	}

	allowSecurityOpts, err := getenvBool("IMGFORGE_ALLOW_SECURITY_OPTIONS", false)
	if err != nil {
		return nil, err
	}

	onlyPresets, err := getenvBool("IMGFORGE_ONLY_PRESETS", false)
	if err != nil {
		return nil, err
	}

	cors, err := getenvBool("IMGFORGE_CORS", false)
	if err != nil {
		return nil, err
	}

	quicPort, err := getenvInt("IMGFORGE_QUIC_PORT", 0)
	if err != nil {
		return nil, err
	}

	cacheMemoryEntries, err := getenvInt("IMGFORGE_CACHE_MEMORY_CAPACITY", 1000)
	if err != nil {
		return nil, err
	}
	cacheDiskEntries, err := getenvInt("IMGFORGE_CACHE_DISK_CAPACITY", 10000)
	if err != nil {
		return nil, err
	}

	mreleaseSec, err := getenvInt("IMGFORGE_MRELEASE", 0)
	if err != nil {
		return nil, err
	}

	return &Config{
		Key:                key,
		Salt:               salt,
		AllowUnsigned:      allowUnsigned,
		Workers:            int64(workers),
		Timeout:            time.Duration(timeoutSec) * time.Second,
		DownloadTimeout:    time.Duration(downloadTimeoutSec) * time.Second,
		Bind:               getenv("IMGFORGE_BIND", ":8080"),
		LogLevel:           getenv("IMGFORGE_LOG_LEVEL", "info"),
		RateLimitPerMinute: rateLimit,
		RateLimitBurst:     rateLimit / 4,
		MaxSrcFileSize:     maxSrcFileSize,
		MaxSrcResolution:   maxSrcResolution,
		AllowedMIMETypes:   parseAllowedMIMETypes(os.Getenv("IMGFORGE_ALLOWED_MIME_TYPES")),
		AllowSecurityOpts:  allowSecurityOpts,
		Secret:             os.Getenv("IMGFORGE_SECRET"),
		WatermarkPath:      os.Getenv("IMGFORGE_WATERMARK_PATH"),
		Presets:            parsePresets(os.Getenv("IMGFORGE_PRESETS")),
		OnlyPresets:        onlyPresets,
		CacheType:          getenv("IMGFORGE_CACHE_TYPE", "memory"),
		CacheMemoryEntries: cacheMemoryEntries,
		CacheDiskPath:      getenv("IMGFORGE_CACHE_DISK_PATH", "./cache"),
		CacheDiskEntries:   cacheDiskEntries,
		CORS:               cors,
		QUICPort:           quicPort,
		MReleaseInterval:   time.Duration(mreleaseSec) * time.Second,
		TLSCertFile:        os.Getenv("IMGFORGE_TLS_CERT_FILE"),
		TLSKeyFile:         os.Getenv("IMGFORGE_TLS_KEY_FILE"),
	}, nil
}
