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
	"testing"
)

func TestValidateHexKeyAcceptsEmpty(t *testing.T) {
	key, err := validateHexKey("IMGFORGE_KEY", "")
	if err != nil {
		t.Fatal(err)
	}
	if key != nil {
		t.Error("expected a nil key for an empty value")
	}
}

func TestValidateHexKeyRejectsNonHex(t *testing.T) {
	if _, err := validateHexKey("IMGFORGE_KEY", "not-hex!!"); err == nil {
		t.Error("expected an error for a non-hex-encoded key")
	}
}

func TestValidateHexKeyDecodes(t *testing.T) {
	key, err := validateHexKey("IMGFORGE_KEY", "deadbeef")
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{0xde, 0xad, 0xbe, 0xef}
	if len(key) != len(want) {
		t.Fatalf("got %v, want %v", key, want)
	}
	for i := range want {
		if key[i] != want[i] {
			t.Fatalf("got %v, want %v", key, want)
		}
	}
}

func TestParsePresetsSplitsEntriesAndDirectives(t *testing.T) {
	reg := parsePresets("thumb=resize:fit:50:50/quality:70;default=auto_rotate:true")

	if got := reg["thumb"]; len(got) != 2 || got[0] != "resize:fit:50:50" || got[1] != "quality:70" {
		t.Errorf("thumb preset = %v", got)
	}
	if got := reg["default"]; len(got) != 1 || got[0] != "auto_rotate:true" {
		t.Errorf("default preset = %v", got)
	}
}

func TestParsePresetsEmptyInput(t *testing.T) {
	reg := parsePresets("")
	if len(reg) != 0 {
		t.Errorf("expected an empty registry, got %v", reg)
	}
}

func TestParseAllowedMIMETypesTrimsAndSplits(t *testing.T) {
	set := parseAllowedMIMETypes("image/jpeg, image/png,image/webp")
	for _, mime := range []string{"image/jpeg", "image/png", "image/webp"} {
		if !set[mime] {
			t.Errorf("expected %q to be allowed", mime)
		}
	}
	if len(set) != 3 {
		t.Errorf("got %d entries, want 3", len(set))
	}
}

func TestParseAllowedMIMETypesEmptyMeansUnrestricted(t *testing.T) {
	if set := parseAllowedMIMETypes(""); set != nil {
		t.Errorf("expected nil for an empty allowlist, got %v", set)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	for _, key := range []string{
		"IMGFORGE_KEY", "IMGFORGE_SALT", "IMGFORGE_SECRET", "IMGFORGE_WATERMARK_PATH",
		"IMGFORGE_TLS_CERT_FILE", "IMGFORGE_TLS_KEY_FILE", "IMGFORGE_PRESETS",
		"IMGFORGE_BIND", "IMGFORGE_RATE_LIMIT_PER_MINUTE",
	} {
		t.Setenv(key, "")
	}

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Bind != ":8080" {
		t.Errorf("Bind = %q, want :8080", cfg.Bind)
	}
	if cfg.CacheType != "memory" {
		t.Errorf("CacheType = %q, want memory", cfg.CacheType)
	}
	if cfg.RateLimitPerMinute != 0 {
		t.Errorf("RateLimitPerMinute = %d, want 0 (disabled by default)", cfg.RateLimitPerMinute)
	}
	if cfg.TLSCertFile != "" || cfg.TLSKeyFile != "" {
		t.Error("expected empty TLS cert/key by default")
	}
}

func TestLoadConfigReadsTLSFiles(t *testing.T) {
	t.Setenv("IMGFORGE_TLS_CERT_FILE", "/etc/imgforge/cert.pem")
	t.Setenv("IMGFORGE_TLS_KEY_FILE", "/etc/imgforge/key.pem")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.TLSCertFile != "/etc/imgforge/cert.pem" {
		t.Errorf("TLSCertFile = %q", cfg.TLSCertFile)
	}
	if cfg.TLSKeyFile != "/etc/imgforge/key.pem" {
		t.Errorf("TLSKeyFile = %q", cfg.TLSKeyFile)
	}
}

func TestLoadConfigRejectsInvalidKey(t *testing.T) {
	t.Setenv("IMGFORGE_KEY", "not-hex")
	if _, err := LoadConfig(); err == nil {
		t.Error("expected an error for a non-hex IMGFORGE_KEY")
	}
}
