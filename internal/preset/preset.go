// SPDX-License-Identifier: AGPL-3.0-only

// Package preset implements preset expansion (spec.md §4.3): substituting
// preset/pr directives with their registered directive lists, prepending any
// configured default presets, and enforcing only_presets mode.
package preset

import (
	"strings"

	"github.com/imgforge/imgforge/internal/apperr"
)

// Registry maps a preset name to its ordered directive tokens.
type Registry map[string][]string

func isPresetToken(tok string) (name string, isPreset bool) {
	idx := strings.IndexByte(tok, ':')
	var head string
	if idx == -1 {
		head = tok
	} else {
		head = tok[:idx]
	}
	if head != "preset" && head != "pr" {
		return "", false
	}
	args := ""
	if idx != -1 {
		args = tok[idx+1:]
	}
	return args, true
}

// Expand performs exactly one substitution pass over tokens: the server's
// default presets are prepended as preset/pr tokens first, then every
// preset/pr directive in the combined list is replaced by its registered
// tokens. Nested preset references produced by that single pass are NOT
// recursively expanded (spec.md §4.3) — a preset/pr token surviving into a
// preset's own content is left for package options to silently ignore.
//
// When onlyPresets is true, every token the client supplied (default presets
// are server-configured and exempt) must itself be a preset/pr directive
// (spec.md §4.3's only_presets mode); the first non-preset directive name
// encountered is reported as the PresetsOnlyViolation offender, matching
// property P4.
func Expand(tokens []string, reg Registry, defaultPresets []string, onlyPresets bool) ([]string, error) {
	if onlyPresets {
		for _, tok := range tokens {
			if _, isPreset := isPresetToken(tok); !isPreset {
				return nil, apperr.New(apperr.PresetsOnlyViolation, "directive "+tok+" not allowed outside a preset")
			}
		}
	}

	combined := make([]string, 0, len(defaultPresets)+len(tokens))
	for _, name := range defaultPresets {
		combined = append(combined, "preset:"+name)
	}
	combined = append(combined, tokens...)

	out := make([]string, 0, len(combined))
	for _, tok := range combined {
		name, isPreset := isPresetToken(tok)
		if !isPreset {
			out = append(out, tok)
			continue
		}
		if name == "" {
			return nil, apperr.New(apperr.UnknownPreset, "missing preset name")
		}
		replacement, ok := reg[name]
		if !ok {
			return nil, apperr.New(apperr.UnknownPreset, "unknown preset "+name)
		}
		out = append(out, replacement...)
	}
	return out, nil
}
