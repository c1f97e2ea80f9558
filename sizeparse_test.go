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

import "testing"

const invalidParam = "Invalid param: %#v != %d ; Error: %#v"

func TestParseByteSize(t *testing.T) {
	tests := []struct {
		value    string
		expected int64
	}{
		{"", 0},
		{"0", 0},
		{" ", 0},
		{"1K", 1024},
		{"256 KB", 262144},
		{"100 M", 104857600},
		{"8MB", 8388608},
		{"1G", 1073741824},
		{"2 GB", 2147483648},
		{"5T", 5497558138880},
		{"20 TB", 21990232555520},
	}

	for _, test := range tests {
		val, err := parseByteSize(test.value)
		if val != test.expected {
			t.Errorf(invalidParam, test.value, test.expected, err)
		}
	}
}

func TestParseByteSizeRejectsMissingUnit(t *testing.T) {
	if _, err := parseByteSize("L9"); err == nil {
		t.Error("expected an error for a value with no trailing unit")
	}
}

func TestParseByteSizeEnvFallback(t *testing.T) {
	v, err := parseByteSizeEnv("IMGFORGE_TEST_UNSET_SIZE", 42)
	if err != nil || v != 42 {
		t.Errorf("got %d, %v; want fallback 42", v, err)
	}
}
