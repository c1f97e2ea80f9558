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

const (
	ContentType     = "Content-Type"
	ContentTypeJSON = "application/json"
	RequestIDHeader = "X-Request-ID"
)

var imageMimeByFormat = map[string]string{
	"jpeg": "image/jpeg",
	"jpg":  "image/jpeg",
	"png":  "image/png",
	"webp": "image/webp",
	"gif":  "image/gif",
	"avif": "image/avif",
	"tiff": "image/tiff",
	"heif": "image/heif",
}

// GetImageMimeType resolves an encoded output format to its Content-Type.
func GetImageMimeType(format string) string {
	if mime, ok := imageMimeByFormat[format]; ok {
		return mime
	}
	return "application/octet-stream"
}
