// SPDX-License-Identifier: AGPL-3.0-only

// Package engine wraps bimg (libvips) as the general raster engine, exposing
// the small set of stateless operations the pipeline chains together. bimg
// has no persistent image handle; every call re-ingests the buffer, which is
// why the pipeline threads a rolling []byte through its stages instead of
// holding a long-lived decoded image.
package engine

import (
	"github.com/h2non/bimg"

	"github.com/imgforge/imgforge/internal/apperr"
)

// Metadata is the subset of bimg's image metadata the pipeline needs.
type Metadata struct {
	Width, Height int
	Type          string
	HasAlpha      bool
	Orientation   int
}

// ReadMetadata inspects buf without fully decoding the pixel data.
func ReadMetadata(buf []byte) (Metadata, error) {
	m, err := bimg.Metadata(buf)
	if err != nil {
		return Metadata{}, apperr.New(apperr.InvalidSource, "could not read image metadata")
	}
	return Metadata{
		Width:       m.Size.Width,
		Height:      m.Size.Height,
		Type:        m.Type,
		HasAlpha:    m.Alpha,
		Orientation: m.Orientation,
	}, nil
}

// Process runs a single bimg transform and translates libvips failures into
// an apperr, since they are almost always a malformed or adversarial source.
func Process(buf []byte, o bimg.Options) (out []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, apperr.New(apperr.Internal, "image engine panicked")
		}
	}()
	out, err = bimg.NewImage(buf).Process(o)
	if err != nil {
		return nil, apperr.Newf(apperr.InvalidSource, "could not process image: %s", err)
	}
	return out, nil
}

var gravityByName = map[string]bimg.Gravity{
	"center": bimg.GravityCentre,
	"north":  bimg.GravityNorth,
	"south":  bimg.GravitySouth,
	"east":   bimg.GravityEast,
	"west":   bimg.GravityWest,
	"smart":  bimg.GravitySmart,
}

// Gravity maps a spec gravity anchor to its bimg equivalent. The four
// corner anchors (ne/nw/se/sw) have no direct bimg gravity constant, so they
// approximate to their dominant compass direction; callers needing a true
// corner anchor (watermark placement) compute pixel offsets directly instead
// of going through this map.
func Gravity(name string) bimg.Gravity {
	switch name {
	case "ne", "nw":
		return bimg.GravityNorth
	case "se", "sw":
		return bimg.GravitySouth
	}
	if g, ok := gravityByName[name]; ok {
		return g
	}
	return bimg.GravityCentre
}

var interpolatorByAlgorithm = map[string]bimg.Interpolator{
	"nearest":  bimg.Nearest,
	"linear":   bimg.Bilinear,
	"cubic":    bimg.Bicubic,
	"lanczos2": bimg.Nohalo,
	"lanczos3": bimg.Bicubic,
}

// Interpolator approximates the spec's resizing_algorithm values onto bimg's
// exposed kernels: bimg has no true Lanczos kernel, so lanczos2/lanczos3
// approximate via Nohalo/Bicubic, the closest available high-quality
// resamplers.
func Interpolator(algorithm string) bimg.Interpolator {
	if i, ok := interpolatorByAlgorithm[algorithm]; ok {
		return i
	}
	return bimg.Bicubic
}

var typeByFormat = map[string]bimg.ImageType{
	"jpeg": bimg.JPEG,
	"jpg":  bimg.JPEG,
	"png":  bimg.PNG,
	"webp": bimg.WEBP,
	"gif":  bimg.GIF,
	"avif": bimg.AVIF,
	"tiff": bimg.TIFF,
	"heif": bimg.HEIF,
}

// TypeByFormat resolves a spec format/extension name to a bimg.ImageType.
func TypeByFormat(format string) (bimg.ImageType, bool) {
	t, ok := typeByFormat[format]
	return t, ok
}

var alphaLessFormats = map[string]bool{"jpeg": true, "jpg": true}

// FormatSupportsAlpha reports whether the encoded output format can carry an
// alpha channel; encoding to one that cannot requires a flatten first.
func FormatSupportsAlpha(format string) bool {
	return !alphaLessFormats[format]
}

// Pixelate approximates mosaic pixelation as a downscale to 1/factor with
// nearest-neighbor sampling followed by an upscale back to the original
// size, matching the blocky look without a dedicated libvips operation.
func Pixelate(buf []byte, factor int) ([]byte, error) {
	if factor <= 1 {
		return buf, nil
	}
	meta, err := ReadMetadata(buf)
	if err != nil {
		return nil, err
	}
	smallW := max(1, meta.Width/factor)
	smallH := max(1, meta.Height/factor)

	small, err := Process(buf, bimg.Options{
		Width: smallW, Height: smallH, Force: true, Interpolator: bimg.Nearest,
	})
	if err != nil {
		return nil, err
	}
	return Process(small, bimg.Options{
		Width: meta.Width, Height: meta.Height, Force: true, Interpolator: bimg.Nearest,
	})
}
