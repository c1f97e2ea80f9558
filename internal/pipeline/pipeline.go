// SPDX-License-Identifier: AGPL-3.0-only

// Package pipeline implements the deterministic processing pipeline
// (spec.md §4.5): DPR scaling, load, auto-rotate, crop, resize, zoom, min
// dimensions, extend, padding, fixed rotate, effects, watermark, flatten,
// and encode, applied in that fixed order regardless of directive order in
// the URL.
package pipeline

import (
	"context"

	"github.com/h2non/bimg"

	"github.com/imgforge/imgforge/internal/apperr"
	"github.com/imgforge/imgforge/internal/engine"
	"github.com/imgforge/imgforge/internal/options"
)

// Input bundles everything a single Execute call needs.
type Input struct {
	Source            []byte
	Options           *options.ParsedOptions
	URLExtension      string // from the request path, e.g. "jpg"; used when no format directive is given
	Watermark         []byte // pre-fetched overlay bytes, or nil
	DefaultFormat     string // server-configured fallback when nothing else names one
	MaxSrcResolutionMP float64 // server-configured ceiling; 0 disables
}

// Output is the encoded result.
type Output struct {
	Bytes  []byte
	Format string
	Width  int
	Height int
}

// Execute runs the full pipeline over in.Source and returns the encoded
// result. It never mutates in.Options.
func Execute(ctx context.Context, in Input) (*Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.New(apperr.ProcessTimeout, "processing cancelled before starting")
	}

	o := in.Options
	buf := in.Source

	meta, err := engine.ReadMetadata(buf)
	if err != nil {
		return nil, err
	}

	resLimit := o.MaxSrcResolution
	if resLimit == nil && in.MaxSrcResolutionMP > 0 {
		resLimit = &in.MaxSrcResolutionMP
	}
	if resLimit != nil {
		megapixels := float64(meta.Width*meta.Height) / 1_000_000
		if megapixels > *resLimit {
			return nil, apperr.Newf(apperr.SourceTooLarge, "source resolution %.1fMP exceeds the %.1fMP limit", megapixels, *resLimit)
		}
	}

	// Stage 1: DPR scaling. The requested box, padding and minimum
	// dimensions are all scaled up before any geometry math runs, so a dpr:2
	// request for 100x100 behaves like a 200x200 request against the
	// original dimensions.
	targetW, targetH := o.Width, o.Height
	pad := o.Padding
	minW, minH := o.MinWidth, o.MinHeight
	if o.DPR != 1.0 {
		scale := func(v int) int {
			if v <= 0 {
				return v
			}
			return int(float64(v) * o.DPR)
		}
		targetW, targetH = scale(targetW), scale(targetH)
		pad = options.Padding{
			Top: scale(pad.Top), Right: scale(pad.Right),
			Bottom: scale(pad.Bottom), Left: scale(pad.Left),
		}
		minW, minH = scale(minW), scale(minH)
	}

	// Stage 2 (load) already happened via ReadMetadata above.

	// Stage 3: EXIF auto-rotate.
	buf, err = engine.Process(buf, bimg.Options{NoAutoRotate: !o.AutoRotate})
	if err != nil {
		return nil, err
	}

	// Stage 4: absolute crop.
	if o.Crop != nil && o.Crop.Width > 0 && o.Crop.Height > 0 {
		buf, err = engine.Process(buf, bimg.Options{
			Top: o.Crop.Y, Left: o.Crop.X, AreaWidth: o.Crop.Width, AreaHeight: o.Crop.Height,
		})
		if err != nil {
			return nil, err
		}
	}

	// Stage 5: resize per resizing_type. auto resolves to fill when the
	// source and target boxes share an orientation (both portrait or both
	// landscape), fit otherwise.
	if targetW > 0 || targetH > 0 {
		resizingType := o.ResizingType
		if resizingType == options.ResizeAuto {
			rm, rerr := engine.ReadMetadata(buf)
			if rerr != nil {
				return nil, rerr
			}
			if (rm.Height > rm.Width) == (targetH > targetW) {
				resizingType = options.ResizeFill
			} else {
				resizingType = options.ResizeFit
			}
		}
		buf, err = engine.Process(buf, bimg.Options{
			Width: targetW, Height: targetH,
			Crop:         resizingType == options.ResizeFill,
			Force:        resizingType == options.ResizeForce,
			Enlarge:      o.Enlarge,
			Gravity:      engine.Gravity(o.Gravity),
			Interpolator: engine.Interpolator(o.ResizingAlgorithm),
		})
		if err != nil {
			return nil, err
		}
	}

	// Stage 6: zoom — a further uniform scale applied after the main resize.
	if o.Zoom != 1.0 {
		zm, zerr := engine.ReadMetadata(buf)
		if zerr != nil {
			return nil, zerr
		}
		buf, err = engine.Process(buf, bimg.Options{
			Width: int(float64(zm.Width) * o.Zoom), Height: int(float64(zm.Height) * o.Zoom),
			Force: true, Interpolator: engine.Interpolator(o.ResizingAlgorithm),
		})
		if err != nil {
			return nil, err
		}
	}

	// Stage 7: minimum dimensions — force enlarge up to the floor if needed.
	if minW > 0 || minH > 0 {
		mm, merr := engine.ReadMetadata(buf)
		if merr != nil {
			return nil, merr
		}
		if mm.Width < minW || mm.Height < minH {
			w, h := mm.Width, mm.Height
			if minW > w {
				w = minW
			}
			if minH > h {
				h = minH
			}
			buf, err = engine.Process(buf, bimg.Options{Width: w, Height: h, Enlarge: true, Force: true})
			if err != nil {
				return nil, err
			}
		}
	}

	// Fill color for extend, padding and flatten. The spec's default fill is
	// transparent with an implicit black flatten for alpha-less outputs;
	// bimg's fill color is opaque, so absent an explicit background both
	// cases land on black.
	bg := backgroundColor(o)

	// Stage 8: extend to the full requested box (letterbox/pillarbox) when
	// resizing_type=fit left the image smaller than width/height.
	if o.Extend && targetW > 0 && targetH > 0 {
		buf, err = engine.Process(buf, bimg.Options{
			Width: targetW, Height: targetH, Embed: true,
			Extend: bimg.ExtendBackground, Background: bg, Gravity: bimg.GravityCentre,
		})
		if err != nil {
			return nil, err
		}
	}

	// Stage 9: padding. bimg has no asymmetric-embed primitive, so uneven
	// padding is approximated as a centered embed onto a canvas sized by the
	// sum of each axis's padding; exactly-even padding (the common case)
	// reproduces the requested margins exactly.
	if pad != (options.Padding{}) {
		pm, perr := engine.ReadMetadata(buf)
		if perr != nil {
			return nil, perr
		}
		newW := pm.Width + pad.Left + pad.Right
		newH := pm.Height + pad.Top + pad.Bottom
		buf, err = engine.Process(buf, bimg.Options{
			Width: newW, Height: newH, Embed: true,
			Extend: bimg.ExtendBackground, Background: bg, Gravity: bimg.GravityCentre,
		})
		if err != nil {
			return nil, err
		}
	}

	// Stage 10: fixed rotation (distinct from stage 3's EXIF auto-rotate).
	if o.Rotate != 0 {
		buf, err = engine.Process(buf, bimg.Options{Rotate: bimg.Angle(o.Rotate)})
		if err != nil {
			return nil, err
		}
	}

	// Stage 11: effects, in the fixed order blur -> sharpen -> pixelate.
	if o.Blur > 0 {
		buf, err = engine.Process(buf, bimg.Options{GaussianBlur: bimg.GaussianBlur{Sigma: o.Blur}})
		if err != nil {
			return nil, err
		}
	}
	if o.Sharpen > 0 {
		buf, err = engine.Process(buf, bimg.Options{Sharpen: bimg.Sharpen{Radius: 1, X1: o.Sharpen, M1: 1, M2: 2}})
		if err != nil {
			return nil, err
		}
	}
	if o.Pixelate > 1 {
		buf, err = engine.Pixelate(buf, o.Pixelate)
		if err != nil {
			return nil, err
		}
	}

	// Stage 12: watermark overlay.
	if o.Watermark != nil && len(in.Watermark) > 0 {
		buf, err = applyWatermark(buf, in.Watermark, o.Watermark)
		if err != nil {
			return nil, err
		}
	}

	// Stage 14's format choice drives stage 13, so resolve it first.
	// Precedence (spec.md §4.5): explicit format directive > extension
	// suffix in the source segment > default jpeg.
	format := o.Format
	if format == "" {
		format = in.URLExtension
	}
	if format == "" {
		format = in.DefaultFormat
	}
	if format == "" {
		format = "jpeg"
	}
	imgType, ok := engine.TypeByFormat(format)
	if !ok {
		return nil, apperr.Newf(apperr.InvalidOption, "unsupported output format %q", format)
	}

	// Stage 13: flatten. When the output format cannot carry alpha, an
	// image that still has one is composed onto the background color —
	// the explicit background directive, or black when absent.
	if !engine.FormatSupportsAlpha(format) {
		fm, ferr := engine.ReadMetadata(buf)
		if ferr != nil {
			return nil, ferr
		}
		if fm.HasAlpha {
			buf, err = engine.Process(buf, bimg.Options{Background: bg})
			if err != nil {
				return nil, err
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, apperr.New(apperr.ProcessTimeout, "processing cancelled")
	}

	// Metadata stripping: EXIF/XMP is consulted once for auto-rotate (stage
	// 3) and discarded from the encoded output by default (spec.md §9).
	final, err := engine.Process(buf, bimg.Options{Type: imgType, Quality: o.Quality, StripMetadata: true})
	if err != nil {
		return nil, err
	}

	outMeta, err := engine.ReadMetadata(final)
	if err != nil {
		return nil, err
	}

	return &Output{Bytes: final, Format: format, Width: outMeta.Width, Height: outMeta.Height}, nil
}

func backgroundColor(o *options.ParsedOptions) bimg.Color {
	if o.Background == nil {
		return bimg.Color{}
	}
	c := o.Background
	if c.A == 255 {
		return bimg.Color{R: int(c.R), G: int(c.G), B: int(c.B)}
	}
	// bimg's fill color is opaque; a translucent background is composed
	// over the black it would otherwise flatten onto.
	scale := float64(c.A) / 255
	return bimg.Color{
		R: int(float64(c.R) * scale),
		G: int(float64(c.G) * scale),
		B: int(float64(c.B) * scale),
	}
}

// applyWatermark overlays wm onto buf, anchoring by the requested gravity.
// Corner/edge offsets are computed directly against the base and watermark
// dimensions since bimg.WatermarkImage only takes an absolute Left/Top.
func applyWatermark(buf, wm []byte, spec *options.Watermark) ([]byte, error) {
	base, err := engine.ReadMetadata(buf)
	if err != nil {
		return nil, err
	}
	overlay, err := engine.ReadMetadata(wm)
	if err != nil {
		return nil, apperr.New(apperr.InvalidSource, "could not read watermark metadata")
	}

	left, top := anchorOffset(spec.Position, base.Width, base.Height, overlay.Width, overlay.Height)

	return engine.Process(buf, bimg.Options{
		WatermarkImage: bimg.WatermarkImage{
			Left: left, Top: top, Buf: wm, Opacity: float32(spec.Opacity),
		},
	})
}

func anchorOffset(position string, baseW, baseH, wmW, wmH int) (left, top int) {
	const margin = 0
	switch position {
	case "north":
		return (baseW - wmW) / 2, margin
	case "south":
		return (baseW - wmW) / 2, baseH - wmH - margin
	case "east":
		return baseW - wmW - margin, (baseH - wmH) / 2
	case "west":
		return margin, (baseH - wmH) / 2
	case "ne":
		return baseW - wmW - margin, margin
	case "nw":
		return margin, margin
	case "se":
		return baseW - wmW - margin, baseH - wmH - margin
	case "sw":
		return margin, baseH - wmH - margin
	default: // center, smart (bimg has no saliency-aware overlay placement)
		return (baseW - wmW) / 2, (baseH - wmH) / 2
	}
}
