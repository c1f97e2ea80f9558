// SPDX-License-Identifier: AGPL-3.0-only

package pipeline

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/imgforge/imgforge/internal/apperr"
	"github.com/imgforge/imgforge/internal/options"
)

func fixturePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 255), G: uint8(y % 255), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestExecuteFitResize(t *testing.T) {
	src := fixturePNG(t, 400, 300)
	o := options.Defaults()
	o.Width = 100
	o.Height = 100
	o.Format = "jpeg"

	out, err := Execute(context.Background(), Input{Source: src, Options: o})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if out.Format != "jpeg" {
		t.Errorf("format = %q", out.Format)
	}
	if out.Width > 100 || out.Height > 100 {
		t.Errorf("dims = %dx%d, expected to fit within 100x100", out.Width, out.Height)
	}
	if len(out.Bytes) == 0 {
		t.Error("expected non-empty output")
	}
}

// translucentPNG is a solid half-transparent red square, for exercising the
// flatten stage against alpha-less output formats.
func translucentPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: 200, A: 128})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func centerPixel(t *testing.T, jpegBytes []byte) (r, g, b uint32) {
	t.Helper()
	img, err := jpeg.Decode(bytes.NewReader(jpegBytes))
	if err != nil {
		t.Fatalf("could not decode encoded output: %s", err)
	}
	bounds := img.Bounds()
	r16, g16, b16, _ := img.At(bounds.Dx()/2, bounds.Dy()/2).RGBA()
	return r16 >> 8, g16 >> 8, b16 >> 8
}

func TestExecuteFlattensAlphaOntoBlackForJPEG(t *testing.T) {
	src := translucentPNG(t, 64, 64)
	o := options.Defaults()
	o.Format = "jpeg"

	out, err := Execute(context.Background(), Input{Source: src, Options: o})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	// Half-transparent red over the implicit black: roughly (100, 0, 0).
	// Dropping the alpha channel instead of compositing would leave ~200.
	r, g, b := centerPixel(t, out.Bytes)
	if r < 60 || r > 160 {
		t.Errorf("red = %d, want ~100 (composited over black, not alpha-stripped)", r)
	}
	if g > 40 || b > 40 {
		t.Errorf("green/blue = %d/%d, want near 0 for a black flatten", g, b)
	}
}

func TestExecuteFlattensAlphaOntoExplicitBackground(t *testing.T) {
	src := translucentPNG(t, 64, 64)
	o := options.Defaults()
	o.Format = "jpeg"
	o.Background = &options.Background{R: 255, G: 255, B: 255, A: 255}

	out, err := Execute(context.Background(), Input{Source: src, Options: o})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	// Half-transparent red over white: roughly (228, 128, 128); a black
	// flatten would leave green/blue near 0.
	r, g, b := centerPixel(t, out.Bytes)
	if r < 180 {
		t.Errorf("red = %d, want bright (composited over white)", r)
	}
	if g < 90 || b < 90 {
		t.Errorf("green/blue = %d/%d, want ~128 for a white flatten", g, b)
	}
}

func TestExecuteFillResizeExactDimensions(t *testing.T) {
	src := fixturePNG(t, 200, 200)
	o := options.Defaults()
	o.ResizingType = options.ResizeFill
	o.Width = 100
	o.Height = 100
	o.Format = "png"

	out, err := Execute(context.Background(), Input{Source: src, Options: o})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if out.Width != 100 || out.Height != 100 {
		t.Errorf("dims = %dx%d, want exact 100x100 for fill", out.Width, out.Height)
	}
}

func TestExecuteMaxSrcResolutionGuard(t *testing.T) {
	src := fixturePNG(t, 2000, 2000)
	o := options.Defaults()
	o.Width = 100
	o.Height = 100

	_, err := Execute(context.Background(), Input{Source: src, Options: o, MaxSrcResolutionMP: 1})
	e, ok := apperr.As(err)
	if !ok || e.Kind != apperr.SourceTooLarge {
		t.Fatalf("expected SourceTooLarge, got %v", err)
	}
}

func TestExecuteUnsupportedFormat(t *testing.T) {
	src := fixturePNG(t, 50, 50)
	o := options.Defaults()
	o.Format = "bogus"

	_, err := Execute(context.Background(), Input{Source: src, Options: o})
	e, ok := apperr.As(err)
	if !ok || e.Kind != apperr.InvalidOption {
		t.Fatalf("expected InvalidOption, got %v", err)
	}
}

func TestExecuteCancelledContext(t *testing.T) {
	src := fixturePNG(t, 50, 50)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Execute(ctx, Input{Source: src, Options: options.Defaults()})
	e, ok := apperr.As(err)
	if !ok || e.Kind != apperr.ProcessTimeout {
		t.Fatalf("expected ProcessTimeout, got %v", err)
	}
}

func TestExecuteAutoResizeFillsOnMatchingOrientation(t *testing.T) {
	src := fixturePNG(t, 400, 300) // landscape
	o := options.Defaults()
	o.ResizingType = options.ResizeAuto
	o.Width = 100
	o.Height = 50 // landscape target -> fill

	out, err := Execute(context.Background(), Input{Source: src, Options: o})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if out.Width != 100 || out.Height != 50 {
		t.Errorf("dims = %dx%d, want exact 100x50 (auto resolves to fill)", out.Width, out.Height)
	}
}

func TestExecuteAutoResizeFitsOnMismatchedOrientation(t *testing.T) {
	src := fixturePNG(t, 400, 300) // landscape
	o := options.Defaults()
	o.ResizingType = options.ResizeAuto
	o.Width = 50
	o.Height = 100 // portrait target -> fit

	out, err := Execute(context.Background(), Input{Source: src, Options: o})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if out.Width > 50 || out.Height > 100 {
		t.Errorf("dims = %dx%d, want within 50x100 (auto resolves to fit)", out.Width, out.Height)
	}
}

func TestExecuteDPRScalesMinDimensions(t *testing.T) {
	src := fixturePNG(t, 50, 50)
	o := options.Defaults()
	o.MinWidth = 60
	o.DPR = 2

	out, err := Execute(context.Background(), Input{Source: src, Options: o})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if out.Width != 120 {
		t.Errorf("width = %d, want 120 (min_width doubled by dpr)", out.Width)
	}
}

func TestExecuteDPRScalesPadding(t *testing.T) {
	src := fixturePNG(t, 50, 50)
	o := options.Defaults()
	o.Padding = options.Padding{Top: 10, Right: 10, Bottom: 10, Left: 10}
	o.DPR = 2

	out, err := Execute(context.Background(), Input{Source: src, Options: o})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if out.Width != 90 || out.Height != 90 {
		t.Errorf("dims = %dx%d, want 90x90 (10px padding doubled by dpr on each side)", out.Width, out.Height)
	}
}

// TestExecuteZoomRunsBeforeMinDimensions pins the zoom -> min ordering: the
// 100px source zooms down to 50px, then min_width lifts it back to 80px.
// The reverse order would leave 50px.
func TestExecuteZoomRunsBeforeMinDimensions(t *testing.T) {
	src := fixturePNG(t, 100, 100)
	o := options.Defaults()
	o.Zoom = 0.5
	o.MinWidth = 80

	out, err := Execute(context.Background(), Input{Source: src, Options: o})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if out.Width != 80 {
		t.Errorf("width = %d, want 80 (zoom applied before min_width)", out.Width)
	}
}

func TestAnchorOffsetCorners(t *testing.T) {
	cases := []struct {
		pos        string
		wantLeft   int
		wantTop    int
	}{
		{"nw", 0, 0},
		{"ne", 90, 0},
		{"sw", 0, 90},
		{"se", 90, 90},
		{"center", 45, 45},
	}
	for _, c := range cases {
		left, top := anchorOffset(c.pos, 100, 100, 10, 10)
		if left != c.wantLeft || top != c.wantTop {
			t.Errorf("%s: got (%d,%d), want (%d,%d)", c.pos, left, top, c.wantLeft, c.wantTop)
		}
	}
}

func TestFormatPrecedenceDirectiveWinsOverExtension(t *testing.T) {
	src := fixturePNG(t, 50, 50)
	o := options.Defaults()
	o.Format = "webp"

	out, err := Execute(context.Background(), Input{Source: src, Options: o, URLExtension: "png"})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if out.Format != "webp" {
		t.Errorf("format = %q, want webp (explicit format directive takes precedence)", out.Format)
	}
}

func TestFormatPrecedenceExtensionFallback(t *testing.T) {
	src := fixturePNG(t, 50, 50)
	o := options.Defaults()

	out, err := Execute(context.Background(), Input{Source: src, Options: o, URLExtension: "png"})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if out.Format != "png" {
		t.Errorf("format = %q, want png (extension used when no format directive)", out.Format)
	}
}

func TestFormatDefaultsToJPEG(t *testing.T) {
	src := fixturePNG(t, 50, 50)
	o := options.Defaults()

	out, err := Execute(context.Background(), Input{Source: src, Options: o})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if out.Format != "jpeg" {
		t.Errorf("format = %q, want jpeg default", out.Format)
	}
}
