// SPDX-License-Identifier: AGPL-3.0-only

// Package options implements the processing-option grammar (spec.md §4.2):
// parsing directive tokens into a typed, defaulted ParsedOptions, with a
// table-driven registry mapping directive name (and aliases) to a parser
// function and target field, per spec.md §9's "keep the grammar
// table-driven" design note.
package options

import (
	"strconv"
	"strings"

	"github.com/imgforge/imgforge/internal/apperr"
)

// Resizing types (spec.md §3).
const (
	ResizeFill  = "fill"
	ResizeFit   = "fit"
	ResizeForce = "force"
	ResizeAuto  = "auto"
)

var validResizingTypes = map[string]bool{ResizeFill: true, ResizeFit: true, ResizeForce: true, ResizeAuto: true}

// Resizing algorithms (interpolation kernels), spec.md §3.
const (
	AlgoNearest  = "nearest"
	AlgoLinear   = "linear"
	AlgoCubic    = "cubic"
	AlgoLanczos2 = "lanczos2"
	AlgoLanczos3 = "lanczos3"
)

var validAlgorithms = map[string]bool{
	AlgoNearest: true, AlgoLinear: true, AlgoCubic: true, AlgoLanczos2: true, AlgoLanczos3: true,
}

// Gravity anchors (spec.md §3); "smart" is engine-dependent saliency crop.
const (
	GravityCenter = "center"
	GravityNorth  = "north"
	GravitySouth  = "south"
	GravityEast   = "east"
	GravityWest   = "west"
	GravityNE     = "ne"
	GravityNW     = "nw"
	GravitySE     = "se"
	GravitySW     = "sw"
	GravitySmart  = "smart"
)

var validGravity = map[string]bool{
	GravityCenter: true, GravityNorth: true, GravitySouth: true, GravityEast: true, GravityWest: true,
	GravityNE: true, GravityNW: true, GravitySE: true, GravitySW: true, GravitySmart: true,
}

var validRotations = map[int]bool{0: true, 90: true, 180: true, 270: true}

// Crop describes an absolute pre-resize crop region (spec.md §4.2).
type Crop struct {
	X, Y, Width, Height int
}

// Padding is CSS-style top/right/bottom/left expansion (spec.md §4.2).
type Padding struct {
	Top, Right, Bottom, Left int
}

// Watermark is the overlay request (spec.md §4.2).
type Watermark struct {
	Opacity  float64
	Position string
}

// Background is the flatten/pad fill color. A is 255 when the directive gave
// only the six RGB digits.
type Background struct {
	R, G, B, A uint8
}

// ParsedOptions is the single record of every recognized directive, defaulted
// per spec.md §3/§4.2. Zero value is the "nothing requested" state.
type ParsedOptions struct {
	ResizingType      string
	ResizingAlgorithm string
	Width, Height     int
	Enlarge           bool
	Extend            bool
	Gravity           string
	Padding           Padding
	MinWidth          int
	MinHeight         int
	Zoom              float64
	Crop              *Crop
	Rotate            int
	AutoRotate        bool
	Blur              float64
	Sharpen           float64
	Pixelate          int
	Background        *Background
	Quality           int
	Format            string
	DPR               float64
	Raw               bool
	CacheBuster       string
	Watermark         *Watermark
	WatermarkURL      string
	MaxSrcFileSize    *int
	MaxSrcResolution  *float64
}

// Defaults returns a ParsedOptions populated with spec.md §3/§4.2 defaults.
func Defaults() *ParsedOptions {
	return &ParsedOptions{
		ResizingType:      ResizeFit,
		ResizingAlgorithm: AlgoLanczos3,
		Gravity:           GravityCenter,
		Zoom:              1.0,
		AutoRotate:        true,
		Quality:           85,
		DPR:               1.0,
	}
}

// handler parses a directive's arguments into o, or returns an error naming
// the offending directive (spec.md §4.2 "Errors").
type handler func(name string, args []string, o *ParsedOptions) error

// bareDirectives are the directives valid with zero arguments (boolean
// flags defaulting to true). The URL codec needs to know them: a path
// segment carrying just such a name is still an option token, not the start
// of the source segment.
var bareDirectives = map[string]bool{
	"raw": true, "enlarge": true, "extend": true, "auto_rotate": true,
}

// IsBareDirective reports whether name (canonical or alias) is recognized as
// a directive when it appears with no arguments and no colon.
func IsBareDirective(name string) bool {
	if canonical, ok := aliases[name]; ok {
		name = canonical
	}
	return bareDirectives[name]
}

var aliases = map[string]string{
	"rs": "resize", "sz": "size", "s": "size", "rt": "resizing_type",
	"w": "width", "h": "height", "g": "gravity", "el": "enlarge", "ex": "extend",
	"pd": "padding", "mw": "min_width", "mh": "min_height", "z": "zoom",
	"or": "rotate", "ar": "auto_rotate", "bl": "blur", "sh": "sharpen",
	"px": "pixelate", "bg": "background", "q": "quality", "ra": "resizing_algorithm",
	"wm": "watermark", "wmu": "watermark_url", "pr": "preset",
}

var registry = map[string]handler{
	"resize":              parseResize,
	"size":                parseSize,
	"resizing_type":       parseResizingType,
	"width":               parseWidth,
	"height":              parseHeight,
	"gravity":             parseGravity,
	"enlarge":             parseBool(func(o *ParsedOptions, v bool) { o.Enlarge = v }),
	"extend":              parseBool(func(o *ParsedOptions, v bool) { o.Extend = v }),
	"padding":             parsePadding,
	"min_width":           parseNonNegInt(func(o *ParsedOptions, v int) { o.MinWidth = v }),
	"min_height":          parseNonNegInt(func(o *ParsedOptions, v int) { o.MinHeight = v }),
	"zoom":                parseZoom,
	"crop":                parseCrop,
	"rotate":              parseRotate,
	"auto_rotate":         parseBool(func(o *ParsedOptions, v bool) { o.AutoRotate = v }),
	"blur":                parseNonNegFloat(func(o *ParsedOptions, v float64) { o.Blur = v }),
	"sharpen":             parseNonNegFloat(func(o *ParsedOptions, v float64) { o.Sharpen = v }),
	"pixelate":            parseNonNegInt(func(o *ParsedOptions, v int) { o.Pixelate = v }),
	"background":          parseBackground,
	"quality":             parseQuality,
	"format":              parseFormat,
	"dpr":                 parseDPR,
	"raw":                 parseBool(func(o *ParsedOptions, v bool) { o.Raw = v }),
	"cache_buster":        parseCacheBuster,
	"resizing_algorithm":  parseResizingAlgorithm,
	"watermark":           parseWatermark,
	"watermark_url":       parseWatermarkURL,
	"max_src_file_size":   parseMaxSrcFileSize,
	"max_src_resolution":  parseMaxSrcResolution,
	// "preset"/"pr" is consumed by package preset before Parse ever sees the
	// token list; any copy that survives a single flattening pass (nested
	// preset references are not recursively expanded, spec.md §4.3) falls
	// through to the "unknown directive" rule below and is ignored.
}

// Parse applies directive tokens, in order, over Defaults(). Unknown
// directive names are silently ignored (spec.md §4.2); duplicate directives
// let the last occurrence win because handlers simply overwrite fields.
func Parse(tokens []string, onIgnored func(name string)) (*ParsedOptions, error) {
	o := Defaults()
	for _, tok := range tokens {
		if tok == "" {
			continue
		}
		parts := strings.Split(tok, ":")
		name := parts[0]
		args := parts[1:]

		canonical, isAlias := aliases[name]
		if !isAlias {
			canonical = name
		}

		h, ok := registry[canonical]
		if !ok {
			if onIgnored != nil {
				onIgnored(name)
			}
			continue
		}
		if err := h(name, args, o); err != nil {
			return nil, err
		}
	}
	return o, nil
}

func parseBool(set func(*ParsedOptions, bool)) handler {
	return func(name string, args []string, o *ParsedOptions) error {
		v := true
		if len(args) > 0 {
			b, err := strconv.ParseBool(args[0])
			if err != nil {
				return apperr.InvalidOptionf(name, "expected a boolean")
			}
			v = b
		}
		set(o, v)
		return nil
	}
}

func parseNonNegInt(set func(*ParsedOptions, int)) handler {
	return func(name string, args []string, o *ParsedOptions) error {
		if len(args) == 0 {
			return apperr.InvalidOptionf(name, "missing argument")
		}
		v, err := strconv.Atoi(args[0])
		if err != nil || v < 0 {
			return apperr.InvalidOptionf(name, "expected a non-negative integer")
		}
		set(o, v)
		return nil
	}
}

func parseNonNegFloat(set func(*ParsedOptions, float64)) handler {
	return func(name string, args []string, o *ParsedOptions) error {
		if len(args) == 0 {
			return apperr.InvalidOptionf(name, "missing argument")
		}
		v, err := strconv.ParseFloat(args[0], 64)
		if err != nil || v < 0 {
			return apperr.InvalidOptionf(name, "expected a non-negative number")
		}
		set(o, v)
		return nil
	}
}

func parseDim(name string, s string) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return 0, apperr.InvalidOptionf(name, "expected a non-negative integer (0 infers from aspect)")
	}
	return v, nil
}

func parseResize(name string, args []string, o *ParsedOptions) error {
	if len(args) < 3 {
		return apperr.InvalidOptionf(name, "expected type:w:h[:enlarge][:extend]")
	}
	if !validResizingTypes[args[0]] {
		return apperr.InvalidOptionf(name, "unknown resizing type "+args[0])
	}
	w, err := parseDim(name, args[1])
	if err != nil {
		return err
	}
	h, err := parseDim(name, args[2])
	if err != nil {
		return err
	}
	o.ResizingType = args[0]
	o.Width = w
	o.Height = h
	if len(args) > 3 {
		b, err := strconv.ParseBool(args[3])
		if err != nil {
			return apperr.InvalidOptionf(name, "enlarge must be boolean")
		}
		o.Enlarge = b
	}
	if len(args) > 4 {
		b, err := strconv.ParseBool(args[4])
		if err != nil {
			return apperr.InvalidOptionf(name, "extend must be boolean")
		}
		o.Extend = b
	}
	return nil
}

func parseSize(name string, args []string, o *ParsedOptions) error {
	if len(args) < 2 {
		return apperr.InvalidOptionf(name, "expected w:h[:enlarge][:extend]")
	}
	w, err := parseDim(name, args[0])
	if err != nil {
		return err
	}
	h, err := parseDim(name, args[1])
	if err != nil {
		return err
	}
	o.ResizingType = ResizeFit
	o.Width = w
	o.Height = h
	if len(args) > 2 {
		b, err := strconv.ParseBool(args[2])
		if err != nil {
			return apperr.InvalidOptionf(name, "enlarge must be boolean")
		}
		o.Enlarge = b
	}
	if len(args) > 3 {
		b, err := strconv.ParseBool(args[3])
		if err != nil {
			return apperr.InvalidOptionf(name, "extend must be boolean")
		}
		o.Extend = b
	}
	return nil
}

func parseResizingType(name string, args []string, o *ParsedOptions) error {
	if len(args) == 0 || !validResizingTypes[args[0]] {
		return apperr.InvalidOptionf(name, "must be one of fill, fit, force, auto")
	}
	o.ResizingType = args[0]
	return nil
}

func parseWidth(name string, args []string, o *ParsedOptions) error {
	v, err := parseNonNegIntArg(name, args)
	if err != nil {
		return err
	}
	o.Width = v
	return nil
}

func parseHeight(name string, args []string, o *ParsedOptions) error {
	v, err := parseNonNegIntArg(name, args)
	if err != nil {
		return err
	}
	o.Height = v
	return nil
}

func parseNonNegIntArg(name string, args []string) (int, error) {
	if len(args) == 0 {
		return 0, apperr.InvalidOptionf(name, "missing argument")
	}
	return parseDim(name, args[0])
}

func parseGravity(name string, args []string, o *ParsedOptions) error {
	if len(args) == 0 || !validGravity[args[0]] {
		return apperr.InvalidOptionf(name, "unknown gravity anchor")
	}
	o.Gravity = args[0]
	return nil
}

func parsePadding(name string, args []string, o *ParsedOptions) error {
	vals := make([]int, 0, len(args))
	for _, a := range args {
		v, err := strconv.Atoi(a)
		if err != nil || v < 0 {
			return apperr.InvalidOptionf(name, "padding values must be non-negative integers")
		}
		vals = append(vals, v)
	}
	switch len(vals) {
	case 1:
		o.Padding = Padding{Top: vals[0], Right: vals[0], Bottom: vals[0], Left: vals[0]}
	case 2:
		o.Padding = Padding{Top: vals[0], Bottom: vals[0], Right: vals[1], Left: vals[1]}
	case 4:
		o.Padding = Padding{Top: vals[0], Right: vals[1], Bottom: vals[2], Left: vals[3]}
	default:
		return apperr.InvalidOptionf(name, "expected 1, 2, or 4 integers")
	}
	return nil
}

func parseZoom(name string, args []string, o *ParsedOptions) error {
	if len(args) == 0 {
		return apperr.InvalidOptionf(name, "missing argument")
	}
	v, err := strconv.ParseFloat(args[0], 64)
	if err != nil || v <= 0 {
		return apperr.InvalidOptionf(name, "expected a positive number")
	}
	o.Zoom = v
	return nil
}

func parseCrop(name string, args []string, o *ParsedOptions) error {
	if len(args) != 4 {
		return apperr.InvalidOptionf(name, "expected x:y:w:h")
	}
	vals := make([]int, 4)
	for i, a := range args {
		v, err := strconv.Atoi(a)
		if err != nil || v < 0 {
			return apperr.InvalidOptionf(name, "crop values must be non-negative integers")
		}
		vals[i] = v
	}
	o.Crop = &Crop{X: vals[0], Y: vals[1], Width: vals[2], Height: vals[3]}
	return nil
}

func parseRotate(name string, args []string, o *ParsedOptions) error {
	if len(args) == 0 {
		return apperr.InvalidOptionf(name, "missing argument")
	}
	v, err := strconv.Atoi(args[0])
	if err != nil || !validRotations[v] {
		return apperr.InvalidOptionf(name, "must be one of 0, 90, 180, 270")
	}
	o.Rotate = v
	return nil
}

func parseBackground(name string, args []string, o *ParsedOptions) error {
	if len(args) == 0 {
		return apperr.InvalidOptionf(name, "missing hex color")
	}
	hexStr := strings.TrimPrefix(args[0], "#")
	if len(hexStr) != 6 && len(hexStr) != 8 {
		return apperr.InvalidOptionf(name, "expected a 6 or 8 digit hex RGB[A] value")
	}
	channels := make([]uint8, len(hexStr)/2)
	for i := range channels {
		v, err := strconv.ParseUint(hexStr[i*2:i*2+2], 16, 8)
		if err != nil {
			return apperr.InvalidOptionf(name, "invalid hex digits")
		}
		channels[i] = uint8(v)
	}
	bg := Background{R: channels[0], G: channels[1], B: channels[2], A: 255}
	if len(channels) == 4 {
		bg.A = channels[3]
	}
	o.Background = &bg
	return nil
}

func parseQuality(name string, args []string, o *ParsedOptions) error {
	if len(args) == 0 {
		return apperr.InvalidOptionf(name, "missing argument")
	}
	v, err := strconv.Atoi(args[0])
	if err != nil || v < 1 || v > 100 {
		return apperr.InvalidOptionf(name, "must be between 1 and 100")
	}
	o.Quality = v
	return nil
}

func parseFormat(name string, args []string, o *ParsedOptions) error {
	if len(args) == 0 {
		return apperr.InvalidOptionf(name, "missing format")
	}
	o.Format = strings.ToLower(args[0])
	return nil
}

func parseDPR(name string, args []string, o *ParsedOptions) error {
	if len(args) == 0 {
		return apperr.InvalidOptionf(name, "missing argument")
	}
	v, err := strconv.ParseFloat(args[0], 64)
	if err != nil || v <= 0 || v > 5 {
		return apperr.InvalidOptionf(name, "must be in (0, 5]")
	}
	o.DPR = v
	return nil
}

func parseCacheBuster(name string, args []string, o *ParsedOptions) error {
	if len(args) == 0 {
		return apperr.InvalidOptionf(name, "missing token")
	}
	o.CacheBuster = strings.Join(args, ":")
	return nil
}

func parseResizingAlgorithm(name string, args []string, o *ParsedOptions) error {
	if len(args) == 0 || !validAlgorithms[args[0]] {
		return apperr.InvalidOptionf(name, "unknown resizing algorithm")
	}
	o.ResizingAlgorithm = args[0]
	return nil
}

func parseWatermark(name string, args []string, o *ParsedOptions) error {
	if len(args) < 2 {
		return apperr.InvalidOptionf(name, "expected opacity:position")
	}
	op, err := strconv.ParseFloat(args[0], 64)
	if err != nil || op < 0 || op > 1 {
		return apperr.InvalidOptionf(name, "opacity must be in [0, 1]")
	}
	if !validGravity[args[1]] {
		return apperr.InvalidOptionf(name, "unknown watermark position")
	}
	o.Watermark = &Watermark{Opacity: op, Position: args[1]}
	return nil
}

func parseWatermarkURL(name string, args []string, o *ParsedOptions) error {
	if len(args) == 0 {
		return apperr.InvalidOptionf(name, "missing base64url-encoded url")
	}
	o.WatermarkURL = args[0]
	return nil
}

func parseMaxSrcFileSize(name string, args []string, o *ParsedOptions) error {
	if len(args) == 0 {
		return apperr.InvalidOptionf(name, "missing argument")
	}
	v, err := strconv.Atoi(args[0])
	if err != nil || v < 0 {
		return apperr.InvalidOptionf(name, "expected a non-negative integer")
	}
	o.MaxSrcFileSize = &v
	return nil
}

func parseMaxSrcResolution(name string, args []string, o *ParsedOptions) error {
	if len(args) == 0 {
		return apperr.InvalidOptionf(name, "missing argument")
	}
	v, err := strconv.ParseFloat(args[0], 64)
	if err != nil || v <= 0 {
		return apperr.InvalidOptionf(name, "expected a positive number of megapixels")
	}
	o.MaxSrcResolution = &v
	return nil
}
