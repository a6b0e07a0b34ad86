package converter

import (
	"math"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/go-playground/validator/v10"
)

const (
	DefaultQuality = 85
	maxDimension   = 16384
)

// Resampling methods.
const (
	UpscaleBicubic    = "bicubic"
	UpscaleLanczos    = "lanczos"
	UpscaleAIEnhanced = "ai-enhanced"
)

// Fit modes for a width+height box.
const (
	FitContain = "contain"
	FitCover   = "cover"
	FitStretch = "stretch"
)

var validate = validator.New()

// Options describes one conversion.
type Options struct {
	Format  string  `json:"format" form:"format" validate:"required,oneof=jpeg jpg png webp gif bmp tiff tif avif"`
	Width   int     `json:"width" form:"width" validate:"gte=0,lte=16384"`
	Height  int     `json:"height" form:"height" validate:"gte=0,lte=16384"`
	Scale   float64 `json:"scale" form:"scale" validate:"gte=0,lte=8"`
	Fit     string  `json:"fit" form:"fit" validate:"omitempty,oneof=contain cover stretch"`
	Quality int     `json:"quality" form:"quality" validate:"gte=0,lte=100"`
	Upscale string  `json:"upscale" form:"upscale" validate:"omitempty,oneof=bicubic lanczos ai-enhanced"`

	// MaxEdge clamps the longest output edge; 0 means maxDimension.
	MaxEdge int `json:"-" form:"-" validate:"-"`
}

// Normalize validates the options and fills defaults.
func (o Options) Normalize() (Options, error) {
	o.Format = strings.ToLower(strings.TrimSpace(o.Format))
	o.Fit = strings.ToLower(strings.TrimSpace(o.Fit))
	o.Upscale = strings.ToLower(strings.TrimSpace(o.Upscale))
	if err := validate.Struct(o); err != nil {
		return o, err
	}
	if o.Fit == "" {
		o.Fit = FitContain
	}
	if o.Upscale == "" {
		o.Upscale = UpscaleLanczos
	}
	if o.Quality == 0 {
		o.Quality = DefaultQuality
	}
	if o.MaxEdge <= 0 || o.MaxEdge > maxDimension {
		o.MaxEdge = maxDimension
	}
	return o, nil
}

// OutputFormat returns the parsed target format.
func (o Options) OutputFormat() (Format, error) {
	return ParseOutputFormat(o.Format)
}

func (o Options) filter() imaging.ResampleFilter {
	if o.Upscale == UpscaleBicubic {
		return imaging.CatmullRom
	}
	return imaging.Lanczos
}

// TargetSize computes the output dimensions for a source of srcW x srcH.
func (o Options) TargetSize(srcW, srcH int) (int, int) {
	if srcW <= 0 || srcH <= 0 {
		return 0, 0
	}
	w, h := srcW, srcH

	switch {
	case o.Width == 0 && o.Height == 0:
		if o.Scale > 0 {
			w = roundPositive(float64(srcW) * o.Scale)
			h = roundPositive(float64(srcH) * o.Scale)
		}
	case o.Height == 0:
		w = o.Width
		h = roundPositive(float64(srcH) * float64(o.Width) / float64(srcW))
	case o.Width == 0:
		h = o.Height
		w = roundPositive(float64(srcW) * float64(o.Height) / float64(srcH))
	case o.Fit == FitCover || o.Fit == FitStretch:
		w, h = o.Width, o.Height
	default:
		ratio := math.Min(float64(o.Width)/float64(srcW), float64(o.Height)/float64(srcH))
		w = roundPositive(float64(srcW) * ratio)
		h = roundPositive(float64(srcH) * ratio)
	}

	maxEdge := o.MaxEdge
	if maxEdge <= 0 {
		maxEdge = maxDimension
	}
	if longest := max(w, h); longest > maxEdge {
		ratio := float64(maxEdge) / float64(longest)
		w = roundPositive(float64(w) * ratio)
		h = roundPositive(float64(h) * ratio)
	}
	return w, h
}

func roundPositive(v float64) int {
	r := int(math.Round(v))
	if r < 1 {
		return 1
	}
	return r
}
