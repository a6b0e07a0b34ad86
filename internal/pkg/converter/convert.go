package converter

import (
	"context"
	"image"
	"math"

	"github.com/disintegration/imaging"
)

// Result is a finished conversion.
type Result struct {
	Data         []byte
	Format       Format
	Width        int
	Height       int
	SourceFormat Format
	SourceWidth  int
	SourceHeight int
}

// ContentType of the encoded data.
func (r *Result) ContentType() string {
	return r.Format.ContentType()
}

// ProgressFunc receives a percentage as the conversion advances.
type ProgressFunc func(percent int)

// Convert decodes data, resizes it according to opts and encodes it into the
// requested format.
func Convert(ctx context.Context, data []byte, opts Options, progress ProgressFunc) (*Result, error) {
	if progress == nil {
		progress = func(int) {}
	}
	opts, err := opts.Normalize()
	if err != nil {
		return nil, err
	}
	outFormat, err := opts.OutputFormat()
	if err != nil {
		return nil, err
	}
	progress(10)

	src, srcFormat, err := Decode(ctx, data)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	progress(50)

	srcW, srcH := src.Bounds().Dx(), src.Bounds().Dy()
	out := Resize(src, opts)
	progress(90)

	encoded, err := Encode(ctx, out, outFormat, opts.Quality)
	if err != nil {
		return nil, err
	}
	progress(100)

	return &Result{
		Data:         encoded,
		Format:       outFormat,
		Width:        out.Bounds().Dx(),
		Height:       out.Bounds().Dy(),
		SourceFormat: srcFormat,
		SourceWidth:  srcW,
		SourceHeight: srcH,
	}, nil
}

// Resize applies the size, fit and resampling options to img. opts must be
// normalized.
func Resize(img image.Image, opts Options) image.Image {
	srcW, srcH := img.Bounds().Dx(), img.Bounds().Dy()
	w, h := opts.TargetSize(srcW, srcH)
	if w == srcW && h == srcH {
		return img
	}

	filter := opts.filter()
	var out image.Image
	if opts.Fit == FitCover && opts.Width > 0 && opts.Height > 0 {
		out = imaging.Fill(img, w, h, imaging.Center, filter)
	} else {
		out = imaging.Resize(img, w, h, filter)
	}

	if opts.Upscale == UpscaleAIEnhanced {
		factor := math.Max(float64(w)/float64(srcW), float64(h)/float64(srcH))
		if sigma := enhanceSigma(factor); sigma > 0 {
			out = imaging.Sharpen(out, sigma)
		}
	}
	return out
}

// enhanceSigma grows the unsharp radius with the enlargement factor; there is
// nothing to recover when shrinking.
func enhanceSigma(factor float64) float64 {
	if factor <= 1 {
		return 0
	}
	return math.Min(0.5+0.5*(factor-1), 2.0)
}
