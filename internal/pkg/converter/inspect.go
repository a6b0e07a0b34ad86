package converter

import (
	"bytes"
	"context"
	"errors"
	"image"
	"strings"
	"time"

	"github.com/rwcarlsen/goexif/exif"
	"github.com/rwcarlsen/goexif/mknote"
)

func init() {
	// Register Nikon and Canon maker notes
	exif.RegisterParsers(mknote.All...)
}

// Info describes an uploaded image without converting it.
type Info struct {
	Format      Format     `json:"format"`
	ContentType string     `json:"content_type"`
	Width       int        `json:"width"`
	Height      int        `json:"height"`
	Decodable   bool       `json:"decodable"`
	CameraMake  string     `json:"camera_make,omitempty"`
	CameraModel string     `json:"camera_model,omitempty"`
	TakenAt     *time.Time `json:"taken_at,omitempty"`
	Orientation int        `json:"orientation,omitempty"`
	Latitude    *float64   `json:"latitude,omitempty"`
	Longitude   *float64   `json:"longitude,omitempty"`
}

// Inspect reports format, dimensions and EXIF details. Formats this host
// cannot decode are reported with Decodable=false instead of failing.
func Inspect(ctx context.Context, data []byte) (*Info, error) {
	format, err := DetectFormat(data)
	if err != nil {
		return nil, err
	}
	info := &Info{Format: format, ContentType: format.ContentType()}

	switch format {
	case FormatJPEG, FormatPNG, FormatGIF, FormatBMP, FormatTIFF:
		if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
			info.Width, info.Height = cfg.Width, cfg.Height
			info.Decodable = int64(cfg.Width)*int64(cfg.Height) <= maxInputPixels
		}
	default:
		img, _, err := Decode(ctx, data)
		switch {
		case err == nil:
			info.Width, info.Height = img.Bounds().Dx(), img.Bounds().Dy()
			info.Decodable = true
		case errors.Is(err, ErrHEICUnsupported), errors.Is(err, ErrAVIFUnsupported):
			// Format only; dimensions need a decoder this host lacks.
		default:
			return nil, err
		}
	}

	if format == FormatJPEG || format == FormatTIFF {
		readEXIF(data, info)
	}
	return info, nil
}

func readEXIF(data []byte, info *Info) {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		// Plenty of images carry no EXIF at all.
		return
	}
	if tag, err := x.Get(exif.Make); err == nil {
		info.CameraMake = strings.TrimSpace(strings.Trim(tag.String(), `"`))
	}
	if tag, err := x.Get(exif.Model); err == nil {
		info.CameraModel = strings.TrimSpace(strings.Trim(tag.String(), `"`))
	}
	if tag, err := x.Get(exif.Orientation); err == nil {
		if v, err := tag.Int(0); err == nil {
			info.Orientation = v
		}
	}
	if dt, err := x.DateTime(); err == nil {
		info.TakenAt = &dt
	}
	if lat, long, err := x.LatLong(); err == nil {
		info.Latitude = &lat
		info.Longitude = &long
	}
}
