package converter

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"strconv"

	"github.com/disintegration/imaging"
	"github.com/kolesa-team/go-webp/encoder"
	"github.com/kolesa-team/go-webp/webp"
)

// Encode writes img in the given format. quality applies to jpeg, webp and
// avif; webp at quality 100 is encoded losslessly.
func Encode(ctx context.Context, img image.Image, format Format, quality int) ([]byte, error) {
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}
	var buf bytes.Buffer

	switch format {
	case FormatJPEG:
		if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
			return nil, fmt.Errorf("error encoding jpeg: %w", err)
		}
	case FormatPNG:
		if err := imaging.Encode(&buf, img, imaging.PNG, imaging.PNGCompressionLevel(png.DefaultCompression)); err != nil {
			return nil, fmt.Errorf("error encoding png: %w", err)
		}
	case FormatGIF:
		if err := imaging.Encode(&buf, img, imaging.GIF, imaging.GIFNumColors(256)); err != nil {
			return nil, fmt.Errorf("error encoding gif: %w", err)
		}
	case FormatBMP:
		if err := imaging.Encode(&buf, img, imaging.BMP); err != nil {
			return nil, fmt.Errorf("error encoding bmp: %w", err)
		}
	case FormatTIFF:
		if err := imaging.Encode(&buf, img, imaging.TIFF); err != nil {
			return nil, fmt.Errorf("error encoding tiff: %w", err)
		}
	case FormatWebP:
		if err := encodeWebP(&buf, img, quality); err != nil {
			return nil, err
		}
	case FormatAVIF:
		return encodeAVIF(ctx, img, quality)
	default:
		return nil, ErrUnsupportedFormat
	}
	return buf.Bytes(), nil
}

func encodeWebP(buf *bytes.Buffer, img image.Image, quality int) error {
	var (
		options *encoder.Options
		err     error
	)
	if quality >= 100 {
		options, err = encoder.NewLosslessEncoderOptions(encoder.PresetDefault, 6)
	} else {
		options, err = encoder.NewLossyEncoderOptions(encoder.PresetDefault, float32(quality))
	}
	if err != nil {
		return fmt.Errorf("error creating encoder options: %w", err)
	}
	if err := webp.Encode(buf, img, options); err != nil {
		return fmt.Errorf("error encoding webp: %w", err)
	}
	return nil
}

// encodeAVIF converts via ffmpeg/libaom, mapping quality 1..100 onto CRF 63..0.
func encodeAVIF(ctx context.Context, img image.Image, quality int) ([]byte, error) {
	if !ffmpegAvailable() {
		return nil, ErrFormatUnavailable
	}
	var pngBuf bytes.Buffer
	if err := imaging.Encode(&pngBuf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("error encoding avif intermediate: %w", err)
	}
	crf := 63 - quality*63/100
	return transcodeWithFFmpeg(ctx, pngBuf.Bytes(), ".png", ".avif",
		"-c:v", "libaom-av1", "-crf", strconv.Itoa(crf), "-b:v", "0", "-still-picture", "1")
}
