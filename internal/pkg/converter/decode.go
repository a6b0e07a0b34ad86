package converter

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"github.com/gofiber/fiber/v2/log"
	"github.com/kolesa-team/go-webp/decoder"
	"github.com/kolesa-team/go-webp/webp"
)

// maxInputPixels bounds the decoded size of an upload (about 400 MB as NRGBA).
const maxInputPixels = 100_000_000

// ErrImageTooLarge is returned before decoding when the header declares more
// pixels than maxInputPixels.
var ErrImageTooLarge = errors.New("image dimensions exceed the pixel limit")

// Decode sniffs and decodes data. HEIC and AVIF need ffmpeg; without it the
// call fails closed with ErrHEICUnsupported or ErrAVIFUnsupported.
func Decode(ctx context.Context, data []byte) (image.Image, Format, error) {
	format, err := DetectFormat(data)
	if err != nil {
		return nil, "", err
	}
	if err := checkPixelBudget(data, format); err != nil {
		return nil, format, err
	}

	switch format {
	case FormatWebP:
		img, err := webp.Decode(bytes.NewReader(data), &decoder.Options{})
		if err != nil {
			return nil, format, fmt.Errorf("error decoding webp: %w", err)
		}
		return img, format, nil
	case FormatHEIC, FormatAVIF:
		img, err := decodeExternal(ctx, data, format)
		return img, format, err
	default:
		img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
		if err != nil {
			return nil, format, fmt.Errorf("error decoding %s: %w", format, err)
		}
		return img, format, nil
	}
}

func decodeExternal(ctx context.Context, data []byte, format Format) (image.Image, error) {
	if !ffmpegAvailable() {
		log.Warnf("[Converter] ffmpeg not found, refusing %s input", format)
		if format == FormatHEIC {
			return nil, ErrHEICUnsupported
		}
		return nil, ErrAVIFUnsupported
	}

	png, err := transcodeWithFFmpeg(ctx, data, format.Extension(), ".png", "-frames:v", "1")
	if err != nil {
		return nil, fmt.Errorf("error decoding %s: %w", format, err)
	}
	if err := checkPixelBudget(png, FormatPNG); err != nil {
		return nil, err
	}
	img, err := imaging.Decode(bytes.NewReader(png))
	if err != nil {
		return nil, fmt.Errorf("error decoding %s intermediate: %w", format, err)
	}
	return img, nil
}

// checkPixelBudget reads the declared dimensions from the header only. HEIC
// and AVIF are checked on the ffmpeg intermediate instead.
func checkPixelBudget(data []byte, format Format) error {
	var width, height int
	switch format {
	case FormatHEIC, FormatAVIF:
		return nil
	case FormatWebP:
		w, h, err := webpDimensions(data)
		if err != nil {
			return err
		}
		width, height = w, h
	default:
		cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("error decoding %s: %w", format, err)
		}
		width, height = cfg.Width, cfg.Height
	}
	if int64(width)*int64(height) > maxInputPixels {
		log.Warnf("[Converter] Rejecting %s input of %dx%d", format, width, height)
		return ErrImageTooLarge
	}
	return nil
}

// webpDimensions parses the canvas size from the first RIFF chunk.
func webpDimensions(data []byte) (int, int, error) {
	errHeader := errors.New("error decoding webp: truncated header")
	if len(data) < 30 {
		return 0, 0, errHeader
	}
	switch string(data[12:16]) {
	case "VP8X":
		w := int(data[24]) | int(data[25])<<8 | int(data[26])<<16
		h := int(data[27]) | int(data[28])<<8 | int(data[29])<<16
		return w + 1, h + 1, nil
	case "VP8L":
		if data[20] != 0x2f {
			return 0, 0, errHeader
		}
		bits := binary.LittleEndian.Uint32(data[21:25])
		return int(bits&0x3fff) + 1, int(bits>>14&0x3fff) + 1, nil
	case "VP8 ":
		if !bytes.Equal(data[23:26], []byte{0x9d, 0x01, 0x2a}) {
			return 0, 0, errHeader
		}
		w := binary.LittleEndian.Uint16(data[26:28]) & 0x3fff
		h := binary.LittleEndian.Uint16(data[28:30]) & 0x3fff
		return int(w), int(h), nil
	default:
		return 0, 0, errHeader
	}
}
