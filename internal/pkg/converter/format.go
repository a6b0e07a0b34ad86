package converter

import (
	"bytes"
	"encoding/binary"
	"errors"
	"strings"
)

// Format is a container format the converter understands.
type Format string

const (
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
	FormatGIF  Format = "gif"
	FormatWebP Format = "webp"
	FormatBMP  Format = "bmp"
	FormatTIFF Format = "tiff"
	FormatAVIF Format = "avif"
	FormatHEIC Format = "heic"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported image format")
	ErrHEICUnsupported   = errors.New("HEIC decoding is not available on this server")
	ErrAVIFUnsupported   = errors.New("AVIF decoding is not available on this server")
	ErrFormatUnavailable = errors.New("output format is not available on this server")
)

// InputFormats lists what DetectFormat recognizes.
var InputFormats = []Format{FormatJPEG, FormatPNG, FormatGIF, FormatWebP, FormatBMP, FormatTIFF, FormatAVIF, FormatHEIC}

// OutputFormats lists every encoder; plans restrict further.
var OutputFormats = []Format{FormatJPEG, FormatPNG, FormatWebP, FormatGIF, FormatBMP, FormatTIFF, FormatAVIF}

var heicBrands = map[string]bool{
	"heic": true, "heix": true, "hevc": true, "hevx": true,
	"heim": true, "heis": true, "hevm": true, "hevs": true, "mif1": true, "msf1": true,
}

// DetectFormat sniffs the magic bytes at the start of data.
func DetectFormat(head []byte) (Format, error) {
	switch {
	case len(head) >= 3 && head[0] == 0xFF && head[1] == 0xD8 && head[2] == 0xFF:
		return FormatJPEG, nil
	case bytes.HasPrefix(head, []byte("\x89PNG\r\n\x1a\n")):
		return FormatPNG, nil
	case bytes.HasPrefix(head, []byte("GIF87a")), bytes.HasPrefix(head, []byte("GIF89a")):
		return FormatGIF, nil
	case len(head) >= 12 && bytes.Equal(head[0:4], []byte("RIFF")) && bytes.Equal(head[8:12], []byte("WEBP")):
		return FormatWebP, nil
	case bytes.HasPrefix(head, []byte("BM")):
		return FormatBMP, nil
	case bytes.HasPrefix(head, []byte("II*\x00")), bytes.HasPrefix(head, []byte("MM\x00*")):
		return FormatTIFF, nil
	}
	if f, ok := detectISOBMFF(head); ok {
		return f, nil
	}
	return "", ErrUnsupportedFormat
}

// detectISOBMFF reads the ftyp box that HEIF and AVIF files start with.
func detectISOBMFF(head []byte) (Format, bool) {
	if len(head) < 16 || !bytes.Equal(head[4:8], []byte("ftyp")) {
		return "", false
	}
	boxSize := int(binary.BigEndian.Uint32(head[0:4]))
	if boxSize < 16 || boxSize > len(head) {
		boxSize = len(head)
	}

	major := string(head[8:12])
	brands := []string{major}
	for off := 16; off+4 <= boxSize; off += 4 {
		brands = append(brands, string(head[off:off+4]))
	}

	if major == "avif" || major == "avis" {
		return FormatAVIF, true
	}
	isHEIC := false
	for _, b := range brands {
		if b == "avif" || b == "avis" {
			return FormatAVIF, true
		}
		if heicBrands[b] {
			isHEIC = true
		}
	}
	if isHEIC {
		return FormatHEIC, true
	}
	return "", false
}

// ParseOutputFormat maps user input ("jpg", "JPEG", "tif") to a Format.
func ParseOutputFormat(raw string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "jpeg", "jpg":
		return FormatJPEG, nil
	case "png":
		return FormatPNG, nil
	case "webp":
		return FormatWebP, nil
	case "gif":
		return FormatGIF, nil
	case "bmp":
		return FormatBMP, nil
	case "tiff", "tif":
		return FormatTIFF, nil
	case "avif":
		return FormatAVIF, nil
	default:
		return "", ErrUnsupportedFormat
	}
}

// ContentType returns the MIME type for a format.
func (f Format) ContentType() string {
	switch f {
	case FormatJPEG:
		return "image/jpeg"
	case FormatPNG:
		return "image/png"
	case FormatGIF:
		return "image/gif"
	case FormatWebP:
		return "image/webp"
	case FormatBMP:
		return "image/bmp"
	case FormatTIFF:
		return "image/tiff"
	case FormatAVIF:
		return "image/avif"
	case FormatHEIC:
		return "image/heic"
	default:
		return "application/octet-stream"
	}
}

// Extension returns the file extension including the dot.
func (f Format) Extension() string {
	switch f {
	case FormatJPEG:
		return ".jpg"
	case FormatTIFF:
		return ".tiff"
	case "":
		return ""
	default:
		return "." + string(f)
	}
}
