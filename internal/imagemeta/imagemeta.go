// Package imagemeta classifies byte buffers as images and reads their pixel
// dimensions straight from the format headers.
package imagemeta

import (
	"bytes"
	"encoding/binary"
	"errors"
)

// Format names a recognized image container.
type Format string

// Recognized formats. The value is also the file extension used on disk.
const (
	FormatUnknown Format = ""
	FormatPNG     Format = "png"
	FormatJPEG    Format = "jpg"
	FormatGIF     Format = "gif"
	FormatBMP     Format = "bmp"
)

var (
	// ErrNotImage is returned when no known signature matches.
	ErrNotImage = errors.New("not an image")
	// ErrTruncated is returned when the signature matches but the header
	// ends before the dimensions.
	ErrTruncated = errors.New("truncated image header")
)

var (
	pngSignature  = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}
	jpegSignature = []byte{0xff, 0xd8, 0xff}
	gif87         = []byte("GIF87a")
	gif89         = []byte("GIF89a")
	bmpSignature  = []byte("BM")
)

// Info describes a decoded image header.
type Info struct {
	Format Format
	Width  int
	Height int
}

// Detect classifies data by its magic bytes.
func Detect(data []byte) Format {
	switch {
	case bytes.HasPrefix(data, pngSignature):
		return FormatPNG
	case bytes.HasPrefix(data, jpegSignature):
		return FormatJPEG
	case bytes.HasPrefix(data, gif87), bytes.HasPrefix(data, gif89):
		return FormatGIF
	case bytes.HasPrefix(data, bmpSignature) && len(data) >= 26:
		return FormatBMP
	default:
		return FormatUnknown
	}
}

// Inspect detects the format and extracts dimensions.
func Inspect(data []byte) (Info, error) {
	format := Detect(data)
	var (
		w, h int
		err  error
	)
	switch format {
	case FormatPNG:
		w, h, err = pngSize(data)
	case FormatJPEG:
		w, h, err = jpegSize(data)
	case FormatGIF:
		w, h, err = gifSize(data)
	case FormatBMP:
		w, h, err = bmpSize(data)
	default:
		return Info{}, ErrNotImage
	}
	if err != nil {
		return Info{Format: format}, err
	}
	return Info{Format: format, Width: w, Height: h}, nil
}

// pngSize reads the IHDR chunk that must follow the signature.
func pngSize(data []byte) (int, int, error) {
	const ihdrEnd = 8 + 4 + 4 + 8
	if len(data) < ihdrEnd || !bytes.Equal(data[12:16], []byte("IHDR")) {
		return 0, 0, ErrTruncated
	}
	w := binary.BigEndian.Uint32(data[16:20])
	h := binary.BigEndian.Uint32(data[20:24])
	return int(w), int(h), nil
}

// gifSize reads the logical screen descriptor.
func gifSize(data []byte) (int, int, error) {
	if len(data) < 10 {
		return 0, 0, ErrTruncated
	}
	w := binary.LittleEndian.Uint16(data[6:8])
	h := binary.LittleEndian.Uint16(data[8:10])
	return int(w), int(h), nil
}

// bmpSize reads the DIB header. OS/2 BITMAPCOREHEADER uses 16-bit fields;
// everything newer uses signed 32-bit fields where a negative height means
// top-down row order.
func bmpSize(data []byte) (int, int, error) {
	if len(data) < 18 {
		return 0, 0, ErrTruncated
	}
	dibSize := binary.LittleEndian.Uint32(data[14:18])
	if dibSize == 12 {
		if len(data) < 22 {
			return 0, 0, ErrTruncated
		}
		w := binary.LittleEndian.Uint16(data[18:20])
		h := binary.LittleEndian.Uint16(data[20:22])
		return int(w), int(h), nil
	}
	if len(data) < 26 {
		return 0, 0, ErrTruncated
	}
	w := int32(binary.LittleEndian.Uint32(data[18:22]))
	h := int32(binary.LittleEndian.Uint32(data[22:26]))
	if h < 0 {
		h = -h
	}
	if w < 0 {
		w = -w
	}
	return int(w), int(h), nil
}

// jpegSize walks the marker segments until a start-of-frame marker.
func jpegSize(data []byte) (int, int, error) {
	i := 2
	for i < len(data) {
		// Skip fill bytes before a marker.
		for i < len(data) && data[i] == 0xff {
			i++
		}
		if i >= len(data) {
			break
		}
		marker := data[i]
		i++
		switch {
		case marker == 0xd8 || marker == 0x01 || (marker >= 0xd0 && marker <= 0xd7):
			// Standalone markers carry no length.
			continue
		case marker == 0xd9 || marker == 0xda:
			// End of image or start of scan before any frame header.
			return 0, 0, ErrTruncated
		}
		if i+2 > len(data) {
			break
		}
		segLen := int(binary.BigEndian.Uint16(data[i : i+2]))
		if segLen < 2 {
			return 0, 0, ErrTruncated
		}
		if isSOF(marker) {
			// length(2) precision(1) height(2) width(2)
			if i+7 > len(data) {
				break
			}
			h := binary.BigEndian.Uint16(data[i+3 : i+5])
			w := binary.BigEndian.Uint16(data[i+5 : i+7])
			return int(w), int(h), nil
		}
		i += segLen
	}
	return 0, 0, ErrTruncated
}

func isSOF(marker byte) bool {
	if marker < 0xc0 || marker > 0xcf {
		return false
	}
	// DHT, JPG and DAC share the range but are not frame headers.
	return marker != 0xc4 && marker != 0xc8 && marker != 0xcc
}
