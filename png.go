package pngshrink

import (
	"github.com/pkg/errors"
)

var pngHeaderBytes = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}

// RGBA8 is one palette entry: an RGB triple from PLTE plus the matching
// alpha byte from tRNS (255 when omitted).
type RGBA8 struct {
	R, G, B, A uint8
}

// PngImage is the decoded image: an unfiltered sample buffer plus the
// header fields it is interpreted through. It is immutable by convention
// and cheaply shareable; reductions build a new image instead of mutating.
type PngImage struct {
	IHDR IHDR
	// Data holds the scanlines for the current interlace pass layout,
	// unfiltered, each scanline byte-aligned.
	Data []byte
	// Palette is present for Indexed images only. Palette index = pixel value.
	Palette []RGBA8
	// Transparency is the raw tRNS payload for Grayscale and RGB images.
	Transparency []byte
	// AuxHeaders maps ancillary chunk names to payloads in file order.
	AuxHeaders *ChunkMap
}

// PngData couples a raw image with one encoded form of it. Filtered is the
// scanline stream after row filtering but before DEFLATE, kept so filter
// cost and compression cost can be examined independently.
type PngData struct {
	Raw      *PngImage
	IdatData []byte
	Filtered []byte
}

func (img *PngImage) Clone() *PngImage {
	out := &PngImage{IHDR: img.IHDR}
	out.Data = make([]byte, len(img.Data))
	copy(out.Data, img.Data)
	if img.Palette != nil {
		out.Palette = make([]RGBA8, len(img.Palette))
		copy(out.Palette, img.Palette)
	}
	if img.Transparency != nil {
		out.Transparency = make([]byte, len(img.Transparency))
		copy(out.Transparency, img.Transparency)
	}
	if img.AuxHeaders != nil {
		out.AuxHeaders = img.AuxHeaders.Clone()
	} else {
		out.AuxHeaders = NewChunkMap()
	}
	return out
}

func (p *PngData) clone() *PngData {
	idat := make([]byte, len(p.IdatData))
	copy(idat, p.IdatData)
	filtered := make([]byte, len(p.Filtered))
	copy(filtered, p.Filtered)
	return &PngData{Raw: p.Raw, IdatData: idat, Filtered: filtered}
}

// bitsPerPixel returns bits per pixel, counting all channels.
func (img *PngImage) bitsPerPixel() int {
	return img.IHDR.ColorType.Channels() * int(img.IHDR.BitDepth)
}

// bytesPerPixel is the filter byte distance: channels * max(1, depth/8).
func (img *PngImage) bytesPerPixel() int {
	return (img.bitsPerPixel() + 7) / 8
}

func rowBytes(pixels int, bitsPerPixel int) int {
	return (pixels*bitsPerPixel + 7) / 8
}

// rowInfo locates one scanline inside Data.
type rowInfo struct {
	pass    int
	pixels  int
	bytes   int
	start   int
	newPass bool
}

// rows lays out the scanline sequence for the image's interlacing. For
// Adam7, rows follow the seven-pass order and widths vary per pass.
func (img *PngImage) rows() []rowInfo {
	bpp := img.bitsPerPixel()
	w, h := int(img.IHDR.Width), int(img.IHDR.Height)
	var out []rowInfo
	off := 0
	if img.IHDR.Interlaced == InterlaceAdam7 {
		for pass, p := range adam7Passes {
			pw, ph := p.passSize(w, h)
			if pw == 0 || ph == 0 {
				continue
			}
			rb := rowBytes(pw, bpp)
			for y := 0; y < ph; y++ {
				out = append(out, rowInfo{pass: pass, pixels: pw, bytes: rb, start: off, newPass: y == 0})
				off += rb
			}
		}
		return out
	}
	rb := rowBytes(w, bpp)
	out = make([]rowInfo, 0, h)
	for y := 0; y < h; y++ {
		out = append(out, rowInfo{pixels: w, bytes: rb, start: off, newPass: y == 0})
		off += rb
	}
	return out
}

func (img *PngImage) rawDataLen() int {
	total := 0
	for _, r := range img.rows() {
		total += r.bytes
	}
	return total
}

// Decode parses PNG bytes into a PngData. With fixErrors, recoverable
// problems in ancillary chunks degrade to warnings; structural problems
// still fail.
func Decode(data []byte, fixErrors bool) (*PngData, error) {
	if len(data) < len(pngHeaderBytes) || string(data[:len(pngHeaderBytes)]) != string(pngHeaderBytes) {
		return nil, errors.WithStack(ErrNotPng)
	}

	img := &PngImage{AuxHeaders: NewChunkMap()}
	var idat []byte
	var sawIHDR, sawIEND bool
	var paletteRGB []byte
	var trns []byte

	off := len(pngHeaderBytes)
	for !sawIEND {
		c, next, err := readChunk(data, off)
		if err != nil {
			return nil, err
		}
		off = next

		if !c.crcValid() {
			if !fixErrors || c.name == IHDRChunk || c.name == IDATChunk {
				return nil, errors.WithStack(&BadCrcError{Name: c.name})
			}
			logger.Printf("CRC error in %s chunk, ignoring", c.name)
			continue
		}

		switch c.name {
		case IHDRChunk:
			if sawIHDR {
				return nil, errors.WithStack(&InvalidHeaderError{Reason: "duplicate IHDR"})
			}
			if err := parseIHDR(&img.IHDR, c.data); err != nil {
				return nil, err
			}
			sawIHDR = true
		case PLTEChunk:
			paletteRGB = c.data
		case TRNSChunk:
			trns = c.data
		case IDATChunk:
			idat = append(idat, c.data...)
		case IENDChunk:
			sawIEND = true
		default:
			if !sawIHDR {
				return nil, errors.WithStack(&InvalidHeaderError{Reason: "chunk before IHDR"})
			}
			img.AuxHeaders.Set(c.name, c.data)
		}
		if !sawIHDR {
			return nil, errors.WithStack(&InvalidHeaderError{Reason: "IHDR must be the first chunk"})
		}
	}
	if len(idat) == 0 {
		return nil, errors.WithStack(&InvalidHeaderError{Reason: "no IDAT chunk"})
	}

	if err := buildPalette(img, paletteRGB, trns, fixErrors); err != nil {
		return nil, err
	}

	filtered, err := inflate(idat)
	if err != nil {
		return nil, err
	}
	raw, err := unfilterImage(img, filtered)
	if err != nil {
		return nil, err
	}
	img.Data = raw

	if img.IHDR.ColorType == Indexed {
		if err := checkPaletteIndices(img, fixErrors); err != nil {
			return nil, err
		}
	}

	return &PngData{Raw: img, IdatData: idat, Filtered: filtered}, nil
}

// checkPaletteIndices verifies that every sample resolves to a palette
// entry. With fixErrors the palette is extended with opaque black instead,
// the way such pixels commonly render.
func checkPaletteIndices(img *PngImage, fixErrors bool) error {
	max := -1
	forEachIndex(img, func(v uint8) {
		if int(v) > max {
			max = int(v)
		}
	})
	if max < len(img.Palette) {
		return nil
	}
	if !fixErrors {
		return errors.WithStack(&InvalidHeaderError{Reason: "palette index out of range"})
	}
	logger.Printf("palette index %d out of range, extending palette", max)
	for len(img.Palette) <= max {
		img.Palette = append(img.Palette, RGBA8{A: 255})
	}
	return nil
}

func parseIHDR(hdr *IHDR, data []byte) error {
	if len(data) != 13 {
		return errors.WithStack(&InvalidHeaderError{Reason: "IHDR length must be 13"})
	}
	hdr.Width = be.Uint32(data[0:4])
	hdr.Height = be.Uint32(data[4:8])
	if hdr.Width == 0 || hdr.Width > 1<<31-1 || hdr.Height == 0 || hdr.Height > 1<<31-1 {
		return errors.WithStack(&InvalidHeaderError{Reason: "invalid dimensions"})
	}
	hdr.BitDepth = BitDepth(data[8])
	hdr.ColorType = ColorType(data[9])
	if !hdr.ColorType.validDepth(hdr.BitDepth) {
		return errors.WithStack(&InvalidHeaderError{
			Reason: "illegal bit depth / color type combination",
		})
	}
	if data[10] != 0 {
		return errors.WithStack(&InvalidHeaderError{Reason: "unknown compression method"})
	}
	if data[11] != 0 {
		return errors.WithStack(&InvalidHeaderError{Reason: "unknown filter method"})
	}
	if data[12] > 1 {
		return errors.WithStack(&InvalidHeaderError{Reason: "unknown interlace method"})
	}
	hdr.Interlaced = Interlacing(data[12])
	return nil
}

func buildPalette(img *PngImage, paletteRGB, trns []byte, fixErrors bool) error {
	if img.IHDR.ColorType == Indexed {
		if len(paletteRGB) == 0 || len(paletteRGB)%3 != 0 || len(paletteRGB) > 3*256 {
			return errors.WithStack(&InvalidHeaderError{Reason: "bad PLTE for indexed image"})
		}
		n := len(paletteRGB) / 3
		img.Palette = make([]RGBA8, n)
		for i := 0; i < n; i++ {
			img.Palette[i] = RGBA8{
				R: paletteRGB[3*i],
				G: paletteRGB[3*i+1],
				B: paletteRGB[3*i+2],
				A: 255,
			}
		}
		if len(trns) > n {
			if !fixErrors {
				return errors.WithStack(&InvalidHeaderError{Reason: "tRNS longer than palette"})
			}
			logger.Printf("tRNS longer than palette, truncating")
			trns = trns[:n]
		}
		for i, a := range trns {
			img.Palette[i].A = a
		}
		return nil
	}
	if len(trns) > 0 {
		want := 2 * img.IHDR.ColorType.Channels()
		if img.IHDR.ColorType.HasAlpha() || len(trns) != want {
			if !fixErrors {
				return errors.WithStack(&InvalidHeaderError{Reason: "malformed tRNS"})
			}
			logger.Printf("malformed tRNS chunk, dropping")
			return nil
		}
		img.Transparency = trns
	}
	return nil
}
