package pngshrink

import (
	"bytes"
	"errors"
	"testing"
)

// newTestImage builds a non-interlaced image over the given raw sample
// buffer.
func newTestImage(t *testing.T, ct ColorType, depth BitDepth, w, h int, data []byte) *PngImage {
	t.Helper()
	img := &PngImage{
		IHDR: IHDR{
			Width:     uint32(w),
			Height:    uint32(h),
			BitDepth:  depth,
			ColorType: ct,
		},
		Data:       data,
		AuxHeaders: NewChunkMap(),
	}
	if len(data) != img.rawDataLen() {
		t.Fatalf("test image has %d data bytes, layout needs %d", len(data), img.rawDataLen())
	}
	return img
}

// encodeImage serializes an image with None filtering at a cheap level.
func encodeImage(t *testing.T, img *PngImage) []byte {
	t.Helper()
	filtered := FilterImage(img, FilterNone)
	idat, err := deflate(filtered, 5, nil)
	if err != nil {
		t.Fatal(err)
	}
	return (&PngData{Raw: img, IdatData: idat, Filtered: filtered}).Output()
}

func TestDecodeEncodeRoundTrip(t *testing.T) {
	data := []byte{
		10, 20, 30, 255, 40, 50, 60, 255,
		70, 80, 90, 128, 100, 110, 120, 0,
	}
	img := newTestImage(t, RGBA, 8, 2, 2, data)
	encoded := encodeImage(t, img)

	decoded, err := Decode(encoded, false)
	if err != nil {
		t.Fatal(err)
	}
	if decoded.Raw.IHDR != img.IHDR {
		t.Errorf("IHDR mismatch: got %+v want %+v", decoded.Raw.IHDR, img.IHDR)
	}
	if !bytes.Equal(decoded.Raw.Data, data) {
		t.Errorf("raw data mismatch: got % x want % x", decoded.Raw.Data, data)
	}
}

func TestDecodeNotPng(t *testing.T) {
	_, err := Decode([]byte("definitely not a png file"), false)
	if !errors.Is(err, ErrNotPng) {
		t.Errorf("got %v, want ErrNotPng", err)
	}
}

func TestDecodeTruncated(t *testing.T) {
	img := newTestImage(t, Grayscale, 8, 2, 2, []byte{1, 2, 3, 4})
	encoded := encodeImage(t, img)
	_, err := Decode(encoded[:len(encoded)-6], false)
	if !errors.Is(err, ErrTruncatedChunk) {
		t.Errorf("got %v, want ErrTruncatedChunk", err)
	}
}

func TestDecodeIndexedPalette(t *testing.T) {
	img := newTestImage(t, Indexed, 8, 2, 2, []byte{0, 1, 2, 1})
	img.Palette = []RGBA8{
		{255, 0, 0, 255},
		{0, 255, 0, 128},
		{0, 0, 255, 255},
	}
	decoded, err := Decode(encodeImage(t, img), false)
	if err != nil {
		t.Fatal(err)
	}
	if len(decoded.Raw.Palette) != 3 {
		t.Fatalf("palette has %d entries, want 3", len(decoded.Raw.Palette))
	}
	for i, e := range img.Palette {
		if decoded.Raw.Palette[i] != e {
			t.Errorf("palette[%d] = %+v, want %+v", i, decoded.Raw.Palette[i], e)
		}
	}
}

func TestDecodeBadCrc(t *testing.T) {
	img := newTestImage(t, Grayscale, 8, 2, 1, []byte{9, 9})
	img.AuxHeaders.Set(TEXTChunk, []byte("Comment\x00hi"))
	encoded := encodeImage(t, img)

	// Corrupt one payload byte of the tEXt chunk so its CRC no longer
	// matches.
	idx := bytes.Index(encoded, []byte("tEXt"))
	if idx < 0 {
		t.Fatal("no tEXt chunk in output")
	}
	encoded[idx+4] ^= 0xff

	_, err := Decode(encoded, false)
	var badCrc *BadCrcError
	if !errors.As(err, &badCrc) {
		t.Fatalf("got %v, want BadCrcError", err)
	}
	if badCrc.Name != TEXTChunk {
		t.Errorf("bad CRC reported for %s, want tEXt", badCrc.Name)
	}

	decoded, err := Decode(encoded, true)
	if err != nil {
		t.Fatalf("fix_errors decode failed: %v", err)
	}
	if _, ok := decoded.Raw.AuxHeaders.Get(TEXTChunk); ok {
		t.Error("corrupt tEXt chunk should have been dropped")
	}
}

func TestAuxChunkOrderPreserved(t *testing.T) {
	img := newTestImage(t, Grayscale, 8, 1, 1, []byte{42})
	img.AuxHeaders.Set(PHYSChunk, []byte{0, 0, 11, 18, 0, 0, 11, 18, 1})
	img.AuxHeaders.Set(TEXTChunk, []byte("Software\x00pngshrink"))
	img.AuxHeaders.Set(GAMAChunk, []byte{0, 0, 0xb1, 0x8f})

	decoded, err := Decode(encodeImage(t, img), false)
	if err != nil {
		t.Fatal(err)
	}
	got := decoded.Raw.AuxHeaders.Names()
	want := []ChunkName{PHYSChunk, TEXTChunk, GAMAChunk}
	if len(got) != len(want) {
		t.Fatalf("got %d aux chunks, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("aux[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestDecodeOutOfRangePaletteIndex(t *testing.T) {
	img := newTestImage(t, Indexed, 8, 2, 2, []byte{0, 1, 5, 1})
	img.Palette = []RGBA8{
		{255, 0, 0, 255},
		{0, 255, 0, 255},
	}
	encoded := encodeImage(t, img)

	_, err := Decode(encoded, false)
	var invalid *InvalidHeaderError
	if !errors.As(err, &invalid) {
		t.Fatalf("got %v, want InvalidHeaderError", err)
	}

	decoded, err := Decode(encoded, true)
	if err != nil {
		t.Fatalf("fix_errors decode failed: %v", err)
	}
	if len(decoded.Raw.Palette) != 6 {
		t.Fatalf("palette has %d entries, want 6", len(decoded.Raw.Palette))
	}
	if decoded.Raw.Palette[5] != (RGBA8{0, 0, 0, 255}) {
		t.Errorf("filler entry = %+v, want opaque black", decoded.Raw.Palette[5])
	}
}

func TestDecodeRejectsZeroDimensions(t *testing.T) {
	var w bytes.Buffer
	w.Write(pngHeaderBytes)
	hdr := ihdrBytes(&IHDR{Width: 0, Height: 1, BitDepth: 8, ColorType: Grayscale})
	writeChunk(&w, IHDRChunk, hdr)

	_, err := Decode(w.Bytes(), true)
	var invalid *InvalidHeaderError
	if err == nil || !errors.As(err, &invalid) {
		t.Errorf("got %v, want InvalidHeaderError", err)
	}
}
