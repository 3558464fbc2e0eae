package pngshrink

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

// optimizeRoundTrip runs Optimize and verifies both decodability and pixel
// equivalence against the input.
func optimizeRoundTrip(t *testing.T, input []byte, opts *Options) []byte {
	t.Helper()
	output, err := Optimize(input, opts)
	if err != nil {
		t.Fatal(err)
	}
	decodedIn, err := Decode(input, true)
	if err != nil {
		t.Fatal(err)
	}
	decodedOut, err := Decode(output, false)
	if err != nil {
		t.Fatalf("output does not decode: %v", err)
	}
	if !imagesEqual(decodedIn.Raw, decodedOut.Raw) {
		t.Fatal("visible pixels changed")
	}
	return output
}

func TestOptimizeGrayContentRgba(t *testing.T) {
	data := make([]byte, 0, 8*8*4)
	for i := 0; i < 64; i++ {
		v := byte(i % 4 * 80)
		data = append(data, v, v, v, 255)
	}
	input := encodeImage(t, newTestImage(t, RGBA, 8, 8, 8, data))

	output := optimizeRoundTrip(t, input, DefaultOptions())
	if len(output) > len(input) {
		t.Errorf("output grew: %d > %d bytes", len(output), len(input))
	}
	decoded, err := Decode(output, false)
	if err != nil {
		t.Fatal(err)
	}
	ct := decoded.Raw.IHDR.ColorType
	if ct == RGBA {
		t.Errorf("gray opaque content stayed %s", ct)
	}
}

func TestOptimizeRgba16Fold(t *testing.T) {
	w, h := 17, 17
	data := make([]byte, 0, w*h*8)
	for i := 0; i < w*h; i++ {
		r, g, b := byte(i), byte(i>>4), byte(i*3)
		data = append(data, r, r, g, g, b, b, 255, 255)
	}
	input := encodeImage(t, newTestImage(t, RGBA, 16, w, h, data))
	output := optimizeRoundTrip(t, input, DefaultOptions())

	decoded, err := Decode(output, false)
	if err != nil {
		t.Fatal(err)
	}
	if decoded.Raw.IHDR.BitDepth != 8 {
		t.Errorf("foldable 16-bit image stayed %d-bit", decoded.Raw.IHDR.BitDepth)
	}
	if decoded.Raw.IHDR.ColorType.HasAlpha() {
		t.Errorf("constant opaque alpha survived as %s", decoded.Raw.IHDR.ColorType)
	}
}

func TestOptimizeIdempotentOnPixels(t *testing.T) {
	data := make([]byte, 0, 6*6*3)
	for i := 0; i < 36; i++ {
		data = append(data, byte(i), byte(i*2), byte(255-i))
	}
	input := encodeImage(t, newTestImage(t, RGB, 8, 6, 6, data))
	first := optimizeRoundTrip(t, input, DefaultOptions())
	second := optimizeRoundTrip(t, first, DefaultOptions())
	if len(second) > len(first) {
		t.Errorf("second pass grew the file: %d > %d", len(second), len(first))
	}
}

func TestOptimizeBadCrcAncillary(t *testing.T) {
	img := newTestImage(t, Grayscale, 8, 4, 4, testPattern(16))
	img.AuxHeaders.Set(TEXTChunk, []byte("Comment\x00x"))
	input := encodeImage(t, img)
	idx := bytes.Index(input, []byte("tEXt"))
	input[idx+4] ^= 0xff

	opts := DefaultOptions()
	_, err := Optimize(input, opts)
	var badCrc *BadCrcError
	if !errors.As(err, &badCrc) {
		t.Fatalf("got %v, want BadCrcError", err)
	}

	opts.FixErrors = true
	if _, err := Optimize(input, opts); err != nil {
		t.Fatalf("fix_errors run failed: %v", err)
	}
}

func TestOptimizeTimeoutZero(t *testing.T) {
	data := testPattern(16 * 16 * 3)
	input := encodeImage(t, newTestImage(t, RGB, 8, 16, 16, data))
	opts := DefaultOptions()
	zero := time.Duration(0)
	opts.Timeout = &zero
	output, err := Optimize(input, opts)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(output, input) {
		t.Error("zero timeout must return the stripped original unchanged")
	}
}

func TestOptimizeCheckMode(t *testing.T) {
	input := encodeImage(t, newTestImage(t, Grayscale, 8, 2, 2, []byte{1, 2, 3, 4}))
	opts := DefaultOptions()
	opts.Check = true
	output, err := Optimize(input, opts)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(output, input) {
		t.Error("check mode must not rewrite anything")
	}
}

func TestOptimizeNeverGrowsWithoutForce(t *testing.T) {
	// A tiny incompressible image: any recoding attempt loses.
	data := []byte{0xa7, 0x13, 0xfe, 0x42, 0x99, 0x01, 0xc3, 0x55, 0x27, 0x80, 0x6b, 0xd4}
	input := encodeImage(t, newTestImage(t, RGB, 8, 2, 2, data))
	output, err := Optimize(input, DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	if len(output) > len(input) {
		t.Errorf("output grew without force: %d > %d", len(output), len(input))
	}
}

func TestOptimizeDeinterlaces(t *testing.T) {
	linear := newTestImage(t, Grayscale, 8, 9, 9, testPattern(81))
	input := encodeImage(t, interlaced(linear))

	opts := DefaultOptions()
	target := InterlaceNone
	opts.Interlace = &target
	output := optimizeRoundTrip(t, input, opts)

	decoded, err := Decode(output, false)
	if err != nil {
		t.Fatal(err)
	}
	if decoded.Raw.IHDR.Interlaced != InterlaceNone {
		t.Error("output still interlaced")
	}
}

func TestOptimizeFullyTransparent(t *testing.T) {
	data := make([]byte, 8*8*4)
	for i := 0; i < 64; i++ {
		data[i*4] = byte(i) // invisible garbage under alpha 0
	}
	input := encodeImage(t, newTestImage(t, RGBA, 8, 8, 8, data))
	opts := DefaultOptions()
	opts.OptimizeAlpha = true
	output := optimizeRoundTrip(t, input, opts)
	if len(output) > len(input) {
		t.Errorf("fully transparent image grew: %d > %d", len(output), len(input))
	}
}

func TestOptimizeIndexedPaletteTrim(t *testing.T) {
	data := make([]byte, 64)
	for i := range data {
		data[i] = uint8(i % 3)
	}
	img := newTestImage(t, Indexed, 8, 8, 8, data)
	img.Palette = make([]RGBA8, 43)
	for i := range img.Palette {
		img.Palette[i] = RGBA8{uint8(i), uint8(i), uint8(255 - i), 255}
	}
	input := encodeImage(t, img)
	output := optimizeRoundTrip(t, input, DefaultOptions())

	decoded, err := Decode(output, false)
	if err != nil {
		t.Fatal(err)
	}
	if decoded.Raw.Palette != nil && len(decoded.Raw.Palette) > 3 {
		t.Errorf("palette kept %d entries, want at most 3", len(decoded.Raw.Palette))
	}
}

func TestOptimizeStripSafe(t *testing.T) {
	img := newTestImage(t, Grayscale, 8, 4, 4, testPattern(16))
	img.AuxHeaders.Set(TEXTChunk, []byte("Comment\x00x"))
	img.AuxHeaders.Set(PHYSChunk, []byte{0, 0, 11, 18, 0, 0, 11, 18, 1})
	input := encodeImage(t, img)

	opts := DefaultOptions()
	opts.Strip = StripSafe()
	output := optimizeRoundTrip(t, input, opts)

	decoded, err := Decode(output, false)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := decoded.Raw.AuxHeaders.Get(TEXTChunk); ok {
		t.Error("tEXt survived a safe strip")
	}
	if _, ok := decoded.Raw.AuxHeaders.Get(PHYSChunk); !ok {
		t.Error("pHYs must survive a safe strip")
	}
}

func TestOptimizeFastAndFullAgreeOnPixels(t *testing.T) {
	data := testPattern(12 * 12 * 3)
	input := encodeImage(t, newTestImage(t, RGB, 8, 12, 12, data))

	fast := DefaultOptions()
	fast.FastEvaluation = true
	full := DefaultOptions()
	full.FastEvaluation = false

	outFast := optimizeRoundTrip(t, input, fast)
	outFull := optimizeRoundTrip(t, input, full)

	a, _ := Decode(outFast, false)
	b, _ := Decode(outFull, false)
	if !imagesEqual(a.Raw, b.Raw) {
		t.Error("fast and full trials disagree on pixels")
	}
}

func TestOptimizeHighQualityDeflater(t *testing.T) {
	data := testPattern(16 * 4 * 3)
	input := encodeImage(t, newTestImage(t, RGB, 8, 16, 4, data))
	opts := DefaultOptions()
	opts.Deflate = HighQualityDeflater{Iterations: 3}
	optimizeRoundTrip(t, input, opts)
}

func TestOptionsPresets(t *testing.T) {
	if opts := OptionsFromPreset(0); len(opts.Filter) != 0 || opts.Deflate.compressionLevel() != 5 {
		t.Error("preset 0 should clear filters and compress at 5")
	}
	if opts := OptionsFromPreset(2); !opts.FastEvaluation || opts.Deflate.compressionLevel() != 11 {
		t.Error("preset 2 should match the defaults")
	}
	if opts := OptionsFromPreset(6); opts.FastEvaluation || len(opts.Filter) != 10 {
		t.Errorf("preset 6 should run all ten filters without fast evaluation, got %d", len(opts.Filter))
	}
}
