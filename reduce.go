package pngshrink

// Reductions are total functions PngImage -> *PngImage returning nil when
// inapplicable or when the transform would not change the image. Every
// returned image decodes to visibly identical pixels.

// reduceBitDepth proposes the smallest legal bit depth not below minBits
// that represents every sample exactly. 16-bit images of any color type
// fold to 8 when all samples have equal high and low bytes; grayscale and
// indexed images repack further down.
func reduceBitDepth(img *PngImage, minBits int) *PngImage {
	cur := img
	changed := false
	if cur.IHDR.BitDepth == 16 {
		if folded := folded16To8(cur); folded != nil {
			cur = folded
			changed = true
		}
	}
	switch cur.IHDR.ColorType {
	case Indexed:
		if r := reducedIndexedDepth(cur, minBits); r != nil {
			cur = r
			changed = true
		}
	case Grayscale:
		if cur.IHDR.BitDepth <= 8 {
			if r := reducedGrayDepth(cur, minBits); r != nil {
				cur = r
				changed = true
			}
		}
	}
	if !changed {
		return nil
	}
	return cur
}

// folded16To8 halves a 16-bit image when every sample satisfies hi == lo.
// The mapping is a bijection on such values, so tRNS matching is preserved
// exactly in both directions.
func folded16To8(img *PngImage) *PngImage {
	for i := 0; i < len(img.Data); i += 2 {
		if img.Data[i] != img.Data[i+1] {
			return nil
		}
	}
	out := img.Clone()
	out.IHDR.BitDepth = 8
	out.Data = make([]byte, len(img.Data)/2)
	for i := range out.Data {
		out.Data[i] = img.Data[2*i]
	}
	if img.Transparency != nil {
		folded := make([]byte, len(img.Transparency))
		inert := false
		for i := 0; i < len(img.Transparency); i += 2 {
			hi, lo := img.Transparency[i], img.Transparency[i+1]
			if hi != lo {
				// The transparent color can no longer match any pixel;
				// it could not match one before either.
				inert = true
				break
			}
			be.PutUint16(folded[i:], uint16(hi))
		}
		if inert {
			out.Transparency = nil
		} else {
			out.Transparency = folded
		}
	}
	return out
}

// repackDepth rewrites a one-channel image at a new depth, mapping each
// sample through mapSample.
func repackDepth(img *PngImage, newDepth BitDepth, mapSample func(uint8) uint8) *PngImage {
	out := img.Clone()
	out.IHDR.BitDepth = newDepth
	out.Data = make([]byte, out.rawDataLen())
	srcRows := img.rows()
	dstRows := out.rows()
	for i, sr := range srcRows {
		dr := dstRows[i]
		src := img.Data[sr.start : sr.start+sr.bytes]
		dst := out.Data[dr.start : dr.start+dr.bytes]
		for px := 0; px < sr.pixels; px++ {
			setSample(dst, px, newDepth, mapSample(sampleAt(src, px, img.IHDR.BitDepth)))
		}
	}
	return out
}

func bitsForPaletteLen(n int) BitDepth {
	switch {
	case n <= 2:
		return 1
	case n <= 4:
		return 2
	case n <= 16:
		return 4
	}
	return 8
}

func reducedIndexedDepth(img *PngImage, minBits int) *PngImage {
	target := bitsForPaletteLen(len(img.Palette))
	if int(target) < minBits {
		target = BitDepth(minBits)
	}
	if target >= img.IHDR.BitDepth {
		return nil
	}
	return repackDepth(img, target, func(v uint8) uint8 { return v })
}

func reducedGrayDepth(img *PngImage, minBits int) *PngImage {
	depth := img.IHDR.BitDepth
	for _, target := range []BitDepth{1, 2, 4} {
		if int(target) < minBits || target >= depth {
			continue
		}
		if !grayFitsDepth(img, target) {
			continue
		}
		out := repackDepth(img, target, func(v uint8) uint8 {
			scaled, _ := rescaleSample(v, depth, target)
			return scaled
		})
		reduceGrayTrns(img, out, target)
		return out
	}
	return nil
}

func grayFitsDepth(img *PngImage, target BitDepth) bool {
	depth := img.IHDR.BitDepth
	ok := true
	forEachIndex(img, func(v uint8) {
		if !ok {
			return
		}
		if _, fits := rescaleSample(v, depth, target); !fits {
			ok = false
		}
	})
	return ok
}

// reduceGrayTrns carries the transparent gray level to the new depth, or
// drops it when it can no longer (and therefore never could) match.
func reduceGrayTrns(img, out *PngImage, target BitDepth) {
	if img.Transparency == nil {
		return
	}
	v := be.Uint16(img.Transparency)
	if v >= 1<<img.IHDR.BitDepth {
		out.Transparency = nil
		return
	}
	scaled, fits := rescaleSample(uint8(v), img.IHDR.BitDepth, target)
	if !fits {
		out.Transparency = nil
		return
	}
	trns := make([]byte, 2)
	be.PutUint16(trns, uint16(scaled))
	out.Transparency = trns
}

// reduceColorType chains the color-type reductions: alpha removal, then
// grayscale detection, then an indexed proposal. Returns nil if none
// applied.
func reduceColorType(img *PngImage, grayscaleReduction, optimizeAlpha bool) *PngImage {
	cur := img
	changed := false
	if cur.IHDR.ColorType.HasAlpha() {
		if r := reducedAlphaChannel(cur, optimizeAlpha); r != nil {
			cur = r
			changed = true
		}
	}
	if grayscaleReduction && (cur.IHDR.ColorType == RGB || cur.IHDR.ColorType == RGBA) {
		if r := reducedGrayscale(cur); r != nil {
			cur = r
			changed = true
		}
	}
	if cur.IHDR.BitDepth == 8 && (cur.IHDR.ColorType == RGB || cur.IHDR.ColorType == RGBA) {
		if r := reducedIndexed(cur); r != nil {
			// The synthesized palette is in first-seen order; rebuild it so
			// frequent indexes sit early, the same win an already-indexed
			// source gets.
			if sorted := reducedPalette(r, optimizeAlpha); sorted != nil {
				r = sorted
			}
			cur = r
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return cur
}

// reducedAlphaChannel drops the alpha channel when it is constant opaque,
// or, with optimizeAlpha, converts a binary alpha channel to tRNS by
// painting transparent pixels with a color unused by any opaque pixel.
func reducedAlphaChannel(img *PngImage, optimizeAlpha bool) *PngImage {
	depth := img.IHDR.BitDepth
	channels := img.IHDR.ColorType.Channels()
	sampleBytes := int(depth) / 8
	px := channels * sampleBytes

	allOpaque, allBinary := true, true
	for off := 0; off < len(img.Data); off += px {
		a := img.Data[off+px-sampleBytes]
		if sampleBytes == 2 && a != img.Data[off+px-1] {
			// Neither 0 nor the maximum.
			return nil
		}
		if a == 255 {
			continue
		}
		allOpaque = false
		if a != 0 {
			allBinary = false
			return nil
		}
	}

	if allOpaque {
		return droppedAlpha(img, nil)
	}
	if !optimizeAlpha || !allBinary || depth != 8 {
		return nil
	}

	// Binary alpha: find a color no opaque pixel uses; transparent pixels
	// become that color and it goes in tRNS.
	colorBytes := px - sampleBytes
	used := make(map[uint32]bool)
	for off := 0; off < len(img.Data); off += px {
		if img.Data[off+px-1] != 255 {
			continue
		}
		used[colorKey(img.Data[off:off+colorBytes])] = true
	}
	space := uint32(1) << (8 * colorBytes)
	var unused uint32
	found := false
	for c := uint32(0); c < space; c++ {
		if !used[c] {
			unused = c
			found = true
			break
		}
	}
	if !found {
		return nil
	}
	fill := make([]byte, colorBytes)
	for i := range fill {
		fill[i] = byte(unused >> (8 * (colorBytes - 1 - i)))
	}
	out := droppedAlpha(img, fill)
	trns := make([]byte, 2*colorBytes)
	for i, v := range fill {
		be.PutUint16(trns[2*i:], uint16(v))
	}
	out.Transparency = trns
	return out
}

func colorKey(samples []byte) uint32 {
	var key uint32
	for _, v := range samples {
		key = key<<8 | uint32(v)
	}
	return key
}

// droppedAlpha strips the trailing alpha channel. When fill is non-nil,
// fully transparent pixels take the fill color instead of their own.
func droppedAlpha(img *PngImage, fill []byte) *PngImage {
	depth := img.IHDR.BitDepth
	channels := img.IHDR.ColorType.Channels()
	sampleBytes := int(depth) / 8
	px := channels * sampleBytes
	colorBytes := px - sampleBytes

	out := img.Clone()
	if img.IHDR.ColorType == RGBA {
		out.IHDR.ColorType = RGB
	} else {
		out.IHDR.ColorType = Grayscale
	}
	out.Data = make([]byte, len(img.Data)/px*colorBytes)
	o := 0
	for off := 0; off < len(img.Data); off += px {
		transparent := fill != nil && img.Data[off+px-1] == 0
		if transparent {
			copy(out.Data[o:], fill)
		} else {
			copy(out.Data[o:], img.Data[off:off+colorBytes])
		}
		o += colorBytes
	}
	return out
}

// reducedGrayscale collapses RGB(A) to Grayscale(Alpha) when every pixel
// has R == G == B.
func reducedGrayscale(img *PngImage) *PngImage {
	depth := img.IHDR.BitDepth
	channels := img.IHDR.ColorType.Channels()
	sampleBytes := int(depth) / 8
	px := channels * sampleBytes
	cb := 3 * sampleBytes

	for off := 0; off < len(img.Data); off += px {
		for i := 0; i < sampleBytes; i++ {
			r := img.Data[off+i]
			if r != img.Data[off+sampleBytes+i] || r != img.Data[off+2*sampleBytes+i] {
				return nil
			}
		}
	}

	out := img.Clone()
	if img.IHDR.ColorType == RGBA {
		out.IHDR.ColorType = GrayscaleAlpha
	} else {
		out.IHDR.ColorType = Grayscale
	}
	newPx := px - cb + sampleBytes
	out.Data = make([]byte, len(img.Data)/px*newPx)
	o := 0
	for off := 0; off < len(img.Data); off += px {
		copy(out.Data[o:], img.Data[off:off+sampleBytes])
		copy(out.Data[o+sampleBytes:], img.Data[off+cb:off+px])
		o += newPx
	}
	if img.Transparency != nil {
		r := be.Uint16(img.Transparency[0:])
		g := be.Uint16(img.Transparency[2:])
		b2 := be.Uint16(img.Transparency[4:])
		if r == g && g == b2 {
			trns := make([]byte, 2)
			be.PutUint16(trns, r)
			out.Transparency = trns
		} else {
			// A non-gray transparent color can never match a gray pixel.
			out.Transparency = nil
		}
	}
	return out
}

// reducedIndexed proposes an indexed rendition of an 8-bit RGB(A) image
// with at most 256 unique colors.
func reducedIndexed(img *PngImage) *PngImage {
	if img.IHDR.BitDepth != 8 {
		return nil
	}
	channels := img.IHDR.ColorType.Channels()
	hasAlpha := img.IHDR.ColorType.HasAlpha()

	var trnsColor []byte
	if img.Transparency != nil {
		trnsColor = []byte{img.Transparency[1], img.Transparency[3], img.Transparency[5]}
	}

	palette := make([]RGBA8, 0, 256)
	lookup := make(map[RGBA8]uint8, 256)
	indices := make([]uint8, 0, len(img.Data)/channels)
	for off := 0; off < len(img.Data); off += channels {
		entry := RGBA8{
			R: img.Data[off],
			G: img.Data[off+1],
			B: img.Data[off+2],
			A: 255,
		}
		if hasAlpha {
			entry.A = img.Data[off+3]
		} else if trnsColor != nil &&
			entry.R == trnsColor[0] && entry.G == trnsColor[1] && entry.B == trnsColor[2] {
			entry.A = 0
		}
		idx, ok := lookup[entry]
		if !ok {
			if len(palette) == 256 {
				return nil
			}
			idx = uint8(len(palette))
			palette = append(palette, entry)
			lookup[entry] = idx
		}
		indices = append(indices, idx)
	}

	out := img.Clone()
	out.IHDR.ColorType = Indexed
	out.Palette = palette
	out.Transparency = nil
	out.Data = indices
	return out
}

// cleanedAlphaChannel overwrites the color samples of fully transparent
// pixels with zeros. Visible pixels are untouched, but the filtered stream
// becomes far more compressible and an indexed reduction may open up.
func cleanedAlphaChannel(img *PngImage) *PngImage {
	if !img.IHDR.ColorType.HasAlpha() {
		return nil
	}
	sampleBytes := int(img.IHDR.BitDepth) / 8
	px := img.IHDR.ColorType.Channels() * sampleBytes
	changed := false
	var out *PngImage
	for off := 0; off < len(img.Data); off += px {
		opaque := false
		for i := px - sampleBytes; i < px; i++ {
			if img.Data[off+i] != 0 {
				opaque = true
				break
			}
		}
		if opaque {
			continue
		}
		dirty := false
		for i := 0; i < px-sampleBytes; i++ {
			if img.Data[off+i] != 0 {
				dirty = true
				break
			}
		}
		if !dirty {
			continue
		}
		if !changed {
			out = img.Clone()
			changed = true
		}
		for i := 0; i < px-sampleBytes; i++ {
			out.Data[off+i] = 0
		}
	}
	if !changed {
		return nil
	}
	return out
}
