package pngshrink

// adam7Pass defines the placement and size of one pass of Adam7 interlacing.
// See https://www.w3.org/TR/PNG/#8Interlace
type adam7Pass struct {
	xFactor, yFactor, xOffset, yOffset int
}

var adam7Passes = [7]adam7Pass{
	{8, 8, 0, 0},
	{8, 8, 4, 0},
	{4, 8, 0, 4},
	{4, 4, 2, 0},
	{2, 4, 0, 2},
	{2, 2, 1, 0},
	{1, 2, 0, 1},
}

// passSize returns the pixel dimensions of this pass for a w x h image.
// An individual pass may be empty even though the image is not.
func (p adam7Pass) passSize(w, h int) (int, int) {
	pw := (w - p.xOffset + p.xFactor - 1) / p.xFactor
	ph := (h - p.yOffset + p.yFactor - 1) / p.yFactor
	if pw < 0 {
		pw = 0
	}
	if ph < 0 {
		ph = 0
	}
	return pw, ph
}

// copyPixel moves one pixel between byte-aligned scanlines. For sub-byte
// depths the single sample is repacked at the destination bit position.
func copyPixel(dst, src []byte, dstIdx, srcIdx int, depth BitDepth, bpp int) {
	if depth < 8 {
		setSample(dst, dstIdx, depth, sampleAt(src, srcIdx, depth))
		return
	}
	copy(dst[dstIdx*bpp:(dstIdx+1)*bpp], src[srcIdx*bpp:(srcIdx+1)*bpp])
}

// deinterlaced returns the image with its scanlines merged from the seven
// Adam7 passes into linear row order. Pixel values are unchanged.
func deinterlaced(img *PngImage) *PngImage {
	out := img.Clone()
	out.IHDR.Interlaced = InterlaceNone
	bpp := img.bitsPerPixel()
	bytesPP := (bpp + 7) / 8
	w := int(img.IHDR.Width)
	linRow := rowBytes(w, bpp)
	out.Data = make([]byte, out.rawDataLen())

	h := int(img.IHDR.Height)
	off := 0
	for _, p := range adam7Passes {
		pw, ph := p.passSize(w, h)
		if pw == 0 || ph == 0 {
			continue
		}
		rb := rowBytes(pw, bpp)
		for y := 0; y < ph; y++ {
			src := img.Data[off : off+rb]
			dstY := p.yOffset + y*p.yFactor
			dst := out.Data[dstY*linRow : (dstY+1)*linRow]
			for x := 0; x < pw; x++ {
				copyPixel(dst, src, p.xOffset+x*p.xFactor, x, img.IHDR.BitDepth, bytesPP)
			}
			off += rb
		}
	}
	return out
}

// interlaced returns the image re-laid-out as seven Adam7 passes.
func interlaced(img *PngImage) *PngImage {
	out := img.Clone()
	out.IHDR.Interlaced = InterlaceAdam7
	bpp := img.bitsPerPixel()
	bytesPP := (bpp + 7) / 8
	w, h := int(img.IHDR.Width), int(img.IHDR.Height)
	linRow := rowBytes(w, bpp)
	out.Data = make([]byte, out.rawDataLen())

	off := 0
	for _, p := range adam7Passes {
		pw, ph := p.passSize(w, h)
		if pw == 0 || ph == 0 {
			continue
		}
		rb := rowBytes(pw, bpp)
		for y := 0; y < ph; y++ {
			srcY := p.yOffset + y*p.yFactor
			src := img.Data[srcY*linRow : (srcY+1)*linRow]
			dst := out.Data[off : off+rb]
			for x := 0; x < pw; x++ {
				copyPixel(dst, src, x, p.xOffset+x*p.xFactor, img.IHDR.BitDepth, bytesPP)
			}
			off += rb
		}
	}
	return out
}

// changeInterlacing converts between interlacing layouts by reordering
// rows. Returns nil when the image already uses the target layout.
func changeInterlacing(img *PngImage, target Interlacing) *PngImage {
	if img.IHDR.Interlaced == target {
		return nil
	}
	if target == InterlaceAdam7 {
		return interlaced(img)
	}
	return deinterlaced(img)
}
