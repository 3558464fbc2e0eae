package pngshrink

// validateOutput re-decodes the original and the output independently and
// compares visible pixels. If the original itself fails to decode (possible
// under FixErrors), all that can be checked is that the output decodes.
func validateOutput(output, original []byte) bool {
	origPng, origErr := Decode(original, true)
	newPng, newErr := Decode(output, false)
	if newErr != nil {
		logger.Printf("Failed to read output image for validation: %v", newErr)
		return false
	}
	if origErr != nil {
		logger.Printf("Failed to read input image for validation: %v", origErr)
		return true
	}
	return imagesEqual(origPng.Raw, newPng.Raw)
}

// imagesEqual compares two images pixel by pixel. Pixels whose alpha is
// zero in both images are invisible, so their color does not matter.
func imagesEqual(a, b *PngImage) bool {
	pa := pixels16(a)
	pb := pixels16(b)
	if len(pa) != len(pb) {
		return false
	}
	for i := 0; i < len(pa); i += 4 {
		if pa[i+3] == 0 && pb[i+3] == 0 {
			continue
		}
		if pa[i] != pb[i] || pa[i+1] != pb[i+1] || pa[i+2] != pb[i+2] || pa[i+3] != pb[i+3] {
			return false
		}
	}
	return true
}

// scaleSample widens a sample to 16 bits without changing the level it
// denotes.
func scaleSample(v uint32, depth BitDepth) uint16 {
	return uint16(v * 65535 / (1<<depth - 1))
}

// pixels16 flattens the image to RGBA samples at 16 bits per channel, in
// linear row-major order regardless of interlacing.
func pixels16(img *PngImage) []uint16 {
	if img.IHDR.Interlaced == InterlaceAdam7 {
		img = deinterlaced(img)
	}
	depth := img.IHDR.BitDepth
	w, h := int(img.IHDR.Width), int(img.IHDR.Height)
	out := make([]uint16, 0, 4*w*h)

	sample := func(row []byte, px, ch, channels int) uint32 {
		if depth < 8 {
			return uint32(sampleAt(row, px, depth))
		}
		sb := int(depth) / 8
		off := (px*channels + ch) * sb
		if sb == 1 {
			return uint32(row[off])
		}
		return uint32(be.Uint16(row[off:]))
	}

	channels := img.IHDR.ColorType.Channels()
	for _, r := range img.rows() {
		row := img.Data[r.start : r.start+r.bytes]
		for px := 0; px < r.pixels; px++ {
			switch img.IHDR.ColorType {
			case Grayscale:
				v := sample(row, px, 0, channels)
				g := scaleSample(v, depth)
				a := uint16(65535)
				if img.Transparency != nil && v == uint32(be.Uint16(img.Transparency)) {
					a = 0
				}
				out = append(out, g, g, g, a)
			case Indexed:
				idx := int(sample(row, px, 0, channels))
				var e RGBA8
				if idx < len(img.Palette) {
					e = img.Palette[idx]
				}
				out = append(out,
					uint16(e.R)*257, uint16(e.G)*257, uint16(e.B)*257, uint16(e.A)*257)
			case GrayscaleAlpha:
				g := scaleSample(sample(row, px, 0, channels), depth)
				a := scaleSample(sample(row, px, 1, channels), depth)
				out = append(out, g, g, g, a)
			case RGB:
				rv := sample(row, px, 0, channels)
				gv := sample(row, px, 1, channels)
				bv := sample(row, px, 2, channels)
				a := uint16(65535)
				if img.Transparency != nil &&
					rv == uint32(be.Uint16(img.Transparency[0:])) &&
					gv == uint32(be.Uint16(img.Transparency[2:])) &&
					bv == uint32(be.Uint16(img.Transparency[4:])) {
					a = 0
				}
				out = append(out,
					scaleSample(rv, depth), scaleSample(gv, depth), scaleSample(bv, depth), a)
			case RGBA:
				out = append(out,
					scaleSample(sample(row, px, 0, channels), depth),
					scaleSample(sample(row, px, 1, channels), depth),
					scaleSample(sample(row, px, 2, channels), depth),
					scaleSample(sample(row, px, 3, channels), depth))
			}
		}
	}
	return out
}
