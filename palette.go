package pngshrink

import "sort"

// reducedPalette rebuilds an indexed image's palette: unused entries are
// dropped, duplicate colors are merged, and with optimizeAlpha all fully
// transparent entries collapse into one. Entries are then reordered by
// usage so frequent indexes sit early, which helps DEFLATE. Returns nil
// when nothing changes.
func reducedPalette(img *PngImage, optimizeAlpha bool) *PngImage {
	if img.IHDR.ColorType != Indexed {
		return nil
	}

	// A full-range count tolerates samples that address past the palette;
	// such an image has no entry to rebuild around, so it is left alone.
	var counts [256]int
	forEachIndex(img, func(idx uint8) {
		counts[idx]++
	})
	for i := len(img.Palette); i < 256; i++ {
		if counts[i] > 0 {
			return nil
		}
	}

	// Merge duplicates onto the first entry with the same color. Fully
	// transparent entries all render identically, so with optimizeAlpha
	// they share one slot regardless of their RGB.
	canonical := make([]int, len(img.Palette))
	byColor := make(map[RGBA8]int, len(img.Palette))
	transparent := -1
	for i, entry := range img.Palette {
		key := entry
		if optimizeAlpha && entry.A == 0 {
			if transparent < 0 {
				transparent = i
			}
			canonical[i] = transparent
			continue
		}
		if first, ok := byColor[key]; ok {
			canonical[i] = first
		} else {
			byColor[key] = i
			canonical[i] = i
		}
	}

	// Survivors are canonical entries that some pixel maps onto.
	usage := make([]int, len(img.Palette))
	for i := range img.Palette {
		usage[canonical[i]] += counts[i]
	}
	type slot struct {
		orig  int
		count int
	}
	var kept []slot
	for i, u := range usage {
		if u > 0 && canonical[i] == i {
			kept = append(kept, slot{orig: i, count: u})
		}
	}
	if len(kept) == 0 {
		// Degenerate but legal: every sample must still resolve.
		kept = append(kept, slot{orig: 0, count: 0})
	}

	sort.SliceStable(kept, func(a, b int) bool {
		return kept[a].count > kept[b].count
	})

	var remap [256]uint8
	newPalette := make([]RGBA8, len(kept))
	for newIdx, s := range kept {
		newPalette[newIdx] = img.Palette[s.orig]
		remap[s.orig] = uint8(newIdx)
	}
	for i := range img.Palette {
		if canonical[i] != i {
			remap[i] = remap[canonical[i]]
		}
	}

	if paletteUnchanged(img.Palette, newPalette, remap[:]) {
		return nil
	}

	out := img.Clone()
	out.Palette = newPalette
	remapIndices(out, remap[:])
	return out
}

func paletteUnchanged(old, rebuilt []RGBA8, remap []uint8) bool {
	if len(old) != len(rebuilt) {
		return false
	}
	for i := range old {
		if old[i] != rebuilt[i] || remap[i] != uint8(i) {
			return false
		}
	}
	return true
}

// forEachIndex visits every palette index sample in scanline order.
func forEachIndex(img *PngImage, visit func(uint8)) {
	depth := img.IHDR.BitDepth
	for _, r := range img.rows() {
		row := img.Data[r.start : r.start+r.bytes]
		if depth == 8 {
			for _, v := range row {
				visit(v)
			}
			continue
		}
		for i := 0; i < r.pixels; i++ {
			visit(sampleAt(row, i, depth))
		}
	}
}

// remapIndices rewrites every sample through remap, in place on the
// cloned image.
func remapIndices(img *PngImage, remap []uint8) {
	depth := img.IHDR.BitDepth
	for _, r := range img.rows() {
		row := img.Data[r.start : r.start+r.bytes]
		if depth == 8 {
			for i, v := range row {
				row[i] = remap[v]
			}
			continue
		}
		packed := make([]byte, r.bytes)
		for i := 0; i < r.pixels; i++ {
			setSample(packed, i, depth, remap[sampleAt(row, i, depth)])
		}
		copy(row, packed)
	}
}

// trnsForPalette serializes palette alphas for tRNS, with trailing opaque
// entries omitted.
func trnsForPalette(palette []RGBA8) []byte {
	last := -1
	for i, e := range palette {
		if e.A != 255 {
			last = i
		}
	}
	if last < 0 {
		return nil
	}
	out := make([]byte, last+1)
	for i := 0; i <= last; i++ {
		out[i] = palette[i].A
	}
	return out
}
