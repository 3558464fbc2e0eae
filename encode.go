package pngshrink

import "bytes"

// An IDAT payload larger than this is split across consecutive chunks.
const maxIdatChunkLen = 0x7fffffff

// Chunks that must appear after PLTE when present.
var postPaletteChunks = map[ChunkName]bool{
	BKGDChunk: true,
	HISTChunk: true,
}

// ihdrBytes serializes the 13-byte IHDR payload. Compression and filter
// method are always zero.
func ihdrBytes(hdr *IHDR) []byte {
	out := make([]byte, 13)
	be.PutUint32(out[0:4], hdr.Width)
	be.PutUint32(out[4:8], hdr.Height)
	out[8] = uint8(hdr.BitDepth)
	out[9] = uint8(hdr.ColorType)
	out[12] = uint8(hdr.Interlaced)
	return out
}

// Output serializes the image and its IDAT payload into a canonical byte
// stream: signature, IHDR, sRGB/iCCP, remaining ancillary chunks other than
// bKGD and hIST in their original relative order, PLTE, tRNS, bKGD/hIST,
// IDAT, IEND. Every chunk carries a correct CRC.
func (p *PngData) Output() []byte {
	img := p.Raw
	var w bytes.Buffer
	w.Grow(len(p.IdatData) + 256)
	w.Write(pngHeaderBytes)
	writeChunk(&w, IHDRChunk, ihdrBytes(&img.IHDR))

	aux := img.AuxHeaders
	if aux != nil {
		// sRGB and iCCP lead so color management is settled before any
		// pixel-affecting chunk.
		for _, name := range []ChunkName{SRGBChunk, ICCPChunk} {
			if data, ok := aux.Get(name); ok {
				writeChunk(&w, name, data)
			}
		}
		for _, name := range aux.Names() {
			if name == SRGBChunk || name == ICCPChunk || postPaletteChunks[name] {
				continue
			}
			data, _ := aux.Get(name)
			writeChunk(&w, name, data)
		}
	}

	if img.Palette != nil {
		plte := make([]byte, 3*len(img.Palette))
		for i, e := range img.Palette {
			plte[3*i] = e.R
			plte[3*i+1] = e.G
			plte[3*i+2] = e.B
		}
		writeChunk(&w, PLTEChunk, plte)
		if trns := trnsForPalette(img.Palette); trns != nil {
			writeChunk(&w, TRNSChunk, trns)
		}
	} else if img.Transparency != nil {
		writeChunk(&w, TRNSChunk, img.Transparency)
	}

	if aux != nil {
		for _, name := range aux.Names() {
			if postPaletteChunks[name] {
				data, _ := aux.Get(name)
				writeChunk(&w, name, data)
			}
		}
	}

	idat := p.IdatData
	for len(idat) > maxIdatChunkLen {
		writeChunk(&w, IDATChunk, idat[:maxIdatChunkLen])
		idat = idat[maxIdatChunkLen:]
	}
	writeChunk(&w, IDATChunk, idat)
	writeChunk(&w, IENDChunk, nil)
	return w.Bytes()
}
