package pngshrink

import "hash/crc32"

// ColorType is a single-byte integer that describes the interpretation of
// the image data. Valid values are 0, 2, 3, 4, and 6.
type ColorType uint8

const (
	Grayscale      ColorType = 0
	RGB            ColorType = 2
	Indexed        ColorType = 3
	GrayscaleAlpha ColorType = 4
	RGBA           ColorType = 6
)

func (c ColorType) String() string {
	switch c {
	case Grayscale:
		return "Grayscale"
	case RGB:
		return "RGB"
	case Indexed:
		return "Indexed"
	case GrayscaleAlpha:
		return "Grayscale + Alpha"
	case RGBA:
		return "RGB + Alpha"
	}
	return "Unknown"
}

// Channels returns the number of samples per pixel.
func (c ColorType) Channels() int {
	switch c {
	case RGB:
		return 3
	case GrayscaleAlpha:
		return 2
	case RGBA:
		return 4
	}
	return 1
}

func (c ColorType) HasAlpha() bool {
	return c == GrayscaleAlpha || c == RGBA
}

// BitDepth gives the number of bits per sample or per palette index.
// Valid values are 1, 2, 4, 8, and 16, although not all values are allowed
// for all color types.
type BitDepth uint8

// validDepth implements the allowed combinations table from the PNG spec:
// Grayscale admits all depths, Indexed admits 1/2/4/8, the rest admit 8/16.
func (c ColorType) validDepth(d BitDepth) bool {
	switch c {
	case Grayscale:
		return d == 1 || d == 2 || d == 4 || d == 8 || d == 16
	case Indexed:
		return d == 1 || d == 2 || d == 4 || d == 8
	case RGB, GrayscaleAlpha, RGBA:
		return d == 8 || d == 16
	}
	return false
}

// Interlacing is the transmission order of the image data: 0 (no interlace)
// or 1 (Adam7 interlace).
type Interlacing uint8

const (
	InterlaceNone  Interlacing = 0
	InterlaceAdam7 Interlacing = 1
)

func (i Interlacing) String() string {
	if i == InterlaceAdam7 {
		return "interlaced"
	}
	return "not interlaced"
}

// IHDR carries the decoded image header. Compression method and filter
// method are always zero in conformant files and are not stored.
type IHDR struct {
	Width      uint32
	Height     uint32
	BitDepth   BitDepth
	ColorType  ColorType
	Interlaced Interlacing
}

// ChunkMap is an ordered mapping from chunk name to payload, preserving the
// insertion order of first occurrence. Decoders may honor chunk order, so
// serialization replays it.
type ChunkMap struct {
	keys []ChunkName
	vals map[ChunkName][]byte
}

func NewChunkMap() *ChunkMap {
	return &ChunkMap{vals: make(map[ChunkName][]byte)}
}

func (m *ChunkMap) Get(name ChunkName) ([]byte, bool) {
	v, ok := m.vals[name]
	return v, ok
}

func (m *ChunkMap) Set(name ChunkName, data []byte) {
	if _, ok := m.vals[name]; !ok {
		m.keys = append(m.keys, name)
	}
	m.vals[name] = data
}

func (m *ChunkMap) Delete(name ChunkName) {
	if _, ok := m.vals[name]; !ok {
		return
	}
	delete(m.vals, name)
	for i, k := range m.keys {
		if k == name {
			m.keys = append(m.keys[:i], m.keys[i+1:]...)
			break
		}
	}
}

func (m *ChunkMap) Len() int {
	return len(m.keys)
}

// Names returns the chunk names in insertion order.
func (m *ChunkMap) Names() []ChunkName {
	out := make([]ChunkName, len(m.keys))
	copy(out, m.keys)
	return out
}

// Retain keeps only the entries for which keep returns true.
func (m *ChunkMap) Retain(keep func(ChunkName) bool) {
	kept := m.keys[:0]
	for _, k := range m.keys {
		if keep(k) {
			kept = append(kept, k)
		} else {
			delete(m.vals, k)
		}
	}
	m.keys = kept
}

func (m *ChunkMap) Clone() *ChunkMap {
	out := NewChunkMap()
	for _, k := range m.keys {
		data := make([]byte, len(m.vals[k]))
		copy(data, m.vals[k])
		out.Set(k, data)
	}
	return out
}

// StripChunks selects which ancillary chunks to remove from the file.
type StripChunks struct {
	kind stripKind
	set  map[ChunkName]bool
}

type stripKind uint8

const (
	stripNone stripKind = iota
	stripSafe
	stripKeep
	stripList
	stripAll
)

// StripNone keeps every ancillary chunk.
func StripNone() StripChunks { return StripChunks{kind: stripNone} }

// StripSafe removes every ancillary chunk except those that affect how the
// image is rendered: cICP, iCCP, sBIT, sRGB and pHYs.
func StripSafe() StripChunks { return StripChunks{kind: stripSafe} }

// StripKeep removes every ancillary chunk not named.
func StripKeep(names ...ChunkName) StripChunks {
	return StripChunks{kind: stripKeep, set: nameSet(names)}
}

// StripList removes exactly the named chunks.
func StripList(names ...ChunkName) StripChunks {
	return StripChunks{kind: stripList, set: nameSet(names)}
}

// StripAll removes every ancillary chunk.
func StripAll() StripChunks { return StripChunks{kind: stripAll} }

func nameSet(names []ChunkName) map[ChunkName]bool {
	set := make(map[ChunkName]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}

var safeChunks = map[ChunkName]bool{
	CICPChunk: true,
	ICCPChunk: true,
	SBITChunk: true,
	SRGBChunk: true,
	PHYSChunk: true,
}

func (s StripChunks) keeps(name ChunkName) bool {
	switch s.kind {
	case stripNone:
		return true
	case stripSafe:
		return safeChunks[name]
	case stripKeep:
		return s.set[name]
	case stripList:
		return !s.set[name]
	}
	return false
}

// mayReplaceIccp reports whether the strip policy permits canonicalizing an
// sRGB-equivalent iCCP profile into an sRGB chunk.
func (s StripChunks) mayReplaceIccp() bool {
	switch s.kind {
	case stripSafe:
		return true
	case stripKeep:
		return s.set[SRGBChunk]
	case stripList:
		return !s.set[SRGBChunk]
	}
	return false
}

// The known sRGB profiles, identified by the MD5 in the ICC Profile ID
// header field (offset 84..100). Same list as libpng's png_sRGB_checks.
var srgbProfileIDs = [][16]byte{
	{0x29, 0xf8, 0x3d, 0xde, 0xaf, 0xf2, 0x55, 0xae, 0x78, 0x42, 0xfa, 0xe4, 0xca, 0x83, 0x39, 0x0d},
	{0xc9, 0x5b, 0xd6, 0x37, 0xe9, 0x5d, 0x8a, 0x3b, 0x0d, 0xf3, 0x8f, 0x99, 0xc1, 0x32, 0x03, 0x89},
	{0xfc, 0x66, 0x33, 0x78, 0x37, 0xe2, 0x88, 0x6b, 0xfd, 0x72, 0xe9, 0x83, 0x82, 0x28, 0xf1, 0xb8},
	{0x34, 0x56, 0x2a, 0xbf, 0x99, 0x4c, 0xcd, 0x06, 0x6d, 0x2c, 0x57, 0x21, 0xd0, 0xd6, 0x8c, 0x5d},
}

// Known-bad sRGB profiles ship with a zeroed Profile ID and are identified
// by CRC32 and length instead. Fixed allow-list.
var badSrgbProfiles = []struct {
	crc    uint32
	length int
}{
	{0x5d5129ce, 3024},
	{0x182ea552, 3144},
	{0xf29e526d, 3144},
}

// srgbRenderingIntent checks whether an iCCP payload holds an sRGB profile
// and, if so, returns the profile's rendering-intent byte.
func srgbRenderingIntent(iccp []byte) (uint8, bool) {
	// Skip the profile name up to its NUL terminator.
	i := 0
	for {
		if i >= len(iccp) {
			return 0, false
		}
		if iccp[i] == 0 {
			i++
			break
		}
		i++
	}
	if i >= len(iccp) || iccp[i] != 0 {
		// The profile is supposed to be compressed (method 0).
		return 0, false
	}
	// The decompressed size is unknown so the buffer size is a guess.
	maxSize := len(iccp[i+1:]) * 2
	if maxSize < 1000 {
		maxSize = 1000
	}
	icc, err := inflateLimit(iccp[i+1:], maxSize)
	if err != nil || len(icc) < 100 {
		return 0, false
	}
	intent := icc[67]
	var id [16]byte
	copy(id[:], icc[84:100])
	for _, known := range srgbProfileIDs {
		if id == known {
			return intent, true
		}
	}
	if id == [16]byte{} {
		crc := crc32.ChecksumIEEE(icc)
		for _, bad := range badSrgbProfiles {
			if crc == bad.crc && len(icc) == bad.length {
				return intent, true
			}
		}
	}
	return 0, false
}
