package pngshrink

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"

	"github.com/pkg/errors"
)

// png format  https://www.w3.org/TR/PNG-Chunks.html
var be binary.ByteOrder = binary.BigEndian

type ChunkName string

const (
	IHDRChunk ChunkName = "IHDR"
	PLTEChunk ChunkName = "PLTE"
	IDATChunk ChunkName = "IDAT"
	IENDChunk ChunkName = "IEND"

	BKGDChunk ChunkName = "bKGD"
	CHRMChunk ChunkName = "cHRM"
	CICPChunk ChunkName = "cICP"
	GAMAChunk ChunkName = "gAMA"
	HISTChunk ChunkName = "hIST"
	ICCPChunk ChunkName = "iCCP"
	ITXTChunk ChunkName = "iTXt"
	PHYSChunk ChunkName = "pHYs"
	SBITChunk ChunkName = "sBIT"
	SRGBChunk ChunkName = "sRGB"
	TEXTChunk ChunkName = "tEXt"
	TIMEChunk ChunkName = "tIME"
	TRNSChunk ChunkName = "tRNS"
	ZTXTChunk ChunkName = "zTXt"
)

// chunk is the raw wire form: [len:u32 BE][type:4][data:len][crc:u32 BE].
// The CRC covers type+data.
type chunk struct {
	name ChunkName
	data []byte
	crc  uint32
}

func (c *chunk) crcValid() bool {
	crc := crc32.NewIEEE()
	crc.Write([]byte(c.name))
	crc.Write(c.data)
	return crc.Sum32() == c.crc
}

// readChunk reads the chunk starting at data[off] and returns it together
// with the offset of the next chunk. The CRC is read but not verified here;
// the decoder decides how strict to be.
func readChunk(data []byte, off int) (*chunk, int, error) {
	if len(data)-off < 12 {
		return nil, 0, errors.WithStack(ErrTruncatedChunk)
	}
	length := int(be.Uint32(data[off : off+4]))
	if length < 0 || len(data)-off-12 < length {
		return nil, 0, errors.WithStack(ErrTruncatedChunk)
	}
	name := ChunkName(data[off+4 : off+8])
	payload := data[off+8 : off+8+length]
	crc := be.Uint32(data[off+8+length : off+12+length])
	return &chunk{name: name, data: payload, crc: crc}, off + 12 + length, nil
}

// writeChunk appends one complete chunk, with its CRC, to w.
func writeChunk(w *bytes.Buffer, name ChunkName, data []byte) {
	var header [8]byte
	be.PutUint32(header[:4], uint32(len(data)))
	copy(header[4:], name)
	w.Write(header[:])
	w.Write(data)
	crc := crc32.NewIEEE()
	crc.Write(header[4:])
	crc.Write(data)
	var footer [4]byte
	be.PutUint32(footer[:], crc.Sum32())
	w.Write(footer[:])
}
