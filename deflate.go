package pngshrink

import (
	"bytes"
	stdzlib "compress/zlib"
	"io"
	"math"

	kflate "github.com/klauspost/compress/flate"
	kzlib "github.com/klauspost/compress/zlib"
	"github.com/pkg/errors"
)

// Deflater is one strategy for producing an IDAT stream. Implementations
// are pure: the same input always yields the same output, which keeps
// trials reproducible.
type Deflater interface {
	// Deflate compresses data into a zlib stream. bestSize, when non-nil,
	// is a ceiling: implementations may return DeflatedTooLongError as soon
	// as the output is known to exceed it.
	Deflate(data []byte, bestSize *AtomicMin) ([]byte, error)
	// compressionLevel reports the cheap level for trial bookkeeping, or 0
	// when the strategy has no level semantics.
	compressionLevel() int
}

// CheapDeflater compresses at a fixed level from 1 to 12. Levels above the
// backend's maximum clamp to its best setting; the scale is kept so preset
// numbering stays meaningful.
type CheapDeflater struct {
	Compression int
}

func (d CheapDeflater) compressionLevel() int { return d.Compression }

func (d CheapDeflater) Deflate(data []byte, bestSize *AtomicMin) ([]byte, error) {
	return deflate(data, d.Compression, bestSize)
}

// HighQualityDeflater spends more time searching encoder configurations
// and keeps the smallest stream. It has no ceiling semantics.
type HighQualityDeflater struct {
	Iterations int
}

func (d HighQualityDeflater) compressionLevel() int { return 0 }

func (d HighQualityDeflater) Deflate(data []byte, _ *AtomicMin) ([]byte, error) {
	iters := d.Iterations
	if iters < 1 {
		iters = 15
	}
	var best []byte
	tried := 0
	for lvl := kzlib.BestCompression; lvl >= kzlib.BestSpeed && tried < iters; lvl-- {
		out, err := rawDeflate(data, lvl, math.MaxInt)
		tried++
		if err != nil {
			continue
		}
		if best == nil || len(out) < len(best) {
			best = out
		}
	}
	if tried < iters {
		// The standard encoder makes different split decisions and
		// occasionally wins.
		var buf bytes.Buffer
		zw, err := stdzlib.NewWriterLevel(&buf, stdzlib.BestCompression)
		if err == nil {
			if _, err = zw.Write(data); err == nil && zw.Close() == nil {
				if best == nil || buf.Len() < len(best) {
					best = buf.Bytes()
				}
			}
		}
	}
	if best == nil {
		return nil, errors.WithStack(ErrDeflateFailed)
	}
	return best, nil
}

// zlibLevel maps the 1..=12 facade scale onto the backend's level range.
func zlibLevel(level int) int {
	if level < 1 {
		return 1
	}
	if level > kzlib.BestCompression {
		return kzlib.BestCompression
	}
	return level
}

// deflate compresses data at the given facade level. When bestSize holds a
// ceiling, compression aborts with DeflatedTooLongError once the output
// exceeds it.
func deflate(data []byte, level int, bestSize *AtomicMin) ([]byte, error) {
	limit := math.MaxInt
	if bestSize != nil {
		if n, ok := bestSize.Get(); ok {
			limit = n
		}
	}
	return rawDeflate(data, zlibLevel(level), limit)
}

var errOverCeiling = errors.New("output exceeds trial ceiling")

// limitedWriter counts bytes and fails the stream once the limit is passed.
type limitedWriter struct {
	buf      bytes.Buffer
	limit    int
	exceeded bool
}

func (w *limitedWriter) Write(p []byte) (int, error) {
	if w.buf.Len()+len(p) > w.limit {
		w.exceeded = true
		return 0, errOverCeiling
	}
	return w.buf.Write(p)
}

func rawDeflate(data []byte, zlvl int, limit int) ([]byte, error) {
	lw := &limitedWriter{limit: limit}
	zw, err := kzlib.NewWriterLevel(lw, zlvl)
	if err != nil {
		return nil, errors.Wrap(ErrDeflateFailed, err.Error())
	}
	if _, err = zw.Write(data); err == nil {
		err = zw.Close()
	}
	if lw.exceeded {
		return nil, errors.WithStack(&DeflatedTooLongError{Size: lw.buf.Len() + 1})
	}
	if err != nil {
		return nil, errors.Wrap(ErrDeflateFailed, err.Error())
	}
	return lw.buf.Bytes(), nil
}

// inflate decompresses a zlib stream, typically the concatenated IDAT
// payloads.
func inflate(data []byte) ([]byte, error) {
	zr, err := stdzlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(ErrInflateFailed, err.Error())
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, errors.Wrap(ErrInflateFailed, err.Error())
	}
	return out, nil
}

// inflateLimit decompresses at most max bytes; anything past the limit is
// discarded. Used for probing embedded streams of unknown size.
func inflateLimit(data []byte, max int) ([]byte, error) {
	zr, err := stdzlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(ErrInflateFailed, err.Error())
	}
	defer zr.Close()
	out, err := io.ReadAll(io.LimitReader(zr, int64(max)))
	if err != nil {
		return nil, errors.Wrap(ErrInflateFailed, err.Error())
	}
	return out, nil
}

// deflateSizeEstimate measures how well a single row compresses under a
// fast encoder. Only the size is of interest.
func deflateSizeEstimate(row []byte) int {
	var cw countingWriter
	fw, err := kflate.NewWriter(&cw, kflate.BestSpeed)
	if err != nil {
		return len(row)
	}
	if _, err = fw.Write(row); err != nil {
		return len(row)
	}
	if err = fw.Close(); err != nil {
		return len(row)
	}
	return cw.n
}

type countingWriter struct {
	n int
}

func (w *countingWriter) Write(p []byte) (int, error) {
	w.n += len(p)
	return len(p), nil
}
