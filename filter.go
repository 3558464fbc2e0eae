package pngshrink

import (
	"math"

	"github.com/pkg/errors"
)

// RowFilter selects how scanlines are filtered before compression. The
// first five values are the PNG line filters; the rest are heuristic
// choosers that pick one of the five per row.
type RowFilter uint8

const (
	FilterNone    RowFilter = 0
	FilterSub     RowFilter = 1
	FilterUp      RowFilter = 2
	FilterAverage RowFilter = 3
	FilterPaeth   RowFilter = 4
	FilterMinSum  RowFilter = 5
	FilterEntropy RowFilter = 6
	FilterBigrams RowFilter = 7
	FilterBigEnt  RowFilter = 8
	FilterBrute   RowFilter = 9
)

func (f RowFilter) String() string {
	switch f {
	case FilterNone:
		return "None"
	case FilterSub:
		return "Sub"
	case FilterUp:
		return "Up"
	case FilterAverage:
		return "Average"
	case FilterPaeth:
		return "Paeth"
	case FilterMinSum:
		return "MinSum"
	case FilterEntropy:
		return "Entropy"
	case FilterBigrams:
		return "Bigrams"
	case FilterBigEnt:
		return "BigEnt"
	case FilterBrute:
		return "Brute"
	}
	return "Unknown"
}

// paeth is the predictor from the PNG spec: the neighbor (left, above,
// upper-left) closest to p = a + b - c.
func paeth(a, b, c uint8) uint8 {
	pa := abs(int(b) - int(c))
	pb := abs(int(a) - int(c))
	pc := abs(int(a) + int(b) - 2*int(c))
	if pa <= pb && pa <= pc {
		return a
	}
	if pb <= pc {
		return b
	}
	return c
}

func abs(d int) int {
	if d < 0 {
		return -d
	}
	return d
}

// The absolute value of a byte interpreted as a signed int8.
func abs8(d uint8) int {
	if d < 128 {
		return int(d)
	}
	return 256 - int(d)
}

// filterRow writes filter ft of cur into out. prev is the reconstructed
// previous row (all zeroes on the first row of a pass).
func filterRow(ft RowFilter, cur, prev []byte, bpp int, out []byte) {
	switch ft {
	case FilterNone:
		copy(out, cur)
	case FilterSub:
		for i := 0; i < bpp; i++ {
			out[i] = cur[i]
		}
		for i := bpp; i < len(cur); i++ {
			out[i] = cur[i] - cur[i-bpp]
		}
	case FilterUp:
		for i := range cur {
			out[i] = cur[i] - prev[i]
		}
	case FilterAverage:
		for i := 0; i < bpp; i++ {
			out[i] = cur[i] - prev[i]/2
		}
		for i := bpp; i < len(cur); i++ {
			out[i] = cur[i] - uint8((int(cur[i-bpp])+int(prev[i]))/2)
		}
	case FilterPaeth:
		for i := 0; i < bpp; i++ {
			out[i] = cur[i] - prev[i]
		}
		for i := bpp; i < len(cur); i++ {
			out[i] = cur[i] - paeth(cur[i-bpp], prev[i], prev[i-bpp])
		}
	}
}

// unfilterRow reconstructs a filtered row in place. prev is the
// reconstructed previous row.
func unfilterRow(tag uint8, cur, prev []byte, bpp int) error {
	switch RowFilter(tag) {
	case FilterNone:
	case FilterSub:
		for i := bpp; i < len(cur); i++ {
			cur[i] += cur[i-bpp]
		}
	case FilterUp:
		for i, p := range prev {
			cur[i] += p
		}
	case FilterAverage:
		for i := 0; i < bpp; i++ {
			cur[i] += prev[i] / 2
		}
		for i := bpp; i < len(cur); i++ {
			cur[i] += uint8((int(cur[i-bpp]) + int(prev[i])) / 2)
		}
	case FilterPaeth:
		for i := 0; i < bpp; i++ {
			cur[i] += prev[i]
		}
		for i := bpp; i < len(cur); i++ {
			cur[i] += paeth(cur[i-bpp], prev[i], prev[i-bpp])
		}
	default:
		return errors.WithStack(&InvalidHeaderError{Reason: "bad filter type"})
	}
	return nil
}

// unfilterImage reverses row filtering over the whole scanline sequence,
// producing the raw sample buffer. The previous row resets at each
// interlace pass.
func unfilterImage(img *PngImage, filtered []byte) ([]byte, error) {
	rows := img.rows()
	want := 0
	for _, r := range rows {
		want += r.bytes + 1
	}
	if len(filtered) != want {
		return nil, errors.WithStack(ErrInflateFailed)
	}
	bpp := img.bytesPerPixel()
	out := make([]byte, want-len(rows))
	var prev []byte
	in := 0
	for _, r := range rows {
		if r.newPass {
			prev = make([]byte, r.bytes)
		}
		tag := filtered[in]
		cur := out[r.start : r.start+r.bytes]
		copy(cur, filtered[in+1:in+1+r.bytes])
		if err := unfilterRow(tag, cur, prev, bpp); err != nil {
			return nil, err
		}
		prev = cur
		in += r.bytes + 1
	}
	return out, nil
}

// rowScratch holds the per-row buffers the heuristic choosers reuse.
type rowScratch struct {
	cand   [5][]byte
	bigram []uint32
	seen   []uint16
}

func newRowScratch(maxRow int) *rowScratch {
	s := &rowScratch{}
	for i := range s.cand {
		s.cand[i] = make([]byte, maxRow)
	}
	return s
}

// FilterImage applies the given filter mode across the scanline sequence
// and returns the filtered stream: for each row, a 1-byte filter tag
// followed by the filtered bytes. Heuristic modes choose per row.
func FilterImage(img *PngImage, f RowFilter) []byte {
	rows := img.rows()
	bpp := img.bytesPerPixel()
	maxRow := 0
	for _, r := range rows {
		if r.bytes > maxRow {
			maxRow = r.bytes
		}
	}
	out := make([]byte, 0, len(img.Data)+len(rows))
	scratch := newRowScratch(maxRow)
	var prev []byte
	for _, r := range rows {
		if r.newPass {
			prev = make([]byte, r.bytes)
		}
		cur := img.Data[r.start : r.start+r.bytes]
		tag := f
		var filtered []byte
		if f <= FilterPaeth {
			filtered = scratch.cand[f][:r.bytes]
			filterRow(f, cur, prev, bpp, filtered)
		} else {
			tag, filtered = chooseRowFilter(f, cur, prev, bpp, scratch)
		}
		out = append(out, byte(tag))
		out = append(out, filtered...)
		prev = cur
	}
	return out
}

// chooseRowFilter scores all five candidate filters for one row under the
// given heuristic and returns the winner. Ties keep the lower filter tag.
func chooseRowFilter(h RowFilter, cur, prev []byte, bpp int, s *rowScratch) (RowFilter, []byte) {
	best := FilterNone
	bestCost := math.Inf(1)
	for ft := FilterNone; ft <= FilterPaeth; ft++ {
		cand := s.cand[ft][:len(cur)]
		filterRow(ft, cur, prev, bpp, cand)
		var cost float64
		switch h {
		case FilterMinSum:
			cost = float64(sumAbs(cand))
		case FilterEntropy:
			cost = byteEntropyBits(cand)
		case FilterBigrams:
			cost = s.bigramEntropyBits(cand)
		case FilterBigEnt:
			cost = s.bigramEntropyBits(cand) + float64(sumAbs(cand))/8
		case FilterBrute:
			cost = float64(compressedRowSize(cand))
		}
		if cost < bestCost {
			bestCost = cost
			best = ft
		}
	}
	return best, s.cand[best][:len(cur)]
}

func sumAbs(row []byte) uint64 {
	var sum uint64
	for _, v := range row {
		sum += uint64(abs8(v))
	}
	return sum
}

// byteEntropyBits is the Shannon information content of the row under its
// own byte histogram.
func byteEntropyBits(row []byte) float64 {
	var hist [256]uint32
	for _, v := range row {
		hist[v]++
	}
	n := float64(len(row))
	var total float64
	for _, c := range hist {
		if c == 0 {
			continue
		}
		total += float64(c) * math.Log2(n/float64(c))
	}
	return total
}

// bigramEntropyBits scores the row over adjacent byte pairs.
func (s *rowScratch) bigramEntropyBits(row []byte) float64 {
	if len(row) < 2 {
		return 0
	}
	if s.bigram == nil {
		s.bigram = make([]uint32, 1<<16)
	}
	for _, k := range s.seen {
		s.bigram[k] = 0
	}
	s.seen = s.seen[:0]
	for i := 0; i+1 < len(row); i++ {
		k := uint16(row[i])<<8 | uint16(row[i+1])
		if s.bigram[k] == 0 {
			s.seen = append(s.seen, k)
		}
		s.bigram[k]++
	}
	n := float64(len(s.seen))
	if n <= 1 {
		return 0
	}
	pairs := float64(len(row) - 1)
	var total float64
	for _, k := range s.seen {
		c := float64(s.bigram[k])
		total += c * math.Log2(pairs/c)
	}
	return total
}

// compressedRowSize trial-compresses one candidate row with a cheap
// compressor and returns its size.
func compressedRowSize(row []byte) int {
	return deflateSizeEstimate(row)
}
