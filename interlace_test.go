package pngshrink

import (
	"bytes"
	"testing"
)

func TestInterlaceRoundTrip(t *testing.T) {
	cases := []struct {
		name  string
		ct    ColorType
		depth BitDepth
		w, h  int
	}{
		{"rgba8 odd", RGBA, 8, 5, 7},
		{"gray16", Grayscale, 16, 9, 3},
		{"gray1", Grayscale, 1, 13, 5},
		{"indexed4", Indexed, 4, 6, 6},
		{"1x1", Grayscale, 8, 1, 1},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			size := rowBytes(c.w, c.ct.Channels()*int(c.depth)) * c.h
			img := newTestImage(t, c.ct, c.depth, c.w, c.h, testPattern(size))
			if c.ct == Indexed {
				img.Palette = make([]RGBA8, 16)
				for i := range img.Palette {
					img.Palette[i] = RGBA8{uint8(i * 16), uint8(i), 0, 255}
				}
			}

			inter := changeInterlacing(img, InterlaceAdam7)
			if inter == nil {
				t.Fatal("interlacing change returned nil")
			}
			if inter.IHDR.Interlaced != InterlaceAdam7 {
				t.Fatal("interlace flag not set")
			}
			back := changeInterlacing(inter, InterlaceNone)
			if back == nil {
				t.Fatal("deinterlacing returned nil")
			}
			if !bytes.Equal(back.Data, img.Data) {
				t.Errorf("round trip altered pixel data\n got % x\nwant % x", back.Data, img.Data)
			}
		})
	}
}

func TestInterlacePreservesPixels(t *testing.T) {
	img := newTestImage(t, RGB, 8, 4, 9, testPattern(4*9*3))
	inter := interlaced(img)
	if !equalUint16(pixels16(img), pixels16(inter)) {
		t.Error("interlacing changed visible pixels")
	}
}

func TestChangeInterlacingNoop(t *testing.T) {
	img := newTestImage(t, Grayscale, 8, 2, 2, []byte{1, 2, 3, 4})
	if changeInterlacing(img, InterlaceNone) != nil {
		t.Error("no-op interlacing change should return nil")
	}
}

func equalUint16(a, b []uint16) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
