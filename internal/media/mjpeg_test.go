package media

import (
	"bufio"
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"
)

func encodeJPEG(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func scanAll(data []byte, bufSize int) [][]byte {
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, bufSize), maxImageSize)
	sc.Split(ScanJPEG)
	var out [][]byte
	for sc.Scan() {
		out = append(out, bytes.Clone(sc.Bytes()))
	}
	return out
}

func TestScanJPEG_SplitsConcatenatedStream(t *testing.T) {
	a := encodeJPEG(t, 8, 8, color.RGBA{R: 255, A: 255})
	b := encodeJPEG(t, 16, 8, color.RGBA{B: 255, A: 255})

	var stream []byte
	stream = append(stream, []byte("junk")...)
	stream = append(stream, a...)
	stream = append(stream, 0x00, 0xFF)
	stream = append(stream, b...)
	stream = append(stream, a[:len(a)/2]...) // truncated tail

	// A small initial buffer forces the scanner through partial reads.
	for _, size := range []int{16, 64 << 10} {
		got := scanAll(stream, size)
		if len(got) != 2 {
			t.Fatalf("buffer %d: expected 2 images, got %d", size, len(got))
		}
		if !bytes.Equal(got[0], a) || !bytes.Equal(got[1], b) {
			t.Errorf("buffer %d: images not split at SOI/EOI", size)
		}
	}
}

func TestScanJPEG_NoImage(t *testing.T) {
	if got := scanAll([]byte{0x01, 0x02, 0xFF, 0xD9, 0x03}, 16); len(got) != 0 {
		t.Errorf("expected no images, got %d", len(got))
	}
}

func TestDecodeStream_EmitsDecodedImages(t *testing.T) {
	var stream []byte
	stream = append(stream, encodeJPEG(t, 8, 8, color.White)...)
	stream = append(stream, 0xFF, 0xD8, 0x00, 0x01, 0xFF, 0xD9) // not a JPEG body
	stream = append(stream, encodeJPEG(t, 32, 16, color.Black)...)

	var sizes []image.Point
	err := decodeStream(bytes.NewReader(stream), func(img image.Image) {
		sizes = append(sizes, img.Bounds().Size())
	})
	if err != nil {
		t.Fatalf("decodeStream: %v", err)
	}

	want := []image.Point{{8, 8}, {32, 16}}
	if len(sizes) != len(want) {
		t.Fatalf("expected %d images, got %v", len(want), sizes)
	}
	for i := range want {
		if sizes[i] != want[i] {
			t.Errorf("image %d: got %v, want %v", i, sizes[i], want[i])
		}
	}
}
