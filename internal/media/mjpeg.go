// Package media turns H264 access units into decoded images using an
// ffmpeg subprocess.
package media

import (
	"bytes"
)

var (
	markerSOI = []byte{0xFF, 0xD8}
	markerEOI = []byte{0xFF, 0xD9}
)

// ScanJPEG is a bufio.SplitFunc that yields whole JPEG images from a
// concatenated MJPEG stream. Bytes outside SOI..EOI are skipped and a
// truncated image at EOF is dropped.
func ScanJPEG(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if len(data) == 0 {
		return 0, nil, nil
	}

	soi := bytes.Index(data, markerSOI)
	if soi < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		// Keep a trailing 0xFF that may start the next marker.
		return len(data) - 1, nil, nil
	}

	eoi := bytes.Index(data[soi+len(markerSOI):], markerEOI)
	if eoi < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		return soi, nil, nil
	}

	end := soi + len(markerSOI) + eoi + len(markerEOI)
	return end, data[soi:end], nil
}
