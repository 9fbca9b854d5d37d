package media

import (
	"context"
	"errors"
	"image"
	"os/exec"
	"testing"
	"time"
)

func TestStartFFmpeg_MissingBinary(t *testing.T) {
	_, err := StartFFmpeg(context.Background(), "/nonexistent/ffmpeg", nil)
	if err == nil {
		t.Fatal("expected error for missing binary")
	}
}

func TestFFmpegDecoder_PushDropsOldest(t *testing.T) {
	d := &FFmpegDecoder{frames: make(chan image.Image, frameBuffer)}

	imgs := []image.Image{
		image.NewGray(image.Rect(0, 0, 1, 1)),
		image.NewGray(image.Rect(0, 0, 2, 2)),
		image.NewGray(image.Rect(0, 0, 3, 3)),
	}
	for _, img := range imgs {
		d.push(img)
	}

	if d.Dropped() != 1 {
		t.Errorf("expected 1 dropped frame, got %d", d.Dropped())
	}
	first := <-d.frames
	if first.Bounds().Dx() != 2 {
		t.Errorf("expected oldest frame dropped, got width %d first", first.Bounds().Dx())
	}
}

func TestFFmpegDecoder_CloseEndsStream(t *testing.T) {
	path, err := exec.LookPath("ffmpeg")
	if err != nil {
		t.Skip("ffmpeg not installed")
	}

	d, err := StartFFmpeg(context.Background(), path, nil)
	if err != nil {
		t.Fatalf("StartFFmpeg: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case _, ok := <-d.Frames():
		if ok {
			t.Error("expected no frames")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("frames channel not closed")
	}
	if !errors.Is(d.Err(), ErrDecoderClosed) {
		t.Errorf("expected ErrDecoderClosed, got %v", d.Err())
	}
	if err := d.Write([]byte{0, 0, 0, 1}); !errors.Is(err, ErrDecoderClosed) {
		t.Errorf("expected ErrDecoderClosed from Write, got %v", err)
	}
}
