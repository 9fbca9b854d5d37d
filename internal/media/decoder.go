package media

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"

	"github.com/pion/logging"

	"framebridge/native/internal/logx"
)

const (
	// maxImageSize bounds a single MJPEG image read from ffmpeg.
	maxImageSize = 16 << 20
	frameBuffer  = 2
)

// ErrDecoderClosed is returned by Write after Close.
var ErrDecoderClosed = errors.New("decoder closed")

// FFmpegArgs returns the ffmpeg arguments: raw H264 Annex-B on stdin,
// MJPEG image2pipe on stdout.
func FFmpegArgs() []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-fflags", "nobuffer",
		"-flags", "low_delay",
		"-f", "h264",
		"-i", "pipe:0",
		"-f", "image2pipe",
		"-c:v", "mjpeg",
		"-q:v", "2",
		"pipe:1",
	}
}

// FFmpegDecoder decodes H264 access units through an ffmpeg subprocess.
type FFmpegDecoder struct {
	cmd    *exec.Cmd
	cancel context.CancelFunc
	stdin  io.WriteCloser
	frames chan image.Image
	log    logging.LeveledLogger

	mu        sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
	err       error
	dropped   atomic.Uint64
}

// StartFFmpeg launches ffmpeg at path. The process is killed when ctx is
// done or Close is called.
func StartFFmpeg(ctx context.Context, path string, lf logging.LoggerFactory) (*FFmpegDecoder, error) {
	if lf == nil {
		lf = logx.Discard()
	}
	ctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx, path, FFmpegArgs()...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("ffmpeg stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("ffmpeg stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("ffmpeg stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	d := &FFmpegDecoder{
		cmd:    cmd,
		cancel: cancel,
		stdin:  stdin,
		frames: make(chan image.Image, frameBuffer),
		log:    lf.NewLogger("media"),
		done:   make(chan struct{}),
	}
	d.log.Infof("ffmpeg started (pid %d)", cmd.Process.Pid)

	go d.wait(stdout, stderr)
	return d, nil
}

func (d *FFmpegDecoder) wait(stdout, stderr io.Reader) {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sc := bufio.NewScanner(stderr)
		for sc.Scan() {
			d.log.Warnf("ffmpeg: %s", sc.Text())
		}
	}()

	streamErr := decodeStream(stdout, d.push)
	wg.Wait()
	waitErr := d.cmd.Wait()

	switch {
	case d.closed.Load():
		d.err = ErrDecoderClosed
	case streamErr != nil:
		d.err = streamErr
	case waitErr != nil:
		d.err = fmt.Errorf("ffmpeg exited: %w", waitErr)
	default:
		d.err = io.EOF
	}
	close(d.frames)
	close(d.done)
}

// push delivers img, replacing the oldest buffered frame when the consumer
// lags.
func (d *FFmpegDecoder) push(img image.Image) {
	for {
		select {
		case d.frames <- img:
			return
		default:
		}
		select {
		case <-d.frames:
			d.dropped.Add(1)
		default:
		}
	}
}

// decodeStream splits r into JPEG images and hands each decoded image to
// emit. Undecodable images are skipped.
func decodeStream(r io.Reader, emit func(image.Image)) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 256<<10), maxImageSize)
	sc.Split(ScanJPEG)
	for sc.Scan() {
		img, err := jpeg.Decode(bytes.NewReader(sc.Bytes()))
		if err != nil {
			continue
		}
		emit(img)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read ffmpeg output: %w", err)
	}
	return nil
}

// Write feeds one Annex-B access unit to ffmpeg.
func (d *FFmpegDecoder) Write(au []byte) error {
	if d.closed.Load() {
		return ErrDecoderClosed
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.stdin.Write(au); err != nil {
		return fmt.Errorf("write to ffmpeg: %w", err)
	}
	return nil
}

// Frames delivers decoded images. It is closed when ffmpeg exits; Err then
// reports why.
func (d *FFmpegDecoder) Frames() <-chan image.Image {
	return d.frames
}

// Err returns the reason the frame stream ended, or nil while it is open.
func (d *FFmpegDecoder) Err() error {
	select {
	case <-d.done:
		return d.err
	default:
		return nil
	}
}

// Dropped returns the number of frames discarded because the consumer lagged.
func (d *FFmpegDecoder) Dropped() uint64 {
	return d.dropped.Load()
}

// EndInput closes ffmpeg's stdin so it flushes pending frames and exits.
// Frames is closed with Err() == io.EOF once that happens.
func (d *FFmpegDecoder) EndInput() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stdin.Close()
}

// Close kills ffmpeg and waits for it to exit.
func (d *FFmpegDecoder) Close() error {
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		d.cancel()
		d.mu.Lock()
		d.stdin.Close()
		d.mu.Unlock()
		<-d.done
	})
	return nil
}
