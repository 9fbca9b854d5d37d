// Package relay encodes decoded frames and forwards them on the
// frame-output channel.
package relay

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"sync"
	"time"

	"github.com/pion/logging"
	"golang.org/x/time/rate"

	"framebridge/native/internal/domain"
	"framebridge/native/internal/logx"
)

const (
	DefaultQuality = 85
	// failureLogEvery bounds how often a persistent write failure is logged.
	failureLogEvery = 5 * time.Second
)

// Options configures a Relay.
type Options struct {
	Quality       int
	Now           func() time.Time
	LoggerFactory logging.LoggerFactory
}

// Stats is a snapshot of the relay counters.
type Stats struct {
	Relayed   uint64
	Dropped   uint64
	Failed    uint64
	BytesSent uint64
}

// Relay JPEG-encodes frames and writes them, timestamped, to a FrameSink.
// A nil or closed sink turns Relay into a no-op.
type Relay struct {
	sink    domain.FrameSink
	quality int
	now     func() time.Time
	log     logging.LeveledLogger

	mu      sync.Mutex
	buf     bytes.Buffer
	run     int
	failLog *rate.Sometimes
	stats   Stats
}

// New creates a Relay writing to sink, which may be nil.
func New(sink domain.FrameSink, opts Options) *Relay {
	if opts.Quality <= 0 || opts.Quality > 100 {
		opts.Quality = DefaultQuality
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.LoggerFactory == nil {
		opts.LoggerFactory = logx.Discard()
	}
	return &Relay{
		sink:    sink,
		quality: opts.Quality,
		now:     opts.Now,
		log:     opts.LoggerFactory.NewLogger("relay"),
		failLog: newFailureLimiter(),
	}
}

func newFailureLimiter() *rate.Sometimes {
	return &rate.Sometimes{First: 1, Interval: failureLogEvery}
}

// Relay sends one frame. Failures are counted and logged, never returned.
func (r *Relay) Relay(img image.Image) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sink == nil || r.sink.Closed() {
		r.stats.Dropped++
		return
	}

	msg, err := r.encode(img)
	if err != nil {
		r.fail(err)
		return
	}

	if err := r.sink.WriteMessage(msg); err != nil {
		r.fail(err)
		return
	}

	if r.run > 0 {
		r.log.Infof("frame sending resumed after %d failures", r.run)
		r.run = 0
		r.failLog = newFailureLimiter()
	}
	r.stats.Relayed++
	r.stats.BytesSent += uint64(len(msg))
}

// encode returns header || JPEG. The header is stamped after encoding so the
// timestamp reflects send time.
func (r *Relay) encode(img image.Image) ([]byte, error) {
	r.buf.Reset()
	r.buf.Write(make([]byte, HeaderSize))
	if err := jpeg.Encode(&r.buf, img, &jpeg.Options{Quality: r.quality}); err != nil {
		return nil, fmt.Errorf("jpeg encode: %w", err)
	}
	msg := bytes.Clone(r.buf.Bytes())
	PutHeader(msg, Timestamp(r.now()))
	return msg, nil
}

func (r *Relay) fail(err error) {
	r.run++
	r.stats.Failed++
	run := r.run
	r.failLog.Do(func() {
		r.log.Errorf("frame send failed (%d in a row): %v", run, err)
	})
}

// Stats returns the current counters.
func (r *Relay) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}
