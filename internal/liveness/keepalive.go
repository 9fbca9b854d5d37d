package liveness

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pion/logging"

	"framebridge/native/internal/domain"
	"framebridge/native/internal/logx"
)

// DefaultKeepAliveInterval is the ping period on the data channel.
const DefaultKeepAliveInterval = 10 * time.Second

// KeepAliveOptions configures a KeepAlive.
type KeepAliveOptions struct {
	Every         time.Duration
	Now           func() time.Time
	LoggerFactory logging.LoggerFactory
}

// KeepAlive sends numbered pings over an open data channel.
type KeepAlive struct {
	ch    domain.DataChannel
	every time.Duration
	now   func() time.Time
	log   logging.LeveledLogger
	seq   atomic.Uint64
}

func NewKeepAlive(ch domain.DataChannel, opts KeepAliveOptions) *KeepAlive {
	if opts.Every <= 0 {
		opts.Every = DefaultKeepAliveInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.LoggerFactory == nil {
		opts.LoggerFactory = logx.Discard()
	}
	return &KeepAlive{
		ch:    ch,
		every: opts.Every,
		now:   opts.Now,
		log:   opts.LoggerFactory.NewLogger("keepalive"),
	}
}

// Sent returns the number of pings sent.
func (k *KeepAlive) Sent() uint64 {
	return k.seq.Load()
}

// Run pings until ctx is done or the channel is found closed or broken on a
// tick. It does not wait for the channel to reopen.
func (k *KeepAlive) Run(ctx context.Context) error {
	ticker := time.NewTicker(k.every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if !k.ch.IsOpen() {
			k.log.Warnf("data channel %q not open, stopping after %d pings", k.ch.Label(), k.seq.Load())
			return nil
		}

		seq := k.seq.Load() + 1
		msg := fmt.Sprintf("ping_%d_%d", seq, k.now().Unix())
		if err := k.ch.SendText(msg); err != nil {
			k.log.Warnf("ping failed, stopping: %v", err)
			return nil
		}
		k.seq.Store(seq)
		k.log.Debugf("sent %s", msg)
	}
}
