// Package ratelimit throttles the data stream of a download to a fixed
// number of bytes per second.
//
// It is a thin byte-oriented layer over golang.org/x/time/rate: tokens are
// bytes, and the bucket holds up to one second worth of data (at most
// 64 KiB) so short bursts pass untouched while the average rate holds.
package ratelimit

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// maxChunkSize bounds a single wait so the limiter stays responsive.
const maxChunkSize = 64 * 1024

// Limiter limits throughput to a fixed number of bytes per second.
type Limiter struct {
	limiter *rate.Limiter
}

// New creates a limiter for the given rate. A rate of zero or less means
// unlimited and returns nil; a nil *Limiter is valid and never blocks.
func New(bytesPerSecond int64) *Limiter {
	if bytesPerSecond <= 0 {
		return nil
	}

	burst := int(min(bytesPerSecond, int64(maxChunkSize)))
	return &Limiter{
		limiter: rate.NewLimiter(rate.Limit(bytesPerSecond), burst),
	}
}

// Burst returns the largest number of bytes admitted at once.
func (l *Limiter) Burst() int {
	if l == nil {
		return 0
	}
	return l.limiter.Burst()
}

// wait blocks until n bytes may pass or ctx is done.
func (l *Limiter) wait(ctx context.Context, n int) error {
	if l == nil || n <= 0 {
		return nil
	}
	return l.limiter.WaitN(ctx, n)
}

type writer struct {
	ctx     context.Context
	w       io.Writer
	limiter *Limiter
}

// NewWriter creates a rate-limited writer. Writes are split into chunks no
// larger than the limiter's burst and each chunk waits for its tokens before
// it is written. If limiter is nil, w is returned unchanged.
func NewWriter(ctx context.Context, w io.Writer, limiter *Limiter) io.Writer {
	if limiter == nil {
		return w
	}
	return &writer{ctx: ctx, w: w, limiter: limiter}
}

// Write implements io.Writer with rate limiting.
func (w *writer) Write(p []byte) (int, error) {
	chunk := w.limiter.Burst()

	total := 0
	for total < len(p) {
		size := min(len(p)-total, chunk)

		if err := w.limiter.wait(w.ctx, size); err != nil {
			return total, err
		}

		n, err := w.w.Write(p[total : total+size])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
