package audio

import (
	"context"
	"time"
)

// pacer releases one frame per [FrameDuration] measured from the first call,
// so a synthetic or file source behaves like a live microphone. Deadlines are
// computed from the stream origin rather than the previous frame so that
// scheduling jitter does not accumulate into drift.
type pacer struct {
	start time.Time
	n     int
}

func (p *pacer) wait(ctx context.Context) error {
	if p.start.IsZero() {
		p.start = time.Now()
	}
	due := p.start.Add(time.Duration(p.n) * FrameDuration)
	p.n++
	wait := time.Until(due)
	if wait <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
