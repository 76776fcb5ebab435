package replay

import (
	"context"
	"errors"
	"time"
)

type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type realSleeper struct{}

func (realSleeper) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Sink receives replayed payloads; udp.Sender implements it.
type Sink interface {
	WriteDatagram(payload []byte) error
}

type PlayOptions struct {
	// Speed scales playback: 2 halves every wait. Defaults to 1.
	Speed float64
	Loop  bool
	// Sleeper is overridden in tests.
	Sleeper Sleeper
}

// Play sends every payload to sink, preserving relative timing. START
// markers reset the origin so concatenated captures play back to back.
// Play returns ctx.Err() when cancelled and the first sink error otherwise.
func Play(ctx context.Context, records []Record, opts PlayOptions, sink Sink) error {
	if opts.Speed < 0 {
		return errors.New("replay: speed must be > 0")
	}
	if opts.Speed == 0 {
		opts.Speed = 1
	}
	if opts.Sleeper == nil {
		opts.Sleeper = realSleeper{}
	}
	if sink == nil {
		return errors.New("replay: sink is nil")
	}
	if len(records) == 0 {
		return errors.New("replay: no records")
	}

	for {
		var origin, lastAt time.Duration
		haveLast := false

		for _, r := range records {
			if r.IsStart() {
				origin = r.At
				lastAt = 0
				haveLast = false
				continue
			}

			at := max(r.At-origin, 0)
			if haveLast {
				wait := time.Duration(float64(max(at-lastAt, 0)) / opts.Speed)
				if wait > 0 {
					if err := opts.Sleeper.Sleep(ctx, wait); err != nil {
						return err
					}
				}
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := sink.WriteDatagram(r.Payload); err != nil {
				return err
			}
			lastAt = at
			haveLast = true
		}

		if !opts.Loop {
			return nil
		}
	}
}
