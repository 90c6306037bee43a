package emitter

import (
	"context"
	"errors"
	"iter"
	"time"

	"github.com/kroy-the-rabbit/weewx-mqtt/internal/pkg/model"
	"github.com/kroy-the-rabbit/weewx-mqtt/internal/pkg/translator"
)

// Emitter is the boundary the host polls. Each Poll blocks for one interval,
// runs a translation tick, and hands back that tick's records. Internal
// message or staleness conditions never surface here; only a fatal transport
// failure (delivered on the fatal channel) or context cancellation ends the
// poll loop.
//
// Emitter is built for a single consuming goroutine, matching a host driver
// that polls from one scheduling thread.
type Emitter struct {
	translator *translator.Translator
	interval   time.Duration
	fatal      <-chan error
	pending    []model.CanonicalObservation
}

func New(tr *translator.Translator, interval time.Duration, fatal <-chan error) *Emitter {
	return &Emitter{
		translator: tr,
		interval:   interval,
		fatal:      fatal,
	}
}

// Poll waits one poll interval, then returns the tick's observations. An
// empty slice is a normal outcome when no device qualifies.
func (e *Emitter) Poll(ctx context.Context) ([]model.CanonicalObservation, error) {
	timer := time.NewTimer(e.interval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case err := <-e.fatal:
		return nil, err
	case now := <-timer.C:
		return e.translator.Translate(now), nil
	}
}

// Next yields observations one record at a time, polling for a fresh tick
// whenever the previous tick's records are exhausted. It blocks across empty
// ticks until a record or an error is available.
func (e *Emitter) Next(ctx context.Context) (model.CanonicalObservation, error) {
	for len(e.pending) == 0 {
		obs, err := e.Poll(ctx)
		if err != nil {
			return model.CanonicalObservation{}, err
		}
		e.pending = obs
	}
	head := e.pending[0]
	e.pending = e.pending[1:]
	return head, nil
}

// Loop exposes the emitter as a lazy sequence for hosts that range over
// records. Cancellation or deadline expiry ends the sequence silently;
// anything else delivered as an error is fatal and terminates it.
func (e *Emitter) Loop(ctx context.Context) iter.Seq2[model.CanonicalObservation, error] {
	return func(yield func(model.CanonicalObservation, error) bool) {
		for {
			obs, err := e.Next(ctx)
			if err != nil {
				if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
					yield(model.CanonicalObservation{}, err)
				}
				return
			}
			if !yield(obs, nil) {
				return
			}
		}
	}
}

// Interval reports the poll interval the emitter was built with.
func (e *Emitter) Interval() time.Duration {
	return e.interval
}
