// Package timer runs periodic background work on jittered tickers.
package timer

import (
	"context"
	"math/rand"
	"reflect"
	"runtime"
	"time"

	"github.com/lthibault/jitterbug"

	log "github.com/sirupsen/logrus"
)

type Interval struct {
	Duration time.Duration
	Jitter   time.Duration
}

type tickerJitter struct {
	MaxJitter time.Duration
}

// Jitter spreads d by up to MaxJitter in either direction. A jitter that
// would make the period non-positive is clamped to half the period.
func (j tickerJitter) Jitter(d time.Duration) time.Duration {
	max := j.MaxJitter
	if max >= d {
		max = d / 2
	}
	if max <= 0 {
		return d
	}
	return d + (time.Duration(rand.Int63n(int64(2*max))) - max)
}

// RunWithTicker runs f periodically. Exits when ctx is cancelled or when f
// returns an error.
func RunWithTicker(ctx context.Context, interval *Interval, f func(ctx context.Context) error) error {
	return RunWithTrigger(ctx, interval, nil, f)
}

// RunWithTrigger is RunWithTicker that also runs f whenever trigger fires.
// A nil trigger never fires.
func RunWithTrigger(ctx context.Context, interval *Interval, trigger <-chan struct{}, f func(ctx context.Context) error) error {
	funcName := runtime.FuncForPC(reflect.ValueOf(f).Pointer()).Name()

	j := jitterbug.New(interval.Duration, &tickerJitter{MaxJitter: interval.Jitter})
	defer j.Stop()

	log.Debugf("RunWithTicker: running %s with interval %v (jitter %v)", funcName, interval.Duration, interval.Jitter)

	for {
		select {
		case <-ctx.Done():
			log.Debugf("RunWithTicker: context cancelled for %s", funcName)
			return ctx.Err()
		case <-j.C:
		case <-trigger:
		}
		if err := f(ctx); err != nil {
			log.Errorf("RunWithTicker: function %s returned error: %v", funcName, err)
			return err
		}
	}
}
