package task

import "sync/atomic"

type turnResult struct {
	out TurnOutcome
	err error
}

// oneshot is a single-assignment result slot. A fresh slot is armed per
// external send; resolving the same slot twice is a programming error and
// panics rather than silently dropping a result.
type oneshot struct {
	ch  chan struct{}
	set atomic.Bool
	val turnResult
}

func newOneshot() *oneshot {
	return &oneshot{ch: make(chan struct{})}
}

func (o *oneshot) resolve(out TurnOutcome, err error) {
	if !o.set.CompareAndSwap(false, true) {
		panic("task: turn result slot resolved twice")
	}
	o.val = turnResult{out: out, err: err}
	close(o.ch)
}

func (o *oneshot) done() bool {
	return o.set.Load()
}
