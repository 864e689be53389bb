package bladerf

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sergev/sdrtool/stream"
)

var (
	errRequestsCancelled = errors.New("receive requests cancelled")
	errShortRead         = errors.New("short sample read")
)

type completion struct {
	slot int
	buf  []byte
	err  error
}

// requestQueue keeps up to one read in flight per slot on the sample-in
// endpoint. Finished reads are reported on a single channel in
// completion order.
type requestQueue struct {
	ep    sampleReader
	slots int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	done   chan completion
}

func newRequestQueue(ep sampleReader, slots int) *requestQueue {
	ctx, cancel := context.WithCancel(context.Background())
	return &requestQueue{
		ep:     ep,
		slots:  slots,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan completion, slots),
	}
}

func (q *requestQueue) Slots() int { return q.slots }

func (q *requestQueue) Queue(slot int, buf []byte) error {
	if q.ctx.Err() != nil {
		return errRequestsCancelled
	}
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		n, err := q.ep.ReadContext(q.ctx, buf)
		if err == nil && n != len(buf) {
			err = fmt.Errorf("%w: %d of %d bytes", errShortRead, n, len(buf))
		}
		q.done <- completion{slot: slot, buf: buf, err: err}
	}()
	return nil
}

func (q *requestQueue) Wait(timeout time.Duration) (int, []byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case c := <-q.done:
		return c.slot, c.buf, c.err
	case <-timer.C:
		return 0, nil, stream.ErrWaitTimeout
	}
}

// Cancel aborts all reads and waits for them to finish.
func (q *requestQueue) Cancel() {
	q.cancel()
	q.wg.Wait()
	for {
		select {
		case <-q.done:
		default:
			return
		}
	}
}
