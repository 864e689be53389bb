// Package stream moves raw sample buffers from a set of in-flight USB
// receive requests to a consumer.
//
// One worker goroutine owns the requests. Completed buffers go to a
// bounded delivery queue (full queue drops the newest buffer) and
// requests are re-armed from a bounded return pool.
package stream

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quan-to/slog"
)

const (
	DefaultQueueSize = 1024

	waitTimeout = 10 * time.Millisecond

	// Consecutive wait timeouts before the stream counts as stalled.
	maxTimeouts = 10
)

var (
	ErrWaitTimeout        = errors.New("receive request wait timed out")
	ErrNoRequests         = errors.New("no receive requests could be queued")
	ErrStreamStalled      = errors.New("sample stream stalled")
	ErrBufferSizeMismatch = errors.New("returned buffer has wrong size")
	ErrAlreadyRunning     = errors.New("stream already running")
)

var log = slog.Scope("Stream")

// RequestQueue is a fixed set of asynchronous receive requests.
type RequestQueue interface {
	// Slots returns the number of requests.
	Slots() int

	// Queue arms request slot with buf.
	Queue(slot int, buf []byte) error

	// Wait returns the next completed request, or ErrWaitTimeout.
	Wait(timeout time.Duration) (slot int, buf []byte, err error)

	// Cancel aborts every armed request.
	Cancel()
}

// Pipeline is the delivery queue and return pool of one stream plus the
// worker that connects them to a RequestQueue.
type Pipeline struct {
	packetSize int
	queue      chan []byte
	pool       chan []byte

	mu      sync.Mutex
	stop    chan struct{}
	done    chan struct{}
	err     error
	running atomic.Bool
	dropped atomic.Uint64
}

// New creates a pipeline for packets of packetSize bytes with delivery
// queue and return pool bounded at queueSize.
func New(packetSize, queueSize int) *Pipeline {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Pipeline{
		packetSize: packetSize,
		queue:      make(chan []byte, queueSize),
		pool:       make(chan []byte, queueSize),
	}
}

func (p *Pipeline) PacketSize() int { return p.packetSize }

// Start arms every request slot with a fresh buffer and launches the
// worker. When any slot cannot be armed all requests are cancelled and
// ErrNoRequests is returned.
func (p *Pipeline) Start(rq RequestQueue) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running.Load() {
		return ErrAlreadyRunning
	}
	if rq.Slots() == 0 {
		return ErrNoRequests
	}
	for slot := 0; slot < rq.Slots(); slot++ {
		if err := rq.Queue(slot, make([]byte, p.packetSize)); err != nil {
			rq.Cancel()
			log.Error("Couldn't queue receive request %d: %s", slot, err)
			return fmt.Errorf("%w: slot %d: %v", ErrNoRequests, slot, err)
		}
	}

	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	p.err = nil
	p.running.Store(true)
	go p.run(rq, p.stop, p.done)
	return nil
}

// Stop asks the worker to exit and waits for it.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	stop, done := p.stop, p.done
	p.stop = nil
	p.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

// Running reports whether the worker is active.
func (p *Pipeline) Running() bool { return p.running.Load() }

// Err returns why the last worker exited on its own, or nil.
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Dropped returns how many completed buffers found the delivery queue full.
func (p *Pipeline) Dropped() uint64 { return p.dropped.Load() }

// Available returns the number of buffers waiting in the return pool.
func (p *Pipeline) Available() int { return len(p.pool) }

// Queued returns the number of buffers waiting for the consumer.
func (p *Pipeline) Queued() int { return len(p.queue) }

func (p *Pipeline) fail(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

func (p *Pipeline) run(rq RequestQueue, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer p.running.Store(false)
	defer rq.Cancel()

	timeouts := 0
	for {
		select {
		case <-stop:
			log.Debug("Worker stopped")
			return
		default:
		}

		slot, buf, err := rq.Wait(waitTimeout)
		if errors.Is(err, ErrWaitTimeout) {
			timeouts++
			if timeouts == maxTimeouts {
				log.Warn("Rx timeout")
				p.fail(ErrStreamStalled)
				return
			}
			continue
		}
		if err != nil {
			log.Error("Receive failed: %s", err)
			p.fail(fmt.Errorf("failed to receive samples: %w", err))
			return
		}
		timeouts = 0

		select {
		case p.queue <- buf:
		default:
			p.dropped.Add(1)
		}

		if err := rq.Queue(slot, p.freeBuffer()); err != nil {
			log.Error("Couldn't re-queue receive request %d: %s", slot, err)
			p.fail(fmt.Errorf("failed to re-queue request: %w", err))
			return
		}
	}
}

func (p *Pipeline) freeBuffer() []byte {
	select {
	case buf := <-p.pool:
		return buf
	default:
		return make([]byte, p.packetSize)
	}
}

// Packet returns the next delivered buffer, or nil after timeout.
func (p *Pipeline) Packet(timeout time.Duration) []byte {
	select {
	case buf := <-p.queue:
		return buf
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case buf := <-p.queue:
		return buf
	case <-timer.C:
		return nil
	}
}

// Return hands a consumed buffer back for reuse. Buffers of a foreign
// size are discarded; a full pool drops the buffer.
func (p *Pipeline) Return(buf []byte) error {
	if len(buf) != p.packetSize {
		log.Warn("Discarding returned buffer of %d bytes, expected %d", len(buf), p.packetSize)
		return ErrBufferSizeMismatch
	}
	select {
	case p.pool <- buf:
	default:
	}
	return nil
}

// Clear discards everything waiting in the delivery queue.
func (p *Pipeline) Clear() {
	for {
		select {
		case <-p.queue:
		default:
			return
		}
	}
}
