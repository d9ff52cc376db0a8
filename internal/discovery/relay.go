package discovery

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/muurk/smartplug/internal/logging"
)

// DefaultRelayBuffer is the number of updates a Relay holds before it
// starts dropping.
const DefaultRelayBuffer = 256

// Relay hands updates to fn on its own goroutine, so a consumer that blocks
// on the network never holds up discovery or the other handlers. When the
// buffer is full the update is dropped and counted.
type Relay struct {
	fn      func(Update)
	updates chan Update
	done    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
	dropped atomic.Uint64
	log     *zap.Logger
}

// NewRelay starts a relay calling fn. A size <= 0 uses DefaultRelayBuffer.
func NewRelay(size int, fn func(Update), log *zap.Logger) *Relay {
	if size <= 0 {
		size = DefaultRelayBuffer
	}
	r := &Relay{
		fn:      fn,
		updates: make(chan Update, size),
		done:    make(chan struct{}),
		log:     logging.Named(log, "relay"),
	}
	r.wg.Add(1)
	go r.run()
	return r
}

func (r *Relay) run() {
	defer r.wg.Done()
	for {
		select {
		case <-r.done:
			return
		case u := <-r.updates:
			r.fn(u)
		}
	}
}

// Push queues u without blocking. It is shaped for OnUpdate.
func (r *Relay) Push(u Update) {
	select {
	case <-r.done:
		return
	default:
	}
	select {
	case r.updates <- u:
	default:
		n := r.dropped.Add(1)
		r.log.Warn("Update buffer full, dropping",
			zap.String("event", u.Name),
			zap.String("device", u.Snapshot.ID),
			zap.Uint64("dropped", n),
		)
	}
}

// Dropped reports how many updates were discarded.
func (r *Relay) Dropped() uint64 {
	return r.dropped.Load()
}

// Close stops the worker once the update in progress is handled. Buffered
// updates are discarded. Safe to call more than once.
func (r *Relay) Close() {
	r.once.Do(func() {
		close(r.done)
		r.wg.Wait()
		if n := len(r.updates); n > 0 {
			r.log.Debug("Discarding buffered updates", zap.Int("count", n))
		}
	})
}
