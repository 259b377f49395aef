package journal

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultQueueSize    = 256
	defaultWriteTimeout = 5 * time.Second
)

// Logger is the logging surface the writer needs.
type Logger interface {
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// WriterOptions configures a Writer. Zero values pick defaults.
type WriterOptions struct {
	Logger       Logger
	QueueSize    int
	WriteTimeout time.Duration

	// Now stamps entries as they are recorded. Defaults to time.Now.
	Now func() time.Time
}

// Writer queues journal entries and inserts them from one goroutine.
//
// Record never blocks: a full queue drops the entry and logs a warning.
// Close stops accepting entries and waits for the queue to drain.
//
// Thread Safety: All methods are safe for concurrent use.
type Writer struct {
	repo    Repository
	logger  Logger
	timeout time.Duration
	now     func() time.Time

	queue chan Entry
	done  chan struct{}

	mu     sync.RWMutex
	closed bool

	dropped atomic.Uint64
}

// NewWriter starts a writer on repo.
func NewWriter(repo Repository, opts WriterOptions) *Writer {
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	w := &Writer{
		repo:    repo,
		logger:  opts.Logger,
		timeout: opts.WriteTimeout,
		now:     opts.Now,
		queue:   make(chan Entry, opts.QueueSize),
		done:    make(chan struct{}),
	}
	go w.run()
	return w
}

// Record queues one entry. It is stamped with the current time here, not
// when it reaches the database.
func (w *Writer) Record(kind, command, detail string) {
	e := Entry{Kind: kind, Command: command, Detail: detail, CreatedAt: w.now()}

	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return
	}

	select {
	case w.queue <- e:
	default:
		n := w.dropped.Add(1)
		if w.logger != nil {
			w.logger.Warn("journal queue full, entry dropped",
				"kind", kind,
				"command", command,
				"dropped_total", n,
			)
		}
	}
}

// Dropped returns how many entries were discarded because the queue was full.
func (w *Writer) Dropped() uint64 {
	return w.dropped.Load()
}

// Close stops the writer after every queued entry has been written.
// It is safe to call more than once.
func (w *Writer) Close() error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
	w.mu.Unlock()

	<-w.done
	return nil
}

func (w *Writer) run() {
	defer close(w.done)

	for e := range w.queue {
		ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
		err := w.repo.Create(ctx, &e)
		cancel()

		if err != nil && w.logger != nil {
			w.logger.Error("writing journal entry failed",
				"kind", e.Kind,
				"command", e.Command,
				"error", err,
			)
		}
	}
}
