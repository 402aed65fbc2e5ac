// Package coalescer debounces content writes per file so that a burst of
// edits reaches the store as a single write of the last value.
package coalescer

import (
	"codecollab-server/metrics"
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const DefaultWindow = 2000 * time.Millisecond

// Writer persists the content of a file.
type Writer interface {
	UpdateContent(ctx context.Context, fileID, content string) error
}

type pendingWrite struct {
	content string
	seq     uint64
	timer   *time.Timer
}

// fileLock orders writes of one file. written is the seq of the newest value
// stored, so an older flush that lost the race for mu is skipped.
type fileLock struct {
	mu      sync.Mutex
	refs    int
	written uint64
}

// Coalescer holds at most one pending write per file id. Scheduling a file
// that already has one replaces its content and restarts its timer
// (trailing-edge debounce).
type Coalescer struct {
	writer Writer
	window time.Duration

	mu      sync.Mutex
	seq     uint64
	closed  bool
	pending map[string]*pendingWrite
	writing map[string]*fileLock
	flushes sync.WaitGroup
}

// New returns a Coalescer flushing to writer. A non-positive window selects
// DefaultWindow.
func New(writer Writer, window time.Duration) *Coalescer {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Coalescer{
		writer:  writer,
		window:  window,
		pending: make(map[string]*pendingWrite),
		writing: make(map[string]*fileLock),
	}
}

// Window is the quiescence window used when Schedule is given none.
func (c *Coalescer) Window() time.Duration {
	return c.window
}

// Schedule records content as the latest value of fileID and (re)arms its
// timer to fire window after now. After Close the content is written
// through immediately.
func (c *Coalescer) Schedule(fileID, content string, window time.Duration) {
	if window <= 0 {
		window = c.window
	}

	c.mu.Lock()
	c.seq++
	seq := c.seq

	if c.closed {
		c.mu.Unlock()
		c.flush(context.Background(), fileID, content, seq)
		return
	}

	if old, ok := c.pending[fileID]; ok {
		old.timer.Stop()
	} else {
		metrics.PendingWrites.Inc()
	}
	p := &pendingWrite{content: content, seq: seq}
	// The callback takes c.mu, so it cannot observe p before timer is set.
	p.timer = time.AfterFunc(window, func() { c.fire(fileID, seq) })
	c.pending[fileID] = p
	c.mu.Unlock()

	metrics.EditsScheduled.Inc()
}

// Pending returns the content waiting to be flushed for fileID.
func (c *Coalescer) Pending(fileID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.pending[fileID]
	if !ok {
		return "", false
	}
	return p.content, true
}

// Cancel drops the pending write of fileID without flushing it.
func (c *Coalescer) Cancel(fileID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.pending[fileID]
	if !ok {
		return false
	}
	p.timer.Stop()
	delete(c.pending, fileID)
	metrics.PendingWrites.Dec()
	metrics.Flushes.WithLabelValues("cancelled").Inc()
	return true
}

// Close flushes every pending write and waits for in-flight flushes, or
// until ctx is done.
func (c *Coalescer) Close(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	pending := c.pending
	c.pending = make(map[string]*pendingWrite)
	for _, p := range pending {
		p.timer.Stop()
	}
	c.mu.Unlock()

	for fileID, p := range pending {
		metrics.PendingWrites.Dec()
		c.flush(ctx, fileID, p.content, p.seq)
	}

	done := make(chan struct{})
	go func() {
		c.flushes.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coalescer) fire(fileID string, seq uint64) {
	c.mu.Lock()
	p, ok := c.pending[fileID]
	if !ok || p.seq != seq {
		// Superseded by a later Schedule, cancelled, or taken by Close.
		c.mu.Unlock()
		return
	}
	delete(c.pending, fileID)
	c.flushes.Add(1)
	c.mu.Unlock()

	defer c.flushes.Done()
	metrics.PendingWrites.Dec()
	c.flush(context.Background(), fileID, p.content, seq)
}

func (c *Coalescer) flush(ctx context.Context, fileID, content string, seq uint64) {
	unlock, stale := c.lockFile(fileID, seq)
	defer unlock()
	if stale {
		return
	}

	log := logrus.WithFields(logrus.Fields{
		"file_id":        fileID,
		"content_length": len(content),
	})

	if err := c.writer.UpdateContent(ctx, fileID, content); err != nil {
		// No retry: the next edit of this file schedules a fresh write.
		log.WithError(err).Error("Error saving code to store")
		metrics.Flushes.WithLabelValues("error").Inc()
		return
	}
	log.Debug("File saved to store")
	metrics.Flushes.WithLabelValues("ok").Inc()
}

// lockFile serializes flushes of fileID. stale reports that a newer value
// was already written while this one waited.
func (c *Coalescer) lockFile(fileID string, seq uint64) (unlock func(), stale bool) {
	c.mu.Lock()
	l, ok := c.writing[fileID]
	if !ok {
		l = &fileLock{}
		c.writing[fileID] = l
	}
	l.refs++
	c.mu.Unlock()

	l.mu.Lock()
	stale = seq <= l.written
	if !stale {
		l.written = seq
	}

	return func() {
		l.mu.Unlock()
		c.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(c.writing, fileID)
		}
		c.mu.Unlock()
	}, stale
}
