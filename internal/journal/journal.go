package journal

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"

	"main/internal/schema"
)

var (
	ErrQueueFull      = errors.New("journal queue full")
	ErrClosed         = errors.New("journal writer closed")
	ErrNotStarted     = errors.New("journal writer not started")
	ErrAlreadyStarted = errors.New("journal writer already started")
)

// Entry is one immutable fill record. Entries are only ever appended.
type Entry struct {
	Recorded time.Time          `json:"recorded"`
	Result   schema.OrderResult `json:"result"`
}

// Config controls the journal file and queue behavior.
type Config struct {
	Path          string        `json:"path"`
	QueueSize     int           `json:"queueSize"`
	FlushInterval time.Duration `json:"flushInterval"`
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = 1024
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = time.Second
	}
	return c
}

func (c Config) Validate() error {
	if c.Path == "" {
		return errors.New("journal path is required")
	}
	return nil
}

// Writer appends fill entries to a JSONL file from a buffered queue.
// The write loop owns the file handle; producers never block on disk.
type Writer struct {
	cfg Config
	ch  chan Entry
	wg  sync.WaitGroup
	err atomic.Value

	started uint32
	closed  uint32
}

// NewWriter creates a journal writer and ensures the target directory
// exists.
func NewWriter(cfg Config) (*Writer, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return &Writer{
		cfg: cfg,
		ch:  make(chan Entry, cfg.QueueSize),
	}, nil
}

// Start runs the writer loop in a new goroutine.
func (w *Writer) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapUint32(&w.started, 0, 1) {
		return ErrAlreadyStarted
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx)
	}()
	return nil
}

// Close stops the writer and flushes buffered entries.
func (w *Writer) Close() error {
	if atomic.CompareAndSwapUint32(&w.closed, 0, 1) {
		close(w.ch)
	}
	w.wg.Wait()
	return w.Err()
}

// Err returns the first error observed by the write loop, if any.
func (w *Writer) Err() error {
	if v := w.err.Load(); v != nil {
		return v.(error)
	}
	return nil
}

// TryAppend enqueues a fill entry without blocking.
func (w *Writer) TryAppend(result schema.OrderResult) error {
	if atomic.LoadUint32(&w.closed) != 0 {
		return ErrClosed
	}
	if atomic.LoadUint32(&w.started) == 0 {
		return ErrNotStarted
	}
	if err := w.Err(); err != nil {
		return err
	}

	entry := Entry{Recorded: time.Now().UTC(), Result: result}
	select {
	case w.ch <- entry:
		return nil
	default:
		return ErrQueueFull
	}
}

// Append blocks until the entry is queued or the context ends. The
// fill-reconciliation path uses this: a lost entry breaks position
// replay, so any failure to enqueue latches on the writer where Err
// and Close surface it.
func (w *Writer) Append(ctx context.Context, result schema.OrderResult) error {
	if err := w.Err(); err != nil {
		return err
	}
	if atomic.LoadUint32(&w.closed) != 0 {
		return w.dropped(result, ErrClosed)
	}
	if atomic.LoadUint32(&w.started) == 0 {
		return w.dropped(result, ErrNotStarted)
	}

	entry := Entry{Recorded: time.Now().UTC(), Result: result}
	select {
	case w.ch <- entry:
		return nil
	default:
	}
	select {
	case w.ch <- entry:
		return nil
	case <-ctx.Done():
		return w.dropped(result, ErrQueueFull)
	}
}

func (w *Writer) dropped(result schema.OrderResult, cause error) error {
	err := fmt.Errorf("fill entry dropped for token %s: %w", result.Token, cause)
	w.fail(err)
	return err
}

func (w *Writer) run(ctx context.Context) {
	// Once the loop exits nothing drains the queue, so producers must
	// see the writer as closed rather than a queue that silently fills.
	defer atomic.StoreUint32(&w.closed, 1)

	file, err := os.OpenFile(w.cfg.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		w.fail(err)
		w.drain()
		return
	}
	defer file.Close()

	buf := bufio.NewWriter(file)
	defer buf.Flush()

	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.drainInto(buf)
			return
		case <-ticker.C:
			if err := buf.Flush(); err != nil {
				w.fail(err)
			}
		case entry, ok := <-w.ch:
			if !ok {
				return
			}
			w.write(buf, entry)
		}
	}
}

func (w *Writer) write(buf *bufio.Writer, entry Entry) {
	line, err := sonic.Marshal(entry)
	if err != nil {
		w.fail(err)
		return
	}
	if _, err := buf.Write(append(line, '\n')); err != nil {
		w.fail(err)
	}
}

func (w *Writer) drainInto(buf *bufio.Writer) {
	for {
		select {
		case entry, ok := <-w.ch:
			if !ok {
				return
			}
			w.write(buf, entry)
		default:
			return
		}
	}
}

func (w *Writer) drain() {
	for range w.ch {
	}
}

func (w *Writer) fail(err error) {
	w.err.CompareAndSwap(nil, err)
}

// ReadAll loads every entry from a journal file in append order. Used
// for position replay and post-session reporting.
func ReadAll(path string) ([]Entry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var entries []Entry
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry Entry
		if err := sonic.Unmarshal(line, &entry); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}
