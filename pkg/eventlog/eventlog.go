// Package eventlog appends session lifecycle events to a JSON lines sink in
// batches, so a busy spoof-all run does not write once per transition.
package eventlog

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/projectdiscovery/gologger"
	"github.com/projectdiscovery/kancut/pkg/types"
	"github.com/projectdiscovery/utils/batcher"
	envutil "github.com/projectdiscovery/utils/env"
	fileutil "github.com/projectdiscovery/utils/file"
)

var (
	// Default number of events buffered before a flush
	DefaultBatchSize = 100
	// Default interval between two flushes
	DefaultFlushInterval = 5 * time.Second
)

// GetBatchSize returns the batch size from environment or default
func GetBatchSize() int {
	envVal := envutil.GetEnvOrDefault("KANCUT_EVENT_BATCH_SIZE", "")
	if envVal != "" {
		if size, err := strconv.Atoi(envVal); err == nil && size > 0 {
			return size
		}
	}
	return DefaultBatchSize
}

// GetFlushInterval returns the flush interval from environment or default
func GetFlushInterval() time.Duration {
	envVal := envutil.GetEnvOrDefault("KANCUT_EVENT_FLUSH_INTERVAL", "")
	if envVal != "" {
		if interval, err := strconv.Atoi(envVal); err == nil && interval > 0 {
			return time.Duration(interval) * time.Second
		}
	}
	return DefaultFlushInterval
}

// Log batches events and writes them as one JSON object per line
type Log struct {
	w       io.Writer
	closer  io.Closer
	batcher *batcher.Batcher[types.SessionEvent]

	// held shared by Record, so Close waits for in-flight appends
	recordMu sync.RWMutex
	closed   bool
	stopOnce sync.Once

	mu      sync.Mutex
	written int
}

// New starts a log writing to w
func New(w io.Writer) *Log {
	return newLog(w, GetBatchSize(), GetFlushInterval())
}

// Open starts a log appending to the file at path, creating it and its
// parent directory when missing
func Open(path string) (*Log, error) {
	if dir := filepath.Dir(path); dir != "" && !fileutil.FolderExists(dir) {
		if err := fileutil.CreateFolder(dir); err != nil {
			return nil, types.NewConfigurationError(err, "could not create event log directory %s", dir)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, types.NewConfigurationError(err, "could not open event log %s", path)
	}
	l := New(f)
	l.closer = f
	return l, nil
}

func newLog(w io.Writer, batchSize int, flushInterval time.Duration) *Log {
	l := &Log{w: w}
	l.batcher = batcher.New(
		batcher.WithMaxCapacity[types.SessionEvent](batchSize),
		batcher.WithFlushInterval[types.SessionEvent](flushInterval),
		batcher.WithFlushCallback[types.SessionEvent](l.flush),
	)
	go l.batcher.Run()
	return l
}

// Record queues an event. Events recorded after Close are dropped.
func (l *Log) Record(event types.SessionEvent) {
	l.recordMu.RLock()
	defer l.recordMu.RUnlock()
	if l.closed {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	l.batcher.Append(event)
}

// Written returns how many events reached the writer
func (l *Log) Written() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.written
}

// Close flushes pending events and closes the underlying file, if any
func (l *Log) Close() error {
	l.recordMu.Lock()
	l.closed = true
	l.recordMu.Unlock()

	var err error
	l.stopOnce.Do(func() {
		l.batcher.Stop()
		l.batcher.WaitDone()
		if l.closer != nil {
			err = l.closer.Close()
		}
	})
	return err
}

func (l *Log) flush(events []types.SessionEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()

	enc := json.NewEncoder(l.w)
	for _, event := range events {
		if err := enc.Encode(event); err != nil {
			gologger.Warning().Msgf("could not write session event: %s", err)
			return
		}
		l.written++
	}
	gologger.Debug().Msgf("flushed %d session events", len(events))
}
