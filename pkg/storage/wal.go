package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/vjranagit/patternsearch/pkg/types"
)

const walFlushInterval = time.Second

// WAL implements a Write-Ahead Log for ingested samples
type WAL struct {
	path       string
	file       *os.File
	writer     *bufio.Writer
	mu         sync.Mutex
	flushTimer *time.Timer
	closed     bool
}

// WALEntry represents a single WAL entry
type WALEntry struct {
	Timestamp time.Time            `json:"timestamp"`
	Series    []types.SourceSeries `json:"series"`
}

// NewWAL creates a new Write-Ahead Log under dataPath/wal
func NewWAL(dataPath string) (*WAL, error) {
	walPath := filepath.Join(dataPath, "wal")
	if err := os.MkdirAll(walPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create WAL directory: %w", err)
	}

	filename := filepath.Join(walPath, fmt.Sprintf("wal-%d.log", time.Now().UnixNano()))
	file, err := os.OpenFile(filename, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAL file: %w", err)
	}

	wal := &WAL{
		path:   walPath,
		file:   file,
		writer: bufio.NewWriter(file),
	}
	wal.flushTimer = time.AfterFunc(walFlushInterval, wal.autoFlush)

	return wal, nil
}

// Append appends a write request to the WAL
func (w *WAL) Append(req *types.WriteRequest) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	data, err := json.Marshal(WALEntry{
		Timestamp: time.Now(),
		Series:    req.Series,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal WAL entry: %w", err)
	}

	if _, err := w.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write to WAL: %w", err)
	}
	if err := w.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

// Flush flushes the WAL to disk
func (w *WAL) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked()
}

func (w *WAL) flushLocked() error {
	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush WAL: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync WAL: %w", err)
	}
	return nil
}

// Reset discards every entry once its samples are safely in storage
func (w *WAL) Reset() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.writer.Reset(w.file)
	if err := w.file.Truncate(0); err != nil {
		return fmt.Errorf("failed to truncate WAL: %w", err)
	}
	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to rewind WAL: %w", err)
	}
	return nil
}

// autoFlush periodically flushes the WAL
func (w *WAL) autoFlush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if err := w.flushLocked(); err != nil {
		slog.Warn("WAL auto flush failed", "path", w.path, "error", err)
	}
	w.flushTimer.Reset(walFlushInterval)
}

// Close flushes and closes the WAL
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if w.flushTimer != nil {
		w.flushTimer.Stop()
	}
	if err := w.flushLocked(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}

// ReplayWAL replays WAL entries for recovery. Replayed files are removed.
// Replaying is idempotent because stores drop already stored timestamps.
func ReplayWAL(dataPath string, handler func(*types.WriteRequest) error) (int, error) {
	walPath := filepath.Join(dataPath, "wal")

	entries, err := os.ReadDir(walPath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read WAL directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	replayed := 0
	for _, name := range names {
		filename := filepath.Join(walPath, name)
		n, err := replayWALFile(filename, handler)
		replayed += n
		if err != nil {
			return replayed, fmt.Errorf("failed to replay %s: %w", filename, err)
		}
		if err := os.Remove(filename); err != nil {
			return replayed, fmt.Errorf("failed to remove %s: %w", filename, err)
		}
	}

	walReplayed.Add(float64(replayed))
	return replayed, nil
}

// replayWALFile replays a single WAL file
func replayWALFile(filename string, handler func(*types.WriteRequest) error) (int, error) {
	file, err := os.Open(filename)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	replayed := 0
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 64*1024*1024)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}

		var entry WALEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			return replayed, fmt.Errorf("failed to unmarshal WAL entry: %w", err)
		}

		if err := handler(&types.WriteRequest{Series: entry.Series}); err != nil {
			return replayed, fmt.Errorf("failed to replay entry: %w", err)
		}
		replayed++
	}

	return replayed, scanner.Err()
}

// BatchWriter buffers writes for batch processing. Requests are appended
// to the WAL before they are buffered.
type BatchWriter struct {
	store      Store
	wal        *WAL
	buffer     []*types.WriteRequest
	bufferSize int
	interval   time.Duration
	mu         sync.Mutex
	flushTimer *time.Timer
	closed     bool
}

// NewBatchWriter creates a new batch writer. wal may be nil.
func NewBatchWriter(store Store, wal *WAL, bufferSize int, interval time.Duration) *BatchWriter {
	if bufferSize < 1 {
		bufferSize = 1
	}
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}

	bw := &BatchWriter{
		store:      store,
		wal:        wal,
		buffer:     make([]*types.WriteRequest, 0, bufferSize),
		bufferSize: bufferSize,
		interval:   interval,
	}
	bw.flushTimer = time.AfterFunc(interval, bw.autoFlush)

	return bw
}

// Write buffers a write request
func (bw *BatchWriter) Write(ctx context.Context, req *types.WriteRequest) error {
	bw.mu.Lock()
	defer bw.mu.Unlock()

	if bw.wal != nil {
		if err := bw.wal.Append(req); err != nil {
			return fmt.Errorf("WAL append failed: %w", err)
		}
	}

	bw.buffer = append(bw.buffer, req)

	if len(bw.buffer) >= bw.bufferSize {
		return bw.flushLocked(ctx)
	}

	return nil
}

// Flush flushes the buffer
func (bw *BatchWriter) Flush(ctx context.Context) error {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return bw.flushLocked(ctx)
}

// flushLocked flushes the buffer (must hold lock)
func (bw *BatchWriter) flushLocked(ctx context.Context) error {
	if len(bw.buffer) == 0 {
		return nil
	}

	// Merge series of the same source so each source is written once
	bySource := make(map[string]int)
	batch := &types.WriteRequest{}
	for _, req := range bw.buffer {
		for _, series := range req.Series {
			i, ok := bySource[series.Source]
			if !ok {
				bySource[series.Source] = len(batch.Series)
				batch.Series = append(batch.Series, types.SourceSeries{Source: series.Source})
				i = len(batch.Series) - 1
			}
			batch.Series[i].Samples = append(batch.Series[i].Samples, series.Samples...)
		}
	}

	if err := bw.store.Write(ctx, batch); err != nil {
		return fmt.Errorf("batch write failed: %w", err)
	}

	bw.buffer = bw.buffer[:0]

	if bw.wal != nil {
		return bw.wal.Reset()
	}
	return nil
}

// autoFlush periodically flushes the buffer
func (bw *BatchWriter) autoFlush() {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	if bw.closed {
		return
	}
	if err := bw.flushLocked(context.Background()); err != nil {
		slog.Warn("batch auto flush failed", "error", err)
	}
	bw.flushTimer.Reset(bw.interval)
}

// Close stops the flush timer and writes what is left in the buffer
func (bw *BatchWriter) Close() error {
	bw.mu.Lock()
	defer bw.mu.Unlock()

	if bw.closed {
		return nil
	}
	bw.closed = true

	if bw.flushTimer != nil {
		bw.flushTimer.Stop()
	}
	return bw.flushLocked(context.Background())
}
