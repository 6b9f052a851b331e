// Package persistence moves database writes off the trading path.
package persistence

import (
	"database/sql"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"execution-core/internal/monitor"
)

var log = logrus.WithField("component", "persistence")

var ErrClosed = errors.New("batch writer closed")

// WriteOp represents a database write operation.
type WriteOp struct {
	Table string
	Query string
	Args  []any
}

// BatchWriter buffers writes and commits them in one transaction per batch,
// either when the buffer fills or on a timer.
type BatchWriter struct {
	db       *sql.DB
	maxSize  int
	interval time.Duration

	mu     sync.Mutex
	buffer []WriteOp
	closed bool

	flushMu sync.Mutex
	done    chan struct{}
	wg      sync.WaitGroup
	latency *monitor.LatencyHistogram

	writes        atomic.Uint64
	batches       atomic.Uint64
	failures      atomic.Uint64
	dropped       atomic.Uint64
	lastBatchSize atomic.Int64
	lastFlush     atomic.Int64
}

// BatchWriterMetrics provides statistics about batch operations.
type BatchWriterMetrics struct {
	TotalWrites   uint64    `json:"total_writes"`
	TotalBatches  uint64    `json:"total_batches"`
	TotalErrors   uint64    `json:"total_errors"`
	Dropped       uint64    `json:"dropped"`
	Pending       int       `json:"pending"`
	LastBatchSize int       `json:"last_batch_size"`
	LastFlushTime time.Time `json:"last_flush_time"`
}

// NewBatchWriter starts the background flusher.
// maxSize: max operations before auto-flush
// interval: time-based flush interval
func NewBatchWriter(db *sql.DB, maxSize int, interval time.Duration) *BatchWriter {
	if maxSize <= 0 {
		maxSize = 50
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}

	bw := &BatchWriter{
		db:       db,
		buffer:   make([]WriteOp, 0, maxSize),
		maxSize:  maxSize,
		interval: interval,
		done:     make(chan struct{}),
	}

	bw.wg.Add(1)
	go bw.backgroundFlush()

	return bw
}

// SetLatency records commit durations into h. Call before the first write.
func (bw *BatchWriter) SetLatency(h *monitor.LatencyHistogram) { bw.latency = h }

// Write buffers op. A full buffer is flushed on a separate goroutine so
// callers on the trading path never wait for SQLite.
func (bw *BatchWriter) Write(op WriteOp) {
	bw.mu.Lock()
	if bw.closed {
		bw.mu.Unlock()
		bw.dropped.Add(1)
		log.WithField("table", op.Table).Warn(ErrClosed.Error())
		return
	}
	bw.buffer = append(bw.buffer, op)
	full := len(bw.buffer) >= bw.maxSize
	bw.mu.Unlock()

	if full {
		bw.wg.Add(1)
		go func() {
			defer bw.wg.Done()
			if err := bw.Flush(); err != nil {
				log.Warnf("size-triggered flush failed: %v", err)
			}
		}()
	}
}

// WriteQuery is a convenience method for simple queries.
func (bw *BatchWriter) WriteQuery(table, query string, args ...any) {
	bw.Write(WriteOp{Table: table, Query: query, Args: args})
}

// Flush immediately writes all buffered operations to the database.
func (bw *BatchWriter) Flush() error {
	bw.flushMu.Lock()
	defer bw.flushMu.Unlock()

	bw.mu.Lock()
	if len(bw.buffer) == 0 {
		bw.mu.Unlock()
		return nil
	}
	ops := bw.buffer
	bw.buffer = make([]WriteOp, 0, bw.maxSize)
	bw.mu.Unlock()

	return bw.executeBatch(ops)
}

// executeBatch runs a batch of operations in a transaction.
func (bw *BatchWriter) executeBatch(ops []WriteOp) error {
	bw.writes.Add(uint64(len(ops)))
	bw.batches.Add(1)
	bw.lastBatchSize.Store(int64(len(ops)))
	start := time.Now()
	bw.lastFlush.Store(start.UnixNano())
	if bw.latency != nil {
		defer func() { bw.latency.RecordDuration(time.Since(start)) }()
	}

	tx, err := bw.db.Begin()
	if err != nil {
		bw.failures.Add(1)
		log.Errorf("begin transaction: %v", err)
		return err
	}

	for _, op := range ops {
		if _, err := tx.Exec(op.Query, op.Args...); err != nil {
			tx.Rollback()
			bw.failures.Add(1)
			log.WithField("table", op.Table).Errorf("write failed, batch of %d rolled back: %v", len(ops), err)
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		bw.failures.Add(1)
		log.Errorf("commit failed: %v", err)
		return err
	}

	log.Debugf("flushed %d operations", len(ops))
	return nil
}

func (bw *BatchWriter) backgroundFlush() {
	defer bw.wg.Done()
	ticker := time.NewTicker(bw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := bw.Flush(); err != nil {
				log.Warnf("background flush error: %v", err)
			}
		case <-bw.done:
			return
		}
	}
}

// Pending returns the number of pending operations.
func (bw *BatchWriter) Pending() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return len(bw.buffer)
}

// GetMetrics returns the current metrics for the batch writer.
func (bw *BatchWriter) GetMetrics() BatchWriterMetrics {
	m := BatchWriterMetrics{
		TotalWrites:   bw.writes.Load(),
		TotalBatches:  bw.batches.Load(),
		TotalErrors:   bw.failures.Load(),
		Dropped:       bw.dropped.Load(),
		Pending:       bw.Pending(),
		LastBatchSize: int(bw.lastBatchSize.Load()),
	}
	if ns := bw.lastFlush.Load(); ns > 0 {
		m.LastFlushTime = time.Unix(0, ns)
	}
	return m
}

// Close stops the flusher and writes whatever is still buffered.
func (bw *BatchWriter) Close() error {
	bw.mu.Lock()
	if bw.closed {
		bw.mu.Unlock()
		return nil
	}
	bw.closed = true
	bw.mu.Unlock()

	close(bw.done)
	bw.wg.Wait()
	return bw.Flush()
}
