// Package badger implements queue.Backend on an embedded Badger database.
//
// Jobs survive restarts without any external service, but the database can be
// opened by one process only, so every worker must run inside that process.
//
// Layout (parts separated by a NUL byte):
//
//	jobq job     {id}           JSON encoded job record
//	jobq queue   {name}         registered queue marker
//	jobq pending {name} {seq}   pending id, seq is a big-endian counter
//	jobq index   {id}           pending key of a queued id
package badger

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/dmitrymomot/jobq/pkg/job"
	"github.com/dmitrymomot/jobq/pkg/logger"
	"github.com/dmitrymomot/jobq/pkg/queue"
)

var _ queue.Backend = (*Backend)(nil)

// ErrConflict is returned when a transaction keeps conflicting with
// concurrent writers.
var ErrConflict = errors.New("jobq/badger: transaction conflict")

const sep = "\x00"

var (
	jobPrefix     = []byte("jobq" + sep + "job" + sep)
	queuePrefix   = []byte("jobq" + sep + "queue" + sep)
	pendingPrefix = []byte("jobq" + sep + "pending" + sep)
	indexPrefix   = []byte("jobq" + sep + "index" + sep)
	sequenceKey   = []byte("jobq" + sep + "seq")
)

func jobKey(id string) []byte { return append(bytes.Clone(jobPrefix), id...) }

func queueKey(name string) []byte { return append(bytes.Clone(queuePrefix), name...) }

func indexKey(id string) []byte { return append(bytes.Clone(indexPrefix), id...) }

func pendingQueuePrefix(name string) []byte {
	k := append(bytes.Clone(pendingPrefix), name...)
	return append(k, sep...)
}

func pendingKey(name string, seq uint64) []byte {
	return binary.BigEndian.AppendUint64(pendingQueuePrefix(name), seq)
}

// Option configures the Backend.
type Option func(*config)

type config struct {
	logger     *slog.Logger
	inMemory   bool
	maxRetries int
	batchSize  int
}

// WithLogger routes Badger's internal logging and backend diagnostics to l.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithInMemory keeps the database in memory only. The dir argument of Open
// is ignored.
func WithInMemory() Option {
	return func(c *config) {
		c.inMemory = true
	}
}

// WithMaxRetries sets how many times a conflicting transaction is retried.
// Default: 32.
func WithMaxRetries(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxRetries = n
		}
	}
}

// WithBatchSize sets how many pending ids Empty and RemoveQueue drop per
// transaction. A batch that still exceeds Badger's transaction limits is
// halved and retried. Default: 1000.
func WithBatchSize(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// Backend is a queue.Backend on Badger.
type Backend struct {
	db     *badger.DB
	seq    *badger.Sequence
	logger *slog.Logger
	// closed and replaced on every push to wake blocked poppers.
	signal     chan struct{}
	mu         sync.Mutex
	maxRetries int
	batchSize  int
}

// Open opens (or creates) a database in dir.
func Open(dir string, opts ...Option) (*Backend, error) {
	cfg := &config{logger: logger.NewNope(), maxRetries: 32, batchSize: 1000}
	for _, opt := range opts {
		opt(cfg)
	}

	bopts := badger.DefaultOptions(dir).WithLogger(&badgerLogger{log: cfg.logger})
	if cfg.inMemory {
		bopts = bopts.WithDir("").WithValueDir("").WithInMemory(true)
	} else if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("jobq/badger: create data dir: %w", err)
	}

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("jobq/badger: open: %w", err)
	}

	seq, err := db.GetSequence(sequenceKey, 128)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("jobq/badger: sequence: %w", err)
	}

	return &Backend{
		db:         db,
		seq:        seq,
		logger:     cfg.logger,
		signal:     make(chan struct{}),
		maxRetries: cfg.maxRetries,
		batchSize:  cfg.batchSize,
	}, nil
}

// Close releases the sequence lease and closes the database.
func (b *Backend) Close() error {
	return errors.Join(b.seq.Release(), b.db.Close())
}

// Ping reports whether the database is still open.
func (b *Backend) Ping(context.Context) error {
	if b.db.IsClosed() {
		return errors.New("jobq/badger: database is closed")
	}
	return nil
}

// update runs fn in a read-write transaction, retrying on conflicts.
func (b *Backend) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	for attempt := range b.maxRetries {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := b.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		b.logger.DebugContext(ctx, "badger transaction conflict, retrying", slog.Int("attempt", attempt+1))
	}
	return ErrConflict
}

func (b *Backend) notify() {
	b.mu.Lock()
	close(b.signal)
	b.signal = make(chan struct{})
	b.mu.Unlock()
}

func (b *Backend) waitSignal() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.signal
}

func getJob(txn *badger.Txn, jobID string) (*job.Job, error) {
	item, err := txn.Get(jobKey(jobID))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, job.ErrNotFound
		}
		return nil, err
	}

	var j *job.Job
	err = item.Value(func(val []byte) error {
		var derr error
		j, derr = job.Decode(val)
		return derr
	})
	return j, err
}

func exists(txn *badger.Txn, key []byte) (bool, error) {
	_, err := txn.Get(key)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, badger.ErrKeyNotFound):
		return false, nil
	default:
		return false, err
	}
}

func (b *Backend) PutJob(ctx context.Context, j *job.Job) error {
	data, err := job.Encode(j)
	if err != nil {
		return fmt.Errorf("jobq/badger: encode job: %w", err)
	}

	return b.update(ctx, func(txn *badger.Txn) error {
		ok, err := exists(txn, jobKey(j.ID))
		if err != nil {
			return err
		}
		if ok {
			return job.ErrDuplicateID
		}
		return txn.Set(jobKey(j.ID), data)
	})
}

func (b *Backend) GetJob(_ context.Context, jobID string) (*job.Job, error) {
	var j *job.Job
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		j, err = getJob(txn, jobID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return j, nil
}

func (b *Backend) UpdateJob(ctx context.Context, jobID string, fn func(*job.Job) error) (*job.Job, error) {
	var updated *job.Job
	err := b.update(ctx, func(txn *badger.Txn) error {
		j, err := getJob(txn, jobID)
		if err != nil {
			return err
		}
		if err := fn(j); err != nil {
			return err
		}
		data, err := job.Encode(j)
		if err != nil {
			return err
		}
		updated = j
		return txn.Set(jobKey(jobID), data)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (b *Backend) DeleteJob(ctx context.Context, jobID string) error {
	return b.update(ctx, func(txn *badger.Txn) error {
		ok, err := exists(txn, jobKey(jobID))
		if err != nil {
			return err
		}
		if !ok {
			return job.ErrNotFound
		}
		return txn.Delete(jobKey(jobID))
	})
}

func (b *Backend) Push(ctx context.Context, name, jobID string) error {
	seq, err := b.seq.Next()
	if err != nil {
		return fmt.Errorf("jobq/badger: next sequence: %w", err)
	}

	key := pendingKey(name, seq)
	err = b.update(ctx, func(txn *badger.Txn) error {
		if err := txn.Set(queueKey(name), nil); err != nil {
			return err
		}
		if err := txn.Set(key, []byte(jobID)); err != nil {
			return err
		}
		return txn.Set(indexKey(jobID), key)
	})
	if err != nil {
		return err
	}

	b.notify()
	return nil
}

// popTxn removes the head of the first non-empty queue.
func popTxn(txn *badger.Txn, queues []string) (string, string, error) {
	for _, name := range queues {
		prefix := pendingQueuePrefix(name)

		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, PrefetchSize: 1})
		it.Rewind()
		if !it.Valid() {
			it.Close()
			continue
		}
		item := it.Item()
		key := item.KeyCopy(nil)
		val, err := item.ValueCopy(nil)
		it.Close()
		if err != nil {
			return "", "", err
		}

		jobID := string(val)
		if err := txn.Delete(key); err != nil {
			return "", "", err
		}
		if err := txn.Delete(indexKey(jobID)); err != nil {
			return "", "", err
		}
		return name, jobID, nil
	}
	return "", "", queue.ErrEmpty
}

func (b *Backend) Pop(ctx context.Context, queues []string) (string, string, error) {
	var name, jobID string
	err := b.update(ctx, func(txn *badger.Txn) error {
		var err error
		name, jobID, err = popTxn(txn, queues)
		return err
	})
	if err != nil {
		return "", "", err
	}
	return name, jobID, nil
}

func (b *Backend) BlockingPop(ctx context.Context, queues []string, timeout time.Duration) (string, string, error) {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		// Grab the signal before popping so a push in between is not missed.
		signal := b.waitSignal()

		name, jobID, err := b.Pop(ctx, queues)
		if !errors.Is(err, queue.ErrEmpty) {
			return name, jobID, err
		}

		select {
		case <-signal:
		case <-deadline:
			return "", "", queue.ErrEmpty
		case <-ctx.Done():
			return "", "", ctx.Err()
		}
	}
}

func (b *Backend) Pending(_ context.Context, name string) ([]string, error) {
	ids := []string{}
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: pendingQueuePrefix(name), PrefetchValues: true, PrefetchSize: 100})
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			ids = append(ids, string(val))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (b *Backend) Len(_ context.Context, name string) (int, error) {
	n := 0
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: pendingQueuePrefix(name)})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

func (b *Backend) Remove(ctx context.Context, name, jobID string) error {
	prefix := pendingQueuePrefix(name)
	return b.update(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(indexKey(jobID))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return job.ErrNotFound
			}
			return err
		}
		key, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		// Pending in another queue.
		if !bytes.HasPrefix(key, prefix) {
			return job.ErrNotFound
		}
		if err := txn.Delete(key); err != nil {
			return err
		}
		return txn.Delete(indexKey(jobID))
	})
}

func (b *Backend) Empty(ctx context.Context, name string) (int, error) {
	return b.dropPending(ctx, name, true, nil)
}

// dropPending deletes the pending entries of name and their index keys in
// batches, one transaction each, and returns how many were dropped. Job
// records go too when dropJobs is set. Each id leaves in the same
// transaction that deletes its pending key, so a concurrent pop either gets
// it first or conflicts. last runs inside the transaction that finds the
// queue drained.
func (b *Backend) dropPending(ctx context.Context, name string, dropJobs bool, last func(txn *badger.Txn) error) (int, error) {
	var total int
	batch := b.batchSize
	for {
		var n int
		err := b.update(ctx, func(txn *badger.Txn) error {
			keys, ids, err := pendingBatch(txn, name, batch)
			if err != nil {
				return err
			}
			n = len(keys)
			for i, key := range keys {
				if err := txn.Delete(key); err != nil {
					return err
				}
				if err := txn.Delete(indexKey(ids[i])); err != nil {
					return err
				}
				if dropJobs {
					if err := txn.Delete(jobKey(ids[i])); err != nil {
						return err
					}
				}
			}
			if n < batch && last != nil {
				return last(txn)
			}
			return nil
		})
		if errors.Is(err, badger.ErrTxnTooBig) && batch > 1 {
			batch /= 2
			b.logger.DebugContext(ctx, "badger transaction too big, shrinking batch", slog.Int("batch", batch))
			continue
		}
		if err != nil {
			return total, err
		}
		total += n
		if n < batch {
			return total, nil
		}
	}
}

// pendingBatch returns up to limit pending keys of name with their ids,
// oldest first.
func pendingBatch(txn *badger.Txn, name string, limit int) ([][]byte, []string, error) {
	it := txn.NewIterator(badger.IteratorOptions{Prefix: pendingQueuePrefix(name), PrefetchValues: true})
	defer it.Close()

	var (
		keys [][]byte
		ids  []string
	)
	for it.Rewind(); it.Valid() && len(keys) < limit; it.Next() {
		item := it.Item()
		val, err := item.ValueCopy(nil)
		if err != nil {
			return nil, nil, err
		}
		keys = append(keys, item.KeyCopy(nil))
		ids = append(ids, string(val))
	}
	return keys, ids, nil
}

func (b *Backend) AddQueue(ctx context.Context, name string) error {
	return b.update(ctx, func(txn *badger.Txn) error {
		return txn.Set(queueKey(name), nil)
	})
}

func (b *Backend) Queues(_ context.Context) ([]string, error) {
	var names []string
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: queuePrefix})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			names = append(names, string(it.Item().Key()[len(queuePrefix):]))
		}
		return nil
	})
	return names, err
}

func (b *Backend) RemoveQueue(ctx context.Context, name string) error {
	_, err := b.dropPending(ctx, name, false, func(txn *badger.Txn) error {
		return txn.Delete(queueKey(name))
	})
	return err
}

// badgerLogger adapts slog to badger.Logger.
type badgerLogger struct {
	log *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.log.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.log.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.log.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.log.Debug(fmt.Sprintf(format, args...))
}
