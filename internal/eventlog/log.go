package eventlog

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/jellydator/ttlcache/v3"

	"github.com/Tuwebai/safespot-sync/internal/model"
)

const (
	eventPrefix  = "ev:"
	cursorPrefix = "cur:"
)

// Config holds event log tuning parameters.
type Config struct {
	Retention time.Duration // how long processed records are kept
	CacheTTL  time.Duration // hot dedup cache entry lifetime
	GCPeriod  time.Duration // badger value-log GC interval
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Retention: 7 * 24 * time.Hour,
		CacheTTL:  10 * time.Minute,
		GCPeriod:  30 * time.Minute,
	}
}

// Log is the durable processed-event log. Safe for concurrent use; marking
// the same id twice is a no-op by construction.
type Log struct {
	cfg    Config
	logger *slog.Logger

	db   *badger.DB
	seen *ttlcache.Cache[string, struct{}]

	mu      sync.Mutex // serializes cursor read-modify-write
	done    chan struct{}
	closeMu sync.Once
}

// Open opens (creating if needed) the event log at dir.
func Open(dir string, cfg Config, logger *slog.Logger) (*Log, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Retention == 0 {
		cfg.Retention = DefaultConfig().Retention
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = DefaultConfig().CacheTTL
	}
	if cfg.GCPeriod == 0 {
		cfg.GCPeriod = DefaultConfig().GCPeriod
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}

	opts := badger.DefaultOptions(dir).
		WithLogger(nil).
		WithMemTableSize(16 << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}

	// Touch-on-hit is disabled so cache entries age out on schedule and the
	// durable record stays the source of truth.
	cache := ttlcache.New[string, struct{}](
		ttlcache.WithTTL[string, struct{}](cfg.CacheTTL),
		ttlcache.WithDisableTouchOnHit[string, struct{}](),
	)
	go cache.Start()

	l := &Log{
		cfg:    cfg,
		logger: logger,
		db:     db,
		seen:   cache,
		done:   make(chan struct{}),
	}

	go l.gcLoop()

	return l, nil
}

// Close stops background work and closes the store.
func (l *Log) Close() error {
	var err error
	l.closeMu.Do(func() {
		close(l.done)
		l.seen.Stop()
		err = l.db.Close()
	})
	return err
}

// Seen reports whether (stream, id) has already been processed.
func (l *Log) Seen(stream, id string) (bool, error) {
	key := eventKey(stream, id)

	if l.seen.Has(string(key)) {
		return true, nil
	}

	found := false
	err := l.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("seen lookup: %w", err)
	}

	if found {
		l.seen.Set(string(key), struct{}{}, ttlcache.DefaultTTL)
	}
	return found, nil
}

// MarkProcessed durably records (stream, id) as applied at effectiveAt.
// The record expires after the retention window.
func (l *Log) MarkProcessed(stream, id string, effectiveAt int64) error {
	key := eventKey(stream, id)

	var at [8]byte
	binary.BigEndian.PutUint64(at[:], uint64(effectiveAt))

	err := l.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(key, at[:]).WithTTL(l.cfg.Retention)
		return txn.SetEntry(e)
	})
	if err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}

	l.seen.Set(string(key), struct{}{}, ttlcache.DefaultTTL)
	return nil
}

// Cursor returns the stream's cursor, zero-valued if it never advanced.
func (l *Log) Cursor(stream string) (model.Cursor, error) {
	cur := model.Cursor{Stream: stream}

	err := l.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(cursorKey(stream))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &cur)
		})
	})
	if err != nil {
		return model.Cursor{}, fmt.Errorf("read cursor: %w", err)
	}

	cur.Stream = stream
	return cur, nil
}

// SetCursor overwrites the stream's cursor. Cursors never expire.
func (l *Log) SetCursor(cur model.Cursor) error {
	data, err := json.Marshal(cur)
	if err != nil {
		return fmt.Errorf("encode cursor: %w", err)
	}

	err = l.db.Update(func(txn *badger.Txn) error {
		return txn.Set(cursorKey(cur.Stream), data)
	})
	if err != nil {
		return fmt.Errorf("write cursor: %w", err)
	}
	return nil
}

// MarkAndAdvance records the event as processed, then advances the stream
// cursor to the event's position if it sorts later. The processed record is
// committed first: a crash between the writes re-delivers the event, and the
// record turns the replay into a no-op.
func (l *Log) MarkAndAdvance(ev model.Event) error {
	if err := l.MarkProcessed(ev.Stream, ev.ID, ev.EffectiveAt); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	cur, err := l.Cursor(ev.Stream)
	if err != nil {
		return err
	}
	next := cur.Advance(ev)
	if next == cur {
		return nil
	}
	return l.SetCursor(next)
}

// Clear drops every processed record and the cursor for a stream. This is
// the full-resync path: after Clear the stream rehydrates from canonical
// reads with a fresh cursor.
func (l *Log) Clear(stream string) error {
	prefix := []byte(eventPrefix + stream + ":")

	err := l.db.Update(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		defer it.Close()

		var keys [][]byte
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return txn.Delete(cursorKey(stream))
	})
	if err != nil {
		return fmt.Errorf("clear stream %s: %w", stream, err)
	}

	// Cheaper to drop the whole cache than walk it per stream; misses fall
	// through to the durable record.
	l.seen.DeleteAll()

	l.logger.Info("event log cleared", "stream", stream)
	return nil
}

// gcLoop runs badger's value-log GC so expired records reclaim disk.
func (l *Log) gcLoop() {
	ticker := time.NewTicker(l.cfg.GCPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			for {
				if err := l.db.RunValueLogGC(0.5); err != nil {
					break
				}
			}
		}
	}
}

func eventKey(stream, id string) []byte {
	return []byte(eventPrefix + stream + ":" + id)
}

func cursorKey(stream string) []byte {
	return []byte(cursorPrefix + stream)
}
