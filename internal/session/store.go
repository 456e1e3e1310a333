package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v3"

	"github.com/Tuwebai/safespot-sync/internal/model"
)

var sessionKey = []byte("session:current")

// ErrNoSession is returned by Load when no snapshot is stored.
var ErrNoSession = errors.New("no stored session")

// Store persists the session snapshot so a restarted client resumes the
// same identity instead of minting a new anonymous one. Written only
// through Authority methods.
type Store struct {
	db *badger.DB
}

// OpenStore opens (creating if needed) the session store at dir.
func OpenStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}

	db, err := badger.Open(badger.DefaultOptions(dir).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the store.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save writes the session snapshot.
func (s *Store) Save(sess model.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(sessionKey, data)
	})
	if err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return nil
}

// Load reads the stored snapshot, ErrNoSession when absent.
func (s *Store) Load() (model.Session, error) {
	var sess model.Session
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(sessionKey)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNoSession
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &sess)
		})
	})
	if err != nil {
		if errors.Is(err, ErrNoSession) {
			return model.Session{}, ErrNoSession
		}
		return model.Session{}, fmt.Errorf("read session: %w", err)
	}
	return sess, nil
}

// Clear removes the stored snapshot. Clearing an empty store is a no-op.
func (s *Store) Clear() error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(sessionKey)
	})
	if err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}
