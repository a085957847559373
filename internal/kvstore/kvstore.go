/*
 * Copyright 2025 Hewlett Packard Enterprise Development LP
 * Other additional copyright holders may be indicated within.
 *
 * The entirety of this work is licensed under the Apache License,
 * Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.
 *
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package kvstore is a persistent store of keyed ledgers. Every key holds a
// metadata blob written when the key is created followed by an append-only log
// of typed entries. On startup the owners of each key prefix replay their
// ledgers to rebuild their in-memory state.
package kvstore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/dgraph-io/badger/v3"
	log "github.com/sirupsen/logrus"
)

var (
	ErrKeyNotFound = errors.New("key not found")
	ErrKeyExists   = errors.New("key exists")
	ErrCorrupt     = errors.New("ledger corrupt")
)

// Registry owns every key that starts with its prefix.
type Registry interface {
	Prefix() string
	NewReplay(id string) ReplayHandler
}

// ReplayHandler receives the contents of one ledger during a replay.
type ReplayHandler interface {
	Metadata(data []byte) error
	Entry(t uint32, data []byte) error
	Done() error
}

type Store struct {
	path string
	db   *badger.DB

	lock       sync.Mutex
	registries []Registry
}

// Open opens the store at path. An empty path opens a store held only in
// memory.
func Open(path string, readOnly bool) (*Store, error) {
	return OpenWithLogger(path, readOnly, log.WithField("component", "kvstore"))
}

// OpenWithLogger opens the store routing badger's own logging to logger.
func OpenWithLogger(path string, readOnly bool, logger *log.Entry) (*Store, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	} else {
		opts = opts.WithReadOnly(readOnly)
	}

	if logger != nil {
		opts = opts.WithLogger(badgerLogger{logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open store '%s': %w", path, err)
	}

	return &Store{path: path, db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Path() string { return s.path }

// Register adds registries whose keys are replayed by Replay.
func (s *Store) Register(registries []Registry) {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.registries = append(s.registries, registries...)
}

func (s *Store) MakeKey(registry Registry, id string) string {
	return registry.Prefix() + id
}

// NewKey creates a ledger at key with the provided metadata.
func (s *Store) NewKey(key string, metadata []byte) (*Ledger, error) {
	value := binary.LittleEndian.AppendUint32(nil, uint32(len(metadata)))
	value = append(value, metadata...)

	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(key)); err == nil {
			return fmt.Errorf("%s: %w", key, ErrKeyExists)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		return txn.Set([]byte(key), value)
	})
	if err != nil {
		return nil, err
	}

	return &Ledger{store: s, key: key}, nil
}

// OpenKey opens the existing ledger at key.
func (s *Store) OpenKey(key string) (*Ledger, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(key))
		return err
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%s: %w", key, ErrKeyNotFound)
	} else if err != nil {
		return nil, err
	}

	return &Ledger{store: s, key: key}, nil
}

func (s *Store) DeleteKey(key string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(key)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%s: %w", key, ErrKeyNotFound)
			}
			return err
		}
		return txn.Delete([]byte(key))
	})
}

// Replay walks every key owned by a registered registry, in key order, and
// feeds its ledger to a new replay handler.
func (s *Store) Replay() error {
	s.lock.Lock()
	registries := make([]Registry, len(s.registries))
	copy(registries, s.registries)
	s.lock.Unlock()

	return s.db.View(func(txn *badger.Txn) error {
		for _, registry := range registries {
			prefix := []byte(registry.Prefix())

			it := txn.NewIterator(badger.DefaultIteratorOptions)
			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				item := it.Item()

				key := string(item.KeyCopy(nil))
				value, err := item.ValueCopy(nil)
				if err != nil {
					it.Close()
					return err
				}

				handler := registry.NewReplay(strings.TrimPrefix(key, registry.Prefix()))
				if err := replay(key, value, handler); err != nil {
					it.Close()
					return err
				}
			}
			it.Close()
		}

		return nil
	})
}

func replay(key string, value []byte, handler ReplayHandler) error {
	if len(value) < 4 {
		return fmt.Errorf("%s: %w", key, ErrCorrupt)
	}

	length := int(binary.LittleEndian.Uint32(value))
	value = value[4:]
	if length > len(value) {
		return fmt.Errorf("%s: metadata: %w", key, ErrCorrupt)
	}

	if err := handler.Metadata(value[:length]); err != nil {
		return err
	}
	value = value[length:]

	for len(value) != 0 {
		if len(value) < 8 {
			return fmt.Errorf("%s: entry header: %w", key, ErrCorrupt)
		}

		t := binary.LittleEndian.Uint32(value)
		length := int(binary.LittleEndian.Uint32(value[4:]))
		value = value[8:]
		if length > len(value) {
			return fmt.Errorf("%s: entry: %w", key, ErrCorrupt)
		}

		if err := handler.Entry(t, value[:length]); err != nil {
			return err
		}
		value = value[length:]
	}

	return handler.Done()
}

// Ledger appends typed entries to one key.
type Ledger struct {
	store *Store
	key   string
}

func (l *Ledger) Key() string { return l.key }

func (l *Ledger) Log(t uint32, data []byte) error {
	if l.store == nil {
		return fmt.Errorf("%s: ledger closed", l.key)
	}

	return l.store.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(l.key))
		if err != nil {
			return err
		}

		value, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}

		value = binary.LittleEndian.AppendUint32(value, t)
		value = binary.LittleEndian.AppendUint32(value, uint32(len(data)))
		value = append(value, data...)

		return txn.Set([]byte(l.key), value)
	})
}

func (l *Ledger) Close() error {
	l.store = nil
	return nil
}

func (l *Ledger) Closed() bool { return l.store == nil }

// badgerLogger forwards badger's logging to logrus. Badger's informational
// chatter is demoted to debug.
type badgerLogger struct {
	*log.Entry
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.Entry.Debugf(format, args...)
}
