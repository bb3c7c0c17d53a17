// surbstore.go - crash-safe persistence for reply SURBs and reply keys.
// Copyright (C) 2017  David Anthony Stainton
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package surbstore implements the Reply-SURB Storage component: persistent maps of used sender tags, issued reply
// keys and the received SURB pool per correspondent, flushed with
// crash-safe rotate-then-write-then-delete-old semantics.
package surbstore

import (
	"encoding/json"
	"errors"
	"os"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	statusBucket      = []byte("status")
	replyKeyBucket    = []byte("reply_key")
	senderTagBucket   = []byte("reply_surb_sender")
	replySurbBucket   = []byte("reply_surb")
	metadataBucket    = []byte("reply_surb_storage_metadata")
	flushFlagKey      = []byte("flush_in_progress")
	previousFlushKey  = []byte("previous_flush")
)

// ErrCorruptStore is returned by Load when the live file and any .old
// fallback are both unusable.
var ErrCorruptStore = errors.New("surbstore: persisted store is corrupt and no fallback snapshot exists")

// Snapshot is the full in-memory state persisted by the store.
type Snapshot struct {
	// UsedSenderTags holds sender tags this client has already consumed,
	// keyed by tag, so a replayed SURB-ack is rejected.
	UsedSenderTags map[string]bool

	// ReplyKeys holds the one-shot reply decryption key for each
	// outstanding reply digest.
	ReplyKeys map[string][]byte

	// ReplySurbs holds the unused SURB pool, keyed by correspondent.
	ReplySurbs map[string][][]byte

	PreviousFlush time.Time
}

func emptySnapshot() Snapshot {
	return Snapshot{
		UsedSenderTags: make(map[string]bool),
		ReplyKeys:      make(map[string][]byte),
		ReplySurbs:     make(map[string][][]byte),
	}
}

// Store is the on-disk reply-SURB store. path names the live file; path+".old" is its rotation
// sibling used transiently during Flush.
type Store struct {
	path string
}

// New returns a Store rooted at path. It does not touch disk until Load
// or Flush is called.
func New(path string) *Store {
	return &Store{path: path}
}

func (s *Store) oldPath() string {
	return s.path + ".old"
}

// Load reads the most recent complete snapshot. If the live file carries
// flush_in_progress=true (an interrupted Flush), it is discarded in favor
// of the ".old" sibling, giving crash recovery without a torn write.
// If neither file exists, an empty snapshot is returned with ok=false.
func (s *Store) Load() (snap Snapshot, ok bool, err error) {
	snap, complete, openErr := s.tryLoad(s.path)
	if openErr == nil && complete {
		return snap, true, nil
	}

	oldSnap, oldComplete, oldErr := s.tryLoad(s.oldPath())
	if oldErr == nil && oldComplete {
		return oldSnap, true, nil
	}

	if openErr != nil && os.IsNotExist(openErr) && oldErr != nil && os.IsNotExist(oldErr) {
		return emptySnapshot(), false, nil
	}
	return Snapshot{}, false, ErrCorruptStore
}

// tryLoad opens path read-only and returns its snapshot plus whether it
// was flushed completely (flush_in_progress == false).
func (s *Store) tryLoad(path string) (Snapshot, bool, error) {
	if _, err := os.Stat(path); err != nil {
		return Snapshot{}, false, err
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{ReadOnly: true, Timeout: time.Second})
	if err != nil {
		return Snapshot{}, false, err
	}
	defer db.Close()

	snap := emptySnapshot()
	complete := false
	err = db.View(func(tx *bolt.Tx) error {
		status := tx.Bucket(statusBucket)
		if status == nil {
			return errors.New("surbstore: missing status bucket")
		}
		complete = len(status.Get(flushFlagKey)) == 0 || status.Get(flushFlagKey)[0] == 0

		if b := tx.Bucket(replyKeyBucket); b != nil {
			b.ForEach(func(k, v []byte) error {
				snap.ReplyKeys[string(k)] = append([]byte{}, v...)
				return nil
			})
		}
		if b := tx.Bucket(senderTagBucket); b != nil {
			b.ForEach(func(k, v []byte) error {
				snap.UsedSenderTags[string(k)] = true
				return nil
			})
		}
		if b := tx.Bucket(replySurbBucket); b != nil {
			b.ForEach(func(k, v []byte) error {
				var surbs [][]byte
				if err := json.Unmarshal(v, &surbs); err != nil {
					return err
				}
				snap.ReplySurbs[string(k)] = surbs
				return nil
			})
		}
		if b := tx.Bucket(metadataBucket); b != nil {
			if raw := b.Get(previousFlushKey); len(raw) > 0 {
				if ts, err := time.Parse(time.RFC3339Nano, string(raw)); err == nil {
					snap.PreviousFlush = ts
				}
			}
		}
		return nil
	})
	if err != nil {
		return Snapshot{}, false, err
	}
	return snap, complete, nil
}

// Flush persists snap using rotate-then-write-then-delete-old:
//  1. rename live -> live.old (if live exists)
//  2. open a fresh live file, mark flush_in_progress
//  3. write every bucket
//  4. clear flush_in_progress
//  5. delete live.old
func (s *Store) Flush(snap Snapshot) error {
	if _, err := os.Stat(s.path); err == nil {
		if err := os.Rename(s.path, s.oldPath()); err != nil {
			return err
		}
	} else if !os.IsNotExist(err) {
		return err
	}

	db, err := bolt.Open(s.path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return err
	}

	writeErr := db.Update(func(tx *bolt.Tx) error {
		status, err := tx.CreateBucketIfNotExists(statusBucket)
		if err != nil {
			return err
		}
		if err := status.Put(flushFlagKey, []byte{1}); err != nil {
			return err
		}

		replyKeys, err := tx.CreateBucketIfNotExists(replyKeyBucket)
		if err != nil {
			return err
		}
		for id, key := range snap.ReplyKeys {
			if err := replyKeys.Put([]byte(id), key); err != nil {
				return err
			}
		}

		tags, err := tx.CreateBucketIfNotExists(senderTagBucket)
		if err != nil {
			return err
		}
		for tag := range snap.UsedSenderTags {
			if err := tags.Put([]byte(tag), []byte{1}); err != nil {
				return err
			}
		}

		surbs, err := tx.CreateBucketIfNotExists(replySurbBucket)
		if err != nil {
			return err
		}
		for correspondent, pool := range snap.ReplySurbs {
			raw, err := json.Marshal(pool)
			if err != nil {
				return err
			}
			if err := surbs.Put([]byte(correspondent), raw); err != nil {
				return err
			}
		}

		metadata, err := tx.CreateBucketIfNotExists(metadataBucket)
		if err != nil {
			return err
		}
		if err := metadata.Put(previousFlushKey, []byte(time.Now().UTC().Format(time.RFC3339Nano))); err != nil {
			return err
		}

		return status.Put(flushFlagKey, []byte{0})
	})
	if writeErr != nil {
		db.Close()
		return writeErr
	}
	if err := db.Close(); err != nil {
		return err
	}

	if _, err := os.Stat(s.oldPath()); err == nil {
		return os.Remove(s.oldPath())
	}
	return nil
}
