package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketCompletions = []byte("completions")
	bucketCategories  = []byte("categories")
)

// BoltStore implements Store using bbolt, the same way the rest of this
// codebase's persistence layer wraps it: one bucket per record type,
// JSON-marshaled values, upsert-by-key writes.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if necessary) the manager's warm-start log
// under dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "workqueue.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketCompletions, bucketCategories} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// AppendCompletion records one finished task. The bucket key is the task ID
// so re-delivery of the same completion is an idempotent upsert.
func (s *BoltStore) AppendCompletion(rec *CompletionRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCompletions)
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		key := strconv.FormatInt(rec.TaskID, 10)
		return b.Put([]byte(key), data)
	})
}

// ListCompletions returns every recorded completion, in no particular order.
func (s *BoltStore) ListCompletions() ([]*CompletionRecord, error) {
	var recs []*CompletionRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCompletions)
		return b.ForEach(func(k, v []byte) error {
			var rec CompletionRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			recs = append(recs, &rec)
			return nil
		})
	})
	return recs, err
}

// SaveCategorySnapshot upserts a category's resource-engine snapshot.
func (s *BoltStore) SaveCategorySnapshot(snap *CategorySnapshot) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCategories)
		data, err := json.Marshal(snap)
		if err != nil {
			return err
		}
		return b.Put([]byte(snap.Name), data)
	})
}

// GetCategorySnapshot fetches one category's snapshot by name.
func (s *BoltStore) GetCategorySnapshot(name string) (*CategorySnapshot, error) {
	var snap CategorySnapshot
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCategories)
		data := b.Get([]byte(name))
		if data == nil {
			return fmt.Errorf("category snapshot not found: %s", name)
		}
		return json.Unmarshal(data, &snap)
	})
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// ListCategorySnapshots returns every stored category snapshot. Manager
// startup lists and logs them; it does not rebuild the resource engine
// from them.
func (s *BoltStore) ListCategorySnapshots() ([]*CategorySnapshot, error) {
	var snaps []*CategorySnapshot
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCategories)
		return b.ForEach(func(k, v []byte) error {
			var snap CategorySnapshot
			if err := json.Unmarshal(v, &snap); err != nil {
				return err
			}
			snaps = append(snaps, &snap)
			return nil
		})
	})
	return snaps, err
}
