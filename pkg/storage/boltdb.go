package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/sdpcontroller/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketInstances = []byte("instances")
	bucketHistory   = []byte("history")
)

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db *bolt.DB
}

var _ Store = (*BoltStore)(nil)

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	if err := os.MkdirAll(dataDir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, "sdpcontroller.db")

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketInstances, bucketHistory} {
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

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Instance operations
func (s *BoltStore) SaveInstance(inst *types.PipelineInstance) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketInstances)
		data, err := json.Marshal(inst)
		if err != nil {
			return err
		}
		return b.Put([]byte(inst.ID), data)
	})
}

func (s *BoltStore) GetInstance(id string) (*types.PipelineInstance, error) {
	var inst types.PipelineInstance
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketInstances)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("instance %s: %w", id, types.ErrNotFound)
		}
		return json.Unmarshal(data, &inst)
	})
	if err != nil {
		return nil, err
	}
	return &inst, nil
}

func (s *BoltStore) ListInstances() ([]*types.PipelineInstance, error) {
	var instances []*types.PipelineInstance
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketInstances).ForEach(func(k, v []byte) error {
			var inst types.PipelineInstance
			if err := json.Unmarshal(v, &inst); err != nil {
				return fmt.Errorf("failed to decode instance %s: %w", k, err)
			}
			instances = append(instances, &inst)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	types.SortInstances(instances)
	return instances, nil
}

func (s *BoltStore) DeleteInstance(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketInstances).Delete([]byte(id))
	})
}

// History operations

// historyKey orders history entries by the time they became terminal
func historyKey(inst *types.PipelineInstance) []byte {
	return []byte(fmt.Sprintf("%020d-%s", inst.UpdatedAt.UnixNano(), inst.ID))
}

// ArchiveInstance moves a terminal instance from the active bucket into
// history in one transaction, keeping at most keep history entries
// (keep <= 0 keeps everything).
func (s *BoltStore) ArchiveInstance(inst *types.PipelineInstance, keep int) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(inst)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketInstances).Delete([]byte(inst.ID)); err != nil {
			return err
		}
		history := tx.Bucket(bucketHistory)
		if err := history.Put(historyKey(inst), data); err != nil {
			return err
		}
		if keep <= 0 {
			return nil
		}

		var keys [][]byte
		c := history.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			keys = append(keys, append([]byte(nil), k...))
		}
		for i := 0; i < len(keys)-keep; i++ {
			if err := history.Delete(keys[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) ListHistory() ([]*types.PipelineInstance, error) {
	var instances []*types.PipelineInstance
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketHistory).ForEach(func(k, v []byte) error {
			var inst types.PipelineInstance
			if err := json.Unmarshal(v, &inst); err != nil {
				return fmt.Errorf("failed to decode history entry %s: %w", k, err)
			}
			instances = append(instances, &inst)
			return nil
		})
	})
	return instances, err
}
