package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/cuemby/gridrestore/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketNodes    = []byte("nodes")
	bucketAttempts = []byte("attempts")
	bucketCA       = []byte("ca")
)

// BoltStore implements Store using BoltDB.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store rooted at dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "gridrestore.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketNodes, bucketAttempts, bucketCA} {
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

// CreateNode upserts a node record.
func (s *BoltStore) CreateNode(node *types.NodeInfo) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		data, err := json.Marshal(node)
		if err != nil {
			return err
		}
		return b.Put([]byte(node.ID), data)
	})
}

// GetNode retrieves a node by id.
func (s *BoltStore) GetNode(id string) (*types.NodeInfo, error) {
	var node types.NodeInfo
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("node not found: %s", id)
		}
		return json.Unmarshal(data, &node)
	})
	return &node, err
}

// ListNodes returns every known node.
func (s *BoltStore) ListNodes() ([]*types.NodeInfo, error) {
	var nodes []*types.NodeInfo
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		return b.ForEach(func(k, v []byte) error {
			var node types.NodeInfo
			if err := json.Unmarshal(v, &node); err != nil {
				return err
			}
			nodes = append(nodes, &node)
			return nil
		})
	})
	return nodes, err
}

// UpdateNode is an alias for CreateNode (upsert semantics).
func (s *BoltStore) UpdateNode(node *types.NodeInfo) error {
	return s.CreateNode(node)
}

// DeleteNode removes a node record.
func (s *BoltStore) DeleteNode(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		return b.Delete([]byte(id))
	})
}

// PutAttempt upserts a restore-attempt ledger entry.
func (s *BoltStore) PutAttempt(record *AttemptRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAttempts)
		data, err := json.Marshal(record)
		if err != nil {
			return err
		}
		return b.Put([]byte(record.RequestID), data)
	})
}

// GetAttempt retrieves one ledger entry by request id.
func (s *BoltStore) GetAttempt(requestID string) (*AttemptRecord, error) {
	var record AttemptRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAttempts)
		data := b.Get([]byte(requestID))
		if data == nil {
			return fmt.Errorf("attempt not found: %s", requestID)
		}
		return json.Unmarshal(data, &record)
	})
	return &record, err
}

// ListAttempts returns every ledger entry.
func (s *BoltStore) ListAttempts() ([]*AttemptRecord, error) {
	var records []*AttemptRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAttempts)
		return b.ForEach(func(k, v []byte) error {
			var record AttemptRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return err
			}
			records = append(records, &record)
			return nil
		})
	})
	return records, err
}

// SaveCA persists the (encrypted) certificate authority blob.
func (s *BoltStore) SaveCA(data []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCA)
		return b.Put([]byte("root"), data)
	})
}

// GetCA retrieves the certificate authority blob.
func (s *BoltStore) GetCA() ([]byte, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCA)
		v := b.Get([]byte("root"))
		if v == nil {
			return fmt.Errorf("CA not found in storage")
		}
		data = make([]byte, len(v))
		copy(data, v)
		return nil
	})
	return data, err
}
