package decoder

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const bucketName = "decodes"

// DB defines the interface for the decode audit log
type DB interface {
	// SaveDecode saves a decode record
	SaveDecode(decode *Decode) error

	// GetDecode retrieves a decode record by ID
	GetDecode(id string) (*Decode, error)

	// ListDecodes returns all decode records, newest first
	ListDecodes() ([]*Decode, error)

	// DeleteDecode removes a decode record
	DeleteDecode(id string) error

	// Close closes the database connection
	Close() error
}

// BoltDB implements the DB interface using BoltDB
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

// SaveDecode saves a decode record to the database
func (b *BoltDB) SaveDecode(decode *Decode) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		data, err := json.Marshal(decode)
		if err != nil {
			return fmt.Errorf("marshaling decode: %w", err)
		}
		return bucket.Put([]byte(decode.ID), data)
	})
}

// GetDecode retrieves a decode record by ID
func (b *BoltDB) GetDecode(id string) (*Decode, error) {
	var decode *Decode
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		data := bucket.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("decode not found: %s", id)
		}
		return json.Unmarshal(data, &decode)
	})
	if err != nil {
		return nil, err
	}
	return decode, nil
}

// ListDecodes returns all decode records, newest first
func (b *BoltDB) ListDecodes() ([]*Decode, error) {
	decodes := make([]*Decode, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		return bucket.ForEach(func(k, v []byte) error {
			var decode Decode
			if err := json.Unmarshal(v, &decode); err != nil {
				return fmt.Errorf("unmarshaling decode: %w", err)
			}
			decodes = append(decodes, &decode)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortNewestFirst(decodes)
	return decodes, nil
}

// DeleteDecode removes a decode record from the database
func (b *BoltDB) DeleteDecode(id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		return bucket.Delete([]byte(id))
	})
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}
