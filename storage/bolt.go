package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	reflow "github.com/joeycumines/go-reflow"
)

const bucketState = "state"

// BoltStore persists snapshots in a bbolt database, one key per client
// token. bbolt's single-writer transactions combined with reflow's
// per-token lock give the at-most-one-writer-per-token contract for free.
type BoltStore struct {
	db *bolt.DB
}

// OpenBoltStore opens (creating if needed) the database at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("storage: opening bolt database %q: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketState))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: initializing bolt database %q: %w", path, err)
	}
	return &BoltStore{db: db}, nil
}

// GetState retrieves the snapshot for a token, or (nil, nil) if absent.
func (b *BoltStore) GetState(_ context.Context, token string) (*reflow.Snapshot, error) {
	var snap *reflow.Snapshot
	err := b.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(bucketState)).Get([]byte(token))
		if data == nil {
			return nil
		}
		snap = new(reflow.Snapshot)
		return json.Unmarshal(data, snap)
	})
	if err != nil {
		return nil, fmt.Errorf("storage: reading snapshot for token %q: %w", token, err)
	}
	return snap, nil
}

// SetState persists the snapshot for a token.
func (b *BoltStore) SetState(_ context.Context, token string, snap *reflow.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("storage: encoding snapshot for token %q: %w", token, err)
	}
	err = b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketState)).Put([]byte(token), data)
	})
	if err != nil {
		return fmt.Errorf("storage: writing snapshot for token %q: %w", token, err)
	}
	return nil
}

// DeleteState removes a token's snapshot; deleting an absent token is a
// no-op.
func (b *BoltStore) DeleteState(_ context.Context, token string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketState)).Delete([]byte(token))
	})
}

// Close closes the underlying database.
func (b *BoltStore) Close() error { return b.db.Close() }

var _ reflow.Store = (*BoltStore)(nil)
