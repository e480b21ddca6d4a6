// Package state provides key/value persistence for gateway runtime state.
//
// Values live in named buckets. Two backends are provided:
//   - SQLiteStore: a local database file (modernc.org/sqlite, no CGO)
//   - RedisStore: one Redis hash per bucket, for gateways sharing a broker
//
// Callers use the typed bucket accessors in buckets.go rather than raw keys.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Common errors
var (
	ErrNotFound      = errors.New("key not found")
	ErrBucketExists  = errors.New("bucket already exists")
	ErrBucketMissing = errors.New("bucket does not exist")
	ErrStoreClosed   = errors.New("store is closed")
)

// Store is the state storage interface.
type Store interface {
	CreateBucket(name string) error
	DeleteBucket(name string) error
	ListBuckets() ([]string, error)

	Get(bucket, key string) ([]byte, error)
	Set(bucket, key string, value []byte) error
	Delete(bucket, key string) error
	List(bucket string) (map[string][]byte, error)

	Close() error
}

// GetJSON retrieves a value and unmarshals it into v.
func GetJSON(s Store, bucket, key string, v any) error {
	data, err := s.Get(bucket, key)
	if err != nil {
		return err
	}
	return unmarshalJSON(data, v)
}

// SetJSON marshals v and stores it.
func SetJSON(s Store, bucket, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s/%s: %w", bucket, key, err)
	}
	return s.Set(bucket, key, data)
}

// ensureBucket creates a bucket, tolerating one that already exists.
func ensureBucket(s Store, name string) error {
	if err := s.CreateBucket(name); err != nil && !errors.Is(err, ErrBucketExists) {
		return err
	}
	return nil
}

func unmarshalJSON(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	return nil
}
