package objectstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// ObjectStorage is the blob interface the retention workers need.
// Deleting a missing object is not an error.
type ObjectStorage interface {
	PutObject(ctx context.Context, key string, data []byte) error
	GetObject(ctx context.Context, key string) ([]byte, error)
	DeleteObject(ctx context.Context, key string) error
}

// ErrNotFound is returned by GetObject for a missing key.
var ErrNotFound = errors.New("objectstore: object not found")

// NATSObjectStore implements ObjectStorage on a JetStream object
// bucket. Artifacts and replay event logs live here.
type NATSObjectStore struct {
	obs jetstream.ObjectStore
}

// NewNATSObjectStore binds to (or creates) the named object bucket.
func NewNATSObjectStore(ctx context.Context, nc *nats.Conn, bucket string) (*NATSObjectStore, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	obs, err := js.ObjectStore(ctx, bucket)
	if err != nil {
		if !errors.Is(err, jetstream.ErrBucketNotFound) {
			return nil, fmt.Errorf("bind object bucket %s: %w", bucket, err)
		}
		obs, err = js.CreateObjectStore(ctx, jetstream.ObjectStoreConfig{Bucket: bucket})
		if err != nil {
			return nil, fmt.Errorf("create object bucket %s: %w", bucket, err)
		}
	}
	return &NATSObjectStore{obs: obs}, nil
}

func (s *NATSObjectStore) PutObject(ctx context.Context, key string, data []byte) error {
	_, err := s.obs.PutBytes(ctx, key, data)
	return err
}

func (s *NATSObjectStore) GetObject(ctx context.Context, key string) ([]byte, error) {
	data, err := s.obs.GetBytes(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrObjectNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

func (s *NATSObjectStore) DeleteObject(ctx context.Context, key string) error {
	err := s.obs.Delete(ctx, key)
	if err != nil && !errors.Is(err, jetstream.ErrObjectNotFound) {
		return err
	}
	return nil
}

// MemoryObjectStore is an in-process ObjectStorage for tests.
type MemoryObjectStore struct {
	objects map[string][]byte
}

// NewMemoryObjectStore creates an empty in-memory store.
func NewMemoryObjectStore() *MemoryObjectStore {
	return &MemoryObjectStore{objects: make(map[string][]byte)}
}

func (s *MemoryObjectStore) PutObject(ctx context.Context, key string, data []byte) error {
	s.objects[key] = append([]byte(nil), data...)
	return nil
}

func (s *MemoryObjectStore) GetObject(ctx context.Context, key string) ([]byte, error) {
	data, ok := s.objects[key]
	if !ok {
		return nil, ErrNotFound
	}
	return data, nil
}

func (s *MemoryObjectStore) DeleteObject(ctx context.Context, key string) error {
	delete(s.objects, key)
	return nil
}

// Len reports how many objects are stored. Test helper.
func (s *MemoryObjectStore) Len() int {
	return len(s.objects)
}

// ReplayKey is the object key holding a sandbox's replay event log.
func ReplayKey(sandboxID string) string {
	return "replays/" + sandboxID + ".jsonl"
}
