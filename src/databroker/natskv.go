package databroker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// DefaultNATSTimeout bounds a single KV round-trip
const DefaultNATSTimeout = 2 * time.Second

// NATSStore keeps signals in a JetStream key-value bucket. Keys are signal
// paths and values are the JSON encoding of Value.
type NATSStore struct {
	kv      jetstream.KeyValue
	catalog *Catalog
	timeout time.Duration
}

// OpenNATSStore opens (or creates) bucket and seeds it with the catalog's
// initial values. Keys that already exist are left untouched.
func OpenNATSStore(
	ctx context.Context,
	conn *nats.Conn,
	bucket string,
	catalog *Catalog,
	timeout time.Duration,
) (*NATSStore, error) {
	js, err := jetstream.New(conn)
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	kv, err := js.KeyValue(ctx, bucket)
	if errors.Is(err, jetstream.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket:      bucket,
			Description: "Vehicle signal values",
			History:     1,
		})
		if errors.Is(err, jetstream.ErrBucketExists) {
			// Created concurrently by another instance
			kv, err = js.KeyValue(ctx, bucket)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("open kv bucket %s: %w", bucket, err)
	}

	if timeout <= 0 {
		timeout = DefaultNATSTimeout
	}
	s := &NATSStore{kv: kv, catalog: catalog, timeout: timeout}
	if err := s.seed(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *NATSStore) seed(ctx context.Context) error {
	initial, err := s.catalog.InitialValues()
	if err != nil {
		return err
	}
	seeded := 0
	for _, path := range s.catalog.Paths() {
		v, ok := initial[path]
		if !ok {
			continue
		}
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode %s: %w", path, err)
		}
		_, err = s.kv.Create(ctx, string(path), data)
		switch {
		case err == nil:
			seeded++
		case errors.Is(err, jetstream.ErrKeyExists):
		default:
			return fmt.Errorf("seed %s: %w", path, err)
		}
	}
	log.Printf("NATS store: seeded %d signals in bucket %s\n", seeded, s.kv.Bucket())
	return nil
}

// Get fetches the latest value for path
func (s *NATSStore) Get(ctx context.Context, path Path) (Value, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	entry, err := s.kv.Get(ctx, string(path))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return Value{}, fmt.Errorf("%s: %w", path, ErrNotFound)
		}
		return Value{}, &ConnectivityError{Op: "get", Path: path, Err: err}
	}

	return decodeEntry(path, entry.Value())
}

func decodeEntry(path Path, data []byte) (Value, error) {
	var v Value
	if err := json.Unmarshal(data, &v); err != nil {
		return Value{}, &CorruptValueError{Path: path, Err: err}
	}
	return v, nil
}

// Set validates value against the catalog and puts it (last writer wins)
func (s *NATSStore) Set(ctx context.Context, path Path, value Value) error {
	if err := s.catalog.Validate(path, value); err != nil {
		return err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if _, err := s.kv.Put(ctx, string(path), data); err != nil {
		return &ConnectivityError{Op: "set", Path: path, Err: err}
	}
	return nil
}
