package artifacts

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NATSStore keeps artifacts in a JetStream object store bucket. Objects are
// served publicly by the gateway in front of the bucket.
type NATSStore struct {
	bucket string
	store  nats.ObjectStore
}

// NewNATSStore creates the bucket, or binds to it when it already exists.
func NewNATSStore(js nats.JetStreamContext, bucket string) (*NATSStore, error) {
	store, err := js.CreateObjectStore(&nats.ObjectStoreConfig{
		Bucket:      bucket,
		Description: fmt.Sprintf("Narration audio for the %s bucket.", bucket),
		Storage:     nats.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		if !errors.Is(err, jetstream.ErrBucketExists) && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
			return nil, fmt.Errorf("failed to create object store bucket '%s': %w", bucket, err)
		}
		store, err = js.ObjectStore(bucket)
		if err != nil {
			return nil, fmt.Errorf("failed to bind to object store bucket '%s': %w", bucket, err)
		}
	}
	return &NATSStore{bucket: bucket, store: store}, nil
}

func (n *NATSStore) Put(ctx context.Context, key string, data []byte, opts PutOptions) error {
	headers := nats.Header{}
	if opts.ContentType != "" {
		headers.Set("Content-Type", opts.ContentType)
	}
	if opts.CacheControl != "" {
		headers.Set("Cache-Control", opts.CacheControl)
	}

	_, err := n.store.Put(&nats.ObjectMeta{
		Name:    key,
		Headers: headers,
	}, bytes.NewReader(data), nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("failed to put object '%s' to bucket '%s': %w", key, n.bucket, err)
	}
	return nil
}
