// Package artifacts uploads narration audio and derives its public URL.
package artifacts

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var ErrUpload = errors.New("UPLOAD_ERROR")

type PutOptions struct {
	ContentType  string
	CacheControl string
}

// ObjectStore is a bucket that makes written objects publicly readable.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, opts PutOptions) error
}

type Config struct {
	Bucket       string
	PublicHost   string
	KeyPrefix    string
	CacheControl string
	Timeout      time.Duration
}

// Store names, uploads and addresses artifacts.
type Store struct {
	objects ObjectStore
	config  Config
	now     func() time.Time
}

func NewStore(objects ObjectStore, cfg Config) *Store {
	if cfg.CacheControl == "" {
		cfg.CacheControl = "public, max-age=31536000"
	}
	return &Store{
		objects: objects,
		config:  cfg,
		now:     time.Now,
	}
}

// Save uploads data under a fresh key and returns its public URL.
func (s *Store) Save(ctx context.Context, data []byte, title, ext, contentType string) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty artifact", ErrUpload)
	}
	if s.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.Timeout)
		defer cancel()
	}

	key := BuildKey(s.config.KeyPrefix, title, ext, s.now())
	err := s.objects.Put(ctx, key, data, PutOptions{
		ContentType:  contentType,
		CacheControl: s.config.CacheControl,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrUpload, key, err)
	}
	return PublicURL(s.config.PublicHost, s.config.Bucket, key), nil
}
