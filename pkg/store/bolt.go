package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/xhad/newsqa/internal/models"
	"go.etcd.io/bbolt"
)

const DefaultBoltPath = "data/vectorstore.db"

var (
	boltBucket = []byte("vectorstore")
	boltKey    = []byte("corpus")
)

// BoltBackend keeps the corpus as one JSON value in a bbolt bucket. Each
// write is a single bbolt transaction.
type BoltBackend struct {
	path string
	db   *bbolt.DB
}

func NewBoltBackend(path string) (*BoltBackend, error) {
	if path == "" {
		path = DefaultBoltPath
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve store path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	db, err := bbolt.Open(abs, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database: %w", err)
	}

	return &BoltBackend{path: abs, db: db}, nil
}

func (b *BoltBackend) Name() string {
	return "bolt:" + b.path
}

func (b *BoltBackend) Read(ctx context.Context) (models.Corpus, error) {
	if err := ctx.Err(); err != nil {
		return models.Corpus{}, err
	}

	var data []byte
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(boltBucket)
		if bucket == nil {
			return nil
		}
		if v := bucket.Get(boltKey); v != nil {
			data = make([]byte, len(v))
			copy(data, v)
		}
		return nil
	})
	if err != nil {
		return models.Corpus{}, fmt.Errorf("failed to read bolt store: %w", err)
	}
	if data == nil {
		return models.EmptyCorpus(), nil
	}

	return decodeCorpus(data)
}

func (b *BoltBackend) Write(ctx context.Context, corpus models.Corpus) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(corpus)
	if err != nil {
		return fmt.Errorf("failed to encode corpus: %w", err)
	}

	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(boltBucket)
		if err != nil {
			return err
		}
		return bucket.Put(boltKey, data)
	})
}

func (b *BoltBackend) Close() error {
	return b.db.Close()
}
