package detect

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	bolt "go.etcd.io/bbolt"

	"doc-redactor/internal/logger"
)

// PredictionCache stores serialized model predictions keyed by language and
// text digest, so re-processing a document skips the model. Implementations
// must be safe for concurrent use.
type PredictionCache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte)
	Delete(key string)
	Close() error
}

// NewMemoryCache returns an unbounded in-process cache.
func NewMemoryCache() PredictionCache {
	return &memoryCache{entries: make(map[string][]byte)}
}

type memoryCache struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

func (c *memoryCache) Get(key string) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[key]
	return v, ok
}

func (c *memoryCache) Set(key string, value []byte) {
	c.mu.Lock()
	c.entries[key] = value
	c.mu.Unlock()
}

func (c *memoryCache) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

func (c *memoryCache) Close() error { return nil }

const predictionBucket = "ner_predictions"

// boltCache persists predictions in a bbolt file so they survive restarts.
type boltCache struct {
	db  *bolt.DB
	log *logger.Logger
}

// OpenBoltCache opens or creates the database at path.
func OpenBoltCache(path string, log *logger.Logger) (PredictionCache, error) {
	if log == nil {
		log = logger.Nop()
	}
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open prediction cache %q: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(predictionBucket))
		return err
	}); err != nil {
		db.Close() //nolint:errcheck // init failure
		return nil, fmt.Errorf("create bucket %s: %w", predictionBucket, err)
	}
	log.Infof("cache_open", "prediction cache at %s", path)
	return &boltCache{db: db, log: log}, nil
}

func (c *boltCache) Get(key string) ([]byte, bool) {
	var out []byte
	if err := c.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket([]byte(predictionBucket)).Get([]byte(key)); v != nil {
			// v is only valid inside the transaction.
			out = append([]byte(nil), v...)
		}
		return nil
	}); err != nil {
		c.log.Warnf("cache_get", "bbolt: %v", err)
		return nil, false
	}
	return out, out != nil
}

func (c *boltCache) Set(key string, value []byte) {
	if err := c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(predictionBucket)).Put([]byte(key), value)
	}); err != nil {
		c.log.Warnf("cache_set", "bbolt: %v", err)
	}
}

func (c *boltCache) Delete(key string) {
	if err := c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(predictionBucket)).Delete([]byte(key))
	}); err != nil {
		c.log.Warnf("cache_delete", "bbolt: %v", err)
	}
}

func (c *boltCache) Close() error { return c.db.Close() }

// CachedModel memoizes a model's predictions for identical page text.
type CachedModel struct {
	Model
	language string
	cache    PredictionCache
}

// WithCache wraps m. The language is part of the key so the same text
// run through two models is cached twice.
func WithCache(m Model, language string, cache PredictionCache) *CachedModel {
	return &CachedModel{Model: m, language: language, cache: cache}
}

// Predict implements Model.
func (m *CachedModel) Predict(ctx context.Context, text string) ([]Prediction, error) {
	key := m.key(text)
	if raw, ok := m.cache.Get(key); ok {
		var preds []Prediction
		if err := json.Unmarshal(raw, &preds); err == nil {
			return preds, nil
		}
		m.cache.Delete(key)
	}
	preds, err := m.Model.Predict(ctx, text)
	if err != nil {
		return nil, err
	}
	if raw, err := json.Marshal(preds); err == nil {
		m.cache.Set(key, raw)
	}
	return preds, nil
}

// ConcurrencySafe forwards the wrapped model's declaration.
func (m *CachedModel) ConcurrencySafe() bool {
	cs, ok := m.Model.(ConcurrencySafe)
	return ok && cs.ConcurrencySafe()
}

func (m *CachedModel) key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return m.language + ":" + hex.EncodeToString(sum[:])
}
