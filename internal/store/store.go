// Package store keeps fitted bandits in a bbolt database. Each model name
// maps to the gob encoding produced by Bandit.Save in the "models" bucket
// and to a JSON metadata record in the "meta" bucket. Both are written in a
// single transaction.
package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	bootstrapts "github.com/n0madic/go-bootstrap-bandits/bootstrap-ts"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketModels = []byte("models")
	bucketMeta   = []byte("meta")
)

// ErrNotFound is returned when no model is stored under a name.
var ErrNotFound = errors.New("model not found")

// Meta describes a stored model without decoding it.
type Meta struct {
	Name         string    `json:"name"`
	NArms        int       `json:"n_arms"`
	NEstimators  int       `json:"n_estimators"`
	NFeatures    int       `json:"n_features"`
	SampleCounts []int     `json:"sample_counts"`
	Size         int       `json:"size"`
	SavedAt      time.Time `json:"saved_at"`
}

// Store is a bbolt backed model registry.
type Store struct {
	db  *bolt.DB
	now func() time.Time
}

// NewStore opens (or creates) a bbolt database at the given path.
func NewStore(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("bbolt open: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketModels); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketMeta)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("bbolt init: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close closes the underlying bbolt database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put saves a fitted bandit under name, replacing any previous model.
func (s *Store) Put(name string, b *bootstrapts.Bandit) (Meta, error) {
	if name == "" {
		return Meta{}, errors.New("empty model name")
	}

	var buf bytes.Buffer
	if err := b.Save(&buf); err != nil {
		return Meta{}, fmt.Errorf("save model %s: %w", name, err)
	}

	nFeatures, err := b.NFeatures()
	if err != nil {
		return Meta{}, err
	}
	counts := make([]int, b.NArms())
	for arm := range counts {
		if counts[arm], err = b.SampleCount(arm); err != nil {
			return Meta{}, err
		}
	}

	meta := Meta{
		Name:         name,
		NArms:        b.NArms(),
		NEstimators:  b.NEstimators(),
		NFeatures:    nFeatures,
		SampleCounts: counts,
		Size:         buf.Len(),
		SavedAt:      s.now().UTC(),
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return Meta{}, fmt.Errorf("marshal meta: %w", err)
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketModels).Put([]byte(name), buf.Bytes()); err != nil {
			return err
		}
		return tx.Bucket(bucketMeta).Put([]byte(name), metaJSON)
	})
	if err != nil {
		return Meta{}, fmt.Errorf("put model %s: %w", name, err)
	}
	return meta, nil
}

// Get decodes the model stored under name. Options are passed to
// bootstrapts.Load, so callers can attach a logger, a worker count or a
// learner factory matching the stored learners.
func (s *Store) Get(name string, options ...bootstrapts.Option) (*bootstrapts.Bandit, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketModels).Get([]byte(name))
		if v == nil {
			return ErrNotFound
		}
		// bbolt values are only valid inside the transaction
		data = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get model %s: %w", name, err)
	}

	b, err := bootstrapts.Load(bytes.NewReader(data), options...)
	if err != nil {
		return nil, fmt.Errorf("load model %s: %w", name, err)
	}
	return b, nil
}

// Stat returns the metadata of the model stored under name.
func (s *Store) Stat(name string) (Meta, error) {
	var meta Meta
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketMeta).Get([]byte(name))
		if v == nil {
			return ErrNotFound
		}
		return json.Unmarshal(v, &meta)
	})
	if err != nil {
		return Meta{}, fmt.Errorf("stat model %s: %w", name, err)
	}
	return meta, nil
}

// List returns the metadata of every stored model, sorted by name.
func (s *Store) List() ([]Meta, error) {
	var metas []Meta
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMeta).ForEach(func(k, v []byte) error {
			var meta Meta
			if err := json.Unmarshal(v, &meta); err != nil {
				return fmt.Errorf("unmarshal meta %s: %w", k, err)
			}
			metas = append(metas, meta)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(metas, func(i, j int) bool { return metas[i].Name < metas[j].Name })
	return metas, nil
}

// Delete removes the model stored under name.
func (s *Store) Delete(name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		key := []byte(name)
		if tx.Bucket(bucketModels).Get(key) == nil {
			return fmt.Errorf("delete model %s: %w", name, ErrNotFound)
		}
		if err := tx.Bucket(bucketModels).Delete(key); err != nil {
			return err
		}
		return tx.Bucket(bucketMeta).Delete(key)
	})
}
