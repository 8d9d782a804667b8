package journal

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	bolt "go.etcd.io/bbolt"
)

const (
	bucketBans = "bans"
	fileName   = "leroy.db"
)

type boltJournal struct {
	db *bolt.DB
}

// OpenBolt opens (or creates) a bbolt journal at dataDir/leroy.db.
func OpenBolt(dataDir string) (Journal, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	path := filepath.Join(dataDir, fileName)
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open journal at %s: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(bucketBans)); err != nil {
			return fmt.Errorf("create bucket %s: %w", bucketBans, err)
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &boltJournal{db: db}, nil
}

// OpenBoltReadOnly opens an existing journal for inspection. bbolt's file
// lock is exclusive while the daemon has the journal open, so this times
// out against a running daemon; use its /bans endpoint instead.
func OpenBoltReadOnly(dataDir string) (Journal, error) {
	path := filepath.Join(dataDir, fileName)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("journal at %s: %w", path, err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second, ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("open journal at %s: %w", path, err)
	}
	return &boltJournal{db: db}, nil
}

func (j *boltJournal) Record(e Entry) error {
	data, err := msgpack.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal journal entry: %w", err)
	}
	return j.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketBans)).Put([]byte(e.Key), data)
	})
}

func (j *boltJournal) List() (map[string]Entry, error) {
	result := make(map[string]Entry)
	err := j.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketBans))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var e Entry
			if err := msgpack.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("unmarshal journal entry for %s: %w", k, err)
			}
			result[string(k)] = e
			return nil
		})
	})
	return result, err
}

func (j *boltJournal) PruneExpired(now time.Time) (int, error) {
	var pruned int
	err := j.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketBans))
		var toDelete [][]byte
		if err := b.ForEach(func(k, v []byte) error {
			var e Entry
			if err := msgpack.Unmarshal(v, &e); err != nil {
				return nil // skip corrupt entries
			}
			if e.ExpiresAt.Before(now) {
				key := make([]byte, len(k))
				copy(key, k)
				toDelete = append(toDelete, key)
			}
			return nil
		}); err != nil {
			return err
		}
		for _, k := range toDelete {
			if err := b.Delete(k); err != nil {
				return err
			}
			pruned++
		}
		return nil
	})
	return pruned, err
}

func (j *boltJournal) SizeBytes() (int64, error) {
	info, err := os.Stat(j.db.Path())
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (j *boltJournal) Close() error {
	return j.db.Close()
}
