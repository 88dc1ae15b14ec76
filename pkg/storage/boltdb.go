package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/cuemby/cloner/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketPasses = []byte("passes")
	bucketHosts  = []byte("hosts")
)

// DBFile is the database file name inside the data directory
const DBFile = "cloner.db"

// DefaultOpenTimeout bounds the wait for the database file lock
const DefaultOpenTimeout = time.Second

// OpenOptions controls how the database file is opened
type OpenOptions struct {
	// ReadOnly takes a shared lock and never creates buckets
	ReadOnly bool
	// Timeout is how long to wait for the file lock, DefaultOpenTimeout when zero
	Timeout time.Duration
}

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store. The writer holds an
// exclusive lock on the file for as long as the store is open.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	return OpenBoltStore(dataDir, OpenOptions{})
}

// OpenBoltStore opens the store with explicit options. A file locked by
// another process fails with ErrLocked once the timeout elapses.
func OpenBoltStore(dataDir string, opts OpenOptions) (*BoltStore, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultOpenTimeout
	}
	dbPath := filepath.Join(dataDir, DBFile)

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{
		Timeout:  opts.Timeout,
		ReadOnly: opts.ReadOnly,
	})
	if err != nil {
		if errors.Is(err, bolt.ErrTimeout) {
			return nil, fmt.Errorf("%w: %s", ErrLocked, dbPath)
		}
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if opts.ReadOnly {
		return &BoltStore{db: db}, nil
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketPasses, bucketHosts} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// SavePass stores the pass and, in the same transaction, replaces the latest
// host list of every cluster the pass checked. Clusters that failed keep
// their previous list.
func (s *BoltStore) SavePass(pass *types.ReconciliationPass) error {
	if pass.ID == "" {
		return fmt.Errorf("pass has no id")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(pass)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketPasses).Put([]byte(pass.ID), data); err != nil {
			return err
		}

		hosts := tx.Bucket(bucketHosts)
		for _, cluster := range pass.Clusters {
			flagged := pass.HostsFor(cluster)
			if flagged == nil {
				flagged = []types.HostToUpdate{}
			}
			data, err := json.Marshal(flagged)
			if err != nil {
				return err
			}
			if err := hosts.Put([]byte(cluster), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) GetPass(id string) (*types.ReconciliationPass, error) {
	var pass types.ReconciliationPass
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPasses)
		if b == nil {
			return fmt.Errorf("pass %s: %w", id, ErrNotFound)
		}
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("pass %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &pass)
	})
	if err != nil {
		return nil, err
	}
	return &pass, nil
}

// ListPasses returns every stored pass, oldest first
func (s *BoltStore) ListPasses() ([]*types.ReconciliationPass, error) {
	var passes []*types.ReconciliationPass
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPasses)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var pass types.ReconciliationPass
			if err := json.Unmarshal(v, &pass); err != nil {
				return err
			}
			passes = append(passes, &pass)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(passes, func(i, j int) bool {
		return passes[i].StartedAt.Before(passes[j].StartedAt)
	})
	return passes, nil
}

func (s *BoltStore) DeletePass(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPasses).Delete([]byte(id))
	})
}

// PrunePasses drops all but the newest keep passes and returns how many were removed
func (s *BoltStore) PrunePasses(keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}
	passes, err := s.ListPasses()
	if err != nil {
		return 0, err
	}
	if len(passes) <= keep {
		return 0, nil
	}
	stale := passes[:len(passes)-keep]
	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPasses)
		for _, pass := range stale {
			if err := b.Delete([]byte(pass.ID)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(stale), nil
}

// LatestHosts returns the hosts flagged for a cluster by the most recent pass that checked it
func (s *BoltStore) LatestHosts(cluster string) ([]types.HostToUpdate, error) {
	var hosts []types.HostToUpdate
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketHosts)
		if b == nil {
			return fmt.Errorf("cluster %s: %w", cluster, ErrNotFound)
		}
		data := b.Get([]byte(cluster))
		if data == nil {
			return fmt.Errorf("cluster %s: %w", cluster, ErrNotFound)
		}
		return json.Unmarshal(data, &hosts)
	})
	if err != nil {
		return nil, err
	}
	return hosts, nil
}

func (s *BoltStore) ListLatestHosts() (map[string][]types.HostToUpdate, error) {
	out := make(map[string][]types.HostToUpdate)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketHosts)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var hosts []types.HostToUpdate
			if err := json.Unmarshal(v, &hosts); err != nil {
				return err
			}
			out[string(k)] = hosts
			return nil
		})
	})
	return out, err
}
