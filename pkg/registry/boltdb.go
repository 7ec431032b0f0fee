package registry

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/steamfleet/shepherd/pkg/types"
)

var bucketServers = []byte("servers")

// BoltRegistry implements Registry using BoltDB
type BoltRegistry struct {
	db *bolt.DB
}

// NewBoltRegistry opens (creating if needed) a BoltDB-backed registry.
func NewBoltRegistry(path string) (*BoltRegistry, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open registry database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketServers)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create servers bucket: %w", err)
	}

	return &BoltRegistry{db: db}, nil
}

// Close closes the database
func (r *BoltRegistry) Close() error {
	return r.db.Close()
}

func (r *BoltRegistry) List() ([]types.ServerIdentity, error) {
	var servers []types.ServerIdentity
	err := r.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketServers)
		return b.ForEach(func(k, v []byte) error {
			var ident types.ServerIdentity
			if err := json.Unmarshal(v, &ident); err != nil {
				return err
			}
			servers = append(servers, ident)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(servers, func(i, j int) bool { return servers[i].Name < servers[j].Name })
	return servers, nil
}

func (r *BoltRegistry) FindByName(name string) (types.ServerIdentity, error) {
	var ident types.ServerIdentity
	err := r.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketServers).Get([]byte(name))
		if data == nil {
			return types.NotFoundf("server %s", name)
		}
		return json.Unmarshal(data, &ident)
	})
	return ident, err
}

func (r *BoltRegistry) Save(ident types.ServerIdentity) error {
	if ident.CreatedAt.IsZero() {
		ident.CreatedAt = time.Now()
	}
	if err := Validate(ident); err != nil {
		return err
	}

	return r.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(ident)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketServers).Put([]byte(ident.Name), data)
	})
}

func (r *BoltRegistry) Delete(name string) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketServers)
		if b.Get([]byte(name)) == nil {
			return types.NotFoundf("server %s", name)
		}
		return b.Delete([]byte(name))
	})
}
