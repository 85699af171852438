// Package utils provides supporting data structures for the mesh stream
// viewers.
package utils

import (
	"encoding/binary"
	"encoding/json"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// NodeRecord is what the directory remembers about a node between runs:
// its self-reported names and its last known position.
type NodeRecord struct {
	LongName    string  `json:"long_name,omitempty"`
	ShortName   string  `json:"short_name,omitempty"`
	Lat         float64 `json:"lat,omitempty"`
	Lon         float64 `json:"lon,omitempty"`
	HasPosition bool    `json:"has_position,omitempty"`
	Alt         *int64  `json:"alt,omitempty"`
	UpdatedAt   int64   `json:"updated_at"`
}

// NodeDirectory is a badger-backed store of node identity and position,
// so labels and map placement survive restarts instead of waiting for
// the next nodeinfo/position packet. Reads go through an in-memory
// cache; writes are write-through.
type NodeDirectory struct {
	db    *badger.DB
	cache sync.Map
}

func OpenNodeDirectory(path string) (*NodeDirectory, error) {
	opts := badger.DefaultOptions(path)
	// Decrease logging verbosity
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &NodeDirectory{db: db}, nil
}

func (d *NodeDirectory) Close() error {
	return d.db.Close()
}

func nodeKey(id uint32) []byte {
	key := make([]byte, 4)
	binary.BigEndian.PutUint32(key, id)
	return key
}

// Get returns the stored record, or nil when the node is unknown.
func (d *NodeDirectory) Get(id uint32) (*NodeRecord, error) {
	if v, ok := d.cache.Load(id); ok {
		if v == nil {
			return nil, nil
		}
		rec := v.(NodeRecord)
		return &rec, nil
	}
	var rec *NodeRecord
	err := d.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(nodeKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var r NodeRecord
			if err := json.Unmarshal(val, &r); err != nil {
				return err
			}
			rec = &r
			return nil
		})
	})
	if err == badger.ErrKeyNotFound {
		d.cache.Store(id, nil)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	d.cache.Store(id, *rec)
	return rec, nil
}

// Put replaces the whole record.
func (d *NodeDirectory) Put(id uint32, rec NodeRecord) error {
	rec.UpdatedAt = time.Now().Unix()
	val, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := d.db.Update(func(txn *badger.Txn) error {
		return txn.Set(nodeKey(id), val)
	}); err != nil {
		return err
	}
	d.cache.Store(id, rec)
	return nil
}

// PutNames merges name updates into the stored record.
func (d *NodeDirectory) PutNames(id uint32, long, short string) error {
	rec, err := d.Get(id)
	if err != nil {
		return err
	}
	merged := NodeRecord{}
	if rec != nil {
		merged = *rec
	}
	if long != "" {
		merged.LongName = long
	}
	if short != "" {
		merged.ShortName = short
	}
	return d.Put(id, merged)
}

// PutPosition merges a position update into the stored record.
func (d *NodeDirectory) PutPosition(id uint32, lat, lon float64, alt *int64) error {
	rec, err := d.Get(id)
	if err != nil {
		return err
	}
	merged := NodeRecord{}
	if rec != nil {
		merged = *rec
	}
	merged.Lat, merged.Lon = lat, lon
	merged.HasPosition = true
	if alt != nil {
		merged.Alt = alt
	}
	return d.Put(id, merged)
}

// ForEach iterates every stored record, used to preload the model at
// startup.
func (d *NodeDirectory) ForEach(fn func(id uint32, rec NodeRecord) error) error {
	return d.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			if len(item.Key()) != 4 {
				continue
			}
			id := binary.BigEndian.Uint32(item.Key())
			err := item.Value(func(val []byte) error {
				var rec NodeRecord
				if err := json.Unmarshal(val, &rec); err != nil {
					return nil
				}
				return fn(id, rec)
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}
