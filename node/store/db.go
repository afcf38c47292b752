// Package store is the durable mirror of the in-memory chain and UTXO
// state, per spec.md §4.8. It uses bbolt as the embedded key-value engine,
// following the teacher's own choice of store — this repo only changes
// what gets written into it, not the engine.
package store

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"go.etcd.io/bbolt"

	"timecore.dev/node/consensus"
)

var (
	blocksBucket     = []byte("blocks_by_height")
	utxoBucket       = []byte("utxo_by_outpoint")
	peersBucket      = []byte("peer_table")
	quarantineBucket = []byte("quarantine")
	manifestBucket   = []byte("manifest")
)

var manifestKey = []byte("manifest")

// schemaVersion is bumped whenever the durable encoding of a stored record
// changes shape. See Manifest.SchemaVersion and spec.md §4.8's "durable
// format migration... from an older no-VDF schema" note.
const schemaVersion = 2

// ErrCorrupt is returned by GetBlock when a stored record fails to
// deserialize. Callers should delete the record and request the height
// from peers rather than treat it as fatal — spec.md §4.7's selective
// resync policy.
var ErrCorrupt = errors.New("store: corrupted record")

// DB wraps a bbolt database with the node's bucket layout.
type DB struct {
	bolt *bbolt.DB
}

// Manifest records the genesis hash and schema version a store was
// created with, so ChainManager.LoadFromDisk can detect an
// operator-intended genesis switch and wipe the store per spec.md §4.7.
type Manifest struct {
	GenesisHash   [32]byte `json:"genesis_hash"`
	SchemaVersion int      `json:"schema_version"`
}

// Open creates or opens the database file at path and ensures every
// bucket exists.
func Open(path string) (*DB, error) {
	bdb, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	err = bdb.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{blocksBucket, utxoBucket, peersBucket, quarantineBucket, manifestBucket} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		bdb.Close()
		return nil, err
	}
	return &DB{bolt: bdb}, nil
}

// Close releases the underlying file handle.
func (d *DB) Close() error { return d.bolt.Close() }

// LoadManifest returns the stored manifest, or ok=false if none has been
// written yet (a brand-new store).
func (d *DB) LoadManifest() (Manifest, bool, error) {
	var m Manifest
	var found bool
	err := d.bolt.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(manifestBucket).Get(manifestKey)
		if raw == nil {
			return nil
		}
		found = true
		return json.Unmarshal(raw, &m)
	})
	return m, found, err
}

// SaveManifest writes the manifest, overwriting any prior value.
func (d *DB) SaveManifest(m Manifest) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return d.bolt.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(manifestBucket).Put(manifestKey, raw)
	})
}

// WipeChainState deletes every block and UTXO record, but preserves the
// peer table and quarantine list — used when the configured genesis hash
// no longer matches what's on disk, per spec.md §4.7.
func (d *DB) WipeChainState() error {
	return d.bolt.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{blocksBucket, utxoBucket} {
			if err := tx.DeleteBucket(b); err != nil && err != bbolt.ErrBucketNotFound {
				return err
			}
			if _, err := tx.CreateBucket(b); err != nil {
				return err
			}
		}
		return nil
	})
}

func heightKey(height uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], height)
	return b[:]
}

type storedBlock struct {
	Schema int             `json:"schema"`
	Block  consensus.Block `json:"block"`
}

// PutBlock persists a block keyed by its height (big-endian u64), per
// spec.md §4.8.
func (d *DB) PutBlock(height uint64, block consensus.Block) error {
	raw, err := json.Marshal(storedBlock{Schema: schemaVersion, Block: block})
	if err != nil {
		return err
	}
	return d.bolt.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(blocksBucket).Put(heightKey(height), raw)
	})
}

// GetBlock loads the block at height. If the record fails to deserialize
// (corruption or an unmigratable old schema), it returns ErrCorrupt and the
// caller is expected to call DeleteBlock and re-request the height from
// peers rather than treat the whole chain as lost.
func (d *DB) GetBlock(height uint64) (consensus.Block, error) {
	var sb storedBlock
	var found bool
	err := d.bolt.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(blocksBucket).Get(heightKey(height))
		if raw == nil {
			return nil
		}
		found = true
		if err := json.Unmarshal(raw, &sb); err != nil {
			return ErrCorrupt
		}
		return nil
	})
	if err != nil {
		return consensus.Block{}, err
	}
	if !found {
		return consensus.Block{}, fmt.Errorf("store: no block at height %d", height)
	}
	return sb.Block, nil
}

// DeleteBlock removes a single corrupted block record without touching
// its neighbors, per spec.md §4.7's selective recovery policy.
func (d *DB) DeleteBlock(height uint64) error {
	return d.bolt.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(blocksBucket).Delete(heightKey(height))
	})
}

// HighestBlockHeight scans for the greatest stored height, or ok=false if
// the block bucket is empty.
func (d *DB) HighestBlockHeight() (height uint64, ok bool) {
	d.bolt.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(blocksBucket).Cursor()
		k, _ := c.Last()
		if k == nil {
			return nil
		}
		height = binary.BigEndian.Uint64(k)
		ok = true
		return nil
	})
	return height, ok
}

// storedUTXO is the durable encoding of one live UTXO entry.
type storedUTXO struct {
	Output consensus.TxOutput `json:"output"`
	Owner  string              `json:"owner"`
}

func outpointKey(op consensus.OutPoint) []byte {
	key := make([]byte, 36)
	copy(key[:32], op.Txid[:])
	binary.BigEndian.PutUint32(key[32:], op.Vout)
	return key
}

// PutUTXO writes an Unspent UTXO, for the write-through-on-Confirmed
// policy in spec.md §4.8 (durable UTXO state mirrors Confirmed status
// only; SpentPending/Locked live purely in memory and are rebuilt by
// block replay on restart).
func (d *DB) PutUTXO(op consensus.OutPoint, out consensus.TxOutput, owner string) error {
	raw, err := json.Marshal(storedUTXO{Output: out, Owner: owner})
	if err != nil {
		return err
	}
	return d.bolt.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(utxoBucket).Put(outpointKey(op), raw)
	})
}

// DeleteUTXO removes a UTXO once it transitions to Confirmed-and-spent
// (i.e. once consumed by a later finalized spend and retired from the
// live set).
func (d *DB) DeleteUTXO(op consensus.OutPoint) error {
	return d.bolt.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(utxoBucket).Delete(outpointKey(op))
	})
}

// IterateUTXOs calls fn for every durable UTXO record, for startup replay.
func (d *DB) IterateUTXOs(fn func(op consensus.OutPoint, out consensus.TxOutput, owner string)) error {
	return d.bolt.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(utxoBucket).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if len(k) != 36 {
				continue
			}
			var op consensus.OutPoint
			copy(op.Txid[:], k[:32])
			op.Vout = binary.BigEndian.Uint32(k[32:])
			var su storedUTXO
			if err := json.Unmarshal(v, &su); err != nil {
				continue // corrupted UTXO entry: skip, rebuilt by rescan
			}
			fn(op, su.Output, su.Owner)
		}
		return nil
	})
}
