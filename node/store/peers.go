package store

import (
	"encoding/json"
	"time"

	"go.etcd.io/bbolt"
)

// PeerRecord is the durable form of a known peer, keyed by its uuid id.
// See spec.md §9's "arena-style" design note: peers are stored and looked
// up by id rather than held by pointer, since peer/connection/quarantine
// state forms a cyclic reference graph.
type PeerRecord struct {
	ID              string    `json:"id"`
	Address         string    `json:"address"`
	GenesisHash     [32]byte  `json:"genesis_hash"`
	ProtocolVersion uint32    `json:"protocol_version"`
	ObservedHeight  uint64    `json:"observed_height"`
	LastSeen        time.Time `json:"last_seen"`
}

// PutPeer upserts a peer record.
func (d *DB) PutPeer(p PeerRecord) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return d.bolt.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(peersBucket).Put([]byte(p.ID), raw)
	})
}

// DeletePeer removes a peer record (address churn, permanent ban cleanup).
func (d *DB) DeletePeer(id string) error {
	return d.bolt.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(peersBucket).Delete([]byte(id))
	})
}

// ListPeers returns every durable peer record, for reconnection on
// startup.
func (d *DB) ListPeers() ([]PeerRecord, error) {
	var out []PeerRecord
	err := d.bolt.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(peersBucket).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var p PeerRecord
			if err := json.Unmarshal(v, &p); err != nil {
				continue
			}
			out = append(out, p)
		}
		return nil
	})
	return out, err
}

// QuarantineRecord is the durable form of a peer's quarantine status, so
// quarantine survives a restart (notably permanent GenesisMismatch bans).
type QuarantineRecord struct {
	PeerID   string    `json:"peer_id"`
	Reason   string    `json:"reason"`
	Until    time.Time `json:"until"` // zero value means permanent
	Attempts int       `json:"attempts"`
}

// PutQuarantine upserts a quarantine record.
func (d *DB) PutQuarantine(q QuarantineRecord) error {
	raw, err := json.Marshal(q)
	if err != nil {
		return err
	}
	return d.bolt.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(quarantineBucket).Put([]byte(q.PeerID), raw)
	})
}

// GetQuarantine returns a peer's quarantine record, if any.
func (d *DB) GetQuarantine(peerID string) (QuarantineRecord, bool, error) {
	var q QuarantineRecord
	var found bool
	err := d.bolt.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(quarantineBucket).Get([]byte(peerID))
		if raw == nil {
			return nil
		}
		found = true
		return json.Unmarshal(raw, &q)
	})
	return q, found, err
}

// DeleteQuarantine lifts a peer's quarantine (expired or manually cleared).
func (d *DB) DeleteQuarantine(peerID string) error {
	return d.bolt.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(quarantineBucket).Delete([]byte(peerID))
	})
}

// ListQuarantined returns every currently quarantined peer record.
func (d *DB) ListQuarantined() ([]QuarantineRecord, error) {
	var out []QuarantineRecord
	err := d.bolt.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(quarantineBucket).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var q QuarantineRecord
			if err := json.Unmarshal(v, &q); err != nil {
				continue
			}
			out = append(out, q)
		}
		return nil
	})
	return out, err
}
