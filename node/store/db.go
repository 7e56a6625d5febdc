// Package store archives finished dispute sessions in a bbolt database.
package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"arbiter.dev/engine/protocol"
)

var (
	bucketSessions = []byte("sessions_by_id")
	bucketAnchors  = []byte("anchor_history")
)

// AnchorRecord remembers one confirmed commitment anchor: the rollup block
// it committed and the output that funded its dispute window.
type AnchorRecord struct {
	BlockID   string `json:"block_id"`
	Txid      string `json:"txid"`
	Vout      uint32 `json:"vout"`
	StateRoot string `json:"state_root"`
	Height    uint64 `json:"height"`
}

type DB struct {
	dir string
	db  *bolt.DB
}

func Open(dataDir string) (*DB, error) {
	if dataDir == "" {
		return nil, fmt.Errorf("datadir required")
	}
	dir := filepath.Join(dataDir, "archive")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	path := filepath.Join(dir, "kv.db")
	bdb, err := bolt.Open(path, 0o600, &bolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("open bbolt: %w", err)
	}

	d := &DB{dir: dir, db: bdb}

	if err := d.db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketSessions, bucketAnchors} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", string(b), err)
			}
		}
		return nil
	}); err != nil {
		_ = bdb.Close()
		return nil, err
	}
	return d, nil
}

func (d *DB) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

// ArchiveResolution stores the final record for a session. A session id may
// be archived once; a second write with different content is an error.
func (d *DB) ArchiveResolution(rec protocol.ResolutionRecord) error {
	if d == nil || d.db == nil {
		return fmt.Errorf("db: nil")
	}
	if rec.SessionID == "" {
		return fmt.Errorf("archive: session_id required")
	}
	val, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSessions)
		if existing := b.Get([]byte(rec.SessionID)); existing != nil {
			if string(existing) == string(val) {
				return nil
			}
			return fmt.Errorf("archive: session %s already resolved", rec.SessionID)
		}
		return b.Put([]byte(rec.SessionID), val)
	})
}

func (d *DB) GetResolution(sessionID string) (*protocol.ResolutionRecord, bool, error) {
	var out *protocol.ResolutionRecord
	err := d.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketSessions).Get([]byte(sessionID))
		if v == nil {
			return nil
		}
		var rec protocol.ResolutionRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			return fmt.Errorf("decode resolution %s: %w", sessionID, err)
		}
		out = &rec
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if out == nil {
		return nil, false, nil
	}
	return out, true, nil
}

// ListResolutions returns every archived record in session id order.
func (d *DB) ListResolutions() ([]protocol.ResolutionRecord, error) {
	var out []protocol.ResolutionRecord
	err := d.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSessions).ForEach(func(k, v []byte) error {
			var rec protocol.ResolutionRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decode resolution %s: %w", string(k), err)
			}
			out = append(out, rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AppendAnchor records a confirmed anchor at the next sequence number.
func (d *DB) AppendAnchor(rec AnchorRecord) (uint64, error) {
	if d == nil || d.db == nil {
		return 0, fmt.Errorf("db: nil")
	}
	if rec.BlockID == "" {
		return 0, fmt.Errorf("anchor: block_id required")
	}
	val, err := json.Marshal(rec)
	if err != nil {
		return 0, err
	}
	var seq uint64
	err = d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAnchors)
		seq, err = b.NextSequence()
		if err != nil {
			return err
		}
		return b.Put(anchorKey(seq), val)
	})
	if err != nil {
		return 0, err
	}
	return seq, nil
}

// ListAnchors returns anchors in append order.
func (d *DB) ListAnchors() ([]AnchorRecord, error) {
	var out []AnchorRecord
	err := d.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAnchors).ForEach(func(k, v []byte) error {
			var rec AnchorRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decode anchor: %w", err)
			}
			out = append(out, rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func anchorKey(seq uint64) []byte {
	var key [8]byte
	binary.BigEndian.PutUint64(key[:], seq)
	return key[:]
}
