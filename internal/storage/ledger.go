// Package storage — ledger.go
//
// BoltDB-backed durable record of every pass sale, so a crash mid-day
// can be followed by an accurate audit of sales even if the in-memory
// state.TransitLog was only partially flushed.
//
// Schema (BoltDB bucket layout):
//
//	/sales
//	    key:   sha256-derived pass id key (see saleKey)
//	    value: JSON-encoded SaleRecord
//
//	/meta
//	    key:   "schema_version"
//	    value: "1"
//
// Consistency model:
//   - Single-process, single-writer (BoltDB does not support concurrent writers).
//   - All writes use ACID transactions (bbolt Tx.Commit()).
//   - Reads use read-only transactions (bbolt.View()).
//   - CRC32 integrity check on database open (bbolt built-in).
//
// Retention:
//   - Sale records are never automatically pruned (they are the pass
//     registry's durable shadow and are needed to audit refunds).
//
// Failure modes:
//   - BoltDB file corruption: bbolt detects via CRC and returns an error
//     on Open(). The supervisor logs a fatal event and refuses to start.
//   - Disk full: bbolt.Update() returns an error; the caller logs it and
//     the sale is still reflected in memory, only the durable copy is
//     missing (spec §7: storage failure degrades observability, never
//     blocks a patron).
package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	// SchemaVersion is the current database schema version.
	SchemaVersion = "1"

	bucketSales = "sales"
	bucketMeta  = "meta"
)

// SaleRecord is the persisted form of a pass sale. Stored as JSON in the
// sales bucket, keyed by PassID.
type SaleRecord struct {
	PassID          uint64    `json:"pass_id"`
	Kind            string    `json:"kind"`
	PriceCents      int       `json:"price_cents"`
	ValiditySeconds int       `json:"validity_seconds"`
	VIP             bool      `json:"vip"`
	PatronAge       int       `json:"patron_age"`
	SoldAt          time.Time `json:"sold_at"`
}

// DB wraps a BoltDB instance with typed accessors for the chairlift
// ledger.
type DB struct {
	db *bolt.DB
}

// Open opens (or creates) the BoltDB database at the given path.
// Initialises all required buckets and verifies the schema version.
func Open(path string) (*DB, error) {
	bdb, err := bolt.Open(path, 0o600, &bolt.Options{
		Timeout:      5 * time.Second,
		NoGrowSync:   false,
		FreelistType: bolt.FreelistArrayType,
	})
	if err != nil {
		return nil, fmt.Errorf("bolt.Open(%q): %w", path, err)
	}

	d := &DB{db: bdb}

	if err := d.db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{bucketSales, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("CreateBucketIfNotExists(%q): %w", name, err)
			}
		}

		meta := tx.Bucket([]byte(bucketMeta))
		if meta.Get([]byte("schema_version")) == nil {
			if err := meta.Put([]byte("schema_version"), []byte(SchemaVersion)); err != nil {
				return fmt.Errorf("write schema_version: %w", err)
			}
		}
		return nil
	}); err != nil {
		_ = bdb.Close()
		return nil, fmt.Errorf("database initialisation failed: %w", err)
	}

	if err := d.checkSchemaVersion(); err != nil {
		_ = bdb.Close()
		return nil, err
	}

	return d, nil
}

func (d *DB) checkSchemaVersion() error {
	return d.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket([]byte(bucketMeta))
		v := meta.Get([]byte("schema_version"))
		if string(v) != SchemaVersion {
			return fmt.Errorf(
				"schema version mismatch: database has %q, supervisor requires %q. "+
					"Run migration or restore from backup.",
				string(v), SchemaVersion,
			)
		}
		return nil
	})
}

// Close closes the underlying BoltDB file.
func (d *DB) Close() error {
	return d.db.Close()
}

// ─── Sale operations ──────────────────────────────────────────────────

// saleKey computes the BoltDB key for a pass id: sha256(passID) hex-encoded,
// kept as a hash rather than a raw big-endian uint64 so key growth stays
// uniform regardless of id distribution (matches the teacher's
// hash-derived key choice for its own primary lookup bucket).
func saleKey(passID uint64) []byte {
	h := sha256.Sum256([]byte(fmt.Sprintf("%d", passID)))
	key := make([]byte, hex.EncodedLen(len(h)))
	hex.Encode(key, h[:])
	return key
}

// PutSale writes a sale record. Uses a single ACID write transaction.
func (d *DB) PutSale(rec SaleRecord) error {
	if rec.SoldAt.IsZero() {
		rec.SoldAt = time.Now().UTC()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("PutSale marshal: %w", err)
	}

	return d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketSales))
		if err := b.Put(saleKey(rec.PassID), data); err != nil {
			return fmt.Errorf("PutSale bolt.Put: %w", err)
		}
		return nil
	})
}

// GetSale retrieves the sale record for a pass id. Returns (nil, nil) if
// no sale exists for this id.
func (d *DB) GetSale(passID uint64) (*SaleRecord, error) {
	key := saleKey(passID)
	var rec SaleRecord
	found := false

	err := d.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketSales))
		data := b.Get(key)
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return nil, fmt.Errorf("GetSale(%d): %w", passID, err)
	}
	if !found {
		return nil, nil
	}
	return &rec, nil
}

