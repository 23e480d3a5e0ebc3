package storage

import (
	"path/filepath"
	"testing"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chairlift.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestPutAndGetSale(t *testing.T) {
	db := openTestDB(t)
	rec := SaleRecord{PassID: 42, Kind: "DAILY", PriceCents: 10000, ValiditySeconds: 86400}
	if err := db.PutSale(rec); err != nil {
		t.Fatalf("PutSale: %v", err)
	}
	got, err := db.GetSale(42)
	if err != nil {
		t.Fatalf("GetSale: %v", err)
	}
	if got == nil || got.PassID != 42 || got.PriceCents != 10000 {
		t.Fatalf("unexpected sale record: %+v", got)
	}
}

func TestGetSaleMissing(t *testing.T) {
	db := openTestDB(t)
	got, err := db.GetSale(999)
	if err != nil {
		t.Fatalf("GetSale: %v", err)
	}
	if got != nil {
		t.Fatal("expected nil for missing sale")
	}
}
