package compact

import (
	"os"
	"path/filepath"
	"testing"
)

func buildTestBatch(t *testing.T) *Batch {
	t.Helper()
	b := NewBuilder(DefaultOptions())

	records := []struct {
		ts      string
		kind    string
		product uint64
		user    uint64
		session string
		price   float64
	}{
		{"2019-10-01 00:00:00 UTC", "view", 1004856, 520088904, "sess-a", 130.76},
		{"2019-10-01 00:00:11 UTC", "cart", 1004856, 520088904, "sess-a", 130.76},
		{"2019-10-01 00:01:02 UTC", "purchase", 1004856, 520088904, "sess-a", 130.76},
		{"2019-10-01 02:10:00 UTC", "view", 1307067, 530496790, "sess-b", 251.74},
		{"2019-10-02 09:00:00 UTC", "remove_from_cart", 17302664, 561587266, "sess-c", 28.31},
	}
	for _, rec := range records {
		if err := b.Append(rawEvent(rec.ts, rec.kind, rec.product, rec.user, rec.session, rec.price)); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	batch, err := b.Seal()
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	return batch
}

func TestCodec_RoundTrip(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "shopsignal-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	batch := buildTestBatch(t)
	path := filepath.Join(tmpDir, "events.batch")

	if err := Save(batch, path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if loaded.Rows() != batch.Rows() {
		t.Fatalf("expected %d rows, got %d", batch.Rows(), loaded.Rows())
	}
	if loaded.ProductWidth() != batch.ProductWidth() || loaded.UserWidth() != batch.UserWidth() {
		t.Errorf("widths changed across round-trip")
	}
	for i := 0; i < batch.Rows(); i++ {
		if loaded.UnixAt(i) != batch.UnixAt(i) {
			t.Errorf("row %d: timestamp mismatch", i)
		}
		if loaded.KindAt(i) != batch.KindAt(i) {
			t.Errorf("row %d: kind mismatch", i)
		}
		if loaded.ProductAt(i) != batch.ProductAt(i) {
			t.Errorf("row %d: product mismatch", i)
		}
		if loaded.UserAt(i) != batch.UserAt(i) {
			t.Errorf("row %d: user mismatch", i)
		}
		if loaded.PriceAt(i) != batch.PriceAt(i) {
			t.Errorf("row %d: price mismatch", i)
		}
		if loaded.SessionKeyAt(i) != batch.SessionKeyAt(i) {
			t.Errorf("row %d: session key mismatch", i)
		}
		if loaded.PathAt(i) != batch.PathAt(i) {
			t.Errorf("row %d: category path mismatch", i)
		}
		if loaded.BrandAt(i) != batch.BrandAt(i) {
			t.Errorf("row %d: brand mismatch", i)
		}
	}

	if loaded.Skipped() != batch.Skipped() {
		t.Errorf("skip stats changed across round-trip: %+v vs %+v", loaded.Skipped(), batch.Skipped())
	}
}

func TestCodec_RejectsCorruptFile(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "shopsignal-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	batch := buildTestBatch(t)
	path := filepath.Join(tmpDir, "events.batch")
	if err := Save(batch, path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// Flip a byte past the header region.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	data[len(data)/2] ^= 0xFF
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("expected Load to reject a corrupted batch file")
	}
}
