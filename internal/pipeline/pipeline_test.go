package pipeline

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/shopsignal/shopsignal/internal/config"
)

const csvHeader = "event_time,event_type,product_id,category_id,category_code,brand,price,user_id,user_session\n"

func writeInput(t *testing.T, rows []string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "events.csv")
	if err := os.WriteFile(path, []byte(csvHeader+strings.Join(rows, "\n")+"\n"), 0644); err != nil {
		t.Fatalf("writing input: %v", err)
	}
	return path
}

func testConfig(t *testing.T, inputPath string) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.InputPath = inputPath
	cfg.DataDir = filepath.Join(t.TempDir(), "data")
	cfg.AsOf = time.Date(2019, 11, 1, 0, 0, 0, 0, time.UTC)
	cfg.Affinity.MinSupport = 2
	cfg.Affinity.MinLift = 0.5
	return cfg
}

// Five purchasing users across several sessions, enough for every stage
// to produce output.
func fullInput(t *testing.T) string {
	var rows []string
	for u := 1; u <= 5; u++ {
		day := fmt.Sprintf("2019-10-%02d", u)
		rows = append(rows,
			fmt.Sprintf("%s 10:00:00 UTC,view,10,1,electronics.phone,acme,25.5,%d,u%d-s1", day, u, u),
			fmt.Sprintf("%s 10:05:00 UTC,purchase,10,1,electronics.phone,acme,25.5,%d,u%d-s1", day, u, u),
			fmt.Sprintf("%s 10:06:00 UTC,purchase,20,1,electronics.case,acme,5.0,%d,u%d-s1", day, u, u),
		)
	}
	// One malformed row: unknown event kind. Skipped, not fatal.
	rows = append(rows, "2019-10-06 10:00:00 UTC,teleport,10,1,,,1.0,9,u9-s1")
	return writeInput(t, rows)
}

func TestRun_EndToEnd(t *testing.T) {
	cfg := testConfig(t, fullInput(t))

	summary, err := Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if summary.RunID == "" {
		t.Error("expected a run id")
	}
	if summary.SourceRows != 16 {
		t.Errorf("expected 16 source rows, got %d", summary.SourceRows)
	}
	if summary.SkippedRows != 1 {
		t.Errorf("expected 1 skipped row, got %d", summary.SkippedRows)
	}
	if summary.SegmentationSkipped {
		t.Error("expected segmentation to run with 5 purchasing users")
	}

	// The batch file and sealed store exist.
	if _, err := os.Stat(summary.BatchPath); err != nil {
		t.Errorf("expected batch file: %v", err)
	}
	if _, err := os.Stat(summary.StorePath); err != nil {
		t.Fatalf("expected store file: %v", err)
	}

	// Artifacts are published to local storage under the run prefix.
	if len(summary.Published) != 2 {
		t.Errorf("expected 2 published artifacts, got %v", summary.Published)
	}
	for _, obj := range summary.Published {
		if !strings.HasPrefix(obj, "runs/"+summary.RunID+"/") {
			t.Errorf("artifact %s not under run prefix", obj)
		}
		if _, err := os.Stat(filepath.Join(cfg.Storage.Path, filepath.FromSlash(obj))); err != nil {
			t.Errorf("published artifact missing: %v", err)
		}
	}

	db, err := sql.Open("sqlite3", summary.StorePath)
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	defer db.Close()

	checks := map[string]int{
		"sessions":       5,
		"users":          5,
		"products":       2,
		"rfm":            5,
		"affinity_rules": 1,
	}
	for table, want := range checks {
		var got int
		if err := db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&got); err != nil {
			t.Fatalf("counting %s: %v", table, err)
		}
		if got != want {
			t.Errorf("table %s: expected %d rows, got %d", table, want, got)
		}
	}

	// Every session purchased: the funnel must show full conversion.
	var conversion float64
	if err := db.QueryRow("SELECT overall_conversion FROM funnel").Scan(&conversion); err != nil {
		t.Fatalf("reading funnel: %v", err)
	}
	if conversion != 1 {
		t.Errorf("expected overall conversion 1, got %g", conversion)
	}
}

func TestRun_SkipsSegmentationOnThinData(t *testing.T) {
	input := writeInput(t, []string{
		"2019-10-01 10:00:00 UTC,purchase,10,1,,,9.99,1,s1",
		"2019-10-02 10:00:00 UTC,purchase,10,1,,,9.99,2,s2",
	})
	cfg := testConfig(t, input)

	summary, err := Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !summary.SegmentationSkipped {
		t.Error("expected segmentation skipped with 2 purchasing users")
	}

	db, err := sql.Open("sqlite3", summary.StorePath)
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	defer db.Close()

	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM rfm").Scan(&n); err != nil {
		t.Fatalf("counting rfm: %v", err)
	}
	if n != 0 {
		t.Errorf("expected empty rfm table, got %d rows", n)
	}
}

func TestRun_FeatureWindowsProduceVectors(t *testing.T) {
	cfg := testConfig(t, fullInput(t))
	cfg.Feature.ObservationStart = time.Date(2019, 10, 1, 0, 0, 0, 0, time.UTC)
	cfg.Feature.ObservationEnd = time.Date(2019, 10, 4, 0, 0, 0, 0, time.UTC)
	cfg.Feature.PredictionStart = time.Date(2019, 10, 4, 0, 0, 0, 0, time.UTC)
	cfg.Feature.PredictionEnd = time.Date(2019, 10, 8, 0, 0, 0, 0, time.UTC)

	summary, err := Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	db, err := sql.Open("sqlite3", summary.StorePath)
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	defer db.Close()

	// Users 1-3 are active in the observation window.
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM features").Scan(&n); err != nil {
		t.Fatalf("counting features: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 feature vectors, got %d", n)
	}
}

func TestRun_RejectsOverlappingWindows(t *testing.T) {
	cfg := testConfig(t, fullInput(t))
	cfg.Feature.ObservationStart = time.Date(2019, 10, 1, 0, 0, 0, 0, time.UTC)
	cfg.Feature.ObservationEnd = time.Date(2019, 10, 10, 0, 0, 0, 0, time.UTC)
	cfg.Feature.PredictionStart = time.Date(2019, 10, 5, 0, 0, 0, 0, time.UTC)
	cfg.Feature.PredictionEnd = time.Date(2019, 10, 20, 0, 0, 0, 0, time.UTC)

	if _, err := Run(context.Background(), cfg); err == nil {
		t.Fatal("expected overlapping feature windows to fail the run")
	}
}
