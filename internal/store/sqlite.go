// Package store writes the analytical output tables to a single SQLite
// file. The file is built under WAL journaling for insert throughput and
// sealed to DELETE mode so the finished artifact is a single file.
package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	serrors "github.com/shopsignal/shopsignal/internal/errors"
	"github.com/shopsignal/shopsignal/internal/feature"
	"github.com/shopsignal/shopsignal/pkg/types"
)

// Artifacts bundles the sealed stage outputs for one run. The writer
// reads them only; nothing here is mutated.
type Artifacts struct {
	Sessions  []types.Session
	Users     []types.User
	Products  []types.Product
	Daily     []types.DailyKPI
	Funnel    types.FunnelSummary
	RFM       []types.RFMProfile
	Rules     []types.AffinityRule
	Features  *feature.FeatureSet // nil when no windows were configured
	Retention []types.RetentionCell
	Churn     []types.ChurnRecord

	SourceRows  int64
	SkippedRows int64
}

// Info describes the sealed store file.
type Info struct {
	RunID     string
	Path      string
	SizeBytes int64
	CreatedAt time.Time
}

// Writer creates the SQLite analytical store.
type Writer struct {
	path string
}

// NewWriter returns a writer targeting the given file path.
func NewWriter(path string) *Writer {
	return &Writer{path: filepath.Clean(path)}
}

var tableDDL = []string{
	`CREATE TABLE users (
		user_id INTEGER PRIMARY KEY,
		first_seen INTEGER NOT NULL,
		last_seen INTEGER NOT NULL,
		event_count INTEGER NOT NULL,
		purchase_count INTEGER NOT NULL,
		session_count INTEGER NOT NULL,
		total_spend REAL NOT NULL,
		is_buyer INTEGER NOT NULL
	) WITHOUT ROWID`,
	`CREATE TABLE products (
		product_id INTEGER PRIMARY KEY,
		category_id INTEGER NOT NULL,
		category_path TEXT NOT NULL,
		brand TEXT NOT NULL,
		price REAL NOT NULL
	) WITHOUT ROWID`,
	`CREATE TABLE sessions (
		session_key TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL,
		start INTEGER NOT NULL,
		"end" INTEGER NOT NULL,
		duration_seconds INTEGER NOT NULL,
		event_count INTEGER NOT NULL,
		distinct_products INTEGER NOT NULL,
		has_view INTEGER NOT NULL,
		has_cart INTEGER NOT NULL,
		has_remove INTEGER NOT NULL,
		has_purchase INTEGER NOT NULL,
		revenue REAL NOT NULL
	) WITHOUT ROWID`,
	`CREATE TABLE daily_kpis (
		date TEXT PRIMARY KEY,
		events INTEGER NOT NULL,
		active_users INTEGER NOT NULL,
		sessions INTEGER NOT NULL,
		views INTEGER NOT NULL,
		carts INTEGER NOT NULL,
		purchases INTEGER NOT NULL,
		revenue REAL NOT NULL
	) WITHOUT ROWID`,
	`CREATE TABLE funnel (
		sessions INTEGER NOT NULL,
		sessions_with_view INTEGER NOT NULL,
		sessions_with_cart INTEGER NOT NULL,
		sessions_with_purchase INTEGER NOT NULL,
		view_to_cart_rate REAL NOT NULL,
		cart_to_purchase_rate REAL NOT NULL,
		overall_conversion REAL NOT NULL
	)`,
	`CREATE TABLE rfm (
		user_id INTEGER PRIMARY KEY,
		recency_days INTEGER NOT NULL,
		frequency INTEGER NOT NULL,
		monetary REAL NOT NULL,
		r INTEGER NOT NULL,
		f INTEGER NOT NULL,
		m INTEGER NOT NULL,
		code TEXT NOT NULL,
		segment TEXT NOT NULL
	) WITHOUT ROWID`,
	`CREATE TABLE affinity_rules (
		product_a INTEGER NOT NULL,
		product_b INTEGER NOT NULL,
		pair_count INTEGER NOT NULL,
		confidence REAL NOT NULL,
		lift REAL NOT NULL,
		PRIMARY KEY (product_a, product_b)
	) WITHOUT ROWID`,
	`CREATE TABLE features (
		user_id INTEGER PRIMARY KEY,
		observation_start INTEGER NOT NULL,
		observation_end INTEGER NOT NULL,
		prediction_start INTEGER NOT NULL,
		prediction_end INTEGER NOT NULL,
		events INTEGER NOT NULL,
		views INTEGER NOT NULL,
		carts INTEGER NOT NULL,
		removes INTEGER NOT NULL,
		purchases INTEGER NOT NULL,
		sessions INTEGER NOT NULL,
		active_days INTEGER NOT NULL,
		active_span_days INTEGER NOT NULL,
		recency_days INTEGER NOT NULL,
		mean_session_seconds REAL NOT NULL,
		dominant_category TEXT NOT NULL,
		dominant_brand TEXT NOT NULL,
		prior_purchase INTEGER NOT NULL,
		label INTEGER NOT NULL
	) WITHOUT ROWID`,
	`CREATE TABLE retention (
		cohort_week TEXT NOT NULL,
		cohort_size INTEGER NOT NULL,
		weeks_since_first INTEGER NOT NULL,
		active_users INTEGER NOT NULL,
		retention_rate REAL NOT NULL,
		PRIMARY KEY (cohort_week, weeks_since_first)
	) WITHOUT ROWID`,
	`CREATE TABLE churn (
		user_id INTEGER PRIMARY KEY,
		last_seen INTEGER NOT NULL,
		days_inactive INTEGER NOT NULL,
		status TEXT NOT NULL
	) WITHOUT ROWID`,
	`CREATE TABLE _shopsignal_meta (
		run_id TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		source_rows INTEGER NOT NULL,
		skipped_rows INTEGER NOT NULL
	)`,
}

var indexDDL = []string{
	"CREATE INDEX idx_sessions_user ON sessions(user_id)",
	"CREATE INDEX idx_products_brand ON products(brand)",
	"CREATE INDEX idx_rfm_segment ON rfm(segment)",
	"CREATE INDEX idx_rules_lift ON affinity_rules(lift)",
	"CREATE INDEX idx_churn_status ON churn(status)",
}

// Write creates the store file, loads every table, and seals it. The
// target file must not already exist.
func (w *Writer) Write(ctx context.Context, a *Artifacts) (*Info, error) {
	if _, err := os.Stat(w.path); err == nil {
		return nil, serrors.Newf(serrors.StageStore, serrors.CodeWriteFailed,
			"store file already exists: %s", w.path)
	}
	if err := os.MkdirAll(filepath.Dir(w.path), 0755); err != nil {
		return nil, serrors.Wrap(serrors.StageStore, serrors.CodeWriteFailed,
			"creating store directory", err)
	}

	db, err := sql.Open("sqlite3", w.path)
	if err != nil {
		return nil, serrors.Wrap(serrors.StageStore, serrors.CodeWriteFailed,
			"opening store database", err)
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		return nil, serrors.Wrap(serrors.StageStore, serrors.CodeWriteFailed,
			"enabling WAL journal", err)
	}

	for _, ddl := range tableDDL {
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			return nil, serrors.Wrap(serrors.StageStore, serrors.CodeWriteFailed,
				"creating table", err)
		}
	}
	for _, ddl := range indexDDL {
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			return nil, serrors.Wrap(serrors.StageStore, serrors.CodeWriteFailed,
				"creating index", err)
		}
	}

	runID := uuid.New().String()
	createdAt := time.Now().UTC()

	if err := w.load(ctx, db, a, runID, createdAt); err != nil {
		return nil, err
	}

	// Seal: checkpoint the WAL and switch to DELETE mode so the artifact
	// is one immutable file.
	if _, err := db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return nil, serrors.Wrap(serrors.StageStore, serrors.CodeWriteFailed,
			"checkpointing WAL", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=DELETE"); err != nil {
		return nil, serrors.Wrap(serrors.StageStore, serrors.CodeWriteFailed,
			"sealing journal mode", err)
	}
	if err := db.Close(); err != nil {
		return nil, serrors.Wrap(serrors.StageStore, serrors.CodeWriteFailed,
			"closing store database", err)
	}

	fi, err := os.Stat(w.path)
	if err != nil {
		return nil, serrors.Wrap(serrors.StageStore, serrors.CodeWriteFailed,
			"stating store file", err)
	}

	return &Info{
		RunID:     runID,
		Path:      w.path,
		SizeBytes: fi.Size(),
		CreatedAt: createdAt,
	}, nil
}

func (w *Writer) load(ctx context.Context, db *sql.DB, a *Artifacts, runID string, createdAt time.Time) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return serrors.Wrap(serrors.StageStore, serrors.CodeWriteFailed,
			"beginning load transaction", err)
	}
	defer tx.Rollback()

	exec := func(table, query string, rows int, bind func(i int) []interface{}) error {
		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return serrors.Wrap(serrors.StageStore, serrors.CodeWriteFailed,
				"preparing insert for "+table, err)
		}
		defer stmt.Close()
		for i := 0; i < rows; i++ {
			if _, err := stmt.ExecContext(ctx, bind(i)...); err != nil {
				return serrors.Wrap(serrors.StageStore, serrors.CodeWriteFailed,
					"inserting into "+table, err)
			}
		}
		return nil
	}

	if err := exec("users",
		"INSERT INTO users VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		len(a.Users), func(i int) []interface{} {
			u := &a.Users[i]
			return []interface{}{u.UserID, u.FirstSeen.Unix(), u.LastSeen.Unix(),
				u.EventCount, u.PurchaseCount, u.SessionCount, u.TotalSpend, boolInt(u.IsBuyer)}
		}); err != nil {
		return err
	}

	if err := exec("products",
		"INSERT INTO products VALUES (?, ?, ?, ?, ?)",
		len(a.Products), func(i int) []interface{} {
			p := &a.Products[i]
			return []interface{}{p.ProductID, p.CategoryID, p.CategoryPath, p.Brand, p.Price}
		}); err != nil {
		return err
	}

	if err := exec("sessions",
		"INSERT INTO sessions VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		len(a.Sessions), func(i int) []interface{} {
			s := &a.Sessions[i]
			return []interface{}{s.SessionKey, s.UserID, s.Start.Unix(), s.End.Unix(),
				s.DurationSeconds(), s.EventCount, s.DistinctProducts,
				boolInt(s.HasView), boolInt(s.HasCart), boolInt(s.HasRemove), boolInt(s.HasPurchase),
				s.Revenue}
		}); err != nil {
		return err
	}

	if err := exec("daily_kpis",
		"INSERT INTO daily_kpis VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		len(a.Daily), func(i int) []interface{} {
			d := &a.Daily[i]
			return []interface{}{types.DayString(d.Day), d.Events, d.ActiveUsers,
				d.Sessions, d.Views, d.Carts, d.Purchases, d.Revenue}
		}); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO funnel VALUES (?, ?, ?, ?, ?, ?, ?)",
		a.Funnel.Sessions, a.Funnel.SessionsWithView, a.Funnel.SessionsWithCart,
		a.Funnel.SessionsWithPurchase, a.Funnel.ViewToCartRate,
		a.Funnel.CartToPurchaseRate, a.Funnel.OverallConversion); err != nil {
		return serrors.Wrap(serrors.StageStore, serrors.CodeWriteFailed,
			"inserting into funnel", err)
	}

	if err := exec("rfm",
		"INSERT INTO rfm VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
		len(a.RFM), func(i int) []interface{} {
			p := &a.RFM[i]
			return []interface{}{p.UserID, p.RecencyDays, p.Frequency, p.Monetary,
				p.R, p.F, p.M, p.Code, p.Segment}
		}); err != nil {
		return err
	}

	if err := exec("affinity_rules",
		"INSERT INTO affinity_rules VALUES (?, ?, ?, ?, ?)",
		len(a.Rules), func(i int) []interface{} {
			r := &a.Rules[i]
			return []interface{}{r.ProductA, r.ProductB, r.PairCount, r.Confidence, r.Lift}
		}); err != nil {
		return err
	}

	if a.Features != nil {
		obs, pred := a.Features.Observation, a.Features.Prediction
		if err := exec("features",
			"INSERT INTO features VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
			len(a.Features.Vectors), func(i int) []interface{} {
				v := &a.Features.Vectors[i]
				return []interface{}{v.UserID,
					obs.Start.Unix(), obs.End.Unix(), pred.Start.Unix(), pred.End.Unix(),
					v.Events, v.Views, v.Carts, v.Removes, v.Purchases,
					v.Sessions, v.ActiveDays, v.ActiveSpanDays, v.RecencyDays,
					v.MeanSessionSeconds, v.DominantCategory, v.DominantBrand,
					boolInt(v.PriorPurchase), v.Label}
			}); err != nil {
			return err
		}
	}

	if err := exec("retention",
		"INSERT INTO retention VALUES (?, ?, ?, ?, ?)",
		len(a.Retention), func(i int) []interface{} {
			c := &a.Retention[i]
			return []interface{}{types.DayString(c.CohortWeek), c.CohortSize,
				c.WeeksSinceFirst, c.ActiveUsers, c.RetentionRate}
		}); err != nil {
		return err
	}

	if err := exec("churn",
		"INSERT INTO churn VALUES (?, ?, ?, ?)",
		len(a.Churn), func(i int) []interface{} {
			c := &a.Churn[i]
			return []interface{}{c.UserID, c.LastSeen.Unix(), c.DaysInactive, string(c.Status)}
		}); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO _shopsignal_meta VALUES (?, ?, ?, ?)",
		runID, createdAt.Unix(), a.SourceRows, a.SkippedRows); err != nil {
		return serrors.Wrap(serrors.StageStore, serrors.CodeWriteFailed,
			"inserting run metadata", err)
	}

	if err := tx.Commit(); err != nil {
		return serrors.Wrap(serrors.StageStore, serrors.CodeWriteFailed,
			"committing load transaction", err)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
