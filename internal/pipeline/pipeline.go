// Package pipeline orchestrates a full analytics run: ingest, compact,
// dimensional build, segmentation, affinity mining, retention, features,
// store write, and optional artifact publishing.
package pipeline

import (
	"context"
	"io"
	"log"
	"time"

	"github.com/shopsignal/shopsignal/internal/affinity"
	"github.com/shopsignal/shopsignal/internal/compact"
	"github.com/shopsignal/shopsignal/internal/config"
	"github.com/shopsignal/shopsignal/internal/dimension"
	serrors "github.com/shopsignal/shopsignal/internal/errors"
	"github.com/shopsignal/shopsignal/internal/feature"
	"github.com/shopsignal/shopsignal/internal/ingest"
	"github.com/shopsignal/shopsignal/internal/observability"
	"github.com/shopsignal/shopsignal/internal/retention"
	"github.com/shopsignal/shopsignal/internal/segment"
	"github.com/shopsignal/shopsignal/internal/storage"
	"github.com/shopsignal/shopsignal/internal/store"
	"github.com/shopsignal/shopsignal/pkg/types"
)

// Summary describes a completed run.
type Summary struct {
	RunID     string
	StorePath string
	BatchPath string
	Published []string

	SourceRows  int64
	SkippedRows int64

	// SegmentationSkipped is set when too few purchasing users existed
	// for quintile scoring; the run continues without RFM output.
	SegmentationSkipped bool

	Stages  []observability.StageStats
	Elapsed time.Duration
}

// Run executes the full pipeline against the given configuration.
// Stages hand each other sealed, read-only artifacts; no stage mutates
// another stage's output.
func Run(ctx context.Context, cfg *config.Config) (*Summary, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, serrors.Wrap(serrors.StageInternal, serrors.CodeInvalidParameter,
			"invalid configuration", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, serrors.Wrap(serrors.StageInternal, serrors.CodeWriteFailed,
			"creating data directories", err)
	}

	stats := observability.NewRunStats()
	summary := &Summary{
		StorePath: cfg.StorePath(),
		BatchPath: cfg.Compaction.BatchPath,
	}

	// Ingest and compact in one streaming pass: the raw event stream is
	// never materialized.
	var batch *compact.Batch
	err := stats.Time("compaction", func() (int64, int64, error) {
		reader, err := ingest.Open(cfg.InputPath)
		if err != nil {
			return 0, 0, err
		}
		defer reader.Close()

		builder := compact.NewBuilder(compact.Options{
			MaxIDBits:    cfg.Compaction.MaxIDBits,
			PriceEpsilon: cfg.Compaction.PriceEpsilon,
		})
		var read int64
		for {
			rec, err := reader.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				return read, 0, err
			}
			read++
			if err := builder.Append(rec); err != nil {
				return read, 0, err
			}
		}
		builder.AddSkipped(reader.Skipped())

		batch, err = builder.Seal()
		if err != nil {
			return read, 0, err
		}
		summary.SourceRows = read + reader.Skipped()
		summary.SkippedRows = batch.Skipped().Total()

		if err := compact.Save(batch, cfg.Compaction.BatchPath); err != nil {
			return read, summary.SkippedRows, err
		}
		return int64(batch.Rows()), summary.SkippedRows, nil
	})
	if err != nil {
		return nil, err
	}
	log.Printf("compaction: %d rows compacted, %d skipped (product width %d, user width %d)",
		batch.Rows(), summary.SkippedRows, batch.ProductWidth(), batch.UserWidth())

	var dims *dimension.Result
	err = stats.Time("dimension", func() (int64, int64, error) {
		var err error
		dims, err = dimension.Build(ctx, batch, dimension.Options{Shards: cfg.Dimension.Shards})
		if err != nil {
			return 0, 0, err
		}
		return int64(len(dims.Sessions)), 0, nil
	})
	if err != nil {
		return nil, err
	}
	funnel := dimension.Funnel(dims.Sessions)
	log.Printf("dimension: %d sessions, %d users, %d products, %d days",
		len(dims.Sessions), len(dims.Users), len(dims.Products), len(dims.Daily))

	var profiles []types.RFMProfile
	err = stats.Time("segment", func() (int64, int64, error) {
		var err error
		profiles, err = segment.Build(batch, cfg.AsOf)
		if err != nil {
			if serrors.HasCode(err, serrors.CodeInsufficientData) {
				// Reported, not fatal: the run continues without RFM
				// rather than producing degenerate buckets.
				summary.SegmentationSkipped = true
				log.Printf("segment: skipped: %v", err)
				return 0, 0, nil
			}
			return 0, 0, err
		}
		return int64(len(profiles)), 0, nil
	})
	if err != nil {
		return nil, err
	}

	var mined *affinity.Result
	err = stats.Time("affinity", func() (int64, int64, error) {
		var err error
		mined, err = affinity.Mine(batch, affinity.Options{
			MinSupport:    cfg.Affinity.MinSupport,
			MinLift:       cfg.Affinity.MinLift,
			MaxBasketSize: cfg.Affinity.MaxBasketSize,
		})
		if err != nil {
			return 0, 0, err
		}
		return int64(len(mined.Rules)), mined.TruncatedBaskets, nil
	})
	if err != nil {
		return nil, err
	}
	log.Printf("affinity: %d rules from %d purchase sessions (%d baskets truncated)",
		len(mined.Rules), mined.PurchaseSessions, mined.TruncatedBaskets)

	var cohorts []types.RetentionCell
	var churn []types.ChurnRecord
	err = stats.Time("retention", func() (int64, int64, error) {
		cohorts = retention.Cohorts(batch)
		churn = retention.Churn(dims.Users, cfg.AsOf, retention.Options{
			ChurnedAfterDays: cfg.Retention.ChurnedAfterDays,
			AtRiskAfterDays:  cfg.Retention.AtRiskAfterDays,
		})
		return int64(len(cohorts)), 0, nil
	})
	if err != nil {
		return nil, err
	}

	var features *feature.FeatureSet
	if cfg.HasFeatureWindows() {
		err = stats.Time("feature", func() (int64, int64, error) {
			var err error
			features, err = feature.Build(batch,
				types.Window{Start: cfg.Feature.ObservationStart, End: cfg.Feature.ObservationEnd},
				types.Window{Start: cfg.Feature.PredictionStart, End: cfg.Feature.PredictionEnd})
			if err != nil {
				return 0, 0, err
			}
			return int64(len(features.Vectors)), 0, nil
		})
		if err != nil {
			return nil, err
		}
		log.Printf("feature: %d vectors for windows %s -> %s",
			len(features.Vectors), features.Observation, features.Prediction)
	}

	var info *store.Info
	err = stats.Time("store", func() (int64, int64, error) {
		var err error
		info, err = store.NewWriter(cfg.StorePath()).Write(ctx, &store.Artifacts{
			Sessions:    dims.Sessions,
			Users:       dims.Users,
			Products:    dims.Products,
			Daily:       dims.Daily,
			Funnel:      funnel,
			RFM:         profiles,
			Rules:       mined.Rules,
			Features:    features,
			Retention:   cohorts,
			Churn:       churn,
			SourceRows:  summary.SourceRows,
			SkippedRows: summary.SkippedRows,
		})
		if err != nil {
			return 0, 0, err
		}
		return int64(len(dims.Sessions)), 0, nil
	})
	if err != nil {
		return nil, err
	}
	summary.RunID = info.RunID
	log.Printf("store: sealed %s (%d bytes, run %s)", info.Path, info.SizeBytes, info.RunID)

	if cfg.Storage.Type != "" {
		err = stats.Time("publish", func() (int64, int64, error) {
			objectStore, err := openStore(ctx, cfg)
			if err != nil {
				return 0, 0, err
			}
			published, err := storage.NewPublisher(objectStore).Publish(ctx, info.RunID,
				cfg.StorePath(), cfg.Compaction.BatchPath)
			if err != nil {
				return 0, 0, err
			}
			summary.Published = published
			return int64(len(published)), 0, nil
		})
		if err != nil {
			return nil, err
		}
		log.Printf("publish: %d artifacts under runs/%s", len(summary.Published), info.RunID)
	}

	summary.Stages = stats.Stages()
	summary.Elapsed = stats.Elapsed()
	for _, stage := range summary.Stages {
		log.Printf("run %s: %-10s %8d rows %6d skipped in %s",
			info.RunID, stage.Stage, stage.Rows, stage.Skipped, stage.Duration.Round(time.Microsecond))
	}
	log.Printf("run %s: done in %s", info.RunID, summary.Elapsed.Round(time.Millisecond))

	return summary, nil
}

func openStore(ctx context.Context, cfg *config.Config) (storage.ObjectStore, error) {
	switch cfg.Storage.Type {
	case "local":
		return storage.NewLocalStore(cfg.Storage.Path)
	case "s3":
		return storage.NewS3Store(ctx, cfg.Storage.S3.Bucket, storage.S3Config{
			Region:   cfg.Storage.S3.Region,
			Endpoint: cfg.Storage.S3.Endpoint,
		})
	default:
		return nil, serrors.Newf(serrors.StageStorage, serrors.CodeInvalidParameter,
			"unknown storage type %q", cfg.Storage.Type)
	}
}
