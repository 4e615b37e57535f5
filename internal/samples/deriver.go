package samples

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/FairForge/samplehub/internal/imaging"
	"github.com/FairForge/samplehub/internal/metrics"
)

// Renderer produces the images for one derivation request.
type Renderer interface {
	Derive(ctx context.Context, req imaging.Request) (int, error)
}

// Deriver completes image derivation for persisted samples. It is invoked
// inline by the scheduler or by queue workers.
type Deriver struct {
	store    Store
	renderer Renderer
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewDeriver creates a derivation routine
func NewDeriver(store Store, renderer Renderer, m *metrics.Metrics, logger *zap.Logger) *Deriver {
	return &Deriver{store: store, renderer: renderer, metrics: m, logger: logger}
}

// Complete derives the images of sampleID and records the outcome in its
// descriptor. A missing sample, a sample without a descriptor and a
// FROM_DATA descriptor are no-ops. Running it again re-renders and
// overwrites. Derivation failures are recorded, not returned; only errors
// reading or writing the store are returned.
func (d *Deriver) Complete(ctx context.Context, sampleID int64) error {
	sample, err := d.store.FetchSample(ctx, sampleID)
	if err != nil {
		if ErrNotFound.Has(err) {
			d.logger.Info("sample deleted before derivation", zap.Int64("sample_id", sampleID))
			return nil
		}
		return fmt.Errorf("fetch sample %d: %w", sampleID, err)
	}

	img := sample.Info.Image
	if img == nil || img.Type == imaging.TypeFromData {
		d.logger.Debug("nothing to derive", zap.Int64("sample_id", sampleID))
		d.metrics.ObserveDerivation(descriptorType(img), "skipped", 0)
		return nil
	}

	start := time.Now()
	outcome := "created"
	if sample.Info.Data == nil || sample.Info.Data.URL == "" {
		outcome = "failed"
		img.MarkFailed("missing data url")
	} else {
		count, err := d.renderer.Derive(ctx, imaging.Request{
			Type:   img.Type,
			Source: sample.Info.Data.URL,
			Prefix: img.URL,
		})
		if err != nil {
			outcome = "failed"
			img.MarkFailed(err.Error())
			d.logger.Warn("derivation failed",
				zap.Int64("sample_id", sampleID),
				zap.String("type", string(img.Type)),
				zap.Error(err))
		} else {
			img.MarkCreated(count)
		}
	}
	d.metrics.ObserveDerivation(string(img.Type), outcome, time.Since(start))

	return d.write(ctx, sample)
}

// Fail marks a CREATING descriptor as FAILED without deriving.
func (d *Deriver) Fail(ctx context.Context, sampleID int64, reason string) error {
	sample, err := d.store.FetchSample(ctx, sampleID)
	if err != nil {
		if ErrNotFound.Has(err) {
			return nil
		}
		return fmt.Errorf("fetch sample %d: %w", sampleID, err)
	}
	if sample.Info.Image == nil || sample.Info.Image.Status != StatusCreating {
		return nil
	}
	sample.Info.Image.MarkFailed(reason)
	d.metrics.ObserveDerivation(string(sample.Info.Image.Type), "failed", 0)
	return d.write(ctx, sample)
}

func (d *Deriver) write(ctx context.Context, sample *Sample) error {
	if err := d.store.UpdateSampleInfo(ctx, sample.ID, sample.Info); err != nil {
		if ErrNotFound.Has(err) {
			d.logger.Info("sample deleted during derivation", zap.Int64("sample_id", sample.ID))
			return nil
		}
		return fmt.Errorf("update sample %d: %w", sample.ID, err)
	}
	d.logger.Debug("descriptor written",
		zap.Int64("sample_id", sample.ID),
		zap.String("status", string(sample.Info.Image.Status)))
	return nil
}

func descriptorType(img *ImageDescriptor) string {
	if img == nil {
		return "none"
	}
	return string(img.Type)
}
