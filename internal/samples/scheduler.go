package samples

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/FairForge/samplehub/internal/drivers"
	"github.com/FairForge/samplehub/internal/imaging"
)

// Enqueuer hands a sample id to the asynchronous workers.
type Enqueuer interface {
	Enqueue(ctx context.Context, sampleID int64) (string, error)
}

// Mode is how a derivation is dispatched.
type Mode string

const (
	ModeSync  Mode = "sync"
	ModeAsync Mode = "async"
)

// Scheduler decides whether a derivation runs inline or on a worker.
type Scheduler struct {
	router  Router
	deriver *Deriver
	queue   Enqueuer
	logger  *zap.Logger
}

// NewScheduler creates a scheduler
func NewScheduler(router Router, deriver *Deriver, queue Enqueuer, logger *zap.Logger) *Scheduler {
	return &Scheduler{router: router, deriver: deriver, queue: queue, logger: logger}
}

// Mode returns ModeSync only for 2D images of payloads on the filesystem
// backend.
func (s *Scheduler) Mode(dataURL string, t imaging.ImageType) Mode {
	kind, err := s.router.KindFor(dataURL)
	if err == nil && kind == drivers.KindFile && t == imaging.Type2D {
		return ModeSync
	}
	return ModeAsync
}

// Dispatch starts derivation for a persisted sample. Outcomes land in the
// sample's descriptor; nothing is returned to the caller.
func (s *Scheduler) Dispatch(ctx context.Context, sampleID int64, dataURL string, t imaging.ImageType) Mode {
	mode := s.Mode(dataURL, t)
	log := s.logger.With(
		zap.Int64("sample_id", sampleID),
		zap.String("mode", string(mode)))

	// the registering request may be cancelled, the descriptor write must not be
	detached := context.WithoutCancel(ctx)

	switch mode {
	case ModeSync:
		if err := s.deriver.Complete(detached, sampleID); err != nil {
			log.Error("inline derivation", zap.Error(err))
		}
	case ModeAsync:
		handle, err := s.queue.Enqueue(ctx, sampleID)
		if err != nil {
			log.Error("enqueue derivation", zap.Error(err))
			if ferr := s.deriver.Fail(detached, sampleID, fmt.Sprintf("enqueue derivation: %v", err)); ferr != nil {
				log.Error("record enqueue failure", zap.Error(ferr))
			}
			return mode
		}
		log.Debug("derivation enqueued", zap.String("job", handle))
	}
	return mode
}
