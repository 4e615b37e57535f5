package samples

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/FairForge/samplehub/internal/drivers"
	"github.com/FairForge/samplehub/internal/imaging"
)

// Router resolves locators to storage backends.
type Router interface {
	For(ctx context.Context, locator string) (drivers.Driver, error)
	KindFor(locator string) (drivers.Kind, error)
	HealthCheck(ctx context.Context) error
}

// RegisterRequest is the body of a sample registration.
type RegisterRequest struct {
	Info     json.RawMessage `json:"info"`
	Validate *bool           `json:"validate,omitempty"`
}

func (r RegisterRequest) shouldValidate() bool {
	return r.Validate == nil || *r.Validate
}

// Service implements dataset and sample operations on top of a Store.
type Service struct {
	store       Store
	router      Router
	scheduler   *Scheduler
	resolver    *Resolver
	validator   *InfoValidator
	imageScheme string
	logger      *zap.Logger
}

// Config wires a Service.
type Config struct {
	Store     Store
	Router    Router
	Scheduler *Scheduler
	// ImageScheme is where derived images go ("file://", "s3://", ...).
	// Empty disables image derivation.
	ImageScheme string
	Logger      *zap.Logger
}

// NewService creates a Service
func NewService(cfg Config) (*Service, error) {
	validator, err := NewInfoValidator()
	if err != nil {
		return nil, fmt.Errorf("compile info schema: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:       cfg.Store,
		router:      cfg.Router,
		scheduler:   cfg.Scheduler,
		resolver:    NewResolver(cfg.Router),
		validator:   validator,
		imageScheme: cfg.ImageScheme,
		logger:      logger,
	}, nil
}

// ImagePrefix is the destination prefix for a sample's derived images.
func ImagePrefix(scheme, dataset, sample string) string {
	if !strings.HasSuffix(scheme, "://") {
		scheme += "://"
	}
	return fmt.Sprintf("%simages/%s/%s", scheme, dataset, sample)
}

func (s *Service) CreateDataset(ctx context.Context, name string, info map[string]any) (int64, error) {
	return s.store.CreateDataset(ctx, name, info)
}

func (s *Service) ListDatasets(ctx context.Context) ([]Dataset, error) {
	return s.store.ListDatasets(ctx)
}

func (s *Service) DeleteDataset(ctx context.Context, name string) (int64, error) {
	return s.store.DeleteDataset(ctx, name)
}

// RegisterSample validates info, persists the sample and dispatches image
// derivation when an image was requested. Derivation outcomes are recorded
// in the descriptor and never fail the registration.
func (s *Service) RegisterSample(ctx context.Context, dataset, name string, req RegisterRequest) (int64, error) {
	if len(bytes.TrimSpace(req.Info)) == 0 || bytes.Equal(bytes.TrimSpace(req.Info), []byte("null")) {
		return 0, ErrValidation.New("no info object found, cannot register the sample")
	}
	if err := s.validator.Validate(req.Info); err != nil {
		return 0, err
	}

	var info Info
	if err := json.Unmarshal(req.Info, &info); err != nil {
		return 0, ErrValidation.New("decode info: %v", err)
	}
	dataURL := info.DataURL()

	if req.shouldValidate() {
		if err := s.checkExists(ctx, dataURL); err != nil {
			return 0, err
		}
	}

	switch {
	case info.Image != nil:
		if s.imageScheme == "" {
			return 0, ErrValidation.New("image store not enabled, not creating images")
		}
		info.Image.MarkCreating(ImagePrefix(s.imageScheme, dataset, name))
	case s.isObjectStoreRaster(dataURL):
		info.Image = &ImageDescriptor{
			URL:    dataURL,
			Type:   imaging.TypeFromData,
			Status: StatusCreated,
		}
	}

	datasetID, err := s.store.DatasetID(ctx, dataset)
	if err != nil {
		return 0, err
	}
	id, err := s.store.InsertSample(ctx, datasetID, name, info)
	if err != nil {
		return 0, err
	}

	s.logger.Info("sample registered",
		zap.String("dataset", dataset),
		zap.String("sample", name),
		zap.Int64("id", id))

	if info.Image != nil && info.Image.Status == StatusCreating {
		s.scheduler.Dispatch(ctx, id, dataURL, info.Image.Type)
	}
	return id, nil
}

func (s *Service) checkExists(ctx context.Context, dataURL string) error {
	d, err := s.router.For(ctx, dataURL)
	if err != nil {
		if drivers.ErrUnsupportedScheme.Has(err) {
			return ErrValidation.New("cannot find valid storage client for %s", dataURL)
		}
		return err
	}
	ok, err := d.Exists(ctx, dataURL)
	if err != nil {
		if drivers.ErrInvalidLocator.Has(err) {
			return ErrValidation.New("%v", err)
		}
		return fmt.Errorf("check %s: %w", dataURL, err)
	}
	if !ok {
		return ErrValidation.New("no data was found at info[\"data\"]=%s", dataURL)
	}
	return nil
}

func (s *Service) isObjectStoreRaster(dataURL string) bool {
	kind, err := s.router.KindFor(dataURL)
	return err == nil && kind.IsObjectStore() && IsRasterLocator(dataURL)
}

// DeleteSample removes a sample. With purge the backing payload is deleted
// first.
func (s *Service) DeleteSample(ctx context.Context, dataset, name string, purge bool) (int64, error) {
	datasetID, err := s.store.DatasetID(ctx, dataset)
	if err != nil {
		return 0, err
	}

	if purge {
		sample, err := s.store.FindSample(ctx, datasetID, name)
		if err != nil {
			return 0, err
		}
		if dataURL := sample.Info.DataURL(); dataURL != "" {
			d, err := s.router.For(ctx, dataURL)
			if err != nil {
				return 0, err
			}
			if err := d.Delete(ctx, dataURL); err != nil && !drivers.ErrNotFound.Has(err) {
				return 0, fmt.Errorf("purge %s: %w", dataURL, err)
			}
		}
	}

	return s.store.DeleteSample(ctx, datasetID, name)
}

func (s *Service) ListSamples(ctx context.Context, dataset string, f Filter) ([]Sample, error) {
	datasetID, err := s.store.DatasetID(ctx, dataset)
	if err != nil {
		return nil, err
	}
	return s.store.ListSamples(ctx, datasetID, f)
}

func (s *Service) CountSamples(ctx context.Context, dataset string) (int64, error) {
	datasetID, err := s.store.DatasetID(ctx, dataset)
	if err != nil {
		return 0, err
	}
	return s.store.CountSamples(ctx, datasetID)
}

// GetSample returns one sample by dataset and name.
func (s *Service) GetSample(ctx context.Context, dataset, name string) (*Sample, error) {
	datasetID, err := s.store.DatasetID(ctx, dataset)
	if err != nil {
		return nil, err
	}
	return s.store.FindSample(ctx, datasetID, name)
}

// SampleImages resolves a single sample's images. Samples whose metadata
// lacks the fields to resolve images yield an empty list.
func (s *Service) SampleImages(ctx context.Context, dataset, name string, limit *int, offset int) ([]string, error) {
	sample, err := s.GetSample(ctx, dataset, name)
	if err != nil {
		return nil, err
	}
	urls, err := s.resolver.Images(ctx, sample.Info, limit, offset)
	if ErrMissingField.Has(err) {
		return []string{}, nil
	}
	return urls, err
}

// GalleryImages returns the first image of every sample matching f.
func (s *Service) GalleryImages(ctx context.Context, dataset string, f Filter) ([]*string, error) {
	list, err := s.ListSamples(ctx, dataset, f)
	if err != nil {
		return nil, err
	}
	infos := make([]Info, len(list))
	for i := range list {
		infos[i] = list[i].Info
	}
	return s.resolver.Gallery(ctx, infos)
}

// Upload stores data at locator.
func (s *Service) Upload(ctx context.Context, locator string, data io.Reader) error {
	d, err := s.router.For(ctx, locator)
	if err != nil {
		return err
	}
	return d.Put(ctx, locator, data)
}

// Download opens the object at locator.
func (s *Service) Download(ctx context.Context, locator string) (io.ReadCloser, error) {
	d, err := s.router.For(ctx, locator)
	if err != nil {
		return nil, err
	}
	return d.Get(ctx, locator)
}

// CheckStorage reports whether every configured backend is usable.
func (s *Service) CheckStorage(ctx context.Context) error {
	return s.router.HealthCheck(ctx)
}
