package samples

import "context"

// Store persists datasets and samples. Implementations return ErrNotFound
// and ErrConflict for the corresponding conditions.
type Store interface {
	CreateDataset(ctx context.Context, name string, info map[string]any) (int64, error)
	ListDatasets(ctx context.Context) ([]Dataset, error)
	// DeleteDataset fails with ErrConflict while the dataset has samples.
	DeleteDataset(ctx context.Context, name string) (int64, error)
	DatasetID(ctx context.Context, name string) (int64, error)

	InsertSample(ctx context.Context, datasetID int64, name string, info Info) (int64, error)
	UpdateSampleInfo(ctx context.Context, id int64, info Info) error
	FetchSample(ctx context.Context, id int64) (*Sample, error)
	FindSample(ctx context.Context, datasetID int64, name string) (*Sample, error)
	ListSamples(ctx context.Context, datasetID int64, f Filter) ([]Sample, error)
	CountSamples(ctx context.Context, datasetID int64) (int64, error)
	DeleteSample(ctx context.Context, datasetID int64, name string) (int64, error)
}
