package samples

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is a Store kept in process memory. Records are copied on
// the way in and out.
type MemoryStore struct {
	mu            sync.RWMutex
	now           func() time.Time
	nextDatasetID int64
	nextSampleID  int64
	datasets      map[string]*Dataset
	samples       map[int64]*Sample
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:      func() time.Time { return time.Now().UTC() },
		datasets: make(map[string]*Dataset),
		samples:  make(map[int64]*Sample),
	}
}

func (s *MemoryStore) CreateDataset(ctx context.Context, name string, info map[string]any) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.datasets[name]; ok {
		return 0, ErrConflict.New("dataset %q already exists", name)
	}
	s.nextDatasetID++
	s.datasets[name] = &Dataset{
		ID:        s.nextDatasetID,
		Name:      name,
		Info:      cloneMap(info),
		CreatedAt: s.now(),
	}
	return s.nextDatasetID, nil
}

func (s *MemoryStore) ListDatasets(ctx context.Context) ([]Dataset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Dataset, 0, len(s.datasets))
	for _, d := range s.datasets {
		cp := *d
		cp.Info = cloneMap(d.Info)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) DeleteDataset(ctx context.Context, name string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.datasets[name]
	if !ok {
		return 0, ErrNotFound.New("dataset %q was not found", name)
	}
	for _, sample := range s.samples {
		if sample.DatasetID == d.ID {
			return 0, ErrConflict.New("samples in %q must be deleted first", name)
		}
	}
	delete(s.datasets, name)
	return d.ID, nil
}

func (s *MemoryStore) DatasetID(ctx context.Context, name string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.datasets[name]
	if !ok {
		return 0, ErrNotFound.New("dataset %q was not found", name)
	}
	return d.ID, nil
}

func (s *MemoryStore) InsertSample(ctx context.Context, datasetID int64, name string, info Info) (int64, error) {
	stored, err := info.Clone()
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.samples {
		if existing.DatasetID == datasetID && existing.Name == name {
			return 0, ErrConflict.New("sample %q already exists", name)
		}
	}
	s.nextSampleID++
	now := s.now()
	s.samples[s.nextSampleID] = &Sample{
		ID:          s.nextSampleID,
		DatasetID:   datasetID,
		Name:        name,
		Info:        stored,
		CreatedAt:   now,
		LastUpdated: now,
	}
	return s.nextSampleID, nil
}

func (s *MemoryStore) UpdateSampleInfo(ctx context.Context, id int64, info Info) error {
	stored, err := info.Clone()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sample, ok := s.samples[id]
	if !ok {
		return ErrNotFound.New("sample %d was not found", id)
	}
	sample.Info = stored
	sample.LastUpdated = s.now()
	return nil
}

func (s *MemoryStore) FetchSample(ctx context.Context, id int64) (*Sample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sample, ok := s.samples[id]
	if !ok {
		return nil, ErrNotFound.New("sample %d was not found", id)
	}
	return copySample(sample)
}

func (s *MemoryStore) FindSample(ctx context.Context, datasetID int64, name string) (*Sample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sample := range s.samples {
		if sample.DatasetID == datasetID && sample.Name == name {
			return copySample(sample)
		}
	}
	return nil, ErrNotFound.New("could not find sample %q", name)
}

func (s *MemoryStore) ListSamples(ctx context.Context, datasetID int64, f Filter) ([]Sample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*Sample
	prefix := strings.ToLower(f.Prefix)
	for _, sample := range s.samples {
		if sample.DatasetID != datasetID {
			continue
		}
		if !strings.HasPrefix(strings.ToLower(sample.Name), prefix) {
			continue
		}
		if f.Label != "" && sample.Info.LabelString() != f.Label {
			continue
		}
		if f.Split != "" && sample.Info.Split != f.Split {
			continue
		}
		matched = append(matched, sample)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })

	start := min(max(f.Offset, 0), len(matched))
	end := len(matched)
	if f.Limit != nil && *f.Limit < end-start {
		end = start + max(*f.Limit, 0)
	}

	out := make([]Sample, 0, end-start)
	for _, sample := range matched[start:end] {
		cp, err := copySample(sample)
		if err != nil {
			return nil, err
		}
		out = append(out, *cp)
	}
	return out, nil
}

func (s *MemoryStore) CountSamples(ctx context.Context, datasetID int64) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, sample := range s.samples {
		if sample.DatasetID == datasetID {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) DeleteSample(ctx context.Context, datasetID int64, name string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, sample := range s.samples {
		if sample.DatasetID == datasetID && sample.Name == name {
			delete(s.samples, id)
			return id, nil
		}
	}
	return 0, ErrNotFound.New("sample %q was not found", name)
}

func copySample(in *Sample) (*Sample, error) {
	info, err := in.Info.Clone()
	if err != nil {
		return nil, err
	}
	cp := *in
	cp.Info = info
	return &cp, nil
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	raw, err := json.Marshal(in)
	if err != nil {
		return in
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return in
	}
	return out
}
